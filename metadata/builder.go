package metadata

// Builder appends instructions to a body and keeps the first error, so a
// sequence of emits can be checked once at the end.
type Builder struct {
	body *Body
	err  error
}

// NewBuilder returns a builder appending to body.
func NewBuilder(body *Body) *Builder {
	return &Builder{body: body}
}

// Emit appends op with an optional operand. After the first failure it does
// nothing and returns nil.
func (b *Builder) Emit(op Code, operand ...any) *Instruction {
	if b.err != nil {
		return nil
	}
	var arg any
	switch len(operand) {
	case 0:
	case 1:
		arg = operand[0]
	default:
		arg = operand
	}
	ins, err := b.body.Append(op, arg)
	if err != nil {
		b.err = err
		return nil
	}
	return ins
}

// Label creates a detached instruction to be placed later with Mark.
func (b *Builder) Label(op Code, operand ...any) *Instruction {
	if b.err != nil {
		return nil
	}
	var arg any
	if len(operand) > 0 {
		arg = operand[0]
	}
	ins, err := b.body.Create(op, arg)
	if err != nil {
		b.err = err
		return nil
	}
	return ins
}

// Mark appends an instruction made with Label.
func (b *Builder) Mark(ins *Instruction) {
	if b.err != nil {
		return
	}
	if ins == nil {
		return
	}
	b.err = b.body.AppendInstruction(ins)
}

// Body returns the body being built.
func (b *Builder) Body() *Body {
	return b.body
}

// Err returns the first error encountered.
func (b *Builder) Err() error {
	return b.err
}
