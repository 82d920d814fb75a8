package metadata

import (
	"fmt"
	"math"

	"github.com/wippyai/clr-image/errors"
)

// Instruction is one CIL instruction. The pointer is a stable handle: it is
// never reused or moved, and its offset is derived from its position.
type Instruction struct {
	Operand any
	body    *Body
	index   int
	Op      Code
}

// Body returns the method body the instruction was created for.
func (i *Instruction) Body() *Body {
	return i.body
}

// Attached reports whether the instruction has been appended to its body.
func (i *Instruction) Attached() bool {
	return i.index >= 0
}

// Index returns the position in the body, or -1 while detached.
func (i *Instruction) Index() int {
	return i.index
}

// Offset returns the byte offset within the IL stream, or -1 while detached.
func (i *Instruction) Offset() int {
	if i.index < 0 {
		return -1
	}
	i.body.layout()
	return i.body.offsets[i.index]
}

// Size returns the encoded size of opcode plus operand.
func (i *Instruction) Size() int {
	info, _ := i.Op.Info()
	n := i.Op.Size()
	if info.Operand == InlineSwitch {
		targets, _ := i.Operand.([]*Instruction)
		return n + 4 + 4*len(targets)
	}
	return n + info.Operand.OperandSize()
}

func (i *Instruction) String() string {
	s := fmt.Sprintf("IL_%04x: %s", max(i.Offset(), 0), i.Op)
	switch v := i.Operand.(type) {
	case nil:
	case *Instruction:
		s += fmt.Sprintf(" IL_%04x", max(v.Offset(), 0))
	case []*Instruction:
		s += " ("
		for k, t := range v {
			if k > 0 {
				s += ","
			}
			s += fmt.Sprintf("IL_%04x", max(t.Offset(), 0))
		}
		s += ")"
	case string:
		s += fmt.Sprintf(" %q", v)
	case interface{ FullName() string }:
		s += " " + v.FullName()
	case *Variable:
		s += fmt.Sprintf(" V_%d", v.Index)
	case *Parameter:
		s += " " + v.Name
	case *MethodSig:
		s += " " + v.FullName("")
	default:
		s += fmt.Sprintf(" %v", v)
	}
	return s
}

// Variable is a local variable of a method body.
type Variable struct {
	Type  TypeSig
	body  *Body
	Index int
}

// Body returns the owning body.
func (v *Variable) Body() *Body {
	return v.body
}

// HandlerKind is the kind of an exception clause.
type HandlerKind uint32

const (
	HandlerCatch   HandlerKind = 0x0
	HandlerFilter  HandlerKind = 0x1
	HandlerFinally HandlerKind = 0x2
	HandlerFault   HandlerKind = 0x4
)

// ExceptionHandler is one exception clause. A nil end instruction means the end of the body.
type ExceptionHandler struct {
	TryStart     *Instruction
	TryEnd       *Instruction
	HandlerStart *Instruction
	HandlerEnd   *Instruction
	FilterStart  *Instruction
	CatchType    TypeDefOrRef
	Kind         HandlerKind
}

// Body is the append-only instruction sequence of a method plus its locals
// and exception clauses.
type Body struct {
	Instructions      []*Instruction
	Variables         []*Variable
	ExceptionHandlers []*ExceptionHandler

	// MaxStack is a lower bound for the value computed when the body is
	// encoded; with KeepMaxStack it is written as is.
	MaxStack     uint16
	KeepMaxStack bool
	InitLocals   bool

	method  *MethodDef
	this    *Parameter
	offsets []int
	size    int
	dirty   bool
}

func newBody(m *MethodDef) *Body {
	return &Body{method: m, InitLocals: true}
}

// Method returns the owning method.
func (b *Body) Method() *MethodDef {
	return b.method
}

// ThisParameter returns the implicit this argument of an instance method.
func (b *Body) ThisParameter() *Parameter {
	if b.this == nil {
		b.this = &Parameter{Name: "this", method: b.method, this: true}
		if b.method != nil && b.method.DeclaringType != nil {
			b.this.Type = b.method.DeclaringType
		}
	}
	return b.this
}

// AddVariable declares a local of type t.
func (b *Body) AddVariable(t TypeSig) *Variable {
	v := &Variable{Type: t, body: b, Index: len(b.Variables)}
	b.Variables = append(b.Variables, v)
	return v
}

// Create builds a detached instruction for this body, validating the operand.
// Detached instructions can serve as forward branch targets before they are appended.
func (b *Body) Create(op Code, operand any) (*Instruction, error) {
	if err := b.checkOperand(op, operand); err != nil {
		return nil, err
	}
	return &Instruction{Op: op, Operand: operand, body: b, index: -1}, nil
}

// Reserve builds a detached instruction without an operand. Readers reserve
// every instruction of a stream first, then resolve operands with SetOperand
// so branches can point anywhere.
func (b *Body) Reserve(op Code) *Instruction {
	return &Instruction{Op: op, body: b, index: -1}
}

// SetOperand validates and replaces the operand of i.
func (i *Instruction) SetOperand(operand any) error {
	if err := i.body.checkOperand(i.Op, operand); err != nil {
		return err
	}
	i.Operand = operand
	i.body.dirty = true
	return nil
}

// Append validates the operand against the opcode, appends the instruction
// and returns its handle.
func (b *Body) Append(op Code, operand any) (*Instruction, error) {
	ins, err := b.Create(op, operand)
	if err != nil {
		return nil, err
	}
	b.attach(ins)
	return ins, nil
}

// AppendInstruction appends an instruction previously made with Create.
func (b *Body) AppendInstruction(ins *Instruction) error {
	if ins.body != b {
		return errors.InvalidOperand(ins.Op.String(), "instruction created for another method body")
	}
	if ins.index >= 0 {
		return errors.InvalidInput(errors.PhaseBuild, "instruction already appended")
	}
	b.attach(ins)
	return nil
}

func (b *Body) attach(ins *Instruction) {
	ins.index = len(b.Instructions)
	b.Instructions = append(b.Instructions, ins)
	b.dirty = true
}

// CodeSize returns the length of the encoded IL stream.
func (b *Body) CodeSize() int {
	b.layout()
	return b.size
}

// InstructionAt returns the instruction starting at offset.
func (b *Body) InstructionAt(offset int) *Instruction {
	b.layout()
	lo, hi := 0, len(b.offsets)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case b.offsets[mid] == offset:
			return b.Instructions[mid]
		case b.offsets[mid] < offset:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return nil
}

// Invalidate forces offsets to be recomputed after an operand was replaced.
func (b *Body) Invalidate() {
	b.dirty = true
}

func (b *Body) layout() {
	if !b.dirty && len(b.offsets) == len(b.Instructions) {
		return
	}
	b.offsets = b.offsets[:0]
	off := 0
	for _, ins := range b.Instructions {
		b.offsets = append(b.offsets, off)
		off += ins.Size()
	}
	b.size = off
	b.dirty = false
}

// Terminated reports whether the body is empty or ends in a control transfer.
func (b *Body) Terminated() bool {
	if len(b.Instructions) == 0 {
		return true
	}
	last := b.Instructions[len(b.Instructions)-1]
	info, _ := last.Op.Info()
	return info.Flow.EndsBlock() || last.Op == OpJmp
}

func (b *Body) checkOperand(op Code, operand any) error {
	info, ok := op.Info()
	if !ok {
		return errors.New(errors.PhaseBuild, errors.KindInvalidOperand).
			Member(op.String()).Detail("unknown opcode").Build()
	}
	bad := func() error { return errors.InvalidOperand(info.Name, operand) }

	switch info.Operand {
	case InlineNone:
		if operand != nil {
			return bad()
		}
	case ShortInlineBrTarget, InlineBrTarget:
		t, ok := operand.(*Instruction)
		if !ok || t == nil {
			return bad()
		}
		if t.body != b {
			return errors.New(errors.PhaseBuild, errors.KindInvalidOperand).
				Member(info.Name).Detail("branch target belongs to another method body").Build()
		}
	case InlineSwitch:
		targets, ok := operand.([]*Instruction)
		if !ok {
			return bad()
		}
		for _, t := range targets {
			if t == nil || t.body != b {
				return errors.New(errors.PhaseBuild, errors.KindInvalidOperand).
					Member(info.Name).Detail("switch target belongs to another method body").Build()
			}
		}
	case ShortInlineI:
		switch v := operand.(type) {
		case int8, uint8:
		case int:
			if v < math.MinInt8 || v > math.MaxUint8 {
				return bad()
			}
		default:
			return bad()
		}
	case InlineI:
		switch v := operand.(type) {
		case int32:
		case int:
			if v < math.MinInt32 || v > math.MaxInt32 {
				return bad()
			}
		default:
			return bad()
		}
	case InlineI8:
		if _, ok := operand.(int64); !ok {
			return bad()
		}
	case ShortInlineR:
		if _, ok := operand.(float32); !ok {
			return bad()
		}
	case InlineR:
		if _, ok := operand.(float64); !ok {
			return bad()
		}
	case InlineString:
		if _, ok := operand.(string); !ok {
			return bad()
		}
	case InlineMethod:
		if m, ok := operand.(MethodRef); !ok || isNil(m) {
			return bad()
		} else if mr, ok := m.(*MemberRef); ok && mr.IsField() {
			return bad()
		}
	case InlineField:
		if f, ok := operand.(FieldRef); !ok || isNil(f) {
			return bad()
		} else if mr, ok := f.(*MemberRef); ok && !mr.IsField() {
			return bad()
		}
	case InlineType:
		if t, ok := operand.(TypeDefOrRef); !ok || isNil(t) {
			return bad()
		}
	case InlineTok:
		switch operand.(type) {
		case TypeDefOrRef, MethodRef, FieldRef:
			if isNil(operand) {
				return bad()
			}
		default:
			return bad()
		}
	case InlineSig:
		if s, ok := operand.(*MethodSig); !ok || s == nil {
			return bad()
		}
	case ShortInlineVar, InlineVar:
		v, ok := operand.(*Variable)
		if !ok || v == nil {
			return bad()
		}
		if v.body != b {
			return errors.New(errors.PhaseBuild, errors.KindInvalidOperand).
				Member(info.Name).Detail("local variable belongs to another method body").Build()
		}
		if info.Operand == ShortInlineVar && v.Index > math.MaxUint8 {
			return bad()
		}
	case ShortInlineArg, InlineArg:
		p, ok := operand.(*Parameter)
		if !ok || p == nil {
			return bad()
		}
		if p.method != b.method {
			return errors.New(errors.PhaseBuild, errors.KindInvalidOperand).
				Member(info.Name).Detail("parameter belongs to another method").Build()
		}
		if info.Operand == ShortInlineArg && p.ArgIndex() > math.MaxUint8 {
			return bad()
		}
	}
	return nil
}

func isNil(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case *MethodDef:
		return x == nil
	case *MemberRef:
		return x == nil
	case *FieldDef:
		return x == nil
	case *TypeDef:
		return x == nil
	case *TypeRef:
		return x == nil
	case *TypeSpec:
		return x == nil
	case *CoreType:
		return x == nil
	}
	return false
}

// ComputeMaxStack runs a linear stack-height pass over the body. Heights at
// branch targets and handler entries are carried forward; the pass does not
// verify the IL.
func (b *Body) ComputeMaxStack() int {
	entry := make(map[*Instruction]int)
	for _, eh := range b.ExceptionHandlers {
		if eh.Kind == HandlerCatch || eh.Kind == HandlerFilter {
			if eh.HandlerStart != nil {
				entry[eh.HandlerStart] = 1
			}
		}
		if eh.Kind == HandlerFilter && eh.FilterStart != nil {
			entry[eh.FilterStart] = 1
		}
	}

	height, highest := 0, 0
	for _, ins := range b.Instructions {
		if h, ok := entry[ins]; ok {
			height = h
			highest = max(highest, h)
		}
		info, _ := ins.Op.Info()
		pop, push := b.stackEffect(ins, info)
		height -= pop
		if height < 0 {
			height = 0
		}
		height += push
		if height > highest {
			highest = height
		}

		if ins.Op == OpLeave || ins.Op == OpLeaveS {
			height = 0
		}
		switch t := ins.Operand.(type) {
		case *Instruction:
			if h, ok := entry[t]; !ok || height > h {
				entry[t] = height
			}
		case []*Instruction:
			for _, target := range t {
				if h, ok := entry[target]; !ok || height > h {
					entry[target] = height
				}
			}
		}
		if info.Flow.EndsBlock() {
			height = 0
		}
	}
	return highest
}

func (b *Body) stackEffect(ins *Instruction, info OpInfo) (int, int) {
	pop, push := int(info.Pop), int(info.Push)
	var sig *MethodSig
	switch op := ins.Operand.(type) {
	case MethodRef:
		sig = op.Signature()
	case *MethodSig:
		sig = op
	}

	if pop == VarStack {
		pop = 0
		switch ins.Op {
		case OpRet:
			if b.method != nil && !IsVoid(b.method.ReturnType) {
				pop = 1
			}
		case OpNewobj:
			if sig != nil {
				pop = len(sig.Params)
			}
		default:
			if sig != nil {
				pop = len(sig.Params)
				if sig.HasThis && !sig.ExplicitThis {
					pop++
				}
			}
			if ins.Op == OpCalli {
				pop++
			}
		}
	}
	if push == VarStack {
		push = 0
		if sig != nil && !IsVoid(sig.Return) {
			push = 1
		}
	}
	return pop, push
}
