package image

import (
	"fmt"
	"math"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/internal/binary"
	"github.com/wippyai/clr-image/internal/tables"
	"github.com/wippyai/clr-image/metadata"
)

// Method body header flags (ECMA-335 II.25.4).
const (
	tinyFormat     byte   = 0x02
	fatFormat      uint16 = 0x3003
	fatMoreSects   uint16 = 0x08
	fatInitLocals  uint16 = 0x10
	formatMask     byte   = 0x03
	tinyMaxCode           = 64
	tinyMaxStack          = 8
	sectEHTable    byte   = 0x01
	sectFatFormat  byte   = 0x40
	sectMoreSects  byte   = 0x80
	smallClauseLen        = 12
	fatClauseLen          = 24
)

// standAloneSigs assigns StandAloneSig rows, one per distinct blob.
type standAloneSigs struct {
	blobs [][]byte
	index map[string]uint32
}

func newStandAloneSigs() *standAloneSigs {
	return &standAloneSigs{index: map[string]uint32{}}
}

func (s *standAloneSigs) add(blob []byte) uint32 {
	if row, ok := s.index[string(blob)]; ok {
		return row
	}
	s.blobs = append(s.blobs, blob)
	row := uint32(len(s.blobs))
	s.index[string(blob)] = row
	return row
}

// bodyWriter encodes method bodies into one IL stream.
type bodyWriter struct {
	tm   *TokenMap
	us   *tables.UserStringHeap
	sigs *standAloneSigs
	out  *binary.Writer
}

// write appends the body of md and returns its offset in the IL stream.
func (bw *bodyWriter) write(md *metadata.MethodDef) (uint32, error) {
	b := md.Body
	localTok := Token(0)
	if len(b.Variables) > 0 {
		blob, err := LocalsSigBlob(bw.tm, b.Variables)
		if err != nil {
			return 0, err
		}
		row := bw.sigs.add(blob)
		bw.tm.LocalSigs[b] = row
		localTok = NewToken(tables.StandAloneSig, row)
	}

	code, err := bw.code(md)
	if err != nil {
		return 0, err
	}

	maxStack := int(b.MaxStack)
	if !b.KeepMaxStack {
		maxStack = max(maxStack, b.ComputeMaxStack())
	}
	if maxStack > math.MaxUint16 {
		return 0, errors.New(errors.PhaseWrite, errors.KindInvalidInput).
			Member(md.FullName()).Detail("stack depth %d exceeds 65535", maxStack).Build()
	}

	tiny := len(code) < tinyMaxCode && maxStack <= tinyMaxStack &&
		len(b.Variables) == 0 && len(b.ExceptionHandlers) == 0
	if tiny {
		off := uint32(bw.out.Len())
		bw.out.Byte(byte(len(code))<<2 | tinyFormat)
		bw.out.WriteBytes(code)
		return off, nil
	}

	bw.out.Align(4)
	off := uint32(bw.out.Len())
	flags := fatFormat
	if b.InitLocals {
		flags |= fatInitLocals
	}
	if len(b.ExceptionHandlers) > 0 {
		flags |= fatMoreSects
	}
	bw.out.WriteU16(flags)
	bw.out.WriteU16(uint16(maxStack))
	bw.out.WriteU32(uint32(len(code)))
	bw.out.WriteU32(uint32(localTok))
	bw.out.WriteBytes(code)
	if len(b.ExceptionHandlers) > 0 {
		bw.out.Align(4)
		if err := bw.handlers(md); err != nil {
			return 0, err
		}
	}
	return off, nil
}

func (bw *bodyWriter) code(md *metadata.MethodDef) ([]byte, error) {
	w := binary.NewWriter()
	for _, ins := range md.Body.Instructions {
		info, ok := ins.Op.Info()
		if !ok {
			return nil, errors.InvalidOperand(ins.Op.String(), ins.Operand)
		}
		if ins.Op > 0xFF {
			w.Byte(byte(ins.Op >> 8))
		}
		w.Byte(byte(ins.Op))
		if err := bw.operand(w, md, ins, info); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

func (bw *bodyWriter) operand(w *binary.Writer, md *metadata.MethodDef, ins *metadata.Instruction, info metadata.OpInfo) error {
	bad := func(detail string, args ...any) error {
		return errors.New(errors.PhaseWrite, errors.KindInvalidOperand).
			Member(md.FullName()).Detail("%s: "+detail, append([]any{ins}, args...)...).Build()
	}
	next := ins.Offset() + ins.Size()

	switch info.Operand {
	case metadata.InlineNone:
	case metadata.ShortInlineBrTarget:
		delta := ins.Operand.(*metadata.Instruction).Offset() - next
		if delta < math.MinInt8 || delta > math.MaxInt8 {
			return bad("branch distance %d does not fit the short form", delta)
		}
		w.Byte(byte(int8(delta)))
	case metadata.InlineBrTarget:
		w.WriteU32(uint32(int32(ins.Operand.(*metadata.Instruction).Offset() - next)))
	case metadata.InlineSwitch:
		targets := ins.Operand.([]*metadata.Instruction)
		w.WriteU32(uint32(len(targets)))
		for _, t := range targets {
			w.WriteU32(uint32(int32(t.Offset() - next)))
		}
	case metadata.ShortInlineI:
		switch v := ins.Operand.(type) {
		case int8:
			w.Byte(byte(v))
		case uint8:
			w.Byte(v)
		case int:
			w.Byte(byte(v))
		}
	case metadata.InlineI:
		switch v := ins.Operand.(type) {
		case int32:
			w.WriteU32(uint32(v))
		case int:
			w.WriteU32(uint32(int32(v)))
		}
	case metadata.InlineI8:
		w.WriteU64(uint64(ins.Operand.(int64)))
	case metadata.ShortInlineR:
		w.WriteU32(math.Float32bits(ins.Operand.(float32)))
	case metadata.InlineR:
		w.WriteU64(math.Float64bits(ins.Operand.(float64)))
	case metadata.InlineString:
		off, err := bw.us.Add(ins.Operand.(string))
		if err != nil {
			return bad("%v", err)
		}
		w.WriteU32(uint32(NewToken(userStringTable, off)))
	case metadata.InlineMethod, metadata.InlineField, metadata.InlineType, metadata.InlineTok:
		tok, err := bw.tm.operandToken(ins.Operand)
		if err != nil {
			return err
		}
		w.WriteU32(uint32(tok))
	case metadata.InlineSig:
		blob, err := MethodSigBlob(bw.tm, ins.Operand.(*metadata.MethodSig))
		if err != nil {
			return err
		}
		w.WriteU32(uint32(NewToken(tables.StandAloneSig, bw.sigs.add(blob))))
	case metadata.ShortInlineVar:
		w.Byte(byte(ins.Operand.(*metadata.Variable).Index))
	case metadata.InlineVar:
		w.WriteU16(uint16(ins.Operand.(*metadata.Variable).Index))
	case metadata.ShortInlineArg:
		w.Byte(byte(ins.Operand.(*metadata.Parameter).ArgIndex()))
	case metadata.InlineArg:
		w.WriteU16(uint16(ins.Operand.(*metadata.Parameter).ArgIndex()))
	default:
		return bad("unknown operand kind %d", info.Operand)
	}
	return nil
}

type clause struct {
	flags, tryOff, tryLen, handlerOff, handlerLen, extra uint32
}

func (bw *bodyWriter) handlers(md *metadata.MethodDef) error {
	b := md.Body
	size := b.CodeSize()
	offset := func(ins *metadata.Instruction) uint32 {
		if ins == nil {
			return uint32(size)
		}
		return uint32(ins.Offset())
	}

	clauses := make([]clause, len(b.ExceptionHandlers))
	small := len(b.ExceptionHandlers)*smallClauseLen+4 <= math.MaxUint8
	for i, eh := range b.ExceptionHandlers {
		c := clause{
			flags:      uint32(eh.Kind),
			tryOff:     offset(eh.TryStart),
			handlerOff: offset(eh.HandlerStart),
		}
		c.tryLen = offset(eh.TryEnd) - c.tryOff
		c.handlerLen = offset(eh.HandlerEnd) - c.handlerOff
		switch eh.Kind {
		case metadata.HandlerCatch:
			if eh.CatchType == nil {
				return errors.New(errors.PhaseWrite, errors.KindInvalidInput).
					Member(md.FullName()).Detail("catch clause %d has no exception type", i).Build()
			}
			tok, err := bw.tm.operandToken(eh.CatchType)
			if err != nil {
				return err
			}
			c.extra = uint32(tok)
		case metadata.HandlerFilter:
			c.extra = offset(eh.FilterStart)
		}
		if c.tryOff > math.MaxUint16 || c.handlerOff > math.MaxUint16 ||
			c.tryLen > math.MaxUint8 || c.handlerLen > math.MaxUint8 {
			small = false
		}
		clauses[i] = c
	}

	if small {
		bw.out.Byte(sectEHTable)
		bw.out.Byte(byte(len(clauses)*smallClauseLen + 4))
		bw.out.WriteU16(0)
		for _, c := range clauses {
			bw.out.WriteU16(uint16(c.flags))
			bw.out.WriteU16(uint16(c.tryOff))
			bw.out.Byte(byte(c.tryLen))
			bw.out.WriteU16(uint16(c.handlerOff))
			bw.out.Byte(byte(c.handlerLen))
			bw.out.WriteU32(c.extra)
		}
		return nil
	}

	n := uint32(len(clauses)*fatClauseLen + 4)
	bw.out.Byte(sectEHTable | sectFatFormat)
	bw.out.Byte(byte(n))
	bw.out.Byte(byte(n >> 8))
	bw.out.Byte(byte(n >> 16))
	for _, c := range clauses {
		bw.out.WriteU32(c.flags)
		bw.out.WriteU32(c.tryOff)
		bw.out.WriteU32(c.tryLen)
		bw.out.WriteU32(c.handlerOff)
		bw.out.WriteU32(c.handlerLen)
		bw.out.WriteU32(c.extra)
	}
	return nil
}

// operandToken returns the token of a member or type operand.
func (tm *TokenMap) operandToken(v any) (Token, error) {
	tok, ok := tm.Token(v)
	if ok {
		return tok, nil
	}
	name := fmt.Sprintf("%T", v)
	if n, ok := v.(interface{ FullName() string }); ok {
		name = n.FullName()
	}
	return 0, errors.UnresolvedReference([]string{name})
}

// bodyReader decodes method bodies of a parsed image.
type bodyReader struct {
	tm    *TokenMap
	heaps *tables.Heaps
	sigs  func(row uint32) ([]byte, error)
}

// rawOperand is an operand before it is resolved to model objects.
type rawOperand struct {
	ins     *metadata.Instruction
	value   uint64
	targets []int32
	end     int
}

func (br *bodyReader) read(md *metadata.MethodDef, r *binary.Reader) error {
	fail := func(detail string, args ...any) error {
		return errors.New(errors.PhaseRead, errors.KindInvalidData).
			Member(md.FullName()).Detail(detail, args...).Build()
	}
	b := md.Body
	first, err := r.ReadByte()
	if err != nil {
		return fail("body header: %v", err)
	}

	var codeSize, localTok uint32
	more := false
	switch first & formatMask {
	case tinyFormat:
		codeSize = uint32(first >> 2)
		b.MaxStack = tinyMaxStack
		b.InitLocals = true
	case 0x03:
		second, err := r.ReadByte()
		if err != nil {
			return fail("body header: %v", err)
		}
		flags := uint16(first) | uint16(second)<<8
		if flags>>12 != 3 {
			return fail("fat header size %d", flags>>12)
		}
		maxStack, err := r.ReadU16()
		if err != nil {
			return fail("body header: %v", err)
		}
		if codeSize, err = r.ReadU32(); err != nil {
			return fail("body header: %v", err)
		}
		if localTok, err = r.ReadU32(); err != nil {
			return fail("body header: %v", err)
		}
		b.MaxStack = maxStack
		b.InitLocals = flags&fatInitLocals != 0
		more = flags&fatMoreSects != 0
	default:
		return fail("body header format 0x%02x", first)
	}

	if localTok != 0 {
		tok := Token(localTok)
		if tok.Table() != tables.StandAloneSig {
			return fail("locals token %s", tok)
		}
		blob, err := br.sigs(tok.Row())
		if err != nil {
			return fail("locals signature: %v", err)
		}
		types, err := decodeLocalsSig(br.tm, blob)
		if err != nil {
			return fail("locals signature: %v", err)
		}
		for _, t := range types {
			b.AddVariable(t)
		}
		br.tm.LocalSigs[b] = tok.Row()
	}

	code, err := r.ReadBytes(int(codeSize))
	if err != nil {
		return fail("IL stream of %d bytes: %v", codeSize, err)
	}
	at, err := br.code(md, code)
	if err != nil {
		return err
	}

	if more {
		if err := r.Align(4); err != nil {
			return fail("exception sections: %v", err)
		}
		if err := br.sections(md, r, at, int(codeSize)); err != nil {
			return err
		}
	}
	b.Invalidate()
	return nil
}

func (br *bodyReader) code(md *metadata.MethodDef, code []byte) (map[int]*metadata.Instruction, error) {
	b := md.Body
	fail := func(off int, detail string, args ...any) error {
		return errors.New(errors.PhaseRead, errors.KindInvalidData).
			Member(md.FullName()).Detail("IL_%04x: "+detail, append([]any{off}, args...)...).Build()
	}

	r := binary.NewReader(code)
	at := map[int]*metadata.Instruction{}
	var pending []rawOperand
	for r.Remaining() > 0 {
		off := r.Position()
		c, _ := r.ReadByte()
		op := metadata.Code(c)
		if c == 0xFE {
			c2, err := r.ReadByte()
			if err != nil {
				return nil, fail(off, "truncated opcode")
			}
			op = metadata.Code(0xFE00 | uint16(c2))
		}
		info, ok := op.Info()
		if !ok {
			return nil, fail(off, "unknown opcode 0x%x", uint16(op))
		}
		ins := b.Reserve(op)
		at[off] = ins
		if err := b.AppendInstruction(ins); err != nil {
			return nil, err
		}

		raw := rawOperand{ins: ins}
		var err error
		switch info.Operand {
		case metadata.InlineNone:
		case metadata.InlineSwitch:
			var n uint32
			if n, err = r.ReadU32(); err == nil {
				if int64(n)*4 > int64(r.Remaining()) {
					return nil, fail(off, "switch with %d targets exceeds body", n)
				}
				raw.targets = make([]int32, n)
				for i := range raw.targets {
					v, _ := r.ReadU32()
					raw.targets[i] = int32(v)
				}
			}
		case metadata.ShortInlineBrTarget, metadata.ShortInlineI, metadata.ShortInlineVar, metadata.ShortInlineArg:
			var v byte
			v, err = r.ReadByte()
			raw.value = uint64(v)
		case metadata.InlineVar, metadata.InlineArg:
			var v uint16
			v, err = r.ReadU16()
			raw.value = uint64(v)
		case metadata.InlineI8, metadata.InlineR:
			raw.value, err = r.ReadU64()
		default:
			var v uint32
			v, err = r.ReadU32()
			raw.value = uint64(v)
		}
		if err != nil {
			return nil, fail(off, "truncated operand of %s", op)
		}
		raw.end = r.Position()
		if info.Operand != metadata.InlineNone {
			pending = append(pending, raw)
		}
	}

	for _, p := range pending {
		v, err := br.resolve(md, p, at)
		if err != nil {
			return nil, fail(p.end, "%s: %v", p.ins.Op, err)
		}
		if err := p.ins.SetOperand(v); err != nil {
			return nil, err
		}
	}
	return at, nil
}

func (br *bodyReader) resolve(md *metadata.MethodDef, p rawOperand, at map[int]*metadata.Instruction) (any, error) {
	info, _ := p.ins.Op.Info()
	target := func(delta int32) (*metadata.Instruction, error) {
		if t := at[p.end+int(delta)]; t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("branch to IL_%04x is not an instruction boundary", p.end+int(delta))
	}

	switch info.Operand {
	case metadata.ShortInlineBrTarget:
		return target(int32(int8(p.value)))
	case metadata.InlineBrTarget:
		return target(int32(uint32(p.value)))
	case metadata.InlineSwitch:
		out := make([]*metadata.Instruction, len(p.targets))
		for i, d := range p.targets {
			t, err := target(d)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	case metadata.ShortInlineI:
		if p.ins.Op == metadata.OpLdcI4S {
			return int8(p.value), nil
		}
		return uint8(p.value), nil
	case metadata.InlineI:
		return int32(uint32(p.value)), nil
	case metadata.InlineI8:
		return int64(p.value), nil
	case metadata.ShortInlineR:
		return math.Float32frombits(uint32(p.value)), nil
	case metadata.InlineR:
		return math.Float64frombits(p.value), nil
	case metadata.InlineString:
		tok := Token(p.value)
		if tok.Table() != userStringTable {
			return nil, fmt.Errorf("string token %s", tok)
		}
		return br.heaps.UserString(tok.Row())
	case metadata.InlineMethod, metadata.InlineField, metadata.InlineType, metadata.InlineTok:
		tok := Token(p.value)
		v, ok := br.tm.Resolve(tok)
		if !ok {
			return nil, fmt.Errorf("token %s does not resolve", tok)
		}
		return v, nil
	case metadata.InlineSig:
		tok := Token(p.value)
		if tok.Table() != tables.StandAloneSig {
			return nil, fmt.Errorf("signature token %s", tok)
		}
		blob, err := br.sigs(tok.Row())
		if err != nil {
			return nil, err
		}
		return decodeMethodSig(br.tm, blob)
	case metadata.ShortInlineVar, metadata.InlineVar:
		vars := md.Body.Variables
		if int(p.value) >= len(vars) {
			return nil, fmt.Errorf("local %d of %d", p.value, len(vars))
		}
		return vars[p.value], nil
	case metadata.ShortInlineArg, metadata.InlineArg:
		i := int(p.value)
		if !md.IsStatic() {
			if i == 0 {
				return md.Body.ThisParameter(), nil
			}
			i--
		}
		if i >= len(md.Parameters) {
			return nil, fmt.Errorf("argument %d of %d", p.value, len(md.Parameters))
		}
		return md.Parameters[i], nil
	}
	return nil, fmt.Errorf("unknown operand kind %d", info.Operand)
}

func (br *bodyReader) sections(md *metadata.MethodDef, r *binary.Reader, at map[int]*metadata.Instruction, size int) error {
	fail := func(detail string, args ...any) error {
		return errors.New(errors.PhaseRead, errors.KindInvalidData).
			Member(md.FullName()).Detail(detail, args...).Build()
	}
	bound := func(off uint32, endOK bool) (*metadata.Instruction, error) {
		if endOK && int(off) == size {
			return nil, nil
		}
		if ins := at[int(off)]; ins != nil {
			return ins, nil
		}
		return nil, fail("exception clause bound IL_%04x is not an instruction boundary", off)
	}

	for {
		kind, err := r.ReadByte()
		if err != nil {
			return fail("section header: %v", err)
		}
		if kind&0x3F != sectEHTable {
			return fail("unsupported method data section 0x%02x", kind)
		}
		fat := kind&sectFatFormat != 0
		var dataSize int
		if fat {
			b, err := r.ReadBytes(3)
			if err != nil {
				return fail("section header: %v", err)
			}
			dataSize = int(b[0]) | int(b[1])<<8 | int(b[2])<<16
		} else {
			n, err := r.ReadByte()
			if err != nil {
				return fail("section header: %v", err)
			}
			dataSize = int(n)
			if _, err := r.ReadU16(); err != nil {
				return fail("section header: %v", err)
			}
		}

		clauseLen := smallClauseLen
		if fat {
			clauseLen = fatClauseLen
		}
		count := (dataSize - 4) / clauseLen
		if count < 0 || count*clauseLen > r.Remaining() {
			return fail("exception section of %d bytes", dataSize)
		}
		for i := 0; i < count; i++ {
			var c clause
			if fat {
				vals := make([]uint32, 6)
				for k := range vals {
					vals[k], _ = r.ReadU32()
				}
				c = clause{vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]}
			} else {
				flags, _ := r.ReadU16()
				tryOff, _ := r.ReadU16()
				tryLen, _ := r.ReadByte()
				hOff, _ := r.ReadU16()
				hLen, _ := r.ReadByte()
				extra, _ := r.ReadU32()
				c = clause{uint32(flags), uint32(tryOff), uint32(tryLen), uint32(hOff), uint32(hLen), extra}
			}

			eh := &metadata.ExceptionHandler{Kind: metadata.HandlerKind(c.flags)}
			if eh.TryStart, err = bound(c.tryOff, false); err != nil {
				return err
			}
			if eh.TryEnd, err = bound(c.tryOff+c.tryLen, true); err != nil {
				return err
			}
			if eh.HandlerStart, err = bound(c.handlerOff, false); err != nil {
				return err
			}
			if eh.HandlerEnd, err = bound(c.handlerOff+c.handlerLen, true); err != nil {
				return err
			}
			switch eh.Kind {
			case metadata.HandlerCatch:
				v, ok := br.tm.Resolve(Token(c.extra))
				t, isType := v.(metadata.TypeDefOrRef)
				if !ok || !isType {
					return fail("catch type token %s", Token(c.extra))
				}
				eh.CatchType = t
			case metadata.HandlerFilter:
				if eh.FilterStart, err = bound(c.extra, false); err != nil {
					return err
				}
			}
			md.Body.ExceptionHandlers = append(md.Body.ExceptionHandlers, eh)
		}
		if kind&sectMoreSects == 0 {
			return nil
		}
		if err := r.Align(4); err != nil {
			return fail("section alignment: %v", err)
		}
	}
}
