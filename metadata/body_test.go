package metadata

import (
	"testing"

	"github.com/wippyai/clr-image/errors"
)

func TestOffsetsAndCodeSize(t *testing.T) {
	f := newFixture(t)
	first, call, last := f.emitHello(t)

	if first.Offset() != 0 || call.Offset() != 6 || last.Offset() != 12 {
		t.Errorf("offsets = %d, %d, %d", first.Offset(), call.Offset(), last.Offset())
	}
	if got := f.main.Body.CodeSize(); got != 13 {
		t.Errorf("CodeSize = %d, want 13", got)
	}
	if f.main.Body.InstructionAt(6) != call {
		t.Error("InstructionAt(6) should be the call")
	}
	if f.main.Body.InstructionAt(7) != nil {
		t.Error("InstructionAt inside an instruction should be nil")
	}
	if !f.main.Body.Terminated() {
		t.Error("body ending in ret should be terminated")
	}
}

func TestTwoByteOpcodeSize(t *testing.T) {
	f := newFixture(t)
	v := f.main.Body.AddVariable(Int32)

	ld, err := f.main.Body.Append(OpLdloc, v)
	if err != nil {
		t.Fatal(err)
	}
	if ld.Size() != 4 {
		t.Errorf("ldloc size = %d, want 4", ld.Size())
	}
	sw, err := f.main.Body.Append(OpSwitch, []*Instruction{ld, ld, ld})
	if err != nil {
		t.Fatal(err)
	}
	if sw.Size() != 1+4+12 {
		t.Errorf("switch size = %d", sw.Size())
	}
}

func TestInvalidOperands(t *testing.T) {
	f := newFixture(t)
	other := NewMethodDef("Other", MethodPublic|MethodStatic, Void)
	if err := f.program.AddMethod(other); err != nil {
		t.Fatal(err)
	}
	foreignIns, err := other.Body.Append(OpNop, nil)
	if err != nil {
		t.Fatal(err)
	}
	foreignVar := other.Body.AddVariable(Int32)
	fieldRef := &MemberRef{Parent: f.console, Name: "Out", Field: Object}

	tests := []struct {
		name    string
		op      Code
		operand any
	}{
		{"call with string", OpCall, "text"},
		{"call with field reference", OpCall, fieldRef},
		{"ldfld with method reference", OpLdfld, f.writeLine},
		{"ldstr with int", OpLdstr, 42},
		{"nop with operand", OpNop, 1},
		{"branch into another body", OpBrS, foreignIns},
		{"ldc.i4.s out of range", OpLdcI4S, 300},
		{"ldc.i4 with int64", OpLdcI4, int64(1)},
		{"ldloc of another body", OpLdloc, foreignVar},
		{"ldarg with nil", OpLdarg, (*Parameter)(nil)},
		{"nil method", OpCall, (*MethodDef)(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(f.main.Body.Instructions)
			_, err := f.main.Body.Append(tt.op, tt.operand)
			if !errors.Is(err, errors.ErrInvalidOperand) {
				t.Fatalf("err = %v, want invalid_operand", err)
			}
			if len(f.main.Body.Instructions) != before {
				t.Error("rejected instruction was appended")
			}
		})
	}
}

func TestValidOperands(t *testing.T) {
	f := newFixture(t)
	body := f.main.Body
	args, _ := f.main.Parameter("args")
	v := body.AddVariable(String)

	valid := []struct {
		op      Code
		operand any
	}{
		{OpLdcI4S, 100},
		{OpLdcI4S, int8(-3)},
		{OpLdcI4, int32(70000)},
		{OpLdcI8, int64(1)},
		{OpLdcR4, float32(1.5)},
		{OpLdcR8, 2.5},
		{OpLdargS, args},
		{OpStlocS, v},
		{OpLdtoken, f.console},
		{OpLdtoken, f.writeLine},
		{OpNewobj, f.objCtor},
		{OpCall, f.main},
	}
	for _, tt := range valid {
		if _, err := body.Append(tt.op, tt.operand); err != nil {
			t.Errorf("%s %v: %v", tt.op, tt.operand, err)
		}
	}
}

func TestForwardBranchWithLabel(t *testing.T) {
	f := newFixture(t)
	il := NewBuilder(f.main.Body)

	done := il.Label(OpRet)
	br := il.Emit(OpBrS, done)
	il.Emit(OpNop)
	il.Mark(done)
	if err := il.Err(); err != nil {
		t.Fatal(err)
	}

	if done.Offset() != 3 || br.Operand != done {
		t.Errorf("label offset = %d", done.Offset())
	}
	if err := f.main.Body.AppendInstruction(done); err == nil {
		t.Error("appending twice should fail")
	}
}

func TestBuilderKeepsFirstError(t *testing.T) {
	f := newFixture(t)
	il := NewBuilder(f.main.Body)
	il.Emit(OpNop)
	if ins := il.Emit(OpCall, "Console.WriteLine"); ins != nil {
		t.Error("failed emit should return nil")
	}
	if ins := il.Emit(OpRet); ins != nil {
		t.Error("emit after failure should do nothing")
	}
	if !errors.Is(il.Err(), errors.ErrInvalidOperand) {
		t.Errorf("Err = %v", il.Err())
	}
	if len(f.main.Body.Instructions) != 1 {
		t.Errorf("instructions = %d, want 1", len(f.main.Body.Instructions))
	}
}

func TestComputeMaxStack(t *testing.T) {
	t.Run("hello", func(t *testing.T) {
		f := newFixture(t)
		f.emitHello(t)
		if got := f.main.Body.ComputeMaxStack(); got != 1 {
			t.Errorf("max stack = %d, want 1", got)
		}
	})

	t.Run("instance call", func(t *testing.T) {
		f := newFixture(t)
		ctor := NewMethodDef(".ctor", MethodPublic|MethodSpecialName|MethodRTSpecialName, Void)
		if err := f.program.AddMethod(ctor); err != nil {
			t.Fatal(err)
		}
		il := NewBuilder(ctor.Body)
		il.Emit(OpLdarg0)
		il.Emit(OpCall, f.objCtor)
		il.Emit(OpRet)
		if err := il.Err(); err != nil {
			t.Fatal(err)
		}
		if got := ctor.Body.ComputeMaxStack(); got != 1 {
			t.Errorf("max stack = %d, want 1", got)
		}
	})

	t.Run("branch carries height", func(t *testing.T) {
		f := newFixture(t)
		il := NewBuilder(f.main.Body)
		join := il.Label(OpCall, f.writeLine)
		il.Emit(OpLdstr, "a")
		il.Emit(OpLdcI41)
		il.Emit(OpBrtrueS, join)
		il.Emit(OpPop)
		il.Emit(OpLdstr, "b")
		il.Mark(join)
		il.Emit(OpRet)
		if err := il.Err(); err != nil {
			t.Fatal(err)
		}
		if got := f.main.Body.ComputeMaxStack(); got != 2 {
			t.Errorf("max stack = %d, want 2", got)
		}
	})

	t.Run("catch handler starts with exception", func(t *testing.T) {
		f := newFixture(t)
		il := NewBuilder(f.main.Body)
		end := il.Label(OpRet)
		tryStart := il.Emit(OpNop)
		il.Emit(OpLeaveS, end)
		handler := il.Emit(OpPop)
		il.Emit(OpLeaveS, end)
		il.Mark(end)
		if err := il.Err(); err != nil {
			t.Fatal(err)
		}
		f.main.Body.ExceptionHandlers = append(f.main.Body.ExceptionHandlers, &ExceptionHandler{
			Kind: HandlerCatch, TryStart: tryStart, TryEnd: handler,
			HandlerStart: handler, HandlerEnd: end, CatchType: Object,
		})
		if got := f.main.Body.ComputeMaxStack(); got != 1 {
			t.Errorf("max stack = %d, want 1", got)
		}
	})
}

func TestOpcodeTable(t *testing.T) {
	tests := []struct {
		op   Code
		name string
		size int
	}{
		{OpNop, "nop", 1},
		{OpLdstr, "ldstr", 1},
		{OpCeq, "ceq", 2},
		{OpLdloc, "ldloc", 2},
		{OpRethrow, "rethrow", 2},
	}
	for _, tt := range tests {
		if tt.op.String() != tt.name || tt.op.Size() != tt.size {
			t.Errorf("%04x: %s/%d", uint16(tt.op), tt.op, tt.op.Size())
		}
		if got, ok := CodeByName(tt.name); !ok || got != tt.op {
			t.Errorf("CodeByName(%q) = %v, %v", tt.name, got, ok)
		}
	}
	if Code(0x24).Valid() {
		t.Error("0x24 is not an opcode")
	}
}
