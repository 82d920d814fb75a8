package metadata

import (
	"testing"

	"github.com/wippyai/clr-image/errors"
)

func TestSetScopeSpansMethod(t *testing.T) {
	f := newFixture(t)
	first, _, last := f.emitHello(t)

	scope, err := f.main.DebugInfo.SetScope(first, last)
	if err != nil {
		t.Fatal(err)
	}
	if scope.StartOffset() != 0 || scope.EndOffset() != 12 {
		t.Errorf("scope = [%d, %d)", scope.StartOffset(), scope.EndOffset())
	}

	open, err := f.main.DebugInfo.SetScope(first, nil)
	if err != nil {
		t.Fatal(err)
	}
	if open.EndOffset() != 13 {
		t.Errorf("open scope end = %d, want code size 13", open.EndOffset())
	}
	if !f.main.DebugInfo.HasSymbols() {
		t.Error("HasSymbols should be true with a scope")
	}
}

func TestCrossMethodScope(t *testing.T) {
	f := newFixture(t)
	first, _, last := f.emitHello(t)

	other := NewMethodDef("Other", MethodPublic|MethodStatic, Void)
	if err := f.program.AddMethod(other); err != nil {
		t.Fatal(err)
	}
	otherRet, err := other.Body.Append(OpRet, nil)
	if err != nil {
		t.Fatal(err)
	}
	otherVar := other.Body.AddVariable(Int32)
	doc := NewDocument("Program.cs")

	t.Run("scope start", func(t *testing.T) {
		_, err := other.DebugInfo.SetScope(first, otherRet)
		if !errors.Is(err, errors.ErrCrossMethodScope) {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("scope end", func(t *testing.T) {
		_, err := f.main.DebugInfo.SetScope(first, otherRet)
		if !errors.Is(err, errors.ErrCrossMethodScope) {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("sequence point", func(t *testing.T) {
		_, err := other.DebugInfo.AddSequencePoint(last, doc, 1, 1, 1, 2)
		if !errors.Is(err, errors.ErrCrossMethodScope) {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("variable", func(t *testing.T) {
		scope, err := f.main.DebugInfo.SetScope(first, last)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := scope.AddVariable(otherVar, "x"); !errors.Is(err, errors.ErrCrossMethodScope) {
			t.Errorf("err = %v", err)
		}
	})
	if f.main.DebugInfo.SequencePoints != nil || other.DebugInfo.Scope != nil {
		t.Error("failed calls must not change debug info")
	}
}

func TestScopeBoundsMustBeOrderedAndAppended(t *testing.T) {
	f := newFixture(t)
	first, _, last := f.emitHello(t)

	if _, err := f.main.DebugInfo.SetScope(last, first); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("reversed bounds: err = %v", err)
	}
	detached, err := f.main.Body.Create(OpNop, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.main.DebugInfo.SetScope(first, detached); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("detached end: err = %v", err)
	}
}

func TestSequencePoints(t *testing.T) {
	f := newFixture(t)
	first, call, last := f.emitHello(t)
	doc := NewDocument("../../../Program.cs")
	d := f.main.DebugInfo

	if _, err := d.AddSequencePoint(call, doc, 6, 13, 6, 46); err != nil {
		t.Fatal(err)
	}
	if _, err := d.AddHiddenSequencePoint(last, doc); err != nil {
		t.Fatal(err)
	}
	if _, err := d.AddSequencePoint(first, doc, 5, 9, 5, 10); err != nil {
		t.Fatal(err)
	}

	if len(d.SequencePoints) != 3 {
		t.Fatalf("points = %d", len(d.SequencePoints))
	}
	if d.SequencePoints[0].Instruction != first || d.SequencePoints[1].Instruction != call {
		t.Error("points should be ordered by instruction")
	}
	if !d.SequencePoints[2].Hidden() || d.SequencePoints[2].StartLine != HiddenLine {
		t.Error("last point should be hidden")
	}
	if got := d.SequencePoints[1].String(); got != "IL_0006 (6,13)-(6,46) ../../../Program.cs" {
		t.Errorf("String = %q", got)
	}
}

func TestSequencePointRangeValidation(t *testing.T) {
	f := newFixture(t)
	_, call, _ := f.emitHello(t)
	doc := NewDocument("Program.cs")

	tests := []struct {
		name           string
		sl, sc, el, ec int
	}{
		{"zero line", 0, 1, 0, 2},
		{"end before start", 6, 1, 5, 2},
		{"empty same line", 6, 13, 6, 13},
		{"column overflow", 6, 1, 6, 0x10000},
		{"line overflow", 0x20000000, 1, 0x20000000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.main.DebugInfo.AddSequencePoint(call, doc, tt.sl, tt.sc, tt.el, tt.ec); !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("err = %v, want invalid_input", err)
			}
		})
	}
	if _, err := f.main.DebugInfo.AddSequencePoint(call, nil, 6, 13, 6, 46); err == nil {
		t.Error("missing document should fail")
	}
}

func TestImportScopes(t *testing.T) {
	var arena ImportScopes

	if _, err := arena.Add(3); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("unknown parent: err = %v", err)
	}
	root, err := arena.Add(0)
	if err != nil {
		t.Fatal(err)
	}
	mid, err := arena.Add(root, ImportTarget{Kind: ImportNamespace, Namespace: "System"})
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := arena.Add(mid)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := arena.Add(leaf, ImportTarget{Kind: 12}); err == nil {
		t.Error("invalid import kind should fail")
	}

	if root != 1 || mid != 2 || leaf != 3 || arena.Len() != 3 {
		t.Errorf("ids = %d %d %d, len %d", root, mid, leaf, arena.Len())
	}
	chain := arena.Chain(leaf)
	if len(chain) != 3 || chain[0] != leaf || chain[2] != root {
		t.Errorf("Chain = %v", chain)
	}
	node, ok := arena.Get(mid)
	if !ok || node.Targets[0].String() != "System" {
		t.Errorf("Get(mid) = %v", node)
	}
	if arena.Has(0) || arena.Has(4) {
		t.Error("Has should reject 0 and out-of-range ids")
	}
}
