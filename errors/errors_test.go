package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseResolve,
				Kind:   KindAmbiguousMember,
				Path:   []string{"System.Runtime", "System.Object"},
				Member: ".ctor",
				Detail: "2 members match",
			},
			contains: []string{"[resolve]", "ambiguous_member", "System.Runtime/System.Object", ".ctor", "2 members match"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseRead,
				Kind:  KindInvalidData,
			},
			contains: []string{"[read]", "invalid_data"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseWrite,
				Kind:   KindWriteIO,
				Member: "out.dll",
				Cause:  errors.New("disk full"),
			},
			contains: []string{"[write]", "write_io", "out.dll", "caused by", "disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := ReadIO("app.pdb", cause)

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not reach cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseDebug,
		Kind:  KindCrossMethodScope,
	}

	if !err.Is(&Error{Phase: PhaseDebug, Kind: KindCrossMethodScope}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseBuild, Kind: KindCrossMethodScope}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseDebug, Kind: KindInvalidOperand}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrCrossMethodScope) {
		t.Error("phase-less target should match any phase")
	}

	wrapped := fmt.Errorf("attach scope: %w", err)
	if !errors.Is(wrapped, ErrCrossMethodScope) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(fmt.Errorf("x: %w", ErrSymbolMismatch)); got != KindSymbolMismatch {
		t.Errorf("KindOf = %q, want %q", got, KindSymbolMismatch)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseResolve, KindMemberNotFound).
		Path("System.Console").
		Member("WriteLine").
		Value(1).
		Cause(cause).
		Detail("expected %d parameter(s)", 1).
		Build()

	if err.Phase != PhaseResolve {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseResolve)
	}
	if err.Kind != KindMemberNotFound {
		t.Errorf("Kind = %v, want %v", err.Kind, KindMemberNotFound)
	}
	if len(err.Path) != 1 || err.Path[0] != "System.Console" {
		t.Errorf("Path = %v, want [System.Console]", err.Path)
	}
	if err.Member != "WriteLine" {
		t.Errorf("Member = %v, want WriteLine", err.Member)
	}
	if err.Value != 1 {
		t.Errorf("Value = %v, want 1", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected 1 parameter(s)" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		kind  Kind
		phase Phase
	}{
		{"NotFound", NotFound(PhaseModel, "type", "App.Program"), KindNotFound, PhaseModel},
		{"MemberNotFound", MemberNotFound("System.Console", "WriteLine(System.String)"), KindMemberNotFound, PhaseResolve},
		{"AmbiguousMember", AmbiguousMember("System.Object", ".ctor", []string{"a", "b"}), KindAmbiguousMember, PhaseResolve},
		{"InvalidOperand", InvalidOperand("call", "text"), KindInvalidOperand, PhaseBuild},
		{"CrossMethodScope", CrossMethodScope("Main", "scope start"), KindCrossMethodScope, PhaseDebug},
		{"UnresolvedReference", UnresolvedReference([]string{"System.Console::WriteLine"}), KindUnresolvedReference, PhaseWrite},
		{"SymbolMismatch", SymbolMismatch("id %x", 1), KindSymbolMismatch, PhaseRead},
		{"WriteIO", WriteIO("a.dll", errors.New("x")), KindWriteIO, PhaseWrite},
		{"ReadIO", ReadIO("a.dll", errors.New("x")), KindReadIO, PhaseRead},
		{"ImplementationReference", ImplementationReference("System.Private.CoreLib"), KindImplementationReference, PhaseWrite},
		{"InvalidState", InvalidState(PhaseModel, "written"), KindInvalidState, PhaseModel},
		{"Unsupported", Unsupported(PhaseRead, "vararg"), KindUnsupported, PhaseRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestAmbiguousMemberListsCandidates(t *testing.T) {
	err := AmbiguousMember("System.Object", ".ctor", []string{".ctor()", ".ctor(System.String)"})
	if !strings.Contains(err.Error(), ".ctor(System.String)") {
		t.Errorf("message %q should list candidates", err.Error())
	}
	if c, ok := err.Value.([]string); !ok || len(c) != 2 {
		t.Errorf("Value = %v, want candidate list", err.Value)
	}
}
