package resolve_test

import (
	"testing"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/metadata"
	"github.com/wippyai/clr-image/resolve"
	"github.com/wippyai/clr-image/testbed"
)

func TestFindMethod(t *testing.T) {
	runtime, console, err := testbed.Assemblies()
	if err != nil {
		t.Fatal(err)
	}
	consoleType, err := console.MainModule().Type("System", "Console")
	if err != nil {
		t.Fatal(err)
	}
	debuggable, err := runtime.MainModule().Type("System.Diagnostics", "DebuggableAttribute")
	if err != nil {
		t.Fatal(err)
	}
	object, err := runtime.MainModule().Type("System", "Object")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		typ     *metadata.TypeDef
		query   resolve.MethodQuery
		want    string
		errKind errors.Kind
	}{
		{
			name:  "exact overload",
			typ:   consoleType,
			query: resolve.Method("WriteLine", metadata.String),
			want:  "System.Void System.Console::WriteLine(System.String)",
		},
		{
			name:  "zero parameters selects arity zero",
			typ:   consoleType,
			query: resolve.Method("WriteLine"),
			want:  "System.Void System.Console::WriteLine()",
		},
		{
			name:  "two parameters",
			typ:   consoleType,
			query: resolve.Method("WriteLine", metadata.String, metadata.Object),
			want:  "System.Void System.Console::WriteLine(System.String,System.Object)",
		},
		{
			name:    "any arity over overloads is ambiguous",
			typ:     consoleType,
			query:   resolve.AnyArity("WriteLine"),
			errKind: errors.KindAmbiguousMember,
		},
		{
			name:  "any arity with a single candidate",
			typ:   consoleType,
			query: resolve.AnyArity("ReadLine"),
			want:  "System.String System.Console::ReadLine()",
		},
		{
			name:    "case matters by default",
			typ:     consoleType,
			query:   resolve.Method("writeline", metadata.String),
			errKind: errors.KindMemberNotFound,
		},
		{
			name:  "folded query ignores case",
			typ:   consoleType,
			query: resolve.MethodOf("writeline", "system.string").Fold(),
			want:  "System.Void System.Console::WriteLine(System.String)",
		},
		{
			name:    "no such parameter list",
			typ:     consoleType,
			query:   resolve.Method("WriteLine", metadata.Double),
			errKind: errors.KindMemberNotFound,
		},
		{
			name:  "parameterless constructor",
			typ:   object,
			query: resolve.Method(".ctor"),
			want:  "System.Void System.Object::.ctor()",
		},
		{
			name:  "constructor by nested enum parameter",
			typ:   debuggable,
			query: resolve.MethodOf(".ctor", "System.Diagnostics.DebuggableAttribute/DebuggingModes"),
			want:  "System.Void System.Diagnostics.DebuggableAttribute::.ctor(System.Diagnostics.DebuggableAttribute/DebuggingModes)",
		},
		{
			name:    "constructor without parameterless overload",
			typ:     debuggable,
			query:   resolve.Method(".ctor"),
			errKind: errors.KindMemberNotFound,
		},
		{
			name:    "constructors of any arity",
			typ:     debuggable,
			query:   resolve.AnyArity(".ctor"),
			errKind: errors.KindAmbiguousMember,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := resolve.FindMethod(tt.typ, tt.query)
			if tt.errKind != "" {
				if errors.KindOf(err) != tt.errKind {
					t.Fatalf("err = %v, want kind %s", err, tt.errKind)
				}
				if md != nil {
					t.Errorf("returned %s along with the error", md.FullName())
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if md.FullName() != tt.want {
				t.Errorf("found %q, want %q", md.FullName(), tt.want)
			}
		})
	}
}

func TestAmbiguousMemberListsCandidates(t *testing.T) {
	_, console, err := testbed.Assemblies()
	if err != nil {
		t.Fatal(err)
	}
	consoleType, _ := console.MainModule().Type("System", "Console")

	_, err = resolve.FindMethod(consoleType, resolve.AnyArity("WriteLine"))
	var e *errors.Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v", err)
	}
	candidates, ok := e.Value.([]string)
	if !ok || len(candidates) != 5 {
		t.Errorf("candidates = %v", e.Value)
	}
	if e.Phase != errors.PhaseResolve {
		t.Errorf("phase = %s", e.Phase)
	}
}

func TestFindField(t *testing.T) {
	runtime, err := testbed.RuntimeAssembly()
	if err != nil {
		t.Fatal(err)
	}
	modes, err := runtime.MainModule().TypeByFullName("System.Diagnostics.DebuggableAttribute/DebuggingModes")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := resolve.FindField(modes, "Default"); err != nil {
		t.Error(err)
	}
	if _, err := resolve.FindField(modes, "Fast"); !errors.Is(err, errors.ErrMemberNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestQueryString(t *testing.T) {
	tests := []struct {
		q    resolve.MethodQuery
		want string
	}{
		{resolve.Method("WriteLine", metadata.String), "WriteLine(System.String)"},
		{resolve.Method(".ctor"), ".ctor()"},
		{resolve.AnyArity("Write"), "Write(*)"},
	}
	for _, tt := range tests {
		if got := tt.q.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
