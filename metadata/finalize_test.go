package metadata

import (
	"testing"

	"github.com/wippyai/clr-image/errors"
)

func TestFinalizeHello(t *testing.T) {
	f := newFixture(t)
	f.emitHello(t)
	if err := f.mod.SetEntryPoint(f.main); err != nil {
		t.Fatal(err)
	}

	if err := f.mod.Finalize(nil); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if f.mod.State() != StateFinalized {
		t.Errorf("state = %v", f.mod.State())
	}

	// The base type marker binds to the Object reference the fixture registered.
	obj := f.mod.CoreTypeRef(Object)
	if obj == nil || obj.Scope != f.runtime {
		t.Fatalf("CoreTypeRef(Object) = %v", obj)
	}
	count := 0
	for _, r := range f.mod.TypeRefs {
		if r.Namespace == "System" && r.Name == "Object" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("System.Object registered %d times", count)
	}
}

func TestFinalizeBindsCoreMarkerTypeTokens(t *testing.T) {
	f := newFixture(t)
	il := NewBuilder(f.main.Body)
	il.Emit(OpLdtoken, Int32)
	il.Emit(OpPop)
	il.Emit(OpRet)
	if err := il.Err(); err != nil {
		t.Fatal(err)
	}
	_ = f.mod.SetEntryPoint(f.main)

	if err := f.mod.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	ref := f.mod.CoreTypeRef(Int32)
	if ref == nil || !ref.IsValueType {
		t.Errorf("Int32 TypeRef = %+v", ref)
	}
}

func TestFinalizeRequiresEntryPointForExecutables(t *testing.T) {
	f := newFixture(t)
	f.emitHello(t)

	if err := f.mod.Finalize(nil); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("err = %v, want invalid_state", err)
	}

	f.mod.Kind = KindDll
	if err := f.mod.Finalize(nil); err != nil {
		t.Errorf("library without entry point: %v", err)
	}
}

func TestFinalizeUnresolvedReferences(t *testing.T) {
	t.Run("unregistered member reference", func(t *testing.T) {
		f := newFixture(t)
		stray := &MemberRef{Parent: f.console, Name: "ReadLine", Method: &MethodSig{Return: String}}
		il := NewBuilder(f.main.Body)
		il.Emit(OpCall, stray)
		il.Emit(OpPop)
		il.Emit(OpRet)
		_ = f.mod.SetEntryPoint(f.main)

		err := f.mod.Finalize(nil)
		if !errors.Is(err, errors.ErrUnresolvedReference) {
			t.Fatalf("err = %v", err)
		}
		var e *errors.Error
		if !errors.As(err, &e) {
			t.Fatal("expected *errors.Error")
		}
		refs, _ := e.Value.([]string)
		if len(refs) != 1 || refs[0] != stray.FullName() {
			t.Errorf("refs = %v", refs)
		}
	})

	t.Run("method of another module", func(t *testing.T) {
		f := newFixture(t)
		g := newFixture(t)
		il := NewBuilder(f.main.Body)
		il.Emit(OpCall, g.main)
		il.Emit(OpRet)
		_ = f.mod.SetEntryPoint(f.main)

		if err := f.mod.Finalize(nil); !errors.Is(err, errors.ErrUnresolvedReference) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("type reference scoped to unknown assembly", func(t *testing.T) {
		f := newFixture(t)
		foreign := &AssemblyRef{Name: "Foreign"}
		f.mod.TypeRefs = append(f.mod.TypeRefs, &TypeRef{Scope: foreign, Namespace: "X", Name: "Y"})
		f.emitHello(t)
		_ = f.mod.SetEntryPoint(f.main)

		if err := f.mod.Finalize(nil); !errors.Is(err, errors.ErrUnresolvedReference) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("no core library", func(t *testing.T) {
		a := NewAssembly("Lib", Version{1, 0, 0, 0}, ModuleParameters{Kind: KindDll})
		m := a.MainModule()
		if err := m.AddType(NewTypeDef("Lib", "C", TypePublic, Object)); err != nil {
			t.Fatal(err)
		}
		if err := m.Finalize(nil); !errors.Is(err, errors.ErrUnresolvedReference) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestFailedFinalizeLeavesTypeRefs(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		want  error
	}{
		{"unresolved reference", func(t *testing.T, f *fixture) {
			stray := &MemberRef{Parent: f.console, Name: "ReadLine", Method: &MethodSig{Return: String}}
			il := NewBuilder(f.main.Body)
			il.Emit(OpCall, stray)
			il.Emit(OpPop)
		}, errors.ErrUnresolvedReference},
		{"implementation reference", func(t *testing.T, f *fixture) {
			if _, err := f.mod.AddAssemblyRef(&AssemblyRef{Name: "System.Private.CoreLib"}); err != nil {
				t.Fatal(err)
			}
		}, errors.ErrImplementationReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)
			il := NewBuilder(f.main.Body)
			il.Emit(OpLdtoken, Int32)
			il.Emit(OpPop)
			il.Emit(OpRet)
			_ = f.mod.SetEntryPoint(f.main)
			before := len(f.mod.TypeRefs)

			if err := f.mod.Finalize(nil); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(f.mod.TypeRefs) != before || f.mod.CoreTypeRef(Int32) != nil {
				t.Errorf("failed Finalize registered %d type references", len(f.mod.TypeRefs)-before)
			}
			if f.mod.State() == StateFinalized {
				t.Error("module finalized after a failure")
			}
		})
	}
}

func TestFinalizeRejectsUnterminatedBody(t *testing.T) {
	f := newFixture(t)
	il := NewBuilder(f.main.Body)
	il.Emit(OpNop)
	_ = f.mod.SetEntryPoint(f.main)

	if err := f.mod.Finalize(nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}

func TestFinalizeRejectsDetachedBranchTarget(t *testing.T) {
	f := newFixture(t)
	il := NewBuilder(f.main.Body)
	never := il.Label(OpNop)
	il.Emit(OpBrS, never)
	il.Emit(OpRet)
	_ = f.mod.SetEntryPoint(f.main)

	if err := f.mod.Finalize(nil); !errors.Is(err, errors.ErrInvalidOperand) {
		t.Errorf("err = %v", err)
	}
}

func TestImplementationGuard(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		opts    *FinalizeOptions
		wantErr bool
	}{
		{"corelib", "System.Private.CoreLib", nil, true},
		{"case insensitive", "MSCORLIB", nil, true},
		{"contract", "System.Console", nil, false},
		{"custom prefix", "Internal.Impl", &FinalizeOptions{ImplementationAssemblies: []string{"Internal."}}, true},
		{"disabled", "System.Private.CoreLib", &FinalizeOptions{ImplementationAssemblies: []string{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.emitHello(t)
			_ = f.mod.SetEntryPoint(f.main)
			if _, err := f.mod.AddAssemblyRef(&AssemblyRef{Name: tt.ref}); err != nil {
				t.Fatal(err)
			}

			err := f.mod.Finalize(tt.opts)
			if tt.wantErr != errors.Is(err, errors.ErrImplementationReference) {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	f.emitHello(t)
	_ = f.mod.SetEntryPoint(f.main)

	if err := f.mod.MarkWritten(); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("MarkWritten before Finalize: %v", err)
	}
	if err := f.mod.Finalize(nil); err != nil {
		t.Fatal(err)
	}

	// A mutation drops a finalized module back to populated.
	extra := NewTypeDef("App", "Extra", TypePublic, Object)
	if err := f.mod.AddType(extra); err != nil {
		t.Fatal(err)
	}
	if f.mod.State() != StatePopulated {
		t.Errorf("state after mutation = %v", f.mod.State())
	}
	if err := f.mod.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	if err := f.mod.MarkWritten(); err != nil {
		t.Fatal(err)
	}

	if err := f.mod.AddType(NewTypeDef("App", "Late", TypePublic, Object)); err != ErrModuleWritten {
		t.Errorf("AddType after write: %v", err)
	}
	if err := f.mod.Finalize(nil); err != ErrModuleWritten {
		t.Errorf("Finalize after write: %v", err)
	}
	if _, err := f.mod.AddDocument(NewDocument("Late.cs")); err != ErrModuleWritten {
		t.Errorf("AddDocument after write: %v", err)
	}
	if len(f.mod.Documents) != 0 {
		t.Errorf("documents after write = %d", len(f.mod.Documents))
	}
}
