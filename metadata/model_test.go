package metadata

import (
	"testing"

	"github.com/wippyai/clr-image/errors"
)

type fixture struct {
	asm       *Assembly
	mod       *Module
	runtime   *AssemblyRef
	console   *TypeRef
	writeLine *MemberRef
	objCtor   *MemberRef
	program   *TypeDef
	main      *MethodDef
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	f.asm = NewAssembly("App", Version{1, 0, 0, 0}, ModuleParameters{Kind: KindConsole})
	f.mod = f.asm.MainModule()

	var err error
	if f.runtime, err = f.mod.AddAssemblyRef(&AssemblyRef{Name: "System.Runtime", Version: Version{4, 2, 2, 0}}); err != nil {
		t.Fatal(err)
	}
	consoleAsm, err := f.mod.AddAssemblyRef(&AssemblyRef{Name: "System.Console", Version: Version{4, 1, 2, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if f.console, err = f.mod.AddTypeRef(&TypeRef{Scope: consoleAsm, Namespace: "System", Name: "Console"}); err != nil {
		t.Fatal(err)
	}
	objRef, err := f.mod.AddTypeRef(&TypeRef{Scope: f.runtime, Namespace: "System", Name: "Object"})
	if err != nil {
		t.Fatal(err)
	}
	if f.writeLine, err = f.mod.AddMemberRef(&MemberRef{
		Parent: f.console, Name: "WriteLine",
		Method: &MethodSig{Return: Void, Params: []TypeSig{String}},
	}); err != nil {
		t.Fatal(err)
	}
	if f.objCtor, err = f.mod.AddMemberRef(&MemberRef{
		Parent: objRef, Name: ".ctor",
		Method: &MethodSig{Return: Void, HasThis: true},
	}); err != nil {
		t.Fatal(err)
	}

	f.program = NewTypeDef("App", "Program", TypePublic, Object)
	if err := f.mod.AddType(f.program); err != nil {
		t.Fatal(err)
	}
	f.main = NewMethodDef("Main", MethodPublic|MethodStatic, Void)
	if err := f.program.AddMethod(f.main); err != nil {
		t.Fatal(err)
	}
	if err := f.main.AddParameter(NewParameter("args", ParamNone, &SZArray{Elem: String})); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) emitHello(t *testing.T) (*Instruction, *Instruction, *Instruction) {
	t.Helper()
	il := NewBuilder(f.main.Body)
	first := il.Emit(OpNop)
	il.Emit(OpLdstr, "Hello World!")
	call := il.Emit(OpCall, f.writeLine)
	il.Emit(OpNop)
	last := il.Emit(OpRet)
	if err := il.Err(); err != nil {
		t.Fatal(err)
	}
	return first, call, last
}

func TestNewAssemblyDefaults(t *testing.T) {
	a := NewAssembly("NewAssembly", Version{1, 0, 0, 0}, ModuleParameters{Kind: KindConsole})
	m := a.MainModule()

	if m.Name != "NewAssembly.dll" {
		t.Errorf("module name = %q", m.Name)
	}
	if m.Architecture != ArchI386 || m.RuntimeVersion != DefaultRuntimeVersion {
		t.Errorf("defaults = %v %q", m.Architecture, m.RuntimeVersion)
	}
	if len(m.Types) != 1 || m.Types[0].Name != ModuleTypeName {
		t.Errorf("Types[0] should be <Module>, got %v", m.Types)
	}
	if m.State() != StateEmpty {
		t.Errorf("state = %v, want empty", m.State())
	}
	if a.FullName() != "NewAssembly, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null" {
		t.Errorf("FullName = %q", a.FullName())
	}
}

func TestLookups(t *testing.T) {
	f := newFixture(t)
	nested := NewTypeDef("", "Inner", TypeNestedPublic, Object)
	if err := f.program.AddNestedType(nested); err != nil {
		t.Fatal(err)
	}

	if got, err := f.mod.Type("App", "Program"); err != nil || got != f.program {
		t.Errorf("Type = %v, %v", got, err)
	}
	if got, err := f.mod.TypeByFullName("App.Program/Inner"); err != nil || got != nested {
		t.Errorf("TypeByFullName = %v, %v", got, err)
	}
	if got, err := f.program.Method("Main"); err != nil || got != f.main {
		t.Errorf("Method = %v, %v", got, err)
	}
	if got, err := f.main.Parameter("args"); err != nil || got.Sequence() != 1 {
		t.Errorf("Parameter = %v, %v", got, err)
	}

	notFound := []error{
		func() error { _, err := f.mod.Type("App", "Missing"); return err }(),
		func() error { _, err := f.mod.TypeByFullName("App.Program/Missing"); return err }(),
		func() error { _, err := f.program.Method("main"); return err }(),
		func() error { _, err := f.program.Field("x"); return err }(),
		func() error { _, err := f.main.Parameter("argv"); return err }(),
	}
	for i, err := range notFound {
		if !errors.Is(err, errors.ErrNotFound) {
			t.Errorf("lookup %d: err = %v, want not_found", i, err)
		}
	}
}

func TestOverloadedMethodLookupIsAmbiguous(t *testing.T) {
	f := newFixture(t)
	other := NewMethodDef("Main", MethodPublic|MethodStatic, Void)
	if err := f.program.AddMethod(other); err != nil {
		t.Fatal(err)
	}
	if _, err := f.program.Method("Main"); !errors.Is(err, errors.ErrAmbiguousMember) {
		t.Errorf("err = %v, want ambiguous_member", err)
	}
	if n := len(f.program.MethodsNamed("Main")); n != 2 {
		t.Errorf("MethodsNamed = %d, want 2", n)
	}
}

func TestReferenceRegistrationDedups(t *testing.T) {
	f := newFixture(t)

	again, err := f.mod.AddAssemblyRef(&AssemblyRef{Name: "system.runtime"})
	if err != nil || again != f.runtime {
		t.Errorf("AddAssemblyRef should return the existing reference")
	}
	tr, err := f.mod.AddTypeRef(&TypeRef{Scope: f.console.Scope, Namespace: "System", Name: "Console"})
	if err != nil || tr != f.console {
		t.Errorf("AddTypeRef should return the existing reference")
	}
	if n := len(f.mod.MemberRefs); n != 2 {
		t.Fatalf("member refs = %d", n)
	}
	if _, err := f.mod.AddMemberRef(f.writeLine); err != nil || len(f.mod.MemberRefs) != 2 {
		t.Error("AddMemberRef should not add the same instance twice")
	}
}

func TestParameterSequenceAndArgIndex(t *testing.T) {
	f := newFixture(t)
	inst := NewMethodDef("Run", MethodPublic, Void)
	if err := f.program.AddMethod(inst); err != nil {
		t.Fatal(err)
	}
	a := NewParameter("a", ParamNone, Int32)
	b := NewParameter("b", ParamNone, Int32)
	_ = inst.AddParameter(a)
	_ = inst.AddParameter(b)

	if a.Sequence() != 1 || b.Sequence() != 2 {
		t.Errorf("sequence = %d, %d", a.Sequence(), b.Sequence())
	}
	if a.ArgIndex() != 1 || inst.Body.ThisParameter().ArgIndex() != 0 {
		t.Errorf("instance arg index = %d", a.ArgIndex())
	}
	if err := inst.RemoveParameter(a); err != nil {
		t.Fatal(err)
	}
	if b.Sequence() != 1 || a.Sequence() != -1 {
		t.Errorf("after remove: b=%d a=%d", b.Sequence(), a.Sequence())
	}

	args, _ := f.main.Parameter("args")
	if args.ArgIndex() != 0 {
		t.Errorf("static arg index = %d, want 0", args.ArgIndex())
	}
}

func TestFullNames(t *testing.T) {
	f := newFixture(t)
	list := &TypeRef{Scope: f.runtime, Namespace: "System.Collections.Generic", Name: "List`1"}
	nested := &TypeRef{Scope: list, Name: "Enumerator"}

	tests := []struct {
		sig  TypeSig
		want string
	}{
		{&SZArray{Elem: String}, "System.String[]"},
		{&ArrayType{Elem: Int32, Rank: 2}, "System.Int32[,]"},
		{&GenericInst{Generic: list, Args: []TypeSig{Int32}}, "System.Collections.Generic.List`1<System.Int32>"},
		{nested, "System.Collections.Generic.List`1/Enumerator"},
		{&GenericParam{Index: 0}, "!0"},
		{&GenericParam{Index: 1, Method: true}, "!!1"},
		{&ByRef{Elem: Int32}, "System.Int32&"},
		{&Pointer{Elem: Byte}, "System.Byte*"},
	}
	for _, tt := range tests {
		if got := tt.sig.FullName(); got != tt.want {
			t.Errorf("FullName = %q, want %q", got, tt.want)
		}
	}

	if got := f.writeLine.FullName(); got != "System.Void System.Console::WriteLine(System.String)" {
		t.Errorf("MemberRef.FullName = %q", got)
	}
	if got := f.main.FullName(); got != "System.Void App.Program::Main(System.String[])" {
		t.Errorf("MethodDef.FullName = %q", got)
	}
}

func TestGUIDRoundTrip(t *testing.T) {
	g := LanguageCSharp
	if g.String() != "3f5162f8-07c6-11d3-9053-00c04fa302a1" {
		t.Errorf("String = %s", g)
	}
	if g[0] != 0xf8 || g[3] != 0x3f {
		t.Errorf("on-disk layout = %x", g[:4])
	}
	if _, err := ParseGUID("not-a-guid"); err == nil {
		t.Error("expected parse error")
	}
}

func TestPublicKeyToken(t *testing.T) {
	token := []byte{0xb0, 0x3f, 0x5f, 0x7f, 0x11, 0xd5, 0x0a, 0x3a}
	if got := PublicKeyToken(token); string(got) != string(token) {
		t.Error("an 8-byte token should pass through")
	}
	if got := PublicKeyToken(make([]byte, 160)); len(got) != 8 {
		t.Errorf("token length = %d", len(got))
	}
}

func TestRename(t *testing.T) {
	f := newFixture(t)
	if err := f.asm.Rename("AppModified"); err != nil {
		t.Fatal(err)
	}
	if f.asm.Name != "AppModified" || f.mod.Name != "AppModified.dll" {
		t.Errorf("names = %q, %q", f.asm.Name, f.mod.Name)
	}
	if err := f.asm.Rename(""); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("empty name: %v", err)
	}
}
