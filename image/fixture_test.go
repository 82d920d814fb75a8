package image

import (
	"testing"

	"github.com/wippyai/clr-image/metadata"
)

var runtimeToken = []byte{0xb0, 0x3f, 0x5f, 0x7f, 0x11, 0xd5, 0x0a, 0x3a}

type fixture struct {
	mod       *metadata.Module
	program   *metadata.TypeDef
	main      *metadata.MethodDef
	console   *metadata.TypeRef
	writeLine *metadata.MemberRef
}

// newFixture builds a finalized console module printing one line.
func newFixture(t *testing.T, arch metadata.Architecture) *fixture {
	t.Helper()
	f := build(t, arch)
	if err := f.mod.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	return f
}

func build(t *testing.T, arch metadata.Architecture) *fixture {
	t.Helper()
	asm := metadata.NewAssembly("Hello", metadata.Version{Major: 1}, metadata.ModuleParameters{
		Kind:         metadata.KindConsole,
		Architecture: arch,
	})
	f := &fixture{mod: asm.MainModule()}

	if _, err := f.mod.AddAssemblyRef(&metadata.AssemblyRef{
		Name: "System.Runtime", Version: metadata.Version{Major: 8}, PublicKeyOrToken: runtimeToken,
	}); err != nil {
		t.Fatal(err)
	}
	consoleAsm, err := f.mod.AddAssemblyRef(&metadata.AssemblyRef{
		Name: "System.Console", Version: metadata.Version{Major: 8}, PublicKeyOrToken: runtimeToken,
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.console, err = f.mod.AddTypeRef(&metadata.TypeRef{Scope: consoleAsm, Namespace: "System", Name: "Console"}); err != nil {
		t.Fatal(err)
	}
	if f.writeLine, err = f.mod.AddMemberRef(&metadata.MemberRef{
		Parent: f.console, Name: "WriteLine",
		Method: &metadata.MethodSig{Return: metadata.Void, Params: []metadata.TypeSig{metadata.String}},
	}); err != nil {
		t.Fatal(err)
	}

	f.program = metadata.NewTypeDef("Hello", "Program", metadata.TypePublic, metadata.Object)
	if err := f.mod.AddType(f.program); err != nil {
		t.Fatal(err)
	}
	f.main = metadata.NewMethodDef("Main", metadata.MethodPublic|metadata.MethodStatic, metadata.Void)
	if err := f.program.AddMethod(f.main); err != nil {
		t.Fatal(err)
	}
	il := metadata.NewBuilder(f.main.Body)
	il.Emit(metadata.OpLdstr, "Hello World!")
	il.Emit(metadata.OpCall, f.writeLine)
	il.Emit(metadata.OpRet)
	if err := il.Err(); err != nil {
		t.Fatal(err)
	}
	if err := f.mod.SetEntryPoint(f.main); err != nil {
		t.Fatal(err)
	}
	return f
}

// addSum adds a static method with a local, a finally clause and a
// forward short branch.
func (f *fixture) addSum(t *testing.T) *metadata.MethodDef {
	t.Helper()
	sum := metadata.NewMethodDef("Sum", metadata.MethodPublic|metadata.MethodStatic, metadata.Int32)
	if err := f.program.AddMethod(sum); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b"} {
		if err := sum.AddParameter(metadata.NewParameter(name, metadata.ParamNone, metadata.Int32)); err != nil {
			t.Fatal(err)
		}
	}
	body := sum.Body
	body.AddVariable(metadata.Int32)
	body.InitLocals = true

	il := metadata.NewBuilder(body)
	il.Emit(metadata.OpLdarg0)
	il.Emit(metadata.OpLdarg1)
	il.Emit(metadata.OpAdd)
	il.Emit(metadata.OpStloc0)
	end := il.Label(metadata.OpLdloc0)
	try := il.Emit(metadata.OpNop)
	il.Emit(metadata.OpLeaveS, end)
	handler := il.Emit(metadata.OpEndfinally)
	il.Mark(end)
	il.Emit(metadata.OpRet)
	if err := il.Err(); err != nil {
		t.Fatal(err)
	}
	body.ExceptionHandlers = append(body.ExceptionHandlers, &metadata.ExceptionHandler{
		Kind:         metadata.HandlerFinally,
		TryStart:     try,
		TryEnd:       handler,
		HandlerStart: handler,
		HandlerEnd:   end,
	})
	return sum
}

func serialize(t *testing.T, m *metadata.Module, dbg *Debug) (*Metadata, []byte) {
	t.Helper()
	md, err := Build(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	data, err := md.Serialize(dbg)
	if err != nil {
		t.Fatal(err)
	}
	return md, data
}
