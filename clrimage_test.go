package clrimage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/metadata"
)

func helloAssembly(t *testing.T, message string) *metadata.Assembly {
	t.Helper()
	asm := metadata.NewAssembly("Hello", metadata.Version{Major: 1}, metadata.ModuleParameters{Kind: metadata.KindConsole})
	m := asm.MainModule()
	if _, err := m.AddAssemblyRef(&metadata.AssemblyRef{Name: "System.Runtime", Version: metadata.Version{Major: 8}}); err != nil {
		t.Fatal(err)
	}
	consoleAsm, err := m.AddAssemblyRef(&metadata.AssemblyRef{Name: "System.Console", Version: metadata.Version{Major: 8}})
	if err != nil {
		t.Fatal(err)
	}
	console, err := m.AddTypeRef(&metadata.TypeRef{Scope: consoleAsm, Namespace: "System", Name: "Console"})
	if err != nil {
		t.Fatal(err)
	}
	writeLine, err := m.AddMemberRef(&metadata.MemberRef{
		Parent: console, Name: "WriteLine",
		Method: &metadata.MethodSig{Return: metadata.Void, Params: []metadata.TypeSig{metadata.String}},
	})
	if err != nil {
		t.Fatal(err)
	}
	program := metadata.NewTypeDef("Hello", "Program", metadata.TypePublic, metadata.Object)
	if err := m.AddType(program); err != nil {
		t.Fatal(err)
	}
	main := metadata.NewMethodDef("Main", metadata.MethodPublic|metadata.MethodStatic, metadata.Void)
	if err := program.AddMethod(main); err != nil {
		t.Fatal(err)
	}
	il := metadata.NewBuilder(main.Body)
	il.Emit(metadata.OpLdstr, message)
	call := il.Emit(metadata.OpCall, writeLine)
	il.Emit(metadata.OpRet)
	if err := il.Err(); err != nil {
		t.Fatal(err)
	}
	doc, err := m.AddDocument(metadata.NewDocument("Program.cs"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := main.DebugInfo.AddSequencePoint(call, doc, 6, 13, 6, 46); err != nil {
		t.Fatal(err)
	}
	if err := m.SetEntryPoint(main); err != nil {
		t.Fatal(err)
	}
	return asm
}

func TestEncodeDecode(t *testing.T) {
	asm := helloAssembly(t, "Hello World!")
	img, symbols, err := Encode(asm, nil)
	if err != nil {
		t.Fatal(err)
	}
	if asm.MainModule().State() != metadata.StateWritten || asm.MainModule().Mvid.IsZero() {
		t.Errorf("state %s mvid %s", asm.MainModule().State(), asm.MainModule().Mvid)
	}

	read, err := Decode(img, symbols)
	if err != nil {
		t.Fatal(err)
	}
	m := read.MainModule()
	if m.Mvid != asm.MainModule().Mvid {
		t.Errorf("mvid %s, want %s", m.Mvid, asm.MainModule().Mvid)
	}
	if sps := m.EntryPoint.DebugInfo.SequencePoints; len(sps) != 1 || sps[0].Instruction.Op != metadata.OpCall {
		t.Errorf("sequence points = %v", sps)
	}

	img2, symbols2, err := Encode(read, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(img, img2) || !bytes.Equal(symbols, symbols2) {
		t.Error("read-write cycle changed the output")
	}
}

func TestEncodeWrittenModule(t *testing.T) {
	asm := helloAssembly(t, "Hello World!")
	if _, _, err := Encode(asm, nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Encode(asm, nil); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("second Encode: %v", err)
	}
}

func TestEmbeddedSymbols(t *testing.T) {
	img, _, err := Encode(helloAssembly(t, "Hello World!"), &Options{EmbedSymbols: true})
	if err != nil {
		t.Fatal(err)
	}
	read, err := Decode(img, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(read.MainModule().Documents) != 1 {
		t.Error("embedded symbols were not decoded")
	}
}

func TestSymbolsOfAnotherImage(t *testing.T) {
	img, _, err := Encode(helloAssembly(t, "Hello World!"), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, other, err := Encode(helloAssembly(t, "Hello Modified World!"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(img, other); !errors.Is(err, errors.ErrSymbolMismatch) {
		t.Errorf("Decode with foreign symbols: %v", err)
	}
}

func TestUnresolvedReferenceWritesNothing(t *testing.T) {
	asm := helloAssembly(t, "Hello World!")
	m := asm.MainModule()
	orphan := &metadata.MemberRef{
		Parent: &metadata.TypeRef{Namespace: "System", Name: "Missing"},
		Name:   "Call",
		Method: &metadata.MethodSig{Return: metadata.Void},
	}
	main := m.EntryPoint
	extra := metadata.NewMethodDef("Other", metadata.MethodPublic|metadata.MethodStatic, metadata.Void)
	if err := main.DeclaringType.AddMethod(extra); err != nil {
		t.Fatal(err)
	}
	il := metadata.NewBuilder(extra.Body)
	il.Emit(metadata.OpCall, orphan)
	il.Emit(metadata.OpRet)
	if err := il.Err(); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	imagePath, symbolsPath := filepath.Join(dir, "Hello.dll"), filepath.Join(dir, "Hello.pdb")
	err := WriteFiles(asm, imagePath, symbolsPath, nil)
	if !errors.Is(err, errors.ErrUnresolvedReference) {
		t.Fatalf("WriteFiles: %v", err)
	}
	for _, p := range []string{imagePath, symbolsPath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should not exist", p)
		}
	}
}

func TestWriteReadFiles(t *testing.T) {
	dir := t.TempDir()
	imagePath, symbolsPath := filepath.Join(dir, "Hello.dll"), filepath.Join(dir, "Hello.pdb")
	if err := WriteFiles(helloAssembly(t, "Hello World!"), imagePath, symbolsPath, nil); err != nil {
		t.Fatal(err)
	}
	asm, err := ReadFiles(imagePath, symbolsPath)
	if err != nil {
		t.Fatal(err)
	}
	if asm.Name != "Hello" || asm.MainModule().EntryPoint == nil {
		t.Errorf("read %s", asm.FullName())
	}

	if _, err := ReadFiles(filepath.Join(dir, "missing.dll"), ""); !errors.Is(err, errors.ErrReadIO) {
		t.Errorf("missing image: %v", err)
	}
	if err := WriteFiles(helloAssembly(t, "x"), filepath.Join(dir, "no", "such", "dir.dll"), "", nil); !errors.Is(err, errors.ErrWriteIO) {
		t.Errorf("unwritable path: %v", err)
	}
}
