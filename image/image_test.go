package image

import (
	"bytes"
	"testing"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/internal/tables"
	"github.com/wippyai/clr-image/metadata"
)

func TestBuildTokens(t *testing.T) {
	f := newFixture(t, metadata.ArchI386)
	md, err := Build(f.mod, nil)
	if err != nil {
		t.Fatal(err)
	}
	tm := md.Tokens

	if got, _ := tm.Token(f.main); got != 0x06000001 {
		t.Errorf("Main token = %s", got)
	}
	if tm.EntryPoint != 0x06000001 {
		t.Errorf("entry point = %s", tm.EntryPoint)
	}
	if got, _ := tm.Token(f.program); got != 0x02000002 {
		t.Errorf("Program token = %s", got)
	}
	if got, _ := tm.Token(f.writeLine); got != 0x0A000001 {
		t.Errorf("WriteLine token = %s", got)
	}
	if tm.Rows[tables.TypeDef] != 2 || tm.Rows[tables.MethodDef] != 1 || tm.Rows[tables.AssemblyRef] != 2 {
		t.Errorf("rows: typedef %d, method %d, assemblyref %d",
			tm.Rows[tables.TypeDef], tm.Rows[tables.MethodDef], tm.Rows[tables.AssemblyRef])
	}
	// Console plus the Object reference Finalize adds for the base type.
	if tm.Rows[tables.TypeRef] != 2 {
		t.Errorf("typeref rows = %d, want 2", tm.Rows[tables.TypeRef])
	}
	if md.Mvid.IsZero() {
		t.Fatal("mvid should be derived from content")
	}
	if md.Mvid[7]>>4 != 4 || md.Mvid[8]&0xC0 != 0x80 {
		t.Errorf("mvid %s lacks version and variant bits", md.Mvid)
	}
	if md.ILRVA != 0x2050 {
		t.Errorf("IL RVA = 0x%x, want 0x2050", md.ILRVA)
	}
}

func TestBuildRequiresFinalized(t *testing.T) {
	f := build(t, metadata.ArchI386)
	_, err := Build(f.mod, nil)
	if !errors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("Build of populated module: %v", err)
	}
}

func TestBuildDroppedTables(t *testing.T) {
	f := newFixture(t, metadata.ArchI386)
	f.mod.DroppedTables = []string{"Property"}

	if _, err := Build(f.mod, nil); !errors.Is(err, errors.ErrUnsupported) {
		t.Fatalf("Build with dropped tables: %v", err)
	}
	if _, err := Build(f.mod, &BuildOptions{AllowDroppedTables: true}); err != nil {
		t.Fatalf("Build with AllowDroppedTables: %v", err)
	}
}

func TestDeterministicOutput(t *testing.T) {
	_, a := serialize(t, newFixture(t, metadata.ArchAMD64).mod, nil)
	_, b := serialize(t, newFixture(t, metadata.ArchAMD64).mod, nil)
	if !bytes.Equal(a, b) {
		t.Fatal("identical modules produced different images")
	}
}

func TestHeaders(t *testing.T) {
	tests := []struct {
		arch   metadata.Architecture
		kind   metadata.ModuleKind
		is64   bool
		clr    uint32
		chars  uint16
		subsys uint16
	}{
		{metadata.ArchI386, metadata.KindConsole, false, 0x2008, 0x22, 3},
		{metadata.ArchAMD64, metadata.KindConsole, true, 0x2000, 0x22, 3},
		{metadata.ArchAMD64, metadata.KindWindows, true, 0x2000, 0x22, 2},
		{metadata.ArchARM64, metadata.KindDll, true, 0x2000, 0x2022, 3},
	}
	for _, tt := range tests {
		t.Run(tt.arch.String()+"/"+tt.kind.String(), func(t *testing.T) {
			f := build(t, tt.arch)
			f.mod.Kind = tt.kind
			if tt.kind == metadata.KindDll {
				f.mod.EntryPoint = nil
			}
			if err := f.mod.Finalize(nil); err != nil {
				t.Fatal(err)
			}
			_, data := serialize(t, f.mod, nil)
			pe, err := parsePE(data)
			if err != nil {
				t.Fatal(err)
			}
			if pe.machine != tt.arch || pe.is64 != tt.is64 {
				t.Errorf("machine %s is64 %v", pe.machine, pe.is64)
			}
			if pe.chars != tt.chars {
				t.Errorf("characteristics = 0x%x, want 0x%x", pe.chars, tt.chars)
			}
			if pe.subsystem != tt.subsys {
				t.Errorf("subsystem = %d, want %d", pe.subsystem, tt.subsys)
			}
			if pe.dirs[dirCLR].rva != tt.clr || pe.dirs[dirCLR].size != cliHeaderSize {
				t.Errorf("CLI header at 0x%x size %d", pe.dirs[dirCLR].rva, pe.dirs[dirCLR].size)
			}
			hasImports := pe.dirs[dirImport].rva != 0
			if hasImports == tt.is64 {
				t.Errorf("import directory present = %v", hasImports)
			}
			if len(data)%fileAlignment != 0 {
				t.Errorf("file size %d is not aligned", len(data))
			}
		})
	}
}

func TestReadRoundTrip(t *testing.T) {
	f := build(t, metadata.ArchI386)
	f.addSum(t)
	if err := f.mod.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	_, first := serialize(t, f.mod, nil)

	img, err := Read(first)
	if err != nil {
		t.Fatal(err)
	}
	m := img.Module
	if m.State() != metadata.StatePopulated {
		t.Errorf("state = %s", m.State())
	}
	if m.Kind != metadata.KindConsole || m.Architecture != metadata.ArchI386 {
		t.Errorf("kind %s arch %s", m.Kind, m.Architecture)
	}
	if img.Assembly == nil || img.Assembly.Name != "Hello" {
		t.Fatalf("assembly = %+v", img.Assembly)
	}
	program, err := m.Type("Hello", "Program")
	if err != nil {
		t.Fatal(err)
	}
	if program.BaseType == nil || program.BaseType.FullName() != "System.Object" {
		t.Errorf("base type = %v", program.BaseType)
	}
	if m.EntryPoint == nil || m.EntryPoint.Name != "Main" {
		t.Fatalf("entry point = %v", m.EntryPoint)
	}

	main := m.EntryPoint.Body
	if len(main.Instructions) != 3 {
		t.Fatalf("Main has %d instructions", len(main.Instructions))
	}
	if s, ok := main.Instructions[0].Operand.(string); !ok || s != "Hello World!" {
		t.Errorf("ldstr operand = %v", main.Instructions[0].Operand)
	}
	if ref, ok := main.Instructions[1].Operand.(*metadata.MemberRef); !ok || ref.Name != "WriteLine" {
		t.Errorf("call operand = %v", main.Instructions[1].Operand)
	}

	sum, err := program.Method("Sum")
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Parameters) != 2 || sum.Parameters[1].Name != "b" || sum.Parameters[1].Sequence() != 2 {
		t.Errorf("parameters = %v", sum.Parameters)
	}
	body := sum.Body
	if len(body.Variables) != 1 || body.Variables[0].Type != metadata.Int32 || !body.InitLocals {
		t.Errorf("locals = %v init %v", body.Variables, body.InitLocals)
	}
	if len(body.ExceptionHandlers) != 1 {
		t.Fatalf("%d exception handlers", len(body.ExceptionHandlers))
	}
	eh := body.ExceptionHandlers[0]
	if eh.Kind != metadata.HandlerFinally || eh.TryStart.Op != metadata.OpNop || eh.HandlerStart.Op != metadata.OpEndfinally {
		t.Errorf("handler = %+v", eh)
	}
	leave := body.Instructions[5]
	if target, ok := leave.Operand.(*metadata.Instruction); !ok || target != eh.HandlerEnd {
		t.Errorf("leave.s target = %v, handler end %v", leave.Operand, eh.HandlerEnd)
	}

	if err := m.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	_, second := serialize(t, m, nil)
	if !bytes.Equal(first, second) {
		t.Fatalf("re-encoded image differs: %d vs %d bytes", len(first), len(second))
	}
}

func TestReadDebugDirectory(t *testing.T) {
	f := newFixture(t, metadata.ArchAMD64)
	symbols := bytes.Repeat([]byte("BSJB portable pdb "), 40)
	cv := &CodeView{
		GUID:  metadata.MustParseGUID("6f2b0c3e-41aa-4f5b-9a47-2d1e3c4b5a69"),
		Stamp: 0x9a47d1e3,
		Age:   1,
		Path:  "Hello.pdb",
	}
	_, data := serialize(t, f.mod, &Debug{CodeView: cv, EmbeddedSymbols: symbols})

	img, err := Read(data)
	if err != nil {
		t.Fatal(err)
	}
	if img.Stamp != cv.Stamp {
		t.Errorf("stamp = 0x%x", img.Stamp)
	}
	if img.Debug == nil || img.Debug.CodeView == nil {
		t.Fatal("debug directory missing")
	}
	if got := *img.Debug.CodeView; got != *cv {
		t.Errorf("CodeView = %+v", got)
	}
	if !bytes.Equal(img.Debug.EmbeddedSymbols, symbols) {
		t.Error("embedded symbols differ")
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("MZ"), bytes.Repeat([]byte{0}, 512)} {
		if _, err := Read(data); !errors.Is(err, errors.ErrInvalidData) {
			t.Errorf("Read(%d bytes): %v", len(data), err)
		}
	}
}

// corrupt rewrites one column of a built image's table stream.
func corrupt(t *testing.T, md *Metadata, table tables.ID, row uint32, col int, value uint32) []byte {
	t.Helper()
	root, err := tables.DecodeRoot(md.Root)
	if err != nil {
		t.Fatal(err)
	}
	st, err := tables.DecodeStream(root.TableStream(), [tables.MaxTables]uint32{})
	if err != nil {
		t.Fatal(err)
	}
	st.Row(table, row)[col] = value
	tbl, err := st.Encode()
	if err != nil {
		t.Fatal(err)
	}
	for i := range root.Streams {
		if root.Streams[i].Name == tables.StreamTables {
			root.Streams[i].Data = tbl
		}
	}
	md.Root = tables.EncodeRoot(root.Version, root.Streams)
	data, err := md.Serialize(nil)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestReadRejectsListPastTable(t *testing.T) {
	tests := []struct {
		name  string
		table tables.ID
		row   uint32
		col   int
	}{
		{"field list", tables.TypeDef, 2, 4},
		{"method list", tables.TypeDef, 2, 5},
		{"param list", tables.MethodDef, 2, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := build(t, metadata.ArchI386)
			f.addSum(t)
			if err := f.mod.Finalize(nil); err != nil {
				t.Fatal(err)
			}
			md, err := Build(f.mod, nil)
			if err != nil {
				t.Fatal(err)
			}
			data := corrupt(t, md, tt.table, tt.row, tt.col, 40)
			if _, err := Read(data); !errors.Is(err, errors.ErrInvalidData) {
				t.Errorf("Read: %v, want invalid data", err)
			}
		})
	}
}
