package scenario_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/clr-image"
	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/metadata"
	"github.com/wippyai/clr-image/resolve"
	"github.com/wippyai/clr-image/runtimeconfig"
	"github.com/wippyai/clr-image/scenario"
	"github.com/wippyai/clr-image/testbed"
)

func testConfig(t *testing.T) *scenario.Config {
	t.Helper()
	root := t.TempDir()
	_, err := testbed.WritePack(root, testbed.PackVersion)
	require.NoError(t, err)

	cfg := scenario.DefaultConfig()
	cfg.Pack.Root = root
	cfg.OutputDir = t.TempDir()
	return cfg
}

func ldstr(t *testing.T, md *metadata.MethodDef) string {
	t.Helper()
	for _, ins := range md.Body.Instructions {
		if ins.Op == metadata.OpLdstr {
			s, ok := ins.Operand.(string)
			require.True(t, ok)
			return s
		}
	}
	t.Fatalf("%s loads no string", md.FullName())
	return ""
}

func requireContractRefsOnly(t *testing.T, mod *metadata.Module) {
	t.Helper()
	var names []string
	for _, r := range mod.AssemblyRefs {
		lower := strings.ToLower(r.Name)
		require.False(t, strings.HasPrefix(lower, "system.private.corelib"), "references %s", r.Name)
		require.False(t, strings.HasPrefix(lower, "mscorlib"), "references %s", r.Name)
		names = append(names, r.Name)
	}
	require.ElementsMatch(t, []string{"System.Runtime", "System.Console"}, names)
}

func TestNewAssemblyModel(t *testing.T) {
	loader, err := testbed.Loader()
	require.NoError(t, err)

	asm, err := scenario.NewAssembly(scenario.DefaultConfig(), loader)
	require.NoError(t, err)
	mod := asm.MainModule()

	require.Equal(t, "NewAssembly", asm.Name)
	require.Equal(t, "NewAssembly.dll", mod.Name)
	require.Equal(t, "System.Runtime", mod.AssemblyRefs[0].Name, "core library is referenced first")
	requireContractRefsOnly(t, mod)

	program, err := mod.Type("NewAssembly", "Program")
	require.NoError(t, err)
	require.Len(t, program.Constructors(), 1)
	main, err := program.Method("Main")
	require.NoError(t, err)
	require.Same(t, main, mod.EntryPoint)
	require.Equal(t, "Hello World!", ldstr(t, main))
	require.Equal(t, "System.Void NewAssembly.Program::Main(System.String[])", main.FullName())

	require.Len(t, asm.CustomAttributes, 3)
	var ctors []string
	for _, ca := range asm.CustomAttributes {
		ctors = append(ctors, ca.Constructor.FullName())
	}
	require.Equal(t, []string{
		"System.Void System.Runtime.CompilerServices.RuntimeCompatibilityAttribute::.ctor()",
		"System.Void System.Diagnostics.DebuggableAttribute::.ctor(System.Diagnostics.DebuggableAttribute/DebuggingModes)",
		"System.Void System.Runtime.Versioning.TargetFrameworkAttribute::.ctor(System.String)",
	}, ctors)
	require.Equal(t, int32(259), asm.CustomAttributes[1].Args[0].Value)

	scope := main.DebugInfo.Scope
	require.NotNil(t, scope)
	require.Same(t, main.Body.Instructions[0], scope.Start)
	chain := mod.ImportScopes.Chain(scope.Import)
	require.Len(t, chain, 3)
	file, ok := mod.ImportScopes.Get(chain[1])
	require.True(t, ok)
	require.Equal(t, []metadata.ImportTarget{{Kind: metadata.ImportNamespace, Namespace: "System"}}, file.Targets)

	require.Len(t, main.DebugInfo.SequencePoints, 1)
	sp := main.DebugInfo.SequencePoints[0]
	require.Equal(t, metadata.OpCall, sp.Instruction.Op)
	require.Equal(t, [4]int{6, 13, 6, 46}, [4]int{sp.StartLine, sp.StartColumn, sp.EndLine, sp.EndColumn})
}

func TestNewAssemblyWithoutConsole(t *testing.T) {
	runtime, err := testbed.RuntimeAssembly()
	require.NoError(t, err)
	loader := resolve.LoaderFunc(func(name string) (*metadata.Assembly, error) {
		if name == runtime.Name {
			return runtime, nil
		}
		return nil, errors.NotFound(errors.PhaseLocate, "reference assembly", name)
	})

	asm, err := scenario.NewAssembly(scenario.DefaultConfig(), loader)
	require.Nil(t, asm)
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)
}

func TestWriteNewThenModify(t *testing.T) {
	cfg := testConfig(t)
	loc, err := scenario.Loader(cfg)
	require.NoError(t, err)

	created, err := scenario.WriteNew(cfg, loc)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.OutputDir, "NewAssembly.dll"), created.Image)
	require.Equal(t, filepath.Join(cfg.OutputDir, "NewAssembly.pdb"), created.Symbols)
	require.Equal(t, metadata.StateWritten, created.Assembly.MainModule().State())

	rc, err := os.ReadFile(created.RuntimeConfig)
	require.NoError(t, err)
	want, err := runtimeconfig.Default().Encode()
	require.NoError(t, err)
	require.Equal(t, string(want), string(rc))

	source, err := clrimage.ReadFiles(created.Image, created.Symbols)
	require.NoError(t, err)
	srcProgram, err := source.MainModule().Type("NewAssembly", "Program")
	require.NoError(t, err)
	srcMain, err := srcProgram.Method("Main")
	require.NoError(t, err)
	require.NotNil(t, srcMain.DebugInfo.Scope)
	srcImports := srcMain.DebugInfo.Scope.Import
	require.NotZero(t, srcImports)

	cfg.Modify.Image = created.Image
	modified, err := scenario.Modify(cfg, loc)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.OutputDir, "Modified.dll"), modified.Image)

	got, err := clrimage.ReadFiles(modified.Image, modified.Symbols)
	require.NoError(t, err)
	mod := got.MainModule()
	require.Equal(t, "Modified", got.Name)
	require.Equal(t, metadata.Version{Major: 1}, got.Version)
	require.Equal(t, "Modified.dll", mod.Name)
	requireContractRefsOnly(t, mod)

	added, err := mod.Type("NewAssembly", "ProgramModified")
	require.NoError(t, err)
	require.Len(t, added.Constructors(), 1)
	main, err := added.Method("MainModified")
	require.NoError(t, err)
	require.NotNil(t, mod.EntryPoint)
	require.Equal(t, main.FullName(), mod.EntryPoint.FullName())
	require.Equal(t, "Hello Modified World!", ldstr(t, main))

	require.NotNil(t, main.DebugInfo.Scope)
	require.Equal(t, srcImports, main.DebugInfo.Scope.Import)
	require.Len(t, main.DebugInfo.SequencePoints, 1)
	sp := main.DebugInfo.SequencePoints[0]
	require.Equal(t, metadata.OpCall, sp.Instruction.Op)
	require.Equal(t, "Program.cs", sp.Document.Name)
	require.Len(t, mod.Documents, 1, "the source document is shared")

	// The old program survives untouched.
	old, err := mod.Type("NewAssembly", "Program")
	require.NoError(t, err)
	oldMain, err := old.Method("Main")
	require.NoError(t, err)
	require.Equal(t, "Hello World!", ldstr(t, oldMain))

	copied, err := os.ReadFile(modified.RuntimeConfig)
	require.NoError(t, err)
	require.Equal(t, string(rc), string(copied))

	// One WriteLine(String) reference, reused by both programs.
	var writeLines int
	for _, r := range mod.MemberRefs {
		if r.Name == "WriteLine" {
			writeLines++
		}
	}
	require.Equal(t, 1, writeLines)
}

func TestModifyWritesTemplateWithoutSourceConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.FrameworkVersion = "3.1.10"
	loc, err := scenario.Loader(cfg)
	require.NoError(t, err)

	created, err := scenario.WriteNew(cfg, loc)
	require.NoError(t, err)
	require.NoError(t, os.Remove(created.RuntimeConfig))

	cfg.Modify.Image = created.Image
	cfg.Modify.Type = "Second"
	cfg.Modify.Method = "Run"
	cfg.Modify.Namespace = "Other"
	modified, err := scenario.Modify(cfg, loc)
	require.NoError(t, err)

	rc, err := runtimeconfig.Read(modified.RuntimeConfig)
	require.NoError(t, err)
	require.Equal(t, "3.1.10", rc.RuntimeOptions.Framework.Version)

	_, err = modified.Assembly.MainModule().Type("Other", "Second")
	require.NoError(t, err)
	require.Equal(t, "Run", modified.Assembly.MainModule().EntryPoint.Name)
}

func TestModifyMissingSource(t *testing.T) {
	cfg := testConfig(t)
	loc, err := scenario.Loader(cfg)
	require.NoError(t, err)

	cfg.Modify.Image = filepath.Join(cfg.OutputDir, "Missing.dll")
	_, err = scenario.Modify(cfg, loc)
	require.True(t, errors.Is(err, errors.ErrReadIO), "err = %v", err)
	_, statErr := os.Stat(filepath.Join(cfg.OutputDir, "Modified.dll"))
	require.True(t, os.IsNotExist(statErr))

	cfg.Modify.Image = ""
	_, err = scenario.Modify(cfg, loc)
	require.True(t, errors.Is(err, errors.ErrInvalidInput), "err = %v", err)
}

func TestModifyUnknownImportDonor(t *testing.T) {
	loader, err := testbed.Loader()
	require.NoError(t, err)
	cfg := scenario.DefaultConfig()
	asm, err := scenario.NewAssembly(cfg, loader)
	require.NoError(t, err)

	cfg.Modify.ImportsFrom = "NewAssembly.Nope"
	err = scenario.ModifyAssembly(cfg, asm, loader)
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)
	require.Equal(t, "NewAssembly", asm.Name, "failed modification must not rename")
}

func TestRuntimeFollowsPackVersion(t *testing.T) {
	tests := []struct {
		name      string
		pack      string
		tfm       string
		framework string
		explicit  bool
		target    string
	}{
		{"netcoreapp3.1 pack", "3.1.0", "netcoreapp3.1", "3.1.0", false, ".NETCoreApp,Version=v3.1"},
		{"net5 pack", "5.0.0", "net5.0", "5.0.0", false, ".NETCoreApp,Version=v5.0"},
		{"net8 servicing pack", "8.0.11", "net8.0", "8.0.0", false, ".NETCoreApp,Version=v8.0"},
		{"explicit runtime wins", "8.0.11", "netcoreapp3.1", "3.1.10", true, ".NETCoreApp,Version=v8.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			_, err := testbed.WritePack(root, tt.pack)
			require.NoError(t, err)
			cfg := scenario.DefaultConfig()
			cfg.Pack.Root = root
			cfg.OutputDir = t.TempDir()
			if tt.explicit {
				cfg.Runtime.TFM = tt.tfm
				cfg.Runtime.FrameworkVersion = tt.framework
			}

			loc, err := scenario.Loader(cfg)
			require.NoError(t, err)
			require.Equal(t, tt.pack, loc.Version)
			require.Equal(t, tt.target, cfg.TargetFramework)

			res, err := scenario.WriteNew(cfg, loc)
			require.NoError(t, err)
			rc, err := runtimeconfig.Read(res.RuntimeConfig)
			require.NoError(t, err)
			require.Equal(t, tt.tfm, rc.RuntimeOptions.TFM)
			require.Equal(t, tt.framework, rc.RuntimeOptions.Framework.Version)
		})
	}
}

func TestModifyRetargetsSourceConfig(t *testing.T) {
	cfg := testConfig(t)
	loc, err := scenario.Loader(cfg)
	require.NoError(t, err)
	created, err := scenario.WriteNew(cfg, loc)
	require.NoError(t, err)

	// The source runs on 3.1 and carries a host setting to keep.
	source := runtimeconfig.Default()
	source.RuntimeOptions.ConfigProperties = map[string]any{"System.GC.Server": true}
	require.NoError(t, runtimeconfig.Write(created.RuntimeConfig, source))

	root := t.TempDir()
	_, err = testbed.WritePack(root, "6.0.5")
	require.NoError(t, err)
	next := scenario.DefaultConfig()
	next.Pack.Root = root
	next.OutputDir = t.TempDir()
	next.Modify.Image = created.Image
	newer, err := scenario.Loader(next)
	require.NoError(t, err)

	modified, err := scenario.Modify(next, newer)
	require.NoError(t, err)
	rc, err := runtimeconfig.Read(modified.RuntimeConfig)
	require.NoError(t, err)
	require.Equal(t, "net6.0", rc.RuntimeOptions.TFM)
	require.Equal(t, "6.0.0", rc.RuntimeOptions.Framework.Version)
	require.Equal(t, true, rc.RuntimeOptions.ConfigProperties["System.GC.Server"])
}

func TestInvalidFrameworkVersion(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.FrameworkVersion = "three"
	loc, err := scenario.Loader(cfg)
	require.NoError(t, err)
	_, err = scenario.WriteNew(cfg, loc)
	require.True(t, errors.Is(err, errors.ErrInvalidInput), "err = %v", err)
}
