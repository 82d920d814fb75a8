package refpack_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/refpack"
	"github.com/wippyai/clr-image/testbed"
)

func TestInstalledVersionsSorted(t *testing.T) {
	root := t.TempDir()
	for _, v := range []string{"3.1.0", "10.0.1", "5.0.0", "3.1.10", "not-a-version"} {
		require.NoError(t, os.MkdirAll(filepath.Join(refpack.PackDir(root, refpack.CorePack), v), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(refpack.PackDir(root, refpack.CorePack), "README"), nil, 0o644))

	versions, err := refpack.InstalledVersions(root, refpack.CorePack)
	require.NoError(t, err)
	var got []string
	for _, v := range versions {
		got = append(got, v.Original())
	}
	require.Equal(t, []string{"3.1.0", "3.1.10", "5.0.0", "10.0.1"}, got)

	latest, err := refpack.Latest(root, refpack.CorePack)
	require.NoError(t, err)
	require.Equal(t, "10.0.1", latest)
}

func TestMissingPackIsNotFound(t *testing.T) {
	root := t.TempDir()
	_, err := refpack.InstalledVersions(root, refpack.StandardPack)
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)

	require.NoError(t, os.MkdirAll(refpack.PackDir(root, refpack.CorePack), 0o755))
	_, err = refpack.Latest(root, refpack.CorePack)
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)

	_, err = refpack.New(root, refpack.CorePack, "3.1.0")
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)
}

func TestLocatorLoadsAssemblies(t *testing.T) {
	root := t.TempDir()
	_, err := testbed.WritePack(root, testbed.PackVersion)
	require.NoError(t, err)

	loc, err := refpack.New(root, refpack.CorePack, "")
	require.NoError(t, err)
	require.Equal(t, testbed.PackVersion, loc.Version)
	require.Len(t, loc.List.Files, 2)

	path, err := loc.Path("system.console")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(loc.Dir, "ref", "netcoreapp3.1", "System.Console.dll"), path)

	console, err := loc.LoadAssembly("System.Console")
	require.NoError(t, err)
	require.Equal(t, "System.Console", console.Name)
	typ, err := console.MainModule().Type("System", "Console")
	require.NoError(t, err)
	require.Len(t, typ.MethodsNamed("WriteLine"), 5)

	again, err := loc.LoadAssembly("System.Console")
	require.NoError(t, err)
	require.Same(t, console, again)

	_, err = loc.Path("System.Private.CoreLib")
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)
	_, err = loc.LoadAssembly("System.Private.CoreLib")
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)
}

func TestFrameworkList(t *testing.T) {
	data := []byte(`<?xml version="1.0" encoding="utf-8"?>
<FileList TargetFrameworkIdentifier=".NETCoreApp" TargetFrameworkVersion="3.1" FrameworkName="Microsoft.NETCore.App" Name=".NET Core 3.1">
  <File Type="Analyzer" Path="analyzers/dotnet/cs/System.Text.Json.SourceGeneration.dll" AssemblyName="System.Text.Json.SourceGeneration" />
  <File Type="Managed" Path="ref\netcoreapp3.1\System.Runtime.dll" AssemblyName="System.Runtime" PublicKeyToken="b03f5f7f11d50a3a" AssemblyVersion="4.2.2.0" FileVersion="4.700.19.56404" />
</FileList>`)
	fl, err := refpack.ParseFrameworkList(data)
	require.NoError(t, err)
	require.Equal(t, ".NETCoreApp", fl.TargetFrameworkIdentifier)
	require.Len(t, fl.Files, 2)

	f, ok := fl.Find("SYSTEM.RUNTIME")
	require.True(t, ok)
	require.Equal(t, "4.2.2.0", f.AssemblyVersion)

	_, ok = fl.Find("System.Console")
	require.False(t, ok)

	out, err := fl.Encode()
	require.NoError(t, err)
	back, err := refpack.ParseFrameworkList(out)
	require.NoError(t, err)
	require.Equal(t, fl.Files, back.Files)

	_, err = refpack.ParseFrameworkList([]byte("<FileList"))
	require.True(t, errors.Is(err, errors.ErrInvalidData), "err = %v", err)
}

func TestBackslashPathsInList(t *testing.T) {
	dir := t.TempDir()
	list := &refpack.FrameworkList{Files: []refpack.File{{Path: `ref\netcoreapp3.1\System.Runtime.dll`, AssemblyName: "System.Runtime"}}}
	data, err := list.Encode()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "FrameworkList.xml"), data, 0o644))

	loc, err := refpack.Open(dir)
	require.NoError(t, err)
	path, err := loc.Path("System.Runtime")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "ref", "netcoreapp3.1", "System.Runtime.dll"), path)
}

func TestParseSDKList(t *testing.T) {
	sdks, err := refpack.ParseSDKList("3.1.100 [/usr/share/dotnet/sdk]\n\n5.0.403 [/usr/share/dotnet/sdk]\n")
	require.NoError(t, err)
	require.Len(t, sdks, 2)
	require.Equal(t, "5.0.403", sdks[1].Version.Original())
	require.Equal(t, filepath.Join("/usr/share/dotnet/sdk", "3.1.100"), sdks[0].Path())

	_, err = refpack.ParseSDKList("3.1.100 /usr/share/dotnet/sdk")
	require.True(t, errors.Is(err, errors.ErrInvalidData), "err = %v", err)
}

// fakeHost answers dotnet probes from a table.
func fakeHost(outputs map[string]string) *refpack.Host {
	return &refpack.Host{
		Tool: "dotnet",
		Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			out, ok := outputs[strings.Join(args, " ")]
			if !ok {
				return nil, fmt.Errorf("%s: unknown arguments %v", name, args)
			}
			return []byte(out), nil
		},
	}
}

func TestHostProbe(t *testing.T) {
	ctx := context.Background()
	h := fakeHost(map[string]string{
		"--list-sdks": "3.1.100 [/opt/dotnet/sdk]\n5.0.403 [/opt/dotnet/sdk]\n",
		"--version":   "5.0.403\n",
	})

	v, err := h.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, "5.0.403", v)

	p, err := h.CurrentSDKPath(ctx)
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/opt/dotnet/sdk", "5.0.403"), p)

	root, err := h.Root(ctx)
	require.NoError(t, err)
	require.Equal(t, filepath.Clean("/opt/dotnet"), root)

	p, err = h.SDKPath(ctx, "3.1")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/opt/dotnet/sdk", "3.1.100"), p)

	_, err = h.SDKPath(ctx, "7.0")
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)
}

func TestHostProbeFailure(t *testing.T) {
	h := fakeHost(nil)
	_, err := h.SDKs(context.Background())
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)
	require.Equal(t, errors.PhaseLocate, mustError(t, err).Phase)
}

func mustError(t *testing.T, err error) *errors.Error {
	t.Helper()
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	return e
}

func TestHostDefaultRoot(t *testing.T) {
	ctx := context.Background()
	h := fakeHost(map[string]string{
		"--list-sdks": "5.0.403 [/opt/dotnet/sdk]\n",
		"--version":   "5.0.403\n",
	})

	t.Setenv("DOTNET_ROOT", "/env/dotnet")
	require.Equal(t, "/env/dotnet", h.DefaultRoot(ctx))

	t.Setenv("DOTNET_ROOT", "")
	require.Equal(t, filepath.Clean("/opt/dotnet"), h.DefaultRoot(ctx))

	fallback := fakeHost(nil).DefaultRoot(ctx)
	require.NotEmpty(t, fallback)
	require.NotEqual(t, filepath.Clean("/opt/dotnet"), fallback)
}
