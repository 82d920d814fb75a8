package runtimeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/clr-image/errors"
)

const template = `{
  "runtimeOptions": {
    "tfm": "netcoreapp3.1",
    "framework": {
      "name": "Microsoft.NETCore.App",
      "version": "3.1.0"
    }
  }
}
`

func TestDefaultMatchesTemplate(t *testing.T) {
	data, err := Default().Encode()
	require.NoError(t, err)
	require.Equal(t, template, string(data))
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(template))
	require.NoError(t, err)
	require.Equal(t, "netcoreapp3.1", c.RuntimeOptions.TFM)
	require.Equal(t, "Microsoft.NETCore.App", c.RuntimeOptions.Framework.Name)

	v, err := c.FrameworkVersion()
	require.NoError(t, err)
	require.Equal(t, uint64(3), v.Major())
	require.Equal(t, uint64(1), v.Minor())
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "runtimeOptions"},
		{"no framework", `{"runtimeOptions": {"tfm": "net5.0"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.True(t, errors.Is(err, errors.ErrInvalidData), "err = %v", err)
		})
	}
}

func TestFrameworksList(t *testing.T) {
	c, err := Parse([]byte(`{"runtimeOptions": {"tfm": "net6.0", "frameworks": [
		{"name": "Microsoft.NETCore.App", "version": "6.0.0"},
		{"name": "Microsoft.AspNetCore.App", "version": "6.0.0"}]}}`))
	require.NoError(t, err)
	v, err := c.FrameworkVersion()
	require.NoError(t, err)
	require.Equal(t, "6.0.0", v.String())
}

func TestPathFor(t *testing.T) {
	require.Equal(t, "out/Hello.runtimeconfig.json", PathFor("out/Hello.dll"))
	require.Equal(t, "Modified.runtimeconfig.json", PathFor("Modified.dll"))
	require.Equal(t, "app.runtimeconfig.json", PathFor("app"))
}

func TestCopyIsVerbatim(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Subject.runtimeconfig.json")
	dst := filepath.Join(dir, "Modified.runtimeconfig.json")
	original := `{"runtimeOptions":{"tfm":"netcoreapp3.1","framework":{"name":"Microsoft.NETCore.App","version":"3.1.0"},"configProperties":{"System.GC.Server":true}}}`
	require.NoError(t, os.WriteFile(src, []byte(original), 0o644))

	require.NoError(t, Copy(src, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, original, string(got))
}

func TestCopyMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := Copy(filepath.Join(dir, "missing.json"), filepath.Join(dir, "out.json"))
	require.True(t, errors.Is(err, errors.ErrReadIO), "err = %v", err)
	_, statErr := os.Stat(filepath.Join(dir, "out.json"))
	require.True(t, os.IsNotExist(statErr))
}

func TestAdapt(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.runtimeconfig.json")
	dst := filepath.Join(dir, "b.runtimeconfig.json")
	require.NoError(t, Write(src, Default()))

	require.NoError(t, Adapt(src, dst, func(c *Config) {
		c.RuntimeOptions.RollForward = "Major"
	}))
	c, err := Read(dst)
	require.NoError(t, err)
	require.Equal(t, "Major", c.RuntimeOptions.RollForward)
	require.Equal(t, DefaultFrameworkVersion, c.RuntimeOptions.Framework.Version)
}

func TestForVersion(t *testing.T) {
	tests := []struct {
		pack      string
		tfm       string
		framework string
		target    string
	}{
		{"3.1.0", "netcoreapp3.1", "3.1.0", ".NETCoreApp,Version=v3.1"},
		{"3.1.10", "netcoreapp3.1", "3.1.0", ".NETCoreApp,Version=v3.1"},
		{"5.0.0", "net5.0", "5.0.0", ".NETCoreApp,Version=v5.0"},
		{"8.0.11", "net8.0", "8.0.0", ".NETCoreApp,Version=v8.0"},
		{"9.0.0-rc.2", "net9.0", "9.0.0", ".NETCoreApp,Version=v9.0"},
	}
	for _, tt := range tests {
		t.Run(tt.pack, func(t *testing.T) {
			v := semver.MustParse(tt.pack)
			c := ForVersion(v)
			require.Equal(t, tt.tfm, c.RuntimeOptions.TFM)
			require.Equal(t, tt.framework, c.RuntimeOptions.Framework.Version)
			require.Equal(t, tt.target, TargetFramework(v))

			same, err := c.SameFramework(v)
			require.NoError(t, err)
			require.True(t, same)
		})
	}
}

func TestRetarget(t *testing.T) {
	c := Default()
	c.RuntimeOptions.ConfigProperties = map[string]any{"System.GC.Server": true}
	same, err := c.SameFramework(semver.MustParse("5.0.0"))
	require.NoError(t, err)
	require.False(t, same)

	c.Retarget("net5.0", "5.0.0")
	require.Equal(t, "net5.0", c.RuntimeOptions.TFM)
	require.Equal(t, "5.0.0", c.RuntimeOptions.Framework.Version)
	require.Equal(t, true, c.RuntimeOptions.ConfigProperties["System.GC.Server"])

	list, err := Parse([]byte(`{"runtimeOptions": {"frameworks": [
		{"name": "Microsoft.NETCore.App", "version": "6.0.0"},
		{"name": "Microsoft.AspNetCore.App", "version": "6.0.0"}]}}`))
	require.NoError(t, err)
	list.Retarget("net8.0", "8.0.0")
	require.Nil(t, list.RuntimeOptions.Framework)
	require.Equal(t, "8.0.0", list.RuntimeOptions.Frameworks[0].Version)
	require.Equal(t, "6.0.0", list.RuntimeOptions.Frameworks[1].Version)
}
