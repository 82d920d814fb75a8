// Package runtimeconfig reads and writes the runtimeconfig.json file the
// dotnet host needs next to a framework-dependent program.
package runtimeconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/wippyai/clr-image/errors"
)

// Ext is the suffix replacing the image extension.
const Ext = ".runtimeconfig.json"

// Defaults of the template.
const (
	DefaultTFM              = "netcoreapp3.1"
	DefaultFramework        = "Microsoft.NETCore.App"
	DefaultFrameworkVersion = "3.1.0"
)

// Config is the document root.
type Config struct {
	RuntimeOptions RuntimeOptions `json:"runtimeOptions"`
}

// RuntimeOptions selects the shared framework and host settings.
type RuntimeOptions struct {
	TFM                    string         `json:"tfm,omitempty"`
	RollForward            string         `json:"rollForward,omitempty"`
	Framework              *Framework     `json:"framework,omitempty"`
	Frameworks             []Framework    `json:"frameworks,omitempty"`
	AdditionalProbingPaths []string       `json:"additionalProbingPaths,omitempty"`
	ConfigProperties       map[string]any `json:"configProperties,omitempty"`
}

// Framework names a shared framework and its minimum version.
type Framework struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// New returns a config running on version of Microsoft.NETCore.App.
func New(tfm, version string) *Config {
	return &Config{RuntimeOptions: RuntimeOptions{
		TFM:       tfm,
		Framework: &Framework{Name: DefaultFramework, Version: version},
	}}
}

// Default returns the netcoreapp3.1 template.
func Default() *Config {
	return New(DefaultTFM, DefaultFrameworkVersion)
}

// ForVersion returns a config running on the major.minor.0 framework of the
// .NET version v.
func ForVersion(v *semver.Version) *Config {
	return New(TFM(v), fmt.Sprintf("%d.%d.0", v.Major(), v.Minor()))
}

// TFM returns the target framework moniker of v: netcoreappX.Y before 5,
// netX.Y after.
func TFM(v *semver.Version) string {
	if v.Major() < 5 {
		return fmt.Sprintf("netcoreapp%d.%d", v.Major(), v.Minor())
	}
	return fmt.Sprintf("net%d.%d", v.Major(), v.Minor())
}

// TargetFramework returns the framework name of v as TargetFrameworkAttribute
// carries it.
func TargetFramework(v *semver.Version) string {
	return fmt.Sprintf(".NETCoreApp,Version=v%d.%d", v.Major(), v.Minor())
}

// PathFor returns the config path belonging to an image path.
func PathFor(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + Ext
}

// Parse decodes a config document.
func Parse(data []byte) (*Config, error) {
	var c Config
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&c); err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, err, "runtimeconfig.json")
	}
	if c.RuntimeOptions.Framework == nil && len(c.RuntimeOptions.Frameworks) == 0 {
		return nil, errors.InvalidData(errors.PhaseRead, []string{"runtimeOptions"}, "no framework")
	}
	return &c, nil
}

// Encode renders c indented by two spaces with a trailing newline.
func (c *Config) Encode() ([]byte, error) {
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "runtimeconfig.json")
	}
	return append(out, '\n'), nil
}

// FrameworkVersion parses the version of the primary framework.
func (c *Config) FrameworkVersion() (*semver.Version, error) {
	f := c.RuntimeOptions.Framework
	if f == nil && len(c.RuntimeOptions.Frameworks) > 0 {
		f = &c.RuntimeOptions.Frameworks[0]
	}
	if f == nil {
		return nil, errors.NotFound(errors.PhaseRead, "framework", "runtimeOptions")
	}
	v, err := semver.NewVersion(f.Version)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, err, "framework version "+f.Version)
	}
	return v, nil
}

// Retarget sets the moniker and the version of the primary framework.
func (c *Config) Retarget(tfm, version string) {
	c.RuntimeOptions.TFM = tfm
	switch {
	case c.RuntimeOptions.Framework != nil:
		c.RuntimeOptions.Framework.Version = version
	case len(c.RuntimeOptions.Frameworks) > 0:
		c.RuntimeOptions.Frameworks[0].Version = version
	default:
		c.RuntimeOptions.Framework = &Framework{Name: DefaultFramework, Version: version}
	}
}

// SameFramework reports whether c runs on the major and minor version of v.
func (c *Config) SameFramework(v *semver.Version) (bool, error) {
	have, err := c.FrameworkVersion()
	if err != nil {
		return false, err
	}
	return have.Major() == v.Major() && have.Minor() == v.Minor(), nil
}

// Read loads the config at path.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ReadIO(path, err)
	}
	return Parse(data)
}

// Write stores c at path.
func Write(path string, c *Config) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WriteIO(path, err)
	}
	return nil
}

// Copy copies the config at src to dst byte for byte after checking it parses.
func Copy(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.ReadIO(src, err)
	}
	if _, err := Parse(data); err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return errors.WriteIO(dst, err)
	}
	return nil
}

// Adapt reads src, applies fn and writes the result to dst.
func Adapt(src, dst string, fn func(*Config)) error {
	c, err := Read(src)
	if err != nil {
		return err
	}
	fn(c)
	return Write(dst, c)
}
