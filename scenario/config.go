package scenario

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/metadata"
	"github.com/wippyai/clr-image/refpack"
	"github.com/wippyai/clr-image/runtimeconfig"
)

// Config drives both scenarios. Zero fields take the values of DefaultConfig.
type Config struct {
	// Assembly is the name of the generated assembly.
	Assembly  string `toml:"assembly"`
	Namespace string `toml:"namespace"`
	Message   string `toml:"message"`
	// Architecture is i386, amd64 or arm64.
	Architecture string `toml:"architecture"`
	// Kind is console, windows or dll.
	Kind      string `toml:"kind"`
	OutputDir string `toml:"output_dir"`
	// TargetFramework is the TargetFrameworkAttribute argument; empty
	// derives it from the pack version.
	TargetFramework string `toml:"target_framework"`

	Pack    PackConfig    `toml:"pack"`
	Runtime RuntimeConfig `toml:"runtime"`
	Source  Position      `toml:"source"`
	Modify  ModifyConfig  `toml:"modify"`

	EmbedSymbols bool `toml:"embed_symbols"`
}

// PackConfig selects the targeting pack references are loaded from.
type PackConfig struct {
	// Root is the dotnet installation directory; empty uses refpack.DefaultRoot.
	Root string `toml:"root"`
	Name string `toml:"name"`
	// Version is a pack version directory; empty selects the newest.
	Version string `toml:"version"`
}

// RuntimeConfig is the framework written to runtimeconfig.json. Empty
// fields are derived from the pack version.
type RuntimeConfig struct {
	TFM              string `toml:"tfm"`
	FrameworkVersion string `toml:"framework_version"`
}

// Position is a source range for the sequence point of the WriteLine call.
type Position struct {
	// Document is the source path recorded in the symbols. An empty
	// document in a modify run reuses the first document of the source.
	Document    string `toml:"document"`
	StartLine   int    `toml:"start_line"`
	StartColumn int    `toml:"start_column"`
	EndLine     int    `toml:"end_line"`
	EndColumn   int    `toml:"end_column"`
}

// ModifyConfig describes the read-modify-write scenario.
type ModifyConfig struct {
	// Image and Symbols are the files read.
	Image   string `toml:"image"`
	Symbols string `toml:"symbols"`
	// Name renames the assembly and its module.
	Name    string `toml:"name"`
	Type    string `toml:"type"`
	Method  string `toml:"method"`
	Message string `toml:"message"`
	// ImportsFrom is the full name of the type whose first method with an
	// import scope lends it to the new method; empty selects the declaring
	// type of the source entry point.
	ImportsFrom string `toml:"imports_from"`
	// Namespace of the new type; empty uses the namespace of ImportsFrom.
	Namespace string `toml:"namespace"`
}

// DefaultConfig returns the configuration of the reference programs.
func DefaultConfig() *Config {
	return &Config{
		Assembly:     "NewAssembly",
		Namespace:    "NewAssembly",
		Message:      "Hello World!",
		Architecture: "i386",
		Kind:         "console",
		OutputDir:    ".",
		Pack: PackConfig{
			Name: refpack.CorePack,
		},
		Source: Position{
			Document:    "Program.cs",
			StartLine:   6,
			StartColumn: 13,
			EndLine:     6,
			EndColumn:   46,
		},
		Modify: ModifyConfig{
			Name:    "Modified",
			Type:    "ProgramModified",
			Method:  "MainModified",
			Message: "Hello Modified World!",
		},
	}
}

// LoadConfig reads a TOML file over DefaultConfig. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.New(errors.PhaseRead, errors.KindInvalidData).
			Member(path).Cause(err).Detail("config file").Build()
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.PhaseRead, errors.KindInvalidInput).
			Member(path).Value(keys).Detail("unknown keys: %s", strings.Join(keys, ", ")).Build()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks names and enumerations.
func (c *Config) Validate() error {
	if c.Assembly == "" {
		return errors.InvalidInput(errors.PhaseModel, "assembly name is empty")
	}
	if _, err := c.ModuleKind(); err != nil {
		return err
	}
	if _, err := c.Arch(); err != nil {
		return err
	}
	if v := c.Runtime.FrameworkVersion; v != "" {
		if _, err := semver.NewVersion(v); err != nil {
			return errors.New(errors.PhaseModel, errors.KindInvalidInput).
				Value(v).Cause(err).Detail("framework version %q", v).Build()
		}
	}
	if c.Source.Document != "" {
		p := c.Source
		if p.StartLine <= 0 || p.EndLine < p.StartLine || (p.EndLine == p.StartLine && p.EndColumn <= p.StartColumn) {
			return errors.New(errors.PhaseDebug, errors.KindInvalidInput).
				Value(p).Detail("source range (%d,%d)-(%d,%d) is empty or reversed", p.StartLine, p.StartColumn, p.EndLine, p.EndColumn).Build()
		}
	}
	return nil
}

// ModuleKind maps Kind.
func (c *Config) ModuleKind() (metadata.ModuleKind, error) {
	switch strings.ToLower(c.Kind) {
	case "", "console", "exe":
		return metadata.KindConsole, nil
	case "windows", "winexe":
		return metadata.KindWindows, nil
	case "dll", "library":
		return metadata.KindDll, nil
	}
	return 0, errors.InvalidInput(errors.PhaseModel, "unknown module kind "+c.Kind)
}

// Arch maps Architecture.
func (c *Config) Arch() (metadata.Architecture, error) {
	switch strings.ToLower(c.Architecture) {
	case "", "i386", "x86":
		return metadata.ArchI386, nil
	case "amd64", "x64":
		return metadata.ArchAMD64, nil
	case "arm64":
		return metadata.ArchARM64, nil
	}
	return 0, errors.InvalidInput(errors.PhaseModel, "unknown architecture "+c.Architecture)
}

// Target fills TargetFramework and the runtime fields left empty from the
// version of the pack the references come from. A version that does not
// parse leaves them to the netcoreapp3.1 defaults.
func (c *Config) Target(packVersion string) {
	v, err := semver.NewVersion(packVersion)
	if err != nil {
		Logger().Warn("pack version is not semantic, targeting the default framework",
			zap.String("version", packVersion), zap.Error(err))
		v = semver.MustParse(runtimeconfig.DefaultFrameworkVersion)
	}
	rc := runtimeconfig.ForVersion(v)
	if c.Runtime.TFM == "" {
		c.Runtime.TFM = rc.RuntimeOptions.TFM
	}
	if c.Runtime.FrameworkVersion == "" {
		c.Runtime.FrameworkVersion = rc.RuntimeOptions.Framework.Version
	}
	if c.TargetFramework == "" {
		c.TargetFramework = runtimeconfig.TargetFramework(v)
	}
}

// PackRoot returns Pack.Root or the default dotnet root.
func (c *Config) PackRoot() string {
	if c.Pack.Root != "" {
		return c.Pack.Root
	}
	return refpack.DefaultRoot()
}
