package scenario

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/wippyai/clr-image"
	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/metadata"
	"github.com/wippyai/clr-image/refpack"
	"github.com/wippyai/clr-image/resolve"
	"github.com/wippyai/clr-image/runtimeconfig"
)

const (
	runtimeAssembly = "System.Runtime"
	consoleAssembly = "System.Console"

	debuggableAttribute = "System.Diagnostics.DebuggableAttribute"
	debuggingModes      = debuggableAttribute + "/DebuggingModes"

	// Default | IgnoreSymbolStoreSequencePoints | DisableOptimizations
	debugModes = 1 | 2 | 256
)

// Result lists what a scenario produced.
type Result struct {
	Assembly      *metadata.Assembly
	Image         string
	Symbols       string
	RuntimeConfig string
}

// Loader opens the reference pack selected by cfg and targets cfg at the
// framework of the pack version found.
func Loader(cfg *Config) (*refpack.Locator, error) {
	loc, err := refpack.New(cfg.PackRoot(), cfg.Pack.Name, cfg.Pack.Version)
	if err != nil {
		return nil, err
	}
	cfg.Target(loc.Version)
	return loc, nil
}

// NewAssembly builds a console program whose Main prints cfg.Message.
// Every foreign member is loaded through loader, so the result references
// contract assemblies only.
func NewAssembly(cfg *Config, loader resolve.AssemblyLoader) (*metadata.Assembly, error) {
	cfg.Target(runtimeconfig.DefaultFrameworkVersion)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, _ := cfg.ModuleKind()
	arch, _ := cfg.Arch()
	asm := metadata.NewAssembly(cfg.Assembly, metadata.Version{Major: 1}, metadata.ModuleParameters{
		Kind:         kind,
		Architecture: arch,
	})
	mod := asm.MainModule()
	imp := resolve.NewImporter(mod, loader)

	// The first reference becomes the core library that type markers bind to.
	if _, err := imp.Assembly(runtimeAssembly); err != nil {
		return nil, err
	}

	program := metadata.NewTypeDef(cfg.Namespace, "Program", metadata.TypePublic, metadata.Object)
	if err := mod.AddType(program); err != nil {
		return nil, err
	}
	if err := addConstructor(imp, program); err != nil {
		return nil, err
	}
	main, call, err := addMain(imp, program, "Main", cfg.Message)
	if err != nil {
		return nil, err
	}
	if err := addAssemblyAttributes(imp, asm, cfg.TargetFramework); err != nil {
		return nil, err
	}

	// using System;
	scopes := mod.ImportScopes
	root, err := scopes.Add(0)
	if err != nil {
		return nil, err
	}
	file, err := scopes.Add(root, metadata.ImportTarget{Kind: metadata.ImportNamespace, Namespace: "System"})
	if err != nil {
		return nil, err
	}
	methodImports, err := scopes.Add(file)
	if err != nil {
		return nil, err
	}
	if err := setScope(main, methodImports); err != nil {
		return nil, err
	}
	if cfg.Source.Document != "" {
		doc, err := mod.AddDocument(metadata.NewDocument(cfg.Source.Document))
		if err != nil {
			return nil, err
		}
		if err := addSequencePoint(main, call, doc, cfg.Source); err != nil {
			return nil, err
		}
	}

	if err := mod.SetEntryPoint(main); err != nil {
		return nil, err
	}
	Logger().Info("built assembly",
		zap.String("assembly", asm.FullName()),
		zap.String("entry", main.FullName()),
		zap.Int("assembly_refs", len(mod.AssemblyRefs)),
		zap.Int("member_refs", len(mod.MemberRefs)))
	return asm, nil
}

// WriteNew builds the program of NewAssembly and writes its image, symbols
// and runtimeconfig.json into cfg.OutputDir.
func WriteNew(cfg *Config, loader resolve.AssemblyLoader) (*Result, error) {
	asm, err := NewAssembly(cfg, loader)
	if err != nil {
		return nil, err
	}
	res := outputs(cfg.OutputDir, asm.MainModule().Name)
	res.Assembly = asm
	if err := write(cfg, res); err != nil {
		return nil, err
	}
	rc := runtimeconfig.New(cfg.Runtime.TFM, cfg.Runtime.FrameworkVersion)
	if err := runtimeconfig.Write(res.RuntimeConfig, rc); err != nil {
		return nil, err
	}
	return res, nil
}

// ModifyAssembly renames asm and adds cfg.Modify.Type with a constructor
// and a Main printing cfg.Modify.Message, which becomes the entry point.
// The new Main shares the import scope of an existing method so the
// debugger sees the same usings.
func ModifyAssembly(cfg *Config, asm *metadata.Assembly, loader resolve.AssemblyLoader) error {
	m := cfg.Modify
	if m.Type == "" || m.Method == "" {
		return errors.InvalidInput(errors.PhaseModel, "modify needs a type and a method name")
	}
	mod := asm.MainModule()
	donor, err := importDonor(mod, m.ImportsFrom)
	if err != nil {
		return err
	}
	if err := asm.Rename(m.Name); err != nil {
		return err
	}
	asm.Version = metadata.Version{Major: 1}

	ns := m.Namespace
	if ns == "" {
		ns = donor.Namespace
	}
	imp := resolve.NewImporter(mod, loader)
	program := metadata.NewTypeDef(ns, m.Type, metadata.TypePublic, metadata.Object)
	if err := mod.AddType(program); err != nil {
		return err
	}
	if err := addConstructor(imp, program); err != nil {
		return err
	}
	main, call, err := addMain(imp, program, m.Method, m.Message)
	if err != nil {
		return err
	}

	var doc *metadata.Document
	switch {
	case cfg.Source.Document != "":
		if doc, err = mod.AddDocument(metadata.NewDocument(cfg.Source.Document)); err != nil {
			return err
		}
	case len(mod.Documents) > 0:
		doc = mod.Documents[0]
	}
	if doc != nil {
		if err := addSequencePoint(main, call, doc, cfg.Source); err != nil {
			return err
		}
	}

	imports := donorImports(donor)
	if err := setScope(main, imports); err != nil {
		return err
	}
	if err := mod.SetEntryPoint(main); err != nil {
		return err
	}
	Logger().Info("modified assembly",
		zap.String("assembly", asm.FullName()),
		zap.String("entry", main.FullName()),
		zap.String("imports_from", donor.FullName()),
		zap.Uint32("import_scope", uint32(imports)))
	return nil
}

// Modify reads cfg.Modify.Image with its symbols, applies ModifyAssembly and
// writes the result with a runtimeconfig.json copied from the source, or
// the template when the source has none. A source config on another
// framework than cfg.Runtime is retargeted.
func Modify(cfg *Config, loader resolve.AssemblyLoader) (*Result, error) {
	cfg.Target(runtimeconfig.DefaultFrameworkVersion)
	src := cfg.Modify.Image
	if src == "" {
		return nil, errors.InvalidInput(errors.PhaseRead, "no source image to modify")
	}
	symbols := cfg.Modify.Symbols
	if symbols == "" {
		symbols = swapExt(src, ".pdb")
	}
	asm, err := clrimage.ReadFiles(src, symbols)
	if err != nil {
		return nil, err
	}
	if err := ModifyAssembly(cfg, asm, loader); err != nil {
		return nil, err
	}

	res := outputs(cfg.OutputDir, asm.MainModule().Name)
	res.Assembly = asm
	if err := write(cfg, res); err != nil {
		return nil, err
	}
	srcConfig := runtimeconfig.PathFor(src)
	if _, err := os.Stat(srcConfig); os.IsNotExist(err) {
		Logger().Warn("source has no runtimeconfig.json, writing the template", zap.String("path", srcConfig))
		rc := runtimeconfig.New(cfg.Runtime.TFM, cfg.Runtime.FrameworkVersion)
		return res, runtimeconfig.Write(res.RuntimeConfig, rc)
	}
	return res, copyRuntimeConfig(cfg, srcConfig, res.RuntimeConfig)
}

func copyRuntimeConfig(cfg *Config, src, dst string) error {
	rc, err := runtimeconfig.Read(src)
	if err != nil {
		return err
	}
	want, err := semver.NewVersion(cfg.Runtime.FrameworkVersion)
	if err != nil {
		return errors.New(errors.PhaseWrite, errors.KindInvalidInput).
			Value(cfg.Runtime.FrameworkVersion).Cause(err).Detail("framework version").Build()
	}
	same, err := rc.SameFramework(want)
	if err != nil {
		return err
	}
	if same {
		return runtimeconfig.Copy(src, dst)
	}
	Logger().Info("retargeting runtimeconfig.json",
		zap.String("path", src),
		zap.String("tfm", cfg.Runtime.TFM),
		zap.String("framework", cfg.Runtime.FrameworkVersion))
	return runtimeconfig.Adapt(src, dst, func(c *runtimeconfig.Config) {
		c.Retarget(cfg.Runtime.TFM, cfg.Runtime.FrameworkVersion)
	})
}

func outputs(dir, moduleName string) *Result {
	img := filepath.Join(dir, moduleName)
	return &Result{
		Image:         img,
		Symbols:       swapExt(img, ".pdb"),
		RuntimeConfig: runtimeconfig.PathFor(img),
	}
}

func write(cfg *Config, res *Result) error {
	if err := clrimage.WriteFiles(res.Assembly, res.Image, res.Symbols, &clrimage.Options{EmbedSymbols: cfg.EmbedSymbols}); err != nil {
		return err
	}
	Logger().Info("wrote assembly", zap.String("image", res.Image), zap.String("symbols", res.Symbols))
	return nil
}

func swapExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// addConstructor adds a public .ctor chaining to System.Object's.
func addConstructor(imp *resolve.Importer, t *metadata.TypeDef) error {
	base, err := imp.Method(runtimeAssembly, "System.Object", resolve.Method(".ctor"))
	if err != nil {
		return err
	}
	ctor := metadata.NewMethodDef(".ctor", metadata.MethodConstructor, metadata.Void)
	if err := t.AddMethod(ctor); err != nil {
		return err
	}
	il := metadata.NewBuilder(ctor.Body)
	il.Emit(metadata.OpLdarg0)
	il.Emit(metadata.OpCall, base)
	il.Emit(metadata.OpNop)
	il.Emit(metadata.OpRet)
	return il.Err()
}

// addMain adds "static void name(string[] args)" printing message and
// returns it with its WriteLine call.
func addMain(imp *resolve.Importer, t *metadata.TypeDef, name, message string) (*metadata.MethodDef, *metadata.Instruction, error) {
	writeLine, err := imp.Method(consoleAssembly, "System.Console", resolve.Method("WriteLine", metadata.String))
	if err != nil {
		return nil, nil, err
	}
	main := metadata.NewMethodDef(name, metadata.MethodPublic|metadata.MethodStatic, metadata.Void)
	if err := t.AddMethod(main); err != nil {
		return nil, nil, err
	}
	args := metadata.NewParameter("args", metadata.ParamNone, &metadata.SZArray{Elem: metadata.String})
	if err := main.AddParameter(args); err != nil {
		return nil, nil, err
	}
	il := metadata.NewBuilder(main.Body)
	il.Emit(metadata.OpNop)
	il.Emit(metadata.OpLdstr, message)
	call := il.Emit(metadata.OpCall, writeLine)
	il.Emit(metadata.OpNop)
	il.Emit(metadata.OpRet)
	if err := il.Err(); err != nil {
		return nil, nil, err
	}
	return main, call, nil
}

// addAssemblyAttributes adds RuntimeCompatibility(WrapNonExceptionThrows = true),
// Debuggable(modes) and TargetFramework(framework).
func addAssemblyAttributes(imp *resolve.Importer, asm *metadata.Assembly, framework string) error {
	compat, err := imp.Method(runtimeAssembly, "System.Runtime.CompilerServices.RuntimeCompatibilityAttribute", resolve.Method(".ctor"))
	if err != nil {
		return err
	}
	wrap := metadata.NewCustomAttribute(compat)
	wrap.AddProperty("WrapNonExceptionThrows", metadata.Boolean, true)

	modes, err := imp.Type(runtimeAssembly, debuggingModes)
	if err != nil {
		return err
	}
	debuggable, err := imp.Method(runtimeAssembly, debuggableAttribute, resolve.MethodOf(".ctor", debuggingModes))
	if err != nil {
		return err
	}

	target, err := imp.Method(runtimeAssembly, "System.Runtime.Versioning.TargetFrameworkAttribute", resolve.Method(".ctor", metadata.String))
	if err != nil {
		return err
	}

	asm.CustomAttributes = append(asm.CustomAttributes,
		wrap,
		metadata.NewCustomAttribute(debuggable, metadata.CAArgument{Type: modes, Value: int32(debugModes)}),
		metadata.NewCustomAttribute(target, metadata.CAArgument{Type: metadata.String, Value: framework}),
	)
	return nil
}

// setScope gives md a root scope over its body bound to imports.
func setScope(md *metadata.MethodDef, imports metadata.ImportScopeID) error {
	ins := md.Body.Instructions
	scope, err := md.DebugInfo.SetScope(ins[0], ins[len(ins)-1])
	if err != nil {
		return err
	}
	scope.Import = imports
	return nil
}

func addSequencePoint(md *metadata.MethodDef, ins *metadata.Instruction, doc *metadata.Document, p Position) error {
	_, err := md.DebugInfo.AddSequencePoint(ins, doc, p.StartLine, p.StartColumn, p.EndLine, p.EndColumn)
	return err
}

// importDonor returns the type named by fullName, or the declaring type of
// the entry point when fullName is empty.
func importDonor(mod *metadata.Module, fullName string) (*metadata.TypeDef, error) {
	if fullName != "" {
		return mod.TypeByFullName(fullName)
	}
	if mod.EntryPoint == nil || mod.EntryPoint.DeclaringType == nil {
		return nil, errors.InvalidState(errors.PhaseModel, "source has no entry point to take the program type from")
	}
	return mod.EntryPoint.DeclaringType, nil
}

// donorImports returns the import scope of the first method of t that has
// one, or 0.
func donorImports(t *metadata.TypeDef) metadata.ImportScopeID {
	for _, md := range t.Methods {
		if md.DebugInfo != nil && md.DebugInfo.Scope != nil && md.DebugInfo.Scope.Import != 0 {
			return md.DebugInfo.Scope.Import
		}
	}
	Logger().Warn("no method carries an import scope", zap.String("type", t.FullName()))
	return 0
}
