// Package testbed synthesizes reference assemblies and targeting packs
// for end-to-end tests. Everything here is written by this module's own
// image writer, so tests need no installed .NET SDK.
package testbed

import (
	"os"
	"path/filepath"

	"github.com/wippyai/clr-image"
	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/metadata"
	"github.com/wippyai/clr-image/refpack"
	"github.com/wippyai/clr-image/resolve"
)

// PackVersion is the version directory WritePack creates.
const PackVersion = "3.1.0"

// ecmaKey is the ECMA standard public key; its token is b03f5f7f11d50a3a.
var ecmaKey = []byte{0, 0, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0}

// Debuggable attribute modes.
const (
	DebuggingDefault                         = 1
	DebuggingDisableOptimizations            = 256
	DebuggingEnableEditAndContinue           = 4
	DebuggingIgnoreSymbolStoreSequencePoints = 2
)

type typeBuilder struct {
	t   *metadata.TypeDef
	err error
}

func (b *typeBuilder) method(name string, attrs metadata.MethodAttributes, ret metadata.TypeSig, params ...*metadata.Parameter) *metadata.MethodDef {
	md := metadata.NewMethodDef(name, attrs, ret)
	if b.err != nil {
		return md
	}
	if b.err = b.t.AddMethod(md); b.err != nil {
		return md
	}
	for _, p := range params {
		if b.err = md.AddParameter(p); b.err != nil {
			return md
		}
	}
	il := metadata.NewBuilder(md.Body)
	il.Emit(metadata.OpLdnull)
	il.Emit(metadata.OpThrow)
	b.err = il.Err()
	return md
}

func (b *typeBuilder) field(name string, attrs metadata.FieldAttributes, typ metadata.TypeSig) {
	if b.err == nil {
		b.err = b.t.AddField(metadata.NewFieldDef(name, attrs, typ))
	}
}

func param(name string, typ metadata.TypeSig) *metadata.Parameter {
	return metadata.NewParameter(name, metadata.ParamNone, typ)
}

const (
	publicMethod  = metadata.MethodPublic | metadata.MethodHideBySig
	staticMethod  = publicMethod | metadata.MethodStatic
	virtualMethod = publicMethod | metadata.MethodVirtual
	accessor      = publicMethod | metadata.MethodSpecialName
	enumConstant  = metadata.FieldPublic | metadata.FieldStatic | metadata.FieldLiteral
)

// RuntimeAssembly builds a System.Runtime contract assembly with the types
// a console program and its assembly attributes need.
func RuntimeAssembly() (*metadata.Assembly, error) {
	asm := metadata.NewAssembly("System.Runtime", metadata.Version{Major: 4, Minor: 2, Build: 2}, metadata.ModuleParameters{Kind: metadata.KindDll})
	asm.PublicKey = ecmaKey
	mod := asm.MainModule()

	var b typeBuilder
	add := func(t *metadata.TypeDef) *metadata.TypeDef {
		if b.err == nil {
			b.err = mod.AddType(t)
		}
		b.t = t
		return t
	}

	object := add(metadata.NewTypeDef("System", "Object", metadata.TypePublic|metadata.TypeSerializable|metadata.TypeBeforeFieldInit, nil))
	b.method(".ctor", metadata.MethodConstructor, metadata.Void)
	b.method("ToString", virtualMethod, metadata.String)
	b.method("Equals", virtualMethod, metadata.Boolean, param("obj", metadata.Object))
	b.method("GetHashCode", virtualMethod, metadata.Int32)

	valueType := add(metadata.NewTypeDef("System", "ValueType", metadata.TypePublic|metadata.TypeAbstract|metadata.TypeSerializable, object))
	enum := add(metadata.NewTypeDef("System", "Enum", metadata.TypePublic|metadata.TypeAbstract|metadata.TypeSerializable, valueType))

	add(metadata.NewTypeDef("System", "String", metadata.TypePublic|metadata.TypeSealed|metadata.TypeSerializable|metadata.TypeBeforeFieldInit, object))
	b.method("get_Length", accessor, metadata.Int32)
	b.method("Concat", staticMethod, metadata.String, param("str0", metadata.String), param("str1", metadata.String))

	attribute := add(metadata.NewTypeDef("System", "Attribute", metadata.TypePublic|metadata.TypeAbstract|metadata.TypeSerializable, object))
	b.method(".ctor", metadata.MethodFamily|metadata.MethodHideBySig|metadata.MethodSpecialName|metadata.MethodRTSpecialName, metadata.Void)

	add(metadata.NewTypeDef("System.Runtime.CompilerServices", "RuntimeCompatibilityAttribute", metadata.TypePublic|metadata.TypeSealed|metadata.TypeBeforeFieldInit, attribute))
	b.method(".ctor", metadata.MethodConstructor, metadata.Void)
	b.method("get_WrapNonExceptionThrows", accessor, metadata.Boolean)
	b.method("set_WrapNonExceptionThrows", accessor, metadata.Void, param("value", metadata.Boolean))

	debuggable := add(metadata.NewTypeDef("System.Diagnostics", "DebuggableAttribute", metadata.TypePublic|metadata.TypeSealed, attribute))
	modes := metadata.NewTypeDef("", "DebuggingModes", metadata.TypeNestedPublic|metadata.TypeSealed, enum)
	if b.err == nil {
		b.err = debuggable.AddNestedType(modes)
	}
	b.method(".ctor", metadata.MethodConstructor, metadata.Void, param("isJITTrackingEnabled", metadata.Boolean), param("isJITOptimizerDisabled", metadata.Boolean))
	b.method(".ctor", metadata.MethodConstructor, metadata.Void, param("modes", modes))
	b.method("get_DebuggingFlags", accessor, modes)
	b.t = modes
	b.field("value__", metadata.FieldPublic|metadata.FieldSpecialName|metadata.FieldRTSpecialName, metadata.Int32)
	for _, name := range []string{"None", "Default", "IgnoreSymbolStoreSequencePoints", "EnableEditAndContinue", "DisableOptimizations"} {
		b.field(name, enumConstant, modes)
	}

	add(metadata.NewTypeDef("System.Runtime.Versioning", "TargetFrameworkAttribute", metadata.TypePublic|metadata.TypeSealed, attribute))
	b.method(".ctor", metadata.MethodConstructor, metadata.Void, param("frameworkName", metadata.String))
	b.method("get_FrameworkName", accessor, metadata.String)
	b.method("set_FrameworkDisplayName", accessor, metadata.Void, param("value", metadata.String))

	if b.err != nil {
		return nil, b.err
	}
	return asm, nil
}

// ConsoleAssembly builds a System.Console contract assembly whose types
// derive from runtime's System.Object.
func ConsoleAssembly(runtime *metadata.Assembly) (*metadata.Assembly, error) {
	asm := metadata.NewAssembly("System.Console", metadata.Version{Major: 4, Minor: 1, Build: 2}, metadata.ModuleParameters{Kind: metadata.KindDll})
	asm.PublicKey = ecmaKey
	mod := asm.MainModule()

	imp := resolve.NewImporter(mod, nil)
	objectDef, err := runtime.MainModule().Type("System", "Object")
	if err != nil {
		return nil, err
	}
	object, err := imp.ImportType(objectDef)
	if err != nil {
		return nil, err
	}

	b := typeBuilder{t: metadata.NewTypeDef("System", "Console", metadata.TypePublic|metadata.TypeStaticClass|metadata.TypeBeforeFieldInit, object)}
	if err := mod.AddType(b.t); err != nil {
		return nil, err
	}
	b.method("WriteLine", staticMethod, metadata.Void)
	b.method("WriteLine", staticMethod, metadata.Void, param("value", metadata.String))
	b.method("WriteLine", staticMethod, metadata.Void, param("value", metadata.Int32))
	b.method("WriteLine", staticMethod, metadata.Void, param("value", metadata.Object))
	b.method("WriteLine", staticMethod, metadata.Void, param("format", metadata.String), param("arg0", metadata.Object))
	b.method("Write", staticMethod, metadata.Void, param("value", metadata.String))
	b.method("ReadLine", staticMethod, metadata.String)
	if b.err != nil {
		return nil, b.err
	}
	return asm, nil
}

// Assemblies builds both contract assemblies.
func Assemblies() (runtime, console *metadata.Assembly, err error) {
	if runtime, err = RuntimeAssembly(); err != nil {
		return nil, nil, err
	}
	if console, err = ConsoleAssembly(runtime); err != nil {
		return nil, nil, err
	}
	return runtime, console, nil
}

// Loader serves the in-memory contract assemblies by name.
func Loader() (resolve.AssemblyLoader, error) {
	runtime, console, err := Assemblies()
	if err != nil {
		return nil, err
	}
	byName := map[string]*metadata.Assembly{"System.Runtime": runtime, "System.Console": console}
	return resolve.LoaderFunc(func(name string) (*metadata.Assembly, error) {
		if a, ok := byName[name]; ok {
			return a, nil
		}
		return nil, errors.NotFound(errors.PhaseLocate, "reference assembly", name)
	}), nil
}

// WritePack writes a Microsoft.NETCore.App.Ref targeting pack holding the
// contract assemblies under root and returns the pack version directory.
func WritePack(root, version string) (string, error) {
	runtime, console, err := Assemblies()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(refpack.PackDir(root, refpack.CorePack), version)
	list := &refpack.FrameworkList{
		TargetFrameworkIdentifier: ".NETCoreApp",
		TargetFrameworkVersion:    "3.1",
		FrameworkName:             "Microsoft.NETCore.App",
		Name:                      ".NET Core 3.1",
	}
	for _, a := range []*metadata.Assembly{runtime, console} {
		rel := "ref/netcoreapp3.1/" + a.Name + ".dll"
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", errors.WriteIO(path, err)
		}
		if err := clrimage.WriteFiles(a, path, "", nil); err != nil {
			return "", err
		}
		list.Files = append(list.Files, refpack.File{
			Type:            "Managed",
			Path:            rel,
			AssemblyName:    a.Name,
			PublicKeyToken:  "b03f5f7f11d50a3a",
			AssemblyVersion: a.Version.String(),
		})
	}
	data, err := list.Encode()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, filepath.FromSlash(refpack.ListFile))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.WriteIO(path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.WriteIO(path, err)
	}
	return dir, nil
}
