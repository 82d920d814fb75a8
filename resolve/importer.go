package resolve

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/metadata"
)

// AssemblyLoader supplies foreign assemblies by simple name.
type AssemblyLoader interface {
	LoadAssembly(name string) (*metadata.Assembly, error)
}

// LoaderFunc adapts a function to AssemblyLoader.
type LoaderFunc func(name string) (*metadata.Assembly, error)

func (f LoaderFunc) LoadAssembly(name string) (*metadata.Assembly, error) {
	return f(name)
}

// Importer imports foreign definitions into one module. It is not safe
// for concurrent use; the module it serves is not either.
type Importer struct {
	mod     *metadata.Module
	loader  AssemblyLoader
	loaded  map[string]*metadata.Assembly
	members map[string]*metadata.MemberRef
}

// NewImporter creates an importer for mod. loader may be nil when only
// already loaded definitions are imported.
func NewImporter(mod *metadata.Module, loader AssemblyLoader) *Importer {
	return &Importer{
		mod:     mod,
		loader:  loader,
		loaded:  make(map[string]*metadata.Assembly),
		members: make(map[string]*metadata.MemberRef),
	}
}

// Module returns the target module.
func (imp *Importer) Module() *metadata.Module {
	return imp.mod
}

// Load returns the foreign assembly named name, loading it at most once.
func (imp *Importer) Load(name string) (*metadata.Assembly, error) {
	if a, ok := imp.loaded[strings.ToLower(name)]; ok {
		return a, nil
	}
	if imp.loader == nil {
		return nil, errors.New(errors.PhaseResolve, errors.KindInvalidState).
			Member(name).Detail("no assembly loader configured").Build()
	}
	a, err := imp.loader.LoadAssembly(name)
	if err != nil {
		return nil, err
	}
	if a.MainModule() == nil {
		return nil, errors.InvalidInput(errors.PhaseResolve, "assembly "+name+" has no module")
	}
	imp.loaded[strings.ToLower(name)] = a
	Logger().Debug("loaded assembly", zap.String("assembly", a.FullName()))
	return a, nil
}

// Assembly loads the assembly named name and registers a reference to it.
func (imp *Importer) Assembly(name string) (*metadata.AssemblyRef, error) {
	a, err := imp.Load(name)
	if err != nil {
		return nil, err
	}
	return imp.ImportAssembly(a)
}

// TypeDef returns the definition of typeFullName in the assembly named assembly.
func (imp *Importer) TypeDef(assembly, typeFullName string) (*metadata.TypeDef, error) {
	a, err := imp.Load(assembly)
	if err != nil {
		return nil, err
	}
	t, err := a.MainModule().TypeByFullName(typeFullName)
	if err != nil {
		return nil, errors.New(errors.PhaseResolve, errors.KindNotFound).
			Path(assembly).Member(typeFullName).Cause(err).Build()
	}
	return t, nil
}

// Type loads and imports a foreign type.
func (imp *Importer) Type(assembly, typeFullName string) (*metadata.TypeRef, error) {
	t, err := imp.TypeDef(assembly, typeFullName)
	if err != nil {
		return nil, err
	}
	return imp.ImportType(t)
}

// Method loads a foreign type, picks the method matching q and imports it.
func (imp *Importer) Method(assembly, typeFullName string, q MethodQuery) (*metadata.MemberRef, error) {
	t, err := imp.TypeDef(assembly, typeFullName)
	if err != nil {
		return nil, err
	}
	md, err := FindMethod(t, q)
	if err != nil {
		return nil, err
	}
	return imp.ImportMethod(md)
}

// Field loads a foreign type and imports its field named name.
func (imp *Importer) Field(assembly, typeFullName, name string) (*metadata.MemberRef, error) {
	t, err := imp.TypeDef(assembly, typeFullName)
	if err != nil {
		return nil, err
	}
	f, err := FindField(t, name)
	if err != nil {
		return nil, err
	}
	return imp.ImportField(f)
}

// ImportAssembly registers a reference to a foreign assembly, reusing one
// with the same simple name.
func (imp *Importer) ImportAssembly(a *metadata.Assembly) (*metadata.AssemblyRef, error) {
	if a == nil {
		return nil, errors.InvalidInput(errors.PhaseResolve, "nil assembly")
	}
	if a.MainModule() == imp.mod {
		return nil, errors.InvalidInput(errors.PhaseResolve, "assembly "+a.Name+" is the target assembly")
	}
	return imp.addAssemblyRef(&metadata.AssemblyRef{
		Name:             a.Name,
		Version:          a.Version,
		Culture:          a.Culture,
		PublicKeyOrToken: metadata.PublicKeyToken(a.PublicKey),
	})
}

func (imp *Importer) importAssemblyRef(r *metadata.AssemblyRef) (*metadata.AssemblyRef, error) {
	for _, existing := range imp.mod.AssemblyRefs {
		if existing == r {
			return r, nil
		}
	}
	token := r.PublicKeyOrToken
	if r.Flags&metadata.AssemblyPublicKey != 0 {
		token = metadata.PublicKeyToken(token)
	}
	return imp.addAssemblyRef(&metadata.AssemblyRef{
		Name:             r.Name,
		Version:          r.Version,
		Culture:          r.Culture,
		PublicKeyOrToken: append([]byte(nil), token...),
		HashValue:        append([]byte(nil), r.HashValue...),
	})
}

func (imp *Importer) addAssemblyRef(r *metadata.AssemblyRef) (*metadata.AssemblyRef, error) {
	before := len(imp.mod.AssemblyRefs)
	ref, err := imp.mod.AddAssemblyRef(r)
	if err != nil {
		return nil, err
	}
	if len(imp.mod.AssemblyRefs) > before {
		Logger().Debug("imported assembly", zap.String("assembly", ref.FullName()))
	}
	return ref, nil
}

// ImportType registers a reference to a foreign type. Nested types are
// scoped by a reference to their declaring type. Core type markers become
// references scoped to the module's core library.
func (imp *Importer) ImportType(t metadata.TypeDefOrRef) (*metadata.TypeRef, error) {
	switch v := t.(type) {
	case *metadata.TypeDef:
		return imp.importTypeDef(v)
	case *metadata.TypeRef:
		return imp.importTypeRef(v)
	case *metadata.CoreType:
		lib := imp.mod.CoreLibrary()
		if lib == nil {
			return nil, errors.New(errors.PhaseResolve, errors.KindNotFound).
				Member(v.FullName()).Detail("module has no core library reference").Build()
		}
		return imp.mod.AddTypeRef(&metadata.TypeRef{
			Scope: lib, Namespace: v.Namespace, Name: v.Name, IsValueType: v.ValueType,
		})
	case nil:
		return nil, errors.InvalidInput(errors.PhaseResolve, "nil type")
	}
	return nil, errors.New(errors.PhaseResolve, errors.KindUnsupported).
		Member(t.FullName()).Detail("%T cannot be imported as a type reference; use ImportSig", t).Build()
}

func (imp *Importer) importTypeDef(t *metadata.TypeDef) (*metadata.TypeRef, error) {
	owner := t.Module()
	if owner == nil {
		return nil, errors.InvalidInput(errors.PhaseResolve, "type "+t.FullName()+" is not attached to a module")
	}
	if owner == imp.mod {
		return nil, errors.InvalidInput(errors.PhaseResolve, "type "+t.FullName()+" is defined in the target module")
	}
	var scope metadata.ResolutionScope
	if t.DeclaringType != nil {
		outer, err := imp.importTypeDef(t.DeclaringType)
		if err != nil {
			return nil, err
		}
		scope = outer
	} else {
		asm, err := imp.ImportAssembly(owner.Assembly())
		if err != nil {
			return nil, err
		}
		scope = asm
	}
	ref := &metadata.TypeRef{
		Scope:       scope,
		Namespace:   t.Namespace,
		Name:        t.Name,
		IsValueType: t.IsValueType(),
	}
	if u, ok := t.EnumUnderlying(); ok {
		ref.EnumUnderlying = u
	}
	return imp.addTypeRef(ref)
}

func (imp *Importer) importTypeRef(r *metadata.TypeRef) (*metadata.TypeRef, error) {
	for _, existing := range imp.mod.TypeRefs {
		if existing == r {
			return r, nil
		}
	}
	var scope metadata.ResolutionScope
	switch s := r.Scope.(type) {
	case *metadata.AssemblyRef:
		asm, err := imp.importAssemblyRef(s)
		if err != nil {
			return nil, err
		}
		scope = asm
	case *metadata.TypeRef:
		outer, err := imp.importTypeRef(s)
		if err != nil {
			return nil, err
		}
		scope = outer
	case *metadata.Module:
		if s == imp.mod {
			scope = s
			break
		}
		asm, err := imp.ImportAssembly(s.Assembly())
		if err != nil {
			return nil, err
		}
		scope = asm
	default:
		return nil, errors.InvalidInput(errors.PhaseResolve, "type reference "+r.FullName()+" has no resolution scope")
	}
	return imp.addTypeRef(&metadata.TypeRef{
		Scope:          scope,
		Namespace:      r.Namespace,
		Name:           r.Name,
		IsValueType:    r.IsValueType,
		EnumUnderlying: r.EnumUnderlying,
	})
}

func (imp *Importer) addTypeRef(r *metadata.TypeRef) (*metadata.TypeRef, error) {
	before := len(imp.mod.TypeRefs)
	ref, err := imp.mod.AddTypeRef(r)
	if err != nil {
		return nil, err
	}
	if len(imp.mod.TypeRefs) > before {
		Logger().Debug("imported type", zap.String("type", ref.FullName()))
	}
	return ref, nil
}

// ImportSig re-expresses a signature type in references of the target
// module. Core type markers, generic parameters and local definitions are
// kept as they are.
func (imp *Importer) ImportSig(t metadata.TypeSig) (metadata.TypeSig, error) {
	switch v := t.(type) {
	case nil, *metadata.CoreType, *metadata.GenericParam:
		return t, nil
	case *metadata.TypeDef, *metadata.TypeRef, *metadata.TypeSpec:
		return imp.importToken(v.(metadata.TypeDefOrRef))
	case *metadata.SZArray:
		elem, err := imp.ImportSig(v.Elem)
		if err != nil {
			return nil, err
		}
		return &metadata.SZArray{Elem: elem}, nil
	case *metadata.ArrayType:
		elem, err := imp.ImportSig(v.Elem)
		if err != nil {
			return nil, err
		}
		return &metadata.ArrayType{Elem: elem, Rank: v.Rank, Sizes: v.Sizes, LoBounds: v.LoBounds}, nil
	case *metadata.Pointer:
		elem, err := imp.ImportSig(v.Elem)
		if err != nil {
			return nil, err
		}
		return &metadata.Pointer{Elem: elem}, nil
	case *metadata.ByRef:
		elem, err := imp.ImportSig(v.Elem)
		if err != nil {
			return nil, err
		}
		return &metadata.ByRef{Elem: elem}, nil
	case *metadata.Pinned:
		elem, err := imp.ImportSig(v.Elem)
		if err != nil {
			return nil, err
		}
		return &metadata.Pinned{Elem: elem}, nil
	case *metadata.Modified:
		mod, err := imp.importToken(v.Modifier)
		if err != nil {
			return nil, err
		}
		elem, err := imp.ImportSig(v.Elem)
		if err != nil {
			return nil, err
		}
		return &metadata.Modified{Modifier: mod, Elem: elem, Required: v.Required}, nil
	case *metadata.GenericInst:
		generic, err := imp.importToken(v.Generic)
		if err != nil {
			return nil, err
		}
		args := make([]metadata.TypeSig, len(v.Args))
		for i, a := range v.Args {
			if args[i], err = imp.ImportSig(a); err != nil {
				return nil, err
			}
		}
		return &metadata.GenericInst{Generic: generic, Args: args, ValueType: v.ValueType}, nil
	case *metadata.FnPtr:
		sig, err := imp.importMethodSig(v.Sig)
		if err != nil {
			return nil, err
		}
		return &metadata.FnPtr{Sig: sig}, nil
	}
	return nil, errors.New(errors.PhaseResolve, errors.KindUnsupported).
		Member(t.FullName()).Detail("signature type %T", t).Build()
}

func (imp *Importer) importToken(t metadata.TypeDefOrRef) (metadata.TypeDefOrRef, error) {
	switch v := t.(type) {
	case *metadata.CoreType:
		return v, nil
	case *metadata.TypeDef:
		if v.Module() == imp.mod {
			return v, nil
		}
		return imp.importTypeDef(v)
	case *metadata.TypeRef:
		return imp.importTypeRef(v)
	case *metadata.TypeSpec:
		for _, existing := range imp.mod.TypeSpecs {
			if existing == v {
				return v, nil
			}
		}
		sig, err := imp.ImportSig(v.Sig)
		if err != nil {
			return nil, err
		}
		name := sig.FullName()
		for _, existing := range imp.mod.TypeSpecs {
			if existing.Sig.FullName() == name {
				return existing, nil
			}
		}
		return imp.mod.AddTypeSpec(&metadata.TypeSpec{Sig: sig})
	}
	return nil, errors.InvalidInput(errors.PhaseResolve, "nil type token")
}

func (imp *Importer) importMethodSig(s *metadata.MethodSig) (*metadata.MethodSig, error) {
	ret, err := imp.ImportSig(s.Return)
	if err != nil {
		return nil, err
	}
	params := make([]metadata.TypeSig, len(s.Params))
	for i, p := range s.Params {
		if params[i], err = imp.ImportSig(p); err != nil {
			return nil, err
		}
	}
	return &metadata.MethodSig{
		Return:            ret,
		Params:            params,
		GenericParamCount: s.GenericParamCount,
		CallConv:          s.CallConv,
		HasThis:           s.HasThis,
		ExplicitThis:      s.ExplicitThis,
	}, nil
}

// ImportMethod registers a reference to a foreign method. Importing an
// equal signature again returns the same reference.
func (imp *Importer) ImportMethod(md *metadata.MethodDef) (*metadata.MemberRef, error) {
	if md.DeclaringType == nil {
		return nil, errors.InvalidInput(errors.PhaseResolve, "method "+md.Name+" has no declaring type")
	}
	if md.Module() == imp.mod {
		return nil, errors.InvalidInput(errors.PhaseResolve, "method "+md.FullName()+" is defined in the target module")
	}
	parent, err := imp.importTypeDef(md.DeclaringType)
	if err != nil {
		return nil, err
	}
	sig, err := imp.importMethodSig(md.Signature())
	if err != nil {
		return nil, err
	}
	return imp.addMemberRef(&metadata.MemberRef{Parent: parent, Name: md.Name, Method: sig})
}

// ImportField registers a reference to a foreign field.
func (imp *Importer) ImportField(f *metadata.FieldDef) (*metadata.MemberRef, error) {
	if f.DeclaringType == nil {
		return nil, errors.InvalidInput(errors.PhaseResolve, "field "+f.Name+" has no declaring type")
	}
	if f.Module() == imp.mod {
		return nil, errors.InvalidInput(errors.PhaseResolve, "field "+f.FullName()+" is defined in the target module")
	}
	parent, err := imp.importTypeDef(f.DeclaringType)
	if err != nil {
		return nil, err
	}
	typ, err := imp.ImportSig(f.Type)
	if err != nil {
		return nil, err
	}
	return imp.addMemberRef(&metadata.MemberRef{Parent: parent, Name: f.Name, Field: typ})
}

func (imp *Importer) addMemberRef(r *metadata.MemberRef) (*metadata.MemberRef, error) {
	key := memberKey(r)
	if existing, ok := imp.members[key]; ok {
		return existing, nil
	}
	for _, existing := range imp.mod.MemberRefs {
		if memberKey(existing) == key {
			imp.members[key] = existing
			return existing, nil
		}
	}
	ref, err := imp.mod.AddMemberRef(r)
	if err != nil {
		return nil, err
	}
	imp.members[key] = ref
	Logger().Debug("imported member", zap.String("member", ref.FullName()))
	return ref, nil
}

// memberKey identifies a member reference by declaring assembly, full
// name (declaring type, name, parameter and return types) and arity.
func memberKey(r *metadata.MemberRef) string {
	var b strings.Builder
	if tr, ok := r.Parent.(*metadata.TypeRef); ok {
		if asm := tr.Assembly(); asm != nil {
			b.WriteByte('[')
			b.WriteString(strings.ToLower(asm.Name))
			b.WriteByte(']')
		}
	}
	if r.Method == nil {
		b.WriteString("field ")
		b.WriteString(r.FullName())
		return b.String()
	}
	b.WriteString(r.FullName())
	b.WriteByte('`')
	b.WriteString(strconv.FormatUint(uint64(r.Method.GenericParamCount), 10))
	if r.Method.HasThis {
		b.WriteString(" instance")
	}
	return b.String()
}
