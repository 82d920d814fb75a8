package metadata

import (
	"crypto/sha1"
	"fmt"
	"path"
	"strings"

	"github.com/wippyai/clr-image/errors"
)

// DefaultRuntimeVersion is the metadata root version string of current runtimes.
const DefaultRuntimeVersion = "v4.0.30319"

// ModuleTypeName is the name of the implicit global type, always Types[0].
const ModuleTypeName = "<Module>"

// Version is a four-part assembly version.
type Version struct {
	Major, Minor, Build, Revision uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// State is the lifecycle state of a module.
type State byte

const (
	StateEmpty State = iota
	StatePopulated
	StateFinalized
	StateWritten
)

func (s State) String() string {
	switch s {
	case StatePopulated:
		return "populated"
	case StateFinalized:
		return "finalized"
	case StateWritten:
		return "written"
	}
	return "empty"
}

// Assembly is a named, versioned unit owning exactly one module.
type Assembly struct {
	Name             string
	Culture          string
	PublicKey        []byte
	CustomAttributes []*CustomAttribute
	Version          Version
	HashAlgorithm    uint32
	Flags            AssemblyFlags

	module *Module
}

// ModuleParameters configure a new module. Zero values select a console-less
// library for I386 on the current runtime version.
type ModuleParameters struct {
	Name           string
	RuntimeVersion string
	Kind           ModuleKind
	Architecture   Architecture
}

// NewAssembly creates an assembly with a single empty module. The module is
// named after the assembly with a ".dll" suffix unless p.Name is set.
func NewAssembly(name string, version Version, p ModuleParameters) *Assembly {
	a := &Assembly{Name: name, Version: version, HashAlgorithm: HashSHA1}
	m := NewModule(p)
	if m.Name == "" {
		m.Name = name + ".dll"
	}
	m.assembly = a
	a.module = m
	return a
}

// MainModule returns the assembly's only module.
func (a *Assembly) MainModule() *Module {
	return a.module
}

// SetModule attaches m as the assembly's module. Used by readers.
func (a *Assembly) SetModule(m *Module) {
	a.module = m
	m.assembly = a
}

// Rename changes the assembly name and the module name, keeping the
// module's file extension.
func (a *Assembly) Rename(name string) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseModel, "assembly name is empty")
	}
	m := a.module
	if err := m.mutate(); err != nil {
		return err
	}
	a.Name = name
	if m != nil {
		m.Name = name + path.Ext(m.Name)
	}
	return nil
}

// FullName returns the display name "Name, Version=..., Culture=..., PublicKeyToken=...".
func (a *Assembly) FullName() string {
	return displayName(a.Name, a.Version, a.Culture, PublicKeyToken(a.PublicKey))
}

// Module is the single module of an assembly: defined types, imported
// references and the debug data shared by its methods.
type Module struct {
	Name             string
	RuntimeVersion   string
	Types            []*TypeDef
	AssemblyRefs     []*AssemblyRef
	TypeRefs         []*TypeRef
	MemberRefs       []*MemberRef
	TypeSpecs        []*TypeSpec
	Documents        []*Document
	ImportScopes     *ImportScopes
	CustomDebugInfos []*CustomDebugInfo
	CustomAttributes []*CustomAttribute
	EntryPoint       *MethodDef

	// DroppedTables names tables that were present in a read image but are
	// not represented by the model.
	DroppedTables []string

	assembly     *Assembly
	Mvid         GUID
	Attributes   ModuleAttributes
	Architecture Architecture
	Kind         ModuleKind
	state        State
}

// NewModule creates a module holding only the <Module> type.
func NewModule(p ModuleParameters) *Module {
	m := &Module{
		Name:           p.Name,
		RuntimeVersion: p.RuntimeVersion,
		Kind:           p.Kind,
		Architecture:   p.Architecture,
		Attributes:     ModuleILOnly,
		ImportScopes:   &ImportScopes{},
	}
	if m.RuntimeVersion == "" {
		m.RuntimeVersion = DefaultRuntimeVersion
	}
	if m.Architecture == 0 {
		m.Architecture = ArchI386
	}
	global := &TypeDef{Name: ModuleTypeName, module: m}
	m.Types = []*TypeDef{global}
	return m
}

// Assembly returns the owning assembly.
func (m *Module) Assembly() *Assembly {
	return m.assembly
}

// State returns the lifecycle state.
func (m *Module) State() State {
	return m.state
}

// MarkPopulated moves the module to Populated. Readers call it after materializing.
func (m *Module) MarkPopulated() {
	m.state = StatePopulated
}

// MarkWritten moves a finalized module to the terminal Written state.
func (m *Module) MarkWritten() error {
	if m.state != StateFinalized {
		return errors.InvalidState(errors.PhaseWrite, "module must be finalized before it is written, state is "+m.state.String())
	}
	m.state = StateWritten
	return nil
}

// ErrModuleWritten is returned by mutators once the module has been written.
var ErrModuleWritten = errors.InvalidState(errors.PhaseModel, "module already written")

// mutate guards a structural change and drops a finalized module back to Populated.
func (m *Module) mutate() error {
	if m == nil {
		return nil
	}
	if m.state == StateWritten {
		return ErrModuleWritten
	}
	m.state = StatePopulated
	return nil
}

// GlobalType returns the implicit <Module> type.
func (m *Module) GlobalType() *TypeDef {
	return m.Types[0]
}

// AddType appends a top-level type.
func (m *Module) AddType(t *TypeDef) error {
	if err := m.mutate(); err != nil {
		return err
	}
	if t.DeclaringType != nil {
		return errors.InvalidInput(errors.PhaseModel, "nested type "+t.FullName()+" must be added to its declaring type")
	}
	for _, existing := range m.Types {
		if existing.Namespace == t.Namespace && existing.Name == t.Name {
			return errors.New(errors.PhaseModel, errors.KindInvalidInput).
				Member(t.FullName()).Detail("type already defined").Build()
		}
	}
	t.setModule(m)
	m.Types = append(m.Types, t)
	return nil
}

// RemoveType removes a top-level type.
func (m *Module) RemoveType(t *TypeDef) error {
	if err := m.mutate(); err != nil {
		return err
	}
	for i, existing := range m.Types {
		if existing == t && i > 0 {
			m.Types = append(m.Types[:i], m.Types[i+1:]...)
			t.setModule(nil)
			return nil
		}
	}
	return errors.NotFound(errors.PhaseModel, "type", t.FullName())
}

// Type finds a top-level type by namespace and name.
func (m *Module) Type(namespace, name string) (*TypeDef, error) {
	for _, t := range m.Types {
		if t.Namespace == namespace && t.Name == name {
			return t, nil
		}
	}
	full := name
	if namespace != "" {
		full = namespace + "." + name
	}
	return nil, errors.NotFound(errors.PhaseModel, "type", full)
}

// TypeByFullName finds a type by its full name; nested types use "Outer/Inner".
func (m *Module) TypeByFullName(fullName string) (*TypeDef, error) {
	parts := strings.Split(fullName, "/")
	ns, name := SplitFullName(parts[0])
	t, err := m.Type(ns, name)
	if err != nil {
		return nil, errors.NotFound(errors.PhaseModel, "type", fullName)
	}
	for _, p := range parts[1:] {
		if t, err = t.NestedType(p); err != nil {
			return nil, errors.NotFound(errors.PhaseModel, "type", fullName)
		}
	}
	return t, nil
}

// AllTypes returns every defined type, nested types following their declaring type.
func (m *Module) AllTypes() []*TypeDef {
	var out []*TypeDef
	var walk func(t *TypeDef)
	walk = func(t *TypeDef) {
		out = append(out, t)
		for _, n := range t.NestedTypes {
			walk(n)
		}
	}
	for _, t := range m.Types {
		walk(t)
	}
	return out
}

// AddAssemblyRef registers ref, returning an existing reference with the same
// simple name instead when there is one.
func (m *Module) AddAssemblyRef(ref *AssemblyRef) (*AssemblyRef, error) {
	for _, existing := range m.AssemblyRefs {
		if existing == ref || strings.EqualFold(existing.Name, ref.Name) {
			return existing, nil
		}
	}
	if err := m.mutate(); err != nil {
		return nil, err
	}
	m.AssemblyRefs = append(m.AssemblyRefs, ref)
	return ref, nil
}

// AssemblyRef finds a registered assembly reference by simple name.
func (m *Module) AssemblyRef(name string) (*AssemblyRef, error) {
	for _, r := range m.AssemblyRefs {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return nil, errors.NotFound(errors.PhaseModel, "assembly reference", name)
}

// AddTypeRef registers ref, returning an existing reference with the same
// scope, namespace and name instead when there is one.
func (m *Module) AddTypeRef(ref *TypeRef) (*TypeRef, error) {
	if existing := m.FindTypeRef(ref.Scope, ref.Namespace, ref.Name); existing != nil {
		return existing, nil
	}
	if err := m.mutate(); err != nil {
		return nil, err
	}
	m.TypeRefs = append(m.TypeRefs, ref)
	return ref, nil
}

// FindTypeRef returns the registered type reference matching scope, namespace and name.
func (m *Module) FindTypeRef(scope ResolutionScope, namespace, name string) *TypeRef {
	for _, r := range m.TypeRefs {
		if r.Scope == scope && r.Namespace == namespace && r.Name == name {
			return r
		}
	}
	return nil
}

// AddMemberRef registers ref unless the same instance is already present.
func (m *Module) AddMemberRef(ref *MemberRef) (*MemberRef, error) {
	for _, existing := range m.MemberRefs {
		if existing == ref {
			return existing, nil
		}
	}
	if err := m.mutate(); err != nil {
		return nil, err
	}
	m.MemberRefs = append(m.MemberRefs, ref)
	return ref, nil
}

// AddTypeSpec registers a type specification.
func (m *Module) AddTypeSpec(spec *TypeSpec) (*TypeSpec, error) {
	for _, existing := range m.TypeSpecs {
		if existing == spec {
			return existing, nil
		}
	}
	if err := m.mutate(); err != nil {
		return nil, err
	}
	m.TypeSpecs = append(m.TypeSpecs, spec)
	return spec, nil
}

// AddDocument registers doc, returning an existing document with the same name.
func (m *Module) AddDocument(doc *Document) (*Document, error) {
	for _, existing := range m.Documents {
		if existing == doc || existing.Name == doc.Name {
			return existing, nil
		}
	}
	if err := m.mutate(); err != nil {
		return nil, err
	}
	m.Documents = append(m.Documents, doc)
	return doc, nil
}

// SetEntryPoint sets the method the runtime calls first.
func (m *Module) SetEntryPoint(method *MethodDef) error {
	if err := m.mutate(); err != nil {
		return err
	}
	if method != nil && method.Module() != m {
		return errors.InvalidInput(errors.PhaseModel, "entry point "+method.FullName()+" is not defined in this module")
	}
	m.EntryPoint = method
	return nil
}

// CoreLibrary returns the assembly reference that core type markers are
// scoped to, preferring contract assemblies.
func (m *Module) CoreLibrary() *AssemblyRef {
	for _, name := range coreLibraryNames {
		for _, r := range m.AssemblyRefs {
			if strings.EqualFold(r.Name, name) {
				return r
			}
		}
	}
	return nil
}

var coreLibraryNames = []string{"System.Runtime", "netstandard", "mscorlib", "System.Private.CoreLib"}

// CoreTypeRef returns the registered TypeRef standing for marker c, or nil.
func (m *Module) CoreTypeRef(c *CoreType) *TypeRef {
	lib := m.CoreLibrary()
	if lib == nil {
		return nil
	}
	return m.FindTypeRef(lib, c.Namespace, c.Name)
}

// SplitFullName splits "A.B.C" into namespace "A.B" and name "C".
func SplitFullName(fullName string) (string, string) {
	if i := strings.LastIndexByte(fullName, '.'); i >= 0 {
		return fullName[:i], fullName[i+1:]
	}
	return "", fullName
}

// ResolutionScope is the scope of a TypeRef: *AssemblyRef, *TypeRef (nested)
// or *Module (a reference to a type of this module).
type ResolutionScope interface {
	resolutionScope()
}

func (*AssemblyRef) resolutionScope() {}
func (*TypeRef) resolutionScope()     {}
func (*Module) resolutionScope()      {}

// AssemblyRef references a foreign assembly.
type AssemblyRef struct {
	Name             string
	Culture          string
	PublicKeyOrToken []byte
	HashValue        []byte
	CustomAttributes []*CustomAttribute
	Version          Version
	Flags            AssemblyFlags
}

// FullName returns the assembly display name.
func (r *AssemblyRef) FullName() string {
	token := r.PublicKeyOrToken
	if r.Flags&AssemblyPublicKey != 0 {
		token = PublicKeyToken(token)
	}
	return displayName(r.Name, r.Version, r.Culture, token)
}

func displayName(name string, v Version, culture string, token []byte) string {
	if culture == "" {
		culture = "neutral"
	}
	tok := "null"
	if len(token) > 0 {
		tok = fmt.Sprintf("%x", token)
	}
	return fmt.Sprintf("%s, Version=%s, Culture=%s, PublicKeyToken=%s", name, v, culture, tok)
}

// TypeRef references a type defined outside this module.
type TypeRef struct {
	Scope            ResolutionScope
	Namespace        string
	Name             string
	CustomAttributes []*CustomAttribute
	// EnumUnderlying is the underlying type when the referenced type is a
	// known enum; custom attribute arguments of this type need it to decode.
	EnumUnderlying *CoreType
	IsValueType    bool
}

// FullName returns "Namespace.Name", with nested types as "Outer/Name".
func (r *TypeRef) FullName() string {
	if outer, ok := r.Scope.(*TypeRef); ok {
		return outer.FullName() + "/" + r.Name
	}
	if r.Namespace == "" {
		return r.Name
	}
	return r.Namespace + "." + r.Name
}
func (*TypeRef) typeSig()      {}
func (*TypeRef) typeDefOrRef() {}

// Assembly returns the assembly reference ultimately scoping r, or nil.
func (r *TypeRef) Assembly() *AssemblyRef {
	switch s := r.Scope.(type) {
	case *AssemblyRef:
		return s
	case *TypeRef:
		return s.Assembly()
	}
	return nil
}

// TypeSpec is a constructed type used where a type token is required.
type TypeSpec struct {
	Sig              TypeSig
	CustomAttributes []*CustomAttribute
}

func (s *TypeSpec) FullName() string { return s.Sig.FullName() }
func (*TypeSpec) typeSig()           {}
func (*TypeSpec) typeDefOrRef()      {}

// MethodRef is a method operand: *MethodDef or *MemberRef.
type MethodRef interface {
	FullName() string
	Signature() *MethodSig
	methodRef()
}

// FieldRef is a field operand: *FieldDef or *MemberRef.
type FieldRef interface {
	FullName() string
	fieldRef()
}

// MemberRef references a method or field of a foreign (or constructed) type.
type MemberRef struct {
	Parent           TypeDefOrRef
	Method           *MethodSig // nil for a field reference
	Field            TypeSig
	Name             string
	CustomAttributes []*CustomAttribute
}

// IsField reports whether r references a field.
func (r *MemberRef) IsField() bool {
	return r.Method == nil
}

// Signature returns the method signature, or nil for a field reference.
func (r *MemberRef) Signature() *MethodSig {
	return r.Method
}

// FullName renders "Ret Decl::Name(P1,P2)" or "Type Decl::Name".
func (r *MemberRef) FullName() string {
	owner := ""
	if r.Parent != nil {
		owner = r.Parent.FullName() + "::"
	}
	if r.Method != nil {
		return r.Method.FullName(owner + r.Name)
	}
	if r.Field == nil {
		return owner + r.Name
	}
	return r.Field.FullName() + " " + owner + r.Name
}
func (*MemberRef) methodRef() {}
func (*MemberRef) fieldRef()  {}

// TypeDef is a type defined in this module.
type TypeDef struct {
	BaseType         TypeDefOrRef
	DeclaringType    *TypeDef
	Namespace        string
	Name             string
	Fields           []*FieldDef
	Methods          []*MethodDef
	NestedTypes      []*TypeDef
	CustomAttributes []*CustomAttribute
	Attributes       TypeAttributes

	module *Module
}

// NewTypeDef creates an unattached type.
func NewTypeDef(namespace, name string, attrs TypeAttributes, base TypeDefOrRef) *TypeDef {
	return &TypeDef{Namespace: namespace, Name: name, Attributes: attrs, BaseType: base}
}

// FullName returns "Namespace.Name", with nested types as "Outer/Name".
func (t *TypeDef) FullName() string {
	if t.DeclaringType != nil {
		return t.DeclaringType.FullName() + "/" + t.Name
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}
func (*TypeDef) typeSig()      {}
func (*TypeDef) typeDefOrRef() {}

// Module returns the owning module, or nil while unattached.
func (t *TypeDef) Module() *Module {
	return t.module
}

func (t *TypeDef) setModule(m *Module) {
	t.module = m
	for _, n := range t.NestedTypes {
		n.setModule(m)
	}
}

// IsValueType reports whether the base type is System.ValueType or System.Enum.
func (t *TypeDef) IsValueType() bool {
	if t.BaseType == nil {
		return false
	}
	name := t.BaseType.FullName()
	if name == "System.Enum" {
		return t.FullName() != "System.ValueType"
	}
	return name == "System.ValueType" && t.FullName() != "System.Enum"
}

// EnumUnderlying returns the type of the value__ field of an enum.
func (t *TypeDef) EnumUnderlying() (*CoreType, bool) {
	if t.BaseType == nil || t.BaseType.FullName() != "System.Enum" {
		return nil, false
	}
	for _, f := range t.Fields {
		if f.Attributes&FieldStatic == 0 {
			c, ok := f.Type.(*CoreType)
			return c, ok
		}
	}
	return nil, false
}

// AddMethod appends a method.
func (t *TypeDef) AddMethod(m *MethodDef) error {
	if err := t.module.mutate(); err != nil {
		return err
	}
	m.DeclaringType = t
	t.Methods = append(t.Methods, m)
	return nil
}

// RemoveMethod removes a method.
func (t *TypeDef) RemoveMethod(m *MethodDef) error {
	if err := t.module.mutate(); err != nil {
		return err
	}
	for i, existing := range t.Methods {
		if existing == m {
			t.Methods = append(t.Methods[:i], t.Methods[i+1:]...)
			m.DeclaringType = nil
			return nil
		}
	}
	return errors.NotFound(errors.PhaseModel, "method", m.Name)
}

// AddField appends a field.
func (t *TypeDef) AddField(f *FieldDef) error {
	if err := t.module.mutate(); err != nil {
		return err
	}
	f.DeclaringType = t
	t.Fields = append(t.Fields, f)
	return nil
}

// RemoveField removes a field.
func (t *TypeDef) RemoveField(f *FieldDef) error {
	if err := t.module.mutate(); err != nil {
		return err
	}
	for i, existing := range t.Fields {
		if existing == f {
			t.Fields = append(t.Fields[:i], t.Fields[i+1:]...)
			f.DeclaringType = nil
			return nil
		}
	}
	return errors.NotFound(errors.PhaseModel, "field", f.Name)
}

// AddNestedType appends a nested type.
func (t *TypeDef) AddNestedType(n *TypeDef) error {
	if err := t.module.mutate(); err != nil {
		return err
	}
	n.DeclaringType = t
	n.setModule(t.module)
	t.NestedTypes = append(t.NestedTypes, n)
	return nil
}

// Method finds a method by name. Overloaded names are ambiguous; use
// Methods to list them.
func (t *TypeDef) Method(name string) (*MethodDef, error) {
	found := t.MethodsNamed(name)
	switch len(found) {
	case 0:
		return nil, errors.New(errors.PhaseModel, errors.KindNotFound).
			Path(t.FullName()).Member(name).Detail("method %q not found", name).Build()
	case 1:
		return found[0], nil
	}
	names := make([]string, len(found))
	for i, m := range found {
		names[i] = m.FullName()
	}
	err := errors.AmbiguousMember(t.FullName(), name, names)
	err.Phase = errors.PhaseModel
	return nil, err
}

// MethodsNamed returns every method named name, in declaration order.
func (t *TypeDef) MethodsNamed(name string) []*MethodDef {
	var out []*MethodDef
	for _, m := range t.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// Constructors returns the instance constructors.
func (t *TypeDef) Constructors() []*MethodDef {
	var out []*MethodDef
	for _, m := range t.Methods {
		if m.Name == ".ctor" && m.Attributes&MethodStatic == 0 {
			out = append(out, m)
		}
	}
	return out
}

// Field finds a field by name.
func (t *TypeDef) Field(name string) (*FieldDef, error) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, errors.New(errors.PhaseModel, errors.KindNotFound).
		Path(t.FullName()).Member(name).Detail("field %q not found", name).Build()
}

// NestedType finds a nested type by name.
func (t *TypeDef) NestedType(name string) (*TypeDef, error) {
	for _, n := range t.NestedTypes {
		if n.Name == name {
			return n, nil
		}
	}
	return nil, errors.New(errors.PhaseModel, errors.KindNotFound).
		Path(t.FullName()).Member(name).Detail("nested type %q not found", name).Build()
}

// FieldDef is a field defined in this module.
type FieldDef struct {
	Type             TypeSig
	DeclaringType    *TypeDef
	Name             string
	CustomAttributes []*CustomAttribute
	Attributes       FieldAttributes
}

// NewFieldDef creates an unattached field.
func NewFieldDef(name string, attrs FieldAttributes, typ TypeSig) *FieldDef {
	return &FieldDef{Name: name, Attributes: attrs, Type: typ}
}

// FullName renders "Type Decl::Name".
func (f *FieldDef) FullName() string {
	owner := ""
	if f.DeclaringType != nil {
		owner = f.DeclaringType.FullName() + "::"
	}
	return f.Type.FullName() + " " + owner + f.Name
}
func (*FieldDef) fieldRef() {}

// Module returns the module of the declaring type.
func (f *FieldDef) Module() *Module {
	if f.DeclaringType == nil {
		return nil
	}
	return f.DeclaringType.module
}

// MethodDef is a method defined in this module.
type MethodDef struct {
	ReturnType       TypeSig
	DeclaringType    *TypeDef
	ReturnParameter  *Parameter
	Body             *Body
	DebugInfo        *DebugInfo
	Name             string
	Parameters       []*Parameter
	CustomAttributes []*CustomAttribute

	// GenericParamCount is carried into the signature; GenericParam rows are not modeled.
	GenericParamCount uint32
	CallConv          CallingConvention
	Attributes        MethodAttributes
	ImplAttributes    MethodImplAttributes
}

// NewMethodDef creates an unattached method with an empty body.
func NewMethodDef(name string, attrs MethodAttributes, returnType TypeSig) *MethodDef {
	m := &MethodDef{Name: name, Attributes: attrs, ReturnType: returnType}
	m.Body = newBody(m)
	m.DebugInfo = &DebugInfo{method: m}
	return m
}

// IsStatic reports whether the method has no this parameter.
func (m *MethodDef) IsStatic() bool {
	return m.Attributes&MethodStatic != 0
}

// HasBody reports whether the method carries IL.
func (m *MethodDef) HasBody() bool {
	return m.Attributes&(MethodAbstract|MethodPInvokeImpl) == 0 &&
		m.ImplAttributes&ImplCodeTypeMask == ImplIL &&
		m.ImplAttributes&ImplInternalCall == 0
}

// Signature derives the method signature from the definition.
func (m *MethodDef) Signature() *MethodSig {
	params := make([]TypeSig, len(m.Parameters))
	for i, p := range m.Parameters {
		params[i] = p.Type
	}
	return &MethodSig{
		Return:            m.ReturnType,
		Params:            params,
		GenericParamCount: m.GenericParamCount,
		CallConv:          m.CallConv,
		HasThis:           !m.IsStatic(),
	}
}

// FullName renders "Ret Decl::Name(P1,P2)".
func (m *MethodDef) FullName() string {
	owner := ""
	if m.DeclaringType != nil {
		owner = m.DeclaringType.FullName() + "::"
	}
	return m.Signature().FullName(owner + m.Name)
}
func (*MethodDef) methodRef() {}

// Module returns the module of the declaring type.
func (m *MethodDef) Module() *Module {
	if m.DeclaringType == nil {
		return nil
	}
	return m.DeclaringType.module
}

// AddParameter appends a parameter; its sequence is its position plus one.
func (m *MethodDef) AddParameter(p *Parameter) error {
	if err := m.Module().mutate(); err != nil {
		return err
	}
	p.method = m
	m.Parameters = append(m.Parameters, p)
	return nil
}

// RemoveParameter removes a parameter, renumbering those after it.
func (m *MethodDef) RemoveParameter(p *Parameter) error {
	if err := m.Module().mutate(); err != nil {
		return err
	}
	for i, existing := range m.Parameters {
		if existing == p {
			m.Parameters = append(m.Parameters[:i], m.Parameters[i+1:]...)
			p.method = nil
			return nil
		}
	}
	return errors.NotFound(errors.PhaseModel, "parameter", p.Name)
}

// Parameter finds a parameter by name.
func (m *MethodDef) Parameter(name string) (*Parameter, error) {
	for _, p := range m.Parameters {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, errors.New(errors.PhaseModel, errors.KindNotFound).
		Path(m.FullName()).Member(name).Detail("parameter %q not found", name).Build()
}

// Parameter is a method parameter. The sequence is derived from its position.
type Parameter struct {
	Type             TypeSig
	Name             string
	CustomAttributes []*CustomAttribute
	Attributes       ParamAttributes

	method *MethodDef
	this   bool
}

// NewParameter creates an unattached parameter.
func NewParameter(name string, attrs ParamAttributes, typ TypeSig) *Parameter {
	return &Parameter{Name: name, Attributes: attrs, Type: typ}
}

// Method returns the owning method.
func (p *Parameter) Method() *MethodDef {
	return p.method
}

// Sequence returns the 1-based position, 0 for the return parameter and
// the implicit this parameter, or -1 when detached.
func (p *Parameter) Sequence() int {
	if p.method == nil {
		return -1
	}
	if p.this || p == p.method.ReturnParameter {
		return 0
	}
	for i, q := range p.method.Parameters {
		if q == p {
			return i + 1
		}
	}
	return -1
}

// ArgIndex returns the index used by ldarg/starg, counting this for instance methods.
func (p *Parameter) ArgIndex() int {
	if p.this {
		return 0
	}
	seq := p.Sequence()
	if seq <= 0 {
		return -1
	}
	if p.method.IsStatic() {
		return seq - 1
	}
	return seq
}

// SetReturnParameter attaches a return parameter (sequence 0) for attributes.
func (m *MethodDef) SetReturnParameter(p *Parameter) {
	if p != nil {
		p.method = m
	}
	m.ReturnParameter = p
}

// PublicKeyToken derives the 8-byte token of a public key: the last eight
// bytes of its SHA-1 hash, reversed. Tokens pass through unchanged.
func PublicKeyToken(key []byte) []byte {
	if len(key) <= 8 {
		return key
	}
	sum := sha1.Sum(key)
	token := make([]byte, 8)
	for i := range token {
		token[i] = sum[len(sum)-1-i]
	}
	return token
}
