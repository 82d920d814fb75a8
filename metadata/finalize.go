package metadata

import (
	"strings"

	"github.com/wippyai/clr-image/errors"
)

// DefaultImplementationAssemblies are the assembly name prefixes an image
// must not reference: they provide implementations, not contracts.
var DefaultImplementationAssemblies = []string{"System.Private.CoreLib", "mscorlib"}

// FinalizeOptions tune Module.Finalize.
type FinalizeOptions struct {
	// ImplementationAssemblies lists forbidden name prefixes, compared
	// case-insensitively. Nil selects DefaultImplementationAssemblies; an
	// empty non-nil slice disables the check.
	ImplementationAssemblies []string
}

// Finalize validates the module and moves it to Finalized:
//   - an executable module has an entry point defined in the module
//   - every non-empty body ends in a control transfer and every branch
//     target, scope bound and handler bound has been appended
//   - every reference reachable from the module is registered in it
//   - core type markers used as type tokens have a TypeRef scoped to the
//     core library, which is created when missing
//   - no assembly reference names an implementation assembly
func (m *Module) Finalize(opts *FinalizeOptions) error {
	if m.state == StateWritten {
		return ErrModuleWritten
	}
	if m.Kind.Executable() && m.EntryPoint == nil {
		return errors.InvalidState(errors.PhaseModel, "executable module "+m.Name+" has no entry point")
	}
	if m.EntryPoint != nil && m.EntryPoint.Module() != m {
		return errors.InvalidInput(errors.PhaseModel, "entry point "+m.EntryPoint.FullName()+" is not defined in this module")
	}

	w := newRefWalker(m)
	w.walkModule()
	if w.err != nil {
		return w.err
	}

	lib := m.CoreLibrary()
	if lib == nil {
		for _, c := range w.coreOrder {
			w.missing = append(w.missing, "core library reference for "+c.FullName())
		}
	}
	if len(w.missing) > 0 {
		return errors.UnresolvedReference(w.missing)
	}

	forbidden := DefaultImplementationAssemblies
	if opts != nil && opts.ImplementationAssemblies != nil {
		forbidden = opts.ImplementationAssemblies
	}
	for _, ref := range m.AssemblyRefs {
		for _, prefix := range forbidden {
			if len(ref.Name) >= len(prefix) && strings.EqualFold(ref.Name[:len(prefix)], prefix) {
				return errors.ImplementationReference(ref.Name)
			}
		}
	}

	// The module changes only once every check has passed.
	for _, c := range w.coreOrder {
		if m.FindTypeRef(lib, c.Namespace, c.Name) == nil {
			m.TypeRefs = append(m.TypeRefs, &TypeRef{
				Scope: lib, Namespace: c.Namespace, Name: c.Name, IsValueType: c.ValueType,
			})
		}
	}

	m.state = StateFinalized
	return nil
}

// refWalker visits everything a module reaches and records references
// that are not registered in it.
type refWalker struct {
	m          *Module
	typeRefs   map[*TypeRef]bool
	memberRefs map[*MemberRef]bool
	asmRefs    map[*AssemblyRef]bool
	core       map[*CoreType]bool
	coreOrder  []*CoreType
	reported   map[any]bool
	missing    []string
	err        error
}

func newRefWalker(m *Module) *refWalker {
	w := &refWalker{
		m:          m,
		typeRefs:   make(map[*TypeRef]bool, len(m.TypeRefs)),
		memberRefs: make(map[*MemberRef]bool, len(m.MemberRefs)),
		asmRefs:    make(map[*AssemblyRef]bool, len(m.AssemblyRefs)),
		core:       map[*CoreType]bool{},
		reported:   map[any]bool{},
	}
	for _, r := range m.TypeRefs {
		w.typeRefs[r] = true
	}
	for _, r := range m.MemberRefs {
		w.memberRefs[r] = true
	}
	for _, r := range m.AssemblyRefs {
		w.asmRefs[r] = true
	}
	return w
}

func (w *refWalker) report(key any, what string) {
	if !w.reported[key] {
		w.reported[key] = true
		w.missing = append(w.missing, what)
	}
}

func (w *refWalker) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *refWalker) walkModule() {
	m := w.m
	if a := m.Assembly(); a != nil {
		w.attrs(a.CustomAttributes)
	}
	w.attrs(m.CustomAttributes)
	for _, r := range m.AssemblyRefs {
		w.attrs(r.CustomAttributes)
	}
	for _, r := range m.TypeRefs {
		w.scope(r)
		w.attrs(r.CustomAttributes)
	}
	for _, r := range m.MemberRefs {
		w.memberRef(r)
	}
	for _, s := range m.TypeSpecs {
		w.sig(s.Sig)
		w.attrs(s.CustomAttributes)
	}
	for _, t := range m.AllTypes() {
		w.typeDef(t)
	}
	m.ImportScopes.Each(func(_ ImportScopeID, s *ImportScope) {
		for _, t := range s.Targets {
			if t.Assembly != nil {
				w.assemblyRef(t.Assembly)
			}
			if t.Type != nil {
				w.typeToken(t.Type)
			}
		}
	})
	for _, cdi := range m.CustomDebugInfos {
		switch p := cdi.Parent.(type) {
		case *TypeDef:
			w.typeToken(p)
		case *MethodDef:
			w.methodRef(p)
		case *FieldDef:
			w.fieldRef(p)
		}
	}
}

func (w *refWalker) typeDef(t *TypeDef) {
	if t.BaseType != nil {
		w.typeToken(t.BaseType)
	}
	w.attrs(t.CustomAttributes)
	for _, f := range t.Fields {
		w.sig(f.Type)
		w.attrs(f.CustomAttributes)
	}
	for _, md := range t.Methods {
		w.method(md)
	}
}

func (w *refWalker) method(md *MethodDef) {
	w.sig(md.ReturnType)
	w.attrs(md.CustomAttributes)
	for _, p := range md.Parameters {
		w.sig(p.Type)
		w.attrs(p.CustomAttributes)
	}
	if md.ReturnParameter != nil {
		w.attrs(md.ReturnParameter.CustomAttributes)
	}
	if md.Body == nil || !md.HasBody() {
		return
	}
	body := md.Body
	if !body.Terminated() {
		w.fail(errors.New(errors.PhaseBuild, errors.KindInvalidInput).
			Member(md.FullName()).Detail("body does not end in a control transfer").Build())
	}
	for _, v := range body.Variables {
		w.sig(v.Type)
	}
	for _, ins := range body.Instructions {
		w.operand(md, ins)
	}
	for _, eh := range body.ExceptionHandlers {
		for _, bound := range []*Instruction{eh.TryStart, eh.TryEnd, eh.HandlerStart, eh.HandlerEnd, eh.FilterStart} {
			w.attached(md, bound, "exception handler bound")
		}
		if eh.CatchType != nil {
			w.typeToken(eh.CatchType)
		}
	}
	if d := md.DebugInfo; d != nil {
		for _, sp := range d.SequencePoints {
			w.attached(md, sp.Instruction, "sequence point")
		}
		if d.Scope != nil {
			d.Scope.Walk(func(s *Scope) {
				w.attached(md, s.Start, "scope start")
				w.attached(md, s.End, "scope end")
			})
		}
	}
}

func (w *refWalker) attached(md *MethodDef, ins *Instruction, what string) {
	if ins == nil {
		return
	}
	if ins.body != md.Body {
		w.fail(errors.CrossMethodScope(md.FullName(), what))
		return
	}
	if ins.index < 0 {
		w.fail(errors.New(errors.PhaseBuild, errors.KindInvalidOperand).
			Member(md.FullName()).Detail("%s %s was never appended", what, ins.Op).Build())
	}
}

func (w *refWalker) operand(md *MethodDef, ins *Instruction) {
	switch v := ins.Operand.(type) {
	case *Instruction:
		w.attached(md, v, "branch target")
	case []*Instruction:
		for _, t := range v {
			w.attached(md, t, "switch target")
		}
	case *MethodSig:
		w.methodSig(v)
	case *MemberRef:
		w.memberRef(v)
	case *MethodDef:
		w.methodRef(v)
	case *FieldDef:
		w.fieldRef(v)
	case TypeDefOrRef:
		w.typeToken(v)
	}
}

func (w *refWalker) attrs(list []*CustomAttribute) {
	for _, ca := range list {
		if ca.Constructor == nil {
			w.fail(errors.InvalidInput(errors.PhaseModel, "custom attribute without constructor"))
			continue
		}
		w.methodRef(ca.Constructor)
	}
}

func (w *refWalker) methodRef(r MethodRef) {
	switch v := r.(type) {
	case *MemberRef:
		w.memberRef(v)
	case *MethodDef:
		if v.Module() != w.m {
			w.report(v, "method "+v.FullName()+" is defined in another module")
		}
	}
}

func (w *refWalker) fieldRef(r FieldRef) {
	switch v := r.(type) {
	case *MemberRef:
		w.memberRef(v)
	case *FieldDef:
		if v.Module() != w.m {
			w.report(v, "field "+v.FullName()+" is defined in another module")
		}
	}
}

func (w *refWalker) memberRef(r *MemberRef) {
	if !w.memberRefs[r] {
		w.report(r, r.FullName())
		return
	}
	if w.reported[r] {
		return
	}
	w.reported[r] = true
	if r.Parent == nil {
		w.fail(errors.InvalidInput(errors.PhaseModel, "member reference "+r.Name+" has no parent type"))
		return
	}
	w.typeToken(r.Parent)
	if r.Method != nil {
		w.methodSig(r.Method)
	} else {
		w.sig(r.Field)
	}
	w.attrs(r.CustomAttributes)
}

func (w *refWalker) methodSig(s *MethodSig) {
	w.sig(s.Return)
	for _, p := range s.Params {
		w.sig(p)
	}
}

func (w *refWalker) typeToken(t TypeDefOrRef) {
	switch v := t.(type) {
	case *CoreType:
		if !w.core[v] {
			w.core[v] = true
			w.coreOrder = append(w.coreOrder, v)
		}
	case *TypeRef:
		if !w.typeRefs[v] {
			w.report(v, v.FullName())
			return
		}
		w.scope(v)
	case *TypeDef:
		if v.Module() != w.m {
			w.report(v, "type "+v.FullName()+" is defined in another module")
		}
	case *TypeSpec:
		w.sig(v.Sig)
	}
}

func (w *refWalker) scope(r *TypeRef) {
	switch s := r.Scope.(type) {
	case *AssemblyRef:
		w.assemblyRef(s)
	case *TypeRef:
		w.typeToken(s)
	case *Module:
		if s != w.m {
			w.report(r, "type reference "+r.FullName()+" is scoped to another module")
		}
	case nil:
		w.report(r, "type reference "+r.FullName()+" has no resolution scope")
	}
}

func (w *refWalker) assemblyRef(a *AssemblyRef) {
	if !w.asmRefs[a] {
		w.report(a, "assembly "+a.Name)
	}
}

func (w *refWalker) sig(t TypeSig) {
	switch v := t.(type) {
	case nil, *CoreType, *GenericParam:
	case *TypeDef, *TypeRef, *TypeSpec:
		w.typeToken(v.(TypeDefOrRef))
	case *SZArray:
		w.sig(v.Elem)
	case *ArrayType:
		w.sig(v.Elem)
	case *Pointer:
		w.sig(v.Elem)
	case *ByRef:
		w.sig(v.Elem)
	case *Pinned:
		w.sig(v.Elem)
	case *Modified:
		w.typeToken(v.Modifier)
		w.sig(v.Elem)
	case *GenericInst:
		w.typeToken(v.Generic)
		for _, a := range v.Args {
			w.sig(a)
		}
	case *FnPtr:
		w.methodSig(v.Sig)
	}
}
