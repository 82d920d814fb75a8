package metadata

import (
	"strconv"
	"strings"
)

// ElementType is a signature element type code (ECMA-335 II.23.1.16).
type ElementType byte

const (
	ElemEnd         ElementType = 0x00
	ElemVoid        ElementType = 0x01
	ElemBoolean     ElementType = 0x02
	ElemChar        ElementType = 0x03
	ElemI1          ElementType = 0x04
	ElemU1          ElementType = 0x05
	ElemI2          ElementType = 0x06
	ElemU2          ElementType = 0x07
	ElemI4          ElementType = 0x08
	ElemU4          ElementType = 0x09
	ElemI8          ElementType = 0x0A
	ElemU8          ElementType = 0x0B
	ElemR4          ElementType = 0x0C
	ElemR8          ElementType = 0x0D
	ElemString      ElementType = 0x0E
	ElemPtr         ElementType = 0x0F
	ElemByRef       ElementType = 0x10
	ElemValueType   ElementType = 0x11
	ElemClass       ElementType = 0x12
	ElemVar         ElementType = 0x13
	ElemArray       ElementType = 0x14
	ElemGenericInst ElementType = 0x15
	ElemTypedByRef  ElementType = 0x16
	ElemI           ElementType = 0x18
	ElemU           ElementType = 0x19
	ElemFnPtr       ElementType = 0x1B
	ElemObject      ElementType = 0x1C
	ElemSZArray     ElementType = 0x1D
	ElemMVar        ElementType = 0x1E
	ElemCModReqd    ElementType = 0x1F
	ElemCModOpt     ElementType = 0x20
	ElemInternal    ElementType = 0x21
	ElemSentinel    ElementType = 0x41
	ElemPinned      ElementType = 0x45

	// Custom attribute blob only.
	ElemSystemType ElementType = 0x50
	ElemBoxed      ElementType = 0x51
	ElemField      ElementType = 0x53
	ElemProperty   ElementType = 0x54
	ElemEnum       ElementType = 0x55
)

// TypeSig is a type as it appears in a signature.
type TypeSig interface {
	FullName() string
	typeSig()
}

// TypeDefOrRef is a type that can be named by a TypeDefOrRef token:
// *TypeDef, *TypeRef, *TypeSpec or a *CoreType marker.
type TypeDefOrRef interface {
	TypeSig
	typeDefOrRef()
}

// CoreType is a marker for a type of the core library. In signatures it
// encodes as its element type; used as a type token it becomes a TypeRef
// scoped to the module's core library reference.
type CoreType struct {
	Namespace string
	Name      string
	Element   ElementType
	ValueType bool
}

func (c *CoreType) FullName() string { return c.Namespace + "." + c.Name }
func (*CoreType) typeSig()           {}
func (*CoreType) typeDefOrRef()      {}

// Core type markers.
var (
	Void           = &CoreType{Namespace: "System", Name: "Void", Element: ElemVoid, ValueType: true}
	Boolean        = &CoreType{Namespace: "System", Name: "Boolean", Element: ElemBoolean, ValueType: true}
	Char           = &CoreType{Namespace: "System", Name: "Char", Element: ElemChar, ValueType: true}
	SByte          = &CoreType{Namespace: "System", Name: "SByte", Element: ElemI1, ValueType: true}
	Byte           = &CoreType{Namespace: "System", Name: "Byte", Element: ElemU1, ValueType: true}
	Int16          = &CoreType{Namespace: "System", Name: "Int16", Element: ElemI2, ValueType: true}
	UInt16         = &CoreType{Namespace: "System", Name: "UInt16", Element: ElemU2, ValueType: true}
	Int32          = &CoreType{Namespace: "System", Name: "Int32", Element: ElemI4, ValueType: true}
	UInt32         = &CoreType{Namespace: "System", Name: "UInt32", Element: ElemU4, ValueType: true}
	Int64          = &CoreType{Namespace: "System", Name: "Int64", Element: ElemI8, ValueType: true}
	UInt64         = &CoreType{Namespace: "System", Name: "UInt64", Element: ElemU8, ValueType: true}
	Single         = &CoreType{Namespace: "System", Name: "Single", Element: ElemR4, ValueType: true}
	Double         = &CoreType{Namespace: "System", Name: "Double", Element: ElemR8, ValueType: true}
	String         = &CoreType{Namespace: "System", Name: "String", Element: ElemString}
	IntPtr         = &CoreType{Namespace: "System", Name: "IntPtr", Element: ElemI, ValueType: true}
	UIntPtr        = &CoreType{Namespace: "System", Name: "UIntPtr", Element: ElemU, ValueType: true}
	TypedReference = &CoreType{Namespace: "System", Name: "TypedReference", Element: ElemTypedByRef, ValueType: true}
	Object         = &CoreType{Namespace: "System", Name: "Object", Element: ElemObject}
)

var coreTypes = []*CoreType{
	Void, Boolean, Char, SByte, Byte, Int16, UInt16, Int32, UInt32, Int64, UInt64,
	Single, Double, String, IntPtr, UIntPtr, TypedReference, Object,
}

// CoreTypeByElement returns the marker for a primitive element type.
func CoreTypeByElement(e ElementType) (*CoreType, bool) {
	for _, c := range coreTypes {
		if c.Element == e {
			return c, true
		}
	}
	return nil, false
}

// CoreTypeByName returns the marker whose full name is name.
func CoreTypeByName(name string) (*CoreType, bool) {
	for _, c := range coreTypes {
		if c.FullName() == name {
			return c, true
		}
	}
	return nil, false
}

// SZArray is a single-dimensional zero-based array.
type SZArray struct {
	Elem TypeSig
}

func (a *SZArray) FullName() string { return a.Elem.FullName() + "[]" }
func (*SZArray) typeSig()           {}

// ArrayType is a general (multi-dimensional) array.
type ArrayType struct {
	Elem     TypeSig
	Rank     uint32
	Sizes    []uint32
	LoBounds []int32
}

func (a *ArrayType) FullName() string {
	if a.Rank <= 1 {
		return a.Elem.FullName() + "[*]"
	}
	return a.Elem.FullName() + "[" + strings.Repeat(",", int(a.Rank)-1) + "]"
}
func (*ArrayType) typeSig() {}

// Pointer is an unmanaged pointer.
type Pointer struct {
	Elem TypeSig
}

func (p *Pointer) FullName() string { return p.Elem.FullName() + "*" }
func (*Pointer) typeSig()           {}

// ByRef is a managed reference.
type ByRef struct {
	Elem TypeSig
}

func (r *ByRef) FullName() string { return r.Elem.FullName() + "&" }
func (*ByRef) typeSig()           {}

// Pinned marks a pinned local.
type Pinned struct {
	Elem TypeSig
}

func (p *Pinned) FullName() string { return p.Elem.FullName() + " pinned" }
func (*Pinned) typeSig()           {}

// Modified is a type carrying a custom modifier.
type Modified struct {
	Elem     TypeSig
	Modifier TypeDefOrRef
	Required bool
}

func (m *Modified) FullName() string {
	kw := " modopt("
	if m.Required {
		kw = " modreq("
	}
	return m.Elem.FullName() + kw + m.Modifier.FullName() + ")"
}
func (*Modified) typeSig() {}

// GenericInst is an instantiated generic type.
type GenericInst struct {
	Generic TypeDefOrRef
	Args    []TypeSig
	// ValueType selects VALUETYPE over CLASS encoding.
	ValueType bool
}

func (g *GenericInst) FullName() string {
	var b strings.Builder
	b.WriteString(g.Generic.FullName())
	b.WriteByte('<')
	for i, a := range g.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.FullName())
	}
	b.WriteByte('>')
	return b.String()
}
func (*GenericInst) typeSig() {}

// GenericParam is a reference to a type (!n) or method (!!n) generic parameter.
type GenericParam struct {
	Index  uint32
	Method bool
}

func (g *GenericParam) FullName() string {
	if g.Method {
		return "!!" + strconv.FormatUint(uint64(g.Index), 10)
	}
	return "!" + strconv.FormatUint(uint64(g.Index), 10)
}
func (*GenericParam) typeSig() {}

// FnPtr is a function pointer type.
type FnPtr struct {
	Sig *MethodSig
}

func (f *FnPtr) FullName() string { return f.Sig.FullName("*") }
func (*FnPtr) typeSig()           {}

// CallingConvention is the first byte of a method signature.
type CallingConvention byte

const (
	ConvDefault      CallingConvention = 0x00
	ConvC            CallingConvention = 0x01
	ConvStdCall      CallingConvention = 0x02
	ConvThisCall     CallingConvention = 0x03
	ConvFastCall     CallingConvention = 0x04
	ConvVarArg       CallingConvention = 0x05
	ConvField        CallingConvention = 0x06
	ConvLocalSig     CallingConvention = 0x07
	ConvProperty     CallingConvention = 0x08
	ConvGenericInst  CallingConvention = 0x0A
	ConvGeneric      CallingConvention = 0x10
	ConvHasThis      CallingConvention = 0x20
	ConvExplicitThis CallingConvention = 0x40

	convKindMask CallingConvention = 0x0F
)

// MethodSig is a method signature: calling convention, return and parameter types.
type MethodSig struct {
	Return            TypeSig
	Params            []TypeSig
	GenericParamCount uint32
	CallConv          CallingConvention // low nibble only
	HasThis           bool
	ExplicitThis      bool
}

// Header returns the leading signature byte.
func (s *MethodSig) Header() byte {
	h := s.CallConv & convKindMask
	if s.GenericParamCount > 0 {
		h |= ConvGeneric
	}
	if s.HasThis {
		h |= ConvHasThis
	}
	if s.ExplicitThis {
		h |= ConvExplicitThis
	}
	return byte(h)
}

// FullName renders the signature as "Ret name(P1,P2)".
func (s *MethodSig) FullName(name string) string {
	var b strings.Builder
	if s.Return != nil {
		b.WriteString(s.Return.FullName())
	}
	b.WriteByte(' ')
	b.WriteString(name)
	b.WriteString(ParamList(s.Params))
	return b.String()
}

// ParamList renders "(T1,T2)".
func ParamList(params []TypeSig) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.FullName())
	}
	b.WriteByte(')')
	return b.String()
}

// ElementOf strips Pinned and Modified wrappers.
func ElementOf(t TypeSig) TypeSig {
	for {
		switch v := t.(type) {
		case *Pinned:
			t = v.Elem
		case *Modified:
			t = v.Elem
		default:
			return t
		}
	}
}

// IsVoid reports whether t is the void marker.
func IsVoid(t TypeSig) bool {
	return t == nil || ElementOf(t) == Void
}
