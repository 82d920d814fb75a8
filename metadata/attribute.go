package metadata

import (
	"fmt"
	"math"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/internal/binary"
)

// CustomAttribute is an attribute instance: a constructor plus typed
// arguments. Raw holds the encoded blob of an attribute read from an image;
// when set it is written verbatim and the typed arguments are informational.
type CustomAttribute struct {
	Constructor MethodRef
	Args        []CAArgument
	Named       []CANamedArgument
	Raw         []byte
}

// NewCustomAttribute creates an attribute with fixed arguments.
func NewCustomAttribute(ctor MethodRef, args ...CAArgument) *CustomAttribute {
	return &CustomAttribute{Constructor: ctor, Args: args}
}

// AddProperty appends a named property argument.
func (ca *CustomAttribute) AddProperty(name string, typ TypeSig, value any) {
	ca.Raw = nil
	ca.Named = append(ca.Named, CANamedArgument{Name: name, Arg: CAArgument{Type: typ, Value: value}})
}

// AddField appends a named field argument.
func (ca *CustomAttribute) AddField(name string, typ TypeSig, value any) {
	ca.Raw = nil
	ca.Named = append(ca.Named, CANamedArgument{Name: name, Field: true, Arg: CAArgument{Type: typ, Value: value}})
}

// CAArgument is a typed literal. Values are Go scalars matching the type:
// bool, uint16 (char), int8..uint64, float32, float64, string (also for
// System.Type), []CAArgument for arrays, CAArgument for boxed object
// arguments. Enum values use the Go integer type of the underlying type.
type CAArgument struct {
	Type  TypeSig
	Value any
}

// CANamedArgument is a field or property assignment.
type CANamedArgument struct {
	Name  string
	Arg   CAArgument
	Field bool
}

const caProlog = 0x0001

// EncodeValue serializes the attribute arguments to the #Blob form.
func (ca *CustomAttribute) EncodeValue() ([]byte, error) {
	if ca.Raw != nil {
		return ca.Raw, nil
	}
	w := binary.NewWriter()
	w.WriteU16(caProlog)
	for i, a := range ca.Args {
		if err := encodeElem(w, a.Type, a.Value); err != nil {
			return nil, caError(ca, fmt.Sprintf("argument %d", i), err)
		}
	}
	w.WriteU16(uint16(len(ca.Named)))
	for _, n := range ca.Named {
		if n.Field {
			w.Byte(byte(ElemField))
		} else {
			w.Byte(byte(ElemProperty))
		}
		if err := encodeFieldOrPropType(w, n.Arg.Type); err != nil {
			return nil, caError(ca, n.Name, err)
		}
		writeSerString(w, &n.Name)
		if err := encodeElem(w, n.Arg.Type, n.Arg.Value); err != nil {
			return nil, caError(ca, n.Name, err)
		}
	}
	return w.Bytes(), nil
}

func caError(ca *CustomAttribute, what string, err error) error {
	ctor := ""
	if ca.Constructor != nil {
		ctor = ca.Constructor.FullName()
	}
	return errors.New(errors.PhaseWrite, errors.KindInvalidInput).
		Member(ctor).Cause(err).Detail("custom attribute %s", what).Build()
}

func writeSerString(w *binary.Writer, s *string) {
	if s == nil {
		w.Byte(0xFF)
		return
	}
	_ = w.WriteCompressedU32(uint32(len(*s)))
	w.WriteString(*s)
}

// enumUnderlying returns the underlying primitive of an enum-typed argument, or
// nil when t is not an enum this module can see into.
func enumUnderlying(t TypeSig) *CoreType {
	switch v := t.(type) {
	case *TypeRef:
		return v.EnumUnderlying
	case *TypeDef:
		c, _ := v.EnumUnderlying()
		return c
	}
	return nil
}

func encodeFieldOrPropType(w *binary.Writer, t TypeSig) error {
	switch v := t.(type) {
	case *CoreType:
		if v == Object {
			w.Byte(byte(ElemBoxed))
			return nil
		}
		w.Byte(byte(v.Element))
		return nil
	case *SZArray:
		w.Byte(byte(ElemSZArray))
		return encodeFieldOrPropType(w, v.Elem)
	case *TypeRef, *TypeDef:
		if t.FullName() == "System.Type" {
			w.Byte(byte(ElemSystemType))
			return nil
		}
		w.Byte(byte(ElemEnum))
		name := assemblyQualifiedName(t)
		writeSerString(w, &name)
		return nil
	}
	return fmt.Errorf("type %s cannot appear in a custom attribute", t.FullName())
}

// assemblyQualifiedName renders "Ns.Outer+Inner, Assembly, Version=..." as the
// runtime parses it.
func assemblyQualifiedName(t TypeSig) string {
	switch v := t.(type) {
	case *TypeRef:
		name := v.Name
		scope := v.Scope
		for {
			outer, ok := scope.(*TypeRef)
			if !ok {
				break
			}
			name = outer.Name + "+" + name
			if outer.Namespace != "" {
				name = outer.Namespace + "." + name
			}
			scope = outer.Scope
		}
		if _, nested := v.Scope.(*TypeRef); !nested && v.Namespace != "" {
			name = v.Namespace + "." + name
		}
		if asm := v.Assembly(); asm != nil {
			return name + ", " + asm.FullName()
		}
		return name
	case *TypeDef:
		name := v.Name
		for outer := v.DeclaringType; outer != nil; outer = outer.DeclaringType {
			name = outer.Name + "+" + name
			if outer.DeclaringType == nil && outer.Namespace != "" {
				name = outer.Namespace + "." + name
			}
		}
		if v.DeclaringType == nil && v.Namespace != "" {
			name = v.Namespace + "." + name
		}
		return name
	}
	return t.FullName()
}

func encodeElem(w *binary.Writer, t TypeSig, value any) error {
	if u := enumUnderlying(t); u != nil {
		t = u
	}
	switch v := t.(type) {
	case *SZArray:
		if value == nil {
			w.WriteU32(math.MaxUint32)
			return nil
		}
		items, ok := value.([]CAArgument)
		if !ok {
			return fmt.Errorf("array value must be []CAArgument, got %T", value)
		}
		w.WriteU32(uint32(len(items)))
		for _, it := range items {
			et := it.Type
			if et == nil {
				et = v.Elem
			}
			if err := encodeElem(w, et, it.Value); err != nil {
				return err
			}
		}
		return nil
	case *CoreType:
		if v == Object {
			boxed, ok := value.(CAArgument)
			if !ok {
				return fmt.Errorf("object value must be a boxed CAArgument, got %T", value)
			}
			if err := encodeFieldOrPropType(w, boxed.Type); err != nil {
				return err
			}
			return encodeElem(w, boxed.Type, boxed.Value)
		}
		return encodePrimitive(w, v, value)
	case *TypeRef, *TypeDef:
		if t.FullName() == "System.Type" {
			return encodeString(w, value)
		}
		return encodeInferred(w, value)
	}
	return fmt.Errorf("type %s cannot appear in a custom attribute", t.FullName())
}

func encodeString(w *binary.Writer, value any) error {
	switch s := value.(type) {
	case nil:
		writeSerString(w, nil)
	case string:
		writeSerString(w, &s)
	case *string:
		writeSerString(w, s)
	default:
		return fmt.Errorf("string value expected, got %T", value)
	}
	return nil
}

func encodePrimitive(w *binary.Writer, c *CoreType, value any) error {
	mismatch := fmt.Errorf("value %v (%T) does not match %s", value, value, c.FullName())
	switch c.Element {
	case ElemString:
		return encodeString(w, value)
	case ElemBoolean:
		b, ok := value.(bool)
		if !ok {
			return mismatch
		}
		if b {
			w.Byte(1)
		} else {
			w.Byte(0)
		}
		return nil
	case ElemChar, ElemI1, ElemU1, ElemI2, ElemU2, ElemI4, ElemU4, ElemI8, ElemU8, ElemR4, ElemR8:
		if !primitiveMatches(c.Element, value) {
			return mismatch
		}
		return encodeInferred(w, value)
	}
	return mismatch
}

func primitiveMatches(e ElementType, value any) bool {
	switch value.(type) {
	case int8:
		return e == ElemI1
	case uint8:
		return e == ElemU1
	case int16:
		return e == ElemI2
	case uint16:
		return e == ElemU2 || e == ElemChar
	case int32:
		return e == ElemI4
	case uint32:
		return e == ElemU4
	case int64:
		return e == ElemI8
	case uint64:
		return e == ElemU8
	case float32:
		return e == ElemR4
	case float64:
		return e == ElemR8
	}
	return false
}

// encodeInferred writes a scalar using the width of its Go type. Enum
// values of types whose underlying type is unknown take this path.
func encodeInferred(w *binary.Writer, value any) error {
	switch v := value.(type) {
	case bool:
		if v {
			w.Byte(1)
		} else {
			w.Byte(0)
		}
	case int8:
		w.Byte(byte(v))
	case uint8:
		w.Byte(v)
	case int16:
		w.WriteU16(uint16(v))
	case uint16:
		w.WriteU16(v)
	case int32:
		w.WriteU32(uint32(v))
	case uint32:
		w.WriteU32(v)
	case int64:
		w.WriteU64(uint64(v))
	case uint64:
		w.WriteU64(v)
	case float32:
		w.WriteU32(math.Float32bits(v))
	case float64:
		w.WriteU64(math.Float64bits(v))
	default:
		return fmt.Errorf("unsupported custom attribute value %T", value)
	}
	return nil
}

// DecodeValue parses blob against the constructor signature and fills Args
// and Named. It fails when an argument's layout cannot be known, such as an
// enum of a foreign type with no recorded underlying type; callers then keep Raw.
func (ca *CustomAttribute) DecodeValue(blob []byte) error {
	if ca.Constructor == nil {
		return fmt.Errorf("custom attribute without constructor")
	}
	sig := ca.Constructor.Signature()
	r := binary.NewReader(blob)
	prolog, err := r.ReadU16()
	if err != nil {
		return err
	}
	if prolog != caProlog {
		return fmt.Errorf("bad custom attribute prolog 0x%04x", prolog)
	}
	args := make([]CAArgument, len(sig.Params))
	for i, p := range sig.Params {
		v, err := decodeElem(r, p)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = CAArgument{Type: p, Value: v}
	}
	count, err := r.ReadU16()
	if err != nil {
		return err
	}
	named := make([]CANamedArgument, 0, count)
	for i := 0; i < int(count); i++ {
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if ElementType(kind) != ElemField && ElementType(kind) != ElemProperty {
			return fmt.Errorf("named argument %d: bad kind 0x%02x", i, kind)
		}
		t, err := decodeFieldOrPropType(r)
		if err != nil {
			return fmt.Errorf("named argument %d: %w", i, err)
		}
		name, err := readSerString(r)
		if err != nil || name == nil {
			return fmt.Errorf("named argument %d: bad name", i)
		}
		v, err := decodeElem(r, t)
		if err != nil {
			return fmt.Errorf("named argument %s: %w", *name, err)
		}
		named = append(named, CANamedArgument{
			Name: *name, Field: ElementType(kind) == ElemField, Arg: CAArgument{Type: t, Value: v},
		})
	}
	ca.Args = args
	ca.Named = named
	return nil
}

func readSerString(r *binary.Reader) (*string, error) {
	b, err := r.PeekByte()
	if err != nil {
		return nil, err
	}
	if b == 0xFF {
		_, _ = r.ReadByte()
		return nil, nil
	}
	n, err := r.ReadCompressedU32()
	if err != nil {
		return nil, err
	}
	data, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// enumType stands for an enum named in a named-argument blob; only its
// name is known, so its values cannot be decoded.
type enumType struct{ name string }

func (e *enumType) FullName() string { return e.name }
func (*enumType) typeSig()           {}

func decodeFieldOrPropType(r *binary.Reader) (TypeSig, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch e := ElementType(b); e {
	case ElemBoxed:
		return Object, nil
	case ElemSystemType:
		return &TypeRef{Namespace: "System", Name: "Type"}, nil
	case ElemSZArray:
		elem, err := decodeFieldOrPropType(r)
		if err != nil {
			return nil, err
		}
		return &SZArray{Elem: elem}, nil
	case ElemEnum:
		name, err := readSerString(r)
		if err != nil || name == nil {
			return nil, fmt.Errorf("bad enum type name")
		}
		return &enumType{name: *name}, nil
	default:
		if c, ok := CoreTypeByElement(e); ok && c != Void && c != TypedReference {
			return c, nil
		}
		return nil, fmt.Errorf("bad field or property type 0x%02x", b)
	}
}

func decodeElem(r *binary.Reader, t TypeSig) (any, error) {
	if u := enumUnderlying(t); u != nil {
		t = u
	}
	switch v := t.(type) {
	case *SZArray:
		n, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if n == math.MaxUint32 {
			return nil, nil
		}
		if int(n) > r.Remaining() {
			return nil, fmt.Errorf("array of %d elements exceeds blob", n)
		}
		items := make([]CAArgument, n)
		for i := range items {
			val, err := decodeElem(r, v.Elem)
			if err != nil {
				return nil, err
			}
			items[i] = CAArgument{Type: v.Elem, Value: val}
		}
		return items, nil
	case *CoreType:
		if v == Object {
			bt, err := decodeFieldOrPropType(r)
			if err != nil {
				return nil, err
			}
			val, err := decodeElem(r, bt)
			if err != nil {
				return nil, err
			}
			return CAArgument{Type: bt, Value: val}, nil
		}
		return decodePrimitive(r, v.Element)
	case *TypeRef, *TypeDef:
		if t.FullName() == "System.Type" {
			s, err := readSerString(r)
			if err != nil || s == nil {
				return nil, err
			}
			return *s, nil
		}
	}
	return nil, fmt.Errorf("cannot decode value of type %s", t.FullName())
}

func decodePrimitive(r *binary.Reader, e ElementType) (any, error) {
	switch e {
	case ElemBoolean:
		b, err := r.ReadByte()
		return b != 0, err
	case ElemI1:
		b, err := r.ReadByte()
		return int8(b), err
	case ElemU1:
		return r.ReadByte()
	case ElemChar, ElemU2:
		return r.ReadU16()
	case ElemI2:
		v, err := r.ReadU16()
		return int16(v), err
	case ElemI4:
		v, err := r.ReadU32()
		return int32(v), err
	case ElemU4:
		return r.ReadU32()
	case ElemI8:
		v, err := r.ReadU64()
		return int64(v), err
	case ElemU8:
		return r.ReadU64()
	case ElemR4:
		v, err := r.ReadU32()
		return math.Float32frombits(v), err
	case ElemR8:
		v, err := r.ReadU64()
		return math.Float64frombits(v), err
	case ElemString:
		s, err := readSerString(r)
		if err != nil || s == nil {
			return nil, err
		}
		return *s, nil
	}
	return nil, fmt.Errorf("unsupported element type 0x%02x", byte(e))
}
