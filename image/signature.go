package image

import (
	"fmt"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/internal/binary"
	"github.com/wippyai/clr-image/metadata"
)

// Signature blobs (ECMA-335 II.23.2). Core type markers encode as element
// types; TypeDef, TypeRef and core TypeRef tokens use the TypeDefOrRef
// compressed form; TypeSpecs inline their signature.

func encodeType(w *binary.Writer, tm *TokenMap, t metadata.TypeSig) error {
	switch v := t.(type) {
	case nil:
		w.Byte(byte(metadata.ElemVoid))
	case *metadata.CoreType:
		w.Byte(byte(v.Element))
	case *metadata.TypeDef:
		return encodeClass(w, tm, v, v.IsValueType())
	case *metadata.TypeRef:
		return encodeClass(w, tm, v, v.IsValueType)
	case *metadata.TypeSpec:
		return encodeType(w, tm, v.Sig)
	case *metadata.SZArray:
		w.Byte(byte(metadata.ElemSZArray))
		return encodeType(w, tm, v.Elem)
	case *metadata.ArrayType:
		w.Byte(byte(metadata.ElemArray))
		if err := encodeType(w, tm, v.Elem); err != nil {
			return err
		}
		if err := w.WriteCompressedU32(v.Rank); err != nil {
			return err
		}
		if err := w.WriteCompressedU32(uint32(len(v.Sizes))); err != nil {
			return err
		}
		for _, s := range v.Sizes {
			if err := w.WriteCompressedU32(s); err != nil {
				return err
			}
		}
		if err := w.WriteCompressedU32(uint32(len(v.LoBounds))); err != nil {
			return err
		}
		for _, lb := range v.LoBounds {
			if err := w.WriteCompressedS32(lb); err != nil {
				return err
			}
		}
	case *metadata.Pointer:
		w.Byte(byte(metadata.ElemPtr))
		return encodeType(w, tm, v.Elem)
	case *metadata.ByRef:
		w.Byte(byte(metadata.ElemByRef))
		return encodeType(w, tm, v.Elem)
	case *metadata.Pinned:
		w.Byte(byte(metadata.ElemPinned))
		return encodeType(w, tm, v.Elem)
	case *metadata.Modified:
		if v.Required {
			w.Byte(byte(metadata.ElemCModReqd))
		} else {
			w.Byte(byte(metadata.ElemCModOpt))
		}
		if err := encodeToken(w, tm, v.Modifier); err != nil {
			return err
		}
		return encodeType(w, tm, v.Elem)
	case *metadata.GenericInst:
		w.Byte(byte(metadata.ElemGenericInst))
		if v.ValueType {
			w.Byte(byte(metadata.ElemValueType))
		} else {
			w.Byte(byte(metadata.ElemClass))
		}
		if err := encodeToken(w, tm, v.Generic); err != nil {
			return err
		}
		if err := w.WriteCompressedU32(uint32(len(v.Args))); err != nil {
			return err
		}
		for _, a := range v.Args {
			if err := encodeType(w, tm, a); err != nil {
				return err
			}
		}
	case *metadata.GenericParam:
		if v.Method {
			w.Byte(byte(metadata.ElemMVar))
		} else {
			w.Byte(byte(metadata.ElemVar))
		}
		return w.WriteCompressedU32(v.Index)
	case *metadata.FnPtr:
		w.Byte(byte(metadata.ElemFnPtr))
		return encodeMethodSig(w, tm, v.Sig)
	default:
		return errors.New(errors.PhaseWrite, errors.KindUnsupported).
			Detail("type %s (%T) cannot appear in a signature", t.FullName(), t).Build()
	}
	return nil
}

func encodeClass(w *binary.Writer, tm *TokenMap, t metadata.TypeDefOrRef, valueType bool) error {
	if valueType {
		w.Byte(byte(metadata.ElemValueType))
	} else {
		w.Byte(byte(metadata.ElemClass))
	}
	return encodeToken(w, tm, t)
}

func encodeToken(w *binary.Writer, tm *TokenMap, t metadata.TypeDefOrRef) error {
	v, err := tm.TypeDefOrRefEncoded(t)
	if err != nil {
		return err
	}
	return w.WriteCompressedU32(v)
}

func encodeMethodSig(w *binary.Writer, tm *TokenMap, s *metadata.MethodSig) error {
	w.Byte(s.Header())
	if s.GenericParamCount > 0 {
		if err := w.WriteCompressedU32(s.GenericParamCount); err != nil {
			return err
		}
	}
	if err := w.WriteCompressedU32(uint32(len(s.Params))); err != nil {
		return err
	}
	if err := encodeType(w, tm, s.Return); err != nil {
		return err
	}
	for _, p := range s.Params {
		if err := encodeType(w, tm, p); err != nil {
			return err
		}
	}
	return nil
}

// MethodSigBlob encodes a MethodDefSig, MethodRefSig or StandAloneMethodSig.
func MethodSigBlob(tm *TokenMap, s *metadata.MethodSig) ([]byte, error) {
	w := binary.NewWriter()
	if err := encodeMethodSig(w, tm, s); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// FieldSigBlob encodes a FieldSig.
func FieldSigBlob(tm *TokenMap, t metadata.TypeSig) ([]byte, error) {
	w := binary.NewWriter()
	w.Byte(byte(metadata.ConvField))
	if err := encodeType(w, tm, t); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// LocalsSigBlob encodes a LocalVarSig.
func LocalsSigBlob(tm *TokenMap, vars []*metadata.Variable) ([]byte, error) {
	w := binary.NewWriter()
	w.Byte(byte(metadata.ConvLocalSig))
	if err := w.WriteCompressedU32(uint32(len(vars))); err != nil {
		return nil, err
	}
	for _, v := range vars {
		if err := encodeType(w, tm, v.Type); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// TypeSigBlob encodes the signature of a TypeSpec.
func TypeSigBlob(tm *TokenMap, t metadata.TypeSig) ([]byte, error) {
	w := binary.NewWriter()
	if err := encodeType(w, tm, t); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// sigReader decodes signature blobs against the rows of a TokenMap.
type sigReader struct {
	r  *binary.Reader
	tm *TokenMap
}

func newSigReader(blob []byte, tm *TokenMap) *sigReader {
	return &sigReader{r: binary.NewReader(blob), tm: tm}
}

func (s *sigReader) compressed() (uint32, error) {
	return s.r.ReadCompressedU32()
}

func (s *sigReader) token() (metadata.TypeDefOrRef, error) {
	v, err := s.compressed()
	if err != nil {
		return nil, err
	}
	return s.tm.ResolveTypeDefOrRef(v)
}

func (s *sigReader) typ() (metadata.TypeSig, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch e := metadata.ElementType(b); e {
	case metadata.ElemValueType, metadata.ElemClass:
		t, err := s.token()
		if err != nil {
			return nil, err
		}
		if ref, ok := t.(*metadata.TypeRef); ok && e == metadata.ElemValueType {
			ref.IsValueType = true
		}
		return t, nil
	case metadata.ElemSZArray:
		elem, err := s.typ()
		if err != nil {
			return nil, err
		}
		return &metadata.SZArray{Elem: elem}, nil
	case metadata.ElemArray:
		return s.array()
	case metadata.ElemPtr:
		elem, err := s.typ()
		if err != nil {
			return nil, err
		}
		return &metadata.Pointer{Elem: elem}, nil
	case metadata.ElemByRef:
		elem, err := s.typ()
		if err != nil {
			return nil, err
		}
		return &metadata.ByRef{Elem: elem}, nil
	case metadata.ElemPinned:
		elem, err := s.typ()
		if err != nil {
			return nil, err
		}
		return &metadata.Pinned{Elem: elem}, nil
	case metadata.ElemCModReqd, metadata.ElemCModOpt:
		mod, err := s.token()
		if err != nil {
			return nil, err
		}
		elem, err := s.typ()
		if err != nil {
			return nil, err
		}
		return &metadata.Modified{Elem: elem, Modifier: mod, Required: e == metadata.ElemCModReqd}, nil
	case metadata.ElemGenericInst:
		kind, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		generic, err := s.token()
		if err != nil {
			return nil, err
		}
		n, err := s.compressed()
		if err != nil {
			return nil, err
		}
		if int(n) > s.r.Remaining() {
			return nil, fmt.Errorf("generic instance with %d arguments exceeds blob", n)
		}
		g := &metadata.GenericInst{Generic: generic, ValueType: metadata.ElementType(kind) == metadata.ElemValueType}
		for i := uint32(0); i < n; i++ {
			a, err := s.typ()
			if err != nil {
				return nil, err
			}
			g.Args = append(g.Args, a)
		}
		return g, nil
	case metadata.ElemVar, metadata.ElemMVar:
		n, err := s.compressed()
		if err != nil {
			return nil, err
		}
		return &metadata.GenericParam{Index: n, Method: e == metadata.ElemMVar}, nil
	case metadata.ElemFnPtr:
		sig, err := s.methodSig()
		if err != nil {
			return nil, err
		}
		return &metadata.FnPtr{Sig: sig}, nil
	default:
		if c, ok := metadata.CoreTypeByElement(e); ok {
			return c, nil
		}
		return nil, errors.New(errors.PhaseRead, errors.KindUnsupported).
			Detail("signature element type 0x%02x", b).Build()
	}
}

func (s *sigReader) array() (metadata.TypeSig, error) {
	elem, err := s.typ()
	if err != nil {
		return nil, err
	}
	a := &metadata.ArrayType{Elem: elem}
	if a.Rank, err = s.compressed(); err != nil {
		return nil, err
	}
	n, err := s.compressed()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		v, err := s.compressed()
		if err != nil {
			return nil, err
		}
		a.Sizes = append(a.Sizes, v)
	}
	if n, err = s.compressed(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		v, err := s.r.ReadCompressedS32()
		if err != nil {
			return nil, err
		}
		a.LoBounds = append(a.LoBounds, v)
	}
	return a, nil
}

func (s *sigReader) methodSig() (*metadata.MethodSig, error) {
	h, err := s.r.ReadByte()
	if err != nil {
		return nil, err
	}
	conv := metadata.CallingConvention(h)
	sig := &metadata.MethodSig{
		CallConv:     conv & 0x0F,
		HasThis:      conv&metadata.ConvHasThis != 0,
		ExplicitThis: conv&metadata.ConvExplicitThis != 0,
	}
	if sig.CallConv == metadata.ConvVarArg {
		return nil, errors.Unsupported(errors.PhaseRead, "vararg method signature")
	}
	if conv&metadata.ConvGeneric != 0 {
		if sig.GenericParamCount, err = s.compressed(); err != nil {
			return nil, err
		}
	}
	n, err := s.compressed()
	if err != nil {
		return nil, err
	}
	if int(n) > s.r.Remaining() {
		return nil, fmt.Errorf("method signature with %d parameters exceeds blob", n)
	}
	if sig.Return, err = s.typ(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		p, err := s.typ()
		if err != nil {
			return nil, err
		}
		sig.Params = append(sig.Params, p)
	}
	return sig, nil
}

// decodeMethodSig parses a method signature blob.
func decodeMethodSig(tm *TokenMap, blob []byte) (*metadata.MethodSig, error) {
	return newSigReader(blob, tm).methodSig()
}

// decodeFieldSig parses a FieldSig blob.
func decodeFieldSig(tm *TokenMap, blob []byte) (metadata.TypeSig, error) {
	s := newSigReader(blob, tm)
	h, err := s.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if metadata.CallingConvention(h) != metadata.ConvField {
		return nil, fmt.Errorf("field signature header 0x%02x", h)
	}
	return s.typ()
}

// decodeLocalsSig parses a LocalVarSig blob.
func decodeLocalsSig(tm *TokenMap, blob []byte) ([]metadata.TypeSig, error) {
	s := newSigReader(blob, tm)
	h, err := s.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if metadata.CallingConvention(h) != metadata.ConvLocalSig {
		return nil, fmt.Errorf("locals signature header 0x%02x", h)
	}
	n, err := s.compressed()
	if err != nil {
		return nil, err
	}
	if int(n) > s.r.Remaining() {
		return nil, fmt.Errorf("locals signature with %d entries exceeds blob", n)
	}
	out := make([]metadata.TypeSig, n)
	for i := range out {
		if out[i], err = s.typ(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// decodeTypeSig parses a TypeSpec blob.
func decodeTypeSig(tm *TokenMap, blob []byte) (metadata.TypeSig, error) {
	return newSigReader(blob, tm).typ()
}
