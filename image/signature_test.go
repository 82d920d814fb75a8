package image

import (
	"bytes"
	"testing"

	"github.com/wippyai/clr-image/metadata"
)

func TestMethodSignatureRoundTrip(t *testing.T) {
	m := metadata.NewModule(metadata.ModuleParameters{Name: "Sig.dll"})
	list := &metadata.TypeRef{Namespace: "System.Collections.Generic", Name: "List`1"}
	point := &metadata.TypeRef{Namespace: "System.Drawing", Name: "Point", IsValueType: true}
	tm := newTokenMap(m)
	tm.addTypeRef(list)
	tm.addTypeRef(point)

	sigs := []*metadata.MethodSig{
		{Return: metadata.Void},
		{Return: metadata.Int32, HasThis: true, Params: []metadata.TypeSig{metadata.String, &metadata.SZArray{Elem: metadata.Object}}},
		{Return: &metadata.GenericInst{Generic: list, Args: []metadata.TypeSig{metadata.Int64}}, Params: []metadata.TypeSig{&metadata.ByRef{Elem: point}}},
		{Return: &metadata.GenericParam{Index: 0, Method: true}, GenericParamCount: 1, Params: []metadata.TypeSig{&metadata.Pointer{Elem: metadata.Byte}}},
	}
	for _, sig := range sigs {
		blob, err := MethodSigBlob(tm, sig)
		if err != nil {
			t.Fatal(err)
		}
		got, err := decodeMethodSig(tm, blob)
		if err != nil {
			t.Fatalf("%s: %v", sig.FullName("M"), err)
		}
		if got.FullName("M") != sig.FullName("M") || got.HasThis != sig.HasThis || got.GenericParamCount != sig.GenericParamCount {
			t.Errorf("decoded %s, want %s", got.FullName("M"), sig.FullName("M"))
		}
		again, err := MethodSigBlob(tm, got)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(blob, again) {
			t.Errorf("%s: re-encoded blob % x, want % x", sig.FullName("M"), again, blob)
		}
	}
}

func TestFieldSignature(t *testing.T) {
	tm := newTokenMap(metadata.NewModule(metadata.ModuleParameters{}))
	blob, err := FieldSigBlob(tm, metadata.String)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blob, []byte{0x06, 0x0E}) {
		t.Errorf("field sig = % x", blob)
	}
	got, err := decodeFieldSig(tm, blob)
	if err != nil || got != metadata.String {
		t.Errorf("decoded %v, %v", got, err)
	}
}

func TestUnregisteredTypeInSignature(t *testing.T) {
	tm := newTokenMap(metadata.NewModule(metadata.ModuleParameters{}))
	orphan := &metadata.TypeRef{Namespace: "Acme", Name: "Widget"}
	if _, err := FieldSigBlob(tm, orphan); err == nil {
		t.Fatal("expected an unresolved reference")
	}
}
