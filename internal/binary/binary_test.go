package binary

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewReader(data)

	for i, want := range data {
		if r.Position() != i {
			t.Errorf("position before read %d: got %d, want %d", i, r.Position(), i)
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	_, err := r.ReadByte()
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReaderFixedWidth(t *testing.T) {
	r := NewReader([]byte{0x34, 0x12, 0x78, 0x56, 0x34, 0x12, 1, 0, 0, 0, 0, 0, 0, 0x80})
	u16, err := r.ReadU16()
	if err != nil || u16 != 0x1234 {
		t.Fatalf("ReadU16 = 0x%x, %v", u16, err)
	}
	u32, err := r.ReadU32()
	if err != nil || u32 != 0x12345678 {
		t.Fatalf("ReadU32 = 0x%x, %v", u32, err)
	}
	u64, err := r.ReadU64()
	if err != nil || u64 != 0x8000000000000001 {
		t.Fatalf("ReadU64 = 0x%x, %v", u64, err)
	}
	if _, err := r.ReadU16(); err == nil {
		t.Error("expected error reading past end")
	}
}

func TestCompressedUnsigned(t *testing.T) {
	// Examples from ECMA-335 II.23.2.
	tests := []struct {
		value   uint32
		encoded []byte
	}{
		{0x03, []byte{0x03}},
		{0x7F, []byte{0x7F}},
		{0x80, []byte{0x80, 0x80}},
		{0x2E57, []byte{0xAE, 0x57}},
		{0x3FFF, []byte{0xBF, 0xFF}},
		{0x4000, []byte{0xC0, 0x00, 0x40, 0x00}},
		{0x1FFFFFFF, []byte{0xDF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		w := NewWriter()
		if err := w.WriteCompressedU32(tt.value); err != nil {
			t.Fatalf("WriteCompressedU32(0x%x): %v", tt.value, err)
		}
		if !bytes.Equal(w.Bytes(), tt.encoded) {
			t.Errorf("WriteCompressedU32(0x%x) = % x, want % x", tt.value, w.Bytes(), tt.encoded)
		}
		if CompressedSize(tt.value) != len(tt.encoded) {
			t.Errorf("CompressedSize(0x%x) = %d, want %d", tt.value, CompressedSize(tt.value), len(tt.encoded))
		}

		got, err := NewReader(tt.encoded).ReadCompressedU32()
		if err != nil {
			t.Fatalf("ReadCompressedU32(% x): %v", tt.encoded, err)
		}
		if got != tt.value {
			t.Errorf("ReadCompressedU32(% x) = 0x%x, want 0x%x", tt.encoded, got, tt.value)
		}
	}

	if err := NewWriter().WriteCompressedU32(0x20000000); !errors.Is(err, ErrCompressedRange) {
		t.Errorf("expected ErrCompressedRange, got %v", err)
	}
	if _, err := NewReader([]byte{0xFF}).ReadCompressedU32(); !errors.Is(err, ErrBadCompressed) {
		t.Errorf("expected ErrBadCompressed, got %v", err)
	}
}

func TestCompressedSigned(t *testing.T) {
	// Examples from the ECMA-335 6th edition errata for signed integers.
	tests := []struct {
		value   int32
		encoded []byte
	}{
		{3, []byte{0x06}},
		{-3, []byte{0x7B}},
		{64, []byte{0x80, 0x80}},
		{-64, []byte{0x01}},
		{8192, []byte{0xC0, 0x00, 0x40, 0x00}},
		{-8192, []byte{0x80, 0x01}},
		{268435455, []byte{0xDF, 0xFF, 0xFF, 0xFE}},
		{-268435456, []byte{0xC0, 0x00, 0x00, 0x01}},
	}

	for _, tt := range tests {
		w := NewWriter()
		if err := w.WriteCompressedS32(tt.value); err != nil {
			t.Fatalf("WriteCompressedS32(%d): %v", tt.value, err)
		}
		if !bytes.Equal(w.Bytes(), tt.encoded) {
			t.Errorf("WriteCompressedS32(%d) = % x, want % x", tt.value, w.Bytes(), tt.encoded)
		}
		got, err := NewReader(tt.encoded).ReadCompressedS32()
		if err != nil {
			t.Fatalf("ReadCompressedS32(% x): %v", tt.encoded, err)
		}
		if got != tt.value {
			t.Errorf("ReadCompressedS32(% x) = %d, want %d", tt.encoded, got, tt.value)
		}
	}
}

func TestStrings(t *testing.T) {
	w := NewWriter()
	w.WriteCString("#Strings")
	n := w.WriteUTF16("Hé!")
	if n != 3 {
		t.Errorf("WriteUTF16 units = %d, want 3", n)
	}

	r := NewReader(w.Bytes())
	s, err := r.ReadCString()
	if err != nil || s != "#Strings" {
		t.Fatalf("ReadCString = %q, %v", s, err)
	}
	u, err := r.ReadUTF16(3)
	if err != nil || u != "Hé!" {
		t.Fatalf("ReadUTF16 = %q, %v", u, err)
	}

	if _, err := NewReader([]byte("abc")).ReadCString(); err == nil {
		t.Error("expected error for unterminated string")
	}
}

func TestAlignAndSeek(t *testing.T) {
	w := NewWriter()
	w.Byte(1)
	w.Align(4)
	if w.Len() != 4 {
		t.Errorf("Len after Align = %d, want 4", w.Len())
	}
	w.Align(4)
	if w.Len() != 4 {
		t.Errorf("Align on boundary changed length to %d", w.Len())
	}

	r := NewReader(make([]byte, 8))
	_ = r.Skip(1)
	if err := r.Align(4); err != nil || r.Position() != 4 {
		t.Errorf("Align: pos=%d err=%v", r.Position(), err)
	}
	if err := r.Seek(9); err == nil {
		t.Error("expected error seeking past end")
	}
}

func TestParseError(t *testing.T) {
	r := NewReader([]byte{0x00})
	_, _ = r.ReadByte()
	err := r.WrapError("#~", io.ErrUnexpectedEOF)

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Position != 1 || pe.Section != "#~" {
		t.Errorf("ParseError = %+v", pe)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("ParseError should unwrap to cause")
	}
}
