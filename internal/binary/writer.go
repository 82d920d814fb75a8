package binary

import (
	"bytes"
	"encoding/binary"
	"errors"
	"unicode/utf16"
)

// ErrCompressedRange is returned when a value does not fit a compressed integer.
var ErrCompressedRange = errors.New("value out of compressed integer range")

// Writer provides buffered writing utilities for metadata and PE encoding.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{buf: &bytes.Buffer{}}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteString writes s without a terminator.
func (w *Writer) WriteString(s string) {
	w.buf.WriteString(s)
}

// WriteCString writes s followed by a NUL byte.
func (w *Writer) WriteCString(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// WriteZeros writes n zero bytes.
func (w *Writer) WriteZeros(n int) {
	for i := 0; i < n; i++ {
		w.buf.WriteByte(0)
	}
}

// Align pads with zeros to the next multiple of n.
func (w *Writer) Align(n int) {
	if rem := w.buf.Len() % n; rem != 0 {
		w.WriteZeros(n - rem)
	}
}

// WriteU16 writes a little-endian uint16.
func (w *Writer) WriteU16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteU32 writes a little-endian uint32.
func (w *Writer) WriteU32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteU64 writes a little-endian uint64.
func (w *Writer) WriteU64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteIndex writes a 2- or 4-byte table or heap index.
func (w *Writer) WriteIndex(v uint32, wide bool) {
	if wide {
		w.WriteU32(v)
	} else {
		w.WriteU16(uint16(v))
	}
}

// WriteCompressedU32 writes an ECMA-335 compressed unsigned integer.
func (w *Writer) WriteCompressedU32(v uint32) error {
	switch {
	case v <= 0x7F:
		w.buf.WriteByte(byte(v))
	case v <= 0x3FFF:
		w.buf.WriteByte(byte(v>>8) | 0x80)
		w.buf.WriteByte(byte(v))
	case v <= 0x1FFFFFFF:
		w.buf.WriteByte(byte(v>>24) | 0xC0)
		w.buf.WriteByte(byte(v >> 16))
		w.buf.WriteByte(byte(v >> 8))
		w.buf.WriteByte(byte(v))
	default:
		return ErrCompressedRange
	}
	return nil
}

// WriteCompressedS32 writes a compressed signed integer (sign rotated into bit 0).
func (w *Writer) WriteCompressedS32(v int32) error {
	const (
		b6  = int32(1)<<6 - 1
		b13 = int32(1)<<13 - 1
		b28 = int32(1)<<28 - 1
	)
	sign := v >> 31
	switch {
	case v&^b6 == sign&^b6:
		n := (v&b6)<<1 | sign&1
		w.buf.WriteByte(byte(n))
	case v&^b13 == sign&^b13:
		n := uint32((v&b13)<<1|sign&1) | 0x8000
		w.buf.WriteByte(byte(n >> 8))
		w.buf.WriteByte(byte(n))
	case v&^b28 == sign&^b28:
		n := uint32((v&b28)<<1|sign&1) | 0xC0000000
		w.buf.WriteByte(byte(n >> 24))
		w.buf.WriteByte(byte(n >> 16))
		w.buf.WriteByte(byte(n >> 8))
		w.buf.WriteByte(byte(n))
	default:
		return ErrCompressedRange
	}
	return nil
}

// WriteUTF16 writes s as little-endian UTF-16 code units and returns the unit count.
func (w *Writer) WriteUTF16(s string) int {
	units := utf16.Encode([]rune(s))
	for _, u := range units {
		w.WriteU16(u)
	}
	return len(units)
}

// CompressedSize returns the encoded size of v as a compressed unsigned integer.
func CompressedSize(v uint32) int {
	switch {
	case v <= 0x7F:
		return 1
	case v <= 0x3FFF:
		return 2
	default:
		return 4
	}
}

// PutU16 stores v at buf[0:2].
func PutU16(buf []byte, v uint16) {
	binary.LittleEndian.PutUint16(buf, v)
}

// PutU32 stores v at buf[0:4].
func PutU32(buf []byte, v uint32) {
	binary.LittleEndian.PutUint32(buf, v)
}

// PutU64 stores v at buf[0:8].
func PutU64(buf []byte, v uint64) {
	binary.LittleEndian.PutUint64(buf, v)
}

// U16 loads a little-endian uint16 from buf.
func U16(buf []byte) uint16 {
	return binary.LittleEndian.Uint16(buf)
}

// U32 loads a little-endian uint32 from buf.
func U32(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}
