package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"
)

// ErrOverflow is returned when a compressed integer exceeds the 29-bit range.
var ErrOverflow = errors.New("compressed integer: overflow")

// ErrBadCompressed is returned for a compressed integer with an invalid lead byte.
var ErrBadCompressed = errors.New("compressed integer: invalid lead byte")

// Reader reads little-endian and ECMA-335 compressed values from a byte slice
// with position tracking. Metadata is random access, so the reader owns the
// whole buffer and can seek.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a new Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Position returns the current byte position.
func (r *Reader) Position() int {
	return r.pos
}

// Len returns the size of the underlying buffer.
func (r *Reader) Len() int {
	return len(r.data)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Seek moves to an absolute position.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.data) {
		return r.wrapError(fmt.Errorf("seek to %d outside buffer of %d bytes", pos, len(r.data)))
	}
	r.pos = pos
	return nil
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) error {
	return r.Seek(r.pos + n)
}

// Align advances the position to the next multiple of n.
func (r *Reader) Align(n int) error {
	if rem := r.pos % n; rem != 0 {
		return r.Skip(n - rem)
	}
	return nil
}

// ReadByte reads a single byte and advances the position.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// PeekByte returns the next byte without advancing.
func (r *Reader) PeekByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	return r.data[r.pos], nil
}

// ReadBytes reads exactly n bytes. The returned slice aliases the buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadU16 reads a little-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	buf, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// ReadU32 reads a little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadU64 reads a little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// ReadIndex reads a 2- or 4-byte table or heap index.
func (r *Reader) ReadIndex(wide bool) (uint32, error) {
	if wide {
		return r.ReadU32()
	}
	v, err := r.ReadU16()
	return uint32(v), err
}

// ReadCompressedU32 reads an ECMA-335 compressed unsigned integer (II.23.2).
func (r *Reader) ReadCompressedU32() (uint32, error) {
	v, _, err := r.readCompressed()
	return v, err
}

func (r *Reader) readCompressed() (uint32, int, error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	switch {
	case b0&0x80 == 0:
		return uint32(b0), 1, nil
	case b0&0xC0 == 0x80:
		b1, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		return uint32(b0&0x3F)<<8 | uint32(b1), 2, nil
	case b0&0xE0 == 0xC0:
		rest, err := r.ReadBytes(3)
		if err != nil {
			return 0, 0, err
		}
		return uint32(b0&0x1F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2]), 4, nil
	default:
		return 0, 0, r.wrapError(ErrBadCompressed)
	}
}

// ReadCompressedS32 reads a compressed signed integer: the value is rotated
// so the sign bit is the least significant bit of the unsigned form.
func (r *Reader) ReadCompressedS32() (int32, error) {
	u, size, err := r.readCompressed()
	if err != nil {
		return 0, err
	}
	negative := u&1 != 0
	v := int32(u >> 1)
	if negative {
		switch size {
		case 1:
			v |= ^int32(0x3F)
		case 2:
			v |= ^int32(0x1FFF)
		default:
			v |= ^int32(0x0FFFFFFF)
		}
	}
	return v, nil
}

// ReadCString reads a NUL-terminated UTF-8 string.
func (r *Reader) ReadCString() (string, error) {
	start := r.pos
	for i := r.pos; i < len(r.data); i++ {
		if r.data[i] == 0 {
			r.pos = i + 1
			return string(r.data[start:i]), nil
		}
	}
	return "", r.wrapError(errors.New("unterminated string"))
}

// ReadUTF16 reads n little-endian UTF-16 code units.
func (r *Reader) ReadUTF16(units int) (string, error) {
	buf, err := r.ReadBytes(units * 2)
	if err != nil {
		return "", err
	}
	u := make([]uint16, units)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}
	return string(utf16.Decode(u)), nil
}

func (r *Reader) wrapError(err error) error {
	return fmt.Errorf("at position %d: %w", r.pos, err)
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("clr: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("clr: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError creates a ParseError with the current position.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{
		Position: r.pos,
		Section:  section,
		Err:      err,
	}
}
