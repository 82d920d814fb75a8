package tables

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/wippyai/clr-image/internal/binary"
)

// StringHeap builds a #Strings heap. Offset 0 is the empty string.
type StringHeap struct {
	w     *binary.Writer
	index map[string]uint32
}

// NewStringHeap creates a heap holding only the empty string.
func NewStringHeap() *StringHeap {
	h := &StringHeap{w: binary.NewWriter(), index: map[string]uint32{"": 0}}
	h.w.Byte(0)
	return h
}

// Add interns s and returns its offset.
func (h *StringHeap) Add(s string) uint32 {
	if off, ok := h.index[s]; ok {
		return off
	}
	off := uint32(h.w.Len())
	h.w.WriteCString(s)
	h.index[s] = off
	return off
}

// Bytes returns the heap padded to 4 bytes.
func (h *StringHeap) Bytes() []byte {
	return padded(h.w.Bytes())
}

// BlobHeap builds a #Blob heap. Offset 0 is the empty blob.
type BlobHeap struct {
	w     *binary.Writer
	index map[string]uint32
}

// NewBlobHeap creates a heap holding only the empty blob.
func NewBlobHeap() *BlobHeap {
	h := &BlobHeap{w: binary.NewWriter(), index: map[string]uint32{"": 0}}
	h.w.Byte(0)
	return h
}

// Add interns b and returns its offset.
func (h *BlobHeap) Add(b []byte) (uint32, error) {
	key := string(b)
	if off, ok := h.index[key]; ok {
		return off, nil
	}
	off := uint32(h.w.Len())
	if err := h.w.WriteCompressedU32(uint32(len(b))); err != nil {
		return 0, fmt.Errorf("blob of %d bytes: %w", len(b), err)
	}
	h.w.WriteBytes(b)
	h.index[key] = off
	return off, nil
}

// Bytes returns the heap padded to 4 bytes.
func (h *BlobHeap) Bytes() []byte {
	return padded(h.w.Bytes())
}

// GUIDHeap builds a #GUID heap. Indexes are 1-based; 0 is the null GUID.
type GUIDHeap struct {
	guids [][16]byte
	index map[[16]byte]uint32
}

// NewGUIDHeap creates an empty GUID heap.
func NewGUIDHeap() *GUIDHeap {
	return &GUIDHeap{index: map[[16]byte]uint32{}}
}

// Add interns g and returns its 1-based index. The zero GUID maps to 0.
func (h *GUIDHeap) Add(g [16]byte) uint32 {
	if g == ([16]byte{}) {
		return 0
	}
	if i, ok := h.index[g]; ok {
		return i
	}
	h.guids = append(h.guids, g)
	i := uint32(len(h.guids))
	h.index[g] = i
	return i
}

// Bytes returns the concatenated GUIDs.
func (h *GUIDHeap) Bytes() []byte {
	out := make([]byte, 0, len(h.guids)*16)
	for _, g := range h.guids {
		out = append(out, g[:]...)
	}
	return out
}

// UserStringHeap builds a #US heap of length-prefixed UTF-16 literals.
type UserStringHeap struct {
	w     *binary.Writer
	index map[string]uint32
}

// NewUserStringHeap creates a heap holding only the empty entry at offset 0.
func NewUserStringHeap() *UserStringHeap {
	h := &UserStringHeap{w: binary.NewWriter(), index: map[string]uint32{}}
	h.w.Byte(0)
	return h
}

// Add interns s and returns its offset (the low 24 bits of an ldstr token).
func (h *UserStringHeap) Add(s string) (uint32, error) {
	if off, ok := h.index[s]; ok {
		return off, nil
	}
	off := uint32(h.w.Len())
	if off > 0xFFFFFF {
		return 0, errors.New("#US heap exceeds 16MB")
	}
	units := utf16.Encode([]rune(s))
	if err := h.w.WriteCompressedU32(uint32(len(units)*2 + 1)); err != nil {
		return 0, err
	}
	var special byte
	for _, u := range units {
		h.w.WriteU16(u)
		if u >= 0x80 || isSpecialUnit(u) {
			special = 1
		}
	}
	h.w.Byte(special)
	h.index[s] = off
	return off, nil
}

// Bytes returns the heap padded to 4 bytes.
func (h *UserStringHeap) Bytes() []byte {
	return padded(h.w.Bytes())
}

// isSpecialUnit reports characters that force the trailing #US flag byte to 1 (II.24.2.4).
func isSpecialUnit(u uint16) bool {
	switch {
	case u >= 0x01 && u <= 0x08, u >= 0x0E && u <= 0x1F:
		return true
	case u == 0x27, u == 0x2D, u == 0x7F:
		return true
	}
	return false
}

func padded(b []byte) []byte {
	if rem := len(b) % 4; rem != 0 {
		b = append(b, make([]byte, 4-rem)...)
	}
	return b
}

// Heaps gives read access to the heaps of a parsed metadata root.
type Heaps struct {
	Strings     []byte
	Blobs       []byte
	GUID        []byte
	UserStrings []byte
}

// String returns the #Strings entry at off.
func (h *Heaps) String(off uint32) (string, error) {
	if off == 0 {
		return "", nil
	}
	if int(off) >= len(h.Strings) {
		return "", fmt.Errorf("#Strings offset 0x%x out of range", off)
	}
	r := binary.NewReader(h.Strings)
	_ = r.Seek(int(off))
	return r.ReadCString()
}

// Blob returns the #Blob entry at off. The slice aliases the heap.
func (h *Heaps) Blob(off uint32) ([]byte, error) {
	if off == 0 {
		return nil, nil
	}
	if int(off) >= len(h.Blobs) {
		return nil, fmt.Errorf("#Blob offset 0x%x out of range", off)
	}
	r := binary.NewReader(h.Blobs)
	_ = r.Seek(int(off))
	n, err := r.ReadCompressedU32()
	if err != nil {
		return nil, fmt.Errorf("#Blob offset 0x%x: %w", off, err)
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, fmt.Errorf("#Blob offset 0x%x: %w", off, err)
	}
	return b, nil
}

// GUIDAt returns the 1-based GUID entry; index 0 is the zero GUID.
func (h *Heaps) GUIDAt(i uint32) ([16]byte, error) {
	var g [16]byte
	if i == 0 {
		return g, nil
	}
	start := int(i-1) * 16
	if start+16 > len(h.GUID) {
		return g, fmt.Errorf("#GUID index %d out of range", i)
	}
	copy(g[:], h.GUID[start:start+16])
	return g, nil
}

// UserString returns the #US literal at off.
func (h *Heaps) UserString(off uint32) (string, error) {
	if off == 0 || int(off) >= len(h.UserStrings) {
		return "", fmt.Errorf("#US offset 0x%x out of range", off)
	}
	r := binary.NewReader(h.UserStrings)
	_ = r.Seek(int(off))
	n, err := r.ReadCompressedU32()
	if err != nil {
		return "", fmt.Errorf("#US offset 0x%x: %w", off, err)
	}
	if n == 0 {
		return "", nil
	}
	return r.ReadUTF16(int(n-1) / 2)
}

// HeapSizeFlags computes the #~ HeapSizes byte for the given heap lengths.
func HeapSizeFlags(strings, guids, blobs int) byte {
	var f byte
	if strings > 0xFFFF {
		f |= HeapStringsWide
	}
	if guids/16 > 0xFFFF {
		f |= HeapGUIDWide
	}
	if blobs > 0xFFFF {
		f |= HeapBlobWide
	}
	return f
}
