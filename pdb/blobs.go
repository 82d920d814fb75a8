package pdb

import (
	"strings"

	"github.com/wippyai/clr-image/internal/binary"
)

// blobWriter builds a blob and keeps the first encoding error.
type blobWriter struct {
	w   *binary.Writer
	err error
}

func newBlobWriter() *blobWriter {
	return &blobWriter{w: binary.NewWriter()}
}

func (b *blobWriter) u32(v uint32) {
	if b.err == nil {
		b.err = b.w.WriteCompressedU32(v)
	}
}

func (b *blobWriter) s32(v int32) {
	if b.err == nil {
		b.err = b.w.WriteCompressedS32(v)
	}
}

func (b *blobWriter) bytes() ([]byte, error) {
	return b.w.Bytes(), b.err
}

// blobReader reads compressed integers and keeps the first error.
type blobReader struct {
	r   *binary.Reader
	err error
}

func newBlobReader(data []byte) *blobReader {
	return &blobReader{r: binary.NewReader(data)}
}

func (b *blobReader) more() bool {
	return b.err == nil && b.r.Remaining() > 0
}

func (b *blobReader) u32() uint32 {
	if b.err != nil {
		return 0
	}
	v, err := b.r.ReadCompressedU32()
	b.err = err
	return v
}

func (b *blobReader) s32() int32 {
	if b.err != nil {
		return 0
	}
	v, err := b.r.ReadCompressedS32()
	b.err = err
	return v
}

// documentSeparator picks the separator a document name is split on.
// Names without either slash are stored as a single part.
func documentSeparator(name string) byte {
	slash, back := strings.Count(name, "/"), strings.Count(name, `\`)
	switch {
	case back > slash:
		return '\\'
	case slash > 0:
		return '/'
	}
	return 0
}

// splitDocumentName splits name into the parts stored in the blob heap.
func splitDocumentName(name string) (byte, []string) {
	sep := documentSeparator(name)
	if sep == 0 {
		return 0, []string{name}
	}
	return sep, strings.Split(name, string(sep))
}

func joinDocumentName(sep byte, parts []string) string {
	if sep == 0 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts, string(sep))
}
