package tables

import (
	"errors"
	"fmt"

	"github.com/wippyai/clr-image/internal/binary"
)

// RootSignature is the metadata root magic ("BSJB").
const RootSignature uint32 = 0x424A5342

// Metadata root version strings.
const (
	ImageVersion  = "v4.0.30319"
	SymbolVersion = "PDB v1.0"
)

// Stream names.
const (
	StreamTables      = "#~"
	StreamTablesUncmp = "#-"
	StreamStrings     = "#Strings"
	StreamUserStrings = "#US"
	StreamGUID        = "#GUID"
	StreamBlob        = "#Blob"
	StreamPdb         = "#Pdb"
)

// StreamData is one named stream of a metadata root.
type StreamData struct {
	Name string
	Data []byte
}

// Root is a parsed metadata root.
type Root struct {
	Version string
	Streams []StreamData
}

// Stream returns the data of the named stream, or nil.
func (r *Root) Stream(name string) []byte {
	for _, s := range r.Streams {
		if s.Name == name {
			return s.Data
		}
	}
	return nil
}

// Heaps returns the standard heaps of the root.
func (r *Root) Heaps() *Heaps {
	return &Heaps{
		Strings:     r.Stream(StreamStrings),
		Blobs:       r.Stream(StreamBlob),
		GUID:        r.Stream(StreamGUID),
		UserStrings: r.Stream(StreamUserStrings),
	}
}

// EncodeRoot lays out the metadata root header followed by the streams in order.
// Stream data is padded to 4 bytes.
func EncodeRoot(version string, streams []StreamData) []byte {
	verLen := (len(version) + 1 + 3) &^ 3

	headerSize := 16 + verLen + 4
	for _, s := range streams {
		headerSize += 8 + (len(s.Name)+1+3)&^3
	}

	w := binary.NewWriter()
	w.WriteU32(RootSignature)
	w.WriteU16(1)
	w.WriteU16(1)
	w.WriteU32(0)
	w.WriteU32(uint32(verLen))
	w.WriteString(version)
	w.WriteZeros(verLen - len(version))
	w.WriteU16(0)
	w.WriteU16(uint16(len(streams)))

	offset := headerSize
	for _, s := range streams {
		size := (len(s.Data) + 3) &^ 3
		w.WriteU32(uint32(offset))
		w.WriteU32(uint32(size))
		w.WriteCString(s.Name)
		w.Align(4)
		offset += size
	}
	for _, s := range streams {
		w.WriteBytes(s.Data)
		w.Align(4)
	}
	return w.Bytes()
}

// DecodeRoot parses a metadata root and slices out its streams.
func DecodeRoot(data []byte) (*Root, error) {
	r := binary.NewReader(data)
	sig, err := r.ReadU32()
	if err != nil {
		return nil, r.WrapError("metadata root", err)
	}
	if sig != RootSignature {
		return nil, fmt.Errorf("metadata root: bad signature 0x%08x", sig)
	}
	if err := r.Skip(8); err != nil {
		return nil, r.WrapError("metadata root", err)
	}
	verLen, err := r.ReadU32()
	if err != nil {
		return nil, r.WrapError("metadata root", err)
	}
	verBytes, err := r.ReadBytes(int(verLen))
	if err != nil {
		return nil, r.WrapError("metadata root version", err)
	}
	version := string(verBytes)
	for i, b := range verBytes {
		if b == 0 {
			version = string(verBytes[:i])
			break
		}
	}
	if _, err := r.ReadU16(); err != nil {
		return nil, r.WrapError("metadata root", err)
	}
	count, err := r.ReadU16()
	if err != nil {
		return nil, r.WrapError("metadata root", err)
	}

	root := &Root{Version: version}
	for i := 0; i < int(count); i++ {
		off, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("stream header", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("stream header", err)
		}
		name, err := r.ReadCString()
		if err != nil {
			return nil, r.WrapError("stream header", err)
		}
		if err := r.Align(4); err != nil {
			return nil, r.WrapError("stream header", err)
		}
		if uint64(off)+uint64(size) > uint64(len(data)) {
			return nil, fmt.Errorf("stream %s: range %d+%d exceeds metadata of %d bytes", name, off, size, len(data))
		}
		root.Streams = append(root.Streams, StreamData{Name: name, Data: data[off : off+size]})
	}
	if root.Stream(StreamTables) == nil && root.Stream(StreamTablesUncmp) == nil {
		return nil, errors.New("metadata root: no table stream")
	}
	return root, nil
}

// TableStream returns the #~ or #- stream data.
func (r *Root) TableStream() []byte {
	if s := r.Stream(StreamTables); s != nil {
		return s
	}
	return r.Stream(StreamTablesUncmp)
}
