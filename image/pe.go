package image

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/internal/binary"
	"github.com/wippyai/clr-image/metadata"
)

// PE layout constants.
const (
	dosHeaderSize    = 0x80
	coffHeaderSize   = 20
	optHeader32Size  = 0xE0
	optHeader64Size  = 0xF0
	sectionHdrSize   = 40
	fileAlignment    = 0x200
	sectionAlignment = 0x2000
	textRVA          = 0x2000
	cliHeaderSize    = 72
	debugEntrySize   = 28
	iatSize          = 8
	dataDirCount     = 16
)

// Data directory slots.
const (
	dirImport    = 1
	dirBaseReloc = 5
	dirDebug     = 6
	dirIAT       = 12
	dirCLR       = 14
)

// Debug directory entry types.
const (
	DebugCodeView            uint32 = 2
	DebugReproducible        uint32 = 16
	DebugEmbeddedPortablePdb uint32 = 17
)

const (
	codeViewSignature = "RSDS"
	embeddedSignature = "MPDB"
	portablePdbMinor  = 0x504D
)

// ilRVA returns where method bodies start in .text: after the import
// address table (PE32 only) and the CLI header.
func ilRVA(arch metadata.Architecture) uint32 {
	if arch.Is64() {
		return textRVA + cliHeaderSize
	}
	return textRVA + iatSize + cliHeaderSize
}

// CodeView identifies the symbol file of an image.
type CodeView struct {
	GUID  metadata.GUID
	Stamp uint32
	Age   uint32
	Path  string
}

// Debug is the debug directory content of an image.
type Debug struct {
	CodeView *CodeView
	// EmbeddedSymbols is a Portable PDB stored deflated inside the image.
	EmbeddedSymbols []byte
}

type dataDir struct {
	rva, size uint32
}

type debugEntry struct {
	kind         uint32
	stamp        uint32
	major, minor uint16
	data         []byte
}

// Serialize places the metadata into a PE container.
func (md *Metadata) Serialize(dbg *Debug) ([]byte, error) {
	m := md.Module
	is64 := m.Architecture.Is64()

	stamp := binary.U32(md.Mvid[:4]) | 0x80000000
	var entries []debugEntry
	if dbg != nil && dbg.CodeView != nil {
		cv := dbg.CodeView
		stamp = cv.Stamp
		w := binary.NewWriter()
		w.WriteString(codeViewSignature)
		w.WriteBytes(cv.GUID[:])
		w.WriteU32(cv.Age)
		w.WriteCString(cv.Path)
		entries = append(entries,
			debugEntry{kind: DebugCodeView, stamp: cv.Stamp, major: 0x0100, minor: portablePdbMinor, data: w.Bytes()},
			debugEntry{kind: DebugReproducible, stamp: cv.Stamp})
	}
	if dbg != nil && len(dbg.EmbeddedSymbols) > 0 {
		packed, err := deflate(dbg.EmbeddedSymbols)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "compress embedded symbols")
		}
		w := binary.NewWriter()
		w.WriteString(embeddedSignature)
		w.WriteU32(uint32(len(dbg.EmbeddedSymbols)))
		w.WriteBytes(packed)
		entries = append(entries, debugEntry{kind: DebugEmbeddedPortablePdb, major: 0x0100, minor: 0x0100, data: w.Bytes()})
	}

	// .text: [IAT] CLI header, IL, metadata, debug directory and data,
	// then the import table and entry stub of PE32 images.
	text := binary.NewWriter()
	if !is64 {
		text.WriteZeros(iatSize)
	}
	cliOff := text.Len()
	text.WriteZeros(cliHeaderSize)
	if uint32(textRVA+text.Len()) != md.ILRVA {
		return nil, errors.New(errors.PhaseWrite, errors.KindInvalidState).
			Detail("IL was laid out for RVA 0x%x, container places it at 0x%x", md.ILRVA, textRVA+text.Len()).Build()
	}
	text.WriteBytes(md.IL)
	text.Align(4)
	metaRVA := uint32(textRVA + text.Len())
	text.WriteBytes(md.Root)
	text.Align(4)

	var debugDir dataDir
	var entryFix []int
	if len(entries) > 0 {
		debugDir = dataDir{uint32(textRVA + text.Len()), uint32(len(entries) * debugEntrySize)}
		for range entries {
			entryFix = append(entryFix, text.Len())
			text.WriteZeros(debugEntrySize)
		}
	}
	var dataRVAs []uint32
	for _, e := range entries {
		if len(e.data) == 0 {
			dataRVAs = append(dataRVAs, 0)
			continue
		}
		text.Align(4)
		dataRVAs = append(dataRVAs, uint32(textRVA+text.Len()))
		text.WriteBytes(e.data)
	}

	var importDir, iatDir dataDir
	var entryRVA uint32
	if !is64 {
		text.Align(4)
		importRVA := uint32(textRVA + text.Len())
		importDir = dataDir{importRVA, 40}
		iltRVA := importRVA + 40
		hintRVA := iltRVA + 8
		entryName := "_CorDllMain"
		if m.Kind.Executable() {
			entryName = "_CorExeMain"
		}
		nameRVA := hintRVA + 2 + uint32(len(entryName)) + 1
		if nameRVA%2 != 0 {
			nameRVA++
		}
		text.WriteU32(iltRVA)
		text.WriteU32(0)
		text.WriteU32(0)
		text.WriteU32(nameRVA)
		text.WriteU32(textRVA)
		text.WriteZeros(20)
		text.WriteU32(hintRVA)
		text.WriteU32(0)
		text.WriteU16(0)
		text.WriteCString(entryName)
		text.Align(2)
		text.WriteCString("mscoree.dll")

		// The stub's jump operand must be 4-byte aligned.
		text.Align(4)
		text.WriteZeros(2)
		entryRVA = uint32(textRVA + text.Len())
		text.Byte(0xFF)
		text.Byte(0x25)
		text.WriteU32(uint32(imageBase(m)) + textRVA)
		iatDir = dataDir{textRVA, iatSize}

		iat := text.Bytes()
		binary.PutU32(iat[0:], hintRVA)
	}

	body := text.Bytes()
	cli := body[cliOff:]
	binary.PutU32(cli[0:], cliHeaderSize)
	binary.PutU16(cli[4:], 2)
	binary.PutU16(cli[6:], 5)
	binary.PutU32(cli[8:], metaRVA)
	binary.PutU32(cli[12:], uint32(len(md.Root)))
	binary.PutU32(cli[16:], uint32(m.Attributes))
	binary.PutU32(cli[20:], uint32(md.Tokens.EntryPoint))

	textSize := uint32(len(body))
	textRaw := alignUp(textSize, fileAlignment)
	headerSize := uint32(alignUp(uint32(dosHeaderSize+4+coffHeaderSize+optHeaderSize(is64)+sections(is64)*sectionHdrSize), fileAlignment))
	textFile := headerSize

	for i, e := range entries {
		ent := body[entryFix[i]:]
		binary.PutU32(ent[4:], e.stamp)
		binary.PutU16(ent[8:], e.major)
		binary.PutU16(ent[10:], e.minor)
		binary.PutU32(ent[12:], e.kind)
		binary.PutU32(ent[16:], uint32(len(e.data)))
		if dataRVAs[i] != 0 {
			binary.PutU32(ent[20:], dataRVAs[i])
			binary.PutU32(ent[24:], dataRVAs[i]-textRVA+textFile)
		}
	}

	var reloc []byte
	var relocDir dataDir
	relocRVA := alignUp(textRVA+textSize, sectionAlignment)
	if !is64 {
		fix := entryRVA + 2
		w := binary.NewWriter()
		w.WriteU32(fix &^ 0xFFF)
		w.WriteU32(12)
		w.WriteU16(uint16(3<<12 | fix&0xFFF))
		w.WriteU16(0)
		reloc = w.Bytes()
		relocDir = dataDir{relocRVA, uint32(len(reloc))}
	}
	imageSize := relocRVA
	if reloc != nil {
		imageSize = alignUp(relocRVA+uint32(len(reloc)), sectionAlignment)
	}

	out := binary.NewWriter()
	writeDOSHeader(out)
	out.WriteString("PE\x00\x00")

	chars := uint16(0x0022)
	if !m.Kind.Executable() {
		chars |= 0x2000
	}
	if m.Attributes&metadata.ModuleRequired32Bit != 0 {
		chars |= 0x0100
	}
	out.WriteU16(uint16(m.Architecture))
	out.WriteU16(uint16(sections(is64)))
	out.WriteU32(stamp)
	out.WriteU32(0)
	out.WriteU32(0)
	out.WriteU16(uint16(optHeaderSize(is64)))
	out.WriteU16(chars)

	if is64 {
		out.WriteU16(0x20B)
	} else {
		out.WriteU16(0x10B)
	}
	out.Byte(48)
	out.Byte(0)
	out.WriteU32(textRaw)
	out.WriteU32(alignUp(uint32(len(reloc)), fileAlignment))
	out.WriteU32(0)
	out.WriteU32(entryRVA)
	out.WriteU32(textRVA)
	if is64 {
		out.WriteU64(imageBase(m))
	} else {
		out.WriteU32(relocRVA)
		out.WriteU32(uint32(imageBase(m)))
	}
	out.WriteU32(sectionAlignment)
	out.WriteU32(fileAlignment)
	out.WriteU16(4)
	out.WriteU16(0)
	out.WriteU16(0)
	out.WriteU16(0)
	out.WriteU16(4)
	out.WriteU16(0)
	out.WriteU32(0)
	out.WriteU32(imageSize)
	out.WriteU32(headerSize)
	out.WriteU32(0)
	out.WriteU16(subsystem(m.Kind))
	dllChars := uint16(0x8540)
	if is64 {
		dllChars |= 0x0020
	}
	out.WriteU16(dllChars)
	if is64 {
		out.WriteU64(0x400000)
		out.WriteU64(0x4000)
		out.WriteU64(0x100000)
		out.WriteU64(0x2000)
	} else {
		out.WriteU32(0x100000)
		out.WriteU32(0x1000)
		out.WriteU32(0x100000)
		out.WriteU32(0x1000)
	}
	out.WriteU32(0)
	out.WriteU32(dataDirCount)
	var dirs [dataDirCount]dataDir
	dirs[dirImport] = importDir
	dirs[dirBaseReloc] = relocDir
	dirs[dirDebug] = debugDir
	dirs[dirIAT] = iatDir
	dirs[dirCLR] = dataDir{textRVA + uint32(cliOff), cliHeaderSize}
	for _, d := range dirs {
		out.WriteU32(d.rva)
		out.WriteU32(d.size)
	}

	writeSection(out, ".text", textSize, textRVA, textRaw, textFile, 0x60000020)
	if reloc != nil {
		writeSection(out, ".reloc", uint32(len(reloc)), relocRVA,
			alignUp(uint32(len(reloc)), fileAlignment), textFile+textRaw, 0x42000040)
	}
	out.WriteZeros(int(headerSize) - out.Len())
	out.WriteBytes(body)
	out.WriteZeros(int(textRaw - textSize))
	if reloc != nil {
		out.WriteBytes(reloc)
		out.WriteZeros(int(alignUp(uint32(len(reloc)), fileAlignment)) - len(reloc))
	}

	Logger().Debug("serialized image",
		zap.String("module", m.Name),
		zap.Stringer("machine", m.Architecture),
		zap.Int("size", out.Len()),
		zap.Int("debugEntries", len(entries)))
	return out.Bytes(), nil
}

func optHeaderSize(is64 bool) int {
	if is64 {
		return optHeader64Size
	}
	return optHeader32Size
}

func sections(is64 bool) int {
	if is64 {
		return 1
	}
	return 2
}

func imageBase(m *metadata.Module) uint64 {
	switch {
	case !m.Architecture.Is64():
		return 0x400000
	case m.Kind.Executable():
		return 0x140000000
	}
	return 0x180000000
}

func subsystem(k metadata.ModuleKind) uint16 {
	if k == metadata.KindWindows {
		return 2
	}
	return 3
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

// dosStub is the real-mode program printing "This program cannot be run in DOS mode."
var dosStub = []byte{
	0x0E, 0x1F, 0xBA, 0x0E, 0x00, 0xB4, 0x09, 0xCD, 0x21, 0xB8, 0x01, 0x4C, 0xCD, 0x21,
	'T', 'h', 'i', 's', ' ', 'p', 'r', 'o', 'g', 'r', 'a', 'm', ' ', 'c', 'a', 'n', 'n', 'o', 't',
	' ', 'b', 'e', ' ', 'r', 'u', 'n', ' ', 'i', 'n', ' ', 'D', 'O', 'S', ' ', 'm', 'o', 'd', 'e',
	'.', '\r', '\r', '\n', '$',
}

func writeDOSHeader(w *binary.Writer) {
	start := w.Len()
	w.WriteString("MZ")
	w.WriteU16(0x90)
	w.WriteU16(3)
	w.WriteU16(0)
	w.WriteU16(4)
	w.WriteU16(0)
	w.WriteU16(0xFFFF)
	w.WriteU16(0)
	w.WriteU16(0xB8)
	w.WriteZeros(0x40 - 0x12 - 4)
	w.WriteU32(dosHeaderSize)
	w.WriteBytes(dosStub)
	w.WriteZeros(dosHeaderSize - (w.Len() - start))
}

func writeSection(w *binary.Writer, name string, virtSize, rva, rawSize, rawPtr, chars uint32) {
	var n [8]byte
	copy(n[:], name)
	w.WriteBytes(n[:])
	w.WriteU32(virtSize)
	w.WriteU32(rva)
	w.WriteU32(rawSize)
	w.WriteU32(rawPtr)
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteU16(0)
	w.WriteU16(0)
	w.WriteU32(chars)
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte, size uint32) ([]byte, error) {
	dec := flate.NewReader(bytes.NewReader(data))
	defer dec.Close()
	out := make([]byte, size)
	if _, err := io.ReadFull(dec, out); err != nil {
		return nil, err
	}
	return out, nil
}

// section is one parsed section header.
type section struct {
	name     string
	rva      uint32
	virtSize uint32
	raw      []byte
}

// peFile is the container view of a parsed image.
type peFile struct {
	machine   metadata.Architecture
	chars     uint16
	stamp     uint32
	is64      bool
	subsystem uint16
	dirs      [dataDirCount]dataDir
	sections  []section
}

func parsePE(data []byte) (*peFile, error) {
	fail := func(detail string, args ...any) error {
		return errors.InvalidData(errors.PhaseRead, []string{"PE"}, fmt.Sprintf(detail, args...))
	}
	if len(data) < dosHeaderSize || data[0] != 'M' || data[1] != 'Z' {
		return nil, fail("missing MZ signature")
	}
	peOff := int(binary.U32(data[0x3C:]))
	r := binary.NewReader(data)
	if err := r.Seek(peOff); err != nil {
		return nil, fail("PE header offset 0x%x", peOff)
	}
	sig, err := r.ReadBytes(4)
	if err != nil || string(sig) != "PE\x00\x00" {
		return nil, fail("missing PE signature")
	}
	coff, err := r.ReadBytes(coffHeaderSize)
	if err != nil {
		return nil, fail("truncated COFF header")
	}
	pe := &peFile{
		machine: metadata.Architecture(binary.U16(coff[0:])),
		stamp:   binary.U32(coff[4:]),
		chars:   binary.U16(coff[18:]),
	}
	nsect := int(binary.U16(coff[2:]))
	optSize := int(binary.U16(coff[16:]))
	opt, err := r.ReadBytes(optSize)
	if err != nil || optSize < 2 {
		return nil, fail("truncated optional header")
	}
	var dirOff int
	switch binary.U16(opt) {
	case 0x10B:
		dirOff = 96
	case 0x20B:
		pe.is64 = true
		dirOff = 112
	default:
		return nil, fail("optional header magic 0x%x", binary.U16(opt))
	}
	if len(opt) < dirOff {
		return nil, fail("truncated optional header")
	}
	pe.subsystem = binary.U16(opt[68:])
	count := int(binary.U32(opt[dirOff-4:]))
	for i := 0; i < count && i < dataDirCount && dirOff+8*i+8 <= len(opt); i++ {
		pe.dirs[i] = dataDir{binary.U32(opt[dirOff+8*i:]), binary.U32(opt[dirOff+8*i+4:])}
	}

	for i := 0; i < nsect; i++ {
		h, err := r.ReadBytes(sectionHdrSize)
		if err != nil {
			return nil, fail("truncated section table")
		}
		name := string(bytes.TrimRight(h[:8], "\x00"))
		virtSize, rva := binary.U32(h[8:]), binary.U32(h[12:])
		rawSize, rawPtr := binary.U32(h[16:]), binary.U32(h[20:])
		if uint64(rawPtr)+uint64(rawSize) > uint64(len(data)) {
			return nil, fail("section %s exceeds file", name)
		}
		pe.sections = append(pe.sections, section{
			name: name, rva: rva, virtSize: virtSize, raw: data[rawPtr : rawPtr+rawSize],
		})
	}
	return pe, nil
}

// slice returns size bytes at rva.
func (pe *peFile) slice(rva, size uint32) ([]byte, error) {
	for _, s := range pe.sections {
		if rva >= s.rva && uint64(rva)+uint64(size) <= uint64(s.rva)+uint64(len(s.raw)) {
			off := rva - s.rva
			return s.raw[off : off+size], nil
		}
	}
	return nil, errors.InvalidData(errors.PhaseRead, []string{"PE"},
		fmt.Sprintf("RVA range 0x%x+%d is not mapped by any section", rva, size))
}

// sectionAt returns the section containing rva and rva's offset in it.
func (pe *peFile) sectionAt(rva uint32) (*section, uint32, bool) {
	for i := range pe.sections {
		s := &pe.sections[i]
		if rva >= s.rva && rva < s.rva+uint32(len(s.raw)) {
			return s, rva - s.rva, true
		}
	}
	return nil, 0, false
}

// debug parses the debug directory.
func (pe *peFile) debug() (*Debug, error) {
	d := pe.dirs[dirDebug]
	if d.size == 0 {
		return nil, nil
	}
	raw, err := pe.slice(d.rva, d.size)
	if err != nil {
		return nil, err
	}
	out := &Debug{}
	for off := 0; off+debugEntrySize <= len(raw); off += debugEntrySize {
		e := raw[off:]
		kind, size, rva := binary.U32(e[12:]), binary.U32(e[16:]), binary.U32(e[20:])
		if size == 0 {
			continue
		}
		data, err := pe.slice(rva, size)
		if err != nil {
			return nil, err
		}
		switch kind {
		case DebugCodeView:
			if len(data) < 24 || string(data[:4]) != codeViewSignature {
				continue
			}
			cv := &CodeView{Stamp: binary.U32(e[4:]), Age: binary.U32(data[20:])}
			copy(cv.GUID[:], data[4:20])
			path := data[24:]
			if i := bytes.IndexByte(path, 0); i >= 0 {
				path = path[:i]
			}
			cv.Path = string(path)
			out.CodeView = cv
		case DebugEmbeddedPortablePdb:
			if len(data) < 8 || string(data[:4]) != embeddedSignature {
				return nil, errors.InvalidData(errors.PhaseRead, []string{"debug directory"}, "bad embedded symbols signature")
			}
			pdb, err := inflate(data[8:], binary.U32(data[4:]))
			if err != nil {
				return nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, err, "embedded symbols")
			}
			out.EmbeddedSymbols = pdb
		}
	}
	return out, nil
}
