package pdb

import (
	"crypto/sha256"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/image"
	"github.com/wippyai/clr-image/internal/binary"
	"github.com/wippyai/clr-image/internal/tables"
	"github.com/wippyai/clr-image/metadata"
)

// sortedTables marks the type-system tables that must be sorted plus
// LocalScope, StateMachineMethod and CustomDebugInformation.
const sortedTables uint64 = 0x000016003301FA00 |
	1<<tables.LocalScope | 1<<tables.StateMachineMethod | 1<<tables.CustomDebugInformation

// typeSystemTables is the number of table slots that belong to the image.
const typeSystemTables = int(tables.Document)

// ID identifies a symbol stream: a 16-byte GUID followed by a 4-byte stamp.
type ID [20]byte

// NewID composes an id from the values of a CodeView entry.
func NewID(guid metadata.GUID, stamp uint32) ID {
	var id ID
	copy(id[:16], guid[:])
	binary.PutU32(id[16:], stamp)
	return id
}

// GUID returns the GUID part of the id.
func (id ID) GUID() metadata.GUID {
	var g metadata.GUID
	copy(g[:], id[:16])
	return g
}

// Stamp returns the time stamp part of the id.
func (id ID) Stamp() uint32 {
	return binary.U32(id[16:])
}

func (id ID) String() string {
	return id.GUID().String()
}

// encoder writes the symbol stream of one module.
type encoder struct {
	m    *metadata.Module
	tm   *image.TokenMap
	st   *tables.Stream
	str  *tables.StringHeap
	blob *tables.BlobHeap
	guid *tables.GUIDHeap

	docs      []*metadata.Document
	docRows   map[*metadata.Document]uint32
	scopeRows map[*metadata.Scope]uint32
	varRows   map[*metadata.LocalDebug]uint32
	constRows map[*metadata.LocalConstant]uint32
}

// Encode writes the Portable PDB of m. tm must come from building or
// reading the image the symbols belong to. The returned id is derived from
// the symbols and the image digest of tm, so equal input gives equal output
// and images differing only in code get different ids.
func Encode(m *metadata.Module, tm *image.TokenMap) ([]byte, ID, error) {
	if tm == nil || tm.Module() != m {
		return nil, ID{}, errors.InvalidInput(errors.PhaseWrite, "token map does not belong to module "+m.Name)
	}
	e := &encoder{
		m:         m,
		tm:        tm,
		st:        tables.NewStream(),
		str:       tables.NewStringHeap(),
		blob:      tables.NewBlobHeap(),
		guid:      tables.NewGUIDHeap(),
		docRows:   map[*metadata.Document]uint32{},
		scopeRows: map[*metadata.Scope]uint32{},
		varRows:   map[*metadata.LocalDebug]uint32{},
		constRows: map[*metadata.LocalConstant]uint32{},
	}
	for t := 0; t < typeSystemTables; t++ {
		e.st.External[t] = tm.Rows[t]
	}

	steps := []func() error{e.documents, e.methods, e.scopes, e.imports, e.stateMachines, e.customDebugInfo}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, ID{}, err
		}
	}
	data, id, err := e.root()
	if err != nil {
		return nil, ID{}, err
	}

	Logger().Debug("encoded symbols",
		zap.String("module", m.Name),
		zap.Int("documents", len(e.docs)),
		zap.Uint32("scopes", e.st.Count(tables.LocalScope)),
		zap.Uint32("locals", e.st.Count(tables.LocalVariable)),
		zap.Int("size", len(data)),
		zap.Stringer("id", id))
	return data, id, nil
}

func (e *encoder) blobOf(data []byte) (uint32, error) {
	off, err := e.blob.Add(data)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "symbol blob")
	}
	return off, nil
}

func (e *encoder) addDocument(d *metadata.Document) {
	if _, ok := e.docRows[d]; ok {
		return
	}
	e.docs = append(e.docs, d)
	e.docRows[d] = uint32(len(e.docs))
}

// documents emits the registered documents, then any document a sequence
// point uses without it being registered.
func (e *encoder) documents() error {
	for _, d := range e.m.Documents {
		e.addDocument(d)
	}
	for _, md := range e.tm.Methods {
		if md.DebugInfo == nil {
			continue
		}
		for _, sp := range md.DebugInfo.SequencePoints {
			e.addDocument(sp.Document)
		}
	}
	for _, d := range e.docs {
		name, err := e.documentName(d.Name)
		if err != nil {
			return err
		}
		hash, err := e.blobOf(d.Hash)
		if err != nil {
			return err
		}
		e.st.Add(tables.Document, name, e.guid.Add(d.HashAlgorithm), hash, e.guid.Add(d.Language))
	}
	return nil
}

func (e *encoder) documentName(name string) (uint32, error) {
	sep, parts := splitDocumentName(name)
	b := newBlobWriter()
	b.w.Byte(sep)
	for _, p := range parts {
		off, err := e.blobOf([]byte(p))
		if err != nil {
			return 0, err
		}
		b.u32(off)
	}
	data, err := b.bytes()
	if err != nil {
		return 0, errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "document name "+name)
	}
	return e.blobOf(data)
}

// methods emits one MethodDebugInformation row per MethodDef row.
func (e *encoder) methods() error {
	for _, md := range e.tm.Methods {
		var points []*metadata.SequencePoint
		if md.DebugInfo != nil {
			points = md.DebugInfo.SequencePoints
		}
		if len(points) == 0 {
			e.st.Add(tables.MethodDebugInformation, 0, 0)
			continue
		}
		single := points[0].Document
		for _, sp := range points[1:] {
			if sp.Document != single {
				single = nil
				break
			}
		}
		blob, err := e.sequencePoints(md, points, single)
		if err != nil {
			return err
		}
		off, err := e.blobOf(blob)
		if err != nil {
			return err
		}
		var doc uint32
		if single != nil {
			doc = e.docRows[single]
		}
		e.st.Add(tables.MethodDebugInformation, doc, off)
	}
	return nil
}

func (e *encoder) sequencePoints(md *metadata.MethodDef, points []*metadata.SequencePoint, single *metadata.Document) ([]byte, error) {
	b := newBlobWriter()
	b.u32(e.tm.LocalSigs[md.Body])
	cur := points[0].Document
	if single == nil {
		b.u32(e.docRows[cur])
	}

	prevOffset, prevLine, prevColumn := 0, 0, 0
	seenVisible := false
	for i, sp := range points {
		if sp.Document != cur {
			cur = sp.Document
			b.u32(0)
			b.u32(e.docRows[cur])
		}
		off := sp.Instruction.Offset()
		if i == 0 {
			b.u32(uint32(off))
		} else {
			if off <= prevOffset {
				return nil, errors.New(errors.PhaseWrite, errors.KindInvalidInput).
					Member(md.FullName()).Detail("two sequence points at IL_%04x", off).Build()
			}
			b.u32(uint32(off - prevOffset))
		}
		prevOffset = off

		if sp.Hidden() {
			b.u32(0)
			b.u32(0)
			continue
		}
		lines := sp.EndLine - sp.StartLine
		columns := sp.EndColumn - sp.StartColumn
		b.u32(uint32(lines))
		if lines == 0 {
			b.u32(uint32(columns))
		} else {
			b.s32(int32(columns))
		}
		if !seenVisible {
			b.u32(uint32(sp.StartLine))
			b.u32(uint32(sp.StartColumn))
			seenVisible = true
		} else {
			b.s32(int32(sp.StartLine - prevLine))
			b.s32(int32(sp.StartColumn - prevColumn))
		}
		prevLine, prevColumn = sp.StartLine, sp.StartColumn
	}
	data, err := b.bytes()
	if err != nil {
		return nil, errors.New(errors.PhaseWrite, errors.KindInvalidInput).
			Member(md.FullName()).Cause(err).Detail("sequence points").Build()
	}
	return data, nil
}

type scopeRow struct {
	scope      *metadata.Scope
	start, end int
}

// scopes emits LocalScope rows sorted by method, start offset and
// descending length, with their variables and constants.
func (e *encoder) scopes() error {
	for _, md := range e.tm.Methods {
		d := md.DebugInfo
		if d == nil || d.Scope == nil {
			continue
		}
		var rows []scopeRow
		d.Scope.Walk(func(s *metadata.Scope) {
			rows = append(rows, scopeRow{scope: s, start: s.StartOffset(), end: s.EndOffset()})
		})
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].start != rows[j].start {
				return rows[i].start < rows[j].start
			}
			return rows[i].end-rows[i].start > rows[j].end-rows[j].start
		})

		method := e.tm.MethodRow(md)
		for _, r := range rows {
			s := r.scope
			if s.Import != 0 && !e.m.ImportScopes.Has(s.Import) {
				return errors.New(errors.PhaseWrite, errors.KindInvalidInput).
					Member(md.FullName()).Value(s.Import).Detail("import scope %d does not exist", s.Import).Build()
			}
			vars := e.st.Count(tables.LocalVariable) + 1
			for _, v := range s.Variables {
				if v.Variable == nil || v.Variable.Body() != md.Body {
					return errors.CrossMethodScope(md.FullName(), "variable "+v.Name)
				}
				e.varRows[v] = e.st.Add(tables.LocalVariable, uint32(v.Attributes), uint32(v.Variable.Index), e.str.Add(v.Name))
			}
			consts := e.st.Count(tables.LocalConstant) + 1
			for _, c := range s.Constants {
				sig, err := e.blobOf(c.Signature)
				if err != nil {
					return err
				}
				e.constRows[c] = e.st.Add(tables.LocalConstant, e.str.Add(c.Name), sig)
			}
			e.scopeRows[s] = e.st.Add(tables.LocalScope, method, uint32(s.Import), vars, consts,
				uint32(r.start), uint32(r.end-r.start))
		}
	}
	return nil
}

// imports emits the import scope arena; IDs are rows.
func (e *encoder) imports() error {
	var err error
	e.m.ImportScopes.Each(func(id metadata.ImportScopeID, s *metadata.ImportScope) {
		if err != nil {
			return
		}
		var blob []byte
		if blob, err = e.importsBlob(id, s.Targets); err != nil {
			return
		}
		var off uint32
		if off, err = e.blobOf(blob); err != nil {
			return
		}
		e.st.Add(tables.ImportScope, uint32(s.Parent), off)
	})
	return err
}

func (e *encoder) importsBlob(id metadata.ImportScopeID, targets []metadata.ImportTarget) ([]byte, error) {
	b := newBlobWriter()
	str := func(s string) {
		off, err := e.blobOf([]byte(s))
		if err != nil && b.err == nil {
			b.err = err
		}
		b.u32(off)
	}
	for _, t := range targets {
		b.u32(uint32(t.Kind))
		switch t.Kind {
		case metadata.ImportNamespace:
			str(t.Namespace)
		case metadata.ImportAssemblyNamespace:
			if err := e.assembly(b, t.Assembly); err != nil {
				return nil, err
			}
			str(t.Namespace)
		case metadata.ImportType:
			if err := e.typeTarget(b, t.Type); err != nil {
				return nil, err
			}
		case metadata.ImportXMLNamespace:
			str(t.Alias)
			str(t.Namespace)
		case metadata.ImportAssemblyReferenceAlias:
			str(t.Alias)
		case metadata.DefineAssemblyAlias:
			str(t.Alias)
			if err := e.assembly(b, t.Assembly); err != nil {
				return nil, err
			}
		case metadata.DefineNamespaceAlias:
			str(t.Alias)
			str(t.Namespace)
		case metadata.DefineAssemblyNamespaceAlias:
			str(t.Alias)
			if err := e.assembly(b, t.Assembly); err != nil {
				return nil, err
			}
			str(t.Namespace)
		case metadata.DefineTypeAlias:
			str(t.Alias)
			if err := e.typeTarget(b, t.Type); err != nil {
				return nil, err
			}
		}
	}
	data, err := b.bytes()
	if err != nil {
		return nil, errors.New(errors.PhaseWrite, errors.KindInvalidInput).
			Value(id).Cause(err).Detail("imports of scope %d", id).Build()
	}
	return data, nil
}

func (e *encoder) assembly(b *blobWriter, ref *metadata.AssemblyRef) error {
	if ref == nil {
		return errors.InvalidInput(errors.PhaseWrite, "assembly import without assembly reference")
	}
	tok, ok := e.tm.Token(ref)
	if !ok {
		return errors.UnresolvedReference([]string{"assembly " + ref.Name})
	}
	b.u32(tok.Row())
	return nil
}

func (e *encoder) typeTarget(b *blobWriter, t metadata.TypeDefOrRef) error {
	if t == nil {
		return errors.InvalidInput(errors.PhaseWrite, "type import without type")
	}
	v, err := e.tm.TypeDefOrRefEncoded(t)
	if err != nil {
		return err
	}
	b.u32(v)
	return nil
}

func (e *encoder) stateMachines() error {
	for _, md := range e.tm.Methods {
		if md.DebugInfo == nil || md.DebugInfo.StateMachineKickoff == nil {
			continue
		}
		kickoff := e.tm.MethodRow(md.DebugInfo.StateMachineKickoff)
		if kickoff == 0 {
			return errors.UnresolvedReference([]string{"state machine kickoff " + md.DebugInfo.StateMachineKickoff.FullName()})
		}
		e.st.Add(tables.StateMachineMethod, e.tm.MethodRow(md), kickoff)
	}
	return nil
}

type cdiRow struct {
	parent uint32
	kind   uint32
	value  uint32
}

// customDebugInfo emits CustomDebugInformation rows sorted by parent.
func (e *encoder) customDebugInfo() error {
	var rows []cdiRow
	for _, cdi := range e.m.CustomDebugInfos {
		t, row, ok := e.parent(cdi.Parent)
		if !ok {
			return errors.New(errors.PhaseWrite, errors.KindUnresolvedReference).
				Value(cdi.Parent).Detail("custom debug information parent %T is not part of the module", cdi.Parent).Build()
		}
		parent, err := tables.HasCustomDebugInfo.Encode(t, row)
		if err != nil {
			return errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "custom debug information parent")
		}
		value, err := e.blobOf(cdi.Value)
		if err != nil {
			return err
		}
		rows = append(rows, cdiRow{parent: parent, kind: e.guid.Add(cdi.Kind), value: value})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].parent < rows[j].parent })
	for _, r := range rows {
		e.st.Add(tables.CustomDebugInformation, r.parent, r.kind, r.value)
	}
	return nil
}

func (e *encoder) parent(p any) (tables.ID, uint32, bool) {
	find := func(row uint32, ok bool, t tables.ID) (tables.ID, uint32, bool) {
		return t, row, ok && row != 0
	}
	switch v := p.(type) {
	case *metadata.Document:
		row, ok := e.docRows[v]
		return find(row, ok, tables.Document)
	case *metadata.Scope:
		row, ok := e.scopeRows[v]
		return find(row, ok, tables.LocalScope)
	case *metadata.LocalDebug:
		row, ok := e.varRows[v]
		return find(row, ok, tables.LocalVariable)
	case *metadata.LocalConstant:
		row, ok := e.constRows[v]
		return find(row, ok, tables.LocalConstant)
	case metadata.ImportScopeID:
		return find(uint32(v), e.m.ImportScopes.Has(v), tables.ImportScope)
	}
	tok, ok := e.tm.Token(p)
	if !ok {
		return 0, 0, false
	}
	return tok.Table(), tok.Row(), true
}

// root encodes the metadata root twice: once with a zero id to hash along
// with the image digest, then with the id.
func (e *encoder) root() ([]byte, ID, error) {
	strs, blobs, guids := e.str.Bytes(), e.blob.Bytes(), e.guid.Bytes()
	e.st.HeapSizes = tables.HeapSizeFlags(len(strs), len(guids), len(blobs))
	e.st.Sorted = sortedTables
	tbl, err := e.st.Encode()
	if err != nil {
		return nil, ID{}, errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "symbol #~ stream")
	}
	us := tables.NewUserStringHeap().Bytes()

	encode := func(id ID) []byte {
		pdb := binary.NewWriter()
		pdb.WriteBytes(id[:])
		pdb.WriteU32(uint32(e.tm.EntryPoint))
		var mask uint64
		for t := 0; t < typeSystemTables; t++ {
			if e.tm.Rows[t] > 0 {
				mask |= 1 << uint(t)
			}
		}
		pdb.WriteU64(mask)
		for t := 0; t < typeSystemTables; t++ {
			if e.tm.Rows[t] > 0 {
				pdb.WriteU32(e.tm.Rows[t])
			}
		}
		return tables.EncodeRoot(tables.SymbolVersion, []tables.StreamData{
			{Name: tables.StreamPdb, Data: pdb.Bytes()},
			{Name: tables.StreamTables, Data: tbl},
			{Name: tables.StreamStrings, Data: strs},
			{Name: tables.StreamUserStrings, Data: us},
			{Name: tables.StreamGUID, Data: guids},
			{Name: tables.StreamBlob, Data: blobs},
		})
	}

	h := sha256.New()
	h.Write(e.tm.Digest[:])
	h.Write(encode(ID{}))
	sum := h.Sum(nil)
	id := NewID(image.ContentGUID(sum[:16]), binary.U32(sum[16:20])|0x80000000)
	return encode(id), id, nil
}
