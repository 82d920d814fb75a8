package pdb

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/image"
	"github.com/wippyai/clr-image/internal/binary"
	"github.com/wippyai/clr-image/internal/tables"
	"github.com/wippyai/clr-image/metadata"
)

// decoder attaches the rows of one symbol stream to a read module.
type decoder struct {
	m     *metadata.Module
	tm    *image.TokenMap
	st    *tables.Stream
	heaps *tables.Heaps

	docs   []*metadata.Document
	scopes []*metadata.Scope
	vars   []*metadata.LocalDebug
	consts []*metadata.LocalConstant
}

// Header is the content of the #Pdb stream.
type Header struct {
	ID         ID
	EntryPoint image.Token
	Rows       [tables.MaxTables]uint32
}

// ReadHeader parses only the #Pdb stream of a symbol stream.
func ReadHeader(data []byte) (*Header, *tables.Root, error) {
	root, err := tables.DecodeRoot(data)
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, err, "symbol metadata root")
	}
	raw := root.Stream(tables.StreamPdb)
	if raw == nil {
		return nil, nil, errors.InvalidData(errors.PhaseRead, []string{tables.StreamPdb}, "symbol stream has no #Pdb stream")
	}
	r := binary.NewReader(raw)
	h := &Header{}
	id, err := r.ReadBytes(len(h.ID))
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, r.WrapError("#Pdb", err), "symbol id")
	}
	copy(h.ID[:], id)
	entry, err := r.ReadU32()
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, r.WrapError("#Pdb", err), "entry point")
	}
	h.EntryPoint = image.Token(entry)
	mask, err := r.ReadU64()
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, r.WrapError("#Pdb", err), "referenced tables")
	}
	for t := 0; t < tables.MaxTables; t++ {
		if mask&(1<<uint(t)) == 0 {
			continue
		}
		if t >= typeSystemTables {
			return nil, nil, errors.InvalidData(errors.PhaseRead, []string{tables.StreamPdb},
				fmt.Sprintf("table %s is not a type-system table", tables.ID(t)))
		}
		if h.Rows[t], err = r.ReadU32(); err != nil {
			return nil, nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, r.WrapError("#Pdb", err), "row counts")
		}
	}
	return h, root, nil
}

// Decode attaches the symbols in data to m, which must have been read from
// the image the symbols belong to; tm is the token map of that read. When
// expected is set, the stream id must equal it. A stream written for
// another image fails with SymbolMismatch.
func Decode(data []byte, m *metadata.Module, tm *image.TokenMap, expected *ID) (ID, error) {
	h, root, err := ReadHeader(data)
	if err != nil {
		return ID{}, err
	}
	if expected != nil && h.ID != *expected {
		return h.ID, errors.SymbolMismatch("symbol id %s does not match the image's %s", h.ID, *expected)
	}
	for t := 0; t < typeSystemTables; t++ {
		if h.Rows[t] != tm.Rows[t] {
			return h.ID, errors.SymbolMismatch("symbols record %d %s rows, image has %d", h.Rows[t], tables.ID(t), tm.Rows[t])
		}
	}
	if h.EntryPoint != tm.EntryPoint {
		return h.ID, errors.SymbolMismatch("symbols record entry point %s, image has %s", h.EntryPoint, tm.EntryPoint)
	}

	st, err := tables.DecodeStream(root.TableStream(), h.Rows)
	if err != nil {
		return h.ID, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, err, "symbol table stream")
	}
	if n := st.Count(tables.MethodDebugInformation); n != 0 && n != tm.Rows[tables.MethodDef] {
		return h.ID, errors.SymbolMismatch("symbols describe %d methods, image has %d", n, tm.Rows[tables.MethodDef])
	}

	d := &decoder{m: m, tm: tm, st: st, heaps: root.Heaps()}
	steps := []func() error{d.documents, d.imports, d.methods, d.localScopes, d.stateMachines, d.customDebugInfo}
	for _, step := range steps {
		if err := step(); err != nil {
			return h.ID, err
		}
	}

	Logger().Debug("decoded symbols",
		zap.String("module", m.Name),
		zap.Stringer("id", h.ID),
		zap.Int("documents", len(d.docs)),
		zap.Int("scopes", len(d.scopes)),
		zap.Int("imports", m.ImportScopes.Len()))
	return h.ID, nil
}

func (d *decoder) fail(table tables.ID, row uint32, err error) error {
	var e *errors.Error
	if errors.As(err, &e) && e.Phase == errors.PhaseRead {
		return err
	}
	return errors.New(errors.PhaseRead, errors.KindInvalidData).
		Path(table.String()).Value(row).Cause(err).Detail("row %d", row).Build()
}

func (d *decoder) documents() error {
	for i := uint32(1); i <= d.st.Count(tables.Document); i++ {
		row := d.st.Row(tables.Document, i)
		name, err := d.documentName(row[0])
		if err != nil {
			return d.fail(tables.Document, i, err)
		}
		hashAlg, err := d.heaps.GUIDAt(row[1])
		if err != nil {
			return d.fail(tables.Document, i, err)
		}
		hash, err := d.heaps.Blob(row[2])
		if err != nil {
			return d.fail(tables.Document, i, err)
		}
		lang, err := d.heaps.GUIDAt(row[3])
		if err != nil {
			return d.fail(tables.Document, i, err)
		}
		doc, err := d.m.AddDocument(&metadata.Document{
			Name:          name,
			Hash:          append([]byte(nil), hash...),
			HashAlgorithm: hashAlg,
			Language:      lang,
		})
		if err != nil {
			return err
		}
		d.docs = append(d.docs, doc)
	}
	return nil
}

func (d *decoder) documentName(off uint32) (string, error) {
	blob, err := d.heaps.Blob(off)
	if err != nil {
		return "", err
	}
	if len(blob) == 0 {
		return "", fmt.Errorf("empty document name blob")
	}
	sep := blob[0]
	r := newBlobReader(blob[1:])
	var parts []string
	for r.more() {
		part, err := d.heaps.Blob(r.u32())
		if err != nil {
			return "", err
		}
		parts = append(parts, string(part))
	}
	if r.err != nil {
		return "", r.err
	}
	return joinDocumentName(sep, parts), nil
}

func (d *decoder) doc(row uint32) (*metadata.Document, error) {
	if row == 0 || int(row) > len(d.docs) {
		return nil, fmt.Errorf("document row %d out of range", row)
	}
	return d.docs[row-1], nil
}

func (d *decoder) imports() error {
	for i := uint32(1); i <= d.st.Count(tables.ImportScope); i++ {
		row := d.st.Row(tables.ImportScope, i)
		blob, err := d.heaps.Blob(row[1])
		if err != nil {
			return d.fail(tables.ImportScope, i, err)
		}
		targets, err := d.importTargets(blob)
		if err != nil {
			return d.fail(tables.ImportScope, i, err)
		}
		id, err := d.m.ImportScopes.Add(metadata.ImportScopeID(row[0]), targets...)
		if err != nil {
			return d.fail(tables.ImportScope, i, err)
		}
		if uint32(id) != i {
			return d.fail(tables.ImportScope, i, fmt.Errorf("module already holds %d import scopes", d.m.ImportScopes.Len()-1))
		}
	}
	return nil
}

func (d *decoder) importTargets(blob []byte) ([]metadata.ImportTarget, error) {
	r := newBlobReader(blob)
	var out []metadata.ImportTarget
	var err error
	str := func() string {
		if r.err != nil || err != nil {
			return ""
		}
		var b []byte
		b, err = d.heaps.Blob(r.u32())
		return string(b)
	}
	asm := func() *metadata.AssemblyRef {
		row := r.u32()
		if r.err != nil || err != nil {
			return nil
		}
		v, ok := d.tm.Resolve(image.NewToken(tables.AssemblyRef, row))
		if !ok {
			err = fmt.Errorf("assembly reference row %d out of range", row)
			return nil
		}
		return v.(*metadata.AssemblyRef)
	}
	typ := func() metadata.TypeDefOrRef {
		v := r.u32()
		if r.err != nil || err != nil {
			return nil
		}
		var t metadata.TypeDefOrRef
		t, err = d.tm.ResolveTypeDefOrRef(v)
		return t
	}

	for r.more() && err == nil {
		t := metadata.ImportTarget{Kind: metadata.ImportKind(r.u32())}
		switch t.Kind {
		case metadata.ImportNamespace:
			t.Namespace = str()
		case metadata.ImportAssemblyNamespace:
			t.Assembly = asm()
			t.Namespace = str()
		case metadata.ImportType:
			t.Type = typ()
		case metadata.ImportXMLNamespace:
			t.Alias = str()
			t.Namespace = str()
		case metadata.ImportAssemblyReferenceAlias:
			t.Alias = str()
		case metadata.DefineAssemblyAlias:
			t.Alias = str()
			t.Assembly = asm()
		case metadata.DefineNamespaceAlias:
			t.Alias = str()
			t.Namespace = str()
		case metadata.DefineAssemblyNamespaceAlias:
			t.Alias = str()
			t.Assembly = asm()
			t.Namespace = str()
		case metadata.DefineTypeAlias:
			t.Alias = str()
			t.Type = typ()
		default:
			if r.err == nil {
				err = fmt.Errorf("invalid import kind %d", t.Kind)
			}
		}
		out = append(out, t)
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, err
}

func (d *decoder) methods() error {
	for i := uint32(1); i <= d.st.Count(tables.MethodDebugInformation); i++ {
		row := d.st.Row(tables.MethodDebugInformation, i)
		if row[1] == 0 {
			continue
		}
		md := d.tm.Methods[i-1]
		blob, err := d.heaps.Blob(row[1])
		if err != nil {
			return d.fail(tables.MethodDebugInformation, i, err)
		}
		if err := d.sequencePoints(md, row[0], blob); err != nil {
			return d.fail(tables.MethodDebugInformation, i, err)
		}
	}
	return nil
}

func (d *decoder) sequencePoints(md *metadata.MethodDef, docRow uint32, blob []byte) error {
	r := newBlobReader(blob)
	r.u32() // locals signature, known from the method body
	if docRow == 0 {
		docRow = r.u32()
	}
	doc, err := d.doc(docRow)
	if err != nil {
		return err
	}

	body := md.Body
	offset, line, column := 0, 0, 0
	seenVisible := false
	for first := true; r.more(); first = false {
		delta := r.u32()
		if !first && delta == 0 {
			if doc, err = d.doc(r.u32()); err != nil {
				return err
			}
			continue
		}
		if first {
			offset = int(delta)
		} else {
			offset += int(delta)
		}
		lines := r.u32()
		var columns int
		if lines == 0 {
			columns = int(r.u32())
		} else {
			columns = int(r.s32())
		}
		if r.err != nil {
			break
		}
		ins := body.InstructionAt(offset)
		if ins == nil {
			return fmt.Errorf("sequence point at IL_%04x is not on an instruction boundary", offset)
		}
		if lines == 0 && columns == 0 {
			if _, err := md.DebugInfo.AddHiddenSequencePoint(ins, doc); err != nil {
				return err
			}
			continue
		}
		if !seenVisible {
			line, column = int(r.u32()), int(r.u32())
			seenVisible = true
		} else {
			line += int(r.s32())
			column += int(r.s32())
		}
		if r.err != nil {
			break
		}
		if _, err := md.DebugInfo.AddSequencePoint(ins, doc, line, column, line+int(lines), column+columns); err != nil {
			return err
		}
	}
	return r.err
}

// localScopes rebuilds each method's scope tree from the sorted rows:
// a row is the child of the nearest preceding row that contains it.
func (d *decoder) localScopes() error {
	type open struct {
		scope      *metadata.Scope
		start, end uint32
	}
	var (
		stack  []open
		method uint32
	)
	for i := uint32(1); i <= d.st.Count(tables.LocalScope); i++ {
		row := d.st.Row(tables.LocalScope, i)
		if row[0] == 0 || int(row[0]) > len(d.tm.Methods) {
			return d.fail(tables.LocalScope, i, fmt.Errorf("method row %d out of range", row[0]))
		}
		if row[0] != method {
			method, stack = row[0], stack[:0]
		}
		md := d.tm.Methods[row[0]-1]
		body := md.Body
		start, end := row[4], row[4]+row[5]

		startIns := body.InstructionAt(int(start))
		var endIns *metadata.Instruction
		if int(end) != body.CodeSize() {
			if endIns = body.InstructionAt(int(end)); endIns == nil {
				return d.fail(tables.LocalScope, i, fmt.Errorf("scope end IL_%04x is not on an instruction boundary", end))
			}
		}
		if startIns == nil {
			return d.fail(tables.LocalScope, i, fmt.Errorf("scope start IL_%04x is not on an instruction boundary", start))
		}

		s := md.DebugInfo.NewDetachedScope(startIns, endIns)
		s.Import = metadata.ImportScopeID(row[1])
		if row[1] != 0 && !d.m.ImportScopes.Has(s.Import) {
			return d.fail(tables.LocalScope, i, fmt.Errorf("import scope %d out of range", row[1]))
		}

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.start <= start && end <= top.end {
				break
			}
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			if md.DebugInfo.Scope != nil {
				return d.fail(tables.LocalScope, i, fmt.Errorf("second root scope in %s", md.FullName()))
			}
			md.DebugInfo.Scope = s
		} else {
			parent := stack[len(stack)-1].scope
			parent.Scopes = append(parent.Scopes, s)
		}
		stack = append(stack, open{scope: s, start: start, end: end})
		d.scopes = append(d.scopes, s)

		if err := d.scopeLocals(md, s, i); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) scopeLocals(md *metadata.MethodDef, s *metadata.Scope, row uint32) error {
	first, end, err := d.st.Range(tables.LocalScope, 2, row, tables.LocalVariable)
	if err != nil {
		return d.fail(tables.LocalScope, row, err)
	}
	for v := first; v < end; v++ {
		cols := d.st.Row(tables.LocalVariable, v)
		name, err := d.heaps.String(cols[2])
		if err != nil {
			return d.fail(tables.LocalVariable, v, err)
		}
		if int(cols[1]) >= len(md.Body.Variables) {
			return d.fail(tables.LocalVariable, v, fmt.Errorf("slot %d of %s does not exist", cols[1], md.FullName()))
		}
		local, err := s.AddVariable(md.Body.Variables[cols[1]], name)
		if err != nil {
			return err
		}
		local.Attributes = uint16(cols[0])
		d.vars = append(d.vars, local)
	}

	first, end, err = d.st.Range(tables.LocalScope, 3, row, tables.LocalConstant)
	if err != nil {
		return d.fail(tables.LocalScope, row, err)
	}
	for c := first; c < end; c++ {
		cols := d.st.Row(tables.LocalConstant, c)
		name, err := d.heaps.String(cols[0])
		if err != nil {
			return d.fail(tables.LocalConstant, c, err)
		}
		sig, err := d.heaps.Blob(cols[1])
		if err != nil {
			return d.fail(tables.LocalConstant, c, err)
		}
		d.consts = append(d.consts, s.AddConstant(name, append([]byte(nil), sig...)))
	}
	return nil
}

func (d *decoder) method(row uint32) (*metadata.MethodDef, bool) {
	if row == 0 || int(row) > len(d.tm.Methods) {
		return nil, false
	}
	return d.tm.Methods[row-1], true
}

func (d *decoder) stateMachines() error {
	for i := uint32(1); i <= d.st.Count(tables.StateMachineMethod); i++ {
		row := d.st.Row(tables.StateMachineMethod, i)
		moveNext, ok1 := d.method(row[0])
		kickoff, ok2 := d.method(row[1])
		if !ok1 || !ok2 {
			return d.fail(tables.StateMachineMethod, i, fmt.Errorf("method rows %d, %d out of range", row[0], row[1]))
		}
		moveNext.DebugInfo.StateMachineKickoff = kickoff
	}
	return nil
}

func (d *decoder) customDebugInfo() error {
	for i := uint32(1); i <= d.st.Count(tables.CustomDebugInformation); i++ {
		row := d.st.Row(tables.CustomDebugInformation, i)
		t, prow, err := tables.HasCustomDebugInfo.Decode(row[0])
		if err != nil {
			return d.fail(tables.CustomDebugInformation, i, err)
		}
		parent, ok := d.parent(t, prow)
		if !ok {
			Logger().Debug("custom debug information on an unmodeled parent dropped",
				zap.Stringer("table", t), zap.Uint32("row", prow))
			continue
		}
		kind, err := d.heaps.GUIDAt(row[1])
		if err != nil {
			return d.fail(tables.CustomDebugInformation, i, err)
		}
		value, err := d.heaps.Blob(row[2])
		if err != nil {
			return d.fail(tables.CustomDebugInformation, i, err)
		}
		d.m.CustomDebugInfos = append(d.m.CustomDebugInfos, &metadata.CustomDebugInfo{
			Parent: parent,
			Kind:   kind,
			Value:  append([]byte(nil), value...),
		})
	}
	return nil
}

func (d *decoder) parent(t tables.ID, row uint32) (any, bool) {
	pick := func(n int) bool { return row >= 1 && int(row) <= n }
	switch t {
	case tables.Document:
		if pick(len(d.docs)) {
			return d.docs[row-1], true
		}
		return nil, false
	case tables.LocalScope:
		if pick(len(d.scopes)) {
			return d.scopes[row-1], true
		}
		return nil, false
	case tables.LocalVariable:
		if pick(len(d.vars)) {
			return d.vars[row-1], true
		}
		return nil, false
	case tables.LocalConstant:
		if pick(len(d.consts)) {
			return d.consts[row-1], true
		}
		return nil, false
	case tables.ImportScope:
		id := metadata.ImportScopeID(row)
		return id, d.m.ImportScopes.Has(id)
	}
	return d.tm.Resolve(image.NewToken(t, row))
}
