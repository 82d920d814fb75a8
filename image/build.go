package image

import (
	"crypto/sha256"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/internal/binary"
	"github.com/wippyai/clr-image/internal/tables"
	"github.com/wippyai/clr-image/metadata"
)

// sortedTables is the Sorted mask written into the #~ header: every table
// the format requires to be sorted, whether present or not.
const sortedTables uint64 = 0x000016003301FA00

// BuildOptions tune Build.
type BuildOptions struct {
	// AllowDroppedTables permits writing a module read from an image that
	// had tables the model does not carry. Those tables are lost.
	AllowDroppedTables bool
}

// Metadata is the metadata of a finalized module, ready to be placed in a PE
// container by Serialize.
type Metadata struct {
	Module *metadata.Module
	Tokens *TokenMap
	// Root is the metadata root with its streams.
	Root []byte
	// IL holds the method bodies. It is placed at ILRVA, which the MethodDef
	// rows already point into.
	IL    []byte
	ILRVA uint32
	Mvid  metadata.GUID
}

type caRow struct {
	parent uint32
	ctor   uint32
	value  uint32
}

type builder struct {
	m    *metadata.Module
	tm   *TokenMap
	st   *tables.Stream
	str  *tables.StringHeap
	blob *tables.BlobHeap
	guid *tables.GUIDHeap
	us   *tables.UserStringHeap
	sigs *standAloneSigs
	il   *binary.Writer
	rvas map[*metadata.MethodDef]uint32
	cas  []caRow

	ilRVA uint32
}

// Build lays out the tables, heaps and method bodies of a finalized module
// and assigns its tokens. A zero Mvid is replaced by a hash of the content.
func Build(m *metadata.Module, opts *BuildOptions) (*Metadata, error) {
	if m.State() != metadata.StateFinalized {
		return nil, errors.InvalidState(errors.PhaseWrite, "module must be finalized before it is built, state is "+m.State().String())
	}
	if len(m.DroppedTables) > 0 && (opts == nil || !opts.AllowDroppedTables) {
		return nil, errors.New(errors.PhaseWrite, errors.KindUnsupported).
			Value(m.DroppedTables).
			Detail("module carries tables the writer cannot reproduce: %v", m.DroppedTables).Build()
	}

	b := &builder{
		m:     m,
		tm:    newTokenMap(m),
		st:    tables.NewStream(),
		str:   tables.NewStringHeap(),
		blob:  tables.NewBlobHeap(),
		guid:  tables.NewGUIDHeap(),
		us:    tables.NewUserStringHeap(),
		sigs:  newStandAloneSigs(),
		il:    binary.NewWriter(),
		rvas:  map[*metadata.MethodDef]uint32{},
		ilRVA: ilRVA(m.Architecture),
	}
	b.assignRows()
	if err := b.bodies(); err != nil {
		return nil, err
	}
	if err := b.tables(); err != nil {
		return nil, err
	}
	root, mvid, err := b.root()
	if err != nil {
		return nil, err
	}

	for t := range b.tm.Rows {
		b.tm.Rows[t] = b.st.Count(tables.ID(t))
	}
	if m.EntryPoint != nil {
		b.tm.EntryPoint, _ = b.tm.Token(m.EntryPoint)
	}
	h := sha256.New()
	h.Write(root)
	h.Write(b.il.Bytes())
	copy(b.tm.Digest[:], h.Sum(nil))

	Logger().Debug("built metadata",
		zap.String("module", m.Name),
		zap.Int("types", len(b.tm.Types)),
		zap.Int("methods", len(b.tm.Methods)),
		zap.Int("memberRefs", len(b.tm.MemberRefs)),
		zap.Int("il", b.il.Len()),
		zap.Int("root", len(root)),
		zap.Stringer("mvid", mvid))

	return &Metadata{
		Module: m,
		Tokens: b.tm,
		Root:   root,
		IL:     b.il.Bytes(),
		ILRVA:  b.ilRVA,
		Mvid:   mvid,
	}, nil
}

// assignRows numbers every definition and reference. Fields, methods and
// parameters are contiguous per owner, as the list columns require.
func (b *builder) assignRows() {
	tm, m := b.tm, b.m
	types := m.AllTypes()
	for _, t := range types {
		tm.addType(t)
	}
	for _, t := range types {
		for _, f := range t.Fields {
			tm.addField(f)
		}
	}
	for _, t := range types {
		for _, md := range t.Methods {
			tm.addMethod(md)
		}
	}
	for _, md := range tm.Methods {
		if md.ReturnParameter != nil {
			tm.addParam(md.ReturnParameter)
		}
		for _, p := range md.Parameters {
			tm.addParam(p)
		}
	}
	for _, r := range m.AssemblyRefs {
		tm.addAssemblyRef(r)
	}
	for _, r := range m.TypeRefs {
		tm.addTypeRef(r)
	}
	for _, r := range m.MemberRefs {
		tm.addMemberRef(r)
	}
	for _, s := range m.TypeSpecs {
		tm.addTypeSpec(s)
	}

	// Type specifications used as tokens without being registered get rows too.
	spec := func(t metadata.TypeDefOrRef) {
		if s, ok := t.(*metadata.TypeSpec); ok {
			if _, bound := tm.tokens[s]; !bound {
				tm.addTypeSpec(s)
			}
		}
	}
	for _, t := range types {
		spec(t.BaseType)
	}
	for _, r := range m.MemberRefs {
		spec(r.Parent)
	}
	for _, md := range tm.Methods {
		if md.Body == nil || !md.HasBody() {
			continue
		}
		for _, ins := range md.Body.Instructions {
			if t, ok := ins.Operand.(metadata.TypeDefOrRef); ok {
				spec(t)
			}
		}
		for _, eh := range md.Body.ExceptionHandlers {
			spec(eh.CatchType)
		}
	}
}

func (b *builder) bodies() error {
	bw := &bodyWriter{tm: b.tm, us: b.us, sigs: b.sigs, out: b.il}
	for _, md := range b.tm.Methods {
		if md.Body == nil || !md.HasBody() {
			continue
		}
		off, err := bw.write(md)
		if err != nil {
			return err
		}
		b.rvas[md] = b.ilRVA + off
	}
	b.il.Align(4)
	return nil
}

func (b *builder) blobOf(data []byte) (uint32, error) {
	off, err := b.blob.Add(data)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "#Blob heap")
	}
	return off, nil
}

func (b *builder) coded(c *tables.Coded, v any) (uint32, error) {
	if v == nil {
		return 0, nil
	}
	tok, err := b.tm.operandToken(v)
	if err != nil {
		return 0, err
	}
	enc, err := c.Encode(tok.Table(), tok.Row())
	if err != nil {
		return 0, errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "token "+tok.String())
	}
	return enc, nil
}

func (b *builder) attrs(owner any, list []*metadata.CustomAttribute) error {
	if len(list) == 0 {
		return nil
	}
	parent, err := b.coded(tables.HasCustomAttribute, owner)
	if err != nil {
		return err
	}
	for _, ca := range list {
		ctor, err := b.coded(tables.CustomAttributeType, ca.Constructor)
		if err != nil {
			return err
		}
		value, err := ca.EncodeValue()
		if err != nil {
			return err
		}
		off, err := b.blobOf(value)
		if err != nil {
			return err
		}
		b.cas = append(b.cas, caRow{parent: parent, ctor: ctor, value: off})
	}
	return nil
}

func (b *builder) tables() error {
	m, tm, st := b.m, b.tm, b.st

	// The MVID is GUID #1; a placeholder stands in until the content hash is known.
	mvid := m.Mvid
	if mvid.IsZero() {
		for i := range mvid {
			mvid[i] = 0xFF
		}
	}
	st.Add(tables.Module, 0, b.str.Add(m.Name), b.guid.Add(mvid), 0, 0)
	if err := b.attrs(m, m.CustomAttributes); err != nil {
		return err
	}

	for _, r := range tm.TypeRefs {
		var scope uint32
		var err error
		if mod, ok := r.Scope.(*metadata.Module); ok {
			scope, err = tables.ResolutionScope.Encode(tables.Module, 1)
			if mod != m {
				return errors.UnresolvedReference([]string{r.FullName()})
			}
		} else if r.Scope != nil {
			scope, err = b.coded(tables.ResolutionScope, r.Scope)
		}
		if err != nil {
			return err
		}
		st.Add(tables.TypeRef, scope, b.str.Add(r.Name), b.str.Add(r.Namespace))
		if err := b.attrs(r, r.CustomAttributes); err != nil {
			return err
		}
	}

	fieldNext, methodNext := uint32(1), uint32(1)
	for _, t := range tm.Types {
		var extends uint32
		if t.BaseType != nil {
			var err error
			if extends, err = b.coded(tables.TypeDefOrRef, t.BaseType); err != nil {
				return err
			}
		}
		st.Add(tables.TypeDef, uint32(t.Attributes), b.str.Add(t.Name), b.str.Add(t.Namespace),
			extends, fieldNext, methodNext)
		fieldNext += uint32(len(t.Fields))
		methodNext += uint32(len(t.Methods))
		if err := b.attrs(t, t.CustomAttributes); err != nil {
			return err
		}
	}

	for _, f := range tm.Fields {
		sig, err := FieldSigBlob(tm, f.Type)
		if err != nil {
			return err
		}
		off, err := b.blobOf(sig)
		if err != nil {
			return err
		}
		st.Add(tables.Field, uint32(f.Attributes), b.str.Add(f.Name), off)
		if err := b.attrs(f, f.CustomAttributes); err != nil {
			return err
		}
	}

	paramNext := uint32(1)
	for _, md := range tm.Methods {
		sig, err := MethodSigBlob(tm, md.Signature())
		if err != nil {
			return err
		}
		off, err := b.blobOf(sig)
		if err != nil {
			return err
		}
		st.Add(tables.MethodDef, b.rvas[md], uint32(md.ImplAttributes), uint32(md.Attributes),
			b.str.Add(md.Name), off, paramNext)
		if md.ReturnParameter != nil {
			paramNext++
		}
		paramNext += uint32(len(md.Parameters))
		if err := b.attrs(md, md.CustomAttributes); err != nil {
			return err
		}
	}

	for _, p := range tm.Params {
		st.Add(tables.Param, uint32(p.Attributes), uint32(p.Sequence()), b.str.Add(p.Name))
		if err := b.attrs(p, p.CustomAttributes); err != nil {
			return err
		}
	}

	for _, r := range tm.MemberRefs {
		parent, err := b.coded(tables.MemberRefParent, r.Parent)
		if err != nil {
			return err
		}
		var sig []byte
		if r.Method != nil {
			sig, err = MethodSigBlob(tm, r.Method)
		} else {
			sig, err = FieldSigBlob(tm, r.Field)
		}
		if err != nil {
			return err
		}
		off, err := b.blobOf(sig)
		if err != nil {
			return err
		}
		st.Add(tables.MemberRef, parent, b.str.Add(r.Name), off)
		if err := b.attrs(r, r.CustomAttributes); err != nil {
			return err
		}
	}

	for _, blob := range b.sigs.blobs {
		off, err := b.blobOf(blob)
		if err != nil {
			return err
		}
		st.Add(tables.StandAloneSig, off)
	}

	for _, s := range tm.TypeSpecs {
		sig, err := TypeSigBlob(tm, s.Sig)
		if err != nil {
			return err
		}
		off, err := b.blobOf(sig)
		if err != nil {
			return err
		}
		st.Add(tables.TypeSpec, off)
		if err := b.attrs(s, s.CustomAttributes); err != nil {
			return err
		}
	}

	if a := m.Assembly(); a != nil {
		flags := a.Flags
		if len(a.PublicKey) > 0 {
			flags |= metadata.AssemblyPublicKey
		}
		key, err := b.blobOf(a.PublicKey)
		if err != nil {
			return err
		}
		st.Add(tables.Assembly, a.HashAlgorithm,
			uint32(a.Version.Major), uint32(a.Version.Minor), uint32(a.Version.Build), uint32(a.Version.Revision),
			uint32(flags), key, b.str.Add(a.Name), b.str.Add(a.Culture))
		if err := b.attrs(a, a.CustomAttributes); err != nil {
			return err
		}
	}

	for _, r := range tm.AssemblyRefs {
		key, err := b.blobOf(r.PublicKeyOrToken)
		if err != nil {
			return err
		}
		hash, err := b.blobOf(r.HashValue)
		if err != nil {
			return err
		}
		st.Add(tables.AssemblyRef,
			uint32(r.Version.Major), uint32(r.Version.Minor), uint32(r.Version.Build), uint32(r.Version.Revision),
			uint32(r.Flags), key, b.str.Add(r.Name), b.str.Add(r.Culture), hash)
		if err := b.attrs(r, r.CustomAttributes); err != nil {
			return err
		}
	}

	for i, t := range tm.Types {
		if t.DeclaringType != nil {
			st.Add(tables.NestedClass, uint32(i+1), tm.tokens[t.DeclaringType].Row())
		}
	}

	sort.SliceStable(b.cas, func(i, j int) bool { return b.cas[i].parent < b.cas[j].parent })
	for _, ca := range b.cas {
		st.Add(tables.CustomAttribute, ca.parent, ca.ctor, ca.value)
	}
	return nil
}

// root encodes the metadata root. When the module has no MVID yet, the root
// is hashed with a placeholder GUID and encoded again with the hash.
func (b *builder) root() ([]byte, metadata.GUID, error) {
	strs, blobs, guids := b.str.Bytes(), b.blob.Bytes(), b.guid.Bytes()
	b.st.HeapSizes = tables.HeapSizeFlags(len(strs), len(guids), len(blobs))
	b.st.Sorted = sortedTables
	tbl, err := b.st.Encode()
	if err != nil {
		return nil, metadata.GUID{}, errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "#~ stream")
	}

	encode := func(guidHeap []byte) []byte {
		return tables.EncodeRoot(b.m.RuntimeVersion, []tables.StreamData{
			{Name: tables.StreamTables, Data: tbl},
			{Name: tables.StreamStrings, Data: strs},
			{Name: tables.StreamUserStrings, Data: b.us.Bytes()},
			{Name: tables.StreamGUID, Data: guidHeap},
			{Name: tables.StreamBlob, Data: blobs},
		})
	}

	root := encode(guids)
	mvid := b.m.Mvid
	if mvid.IsZero() {
		h := sha256.New()
		h.Write(root)
		h.Write(b.il.Bytes())
		mvid = ContentGUID(h.Sum(nil))
		patched := append([]byte(nil), guids...)
		copy(patched, mvid[:])
		root = encode(patched)
	}
	return root, mvid, nil
}

// ContentGUID turns the leading 16 bytes of a content hash into a version 4
// GUID, as deterministic compilers do for module and symbol ids.
func ContentGUID(sum []byte) metadata.GUID {
	var g metadata.GUID
	copy(g[:], sum)
	g[7] = g[7]&0x0F | 0x40
	g[8] = g[8]&0x3F | 0x80
	return g
}
