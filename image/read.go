package image

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/internal/binary"
	"github.com/wippyai/clr-image/internal/tables"
	"github.com/wippyai/clr-image/metadata"
)

// modeledTables are the tables a read module carries. Rows of any other
// table are skipped and the table is named in Module.DroppedTables.
var modeledTables = map[tables.ID]bool{
	tables.Module:          true,
	tables.TypeRef:         true,
	tables.TypeDef:         true,
	tables.Field:           true,
	tables.MethodDef:       true,
	tables.Param:           true,
	tables.MemberRef:       true,
	tables.CustomAttribute: true,
	tables.StandAloneSig:   true,
	tables.TypeSpec:        true,
	tables.Assembly:        true,
	tables.AssemblyRef:     true,
	tables.NestedClass:     true,
}

// Image is a parsed image.
type Image struct {
	Assembly *metadata.Assembly
	Module   *metadata.Module
	Tokens   *TokenMap
	// Debug is the debug directory, nil when the image has none.
	Debug *Debug
	// Stamp is the COFF header time stamp.
	Stamp uint32
}

// reader materializes the rows of one image into a module.
type reader struct {
	pe    *peFile
	st    *tables.Stream
	heaps *tables.Heaps
	m     *metadata.Module
	tm    *TokenMap
}

// Read parses an image and materializes its modeled tables and method
// bodies. The module is returned in the Populated state.
func Read(data []byte) (*Image, error) {
	pe, err := parsePE(data)
	if err != nil {
		return nil, err
	}
	clr := pe.dirs[dirCLR]
	if clr.size < cliHeaderSize {
		return nil, errors.InvalidData(errors.PhaseRead, []string{"PE"}, "image has no CLI header")
	}
	cli, err := pe.slice(clr.rva, cliHeaderSize)
	if err != nil {
		return nil, err
	}
	meta, err := pe.slice(binary.U32(cli[8:]), binary.U32(cli[12:]))
	if err != nil {
		return nil, err
	}
	root, err := tables.DecodeRoot(meta)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, err, "metadata root")
	}
	st, err := tables.DecodeStream(root.TableStream(), [tables.MaxTables]uint32{})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, err, "table stream")
	}
	if st.Count(tables.Module) != 1 {
		return nil, errors.InvalidData(errors.PhaseRead, []string{"Module"}, fmt.Sprintf("%d module rows", st.Count(tables.Module)))
	}

	kind := metadata.KindConsole
	switch {
	case pe.chars&0x2000 != 0:
		kind = metadata.KindDll
	case pe.subsystem == 2:
		kind = metadata.KindWindows
	}
	heaps := root.Heaps()
	name, err := heaps.String(st.Row(tables.Module, 1)[1])
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, err, "module name")
	}
	m := metadata.NewModule(metadata.ModuleParameters{
		Name:           name,
		RuntimeVersion: root.Version,
		Kind:           kind,
		Architecture:   pe.machine,
	})
	m.Attributes = metadata.ModuleAttributes(binary.U32(cli[16:]))

	r := &reader{pe: pe, st: st, heaps: heaps, m: m, tm: newTokenMap(m)}
	r.tm.Digest = sha256.Sum256(meta)
	asm, err := r.materialize(Token(binary.U32(cli[20:])))
	if err != nil {
		return nil, err
	}
	dbg, err := pe.debug()
	if err != nil {
		return nil, err
	}

	Logger().Debug("read image",
		zap.String("module", m.Name),
		zap.Stringer("machine", m.Architecture),
		zap.Int("types", len(r.tm.Types)),
		zap.Int("methods", len(r.tm.Methods)),
		zap.Strings("dropped", m.DroppedTables))

	return &Image{Assembly: asm, Module: m, Tokens: r.tm, Debug: dbg, Stamp: pe.stamp}, nil
}

func (r *reader) fail(table tables.ID, row uint32, err error) error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if errors.As(err, &e) && e.Phase == errors.PhaseRead {
		return err
	}
	return errors.New(errors.PhaseRead, errors.KindInvalidData).
		Path(table.String()).Value(row).Cause(err).Detail("row %d", row).Build()
}

func (r *reader) str(off uint32) (string, error) { return r.heaps.String(off) }

func (r *reader) blob(off uint32) ([]byte, error) { return r.heaps.Blob(off) }

func (r *reader) materialize(entry Token) (*metadata.Assembly, error) {
	st, m, tm := r.st, r.m, r.tm

	for t := 0; t < tables.MaxTables; t++ {
		id := tables.ID(t)
		if st.Count(id) > 0 && !modeledTables[id] {
			m.DroppedTables = append(m.DroppedTables, id.String())
		}
		tm.Rows[t] = st.Count(id)
	}

	mod := st.Row(tables.Module, 1)
	mvid, err := r.heaps.GUIDAt(mod[2])
	if err != nil {
		return nil, r.fail(tables.Module, 1, err)
	}
	m.Mvid = mvid

	var asm *metadata.Assembly
	if row := st.Row(tables.Assembly, 1); row != nil {
		asm = &metadata.Assembly{
			HashAlgorithm: row[0],
			Version:       metadata.Version{Major: uint16(row[1]), Minor: uint16(row[2]), Build: uint16(row[3]), Revision: uint16(row[4])},
			Flags:         metadata.AssemblyFlags(row[5]),
		}
		if asm.PublicKey, err = r.blob(row[6]); err != nil {
			return nil, r.fail(tables.Assembly, 1, err)
		}
		asm.PublicKey = clone(asm.PublicKey)
		if asm.Name, err = r.str(row[7]); err != nil {
			return nil, r.fail(tables.Assembly, 1, err)
		}
		if asm.Culture, err = r.str(row[8]); err != nil {
			return nil, r.fail(tables.Assembly, 1, err)
		}
		asm.SetModule(m)
	}

	steps := []func() error{
		r.assemblyRefs, r.typeRefs, r.typeDefs, r.fields, r.methods, r.params,
		r.memberRefs, r.typeSpecs, r.signatures, r.bodies, r.customAttributes,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	if entry != 0 {
		v, ok := tm.Resolve(entry)
		md, isMethod := v.(*metadata.MethodDef)
		if !ok || !isMethod {
			return nil, errors.InvalidData(errors.PhaseRead, []string{"CLI header"}, "entry point token "+entry.String())
		}
		if err := m.SetEntryPoint(md); err != nil {
			return nil, err
		}
		tm.EntryPoint = entry
	}
	m.MarkPopulated()
	return asm, nil
}

func (r *reader) assemblyRefs() error {
	for i := uint32(1); i <= r.st.Count(tables.AssemblyRef); i++ {
		row := r.st.Row(tables.AssemblyRef, i)
		ref := &metadata.AssemblyRef{
			Version: metadata.Version{Major: uint16(row[0]), Minor: uint16(row[1]), Build: uint16(row[2]), Revision: uint16(row[3])},
			Flags:   metadata.AssemblyFlags(row[4]),
		}
		var err error
		key, err := r.blob(row[5])
		if err != nil {
			return r.fail(tables.AssemblyRef, i, err)
		}
		ref.PublicKeyOrToken = clone(key)
		if ref.Name, err = r.str(row[6]); err != nil {
			return r.fail(tables.AssemblyRef, i, err)
		}
		if ref.Culture, err = r.str(row[7]); err != nil {
			return r.fail(tables.AssemblyRef, i, err)
		}
		hash, err := r.blob(row[8])
		if err != nil {
			return r.fail(tables.AssemblyRef, i, err)
		}
		ref.HashValue = clone(hash)
		r.m.AssemblyRefs = append(r.m.AssemblyRefs, ref)
		r.tm.addAssemblyRef(ref)
	}
	return nil
}

func (r *reader) typeRefs() error {
	n := r.st.Count(tables.TypeRef)
	for i := uint32(1); i <= n; i++ {
		row := r.st.Row(tables.TypeRef, i)
		ref := &metadata.TypeRef{}
		var err error
		if ref.Name, err = r.str(row[1]); err != nil {
			return r.fail(tables.TypeRef, i, err)
		}
		if ref.Namespace, err = r.str(row[2]); err != nil {
			return r.fail(tables.TypeRef, i, err)
		}
		r.m.TypeRefs = append(r.m.TypeRefs, ref)
		r.tm.addTypeRef(ref)
	}
	// Scopes may point at later rows.
	for i := uint32(1); i <= n; i++ {
		row := r.st.Row(tables.TypeRef, i)
		ref := r.tm.TypeRefs[i-1]
		if row[0] == 0 {
			continue
		}
		t, sr, err := tables.ResolutionScope.Decode(row[0])
		if err != nil {
			return r.fail(tables.TypeRef, i, err)
		}
		switch t {
		case tables.Module:
			ref.Scope = r.m
		case tables.AssemblyRef, tables.TypeRef:
			v, ok := r.tm.Resolve(NewToken(t, sr))
			if !ok {
				return r.fail(tables.TypeRef, i, fmt.Errorf("scope %s row %d out of range", t, sr))
			}
			ref.Scope = v.(metadata.ResolutionScope)
		default:
			return errors.New(errors.PhaseRead, errors.KindUnsupported).
				Path(tables.TypeRef.String()).Member(ref.FullName()).
				Detail("resolution scope %s is not supported", t).Build()
		}
	}
	return nil
}

func (r *reader) typeDefs() error {
	st, m := r.st, r.m
	n := st.Count(tables.TypeDef)
	enclosing := map[uint32]uint32{}
	for i := uint32(1); i <= st.Count(tables.NestedClass); i++ {
		row := st.Row(tables.NestedClass, i)
		enclosing[row[0]] = row[1]
	}

	for i := uint32(1); i <= n; i++ {
		row := st.Row(tables.TypeDef, i)
		name, err := r.str(row[1])
		if err != nil {
			return r.fail(tables.TypeDef, i, err)
		}
		ns, err := r.str(row[2])
		if err != nil {
			return r.fail(tables.TypeDef, i, err)
		}
		var t *metadata.TypeDef
		if i == 1 {
			t = m.GlobalType()
			t.Name, t.Namespace = name, ns
			t.Attributes = metadata.TypeAttributes(row[0])
		} else {
			t = metadata.NewTypeDef(ns, name, metadata.TypeAttributes(row[0]), nil)
		}
		r.tm.addType(t)
		if i == 1 {
			continue
		}

		if outer, ok := enclosing[i]; ok {
			if outer == 0 || outer >= i {
				return r.fail(tables.NestedClass, i, fmt.Errorf("enclosing type row %d must precede nested row %d", outer, i))
			}
			if err := r.tm.Types[outer-1].AddNestedType(t); err != nil {
				return err
			}
		} else if err := m.AddType(t); err != nil {
			return err
		}
	}
	return nil
}

func (r *reader) fields() error {
	st := r.st
	for i := uint32(1); i <= st.Count(tables.Field); i++ {
		row := st.Row(tables.Field, i)
		name, err := r.str(row[1])
		if err != nil {
			return r.fail(tables.Field, i, err)
		}
		r.tm.addField(metadata.NewFieldDef(name, metadata.FieldAttributes(row[0]), nil))
	}
	for i := uint32(1); i <= st.Count(tables.TypeDef); i++ {
		start, end, err := st.Range(tables.TypeDef, 4, i, tables.Field)
		if err != nil {
			return r.fail(tables.TypeDef, i, err)
		}
		for f := start; f < end; f++ {
			if err := r.tm.Types[i-1].AddField(r.tm.Fields[f-1]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *reader) methods() error {
	st := r.st
	for i := uint32(1); i <= st.Count(tables.MethodDef); i++ {
		row := st.Row(tables.MethodDef, i)
		name, err := r.str(row[3])
		if err != nil {
			return r.fail(tables.MethodDef, i, err)
		}
		md := metadata.NewMethodDef(name, metadata.MethodAttributes(row[2]), nil)
		md.ImplAttributes = metadata.MethodImplAttributes(row[1])
		r.tm.addMethod(md)
	}
	for i := uint32(1); i <= st.Count(tables.TypeDef); i++ {
		start, end, err := st.Range(tables.TypeDef, 5, i, tables.MethodDef)
		if err != nil {
			return r.fail(tables.TypeDef, i, err)
		}
		for k := start; k < end; k++ {
			if err := r.tm.Types[i-1].AddMethod(r.tm.Methods[k-1]); err != nil {
				return err
			}
		}
	}
	return nil
}

// params creates Parameter objects for every Param row; they are attached
// once method signatures are known.
func (r *reader) params() error {
	for i := uint32(1); i <= r.st.Count(tables.Param); i++ {
		row := r.st.Row(tables.Param, i)
		name, err := r.str(row[2])
		if err != nil {
			return r.fail(tables.Param, i, err)
		}
		r.tm.addParam(metadata.NewParameter(name, metadata.ParamAttributes(row[0]), nil))
	}
	return nil
}

func (r *reader) memberRefs() error {
	for i := uint32(1); i <= r.st.Count(tables.MemberRef); i++ {
		name, err := r.str(r.st.Row(tables.MemberRef, i)[1])
		if err != nil {
			return r.fail(tables.MemberRef, i, err)
		}
		ref := &metadata.MemberRef{Name: name}
		r.m.MemberRefs = append(r.m.MemberRefs, ref)
		r.tm.addMemberRef(ref)
	}
	return nil
}

func (r *reader) typeSpecs() error {
	for i := uint32(1); i <= r.st.Count(tables.TypeSpec); i++ {
		spec := &metadata.TypeSpec{}
		r.m.TypeSpecs = append(r.m.TypeSpecs, spec)
		r.tm.addTypeSpec(spec)
	}
	return nil
}

// signatures decodes every signature blob once all rows have objects.
func (r *reader) signatures() error {
	st, tm := r.st, r.tm

	for i, spec := range tm.TypeSpecs {
		row := uint32(i + 1)
		blob, err := r.blob(st.Row(tables.TypeSpec, row)[0])
		if err != nil {
			return r.fail(tables.TypeSpec, row, err)
		}
		if spec.Sig, err = decodeTypeSig(tm, blob); err != nil {
			return r.fail(tables.TypeSpec, row, err)
		}
	}

	for i, t := range tm.Types {
		row := uint32(i + 1)
		extends := st.Row(tables.TypeDef, row)[3]
		if extends == 0 {
			continue
		}
		base, err := tm.ResolveTypeDefOrRef(extends)
		if err != nil {
			return r.fail(tables.TypeDef, row, err)
		}
		t.BaseType = base
	}

	for i, f := range tm.Fields {
		row := uint32(i + 1)
		blob, err := r.blob(st.Row(tables.Field, row)[2])
		if err != nil {
			return r.fail(tables.Field, row, err)
		}
		if f.Type, err = decodeFieldSig(tm, blob); err != nil {
			return r.fail(tables.Field, row, err)
		}
	}

	for i, md := range tm.Methods {
		row := uint32(i + 1)
		if err := r.methodSignature(md, row); err != nil {
			return err
		}
	}

	for i, ref := range tm.MemberRefs {
		row := uint32(i + 1)
		cols := st.Row(tables.MemberRef, row)
		t, pr, err := tables.MemberRefParent.Decode(cols[0])
		if err != nil {
			return r.fail(tables.MemberRef, row, err)
		}
		parent, ok := tm.Resolve(NewToken(t, pr))
		p, isType := parent.(metadata.TypeDefOrRef)
		if !ok || !isType {
			return errors.New(errors.PhaseRead, errors.KindUnsupported).
				Path(tables.MemberRef.String()).Member(ref.Name).
				Detail("member reference parent %s is not supported", t).Build()
		}
		ref.Parent = p
		blob, err := r.blob(cols[2])
		if err != nil {
			return r.fail(tables.MemberRef, row, err)
		}
		if len(blob) > 0 && metadata.CallingConvention(blob[0]) == metadata.ConvField {
			ref.Field, err = decodeFieldSig(tm, blob)
		} else {
			ref.Method, err = decodeMethodSig(tm, blob)
		}
		if err != nil {
			return r.fail(tables.MemberRef, row, err)
		}
	}
	return nil
}

func (r *reader) methodSignature(md *metadata.MethodDef, row uint32) error {
	st, tm := r.st, r.tm
	blob, err := r.blob(st.Row(tables.MethodDef, row)[4])
	if err != nil {
		return r.fail(tables.MethodDef, row, err)
	}
	sig, err := decodeMethodSig(tm, blob)
	if err != nil {
		return r.fail(tables.MethodDef, row, err)
	}
	if sig.HasThis == md.IsStatic() {
		return r.fail(tables.MethodDef, row, fmt.Errorf("signature HASTHIS disagrees with static flag"))
	}
	md.ReturnType = sig.Return
	md.CallConv = sig.CallConv
	md.GenericParamCount = sig.GenericParamCount

	bySeq := map[int]*metadata.Parameter{}
	start, end, err := st.Range(tables.MethodDef, 5, row, tables.Param)
	if err != nil {
		return r.fail(tables.MethodDef, row, err)
	}
	rows := make([]uint32, 0, end-start)
	for p := start; p < end; p++ {
		rows = append(rows, p)
	}
	sort.SliceStable(rows, func(a, b int) bool {
		return st.Row(tables.Param, rows[a])[1] < st.Row(tables.Param, rows[b])[1]
	})
	for _, p := range rows {
		seq := int(st.Row(tables.Param, p)[1])
		if seq > len(sig.Params) {
			return r.fail(tables.Param, p, fmt.Errorf("sequence %d beyond %d parameters", seq, len(sig.Params)))
		}
		bySeq[seq] = tm.Params[p-1]
	}
	if ret, ok := bySeq[0]; ok {
		ret.Type = sig.Return
		md.SetReturnParameter(ret)
	}
	for i, t := range sig.Params {
		p, ok := bySeq[i+1]
		if !ok {
			p = metadata.NewParameter("", metadata.ParamNone, nil)
		}
		p.Type = t
		if err := md.AddParameter(p); err != nil {
			return err
		}
	}
	return nil
}

func (r *reader) bodies() error {
	st := r.st
	br := &bodyReader{
		tm:    r.tm,
		heaps: r.heaps,
		sigs: func(row uint32) ([]byte, error) {
			cols := st.Row(tables.StandAloneSig, row)
			if cols == nil {
				return nil, fmt.Errorf("StandAloneSig row %d out of range", row)
			}
			return r.blob(cols[0])
		},
	}
	for i, md := range r.tm.Methods {
		rva := st.Row(tables.MethodDef, uint32(i+1))[0]
		if rva == 0 {
			continue
		}
		sec, off, ok := r.pe.sectionAt(rva)
		if !ok {
			return r.fail(tables.MethodDef, uint32(i+1), fmt.Errorf("body RVA 0x%x is not mapped", rva))
		}
		rd := binary.NewReader(sec.raw)
		if err := rd.Seek(int(off)); err != nil {
			return r.fail(tables.MethodDef, uint32(i+1), err)
		}
		if err := br.read(md, rd); err != nil {
			return err
		}
	}
	return nil
}

func (r *reader) customAttributes() error {
	st, tm := r.st, r.tm
	for i := uint32(1); i <= st.Count(tables.CustomAttribute); i++ {
		row := st.Row(tables.CustomAttribute, i)
		pt, prow, err := tables.HasCustomAttribute.Decode(row[0])
		if err != nil {
			return r.fail(tables.CustomAttribute, i, err)
		}
		if !modeledTables[pt] {
			continue
		}
		owner, ok := tm.Resolve(NewToken(pt, prow))
		if !ok {
			return r.fail(tables.CustomAttribute, i, fmt.Errorf("parent %s row %d out of range", pt, prow))
		}
		ct, crow, err := tables.CustomAttributeType.Decode(row[1])
		if err != nil {
			return r.fail(tables.CustomAttribute, i, err)
		}
		v, ok := tm.Resolve(NewToken(ct, crow))
		ctor, isMethod := v.(metadata.MethodRef)
		if !ok || !isMethod {
			return r.fail(tables.CustomAttribute, i, fmt.Errorf("constructor %s row %d", ct, crow))
		}
		blob, err := r.blob(row[2])
		if err != nil {
			return r.fail(tables.CustomAttribute, i, err)
		}

		ca := &metadata.CustomAttribute{Constructor: ctor, Raw: clone(blob)}
		if err := ca.DecodeValue(blob); err != nil {
			Logger().Debug("custom attribute kept as raw blob",
				zap.String("constructor", ctor.FullName()), zap.Error(err))
		}

		switch o := owner.(type) {
		case *metadata.Module:
			o.CustomAttributes = append(o.CustomAttributes, ca)
		case *metadata.Assembly:
			o.CustomAttributes = append(o.CustomAttributes, ca)
		case *metadata.TypeDef:
			o.CustomAttributes = append(o.CustomAttributes, ca)
		case *metadata.FieldDef:
			o.CustomAttributes = append(o.CustomAttributes, ca)
		case *metadata.MethodDef:
			o.CustomAttributes = append(o.CustomAttributes, ca)
		case *metadata.Parameter:
			o.CustomAttributes = append(o.CustomAttributes, ca)
		case *metadata.TypeRef:
			o.CustomAttributes = append(o.CustomAttributes, ca)
		case *metadata.MemberRef:
			o.CustomAttributes = append(o.CustomAttributes, ca)
		case *metadata.TypeSpec:
			o.CustomAttributes = append(o.CustomAttributes, ca)
		case *metadata.AssemblyRef:
			o.CustomAttributes = append(o.CustomAttributes, ca)
		}
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
