package image

import (
	"crypto/sha256"
	"fmt"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/internal/tables"
	"github.com/wippyai/clr-image/metadata"
)

// Token is a metadata token: the table in the high byte, a 1-based row below.
type Token uint32

// NewToken makes the token for row of table t.
func NewToken(t tables.ID, row uint32) Token {
	return Token(uint32(t)<<24 | row&0xFFFFFF)
}

// Table returns the table of the token.
func (t Token) Table() tables.ID {
	return tables.ID(t >> 24)
}

// Row returns the 1-based row of the token.
func (t Token) Row() uint32 {
	return uint32(t) & 0xFFFFFF
}

func (t Token) String() string {
	return fmt.Sprintf("0x%08x", uint32(t))
}

// userStringTable is the high byte of an ldstr token.
const userStringTable tables.ID = 0x70

// TokenMap relates model objects to table rows of one image, in both
// directions. The writer fills it while assigning rows; the reader fills it
// while materializing rows. The symbol stream of the image is keyed to it.
type TokenMap struct {
	// Rows holds the row count of every table of the image.
	Rows       [tables.MaxTables]uint32
	EntryPoint Token
	// Digest is a SHA-256 of the metadata root and method bodies the tokens
	// were assigned for. Symbol ids are derived from it.
	Digest [sha256.Size]byte

	Types        []*metadata.TypeDef
	Fields       []*metadata.FieldDef
	Methods      []*metadata.MethodDef
	Params       []*metadata.Parameter
	TypeRefs     []*metadata.TypeRef
	MemberRefs   []*metadata.MemberRef
	TypeSpecs    []*metadata.TypeSpec
	AssemblyRefs []*metadata.AssemblyRef

	// LocalSigs holds the StandAloneSig row of each body with locals.
	LocalSigs map[*metadata.Body]uint32

	module *metadata.Module
	tokens map[any]Token
}

func newTokenMap(m *metadata.Module) *TokenMap {
	return &TokenMap{
		module:    m,
		tokens:    map[any]Token{},
		LocalSigs: map[*metadata.Body]uint32{},
	}
}

// Module returns the module the map belongs to.
func (tm *TokenMap) Module() *metadata.Module {
	return tm.module
}

func (tm *TokenMap) addType(t *metadata.TypeDef) uint32 {
	tm.Types = append(tm.Types, t)
	return tm.bind(t, tables.TypeDef, len(tm.Types))
}

func (tm *TokenMap) addField(f *metadata.FieldDef) uint32 {
	tm.Fields = append(tm.Fields, f)
	return tm.bind(f, tables.Field, len(tm.Fields))
}

func (tm *TokenMap) addMethod(md *metadata.MethodDef) uint32 {
	tm.Methods = append(tm.Methods, md)
	return tm.bind(md, tables.MethodDef, len(tm.Methods))
}

func (tm *TokenMap) addParam(p *metadata.Parameter) uint32 {
	tm.Params = append(tm.Params, p)
	return tm.bind(p, tables.Param, len(tm.Params))
}

func (tm *TokenMap) addTypeRef(r *metadata.TypeRef) uint32 {
	tm.TypeRefs = append(tm.TypeRefs, r)
	return tm.bind(r, tables.TypeRef, len(tm.TypeRefs))
}

func (tm *TokenMap) addMemberRef(r *metadata.MemberRef) uint32 {
	tm.MemberRefs = append(tm.MemberRefs, r)
	return tm.bind(r, tables.MemberRef, len(tm.MemberRefs))
}

func (tm *TokenMap) addTypeSpec(s *metadata.TypeSpec) uint32 {
	tm.TypeSpecs = append(tm.TypeSpecs, s)
	return tm.bind(s, tables.TypeSpec, len(tm.TypeSpecs))
}

func (tm *TokenMap) addAssemblyRef(r *metadata.AssemblyRef) uint32 {
	tm.AssemblyRefs = append(tm.AssemblyRefs, r)
	return tm.bind(r, tables.AssemblyRef, len(tm.AssemblyRefs))
}

func (tm *TokenMap) bind(v any, t tables.ID, row int) uint32 {
	tm.tokens[v] = NewToken(t, uint32(row))
	tm.Rows[t] = uint32(row)
	return uint32(row)
}

// Token returns the token of a model object. Core type markers map to
// their TypeRef in the core library.
func (tm *TokenMap) Token(v any) (Token, bool) {
	switch x := v.(type) {
	case *metadata.Module:
		if x == tm.module {
			return NewToken(tables.Module, 1), true
		}
		return 0, false
	case *metadata.Assembly:
		if x != nil && x == tm.module.Assembly() {
			return NewToken(tables.Assembly, 1), true
		}
		return 0, false
	case *metadata.CoreType:
		ref := tm.module.CoreTypeRef(x)
		if ref == nil {
			return 0, false
		}
		v = ref
	}
	tok, ok := tm.tokens[v]
	return tok, ok
}

// MethodRow returns the MethodDef row of md, or 0.
func (tm *TokenMap) MethodRow(md *metadata.MethodDef) uint32 {
	tok, ok := tm.tokens[md]
	if !ok {
		return 0
	}
	return tok.Row()
}

// Resolve returns the model object for tok.
func (tm *TokenMap) Resolve(tok Token) (any, bool) {
	row := int(tok.Row())
	pick := func(n int) bool { return row >= 1 && row <= n }
	switch tok.Table() {
	case tables.Module:
		return tm.module, row == 1
	case tables.Assembly:
		a := tm.module.Assembly()
		return a, row == 1 && a != nil
	case tables.TypeDef:
		if pick(len(tm.Types)) {
			return tm.Types[row-1], true
		}
	case tables.Field:
		if pick(len(tm.Fields)) {
			return tm.Fields[row-1], true
		}
	case tables.MethodDef:
		if pick(len(tm.Methods)) {
			return tm.Methods[row-1], true
		}
	case tables.Param:
		if pick(len(tm.Params)) {
			return tm.Params[row-1], true
		}
	case tables.TypeRef:
		if pick(len(tm.TypeRefs)) {
			return tm.TypeRefs[row-1], true
		}
	case tables.MemberRef:
		if pick(len(tm.MemberRefs)) {
			return tm.MemberRefs[row-1], true
		}
	case tables.TypeSpec:
		if pick(len(tm.TypeSpecs)) {
			return tm.TypeSpecs[row-1], true
		}
	case tables.AssemblyRef:
		if pick(len(tm.AssemblyRefs)) {
			return tm.AssemblyRefs[row-1], true
		}
	}
	return nil, false
}

// TypeDefOrRefEncoded returns the compressed-signature form of a type
// token (row << 2 | tag), used by signatures and import declarations.
func (tm *TokenMap) TypeDefOrRefEncoded(t metadata.TypeDefOrRef) (uint32, error) {
	tok, ok := tm.Token(t)
	if !ok {
		return 0, errors.UnresolvedReference([]string{t.FullName()})
	}
	v, err := tables.TypeDefOrRef.Encode(tok.Table(), tok.Row())
	if err != nil {
		return 0, errors.Wrap(errors.PhaseWrite, errors.KindInvalidInput, err, "type token "+tok.String())
	}
	return v, nil
}

// ResolveTypeDefOrRef decodes the compressed-signature form of a type token.
func (tm *TokenMap) ResolveTypeDefOrRef(v uint32) (metadata.TypeDefOrRef, error) {
	t, row, err := tables.TypeDefOrRef.Decode(v)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindInvalidData, err, "type token")
	}
	obj, ok := tm.Resolve(NewToken(t, row))
	if !ok {
		return nil, errors.InvalidData(errors.PhaseRead, []string{t.String()}, fmt.Sprintf("row %d out of range", row))
	}
	return obj.(metadata.TypeDefOrRef), nil
}
