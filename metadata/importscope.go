package metadata

import (
	"fmt"

	"github.com/wippyai/clr-image/errors"
)

// ImportScopeID addresses a node of the ImportScopes arena. IDs start at 1
// and equal the ImportScope row of the symbol stream; 0 means no scope.
type ImportScopeID uint32

// ImportKind is the kind of an import declaration.
type ImportKind byte

const (
	ImportNamespace              ImportKind = 1
	ImportAssemblyNamespace      ImportKind = 2
	ImportType                   ImportKind = 3
	ImportXMLNamespace           ImportKind = 4
	ImportAssemblyReferenceAlias ImportKind = 5
	DefineAssemblyAlias          ImportKind = 6
	DefineNamespaceAlias         ImportKind = 7
	DefineAssemblyNamespaceAlias ImportKind = 8
	DefineTypeAlias              ImportKind = 9
)

func (k ImportKind) String() string {
	switch k {
	case ImportNamespace:
		return "namespace"
	case ImportAssemblyNamespace:
		return "assembly-namespace"
	case ImportType:
		return "type"
	case ImportXMLNamespace:
		return "xml-namespace"
	case ImportAssemblyReferenceAlias:
		return "assembly-reference-alias"
	case DefineAssemblyAlias:
		return "assembly-alias"
	case DefineNamespaceAlias:
		return "namespace-alias"
	case DefineAssemblyNamespaceAlias:
		return "assembly-namespace-alias"
	case DefineTypeAlias:
		return "type-alias"
	}
	return fmt.Sprintf("import(%d)", byte(k))
}

// ImportTarget is one import declaration ("using System;" and its variants).
type ImportTarget struct {
	Assembly  *AssemblyRef
	Type      TypeDefOrRef
	Namespace string
	Alias     string
	Kind      ImportKind
}

func (t ImportTarget) String() string {
	switch t.Kind {
	case ImportNamespace:
		return t.Namespace
	case ImportType, DefineTypeAlias:
		s := ""
		if t.Type != nil {
			s = t.Type.FullName()
		}
		if t.Alias != "" {
			return t.Alias + " = " + s
		}
		return s
	}
	s := t.Kind.String()
	if t.Alias != "" {
		s += " " + t.Alias
	}
	if t.Assembly != nil {
		s += " " + t.Assembly.Name
	}
	if t.Namespace != "" {
		s += " " + t.Namespace
	}
	return s
}

// ImportScope is one node of the arena.
type ImportScope struct {
	Targets []ImportTarget
	Parent  ImportScopeID
}

// ImportScopes is an arena of import scope nodes with explicit parent
// links. A parent must exist before its children, so the nodes form a
// forest. Several method scopes may share a node by ID.
type ImportScopes struct {
	nodes []*ImportScope
}

// Add appends a node under parent (0 for a root) and returns its ID.
func (s *ImportScopes) Add(parent ImportScopeID, targets ...ImportTarget) (ImportScopeID, error) {
	if parent != 0 && !s.Has(parent) {
		return 0, errors.New(errors.PhaseDebug, errors.KindInvalidInput).
			Value(parent).Detail("parent import scope %d does not exist", parent).Build()
	}
	for _, t := range targets {
		if t.Kind < ImportNamespace || t.Kind > DefineTypeAlias {
			return 0, errors.New(errors.PhaseDebug, errors.KindInvalidInput).
				Value(t.Kind).Detail("invalid import kind %d", t.Kind).Build()
		}
	}
	s.nodes = append(s.nodes, &ImportScope{Parent: parent, Targets: targets})
	return ImportScopeID(len(s.nodes)), nil
}

// Has reports whether id addresses a node.
func (s *ImportScopes) Has(id ImportScopeID) bool {
	return id > 0 && int(id) <= len(s.nodes)
}

// Get returns the node for id.
func (s *ImportScopes) Get(id ImportScopeID) (*ImportScope, bool) {
	if !s.Has(id) {
		return nil, false
	}
	return s.nodes[id-1], true
}

// Len returns the number of nodes.
func (s *ImportScopes) Len() int {
	return len(s.nodes)
}

// Chain returns id followed by its ancestors up to the root.
func (s *ImportScopes) Chain(id ImportScopeID) []ImportScopeID {
	var out []ImportScopeID
	for s.Has(id) {
		out = append(out, id)
		id = s.nodes[id-1].Parent
	}
	return out
}

// Each calls fn for every node in ID order.
func (s *ImportScopes) Each(fn func(ImportScopeID, *ImportScope)) {
	for i, n := range s.nodes {
		fn(ImportScopeID(i+1), n)
	}
}
