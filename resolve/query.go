package resolve

import (
	"strings"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/metadata"
)

// MethodQuery selects one method of a type by name and parameter types.
type MethodQuery struct {
	Name string
	// Params are parameter type full names, compared in order.
	Params []string
	// AnyArity ignores Params and matches every overload of Name.
	AnyArity bool
	// IgnoreCase compares names and parameter types case-insensitively.
	IgnoreCase bool
}

// Method builds an exact-arity query. No params means a parameterless
// method, which singles out the default constructor among overloads.
func Method(name string, params ...metadata.TypeSig) MethodQuery {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.FullName()
	}
	return MethodQuery{Name: name, Params: names}
}

// MethodOf is Method with parameter types given by full name, for types
// that have no local representation ("Outer/Inner" for nested types).
func MethodOf(name string, params ...string) MethodQuery {
	return MethodQuery{Name: name, Params: append([]string{}, params...)}
}

// AnyArity matches every method named name.
func AnyArity(name string) MethodQuery {
	return MethodQuery{Name: name, AnyArity: true}
}

// Fold returns q with case-insensitive comparison.
func (q MethodQuery) Fold() MethodQuery {
	q.IgnoreCase = true
	return q
}

func (q MethodQuery) String() string {
	if q.AnyArity {
		return q.Name + "(*)"
	}
	return q.Name + "(" + strings.Join(q.Params, ",") + ")"
}

func (q MethodQuery) equal(a, b string) bool {
	if q.IgnoreCase {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// Matches reports whether md satisfies the query.
func (q MethodQuery) Matches(md *metadata.MethodDef) bool {
	if !q.equal(md.Name, q.Name) {
		return false
	}
	if q.AnyArity {
		return true
	}
	if len(md.Parameters) != len(q.Params) {
		return false
	}
	for i, p := range md.Parameters {
		if p.Type == nil || !q.equal(p.Type.FullName(), q.Params[i]) {
			return false
		}
	}
	return true
}

// FindMethod returns the only method of t matching q.
func FindMethod(t *metadata.TypeDef, q MethodQuery) (*metadata.MethodDef, error) {
	var found []*metadata.MethodDef
	for _, md := range t.Methods {
		if q.Matches(md) {
			found = append(found, md)
		}
	}
	switch len(found) {
	case 0:
		return nil, errors.MemberNotFound(t.FullName(), q.String())
	case 1:
		return found[0], nil
	}
	names := make([]string, len(found))
	for i, md := range found {
		names[i] = md.FullName()
	}
	return nil, errors.AmbiguousMember(t.FullName(), q.String(), names)
}

// FindField returns the field of t named name.
func FindField(t *metadata.TypeDef, name string) (*metadata.FieldDef, error) {
	f, err := t.Field(name)
	if err != nil {
		return nil, errors.MemberNotFound(t.FullName(), name)
	}
	return f, nil
}
