package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseModel   Phase = "model"   // metadata model lookups and mutation
	PhaseResolve Phase = "resolve" // importing foreign references
	PhaseBuild   Phase = "build"   // instruction building
	PhaseDebug   Phase = "debug"   // debug info synthesis
	PhaseWrite   Phase = "write"   // image and symbol serialization
	PhaseRead    Phase = "read"    // image and symbol parsing
	PhaseLocate  Phase = "locate"  // reference pack and SDK probing
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound                Kind = "not_found"
	KindMemberNotFound          Kind = "member_not_found"
	KindAmbiguousMember         Kind = "ambiguous_member"
	KindInvalidOperand          Kind = "invalid_operand"
	KindCrossMethodScope        Kind = "cross_method_scope"
	KindUnresolvedReference     Kind = "unresolved_reference"
	KindSymbolMismatch          Kind = "symbol_mismatch"
	KindWriteIO                 Kind = "write_io"
	KindReadIO                  Kind = "read_io"
	KindImplementationReference Kind = "implementation_reference"
	KindInvalidState            Kind = "invalid_state"
	KindInvalidData             Kind = "invalid_data"
	KindInvalidInput            Kind = "invalid_input"
	KindUnsupported             Kind = "unsupported"
)

// Match targets for errors.Is. They carry no Phase, so they match any phase.
var (
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrMemberNotFound          = &Error{Kind: KindMemberNotFound}
	ErrAmbiguousMember         = &Error{Kind: KindAmbiguousMember}
	ErrInvalidOperand          = &Error{Kind: KindInvalidOperand}
	ErrCrossMethodScope        = &Error{Kind: KindCrossMethodScope}
	ErrUnresolvedReference     = &Error{Kind: KindUnresolvedReference}
	ErrSymbolMismatch          = &Error{Kind: KindSymbolMismatch}
	ErrWriteIO                 = &Error{Kind: KindWriteIO}
	ErrReadIO                  = &Error{Kind: KindReadIO}
	ErrImplementationReference = &Error{Kind: KindImplementationReference}
	ErrInvalidState            = &Error{Kind: KindInvalidState}
	ErrInvalidData             = &Error{Kind: KindInvalidData}
	ErrInvalidInput            = &Error{Kind: KindInvalidInput}
	ErrUnsupported             = &Error{Kind: KindUnsupported}
)

// Error is the structured error type used throughout the library
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Member string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "/"))
	}

	if e.Member != "" {
		b.WriteString(": ")
		b.WriteString(e.Member)
	}

	if e.Detail != "" {
		if e.Member != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// An empty Phase on the target matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && t.Phase != e.Phase {
			return false
		}
		return e.Kind == t.Kind
	}
	return false
}

// Is is errors.Is from the standard library, so callers need one import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the metadata path (assembly, namespace, type, ...)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Member sets the member name involved
func (b *Builder) Member(name string) *Builder {
	b.err.Member = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFound creates a lookup-by-name failure
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Member: name,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// MemberNotFound creates a resolver failure for a query with no candidate
func MemberNotFound(declaringType, query string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindMemberNotFound,
		Path:   []string{declaringType},
		Member: query,
		Detail: "no member matches",
	}
}

// AmbiguousMember creates a resolver failure for a query with several candidates
func AmbiguousMember(declaringType, query string, candidates []string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindAmbiguousMember,
		Path:   []string{declaringType},
		Member: query,
		Detail: fmt.Sprintf("%d members match: %s", len(candidates), strings.Join(candidates, ", ")),
		Value:  candidates,
	}
}

// InvalidOperand creates an operand/opcode mismatch error
func InvalidOperand(opcode string, operand any) *Error {
	return &Error{
		Phase:  PhaseBuild,
		Kind:   KindInvalidOperand,
		Member: opcode,
		Detail: fmt.Sprintf("operand of type %T not accepted", operand),
		Value:  operand,
	}
}

// CrossMethodScope creates an error for an instruction handle used outside its method
func CrossMethodScope(method, what string) *Error {
	return &Error{
		Phase:  PhaseDebug,
		Kind:   KindCrossMethodScope,
		Member: method,
		Detail: fmt.Sprintf("%s belongs to another method body", what),
	}
}

// UnresolvedReference creates an error listing references that were never registered
func UnresolvedReference(refs []string) *Error {
	detail := "reference not registered in module"
	if len(refs) > 1 {
		detail = fmt.Sprintf("%d references not registered in module", len(refs))
	}
	member := ""
	if len(refs) > 0 {
		member = strings.Join(refs, ", ")
	}
	return &Error{
		Phase:  PhaseWrite,
		Kind:   KindUnresolvedReference,
		Member: member,
		Detail: detail,
		Value:  refs,
	}
}

// SymbolMismatch creates an error for an image/symbol pair that does not belong together
func SymbolMismatch(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseRead,
		Kind:   KindSymbolMismatch,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// WriteIO wraps an output failure
func WriteIO(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseWrite,
		Kind:   KindWriteIO,
		Member: path,
		Cause:  cause,
	}
}

// ReadIO wraps an input failure
func ReadIO(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseRead,
		Kind:   KindReadIO,
		Member: path,
		Cause:  cause,
	}
}

// ImplementationReference creates the guard failure for a non-contract assembly reference
func ImplementationReference(assembly string) *Error {
	return &Error{
		Phase:  PhaseWrite,
		Kind:   KindImplementationReference,
		Member: assembly,
		Detail: "image would reference an implementation assembly",
	}
}

// InvalidState creates an error for an operation not allowed in the current lifecycle state
func InvalidState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
