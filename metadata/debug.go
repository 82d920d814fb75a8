package metadata

import (
	"fmt"

	"github.com/wippyai/clr-image/errors"
)

// HiddenLine is the start line of a hidden sequence point.
const HiddenLine = 0xFEEFEE

// Document is a source file label used by sequence points. It is never opened.
type Document struct {
	Name          string
	Hash          []byte
	HashAlgorithm GUID
	Language      GUID
}

// NewDocument creates a C# document label for path.
func NewDocument(path string) *Document {
	return &Document{Name: path, Language: LanguageCSharp}
}

// SequencePoint maps an instruction to a source range.
type SequencePoint struct {
	Instruction *Instruction
	Document    *Document
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// Hidden reports whether the point hides the instruction from the debugger.
func (sp *SequencePoint) Hidden() bool {
	return sp.StartLine == HiddenLine
}

func (sp *SequencePoint) String() string {
	if sp.Hidden() {
		return fmt.Sprintf("IL_%04x hidden", max(sp.Instruction.Offset(), 0))
	}
	return fmt.Sprintf("IL_%04x (%d,%d)-(%d,%d) %s", max(sp.Instruction.Offset(), 0),
		sp.StartLine, sp.StartColumn, sp.EndLine, sp.EndColumn, sp.Document.Name)
}

// LocalDebug names a local variable within a scope.
type LocalDebug struct {
	Variable   *Variable
	Name       string
	Attributes uint16 // 1 = DebuggerHidden
}

// LocalConstant is a named constant of a scope; the signature blob is kept verbatim.
type LocalConstant struct {
	Name      string
	Signature []byte
}

// Scope is a lexical scope spanning [Start, End) of a method body. A nil
// End extends to the end of the body.
type Scope struct {
	Start     *Instruction
	End       *Instruction
	Scopes    []*Scope
	Variables []*LocalDebug
	Constants []*LocalConstant
	Import    ImportScopeID

	debug *DebugInfo
}

// StartOffset returns the IL offset of Start.
func (s *Scope) StartOffset() int {
	if s.Start == nil {
		return 0
	}
	return s.Start.Offset()
}

// EndOffset returns the IL offset of End, or the code size when End is nil.
func (s *Scope) EndOffset() int {
	if s.End == nil {
		return s.debug.method.Body.CodeSize()
	}
	return s.End.Offset()
}

// AddScope nests a child scope bounded by instructions of the same method.
func (s *Scope) AddScope(start, end *Instruction) (*Scope, error) {
	child, err := s.debug.newScope(start, end)
	if err != nil {
		return nil, err
	}
	s.Scopes = append(s.Scopes, child)
	return child, nil
}

// AddVariable gives v a debug name within this scope.
func (s *Scope) AddVariable(v *Variable, name string) (*LocalDebug, error) {
	if v == nil || v.body != s.debug.method.Body {
		return nil, errors.CrossMethodScope(s.debug.method.FullName(), "variable "+name)
	}
	l := &LocalDebug{Variable: v, Name: name}
	s.Variables = append(s.Variables, l)
	return l, nil
}

// AddConstant records a local constant with a pre-encoded signature.
func (s *Scope) AddConstant(name string, signature []byte) *LocalConstant {
	c := &LocalConstant{Name: name, Signature: signature}
	s.Constants = append(s.Constants, c)
	return c
}

// Walk visits s and its descendants depth-first.
func (s *Scope) Walk(fn func(*Scope)) {
	fn(s)
	for _, c := range s.Scopes {
		c.Walk(fn)
	}
}

// DebugInfo is the debug information of one method.
type DebugInfo struct {
	SequencePoints []*SequencePoint
	Scope          *Scope

	// StateMachineKickoff links a MoveNext method to the method that created the state machine.
	StateMachineKickoff *MethodDef

	method *MethodDef
}

// Method returns the owning method.
func (d *DebugInfo) Method() *MethodDef {
	return d.method
}

// HasSymbols reports whether there is anything to write for the method.
func (d *DebugInfo) HasSymbols() bool {
	return len(d.SequencePoints) > 0 || d.Scope != nil || d.StateMachineKickoff != nil
}

// SetScope replaces the root scope. Both bounds must be appended
// instructions of this method's body; end may be nil for end of method.
func (d *DebugInfo) SetScope(start, end *Instruction) (*Scope, error) {
	s, err := d.newScope(start, end)
	if err != nil {
		return nil, err
	}
	d.Scope = s
	return s, nil
}

// NewDetachedScope makes a scope without bounds checks. Readers use it to
// rebuild scopes from offsets.
func (d *DebugInfo) NewDetachedScope(start, end *Instruction) *Scope {
	return &Scope{Start: start, End: end, debug: d}
}

func (d *DebugInfo) newScope(start, end *Instruction) (*Scope, error) {
	if err := d.own(start, "scope start"); err != nil {
		return nil, err
	}
	if end != nil {
		if err := d.own(end, "scope end"); err != nil {
			return nil, err
		}
		if end.index < start.index {
			return nil, errors.New(errors.PhaseDebug, errors.KindInvalidInput).
				Member(d.method.FullName()).
				Detail("scope end IL_%04x precedes start IL_%04x", end.Offset(), start.Offset()).Build()
		}
	}
	return &Scope{Start: start, End: end, debug: d}, nil
}

func (d *DebugInfo) own(ins *Instruction, what string) error {
	if ins == nil {
		return errors.New(errors.PhaseDebug, errors.KindInvalidInput).
			Member(d.method.FullName()).Detail("%s is nil", what).Build()
	}
	if ins.body != d.method.Body {
		return errors.CrossMethodScope(d.method.FullName(), what)
	}
	if ins.index < 0 {
		return errors.New(errors.PhaseDebug, errors.KindInvalidInput).
			Member(d.method.FullName()).Detail("%s has not been appended", what).Build()
	}
	return nil
}

// AddSequencePoint maps ins to a source range in doc.
func (d *DebugInfo) AddSequencePoint(ins *Instruction, doc *Document, startLine, startColumn, endLine, endColumn int) (*SequencePoint, error) {
	if err := d.own(ins, "sequence point instruction"); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.InvalidInput(errors.PhaseDebug, "sequence point without document")
	}
	if startLine <= 0 || startLine >= 0x20000000 || endLine < startLine ||
		startColumn < 0 || startColumn >= 0x10000 || endColumn < 0 || endColumn >= 0x10000 ||
		(endLine == startLine && endColumn <= startColumn) {
		return nil, errors.New(errors.PhaseDebug, errors.KindInvalidInput).
			Member(d.method.FullName()).
			Detail("invalid source range (%d,%d)-(%d,%d)", startLine, startColumn, endLine, endColumn).Build()
	}
	sp := &SequencePoint{
		Instruction: ins, Document: doc,
		StartLine: startLine, StartColumn: startColumn, EndLine: endLine, EndColumn: endColumn,
	}
	d.insert(sp)
	return sp, nil
}

// AddHiddenSequencePoint hides ins from the debugger.
func (d *DebugInfo) AddHiddenSequencePoint(ins *Instruction, doc *Document) (*SequencePoint, error) {
	if err := d.own(ins, "sequence point instruction"); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.InvalidInput(errors.PhaseDebug, "sequence point without document")
	}
	sp := &SequencePoint{Instruction: ins, Document: doc, StartLine: HiddenLine, EndLine: HiddenLine}
	d.insert(sp)
	return sp, nil
}

// insert keeps points ordered by instruction position.
func (d *DebugInfo) insert(sp *SequencePoint) {
	i := len(d.SequencePoints)
	for i > 0 && d.SequencePoints[i-1].Instruction.index > sp.Instruction.index {
		i--
	}
	d.SequencePoints = append(d.SequencePoints, nil)
	copy(d.SequencePoints[i+1:], d.SequencePoints[i:])
	d.SequencePoints[i] = sp
}

// CustomDebugInfo is an opaque symbol record kept across read-modify-write.
// Parent is one of *Module, *Assembly, *TypeDef, *MethodDef, *FieldDef,
// *Parameter, *Document, *Scope, *LocalDebug, *LocalConstant or an ImportScopeID.
type CustomDebugInfo struct {
	Parent any
	Value  []byte
	Kind   GUID
}
