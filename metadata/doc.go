// Package metadata is the in-memory model of a managed assembly: its single
// module, defined types, fields and methods, imported references, method
// bodies and per-method debug information.
//
// # Model
//
// An Assembly owns exactly one Module. The module owns its TypeDefs (Types[0]
// is always the implicit <Module> type) and the references it has imported:
// AssemblyRefs, TypeRefs and MemberRefs. Nothing is resolved implicitly: a
// foreign member becomes usable only once a reference to it is registered,
// normally through package resolve.
//
// Core library types are written as markers (Object, Void, String, ...).
// Inside signatures they encode as element types; where a type token is
// required, Finalize binds them to a TypeRef scoped to the module's core
// library reference, so images depend on contract assemblies only.
//
// # Bodies
//
// A Body is append-only. Append validates the operand against the opcode
// and returns a stable *Instruction handle usable as a branch target, a
// scope bound or a sequence point anchor:
//
//	il := metadata.NewBuilder(main.Body)
//	il.Emit(metadata.OpNop)
//	il.Emit(metadata.OpLdstr, "Hello World!")
//	call := il.Emit(metadata.OpCall, writeLine)
//	il.Emit(metadata.OpRet)
//	if err := il.Err(); err != nil { ... }
//
// # Debug information
//
// DebugInfo holds sequence points and a scope tree whose bounds must be
// instructions of the same method. Import scopes live in the module's
// ImportScopes arena and are shared by ID.
//
// # Lifecycle
//
// A module moves Empty -> Populated -> Finalized -> Written. Finalize checks
// that every reachable reference is registered and that no implementation
// assembly is referenced; writers mark the module Written, after which
// mutators fail with ErrModuleWritten.
package metadata
