// Package resolve imports types and members of foreign assemblies into a
// module as references.
//
// # Main Types
//
//   - Importer: translates foreign definitions into registered references
//   - MethodQuery: explicit signature match for picking one overload
//   - AssemblyLoader: supplies foreign assemblies by simple name
//
// # Identity
//
// Importing the same member twice yields the same *metadata.MemberRef.
// Members are keyed by declaring assembly, declaring type, name, generic
// arity, parameter types and return type. Types are keyed by resolution
// scope, namespace and name; assemblies by simple name.
//
// # Lookup
//
// FindMethod never guesses: a query matching no method fails with
// errors.ErrMemberNotFound and one matching several fails with
// errors.ErrAmbiguousMember.
//
// # Example
//
//	imp := resolve.NewImporter(mod, locator)
//	ctor, err := imp.Method("System.Runtime", "System.Object", resolve.Method(".ctor"))
//	writeLine, err := imp.Method("System.Console", "System.Console",
//	    resolve.Method("WriteLine", metadata.String))
package resolve
