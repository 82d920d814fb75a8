// Package errors provides structured error types for the clr-image library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes context: the metadata path and member involved, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResolve, errors.KindAmbiguousMember).
//		Path("System.Runtime", "System.Object").
//		Member(".ctor").
//		Detail("2 candidates match").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseModel, "type", "App.Program")
//	err := errors.InvalidOperand("call", "string")
//
// All errors implement the standard error interface and support errors.Is/As.
// Matching with errors.Is compares Kind, and Phase when the target sets one:
//
//	if errors.Is(err, errors.ErrCrossMethodScope) { ... }
package errors
