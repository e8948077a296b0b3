// Package errors provides structured error types for the carrica bridge.
//
// Errors are categorized by Phase (where the error occurred), Kind (what went
// wrong) and Category (how the caller should react). Configuration and marshal
// categories are fatal to the host call in progress; guest category errors only
// aborted a guest fiber and may be recovered from.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
//		Category(errors.CategoryMarshal).
//		Path("main", "Game", "update(_)").
//		GoType("map[string]int").
//		Detail("host composites must be wrapped in a shared container").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidInstance("interpret")
//	err := errors.OutOfBounds(errors.PhaseContainer, path, 10, 5)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
