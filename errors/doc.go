// Package errors provides structured error types for the dynffi library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The taxonomy follows the life of a foreign call:
//
//	define    typedef, signature, callout and callback definition
//	marshal   converting host values to native slots and back
//	call      callout invocation (arity)
//	dispatch  callbacks entered from native code
//	load      library open, symbol lookup and close
//	engine    the native call engine refusing a signature or layout
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindConversion).
//		Path("add2", "parameter 1").
//		TypeName("int").
//		Detail("expected integer").
//		Build()
//
// Or use convenience constructors, which keep the wording script users see:
//
//	err := errors.UndefinedType("point")   // undefined type: point
//	err := errors.WrongSize(0, 4, 16)     // parameter 0 is the wrong size, ...
//
// All errors implement the standard error interface and support errors.Is/As.
// The exported sentinels (ErrUndefinedType, ErrArity, ...) match on Phase and Kind.
package errors
