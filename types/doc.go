// Package types holds the named type catalog used to describe native
// signatures.
//
// A Type carries a Code selecting its marshaling rule, its size and
// alignment, and a Class bitmask naming the contexts it may appear in
// (argument, return, aggregate element, callback argument, callback
// return) together with the kind of host value it is fetched as.
//
// Built-in scalars are static and sized from a Platform. User typedefs
// either alias an existing type or compose an aggregate laid out with C
// rules:
//
//	r := types.NewRegistry(types.Native(), nil)
//	t, err := r.Define("pair", "sint32", "double")
//	// t.Size == 16, t.Align == 8
//
// Types are reference counted. Aliases, aggregates and signatures retain
// the types they use and release them when they are freed.
package types
