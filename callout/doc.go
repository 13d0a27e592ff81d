// Package callout binds native function addresses to signatures and calls
// them with host values.
//
//	b := &callout.Binder{Cache: cache, Engine: eng, Env: env}
//	add, err := b.Bind("add2", []string{"int", "int"}, "int", addr, "")
//	sum, err := add.Call(ctx, value.NewInt(2), value.NewInt(3))
//
// Argument slots are allocated per call, so a callback that re-enters the
// same callout does not clobber the outer call's arguments. A struct return
// gets a fresh byte value of the exact return size.
package callout
