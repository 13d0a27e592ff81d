// Package libffi is the call engine for real native code. Signatures become
// ffi_cif descriptions, calls go through ffi_call and callbacks are libffi
// closures whose user data is a cgo handle to the dispatcher. Libraries are
// opened with dlopen, honoring the binding and visibility flags.
//
// The engine needs cgo and a libffi found by pkg-config. Other builds get a
// New that returns ErrUnavailable.
package libffi
