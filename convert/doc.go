// Package convert moves values between the host value system and native
// argument and return slots.
//
// Each type code has its own codec. Integral codes fetch an integer from
// the host value, preferring the representation it already carries: a
// double is accepted only when it truncates exactly, so 3.0 passes as an
// int and 3.5 does not. Floating codes accept integers the double can hold
// exactly. Pointer variants pass plain addresses, NUL-terminated strings,
// read-only byte buffers, writable variable buffers, callback trampolines
// and object handles.
//
// Integral return values narrower than Platform.ArgSize are widened by the
// calling convention. Return reads them and CallbackReturn writes them
// through the same pair of helpers so both directions agree.
package convert
