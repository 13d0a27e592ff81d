// Package cif caches prepared call signatures.
//
// A signature is keyed by its canonical text: the protocol name when it is
// not the default, the return type name, and the argument type names in
// parentheses, as in "int(int,pointer-utf8)" or "stdcall void(pointer)".
// Resolving the same text twice returns the same *Cif with its count
// raised by one. The engine prepares a signature once, on the first
// resolve, and the last Release evicts it.
package cif
