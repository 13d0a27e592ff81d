// Package engine provides a pure-Go call engine that treats wasm32 modules
// as native libraries.
//
// WazeroEngine implements both dynffi.Engine and dynffi.Loader. Opening a
// library compiles and instantiates a core module; its exported functions
// are the library's symbols. Exported i32 globals resolve to the address
// they hold, which is how clang exports C data symbols.
//
// # Type Mapping
//
// C types follow the basic C ABI for wasm32:
//
//	C Type                  Wasm Value
//	──────────────────────────────────────
//	char, short, int, long  i32
//	long long               i64
//	float                   f32
//	double                  f64
//	pointers                i32
//	struct argument         i32 address of a copy
//	struct result           leading i32 return pointer
//
// Sub-word integers are extended to i32 on the way in and re-extended on
// the way out. Integral results are widened to four bytes.
//
// # Memory
//
// Pointer arguments are copied into the memory of the first opened library
// that has one, using its cabi_realloc or malloc export, and freed through
// free after the call. Libraries that exchange pointers should therefore
// share that memory or be the only library in use.
//
// # Callbacks
//
// Guests cannot place host functions in their tables, so trampolines are
// reached through the host import dynffi.invoke(fn, argv, ret):
//
//	(import "dynffi" "invoke" (func $invoke (param i32 i32 i32)))
//
// fn is the address returned for the callback, argv points at one 8-byte
// little-endian slot per argument and ret at storage for the result.
//
// # WASI
//
// Modules importing wasi_snapshot_preview1 get it instantiated on first
// load. Start functions are not run; reactors are initialized through
// _initialize.
package engine
