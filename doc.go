// Package dynffi calls native functions described at run time.
//
// A script describes a native function with type names and a calling
// convention. dynffi checks the description against a type registry,
// caches the prepared signature, and marshals dynamically typed host
// values into native argument slots and back. Callbacks run the other
// way: a trampoline lets native code call a host procedure with a fixed
// native signature.
//
// # Architecture Overview
//
//	dynffi/              Engine, Frame, Loader and Library interfaces
//	├── errors/          Structured error types
//	├── value/           Reference counted host values with copy-on-write buffers
//	├── types/           Type codes, usage classes, registry and layout
//	├── convert/         Per-type codecs between values and native slots
//	├── resource/        Handle table for pointer-obj values
//	├── cif/             Signature cache
//	├── callout/         Bound native functions
//	├── callback/        Trampolines dispatching to host procedures
//	├── library/         Loaded library table
//	├── client/          Per-interpreter state and command surface
//	├── manifest/        msgpack snapshot of user typedefs
//	├── shell/           Small command host used by the CLI
//	├── engine/          WebAssembly modules as libraries (wazero)
//	│   └── libffi/      libffi and dlopen through cgo
//	└── cmd/ffidl/       CLI: scripts, REPL, info and typedef manifests
//
// # Quick Start
//
//	eng, _ := engine.NewWazeroEngine(ctx)
//	c, _ := client.New(client.Config{Engine: eng, Host: host})
//	defer c.Destroy()
//
//	_, _ = c.Library("math.wasm", dynffi.BindDefault, dynffi.VisDefault)
//	addr, _ := c.Symbol("math.wasm", "add")
//	_ = c.Callout("add2", []string{"int", "int"}, "int", addr, "")
//	sum, _ := c.Call(ctx, "add2", value.NewInt(2), value.NewInt(3)) // 5
//
// # Engines
//
// Engines implement Engine and usually Loader. The libffi engine calls
// real native code and needs cgo. The wazero engine treats compiled wasm
// modules as libraries and their exports as symbols, which keeps the
// rest of the module testable without a C toolchain.
package dynffi
