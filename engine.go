package dynffi

import (
	"context"

	"github.com/wippyai/dynffi/types"
)

// Engine performs native calls for prepared signatures and builds
// trampolines native code can call back through.
//
// Argument slots are byte slices holding each value in the platform
// byte order at offset zero. A return slot holds integral results widened
// to Platform().ArgSize.
type Engine interface {
	// Name identifies the engine in info queries.
	Name() string

	// Platform reports the type sizes of the code this engine calls.
	Platform() types.Platform

	// Layout computes an aggregate's size and alignment independently
	// of the registry.
	Layout(t *types.Type) (size, align int, err error)

	// PrepareSignature builds the engine's call description.
	PrepareSignature(args []*types.Type, ret *types.Type, conv types.Convention) (Prepared, error)

	// Invoke calls fn with the marshaled argument slots and fills ret.
	Invoke(ctx context.Context, p Prepared, fn uintptr, args [][]byte, ret []byte) error

	// PrepareTrampoline returns a native-callable entry point that runs d.
	PrepareTrampoline(p Prepared, d Dispatcher) (Trampoline, error)

	// NewFrame returns scratch memory for one call's pointer arguments.
	NewFrame() Frame

	// ReadString reads a NUL-terminated string at addr.
	ReadString(addr uintptr) (string, error)

	Close(ctx context.Context) error
}

// Prepared is an engine's description of one signature.
type Prepared interface {
	Release()
}

// Trampoline is a native entry point bound to a Dispatcher.
type Trampoline interface {
	Address() uintptr
	Release() error
}

// Dispatcher handles one native invocation of a trampoline. args hold the
// native arguments in slot form; ret receives the result and is zeroed
// beforehand.
type Dispatcher func(ctx context.Context, args [][]byte, ret []byte)

// Frame hands out native addresses for the data behind pointer arguments
// of a single call. Addresses stay valid until Release.
type Frame interface {
	// Bytes copies b where native code can read it.
	Bytes(b []byte) (uintptr, error)

	// Mutable copies b where native code can write it. Sync copies the
	// native contents back into b.
	Mutable(b []byte) (uintptr, error)

	// CString copies s with a trailing NUL.
	CString(s string) (uintptr, error)

	Sync()
	Release()
}

// Binding selects when a library's symbols are resolved.
type Binding uint8

const (
	BindDefault Binding = iota
	BindNow
	BindLazy
)

// Visibility selects whether a library's symbols serve later loads.
type Visibility uint8

const (
	VisDefault Visibility = iota
	VisLocal
	VisGlobal
)

// Library is a loaded native module.
type Library interface {
	// Handle is the loader's handle for the module, returned to scripts.
	Handle() uintptr
	Symbol(name string) (uintptr, error)
	Close() error
}

// Loader opens native modules. An empty path opens the main program.
type Loader interface {
	Open(path string, b Binding, v Visibility) (Library, error)
}
