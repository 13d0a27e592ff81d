// Package enginetest provides an in-process Engine for tests. Native
// functions are Go closures registered under synthetic addresses, and
// native memory is a map of allocations.
package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/types"
)

// Func is a fake native function operating on argument and return slots.
type Func func(args [][]byte, ret []byte)

// Engine is a fake call engine and loader.
type Engine struct {
	platform types.Platform

	mu    sync.Mutex
	funcs map[uintptr]Func
	mem   map[uintptr][]byte
	libs  map[string]map[string]uintptr
	next  uintptr

	// Refuse, when set, makes PrepareSignature fail for matching signatures.
	Refuse func(args []*types.Type, ret *types.Type, conv types.Convention) error
	// LayoutFunc, when set, replaces the default aggregate layout.
	LayoutFunc func(t *types.Type) (int, int, error)

	Prepared    int
	Invocations int
	Closed      []string
}

// New returns an engine reporting platform p.
func New(p types.Platform) *Engine {
	return &Engine{
		platform: p,
		funcs:    make(map[uintptr]Func),
		mem:      make(map[uintptr][]byte),
		libs:     make(map[string]map[string]uintptr),
		next:     0x10000,
	}
}

// LP64 is a little-endian 64-bit platform with callbacks.
func LP64() types.Platform {
	return types.Platform{
		Host:        "test-lp64",
		Engine:      "fake",
		IntSize:     4,
		LongSize:    8,
		PointerSize: 8,
		ArgSize:     8,
		Int64Align:  8,
		DoubleAlign: 8,
		Callbacks:   true,
	}
}

func (e *Engine) addr() uintptr {
	a := e.next
	e.next += 0x100
	return a
}

// Register installs fn and returns its address.
func (e *Engine) Register(fn Func) uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.addr()
	e.funcs[a] = fn
	return a
}

// AddLibrary makes path loadable with the given symbols.
func (e *Engine) AddLibrary(path string, symbols map[string]uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.libs[path] = symbols
}

// Call runs the function or trampoline at addr as native code would.
func (e *Engine) Call(addr uintptr, args [][]byte, ret []byte) error {
	e.mu.Lock()
	fn, ok := e.funcs[addr]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no function at %#x", addr)
	}
	fn(args, ret)
	return nil
}

// Memory returns the allocation at addr.
func (e *Engine) Memory(addr uintptr) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mem[addr]
}

// Alloc copies b into fake native memory.
func (e *Engine) Alloc(b []byte) uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.addr()
	e.mem[a] = append([]byte(nil), b...)
	return a
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) Platform() types.Platform { return e.platform }

func (e *Engine) Layout(t *types.Type) (int, int, error) {
	if e.LayoutFunc != nil {
		return e.LayoutFunc(t)
	}
	size, align := types.AggregateLayout(t.Elements)
	return size, align, nil
}

type prepared struct {
	args     []*types.Type
	ret      *types.Type
	released *bool
}

func (p *prepared) Release() { *p.released = true }

func (e *Engine) PrepareSignature(args []*types.Type, ret *types.Type, conv types.Convention) (dynffi.Prepared, error) {
	if e.Refuse != nil {
		if err := e.Refuse(args, ret, conv); err != nil {
			return nil, err
		}
	}
	e.Prepared++
	return &prepared{args: args, ret: ret, released: new(bool)}, nil
}

// IsReleased reports whether p was released.
func IsReleased(p dynffi.Prepared) bool {
	return *p.(*prepared).released
}

func (e *Engine) Invoke(_ context.Context, _ dynffi.Prepared, fn uintptr, args [][]byte, ret []byte) error {
	e.mu.Lock()
	f, ok := e.funcs[fn]
	e.Invocations++
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no function at %#x", fn)
	}
	f(args, ret)
	return nil
}

type trampoline struct {
	e    *Engine
	addr uintptr
}

func (t *trampoline) Address() uintptr { return t.addr }

func (t *trampoline) Release() error {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	delete(t.e.funcs, t.addr)
	return nil
}

func (e *Engine) PrepareTrampoline(_ dynffi.Prepared, d dynffi.Dispatcher) (dynffi.Trampoline, error) {
	if !e.platform.Callbacks {
		return nil, fmt.Errorf("callbacks are not supported")
	}
	a := e.Register(func(args [][]byte, ret []byte) {
		clear(ret)
		d(context.Background(), args, ret)
	})
	return &trampoline{e: e, addr: a}, nil
}

// HasFunc reports whether addr is still callable.
func (e *Engine) HasFunc(addr uintptr) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.funcs[addr]
	return ok
}

type frame struct {
	e       *Engine
	allocs  []uintptr
	mutable map[uintptr][]byte
}

func (e *Engine) NewFrame() dynffi.Frame {
	return &frame{e: e, mutable: make(map[uintptr][]byte)}
}

func (f *frame) Bytes(b []byte) (uintptr, error) {
	a := f.e.Alloc(b)
	f.allocs = append(f.allocs, a)
	return a, nil
}

func (f *frame) Mutable(b []byte) (uintptr, error) {
	a, _ := f.Bytes(b)
	f.mutable[a] = b
	return a, nil
}

func (f *frame) CString(s string) (uintptr, error) {
	return f.Bytes(append([]byte(s), 0))
}

func (f *frame) Sync() {
	for a, b := range f.mutable {
		copy(b, f.e.Memory(a))
	}
}

func (f *frame) Release() {
	f.e.mu.Lock()
	defer f.e.mu.Unlock()
	for _, a := range f.allocs {
		delete(f.e.mem, a)
	}
	f.allocs = nil
}

func (e *Engine) ReadString(addr uintptr) (string, error) {
	b := e.Memory(addr)
	if b == nil {
		return "", fmt.Errorf("bad address %#x", addr)
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

func (e *Engine) Close(context.Context) error { return nil }

type library struct {
	e       *Engine
	path    string
	handle  uintptr
	symbols map[string]uintptr
}

func (l *library) Handle() uintptr { return l.handle }

func (l *library) Symbol(name string) (uintptr, error) {
	a, ok := l.symbols[name]
	if !ok {
		return 0, fmt.Errorf("%s: undefined symbol: %s", l.path, name)
	}
	return a, nil
}

func (l *library) Close() error {
	l.e.mu.Lock()
	defer l.e.mu.Unlock()
	l.e.Closed = append(l.e.Closed, l.path)
	return nil
}

func (e *Engine) Open(path string, _ dynffi.Binding, _ dynffi.Visibility) (dynffi.Library, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	syms, ok := e.libs[path]
	if !ok {
		return nil, fmt.Errorf("%s: cannot open shared object file: No such file or directory", path)
	}
	return &library{e: e, path: path, handle: e.addr(), symbols: syms}, nil
}
