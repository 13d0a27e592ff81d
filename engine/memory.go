package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
)

// allocator calls a guest's exported allocator. cabi_realloc shaped
// functions take (old, oldSize, align, newSize); the rest take a size.
type allocator struct {
	allocFn   api.Function
	freeFn    api.Function
	realloc   bool
	stackBuf  []uint64
	stackLock sync.Mutex
}

func newAllocator(mod api.Module) *allocator {
	defs := mod.ExportedFunctionDefinitions()
	a := &allocator{stackBuf: make([]uint64, 4)}

	for _, name := range []string{CabiRealloc, legacyRealloc, simpleMalloc, simpleAlloc} {
		if def := defs[name]; def != nil && len(def.ResultTypes()) == 1 {
			a.allocFn = mod.ExportedFunction(name)
			a.realloc = len(def.ParamTypes()) == 4
			break
		}
	}
	for _, name := range []string{simpleFree, legacyDealloc} {
		if def := defs[name]; def != nil && len(def.ParamTypes()) >= 1 {
			a.freeFn = mod.ExportedFunction(name)
			break
		}
	}
	return a
}

func (a *allocator) malloc(ctx context.Context, size uint32) (uint32, error) {
	if a == nil || a.allocFn == nil {
		return 0, fmt.Errorf("library exports no allocator (%s or %s)", CabiRealloc, simpleMalloc)
	}
	if size == 0 {
		size = 1
	}

	a.stackLock.Lock()
	defer a.stackLock.Unlock()

	var err error
	if a.realloc {
		a.stackBuf[0] = 0
		a.stackBuf[1] = 0
		a.stackBuf[2] = 8
		a.stackBuf[3] = uint64(size)
		err = a.allocFn.CallWithStack(ctx, a.stackBuf[:4])
	} else {
		a.stackBuf[0] = uint64(size)
		err = a.allocFn.CallWithStack(ctx, a.stackBuf[:1])
	}
	if err != nil {
		return 0, fmt.Errorf("guest allocation of %d bytes: %w", size, err)
	}
	ptr := uint32(a.stackBuf[0])
	if ptr == 0 {
		return 0, fmt.Errorf("guest allocation of %d bytes returned NULL", size)
	}
	return ptr, nil
}

// free releases ptr through the guest's free export. Guests exporting only
// cabi_realloc leak their scratch memory until the library closes.
func (a *allocator) free(ctx context.Context, ptr uint32) {
	if a == nil || a.freeFn == nil || ptr == 0 {
		return
	}

	a.stackLock.Lock()
	defer a.stackLock.Unlock()

	n := len(a.freeFn.Definition().ParamTypes())
	clear(a.stackBuf)
	a.stackBuf[0] = uint64(ptr)
	if err := a.freeFn.CallWithStack(ctx, a.stackBuf[:max(n, 1)]); err != nil {
		Logger().Warn("failed to free guest memory",
			zap.Uint32("ptr", ptr),
			zap.Error(err))
	}
}

type allocation struct {
	ptr uint32
	dst []byte
}

// frame holds the guest allocations behind one call's pointer arguments.
type frame struct {
	ctx     context.Context
	lib     *Library
	allocs  []allocation
	mutable []allocation
}

// NewFrame returns a frame allocating in the primary library's memory.
func (e *WazeroEngine) NewFrame() dynffi.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &frame{ctx: context.Background(), lib: e.primary}
}

func (f *frame) put(b []byte, extra int) (uint32, error) {
	if f.lib == nil {
		return 0, fmt.Errorf("no loaded library provides memory for pointer arguments")
	}
	ptr, err := f.lib.alloc.malloc(f.ctx, uint32(len(b)+extra))
	if err != nil {
		return 0, err
	}
	f.allocs = append(f.allocs, allocation{ptr: ptr})
	if !f.lib.memory.Write(ptr, b) {
		return 0, fmt.Errorf("guest memory write of %d bytes at %#x out of range", len(b), ptr)
	}
	if extra > 0 && !f.lib.memory.WriteByte(ptr+uint32(len(b)), 0) {
		return 0, fmt.Errorf("guest memory write at %#x out of range", ptr+uint32(len(b)))
	}
	return ptr, nil
}

func (f *frame) Bytes(b []byte) (uintptr, error) {
	ptr, err := f.put(b, 0)
	return uintptr(ptr), err
}

func (f *frame) Mutable(b []byte) (uintptr, error) {
	ptr, err := f.put(b, 0)
	if err != nil {
		return 0, err
	}
	f.mutable = append(f.mutable, allocation{ptr: ptr, dst: b})
	return uintptr(ptr), nil
}

func (f *frame) CString(s string) (uintptr, error) {
	ptr, err := f.put([]byte(s), 1)
	return uintptr(ptr), err
}

func (f *frame) Sync() {
	for _, m := range f.mutable {
		if data, ok := f.lib.memory.Read(m.ptr, uint32(len(m.dst))); ok {
			copy(m.dst, data)
		}
	}
}

func (f *frame) Release() {
	for _, a := range f.allocs {
		f.lib.alloc.free(f.ctx, a.ptr)
	}
	f.allocs, f.mutable = nil, nil
}

// ReadString reads a NUL-terminated string from the primary memory.
func (e *WazeroEngine) ReadString(addr uintptr) (string, error) {
	e.mu.Lock()
	lib := e.primary
	e.mu.Unlock()
	if lib == nil {
		return "", fmt.Errorf("no loaded library provides memory")
	}
	size := lib.memory.Size()
	if addr >= uintptr(size) {
		return "", fmt.Errorf("address %#x is outside guest memory", addr)
	}
	data, _ := lib.memory.Read(uint32(addr), size-uint32(addr))
	n := bytes.IndexByte(data, 0)
	if n < 0 {
		return "", fmt.Errorf("string at %#x is not terminated", addr)
	}
	return string(data[:n]), nil
}
