package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/types"
)

var le = binary.LittleEndian

// Addresses handed out for functions and trampolines start here. They name
// table entries on the host side and are never dereferenced by guests.
const addressBase uintptr = 0xF000_0000

// WazeroEngine implements dynffi.Engine and dynffi.Loader with wazero.
// Libraries are wasm32 modules, symbols are their exports, and pointer
// arguments live in the memory of the first loaded library that has one.
type WazeroEngine struct {
	runtime  wazero.Runtime
	cfg      Config
	platform types.Platform

	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool

	mu       sync.Mutex
	libs     map[uintptr]*Library
	funcs    map[uintptr]*export
	symbols  map[symbolKey]uintptr
	tramps   map[uintptr]*trampoline
	primary  *Library
	next     uintptr
	nextLib  uintptr
	closed   bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per library in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// Stdout and Stderr receive the output of WASI guests. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

type export struct {
	lib  *Library
	name string
}

type symbolKey struct {
	lib  uintptr
	name string
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	e := &WazeroEngine{
		libs:    make(map[uintptr]*Library),
		funcs:   make(map[uintptr]*export),
		symbols: make(map[symbolKey]uintptr),
		tramps:  make(map[uintptr]*trampoline),
		next:    addressBase,
	}
	if cfg != nil {
		e.cfg = *cfg
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
	}

	e.platform = types.Wasm32()
	e.platform.Engine = "wazero"
	e.platform.Callbacks = true

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if err := e.instantiateHost(ctx); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	return e, nil
}

func (e *WazeroEngine) Name() string { return "wazero" }

func (e *WazeroEngine) Platform() types.Platform { return e.platform }

// Layout places aggregate elements by the wasm32 C ABI: scalars are aligned
// to their own size and nested aggregates to their recorded alignment.
func (e *WazeroEngine) Layout(t *types.Type) (int, int, error) {
	size, align := 0, 1
	for _, el := range t.Elements {
		a := el.Align
		if el.Code != types.Struct {
			if _, err := valueType(el); err != nil {
				return 0, 0, err
			}
			a = el.Size
		}
		size = types.AlignTo(size, a) + el.Size
		if a > align {
			align = a
		}
	}
	return types.AlignTo(size, align), align, nil
}

type prepared struct {
	args    []*types.Type
	ret     *types.Type
	params  []api.ValueType
	results []api.ValueType
	sret    bool
}

func (p *prepared) Release() {}

// PrepareSignature maps a C signature to a core wasm function type.
// Struct arguments are passed by address and struct results through a
// leading return pointer.
func (e *WazeroEngine) PrepareSignature(args []*types.Type, ret *types.Type, conv types.Convention) (dynffi.Prepared, error) {
	switch conv {
	case types.ConvDefault, types.ConvCdecl:
	default:
		return nil, fmt.Errorf("calling convention %s is not available on wasm32", conv)
	}

	p := &prepared{args: args, ret: ret}
	if ret.Code == types.Struct {
		p.sret = true
		p.params = append(p.params, api.ValueTypeI32)
	} else if ret.Code != types.Void {
		vt, err := valueType(ret)
		if err != nil {
			return nil, err
		}
		p.results = []api.ValueType{vt}
	}
	for _, a := range args {
		vt, err := valueType(a)
		if err != nil {
			return nil, err
		}
		p.params = append(p.params, vt)
	}
	return p, nil
}

// Invoke calls the export at fn. A trampoline address dispatches straight
// to its handler.
func (e *WazeroEngine) Invoke(ctx context.Context, p dynffi.Prepared, fn uintptr, args [][]byte, ret []byte) error {
	pp, ok := p.(*prepared)
	if !ok {
		return fmt.Errorf("signature was not prepared by the wazero engine")
	}

	e.mu.Lock()
	tr := e.tramps[fn]
	x := e.funcs[fn]
	e.mu.Unlock()

	if tr != nil {
		clear(ret)
		tr.dispatch(ctx, args, ret)
		return nil
	}
	if x == nil {
		return fmt.Errorf("no function at address %#x", fn)
	}

	// Fetched per call so reentrant invocations get their own call stack.
	f := x.lib.module.ExportedFunction(x.name)
	if f == nil {
		return fmt.Errorf("library %s no longer exports %s", x.lib.path, x.name)
	}
	def := f.Definition()
	if !sameTypes(def.ParamTypes(), pp.params) || !sameTypes(def.ResultTypes(), pp.results) {
		return fmt.Errorf("signature mismatch: %s takes %v and returns %v",
			x.name, typeNames(def.ParamTypes()), typeNames(def.ResultTypes()))
	}

	var temps []uint32
	defer func() {
		for _, ptr := range temps {
			x.lib.alloc.free(ctx, ptr)
		}
	}()

	stack := make([]uint64, max(len(pp.params), len(pp.results), 1))
	i := 0
	var sretPtr uint32
	if pp.sret {
		ptr, err := x.lib.alloc.malloc(ctx, uint32(pp.ret.Size))
		if err != nil {
			return err
		}
		temps = append(temps, ptr)
		sretPtr = ptr
		stack[i] = uint64(ptr)
		i++
	}
	for j, t := range pp.args {
		if t.Code == types.Struct {
			ptr, err := x.lib.alloc.malloc(ctx, uint32(t.Size))
			if err != nil {
				return err
			}
			temps = append(temps, ptr)
			if !x.lib.memory.Write(ptr, args[j][:t.Size]) {
				return fmt.Errorf("struct argument %d out of guest memory", j)
			}
			stack[i] = uint64(ptr)
		} else {
			stack[i] = lowerArg(t, args[j])
		}
		i++
	}

	if err := f.CallWithStack(ctx, stack); err != nil {
		Logger().Debug("guest call failed", zap.String("export", x.name), zap.Error(err))
		return fmt.Errorf("call %s: %w", x.name, err)
	}

	switch {
	case pp.sret:
		data, ok := x.lib.memory.Read(sretPtr, uint32(pp.ret.Size))
		if !ok {
			return fmt.Errorf("struct result of %s out of guest memory", x.name)
		}
		copy(ret, data)
	case len(pp.results) > 0:
		liftResult(pp.ret, stack[0], ret)
	}
	return nil
}

// register returns the stable address of an export, assigning one on first use.
// Callers hold e.mu.
func (e *WazeroEngine) register(lib *Library, name string) uintptr {
	key := symbolKey{lib: lib.handle, name: name}
	if addr, ok := e.symbols[key]; ok {
		return addr
	}
	addr := e.next
	e.next += 0x10
	e.symbols[key] = addr
	e.funcs[addr] = &export{lib: lib, name: name}
	return addr
}

func (e *WazeroEngine) forget(lib *Library) {
	for key, addr := range e.symbols {
		if key.lib == lib.handle {
			delete(e.symbols, key)
			delete(e.funcs, addr)
		}
	}
	delete(e.libs, lib.handle)
	if e.primary == lib {
		e.primary = nil
		for _, l := range e.libs {
			if l.memory != nil && (e.primary == nil || l.handle < e.primary.handle) {
				e.primary = l
			}
		}
	}
}

// Close releases the runtime and every library loaded through it.
func (e *WazeroEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	clear(e.libs)
	clear(e.funcs)
	clear(e.symbols)
	clear(e.tramps)
	e.primary = nil
	e.mu.Unlock()

	Logger().Debug("closing wazero engine")
	return e.runtime.Close(ctx)
}

var (
	_ dynffi.Engine = (*WazeroEngine)(nil)
	_ dynffi.Loader = (*WazeroEngine)(nil)
)
