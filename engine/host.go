package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/types"
)

const (
	// HostModule is the import module guests use to reach trampolines.
	HostModule = "dynffi"
	// HostInvoke is invoke(fn i32, argv i32, ret i32). argv holds one
	// 8-byte slot per argument; struct arguments are given by address.
	HostInvoke = "invoke"

	wasiModule = wasi_snapshot_preview1.ModuleName
)

// trampoline is a callback entry point guests call through dynffi.invoke.
type trampoline struct {
	engine *WazeroEngine
	addr   uintptr
	sig    *prepared
	d      dynffi.Dispatcher
}

func (t *trampoline) Address() uintptr { return t.addr }

func (t *trampoline) Release() error {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	delete(t.engine.tramps, t.addr)
	return nil
}

func (t *trampoline) dispatch(ctx context.Context, args [][]byte, ret []byte) {
	t.d(ctx, args, ret)
}

// PrepareTrampoline registers d under a new address guests pass to dynffi.invoke.
func (e *WazeroEngine) PrepareTrampoline(p dynffi.Prepared, d dynffi.Dispatcher) (dynffi.Trampoline, error) {
	pp, ok := p.(*prepared)
	if !ok {
		return nil, fmt.Errorf("signature was not prepared by the wazero engine")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("engine is closed")
	}
	t := &trampoline{engine: e, addr: e.next, sig: pp, d: d}
	e.next += 0x10
	e.tramps[t.addr] = t
	return t, nil
}

func (e *WazeroEngine) instantiateHost(ctx context.Context) error {
	i32 := api.ValueTypeI32
	_, err := e.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostInvoke), []api.ValueType{i32, i32, i32}, nil).
		Export(HostInvoke).
		Instantiate(ctx)
	return err
}

// hostInvoke reads the argument slots from the caller's memory, runs the
// trampoline and stores its result at ret. A bad call traps the guest.
func (e *WazeroEngine) hostInvoke(ctx context.Context, mod api.Module, stack []uint64) {
	addr := uintptr(uint32(stack[0]))
	argv := uint32(stack[1])
	retp := uint32(stack[2])

	e.mu.Lock()
	t := e.tramps[addr]
	e.mu.Unlock()
	if t == nil {
		panic(fmt.Errorf("dynffi.invoke: no callback at %#x", addr))
	}
	mem := mod.Memory()
	if mem == nil {
		panic(fmt.Errorf("dynffi.invoke: caller has no memory"))
	}

	args := make([][]byte, len(t.sig.args))
	for i, at := range t.sig.args {
		off := argv + uint32(8*i)
		if at.Code == types.Struct {
			ptr, ok := mem.ReadUint32Le(off)
			if !ok {
				panic(fmt.Errorf("dynffi.invoke: argument %d out of range", i))
			}
			data, ok := mem.Read(ptr, uint32(at.Size))
			if !ok {
				panic(fmt.Errorf("dynffi.invoke: struct argument %d out of range", i))
			}
			args[i] = make([]byte, max(8, at.Size))
			copy(args[i], data)
			continue
		}
		data, ok := mem.Read(off, 8)
		if !ok {
			panic(fmt.Errorf("dynffi.invoke: argument %d out of range", i))
		}
		args[i] = append(make([]byte, 0, 8), data...)
	}

	rt := t.sig.ret
	ret := make([]byte, max(8, rt.Size))
	t.dispatch(ctx, args, ret)

	var n int
	switch {
	case rt.Code == types.Void:
		return
	case rt.Code == types.Struct:
		n = rt.Size
	case rt.Size == 8:
		n = 8
	default:
		n = 4
	}
	if !mem.Write(retp, ret[:n]) {
		Logger().Warn("callback result out of guest memory",
			zap.Uintptr("callback", addr),
			zap.Uint32("ret", retp))
	}
}

// ensureWASI instantiates wasi_snapshot_preview1 the first time a library
// imports it.
func (e *WazeroEngine) ensureWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}
	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()
	if e.wasiInitDone.Load() {
		return nil
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
		return fmt.Errorf("instantiate WASI: %w", err)
	}
	e.wasiInitDone.Store(true)
	return nil
}
