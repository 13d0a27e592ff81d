//go:build cgo && (linux || darwin)

package libffi

/*
#cgo pkg-config: libffi
#cgo linux LDFLAGS: -ldl
#include <ffi.h>
#include <stdint.h>
#include <stdlib.h>

// Conventions arrive in the order of types.Convention.
static int dyn_abi(int conv) {
	switch (conv) {
	case 0: case 1:
		return FFI_DEFAULT_ABI;
#if defined(__x86_64__) && !defined(_WIN32)
	case 7:
		return FFI_UNIX64;
	case 8:
		return FFI_WIN64;
#elif defined(__i386__)
	case 2:
		return FFI_SYSV;
	case 3:
		return FFI_STDCALL;
	case 4:
		return FFI_THISCALL;
	case 5:
		return FFI_FASTCALL;
	case 6:
		return FFI_MS_CDECL;
#endif
	}
	return -1;
}

static ffi_cif* dyn_alloc_cif(void) {
	return (ffi_cif*)calloc(1, sizeof(ffi_cif));
}

static int dyn_prep_cif(ffi_cif* cif, int abi, unsigned int nargs, ffi_type* rtype, ffi_type** atypes) {
	return ffi_prep_cif(cif, (ffi_abi)abi, nargs, rtype, atypes);
}

static void dyn_call(ffi_cif* cif, uintptr_t fn, void* rvalue, void** avalue) {
	ffi_call(cif, FFI_FN((void*)fn), rvalue, avalue);
}

// libffi fills in size and alignment of a struct type while preparing a cif returning it.
static int dyn_layout(ffi_type* t, size_t* size, unsigned short* align) {
	ffi_cif cif;
	int st = ffi_prep_cif(&cif, FFI_DEFAULT_ABI, 0, t, NULL);
	if (st != FFI_OK) {
		return st;
	}
	*size = t->size;
	*align = t->alignment;
	return FFI_OK;
}

extern void dynffiDispatch(ffi_cif*, void*, void**, uintptr_t);

static void dyn_thunk(ffi_cif* cif, void* ret, void** args, void* user) {
	dynffiDispatch(cif, ret, args, (uintptr_t)user);
}

static void* dyn_closure_alloc(void** code) {
	return ffi_closure_alloc(sizeof(ffi_closure), code);
}

static int dyn_prep_closure(void* closure, ffi_cif* cif, uintptr_t user, void* code) {
	return ffi_prep_closure_loc((ffi_closure*)closure, cif, dyn_thunk, (void*)user, code);
}

static void dyn_closure_free(void* closure) {
	ffi_closure_free(closure);
}
*/
import "C"

import (
	"context"
	"fmt"
	"runtime/cgo"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/types"
)

// Engine calls native code through libffi and opens libraries with dlopen.
type Engine struct {
	platform types.Platform
}

// New returns an engine for the running process.
func New() (*Engine, error) {
	p := types.Native()
	p.Engine = "libffi"
	p.Callbacks = true
	return &Engine{platform: p}, nil
}

func (e *Engine) Name() string { return "libffi" }

func (e *Engine) Platform() types.Platform { return e.platform }

func (e *Engine) Close(context.Context) error { return nil }

func ptrSize() C.size_t { return C.size_t(unsafe.Sizeof(uintptr(0))) }

// ffiType returns libffi's description of t. Struct descriptions are built
// on the C heap; when keep is set they are attached to t and freed with it.
func (e *Engine) ffiType(t *types.Type, keep bool) (*C.ffi_type, func(), error) {
	nop := func() {}
	switch t.Code {
	case types.Void:
		return &C.ffi_type_void, nop, nil
	case types.Float:
		return &C.ffi_type_float, nop, nil
	case types.Double:
		return &C.ffi_type_double, nop, nil
	case types.LongDouble:
		return &C.ffi_type_longdouble, nop, nil
	case types.UInt8:
		return &C.ffi_type_uint8, nop, nil
	case types.SInt8:
		return &C.ffi_type_sint8, nop, nil
	case types.UInt16:
		return &C.ffi_type_uint16, nop, nil
	case types.SInt16:
		return &C.ffi_type_sint16, nop, nil
	case types.UInt32:
		return &C.ffi_type_uint32, nop, nil
	case types.SInt32:
		return &C.ffi_type_sint32, nop, nil
	case types.UInt64:
		return &C.ffi_type_uint64, nop, nil
	case types.SInt64:
		return &C.ffi_type_sint64, nop, nil
	case types.Struct:
		if ft, ok := t.Native().(*C.ffi_type); ok {
			return ft, nop, nil
		}
		return e.structType(t, keep)
	}
	if t.Code.IsPointer() {
		return &C.ffi_type_pointer, nop, nil
	}
	return nil, nil, fmt.Errorf("no libffi type for %s", t.Code)
}

func (e *Engine) structType(t *types.Type, keep bool) (*C.ffi_type, func(), error) {
	n := len(t.Elements)
	ft := (*C.ffi_type)(C.calloc(1, C.size_t(unsafe.Sizeof(C.ffi_type{}))))
	elems := (**C.ffi_type)(C.calloc(C.size_t(n+1), ptrSize()))
	arr := unsafe.Slice(elems, n+1)

	var frees []func()
	release := func() {
		for _, f := range frees {
			f()
		}
		C.free(unsafe.Pointer(elems))
		C.free(unsafe.Pointer(ft))
	}
	for i, el := range t.Elements {
		et, free, err := e.ffiType(el, keep)
		if err != nil {
			release()
			return nil, nil, err
		}
		frees = append(frees, free)
		arr[i] = et
	}
	ft._type = C.FFI_TYPE_STRUCT
	ft.elements = elems

	if keep {
		t.SetNative(ft, func(any) { release() })
		return ft, func() {}, nil
	}
	return ft, release, nil
}

// Layout asks libffi for the size and alignment of an aggregate.
func (e *Engine) Layout(t *types.Type) (int, int, error) {
	ft, free, err := e.ffiType(t, false)
	if err != nil {
		return 0, 0, err
	}
	defer free()
	var size C.size_t
	var align C.ushort
	if st := C.dyn_layout(ft, &size, &align); st != C.FFI_OK {
		return 0, 0, fmt.Errorf("ffi_prep_cif failed laying out struct: status %d", int(st))
	}
	return int(size), int(align), nil
}

type prepared struct {
	cif    *C.ffi_cif
	atypes **C.ffi_type
	args   []*types.Type
	ret    *types.Type
}

func (p *prepared) Release() {
	if p.cif != nil {
		C.free(unsafe.Pointer(p.cif))
		p.cif = nil
	}
	if p.atypes != nil {
		C.free(unsafe.Pointer(p.atypes))
		p.atypes = nil
	}
}

// PrepareSignature builds an ffi_cif for the convention.
func (e *Engine) PrepareSignature(args []*types.Type, ret *types.Type, conv types.Convention) (dynffi.Prepared, error) {
	abi := C.dyn_abi(C.int(conv))
	if abi < 0 {
		return nil, fmt.Errorf("calling convention %s is not available on %s", conv, e.platform.Host)
	}

	p := &prepared{args: args, ret: ret}
	rt, _, err := e.ffiType(ret, true)
	if err != nil {
		return nil, err
	}
	if n := len(args); n > 0 {
		p.atypes = (**C.ffi_type)(C.calloc(C.size_t(n), ptrSize()))
		arr := unsafe.Slice(p.atypes, n)
		for i, a := range args {
			at, _, err := e.ffiType(a, true)
			if err != nil {
				p.Release()
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			arr[i] = at
		}
	}
	p.cif = C.dyn_alloc_cif()
	if st := C.dyn_prep_cif(p.cif, abi, C.uint(len(args)), rt, p.atypes); st != C.FFI_OK {
		p.Release()
		return nil, fmt.Errorf("ffi_prep_cif failed: status %d", int(st))
	}
	Logger().Debug("cif prepared",
		zap.Int("args", len(args)),
		zap.Stringer("ret", ret.Code),
		zap.Stringer("conv", conv))
	return p, nil
}

// Invoke copies the slots to the C heap, calls fn and copies the result back.
func (e *Engine) Invoke(_ context.Context, p dynffi.Prepared, fn uintptr, args [][]byte, ret []byte) error {
	pp, ok := p.(*prepared)
	if !ok || pp.cif == nil {
		return fmt.Errorf("signature was not prepared by the libffi engine")
	}
	if fn == 0 {
		return fmt.Errorf("cannot call a NULL function address")
	}

	total := len(ret)
	for _, a := range args {
		total += len(a)
	}
	n := len(args)
	block := C.calloc(C.size_t(total+1), 1)
	defer C.free(block)
	var avalue unsafe.Pointer
	if n > 0 {
		avalue = C.calloc(C.size_t(n), ptrSize())
		defer C.free(avalue)
	}

	argv := unsafe.Slice((*unsafe.Pointer)(avalue), n)
	buf := unsafe.Slice((*byte)(block), total)
	off := 0
	for i, a := range args {
		copy(buf[off:], a)
		argv[i] = unsafe.Add(block, off)
		off += len(a)
	}
	rvalue := unsafe.Add(block, off)

	C.dyn_call(pp.cif, C.uintptr_t(fn), rvalue, (*unsafe.Pointer)(avalue))
	copy(ret, buf[off:])
	return nil
}

// ReadString reads a NUL-terminated string from process memory.
func (e *Engine) ReadString(addr uintptr) (string, error) {
	if addr == 0 {
		return "", fmt.Errorf("cannot read a string at NULL")
	}
	return C.GoString((*C.char)(unsafe.Pointer(addr))), nil
}

var (
	_ dynffi.Engine = (*Engine)(nil)
	_ dynffi.Loader = (*Engine)(nil)
)

// trampoline is a libffi closure bound to a dispatcher through a cgo handle.
type trampoline struct {
	closure unsafe.Pointer
	code    unsafe.Pointer
	handle  cgo.Handle
	sig     *prepared
	d       dynffi.Dispatcher
	argSize int
}

func (t *trampoline) Address() uintptr { return uintptr(t.code) }

func (t *trampoline) Release() error {
	if t.closure == nil {
		return nil
	}
	C.dyn_closure_free(t.closure)
	t.handle.Delete()
	t.closure, t.code = nil, nil
	return nil
}

// PrepareTrampoline allocates a closure whose code address runs d.
func (e *Engine) PrepareTrampoline(p dynffi.Prepared, d dynffi.Dispatcher) (dynffi.Trampoline, error) {
	pp, ok := p.(*prepared)
	if !ok || pp.cif == nil {
		return nil, fmt.Errorf("signature was not prepared by the libffi engine")
	}

	var code unsafe.Pointer
	closure := C.dyn_closure_alloc(&code)
	if closure == nil {
		return nil, fmt.Errorf("ffi_closure_alloc failed")
	}
	t := &trampoline{closure: closure, code: code, sig: pp, d: d, argSize: e.platform.ArgSize}
	t.handle = cgo.NewHandle(t)
	if st := C.dyn_prep_closure(t.closure, pp.cif, C.uintptr_t(t.handle), t.code); st != C.FFI_OK {
		C.dyn_closure_free(t.closure)
		t.handle.Delete()
		return nil, fmt.Errorf("ffi_prep_closure_loc failed: status %d", int(st))
	}
	return t, nil
}
