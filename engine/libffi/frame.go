//go:build cgo && (linux || darwin)

package libffi

/*
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/wippyai/dynffi"
)

type mutable struct {
	p   unsafe.Pointer
	dst []byte
}

// frame owns C heap copies of one call's pointer arguments.
type frame struct {
	allocs   []unsafe.Pointer
	mutables []mutable
}

func (e *Engine) NewFrame() dynffi.Frame { return &frame{} }

func (f *frame) copyIn(b []byte, extra int) (unsafe.Pointer, error) {
	p := C.calloc(C.size_t(len(b)+extra+1), 1)
	if p == nil {
		return nil, fmt.Errorf("out of memory copying %d bytes", len(b))
	}
	f.allocs = append(f.allocs, p)
	copy(unsafe.Slice((*byte)(p), len(b)), b)
	return p, nil
}

func (f *frame) Bytes(b []byte) (uintptr, error) {
	p, err := f.copyIn(b, 0)
	return uintptr(p), err
}

func (f *frame) Mutable(b []byte) (uintptr, error) {
	p, err := f.copyIn(b, 0)
	if err != nil {
		return 0, err
	}
	f.mutables = append(f.mutables, mutable{p: p, dst: b})
	return uintptr(p), nil
}

func (f *frame) CString(s string) (uintptr, error) {
	p, err := f.copyIn([]byte(s), 1)
	return uintptr(p), err
}

func (f *frame) Sync() {
	for _, m := range f.mutables {
		copy(m.dst, unsafe.Slice((*byte)(m.p), len(m.dst)))
	}
}

func (f *frame) Release() {
	for _, p := range f.allocs {
		C.free(p)
	}
	f.allocs, f.mutables = nil, nil
}
