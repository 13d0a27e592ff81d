//go:build cgo && (linux || darwin)

package libffi

/*
#include <ffi.h>
#include <stdint.h>
*/
import "C"

import (
	"context"
	"runtime/cgo"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/dynffi/types"
)

//export dynffiDispatch
func dynffiDispatch(_ *C.ffi_cif, ret unsafe.Pointer, args *unsafe.Pointer, user C.uintptr_t) {
	t, ok := cgo.Handle(user).Value().(*trampoline)
	if !ok {
		Logger().Error("closure invoked with a foreign handle", zap.Uint64("handle", uint64(user)))
		return
	}

	n := len(t.sig.args)
	argv := unsafe.Slice(args, n)
	slots := make([][]byte, n)
	for i, at := range t.sig.args {
		slots[i] = make([]byte, max(8, at.Size))
		copy(slots[i], unsafe.Slice((*byte)(argv[i]), at.Size))
	}

	rt := t.sig.ret
	slot := make([]byte, max(8, rt.Size))
	t.d(context.Background(), slots, slot)

	var size int
	switch {
	case rt.Code == types.Void:
		return
	case rt.Code.IsIntegral() || rt.Code.IsPointer():
		// libffi reads integral closure results as a full ffi_arg
		size = t.argSize
	default:
		size = rt.Size
	}
	copy(unsafe.Slice((*byte)(ret), size), slot)
}
