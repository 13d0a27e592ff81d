//go:build cgo && (linux || darwin)

package libffi

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

static int dyn_dlflags(int now, int global) {
	return (now ? RTLD_NOW : RTLD_LAZY) | (global ? RTLD_GLOBAL : RTLD_LOCAL);
}

// Clears dlerror before dlsym so a NULL symbol can be told apart from a failure.
static void* dyn_dlsym(void* h, const char* name, const char** err) {
	dlerror();
	void* p = dlsym(h, name);
	*err = dlerror();
	return p;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
)

func dlerr() string {
	if msg := C.dlerror(); msg != nil {
		return C.GoString(msg)
	}
	return "unknown dlerror"
}

// Library is a dlopen handle.
type Library struct {
	handle unsafe.Pointer
	path   string
}

// Open calls dlopen. An empty path opens the main program. Default binding
// and visibility have been resolved by the caller; unresolved defaults
// mean lazy and local here.
func (e *Engine) Open(path string, b dynffi.Binding, v dynffi.Visibility) (dynffi.Library, error) {
	var cpath *C.char
	if path != "" {
		cpath = C.CString(path)
		defer C.free(unsafe.Pointer(cpath))
	}

	now := C.int(0)
	if b == dynffi.BindNow {
		now = 1
	}
	global := C.int(0)
	if v == dynffi.VisGlobal {
		global = 1
	}

	h := C.dlopen(cpath, C.dyn_dlflags(now, global))
	if h == nil {
		return nil, errors.New(dlerr())
	}
	Logger().Debug("library opened", zap.String("path", path), zap.Bool("now", now == 1), zap.Bool("global", global == 1))
	return &Library{handle: h, path: path}, nil
}

func (l *Library) Handle() uintptr { return uintptr(l.handle) }

// Symbol calls dlsym.
func (l *Library) Symbol(name string) (uintptr, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var cerr *C.char
	p := C.dyn_dlsym(l.handle, cname, &cerr)
	if cerr != nil {
		return 0, errors.New(C.GoString(cerr))
	}
	if p == nil {
		return 0, fmt.Errorf("symbol %s resolves to NULL", name)
	}
	return uintptr(p), nil
}

// Close calls dlclose.
func (l *Library) Close() error {
	if l.handle == nil {
		return nil
	}
	if C.dlclose(l.handle) != 0 {
		return errors.New(dlerr())
	}
	l.handle = nil
	return nil
}
