package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
)

// Library is one instantiated wasm module.
type Library struct {
	engine     *WazeroEngine
	module     api.Module
	memory     api.Memory
	alloc      *allocator
	path       string
	handle     uintptr
	binding    dynffi.Binding
	visibility dynffi.Visibility
}

// Open compiles and instantiates the wasm module at path. Global libraries
// are instantiated under their base name so later modules can import from
// them; local ones stay anonymous. With BindNow every exported function
// receives its address immediately.
func (e *WazeroEngine) Open(path string, b dynffi.Binding, v dynffi.Visibility) (dynffi.Library, error) {
	if path == "" {
		return nil, fmt.Errorf("the wazero engine has no main program to open")
	}
	ctx := context.Background()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	compiled, err := e.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}

	for _, imp := range compiled.ImportedFunctions() {
		if mod, _, _ := imp.Import(); mod == wasiModule {
			if err := e.ensureWASI(ctx); err != nil {
				_ = compiled.Close(ctx)
				return nil, err
			}
			break
		}
	}

	modCfg := wazero.NewModuleConfig().WithStartFunctions()
	if v == dynffi.VisGlobal {
		modCfg = modCfg.WithName(moduleName(path))
	} else {
		modCfg = modCfg.WithName("")
	}
	if e.cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(e.cfg.Stdout)
	}
	if e.cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(e.cfg.Stderr)
	}

	mod, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", path, err)
	}
	if init := mod.ExportedFunction(reactorInit); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("initialize %s: %w", path, err)
		}
	}

	lib := &Library{
		engine:     e,
		module:     mod,
		memory:     mod.Memory(),
		alloc:      newAllocator(mod),
		path:       path,
		binding:    b,
		visibility: v,
	}

	e.mu.Lock()
	e.nextLib++
	lib.handle = e.nextLib
	e.libs[lib.handle] = lib
	if e.primary == nil && lib.memory != nil {
		e.primary = lib
	}
	if b == dynffi.BindNow {
		for name := range mod.ExportedFunctionDefinitions() {
			e.register(lib, name)
		}
	}
	e.mu.Unlock()

	Logger().Debug("library opened",
		zap.String("path", path),
		zap.Uintptr("handle", lib.handle),
		zap.Bool("memory", lib.memory != nil))
	return lib, nil
}

func moduleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (l *Library) Handle() uintptr { return l.handle }

// Path is the file the library was compiled from.
func (l *Library) Path() string { return l.path }

// Symbol resolves an exported function to its address. An exported global
// resolves to the address it holds, the way C data symbols are exported.
func (l *Library) Symbol(name string) (uintptr, error) {
	if _, ok := l.module.ExportedFunctionDefinitions()[name]; ok {
		l.engine.mu.Lock()
		defer l.engine.mu.Unlock()
		return l.engine.register(l, name), nil
	}
	if g := l.module.ExportedGlobal(name); g != nil {
		return uintptr(uint32(g.Get())), nil
	}
	return 0, fmt.Errorf("undefined symbol: %s", name)
}

// Close drops the library's addresses and closes its module.
func (l *Library) Close() error {
	l.engine.mu.Lock()
	l.engine.forget(l)
	l.engine.mu.Unlock()
	return l.module.Close(context.Background())
}
