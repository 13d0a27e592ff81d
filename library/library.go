package library

import (
	"fmt"
	"path"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/errors"
)

// ParseBinding maps a binding flag value to its mode.
func ParseBinding(s string) (dynffi.Binding, error) {
	switch s {
	case "", "default":
		return dynffi.BindDefault, nil
	case "now":
		return dynffi.BindNow, nil
	case "lazy":
		return dynffi.BindLazy, nil
	}
	return dynffi.BindDefault, errors.InvalidInput(errors.PhaseLoad, "bad option: "+s)
}

// ParseVisibility maps a visibility flag value to its mode.
func ParseVisibility(s string) (dynffi.Visibility, error) {
	switch s {
	case "", "default":
		return dynffi.VisDefault, nil
	case "global":
		return dynffi.VisGlobal, nil
	case "local":
		return dynffi.VisLocal, nil
	}
	return dynffi.VisDefault, errors.InvalidInput(errors.PhaseLoad, "bad option: "+s)
}

// Table records the libraries a client loaded, keyed by the name they were
// loaded under. Libraries stay open until CloseAll.
type Table struct {
	loader dynffi.Loader
	libs   map[string]dynffi.Library
}

// NewTable returns an empty table opening libraries through l.
func NewTable(l dynffi.Loader) *Table {
	return &Table{
		loader: l,
		libs:   make(map[string]dynffi.Library),
	}
}

// Load opens name. Default binding is eager and default visibility global.
func (t *Table) Load(name string, b dynffi.Binding, v dynffi.Visibility) (dynffi.Library, error) {
	if _, ok := t.libs[name]; ok {
		return nil, errors.AlreadyLoaded(name)
	}
	if b == dynffi.BindDefault {
		b = dynffi.BindNow
	}
	if v == dynffi.VisDefault {
		v = dynffi.VisGlobal
	}
	lib, err := t.loader.Open(name, b, v)
	if err != nil {
		return nil, errors.LoadFailed(name, err)
	}
	t.libs[name] = lib
	Logger().Debug("library loaded",
		zap.String("name", name),
		zap.Uintptr("handle", lib.Handle()))
	return lib, nil
}

// Lookup returns the library loaded under name.
func (t *Table) Lookup(name string) (dynffi.Library, bool) {
	lib, ok := t.libs[name]
	return lib, ok
}

// Symbol returns the address of sym in the named library, loading the
// library with default flags first if needed. A missing symbol is retried
// with a leading underscore.
func (t *Table) Symbol(name, sym string) (uintptr, error) {
	lib, ok := t.libs[name]
	if !ok {
		var err error
		if lib, err = t.Load(name, dynffi.BindDefault, dynffi.VisDefault); err != nil {
			return 0, err
		}
	}
	addr, err := lib.Symbol(sym)
	if err == nil {
		return addr, nil
	}
	if alt, altErr := lib.Symbol("_" + sym); altErr == nil {
		return alt, nil
	}
	return 0, errors.SymbolNotFound(sym, err)
}

// Names returns the sorted library names matching a glob pattern. An
// empty pattern matches everything.
func (t *Table) Names(pattern string) []string {
	names := make([]string, 0, len(t.libs))
	for name := range t.libs {
		if pattern != "" {
			if ok, _ := path.Match(pattern, name); !ok {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded libraries.
func (t *Table) Len() int {
	return len(t.libs)
}

// CloseAll closes every library in name order and empties the table.
// Close failures are logged and returned together.
func (t *Table) CloseAll() error {
	var failed []error
	for _, name := range t.Names("") {
		if err := t.libs[name].Close(); err != nil {
			Logger().Warn("library close failed", zap.String("name", name), zap.Error(err))
			failed = append(failed, errors.New(errors.PhaseLoad, errors.KindCloseFailed).
				Path(name).
				Detail("couldn't unload library %q", name).
				Cause(err).
				Build())
		}
		delete(t.libs, name)
	}
	switch len(failed) {
	case 0:
		return nil
	case 1:
		return failed[0]
	}
	return fmt.Errorf("%d libraries failed to close: %w", len(failed), failed[0])
}
