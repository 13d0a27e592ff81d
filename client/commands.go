package client

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/callout"
	"github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/value"
)

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Typedef defines name as an alias of one type or an aggregate of several.
func (c *Client) Typedef(name string, elems ...string) error {
	if err := c.check(); err != nil {
		return err
	}
	_, err := c.registry.Define(name, elems...)
	return err
}

// Callout binds name to the native function at addr, replacing any callout
// of the same name.
func (c *Client) Callout(name string, args []string, ret string, addr uintptr, protocol string) error {
	if err := c.check(); err != nil {
		return err
	}
	name = c.qualify(name)
	co, err := c.binder.Bind(name, args, ret, addr, protocol)
	if err != nil {
		return err
	}
	if old, ok := c.callouts[name]; ok {
		old.Release()
	}
	c.callouts[name] = co
	return nil
}

// LookupCallout returns the callout bound under name.
func (c *Client) LookupCallout(name string) (*callout.Callout, bool) {
	co, ok := c.callouts[c.qualify(name)]
	return co, ok
}

// Call invokes the callout bound under name.
func (c *Client) Call(ctx context.Context, name string, args ...*value.Value) (*value.Value, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	co, ok := c.LookupCallout(name)
	if !ok {
		return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Path(name).
			Detail("invalid command name %q", name).
			Build()
	}
	return co.Call(ctx, args...)
}

// ReleaseCallout removes a callout and drops its signature reference.
func (c *Client) ReleaseCallout(name string) bool {
	name = c.qualify(name)
	co, ok := c.callouts[name]
	if !ok {
		return false
	}
	co.Release()
	delete(c.callouts, name)
	return true
}

// Callback defines name as a native-callable entry point running the
// command prefix, and returns its address. A nil prefix runs the command
// called name. Redefining a callback releases the previous one first.
func (c *Client) Callback(name string, args []string, ret, protocol string, prefix *value.Value) (uintptr, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	if !c.Platform().Callbacks {
		return 0, errors.Unsupported(errors.PhaseDefine, "callbacks are not supported in this configuration")
	}
	if c.definer.Eval == nil {
		return 0, errors.Unsupported(errors.PhaseDefine, "callbacks need a host that evaluates commands")
	}
	name = c.qualify(name)
	if err := c.releaseCallback(name); err != nil {
		Logger().Warn("callback release failed", zap.String("name", name), zap.Error(err))
	}
	if prefix == nil {
		prefix = value.NewString(name)
	}
	cb, err := c.definer.Define(name, args, ret, protocol, prefix)
	if err != nil {
		return 0, err
	}
	c.callbacks[name] = cb
	return cb.Address(), nil
}

// Address returns the trampoline address of a callback by qualified name.
func (c *Client) Address(name string) (uintptr, bool) {
	cb, ok := c.callbacks[name]
	if !ok {
		return 0, false
	}
	return cb.Address(), true
}

// ReleaseCallback removes a callback and frees its trampoline.
func (c *Client) ReleaseCallback(name string) error {
	return c.releaseCallback(c.qualify(name))
}

func (c *Client) releaseCallback(name string) error {
	cb, ok := c.callbacks[name]
	if !ok {
		return nil
	}
	delete(c.callbacks, name)
	return cb.Release()
}

// Library loads a native library under path and returns its handle.
func (c *Client) Library(path string, b dynffi.Binding, v dynffi.Visibility) (uintptr, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	lib, err := c.libs.Load(path, b, v)
	if err != nil {
		return 0, err
	}
	return lib.Handle(), nil
}

// Symbol returns the address of sym in lib, loading lib if needed.
func (c *Client) Symbol(lib, sym string) (uintptr, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.libs.Symbol(lib, sym)
}
