package convert

import (
	"context"
	"encoding/binary"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/resource"
	"github.com/wippyai/dynffi/types"
	"github.com/wippyai/dynffi/value"
)

// Host is what marshaling needs from the embedding interpreter.
type Host interface {
	// GetVar returns the current value of a variable.
	GetVar(name string) (*value.Value, error)

	// SetVar replaces a variable's value.
	SetVar(name string, v *value.Value) error

	// QualifyName resolves a command name to its fully qualified form.
	QualifyName(name string) string
}

// Callbacks resolves callback names given as pointer-proc arguments.
type Callbacks interface {
	Address(name string) (uintptr, bool)
}

// StringReader reads NUL-terminated strings out of native memory.
type StringReader interface {
	ReadString(addr uintptr) (string, error)
}

// Env holds the collaborators the codecs use. It is shared by every call
// of one client.
type Env struct {
	Platform  types.Platform
	Strings   StringReader
	Host      Host
	Objects   *resource.Table
	Callbacks Callbacks
}

func (e *Env) order() binary.ByteOrder {
	if e.Platform.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// SlotSize returns the storage an argument slot of t needs.
func (e *Env) SlotSize(t *types.Type) int {
	n := t.Size
	if n < 8 {
		n = 8
	}
	return n
}

// RetSize returns the storage a return slot of t needs, including widening.
func (e *Env) RetSize(t *types.Type) int {
	n := e.SlotSize(t)
	if e.Platform.ArgSize > n {
		n = e.Platform.ArgSize
	}
	return n
}

// Call is the marshaling state of one callout invocation.
type Call struct {
	env     *Env
	frame   dynffi.Frame
	commits []func()
	pins    []resource.Handle
}

// Begin starts marshaling a call whose pointer data lives in f.
func (e *Env) Begin(f dynffi.Frame) *Call {
	return &Call{env: e, frame: f}
}

// Finish copies native writes back into pointer-var buffers. It runs after
// the native function returned.
func (c *Call) Finish() {
	if len(c.commits) == 0 {
		return
	}
	c.frame.Sync()
	for _, commit := range c.commits {
		commit()
	}
	c.commits = nil
}

// Close releases the pointer-obj handles pinned by this call. The return
// value must be converted before Close, since native code may hand back
// one of those handles.
func (c *Call) Close() {
	if c.env.Objects == nil {
		return
	}
	for _, h := range c.pins {
		c.env.Objects.Release(h)
	}
	c.pins = nil
}

func (c *Call) pin(v *value.Value) (resource.Handle, error) {
	if c.env.Objects == nil {
		return 0, errors.Unsupported(errors.PhaseMarshal, "pointer-obj needs an object table")
	}
	h, err := c.env.Objects.Acquire(v)
	if err != nil {
		return 0, err
	}
	c.pins = append(c.pins, h)
	return h, nil
}

type callKey struct{}

// WithCall returns a context carrying c. Callbacks run under that context
// pin the pointer-obj values they return to c.
func WithCall(ctx context.Context, c *Call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

func callFrom(ctx context.Context) *Call {
	c, _ := ctx.Value(callKey{}).(*Call)
	return c
}
