package callout

import (
	"context"
	"strings"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/cif"
	"github.com/wippyai/dynffi/convert"
	"github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/types"
	"github.com/wippyai/dynffi/value"
)

// Callout is a native function bound to a signature.
type Callout struct {
	Name  string
	Usage string
	Addr  uintptr
	Cif   *cif.Cif

	engine dynffi.Engine
	env    *convert.Env
}

// Binder creates callouts against one client's cache, engine and codecs.
type Binder struct {
	Cache  *cif.Cache
	Engine dynffi.Engine
	Env    *convert.Env
}

// Bind resolves the signature and checks each type against its context.
// The callout owns one reference to the signature.
func (b *Binder) Bind(name string, args []string, ret string, addr uintptr, protocol string) (*Callout, error) {
	sig, err := b.Cache.Resolve(args, ret, protocol)
	if err != nil {
		return nil, err
	}
	if err := checkContexts(sig, types.ClassArg, types.ClassRet); err != nil {
		sig.Release()
		return nil, err
	}
	if addr == 0 {
		sig.Release()
		return nil, errors.New(errors.PhaseDefine, errors.KindNullAddress).
			Path(name).
			Detail("callout %s has a NULL address", name).
			Build()
	}
	return &Callout{
		Name:   name,
		Usage:  strings.Join(args, " "),
		Addr:   addr,
		Cif:    sig,
		engine: b.Engine,
		env:    b.Env,
	}, nil
}

func checkContexts(sig *cif.Cif, argCtx, retCtx types.Class) error {
	if !sig.Ret.Permits(retCtx) {
		return errors.NotPermitted(sig.RetName, types.ContextName(retCtx))
	}
	for i, t := range sig.Args {
		if !t.Permits(argCtx) {
			return errors.NotPermitted(sig.ArgNames[i], types.ContextName(argCtx))
		}
	}
	return nil
}

// Call marshals args, invokes the native function and converts its result.
// Every argument is converted before the native call is made.
func (c *Callout) Call(ctx context.Context, args ...*value.Value) (*value.Value, error) {
	sig := c.Cif
	if len(args) != len(sig.Args) {
		return nil, errors.Arity(c.Name, c.Usage)
	}

	frame := c.engine.NewFrame()
	defer frame.Release()

	call := c.env.Begin(frame)
	defer call.Close()
	slots := make([][]byte, len(args))
	for i, t := range sig.Args {
		slots[i] = make([]byte, c.env.SlotSize(t))
		if err := call.Arg(i, t, args[i], slots[i]); err != nil {
			return nil, err
		}
	}
	ret := make([]byte, c.env.RetSize(sig.Ret))

	if err := c.engine.Invoke(convert.WithCall(ctx, call), sig.Prepared, c.Addr, slots, ret); err != nil {
		return nil, errors.New(errors.PhaseCall, errors.KindInternal).
			Path(c.Name).
			Detail("native call failed").
			Cause(err).
			Build()
	}
	call.Finish()

	return c.env.Return(sig.Ret, ret)
}

// Release drops the callout's signature reference.
func (c *Callout) Release() {
	if c.Cif != nil {
		c.Cif.Release()
		c.Cif = nil
	}
}
