package callback

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/cif"
	"github.com/wippyai/dynffi/convert"
	"github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/types"
	"github.com/wippyai/dynffi/value"
)

// Evaluator runs a host command given as a word list.
type Evaluator interface {
	Eval(ctx context.Context, words []*value.Value) (*value.Value, error)
}

// ErrorSink receives failures that cannot be returned to a native caller.
type ErrorSink interface {
	ReportError(err error)
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(err error)

// ReportError calls f(err).
func (f ErrorSinkFunc) ReportError(err error) { f(err) }

// Callback is a host command reachable from native code through a
// trampoline address.
type Callback struct {
	Name   string
	Cif    *cif.Cif
	Prefix []*value.Value

	tramp dynffi.Trampoline
	env   *convert.Env
	eval  Evaluator
	sink  ErrorSink
}

// Definer creates callbacks against one client's cache, engine and codecs.
type Definer struct {
	Cache  *cif.Cache
	Engine dynffi.Engine
	Env    *convert.Env
	Eval   Evaluator
	Sink   ErrorSink
}

// Define resolves the signature, checks it against the callback contexts
// and builds a trampoline. A nil prefix means the callback's own name.
func (d *Definer) Define(name string, args []string, ret, protocol string, prefix *value.Value) (*Callback, error) {
	if !d.Engine.Platform().Callbacks {
		return nil, errors.Unsupported(errors.PhaseDefine,
			"callbacks are not supported by engine "+d.Engine.Name())
	}

	sig, err := d.Cache.Resolve(args, ret, protocol)
	if err != nil {
		return nil, err
	}
	if err := checkContexts(sig); err != nil {
		sig.Release()
		return nil, err
	}

	if prefix == nil {
		prefix = value.NewString(name)
	}
	words, err := prefix.List()
	if err != nil {
		sig.Release()
		return nil, errors.New(errors.PhaseDefine, errors.KindInvalidInput).
			Path(name).
			Detail("command prefix is not a list").
			Cause(err).
			Build()
	}
	if len(words) == 0 {
		sig.Release()
		return nil, errors.InvalidInput(errors.PhaseDefine, "callback "+name+" has an empty command prefix")
	}

	cb := &Callback{
		Name:   name,
		Cif:    sig,
		Prefix: make([]*value.Value, len(words)),
		env:    d.Env,
		eval:   d.Eval,
		sink:   d.Sink,
	}
	for i, w := range words {
		w.IncrRef()
		cb.Prefix[i] = w
	}

	tramp, err := d.Engine.PrepareTrampoline(sig.Prepared, cb.dispatch)
	if err != nil {
		cb.Release()
		return nil, errors.TypeDefinition(err)
	}
	cb.tramp = tramp

	Logger().Debug("callback defined",
		zap.String("name", name),
		zap.String("signature", sig.Key),
		zap.Uintptr("address", tramp.Address()))
	return cb, nil
}

func checkContexts(sig *cif.Cif) error {
	if !sig.Ret.Permits(types.ClassCbRet) {
		return errors.NotPermitted(sig.RetName, types.ContextName(types.ClassCbRet))
	}
	for i, t := range sig.Args {
		if !t.Permits(types.ClassCbArg) {
			return errors.NotPermitted(sig.ArgNames[i], types.ContextName(types.ClassCbArg))
		}
	}
	return nil
}

// Address returns the native-callable trampoline address.
func (c *Callback) Address() uintptr {
	if c.tramp == nil {
		return 0
	}
	return c.tramp.Address()
}

// dispatch runs on whatever stack native code calls the trampoline from.
// Each invocation builds its own word list, so nested calls are safe.
func (c *Callback) dispatch(ctx context.Context, args [][]byte, ret []byte) {
	if err := c.invoke(ctx, args, ret); err != nil {
		clear(ret)
		failure := errors.CallbackFailed(c.Name, err)
		Logger().Debug("callback failed", zap.String("name", c.Name), zap.Error(err))
		if c.sink != nil {
			c.sink.ReportError(failure)
		}
	}
}

func (c *Callback) invoke(ctx context.Context, args [][]byte, ret []byte) error {
	sig := c.Cif
	words := make([]*value.Value, 0, len(c.Prefix)+len(args))
	words = append(words, c.Prefix...)
	for i, t := range sig.Args {
		v, err := c.env.CallbackArg(t, args[i])
		if err != nil {
			return err
		}
		words = append(words, v)
	}

	for _, w := range words {
		w.IncrRef()
	}
	defer func() {
		for _, w := range words {
			w.DecrRef()
		}
	}()

	result, err := c.eval.Eval(ctx, words)
	if err != nil {
		return err
	}
	if result == nil {
		result = value.NewString("")
	}
	result.IncrRef()
	defer result.DecrRef()

	return c.env.CallbackReturn(ctx, sig.Ret, result, ret)
}

// Release frees the trampoline, the prefix words and the signature
// reference.
func (c *Callback) Release() error {
	var err error
	if c.tramp != nil {
		err = c.tramp.Release()
		c.tramp = nil
	}
	for _, w := range c.Prefix {
		w.DecrRef()
	}
	c.Prefix = nil
	if c.Cif != nil {
		c.Cif.Release()
		c.Cif = nil
	}
	return err
}
