package client

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/callback"
	"github.com/wippyai/dynffi/callout"
	"github.com/wippyai/dynffi/cif"
	"github.com/wippyai/dynffi/convert"
	"github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/library"
	"github.com/wippyai/dynffi/resource"
	"github.com/wippyai/dynffi/types"
)

// Host is the embedding interpreter as seen by a client.
type Host interface {
	convert.Host
	callback.Evaluator
}

// Config configures a new Client.
type Config struct {
	// Engine performs native calls. Required.
	Engine dynffi.Engine

	// Loader opens libraries. Defaults to Engine when it is also a Loader.
	Loader dynffi.Loader

	// Host supplies variables, name qualification and command evaluation.
	// Without a host, pointer-var arguments and callbacks are unavailable.
	Host Host

	// ErrorSink receives callback failures. Defaults to Host when it
	// implements callback.ErrorSink.
	ErrorSink callback.ErrorSink
}

var interpIDs atomic.Uint64

// Client owns the type registry, signature cache, callouts, callbacks and
// libraries of one embedding context. It is not safe for concurrent use.
type Client struct {
	engine    dynffi.Engine
	host      Host
	registry  *types.Registry
	cache     *cif.Cache
	callouts  map[string]*callout.Callout
	callbacks map[string]*callback.Callback
	libs      *library.Table
	objects   *resource.Table
	env       *convert.Env
	binder    *callout.Binder
	definer   *callback.Definer
	id        uint64
	closed    bool
}

// New creates a client with the built-in types registered.
func New(cfg Config) (*Client, error) {
	if cfg.Engine == nil {
		return nil, errors.InvalidInput(errors.PhaseClient, "client needs an engine")
	}
	loader := cfg.Loader
	if loader == nil {
		if l, ok := cfg.Engine.(dynffi.Loader); ok {
			loader = l
		} else {
			return nil, errors.InvalidInput(errors.PhaseClient, "engine "+cfg.Engine.Name()+" cannot load libraries; set Config.Loader")
		}
	}
	sink := cfg.ErrorSink
	if sink == nil && cfg.Host != nil {
		sink, _ = cfg.Host.(callback.ErrorSink)
	}

	p := cfg.Engine.Platform()
	c := &Client{
		engine:    cfg.Engine,
		host:      cfg.Host,
		registry:  types.NewRegistry(p, cfg.Engine),
		callouts:  make(map[string]*callout.Callout),
		callbacks: make(map[string]*callback.Callback),
		libs:      library.NewTable(loader),
		objects:   resource.NewTable(),
		id:        interpIDs.Add(1),
	}
	c.objects.Subscribe(resource.ObserverFunc(c.objectEvent))
	c.cache = cif.NewCache(cfg.Engine, c.registry)
	c.env = &convert.Env{
		Platform:  p,
		Strings:   cfg.Engine,
		Objects:   c.objects,
		Callbacks: c,
	}
	if cfg.Host != nil {
		c.env.Host = cfg.Host
	}
	c.binder = &callout.Binder{Cache: c.cache, Engine: cfg.Engine, Env: c.env}
	c.definer = &callback.Definer{
		Cache:  c.cache,
		Engine: cfg.Engine,
		Env:    c.env,
		Sink:   sink,
	}
	if cfg.Host != nil {
		c.definer.Eval = cfg.Host
	}

	Logger().Debug("client created",
		zap.String("engine", cfg.Engine.Name()),
		zap.String("host", p.Host))
	return c, nil
}

func (c *Client) objectEvent(e resource.Event) {
	Logger().Debug("object "+e.Type.String(),
		zap.Uint64("client", c.id),
		zap.Uint32("handle", uint32(e.Handle)))
}

// Engine returns the client's call engine.
func (c *Client) Engine() dynffi.Engine {
	return c.engine
}

// Platform returns the platform the client's types were sized for.
func (c *Client) Platform() types.Platform {
	return c.registry.Platform()
}

// Registry returns the client's type registry.
func (c *Client) Registry() *types.Registry {
	return c.registry
}

// Objects returns the table of host values passed as pointer-obj.
func (c *Client) Objects() *resource.Table {
	return c.objects
}

func (c *Client) check() error {
	if c.closed {
		return errors.NotInitialized("ffidl client")
	}
	return nil
}

func (c *Client) qualify(name string) string {
	if c.host == nil {
		return name
	}
	return c.host.QualifyName(name)
}

// Destroy tears the client down. Callouts and signatures still present are
// leaks of the embedding and are logged before being freed. Library close
// failures are returned. The engine is left open. Destroy is idempotent.
func (c *Client) Destroy() error {
	if c.closed {
		return nil
	}
	c.closed = true
	log := Logger()

	for _, name := range sortedKeys(c.callouts) {
		log.Warn("dangling callout", zap.String("name", name))
		c.callouts[name].Release()
		delete(c.callouts, name)
	}
	for _, name := range sortedKeys(c.callbacks) {
		if err := c.callbacks[name].Release(); err != nil {
			log.Warn("callback release failed", zap.String("name", name), zap.Error(err))
		}
		delete(c.callbacks, name)
	}
	for _, key := range c.cache.Clear() {
		log.Warn("dangling signature", zap.String("key", key))
	}
	c.registry.Clear()

	err := c.libs.CloseAll()
	if cerr := c.objects.Close(); cerr != nil {
		log.Warn("object table close failed", zap.Error(cerr))
	}

	log.Debug("client destroyed", zap.Uint64("interp", c.id))
	return err
}
