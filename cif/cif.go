package cif

import (
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/types"
)

// Cif is a prepared call signature shared by every callout and callback
// declared with the same text.
type Cif struct {
	Key      string
	Args     []*types.Type
	ArgNames []string
	Ret      *types.Type
	RetName  string
	Conv     types.Convention
	Prepared dynffi.Prepared

	refs  atomic.Int32
	cache *Cache
}

// Refs returns the current reference count.
func (c *Cif) Refs() int32 {
	return c.refs.Load()
}

// Retain adds a reference.
func (c *Cif) Retain() {
	c.refs.Add(1)
}

// Release drops a reference. The last release evicts the signature from
// its cache and frees the engine description.
func (c *Cif) Release() {
	if c.refs.Add(-1) != 0 {
		return
	}
	if c.cache != nil {
		c.cache.evict(c)
	}
	c.free()
}

func (c *Cif) free() {
	if c.Prepared != nil {
		c.Prepared.Release()
		c.Prepared = nil
	}
	for _, t := range c.Args {
		t.Release()
	}
	if c.Ret != nil {
		c.Ret.Release()
	}
	c.Args, c.Ret = nil, nil
}

// Key builds the canonical signature text.
func Key(args []string, ret string, conv types.Convention) string {
	var b strings.Builder
	if conv != types.ConvDefault {
		b.WriteString(conv.String())
		b.WriteByte(' ')
	}
	b.WriteString(ret)
	b.WriteByte('(')
	b.WriteString(strings.Join(args, ","))
	b.WriteByte(')')
	return b.String()
}

// Cache maps signature keys to prepared signatures.
type Cache struct {
	engine   dynffi.Engine
	registry *types.Registry
	entries  map[string]*Cif
}

// NewCache creates a cache that resolves type names in r and prepares
// signatures with e.
func NewCache(e dynffi.Engine, r *types.Registry) *Cache {
	return &Cache{
		engine:   e,
		registry: r,
		entries:  make(map[string]*Cif),
	}
}

// Resolve returns the signature for the given type names and protocol,
// with one new reference. Identical text always yields the same *Cif.
func (c *Cache) Resolve(args []string, ret, protocol string) (*Cif, error) {
	conv, err := types.ParseConvention(protocol)
	if err != nil {
		return nil, err
	}
	key := Key(args, ret, conv)
	if existing, ok := c.entries[key]; ok {
		existing.Retain()
		return existing, nil
	}

	rt, ok := c.registry.Lookup(ret)
	if !ok {
		return nil, errors.NoType(ret)
	}
	ats := make([]*types.Type, len(args))
	for i, name := range args {
		at, ok := c.registry.Lookup(name)
		if !ok {
			return nil, errors.NoType(name)
		}
		ats[i] = at
	}

	prepared, err := c.engine.PrepareSignature(ats, rt, conv)
	if err != nil {
		return nil, errors.TypeDefinition(err)
	}

	rt.Retain()
	for _, at := range ats {
		at.Retain()
	}
	sig := &Cif{
		Key:      key,
		Args:     ats,
		ArgNames: append([]string(nil), args...),
		Ret:      rt,
		RetName:  ret,
		Conv:     conv,
		Prepared: prepared,
		cache:    c,
	}
	sig.Retain()
	c.entries[key] = sig
	Logger().Debug("signature prepared", zap.String("key", key))
	return sig, nil
}

// Lookup returns the cached signature for key without adding a reference.
func (c *Cache) Lookup(key string) (*Cif, bool) {
	sig, ok := c.entries[key]
	return sig, ok
}

// Keys returns the sorted keys matching the glob pattern.
func (c *Cache) Keys(pattern string) []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		if pattern != "" {
			if ok, _ := path.Match(pattern, k); !ok {
				continue
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of cached signatures.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Clear frees every remaining signature regardless of its count and
// returns the keys that were still referenced.
func (c *Cache) Clear() []string {
	dangling := c.Keys("")
	for _, k := range dangling {
		sig := c.entries[k]
		delete(c.entries, k)
		sig.cache = nil
		sig.free()
	}
	return dangling
}

func (c *Cache) evict(sig *Cif) {
	if cur, ok := c.entries[sig.Key]; ok && cur == sig {
		delete(c.entries, sig.Key)
		Logger().Debug("signature evicted", zap.String("key", sig.Key))
	}
}
