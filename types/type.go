package types

import "sync/atomic"

// Type describes one marshaling shape. Types are shared by every alias,
// aggregate and signature that references them and freed on last release.
type Type struct {
	Code     Code
	Size     int
	Align    int
	Class    Class
	Elements []*Type

	refs   atomic.Int32
	native any
	free   func(any)
}

// Static reports whether t is a built-in that is never freed.
func (t *Type) Static() bool {
	return t.Class&ClassStatic != 0
}

// Permits reports whether t may appear in the given context.
func (t *Type) Permits(ctx Class) bool {
	return t.Class&ctx != 0
}

// Retain adds a reference. Built-ins are not counted.
func (t *Type) Retain() {
	if t.Static() {
		return
	}
	t.refs.Add(1)
}

// Release drops a reference. At zero an aggregate releases its elements
// and any engine representation attached with SetNative.
func (t *Type) Release() {
	if t.Static() {
		return
	}
	if t.refs.Add(-1) != 0 {
		return
	}
	if t.free != nil && t.native != nil {
		t.free(t.native)
	}
	t.native, t.free = nil, nil
	for _, e := range t.Elements {
		e.Release()
	}
}

// Refs returns the current reference count.
func (t *Type) Refs() int32 {
	return t.refs.Load()
}

// Native returns the engine representation attached to t, if any.
func (t *Type) Native() any {
	return t.native
}

// SetNative attaches an engine representation. free runs when t is freed.
func (t *Type) SetNative(v any, free func(any)) {
	t.native = v
	t.free = free
}

// Layouter computes an aggregate's size and alignment independently of the registry.
type Layouter interface {
	Layout(t *Type) (size, align int, err error)
}
