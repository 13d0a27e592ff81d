package types

import (
	"path"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/dynffi/errors"
)

// Def records a user typedef as it was written.
type Def struct {
	Name     string   `msgpack:"name"`
	Elements []string `msgpack:"elements"`
}

// Registry is the named type catalog of one client.
type Registry struct {
	platform Platform
	layouter Layouter
	types    map[string]*Type
	defs     []Def
}

// NewRegistry creates a registry holding the built-in types of p.
// l, if non-nil, checks the layout of every new aggregate.
func NewRegistry(p Platform, l Layouter) *Registry {
	r := &Registry{
		platform: p,
		layouter: l,
		types:    make(map[string]*Type),
	}
	for _, b := range Builtins(p) {
		r.types[b.Name] = b.Type
	}
	return r
}

// Platform returns the platform the builtins were sized for.
func (r *Registry) Platform() Platform {
	return r.platform
}

// Lookup finds a type by exact name.
func (r *Registry) Lookup(name string) (*Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Define registers name. A single element makes an alias of that type;
// several elements make a new aggregate.
func (r *Registry) Define(name string, elems ...string) (*Type, error) {
	if _, exists := r.types[name]; exists {
		return nil, errors.AlreadyDefined(name)
	}
	if len(elems) == 0 {
		return nil, errors.InvalidInput(errors.PhaseDefine, "typedef needs at least one element type")
	}

	if len(elems) == 1 {
		t, ok := r.types[elems[0]]
		if !ok {
			return nil, errors.UndefinedType(elems[0])
		}
		t.Retain()
		r.insert(name, t, elems)
		return t, nil
	}

	members := make([]*Type, len(elems))
	for i, en := range elems {
		e, ok := r.types[en]
		if !ok {
			return nil, errors.UndefinedElement(en)
		}
		if !e.Permits(ClassElt) {
			return nil, errors.NotPermitted(en, ContextName(ClassElt))
		}
		members[i] = e
	}

	t := &Type{
		Code:     Struct,
		Class:    ClassAll | ClassGetBytes,
		Elements: members,
	}
	t.Size, t.Align = AggregateLayout(members)
	for _, e := range members {
		e.Retain()
	}
	t.Retain()

	if r.layouter != nil {
		size, align, err := r.layouter.Layout(t)
		if err != nil {
			t.Release()
			return nil, errors.TypeDefinition(err)
		}
		if size != t.Size || align != t.Align {
			Logger().Warn("aggregate layout mismatch",
				zap.String("type", name),
				zap.Int("size", t.Size),
				zap.Int("engine_size", size),
				zap.Int("align", t.Align),
				zap.Int("engine_align", align))
		}
	}

	r.insert(name, t, elems)
	return t, nil
}

func (r *Registry) insert(name string, t *Type, elems []string) {
	r.types[name] = t
	r.defs = append(r.defs, Def{Name: name, Elements: append([]string(nil), elems...)})
}

// Names returns the sorted type names matching the glob pattern.
// An empty pattern matches everything.
func (r *Registry) Names(pattern string) []string {
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		if pattern != "" {
			if ok, _ := path.Match(pattern, n); !ok {
				continue
			}
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Defs returns the user typedefs in definition order.
func (r *Registry) Defs() []Def {
	return append([]Def(nil), r.defs...)
}

// Clear releases every type and empties the registry.
func (r *Registry) Clear() {
	for name, t := range r.types {
		t.Release()
		delete(r.types, name)
	}
	r.defs = nil
}
