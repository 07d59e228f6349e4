package serial

import (
	"fmt"
	"sync"

	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/store"
)

// StoreFactory builds a store.Store from a Description's fields.
type StoreFactory func(r *Registry, desc Description) (store.Store, error)

// BuilderFactory builds a builder.Builder from a Description's fields,
// using r to recursively hydrate any nested source/target/auxiliary Store
// descriptions.
type BuilderFactory func(r *Registry, desc Description) (builder.Builder, error)

// FnFactory produces a named, registered transform (a MapBuilder's
// UnaryFunction or a GroupBuilder's GroupFunction) from a Description's
// fields. The concrete function shape a tag produces is a contract
// between that tag and whichever BuilderFactory consumes it.
type FnFactory func(desc Description) (any, error)

// Registry is a tagged-union hydration registry: each Store/Builder/Fn
// type registers a constructor keyed by a stable tag, and a Description
// carries that tag in its "type" field. An unrecognized tag is rejected
// at hydration time with a ConfigError, never silently ignored.
//
// Uses the same name-keyed-registry-over-a-capability-interface shape as
// codec.ByName elsewhere in this module, generalized from codec's fixed
// switch (a single "json" entry) to an open, caller-extensible map, since
// Store/Builder tags are not a closed set the way codec names are.
type Registry struct {
	mu       sync.RWMutex
	stores   map[string]StoreFactory
	builders map[string]BuilderFactory
	fns      map[string]FnFactory
}

// NewRegistry creates a Registry with the built-in Store and Builder tags
// registered (memory_store, file_store, sqlite_store, s3_store,
// join_store, concat_store, alias_store, map_builder, group_builder). Use
// RegisterStore/RegisterBuilder/RegisterFn to add application-specific
// tags, e.g. for named ProcessItem functions.
func NewRegistry() *Registry {
	r := &Registry{
		stores:   map[string]StoreFactory{},
		builders: map[string]BuilderFactory{},
		fns:      map[string]FnFactory{},
	}
	registerBuiltinStores(r)
	registerBuiltinBuilders(r)
	return r
}

// RegisterStore registers a Store constructor under tag, overwriting any
// existing registration for that tag.
func (r *Registry) RegisterStore(tag string, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[tag] = factory
}

// RegisterBuilder registers a Builder constructor under tag, overwriting
// any existing registration for that tag.
func (r *Registry) RegisterBuilder(tag string, factory BuilderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[tag] = factory
}

// RegisterFn registers a named transform constructor under tag. Fn tags
// have no built-in entries: every deployment must register the
// ProcessItem/GroupFunction implementations its own descriptions
// reference, since the core has no way to discover user transform code
// from a tag string alone.
func (r *Registry) RegisterFn(tag string, factory FnFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[tag] = factory
}

// HydrateStore builds the Store named by desc's "type" tag. An
// unrecognized tag is a ConfigError, never a silent fallback.
func (r *Registry) HydrateStore(desc Description) (store.Store, error) {
	tag, err := desc.Tag()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.stores[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Path: "type", Err: fmt.Errorf("unknown store type %q", tag)}
	}
	return factory(r, desc)
}

// HydrateBuilder builds the Builder named by desc's "type" tag.
func (r *Registry) HydrateBuilder(desc Description) (builder.Builder, error) {
	tag, err := desc.Tag()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.builders[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Path: "type", Err: fmt.Errorf("unknown builder type %q", tag)}
	}
	return factory(r, desc)
}

// HydrateFn resolves a named transform: v must be a description (or bare
// tag string, equivalent to {"type": v}) carrying a "type" field
// previously registered with RegisterFn.
func (r *Registry) HydrateFn(v any) (any, error) {
	var desc Description
	switch t := v.(type) {
	case string:
		desc = Description{"type": t}
	default:
		d, err := asDescription(v, "fn")
		if err != nil {
			return nil, err
		}
		desc = d
	}
	tag, err := desc.Tag()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.fns[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Path: "fn.type", Err: fmt.Errorf("unknown fn type %q", tag)}
	}
	return factory(desc)
}

// HydrateBuilders builds every element of descs, in order, stopping at the
// first error.
func (r *Registry) HydrateBuilders(descs []Description) ([]builder.Builder, error) {
	out := make([]builder.Builder, 0, len(descs))
	for i, desc := range descs {
		b, err := r.HydrateBuilder(desc)
		if err != nil {
			return nil, &ConfigError{Path: fmt.Sprintf("builders[%d]", i), Err: err}
		}
		out = append(out, b)
	}
	return out, nil
}
