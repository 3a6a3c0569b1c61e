// Package resources holds the registry of configured resource adapters.
// Concrete adapters live in the firewall, textfile and schedule subpackages.
package resources

import (
	"fmt"

	"github.com/openfroyo/converge/pkg/engine"
)

// Registry maps resource names to adapters. It implements engine.Registry.
type Registry struct {
	order  []engine.Adapter
	byName map[string]engine.Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]engine.Adapter)}
}

// Register adds an adapter. Names must be unique.
func (r *Registry) Register(adapter engine.Adapter) error {
	name := adapter.Ref().Name
	if name == "" {
		return fmt.Errorf("adapter has no name")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("resource %q already registered", name)
	}
	r.order = append(r.order, adapter)
	r.byName[name] = adapter
	return nil
}

// Lookup implements engine.Registry.
func (r *Registry) Lookup(name string) (engine.Adapter, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// Resolve implements engine.Registry. A directive without a resource name
// resolves to the only adapter of its kind.
func (r *Registry) Resolve(d engine.Directive) (engine.Adapter, error) {
	if d.Resource != "" {
		a, ok := r.byName[d.Resource]
		if !ok {
			return nil, fmt.Errorf("unknown resource %q", d.Resource)
		}
		return a, nil
	}

	var match engine.Adapter
	for _, a := range r.order {
		if a.Ref().Kind != d.Kind {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("several %s resources are configured, the directive must name one", d.Kind)
		}
		match = a
	}
	if match == nil {
		return nil, fmt.Errorf("no %s resource is configured", d.Kind)
	}
	return match, nil
}

// Adapters implements engine.Registry.
func (r *Registry) Adapters() []engine.Adapter {
	return r.order
}

// Refs returns the references of all registered adapters.
func (r *Registry) Refs() []engine.ResourceRef {
	refs := make([]engine.ResourceRef, 0, len(r.order))
	for _, a := range r.order {
		refs = append(refs, a.Ref())
	}
	return refs
}
