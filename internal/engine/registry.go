package engine

import (
	"fmt"
	"strings"

	"browserd/internal/adapters"
	"browserd/internal/config"
)

// Registry holds the fixed adapter set and their model descriptors.
// It is immutable after construction and safe for concurrent reads.
type Registry struct {
	byType map[string]adapters.Adapter
	order  []string
	opts   map[string]config.AdapterOptions
}

// NewRegistry indexes the adapter set. Duplicate type tags are a startup
// error. opts carries the backend.adapter.<type> option blocks.
func NewRegistry(set []adapters.Adapter, opts map[string]config.AdapterOptions) (*Registry, error) {
	r := &Registry{
		byType: make(map[string]adapters.Adapter, len(set)),
		opts:   opts,
	}
	for _, a := range set {
		t := a.Type()
		if _, dup := r.byType[t]; dup {
			return nil, fmt.Errorf("duplicate adapter type %q", t)
		}
		r.byType[t] = a
		r.order = append(r.order, t)
	}
	return r, nil
}

// SplitModelKey splits a possibly qualified "adapterType/id" model key.
// The empty qualifier means the key is a plain id.
func SplitModelKey(key string) (qualifier, id string) {
	if t, rest, ok := strings.Cut(key, "/"); ok && t != "" && rest != "" {
		return t, rest
	}
	return "", key
}

// Adapter returns the adapter registered under t.
func (r *Registry) Adapter(t string) (adapters.Adapter, bool) {
	a, ok := r.byType[t]
	return a, ok
}

// Types returns the registered adapter types in registration order.
func (r *Registry) Types() []string { return append([]string(nil), r.order...) }

// Options returns the configured option block for adapter type t.
func (r *Registry) Options(t string) config.AdapterOptions {
	if r.opts == nil {
		return nil
	}
	return r.opts[t]
}

// ResolveModel resolves key against adapter type t. A qualified key binds
// to its named type only; a mismatching qualifier resolves to nothing.
func (r *Registry) ResolveModel(t, key string) (string, adapters.ModelDescriptor, bool) {
	a, ok := r.byType[t]
	if !ok {
		return "", adapters.ModelDescriptor{}, false
	}
	qual, id := SplitModelKey(key)
	if qual != "" && qual != t {
		return "", adapters.ModelDescriptor{}, false
	}
	d, ok := adapters.Resolve(a, id)
	if !ok {
		return "", adapters.ModelDescriptor{}, false
	}
	return d.Upstream, d, true
}

// SupportsModel reports whether adapter type t knows key.
func (r *Registry) SupportsModel(t, key string) bool {
	_, _, ok := r.ResolveModel(t, key)
	return ok
}

// ImagePolicy returns the image policy of (t, key); forbidden when the
// model is unknown.
func (r *Registry) ImagePolicy(t, key string) adapters.ImagePolicy {
	if _, d, ok := r.ResolveModel(t, key); ok {
		return d.Images
	}
	return adapters.ImagesForbidden
}

// ModelType returns the modality of (t, key).
func (r *Registry) ModelType(t, key string) (adapters.Modality, bool) {
	if _, d, ok := r.ResolveModel(t, key); ok {
		return d.Modality, true
	}
	return "", false
}

// ListModels returns adapter t's registered descriptors.
func (r *Registry) ListModels(t string) []adapters.ModelDescriptor {
	a, ok := r.byType[t]
	if !ok {
		return nil
	}
	return a.Models()
}

// TargetURL computes the entry URL for adapter type t under worker w.
func (r *Registry) TargetURL(t string, w config.WorkerConfig) (string, error) {
	a, ok := r.byType[t]
	if !ok {
		return "", fmt.Errorf("no such adapter type %q", t)
	}
	return a.TargetURL(r.Options(t), w)
}

// NavigationHandlers returns adapter t's ordered handler chain.
func (r *Registry) NavigationHandlers(t string) []adapters.NavigationHandler {
	a, ok := r.byType[t]
	if !ok {
		return nil
	}
	return a.NavigationHandlers()
}
