package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a strategy from validated params.
type Factory func(p Params) (Strategy, error)

// Descriptor advertises a strategy type.
type Descriptor struct {
	Key     string      `json:"key"`
	Name    string      `json:"name"`
	Doc     string      `json:"doc"`
	Params  []ParamSpec `json:"params"`
	Factory Factory     `json:"-"`
}

// Registry maps strategy keys to descriptors.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Descriptor
}

// NewRegistry returns a registry preloaded with the given descriptors.
func NewRegistry(ds ...Descriptor) (*Registry, error) {
	r := &Registry{items: make(map[string]Descriptor)}
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds d. Keys are unique.
func (r *Registry) Register(d Descriptor) error {
	if d.Key == "" || d.Factory == nil {
		return fmt.Errorf("strategy descriptor needs a key and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[d.Key]; ok {
		return fmt.Errorf("strategy %q already registered", d.Key)
	}
	r.items[d.Key] = d
	return nil
}

// Lookup returns the descriptor for key.
func (r *Registry) Lookup(key string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[key]
	return d, ok
}

// List returns every descriptor sorted by key.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.items))
	for _, d := range r.items {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Validate checks raw params for key without building a strategy.
func (r *Registry) Validate(key string, raw map[string]any) (Params, error) {
	d, ok := r.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidParams, key)
	}
	return Validate(d.Params, raw)
}

// Build validates raw params and constructs a strategy of type key.
func (r *Registry) Build(key string, raw map[string]any) (Strategy, Params, error) {
	d, ok := r.Lookup(key)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidParams, key)
	}
	p, err := Validate(d.Params, raw)
	if err != nil {
		return nil, nil, err
	}
	s, err := d.Factory(p)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, key, err)
	}
	return s, p, nil
}
