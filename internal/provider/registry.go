package provider

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrUnknownModel is returned when a model name matches no registered model.
	ErrUnknownModel = errors.New("provider: unknown model")
	// ErrUnknownProvider is returned when no adapter is registered under a name.
	ErrUnknownProvider = errors.New("provider: unknown provider")
	// ErrDuplicateModel is returned when a model is registered twice.
	ErrDuplicateModel = errors.New("provider: model already registered")
)

// Entry is a resolved model together with the adapter that serves it.
type Entry struct {
	Spec    ModelSpec
	Adapter Adapter
}

// Registry resolves model names to adapters. Matching is exact on the model
// ID or the display name; there is no substring matching.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]Entry
	names    map[string]string
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models:   make(map[string]Entry),
		names:    make(map[string]string),
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter and the models it serves. When no specs are given
// the adapter's catalogue entries are registered.
func (r *Registry) Register(a Adapter, specs ...ModelSpec) error {
	if len(specs) == 0 {
		specs = SpecsFor(a.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range specs {
		if _, ok := r.models[s.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, s.ID)
		}
	}
	r.adapters[a.Name()] = a
	for _, s := range specs {
		s.Provider = a.Name()
		r.models[s.ID] = Entry{Spec: s, Adapter: a}
		if s.DisplayName != "" {
			r.names[strings.ToLower(s.DisplayName)] = s.ID
		}
	}
	return nil
}

// Resolve returns the entry for an exact model ID or display name.
// Display names are matched case-insensitively.
func (r *Registry) Resolve(model string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model = strings.TrimSpace(model)
	if e, ok := r.models[model]; ok {
		return e, nil
	}
	if id, ok := r.names[strings.ToLower(model)]; ok {
		return r.models[id], nil
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// Adapter returns the adapter registered under a provider name.
func (r *Registry) Adapter(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return a, nil
}

// Models returns all registered models ordered by provider then ID.
func (r *Registry) Models() []ModelSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelSpec, 0, len(r.models))
	for _, e := range r.models {
		out = append(out, e.Spec)
	}
	slices.SortFunc(out, func(a, b ModelSpec) int {
		if c := strings.Compare(a.Provider, b.Provider); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// DefaultFor returns the default model of the first registered provider that
// supports kind, preferring the given provider when set.
func (r *Registry) DefaultFor(kind Kind, preferred string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []Entry
	for _, e := range r.models {
		if e.Spec.Default && e.Spec.Supports(kind) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return Entry{}, fmt.Errorf("%w: no model for %s", ErrUnknownModel, kind)
	}
	slices.SortFunc(candidates, func(a, b Entry) int {
		return strings.Compare(a.Spec.ID, b.Spec.ID)
	})
	for _, e := range candidates {
		if e.Spec.Provider == preferred {
			return e, nil
		}
	}
	return candidates[0], nil
}
