package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an Evaluator from per-agent parameters.
type Factory func(p Params) (Evaluator, error)

// Registry manages named evaluator factories. It is safe for concurrent use
// and is constructed by the composition root, never as a global.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// NewDefaultRegistry returns a Registry holding the built-in evaluators.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ArbEvaluatorName, NewArbEvaluator)
	return r
}

// Register adds a factory under name, replacing any existing one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs the evaluator registered under name.
func (r *Registry) Build(name string, p Params) (Evaluator, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	ev, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: build: %w", name, err)
	}
	return ev, nil
}

// List returns the names of all registered evaluators in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
