package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HostFunction defines the signature for a Go function callable from scripts.
// It receives the script's positional arguments converted to Go values
// (string, float64, bool or nil) and returns a single result or an error.
type HostFunction func(ctx context.Context, args []any) (any, error)

// Registry manages the host functions exposed to scripts.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]HostFunction
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]HostFunction),
	}
}

// Register adds a function to the registry.
// If a function with the same name exists, it is overwritten.
func (r *Registry) Register(name string, fn HostFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call looks up a function by name and executes it.
// Returns an error if the function is not found.
func (r *Registry) Call(ctx context.Context, name string, args []any) (any, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("host function not found: %s", name)
	}

	return fn(ctx, args)
}
