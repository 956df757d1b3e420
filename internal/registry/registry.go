// Package registry maps source-kind identifiers to checker implementations.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/verwatch/verwatch/internal/check"
)

// Registry resolves a source kind to its checker. Registration happens once
// at startup; resolution is read-only afterward.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]check.Checker
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{checkers: make(map[string]check.Checker)}
}

// Register binds a checker to a source kind. Re-registering a kind is a
// programming error and panics, matching the once-at-startup contract.
func (r *Registry) Register(kind string, checker check.Checker) {
	if kind == "" || checker == nil {
		panic("registry: kind and checker are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checkers[kind]; exists {
		panic(fmt.Sprintf("registry: duplicate checker for kind %q", kind))
	}
	r.checkers[kind] = checker
}

// Resolve returns the checker for kind. An unknown kind is a configuration
// error surfaced immediately, never retried.
func (r *Registry) Resolve(kind string) (check.Checker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	checker, ok := r.checkers[kind]
	if !ok {
		return nil, check.NewError(check.KindConfiguration, "registry.resolve",
			fmt.Sprintf("no checker registered for source kind %q", kind))
	}
	return checker, nil
}

// Kinds lists the registered source kinds in stable order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.checkers))
	for kind := range r.checkers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
