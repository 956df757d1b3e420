// Package memory provides an in-memory repository for tests and single-node
// development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/repository"
)

// Repository keeps packages and results in process memory. Safe for
// concurrent use; contents are lost on restart.
type Repository struct {
	mu       sync.RWMutex
	packages map[string]check.Package
	results  map[string][]check.Result
}

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		packages: make(map[string]check.Package),
		results:  make(map[string][]check.Result),
	}
}

// UpsertPackage inserts or replaces a tracked package.
func (r *Repository) UpsertPackage(_ context.Context, pkg check.Package) error {
	if pkg.ID == "" {
		return fmt.Errorf("package id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages[pkg.ID] = pkg
	return nil
}

// LoadPendingPackages returns every tracked package in stable ID order.
func (r *Repository) LoadPendingPackages(context.Context) ([]check.Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]check.Package, 0, len(r.packages))
	for _, pkg := range r.packages {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetPackage loads one package or returns repository.ErrNotFound.
func (r *Repository) GetPackage(_ context.Context, id string) (check.Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pkg, ok := r.packages[id]
	if !ok {
		return check.Package{}, fmt.Errorf("package %q: %w", id, repository.ErrNotFound)
	}
	return pkg, nil
}

// SaveResult appends a result to the package's history.
func (r *Repository) SaveResult(_ context.Context, result check.Result) error {
	if result.PackageID == "" {
		return fmt.Errorf("result package id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.PackageID] = append(r.results[result.PackageID], result)
	return nil
}

// ListResults returns the package's history, newest first.
func (r *Repository) ListResults(_ context.Context, packageID string) ([]check.Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.results[packageID]
	out := make([]check.Result, len(history))
	copy(out, history)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FetchedAt.After(out[j].FetchedAt) })
	return out, nil
}
