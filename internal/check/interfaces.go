package check

import (
	"context"
	"time"
)

// Checker determines the latest upstream version for one source kind.
// Implementations must raise a classifiable error on any failure to
// determine a version, never a zero VersionInfo, and must honor ctx
// cancellation through every network call.
type Checker interface {
	Check(ctx context.Context, packageID string, spec SourceSpec) (VersionInfo, error)
}

// Repository persists tracked packages and check results.
type Repository interface {
	UpsertPackage(ctx context.Context, pkg Package) error
	LoadPendingPackages(ctx context.Context) ([]Package, error)
	GetPackage(ctx context.Context, id string) (Package, error)
	SaveResult(ctx context.Context, result Result) error
	ListResults(ctx context.Context, packageID string) ([]Result, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
