// Package postgres provides a Postgres-backed repository implementation.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/repository"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Repository persists packages and results in Postgres. The tables are
// provisioned externally; this package only issues plain SQL.
type Repository struct {
	pool dbPool
}

// New connects a pool using the provided config.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// NewWithPool constructs a Repository from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Repository{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

const upsertPackageSQL = `
INSERT INTO packages (
	id, local_version, source_kind, source_url,
	version_key, version_pattern, headers, priority
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
	local_version = EXCLUDED.local_version,
	source_kind = EXCLUDED.source_kind,
	source_url = EXCLUDED.source_url,
	version_key = EXCLUDED.version_key,
	version_pattern = EXCLUDED.version_pattern,
	headers = EXCLUDED.headers,
	priority = EXCLUDED.priority`

// UpsertPackage inserts or replaces a tracked package.
func (r *Repository) UpsertPackage(ctx context.Context, pkg check.Package) error {
	if pkg.ID == "" {
		return fmt.Errorf("package id is required")
	}
	headers, err := json.Marshal(nonNilHeaders(pkg.Source.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	_, err = r.pool.Exec(ctx, upsertPackageSQL,
		pkg.ID,
		pkg.LocalVersion,
		pkg.Source.Kind,
		pkg.Source.URL,
		pkg.Source.VersionKey,
		pkg.Source.VersionPattern,
		headers,
		int(pkg.Priority),
	)
	if err != nil {
		return fmt.Errorf("upsert package %q: %w", pkg.ID, err)
	}
	return nil
}

const selectPackageSQL = `
SELECT id, local_version, source_kind, source_url,
	version_key, version_pattern, headers, priority
FROM packages`

// LoadPendingPackages returns every tracked package in stable ID order.
func (r *Repository) LoadPendingPackages(ctx context.Context) ([]check.Package, error) {
	rows, err := r.pool.Query(ctx, selectPackageSQL+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}
	defer rows.Close()

	var out []check.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}
	return out, nil
}

// GetPackage loads one package or returns repository.ErrNotFound.
func (r *Repository) GetPackage(ctx context.Context, id string) (check.Package, error) {
	rows, err := r.pool.Query(ctx, selectPackageSQL+" WHERE id = $1", id)
	if err != nil {
		return check.Package{}, fmt.Errorf("get package %q: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return check.Package{}, fmt.Errorf("get package %q: %w", id, err)
		}
		return check.Package{}, fmt.Errorf("package %q: %w", id, repository.ErrNotFound)
	}
	return scanPackage(rows)
}

func scanPackage(rows pgx.Rows) (check.Package, error) {
	var (
		pkg      check.Package
		headers  []byte
		priority int
	)
	if err := rows.Scan(
		&pkg.ID,
		&pkg.LocalVersion,
		&pkg.Source.Kind,
		&pkg.Source.URL,
		&pkg.Source.VersionKey,
		&pkg.Source.VersionPattern,
		&headers,
		&priority,
	); err != nil {
		return check.Package{}, fmt.Errorf("scan package: %w", err)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &pkg.Source.Headers); err != nil {
			return check.Package{}, fmt.Errorf("decode headers for %q: %w", pkg.ID, err)
		}
	}
	pkg.Priority = check.Priority(priority)
	return pkg, nil
}

const insertResultSQL = `
INSERT INTO results (
	package_id, source_kind, success, version, normalized,
	released_at, metadata, error_kind, message, attempts, fetched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

// SaveResult appends a result row.
func (r *Repository) SaveResult(ctx context.Context, result check.Result) error {
	if result.PackageID == "" {
		return fmt.Errorf("result package id is required")
	}
	metadata, err := json.Marshal(nonNilHeaders(result.Version.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var releasedAt *time.Time
	if !result.Version.ReleasedAt.IsZero() {
		releasedAt = &result.Version.ReleasedAt
	}
	_, err = r.pool.Exec(ctx, insertResultSQL,
		result.PackageID,
		result.SourceKind,
		result.Success,
		result.Version.Version,
		result.Version.Normalized,
		releasedAt,
		metadata,
		string(result.ErrKind),
		result.Message,
		result.Attempts,
		result.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result %s: %w", result.Key(), err)
	}
	return nil
}

const selectResultsSQL = `
SELECT package_id, source_kind, success, version, normalized,
	released_at, metadata, error_kind, message, attempts, fetched_at
FROM results
WHERE package_id = $1
ORDER BY fetched_at DESC
LIMIT 100`

// ListResults returns the package's history, newest first.
func (r *Repository) ListResults(ctx context.Context, packageID string) ([]check.Result, error) {
	rows, err := r.pool.Query(ctx, selectResultsSQL, packageID)
	if err != nil {
		return nil, fmt.Errorf("list results for %q: %w", packageID, err)
	}
	defer rows.Close()

	var out []check.Result
	for rows.Next() {
		var (
			result     check.Result
			releasedAt *time.Time
			metadata   []byte
			errKind    string
		)
		if err := rows.Scan(
			&result.PackageID,
			&result.SourceKind,
			&result.Success,
			&result.Version.Version,
			&result.Version.Normalized,
			&releasedAt,
			&metadata,
			&errKind,
			&result.Message,
			&result.Attempts,
			&result.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if releasedAt != nil {
			result.Version.ReleasedAt = *releasedAt
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &result.Version.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		result.ErrKind = check.ErrorKind(errKind)
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results for %q: %w", packageID, err)
	}
	return out, nil
}

func nonNilHeaders(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
