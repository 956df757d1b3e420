// Package storage defines the blob store contract for mirrored artifacts.
// Implementations live in subpackages and must not leak provider types.
package storage

import (
	"context"
	"io"
)

// BlobStore persists one artifact under a path and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
