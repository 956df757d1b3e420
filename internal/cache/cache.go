// Package cache provides TTL caching of idempotent upstream responses so
// bursts of checks against the same endpoint do not hammer the source.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// Entry is a cached response snapshot.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// ResponseCache stores GET/HEAD responses keyed by request identity.
type ResponseCache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Purge(ctx context.Context) error
}

// Key derives a stable cache key from the request identity.
func Key(method, url string) string {
	sum := sha256.Sum256([]byte(method + " " + url))
	return "verwatch:resp:" + hex.EncodeToString(sum[:16])
}
