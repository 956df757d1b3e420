// Package artifact mirrors upstream release artifacts into a blob store.
package artifact

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/verwatch/verwatch/internal/storage"
	"github.com/verwatch/verwatch/internal/transport"
)

// Downloader streams a URL's body to a writer with progress callbacks.
// *transport.Client satisfies it.
type Downloader interface {
	Download(ctx context.Context, rawURL string, w io.Writer, progress transport.ProgressFunc) (int64, error)
}

// Mirror copies release artifacts into a BlobStore so a version bump can be
// inspected or rebuilt even after the upstream asset disappears.
type Mirror struct {
	client Downloader
	store  storage.BlobStore
	logger *zap.Logger
}

// New constructs a Mirror.
func New(client Downloader, store storage.BlobStore, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{client: client, store: store, logger: logger}
}

// Fetch downloads rawURL and stores it under packageID/version/<filename>,
// returning the blob URI and the byte count. The body streams straight into
// the store; nothing is buffered in full. Cancelling ctx aborts both sides.
func (m *Mirror) Fetch(ctx context.Context, packageID, version, rawURL string, progress transport.ProgressFunc) (string, int64, error) {
	if packageID == "" || version == "" {
		return "", 0, fmt.Errorf("package id and version are required")
	}
	name, contentType, err := objectName(rawURL)
	if err != nil {
		return "", 0, err
	}
	objectPath := path.Join(packageID, version, name)

	pr, pw := io.Pipe()
	type outcome struct {
		written int64
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		n, err := m.client.Download(ctx, rawURL, pw, progress)
		pw.CloseWithError(err)
		done <- outcome{written: n, err: err}
	}()

	uri, putErr := m.store.PutObject(ctx, objectPath, contentType, pr)
	pr.CloseWithError(putErr)
	out := <-done

	if out.err != nil {
		return "", 0, fmt.Errorf("download artifact %s: %w", rawURL, out.err)
	}
	if putErr != nil {
		return "", 0, fmt.Errorf("store artifact %s: %w", objectPath, putErr)
	}
	m.logger.Info("artifact mirrored",
		zap.String("package", packageID),
		zap.String("version", version),
		zap.String("uri", uri),
		zap.Int64("bytes", out.written),
	)
	return uri, out.written, nil
}

// objectName derives the stored filename and content type from the URL path.
func objectName(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse artifact url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "artifact"
	}
	contentType := mime.TypeByExtension(strings.ToLower(path.Ext(name)))
	return name, contentType, nil
}
