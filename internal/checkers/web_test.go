package checkers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verwatch/verwatch/internal/check"
)

func TestWebSelectorExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<h1>Download</h1>
			<span class="version">Version 6.1.3 (stable)</span>
		</body></html>`))
	}))
	defer srv.Close()

	w := NewWeb(newTestClient(), 0)
	info, err := w.Check(context.Background(), "tool", check.SourceSpec{
		Kind:           "web",
		URL:            srv.URL,
		VersionKey:     "span.version",
		VersionPattern: `Version ([0-9.]+)`,
	})
	require.NoError(t, err)
	assert.Equal(t, "6.1.3", info.Version)
}

func TestWebWholePagePattern(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>Latest release: tool-2.8.4.tar.gz</body></html>`))
	}))
	defer srv.Close()

	w := NewWeb(newTestClient(), 0)
	info, err := w.Check(context.Background(), "tool", check.SourceSpec{
		Kind:           "web",
		URL:            srv.URL,
		VersionPattern: `tool-([0-9.]+)\.tar\.gz`,
	})
	require.NoError(t, err)
	assert.Equal(t, "2.8.4", info.Version)
}

func TestWebSelectorMissesIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>nothing here</body></html>`))
	}))
	defer srv.Close()

	w := NewWeb(newTestClient(), 0)
	_, err := w.Check(context.Background(), "tool", check.SourceSpec{
		Kind:       "web",
		URL:        srv.URL,
		VersionKey: "span.version",
	})
	requireKind(t, err, check.KindParse)
}

func TestWebNotFoundStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	w := NewWeb(newTestClient(), 0)
	_, err := w.Check(context.Background(), "tool", check.SourceSpec{
		Kind:           "web",
		URL:            srv.URL,
		VersionPattern: `([0-9.]+)`,
	})
	requireKind(t, err, check.KindNotFound)
}

func TestWebRequiresExtractionConfig(t *testing.T) {
	w := NewWeb(newTestClient(), 0)
	_, err := w.Check(context.Background(), "tool", check.SourceSpec{
		Kind: "web",
		URL:  "https://example.com",
	})
	requireKind(t, err, check.KindConfiguration)
}
