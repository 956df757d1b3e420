package checkers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/transport"
)

func newTestClient() *transport.Client {
	return transport.New(transport.Config{})
}

func requireKind(t *testing.T, err error, kind check.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, check.Classify(err))
}

func TestGitHubLatestRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/BurntSushi/ripgrep/releases/latest", r.URL.Path)
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, "token secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"tag_name": "14.1.1",
			"name": "14.1.1",
			"html_url": "https://github.com/BurntSushi/ripgrep/releases/tag/14.1.1",
			"published_at": "2024-09-08T12:00:00Z"
		}`))
	}))
	defer srv.Close()

	g := NewGitHub(newTestClient())
	g.base = srv.URL

	info, err := g.Check(context.Background(), "ripgrep", check.SourceSpec{
		Kind:    "github",
		URL:     "https://github.com/BurntSushi/ripgrep",
		Headers: map[string]string{"Authorization": "token secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, "14.1.1", info.Version)
	assert.Equal(t, "14.1.1", info.Normalized)
	assert.False(t, info.ReleasedAt.IsZero())
	assert.Equal(t, "14.1.1", info.Metadata["tag"])
}

func TestGitHubFallsBackToTags(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/notags/releases/latest", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.HandleFunc("/repos/owner/notags/tags", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"name": "v2.0.0"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGitHub(newTestClient())
	g.base = srv.URL

	info, err := g.Check(context.Background(), "notags", check.SourceSpec{
		Kind: "github",
		URL:  "owner/notags",
	})
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", info.Version)
	assert.Equal(t, "2.0.0", info.Normalized)
}

func TestGitHubMissingRepoIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGitHub(newTestClient())
	g.base = srv.URL

	_, err := g.Check(context.Background(), "ghost", check.SourceSpec{
		Kind: "github",
		URL:  "owner/ghost",
	})
	requireKind(t, err, check.KindNotFound)
}

func TestGitHubRequiresRepoPath(t *testing.T) {
	g := NewGitHub(newTestClient())
	_, err := g.Check(context.Background(), "pkg", check.SourceSpec{Kind: "github", URL: ""})
	requireKind(t, err, check.KindConfiguration)
}
