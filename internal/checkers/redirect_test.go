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

func TestRedirectTakesLastPathSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://downloads.example.com/tool/9.2.0")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	c := NewRedirect(newTestClient())
	info, err := c.Check(context.Background(), "tool", check.SourceSpec{
		Kind: "redirect",
		URL:  srv.URL + "/latest",
	})
	require.NoError(t, err)
	assert.Equal(t, "9.2.0", info.Version)
	assert.Equal(t, "https://downloads.example.com/tool/9.2.0", info.Metadata["location"])
}

func TestRedirectAppliesPatternToLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/downloads/tool-v4.7.2-x86_64.tar.gz")
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer srv.Close()

	c := NewRedirect(newTestClient())
	info, err := c.Check(context.Background(), "tool", check.SourceSpec{
		Kind:           "redirect",
		URL:            srv.URL + "/latest",
		VersionPattern: `tool-v([0-9.]+)`,
	})
	require.NoError(t, err)
	assert.Equal(t, "4.7.2", info.Version)
}

func TestRedirectWithoutRedirectIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewRedirect(newTestClient())
	_, err := c.Check(context.Background(), "tool", check.SourceSpec{
		Kind: "redirect",
		URL:  srv.URL + "/latest",
	})
	requireKind(t, err, check.KindParse)
}
