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

func TestJSONAPIWalksDottedPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"release": {"channels": [{"name": "stable", "version": "v3.10.2"}]}
		}`))
	}))
	defer srv.Close()

	j := NewJSONAPI(newTestClient())
	info, err := j.Check(context.Background(), "tool", check.SourceSpec{
		Kind:       "json",
		URL:        srv.URL,
		VersionKey: "release.channels.0.version",
	})
	require.NoError(t, err)
	assert.Equal(t, "v3.10.2", info.Version)
	assert.Equal(t, "3.10.2", info.Normalized)
}

func TestJSONAPIAppliesPattern(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"latest": "release-7.4.1-linux"}`))
	}))
	defer srv.Close()

	j := NewJSONAPI(newTestClient())
	info, err := j.Check(context.Background(), "tool", check.SourceSpec{
		Kind:           "json",
		URL:            srv.URL,
		VersionKey:     "latest",
		VersionPattern: `release-([0-9.]+)`,
	})
	require.NoError(t, err)
	assert.Equal(t, "7.4.1", info.Version)
}

func TestJSONAPINumericLeaf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"build": 20240901}`))
	}))
	defer srv.Close()

	j := NewJSONAPI(newTestClient())
	info, err := j.Check(context.Background(), "tool", check.SourceSpec{
		Kind:       "json",
		URL:        srv.URL,
		VersionKey: "build",
	})
	require.NoError(t, err)
	assert.Equal(t, "20240901", info.Version)
}

func TestJSONAPIPathErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"release": {"version": "1.0.0"}}`))
	}))
	defer srv.Close()

	j := NewJSONAPI(newTestClient())
	tests := []struct {
		name string
		key  string
		kind check.ErrorKind
	}{
		{name: "missing key", key: "release.missing", kind: check.KindParse},
		{name: "descends into scalar", key: "release.version.deeper", kind: check.KindParse},
		{name: "non-scalar leaf", key: "release", kind: check.KindParse},
		{name: "no key configured", key: "", kind: check.KindConfiguration},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := j.Check(context.Background(), "tool", check.SourceSpec{
				Kind:       "json",
				URL:        srv.URL,
				VersionKey: tc.key,
			})
			requireKind(t, err, tc.kind)
		})
	}
}

func TestJSONAPIMalformedBodyIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"release": `))
	}))
	defer srv.Close()

	j := NewJSONAPI(newTestClient())
	_, err := j.Check(context.Background(), "tool", check.SourceSpec{
		Kind:       "json",
		URL:        srv.URL,
		VersionKey: "release",
	})
	requireKind(t, err, check.KindParse)
}
