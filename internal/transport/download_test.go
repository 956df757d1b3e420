package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/verwatch/verwatch/internal/check"
)

func TestDownloadStreamsWithProgress(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("x", 200*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	client := New(Config{})
	var buf bytes.Buffer
	var calls int
	var lastTotal int64
	n, err := client.Download(context.Background(), srv.URL, &buf, func(written, total int64) {
		calls++
		lastTotal = total
		require.LessOrEqual(t, written, int64(len(payload)))
	})
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	require.Equal(t, payload, buf.String())
	require.Greater(t, calls, 1)
	require.Equal(t, int64(len(payload)), lastTotal)
}

func TestDownloadCancellationBetweenChunks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		chunk := strings.Repeat("y", 64*1024)
		for i := 0; i < 100; i++ {
			if _, err := w.Write([]byte(chunk)); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(10 * time.Millisecond)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(Config{})

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := client.Download(ctx, srv.URL, &buf, func(written, _ int64) {
			if written > 64*1024 {
				cancel()
			}
		})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not observe cancellation")
	}
}

func TestDownloadNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := New(Config{})
	var buf bytes.Buffer
	_, err := client.Download(context.Background(), srv.URL, &buf, nil)
	require.Equal(t, check.KindNotFound, check.Classify(err))
}
