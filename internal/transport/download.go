package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/metrics"
)

const downloadChunkBytes = 64 * 1024

// ProgressFunc receives the bytes written so far and the total expected
// size (-1 when the source sends no Content-Length).
type ProgressFunc func(written, total int64)

// Download streams the response body for rawURL into w, reporting progress
// per chunk. Cancellation is cooperative: the context is checked between
// chunks so a stalled transfer aborts without leaking the connection.
// The usual in-flight gate and per-host limits apply.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer, progress ProgressFunc) (int64, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return 0, check.NewError(check.KindConfiguration, "transport.download", fmt.Sprintf("invalid url %q", rawURL))
	}

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("in-flight slot wait: %w", err)
	}
	defer c.gate.Release(1)

	if err := c.limiter.Wait(ctx, target.Hostname()); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.follow.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, fmt.Errorf("download canceled: %w", err)
		}
		return 0, check.WrapError(check.Classify(err), "transport.download", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, classifyStatus(Response{StatusCode: resp.StatusCode, Header: resp.Header}, false, target.Hostname())
	}

	total := int64(-1)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if parsed, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
			total = parsed
		}
	}

	var written int64
	buf := make([]byte, downloadChunkBytes)
	for {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("download canceled: %w", err)
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("write chunk: %w", werr)
			}
			written += int64(n)
			metrics.ObserveDownloadBytes(target.Hostname(), int64(n))
			if progress != nil {
				progress(written, total)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, check.WrapError(check.Classify(rerr), "transport.download", rerr)
		}
	}
}
