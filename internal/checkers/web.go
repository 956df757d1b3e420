package checkers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/transport"
)

// Web scrapes a project page for its version. The spec's version_key is an
// optional CSS selector narrowing extraction to one element; version_pattern
// then pulls the version out of the selected text (or the whole page when no
// selector is given). The collector shares the transport's connection pool.
type Web struct {
	client  *transport.Client
	timeout time.Duration
}

// NewWeb constructs the checker on top of the shared transport.
func NewWeb(client *transport.Client, timeout time.Duration) *Web {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Web{client: client, timeout: timeout}
}

// Check visits the page and extracts the version.
func (w *Web) Check(ctx context.Context, _ string, spec check.SourceSpec) (check.VersionInfo, error) {
	const op = "checkers.web"
	if spec.VersionKey == "" && spec.VersionPattern == "" {
		return check.VersionInfo{}, check.NewError(check.KindConfiguration, op,
			"web sources need a version_key selector or a version_pattern")
	}

	collector := colly.NewCollector(colly.StdlibContext(ctx))
	collector.UserAgent = w.client.UserAgent()
	collector.WithTransport(w.client.RoundTripper())
	collector.SetRequestTimeout(w.timeout)

	var (
		body       string
		selected   string
		statusCode int
		visitErr   error
	)
	collector.OnRequest(func(r *colly.Request) {
		for k, v := range spec.Headers {
			r.Headers.Set(k, v)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	if spec.VersionKey != "" {
		collector.OnHTML(spec.VersionKey, func(e *colly.HTMLElement) {
			if selected == "" {
				selected = strings.TrimSpace(e.Text)
			}
		})
	}
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		visitErr = err
	})

	if err := collector.Visit(spec.URL); err != nil && visitErr == nil {
		visitErr = err
	}
	if visitErr != nil {
		if ctx.Err() != nil {
			return check.VersionInfo{}, fmt.Errorf("visit %s: %w", spec.URL, ctx.Err())
		}
		if statusCode > 0 {
			return check.VersionInfo{}, check.WrapError(statusKind(statusCode), op,
				fmt.Errorf("visit %s: status %d: %w", spec.URL, statusCode, visitErr))
		}
		return check.VersionInfo{}, check.WrapError(check.Classify(visitErr), op,
			fmt.Errorf("visit %s: %w", spec.URL, visitErr))
	}

	haystack := body
	if spec.VersionKey != "" {
		if selected == "" {
			return check.VersionInfo{}, check.NewError(check.KindParse, op,
				fmt.Sprintf("selector %q matched nothing on %s", spec.VersionKey, spec.URL))
		}
		haystack = selected
	}
	raw, err := extractVersion(op, haystack, spec.VersionPattern)
	if err != nil {
		return check.VersionInfo{}, err
	}
	return buildInfo(raw, time.Time{}, map[string]string{"page": spec.URL}), nil
}

// statusKind maps a scraped status code onto the error taxonomy.
func statusKind(code int) check.ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return check.KindUnauthorized
	case code == http.StatusNotFound || code == http.StatusGone:
		return check.KindNotFound
	case code == http.StatusTooManyRequests:
		return check.KindRateLimited
	case code >= 500:
		return check.KindNetwork
	default:
		return check.KindUnknown
	}
}
