// Package checkers implements the per-source-kind version checkers. Each
// checker resolves one upstream ecosystem and raises classified errors so
// the scheduler can decide retry behavior.
package checkers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/transport"
	"github.com/verwatch/verwatch/internal/version"
)

// Doer executes one outbound request. *transport.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

// getJSON fetches rawURL and decodes the body into out. Extra headers from
// the source spec are applied on top of the JSON accept header.
func getJSON(ctx context.Context, client Doer, op, rawURL string, headers map[string]string, out any) error {
	header := make(http.Header)
	header.Set("Accept", "application/json")
	for k, v := range headers {
		header.Set(k, v)
	}
	resp, err := client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    rawURL,
		Header: header,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return check.WrapError(check.KindParse, op, fmt.Errorf("decode %s: %w", rawURL, err))
	}
	return nil
}

// extractVersion applies the spec's optional version_pattern. The first
// capture group wins; with no groups the whole match is used.
func extractVersion(op, raw, pattern string) (string, error) {
	if pattern == "" {
		return raw, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", check.WrapError(check.KindConfiguration, op,
			fmt.Errorf("invalid version_pattern %q: %w", pattern, err))
	}
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return "", check.NewError(check.KindParse, op,
			fmt.Sprintf("version pattern %q matched nothing", pattern))
	}
	if len(m) > 1 {
		return m[1], nil
	}
	return m[0], nil
}

// buildInfo assembles a VersionInfo with the normalized form filled in.
func buildInfo(raw string, releasedAt time.Time, metadata map[string]string) check.VersionInfo {
	return check.VersionInfo{
		Version:    raw,
		Normalized: version.Normalize(raw),
		ReleasedAt: releasedAt,
		Metadata:   metadata,
	}
}

// repoPath extracts "owner/name" from a spec URL that is either already in
// that form or a full forge URL like https://github.com/owner/name.
func repoPath(op, rawURL string) (string, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(rawURL), "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	if trimmed == "" {
		return "", check.NewError(check.KindConfiguration, op, "source url is required")
	}
	if !strings.Contains(trimmed, "://") {
		return trimmed, nil
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", check.WrapError(check.KindConfiguration, op, fmt.Errorf("parse source url: %w", err))
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return "", check.NewError(check.KindConfiguration, op,
			fmt.Sprintf("source url %q carries no repository path", rawURL))
	}
	return p, nil
}

// lastSegment names a project from a spec URL that is either a bare name or
// a full registry URL; the final path segment is the name.
func lastSegment(op, rawURL string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(rawURL), "/")
	if trimmed == "" {
		return "", check.NewError(check.KindConfiguration, op, "source url is required")
	}
	if !strings.Contains(trimmed, "://") && !strings.Contains(trimmed, "/") {
		return trimmed, nil
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", check.WrapError(check.KindConfiguration, op, fmt.Errorf("parse source url: %w", err))
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	name := segments[len(segments)-1]
	if name == "" {
		return "", check.NewError(check.KindConfiguration, op,
			fmt.Sprintf("source url %q carries no project name", rawURL))
	}
	return name, nil
}
