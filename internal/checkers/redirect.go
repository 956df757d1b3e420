package checkers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/transport"
)

// Redirect resolves a version from a "latest" URL that answers with a
// redirect to a versioned location, a pattern several projects use for
// their stable download links.
type Redirect struct {
	client Doer
}

// NewRedirect constructs the checker.
func NewRedirect(client Doer) *Redirect {
	return &Redirect{client: client}
}

// Check issues the request without following redirects and reads the
// version out of the Location target. Without a version_pattern the final
// path segment of the target is taken verbatim.
func (r *Redirect) Check(ctx context.Context, _ string, spec check.SourceSpec) (check.VersionInfo, error) {
	const op = "checkers.redirect"
	header := make(http.Header)
	for k, v := range spec.Headers {
		header.Set(k, v)
	}
	resp, err := r.client.Do(ctx, transport.Request{
		Method:           http.MethodGet,
		URL:              spec.URL,
		Header:           header,
		DisableRedirects: true,
	})
	if err != nil {
		return check.VersionInfo{}, err
	}
	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return check.VersionInfo{}, check.NewError(check.KindParse, op,
			fmt.Sprintf("%s answered %d instead of a redirect", spec.URL, resp.StatusCode))
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return check.VersionInfo{}, check.NewError(check.KindParse, op,
			fmt.Sprintf("%s redirected without a Location header", spec.URL))
	}

	raw := location
	if spec.VersionPattern == "" {
		segments := strings.Split(strings.Trim(location, "/"), "/")
		raw = segments[len(segments)-1]
	}
	raw, err = extractVersion(op, raw, spec.VersionPattern)
	if err != nil {
		return check.VersionInfo{}, err
	}
	return buildInfo(raw, time.Time{}, map[string]string{"location": location}), nil
}
