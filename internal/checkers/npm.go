package checkers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/verwatch/verwatch/internal/check"
)

const npmRegistryBase = "https://registry.npmjs.org"

// NPM resolves the latest dist-tag of an npm package, scoped names included.
type NPM struct {
	client Doer
	base   string
}

// NewNPM constructs the checker against the public registry.
func NewNPM(client Doer) *NPM {
	return &NPM{client: client, base: npmRegistryBase}
}

type npmPackument struct {
	DistTags map[string]string    `json:"dist-tags"`
	Time     map[string]time.Time `json:"time"`
}

// Check fetches the packument and reads dist-tags.latest.
func (n *NPM) Check(ctx context.Context, _ string, spec check.SourceSpec) (check.VersionInfo, error) {
	const op = "checkers.npm"
	name, err := npmName(op, spec.URL)
	if err != nil {
		return check.VersionInfo{}, err
	}

	var pack npmPackument
	endpoint := fmt.Sprintf("%s/%s", n.base, strings.ReplaceAll(url.PathEscape(name), "%2F", "%2f"))
	if err := getJSON(ctx, n.client, op, endpoint, spec.Headers, &pack); err != nil {
		return check.VersionInfo{}, err
	}
	latest := pack.DistTags["latest"]
	if latest == "" {
		return check.VersionInfo{}, check.NewError(check.KindParse, op,
			fmt.Sprintf("package %s carries no latest dist-tag", name))
	}
	raw, err := extractVersion(op, latest, spec.VersionPattern)
	if err != nil {
		return check.VersionInfo{}, err
	}
	return buildInfo(raw, pack.Time[latest], map[string]string{"package": name}), nil
}

// npmName accepts a bare package name (scoped or not) or a registry /
// npmjs.com URL and returns the registry name.
func npmName(op, rawURL string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(rawURL), "/")
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
	p = strings.TrimPrefix(p, "package/")
	if p == "" {
		return "", check.NewError(check.KindConfiguration, op,
			fmt.Sprintf("source url %q carries no package name", rawURL))
	}
	return p, nil
}
