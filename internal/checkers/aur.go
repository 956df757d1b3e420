package checkers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/verwatch/verwatch/internal/check"
)

const aurAPIBase = "https://aur.archlinux.org"

// AUR resolves the packaged version of an Arch User Repository package via
// the RPC v5 interface. The reported version carries a pkgrel suffix that
// normalization strips for comparison.
type AUR struct {
	client Doer
	base   string
}

// NewAUR constructs the checker against the public AUR.
func NewAUR(client Doer) *AUR {
	return &AUR{client: client, base: aurAPIBase}
}

type aurInfo struct {
	ResultCount int `json:"resultcount"`
	Results     []struct {
		Name         string `json:"Name"`
		Version      string `json:"Version"`
		URL          string `json:"URL"`
		LastModified int64  `json:"LastModified"`
	} `json:"results"`
}

// Check queries the RPC info endpoint for the package. An empty result set
// is a NotFound, matching how the AUR reports unknown names with HTTP 200.
func (a *AUR) Check(ctx context.Context, packageID string, spec check.SourceSpec) (check.VersionInfo, error) {
	const op = "checkers.aur"
	name := packageID
	if spec.URL != "" {
		derived, err := lastSegment(op, spec.URL)
		if err != nil {
			return check.VersionInfo{}, err
		}
		name = derived
	}
	endpoint := fmt.Sprintf("%s/rpc/v5/info?arg[]=%s", a.base, url.QueryEscape(name))

	var info aurInfo
	if err := getJSON(ctx, a.client, op, endpoint, spec.Headers, &info); err != nil {
		return check.VersionInfo{}, err
	}
	if info.ResultCount == 0 || len(info.Results) == 0 {
		return check.VersionInfo{}, check.NewError(check.KindNotFound, op,
			fmt.Sprintf("package %s is not in the AUR", name))
	}
	result := info.Results[0]
	raw, err := extractVersion(op, result.Version, spec.VersionPattern)
	if err != nil {
		return check.VersionInfo{}, err
	}
	var modified time.Time
	if result.LastModified > 0 {
		modified = time.Unix(result.LastModified, 0).UTC()
	}
	return buildInfo(raw, modified, map[string]string{
		"package":      result.Name,
		"upstream_url": result.URL,
	}), nil
}
