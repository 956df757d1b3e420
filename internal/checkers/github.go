package checkers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verwatch/verwatch/internal/check"
)

const githubAPIBase = "https://api.github.com"

// GitHub resolves the latest release of a GitHub repository, falling back
// to the newest tag for projects that never publish releases.
type GitHub struct {
	client Doer
	base   string
}

// NewGitHub constructs the checker against the public GitHub API.
func NewGitHub(client Doer) *GitHub {
	return &GitHub{client: client, base: githubAPIBase}
}

type githubRelease struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	TarballURL  string    `json:"tarball_url"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
}

type githubTag struct {
	Name string `json:"name"`
}

// Check queries releases/latest, then tags when no release exists.
func (g *GitHub) Check(ctx context.Context, _ string, spec check.SourceSpec) (check.VersionInfo, error) {
	const op = "checkers.github"
	repo, err := repoPath(op, spec.URL)
	if err != nil {
		return check.VersionInfo{}, err
	}
	headers := withAcceptGitHub(spec.Headers)

	var release githubRelease
	err = getJSON(ctx, g.client, op, fmt.Sprintf("%s/repos/%s/releases/latest", g.base, repo), headers, &release)
	if err == nil {
		raw := release.TagName
		if raw == "" {
			raw = release.Name
		}
		raw, err = extractVersion(op, raw, spec.VersionPattern)
		if err != nil {
			return check.VersionInfo{}, err
		}
		return buildInfo(raw, release.PublishedAt, map[string]string{
			"tag":         release.TagName,
			"release_url": release.HTMLURL,
			"artifact":    release.TarballURL,
		}), nil
	}

	var cerr *check.Error
	if !errors.As(err, &cerr) || cerr.Kind != check.KindNotFound {
		return check.VersionInfo{}, err
	}

	// No published release; the newest tag is the best signal available.
	var tags []githubTag
	if err := getJSON(ctx, g.client, op, fmt.Sprintf("%s/repos/%s/tags?per_page=1", g.base, repo), headers, &tags); err != nil {
		return check.VersionInfo{}, err
	}
	if len(tags) == 0 || tags[0].Name == "" {
		return check.VersionInfo{}, check.NewError(check.KindNotFound, op,
			fmt.Sprintf("repository %s has no releases or tags", repo))
	}
	raw, err := extractVersion(op, tags[0].Name, spec.VersionPattern)
	if err != nil {
		return check.VersionInfo{}, err
	}
	return buildInfo(raw, time.Time{}, map[string]string{"tag": tags[0].Name}), nil
}

func withAcceptGitHub(headers map[string]string) map[string]string {
	out := map[string]string{"Accept": "application/vnd.github+json"}
	for k, v := range headers {
		out[k] = v
	}
	return out
}
