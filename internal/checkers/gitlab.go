package checkers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/verwatch/verwatch/internal/check"
)

// GitLab resolves the latest release of a project on gitlab.com or a
// self-hosted GitLab instance; the instance is taken from the spec URL.
type GitLab struct {
	client Doer
}

// NewGitLab constructs the checker.
func NewGitLab(client Doer) *GitLab {
	return &GitLab{client: client}
}

type gitlabRelease struct {
	TagName    string    `json:"tag_name"`
	Name       string    `json:"name"`
	ReleasedAt time.Time `json:"released_at"`
}

// Check queries the instance's releases API and takes the newest entry.
func (g *GitLab) Check(ctx context.Context, _ string, spec check.SourceSpec) (check.VersionInfo, error) {
	const op = "checkers.gitlab"
	u, err := url.Parse(strings.TrimSpace(spec.URL))
	if err != nil || u.Host == "" {
		return check.VersionInfo{}, check.NewError(check.KindConfiguration, op,
			fmt.Sprintf("source url %q must be a full gitlab project url", spec.URL))
	}
	project := strings.Trim(strings.TrimSuffix(u.Path, ".git"), "/")
	if project == "" {
		return check.VersionInfo{}, check.NewError(check.KindConfiguration, op,
			fmt.Sprintf("source url %q carries no project path", spec.URL))
	}
	endpoint := fmt.Sprintf("%s://%s/api/v4/projects/%s/releases?per_page=1",
		u.Scheme, u.Host, url.PathEscape(project))

	var releases []gitlabRelease
	if err := getJSON(ctx, g.client, op, endpoint, spec.Headers, &releases); err != nil {
		return check.VersionInfo{}, err
	}
	if len(releases) == 0 {
		return check.VersionInfo{}, check.NewError(check.KindNotFound, op,
			fmt.Sprintf("project %s has no releases", project))
	}
	raw := releases[0].TagName
	if raw == "" {
		raw = releases[0].Name
	}
	raw, err = extractVersion(op, raw, spec.VersionPattern)
	if err != nil {
		return check.VersionInfo{}, err
	}
	return buildInfo(raw, releases[0].ReleasedAt, map[string]string{
		"tag":     releases[0].TagName,
		"project": project,
	}), nil
}
