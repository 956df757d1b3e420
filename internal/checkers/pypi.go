package checkers

import (
	"context"
	"fmt"
	"time"

	"github.com/verwatch/verwatch/internal/check"
)

const pypiAPIBase = "https://pypi.org"

// PyPI resolves the latest published version of a Python project. The spec
// URL is either the bare project name or a pypi.org project page.
type PyPI struct {
	client Doer
	base   string
}

// NewPyPI constructs the checker against the public index.
func NewPyPI(client Doer) *PyPI {
	return &PyPI{client: client, base: pypiAPIBase}
}

type pypiProject struct {
	Info struct {
		Version    string `json:"version"`
		ProjectURL string `json:"project_url"`
	} `json:"info"`
	URLs []struct {
		UploadTime time.Time `json:"upload_time_iso_8601"`
	} `json:"urls"`
}

// Check fetches the project's JSON document and reads info.version.
func (p *PyPI) Check(ctx context.Context, _ string, spec check.SourceSpec) (check.VersionInfo, error) {
	const op = "checkers.pypi"
	name, err := lastSegment(op, spec.URL)
	if err != nil {
		return check.VersionInfo{}, err
	}

	var project pypiProject
	if err := getJSON(ctx, p.client, op,
		fmt.Sprintf("%s/pypi/%s/json", p.base, name), spec.Headers, &project); err != nil {
		return check.VersionInfo{}, err
	}
	if project.Info.Version == "" {
		return check.VersionInfo{}, check.NewError(check.KindParse, op,
			fmt.Sprintf("project %s document carries no version", name))
	}
	raw, err := extractVersion(op, project.Info.Version, spec.VersionPattern)
	if err != nil {
		return check.VersionInfo{}, err
	}
	var released time.Time
	if len(project.URLs) > 0 {
		released = project.URLs[0].UploadTime
	}
	return buildInfo(raw, released, map[string]string{
		"project":     name,
		"project_url": project.Info.ProjectURL,
	}), nil
}
