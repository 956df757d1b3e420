package checkers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/verwatch/verwatch/internal/check"
)

// JSONAPI resolves a version from an arbitrary JSON endpoint. The spec's
// version_key is a dotted path into the document ("release.tag", "tags.0");
// numeric segments index into arrays.
type JSONAPI struct {
	client Doer
}

// NewJSONAPI constructs the checker.
func NewJSONAPI(client Doer) *JSONAPI {
	return &JSONAPI{client: client}
}

// Check fetches the document and walks the configured path.
func (j *JSONAPI) Check(ctx context.Context, _ string, spec check.SourceSpec) (check.VersionInfo, error) {
	const op = "checkers.json"
	if spec.VersionKey == "" {
		return check.VersionInfo{}, check.NewError(check.KindConfiguration, op,
			"version_key is required for json sources")
	}

	var doc any
	if err := getJSON(ctx, j.client, op, spec.URL, spec.Headers, &doc); err != nil {
		return check.VersionInfo{}, err
	}
	value, err := walkPath(op, doc, spec.VersionKey)
	if err != nil {
		return check.VersionInfo{}, err
	}
	raw, err := extractVersion(op, value, spec.VersionPattern)
	if err != nil {
		return check.VersionInfo{}, err
	}
	return buildInfo(raw, time.Time{}, map[string]string{"version_key": spec.VersionKey}), nil
}

func walkPath(op string, doc any, path string) (string, error) {
	current := doc
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return "", check.NewError(check.KindParse, op,
					fmt.Sprintf("key %q not present in document path %q", segment, path))
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", check.NewError(check.KindParse, op,
					fmt.Sprintf("segment %q does not index the array at path %q", segment, path))
			}
			current = node[idx]
		default:
			return "", check.NewError(check.KindParse, op,
				fmt.Sprintf("path %q descends into a scalar at %q", path, segment))
		}
	}
	switch v := current.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", check.NewError(check.KindParse, op,
				fmt.Sprintf("path %q resolved to an empty string", path))
		}
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", check.NewError(check.KindParse, op,
			fmt.Sprintf("path %q resolved to a non-scalar value", path))
	}
}
