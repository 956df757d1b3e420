package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/verwatch/verwatch/internal/check"
)

type stubChecker struct{ version string }

func (s stubChecker) Check(context.Context, string, check.SourceSpec) (check.VersionInfo, error) {
	return check.VersionInfo{Version: s.version}, nil
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("github", stubChecker{version: "1.0.0"})
	r.Register("pypi", stubChecker{version: "2.0.0"})

	checker, err := r.Resolve("github")
	require.NoError(t, err)
	info, err := checker.Check(context.Background(), "pkg", check.SourceSpec{})
	require.NoError(t, err)
	require.Equal(t, "1.0.0", info.Version)

	require.Equal(t, []string{"github", "pypi"}, r.Kinds())
}

func TestRegistryUnknownKindIsConfigurationError(t *testing.T) {
	t.Parallel()

	r := New()
	_, err := r.Resolve("gopher-forge")
	require.Error(t, err)
	require.Equal(t, check.KindConfiguration, check.Classify(err))
}

func TestRegistryDuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("npm", stubChecker{})
	require.Panics(t, func() {
		r.Register("npm", stubChecker{})
	})
}
