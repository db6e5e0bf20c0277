package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"docs/guide.md", "docs/guide.md"},
		{"/docs/guide.md/", "docs/guide.md"},
		{`docs\nested\file.md`, "docs/nested/file.md"},
		{"docs/./a/../b.md", "docs/b.md"},
		{"docs/../package.json", "package.json"},
		{"docs//guide.md", "docs/guide.md"},
		{"../secrets", "../secrets"},
		{"", ""},
		{"/", ""},
		{".", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestIsAllowedPath_Classification(t *testing.T) {
	tests := []struct {
		path    string
		allowed bool
		reason  Reason
	}{
		{"docs/guide.md", true, ""},
		{"README.md", true, ""},
		{".repo/metadata.yaml", true, ""},
		{"package.json", false, ReasonForbidden},
		{"web/package.json", false, ReasonForbidden},
		{"docs/package.json", false, ReasonForbidden},
		{"docs/../package.json", false, ReasonForbidden},
		{".github/workflows/ci.yml", false, ReasonForbidden},
		{"go.sum", false, ReasonForbidden},
		{".env", false, ReasonForbidden},
		{"config/.env.production", false, ReasonForbidden},
		{"src/app.ts", false, ReasonNotWhitelisted},
		{"sub/README.md", false, ReasonNotWhitelisted},
		{"../outside.md", false, ReasonForbidden},
		{"", false, ReasonEmpty},
		{"/", false, ReasonEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res := IsAllowedPath(tt.path, Options{})
			assert.Equal(t, tt.allowed, res.Allowed)
			assert.Equal(t, tt.reason, res.Reason)
			if !tt.allowed {
				assert.NotEmpty(t, res.Message)
			}
		})
	}
}

func TestIsAllowedPath_NormalizedPathReported(t *testing.T) {
	res := IsAllowedPath("/docs/./guide.md", Options{})
	assert.True(t, res.Allowed)
	assert.Equal(t, "docs/guide.md", res.Path)
}

func TestIsAllowedPath_Overrides(t *testing.T) {
	res := IsAllowedPath("package.json", Options{AllowForbidden: true})
	assert.True(t, res.Allowed)
	assert.True(t, res.Override)

	// AllowNonWhitelisted does not unlock forbidden paths.
	res = IsAllowedPath("package.json", Options{AllowNonWhitelisted: true})
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonForbidden, res.Reason)

	res = IsAllowedPath("src/app.ts", Options{AllowNonWhitelisted: true})
	assert.True(t, res.Allowed)
	assert.True(t, res.Override)

	// AllowForbidden does not unlock non-whitelisted paths.
	res = IsAllowedPath("src/app.ts", Options{AllowForbidden: true})
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonNotWhitelisted, res.Reason)

	// Escaping the root is never overridable.
	res = IsAllowedPath("../x", Options{AllowForbidden: true, AllowNonWhitelisted: true})
	assert.False(t, res.Allowed)

	res = IsAllowedPath("docs/guide.md", Options{AllowForbidden: true})
	assert.True(t, res.Allowed)
	assert.False(t, res.Override)
}

func TestRepoPolicy_ExtraPatterns(t *testing.T) {
	p, err := NewRepoPolicy(WithForbidden("docs/internal/**"), WithAllowed("examples/**"))
	require.NoError(t, err)

	assert.True(t, p.Check("examples/demo/main.go", Options{}).Allowed)

	res := p.Check("docs/internal/secret.md", Options{})
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonForbidden, res.Reason)
}

func TestNewRepoPolicy_InvalidPattern(t *testing.T) {
	_, err := NewRepoPolicy(WithForbidden("docs/[unclosed"))
	require.Error(t, err)
}

func TestRepoPolicy_Assert(t *testing.T) {
	p, err := NewRepoPolicy()
	require.NoError(t, err)

	norm, err := p.Assert("docs//a.md", Options{})
	require.NoError(t, err)
	assert.Equal(t, "docs/a.md", norm)

	_, err = p.Assert("src/app.ts", Options{})
	require.Error(t, err)
	var v *Violation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, ReasonNotWhitelisted, v.Code)
	assert.Equal(t, "src/app.ts", v.Path)
	assert.Contains(t, err.Error(), "NOT_WHITELISTED")
}
