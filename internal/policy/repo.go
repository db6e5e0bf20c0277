package policy

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultForbidden covers CI/workflow definitions, dependency manifests and
// lockfiles, and secret-bearing files.
var DefaultForbidden = []string{
	".github/workflows/**",
	".github/actions/**",
	".gitlab-ci.yml",
	".circleci/**",
	".travis.yml",
	"azure-pipelines.yml",
	"Jenkinsfile",
	"**/package.json",
	"**/package-lock.json",
	"**/npm-shrinkwrap.json",
	"**/pnpm-lock.yaml",
	"**/yarn.lock",
	"**/go.mod",
	"**/go.sum",
	"**/Cargo.toml",
	"**/Cargo.lock",
	"**/requirements.txt",
	"**/poetry.lock",
	"**/Gemfile.lock",
	"**/.env",
	"**/.env.*",
	"**/*.pem",
	"**/*.key",
}

// DefaultAllowed is the whitelist: documentation, repo metadata, root readme.
var DefaultAllowed = []string{
	"docs/**",
	".repo/**",
	"README.md",
}

// Options carries the two overrides. Both must only ever be set by an
// explicit, human-approved action.
type Options struct {
	AllowForbidden      bool `json:"allowForbidden,omitempty"`
	AllowNonWhitelisted bool `json:"allowNonWhitelisted,omitempty"`
}

type RepoPolicy struct {
	forbidden []string
	allowed   []string
	logger    *slog.Logger
}

type RepoOption func(*RepoPolicy)

func WithForbidden(patterns ...string) RepoOption {
	return func(p *RepoPolicy) { p.forbidden = append(p.forbidden, patterns...) }
}

func WithAllowed(patterns ...string) RepoOption {
	return func(p *RepoPolicy) { p.allowed = append(p.allowed, patterns...) }
}

func WithLogger(l *slog.Logger) RepoOption {
	return func(p *RepoPolicy) { p.logger = l }
}

// NewRepoPolicy builds a policy from the default rules plus any extra
// patterns. Invalid patterns are rejected up front.
func NewRepoPolicy(opts ...RepoOption) (*RepoPolicy, error) {
	p := &RepoPolicy{
		forbidden: append([]string(nil), DefaultForbidden...),
		allowed:   append([]string(nil), DefaultAllowed...),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, pat := range append(append([]string(nil), p.forbidden...), p.allowed...) {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid path pattern %q", pat)
		}
	}
	return p, nil
}

var defaultRepoPolicy, _ = NewRepoPolicy()

// IsAllowedPath checks p against the default rules.
func IsAllowedPath(p string, opts Options) Result {
	return defaultRepoPolicy.Check(p, opts)
}

// Normalize converts separators to "/", strips leading and trailing slashes
// and collapses "." and ".." segments. It returns "" for empty input.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

func (p *RepoPolicy) Check(raw string, opts Options) Result {
	norm := Normalize(raw)
	if norm == "" {
		return denied(raw, ReasonEmpty, "path is empty")
	}
	if norm == ".." || strings.HasPrefix(norm, "../") {
		return denied(norm, ReasonForbidden, "path escapes the repository root")
	}

	if pat, ok := matchAny(p.forbidden, norm); ok {
		if !opts.AllowForbidden {
			return denied(norm, ReasonForbidden, "matches protected pattern %s", pat)
		}
		p.logger.Warn("path policy override", "path", norm, "override", "allow_forbidden", "pattern", pat)
		return Result{Allowed: true, Path: norm, Override: true}
	}

	if _, ok := matchAny(p.allowed, norm); ok {
		return Result{Allowed: true, Path: norm}
	}

	if !opts.AllowNonWhitelisted {
		return denied(norm, ReasonNotWhitelisted, "not under an allowed location")
	}
	p.logger.Warn("path policy override", "path", norm, "override", "allow_non_whitelisted")
	return Result{Allowed: true, Path: norm, Override: true}
}

// Assert is Check for callers that want a refusal as an error.
func (p *RepoPolicy) Assert(raw string, opts Options) (string, error) {
	res := p.Check(raw, opts)
	return res.Path, res.Err()
}

func matchAny(patterns []string, name string) (string, bool) {
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, name); ok {
			return pat, true
		}
	}
	return "", false
}
