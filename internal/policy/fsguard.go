package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultProtected are file names the host never writes, wherever they live.
var DefaultProtected = []string{
	"package.json",
	"package-lock.json",
	"pnpm-lock.yaml",
	"yarn.lock",
	"go.mod",
	"go.sum",
	".env",
	".env.*",
	"*.pem",
	"*.key",
}

// FSGuard allows an absolute path only when it resolves under one of the
// designated data directories and is not a protected file.
type FSGuard struct {
	roots     []string
	protected []string
}

func NewFSGuard(roots []string, extraProtected ...string) (*FSGuard, error) {
	if len(roots) == 0 {
		return nil, errors.New("fs guard: at least one data directory is required")
	}
	g := &FSGuard{protected: append(append([]string(nil), DefaultProtected...), extraProtected...)}
	for _, r := range roots {
		if !filepath.IsAbs(r) {
			return nil, fmt.Errorf("fs guard: data directory %q is not absolute", r)
		}
		g.roots = append(g.roots, resolve(r))
	}
	for _, pat := range g.protected {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("fs guard: invalid protected pattern %q", pat)
		}
	}
	return g, nil
}

func (g *FSGuard) Check(p string) Result {
	if strings.TrimSpace(p) == "" {
		return denied(p, ReasonEmpty, "path is empty")
	}
	if !filepath.IsAbs(p) {
		return denied(p, ReasonForbidden, "path must be absolute")
	}
	resolved := resolve(p)

	base := filepath.Base(resolved)
	for _, pat := range g.protected {
		if ok, _ := doublestar.Match(pat, base); ok {
			return denied(resolved, ReasonForbidden, "protected file %s", base)
		}
	}
	for _, root := range g.roots {
		rel, err := filepath.Rel(root, resolved)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return Result{Allowed: true, Path: resolved}
		}
	}
	return denied(resolved, ReasonNotWhitelisted, "outside the designated data directories")
}

func (g *FSGuard) Assert(p string) error {
	return g.Check(p).Err()
}

// resolve cleans p and follows symlinks on its longest existing prefix, so a
// symlinked parent cannot smuggle the path out of a data directory.
func resolve(p string) string {
	p = filepath.Clean(p)
	target, err := filepath.EvalSymlinks(p)
	if err == nil {
		return target
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return p
	}
	dir := filepath.Dir(p)
	if dir == p {
		return p
	}
	return filepath.Join(resolve(dir), filepath.Base(p))
}
