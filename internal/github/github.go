// Package github reads branch and tree metadata from GitHub with hard caps on
// how much a single call may return.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/esnunes/studio/internal/models"
)

var repoURLPattern = regexp.MustCompile(`^github\.com/([\w.\-]+)/([\w.\-]+)$`)

// ParseRepoURL accepts "github.com/owner/repo", optionally with a scheme, a
// trailing slash or a .git suffix.
func ParseRepoURL(raw string) (*models.RepoBinding, error) {
	u := strings.TrimSpace(raw)
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, ".git")
	m := repoURLPattern.FindStringSubmatch(u)
	if m == nil {
		return nil, fmt.Errorf("invalid repository URL %q: expected github.com/owner/repo", raw)
	}
	return &models.RepoBinding{Owner: m[1], Name: m[2]}, nil
}

// APIError wraps any failure from the remote API. StatusCode is zero when no
// HTTP response was received.
type APIError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("github %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("github %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func apiError(op string, resp *gh.Response, err error) error {
	ae := &APIError{Op: op, Err: err}
	var er *gh.ErrorResponse
	switch {
	case errors.As(err, &er) && er.Response != nil:
		ae.StatusCode = er.Response.StatusCode
	case resp != nil && resp.Response != nil:
		ae.StatusCode = resp.StatusCode
	}
	return ae
}

type Branch struct {
	Name      string `json:"name"`
	SHA       string `json:"sha"`
	Protected bool   `json:"protected"`
}

type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // blob, tree or commit
	SHA  string `json:"sha"`
	Size int    `json:"size,omitempty"`
}

type Tree struct {
	SHA       string      `json:"sha"`
	Entries   []TreeEntry `json:"entries"`
	Truncated bool        `json:"truncated"`
}

// Client is the narrow surface the reader needs from a remote host.
type Client interface {
	DefaultBranch(ctx context.Context, owner, name string) (string, error)
	// Branches returns one page and whether another page follows.
	Branches(ctx context.Context, owner, name string, page, perPage int) ([]Branch, bool, error)
	Tree(ctx context.Context, owner, name, ref string, recursive bool) (*Tree, error)
}

// RESTClient implements Client over the GitHub REST API.
type RESTClient struct {
	gh *gh.Client
}

type Options struct {
	Token string
	// BaseURL points at a GitHub Enterprise or test API root. Empty means
	// api.github.com.
	BaseURL    string
	HTTPClient *http.Client
}

func NewRESTClient(ctx context.Context, opts Options) (*RESTClient, error) {
	hc := opts.HTTPClient
	if opts.Token != "" {
		if hc != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		}
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	}
	c := gh.NewClient(hc)
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing github base url: %w", err)
		}
		c.BaseURL = u
	}
	return &RESTClient{gh: c}, nil
}

func (c *RESTClient) DefaultBranch(ctx context.Context, owner, name string) (string, error) {
	repo, resp, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", apiError("get repository", resp, err)
	}
	return repo.GetDefaultBranch(), nil
}

func (c *RESTClient) Branches(ctx context.Context, owner, name string, page, perPage int) ([]Branch, bool, error) {
	opts := &gh.BranchListOptions{ListOptions: gh.ListOptions{Page: page, PerPage: perPage}}
	branches, resp, err := c.gh.Repositories.ListBranches(ctx, owner, name, opts)
	if err != nil {
		return nil, false, apiError("list branches", resp, err)
	}
	out := make([]Branch, 0, len(branches))
	for _, b := range branches {
		out = append(out, Branch{
			Name:      b.GetName(),
			SHA:       b.GetCommit().GetSHA(),
			Protected: b.GetProtected(),
		})
	}
	return out, resp.NextPage != 0, nil
}

func (c *RESTClient) Tree(ctx context.Context, owner, name, ref string, recursive bool) (*Tree, error) {
	t, resp, err := c.gh.Git.GetTree(ctx, owner, name, ref, recursive)
	if err != nil {
		return nil, apiError("get tree", resp, err)
	}
	out := &Tree{SHA: t.GetSHA(), Truncated: t.GetTruncated(), Entries: make([]TreeEntry, 0, len(t.Entries))}
	for _, e := range t.Entries {
		out.Entries = append(out.Entries, TreeEntry{
			Path: e.GetPath(),
			Type: e.GetType(),
			SHA:  e.GetSHA(),
			Size: e.GetSize(),
		})
	}
	return out, nil
}
