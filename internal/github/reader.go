package github

import (
	"context"
	"log/slog"
	"strings"
)

const (
	DefaultPage     = 1
	DefaultPerPage  = 30
	MaxPerPage      = 100
	DefaultMaxDepth = 5
	MaxDepth        = 10
	MaxTreeEntries  = 10000
)

// Reader bounds every call it forwards to a Client. It never retries; API
// failures come back as *APIError.
type Reader struct {
	client Client
	logger *slog.Logger
}

func NewReader(client Client, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{client: client, logger: logger}
}

func (r *Reader) DefaultBranch(ctx context.Context, owner, name string) (string, error) {
	return r.client.DefaultBranch(ctx, owner, name)
}

type BranchPage struct {
	Branches []Branch `json:"branches"`
	Page     int      `json:"page"`
	PerPage  int      `json:"perPage"`
	HasNext  bool     `json:"hasNext"`
}

// ListBranches fetches a single page. page defaults to 1 and perPage is
// clamped to MaxPerPage.
func (r *Reader) ListBranches(ctx context.Context, owner, name string, page, perPage int) (*BranchPage, error) {
	if page < 1 {
		page = DefaultPage
	}
	switch {
	case perPage < 1:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	branches, hasNext, err := r.client.Branches(ctx, owner, name, page, perPage)
	if err != nil {
		return nil, err
	}
	if len(branches) > perPage {
		branches = branches[:perPage]
	}
	return &BranchPage{Branches: branches, Page: page, PerPage: perPage, HasNext: hasNext}, nil
}

type TreeOptions struct {
	Ref       string
	Recursive bool
	// MaxDepth limits entries to that many path segments. Zero means
	// DefaultMaxDepth; values above MaxDepth are clamped.
	MaxDepth int
}

// GetTree returns at most MaxTreeEntries entries no deeper than the depth
// limit. Oversized results are trimmed and marked truncated.
func (r *Reader) GetTree(ctx context.Context, owner, name string, opts TreeOptions) (*Tree, error) {
	depth := opts.MaxDepth
	switch {
	case depth <= 0:
		depth = DefaultMaxDepth
	case depth > MaxDepth:
		depth = MaxDepth
	}
	ref := opts.Ref
	if ref == "" {
		b, err := r.client.DefaultBranch(ctx, owner, name)
		if err != nil {
			return nil, err
		}
		ref = b
	}

	t, err := r.client.Tree(ctx, owner, name, ref, opts.Recursive)
	if err != nil {
		return nil, err
	}

	out := &Tree{SHA: t.SHA, Truncated: t.Truncated, Entries: make([]TreeEntry, 0, min(len(t.Entries), MaxTreeEntries))}
	for _, e := range t.Entries {
		if strings.Count(e.Path, "/")+1 > depth {
			continue
		}
		if len(out.Entries) == MaxTreeEntries {
			out.Truncated = true
			break
		}
		out.Entries = append(out.Entries, e)
	}
	if out.Truncated {
		r.logger.Info("repository tree truncated", "repo", owner+"/"+name, "ref", ref, "entries", len(out.Entries))
	}
	return out, nil
}
