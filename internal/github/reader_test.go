package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	defaultBranch string
	branches      []Branch
	hasNext       bool
	tree          *Tree
	err           error

	gotPage, gotPerPage int
	gotRef              string
	gotRecursive        bool
}

func (f *fakeClient) DefaultBranch(ctx context.Context, owner, name string) (string, error) {
	return f.defaultBranch, f.err
}

func (f *fakeClient) Branches(ctx context.Context, owner, name string, page, perPage int) ([]Branch, bool, error) {
	f.gotPage, f.gotPerPage = page, perPage
	return f.branches, f.hasNext, f.err
}

func (f *fakeClient) Tree(ctx context.Context, owner, name, ref string, recursive bool) (*Tree, error) {
	f.gotRef, f.gotRecursive = ref, recursive
	return f.tree, f.err
}

func TestListBranches_Bounds(t *testing.T) {
	tests := []struct {
		name                 string
		page, perPage        int
		wantPage, wantPerPag int
	}{
		{"defaults", 0, 0, 1, DefaultPerPage},
		{"negative", -3, -1, 1, DefaultPerPage},
		{"explicit", 4, 20, 4, 20},
		{"capped", 1, 1000, 1, MaxPerPage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeClient{branches: []Branch{{Name: "main"}}, hasNext: true}
			r := NewReader(fc, nil)
			page, err := r.ListBranches(context.Background(), "acme", "web", tt.page, tt.perPage)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPage, fc.gotPage)
			assert.Equal(t, tt.wantPerPag, fc.gotPerPage)
			assert.Equal(t, tt.wantPage, page.Page)
			assert.Equal(t, tt.wantPerPag, page.PerPage)
			assert.True(t, page.HasNext)
		})
	}
}

func TestListBranches_TrimsOversizedPage(t *testing.T) {
	var many []Branch
	for i := 0; i < 150; i++ {
		many = append(many, Branch{Name: fmt.Sprint("b", i)})
	}
	r := NewReader(&fakeClient{branches: many}, nil)
	page, err := r.ListBranches(context.Background(), "acme", "web", 1, 500)
	require.NoError(t, err)
	assert.Len(t, page.Branches, MaxPerPage)
}

func TestGetTree_DepthFilter(t *testing.T) {
	fc := &fakeClient{tree: &Tree{SHA: "t", Entries: []TreeEntry{
		{Path: "README.md"},
		{Path: "docs/a.md"},
		{Path: "a/b/c/d/e.md"},
		{Path: "a/b/c/d/e/f.md"},
		{Path: strings.Repeat("x/", 11) + "deep.md"},
	}}}
	r := NewReader(fc, nil)

	tree, err := r.GetTree(context.Background(), "acme", "web", TreeOptions{Ref: "main", Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, "main", fc.gotRef)
	assert.True(t, fc.gotRecursive)
	var paths []string
	for _, e := range tree.Entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"README.md", "docs/a.md", "a/b/c/d/e.md"}, paths)
	assert.False(t, tree.Truncated)

	tree, err = r.GetTree(context.Background(), "acme", "web", TreeOptions{Ref: "main", MaxDepth: 1})
	require.NoError(t, err)
	assert.Len(t, tree.Entries, 1)

	tree, err = r.GetTree(context.Background(), "acme", "web", TreeOptions{Ref: "main", MaxDepth: 50})
	require.NoError(t, err)
	assert.Len(t, tree.Entries, 4, "depth is capped at %d", MaxDepth)
}

func TestGetTree_EntryCap(t *testing.T) {
	entries := make([]TreeEntry, MaxTreeEntries+5)
	for i := range entries {
		entries[i] = TreeEntry{Path: fmt.Sprintf("docs/%d.md", i)}
	}
	r := NewReader(&fakeClient{tree: &Tree{Entries: entries}}, nil)

	tree, err := r.GetTree(context.Background(), "acme", "web", TreeOptions{Ref: "main"})
	require.NoError(t, err)
	assert.Len(t, tree.Entries, MaxTreeEntries)
	assert.True(t, tree.Truncated)
}

func TestGetTree_ExactlyAtCapIsNotTruncated(t *testing.T) {
	entries := make([]TreeEntry, MaxTreeEntries)
	for i := range entries {
		entries[i] = TreeEntry{Path: fmt.Sprint(i)}
	}
	r := NewReader(&fakeClient{tree: &Tree{Entries: entries}}, nil)

	tree, err := r.GetTree(context.Background(), "acme", "web", TreeOptions{Ref: "main"})
	require.NoError(t, err)
	assert.Len(t, tree.Entries, MaxTreeEntries)
	assert.False(t, tree.Truncated)
}

func TestGetTree_KeepsRemoteTruncation(t *testing.T) {
	r := NewReader(&fakeClient{tree: &Tree{Truncated: true, Entries: []TreeEntry{{Path: "a"}}}}, nil)
	tree, err := r.GetTree(context.Background(), "acme", "web", TreeOptions{Ref: "main"})
	require.NoError(t, err)
	assert.True(t, tree.Truncated)
}

func TestGetTree_DefaultsRefToDefaultBranch(t *testing.T) {
	fc := &fakeClient{defaultBranch: "trunk", tree: &Tree{}}
	r := NewReader(fc, nil)
	_, err := r.GetTree(context.Background(), "acme", "web", TreeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "trunk", fc.gotRef)
}

func TestReader_PropagatesAPIError(t *testing.T) {
	apiErr := &APIError{Op: "list branches", StatusCode: 502, Err: errors.New("bad gateway")}
	r := NewReader(&fakeClient{err: apiErr}, nil)

	_, err := r.ListBranches(context.Background(), "acme", "web", 1, 10)
	assert.ErrorIs(t, err, apiErr)
	_, err = r.DefaultBranch(context.Background(), "acme", "web")
	assert.ErrorIs(t, err, apiErr)
	_, err = r.GetTree(context.Background(), "acme", "web", TreeOptions{Ref: "main"})
	assert.ErrorIs(t, err, apiErr)
}
