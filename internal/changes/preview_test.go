package changes

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/studio/internal/gate"
	"github.com/esnunes/studio/internal/models"
	"github.com/esnunes/studio/internal/policy"
	"github.com/esnunes/studio/internal/session"
)

type memPreviews struct {
	mu    sync.Mutex
	saved map[string]*models.Preview
	err   error
}

func (m *memPreviews) SavePreview(p *models.Preview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = map[string]*models.Preview{}
	}
	m.saved[p.ID] = p
	return nil
}

func (m *memPreviews) GetPreview(userID, previewID string) (*models.Preview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.saved[previewID]
	if !ok || p.UserID != userID {
		return nil, errors.New("preview not found")
	}
	return p, nil
}

func (m *memPreviews) DeletePreview(previewID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, previewID)
	return nil
}

// failingSessions serves reads from the real store but refuses updates.
type failingSessions struct {
	*session.Store
}

func (failingSessions) Update(string, string, session.Patch) (*models.AgentSession, error) {
	return nil, errors.New("persisting sessions: read-only file system")
}

type memAudit struct {
	events []models.AuditEvent
}

func (m *memAudit) RecordAuditEvent(ev models.AuditEvent) error {
	m.events = append(m.events, ev)
	return nil
}

type fixture struct {
	builder  *Builder
	store    *session.Store
	gate     *gate.Gate
	previews *memPreviews
	audit    *memAudit
	session  *models.AgentSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	guard, err := policy.NewFSGuard([]string{dir})
	require.NoError(t, err)
	g := gate.New()
	store, err := session.New(session.Opts{Path: filepath.Join(dir, "sessions.json"), Guard: guard, Gate: g})
	require.NoError(t, err)
	pol, err := policy.NewRepoPolicy()
	require.NoError(t, err)

	sess, err := store.Create("u1", session.CreateInput{Goal: "Update docs"})
	require.NoError(t, err)

	f := &fixture{store: store, gate: g, previews: &memPreviews{}, audit: &memAudit{}, session: sess}
	f.builder = NewBuilder(BuilderOpts{
		Gate:     g,
		Policy:   pol,
		Sessions: store,
		Previews: f.previews,
		Audit:    f.audit,
	})
	return f
}

func TestBuild(t *testing.T) {
	f := newFixture(t)

	p, err := f.builder.Build(BuildRequest{
		UserID:    "u1",
		SessionID: f.session.ID,
		Changes: []models.FileChange{
			{Path: "docs/intro.md", Action: models.ActionCreate, After: ptr("# Intro\n")},
			{Path: "./README.md", Action: models.ActionUpdate, Before: ptr("old\n"), After: ptr("new\n")},
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "README.md", p.Changes[1].Path)
	assert.Len(t, p.Diffs, 2)
	assert.Equal(t, 2, p.Stats.Files)
	assert.Equal(t, 1, p.Stats.Created)
	assert.Equal(t, 1, p.Stats.Updated)
	assert.Contains(t, f.previews.saved, p.ID)
	assert.Empty(t, f.audit.events)

	sess, err := f.store.Get("u1", f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, sess.PreviewID)
	require.Len(t, sess.Steps, 1)
	step := sess.Steps[0]
	assert.Equal(t, models.StepDiff, step.Type)
	assert.Equal(t, models.StepSucceeded, step.Status)
	assert.Equal(t, p.ID, step.Metadata["previewId"])
	assert.Equal(t, "2 files, +2/-1 lines", step.Details)

	got, err := f.builder.Get("u1", f.session.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = f.builder.Get("u1", "other-session", p.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestBuild_RejectsWholeBatch(t *testing.T) {
	tests := []struct {
		name   string
		change models.FileChange
		target error
	}{
		{"forbidden path", models.FileChange{Path: ".github/workflows/ci.yml", Action: models.ActionCreate, After: ptr("x")}, nil},
		{"not whitelisted", models.FileChange{Path: "src/main.go", Action: models.ActionCreate, After: ptr("x")}, nil},
		{"traversal", models.FileChange{Path: "docs/../../etc/passwd", Action: models.ActionCreate, After: ptr("x")}, ErrInvalidChange},
		{"hidden character", models.FileChange{Path: "docs/a\u200b.md", Action: models.ActionCreate, After: ptr("x")}, ErrInvalidChange},
		{"bad action", models.FileChange{Path: "docs/a.md", Action: models.ActionDelete, After: ptr("x")}, ErrInvalidChange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.builder.Build(BuildRequest{
				UserID:    "u1",
				SessionID: f.session.ID,
				Changes: []models.FileChange{
					{Path: "docs/ok.md", Action: models.ActionCreate, After: ptr("fine")},
					tt.change,
				},
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "changes[1]")
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			} else {
				var v *policy.Violation
				assert.True(t, errors.As(err, &v))
			}
			assert.Empty(t, f.previews.saved)

			sess, err := f.store.Get("u1", f.session.ID)
			require.NoError(t, err)
			assert.Empty(t, sess.PreviewID)
			assert.Empty(t, sess.Steps)
		})
	}
}

func TestBuild_DuplicatePathsAfterNormalization(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(BuildRequest{
		UserID:    "u1",
		SessionID: f.session.ID,
		Changes: []models.FileChange{
			{Path: "docs/a.md", Action: models.ActionCreate, After: ptr("1")},
			{Path: "docs//a.md", Action: models.ActionCreate, After: ptr("2")},
		},
	})
	assert.ErrorIs(t, err, ErrInvalidChange)
	assert.ErrorContains(t, err, "duplicated")
}

func TestBuild_EmptyBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(BuildRequest{UserID: "u1", SessionID: f.session.ID})
	assert.ErrorIs(t, err, ErrInvalidChange)
}

func TestBuild_OverrideIsAudited(t *testing.T) {
	f := newFixture(t)
	p, err := f.builder.Build(BuildRequest{
		UserID:    "u1",
		SessionID: f.session.ID,
		Changes: []models.FileChange{
			{Path: "src/main.go", Action: models.ActionUpdate, Before: ptr("a"), After: ptr("b")},
		},
		Policy: policy.Options{AllowNonWhitelisted: true},
		Actor:  "reviewer",
	})
	require.NoError(t, err)
	assert.Equal(t, "src/main.go", p.Changes[0].Path)

	require.Len(t, f.audit.events, 1)
	ev := f.audit.events[0]
	assert.Equal(t, "policy_override", ev.Kind)
	assert.Equal(t, "reviewer", ev.Actor)
	assert.Equal(t, "src/main.go", ev.Subject)
	assert.Contains(t, ev.Detail, "allow_non_whitelisted=true")
}

func TestBuild_TraversalNeverOverridable(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(BuildRequest{
		UserID:    "u1",
		SessionID: f.session.ID,
		Changes: []models.FileChange{
			{Path: "../outside.md", Action: models.ActionCreate, After: ptr("x")},
		},
		Policy: policy.Options{AllowForbidden: true, AllowNonWhitelisted: true},
	})
	require.Error(t, err)
	assert.Empty(t, f.previews.saved)
}

func TestBuild_GateBlocks(t *testing.T) {
	f := newFixture(t)
	f.gate.SetEnabled(true, "ops")

	_, err := f.builder.Build(BuildRequest{
		UserID:    "u1",
		SessionID: f.session.ID,
		Changes:   []models.FileChange{{Path: "docs/a.md", Action: models.ActionCreate, After: ptr("x")}},
	})
	assert.ErrorIs(t, err, gate.ErrBlocked)
	assert.Empty(t, f.previews.saved)
}

func TestBuild_OtherUsersSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(BuildRequest{
		UserID:    "u2",
		SessionID: f.session.ID,
		Changes:   []models.FileChange{{Path: "docs/a.md", Action: models.ActionCreate, After: ptr("x")}},
	})
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestBuild_SaveFailure(t *testing.T) {
	f := newFixture(t)
	f.previews.err = errors.New("disk full")

	_, err := f.builder.Build(BuildRequest{
		UserID:    "u1",
		SessionID: f.session.ID,
		Changes:   []models.FileChange{{Path: "docs/a.md", Action: models.ActionCreate, After: ptr("x")}},
	})
	assert.ErrorContains(t, err, "saving preview: disk full")

	sess, err := f.store.Get("u1", f.session.ID)
	require.NoError(t, err)
	assert.Empty(t, sess.PreviewID)
}

func TestBuild_SessionUpdateFailureRemovesPreview(t *testing.T) {
	f := newFixture(t)
	pol, err := policy.NewRepoPolicy()
	require.NoError(t, err)
	b := NewBuilder(BuilderOpts{
		Gate:     f.gate,
		Policy:   pol,
		Sessions: failingSessions{f.store},
		Previews: f.previews,
		Audit:    f.audit,
	})

	_, err = b.Build(BuildRequest{
		UserID:    "u1",
		SessionID: f.session.ID,
		Changes: []models.FileChange{
			{Path: "src/main.go", Action: models.ActionUpdate, Before: ptr("a"), After: ptr("b")},
		},
		Policy: policy.Options{AllowNonWhitelisted: true},
		Actor:  "reviewer",
	})
	assert.ErrorContains(t, err, "recording preview on session")
	assert.Empty(t, f.previews.saved)
	assert.Empty(t, f.audit.events)
}
