package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/studio/internal/models"
)

func openTestDB(t *testing.T) *Queries {
	t.Helper()
	path, err := DBPath(t.TempDir())
	require.NoError(t, err)
	sqlDB, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewQueries(sqlDB)
}

func TestOpen_IsIdempotent(t *testing.T) {
	path, err := DBPath(t.TempDir())
	require.NoError(t, err)

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, NewQueries(first).RecordAuditEvent(models.AuditEvent{Kind: KindSanitize}))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()
	events, err := NewQueries(second).ListAuditEvents("", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAuditEvents(t *testing.T) {
	q := openTestDB(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)

	for i, kind := range []string{KindSanitize, KindPolicyOverride, KindSanitize} {
		err := q.RecordAuditEvent(models.AuditEvent{
			Kind:      kind,
			Actor:     "alice",
			Subject:   "goal",
			Detail:    "U+200B ZERO WIDTH SPACE",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	all, err := q.ListAuditEvents("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, base.Add(2*time.Minute), all[0].CreatedAt)
	assert.Greater(t, all[0].ID, all[1].ID)

	sanitize, err := q.ListAuditEvents(KindSanitize, 0)
	require.NoError(t, err)
	assert.Len(t, sanitize, 2)

	limited, err := q.ListAuditEvents("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordAuditEvent_DefaultsTime(t *testing.T) {
	q := openTestDB(t)
	require.NoError(t, q.RecordAuditEvent(models.AuditEvent{Kind: KindSanitize}))
	events, err := q.ListAuditEvents("", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.WithinDuration(t, time.Now(), events[0].CreatedAt, time.Minute)
}

func TestLatestGateState(t *testing.T) {
	q := openTestDB(t)

	_, ok, err := q.LatestGateState()
	require.NoError(t, err)
	assert.False(t, ok)

	on := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, q.RecordGateToggle(models.GateState{Enabled: true, LastToggledAt: on, LastToggledBy: "ops"}))
	require.NoError(t, q.RecordAuditEvent(models.AuditEvent{Kind: KindSanitize}))

	state, ok, err := q.LatestGateState()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, state.Enabled)
	assert.Equal(t, "ops", state.LastToggledBy)
	assert.Equal(t, on, state.LastToggledAt)

	require.NoError(t, q.RecordGateToggle(models.GateState{Enabled: false, LastToggledAt: on.Add(time.Hour), LastToggledBy: "bob"}))
	state, ok, err = q.LatestGateState()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, state.Enabled)
	assert.Equal(t, "bob", state.LastToggledBy)
}

func TestPreviews(t *testing.T) {
	q := openTestDB(t)
	after := "# Intro\n"
	p := &models.Preview{
		ID:        "p1",
		SessionID: "s1",
		UserID:    "u1",
		Changes:   []models.FileChange{{Path: "docs/intro.md", Action: models.ActionCreate, After: &after}},
		Diffs:     []models.FileDiff{{Path: "docs/intro.md", Diff: "+# Intro\n", AddedLines: 1}},
		Stats:     models.ChangeStats{Files: 1, Created: 1, AddedChars: 8},
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, q.SavePreview(p))

	got, err := q.GetPreview("u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = q.GetPreview("u2", "p1")
	assert.ErrorIs(t, err, ErrPreviewNotFound)
	_, err = q.GetPreview("u1", "missing")
	assert.ErrorIs(t, err, ErrPreviewNotFound)

	second := *p
	second.ID = "p2"
	second.CreatedAt = p.CreatedAt.Add(time.Hour)
	require.NoError(t, q.SavePreview(&second))

	list, err := q.ListPreviews("u1", "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p2", list[0].ID)

	// Ids are unique.
	err = q.SavePreview(p)
	assert.Error(t, err)

	require.NoError(t, q.DeletePreview("p2"))
	require.NoError(t, q.DeletePreview("p2"))
	_, err = q.GetPreview("u1", "p2")
	assert.ErrorIs(t, err, ErrPreviewNotFound)
	list, err = q.ListPreviews("u1", "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].ID)
}

func TestScanAuditEvent_NoRows(t *testing.T) {
	q := openTestDB(t)
	row := q.db.QueryRow(`SELECT id, kind, actor, subject, detail, created_at FROM audit_events WHERE id = -1`)
	_, err := scanAuditEvent(row)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
