package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/esnunes/studio/internal/models"
)

const (
	KindGateToggle     = "gate_toggle"
	KindPolicyOverride = "policy_override"
	KindSanitize       = "sanitize"
)

var ErrPreviewNotFound = errors.New("preview not found")

// Timestamps are stored in UTC with fixed-width nanoseconds so that text
// ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Queries struct {
	db *sql.DB
}

func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Audit events

func (q *Queries) RecordAuditEvent(ev models.AuditEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := q.db.Exec(
		`INSERT INTO audit_events (kind, actor, subject, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.Kind, ev.Actor, ev.Subject, ev.Detail, ev.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	return nil
}

// RecordGateToggle stores a toggle so the gate can be restored on restart.
func (q *Queries) RecordGateToggle(s models.GateState) error {
	detail := "disabled"
	if s.Enabled {
		detail = "enabled"
	}
	return q.RecordAuditEvent(models.AuditEvent{
		Kind:      KindGateToggle,
		Actor:     s.LastToggledBy,
		Subject:   "gate",
		Detail:    detail,
		CreatedAt: s.LastToggledAt,
	})
}

// ListAuditEvents returns the most recent events first. kind filters when
// non-empty; limit <= 0 means 100.
func (q *Queries) ListAuditEvents(kind string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.Query(
		`SELECT id, kind, actor, subject, detail, created_at FROM audit_events
		 WHERE (? = '' OR kind = ?)
		 ORDER BY id DESC LIMIT ?`, kind, kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var results []models.AuditEvent
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *ev)
	}
	return results, rows.Err()
}

// LatestGateState returns the state left by the last recorded toggle. ok is
// false when the gate was never toggled.
func (q *Queries) LatestGateState() (state models.GateState, ok bool, err error) {
	row := q.db.QueryRow(
		`SELECT id, kind, actor, subject, detail, created_at FROM audit_events
		 WHERE kind = ? ORDER BY id DESC LIMIT 1`, KindGateToggle,
	)
	ev, err := scanAuditEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GateState{}, false, nil
	}
	if err != nil {
		return models.GateState{}, false, err
	}
	return models.GateState{
		Enabled:       ev.Detail == "enabled",
		LastToggledAt: ev.CreatedAt,
		LastToggledBy: ev.Actor,
	}, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAuditEvent(s scanner) (*models.AuditEvent, error) {
	ev := &models.AuditEvent{}
	var createdAt string
	if err := s.Scan(&ev.ID, &ev.Kind, &ev.Actor, &ev.Subject, &ev.Detail, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning audit event: %w", err)
	}
	ev.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return ev, nil
}

// Previews

func (q *Queries) SavePreview(p *models.Preview) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding preview: %w", err)
	}
	_, err = q.db.Exec(
		`INSERT INTO previews (id, session_id, user_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.UserID, string(payload), p.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving preview: %w", err)
	}
	return nil
}

// GetPreview only returns previews owned by userID.
func (q *Queries) GetPreview(userID, previewID string) (*models.Preview, error) {
	var payload string
	err := q.db.QueryRow(
		`SELECT payload FROM previews WHERE id = ? AND user_id = ?`, previewID, userID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPreviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting preview: %w", err)
	}
	p := &models.Preview{}
	if err := json.Unmarshal([]byte(payload), p); err != nil {
		return nil, fmt.Errorf("decoding preview: %w", err)
	}
	return p, nil
}

// DeletePreview removes a preview. Deleting a missing id is not an error.
func (q *Queries) DeletePreview(previewID string) error {
	if _, err := q.db.Exec(`DELETE FROM previews WHERE id = ?`, previewID); err != nil {
		return fmt.Errorf("deleting preview: %w", err)
	}
	return nil
}

// ListPreviews returns a session's previews, newest first.
func (q *Queries) ListPreviews(userID, sessionID string) ([]models.Preview, error) {
	rows, err := q.db.Query(
		`SELECT payload FROM previews WHERE user_id = ? AND session_id = ?
		 ORDER BY created_at DESC`, userID, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing previews: %w", err)
	}
	defer rows.Close()

	var results []models.Preview
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning preview: %w", err)
		}
		var p models.Preview
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decoding preview: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}
