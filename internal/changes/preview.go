package changes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/esnunes/studio/internal/gate"
	"github.com/esnunes/studio/internal/models"
	"github.com/esnunes/studio/internal/policy"
	"github.com/esnunes/studio/internal/sanitize"
	"github.com/esnunes/studio/internal/session"
)

type Sessions interface {
	Get(userID, sessionID string) (*models.AgentSession, error)
	Update(userID, sessionID string, patch session.Patch) (*models.AgentSession, error)
}

type PreviewStore interface {
	SavePreview(p *models.Preview) error
	GetPreview(userID, previewID string) (*models.Preview, error)
	DeletePreview(previewID string) error
}

type AuditRecorder interface {
	RecordAuditEvent(ev models.AuditEvent) error
}

// BuildRequest is one batch of proposed edits for a session.
type BuildRequest struct {
	UserID    string
	SessionID string
	Changes   []models.FileChange
	// Policy overrides; Actor names whoever approved them.
	Policy policy.Options
	Actor  string
}

// Builder turns proposed edits into a persisted, validated preview.
type Builder struct {
	gate     *gate.Gate
	policy   *policy.RepoPolicy
	sessions Sessions
	previews PreviewStore
	audit    AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
}

type BuilderOpts struct {
	Gate     *gate.Gate
	Policy   *policy.RepoPolicy
	Sessions Sessions
	Previews PreviewStore
	Audit    AuditRecorder
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewBuilder(opts BuilderOpts) *Builder {
	b := &Builder{
		gate:     opts.Gate,
		policy:   opts.Policy,
		sessions: opts.Sessions,
		previews: opts.Previews,
		audit:    opts.Audit,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Build validates req as a whole, renders diffs and statistics, saves the
// preview and records it on the session with a diff step. Nothing is
// persisted unless every change passes, and the saved preview is removed
// again when the session cannot record it.
func (b *Builder) Build(req BuildRequest) (*models.Preview, error) {
	if err := b.gate.AssertNotBlocked(); err != nil {
		return nil, err
	}
	started := b.now()

	if _, err := b.sessions.Get(req.UserID, req.SessionID); err != nil {
		return nil, err
	}

	var overrides []string
	accepted := make([]models.FileChange, len(req.Changes))
	for i, c := range req.Changes {
		if u := sanitize.Unicode(c.Path); len(u.Rejected) > 0 {
			return nil, fmt.Errorf("changes[%d]: %w", i, invalid(c.Path, "path", "contains hidden character %s", u.Rejected[0]))
		}
		if err := ValidateChange(c); err != nil {
			return nil, fmt.Errorf("changes[%d]: %w", i, err)
		}
		res := b.policy.Check(c.Path, req.Policy)
		if err := res.Err(); err != nil {
			return nil, fmt.Errorf("changes[%d]: %w", i, err)
		}
		if res.Override {
			overrides = append(overrides, res.Path)
		}
		c.Path = res.Path
		accepted[i] = c
	}
	if err := ValidateChanges(accepted); err != nil {
		return nil, err
	}

	p := &models.Preview{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Changes:   accepted,
		Diffs:     UnifiedDiffs(accepted),
		Stats:     CalculateStats(accepted),
		CreatedAt: b.now(),
	}
	if err := ValidatePreview(p); err != nil {
		return nil, err
	}
	if err := b.previews.SavePreview(p); err != nil {
		return nil, fmt.Errorf("saving preview: %w", err)
	}

	added, removed := 0, 0
	for _, d := range p.Diffs {
		added += d.AddedLines
		removed += d.RemovedLines
	}
	ended := b.now()
	step := models.Step{
		Type:      models.StepDiff,
		Status:    models.StepSucceeded,
		StartedAt: started,
		EndedAt:   &ended,
		Details:   fmt.Sprintf("%d files, +%d/-%d lines", p.Stats.Files, added, removed),
		Metadata: map[string]any{
			"previewId":    p.ID,
			"files":        p.Stats.Files,
			"addedLines":   added,
			"removedLines": removed,
		},
	}
	previewID := p.ID
	if _, err := b.sessions.Update(req.UserID, req.SessionID, session.Patch{PreviewID: &previewID, AddStep: &step}); err != nil {
		if derr := b.previews.DeletePreview(p.ID); derr != nil {
			b.logger.Error("removing unrecorded preview", "preview", p.ID, "error", derr)
		}
		return nil, fmt.Errorf("recording preview on session: %w", err)
	}
	b.recordOverrides(req, overrides)
	return p, nil
}

// Get returns a saved preview belonging to the given user and session.
func (b *Builder) Get(userID, sessionID, previewID string) (*models.Preview, error) {
	p, err := b.previews.GetPreview(userID, previewID)
	if err != nil {
		return nil, err
	}
	if p.SessionID != sessionID {
		return nil, session.ErrNotFound
	}
	return p, nil
}

func (b *Builder) recordOverrides(req BuildRequest, paths []string) {
	for _, p := range paths {
		b.logger.Warn("preview used path policy override",
			"session", req.SessionID, "path", p, "actor", req.Actor)
		if b.audit == nil {
			continue
		}
		err := b.audit.RecordAuditEvent(models.AuditEvent{
			Kind:      "policy_override",
			Actor:     req.Actor,
			Subject:   p,
			Detail:    fmt.Sprintf("session %s allow_forbidden=%t allow_non_whitelisted=%t", req.SessionID, req.Policy.AllowForbidden, req.Policy.AllowNonWhitelisted),
			CreatedAt: b.now(),
		})
		if err != nil {
			b.logger.Error("recording policy override", "error", err)
		}
	}
}
