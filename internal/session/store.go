// Package session is the durable store for agent sessions. It owns the
// lifecycle state machine: every state change goes through Update.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/esnunes/studio/internal/gate"
	"github.com/esnunes/studio/internal/models"
	"github.com/esnunes/studio/internal/policy"
	"github.com/esnunes/studio/internal/sanitize"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrUserRequired     = errors.New("user id is required")
	ErrGoalRequired     = errors.New("session goal is required")
	ErrIDTaken          = errors.New("session id already in use")
	ErrConflictingSteps = errors.New("steps and addStep cannot be combined in one update")
	ErrInvalidPatch     = errors.New("invalid session update")
)

const previewLength = 100

type CreateInput struct {
	ID            string              `json:"id,omitempty"`
	Name          string              `json:"name"`
	Model         string              `json:"model"`
	Goal          string              `json:"goal"`
	Repo          *models.RepoBinding `json:"repo,omitempty"`
	InitialPrompt string              `json:"initialPrompt,omitempty"`
}

// Patch describes an update. Nil fields are left untouched. Messages, when
// non-nil, replace the whole list. Steps replaces the timeline and AddStep
// appends to it; supplying both is an error.
type Patch struct {
	Name        *string              `json:"name,omitempty"`
	Model       *string              `json:"model,omitempty"`
	Goal        *string              `json:"goal,omitempty"`
	Repo        *models.RepoBinding  `json:"repo,omitempty"`
	State       *models.SessionState `json:"state,omitempty"`
	Messages    []models.Message     `json:"messages,omitempty"`
	Steps       []models.Step        `json:"steps,omitempty"`
	AddStep     *models.Step         `json:"addStep,omitempty"`
	PreviewID   *string              `json:"previewId,omitempty"`
	PullRequest *models.PullRequest  `json:"pullRequest,omitempty"`
}

type fileFormat struct {
	Sessions []models.AgentSession `json:"sessions"`
}

// Store keeps every session in memory and mirrors it to a single JSON file.
// Reads are served from the cache. Mutations update the cache first and then
// queue the file write, so writes never interleave within this process.
// A failed write rolls the cache back unless a later mutation has already
// been committed on top of it. Nothing protects the file from a second
// process.
type Store struct {
	path      string
	guard     *policy.FSGuard
	gate      *gate.Gate
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	loaded   bool
	sessions []models.AgentSession // newest first
	head     uint64                // ticket of the commit that produced sessions
	queue    *writeQueue
}

type Opts struct {
	Path      string
	Guard     *policy.FSGuard
	Gate      *gate.Gate
	Sanitizer *sanitize.Sanitizer
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(opts Opts) (*Store, error) {
	if opts.Guard == nil {
		return nil, errors.New("session store: fs guard is required")
	}
	if opts.Gate == nil {
		return nil, errors.New("session store: gate is required")
	}
	if err := opts.Guard.Assert(opts.Path); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	s := &Store{
		path:      opts.Path,
		guard:     opts.Guard,
		gate:      opts.Gate,
		sanitizer: opts.Sanitizer,
		logger:    opts.Logger,
		now:       opts.Now,
		queue:     newWriteQueue(),
	}
	if s.sanitizer == nil {
		s.sanitizer = sanitize.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// List returns the user's sessions, most recently updated first.
func (s *Store) List(userID string) ([]models.AgentSession, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AgentSession
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, cloneSession(sess))
		}
	}
	slices.SortStableFunc(out, func(a, b models.AgentSession) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

func (s *Store) Get(userID, sessionID string) (*models.AgentSession, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(sessionID)
	if idx < 0 || s.sessions[idx].UserID != userID {
		return nil, ErrNotFound
	}
	sess := cloneSession(s.sessions[idx])
	return &sess, nil
}

// Create stores a new session in state created. Creating an id that the
// same user already owns returns the existing session unchanged.
func (s *Store) Create(userID string, in CreateInput) (*models.AgentSession, error) {
	if err := s.gate.AssertNotBlocked(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	if sess, ok, err := s.existing(userID, in.ID); ok {
		return sess, err
	}

	goal := strings.TrimSpace(s.sanitizer.Clean("goal", in.Goal))
	if goal == "" {
		return nil, ErrGoalRequired
	}

	s.mu.Lock()
	if in.ID != "" {
		if idx := s.indexOf(in.ID); idx >= 0 {
			s.mu.Unlock()
			sess, _, err := s.existing(userID, in.ID)
			return sess, err
		}
	}

	now := s.now()
	sess := models.AgentSession{
		ID:        in.ID,
		UserID:    userID,
		Name:      s.sanitizer.Clean("name", in.Name),
		Model:     s.sanitizer.Clean("model", in.Model),
		Goal:      goal,
		Repo:      cloneRepo(in.Repo),
		State:     models.StateCreated,
		Messages:  []models.Message{},
		Steps:     []models.Step{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if prompt := strings.TrimSpace(s.sanitizer.Clean("initialPrompt", in.InitialPrompt)); prompt != "" {
		sess.Messages = append(sess.Messages, models.Message{Role: models.RoleUser, Content: prompt, Timestamp: now})
	}
	sess.LastMessagePreview = lastMessagePreview(sess.Messages)

	next := make([]models.AgentSession, 0, len(s.sessions)+1)
	next = append(next, sess)
	next = append(next, s.sessions...)
	if err := s.commitLocked(next); err != nil {
		return nil, err
	}
	s.logger.Info("session created", "session", sess.ID, "user", userID)
	out := cloneSession(sess)
	return &out, nil
}

// existing reports whether id is already stored, returning the session when
// userID owns it and ErrIDTaken otherwise.
func (s *Store) existing(userID, id string) (*models.AgentSession, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return nil, false, nil
	}
	if s.sessions[idx].UserID != userID {
		return nil, true, ErrIDTaken
	}
	sess := cloneSession(s.sessions[idx])
	return &sess, true, nil
}

// Update applies patch to a session owned by userID. A state change must be
// allowed by the transition table; nothing is written when any part of the
// patch is rejected.
func (s *Store) Update(userID, sessionID string, patch Patch) (*models.AgentSession, error) {
	if err := s.gate.AssertNotBlocked(); err != nil {
		return nil, err
	}
	if patch.Steps != nil && patch.AddStep != nil {
		return nil, ErrConflictingSteps
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	idx := s.indexOf(sessionID)
	if idx < 0 || s.sessions[idx].UserID != userID {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	sess := cloneSession(s.sessions[idx])
	if err := s.apply(&sess, patch); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	next := slices.Clone(s.sessions)
	next[idx] = sess
	if err := s.commitLocked(next); err != nil {
		return nil, err
	}
	out := cloneSession(sess)
	return &out, nil
}

func (s *Store) apply(sess *models.AgentSession, p Patch) error {
	now := s.now()

	if p.State != nil && *p.State != sess.State {
		if err := checkTransition(sess.State, *p.State); err != nil {
			return err
		}
		s.logger.Info("session state changed", "session", sess.ID, "from", sess.State, "to", *p.State)
		sess.State = *p.State
	}
	if p.Name != nil {
		sess.Name = s.sanitizer.Clean("name", *p.Name)
	}
	if p.Model != nil {
		sess.Model = s.sanitizer.Clean("model", *p.Model)
	}
	if p.Goal != nil {
		goal := strings.TrimSpace(s.sanitizer.Clean("goal", *p.Goal))
		if goal == "" {
			return ErrGoalRequired
		}
		sess.Goal = goal
	}
	if p.Repo != nil {
		sess.Repo = cloneRepo(p.Repo)
	}
	if p.Messages != nil {
		msgs := make([]models.Message, len(p.Messages))
		for i, m := range p.Messages {
			if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
				return fmt.Errorf("%w: messages[%d]: unknown role %q", ErrInvalidPatch, i, m.Role)
			}
			m.Content = s.sanitizer.Clean("message", m.Content)
			if m.Timestamp.IsZero() {
				m.Timestamp = now
			}
			msgs[i] = m
		}
		sess.Messages = msgs
	}
	if p.Steps != nil {
		steps := make([]models.Step, len(p.Steps))
		for i, st := range p.Steps {
			norm, err := normalizeStep(sess.ID, st, now)
			if err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
			steps[i] = norm
		}
		sess.Steps = steps
	}
	if p.AddStep != nil {
		st, err := normalizeStep(sess.ID, *p.AddStep, now)
		if err != nil {
			return fmt.Errorf("addStep: %w", err)
		}
		sess.Steps = append(sess.Steps, st)
	}
	if p.PreviewID != nil {
		sess.PreviewID = *p.PreviewID
	}
	if p.PullRequest != nil {
		pr := *p.PullRequest
		sess.PullRequest = &pr
	}

	sess.LastMessagePreview = lastMessagePreview(sess.Messages)
	sess.UpdatedAt = now
	if sess.UpdatedAt.Before(sess.CreatedAt) {
		sess.UpdatedAt = sess.CreatedAt
	}
	return nil
}

// commitLocked swaps in the new cache and queues its write. It must be called
// with s.mu held and releases it before waiting on the disk.
func (s *Store) commitLocked(next []models.AgentSession) error {
	data, err := json.MarshalIndent(fileFormat{Sessions: next}, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("encoding sessions: %w", err)
	}
	prev := s.sessions
	t := s.queue.ticket()
	s.sessions = next
	s.head = t
	s.mu.Unlock()

	if err := s.queue.run(t, func() error { return s.persist(data) }); err != nil {
		s.mu.Lock()
		rolledBack := s.head == t
		if rolledBack {
			s.sessions = prev
		}
		s.mu.Unlock()
		s.logger.Error("persisting sessions", "path", s.path, "error", err, "rolled_back", rolledBack)
		return fmt.Errorf("persisting sessions: %w", err)
	}
	return nil
}

func (s *Store) load() error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	if err := s.guard.Assert(s.path); err != nil {
		return err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.sessions = nil
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading sessions: %w", err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("decoding sessions: %w", err)
	}
	s.sessions = ff.Sessions
	s.loaded = true
	return nil
}

// persist writes via a temp file and rename so readers of the file never see
// a partial document.
func (s *Store) persist(data []byte) error {
	if err := s.guard.Assert(s.path); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func (s *Store) indexOf(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func normalizeStep(sessionID string, st models.Step, now time.Time) (models.Step, error) {
	switch st.Type {
	case models.StepPlan, models.StepContext, models.StepModel, models.StepDiff, models.StepApply:
	default:
		return st, fmt.Errorf("%w: unknown step type %q", ErrInvalidPatch, st.Type)
	}
	switch st.Status {
	case models.StepStarted, models.StepSucceeded, models.StepFailed:
	default:
		return st, fmt.Errorf("%w: unknown step status %q", ErrInvalidPatch, st.Status)
	}
	if st.ID == "" {
		st.ID = ulid.Make().String()
	}
	st.SessionID = sessionID
	if st.StartedAt.IsZero() {
		st.StartedAt = now
	}
	if st.EndedAt != nil && st.EndedAt.Before(st.StartedAt) {
		return st, fmt.Errorf("%w: step %s ends before it starts", ErrInvalidPatch, st.ID)
	}
	return st, nil
}

// lastMessagePreview is the trailing non-empty message, cut to 100 runes.
func lastMessagePreview(msgs []models.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		c := strings.TrimSpace(msgs[i].Content)
		if c == "" {
			continue
		}
		if utf8.RuneCountInString(c) <= previewLength {
			return c
		}
		return string([]rune(c)[:previewLength])
	}
	return ""
}

func cloneSession(s models.AgentSession) models.AgentSession {
	s.Repo = cloneRepo(s.Repo)
	s.Messages = slices.Clone(s.Messages)
	s.Steps = slices.Clone(s.Steps)
	for i := range s.Steps {
		if s.Steps[i].EndedAt != nil {
			t := *s.Steps[i].EndedAt
			s.Steps[i].EndedAt = &t
		}
	}
	if s.PullRequest != nil {
		pr := *s.PullRequest
		s.PullRequest = &pr
	}
	return s
}

func cloneRepo(r *models.RepoBinding) *models.RepoBinding {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
