// Package gate implements the process-wide safety gate (kill-switch). When
// the gate is enabled every mutating operation must fail before doing I/O.
package gate

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/esnunes/studio/internal/models"
)

// ErrBlocked matches any *BlockedError via errors.Is.
var ErrBlocked = errors.New("safety gate active")

// BlockedError is returned by AssertNotBlocked while the gate is enabled.
type BlockedError struct {
	ToggledBy string
	ToggledAt time.Time
}

func (e *BlockedError) Error() string {
	if e.ToggledBy == "" {
		return "safety gate active: mutations are blocked"
	}
	return fmt.Sprintf("safety gate active: mutations are blocked (enabled by %s at %s)",
		e.ToggledBy, e.ToggledAt.UTC().Format(time.RFC3339))
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

// Recorder persists gate toggles for the audit trail.
type Recorder interface {
	RecordGateToggle(state models.GateState) error
}

// Gate is safe for concurrent use. Its state is changed only through
// SetEnabled.
type Gate struct {
	mu       sync.RWMutex
	state    models.GateState
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Gate)

func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithInitialState seeds the gate, e.g. from the last persisted toggle.
func WithInitialState(s models.GateState) Option {
	return func(g *Gate) { g.state = s }
}

func New(opts ...Option) *Gate {
	g := &Gate{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Status() models.GateState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// SetEnabled flips the gate. A failure to record the toggle is logged but
// never prevents the toggle itself: the switch must work when storage doesn't.
func (g *Gate) SetEnabled(enabled bool, actor string) models.GateState {
	g.mu.Lock()
	g.state = models.GateState{
		Enabled:       enabled,
		LastToggledAt: g.now(),
		LastToggledBy: actor,
	}
	state := g.state
	g.mu.Unlock()

	g.logger.Warn("safety gate toggled", "enabled", enabled, "actor", actor)
	if g.recorder != nil {
		if err := g.recorder.RecordGateToggle(state); err != nil {
			g.logger.Error("recording gate toggle", "error", err)
		}
	}
	return state
}

func (g *Gate) AssertNotBlocked() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state.Enabled {
		return &BlockedError{ToggledBy: g.state.LastToggledBy, ToggledAt: g.state.LastToggledAt}
	}
	return nil
}
