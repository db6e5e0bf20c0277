package session

import (
	"errors"
	"fmt"

	"github.com/esnunes/studio/internal/models"
)

// transitions is the only definition of legal lifecycle moves. Applied is
// terminal; failed can only be retried by going back to planning.
var transitions = map[models.SessionState][]models.SessionState{
	models.StateCreated:          {models.StatePlanning, models.StateFailed},
	models.StatePlanning:         {models.StatePreviewReady, models.StateFailed},
	models.StatePreviewReady:     {models.StateAwaitingApproval, models.StatePlanning, models.StateFailed},
	models.StateAwaitingApproval: {models.StateApplying, models.StatePreviewReady, models.StateFailed},
	models.StateApplying:         {models.StateApplied, models.StateFailed},
	models.StateApplied:          {},
	models.StateFailed:           {models.StatePlanning},
}

// ErrInvalidTransition matches any *TransitionError via errors.Is.
var ErrInvalidTransition = errors.New("invalid session state transition")

type TransitionError struct {
	From models.SessionState
	To   models.SessionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session state transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// AllowedTransitions returns a copy of the destinations reachable from s.
func AllowedTransitions(s models.SessionState) []models.SessionState {
	return append([]models.SessionState(nil), transitions[s]...)
}

func CanTransition(from, to models.SessionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition fails closed: unknown states have no destinations.
func checkTransition(from, to models.SessionState) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
