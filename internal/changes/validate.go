// Package changes validates batches of proposed file edits, summarizes them
// and renders unified diffs.
package changes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/esnunes/studio/internal/models"
)

// ErrInvalidChange matches any *ValidationError via errors.Is.
var ErrInvalidChange = errors.New("invalid change")

// ValidationError names the offending path or field.
type ValidationError struct {
	Path  string
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Path != "" && e.Field != "":
		return fmt.Sprintf("invalid change %q: %s: %s", e.Path, e.Field, e.Msg)
	case e.Path != "":
		return fmt.Sprintf("invalid change %q: %s", e.Path, e.Msg)
	default:
		return fmt.Sprintf("invalid change: %s: %s", e.Field, e.Msg)
	}
}

func (e *ValidationError) Unwrap() error { return ErrInvalidChange }

func invalid(path, field, format string, args ...any) error {
	return &ValidationError{Path: path, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ValidateChange enforces the per-action content rules: create needs after
// and no before, delete needs before and no after, update needs both.
func ValidateChange(c models.FileChange) error {
	if strings.TrimSpace(c.Path) == "" {
		return invalid("", "path", "must not be empty")
	}
	if strings.HasPrefix(c.Path, "/") || strings.HasPrefix(c.Path, `\`) {
		return invalid(c.Path, "path", "must be relative to the repository root")
	}
	for _, seg := range strings.FieldsFunc(c.Path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return invalid(c.Path, "path", "must not contain .. segments")
		}
	}

	switch c.Action {
	case models.ActionCreate:
		if c.After == nil {
			return invalid(c.Path, "after", "required for create")
		}
		if c.Before != nil {
			return invalid(c.Path, "before", "not allowed for create")
		}
	case models.ActionDelete:
		if c.Before == nil {
			return invalid(c.Path, "before", "required for delete")
		}
		if c.After != nil {
			return invalid(c.Path, "after", "not allowed for delete")
		}
	case models.ActionUpdate:
		if c.Before == nil {
			return invalid(c.Path, "before", "required for update")
		}
		if c.After == nil {
			return invalid(c.Path, "after", "required for update")
		}
	default:
		return invalid(c.Path, "action", "unknown action %q", c.Action)
	}
	return nil
}

// ValidateChanges accepts the whole batch or none of it.
func ValidateChanges(cs []models.FileChange) error {
	if len(cs) == 0 {
		return invalid("", "changes", "at least one change is required")
	}
	seen := make(map[string]bool, len(cs))
	for i, c := range cs {
		if err := ValidateChange(c); err != nil {
			return fmt.Errorf("changes[%d]: %w", i, err)
		}
		if seen[c.Path] {
			return invalid(c.Path, "path", "duplicated in batch")
		}
		seen[c.Path] = true
	}
	return nil
}

// ValidatePreview checks a preview's internal consistency. Mismatches are
// reported, never corrected.
func ValidatePreview(p *models.Preview) error {
	if strings.TrimSpace(p.SessionID) == "" {
		return invalid("", "sessionId", "must not be empty")
	}
	if len(p.Diffs) != len(p.Changes) {
		return invalid("", "diffs", "have %d entries for %d changes", len(p.Diffs), len(p.Changes))
	}
	want := CalculateStats(p.Changes)
	got := p.Stats
	if got.Files != want.Files {
		return invalid("", "stats.files", "is %d, expected %d", got.Files, want.Files)
	}
	if got.Created != want.Created {
		return invalid("", "stats.created", "is %d, expected %d", got.Created, want.Created)
	}
	if got.Updated != want.Updated {
		return invalid("", "stats.updated", "is %d, expected %d", got.Updated, want.Updated)
	}
	if got.Deleted != want.Deleted {
		return invalid("", "stats.deleted", "is %d, expected %d", got.Deleted, want.Deleted)
	}
	return nil
}
