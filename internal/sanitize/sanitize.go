// Package sanitize cleans untrusted text before the rest of the system
// trusts it. Unicode removes hidden and control characters; HTML removes
// active markup. Both are pure.
package sanitize

import (
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/esnunes/studio/internal/models"
)

// slackPasses covers the passes that rewrite without shrinking (NUL to
// U+FFFD, NFC of composition exclusions). Every other productive pass removes
// at least one byte, so the fixpoint loops stop long before passLimit.
const slackPasses = 8

func passLimit(s string) int {
	return len(s) + slackPasses
}

type Report struct {
	Clean    string
	Rejected []Rejected
	Flagged  []string
	Changed  bool
}

// Text applies Unicode then HTML, repeating until neither changes the
// result, so Text(Text(x).Clean).Clean == Text(x).Clean when EscapeHTML is off.
func Text(input string, opts Options) Report {
	rep := Report{}
	seen := map[string]bool{}
	out := truncate(input, opts.MaxLength)
	for i, limit := 0, passLimit(out); i < limit; i++ {
		u := Unicode(out)
		rep.Rejected = append(rep.Rejected, u.Rejected...)
		for _, f := range u.Flagged {
			if !seen[f] {
				seen[f] = true
				rep.Flagged = append(rep.Flagged, f)
			}
		}
		next := stripMarkup(u.Clean, opts.StripTags)
		if next == out {
			break
		}
		out = next
	}
	if opts.EscapeHTML {
		out = html.EscapeString(out)
	}
	rep.Clean = out
	rep.Changed = out != input
	return rep
}

// Clean is Text with DefaultOptions, returning only the cleaned string.
func Clean(input string) string {
	return Text(input, DefaultOptions).Clean
}

// Recorder persists sanitizer rejections for the audit trail.
type Recorder interface {
	RecordAuditEvent(ev models.AuditEvent) error
}

// Sanitizer wraps Text with audit logging.
type Sanitizer struct {
	opts     Options
	logger   *slog.Logger
	recorder Recorder
}

type Option func(*Sanitizer)

func WithLogger(l *slog.Logger) Option {
	return func(s *Sanitizer) { s.logger = l }
}

func WithRecorder(r Recorder) Option {
	return func(s *Sanitizer) { s.recorder = r }
}

func WithOptions(o Options) Option {
	return func(s *Sanitizer) { s.opts = o }
}

func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{opts: DefaultOptions, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clean sanitizes input for the named field. Changes, rejections and flagged
// scripts are logged; rejections are also recorded.
func (s *Sanitizer) Clean(field, input string) string {
	rep := Text(input, s.opts)
	if len(rep.Flagged) > 0 {
		s.logger.Info("sanitize: non-latin text", "field", field, "scripts", rep.Flagged)
	}
	if !rep.Changed {
		return rep.Clean
	}

	names := make([]string, len(rep.Rejected))
	for i, r := range rep.Rejected {
		names[i] = r.String()
	}
	s.logger.Warn("sanitize: input modified", "field", field,
		"rejected", names, "before_len", len(input), "after_len", len(rep.Clean))

	if s.recorder != nil && len(names) > 0 {
		err := s.recorder.RecordAuditEvent(models.AuditEvent{
			Kind:      "sanitize",
			Subject:   field,
			Detail:    strings.Join(names, ", "),
			CreatedAt: time.Now(),
		})
		if err != nil {
			s.logger.Error("recording sanitize event", "error", err)
		}
	}
	return rep.Clean
}
