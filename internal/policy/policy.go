// Package policy classifies file paths as allowed or denied. Two independent
// checks live here: FSGuard protects the host's own storage directory, and
// RepoPolicy restricts which repository files an agent may propose to change.
package policy

import "fmt"

type Reason string

const (
	ReasonForbidden      Reason = "FORBIDDEN_PATH"
	ReasonNotWhitelisted Reason = "NOT_WHITELISTED"
	ReasonEmpty          Reason = "EMPTY_PATH"
)

// Result is the outcome of a policy query. Query functions return it instead
// of an error so callers decide whether a refusal is fatal.
type Result struct {
	Allowed bool   `json:"allowed"`
	Path    string `json:"path"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	// Override is set when an explicit caller override turned a refusal
	// into an allow.
	Override bool `json:"override,omitempty"`
}

// Err converts a refusal into a *Violation. It returns nil when allowed.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &Violation{Path: r.Path, Code: r.Reason, Message: r.Message}
}

type Violation struct {
	Path    string
	Code    Reason
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("path policy violation (%s): %q: %s", v.Code, v.Path, v.Message)
}

func denied(path string, reason Reason, format string, args ...any) Result {
	return Result{Path: path, Reason: reason, Message: fmt.Sprintf(format, args...)}
}
