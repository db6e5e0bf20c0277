package models

import "time"

type SessionState string

const (
	StateCreated          SessionState = "created"
	StatePlanning         SessionState = "planning"
	StatePreviewReady     SessionState = "preview_ready"
	StateAwaitingApproval SessionState = "awaiting_approval"
	StateApplying         SessionState = "applying"
	StateApplied          SessionState = "applied"
	StateFailed           SessionState = "failed"
)

// States lists every lifecycle state in workflow order.
var States = []SessionState{
	StateCreated,
	StatePlanning,
	StatePreviewReady,
	StateAwaitingApproval,
	StateApplying,
	StateApplied,
	StateFailed,
}

func (s SessionState) Valid() bool {
	for _, v := range States {
		if v == s {
			return true
		}
	}
	return false
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type StepType string

const (
	StepPlan    StepType = "plan"
	StepContext StepType = "context"
	StepModel   StepType = "model"
	StepDiff    StepType = "diff"
	StepApply   StepType = "apply"
)

type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

type RepoBinding struct {
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	BaseBranch string `json:"baseBranch,omitempty"`
}

type Message struct {
	Role      MessageRole `json:"role"` // "user", "assistant"
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

type Step struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Type      StepType       `json:"type"`
	Status    StepStatus     `json:"status"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   *time.Time     `json:"endedAt,omitempty"`
	Details   string         `json:"details,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Branch string `json:"branch,omitempty"`
}

type AgentSession struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	Name        string       `json:"name"`
	Model       string       `json:"model"`
	Goal        string       `json:"goal"`
	Repo        *RepoBinding `json:"repo,omitempty"`
	State       SessionState `json:"state"`
	Messages    []Message    `json:"messages"`
	Steps       []Step       `json:"steps"`
	PreviewID   string       `json:"previewId,omitempty"`
	PullRequest *PullRequest `json:"pullRequest,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`

	// Derived on every update (not supplied by callers)
	LastMessagePreview string `json:"lastMessagePreview,omitempty"`
}

type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
)

type FileChange struct {
	Path   string       `json:"path"`
	Action ChangeAction `json:"action"`
	Before *string      `json:"before,omitempty"`
	After  *string      `json:"after,omitempty"`
}

type FileDiff struct {
	Path         string `json:"path"`
	Diff         string `json:"diff"`
	AddedLines   int    `json:"addedLines"`
	RemovedLines int    `json:"removedLines"`
}

// ChangeStats counts characters, not diff lines: an update that rewrites a
// line in place with the same length contributes nothing to either total.
type ChangeStats struct {
	Files        int `json:"files"`
	AddedChars   int `json:"addedChars"`
	RemovedChars int `json:"removedChars"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Deleted      int `json:"deleted"`
}

type Preview struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionId"`
	UserID    string       `json:"userId"`
	Changes   []FileChange `json:"changes"`
	Diffs     []FileDiff   `json:"diffs"`
	Stats     ChangeStats  `json:"stats"`
	CreatedAt time.Time    `json:"createdAt"`
}

type GateState struct {
	Enabled       bool      `json:"enabled"`
	LastToggledAt time.Time `json:"lastToggledAt"`
	LastToggledBy string    `json:"lastToggledBy,omitempty"`
}

type AuditEvent struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"` // gate_toggle, policy_override or sanitize
	Actor     string    `json:"actor"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}
