package models

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// StepStatus is the terminal outcome of one step.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusSkipped StepStatus = "skipped"
	StepStatusFailed  StepStatus = "failed"
	StepStatusDenied  StepStatus = "denied"
	StepStatusExpired StepStatus = "expired"
)

// IsFailure reports whether the status counts as a failure for required-step propagation.
func (s StepStatus) IsFailure() bool {
	return s == StepStatusFailed || s == StepStatusDenied || s == StepStatusExpired
}

// StepOutput is whatever a capability returns.
type StepOutput map[string]any

// WorkflowRun is one execution of a WorkflowDefinition against one alert.
type WorkflowRun struct {
	ID         string       `json:"id"`
	AlertID    string       `json:"alert_id"`
	Definition string       `json:"definition"`
	StartedAt  time.Time    `json:"timestamp"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Steps      []StepResult `json:"steps"`
	Status     RunStatus    `json:"status"`
	Error      string       `json:"error,omitempty"`
}

// Snapshot returns a copy that is safe to hand to other goroutines.
func (r *WorkflowRun) Snapshot() *WorkflowRun {
	out := *r
	out.Steps = append([]StepResult(nil), r.Steps...)

	return &out
}

// StepResult records how one step ended.
type StepResult struct {
	StepName   string     `json:"step_name"`
	Status     StepStatus `json:"status"`
	Output     StepOutput `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`
	ApprovalID string     `json:"approval_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// RunContext is what a capability sees when invoked: the alert and everything
// produced by earlier steps of the same run.
type RunContext struct {
	RunID       string
	Alert       Alert
	Step        StepSpec
	StepOutputs map[string]StepOutput
	Attempt     int
}
