package models

import "time"

// ApprovalStatus is the state of an approval request. Every state but pending is terminal.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalDenied || s == ApprovalExpired
}

// Valid reports whether s is a known status.
func (s ApprovalStatus) Valid() bool {
	return s == ApprovalPending || s.Terminal()
}

// Action is the concrete operation a restricted step asks permission for.
type Action struct {
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	AlertID  string   `json:"alert_id"`
	RunID    string   `json:"run_id,omitempty"`
	Target   string   `json:"target,omitempty"`
}

// ApprovalRequest tracks a human sign-off for one action.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	Action      Action         `json:"action"`
	RequestedBy string         `json:"requested_by"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	Status      ApprovalStatus `json:"status"`
}

// Clone returns a deep copy so stored requests cannot be mutated through returned values.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}

	out := *r
	if r.ResolvedAt != nil {
		resolvedAt := *r.ResolvedAt
		out.ResolvedAt = &resolvedAt
	}

	return &out
}

// ApprovalPolicy decides which actions need sign-off and how long approvers have.
type ApprovalPolicy struct {
	SeverityThreshold     Severity `json:"severity_threshold"      yaml:"severity_threshold"      validate:"required,oneof=low medium high critical"`
	RestrictedActionTypes []string `json:"restricted_action_types" yaml:"restricted_action_types"`
	ApprovalTimeoutMs     int64    `json:"approval_timeout_ms"     yaml:"approval_timeout_ms"     validate:"gt=0"`
}

// ApprovalTimeout returns the policy timeout as a duration.
func (p ApprovalPolicy) ApprovalTimeout() time.Duration {
	return time.Duration(p.ApprovalTimeoutMs) * time.Millisecond
}
