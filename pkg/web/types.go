package web

import (
	"time"

	"github.com/dukex/responder/pkg/models"
)

// SubmitAlertResponse is returned once an alert has been queued for its workflow.
type SubmitAlertResponse struct {
	RunID   string `json:"run_id"`
	AlertID string `json:"alert_id"`
	Status  string `json:"status"`
}

// ResolveApprovalRequest carries an approver's decision on a pending request.
type ResolveApprovalRequest struct {
	Decision models.ApprovalStatus `json:"decision" validate:"required,oneof=approved denied"`
	Approver string                `json:"approver" validate:"required"`
}

type ApprovalListResponse struct {
	Approvals  []*models.ApprovalRequest `json:"approvals"`
	TotalCount int                       `json:"total_count"`
}

// AuditTrailResponse is the audit trail of one run, in write order.
type AuditTrailResponse struct {
	RunID   string              `json:"run_id"`
	Entries []models.AuditEntry `json:"entries"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Checkers  map[string]string `json:"checkers"`
	Timestamp time.Time         `json:"timestamp"`
}
