package models

import "time"

// AuditEventType separates things that were done from things that were decided.
type AuditEventType string

const (
	AuditEventAction   AuditEventType = "action"
	AuditEventDecision AuditEventType = "decision"
)

// AuditEntry is one immutable line of the audit trail.
type AuditEntry struct {
	Timestamp     time.Time      `json:"timestamp"`
	EventType     AuditEventType `json:"event_type"`
	Actor         string         `json:"actor"`
	Action        string         `json:"action,omitempty"`
	Decision      string         `json:"decision,omitempty"`
	Input         any            `json:"input,omitempty"`
	Output        any            `json:"output,omitempty"`
	Status        string         `json:"status,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Reasoning     string         `json:"reasoning,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty"`
}

// Day returns the UTC calendar day that partitions the entry.
func (e AuditEntry) Day() time.Time {
	t := e.Timestamp.UTC()

	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
