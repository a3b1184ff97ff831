// Package events defines the messages exchanged on the event bus: alert intake, approval
// lifecycle and workflow run outcomes.
package events

import (
	"time"

	"github.com/dukex/responder/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "responder.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	AlertReceivedEvent EventType = "alert.received"

	ApprovalRequestedEvent EventType = "approval.requested"
	ApprovalResolvedEvent  EventType = "approval.resolved"

	WorkflowRunCompletedEvent EventType = "workflow.run.completed"
	WorkflowRunFailedEvent    EventType = "workflow.run.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func newBaseEvent(eventType EventType, source string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

// AlertReceived asks the responder to run the matching workflow for an alert.
type AlertReceived struct {
	BaseEvent

	Alert models.Alert `json:"alert"`
}

func NewAlertReceived(source string, alert models.Alert) AlertReceived {
	return AlertReceived{BaseEvent: newBaseEvent(AlertReceivedEvent, source), Alert: alert}
}

func (e AlertReceived) GetType() EventType {
	return AlertReceivedEvent
}

// ApprovalRequested tells approver channels that a restricted action is waiting.
type ApprovalRequested struct {
	BaseEvent

	Request models.ApprovalRequest `json:"request"`
}

func NewApprovalRequested(source string, req models.ApprovalRequest) ApprovalRequested {
	return ApprovalRequested{BaseEvent: newBaseEvent(ApprovalRequestedEvent, source), Request: req}
}

func (e ApprovalRequested) GetType() EventType {
	return ApprovalRequestedEvent
}

// ApprovalResolved carries an approver's decision made outside the HTTP API.
type ApprovalResolved struct {
	BaseEvent

	ApprovalID string                `json:"approval_id"`
	Decision   models.ApprovalStatus `json:"decision"`
	Approver   string                `json:"approver"`
}

func NewApprovalResolved(source, approvalID string, decision models.ApprovalStatus, approver string) ApprovalResolved {
	return ApprovalResolved{
		BaseEvent:  newBaseEvent(ApprovalResolvedEvent, source),
		ApprovalID: approvalID,
		Decision:   decision,
		Approver:   approver,
	}
}

func (e ApprovalResolved) GetType() EventType {
	return ApprovalResolvedEvent
}

type WorkflowRunCompleted struct {
	BaseEvent

	Run      models.WorkflowRun `json:"run"`
	Duration time.Duration      `json:"duration"`
}

func (e WorkflowRunCompleted) GetType() EventType {
	return WorkflowRunCompletedEvent
}

type WorkflowRunFailed struct {
	BaseEvent

	Run      models.WorkflowRun `json:"run"`
	Error    string             `json:"error"`
	Duration time.Duration      `json:"duration"`
}

func (e WorkflowRunFailed) GetType() EventType {
	return WorkflowRunFailedEvent
}

// RunFinished builds the completed or failed event matching the run status.
func RunFinished(source string, run *models.WorkflowRun) interface{ GetType() EventType } {
	duration := time.Duration(0)
	if run.FinishedAt != nil {
		duration = run.FinishedAt.Sub(run.StartedAt)
	}

	if run.Status == models.RunStatusCompleted {
		return WorkflowRunCompleted{
			BaseEvent: newBaseEvent(WorkflowRunCompletedEvent, source),
			Run:       *run,
			Duration:  duration,
		}
	}

	return WorkflowRunFailed{
		BaseEvent: newBaseEvent(WorkflowRunFailedEvent, source),
		Run:       *run,
		Error:     run.Error,
		Duration:  duration,
	}
}
