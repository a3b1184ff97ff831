// Package notify delivers approval requests to the humans or systems that decide them.
// Delivery is best effort: the approval gate only logs a failed notification.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukex/responder/pkg/eventbus"
	"github.com/dukex/responder/pkg/events"
	"github.com/dukex/responder/pkg/models"
)

// Sink delivers one approval request.
type Sink interface {
	Notify(ctx context.Context, req *models.ApprovalRequest) error
}

// LogSink writes requests to the service log, which is enough for a single operator
// watching the console.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("module", "notify_log")}
}

func (s *LogSink) Notify(ctx context.Context, req *models.ApprovalRequest) error {
	s.logger.InfoContext(ctx, "Approval required",
		"approval_id", req.ID,
		"action_type", req.Action.Type,
		"action", req.Action.Name,
		"severity", req.Action.Severity,
		"alert_id", req.Action.AlertID,
		"run_id", req.Action.RunID,
		"expires_at", req.ExpiresAt,
	)

	return nil
}

// WebhookSink POSTs the request as JSON, for chat-ops or paging integrations.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhookSink(url string, headers map[string]string, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{}
	}

	return &WebhookSink{url: url, headers: headers, client: client}
}

func (s *WebhookSink) Notify(ctx context.Context, req *models.ApprovalRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode approval request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	for key, value := range s.headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// EventBusSink publishes approval.requested so that any subscriber can route the request.
type EventBusSink struct {
	publisher eventbus.EventPublisher
	source    string
}

func NewEventBusSink(publisher eventbus.EventPublisher, source string) *EventBusSink {
	return &EventBusSink{publisher: publisher, source: source}
}

func (s *EventBusSink) Notify(ctx context.Context, req *models.ApprovalRequest) error {
	return s.publisher.Publish(ctx, req.ID, events.NewApprovalRequested(s.source, *req))
}

// Multi notifies every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, req *models.ApprovalRequest) error {
	var errs []error

	for _, sink := range m {
		err := sink.Notify(ctx, req)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
