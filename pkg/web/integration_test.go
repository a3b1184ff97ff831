package web_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/responder/pkg/approval"
	"github.com/dukex/responder/pkg/audit"
	"github.com/dukex/responder/pkg/capabilities/triage"
	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/persistence/memory"
	"github.com/dukex/responder/pkg/protocol"
	"github.com/dukex/responder/pkg/registry"
	"github.com/dukex/responder/pkg/web"
	"github.com/dukex/responder/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type isolateFactory struct {
	calls *atomic.Int32
}

func (isolateFactory) ID() string          { return "isolate" }
func (isolateFactory) Description() string { return "isolates a host" }

func (f isolateFactory) Create(context.Context, map[string]any) (protocol.Capability, error) {
	return protocol.CapabilityFunc(func(_ context.Context, runCtx *models.RunContext) (models.StepOutput, error) {
		f.calls.Add(1)

		return models.StepOutput{"isolated": runCtx.Alert.DestinationIP}, nil
	}), nil
}

type singleCatalog models.WorkflowDefinition

func (c singleCatalog) ForAlert(alertType string) (models.WorkflowDefinition, bool) {
	definition := models.WorkflowDefinition(c)

	return definition, definition.Matches(alertType)
}

// setupIntegrationApp wires the real dispatcher, orchestrator and approval gate behind the API.
func setupIntegrationApp(t *testing.T) (*fiber.App, *atomic.Int32) {
	t.Helper()

	sink := audit.NewMemorySink()
	auditLog := audit.NewLogger(sink)
	runs := memory.NewPersistence()

	gate := approval.NewGate(models.ApprovalPolicy{
		SeverityThreshold: models.SeverityHigh,
		ApprovalTimeoutMs: int64(time.Minute / time.Millisecond),
	}, approval.NewMemoryStore(), approval.WithRecorder(auditLog))

	calls := &atomic.Int32{}

	capabilities := registry.NewRegistry(slog.Default())
	capabilities.RegisterCapability(triage.NewCapabilityFactory(slog.Default()))
	capabilities.RegisterCapability(isolateFactory{calls: calls})

	orchestrator, err := workflow.NewOrchestrator(capabilities, gate, auditLog, workflow.WithRunRecorder(runs))
	require.NoError(t, err)

	retry := models.RetryPolicy{MaxAttempts: 1}
	dispatcher := workflow.NewDispatcher(orchestrator, singleCatalog{
		Name:       "intrusion-response",
		AlertTypes: []string{"intrusion"},
		Steps: []models.StepSpec{
			{Name: "triage", Capability: "triage", TimeoutMs: 1000, Required: true, Retry: retry},
			{
				Name:       "contain",
				Capability: "isolate",
				ActionType: "isolate_host",
				TimeoutMs:  int64(2 * time.Minute / time.Millisecond),
				Required:   true,
				Restricted: true,
				Retry:      retry,
			},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	t.Cleanup(func() {
		dispatcher.Stop()
		cancel()
		dispatcher.Wait()
		gate.Wait()
	})

	app := fiber.New()
	web.NewAPIHandlers(dispatcher, gate, runs, sink, capabilities,
		validator.New(validator.WithRequiredStructEnabled())).Mount(app)

	return app, calls
}

func TestIntegration_ApprovedAlertRunsToCompletion(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	app, calls := setupIntegrationApp(t)
	s := &testStack{app: app}

	status, body := s.do(t, http.MethodPost, "/alerts", models.Alert{
		ID:            "alert-7",
		Type:          "intrusion",
		Severity:      models.SeverityCritical,
		Description:   "ransomware beacon observed",
		DestinationIP: "10.0.0.7",
	})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var submitted web.SubmitAlertResponse
	require.NoError(t, json.Unmarshal(body, &submitted))

	var pending web.ApprovalListResponse

	require.Eventually(t, func() bool {
		_, body := s.do(t, http.MethodGet, "/approvals?status=pending", nil)

		return json.Unmarshal(body, &pending) == nil && pending.TotalCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	request := pending.Approvals[0]
	assert.Equal(t, submitted.RunID, request.Action.RunID)
	assert.Equal(t, "isolate_host", request.Action.Type)
	assert.Zero(t, calls.Load(), "restricted step must wait for approval")

	status, body = s.do(t, http.MethodPost, "/approvals/"+request.ID+"/resolve",
		web.ResolveApprovalRequest{Decision: models.ApprovalApproved, Approver: "alice"})
	require.Equal(t, http.StatusOK, status, string(body))

	var run models.WorkflowRun

	require.Eventually(t, func() bool {
		status, body := s.do(t, http.MethodGet, "/runs/"+submitted.RunID, nil)
		if status != http.StatusOK || json.Unmarshal(body, &run) != nil {
			return false
		}

		return run.Status != models.RunStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.RunStatusCompleted, run.Status, run.Error)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, request.ID, run.Steps[1].ApprovalID)
	assert.Equal(t, int32(1), calls.Load())

	status, body = s.do(t, http.MethodGet, "/runs/"+submitted.RunID+"/audit", nil)
	require.Equal(t, http.StatusOK, status)

	var trail web.AuditTrailResponse
	require.NoError(t, json.Unmarshal(body, &trail))

	decisions := make([]string, 0)
	for _, entry := range trail.Entries {
		if entry.EventType == models.AuditEventDecision {
			decisions = append(decisions, entry.Decision)
		}
	}

	assert.Contains(t, decisions, "approval.required")
	assert.Contains(t, decisions, "approval.approved")
	assert.Equal(t, "run.finished", trail.Entries[len(trail.Entries)-1].Action)
}
