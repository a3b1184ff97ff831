// Package web provides the HTTP API for submitting alerts, inspecting runs and their audit
// trail, and resolving approval requests.
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/responder/pkg/audit"
	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/persistence"
	"github.com/dukex/responder/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Dispatcher queues alerts and cancels runs.
type Dispatcher interface {
	Submit(ctx context.Context, alert models.Alert) (string, error)
	Cancel(runID string) error
}

// Approvals is the approver-facing side of the approval gate.
type Approvals interface {
	Get(ctx context.Context, id string) (*models.ApprovalRequest, error)
	List(ctx context.Context, status models.ApprovalStatus) ([]*models.ApprovalRequest, error)
	Resolve(ctx context.Context, id string, decision models.ApprovalStatus, approver string) (*models.ApprovalRequest, error)
}

type HealthChecker interface {
	HealthCheck() (string, bool)
}

type APIHandlers struct {
	dispatcher   Dispatcher
	approvals    Approvals
	persistence  persistence.Persistence
	auditTrail   audit.Reader
	capabilities HealthChecker
	validator    *validator.Validate
}

func NewAPIHandlers(
	dispatcher Dispatcher,
	approvals Approvals,
	persistence persistence.Persistence,
	auditTrail audit.Reader,
	capabilities HealthChecker,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		dispatcher:   dispatcher,
		approvals:    approvals,
		persistence:  persistence,
		auditTrail:   auditTrail,
		capabilities: capabilities,
		validator:    validator,
	}
}

// Mount registers every route on router.
func (h *APIHandlers) Mount(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Post("/alerts", h.SubmitAlert)

	r := router.Group("/runs")
	r.Get("/", h.GetRuns)
	r.Get("/:id", h.GetRun)
	r.Post("/:id/cancel", h.CancelRun)
	r.Get("/:id/audit", h.GetRunAudit)

	a := router.Group("/approvals")
	a.Get("/", h.GetApprovals)
	a.Get("/:id", h.GetApproval)
	a.Post("/:id/resolve", h.ResolveApproval)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	capabilityCheck, capOk := h.capabilities.HealthCheck()

	repositoryCheck, repOk := "ok", true

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		repositoryCheck, repOk = err.Error(), false
	}

	response := HealthResponse{
		Status:  "unhealthy",
		Message: "Responder API is unhealthy",
		Checkers: map[string]string{
			"capabilities": capabilityCheck,
			"repository":   repositoryCheck,
		},
		Timestamp: time.Now().UTC(),
	}
	httpStatus := http.StatusInternalServerError

	if capOk && repOk {
		response.Status = "healthy"
		response.Message = "Responder API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(response)
}

func (h *APIHandlers) SubmitAlert(c fiber.Ctx) error {
	var alert models.Alert
	if err := c.Bind().JSON(&alert); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(alert); err != nil {
		return badRequest(c, err.Error())
	}

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	runID, err := h.dispatcher.Submit(c.Context(), alert)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitAlertResponse{
		RunID:   runID,
		AlertID: alert.ID,
		Status:  "queued",
	})
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	opts, err := parseListRunsOptions(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.persistence.Runs(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func parseListRunsOptions(c fiber.Ctx) (persistence.ListRunsOptions, error) {
	opts := persistence.ListRunsOptions{
		AlertID:   c.Query("alert_id"),
		Status:    models.RunStatus(c.Query("status")),
		SortOrder: c.Query("sort_order"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return opts, err
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return opts, err
		}

		opts.Offset = offset
	}

	return opts, nil
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.persistence.RunByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

// CancelRun cancels a queued or running run. A run that already finished is a conflict.
func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")

	err := h.dispatcher.Cancel(id)
	if errors.Is(err, workflow.ErrRunNotFound) {
		run, getErr := h.persistence.RunByID(c.Context(), id)
		if getErr != nil {
			return handleServiceError(c, getErr)
		}

		return problem(c, fiber.StatusConflict, "conflict", "run already "+string(run.Status))
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"run_id": id, "status": "cancelling"})
}

func (h *APIHandlers) GetRunAudit(c fiber.Ctx) error {
	id := c.Params("id")
	query := audit.Query{CorrelationID: id}

	for param, target := range map[string]*time.Time{"from": &query.From, "to": &query.To} {
		value := c.Query(param)
		if value == "" {
			continue
		}

		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return badRequest(c, "Invalid "+param+" timestamp, expected RFC3339")
		}

		*target = parsed
	}

	entries, err := h.auditTrail.Entries(c.Context(), query)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(AuditTrailResponse{RunID: id, Entries: entries})
}

func (h *APIHandlers) GetApprovals(c fiber.Ctx) error {
	status := models.ApprovalStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		return badRequest(c, "Invalid approval status: "+string(status))
	}

	requests, err := h.approvals.List(c.Context(), status)
	if err != nil {
		return handleServiceError(c, err)
	}

	if requests == nil {
		requests = []*models.ApprovalRequest{}
	}

	return c.JSON(ApprovalListResponse{Approvals: requests, TotalCount: len(requests)})
}

func (h *APIHandlers) GetApproval(c fiber.Ctx) error {
	req, err := h.approvals.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(req)
}

func (h *APIHandlers) ResolveApproval(c fiber.Ctx) error {
	var body ResolveApprovalRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	req, err := h.approvals.Resolve(c.Context(), c.Params("id"), body.Decision, body.Approver)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(req)
}
