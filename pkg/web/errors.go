package web

import (
	"errors"

	"github.com/dukex/responder/pkg/approval"
	"github.com/dukex/responder/pkg/persistence"
	"github.com/dukex/responder/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusNotFound, "not_found", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleServiceError maps dispatcher, approval and persistence errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, workflow.ErrQueueFull), errors.Is(err, workflow.ErrStopped):
		return problem(c, fiber.StatusServiceUnavailable, "unavailable", err.Error())

	case errors.Is(err, workflow.ErrNoWorkflow):
		return problem(c, fiber.StatusUnprocessableEntity, "no_workflow", err.Error())

	case errors.Is(err, approval.ErrApprovalNotFound):
		return problem(c, fiber.StatusNotFound, "approval_not_found", "approval request not found")

	case errors.Is(err, approval.ErrAlreadyTerminal):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case errors.Is(err, approval.ErrInvalidDecision), errors.Is(err, persistence.ErrInvalidSortOrder):
		return badRequest(c, err.Error())

	case persistence.IsRunNotFound(err), errors.Is(err, workflow.ErrRunNotFound):
		return problem(c, fiber.StatusNotFound, "run_not_found", "run not found")

	default:
		return internalError(c, err)
	}
}
