// Package protocol defines the interfaces and contracts for pluggable capabilities.
package protocol

import (
	"context"

	"github.com/dukex/responder/pkg/models"
)

// Capability performs one kind of work (triage, investigation, response, ...) for a run.
type Capability interface {
	// Invoke runs the capability. The context carries the step timeout; failures should be
	// returned as *CapabilityError so the orchestrator knows whether to retry.
	Invoke(ctx context.Context, runCtx *models.RunContext) (models.StepOutput, error)
}

// CapabilityFactory creates capability instances from a step's configuration.
type CapabilityFactory interface {
	// ID returns the name steps use to bind to this capability
	ID() string

	// Description returns a description of what the capability does
	Description() string

	// Create builds a capability for one step
	Create(ctx context.Context, config map[string]any) (Capability, error)
}

// CapabilityFunc adapts a plain function into a Capability.
type CapabilityFunc func(ctx context.Context, runCtx *models.RunContext) (models.StepOutput, error)

func (f CapabilityFunc) Invoke(ctx context.Context, runCtx *models.RunContext) (models.StepOutput, error) {
	return f(ctx, runCtx)
}
