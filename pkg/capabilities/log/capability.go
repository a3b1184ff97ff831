// Package log provides a capability that writes the run context to the logger.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/protocol"
	"github.com/dukex/responder/pkg/template"
)

func NewCapabilityFactory(logger *slog.Logger) *CapabilityFactory {
	return &CapabilityFactory{logger: logger}
}

type CapabilityFactory struct {
	logger *slog.Logger
}

func (*CapabilityFactory) ID() string {
	return "log"
}

func (*CapabilityFactory) Description() string {
	return "Writes a message and the outputs of earlier steps to the service log."
}

func (f *CapabilityFactory) Create(_ context.Context, config map[string]any) (protocol.Capability, error) {
	return NewCapability(config, f.logger)
}

type Capability struct {
	message string
	level   slog.Level
	logger  *slog.Logger
}

// NewCapability reads an optional templated "message" and a "level" (debug, info, warn, error).
func NewCapability(config map[string]any, logger *slog.Logger) (*Capability, error) {
	message, _ := config["message"].(string)
	if message == "" {
		message = "Workflow step reached"
	}

	if _, err := template.Parse(message); err != nil {
		return nil, fmt.Errorf("invalid message template: %w", err)
	}

	level := slog.LevelInfo

	if raw, ok := config["level"].(string); ok && raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", raw, err)
		}
	}

	return &Capability{
		message: message,
		level:   level,
		logger:  logger.With("module", "log_capability"),
	}, nil
}

func (c *Capability) Invoke(ctx context.Context, runCtx *models.RunContext) (models.StepOutput, error) {
	message, err := template.RenderWithRunContext(c.message, runCtx)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	c.logger.Log(ctx, c.level, message,
		"run_id", runCtx.RunID,
		"alert_id", runCtx.Alert.ID,
		"step", runCtx.Step.Name,
		"step_outputs", runCtx.StepOutputs,
	)

	return models.StepOutput{"message": message}, nil
}
