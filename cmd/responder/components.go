package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/responder/pkg/approval"
	"github.com/dukex/responder/pkg/audit"
	"github.com/dukex/responder/pkg/cmd"
	"github.com/dukex/responder/pkg/notify"
	"github.com/dukex/responder/pkg/otelhelper"
	"github.com/dukex/responder/pkg/persistence"
	"github.com/dukex/responder/pkg/policy"
	"github.com/dukex/responder/pkg/registry"
	"github.com/dukex/responder/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

const (
	serviceName    = "responder"
	webhookTimeout = 10 * time.Second
)

// components is everything a run needs, built from the root flags.
type components struct {
	logger       *slog.Logger
	policy       *policy.Policy
	registry     *registry.Registry
	runs         persistence.Persistence
	auditStore   cmd.AuditStore
	auditLog     *audit.Logger
	approvals    approval.Store
	gate         *approval.Gate
	orchestrator *workflow.Orchestrator

	closers []func(context.Context) error
}

// newComponents wires policy, capabilities, stores, the approval gate and the orchestrator.
// On error everything opened so far is closed again.
func newComponents(
	ctx context.Context,
	command *cli.Command,
	logger *slog.Logger,
	notifiers ...notify.Sink,
) (_ *components, err error) {
	c := &components{logger: logger}

	defer func() {
		if err != nil {
			c.Close(context.WithoutCancel(ctx))
		}
	}()

	c.policy, err = policy.Load(command.String("policy-file"))
	if err != nil {
		return nil, err
	}

	c.registry, err = cmd.NewRegistry(ctx, logger, command.String("plugins-path"))
	if err != nil {
		return nil, err
	}

	c.runs, err = cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	c.closers = append(c.closers, c.runs.Close)

	c.auditStore, err = cmd.NewAuditSink(ctx, logger, command.String("audit-url"))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}

	c.auditLog = audit.NewLogger(c.auditStore, audit.WithLogger(logger))
	c.closers = append(c.closers, func(context.Context) error { return c.auditLog.Close() })

	c.approvals, err = cmd.NewApprovalStore(ctx, logger, command.String("approval-store-url"))
	if err != nil {
		return nil, fmt.Errorf("failed to open approval store: %w", err)
	}

	c.closers = append(c.closers, func(context.Context) error { return c.approvals.Close() })

	notifiers = append(notifiers, notify.NewLogSink(logger))
	if url := command.String("notify-webhook-url"); url != "" {
		notifiers = append(notifiers, notify.NewWebhookSink(url, nil, &http.Client{Timeout: webhookTimeout}))
	}

	c.gate = approval.NewGate(c.policy.Approval, c.approvals,
		approval.WithNotifier(notify.Multi(notifiers)),
		approval.WithRecorder(c.auditLog),
		approval.WithLogger(logger),
	)

	tracer := otelhelper.NoopTracer()

	if command.Bool("otel-enabled") {
		var shutdown otelhelper.ShutdownFunc

		tracer, shutdown, err = otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		c.closers = append(c.closers, shutdown)
	}

	c.orchestrator, err = workflow.NewOrchestrator(c.registry, c.gate, c.auditLog,
		workflow.WithRunRecorder(c.runs),
		workflow.WithTracer(tracer),
		workflow.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	for _, definition := range c.policy.Workflows {
		err = c.orchestrator.Validate(definition)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Close waits for pending notifications and closes stores, most recently opened first.
func (c *components) Close(ctx context.Context) {
	if c.gate != nil {
		c.gate.Wait()
	}

	for i := len(c.closers) - 1; i >= 0; i-- {
		err := c.closers[i](ctx)
		if err != nil {
			c.logger.ErrorContext(ctx, "Failed to close component", "error", err)
		}
	}
}
