// Package workflow runs workflow definitions against alerts. Steps run in declared order,
// restricted steps wait behind the approval gate, and every transition is audited.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/responder/pkg/approval"
	"github.com/dukex/responder/pkg/audit"
	"github.com/dukex/responder/pkg/conditional"
	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/otelhelper"
	"github.com/dukex/responder/pkg/protocol"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const orchestratorActor = "orchestrator"

// CapabilityResolver looks capabilities up by name.
type CapabilityResolver interface {
	Has(name string) bool
	CreateCapability(ctx context.Context, name string, config map[string]any) (protocol.Capability, error)
}

// ApprovalGate is the part of approval.Gate the orchestrator depends on.
type ApprovalGate interface {
	Policy() models.ApprovalPolicy
	RequiresApproval(action models.Action) bool
	RequestApproval(ctx context.Context, action models.Action, requestedBy string) (*models.ApprovalRequest, error)
	AwaitResolution(ctx context.Context, id string, deadline time.Time) (*models.ApprovalRequest, error)
}

// RunRecorder keeps snapshots of runs while they progress.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *models.WorkflowRun) error
}

type Option func(*Orchestrator)

func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

func WithRunRecorder(runs RunRecorder) Option {
	return func(o *Orchestrator) {
		o.runs = runs
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

type executeConfig struct {
	runID string
}

type ExecuteOption func(*executeConfig)

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) ExecuteOption {
	return func(c *executeConfig) {
		c.runID = id
	}
}

// Orchestrator is safe for concurrent use; each Execute call owns its own run.
type Orchestrator struct {
	capabilities CapabilityResolver
	gate         ApprovalGate
	recorder     audit.Recorder
	conditions   *conditional.Evaluator
	runs         RunRecorder
	clock        clockwork.Clock
	tracer       trace.Tracer
	logger       *slog.Logger
}

// NewOrchestrator builds an orchestrator. gate may be nil when no definition has
// restricted steps.
func NewOrchestrator(
	capabilities CapabilityResolver,
	gate ApprovalGate,
	recorder audit.Recorder,
	opts ...Option,
) (*Orchestrator, error) {
	conditions, err := conditional.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	o := &Orchestrator{
		capabilities: capabilities,
		gate:         gate,
		recorder:     recorder,
		conditions:   conditions,
		clock:        clockwork.NewRealClock(),
		tracer:       otelhelper.NoopTracer(),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	o.logger = o.logger.With("module", "orchestrator")

	return o, nil
}

// Validate checks a definition without running it.
func (o *Orchestrator) Validate(definition models.WorkflowDefinition) error {
	configErr := &ConfigurationError{Definition: definition.Name}

	if definition.Name == "" {
		configErr.add("name is required")
	}

	if len(definition.Steps) == 0 {
		configErr.add("at least one step is required")
	}

	seen := make(map[string]struct{}, len(definition.Steps))

	for i, step := range definition.Steps {
		label := step.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
			configErr.add("step %s: name is required", label)
		}

		if _, dup := seen[step.Name]; dup && step.Name != "" {
			configErr.add("step %s: duplicate name", label)
		}

		seen[step.Name] = struct{}{}

		o.validateStep(configErr, label, step)
	}

	return configErr.orNil()
}

func (o *Orchestrator) validateStep(configErr *ConfigurationError, label string, step models.StepSpec) {
	if step.Capability == "" {
		configErr.add("step %s: capability is required", label)
	} else if !o.capabilities.Has(step.Capability) {
		configErr.add("step %s: unknown capability %q", label, step.Capability)
	}

	if step.TimeoutMs <= 0 {
		configErr.add("step %s: timeout_ms must be positive", label)
	}

	if step.Retry.MaxAttempts < 1 {
		configErr.add("step %s: retry.max_attempts must be at least 1", label)
	}

	if step.Retry.BackoffBaseMs < 0 {
		configErr.add("step %s: retry.backoff_base_ms must not be negative", label)
	}

	if step.Retry.BackoffCapMs < step.Retry.BackoffBaseMs {
		configErr.add("step %s: retry.backoff_cap_ms must be at least backoff_base_ms", label)
	}

	if step.Condition != "" {
		err := o.conditions.Compile(step.Condition)
		if err != nil {
			configErr.add("step %s: %v", label, err)
		}
	}

	if !step.Restricted {
		return
	}

	if o.gate == nil {
		configErr.add("step %s: restricted but no approval gate is configured", label)

		return
	}

	// approvers must get their full window before the step itself times out
	if approvalTimeout := o.gate.Policy().ApprovalTimeout(); step.Timeout() < approvalTimeout {
		configErr.add("step %s: timeout %s is shorter than the approval timeout %s", label, step.Timeout(), approvalTimeout)
	}
}

// prepare validates the definition and creates one capability instance per step.
func (o *Orchestrator) prepare(ctx context.Context, definition models.WorkflowDefinition) (map[string]protocol.Capability, error) {
	err := o.Validate(definition)
	if err != nil {
		return nil, err
	}

	configErr := &ConfigurationError{Definition: definition.Name}
	capabilities := make(map[string]protocol.Capability, len(definition.Steps))

	for _, step := range definition.Steps {
		capability, err := o.capabilities.CreateCapability(ctx, step.Capability, step.Config)
		if err != nil {
			configErr.add("step %s: %v", step.Name, err)

			continue
		}

		capabilities[step.Name] = capability
	}

	return capabilities, configErr.orNil()
}

// Execute runs definition against alert. The returned run always reflects how far execution
// got. A failed step leaves the run failed with a nil error; a rejected definition or a
// cancelled ctx also returns the error.
func (o *Orchestrator) Execute(
	ctx context.Context,
	definition models.WorkflowDefinition,
	alert models.Alert,
	opts ...ExecuteOption,
) (*models.WorkflowRun, error) {
	cfg := executeConfig{runID: uuid.NewString()}
	for _, opt := range opts {
		opt(&cfg)
	}

	run := &models.WorkflowRun{
		ID:         cfg.runID,
		AlertID:    alert.ID,
		Definition: definition.Name,
		StartedAt:  o.clock.Now().UTC(),
		Steps:      []models.StepResult{},
		Status:     models.RunStatusRunning,
	}

	ctx = audit.WithCorrelationID(ctx, run.ID)
	logger := o.logger.With("run_id", run.ID, "alert_id", alert.ID, "workflow", definition.Name)

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.run",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.AlertIDKey, alert.ID),
		attribute.String(otelhelper.AlertTypeKey, alert.Type),
		attribute.String(otelhelper.WorkflowNameKey, definition.Name),
	)
	defer span.End()

	capabilities, err := o.prepare(ctx, definition)
	if err != nil {
		logger.ErrorContext(ctx, "Workflow rejected", "error", err)
		o.recordAction(ctx, "workflow.rejected", map[string]any{"alert_id": alert.ID, "definition": definition.Name},
			map[string]any{"error": err.Error()}, "rejected", nil)
		otelhelper.SetError(span, err)
		o.finish(run, models.RunStatusFailed, err)
		o.save(ctx, run)

		return run, err
	}

	logger.InfoContext(ctx, "Starting workflow run", "steps", len(definition.Steps))
	o.recordAction(ctx, "run.started", map[string]any{
		"alert_id":   alert.ID,
		"alert_type": alert.Type,
		"definition": definition.Name,
		"steps":      len(definition.Steps),
	}, nil, string(models.RunStatusRunning), nil)
	o.save(ctx, run)

	outputs := make(map[string]models.StepOutput, len(definition.Steps))
	statuses := make(map[string]models.StepStatus, len(definition.Steps))

	var runErr error

	for _, group := range groupSteps(definition.Steps) {
		if ctx.Err() != nil {
			break
		}

		results := o.executeGroup(ctx, run.ID, alert, group, capabilities, outputs, statuses)

		for i, result := range results {
			run.Steps = append(run.Steps, result)
			statuses[result.StepName] = result.Status

			if result.Output != nil {
				outputs[result.StepName] = result.Output
			}

			// steps declared after a failed required step leave no result, even in a group
			if group[i].Required && result.Status.IsFailure() {
				runErr = fmt.Errorf("%w: step %s %s", ErrStepRequired, result.StepName, result.Status)

				break
			}
		}

		o.save(ctx, run)

		if runErr != nil {
			break
		}
	}

	var cancelErr error
	if ctx.Err() != nil {
		cancelErr = fmt.Errorf("run cancelled: %w", ctx.Err())
		runErr = cancelErr
	}

	status := models.RunStatusCompleted
	if runErr != nil {
		status = models.RunStatusFailed

		otelhelper.SetError(span, runErr)
	}

	o.finish(run, status, runErr)

	logger.InfoContext(ctx, "Workflow run finished", "status", run.Status, "steps", len(run.Steps), "error", run.Error)
	o.recordAction(ctx, "run.finished", map[string]any{"definition": definition.Name},
		map[string]any{"steps": len(run.Steps), "error": run.Error}, string(run.Status), nil)
	o.save(ctx, run)

	return run, cancelErr
}

// groupSteps splits steps into consecutive groups. Adjacent independent steps share a
// group; every other step is alone in its own.
func groupSteps(steps []models.StepSpec) [][]models.StepSpec {
	var groups [][]models.StepSpec

	for i := 0; i < len(steps); {
		j := i + 1
		if steps[i].Independent {
			for j < len(steps) && steps[j].Independent {
				j++
			}
		}

		groups = append(groups, steps[i:j])
		i = j
	}

	return groups
}

// executeGroup returns results in declared order. Steps in a group only see outputs of
// earlier groups. A failing required step cancels its siblings.
func (o *Orchestrator) executeGroup(
	ctx context.Context,
	runID string,
	alert models.Alert,
	group []models.StepSpec,
	capabilities map[string]protocol.Capability,
	outputs map[string]models.StepOutput,
	statuses map[string]models.StepStatus,
) []models.StepResult {
	results := make([]models.StepResult, len(group))

	if len(group) == 1 {
		results[0] = o.executeStep(ctx, runID, alert, group[0], capabilities[group[0].Name], outputs, statuses)

		return results
	}

	g, groupCtx := errgroup.WithContext(ctx)

	for i, step := range group {
		g.Go(func() error {
			results[i] = o.executeStep(groupCtx, runID, alert, step, capabilities[step.Name], outputs, statuses)

			if step.Required && results[i].Status.IsFailure() {
				return fmt.Errorf("%w: step %s %s", ErrStepRequired, step.Name, results[i].Status)
			}

			return nil
		})
	}

	_ = g.Wait()

	return results
}

func (o *Orchestrator) executeStep(
	ctx context.Context,
	runID string,
	alert models.Alert,
	step models.StepSpec,
	capability protocol.Capability,
	outputs map[string]models.StepOutput,
	statuses map[string]models.StepStatus,
) models.StepResult {
	logger := o.logger.With("run_id", runID, "step", step.Name, "capability", step.Capability)

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.step",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.StepCapabilityKey, step.Capability),
	)
	defer span.End()

	result := models.StepResult{
		StepName:  step.Name,
		StartedAt: o.clock.Now().UTC(),
	}

	status, err := o.runStep(ctx, runID, alert, step, capability, outputs, statuses, &result)

	result.Status = status
	result.FinishedAt = o.clock.Now().UTC()

	if err != nil {
		result.Error = err.Error()

		otelhelper.SetError(span, err)
		logger.WarnContext(ctx, "Step did not succeed", "status", status, "error", err)
	} else {
		logger.InfoContext(ctx, "Step finished", "status", status, "retries", result.RetryCount)
	}

	span.SetAttributes(attribute.String(otelhelper.StepStatusKey, string(status)))

	o.recordAction(ctx, "step.finished", map[string]any{"step": step.Name, "capability": step.Capability},
		outputValue(result.Output), string(status), map[string]any{
			"retry_count": result.RetryCount,
			"approval_id": result.ApprovalID,
			"required":    step.Required,
			"error":       result.Error,
		})

	return result
}

func (o *Orchestrator) runStep(
	ctx context.Context,
	runID string,
	alert models.Alert,
	step models.StepSpec,
	capability protocol.Capability,
	outputs map[string]models.StepOutput,
	statuses map[string]models.StepStatus,
	result *models.StepResult,
) (models.StepStatus, error) {
	if step.Condition != "" {
		execute, err := o.conditions.Evaluate(step.Condition, conditional.Scope{
			Alert:       alert,
			StepOutputs: outputs,
			StepStatus:  statuses,
		})
		if err != nil {
			o.recordDecision(ctx, "condition.error", fmt.Sprintf("step %s: %q: %v", step.Name, step.Condition, err))

			return models.StepStatusFailed, fmt.Errorf("condition %q: %w", step.Condition, err)
		}

		if !execute {
			o.recordDecision(ctx, "condition.skip", fmt.Sprintf("step %s: %q is false", step.Name, step.Condition))

			return models.StepStatusSkipped, nil
		}

		o.recordDecision(ctx, "condition.execute", fmt.Sprintf("step %s: %q is true", step.Name, step.Condition))
	}

	if step.Restricted {
		req, err := o.approve(ctx, runID, alert, step)
		if req != nil {
			result.ApprovalID = req.ID
		}

		switch {
		case errors.Is(err, approval.ErrDenied):
			return models.StepStatusDenied, err
		case errors.Is(err, approval.ErrExpired):
			return models.StepStatusExpired, err
		case err != nil:
			return models.StepStatusFailed, err
		}
	}

	output, attempts, err := o.invoke(ctx, runID, alert, step, capability, outputs)
	result.RetryCount = attempts - 1

	if err != nil {
		return models.StepStatusFailed, err
	}

	result.Output = output

	return models.StepStatusSuccess, nil
}

// approve returns the resolved request, if one was needed, and nil only when the action
// may proceed.
func (o *Orchestrator) approve(ctx context.Context, runID string, alert models.Alert, step models.StepSpec) (*models.ApprovalRequest, error) {
	action := step.Action(alert)
	action.RunID = runID

	if !o.gate.RequiresApproval(action) {
		o.recordDecision(ctx, "approval.not_required",
			fmt.Sprintf("step %s: %s action with %s severity is below policy", step.Name, action.Type, action.Severity))

		return nil, nil
	}

	o.recordDecision(ctx, "approval.required",
		fmt.Sprintf("step %s: %s action with %s severity needs sign-off", step.Name, action.Type, action.Severity))

	req, err := o.gate.RequestApproval(ctx, action, orchestratorActor)
	if err != nil {
		return nil, fmt.Errorf("failed to request approval: %w", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String(otelhelper.ApprovalIDKey, req.ID))

	o.logger.InfoContext(ctx, "Waiting for approval", "run_id", runID, "step", step.Name, "approval_id", req.ID)

	resolved, err := o.gate.AwaitResolution(ctx, req.ID, o.clock.Now().Add(step.Timeout()))
	if err != nil {
		return req, fmt.Errorf("failed to await approval %s: %w", req.ID, err)
	}

	return resolved, approval.Outcome(resolved)
}

// invoke calls the capability, retrying transient failures. It returns the number of
// attempts made.
func (o *Orchestrator) invoke(
	ctx context.Context,
	runID string,
	alert models.Alert,
	step models.StepSpec,
	capability protocol.Capability,
	outputs map[string]models.StepOutput,
) (models.StepOutput, int, error) {
	maxAttempts := max(step.Retry.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		runCtx := &models.RunContext{
			RunID:       runID,
			Alert:       alert,
			Step:        step,
			StepOutputs: maps.Clone(outputs),
			Attempt:     attempt,
		}

		started := o.clock.Now()
		output, err := o.attempt(ctx, step, capability, runCtx)

		status := "success"
		if err != nil {
			status = "failed"
		}

		o.recordAction(ctx, "capability.invoked",
			map[string]any{"step": step.Name, "capability": step.Capability, "attempt": attempt, "config": step.Config},
			outputValue(output), status, map[string]any{
				"duration_ms": o.clock.Since(started).Milliseconds(),
				"transient":   protocol.IsTransient(err),
				"error":       errorString(err),
			})

		if err == nil {
			return output, attempt, nil
		}

		if !protocol.IsTransient(err) || attempt >= maxAttempts || ctx.Err() != nil {
			return nil, attempt, err
		}

		delay := step.Retry.Backoff(attempt)

		o.recordAction(ctx, "capability.retry",
			map[string]any{"step": step.Name, "capability": step.Capability, "attempt": attempt + 1},
			nil, "scheduled", map[string]any{"delay_ms": delay.Milliseconds(), "error": err.Error()})

		sleepErr := o.sleep(ctx, delay)
		if sleepErr != nil {
			return nil, attempt, fmt.Errorf("retry interrupted after %v: %w", err, sleepErr)
		}
	}
}

type invocation struct {
	output models.StepOutput
	err    error
}

// attempt enforces the step timeout even on capabilities that ignore their context; such a
// call is abandoned once the timeout passes.
func (o *Orchestrator) attempt(
	ctx context.Context,
	step models.StepSpec,
	capability protocol.Capability,
	runCtx *models.RunContext,
) (models.StepOutput, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, step.Timeout())
	defer cancel()

	done := make(chan invocation, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{err: &protocol.CapabilityError{
					Capability: step.Capability,
					Err:        fmt.Errorf("capability panicked: %v", r),
				}}
			}
		}()

		output, err := capability.Invoke(attemptCtx, runCtx)
		done <- invocation{output: output, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timeoutError(step, res.err)
		}

		return res.output, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, timeoutError(step, attemptCtx.Err())
	}
}

func timeoutError(step models.StepSpec, err error) error {
	return &protocol.CapabilityError{
		Capability: step.Capability,
		Transient:  true,
		Err:        fmt.Errorf("step %s timed out after %s: %w", step.Name, step.Timeout(), err),
	}
}

func (o *Orchestrator) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := o.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) finish(run *models.WorkflowRun, status models.RunStatus, err error) {
	finishedAt := o.clock.Now().UTC()
	run.FinishedAt = &finishedAt
	run.Status = status

	if err != nil {
		run.Error = err.Error()
	}
}

func (o *Orchestrator) save(ctx context.Context, run *models.WorkflowRun) {
	if o.runs == nil {
		return
	}

	// a cancelled run is still persisted
	err := o.runs.SaveRun(context.WithoutCancel(ctx), run.Snapshot())
	if err != nil {
		o.logger.WarnContext(ctx, "Failed to save run snapshot", "run_id", run.ID, "error", err)
	}
}

// Audit failures are buffered by the audit logger and never fail the run.
func (o *Orchestrator) recordAction(ctx context.Context, action string, input, output any, status string, metadata map[string]any) {
	if o.recorder == nil {
		return
	}

	err := o.recorder.RecordAction(ctx, orchestratorActor, action, input, output, status, metadata)
	if err != nil {
		o.logger.WarnContext(ctx, "Failed to write audit entry", "action", action, "error", err)
	}
}

func (o *Orchestrator) recordDecision(ctx context.Context, decision, reasoning string) {
	if o.recorder == nil {
		return
	}

	err := o.recorder.RecordDecision(ctx, orchestratorActor, decision, reasoning, nil)
	if err != nil {
		o.logger.WarnContext(ctx, "Failed to write audit entry", "decision", decision, "error", err)
	}
}

func outputValue(output models.StepOutput) any {
	if output == nil {
		return nil
	}

	return map[string]any(output)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
