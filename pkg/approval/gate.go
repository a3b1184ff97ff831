// Package approval implements the human-in-the-loop gate in front of restricted actions.
// The gate decides whether an action needs sign-off, tracks the request through
// pending → approved | denied | expired and enforces its deadline.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/responder/pkg/audit"
	"github.com/dukex/responder/pkg/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	gateActor     = "approval_gate"
	notifyTimeout = 10 * time.Second
)

// Notifier delivers a new request to approvers.
type Notifier interface {
	Notify(ctx context.Context, req *models.ApprovalRequest) error
}

type Option func(*Gate)

func WithClock(clock clockwork.Clock) Option {
	return func(g *Gate) {
		g.clock = clock
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(g *Gate) {
		g.notifier = notifier
	}
}

func WithRecorder(recorder audit.Recorder) Option {
	return func(g *Gate) {
		g.recorder = recorder
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

type waiter struct {
	done chan struct{}
	refs int
}

// Gate is safe for concurrent use by many runs.
type Gate struct {
	policy     models.ApprovalPolicy
	restricted map[string]struct{}
	store      Store
	notifier   Notifier
	recorder   audit.Recorder
	clock      clockwork.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	waiters map[string]*waiter

	notifications sync.WaitGroup
}

func NewGate(policy models.ApprovalPolicy, store Store, opts ...Option) *Gate {
	g := &Gate{
		policy:     policy,
		restricted: make(map[string]struct{}, len(policy.RestrictedActionTypes)),
		store:      store,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		waiters:    make(map[string]*waiter),
	}

	for _, actionType := range policy.RestrictedActionTypes {
		g.restricted[actionType] = struct{}{}
	}

	for _, opt := range opts {
		opt(g)
	}

	g.logger = g.logger.With("module", "approval_gate")

	return g
}

// Policy returns the policy the gate enforces.
func (g *Gate) Policy() models.ApprovalPolicy {
	return g.policy
}

// RequiresApproval is true when the action is at least as severe as the threshold and, if
// the policy lists restricted action types, its type is one of them.
func (g *Gate) RequiresApproval(action models.Action) bool {
	if !action.Severity.AtLeast(g.policy.SeverityThreshold) {
		return false
	}

	if len(g.restricted) == 0 {
		return true
	}

	_, ok := g.restricted[action.Type]

	return ok
}

// RequestApproval stores a new pending request and notifies approvers in the background.
// A failed notification is logged and never fails the request.
func (g *Gate) RequestApproval(ctx context.Context, action models.Action, requestedBy string) (*models.ApprovalRequest, error) {
	now := g.clock.Now().UTC()

	req := &models.ApprovalRequest{
		ID:          uuid.NewString(),
		Action:      action,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.policy.ApprovalTimeout()),
		Status:      models.ApprovalPending,
	}

	err := g.store.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}

	g.record(ctx, "approval.requested", action, req, string(models.ApprovalPending), map[string]any{
		"approval_id":  req.ID,
		"requested_by": requestedBy,
		"expires_at":   req.ExpiresAt,
	})

	g.logger.InfoContext(ctx, "Approval requested",
		"approval_id", req.ID,
		"action_type", action.Type,
		"severity", action.Severity,
		"expires_at", req.ExpiresAt,
	)

	if g.notifier != nil {
		g.notifications.Add(1)

		go g.notify(context.WithoutCancel(ctx), req.Clone())
	}

	return req.Clone(), nil
}

func (g *Gate) notify(ctx context.Context, req *models.ApprovalRequest) {
	defer g.notifications.Done()

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	err := g.notifier.Notify(ctx, req)
	if err != nil {
		g.logger.WarnContext(ctx, "Failed to notify approvers", "approval_id", req.ID, "error", err)
	}
}

// Resolve records an approver's decision. A request that is already terminal is returned
// unchanged together with ErrAlreadyTerminal. A request past its expiry is expired first,
// so a late decision is rejected the same way.
func (g *Gate) Resolve(
	ctx context.Context,
	id string,
	decision models.ApprovalStatus,
	approver string,
) (*models.ApprovalRequest, error) {
	if decision != models.ApprovalApproved && decision != models.ApprovalDenied {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	current, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := g.clock.Now().UTC()

	if current.Status == models.ApprovalPending && !now.Before(current.ExpiresAt) {
		expired, _, err := g.expire(ctx, id, "expired before decision")
		if err != nil {
			return nil, err
		}

		return expired, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, expired.Status)
	}

	req, err := g.store.Transition(ctx, id, decision, approver, now)
	if errors.Is(err, ErrAlreadyTerminal) {
		return req, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, req.Status)
	}

	if err != nil {
		return nil, err
	}

	g.recordDecision(ctx, approver, req)
	g.signal(id)

	g.logger.InfoContext(ctx, "Approval resolved", "approval_id", id, "status", req.Status, "approver", approver)

	return req, nil
}

// AwaitResolution parks the caller until the request is terminal, until the earlier of
// deadline and the request's expiry, or until ctx is done. In the last two cases a still
// pending request is expired. A zero deadline waits for the expiry alone.
func (g *Gate) AwaitResolution(ctx context.Context, id string, deadline time.Time) (*models.ApprovalRequest, error) {
	// subscribe before reading so a concurrent Resolve cannot be missed
	w := g.subscribe(id)
	defer g.unsubscribe(id, w)

	// the store is still consulted after ctx is done
	storeCtx := context.WithoutCancel(ctx)

	req, err := g.store.Get(storeCtx, id)
	if err != nil {
		return nil, err
	}

	if req.Status.Terminal() {
		return req, nil
	}

	limit := req.ExpiresAt
	if !deadline.IsZero() && deadline.Before(limit) {
		limit = deadline
	}

	wait := limit.Sub(g.clock.Now())
	if wait <= 0 {
		return g.expireAndGet(storeCtx, id, "deadline passed")
	}

	timer := g.clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-w.done:
		return g.store.Get(storeCtx, id)
	case <-timer.Chan():
		return g.expireAndGet(storeCtx, id, "deadline passed")
	case <-ctx.Done():
		return g.expireAndGet(storeCtx, id, "run cancelled")
	}
}

func (g *Gate) expireAndGet(ctx context.Context, id, reason string) (*models.ApprovalRequest, error) {
	req, _, err := g.expire(ctx, id, reason)

	return req, err
}

// ExpireOverdue expires every pending request past its expiry, for example those left
// behind by a crashed run. It returns how many it expired.
func (g *Gate) ExpireOverdue(ctx context.Context) (int, error) {
	pending, err := g.store.List(ctx, models.ApprovalPending)
	if err != nil {
		return 0, err
	}

	now := g.clock.Now()
	expired := 0

	for _, req := range pending {
		if now.Before(req.ExpiresAt) {
			continue
		}

		_, transitioned, err := g.expire(ctx, req.ID, "overdue")
		if err != nil {
			return expired, err
		}

		if transitioned {
			expired++
		}
	}

	return expired, nil
}

func (g *Gate) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return g.store.Get(ctx, id)
}

func (g *Gate) List(ctx context.Context, status models.ApprovalStatus) ([]*models.ApprovalRequest, error) {
	return g.store.List(ctx, status)
}

// Wait blocks until background notifications are done.
func (g *Gate) Wait() {
	g.notifications.Wait()
}

// expire moves id to expired. Losing the race to another transition is not an error: the
// stored terminal request is returned.
func (g *Gate) expire(ctx context.Context, id, reason string) (*models.ApprovalRequest, bool, error) {
	req, err := g.store.Transition(ctx, id, models.ApprovalExpired, gateActor, g.clock.Now())
	if errors.Is(err, ErrAlreadyTerminal) {
		return req, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	g.recordDecision(ctx, gateActor, req, reason)
	g.signal(id)

	g.logger.InfoContext(ctx, "Approval expired", "approval_id", id, "reason", reason)

	return req, true, nil
}

func (g *Gate) subscribe(id string) *waiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.waiters[id]
	if !ok {
		w = &waiter{done: make(chan struct{})}
		g.waiters[id] = w
	}

	w.refs++

	return w
}

func (g *Gate) unsubscribe(id string, w *waiter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w.refs--
	if w.refs <= 0 && g.waiters[id] == w {
		delete(g.waiters, id)
	}
}

// signal wakes every waiter of id.
func (g *Gate) signal(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.waiters[id]
	if !ok {
		return
	}

	close(w.done)
	delete(g.waiters, id)
}

func (g *Gate) record(ctx context.Context, action string, input, output any, status string, metadata map[string]any) {
	if g.recorder == nil {
		return
	}

	err := g.recorder.RecordAction(ctx, gateActor, action, input, output, status, metadata)
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to audit approval transition", "action", action, "error", err)
	}
}

func (g *Gate) recordDecision(ctx context.Context, actor string, req *models.ApprovalRequest, reason ...string) {
	if g.recorder == nil {
		return
	}

	// decisions made outside the run, by an approver or the sweeper, still belong to its trail
	if audit.CorrelationID(ctx) == "" && req.Action.RunID != "" {
		ctx = audit.WithCorrelationID(ctx, req.Action.RunID)
	}

	reasoning := fmt.Sprintf("approval %s for %s action %q on alert %s", req.Status, req.Action.Type, req.Action.Name, req.Action.AlertID)
	if len(reason) > 0 {
		reasoning += ": " + reason[0]
	}

	err := g.recorder.RecordDecision(ctx, actor, "approval."+string(req.Status), reasoning, nil)
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to audit approval decision", "approval_id", req.ID, "error", err)
	}
}
