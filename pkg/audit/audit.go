// Package audit is the append-only record of everything the orchestrator and the approval
// gate do and decide. Entries are redacted before they reach a sink and a failed write is
// kept in order until the sink accepts it.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/responder/pkg/models"
	"github.com/jonboulle/clockwork"
)

// Sink persists audit entries. Each Write must be atomic from a reader's point of view.
type Sink interface {
	Write(ctx context.Context, entry models.AuditEntry) error
	Close() error
}

// Query filters entries when reading the trail back. Zero values match everything.
type Query struct {
	CorrelationID string
	From          time.Time
	To            time.Time
}

// Matches reports whether entry satisfies the query.
func (q Query) Matches(entry models.AuditEntry) bool {
	if q.CorrelationID != "" && entry.CorrelationID != q.CorrelationID {
		return false
	}

	if !q.From.IsZero() && entry.Timestamp.Before(q.From) {
		return false
	}

	if !q.To.IsZero() && entry.Timestamp.After(q.To) {
		return false
	}

	return true
}

// Reader returns stored entries in write order.
type Reader interface {
	Entries(ctx context.Context, query Query) ([]models.AuditEntry, error)
}

// Recorder is what the orchestrator and the approval gate write through.
type Recorder interface {
	RecordAction(ctx context.Context, actor, action string, input, output any, status string, metadata map[string]any) error
	RecordDecision(ctx context.Context, actor, decision, reasoning string, confidence *float64) error
}

// WriteError reports an entry the sink did not accept. The entry is still buffered and will
// be written before any later entry.
type WriteError struct {
	Entry   models.AuditEntry
	Pending int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("audit write failed (%d entries pending): %v", e.Pending, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

type correlationKey struct{}

// WithCorrelationID attaches the id (usually the run id) stamped on every entry written
// with the returned context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id attached by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)

	return id
}

type Option func(*Logger)

func WithClock(clock clockwork.Clock) Option {
	return func(l *Logger) {
		l.clock = clock
	}
}

func WithRedactor(redactor *Redactor) Option {
	return func(l *Logger) {
		l.redactor = redactor
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		l.logger = logger
	}
}

// WithRetryBackoff sets the delays used by Run between flush attempts.
func WithRetryBackoff(base, maxDelay time.Duration) Option {
	return func(l *Logger) {
		l.backoff = models.RetryPolicy{
			MaxAttempts:   1,
			BackoffBaseMs: base.Milliseconds(),
			BackoffCapMs:  maxDelay.Milliseconds(),
		}
	}
}

// Logger stamps, redacts and writes entries to a Sink.
type Logger struct {
	sink     Sink
	redactor *Redactor
	clock    clockwork.Clock
	logger   *slog.Logger
	backoff  models.RetryPolicy

	mu      sync.Mutex
	pending []models.AuditEntry
	wake    chan struct{}
}

func NewLogger(sink Sink, opts ...Option) *Logger {
	l := &Logger{
		sink:     sink,
		redactor: NewRedactor(),
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		backoff:  models.RetryPolicy{MaxAttempts: 1, BackoffBaseMs: 100, BackoffCapMs: 30_000},
		wake:     make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(l)
	}

	l.logger = l.logger.With("module", "audit")

	return l
}

// RecordAction appends an entry describing something that was done.
func (l *Logger) RecordAction(
	ctx context.Context,
	actor, action string,
	input, output any,
	status string,
	metadata map[string]any,
) error {
	return l.append(ctx, models.AuditEntry{
		EventType: models.AuditEventAction,
		Actor:     actor,
		Action:    action,
		Input:     l.redactor.Redact(input),
		Output:    l.redactor.Redact(output),
		Status:    status,
		Metadata:  l.redactor.RedactMap(metadata),
	})
}

// RecordDecision appends an entry describing something that was decided and why.
func (l *Logger) RecordDecision(ctx context.Context, actor, decision, reasoning string, confidence *float64) error {
	return l.append(ctx, models.AuditEntry{
		EventType:  models.AuditEventDecision,
		Actor:      actor,
		Decision:   decision,
		Reasoning:  reasoning,
		Confidence: confidence,
	})
}

// Pending returns the number of entries waiting for the sink.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.pending)
}

// Flush writes buffered entries in order, stopping at the first failure.
func (l *Logger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.flushLocked(context.WithoutCancel(ctx))
}

// Run retries buffered entries with capped exponential backoff until ctx is done.
func (l *Logger) Run(ctx context.Context) {
	retry := 0

	for {
		if l.Pending() == 0 {
			retry = 0

			select {
			case <-ctx.Done():
				return
			case <-l.wake:
			}
		}

		retry++

		timer := l.clock.NewTimer(l.backoff.Backoff(retry))

		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-timer.Chan():
		}

		err := l.Flush(ctx)
		if err != nil {
			l.logger.WarnContext(ctx, "Audit flush failed", "retry", retry, "pending", l.Pending(), "error", err)

			continue
		}

		l.logger.InfoContext(ctx, "Audit buffer flushed", "retries", retry)

		retry = 0
	}
}

// Close flushes what it can and closes the sink.
func (l *Logger) Close() error {
	flushErr := l.Flush(context.Background())

	err := l.sink.Close()
	if flushErr != nil {
		return fmt.Errorf("closing audit log with %d pending entries: %w", l.Pending(), flushErr)
	}

	return err
}

func (l *Logger) append(ctx context.Context, entry models.AuditEntry) error {
	entry.Timestamp = l.clock.Now().UTC()
	entry.CorrelationID = CorrelationID(ctx)

	// entries of a cancelled run must still land
	writeCtx := context.WithoutCancel(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.flushLocked(writeCtx)
	if err == nil {
		err = l.sink.Write(writeCtx, entry)
	}

	if err != nil {
		l.pending = append(l.pending, entry)

		select {
		case l.wake <- struct{}{}:
		default:
		}

		l.logger.ErrorContext(ctx, "Audit entry buffered after write failure",
			"event_type", entry.EventType,
			"correlation_id", entry.CorrelationID,
			"pending", len(l.pending),
			"error", err,
		)

		return &WriteError{Entry: entry, Pending: len(l.pending), Err: err}
	}

	return nil
}

func (l *Logger) flushLocked(ctx context.Context) error {
	for len(l.pending) > 0 {
		err := l.sink.Write(ctx, l.pending[0])
		if err != nil {
			return err
		}

		l.pending = l.pending[1:]
	}

	return nil
}
