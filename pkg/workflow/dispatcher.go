package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dukex/responder/pkg/eventbus"
	"github.com/dukex/responder/pkg/events"
	"github.com/dukex/responder/pkg/models"
	"github.com/google/uuid"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// Catalog picks the definition that handles an alert.
type Catalog interface {
	ForAlert(alertType string) (models.WorkflowDefinition, bool)
}

// Executor runs one definition against one alert.
type Executor interface {
	Execute(ctx context.Context, definition models.WorkflowDefinition, alert models.Alert, opts ...ExecuteOption) (*models.WorkflowRun, error)
}

type DispatcherOption func(*Dispatcher)

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithPublisher announces finished runs on the event bus.
func WithPublisher(publisher eventbus.EventPublisher, source string) DispatcherOption {
	return func(d *Dispatcher) {
		d.publisher = publisher
		d.source = source
	}
}

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

type job struct {
	runID      string
	alert      models.Alert
	definition models.WorkflowDefinition
}

type activeRun struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Dispatcher runs alerts on a bounded pool of workers fed by a bounded queue.
type Dispatcher struct {
	executor  Executor
	catalog   Catalog
	publisher eventbus.EventPublisher
	source    string
	workers   int
	queueSize int
	logger    *slog.Logger

	mu      sync.Mutex
	queue   chan job
	active  map[string]*activeRun
	stopped bool

	wg sync.WaitGroup
}

func NewDispatcher(executor Executor, catalog Catalog, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		executor:  executor,
		catalog:   catalog,
		source:    "responder",
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		logger:    slog.Default(),
		active:    make(map[string]*activeRun),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.logger = d.logger.With("module", "dispatcher")
	d.queue = make(chan job, d.queueSize)

	return d
}

// Start launches the workers. When ctx is done, running runs are cancelled and queued ones
// finish failed.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.InfoContext(ctx, "Starting dispatcher", "workers", d.workers, "queue_size", d.queueSize)

	for range d.workers {
		d.wg.Add(1)

		go func() {
			defer d.wg.Done()

			d.work(ctx)
		}()
	}
}

// Submit queues alert for the workflow that handles its type and returns the run id.
func (d *Dispatcher) Submit(ctx context.Context, alert models.Alert) (string, error) {
	definition, ok := d.catalog.ForAlert(alert.Type)
	if !ok {
		return "", ErrNoWorkflow
	}

	j := job{runID: uuid.NewString(), alert: alert, definition: definition}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return "", ErrStopped
	}

	select {
	case d.queue <- j:
		d.active[j.runID] = &activeRun{}
	default:
		d.logger.WarnContext(ctx, "Dispatch queue full, rejecting alert", "alert_id", alert.ID)

		return "", ErrQueueFull
	}

	d.logger.InfoContext(ctx, "Alert queued", "alert_id", alert.ID, "run_id", j.runID, "workflow", definition.Name)

	return j.runID, nil
}

// Cancel stops a queued or running run. A queued run is still executed, and finishes
// failed without running any step.
func (d *Dispatcher) Cancel(runID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	run, ok := d.active[runID]
	if !ok {
		return ErrRunNotFound
	}

	run.cancelled = true
	if run.cancel != nil {
		run.cancel()
	}

	return nil
}

// Active returns the number of queued or running runs.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.active)
}

// Stop closes the queue; workers finish what was already queued.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	close(d.queue)
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ctx)

			return
		case j, ok := <-d.queue:
			if !ok {
				return
			}

			d.process(ctx, j)
		}
	}
}

// drain stops accepting alerts and finishes every queued run with the cancelled ctx, so
// each one is recorded failed without running a step.
func (d *Dispatcher) drain(ctx context.Context) {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	for j := range d.queue {
		d.process(ctx, j)
	}
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	if run, ok := d.active[j.runID]; ok {
		run.cancel = cancel
		if run.cancelled {
			cancel()
		}
	}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.active, j.runID)
		d.mu.Unlock()
	}()

	logger := d.logger.With("run_id", j.runID, "alert_id", j.alert.ID, "workflow", j.definition.Name)

	run, err := d.executor.Execute(runCtx, j.definition, j.alert, WithRunID(j.runID))
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "Workflow run failed", "error", err)
	}

	if run == nil || d.publisher == nil {
		return
	}

	pubErr := d.publisher.Publish(context.WithoutCancel(ctx), run.ID, events.RunFinished(d.source, run))
	if pubErr != nil {
		logger.WarnContext(ctx, "Failed to publish run result", "error", pubErr)
	}
}
