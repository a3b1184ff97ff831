// Package memory keeps runs in process memory, for one-shot runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/persistence"
)

type Persistence struct {
	mu   sync.RWMutex
	runs map[string]*models.WorkflowRun
}

func NewPersistence() *Persistence {
	return &Persistence{runs: make(map[string]*models.WorkflowRun)}
}

func (p *Persistence) SaveRun(_ context.Context, run *models.WorkflowRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runs[run.ID] = run.Snapshot()

	return nil
}

func (p *Persistence) RunByID(_ context.Context, id string) (*models.WorkflowRun, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	run, ok := p.runs[id]
	if !ok {
		return nil, persistence.NewRunError("Get", id, persistence.ErrRunNotFound)
	}

	return run.Snapshot(), nil
}

func (p *Persistence) Runs(_ context.Context, opts persistence.ListRunsOptions) (*persistence.RunListResult, error) {
	err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	runs := make([]*models.WorkflowRun, 0, len(p.runs))
	for _, run := range p.runs {
		runs = append(runs, run.Snapshot())
	}

	return persistence.Page(runs, opts), nil
}

func (p *Persistence) HealthCheck(context.Context) error {
	return nil
}

func (p *Persistence) Close(context.Context) error {
	return nil
}
