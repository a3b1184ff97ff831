// Package persistence stores workflow runs so they can be inspected while and after they run.
package persistence

import (
	"context"
	"sort"

	"github.com/dukex/responder/pkg/models"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

type Persistence interface {
	// SaveRun inserts or replaces the stored snapshot of run.
	SaveRun(ctx context.Context, run *models.WorkflowRun) error
	RunByID(ctx context.Context, id string) (*models.WorkflowRun, error)
	Runs(ctx context.Context, opts ListRunsOptions) (*RunListResult, error)
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// ListRunsOptions filters and pages run listings. Runs are ordered by start time.
type ListRunsOptions struct {
	AlertID   string
	Status    models.RunStatus
	Limit     int
	Offset    int
	SortOrder string
}

// Normalize applies defaults and rejects unknown sort orders.
func (o *ListRunsOptions) Normalize() error {
	if o.Limit <= 0 || o.Limit > MaxListLimit {
		o.Limit = DefaultListLimit
	}

	if o.Offset < 0 {
		o.Offset = 0
	}

	if o.SortOrder == "" {
		o.SortOrder = "desc"
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		return NewRunError("List", "", ErrInvalidSortOrder)
	}

	return nil
}

func (o ListRunsOptions) matches(run *models.WorkflowRun) bool {
	if o.AlertID != "" && run.AlertID != o.AlertID {
		return false
	}

	return o.Status == "" || run.Status == o.Status
}

type RunListResult struct {
	Runs        []*models.WorkflowRun `json:"runs"`
	TotalCount  int                   `json:"total_count"`
	HasNextPage bool                  `json:"has_next_page"`
}

// Page filters, sorts and pages runs in memory for backends without a query engine.
// opts must already be normalized.
func Page(runs []*models.WorkflowRun, opts ListRunsOptions) *RunListResult {
	filtered := make([]*models.WorkflowRun, 0, len(runs))

	for _, run := range runs {
		if opts.matches(run) {
			filtered = append(filtered, run)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if opts.SortOrder == "asc" {
			return filtered[i].StartedAt.Before(filtered[j].StartedAt)
		}

		return filtered[i].StartedAt.After(filtered[j].StartedAt)
	})

	total := len(filtered)
	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)

	return &RunListResult{
		Runs:        filtered[start:end],
		TotalCount:  total,
		HasNextPage: end < total,
	}
}
