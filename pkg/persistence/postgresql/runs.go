package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/persistence"
)

// RunRepository handles workflow run database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
			id
		  , alert_id
		  , definition
		  , status
		  , error
		  , steps
		  , started_at
		  , finished_at`

// Save upserts the latest snapshot of run.
func (r *RunRepository) Save(ctx context.Context, run *models.WorkflowRun) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, fmt.Errorf("failed to marshal steps: %w", err))
	}

	query := `
		INSERT INTO workflow_runs (id, alert_id, definition, status, error, steps, started_at, finished_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , error = EXCLUDED.error
		  , steps = EXCLUDED.steps
		  , finished_at = EXCLUDED.finished_at
		  , updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.AlertID,
		run.Definition,
		string(run.Status),
		nullString(run.Error),
		steps,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	query := `SELECT` + runColumns + `
		FROM workflow_runs
		WHERE id = $1
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("Get", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("Get", id, err)
	}

	return run, nil
}

func (r *RunRepository) List(ctx context.Context, opts persistence.ListRunsOptions) (*persistence.RunListResult, error) {
	err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	where, args := buildRunFilter(opts)

	var total int

	err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_runs"+where, args...).Scan(&total)
	if err != nil {
		return nil, persistence.NewRunError("List", "", fmt.Errorf("failed to count runs: %w", err))
	}

	// SortOrder is validated by Normalize, so it is safe to interpolate
	query := fmt.Sprintf(`SELECT%s
		FROM workflow_runs%s
		ORDER BY started_at %s
		LIMIT $%d OFFSET $%d`, runColumns, where, strings.ToUpper(opts.SortOrder), len(args)+1, len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, persistence.NewRunError("List", "", fmt.Errorf("failed to query runs: %w", err))
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.WorkflowRun, 0, opts.Limit)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, persistence.NewRunError("List", "", fmt.Errorf("failed to scan run: %w", err))
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewRunError("List", "", fmt.Errorf("error iterating runs: %w", err))
	}

	return &persistence.RunListResult{
		Runs:        runs,
		TotalCount:  total,
		HasNextPage: opts.Offset+len(runs) < total,
	}, nil
}

func buildRunFilter(opts persistence.ListRunsOptions) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	if opts.AlertID != "" {
		args = append(args, opts.AlertID)
		conditions = append(conditions, fmt.Sprintf("alert_id = $%d", len(args)))
	}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.WorkflowRun, error) {
	var (
		run        models.WorkflowRun
		status     string
		runErr     sql.NullString
		steps      []byte
		finishedAt sql.NullTime
	)

	err := row.Scan(&run.ID, &run.AlertID, &run.Definition, &status, &runErr, &steps, &run.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	run.Error = runErr.String

	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}

	run.Steps = []models.StepResult{}

	if len(steps) > 0 {
		err = json.Unmarshal(steps, &run.Steps)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}

	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
