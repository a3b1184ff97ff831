// Package postgresql provides PostgreSQL persistence for workflow runs and the audit trail.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/persistence"
	"github.com/dukex/responder/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db        *sql.DB
	logger    *slog.Logger
	runRepo   *RunRepository
	auditRepo *AuditRepository
}

// Open connects to databaseURL and brings the schema up to date.
func Open(ctx context.Context, logger *slog.Logger, databaseURL string) (*sql.DB, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	err = sqlbase.NewMigrationManager(logger, database, migrations()).RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database, nil
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	logger = logger.With("module", "postgresql")

	database, err := Open(ctx, logger, databaseURL)
	if err != nil {
		return nil, err
	}

	return &Persistence{
		db:        database,
		logger:    logger,
		runRepo:   NewRunRepository(database, logger),
		auditRepo: NewAuditRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) SaveRun(ctx context.Context, run *models.WorkflowRun) error {
	return p.runRepo.Save(ctx, run)
}

func (p *Persistence) RunByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	return p.runRepo.GetByID(ctx, id)
}

func (p *Persistence) Runs(ctx context.Context, opts persistence.ListRunsOptions) (*persistence.RunListResult, error) {
	return p.runRepo.List(ctx, opts)
}

// AuditRepository shares the connection; closing it leaves the connection open.
func (p *Persistence) AuditRepository() *AuditRepository {
	return p.auditRepo
}
