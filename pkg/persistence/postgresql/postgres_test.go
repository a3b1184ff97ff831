package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/responder/pkg/audit"
	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/persistence"
	"github.com/dukex/responder/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"audit_entries", "workflow_runs", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	_, err = db.ExecContext(ctx, "DROP FUNCTION IF EXISTS audit_entries_append_only()")
	require.NoError(t, err)

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("responder_test"),
			postgres.WithUsername("responder"),
			postgres.WithPassword("responder"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflow_runs", "audit_entries", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestNewPersistence_SaveAndRetrieveRun(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	started := time.Now().UTC().Truncate(time.Millisecond)
	run := &models.WorkflowRun{
		ID:         uuid.NewString(),
		AlertID:    "alert-1",
		Definition: "intrusion-response",
		StartedAt:  started,
		Status:     models.RunStatusRunning,
		Steps:      []models.StepResult{},
	}

	require.NoError(t, p.SaveRun(ctx, run))

	finished := started.Add(2 * time.Second)
	run.Steps = append(run.Steps, models.StepResult{
		StepName:   "triage",
		Status:     models.StepStatusSuccess,
		Output:     models.StepOutput{"priority": "high"},
		StartedAt:  started,
		FinishedAt: finished,
	})
	run.Status = models.RunStatusCompleted
	run.FinishedAt = &finished

	require.NoError(t, p.SaveRun(ctx, run))

	stored, err := p.RunByID(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	require.Len(t, stored.Steps, 1)
	assert.Equal(t, "high", stored.Steps[0].Output["priority"])
	require.NotNil(t, stored.FinishedAt)
	assert.True(t, finished.Equal(*stored.FinishedAt))

	_, err = p.RunByID(ctx, "missing")
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestNewPersistence_ListRuns(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, status := range []models.RunStatus{models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCompleted} {
		require.NoError(t, p.SaveRun(ctx, &models.WorkflowRun{
			ID:         uuid.NewString(),
			AlertID:    "alert-1",
			Definition: "wf",
			StartedAt:  base.Add(time.Duration(i) * time.Second),
			Status:     status,
		}))
	}

	result, err := p.Runs(ctx, persistence.ListRunsOptions{Status: models.RunStatusCompleted, Limit: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalCount)
	assert.True(t, result.HasNextPage)
	require.Len(t, result.Runs, 1)
	assert.True(t, base.Add(2*time.Second).Equal(result.Runs[0].StartedAt))
}

func TestAuditRepository_AppendOnly(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	repo := p.AuditRepository()
	at := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.Write(ctx, models.AuditEntry{
		Timestamp:     at,
		EventType:     models.AuditEventAction,
		Actor:         "orchestrator",
		Action:        "run.started",
		Input:         map[string]any{"alert_id": "alert-1"},
		Status:        "running",
		CorrelationID: "run-1",
	}))
	require.NoError(t, repo.Write(ctx, models.AuditEntry{
		Timestamp:     at.Add(time.Second),
		EventType:     models.AuditEventDecision,
		Actor:         "orchestrator",
		Decision:      "condition.skip",
		CorrelationID: "run-2",
	}))

	entries, err := repo.Entries(ctx, audit.Query{CorrelationID: "run-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run.started", entries[0].Action)
	assert.True(t, at.Equal(entries[0].Timestamp))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	_, err = db.ExecContext(ctx, "UPDATE audit_entries SET actor = 'someone else'")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = db.ExecContext(ctx, "DELETE FROM audit_entries")
	require.Error(t, err)

	// Closing a shared repository must not close the persistence connection
	require.NoError(t, repo.Close())
	require.NoError(t, p.HealthCheck(ctx))
}
