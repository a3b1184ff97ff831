package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	// Test with regular path
	assert.Equal(t, "/tmp/test", NewPersistence("/tmp/test").root)

	// Test with file:// prefix
	assert.Equal(t, "/tmp/test", NewPersistence("file:///tmp/test").root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.ErrorIs(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()), os.ErrNotExist)
}

func testRun(id string, status models.RunStatus, startedAt time.Time) *models.WorkflowRun {
	return &models.WorkflowRun{
		ID:         id,
		AlertID:    "alert-" + id,
		Definition: "incident",
		StartedAt:  startedAt,
		Status:     status,
		Steps: []models.StepResult{{
			StepName:   "triage",
			Status:     models.StepStatusSuccess,
			Output:     models.StepOutput{"priority": "high"},
			StartedAt:  startedAt,
			FinishedAt: startedAt.Add(time.Second),
		}},
	}
}

func TestPersistence_SaveRun(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(dir)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	run := testRun("run-1", models.RunStatusRunning, started)

	require.NoError(t, p.SaveRun(t.Context(), run))
	assert.FileExists(t, filepath.Join(dir, "runs", "run-1.json"))

	// a later snapshot replaces the earlier one
	finished := started.Add(time.Minute)
	run.Status = models.RunStatusCompleted
	run.FinishedAt = &finished
	require.NoError(t, p.SaveRun(t.Context(), run))

	loaded, err := p.RunByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, loaded.Status)
	assert.Equal(t, finished, *loaded.FinishedAt)
	assert.Equal(t, "high", loaded.Steps[0].Output["priority"])

	leftovers, err := filepath.Glob(filepath.Join(dir, "runs", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPersistence_SaveRun_InvalidID(t *testing.T) {
	p := NewPersistence(t.TempDir())

	require.Error(t, p.SaveRun(t.Context(), &models.WorkflowRun{ID: "../escape"}))
	require.Error(t, p.SaveRun(t.Context(), &models.WorkflowRun{}))
}

func TestPersistence_RunByID_NotFound(t *testing.T) {
	_, err := NewPersistence(t.TempDir()).RunByID(t.Context(), "missing")
	require.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestPersistence_Runs(t *testing.T) {
	p := NewPersistence(t.TempDir())

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, p.SaveRun(t.Context(), testRun("a", models.RunStatusCompleted, base)))
	require.NoError(t, p.SaveRun(t.Context(), testRun("b", models.RunStatusFailed, base.Add(time.Minute))))
	require.NoError(t, p.SaveRun(t.Context(), testRun("c", models.RunStatusCompleted, base.Add(2*time.Minute))))

	result, err := p.Runs(t.Context(), persistence.ListRunsOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, "c", result.Runs[0].ID)

	result, err = p.Runs(t.Context(), persistence.ListRunsOptions{Status: models.RunStatusCompleted, SortOrder: "asc", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalCount)
	assert.True(t, result.HasNextPage)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, "a", result.Runs[0].ID)

	_, err = p.Runs(t.Context(), persistence.ListRunsOptions{SortOrder: "sideways"})
	require.ErrorIs(t, err, persistence.ErrInvalidSortOrder)
}

func TestPersistence_Runs_Empty(t *testing.T) {
	result, err := NewPersistence(t.TempDir()).Runs(t.Context(), persistence.ListRunsOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Runs)
	assert.Zero(t, result.TotalCount)
}
