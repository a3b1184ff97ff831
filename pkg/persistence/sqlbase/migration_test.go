package sqlbase

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations_AppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(version\\), 0\\) FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	for _, version := range []int{2, 3} {
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE v" + string(rune('0'+version))).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(version).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	manager := NewMigrationManager(slog.Default(), db, map[int]string{
		3: "CREATE TABLE v3 ()",
		1: "CREATE TABLE v1 ()",
		2: "CREATE TABLE v2 ()",
	})

	require.NoError(t, manager.RunMigrations(t.Context()))
	assert.Equal(t, 3, manager.LatestVersion())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_UpToDate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))

	manager := NewMigrationManager(slog.Default(), db, map[int]string{1: "SELECT 1", 2: "SELECT 2"})

	require.NoError(t, manager.RunMigrations(t.Context()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_FailedMigrationRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	manager := NewMigrationManager(slog.Default(), db, map[int]string{1: "CREATE TABLE broken"})

	err = manager.RunMigrations(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute migration 1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_CreateTableFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnError(errors.New("permission denied"))

	err = NewMigrationManager(slog.Default(), db, map[int]string{1: "SELECT 1"}).RunMigrations(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}
