package cmd

import (
	"log/slog"
	"testing"

	"github.com/dukex/responder/pkg/approval"
	"github.com/dukex/responder/pkg/audit"
	"github.com/dukex/responder/pkg/persistence/file"
	"github.com/dukex/responder/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider(t *testing.T) {
	tests := map[string]string{
		"file:///var/lib/responder":           "file",
		"./data":                              "file",
		"postgres://user:pass@db/responder":   "postgres",
		"postgresql://user:pass@db/responder": "postgres",
		"redis://localhost:6379/0":            "redis",
		"rediss://cache:6380":                 "redis",
		"memory://":                           "memory",
		"mysql://db":                          "mysql",
	}

	for url, expected := range tests {
		assert.Equal(t, expected, Provider(url), url)
	}
}

func TestNewPersistence(t *testing.T) {
	p, err := NewPersistence(t.Context(), slog.Default(), "file://"+t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)

	p, err = NewPersistence(t.Context(), slog.Default(), "memory://")
	require.NoError(t, err)
	assert.IsType(t, &memory.Persistence{}, p)

	_, err = NewPersistence(t.Context(), slog.Default(), "mysql://db")
	require.Error(t, err)
}

func TestNewAuditSink(t *testing.T) {
	sink, err := NewAuditSink(t.Context(), slog.Default(), t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &audit.FileSink{}, sink)
	require.NoError(t, sink.Close())

	_, err = NewAuditSink(t.Context(), slog.Default(), "s3://bucket")
	require.Error(t, err)
}

func TestNewApprovalStore(t *testing.T) {
	store, err := NewApprovalStore(t.Context(), slog.Default(), "memory://")
	require.NoError(t, err)
	assert.IsType(t, &approval.MemoryStore{}, store)

	_, err = NewApprovalStore(t.Context(), slog.Default(), "file:///tmp")
	require.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus("gochannel", "", slog.Default())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("kafka", "", slog.Default())
	require.Error(t, err)

	_, err = NewEventBus("nats", "", slog.Default())
	require.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(t.Context(), slog.Default(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, []string{"http", "log", "triage"}, reg.Capabilities())
}
