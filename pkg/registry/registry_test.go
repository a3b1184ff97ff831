package registry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFactory struct {
	id         string
	lastConfig map[string]any
}

func (m *mockFactory) ID() string          { return m.id }
func (m *mockFactory) Description() string { return "mock capability" }

func (m *mockFactory) Create(_ context.Context, config map[string]any) (protocol.Capability, error) {
	m.lastConfig = config

	return protocol.CapabilityFunc(func(context.Context, *models.RunContext) (models.StepOutput, error) {
		return models.StepOutput{"from": m.id}, nil
	}), nil
}

func TestRegistry_RegisterAndCreateCapability(t *testing.T) {
	reg := NewRegistry(slog.Default())
	factory := &mockFactory{id: "triage"}

	reg.RegisterCapability(factory)

	assert.True(t, reg.Has("triage"))
	assert.False(t, reg.Has("response"))

	capability, err := reg.CreateCapability(t.Context(), "triage", map[string]any{"model": "rules"})
	require.NoError(t, err)

	output, err := capability.Invoke(t.Context(), &models.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, "triage", output["from"])
	assert.Equal(t, "rules", factory.lastConfig["model"])
}

func TestRegistry_CreateCapability_NilConfig(t *testing.T) {
	reg := NewRegistry(slog.Default())
	factory := &mockFactory{id: "log"}
	reg.RegisterCapability(factory)

	_, err := reg.CreateCapability(t.Context(), "log", nil)
	require.NoError(t, err)
	assert.NotNil(t, factory.lastConfig)
}

func TestRegistry_UnknownCapability(t *testing.T) {
	reg := NewRegistry(slog.Default())

	_, err := reg.CreateCapability(t.Context(), "missing", nil)
	require.ErrorIs(t, err, ErrCapabilityNotRegistered)
	assert.Contains(t, err.Error(), "missing")
}

func TestRegistry_CapabilitiesAndHealth(t *testing.T) {
	reg := NewRegistry(slog.Default())

	_, ok := reg.HealthCheck()
	assert.False(t, ok)

	reg.RegisterCapability(&mockFactory{id: "response"})
	reg.RegisterCapability(&mockFactory{id: "investigation"})

	assert.Equal(t, []string{"investigation", "response"}, reg.Capabilities())

	status, ok := reg.HealthCheck()
	assert.True(t, ok)
	assert.Equal(t, "ok", status)
}

func TestRegistry_LoadCapabilityPlugins_MissingDir(t *testing.T) {
	reg := NewRegistry(slog.Default())

	plugins, err := reg.LoadCapabilityPlugins(t.Context(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, plugins)
}

func TestRegistry_LoadCapabilityPlugins_EmptyDir(t *testing.T) {
	reg := NewRegistry(slog.Default())
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "capabilities", "blocklist"), 0o755))

	plugins, err := reg.LoadCapabilityPlugins(t.Context(), root)
	require.NoError(t, err)
	assert.Empty(t, plugins)
}
