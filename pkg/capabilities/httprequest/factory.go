package httprequest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukex/responder/pkg/protocol"
)

// CapabilityFactory creates HTTP request capabilities.
type CapabilityFactory struct {
	client *http.Client
	logger *slog.Logger
}

// NewCapabilityFactory creates a factory sharing one HTTP client between steps. Timeouts
// come from the step context, so the client itself has none.
func NewCapabilityFactory(logger *slog.Logger) *CapabilityFactory {
	return &CapabilityFactory{
		client: &http.Client{},
		logger: logger,
	}
}

// ID returns the name steps use to bind to this capability.
func (f *CapabilityFactory) ID() string {
	return "http"
}

// Description returns a brief description of the capability.
func (f *CapabilityFactory) Description() string {
	return "Calls an external SIEM, EDR or threat-intelligence endpoint with the alert context."
}

// Create creates a new Capability from the given configuration.
func (f *CapabilityFactory) Create(_ context.Context, config map[string]any) (protocol.Capability, error) {
	return NewCapability(config, f.client, f.logger)
}
