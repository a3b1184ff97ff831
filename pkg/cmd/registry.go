// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/responder/pkg/capabilities/httprequest"
	logcapability "github.com/dukex/responder/pkg/capabilities/log"
	"github.com/dukex/responder/pkg/capabilities/triage"
	"github.com/dukex/responder/pkg/registry"
)

func registerCapabilityPlugins(ctx context.Context, reg *registry.Registry, pluginsPath string) error {
	plugins, err := reg.LoadCapabilityPlugins(ctx, pluginsPath)
	if err != nil {
		return fmt.Errorf("failed to load capability plugins: %w", err)
	}

	for _, plugin := range plugins {
		reg.RegisterCapability(plugin)
	}

	return nil
}

func registerNativeCapabilities(reg *registry.Registry, logger *slog.Logger) {
	reg.RegisterCapability(triage.NewCapabilityFactory(logger))
	reg.RegisterCapability(httprequest.NewCapabilityFactory(logger))
	reg.RegisterCapability(logcapability.NewCapabilityFactory(logger))
}

// NewRegistry registers plugins first so a native capability of the same name wins.
func NewRegistry(ctx context.Context, logger *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	if pluginsPath != "" {
		err := registerCapabilityPlugins(ctx, reg, pluginsPath)
		if err != nil {
			return nil, err
		}
	}

	registerNativeCapabilities(reg, logger)

	return reg, nil
}
