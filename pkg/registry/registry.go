// Package registry maps capability names to the factories that build them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"sync"

	"github.com/dukex/responder/pkg/protocol"
)

// ErrCapabilityNotRegistered is returned when a step names an unknown capability.
var ErrCapabilityNotRegistered = errors.New("capability not registered")

// Registry holds every capability known at startup. It is populated once and then
// only read, so lookups never go through reflection or dynamic imports.
type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[string]protocol.CapabilityFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "registry"),
		factories: make(map[string]protocol.CapabilityFactory),
	}
}

// LoadCapabilityPlugins opens every <pluginsPath>/capabilities/*/*.so and returns the
// factory each one exports as "Capability".
func (r *Registry) LoadCapabilityPlugins(ctx context.Context, pluginsPath string) ([]protocol.CapabilityFactory, error) {
	return loadPlugin[protocol.CapabilityFactory](ctx, r.logger, filepath.Join(pluginsPath, "capabilities"), "Capability")
}

func (r *Registry) RegisterCapability(factory protocol.CapabilityFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.ID()] = factory
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[name]

	return ok
}

// CreateCapability builds the capability bound to name with a step's configuration.
func (r *Registry) CreateCapability(ctx context.Context, name string, config map[string]any) (protocol.Capability, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrCapabilityNotRegistered, name)
	}

	if config == nil {
		config = map[string]any{}
	}

	return factory.Create(ctx, config)
}

// Capabilities lists registered capability names in sorted order.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (r *Registry) HealthCheck() (string, bool) {
	if len(r.Capabilities()) == 0 {
		return "no capabilities registered", false
	}

	return "ok", true
}

func loadPlugin[T any](ctx context.Context, logger *slog.Logger, rootPath string, symbolName string) ([]T, error) {
	if _, err := os.Stat(rootPath); os.IsNotExist(err) {
		return nil, nil
	}

	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", rootPath), slog.String("type", symbolName))
	l.InfoContext(ctx, "Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s does not export %s: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.InfoContext(ctx, "Loaded capability plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
