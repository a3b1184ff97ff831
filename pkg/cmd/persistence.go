package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/responder/pkg/approval"
	"github.com/dukex/responder/pkg/audit"
	"github.com/dukex/responder/pkg/persistence"
	"github.com/dukex/responder/pkg/persistence/file"
	"github.com/dukex/responder/pkg/persistence/memory"
	"github.com/dukex/responder/pkg/persistence/postgresql"
	"github.com/jonboulle/clockwork"
)

// Provider returns the scheme of url; a url without one is a file path.
func Provider(url string) string {
	scheme, _, found := strings.Cut(url, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgres"
	case "rediss":
		return "redis"
	default:
		return scheme
	}
}

// NewPersistence maps DATABASE_URL to a run store: file://, postgres:// or memory://.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch Provider(databaseURL) {
	case "file":
		return file.NewPersistence(databaseURL), nil
	case "postgres":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return p, nil
	case "memory":
		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider in %q", databaseURL)
	}
}

// NewAuditSink maps AUDIT_URL to a sink that can also read the trail back. A postgres url
// opens a connection of its own.
func NewAuditSink(ctx context.Context, logger *slog.Logger, auditURL string) (AuditStore, error) {
	switch Provider(auditURL) {
	case "file":
		sink, err := audit.NewFileSink(strings.TrimPrefix(auditURL, "file://"), clockwork.NewRealClock())
		if err != nil {
			return nil, err
		}

		return sink, nil
	case "postgres":
		sink, err := postgresql.NewAuditSink(ctx, logger, auditURL)
		if err != nil {
			return nil, err
		}

		return sink, nil
	case "memory":
		return audit.NewMemorySink(), nil
	default:
		return nil, fmt.Errorf("unsupported audit provider in %q", auditURL)
	}
}

// AuditStore is a sink that can return what it stored.
type AuditStore interface {
	audit.Sink
	audit.Reader
}

// NewApprovalStore maps APPROVAL_STORE_URL to memory:// or redis://.
func NewApprovalStore(ctx context.Context, logger *slog.Logger, storeURL string) (approval.Store, error) {
	switch Provider(storeURL) {
	case "memory":
		return approval.NewMemoryStore(), nil
	case "redis":
		store, err := approval.NewRedisStore(ctx, storeURL, logger)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unsupported approval store in %q", storeURL)
	}
}
