package audit

import (
	"context"
	"sync"

	"github.com/dukex/responder/pkg/models"
)

// MemorySink keeps entries in memory. It backs the run command and tests.
type MemorySink struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
	failing error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FailWith makes every following Write return err until it is called with nil.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failing = err
}

func (s *MemorySink) Write(_ context.Context, entry models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing != nil {
		return s.failing
	}

	s.entries = append(s.entries, entry)

	return nil
}

func (s *MemorySink) Entries(_ context.Context, query Query) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AuditEntry, 0, len(s.entries))

	for _, entry := range s.entries {
		if query.Matches(entry) {
			out = append(out, entry)
		}
	}

	return out, nil
}

func (s *MemorySink) Close() error {
	return nil
}
