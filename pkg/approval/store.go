package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dukex/responder/pkg/models"
)

var (
	ErrApprovalNotFound = errors.New("approval request not found")
	// ErrAlreadyTerminal is returned, together with the stored request, when a transition
	// targets a request that already left pending.
	ErrAlreadyTerminal = errors.New("approval request already resolved")
	ErrInvalidDecision = errors.New("decision must be approved or denied")
	ErrDuplicateID     = errors.New("approval request id already exists")

	// ErrDenied and ErrExpired describe why a restricted action did not run.
	ErrDenied  = errors.New("approval denied")
	ErrExpired = errors.New("approval expired")
)

// Outcome maps a terminal request to nil when approved, otherwise to ErrDenied or ErrExpired.
func Outcome(req *models.ApprovalRequest) error {
	switch req.Status {
	case models.ApprovalApproved:
		return nil
	case models.ApprovalDenied:
		return fmt.Errorf("%w by %s", ErrDenied, req.ResolvedBy)
	default:
		return ErrExpired
	}
}

// Store persists approval requests. Transition is a compare-and-set from pending: exactly
// one of several concurrent transitions on the same request succeeds.
type Store interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	Get(ctx context.Context, id string) (*models.ApprovalRequest, error)
	Transition(ctx context.Context, id string, to models.ApprovalStatus, by string, at time.Time) (*models.ApprovalRequest, error)
	// List returns requests oldest first; an empty status returns all of them.
	List(ctx context.Context, status models.ApprovalStatus) ([]*models.ApprovalRequest, error)
	Close() error
}

// applyTransition mutates req when it is still pending.
func applyTransition(req *models.ApprovalRequest, to models.ApprovalStatus, by string, at time.Time) error {
	if !to.Terminal() {
		return fmt.Errorf("cannot transition approval to %q", to)
	}

	if req.Status.Terminal() {
		return ErrAlreadyTerminal
	}

	resolvedAt := at.UTC()
	req.Status = to
	req.ResolvedAt = &resolvedAt
	req.ResolvedBy = by

	return nil
}

// MemoryStore keeps requests in a map guarded by a mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.ApprovalRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.ApprovalRequest)}
}

func (s *MemoryStore) Create(_ context.Context, req *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, req.ID)
	}

	s.requests[req.ID] = req.Clone()

	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}

	return req.Clone(), nil
}

func (s *MemoryStore) Transition(
	_ context.Context,
	id string,
	to models.ApprovalStatus,
	by string,
	at time.Time,
) (*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}

	err := applyTransition(req, to, by, at)
	if err != nil {
		return req.Clone(), err
	}

	return req.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, status models.ApprovalStatus) ([]*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ApprovalRequest, 0, len(s.requests))

	for _, req := range s.requests {
		if status == "" || req.Status == status {
			out = append(out, req.Clone())
		}
	}

	sortByCreation(out)

	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func sortByCreation(requests []*models.ApprovalRequest) {
	sort.SliceStable(requests, func(i, j int) bool {
		if requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].ID < requests[j].ID
		}

		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
}
