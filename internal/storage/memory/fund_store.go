package memory

import (
	"context"
	"sort"
	"sync"

	"edufund/internal/domain"
	"edufund/internal/storage"
)

// fundEntry guards one fund. Mutations of the same fund serialize on mu;
// different funds proceed independently.
type fundEntry struct {
	mu   sync.Mutex
	fund *domain.Fund
}

// FundStore is an in-memory implementation of storage.FundStore.
type FundStore struct {
	mu   sync.RWMutex
	data map[string]*fundEntry // keyed by fund_id
}

// NewFundStore creates a new in-memory fund store.
func NewFundStore() *FundStore {
	return &FundStore{
		data: make(map[string]*fundEntry),
	}
}

// Create stores a new fund. Returns ErrDuplicateKey if fund_id exists.
func (s *FundStore) Create(_ context.Context, f *domain.Fund) error {
	if f == nil || f.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[f.ID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	s.data[f.ID] = &fundEntry{fund: f.Clone()}
	return nil
}

// GetByID retrieves a fund by its ID. Returns ErrNotFound if not exists.
func (s *FundStore) GetByID(_ context.Context, fundID string) (*domain.Fund, error) {
	e, ok := s.entry(fundID)
	if !ok {
		return nil, storage.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fund.Clone(), nil
}

// List retrieves all funds ordered by created_at ASC, fund_id ASC.
func (s *FundStore) List(_ context.Context) ([]*domain.Fund, error) {
	s.mu.RLock()
	entries := make([]*fundEntry, 0, len(s.data))
	for _, e := range s.data {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	result := make([]*domain.Fund, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		result = append(result, e.fund.Clone())
		e.mu.Unlock()
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Mutate applies fn to a copy of the fund under the fund's lock and
// stores the copy only if fn succeeds.
func (s *FundStore) Mutate(ctx context.Context, fundID string, fn storage.MutateFunc) (*domain.Fund, error) {
	e, ok := s.entry(fundID)
	if !ok {
		return nil, storage.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	working := e.fund.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	// Identity is owned by the store.
	working.ID = e.fund.ID

	e.fund = working
	return working.Clone(), nil
}

func (s *FundStore) entry(fundID string) (*fundEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[fundID]
	return e, ok
}

// Verify interface compliance at compile time.
var _ storage.FundStore = (*FundStore)(nil)
