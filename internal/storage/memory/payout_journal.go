package memory

import (
	"context"
	"sort"
	"sync"

	"edufund/internal/domain"
	"edufund/internal/storage"
)

// PayoutJournal is an in-memory implementation of storage.PayoutJournal.
type PayoutJournal struct {
	mu     sync.RWMutex
	seen   map[string]struct{}              // event_id
	byFund map[string][]*domain.PayoutEvent // fund_id -> events
}

// NewPayoutJournal creates a new in-memory payout journal.
func NewPayoutJournal() *PayoutJournal {
	return &PayoutJournal{
		seen:   make(map[string]struct{}),
		byFund: make(map[string][]*domain.PayoutEvent),
	}
}

// Append adds events, skipping event ids already recorded.
func (j *PayoutJournal) Append(_ context.Context, events []*domain.PayoutEvent) error {
	for _, e := range events {
		if e == nil || e.EventID == "" || e.FundID == "" {
			return storage.ErrInvalidInput
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, e := range events {
		if _, exists := j.seen[e.EventID]; exists {
			continue
		}
		j.seen[e.EventID] = struct{}{}
		eventCopy := *e
		j.byFund[e.FundID] = append(j.byFund[e.FundID], &eventCopy)
	}
	return nil
}

// GetByFundID retrieves all events of a fund, ordered by occurred_at ASC, event_id ASC.
func (j *PayoutJournal) GetByFundID(_ context.Context, fundID string) ([]*domain.PayoutEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	src := j.byFund[fundID]
	result := make([]*domain.PayoutEvent, 0, len(src))
	for _, e := range src {
		eventCopy := *e
		result = append(result, &eventCopy)
	}

	sort.SliceStable(result, func(a, b int) bool {
		if result[a].OccurredAt != result[b].OccurredAt {
			return result[a].OccurredAt < result[b].OccurredAt
		}
		return result[a].EventID < result[b].EventID
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.PayoutJournal = (*PayoutJournal)(nil)
