package storage

import (
	"context"

	"edufund/internal/domain"
)

// MutateFunc transforms a private copy of a fund. Returning an error
// discards the transformation.
type MutateFunc func(f *domain.Fund) error

// FundStore owns fund identity and existence. All other components read
// and change funds only through it.
type FundStore interface {
	// Create stores a new fund. Returns ErrDuplicateKey if the id exists.
	Create(ctx context.Context, f *domain.Fund) error

	// GetByID retrieves a fund with its applicants. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, fundID string) (*domain.Fund, error)

	// List retrieves all funds ordered by created_at ASC, fund_id ASC.
	List(ctx context.Context) ([]*domain.Fund, error)

	// Mutate applies fn atomically with respect to other mutations of the
	// same fund and returns the stored result. Returns ErrNotFound if not
	// exists, or fn's error unchanged.
	Mutate(ctx context.Context, fundID string, fn MutateFunc) (*domain.Fund, error)
}

// PayoutJournal is an append-only record of transfer attempts.
type PayoutJournal interface {
	// Append adds events. Events whose event_id already exists are skipped.
	Append(ctx context.Context, events []*domain.PayoutEvent) error

	// GetByFundID retrieves all events of a fund, ordered by occurred_at ASC, event_id ASC.
	GetByFundID(ctx context.Context, fundID string) ([]*domain.PayoutEvent, error)
}
