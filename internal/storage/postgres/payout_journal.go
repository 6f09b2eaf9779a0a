package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"edufund/internal/domain"
	"edufund/internal/storage"
)

// PayoutJournal implements storage.PayoutJournal using PostgreSQL.
type PayoutJournal struct {
	pool *Pool
}

// NewPayoutJournal creates a new PayoutJournal.
func NewPayoutJournal(pool *Pool) *PayoutJournal {
	return &PayoutJournal{pool: pool}
}

// Compile-time interface check.
var _ storage.PayoutJournal = (*PayoutJournal)(nil)

// Append adds events in one batch. Existing event ids are skipped.
func (j *PayoutJournal) Append(ctx context.Context, events []*domain.PayoutEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	defer observe("journal_append", time.Now(), &err)

	query := `
		INSERT INTO payout_events (
			event_id, fund_id, attempt, rank, applicant_id, wallet, amount, status, tx_ref, error, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query,
			e.EventID,
			e.FundID,
			e.Attempt,
			e.Rank,
			e.ApplicantID,
			e.Wallet,
			e.Amount.String(),
			string(e.Status),
			e.TxRef,
			e.Error,
			e.OccurredAt,
		)
	}

	br := j.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert payout event: %w", err)
		}
	}
	return nil
}

// GetByFundID retrieves all events of a fund, ordered by occurred_at ASC, event_id ASC.
func (j *PayoutJournal) GetByFundID(ctx context.Context, fundID string) (events []*domain.PayoutEvent, err error) {
	defer observe("journal_get", time.Now(), &err)

	query := `
		SELECT event_id, fund_id, attempt, rank, applicant_id, wallet, amount::text, status, tx_ref, error, occurred_at
		FROM payout_events
		WHERE fund_id = $1
		ORDER BY occurred_at ASC, event_id ASC
	`

	rows, err := j.pool.Query(ctx, query, fundID)
	if err != nil {
		return nil, fmt.Errorf("get payout events: %w", err)
	}
	defer rows.Close()

	events = []*domain.PayoutEvent{}
	for rows.Next() {
		var (
			e              domain.PayoutEvent
			amount, status string
		)
		if err := rows.Scan(&e.EventID, &e.FundID, &e.Attempt, &e.Rank, &e.ApplicantID, &e.Wallet,
			&amount, &status, &e.TxRef, &e.Error, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan payout event: %w", err)
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse payout event amount: %w", err)
		}
		e.Status = domain.PayoutStatus(status)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payout events: %w", err)
	}
	return events, nil
}
