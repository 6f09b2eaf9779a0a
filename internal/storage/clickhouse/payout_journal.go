package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"edufund/internal/domain"
	"edufund/internal/observability"
	"edufund/internal/storage"
)

// PayoutJournal implements storage.PayoutJournal using ClickHouse.
// The table is a ReplacingMergeTree keyed by event_id; Append also skips
// ids already present so reads stay exact before background merges.
type PayoutJournal struct {
	conn *Conn
}

// NewPayoutJournal creates a new PayoutJournal.
func NewPayoutJournal(conn *Conn) *PayoutJournal {
	return &PayoutJournal{conn: conn}
}

// Compile-time interface check.
var _ storage.PayoutJournal = (*PayoutJournal)(nil)

// Append adds events. Events whose event_id already exists are skipped.
func (j *PayoutJournal) Append(ctx context.Context, events []*domain.PayoutEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "journal_append", time.Since(start).Seconds(), err)
	}()

	known := make(map[string]struct{})
	checked := make(map[string]bool)
	for _, e := range events {
		if checked[e.FundID] {
			continue
		}
		ids, err := j.eventIDs(ctx, e.FundID)
		if err != nil {
			return fmt.Errorf("check existing events: %w", err)
		}
		for _, id := range ids {
			known[id] = struct{}{}
		}
		checked[e.FundID] = true
	}

	batch, err := j.conn.PrepareBatch(ctx, `
		INSERT INTO payout_events (
			event_id, fund_id, attempt, rank, applicant_id, wallet, amount, status, tx_ref, error, occurred_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	pending := 0
	for _, e := range events {
		if _, dup := known[e.EventID]; dup {
			continue
		}
		known[e.EventID] = struct{}{}

		err = batch.Append(
			e.EventID, e.FundID, uint32(e.Attempt), uint32(e.Rank), uint32(e.ApplicantID),
			e.Wallet, e.Amount, string(e.Status), e.TxRef, e.Error, e.OccurredAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
		pending++
	}

	if pending == 0 {
		return batch.Abort()
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByFundID retrieves all events of a fund, ordered by occurred_at ASC, event_id ASC.
func (j *PayoutJournal) GetByFundID(ctx context.Context, fundID string) (events []*domain.PayoutEvent, err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "journal_get", time.Since(start).Seconds(), err)
	}()

	query := `
		SELECT event_id, fund_id, attempt, rank, applicant_id, wallet, amount, status, tx_ref, error, occurred_at
		FROM payout_events FINAL
		WHERE fund_id = ?
		ORDER BY occurred_at ASC, event_id ASC
	`

	rows, err := j.conn.Query(ctx, query, fundID)
	if err != nil {
		return nil, fmt.Errorf("query by fund id: %w", err)
	}
	defer rows.Close()

	events = []*domain.PayoutEvent{}
	for rows.Next() {
		var (
			e                          domain.PayoutEvent
			attempt, rank, applicantID uint32
			amount                     decimal.Decimal
			status                     string
		)
		err := rows.Scan(
			&e.EventID, &e.FundID, &attempt, &rank, &applicantID,
			&e.Wallet, &amount, &status, &e.TxRef, &e.Error, &e.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan payout event row: %w", err)
		}

		e.Attempt = int(attempt)
		e.Rank = int(rank)
		e.ApplicantID = int(applicantID)
		e.Amount = amount
		e.Status = domain.PayoutStatus(status)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payout event rows: %w", err)
	}
	return events, nil
}

// eventIDs lists the event ids already stored for a fund.
func (j *PayoutJournal) eventIDs(ctx context.Context, fundID string) ([]string, error) {
	rows, err := j.conn.Query(ctx, `SELECT event_id FROM payout_events WHERE fund_id = ?`, fundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
