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

// FundStore implements storage.FundStore using PostgreSQL.
// Mutate serializes per fund with SELECT ... FOR UPDATE.
type FundStore struct {
	pool *Pool
}

// NewFundStore creates a new FundStore.
func NewFundStore(pool *Pool) *FundStore {
	return &FundStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FundStore = (*FundStore)(nil)

const fundColumns = `
	fund_id, name, description, total_amount::text, platform_fee::text, slots,
	owner_wallet, status, created_at, completed_at,
	share_amount::text, dust::text, distribution_started_at, distribution_attempts, lease_until
`

// Create adds a new fund with any applicants it already carries.
// Returns ErrDuplicateKey if fund_id exists.
func (s *FundStore) Create(ctx context.Context, f *domain.Fund) (err error) {
	defer observe("fund_create", time.Now(), &err)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO funds (
			fund_id, name, description, total_amount, platform_fee, slots,
			owner_wallet, status, created_at, completed_at
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10)
	`
	_, err = tx.Exec(ctx, query,
		f.ID,
		f.Name,
		f.Description,
		f.TotalAmount.String(),
		f.PlatformFee.String(),
		f.Slots,
		f.Owner,
		string(f.Status),
		f.CreatedAt,
		f.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert fund: %w", err)
	}

	if f.Distribution != nil {
		if err := updateFund(ctx, tx, f); err != nil {
			return err
		}
	}
	if err := writeChildren(ctx, tx, &domain.Fund{}, f); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit fund: %w", err)
	}
	return nil
}

// GetByID retrieves a fund with its applicants. Returns ErrNotFound if not exists.
func (s *FundStore) GetByID(ctx context.Context, fundID string) (f *domain.Fund, err error) {
	defer observe("fund_get", time.Now(), &err)
	return load(ctx, s.pool, fundID, false)
}

// List retrieves all funds ordered by created_at ASC, fund_id ASC.
func (s *FundStore) List(ctx context.Context) (funds []*domain.Fund, err error) {
	defer observe("fund_list", time.Now(), &err)

	query := `SELECT ` + fundColumns + ` FROM funds ORDER BY created_at ASC, fund_id ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list funds: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*domain.Fund)
	var ids []string
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fund: %w", err)
		}
		funds = append(funds, f)
		byID[f.ID] = f
		ids = append(ids, f.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate funds: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return []*domain.Fund{}, nil
	}
	if err := loadChildren(ctx, s.pool, ids, byID); err != nil {
		return nil, err
	}
	return funds, nil
}

// Mutate applies fn to the fund inside a transaction holding the fund's
// row lock and writes back what fn changed.
func (s *FundStore) Mutate(ctx context.Context, fundID string, fn storage.MutateFunc) (out *domain.Fund, err error) {
	defer observe("fund_mutate", time.Now(), &err)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := load(ctx, tx, fundID, true)
	if err != nil {
		return nil, err
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	// Identity is owned by the store.
	working.ID = current.ID

	if err := updateFund(ctx, tx, working); err != nil {
		return nil, err
	}
	if err := writeChildren(ctx, tx, current, working); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit fund: %w", err)
	}
	return working.Clone(), nil
}

func load(ctx context.Context, q querier, fundID string, forUpdate bool) (*domain.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds WHERE fund_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	f, err := scanFund(q.QueryRow(ctx, query, fundID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get fund by id: %w", err)
	}

	if err := loadChildren(ctx, q, []string{fundID}, map[string]*domain.Fund{fundID: f}); err != nil {
		return nil, err
	}
	return f, nil
}

func scanFund(row pgx.Row) (*domain.Fund, error) {
	var (
		f           domain.Fund
		status      string
		total, fee  string
		share, dust *string
		started     int64
		attempts    int
		leaseUntil  int64
	)
	err := row.Scan(
		&f.ID,
		&f.Name,
		&f.Description,
		&total,
		&fee,
		&f.Slots,
		&f.Owner,
		&status,
		&f.CreatedAt,
		&f.CompletedAt,
		&share,
		&dust,
		&started,
		&attempts,
		&leaseUntil,
	)
	if err != nil {
		return nil, err
	}

	f.Status = domain.FundStatus(status)
	if f.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total_amount: %w", err)
	}
	if f.PlatformFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse platform_fee: %w", err)
	}

	if share != nil {
		d := &domain.Distribution{
			StartedAt:  started,
			Attempts:   attempts,
			LeaseUntil: leaseUntil,
			Dust:       decimal.Zero,
		}
		if d.ShareAmount, err = decimal.NewFromString(*share); err != nil {
			return nil, fmt.Errorf("parse share_amount: %w", err)
		}
		if dust != nil {
			if d.Dust, err = decimal.NewFromString(*dust); err != nil {
				return nil, fmt.Errorf("parse dust: %w", err)
			}
		}
		f.Distribution = d
	}
	return &f, nil
}

// loadChildren fills applicants, voters and payouts of the given funds.
func loadChildren(ctx context.Context, q querier, ids []string, byID map[string]*domain.Fund) error {
	rows, err := q.Query(ctx, `
		SELECT fund_id, applicant_id, name, gpa, portfolio_link, wallet, vote_count, last_vote_ts, submitted_at
		FROM applicants
		WHERE fund_id = ANY($1)
		ORDER BY fund_id ASC, applicant_id ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("get applicants: %w", err)
	}
	for rows.Next() {
		var (
			fundID string
			a      domain.Applicant
		)
		if err := rows.Scan(&fundID, &a.ID, &a.Name, &a.GPA, &a.PortfolioLink, &a.Wallet,
			&a.VoteCount, &a.LastVoteTimestamp, &a.SubmittedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan applicant: %w", err)
		}
		if f, ok := byID[fundID]; ok {
			f.Applications = append(f.Applications, a)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate applicants: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT fund_id, applicant_id, voter_wallet
		FROM votes
		WHERE fund_id = ANY($1)
		ORDER BY fund_id ASC, applicant_id ASC, seq ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("get votes: %w", err)
	}
	for rows.Next() {
		var (
			fundID, voter string
			applicantID   int
		)
		if err := rows.Scan(&fundID, &applicantID, &voter); err != nil {
			rows.Close()
			return fmt.Errorf("scan vote: %w", err)
		}
		if f, ok := byID[fundID]; ok {
			if a, ok := f.Applicant(applicantID); ok {
				a.Voters = append(a.Voters, voter)
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate votes: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT fund_id, rank, applicant_id, wallet, amount::text, status, tx_ref, pending_ref, error, attempts, updated_at
		FROM payouts
		WHERE fund_id = ANY($1)
		ORDER BY fund_id ASC, rank ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("get payouts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			fundID, amount, status string
			p                      domain.Payout
		)
		if err := rows.Scan(&fundID, &p.Rank, &p.ApplicantID, &p.Wallet, &amount, &status,
			&p.TxRef, &p.PendingRef, &p.Error, &p.Attempts, &p.UpdatedAt); err != nil {
			return fmt.Errorf("scan payout: %w", err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return fmt.Errorf("parse payout amount: %w", err)
		}
		p.Status = domain.PayoutStatus(status)
		if f, ok := byID[fundID]; ok && f.Distribution != nil {
			f.Distribution.Payouts = append(f.Distribution.Payouts, p)
		}
	}
	return rows.Err()
}

func updateFund(ctx context.Context, q querier, f *domain.Fund) error {
	var (
		share, dust *string
		started     int64
		attempts    int
		leaseUntil  int64
	)
	if d := f.Distribution; d != nil {
		sh, du := d.ShareAmount.String(), d.Dust.String()
		share, dust = &sh, &du
		started, attempts, leaseUntil = d.StartedAt, d.Attempts, d.LeaseUntil
	}

	_, err := q.Exec(ctx, `
		UPDATE funds SET
			name = $2,
			description = $3,
			status = $4,
			completed_at = $5,
			share_amount = $6::numeric,
			dust = $7::numeric,
			distribution_started_at = $8,
			distribution_attempts = $9,
			lease_until = $10
		WHERE fund_id = $1
	`,
		f.ID,
		f.Name,
		f.Description,
		string(f.Status),
		f.CompletedAt,
		share,
		dust,
		started,
		attempts,
		leaseUntil,
	)
	if err != nil {
		return fmt.Errorf("update fund: %w", err)
	}
	return nil
}

// writeChildren persists the difference between old and updated.
// Applicants and voters are append-only; payouts are upserted.
func writeChildren(ctx context.Context, q querier, old, updated *domain.Fund) error {
	if len(updated.Applications) < len(old.Applications) {
		return fmt.Errorf("fund %s: applicants cannot be removed", updated.ID)
	}

	for i := range updated.Applications {
		a := &updated.Applications[i]
		knownVoters := 0

		if i >= len(old.Applications) {
			_, err := q.Exec(ctx, `
				INSERT INTO applicants (
					fund_id, applicant_id, name, gpa, portfolio_link, wallet, vote_count, last_vote_ts, submitted_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, updated.ID, a.ID, a.Name, a.GPA, a.PortfolioLink, a.Wallet, a.VoteCount, a.LastVoteTimestamp, a.SubmittedAt)
			if err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert applicant: %w", err)
			}
		} else {
			o := &old.Applications[i]
			knownVoters = len(o.Voters)
			if a.VoteCount != o.VoteCount || a.LastVoteTimestamp != o.LastVoteTimestamp {
				_, err := q.Exec(ctx, `
					UPDATE applicants SET vote_count = $3, last_vote_ts = $4
					WHERE fund_id = $1 AND applicant_id = $2
				`, updated.ID, a.ID, a.VoteCount, a.LastVoteTimestamp)
				if err != nil {
					return fmt.Errorf("update applicant: %w", err)
				}
			}
		}

		for seq := knownVoters; seq < len(a.Voters); seq++ {
			_, err := q.Exec(ctx, `
				INSERT INTO votes (fund_id, applicant_id, voter_wallet, seq)
				VALUES ($1, $2, $3, $4)
			`, updated.ID, a.ID, a.Voters[seq], seq)
			if err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert vote: %w", err)
			}
		}
	}

	if updated.Distribution == nil {
		return nil
	}
	for _, p := range updated.Distribution.Payouts {
		_, err := q.Exec(ctx, `
			INSERT INTO payouts (
				fund_id, rank, applicant_id, wallet, amount, status, tx_ref, pending_ref, error, attempts, updated_at
			) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (fund_id, rank) DO UPDATE SET
				status = EXCLUDED.status,
				tx_ref = EXCLUDED.tx_ref,
				pending_ref = EXCLUDED.pending_ref,
				error = EXCLUDED.error,
				attempts = EXCLUDED.attempts,
				updated_at = EXCLUDED.updated_at
		`, updated.ID, p.Rank, p.ApplicantID, p.Wallet, p.Amount.String(), string(p.Status),
			p.TxRef, p.PendingRef, p.Error, p.Attempts, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert payout: %w", err)
		}
	}
	return nil
}
