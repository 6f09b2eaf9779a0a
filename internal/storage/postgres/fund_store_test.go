package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edufund/internal/domain"
	"edufund/internal/storage"
)

func newTestFund(id string, createdAt int64) *domain.Fund {
	return &domain.Fund{
		ID:          id,
		Name:        "Fund " + id,
		Description: "engineering scholarship",
		TotalAmount: decimal.RequireFromString("10.5"),
		PlatformFee: decimal.RequireFromString("0.525"),
		Slots:       2,
		Owner:       "owner",
		Status:      domain.FundStatusActive,
		CreatedAt:   createdAt,
	}
}

func TestFundStore_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFundStore(pool)
	ctx := context.Background()

	f := newTestFund("f1", 1000)
	f.Applications = []domain.Applicant{
		{ID: 0, Name: "Ada", GPA: 3.9, PortfolioLink: "https://ada.dev", Wallet: "w0", SubmittedAt: 1001,
			VoteCount: 2, LastVoteTimestamp: 1200, Voters: []string{"v1", "v2"}},
		{ID: 1, Name: "Linus", GPA: 3.1, Wallet: "w1", SubmittedAt: 1002},
	}
	require.NoError(t, store.Create(ctx, f))

	got, err := store.GetByID(ctx, "f1")
	require.NoError(t, err)

	assert.Equal(t, f.Name, got.Name)
	assert.Equal(t, f.Description, got.Description)
	assert.True(t, f.TotalAmount.Equal(got.TotalAmount), "total %s", got.TotalAmount)
	assert.True(t, f.PlatformFee.Equal(got.PlatformFee), "fee %s", got.PlatformFee)
	assert.Equal(t, domain.FundStatusActive, got.Status)
	assert.Nil(t, got.Distribution)

	require.Len(t, got.Applications, 2)
	assert.Equal(t, "Ada", got.Applications[0].Name)
	assert.InDelta(t, 3.9, got.Applications[0].GPA, 1e-9)
	assert.Equal(t, []string{"v1", "v2"}, got.Applications[0].Voters)
	assert.Equal(t, int64(1200), got.Applications[0].LastVoteTimestamp)
	assert.Empty(t, got.Applications[1].Voters)
}

func TestFundStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFundStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestFund("f1", 1)))
	err := store.Create(ctx, newTestFund("f1", 2))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestFundStore_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFundStore(pool)
	ctx := context.Background()

	_, err := store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Mutate(ctx, "missing", func(*domain.Fund) error { return nil })
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFundStore_ListOrdering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFundStore(pool)
	ctx := context.Background()

	empty, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, f := range []*domain.Fund{newTestFund("b", 200), newTestFund("c", 100), newTestFund("a", 200)} {
		require.NoError(t, store.Create(ctx, f))
	}
	_, err = store.Mutate(ctx, "a", func(f *domain.Fund) error {
		f.Applications = append(f.Applications, domain.Applicant{ID: 0, Name: "x", Wallet: "wx"})
		return nil
	})
	require.NoError(t, err)

	funds, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, funds, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{funds[0].ID, funds[1].ID, funds[2].ID})
	assert.Len(t, funds[1].Applications, 1)
	assert.Empty(t, funds[0].Applications)
}

func TestFundStore_MutateRollsBackOnError(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFundStore(pool)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestFund("f1", 1)))

	sentinel := errors.New("rejected")
	_, err := store.Mutate(ctx, "f1", func(f *domain.Fund) error {
		f.Applications = append(f.Applications, domain.Applicant{ID: 0, Name: "x", Wallet: "wx"})
		f.Status = domain.FundStatusCompleted
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	got, err := store.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, got.Applications)
	assert.Equal(t, domain.FundStatusActive, got.Status)
}

func TestFundStore_MutateDistribution(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFundStore(pool)
	ctx := context.Background()

	f := newTestFund("f1", 1)
	f.Applications = []domain.Applicant{
		{ID: 0, Name: "a", Wallet: "wa", SubmittedAt: 2},
		{ID: 1, Name: "b", Wallet: "wb", SubmittedAt: 3},
	}
	require.NoError(t, store.Create(ctx, f))

	_, err := store.Mutate(ctx, "f1", func(f *domain.Fund) error {
		f.Distribution = &domain.Distribution{
			ShareAmount: decimal.RequireFromString("5.25"),
			Dust:        decimal.Zero,
			StartedAt:   10,
			Attempts:    1,
			LeaseUntil:  99,
			Payouts: []domain.Payout{
				{Rank: 1, ApplicantID: 1, Wallet: "wb", Amount: decimal.RequireFromString("5.25"), Status: domain.PayoutStatusPending},
				{Rank: 2, ApplicantID: 0, Wallet: "wa", Amount: decimal.RequireFromString("5.25"), Status: domain.PayoutStatusFailed, PendingRef: "sig-pending"},
			},
		}
		return nil
	})
	require.NoError(t, err)

	mid, err := store.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "sig-pending", mid.Distribution.Payouts[1].PendingRef)

	out, err := store.Mutate(ctx, "f1", func(f *domain.Fund) error {
		f.Distribution.LeaseUntil = 0
		for i := range f.Distribution.Payouts {
			p := &f.Distribution.Payouts[i]
			p.Status = domain.PayoutStatusPaid
			p.TxRef = fmt.Sprintf("tx-%d", p.Rank)
			p.PendingRef = ""
			p.Attempts = 1
		}
		f.Status = domain.FundStatusCompleted
		f.CompletedAt = 20
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FundStatusCompleted, out.Status)

	got, err := store.GetByID(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, got.Distribution)
	assert.True(t, decimal.RequireFromString("5.25").Equal(got.Distribution.ShareAmount))
	assert.Equal(t, 1, got.Distribution.Attempts)
	assert.Zero(t, got.Distribution.LeaseUntil)
	require.Len(t, got.Distribution.Payouts, 2)
	assert.Equal(t, "wb", got.Distribution.Payouts[0].Wallet)
	assert.Equal(t, "tx-2", got.Distribution.Payouts[1].TxRef)
	assert.Empty(t, got.Distribution.Payouts[1].PendingRef)
	assert.Equal(t, domain.PayoutStatusPaid, got.Distribution.Payouts[1].Status)
	assert.Equal(t, int64(20), got.CompletedAt)
	assert.True(t, got.Outstanding().IsZero())
}

func TestFundStore_MutateSerializesVotes(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFundStore(pool)
	ctx := context.Background()

	f := newTestFund("f1", 1)
	f.Applications = []domain.Applicant{{ID: 0, Name: "a", Wallet: "wa"}}
	require.NoError(t, store.Create(ctx, f))

	const voters = 10
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Mutate(ctx, "f1", func(f *domain.Fund) error {
				a := &f.Applications[0]
				a.Voters = append(a.Voters, fmt.Sprintf("voter-%d", i))
				a.VoteCount = len(a.Voters)
				a.LastVoteTimestamp = int64(100 + i)
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, voters, got.Applications[0].VoteCount)
	assert.Len(t, got.Applications[0].Voters, voters)
}

func TestFundStore_UniqueWalletPerFund(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFundStore(pool)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestFund("f1", 1)))

	_, err := store.Mutate(ctx, "f1", func(f *domain.Fund) error {
		f.Applications = append(f.Applications,
			domain.Applicant{ID: 0, Name: "a", Wallet: "same"},
			domain.Applicant{ID: 1, Name: "b", Wallet: "same"},
		)
		return nil
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}
