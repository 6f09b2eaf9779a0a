package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edufund/internal/domain"
)

func TestPayoutJournal_AppendAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	j := NewPayoutJournal(pool)
	ctx := context.Background()

	events := []*domain.PayoutEvent{
		{EventID: "e2", FundID: "f1", Attempt: 1, Rank: 2, ApplicantID: 3, Wallet: "w3",
			Amount: decimal.NewFromInt(5), Status: domain.PayoutStatusFailed, Error: "timeout", OccurredAt: 200},
		{EventID: "e1", FundID: "f1", Attempt: 1, Rank: 1, ApplicantID: 0, Wallet: "w0",
			Amount: decimal.RequireFromString("5.0001"), Status: domain.PayoutStatusPaid, TxRef: "sig", OccurredAt: 100},
		{EventID: "e3", FundID: "f2", Attempt: 1, Rank: 1, Wallet: "w9",
			Amount: decimal.NewFromInt(1), Status: domain.PayoutStatusPaid, OccurredAt: 50},
	}
	require.NoError(t, j.Append(ctx, events))

	got, err := j.GetByFundID(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].EventID)
	assert.True(t, decimal.RequireFromString("5.0001").Equal(got[0].Amount))
	assert.Equal(t, "sig", got[0].TxRef)
	assert.Equal(t, domain.PayoutStatusFailed, got[1].Status)
	assert.Equal(t, "timeout", got[1].Error)
	assert.Equal(t, 3, got[1].ApplicantID)

	none, err := j.GetByFundID(ctx, "f404")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPayoutJournal_SkipsDuplicates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	j := NewPayoutJournal(pool)
	ctx := context.Background()

	e := &domain.PayoutEvent{EventID: "e1", FundID: "f1", Attempt: 1, Rank: 1, Wallet: "w",
		Amount: decimal.NewFromInt(5), Status: domain.PayoutStatusPaid, OccurredAt: 1}
	require.NoError(t, j.Append(ctx, []*domain.PayoutEvent{e}))

	replay := *e
	replay.TxRef = "different"
	require.NoError(t, j.Append(ctx, []*domain.PayoutEvent{&replay}))

	got, err := j.GetByFundID(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].TxRef)
}
