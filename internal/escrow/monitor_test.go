package escrow

import (
	"bytes"
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edufund/internal/domain"
	"edufund/internal/ledger/stub"
	"edufund/internal/storage/memory"
)

func seedFunds(t *testing.T, store *memory.FundStore) {
	t.Helper()
	ctx := context.Background()

	active := &domain.Fund{ID: "a", Name: "a", TotalAmount: decimal.NewFromInt(10), Slots: 2, Owner: "o", Status: domain.FundStatusActive, CreatedAt: 1}
	partial := &domain.Fund{ID: "b", Name: "b", TotalAmount: decimal.NewFromInt(6), Slots: 2, Owner: "o", Status: domain.FundStatusActive, CreatedAt: 2,
		Distribution: &domain.Distribution{
			ShareAmount: decimal.NewFromInt(3),
			Payouts: []domain.Payout{
				{Rank: 1, Amount: decimal.NewFromInt(3), Status: domain.PayoutStatusPaid},
				{Rank: 2, Amount: decimal.NewFromInt(3), Status: domain.PayoutStatusFailed},
			},
		}}
	done := &domain.Fund{ID: "c", Name: "c", TotalAmount: decimal.NewFromInt(100), Slots: 1, Owner: "o", Status: domain.FundStatusCompleted, CreatedAt: 3}

	for _, f := range []*domain.Fund{active, partial, done} {
		require.NoError(t, store.Create(ctx, f))
	}
}

func TestMonitor_Check(t *testing.T) {
	store := memory.NewFundStore()
	seedFunds(t, store)

	vault := stub.NewLedger("vault", decimal.NewFromInt(20))
	m := NewMonitor(store, vault, vault.VaultAddress(), quietLogger())

	s, err := m.Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, s.ActiveFunds)
	assert.True(t, decimal.NewFromInt(13).Equal(s.Outstanding), "outstanding %s", s.Outstanding)
	assert.True(t, decimal.NewFromInt(20).Equal(s.VaultBalance))
	assert.True(t, s.Solvent())
}

func TestMonitor_CheckWarnsWhenInsolvent(t *testing.T) {
	store := memory.NewFundStore()
	seedFunds(t, store)

	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	vault := stub.NewLedger("vault", decimal.NewFromInt(5))
	m := NewMonitor(store, vault, "vault", log)

	s, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Solvent())
	assert.Contains(t, buf.String(), "vault balance below escrow liability")
	assert.Contains(t, buf.String(), `"level":"warning"`)
}

func TestMonitor_StartRejectsBadSchedule(t *testing.T) {
	vault := stub.NewLedger("vault", decimal.Zero)
	m := NewMonitor(memory.NewFundStore(), vault, "vault", quietLogger())

	assert.Error(t, m.Start("not a schedule"))

	require.NoError(t, m.Start("@every 1h"))
	m.Stop()
}
