package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"edufund/internal/domain"
	"edufund/internal/ledger"
	"edufund/internal/observability"
	"edufund/internal/storage"
)

// DefaultSchedule runs the solvency check every five minutes.
const DefaultSchedule = "@every 5m"

// Solvency is the result of one check.
type Solvency struct {
	VaultAddress string
	VaultBalance decimal.Decimal
	Outstanding  decimal.Decimal // unpaid liability of active funds
	ActiveFunds  int
	CheckedAt    time.Time
}

// Solvent reports whether the vault covers the outstanding liability.
func (s *Solvency) Solvent() bool {
	return s.VaultBalance.GreaterThanOrEqual(s.Outstanding)
}

// Monitor compares escrow liability against the vault balance.
type Monitor struct {
	store   storage.FundStore
	balance ledger.BalanceReader
	vault   string
	timeout time.Duration
	log     logrus.FieldLogger

	cron *cron.Cron
}

// NewMonitor creates a solvency monitor for the vault account.
func NewMonitor(store storage.FundStore, balance ledger.BalanceReader, vault string, log logrus.FieldLogger) *Monitor {
	return &Monitor{
		store:   store,
		balance: balance,
		vault:   vault,
		timeout: 30 * time.Second,
		log:     log.WithField("component", "escrow_monitor"),
	}
}

// Check computes the current solvency and exports it as gauges. A vault
// balance below the liability is logged as a warning.
func (m *Monitor) Check(ctx context.Context) (*Solvency, error) {
	funds, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list funds: %w", err)
	}

	s := &Solvency{VaultAddress: m.vault, Outstanding: decimal.Zero, CheckedAt: time.Now()}
	for _, f := range funds {
		if f.Status != domain.FundStatusActive {
			continue
		}
		s.ActiveFunds++
		s.Outstanding = s.Outstanding.Add(f.Outstanding())
	}

	bal, err := m.balance.Balance(ctx, m.vault)
	if err != nil {
		return nil, fmt.Errorf("vault balance: %w", err)
	}
	s.VaultBalance = bal

	observability.UpdateEscrow(bal.InexactFloat64(), s.Outstanding.InexactFloat64())

	log := m.log.WithFields(logrus.Fields{
		"vault":        m.vault,
		"balance":      bal.String(),
		"outstanding":  s.Outstanding.String(),
		"active_funds": s.ActiveFunds,
	})
	if !s.Solvent() {
		log.Warn("vault balance below escrow liability")
	} else {
		log.Debug("solvency check ok")
	}
	return s, nil
}

// Start schedules Check on spec (cron syntax or @every descriptors).
func (m *Monitor) Start(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, m.run); err != nil {
		return fmt.Errorf("register solvency check: %w", err)
	}
	m.cron = c
	c.Start()
	m.log.WithField("schedule", spec).Info("solvency monitor started")
	return nil
}

// Stop stops the scheduler and waits for a running check.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.log.Info("solvency monitor stopped")
}

func (m *Monitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if _, err := m.Check(ctx); err != nil {
		m.log.WithError(err).Error("solvency check failed")
	}
}
