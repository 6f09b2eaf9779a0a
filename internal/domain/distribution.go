package domain

import "github.com/shopspring/decimal"

// PayoutStatus is the settlement state of a single winner.
type PayoutStatus string

const (
	PayoutStatusPending      PayoutStatus = "Pending"      // planned, never attempted
	PayoutStatusPaid         PayoutStatus = "Paid"         // transfer confirmed
	PayoutStatusFailed       PayoutStatus = "Failed"       // last attempt failed
	PayoutStatusNotAttempted PayoutStatus = "NotAttempted" // skipped this run after an earlier failure
)

// Distribution is the frozen payout plan of a fund.
// It is created on the first distribution attempt and never recomputed,
// so retries pay exactly the winners chosen the first time.
type Distribution struct {
	ShareAmount decimal.Decimal // per-winner amount after truncation
	Dust        decimal.Decimal // TotalAmount - ShareAmount*len(Payouts), not redistributed
	StartedAt   int64           // Unix ms of the first attempt
	Attempts    int             // number of distribution runs
	LeaseUntil  int64           // Unix ms; a run is in flight while now < LeaseUntil
	Payouts     []Payout        // in rank order
}

// Payout tracks one winner's transfer.
type Payout struct {
	Rank        int // 1-based
	ApplicantID int
	Wallet      string
	Amount      decimal.Decimal
	Status      PayoutStatus
	TxRef       string
	// PendingRef is a submitted transaction whose outcome is unknown. The
	// payout is not sent again until the ledger settles it.
	PendingRef string
	Error      string
	Attempts   int
	UpdatedAt  int64 // Unix ms
}

// Unpaid returns the indexes of payouts that still need a transfer.
func (d *Distribution) Unpaid() []int {
	var idx []int
	for i, p := range d.Payouts {
		if p.Status != PayoutStatusPaid {
			idx = append(idx, i)
		}
	}
	return idx
}

// AllPaid reports whether every payout settled.
func (d *Distribution) AllPaid() bool {
	return len(d.Unpaid()) == 0
}

// Leased reports whether a run holds the distribution lease at now.
func (d *Distribution) Leased(now int64) bool {
	return d.LeaseUntil > now
}

// PayoutEvent is one transfer attempt recorded in the payout journal.
// Corresponds to payout_events in PostgreSQL and ClickHouse.
type PayoutEvent struct {
	EventID     string // deterministic, see idhash.ComputePayoutEventID
	FundID      string
	Attempt     int // distribution run number
	Rank        int
	ApplicantID int
	Wallet      string
	Amount      decimal.Decimal
	Status      PayoutStatus
	TxRef       string
	Error       string
	OccurredAt  int64 // Unix ms
}
