package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FundStatus is the lifecycle state of a fund.
type FundStatus string

const (
	FundStatusActive    FundStatus = "Active"
	FundStatusCompleted FundStatus = "Completed"

	// Closed and Reviewing exist in the public vocabulary but no operation
	// assigns them.
	FundStatusClosed    FundStatus = "Closed"
	FundStatusReviewing FundStatus = "Reviewing"
)

// ParseFundStatus parses a status name case-insensitively.
func ParseFundStatus(s string) (FundStatus, bool) {
	for _, st := range []FundStatus{FundStatusActive, FundStatusCompleted, FundStatusClosed, FundStatusReviewing} {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// Fund is an escrow record plus the candidates competing for it.
// Corresponds to the funds table in PostgreSQL.
type Fund struct {
	ID          string
	Name        string
	Description string
	TotalAmount decimal.Decimal // escrowed value, immutable
	PlatformFee decimal.Decimal // informational, charged on top of TotalAmount at deposit
	Slots       int             // number of winners (k)
	Owner       string          // creator wallet, sole distribution authority
	Status      FundStatus
	CreatedAt   int64 // Unix ms
	CompletedAt int64 // Unix ms, 0 while not completed

	// Applications in submission order; Applications[i].ID == i.
	Applications []Applicant

	// Distribution is set by the first distribution attempt and frozen
	// afterwards.
	Distribution *Distribution
}

// Applicant is a candidate entry within a fund.
type Applicant struct {
	ID                int // sequence index within the fund
	Name              string
	GPA               float64
	PortfolioLink     string
	Wallet            string
	VoteCount         int
	LastVoteTimestamp int64    // Unix ms of the last accepted vote, 0 if never voted
	Voters            []string // wallets in vote order; len(Voters) == VoteCount
	SubmittedAt       int64    // Unix ms
}

// HasVoter reports whether wallet already voted for the applicant.
func (a *Applicant) HasVoter(wallet string) bool {
	for _, v := range a.Voters {
		if v == wallet {
			return true
		}
	}
	return false
}

// IsOpen reports whether the fund accepts applications and votes.
func (f *Fund) IsOpen() bool {
	return f.Status == FundStatusActive && f.Distribution == nil
}

// ApplicantByWallet returns the applicant submitted by wallet, if any.
func (f *Fund) ApplicantByWallet(wallet string) (*Applicant, bool) {
	for i := range f.Applications {
		if f.Applications[i].Wallet == wallet {
			return &f.Applications[i], true
		}
	}
	return nil, false
}

// Applicant returns the applicant with the given sequence id.
func (f *Fund) Applicant(id int) (*Applicant, bool) {
	if id < 0 || id >= len(f.Applications) {
		return nil, false
	}
	return &f.Applications[id], true
}

// Clone returns a deep copy of the fund.
func (f *Fund) Clone() *Fund {
	if f == nil {
		return nil
	}
	c := *f
	if f.Applications != nil {
		c.Applications = make([]Applicant, len(f.Applications))
		for i, a := range f.Applications {
			a.Voters = append([]string(nil), a.Voters...)
			c.Applications[i] = a
		}
	}
	if f.Distribution != nil {
		d := *f.Distribution
		d.Payouts = append([]Payout(nil), f.Distribution.Payouts...)
		c.Distribution = &d
	}
	return &c
}

// PaidAmount sums the payouts already settled on the ledger.
func (f *Fund) PaidAmount() decimal.Decimal {
	paid := decimal.Zero
	if f.Distribution == nil {
		return paid
	}
	for _, p := range f.Distribution.Payouts {
		if p.Status == PayoutStatusPaid {
			paid = paid.Add(p.Amount)
		}
	}
	return paid
}

// Outstanding is the escrowed value not yet paid out. Zero once completed.
func (f *Fund) Outstanding() decimal.Decimal {
	if f.Status != FundStatusActive {
		return decimal.Zero
	}
	return f.TotalAmount.Sub(f.PaidAmount())
}
