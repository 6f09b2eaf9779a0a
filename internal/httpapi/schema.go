package httpapi

import (
	"github.com/shopspring/decimal"

	"edufund/internal/distribution"
	"edufund/internal/domain"
	"edufund/internal/escrow"
)

// Request bodies.

type createFundRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Slots       int             `json:"slots"`
}

type applyRequest struct {
	Name          string   `json:"name"`
	GPA           *float64 `json:"gpa"`
	PortfolioLink string   `json:"portfolioLink"`
}

type voteRequest struct {
	ApplicantID *int `json:"applicantId"`
}

type distributeRequest struct {
	Winners []claimedWinner `json:"winners"`
}

type claimedWinner struct {
	Wallet string              `json:"wallet"`
	Amount decimal.NullDecimal `json:"amount"`
}

// Responses.

type errorBody struct {
	Error  errorDetail     `json:"error"`
	Result *distributeBody `json:"result,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type fundSummary struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	PlatformFee    decimal.Decimal `json:"platformFee"`
	Slots          int             `json:"slots"`
	Owner          string          `json:"owner"`
	Status         string          `json:"status"`
	CreatedAt      int64           `json:"createdAt"`
	CompletedAt    int64           `json:"completedAt,omitempty"`
	Outstanding    decimal.Decimal `json:"outstanding"`
	ApplicantCount int             `json:"applicantCount"`
}

type fundBody struct {
	fundSummary
	Applications []applicantBody    `json:"applications"`
	Distribution *distributionBody `json:"distribution,omitempty"`
}

type applicantBody struct {
	ID                int      `json:"id"`
	Name              string   `json:"name"`
	GPA               float64  `json:"gpa"`
	PortfolioLink     string   `json:"portfolioLink"`
	ApplicantWallet   string   `json:"applicantWallet"`
	VoteCount         int      `json:"voteCount"`
	LastVoteTimestamp int64    `json:"lastVoteTimestamp"`
	Voters            []string `json:"voters"`
	SubmittedAt       int64    `json:"submittedAt"`
}

type distributionBody struct {
	ShareAmount decimal.Decimal `json:"shareAmount"`
	Dust        decimal.Decimal `json:"dust"`
	StartedAt   int64           `json:"startedAt"`
	Attempts    int             `json:"attempts"`
	LeaseUntil  int64           `json:"leaseUntil,omitempty"`
	Payouts     []payoutBody    `json:"payouts"`
}

type payoutBody struct {
	Rank        int             `json:"rank"`
	ApplicantID int             `json:"applicantId"`
	Wallet      string          `json:"wallet"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	TxRef       string          `json:"txRef,omitempty"`
	PendingRef  string          `json:"pendingRef,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	UpdatedAt   int64           `json:"updatedAt,omitempty"`
}

type voteBody struct {
	FundID            string `json:"fundId"`
	ApplicantID       int    `json:"applicantId"`
	VoteCount         int    `json:"voteCount"`
	LastVoteTimestamp int64  `json:"lastVoteTimestamp"`
}

type rankingBody struct {
	FundID          string            `json:"fundId"`
	FundStatus      string            `json:"fundStatus"`
	Winners         int               `json:"winners"`
	PerPersonAmount decimal.Decimal   `json:"perPersonAmount"`
	Dust            decimal.Decimal   `json:"dust"`
	Frozen          bool              `json:"frozen"`
	Ranking         []rankedApplicant `json:"ranking"`
}

type rankedApplicant struct {
	Rank              int    `json:"rank"`
	ApplicantID       int    `json:"applicantId"`
	Name              string `json:"name"`
	ApplicantWallet   string `json:"applicantWallet"`
	VoteCount         int    `json:"voteCount"`
	LastVoteTimestamp int64  `json:"lastVoteTimestamp"`
	Winner            bool   `json:"winner"`
}

type distributeBody struct {
	FundID          string          `json:"fundId"`
	FundStatus      string          `json:"fundStatus"`
	PerPersonAmount decimal.Decimal `json:"perPersonAmount"`
	Dust            decimal.Decimal `json:"dust"`
	Attempt         int             `json:"attempt"`
	Complete        bool            `json:"complete"`
	Winners         []winnerBody    `json:"winners"`
}

type winnerBody struct {
	Rank        int             `json:"rank"`
	ApplicantID int             `json:"applicantId"`
	Name        string          `json:"name"`
	Wallet      string          `json:"wallet"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	TxRef       string          `json:"txRef,omitempty"`
	PendingRef  string          `json:"pendingRef,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type payoutEventBody struct {
	EventID     string          `json:"eventId"`
	Attempt     int             `json:"attempt"`
	Rank        int             `json:"rank"`
	ApplicantID int             `json:"applicantId"`
	Wallet      string          `json:"wallet"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	TxRef       string          `json:"txRef,omitempty"`
	Error       string          `json:"error,omitempty"`
	OccurredAt  int64           `json:"occurredAt"`
}

type balanceBody struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

type solvencyBody struct {
	VaultAddress string          `json:"vaultAddress"`
	VaultBalance decimal.Decimal `json:"vaultBalance"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	ActiveFunds  int             `json:"activeFunds"`
	Solvent      bool            `json:"solvent"`
	CheckedAt    int64           `json:"checkedAt"`
}

func toFundSummary(f *domain.Fund) fundSummary {
	return fundSummary{
		ID:             f.ID,
		Name:           f.Name,
		Description:    f.Description,
		TotalAmount:    f.TotalAmount,
		PlatformFee:    f.PlatformFee,
		Slots:          f.Slots,
		Owner:          f.Owner,
		Status:         string(f.Status),
		CreatedAt:      f.CreatedAt,
		CompletedAt:    f.CompletedAt,
		Outstanding:    f.Outstanding(),
		ApplicantCount: len(f.Applications),
	}
}

func toFundBody(f *domain.Fund) fundBody {
	body := fundBody{
		fundSummary:  toFundSummary(f),
		Applications: make([]applicantBody, len(f.Applications)),
	}
	for i := range f.Applications {
		body.Applications[i] = toApplicantBody(&f.Applications[i])
	}
	if d := f.Distribution; d != nil {
		db := &distributionBody{
			ShareAmount: d.ShareAmount,
			Dust:        d.Dust,
			StartedAt:   d.StartedAt,
			Attempts:    d.Attempts,
			LeaseUntil:  d.LeaseUntil,
			Payouts:     make([]payoutBody, len(d.Payouts)),
		}
		for i, p := range d.Payouts {
			db.Payouts[i] = payoutBody{
				Rank:        p.Rank,
				ApplicantID: p.ApplicantID,
				Wallet:      p.Wallet,
				Amount:      p.Amount,
				Status:      string(p.Status),
				TxRef:       p.TxRef,
				PendingRef:  p.PendingRef,
				Error:       p.Error,
				Attempts:    p.Attempts,
				UpdatedAt:   p.UpdatedAt,
			}
		}
		body.Distribution = db
	}
	return body
}

func toApplicantBody(a *domain.Applicant) applicantBody {
	voters := a.Voters
	if voters == nil {
		voters = []string{}
	}
	return applicantBody{
		ID:                a.ID,
		Name:              a.Name,
		GPA:               a.GPA,
		PortfolioLink:     a.PortfolioLink,
		ApplicantWallet:   a.Wallet,
		VoteCount:         a.VoteCount,
		LastVoteTimestamp: a.LastVoteTimestamp,
		Voters:            voters,
		SubmittedAt:       a.SubmittedAt,
	}
}

func toRankingBody(p *distribution.Preview) rankingBody {
	body := rankingBody{
		FundID:          p.FundID,
		FundStatus:      string(p.FundStatus),
		Winners:         p.Winners,
		PerPersonAmount: p.PerPersonAmount,
		Dust:            p.Dust,
		Frozen:          p.Distribution != nil,
		Ranking:         make([]rankedApplicant, len(p.Ranking)),
	}
	for i, r := range p.Ranking {
		body.Ranking[i] = rankedApplicant{
			Rank:              r.Rank,
			ApplicantID:       r.ApplicantID,
			Name:              r.Name,
			ApplicantWallet:   r.Wallet,
			VoteCount:         r.VoteCount,
			LastVoteTimestamp: r.LastVoteTimestamp,
			Winner:            r.Winner,
		}
	}
	return body
}

func toDistributeBody(r *distribution.Result) *distributeBody {
	body := &distributeBody{
		FundID:          r.FundID,
		FundStatus:      string(r.FundStatus),
		PerPersonAmount: r.PerPersonAmount,
		Dust:            r.Dust,
		Attempt:         r.Attempt,
		Complete:        r.Complete,
		Winners:         make([]winnerBody, len(r.Winners)),
	}
	for i, w := range r.Winners {
		body.Winners[i] = winnerBody{
			Rank:        w.Rank,
			ApplicantID: w.ApplicantID,
			Name:        w.Name,
			Wallet:      w.Wallet,
			Amount:      w.Amount,
			Status:      string(w.Status),
			TxRef:       w.TxRef,
			PendingRef:  w.PendingRef,
			Error:       w.Error,
		}
	}
	return body
}

func toPayoutEventBodies(events []*domain.PayoutEvent) []payoutEventBody {
	out := make([]payoutEventBody, len(events))
	for i, e := range events {
		out[i] = payoutEventBody{
			EventID:     e.EventID,
			Attempt:     e.Attempt,
			Rank:        e.Rank,
			ApplicantID: e.ApplicantID,
			Wallet:      e.Wallet,
			Amount:      e.Amount,
			Status:      string(e.Status),
			TxRef:       e.TxRef,
			Error:       e.Error,
			OccurredAt:  e.OccurredAt,
		}
	}
	return out
}

func toSolvencyBody(s *escrow.Solvency) solvencyBody {
	return solvencyBody{
		VaultAddress: s.VaultAddress,
		VaultBalance: s.VaultBalance,
		Outstanding:  s.Outstanding,
		ActiveFunds:  s.ActiveFunds,
		Solvent:      s.Solvent(),
		CheckedAt:    s.CheckedAt.UnixMilli(),
	}
}
