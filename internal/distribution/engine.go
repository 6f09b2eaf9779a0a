// Package distribution pays a fund's top-ranked applicants out of the vault.
//
// A run happens in three phases. First, under the fund lock, the caller is
// authorized and the payout plan is frozen (or reused) and leased. Second,
// with no lock held, each unpaid winner is transferred in rank order.
// Third, under the fund lock again, the outcomes are recorded and the fund
// completes once every winner is paid. Retries reuse the frozen plan and
// only transfer to winners that are not yet paid. A transfer whose outcome
// was unknown is looked up on the ledger first and is never sent again
// while it may still land.
package distribution

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"edufund/internal/domain"
	"edufund/internal/idhash"
	"edufund/internal/ledger"
	"edufund/internal/observability"
	"edufund/internal/ranking"
	"edufund/internal/storage"
)

// FailurePolicy decides what happens after a failed transfer.
type FailurePolicy string

const (
	// PolicyStop leaves the remaining winners NotAttempted.
	PolicyStop FailurePolicy = "stop"
	// PolicyContinue attempts every unpaid winner.
	PolicyContinue FailurePolicy = "continue"
)

// ParseFailurePolicy validates a policy name. Empty means stop.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(s)) {
	case "", PolicyStop:
		return PolicyStop, nil
	case PolicyContinue:
		return PolicyContinue, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

const (
	journalTimeout = 10 * time.Second
	recordTimeout  = 30 * time.Second
)

// Config tunes the engine.
type Config struct {
	FailurePolicy   FailurePolicy
	LeaseTTL        time.Duration // slack on top of the per-winner timeouts a run may hold the plan for
	TransferTimeout time.Duration // per winner
	ShareDecimals   int32         // truncation precision of the per-winner share
}

// DefaultConfig returns the reference behavior: stop on first failure,
// shares truncated to 4 decimals.
func DefaultConfig() Config {
	return Config{
		FailurePolicy:   PolicyStop,
		LeaseTTL:        10 * time.Minute,
		TransferTimeout: 90 * time.Second,
		ShareDecimals:   4,
	}
}

// ClaimedWinner is a winner entry supplied by the caller. It is checked
// against the computed plan and never paid verbatim.
type ClaimedWinner struct {
	Wallet string
	Amount decimal.NullDecimal // optional
}

// WinnerResult is the outcome for one winner.
type WinnerResult struct {
	Rank        int
	ApplicantID int
	Name        string
	Wallet      string
	Amount      decimal.Decimal
	Status      domain.PayoutStatus
	TxRef       string
	PendingRef  string
	Error       string
}

// Result is the outcome of a distribution run.
type Result struct {
	FundID          string
	FundStatus      domain.FundStatus
	PerPersonAmount decimal.Decimal
	Dust            decimal.Decimal
	Attempt         int
	Complete        bool
	Winners         []WinnerResult
}

// Engine is the Distribution Engine.
type Engine struct {
	store   storage.FundStore
	ledger  ledger.Client
	journal storage.PayoutJournal
	cfg     Config
	now     func() time.Time
	log     logrus.FieldLogger
}

// Option configures Engine.
type Option func(*Engine)

// WithJournal records every transfer attempt.
func WithJournal(j storage.PayoutJournal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithClock overrides the time source used for leases and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a distribution engine paying through client.
func NewEngine(store storage.FundStore, client ledger.Client, cfg Config, log logrus.FieldLogger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = def.FailurePolicy
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = def.TransferTimeout
	}
	if cfg.ShareDecimals < 0 {
		cfg.ShareDecimals = def.ShareDecimals
	}

	e := &Engine{
		store:  store,
		ledger: client,
		cfg:    cfg,
		now:    time.Now,
		log:    log.WithField("component", "distribution"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DrainTimeout bounds how long Distribute keeps running once its context
// is canceled: no new transfer starts, the one in flight returns with the
// ledger call, and the outcome is journaled and recorded.
func (e *Engine) DrainTimeout() time.Duration {
	return journalTimeout + recordTimeout
}

// ComputeShare splits total evenly across k winners, truncated to
// decimals places. The remainder is dust and is not redistributed.
func ComputeShare(total decimal.Decimal, k int, decimals int32) (share, dust decimal.Decimal) {
	if k <= 0 {
		return decimal.Zero, total
	}
	n := decimal.NewFromInt(int64(k))
	share = total.Div(n).Truncate(decimals)
	dust = total.Sub(share.Mul(n))
	return share, dust
}

// outcome is the result of one transfer attempt.
type outcome struct {
	status     domain.PayoutStatus
	txRef      string
	pendingRef string
	err        string
	at         int64
}

// Distribute pays the fund's winners. claimed may be nil; when given it
// must match the computed plan. A partial failure returns the result
// together with domain.ErrTransferFailed.
func (e *Engine) Distribute(ctx context.Context, fundID, caller string, claimed []ClaimedWinner) (res *Result, err error) {
	defer func() {
		observability.RecordDistribution(observability.ResultLabel(domain.Code(err), err))
	}()

	caller = e.normalize(caller)
	journaled := e.journaledPayments(ctx, fundID)
	settled := e.settlePending(ctx, fundID)

	// Phase 1: authorize, freeze or reuse the plan, take the lease.
	var (
		attempt  int
		pending  []int
		awaiting int
	)
	leased, err := e.store.Mutate(ctx, fundID, func(f *domain.Fund) error {
		if f.Owner != caller {
			return domain.ErrNotOwner
		}
		if f.Status != domain.FundStatusActive {
			return domain.ErrFundClosed
		}
		if len(f.Applications) == 0 {
			return domain.ErrNoApplicants
		}

		now := e.now().UnixMilli()
		if f.Distribution != nil && f.Distribution.Leased(now) {
			return domain.ErrDistributionInProgress
		}
		if f.Distribution == nil {
			d, err := e.plan(f, now)
			if err != nil {
				return err
			}
			f.Distribution = d
		}
		if claimed != nil && !e.matches(f.Distribution, claimed) {
			return domain.ErrWinnerMismatch
		}

		d := f.Distribution
		reconcile(d, journaled, now)
		applySettled(d, settled, now)
		d.Attempts++
		attempt = d.Attempts
		pending, awaiting = sendable(d)
		// The lease outlives the slowest possible run.
		d.LeaseUntil = now + (e.cfg.LeaseTTL + time.Duration(len(pending))*e.cfg.TransferTimeout).Milliseconds()
		return nil
	})
	if err != nil {
		return nil, e.storeErr(err, fundID)
	}

	log := e.log.WithFields(logrus.Fields{"fund_id": fundID, "attempt": attempt})
	log.WithFields(logrus.Fields{"unpaid": len(pending), "awaiting": awaiting}).Info("distribution started")

	// Phase 2: transfers, outside the lock.
	outcomes := e.transfer(ctx, log, leased, pending)
	e.appendJournal(ctx, log, leased, attempt, outcomes)

	// Phase 3: record. Transfers already happened, so recording must not
	// be abandoned because the caller went away.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	final, err := e.store.Mutate(recCtx, fundID, func(f *domain.Fund) error {
		d := f.Distribution
		if d == nil {
			return fmt.Errorf("fund %s lost its distribution plan", fundID)
		}
		for idx, o := range outcomes {
			p := &d.Payouts[idx]
			if p.Status == domain.PayoutStatusPaid {
				continue
			}
			if o.status != domain.PayoutStatusNotAttempted {
				p.Attempts++
			}
			p.Status = o.status
			p.TxRef = o.txRef
			p.PendingRef = o.pendingRef
			p.Error = o.err
			p.UpdatedAt = o.at
		}
		d.LeaseUntil = 0
		if d.AllPaid() {
			f.Status = domain.FundStatusCompleted
			f.CompletedAt = e.now().UnixMilli()
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("recording distribution outcome failed")
		return nil, e.storeErr(err, fundID)
	}

	res = buildResult(final, attempt)
	if !res.Complete {
		log.WithField("paid", countPaid(res.Winners)).Warn("distribution incomplete")
		return res, domain.ErrTransferFailed
	}
	log.WithField("per_person", res.PerPersonAmount.String()).Info("distribution completed")
	return res, nil
}

// plan freezes the winners and share of f.
func (e *Engine) plan(f *domain.Fund, now int64) (*domain.Distribution, error) {
	k := f.Slots
	if n := len(f.Applications); n < k {
		k = n
	}
	share, dust := ComputeShare(f.TotalAmount, k, e.cfg.ShareDecimals)
	if !share.IsPositive() {
		return nil, domain.ErrShareTooSmall
	}

	winners := ranking.TopK(f.Applications, k)
	payouts := make([]domain.Payout, len(winners))
	for i, w := range winners {
		payouts[i] = domain.Payout{
			Rank:        i + 1,
			ApplicantID: w.ID,
			Wallet:      w.Wallet,
			Amount:      share,
			Status:      domain.PayoutStatusPending,
			UpdatedAt:   now,
		}
	}
	return &domain.Distribution{
		ShareAmount: share,
		Dust:        dust,
		StartedAt:   now,
		Payouts:     payouts,
	}, nil
}

// matches reports whether claimed lists exactly the planned winners, in
// rank order, with the planned amounts where amounts are given.
func (e *Engine) matches(d *domain.Distribution, claimed []ClaimedWinner) bool {
	if len(claimed) != len(d.Payouts) {
		return false
	}
	for i, c := range claimed {
		p := d.Payouts[i]
		if e.normalize(c.Wallet) != p.Wallet {
			return false
		}
		if c.Amount.Valid && !c.Amount.Decimal.Equal(p.Amount) {
			return false
		}
	}
	return true
}

// transfer pays the pending payouts in rank order and returns the outcome
// per payout index.
func (e *Engine) transfer(ctx context.Context, log logrus.FieldLogger, f *domain.Fund, pending []int) map[int]outcome {
	outcomes := make(map[int]outcome, len(pending))
	vault := e.ledger.VaultAddress()
	stopped := false

	for _, idx := range pending {
		p := f.Distribution.Payouts[idx]
		if stopped || ctx.Err() != nil {
			outcomes[idx] = outcome{status: domain.PayoutStatusNotAttempted, at: e.now().UnixMilli()}
			continue
		}

		start := time.Now()
		tctx, cancel := context.WithTimeout(ctx, e.cfg.TransferTimeout)
		ref, err := e.ledger.Transfer(tctx, vault, p.Wallet, p.Amount)
		cancel()
		elapsed := time.Since(start).Seconds()

		plog := log.WithFields(logrus.Fields{
			"rank":         p.Rank,
			"applicant_id": p.ApplicantID,
			"wallet":       p.Wallet,
			"amount":       p.Amount.String(),
		})
		if err != nil {
			o := outcome{status: domain.PayoutStatusFailed, err: err.Error(), at: e.now().UnixMilli()}
			if ref != "" && errors.Is(err, ledger.ErrNotConfirmed) {
				// Submitted; it may still land and must not be sent again
				// until the ledger says otherwise.
				o.pendingRef = ref
				observability.RecordTransfer("unconfirmed", elapsed)
				plog.WithError(err).WithField("pending_ref", ref).Warn("transfer not confirmed")
			} else {
				observability.RecordTransfer("failed", elapsed)
				plog.WithError(err).Warn("transfer failed")
			}
			outcomes[idx] = o
			if e.cfg.FailurePolicy == PolicyStop {
				stopped = true
			}
			continue
		}

		observability.RecordTransfer("paid", elapsed)
		plog.WithField("tx_ref", ref).Info("transfer confirmed")
		outcomes[idx] = outcome{status: domain.PayoutStatusPaid, txRef: ref, at: e.now().UnixMilli()}
	}
	return outcomes
}

// appendJournal records attempted transfers. Failures are logged only.
func (e *Engine) appendJournal(ctx context.Context, log logrus.FieldLogger, f *domain.Fund, attempt int, outcomes map[int]outcome) {
	if e.journal == nil {
		return
	}

	var events []*domain.PayoutEvent
	for idx, p := range f.Distribution.Payouts {
		o, ok := outcomes[idx]
		if !ok || o.status == domain.PayoutStatusNotAttempted {
			continue
		}
		events = append(events, &domain.PayoutEvent{
			EventID:     idhash.ComputePayoutEventID(f.ID, attempt, p.Rank, p.ApplicantID),
			FundID:      f.ID,
			Attempt:     attempt,
			Rank:        p.Rank,
			ApplicantID: p.ApplicantID,
			Wallet:      p.Wallet,
			Amount:      p.Amount,
			Status:      o.status,
			TxRef:       cmp.Or(o.txRef, o.pendingRef),
			Error:       o.err,
			OccurredAt:  o.at,
		})
	}
	if len(events) == 0 {
		return
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := e.journal.Append(jctx, events); err != nil {
		observability.RecordJournalError()
		log.WithError(err).Error("payout journal append failed")
	}
}

// journaledPayments returns the tx refs of payouts the journal knows were
// paid, keyed by rank. It covers a run whose transfers succeeded but whose
// outcome was never recorded in the fund.
func (e *Engine) journaledPayments(ctx context.Context, fundID string) map[int]*domain.PayoutEvent {
	if e.journal == nil {
		return nil
	}
	events, err := e.journal.GetByFundID(ctx, fundID)
	if err != nil {
		e.log.WithError(err).WithField("fund_id", fundID).Warn("payout journal unavailable, skipping reconciliation")
		return nil
	}
	paid := make(map[int]*domain.PayoutEvent)
	for _, ev := range events {
		if ev.Status == domain.PayoutStatusPaid {
			paid[ev.Rank] = ev
		}
	}
	return paid
}

// reconcile marks payouts paid when the journal proves it.
func reconcile(d *domain.Distribution, paid map[int]*domain.PayoutEvent, now int64) {
	for i := range d.Payouts {
		p := &d.Payouts[i]
		ev, ok := paid[p.Rank]
		if !ok || p.Status == domain.PayoutStatusPaid || ev.ApplicantID != p.ApplicantID {
			continue
		}
		p.Status = domain.PayoutStatusPaid
		p.TxRef = ev.TxRef
		p.PendingRef = ""
		p.Error = ""
		p.UpdatedAt = now
	}
}

// settledTransfer is the ledger's answer for one pending reference.
type settledTransfer struct {
	ref   string
	state ledger.TransferState
}

// settlePending asks the ledger about payouts whose last transfer was
// submitted without confirmation, keyed by rank. It runs without the fund
// lock; applySettled checks that the answers still apply.
func (e *Engine) settlePending(ctx context.Context, fundID string) map[int]settledTransfer {
	checker, ok := e.ledger.(ledger.StatusChecker)
	if !ok {
		return nil
	}
	f, err := e.store.GetByID(ctx, fundID)
	if err != nil || f.Distribution == nil {
		return nil
	}

	settled := make(map[int]settledTransfer)
	for _, p := range f.Distribution.Payouts {
		if p.PendingRef == "" || p.Status == domain.PayoutStatusPaid {
			continue
		}
		log := e.log.WithFields(logrus.Fields{"fund_id": fundID, "rank": p.Rank, "pending_ref": p.PendingRef})
		state, err := checker.TransferStatus(ctx, p.PendingRef, time.UnixMilli(p.UpdatedAt))
		if err != nil {
			log.WithError(err).Warn("transfer status lookup failed")
			continue
		}
		log.WithField("state", state.String()).Info("pending transfer checked")
		settled[p.Rank] = settledTransfer{ref: p.PendingRef, state: state}
	}
	return settled
}

// applySettled marks landed transfers paid and releases dropped ones for
// a new transfer. Unknown ones stay pending.
func applySettled(d *domain.Distribution, settled map[int]settledTransfer, now int64) {
	for i := range d.Payouts {
		p := &d.Payouts[i]
		st, ok := settled[p.Rank]
		if !ok || p.PendingRef == "" || p.PendingRef != st.ref || p.Status == domain.PayoutStatusPaid {
			continue
		}
		switch st.state {
		case ledger.TransferLanded:
			p.Status = domain.PayoutStatusPaid
			p.TxRef = st.ref
			p.PendingRef = ""
			p.Error = ""
			p.UpdatedAt = now
		case ledger.TransferDropped:
			p.PendingRef = ""
			p.UpdatedAt = now
		}
	}
}

// sendable returns the unpaid payouts that may be transferred now and the
// number still waiting on a pending transaction.
func sendable(d *domain.Distribution) (idx []int, awaiting int) {
	for _, i := range d.Unpaid() {
		if d.Payouts[i].PendingRef != "" {
			awaiting++
			continue
		}
		idx = append(idx, i)
	}
	return idx, awaiting
}

// Preview is the read-only view of a fund's ranking and payout.
type Preview struct {
	FundID          string
	FundStatus      domain.FundStatus
	Winners         int
	PerPersonAmount decimal.Decimal
	Dust            decimal.Decimal
	Ranking         []RankedApplicant
	Distribution    *domain.Distribution
}

// RankedApplicant is one row of the ranking.
type RankedApplicant struct {
	Rank              int
	ApplicantID       int
	Name              string
	Wallet            string
	VoteCount         int
	LastVoteTimestamp int64
	Winner            bool
}

// Preview ranks the applicants and computes the per-person amount without
// side effects. Once a plan is frozen it reports the plan.
func (e *Engine) Preview(ctx context.Context, fundID string) (*Preview, error) {
	f, err := e.store.GetByID(ctx, fundID)
	if err != nil {
		return nil, e.storeErr(err, fundID)
	}

	k := f.Slots
	if n := len(f.Applications); n < k {
		k = n
	}
	share, dust := ComputeShare(f.TotalAmount, k, e.cfg.ShareDecimals)

	winners := make(map[int]bool, k)
	if f.Distribution != nil {
		share, dust = f.Distribution.ShareAmount, f.Distribution.Dust
		k = len(f.Distribution.Payouts)
		for _, p := range f.Distribution.Payouts {
			winners[p.ApplicantID] = true
		}
	}

	sorted := ranking.Sorted(f.Applications)
	rows := make([]RankedApplicant, len(sorted))
	for i, a := range sorted {
		rows[i] = RankedApplicant{
			Rank:              i + 1,
			ApplicantID:       a.ID,
			Name:              a.Name,
			Wallet:            a.Wallet,
			VoteCount:         a.VoteCount,
			LastVoteTimestamp: a.LastVoteTimestamp,
		}
		if f.Distribution != nil {
			rows[i].Winner = winners[a.ID]
		} else {
			rows[i].Winner = i < k
		}
	}

	return &Preview{
		FundID:          f.ID,
		FundStatus:      f.Status,
		Winners:         k,
		PerPersonAmount: share,
		Dust:            dust,
		Ranking:         rows,
		Distribution:    f.Distribution,
	}, nil
}

func buildResult(f *domain.Fund, attempt int) *Result {
	d := f.Distribution
	res := &Result{
		FundID:          f.ID,
		FundStatus:      f.Status,
		PerPersonAmount: d.ShareAmount,
		Dust:            d.Dust,
		Attempt:         attempt,
		Complete:        f.Status == domain.FundStatusCompleted,
		Winners:         make([]WinnerResult, len(d.Payouts)),
	}
	for i, p := range d.Payouts {
		w := WinnerResult{
			Rank:        p.Rank,
			ApplicantID: p.ApplicantID,
			Wallet:      p.Wallet,
			Amount:      p.Amount,
			Status:      p.Status,
			TxRef:       p.TxRef,
			PendingRef:  p.PendingRef,
			Error:       p.Error,
		}
		if a, ok := f.Applicant(p.ApplicantID); ok {
			w.Name = a.Name
		}
		res.Winners[i] = w
	}
	return res
}

func countPaid(ws []WinnerResult) int {
	n := 0
	for _, w := range ws {
		if w.Status == domain.PayoutStatusPaid {
			n++
		}
	}
	return n
}

func (e *Engine) normalize(wallet string) string {
	wallet = strings.TrimSpace(wallet)
	if v, ok := e.ledger.(ledger.AddressValidator); ok && wallet != "" {
		if norm, err := v.NormalizeAddress(wallet); err == nil {
			return norm
		}
	}
	return wallet
}

func (e *Engine) storeErr(err error, fundID string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrFundNotFound
	}
	if domain.Code(err) == "" {
		e.log.WithError(err).WithField("fund_id", fundID).Error("fund store failure")
	}
	return err
}
