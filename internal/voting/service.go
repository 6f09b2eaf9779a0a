// Package voting records candidacy submissions and votes. Every mutation
// goes through storage.FundStore.Mutate so that checks and writes on one
// fund are serialized.
package voting

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"edufund/internal/domain"
	"edufund/internal/ledger"
	"edufund/internal/observability"
	"edufund/internal/storage"
)

// ApplicationParams is a candidacy submission.
type ApplicationParams struct {
	Name          string
	GPA           float64
	PortfolioLink string
	Wallet        string
}

// VoteResult is the applicant state after an accepted vote.
type VoteResult struct {
	VoteCount         int
	LastVoteTimestamp int64
}

// Service is the Application & Voting Service.
type Service struct {
	store     storage.FundStore
	addresses ledger.AddressValidator
	now       func() time.Time
	log       logrus.FieldLogger
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source used for vote timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithAddressValidator normalizes and validates wallets against a ledger.
func WithAddressValidator(v ledger.AddressValidator) Option {
	return func(s *Service) {
		s.addresses = v
	}
}

// NewService creates a voting service.
func NewService(store storage.FundStore, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
		log:   log.WithField("component", "voting"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitApplication appends a new applicant to an active fund. The
// applicant id is the number of applications before it.
func (s *Service) SubmitApplication(ctx context.Context, fundID string, p ApplicationParams) (app *domain.Applicant, err error) {
	defer func() {
		observability.RecordApplication(observability.ResultLabel(domain.Code(err), err))
	}()

	submittedAt := s.now().UnixMilli()

	// Fund existence and status are reported before anything about the
	// request itself.
	var (
		created domain.Applicant
		wallet  string
	)
	_, err = s.store.Mutate(ctx, fundID, func(f *domain.Fund) error {
		if !f.IsOpen() {
			return domain.ErrFundClosed
		}
		if err := domain.ValidateApplication(p.Name, p.GPA, p.Wallet); err != nil {
			return err
		}
		w, err := s.normalize(p.Wallet)
		if err != nil {
			return err
		}
		wallet = w
		if _, exists := f.ApplicantByWallet(wallet); exists {
			return domain.ErrDuplicateApplication
		}
		created = domain.Applicant{
			ID:            len(f.Applications),
			Name:          strings.TrimSpace(p.Name),
			GPA:           p.GPA,
			PortfolioLink: strings.TrimSpace(p.PortfolioLink),
			Wallet:        wallet,
			SubmittedAt:   submittedAt,
		}
		f.Applications = append(f.Applications, created)
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "submit application", logrus.Fields{"fund_id": fundID, "wallet": p.Wallet})
	}

	s.log.WithFields(logrus.Fields{
		"fund_id":      fundID,
		"applicant_id": created.ID,
		"wallet":       wallet,
	}).Info("application submitted")
	return &created, nil
}

// CastVote records one vote of voter for an applicant. A wallet votes at
// most once per applicant; voting for several applicants, or for one's own
// application, is allowed.
func (s *Service) CastVote(ctx context.Context, fundID string, applicantID int, voter string) (res *VoteResult, err error) {
	defer func() {
		observability.RecordVote(observability.ResultLabel(domain.Code(err), err))
	}()

	now := s.now().UnixMilli()

	var result VoteResult
	_, err = s.store.Mutate(ctx, fundID, func(f *domain.Fund) error {
		if !f.IsOpen() {
			return domain.ErrFundClosed
		}
		if strings.TrimSpace(voter) == "" {
			return domain.ErrVoterRequired
		}
		v, err := s.normalize(voter)
		if err != nil {
			return err
		}
		voter = v
		a, ok := f.Applicant(applicantID)
		if !ok {
			return domain.ErrApplicantNotFound
		}
		if a.HasVoter(voter) {
			return domain.ErrDuplicateVote
		}

		a.Voters = append(a.Voters, voter)
		a.VoteCount = len(a.Voters)
		// Never move the timestamp backwards, even if the clock does.
		if now > a.LastVoteTimestamp {
			a.LastVoteTimestamp = now
		}
		result = VoteResult{VoteCount: a.VoteCount, LastVoteTimestamp: a.LastVoteTimestamp}
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "cast vote", logrus.Fields{"fund_id": fundID, "applicant_id": applicantID, "wallet": voter})
	}

	s.log.WithFields(logrus.Fields{
		"fund_id":      fundID,
		"applicant_id": applicantID,
		"wallet":       voter,
		"vote_count":   result.VoteCount,
	}).Info("vote recorded")
	return &result, nil
}

func (s *Service) normalize(wallet string) (string, error) {
	wallet = strings.TrimSpace(wallet)
	if s.addresses == nil {
		return wallet, nil
	}
	norm, err := s.addresses.NormalizeAddress(wallet)
	if err != nil {
		return "", domain.ErrInvalidAddress
	}
	return norm, nil
}

// fail maps storage errors to domain errors and logs unexpected ones.
func (s *Service) fail(err error, op string, fields logrus.Fields) error {
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrFundNotFound
	}
	if domain.Code(err) == "" {
		s.log.WithFields(fields).WithError(err).Error(op + " failed")
	}
	return err
}
