// Package escrow creates and lists funds and watches that the vault keeps
// enough value to cover every active fund.
package escrow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"edufund/internal/domain"
	"edufund/internal/ledger"
	"edufund/internal/observability"
	"edufund/internal/storage"
)

// CreateFundParams is the input of fund creation.
type CreateFundParams struct {
	Name        string
	Description string
	TotalAmount decimal.Decimal
	Slots       int
	Owner       string
}

// Service creates and reads funds.
type Service struct {
	store     storage.FundStore
	addresses ledger.AddressValidator
	feeBps    int64
	now       func() time.Time
	newID     func() string
	log       logrus.FieldLogger
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the creation time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides fund id assignment.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

// WithPlatformFeeBps sets the fee recorded on top of the escrowed amount,
// in basis points.
func WithPlatformFeeBps(bps int64) Option {
	return func(s *Service) {
		s.feeBps = bps
	}
}

// WithAddressValidator validates owner wallets against a ledger.
func WithAddressValidator(v ledger.AddressValidator) Option {
	return func(s *Service) {
		s.addresses = v
	}
}

// NewService creates an escrow service.
func NewService(store storage.FundStore, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
		log:   log.WithField("component", "escrow"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateFund validates params and stores a new Active fund.
func (s *Service) CreateFund(ctx context.Context, p CreateFundParams) (*domain.Fund, error) {
	if err := domain.ValidateFundParams(p.Name, p.TotalAmount, p.Slots, p.Owner); err != nil {
		return nil, err
	}
	owner := strings.TrimSpace(p.Owner)
	if s.addresses != nil {
		norm, err := s.addresses.NormalizeAddress(owner)
		if err != nil {
			return nil, domain.ErrInvalidAddress
		}
		owner = norm
	}

	f := &domain.Fund{
		ID:          s.newID(),
		Name:        strings.TrimSpace(p.Name),
		Description: strings.TrimSpace(p.Description),
		TotalAmount: p.TotalAmount,
		PlatformFee: PlatformFee(p.TotalAmount, s.feeBps),
		Slots:       p.Slots,
		Owner:       owner,
		Status:      domain.FundStatusActive,
		CreatedAt:   s.now().UnixMilli(),
	}

	if err := s.store.Create(ctx, f); err != nil {
		s.log.WithError(err).WithField("fund_id", f.ID).Error("create fund failed")
		return nil, err
	}

	observability.RecordFundCreated()
	s.log.WithFields(logrus.Fields{
		"fund_id": f.ID,
		"owner":   owner,
		"amount":  f.TotalAmount.String(),
		"slots":   f.Slots,
	}).Info("fund created")
	return f, nil
}

// GetFund returns a fund with its applicants.
func (s *Service) GetFund(ctx context.Context, id string) (*domain.Fund, error) {
	f, err := s.store.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrFundNotFound
	}
	return f, err
}

// ListFilter narrows ListFunds. Zero value lists everything.
type ListFilter struct {
	Status domain.FundStatus
	Owner  string
}

// ListFunds returns funds in creation order.
func (s *Service) ListFunds(ctx context.Context, filter ListFilter) ([]*domain.Fund, error) {
	funds, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Status == "" && filter.Owner == "" {
		return funds, nil
	}

	out := funds[:0]
	for _, f := range funds {
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if filter.Owner != "" && !strings.EqualFold(f.Owner, filter.Owner) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// PlatformFee is amount * bps / 10000, truncated to 4 decimal places.
func PlatformFee(amount decimal.Decimal, bps int64) decimal.Decimal {
	if bps <= 0 {
		return decimal.Zero
	}
	return amount.Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(10_000)).Truncate(4)
}
