package monetization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/storage"
	"github.com/content-engine/pkg/logger"
)

var (
	// ErrInsufficientBalance is returned when a payout exceeds the available balance
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBelowMinimum is returned for payouts under the configured minimum
	ErrBelowMinimum = errors.New("payout below minimum amount")
	// ErrInvalidAmount is returned for non-positive amounts
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Service keeps the earnings and payout ledger
type Service struct {
	repository storage.Repository
	config     config.PaymentsConfig
	now        func() time.Time
	log        *logger.Logger

	// serializes balance checks with payout creation
	payoutMu sync.Mutex
}

// NewService creates a new earnings service
func NewService(repository storage.Repository, paymentsConfig config.PaymentsConfig, log *logger.Logger) *Service {
	return &Service{
		repository: repository,
		config:     paymentsConfig,
		now:        time.Now,
		log:        log.WithComponent("earnings"),
	}
}

// EarningInput describes revenue to record
type EarningInput struct {
	CreatorID   uint
	PostID      *uint
	Source      models.EarningSource
	AmountCents int64
	Currency    string
	// ExternalRef makes recording idempotent per provider event
	ExternalRef string
	Description string
}

// RecordEarning stores a pending earning. The bool is false when an earning
// with the same external ref already exists; that earning is returned instead.
func (s *Service) RecordEarning(ctx context.Context, in EarningInput) (*models.Earning, bool, error) {
	if in.AmountCents <= 0 {
		return nil, false, ErrInvalidAmount
	}
	switch in.Source {
	case models.EarningSubscription, models.EarningPremiumUnlock, models.EarningTip:
	default:
		return nil, false, fmt.Errorf("unknown earning source %q", in.Source)
	}

	if in.ExternalRef != "" {
		existing, err := s.repository.GetEarningByExternalRef(ctx, in.ExternalRef)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to check earning ref: %w", err)
		}
	}

	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = s.currency()
	}

	earning := &models.Earning{
		CreatorID:   in.CreatorID,
		PostID:      in.PostID,
		Source:      in.Source,
		AmountCents: in.AmountCents,
		Currency:    currency,
		Status:      models.LedgerPending,
		Description: in.Description,
	}
	if in.ExternalRef != "" {
		ref := in.ExternalRef
		earning.ExternalRef = &ref
	}

	if err := s.repository.CreateEarning(ctx, earning); err != nil {
		return nil, false, fmt.Errorf("failed to save earning: %w", err)
	}

	s.log.Info().
		Uint("earning_id", earning.ID).
		Uint("creator_id", earning.CreatorID).
		Str("source", string(earning.Source)).
		Int64("amount_cents", earning.AmountCents).
		Msg("Earning recorded")

	return earning, true, nil
}

// SettleEarning completes or rejects a pending earning
func (s *Service) SettleEarning(ctx context.Context, id uint, to models.LedgerStatus) (*models.Earning, error) {
	earning, err := s.repository.GetEarningByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("earning not found: %w", err)
	}
	if err := earning.Settle(to); err != nil {
		return nil, err
	}
	if err := s.repository.UpdateEarning(ctx, earning); err != nil {
		return nil, fmt.Errorf("failed to save earning: %w", err)
	}
	return earning, nil
}

// Balance summarizes a creator's ledger in cents
type Balance struct {
	Earned    int64  `json:"earned"`    // completed earnings
	Pending   int64  `json:"pending"`   // earnings not yet settled
	PaidOut   int64  `json:"paid_out"`  // completed payouts
	Reserved  int64  `json:"reserved"`  // payouts awaiting processing
	Available int64  `json:"available"` // what a new payout may take
	Currency  string `json:"currency"`
}

// currency is the payout currency; balances only count entries in it
func (s *Service) currency() string {
	return strings.ToUpper(s.config.Currency)
}

// Balance computes a creator's balance in the payout currency. Earnings in
// other currencies stay in the ledger but are not available for payout.
func (s *Service) Balance(ctx context.Context, creatorID uint) (*Balance, error) {
	currency := s.currency()
	earned, err := s.repository.SumEarnings(ctx, creatorID, currency, models.LedgerCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to sum earnings: %w", err)
	}
	pending, err := s.repository.SumEarnings(ctx, creatorID, currency, models.LedgerPending)
	if err != nil {
		return nil, fmt.Errorf("failed to sum earnings: %w", err)
	}
	paid, err := s.repository.SumPayouts(ctx, creatorID, currency, models.LedgerCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payouts: %w", err)
	}
	reserved, err := s.repository.SumPayouts(ctx, creatorID, currency, models.LedgerPending)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payouts: %w", err)
	}

	return &Balance{
		Earned:    earned,
		Pending:   pending,
		PaidOut:   paid,
		Reserved:  reserved,
		Available: earned - paid - reserved,
		Currency:  currency,
	}, nil
}

// RequestPayout reserves part of the available balance for withdrawal
func (s *Service) RequestPayout(ctx context.Context, creatorID uint, amountCents int64, method string) (*models.PayoutRequest, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if amountCents < s.config.MinPayoutCents {
		return nil, fmt.Errorf("%w: %d < %d", ErrBelowMinimum, amountCents, s.config.MinPayoutCents)
	}

	s.payoutMu.Lock()
	defer s.payoutMu.Unlock()

	balance, err := s.Balance(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if amountCents > balance.Available {
		return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientBalance, amountCents, balance.Available)
	}

	payout := &models.PayoutRequest{
		CreatorID:   creatorID,
		AmountCents: amountCents,
		Currency:    s.currency(),
		Method:      method,
		Status:      models.LedgerPending,
	}
	if err := s.repository.CreatePayout(ctx, payout); err != nil {
		return nil, fmt.Errorf("failed to save payout: %w", err)
	}

	s.log.Info().
		Uint("payout_id", payout.ID).
		Uint("creator_id", creatorID).
		Int64("amount_cents", amountCents).
		Msg("Payout requested")

	return payout, nil
}

// CompletePayout marks a pending payout as paid
func (s *Service) CompletePayout(ctx context.Context, id uint) (*models.PayoutRequest, error) {
	payout, err := s.repository.GetPayoutByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("payout not found: %w", err)
	}
	if err := payout.Complete(s.now()); err != nil {
		return nil, err
	}
	if err := s.repository.UpdatePayout(ctx, payout); err != nil {
		return nil, fmt.Errorf("failed to save payout: %w", err)
	}
	s.log.Info().Uint("payout_id", id).Msg("Payout completed")
	return payout, nil
}

// RejectPayout releases a pending payout back to the balance
func (s *Service) RejectPayout(ctx context.Context, id uint, reason string) (*models.PayoutRequest, error) {
	payout, err := s.repository.GetPayoutByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("payout not found: %w", err)
	}
	if err := payout.Reject(reason, s.now()); err != nil {
		return nil, err
	}
	if err := s.repository.UpdatePayout(ctx, payout); err != nil {
		return nil, fmt.Errorf("failed to save payout: %w", err)
	}
	s.log.Info().Uint("payout_id", id).Str("reason", reason).Msg("Payout rejected")
	return payout, nil
}

// ListPayouts returns payouts, newest first
func (s *Service) ListPayouts(ctx context.Context, filter storage.LedgerFilter) ([]*models.PayoutRequest, error) {
	return s.repository.ListPayouts(ctx, filter)
}

// ListEarnings returns earnings, newest first
func (s *Service) ListEarnings(ctx context.Context, filter storage.LedgerFilter) ([]*models.Earning, error) {
	return s.repository.ListEarnings(ctx, filter)
}
