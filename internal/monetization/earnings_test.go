package monetization

import (
	"context"
	"errors"
	"testing"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/storage/gormrepo"
	"github.com/content-engine/internal/storage/storagetest"
	"github.com/content-engine/pkg/logger"
)

func paymentsConfig() config.PaymentsConfig {
	return config.PaymentsConfig{
		Currency:       "USD",
		MinPayoutCents: 1000,
		WebhookSecret:  "whsec",
		VariantTiers:   map[string]string{"77": "basic"},
	}
}

func newService(t *testing.T) (*Service, *gormrepo.Repository) {
	t.Helper()
	repo := storagetest.New(t)
	return NewService(repo, paymentsConfig(), logger.Nop()), repo
}

func earn(t *testing.T, svc *Service, creatorID uint, cents int64, settle models.LedgerStatus) *models.Earning {
	t.Helper()
	e, _, err := svc.RecordEarning(context.Background(), EarningInput{
		CreatorID:   creatorID,
		Source:      models.EarningTip,
		AmountCents: cents,
	})
	if err != nil {
		t.Fatalf("record earning: %v", err)
	}
	if settle != models.LedgerPending {
		if e, err = svc.SettleEarning(context.Background(), e.ID, settle); err != nil {
			t.Fatalf("settle: %v", err)
		}
	}
	return e
}

func TestRecordEarningIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	in := EarningInput{CreatorID: 1, Source: models.EarningSubscription, AmountCents: 900, Currency: "eur", ExternalRef: "invoice:1"}
	first, created, err := svc.RecordEarning(ctx, in)
	if err != nil || !created {
		t.Fatalf("first record: %v %v", created, err)
	}
	if first.Currency != "EUR" || first.Status != models.LedgerPending {
		t.Fatalf("unexpected earning: %+v", first)
	}

	again, created, err := svc.RecordEarning(ctx, in)
	if err != nil || created || again.ID != first.ID {
		t.Fatalf("duplicate should return the first earning: %+v %v %v", again, created, err)
	}

	if _, _, err := svc.RecordEarning(ctx, EarningInput{CreatorID: 1, Source: models.EarningTip}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := svc.RecordEarning(ctx, EarningInput{CreatorID: 1, Source: "gift", AmountCents: 1}); err == nil {
		t.Fatal("unknown source should fail")
	}
}

func TestSettleOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	e := earn(t, svc, 1, 500, models.LedgerCompleted)
	var transition *models.InvalidTransitionError
	if _, err := svc.SettleEarning(ctx, e.ID, models.LedgerRejected); !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestBalanceAndPayouts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	earn(t, svc, 1, 3000, models.LedgerCompleted)
	earn(t, svc, 1, 2000, models.LedgerCompleted)
	earn(t, svc, 1, 700, models.LedgerPending)
	earn(t, svc, 1, 400, models.LedgerRejected)
	earn(t, svc, 2, 9999, models.LedgerCompleted)

	// a completed earning in another currency is not payable
	foreign, _, err := svc.RecordEarning(ctx, EarningInput{CreatorID: 1, Source: models.EarningTip, AmountCents: 4000, Currency: "eur"})
	if err != nil {
		t.Fatalf("record foreign earning: %v", err)
	}
	if _, err := svc.SettleEarning(ctx, foreign.ID, models.LedgerCompleted); err != nil {
		t.Fatalf("settle foreign earning: %v", err)
	}

	balance, err := svc.Balance(ctx, 1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Earned != 5000 || balance.Pending != 700 || balance.Available != 5000 || balance.Currency != "USD" {
		t.Fatalf("unexpected balance: %+v", balance)
	}

	if _, err := svc.RequestPayout(ctx, 1, 500, "bank"); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if _, err := svc.RequestPayout(ctx, 1, 6000, "bank"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	first, err := svc.RequestPayout(ctx, 1, 3000, "bank")
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	// the pending payout is reserved
	if _, err := svc.RequestPayout(ctx, 1, 2500, "bank"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("reserved funds were spent twice: %v", err)
	}

	second, err := svc.RequestPayout(ctx, 1, 2000, "bank")
	if err != nil {
		t.Fatalf("second payout: %v", err)
	}

	if _, err := svc.CompletePayout(ctx, first.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.RejectPayout(ctx, second.ID, "wrong account"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := svc.CompletePayout(ctx, second.ID); err == nil {
		t.Fatal("rejected payout cannot be completed")
	}

	balance, _ = svc.Balance(ctx, 1)
	if balance.PaidOut != 3000 || balance.Reserved != 0 || balance.Available != 2000 {
		t.Fatalf("unexpected balance after payouts: %+v", balance)
	}
}
