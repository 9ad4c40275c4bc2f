package models

import (
	"errors"
	"testing"
	"time"
)

func TestVideoLifecycle(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	v := &VideoGeneration{Status: VideoStatusQueued}

	if err := v.Complete("https://cdn.example.com/v.mp4", now); err == nil {
		t.Fatal("expected queued video to refuse completion")
	}
	if err := v.Start(now); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := v.Fail(errors.New("renderer timeout")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if v.ErrorMessage != "renderer timeout" {
		t.Fatalf("expected error message, got %q", v.ErrorMessage)
	}

	var transitionErr *InvalidTransitionError
	if err := v.Start(now); !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestVideoRetryCap(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	v := &VideoGeneration{Status: VideoStatusFailed}

	for i := 1; i <= MaxVideoRetries; i++ {
		if !v.CanRetry(now, 2*time.Hour) {
			t.Fatalf("retry %d: expected video to be retryable", i)
		}
		if err := v.Requeue(now); err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
		if v.RetryCount != i {
			t.Fatalf("expected retry count %d, got %d", i, v.RetryCount)
		}
		v.Status = VideoStatusFailed
		now = now.Add(3 * time.Hour)
	}

	if v.CanRetry(now, 2*time.Hour) {
		t.Fatal("video at the retry cap must not be retryable")
	}
	if err := v.Requeue(now); err == nil {
		t.Fatal("expected requeue at the retry cap to fail")
	}
	if v.RetryCount != MaxVideoRetries {
		t.Fatalf("retry count went past the cap: %d", v.RetryCount)
	}
	if !v.IsTerminal() {
		t.Fatal("expected failed video at the cap to be terminal")
	}
}

func TestVideoCooldown(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	last := now.Add(-time.Hour)
	v := &VideoGeneration{Status: VideoStatusFailed, RetryCount: 1, LastRetryAt: &last}

	if v.CanRetry(now, 2*time.Hour) {
		t.Fatal("expected video inside the cooldown to wait")
	}
	if !v.CanRetry(now.Add(61*time.Minute), 2*time.Hour) {
		t.Fatal("expected video past the cooldown to be retryable")
	}
}

func TestPremiumRequiresTier(t *testing.T) {
	p := &Post{}
	if err := p.MarkPremium(""); !errors.Is(err, ErrPremiumTierRequired) {
		t.Fatalf("expected ErrPremiumTierRequired, got %v", err)
	}
	if p.IsPremium {
		t.Fatal("post must stay free when no tier is given")
	}

	if err := p.MarkPremium("pro"); err != nil {
		t.Fatalf("mark premium: %v", err)
	}
	if p.Tier() != "pro" {
		t.Fatalf("expected tier pro, got %q", p.Tier())
	}

	p.MarkFree()
	if p.IsPremium || p.Tier() != "" {
		t.Fatal("expected premium flags cleared")
	}

	p.IsPremium = true
	if err := p.BeforeSave(nil); !errors.Is(err, ErrPremiumTierRequired) {
		t.Fatalf("expected save hook to reject an untiered premium post, got %v", err)
	}
}

func TestLedgerTransitions(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	e := &Earning{Status: LedgerPending}
	if err := e.Settle(LedgerPending); err == nil {
		t.Fatal("expected settling to pending to fail")
	}
	if err := e.Settle(LedgerCompleted); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := e.Settle(LedgerRejected); err == nil {
		t.Fatal("expected a completed earning to stay completed")
	}

	p := &PayoutRequest{Status: LedgerPending}
	if err := p.Reject("missing bank details", now); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if p.ProcessedAt == nil || p.RejectionReason != "missing bank details" {
		t.Fatalf("unexpected payout after reject: %+v", p)
	}
	if err := p.Complete(now); err == nil {
		t.Fatal("expected a rejected payout to refuse completion")
	}
}

func TestSchedulerStateWindow(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	var missing *SchedulerState
	if missing.RanWithin(now, 24*time.Hour) {
		t.Fatal("nil state never ran")
	}

	last := now.Add(-23 * time.Hour)
	s := &SchedulerState{LastRunAt: &last}
	if !s.RanWithin(now, 24*time.Hour) {
		t.Fatal("expected a run 23h ago to be inside the window")
	}
	if s.RanWithin(now.Add(time.Hour), 24*time.Hour) {
		t.Fatal("expected a run exactly 24h ago to be outside the window")
	}
}

func TestAggregationGate(t *testing.T) {
	merged := uint(3)
	cases := []struct {
		name string
		agg  ContentAggregation
		want bool
	}{
		{"above threshold", ContentAggregation{ConfidenceScore: 0.8}, true},
		{"at threshold", ContentAggregation{ConfidenceScore: DefaultConfidenceThreshold}, true},
		{"below threshold", ContentAggregation{ConfidenceScore: 0.74}, false},
		{"already curated", ContentAggregation{ConfidenceScore: 0.9, IsCurated: true}, false},
		{"merged away", ContentAggregation{ConfidenceScore: 0.9, MergedIntoID: &merged}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.agg.ReadyForParaphrase(DefaultConfidenceThreshold); got != tc.want {
				t.Fatalf("ReadyForParaphrase = %v, want %v", got, tc.want)
			}
		})
	}
}
