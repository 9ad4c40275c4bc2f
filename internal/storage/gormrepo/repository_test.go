package gormrepo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/storage"
	"github.com/content-engine/internal/storage/storagetest"
)

func TestMergeAggregationsMovesArticles(t *testing.T) {
	repo := storagetest.New(t)
	ctx := context.Background()
	now := time.Now()

	src := storagetest.Source(t, repo, "wire", 0.8)
	a1 := storagetest.Article(t, repo, src, "chip-export-rules", "Export rules tightened", now)
	a2 := storagetest.Article(t, repo, src, "chip-export-curbs", "Export curbs expanded", now)

	target := &models.ContentAggregation{Topic: "chip exports", ConfidenceScore: 0.8}
	absorbed := &models.ContentAggregation{Topic: "chip curbs", ConfidenceScore: 0.6}
	for _, agg := range []*models.ContentAggregation{target, absorbed} {
		if err := repo.CreateAggregation(ctx, agg); err != nil {
			t.Fatalf("create aggregation: %v", err)
		}
	}
	if err := repo.AssignArticles(ctx, target.ID, []uint{a1.ID}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := repo.AssignArticles(ctx, absorbed.ID, []uint{a2.ID}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := repo.MergeAggregations(ctx, target, absorbed); err != nil {
		t.Fatalf("merge: %v", err)
	}

	got, err := repo.GetAggregationByID(ctx, target.ID)
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if len(got.Articles) != 2 {
		t.Fatalf("expected 2 articles on target, got %d", len(got.Articles))
	}

	retired, err := repo.GetAggregationByID(ctx, absorbed.ID)
	if err != nil {
		t.Fatalf("get absorbed: %v", err)
	}
	if retired.MergedIntoID == nil || *retired.MergedIntoID != target.ID {
		t.Fatalf("expected absorbed aggregation to point at %d, got %v", target.ID, retired.MergedIntoID)
	}

	open, err := repo.ListAggregations(ctx, storage.AggregationFilter{OpenOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 || open[0].ID != target.ID {
		t.Fatalf("expected only the target to stay open, got %d aggregations", len(open))
	}
}

func TestFindSocialPostMatchesVideo(t *testing.T) {
	repo := storagetest.New(t)
	ctx := context.Background()

	videoID := uint(7)
	textShare := &models.SocialMediaPost{PostID: 1, AccountID: 2, Platform: models.PlatformLinkedIn}
	videoShare := &models.SocialMediaPost{PostID: 1, AccountID: 2, VideoID: &videoID, Platform: models.PlatformLinkedIn}
	for _, share := range []*models.SocialMediaPost{textShare, videoShare} {
		if err := repo.CreateSocialPost(ctx, share); err != nil {
			t.Fatalf("create share: %v", err)
		}
	}

	got, err := repo.FindSocialPost(ctx, 1, 2, nil)
	if err != nil {
		t.Fatalf("find text share: %v", err)
	}
	if got.ID != textShare.ID {
		t.Fatalf("expected text share %d, got %d", textShare.ID, got.ID)
	}

	got, err = repo.FindSocialPost(ctx, 1, 2, &videoID)
	if err != nil {
		t.Fatalf("find video share: %v", err)
	}
	if got.ID != videoShare.ID {
		t.Fatalf("expected video share %d, got %d", videoShare.ID, got.ID)
	}

	if _, err := repo.FindSocialPost(ctx, 1, 3, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSumEarningsByStatus(t *testing.T) {
	repo := storagetest.New(t)
	ctx := context.Background()

	earnings := []*models.Earning{
		{CreatorID: 1, Source: models.EarningTip, AmountCents: 500, Currency: "USD", Status: models.LedgerCompleted},
		{CreatorID: 1, Source: models.EarningTip, AmountCents: 300, Currency: "EUR", Status: models.LedgerCompleted},
		{CreatorID: 1, Source: models.EarningTip, AmountCents: 250, Currency: "USD", Status: models.LedgerPending},
		{CreatorID: 1, Source: models.EarningTip, AmountCents: 900, Currency: "USD", Status: models.LedgerRejected},
		{CreatorID: 2, Source: models.EarningTip, AmountCents: 1000, Currency: "USD", Status: models.LedgerCompleted},
	}
	for _, e := range earnings {
		if err := repo.CreateEarning(ctx, e); err != nil {
			t.Fatalf("create earning: %v", err)
		}
	}

	completed, err := repo.SumEarnings(ctx, 1, "usd", models.LedgerCompleted)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if completed != 500 {
		t.Fatalf("expected 500 completed USD cents, got %d", completed)
	}

	anyCurrency, err := repo.SumEarnings(ctx, 1, "", models.LedgerCompleted)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if anyCurrency != 800 {
		t.Fatalf("expected 800 completed cents in any currency, got %d", anyCurrency)
	}

	all, err := repo.SumEarnings(ctx, 1, "USD")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if all != 1650 {
		t.Fatalf("expected 1650 USD cents across statuses, got %d", all)
	}

	none, err := repo.SumEarnings(ctx, 99, "USD", models.LedgerCompleted)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if none != 0 {
		t.Fatalf("expected 0 for a creator without earnings, got %d", none)
	}
}

func TestSaveSubscriptionUpserts(t *testing.T) {
	repo := storagetest.New(t)
	ctx := context.Background()

	sub := &models.Subscription{ExternalID: "sub_1", CreatorID: 1, Tier: "pro", Status: models.SubscriptionActive}
	if err := repo.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("save: %v", err)
	}

	update := &models.Subscription{ExternalID: "sub_1", CreatorID: 1, Tier: "pro", Status: models.SubscriptionCancelled}
	if err := repo.SaveSubscription(ctx, update); err != nil {
		t.Fatalf("save update: %v", err)
	}
	if update.ID != sub.ID {
		t.Fatalf("expected update to reuse id %d, got %d", sub.ID, update.ID)
	}

	got, err := repo.GetSubscriptionByExternalID(ctx, "sub_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.SubscriptionCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestSchedulerStateRoundTrip(t *testing.T) {
	repo := storagetest.New(t)
	ctx := context.Background()

	state, err := repo.GetSchedulerState(ctx, "daily")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.ID != 0 || state.LastRunAt != nil {
		t.Fatalf("expected a fresh state for an unknown key, got %+v", state)
	}

	ran := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	state.LastRunAt = &ran
	state.RotationIndex = 2
	if err := repo.SaveSchedulerState(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.GetSchedulerState(ctx, "daily")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(ran) {
		t.Fatalf("expected last run %v, got %v", ran, got.LastRunAt)
	}
	if got.RotationIndex != 2 {
		t.Fatalf("expected rotation index 2, got %d", got.RotationIndex)
	}
}

func TestCuratePostIsAtomic(t *testing.T) {
	repo := storagetest.New(t)
	ctx := context.Background()

	agg := &models.ContentAggregation{Topic: "port robots", ConfidenceScore: 0.9}
	if err := repo.CreateAggregation(ctx, agg); err != nil {
		t.Fatalf("create aggregation: %v", err)
	}

	post := &models.Post{CreatorID: 1, Title: "Robots at the port", Content: "Body", Status: models.PostStatusDraft, IsCurated: true, AggregationID: &agg.ID}
	if err := repo.CuratePost(ctx, agg, post); err != nil {
		t.Fatalf("curate: %v", err)
	}
	if !agg.IsCurated || agg.CuratedPostID == nil || *agg.CuratedPostID != post.ID {
		t.Fatalf("aggregation not closed in memory: %+v", agg)
	}

	stored, _ := repo.GetAggregationByID(ctx, agg.ID)
	if !stored.IsCurated || stored.CuratedPostID == nil || *stored.CuratedPostID != post.ID {
		t.Fatalf("aggregation not closed in storage: %+v", stored)
	}

	second := &models.Post{CreatorID: 1, Title: "Robots again", Content: "Body", Status: models.PostStatusDraft, IsCurated: true, AggregationID: &agg.ID}
	if err := repo.CuratePost(ctx, agg, second); !errors.Is(err, storage.ErrAggregationClosed) {
		t.Fatalf("expected ErrAggregationClosed, got %v", err)
	}

	posts, err := repo.ListPosts(ctx, storage.DefaultPostFilter())
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected the second draft to roll back, got %d posts", len(posts))
	}
}
