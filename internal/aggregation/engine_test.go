package aggregation

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/storage"
	"github.com/content-engine/internal/storage/gormrepo"
	"github.com/content-engine/internal/storage/storagetest"
	"github.com/content-engine/pkg/logger"
)

const (
	titleLaunch   = "Acme launches Rocket X1 electric scooter"
	titleEurope   = "Acme launches Rocket X1 scooter in Europe"
	titleLaunched = "Rocket X1 electric scooter launched by Acme"
	titleRates    = "Central bank holds interest rates steady"
)

func seedStory(t *testing.T, repo *gormrepo.Repository) {
	t.Helper()
	now := time.Now()

	a := storagetest.Source(t, repo, "alpha", 0.9)
	b := storagetest.Source(t, repo, "beta", 0.8)
	c := storagetest.Source(t, repo, "gamma", 0.7)

	storagetest.Article(t, repo, a, titleLaunch, "", now.Add(-3*time.Hour))
	storagetest.Article(t, repo, b, titleEurope, "", now.Add(-2*time.Hour))
	storagetest.Article(t, repo, c, titleLaunched, "", now.Add(-1*time.Hour))
	storagetest.Article(t, repo, c, titleRates, "", now.Add(-1*time.Hour))
}

func TestFindAllDuplicatesGroupsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.New(t)
	seedStory(t, repo)

	engine := NewEngine(repo, nil, DefaultOptions(), logger.Nop())

	created, err := engine.FindAllDuplicates(ctx, 24)
	if err != nil {
		t.Fatalf("find duplicates: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 aggregation, got %d", created)
	}

	aggs, err := repo.ListAggregations(ctx, storage.DefaultAggregationFilter())
	if err != nil {
		t.Fatalf("list aggregations: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected 1 open aggregation, got %d", len(aggs))
	}
	agg := aggs[0]
	if agg.ArticleCount != 3 || agg.SourceCount != 3 {
		t.Fatalf("unexpected counts: articles=%d sources=%d", agg.ArticleCount, agg.SourceCount)
	}
	if agg.ConfidenceScore < 0 || agg.ConfidenceScore > 1 {
		t.Fatalf("confidence out of range: %v", agg.ConfidenceScore)
	}

	unprocessed, err := repo.ListArticles(ctx, storage.ArticleFilter{Processed: storage.Ptr(false)})
	if err != nil {
		t.Fatalf("list articles: %v", err)
	}
	if len(unprocessed) != 1 || unprocessed[0].Title != titleRates {
		t.Fatalf("expected only the unrelated article to stay unprocessed, got %d", len(unprocessed))
	}

	again, err := engine.FindAllDuplicates(ctx, 24)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again != 0 {
		t.Fatalf("second run created %d aggregations", again)
	}
}

func TestFindAllDuplicatesJoinsOpenAggregation(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.New(t)
	seedStory(t, repo)

	engine := NewEngine(repo, nil, DefaultOptions(), logger.Nop())
	if _, err := engine.FindAllDuplicates(ctx, 24); err != nil {
		t.Fatalf("first run: %v", err)
	}

	late := storagetest.Source(t, repo, "delta", 0.6)
	storagetest.Article(t, repo, late, "Acme Rocket X1 scooter reviews arrive", "", time.Now())

	created, err := engine.FindAllDuplicates(ctx, 24)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if created != 0 {
		t.Fatalf("late report should join, not create: %d", created)
	}

	aggs, _ := repo.ListAggregations(ctx, storage.DefaultAggregationFilter())
	if len(aggs) != 1 || aggs[0].ArticleCount != 4 || aggs[0].SourceCount != 4 {
		t.Fatalf("late report not attached: %+v", aggs)
	}
}

func TestFindAllDuplicatesIgnoresOldArticles(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.New(t)

	a := storagetest.Source(t, repo, "alpha", 0.9)
	b := storagetest.Source(t, repo, "beta", 0.9)
	old := time.Now().Add(-72 * time.Hour)
	storagetest.Article(t, repo, a, titleLaunch, "", old)
	storagetest.Article(t, repo, b, titleEurope, "", old)

	engine := NewEngine(repo, nil, DefaultOptions(), logger.Nop())
	created, err := engine.FindAllDuplicates(ctx, 24)
	if err != nil {
		t.Fatalf("find duplicates: %v", err)
	}
	if created != 0 {
		t.Fatalf("articles outside the window were grouped: %d", created)
	}
}

func TestConfidenceIsClamped(t *testing.T) {
	ctx := context.Background()

	for _, raw := range []float64{1.7, -0.4, math.NaN()} {
		repo := storagetest.New(t)
		seedStory(t, repo)

		engine := NewEngine(repo, ScorerFunc(func([]*models.SourceArticle) float64 { return raw }), DefaultOptions(), logger.Nop())
		if _, err := engine.FindAllDuplicates(ctx, 24); err != nil {
			t.Fatalf("find duplicates: %v", err)
		}

		aggs, _ := repo.ListAggregations(ctx, storage.DefaultAggregationFilter())
		if len(aggs) != 1 {
			t.Fatalf("expected one aggregation, got %d", len(aggs))
		}
		if got := aggs[0].ConfidenceScore; got < 0 || got > 1 {
			t.Fatalf("scorer output %v stored as %v", raw, got)
		}
	}
}

func createAggregation(t *testing.T, repo *gormrepo.Repository, topic string, confidence float64, articles ...*models.SourceArticle) *models.ContentAggregation {
	t.Helper()
	ctx := context.Background()

	agg := &models.ContentAggregation{Topic: topic, ConfidenceScore: confidence, ArticleCount: len(articles)}
	if err := repo.CreateAggregation(ctx, agg); err != nil {
		t.Fatalf("create aggregation: %v", err)
	}
	ids := make([]uint, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
	}
	if err := repo.AssignArticles(ctx, agg.ID, ids); err != nil {
		t.Fatalf("assign: %v", err)
	}
	return agg
}

func TestMergeRelatedAggregations(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.New(t)
	now := time.Now()

	a := storagetest.Source(t, repo, "alpha", 0.9)
	b := storagetest.Source(t, repo, "beta", 0.8)

	big := createAggregation(t, repo, titleLaunch, 0.6,
		storagetest.Article(t, repo, a, titleLaunch, "", now),
		storagetest.Article(t, repo, b, titleLaunched, "", now))
	small := createAggregation(t, repo, titleEurope, 0.4,
		storagetest.Article(t, repo, b, titleEurope, "", now))
	createAggregation(t, repo, titleRates, 0.5,
		storagetest.Article(t, repo, a, titleRates, "", now))

	engine := NewEngine(repo, nil, DefaultOptions(), logger.Nop())
	merged, err := engine.MergeRelatedAggregations(ctx)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged != 1 {
		t.Fatalf("expected 1 merge, got %d", merged)
	}

	absorbed, err := repo.GetAggregationByID(ctx, small.ID)
	if err != nil {
		t.Fatalf("get absorbed: %v", err)
	}
	if absorbed.MergedIntoID == nil || *absorbed.MergedIntoID != big.ID {
		t.Fatalf("absorbed aggregation not linked to target: %+v", absorbed.MergedIntoID)
	}

	target, _ := repo.GetAggregationByID(ctx, big.ID)
	if len(target.Articles) != 3 || target.ArticleCount != 3 {
		t.Fatalf("articles not moved: %d", len(target.Articles))
	}
	if target.ConfidenceScore < 0 || target.ConfidenceScore > 1 {
		t.Fatalf("confidence out of range: %v", target.ConfidenceScore)
	}

	again, err := engine.MergeRelatedAggregations(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second merge should be a no-op, got %d, %v", again, err)
	}
}

func TestGetAggregationStats(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.New(t)

	for _, c := range []float64{0.9, 0.8, 0.6, 0.2} {
		createAggregation(t, repo, "topic", c)
	}
	retired := createAggregation(t, repo, "retired", 0.95)
	keeper := uint(1)
	retired.MergedIntoID = &keeper
	if err := repo.UpdateAggregation(ctx, retired); err != nil {
		t.Fatalf("update: %v", err)
	}

	engine := NewEngine(repo, nil, DefaultOptions(), logger.Nop())
	stats, err := engine.GetAggregationStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.Total != 4 || stats.HighConfidence != 2 || stats.MediumConfidence != 1 {
		t.Fatalf("unexpected buckets: %+v", stats)
	}
	if math.Abs(stats.AvgConfidence-0.625) > 1e-9 {
		t.Fatalf("unexpected average: %v", stats.AvgConfidence)
	}
}

func TestReadyForParaphraseUsesThreshold(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.New(t)

	createAggregation(t, repo, "strong", 0.75)
	createAggregation(t, repo, "weak", 0.74)

	engine := NewEngine(repo, nil, DefaultOptions(), logger.Nop())
	ready, err := engine.ReadyForParaphrase(ctx, 10)
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 1 || ready[0].Topic != "strong" {
		t.Fatalf("expected only the aggregation at threshold, got %d", len(ready))
	}
}
