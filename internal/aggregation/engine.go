package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/storage"
	"github.com/content-engine/pkg/logger"
)

// Options tunes duplicate detection
type Options struct {
	// SimilarityThreshold is the minimum article similarity to treat two reports as one story
	SimilarityThreshold float64
	// MergeThreshold is the minimum topic similarity to merge two aggregations
	MergeThreshold float64
	// ConfidenceThreshold gates paraphrasing and the high-confidence bucket
	ConfidenceThreshold float64
}

// DefaultOptions returns the production thresholds
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: 0.35,
		MergeThreshold:      0.5,
		ConfidenceThreshold: models.DefaultConfidenceThreshold,
	}
}

// Stats summarizes aggregation confidence
type Stats struct {
	Total            int64   `json:"total"`
	HighConfidence   int64   `json:"high_confidence"`
	MediumConfidence int64   `json:"medium_confidence"`
	AvgConfidence    float64 `json:"avg_confidence"`
}

// Engine groups scraped articles into aggregations
type Engine struct {
	repo   storage.Repository
	scorer Scorer
	opts   Options
	now    func() time.Time
	log    *logger.Logger
}

// NewEngine creates an aggregation engine. A nil scorer uses the heuristic scorer.
func NewEngine(repo storage.Repository, scorer Scorer, opts Options, log *logger.Logger) *Engine {
	if scorer == nil {
		scorer = NewHeuristicScorer()
	}
	return &Engine{
		repo:   repo,
		scorer: scorer,
		opts:   opts,
		now:    time.Now,
		log:    log.WithComponent("aggregation"),
	}
}

// Threshold returns the paraphrase confidence gate
func (e *Engine) Threshold() float64 {
	return e.opts.ConfidenceThreshold
}

// FindAllDuplicates clusters unprocessed articles fetched in the last hours.
// Articles join an open aggregation when they match one, otherwise they are
// grouped with each other; only groups of two or more become aggregations.
// Articles left alone stay unprocessed so a later report can still match them.
// Returns the number of aggregations created.
func (e *Engine) FindAllDuplicates(ctx context.Context, hours int) (int, error) {
	if hours <= 0 {
		hours = 24
	}
	since := e.now().Add(-time.Duration(hours) * time.Hour)

	articles, err := e.repo.ListArticles(ctx, storage.ArticleFilter{
		Processed:    storage.Ptr(false),
		FetchedSince: &since,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load articles: %w", err)
	}
	if len(articles) == 0 {
		e.log.Debug().Int("hours", hours).Msg("No unprocessed articles")
		return 0, nil
	}

	open, err := e.repo.ListAggregations(ctx, storage.AggregationFilter{
		OpenOnly:     true,
		CreatedSince: &since,
		OrderBy:      "created_at",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load open aggregations: %w", err)
	}

	joined := 0
	touched := make(map[uint]*models.ContentAggregation)
	var groups [][]*models.SourceArticle

	for _, article := range articles {
		if agg := e.bestAggregation(article, open); agg != nil {
			if err := e.repo.AssignArticles(ctx, agg.ID, []uint{article.ID}); err != nil {
				e.log.Error().Err(err).Uint("article_id", article.ID).Msg("Failed to attach article")
				continue
			}
			agg.Articles = append(agg.Articles, *article)
			touched[agg.ID] = agg
			joined++
			continue
		}

		placed := false
		for i, group := range groups {
			if e.matchesGroup(article, group) {
				groups[i] = append(group, article)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []*models.SourceArticle{article})
		}
	}

	for _, agg := range touched {
		e.refresh(agg)
		if err := e.repo.UpdateAggregation(ctx, agg); err != nil {
			e.log.Error().Err(err).Uint("aggregation_id", agg.ID).Msg("Failed to rescore aggregation")
		}
	}

	created := 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}

		agg := &models.ContentAggregation{Topic: group[0].Title}
		for _, a := range group {
			agg.Articles = append(agg.Articles, *a)
		}
		e.refresh(agg)

		if err := e.repo.CreateAggregation(ctx, agg); err != nil {
			e.log.Error().Err(err).Str("topic", agg.Topic).Msg("Failed to create aggregation")
			continue
		}
		if err := e.repo.AssignArticles(ctx, agg.ID, articleIDs(group)); err != nil {
			e.log.Error().Err(err).Uint("aggregation_id", agg.ID).Msg("Failed to attach articles")
			continue
		}

		created++
		metrics.AggregationsCreated.Inc()
		e.log.WithAggregationID(agg.ID).Info().
			Str("topic", agg.Topic).
			Int("articles", agg.ArticleCount).
			Int("sources", agg.SourceCount).
			Float64("confidence", agg.ConfidenceScore).
			Msg("Created aggregation")
	}

	e.log.Info().
		Int("scanned", len(articles)).
		Int("created", created).
		Int("joined", joined).
		Msg("Duplicate detection finished")

	return created, nil
}

// MergeRelatedAggregations folds open aggregations about the same topic into
// the larger one. Returns the number of aggregations absorbed.
func (e *Engine) MergeRelatedAggregations(ctx context.Context) (int, error) {
	open, err := e.repo.ListAggregations(ctx, storage.AggregationFilter{
		OpenOnly: true,
		OrderBy:  "created_at",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load open aggregations: %w", err)
	}

	merged := 0
	absorbed := make(map[uint]bool)

	for i := 0; i < len(open); i++ {
		if absorbed[open[i].ID] {
			continue
		}
		for j := i + 1; j < len(open); j++ {
			if absorbed[open[j].ID] || absorbed[open[i].ID] {
				continue
			}
			if TitleSimilarity(open[i].Topic, open[j].Topic) < e.opts.MergeThreshold {
				continue
			}

			target, victim := open[i], open[j]
			if len(victim.Articles) > len(target.Articles) {
				target, victim = victim, target
			}

			target.Articles = append(target.Articles, victim.Articles...)
			e.refresh(target)

			if err := e.repo.MergeAggregations(ctx, target, victim); err != nil {
				e.log.Error().Err(err).
					Uint("target", target.ID).
					Uint("absorbed", victim.ID).
					Msg("Failed to merge aggregations")
				continue
			}

			absorbed[victim.ID] = true
			merged++
			metrics.AggregationsMerged.Inc()
			e.log.WithAggregationID(target.ID).Info().
				Uint("absorbed", victim.ID).
				Float64("confidence", target.ConfidenceScore).
				Msg("Merged aggregations")
		}
	}

	return merged, nil
}

// GetAggregationStats returns confidence buckets over live aggregations
func (e *Engine) GetAggregationStats(ctx context.Context) (Stats, error) {
	counts, err := e.repo.AggregationCounts(ctx, e.opts.ConfidenceThreshold, models.MediumConfidenceFloor)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count aggregations: %w", err)
	}
	return Stats{
		Total:            counts.Total,
		HighConfidence:   counts.High,
		MediumConfidence: counts.Medium,
		AvgConfidence:    counts.AvgConfidence,
	}, nil
}

// ReadyForParaphrase lists open aggregations above the confidence gate
func (e *Engine) ReadyForParaphrase(ctx context.Context, limit int) ([]*models.ContentAggregation, error) {
	filter := storage.DefaultAggregationFilter()
	filter.MinConfidence = storage.Ptr(e.opts.ConfidenceThreshold)
	filter.Limit = limit
	return e.repo.ListAggregations(ctx, filter)
}

func (e *Engine) bestAggregation(article *models.SourceArticle, open []*models.ContentAggregation) *models.ContentAggregation {
	doc := documentOf(article)

	var best *models.ContentAggregation
	bestScore := e.opts.SimilarityThreshold
	for _, agg := range open {
		score := TitleSimilarity(article.Title, agg.Topic)
		for i := range agg.Articles {
			if s := Similarity(doc, documentOf(&agg.Articles[i])); s > score {
				score = s
			}
		}
		if score >= bestScore {
			best, bestScore = agg, score
		}
	}
	return best
}

func (e *Engine) matchesGroup(article *models.SourceArticle, group []*models.SourceArticle) bool {
	doc := documentOf(article)
	for _, member := range group {
		if Similarity(doc, documentOf(member)) >= e.opts.SimilarityThreshold {
			return true
		}
	}
	return false
}

// refresh recomputes counters and confidence from the loaded articles
func (e *Engine) refresh(agg *models.ContentAggregation) {
	members := make([]*models.SourceArticle, len(agg.Articles))
	sources := make(map[uint]struct{})
	for i := range agg.Articles {
		members[i] = &agg.Articles[i]
		sources[agg.Articles[i].SourceID] = struct{}{}
	}

	agg.ArticleCount = len(members)
	agg.SourceCount = len(sources)
	agg.ConfidenceScore = Clamp01(e.scorer.Score(members))
}

func articleIDs(articles []*models.SourceArticle) []uint {
	ids := make([]uint, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
	}
	return ids
}
