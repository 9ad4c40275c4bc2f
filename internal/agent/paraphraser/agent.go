package paraphraser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/content-engine/internal/aggregation"
	"github.com/content-engine/internal/ai"
	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/moderation"
	"github.com/content-engine/internal/queue"
	"github.com/content-engine/internal/storage"
	"github.com/content-engine/pkg/logger"
)

// maxSources caps how many reports go into one paraphrase prompt
const maxSources = 5

// Agent turns confident aggregations into curated draft posts
type Agent struct {
	repository storage.Repository
	engine     *aggregation.Engine
	writer     *ai.Writer
	gate       *moderation.Gate
	creatorID  uint
	log        *logger.Logger
}

// NewAgent creates a new paraphraser agent
func NewAgent(
	repository storage.Repository,
	engine *aggregation.Engine,
	writer *ai.Writer,
	gate *moderation.Gate,
	creatorID uint,
	log *logger.Logger,
) *Agent {
	return &Agent{
		repository: repository,
		engine:     engine,
		writer:     writer,
		gate:       gate,
		creatorID:  creatorID,
		log:        log.WithComponent("paraphraser"),
	}
}

// Result contains the results of a paraphrase run
type Result struct {
	Considered int
	Created    int
	Flagged    int
	Failed     int
	Posts      []*models.Post
	Errors     []error
	Duration   time.Duration
}

// Run curates up to limit aggregations that passed the confidence gate
func (a *Agent) Run(ctx context.Context, limit int, dryRun bool) (*Result, error) {
	startTime := time.Now()
	result := &Result{}

	aggs, err := a.engine.ReadyForParaphrase(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregations: %w", err)
	}
	result.Considered = len(aggs)

	for _, agg := range aggs {
		post, mod, err := a.Curate(ctx, agg, dryRun)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("aggregation %d: %w", agg.ID, err))
			a.log.WithAggregationID(agg.ID).Error().Err(err).Msg("Failed to curate aggregation")
			continue
		}

		result.Created++
		if mod.HasIssues {
			result.Flagged++
		}
		result.Posts = append(result.Posts, post)
	}

	result.Duration = time.Since(startTime)

	a.log.Info().
		Int("considered", result.Considered).
		Int("created", result.Created).
		Int("flagged", result.Flagged).
		Int("failed", result.Failed).
		Bool("dry_run", dryRun).
		Dur("duration", result.Duration).
		Msg("Paraphrase completed")

	return result, nil
}

// Curate paraphrases one aggregation into a moderated draft and closes the aggregation
func (a *Agent) Curate(ctx context.Context, agg *models.ContentAggregation, dryRun bool) (*models.Post, moderation.Result, error) {
	log := a.log.WithAggregationID(agg.ID)

	if !agg.ReadyForParaphrase(a.engine.Threshold()) {
		return nil, moderation.Result{}, fmt.Errorf("aggregation is not eligible (confidence %.2f, curated %t)", agg.ConfidenceScore, agg.IsCurated)
	}
	if len(agg.Articles) == 0 {
		return nil, moderation.Result{}, fmt.Errorf("aggregation has no articles")
	}

	excerpts := make([]ai.SourceExcerpt, 0, maxSources)
	urls := make([]string, 0, maxSources)
	for i := range agg.Articles {
		if len(excerpts) == maxSources {
			break
		}
		art := &agg.Articles[i]
		excerpts = append(excerpts, ai.SourceExcerpt{Title: art.Title, Content: art.Content})
		if art.URL != "" {
			urls = append(urls, art.URL)
		}
	}

	generated, err := a.writer.Paraphrase(ctx, agg.Topic, excerpts)
	if err != nil {
		return nil, moderation.Result{}, err
	}

	aggID := agg.ID
	post := &models.Post{
		CreatorID:     a.creatorID,
		AggregationID: &aggID,
		Title:         generated.Title,
		Content:       generated.Content,
		Excerpt:       generated.Excerpt,
		Tags:          generated.Tags,
		Topic:         agg.Topic,
		Status:        models.PostStatusDraft,
		IsCurated:     true,
		AIMetadata:    metadata(agg, urls),
	}
	mod := a.gate.Apply(post)

	if dryRun {
		log.Info().Str("title", post.Title).Bool("flagged", mod.HasIssues).Msg("Dry run, not saving curated post")
		return post, mod, nil
	}

	if err := a.repository.CuratePost(ctx, agg, post); err != nil {
		return nil, mod, err
	}

	metrics.PostsCreated.WithLabelValues("curated").Inc()
	log.Info().
		Uint("post_id", post.ID).
		Str("title", post.Title).
		Str("moderation", string(post.ModerationStatus)).
		Msg("Created curated draft")

	return post, mod, nil
}

func metadata(agg *models.ContentAggregation, urls []string) datatypes.JSON {
	raw, err := json.Marshal(map[string]interface{}{
		"aggregation_id": agg.ID,
		"confidence":     agg.ConfidenceScore,
		"source_count":   agg.SourceCount,
		"sources":        urls,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// EnqueueReady dispatches one paraphrase job per eligible aggregation
func (a *Agent) EnqueueReady(ctx context.Context, q queue.Queue, limit int) (int, error) {
	aggs, err := a.engine.ReadyForParaphrase(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load aggregations: %w", err)
	}

	queued := 0
	for _, agg := range aggs {
		if err := q.Enqueue(ctx, queue.NewParaphraseJob(agg.ID)); err != nil {
			a.log.WithAggregationID(agg.ID).Error().Err(err).Msg("Failed to enqueue paraphrase")
			continue
		}
		queued++
	}
	return queued, nil
}

// Kind implements queue.Handler
func (a *Agent) Kind() queue.Kind {
	return queue.KindParaphrase
}

// Handle curates the aggregation named by the job. Aggregations curated in the
// meantime are skipped.
func (a *Agent) Handle(ctx context.Context, job queue.Job) error {
	agg, err := a.repository.GetAggregationByID(ctx, job.Paraphrase.AggregationID)
	if err != nil {
		return err
	}
	if !agg.ReadyForParaphrase(a.engine.Threshold()) {
		a.log.WithAggregationID(agg.ID).Debug().Msg("Aggregation no longer eligible, skipping")
		return nil
	}
	_, _, err = a.Curate(ctx, agg, false)
	if errors.Is(err, storage.ErrAggregationClosed) {
		a.log.WithAggregationID(agg.ID).Info().Msg("Aggregation closed while curating, skipping")
		return nil
	}
	return err
}
