package rss

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/source"
	"github.com/content-engine/pkg/logger"
)

// DefaultMaxAge drops feed items older than a week
const DefaultMaxAge = 7 * 24 * time.Hour

// Source fetches articles from an RSS or Atom feed
type Source struct {
	name   string
	url    string
	maxAge time.Duration
	parser *gofeed.Parser
	now    func() time.Time
	log    *logger.Logger
}

// New creates a feed fetcher
func New(name, url string, log *logger.Logger) *Source {
	return &Source{
		name:   name,
		url:    url,
		maxAge: DefaultMaxAge,
		parser: gofeed.NewParser(),
		now:    time.Now,
		log:    log.WithSource(string(models.SourceTypeRSS), name),
	}
}

// Name returns the source name
func (s *Source) Name() string {
	return s.name
}

// Type returns rss
func (s *Source) Type() models.SourceType {
	return models.SourceTypeRSS
}

// Fetch retrieves and normalizes feed items
func (s *Source) Fetch(ctx context.Context) ([]*models.RawArticle, error) {
	s.log.Debug().Str("url", s.url).Msg("Fetching feed")

	feed, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", s.name, err)
	}

	articles := s.convert(feed)

	s.log.Info().
		Int("count", len(articles)).
		Msg("Fetched feed articles")

	return articles, nil
}

func (s *Source) convert(feed *gofeed.Feed) []*models.RawArticle {
	now := s.now()
	articles := make([]*models.RawArticle, 0, len(feed.Items))

	for _, item := range feed.Items {
		publishedAt := now
		if item.PublishedParsed != nil {
			publishedAt = *item.PublishedParsed
			if now.Sub(publishedAt) > s.maxAge {
				continue
			}
		}

		content := item.Content
		if content == "" {
			content = item.Description
		}

		title := source.CleanText(item.Title)
		if title == "" || item.Link == "" {
			continue
		}

		article := &models.RawArticle{
			Title:       title,
			Content:     source.CleanText(content),
			URL:         item.Link,
			PublishedAt: publishedAt,
		}
		if item.Author != nil {
			article.Author = item.Author.Name
		}

		articles = append(articles, article)
	}

	return articles
}

var _ source.Fetcher = (*Source)(nil)
