package html

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/source"
	"github.com/content-engine/pkg/logger"
)

const userAgent = "content-engine/1.0 (+https://github.com/content-engine)"

// Source scrapes article listings from an HTML page using CSS selectors
type Source struct {
	name       string
	pageURL    string
	selectors  models.Selectors
	httpClient *http.Client
	now        func() time.Time
	log        *logger.Logger
}

// New creates an HTML listing fetcher
func New(name, pageURL string, selectors models.Selectors, httpClient *http.Client, log *logger.Logger) *Source {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Source{
		name:       name,
		pageURL:    pageURL,
		selectors:  selectors,
		httpClient: httpClient,
		now:        time.Now,
		log:        log.WithSource(string(models.SourceTypeHTML), name),
	}
}

// Name returns the source name
func (s *Source) Name() string {
	return s.name
}

// Type returns html
func (s *Source) Type() models.SourceType {
	return models.SourceTypeHTML
}

// Fetch downloads the listing page and extracts articles
func (s *Source) Fetch(ctx context.Context) ([]*models.RawArticle, error) {
	if s.selectors.Item == "" {
		return nil, fmt.Errorf("source %s has no item selector", s.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", s.pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	articles := s.ParseDocument(doc)

	s.log.Info().
		Int("count", len(articles)).
		Msg("Scraped listing page")

	return articles, nil
}

// ParseDocument extracts articles from a parsed listing page
func (s *Source) ParseDocument(doc *goquery.Document) []*models.RawArticle {
	base, _ := url.Parse(s.pageURL)
	now := s.now()

	var articles []*models.RawArticle
	seen := make(map[string]bool)

	doc.Find(s.selectors.Item).Each(func(i int, item *goquery.Selection) {
		titleSel := item
		if s.selectors.Title != "" {
			titleSel = item.Find(s.selectors.Title).First()
		}
		title := source.CleanText(titleSel.Text())

		linkSel := item
		if s.selectors.Link != "" {
			linkSel = item.Find(s.selectors.Link).First()
		} else if !item.Is("a") {
			linkSel = item.Find("a").First()
		}
		href, ok := linkSel.Attr("href")
		if !ok || title == "" {
			s.log.Debug().Int("index", i).Msg("Skipping item without title or link")
			return
		}

		link := resolve(base, strings.TrimSpace(href))
		if seen[link] {
			return
		}
		seen[link] = true

		article := &models.RawArticle{
			Title:       title,
			URL:         link,
			PublishedAt: now,
		}
		if s.selectors.Summary != "" {
			article.Content = source.CleanText(item.Find(s.selectors.Summary).Text())
		}
		if s.selectors.Author != "" {
			article.Author = strings.TrimSpace(item.Find(s.selectors.Author).First().Text())
		}

		articles = append(articles, article)
	})

	return articles
}

func resolve(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

var _ source.Fetcher = (*Source)(nil)
