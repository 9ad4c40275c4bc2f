package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/content-engine/internal/models"
)

// Fetcher pulls recent articles from one registered content source
type Fetcher interface {
	// Name returns the registry name of the source
	Name() string

	// Type returns the source type (rss, html)
	Type() models.SourceType

	// Fetch retrieves articles from the source
	Fetch(ctx context.Context) ([]*models.RawArticle, error)
}

// GenerateExternalID creates a stable ID for an article from its source and URL
func GenerateExternalID(sourceName, url string) string {
	data := fmt.Sprintf("%s:%s", sourceName, url)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:16])
}

// CleanText strips markup and collapses whitespace
func CleanText(text string) string {
	if strings.ContainsAny(text, "<>") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err == nil {
			text = doc.Text()
		}
	}
	return strings.Join(strings.Fields(text), " ")
}

// Manager holds the fetchers built from the source registry
type Manager struct {
	fetchers []Fetcher
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{
		fetchers: make([]Fetcher, 0),
	}
}

// Register adds a fetcher to the manager
func (m *Manager) Register(f Fetcher) {
	m.fetchers = append(m.fetchers, f)
}

// Fetchers returns all registered fetchers
func (m *Manager) Fetchers() []Fetcher {
	return m.fetchers
}

// GetByName returns a fetcher by source name
func (m *Manager) GetByName(name string) Fetcher {
	for _, f := range m.fetchers {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// Result is the outcome of fetching one source
type Result struct {
	Source   string
	Articles []*models.RawArticle
	Err      error
}

// FetchAll fetches every source concurrently. One failing source does not affect the others.
func (m *Manager) FetchAll(ctx context.Context) []Result {
	results := make(chan Result, len(m.fetchers))

	for _, f := range m.fetchers {
		go func(f Fetcher) {
			articles, err := f.Fetch(ctx)
			results <- Result{Source: f.Name(), Articles: articles, Err: err}
		}(f)
	}

	out := make([]Result, 0, len(m.fetchers))
	for range m.fetchers {
		out = append(out, <-results)
	}
	return out
}
