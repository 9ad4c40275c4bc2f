package source

import (
	"context"
	"errors"
	"testing"

	"github.com/content-engine/internal/models"
)

type stubFetcher struct {
	name     string
	articles []*models.RawArticle
	err      error
}

func (s *stubFetcher) Name() string            { return s.name }
func (s *stubFetcher) Type() models.SourceType { return models.SourceTypeRSS }
func (s *stubFetcher) Fetch(ctx context.Context) ([]*models.RawArticle, error) {
	return s.articles, s.err
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	m := NewManager()
	m.Register(&stubFetcher{name: "ok", articles: []*models.RawArticle{{Title: "a"}, {Title: "b"}}})
	m.Register(&stubFetcher{name: "broken", err: errors.New("timeout")})

	results := m.FetchAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Source] = r
	}
	if len(byName["ok"].Articles) != 2 || byName["ok"].Err != nil {
		t.Fatalf("healthy source affected: %+v", byName["ok"])
	}
	if byName["broken"].Err == nil {
		t.Fatal("expected error from broken source")
	}
}

func TestGenerateExternalIDStable(t *testing.T) {
	a := GenerateExternalID("feed", "https://x/1")
	b := GenerateExternalID("feed", "https://x/1")
	c := GenerateExternalID("other", "https://x/1")
	if a != b {
		t.Fatal("same input produced different ids")
	}
	if a == c {
		t.Fatal("different sources produced the same id")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
}

func TestCleanText(t *testing.T) {
	got := CleanText("<p>Hello <b>world</b></p>\n\n  again")
	if got != "Hello world again" {
		t.Fatalf("unexpected: %q", got)
	}
}
