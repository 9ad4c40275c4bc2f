package html

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/content-engine/internal/models"
	"github.com/content-engine/pkg/logger"
)

const listingPage = `
<html><body>
  <div class="story">
    <h2 class="title"><a href="/news/1">First <b>story</b></a></h2>
    <p class="summary">Short  summary
      of the first story.</p>
    <span class="by">Ana</span>
  </div>
  <div class="story">
    <h2 class="title"><a href="https://other.example.com/2">Second story</a></h2>
  </div>
  <div class="story">
    <h2 class="title"><a href="/news/1">First story again</a></h2>
  </div>
  <div class="story">
    <h2 class="title">No link here</h2>
  </div>
</body></html>`

func testSelectors() models.Selectors {
	return models.Selectors{
		Item:    "div.story",
		Title:   "h2.title",
		Link:    "h2.title a",
		Summary: "p.summary",
		Author:  "span.by",
	}
}

func TestParseDocument(t *testing.T) {
	t.Parallel()

	s := New("example", "https://news.example.com/latest", testSelectors(), nil, logger.Nop())

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingPage))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	articles := s.ParseDocument(doc)
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(articles))
	}

	first := articles[0]
	if first.Title != "First story" {
		t.Fatalf("unexpected title: %q", first.Title)
	}
	if first.URL != "https://news.example.com/news/1" {
		t.Fatalf("relative link not resolved: %s", first.URL)
	}
	if first.Content != "Short summary of the first story." {
		t.Fatalf("unexpected summary: %q", first.Content)
	}
	if first.Author != "Ana" {
		t.Fatalf("unexpected author: %q", first.Author)
	}

	if articles[1].URL != "https://other.example.com/2" {
		t.Fatalf("absolute link changed: %s", articles[1].URL)
	}
}

func TestFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	s := New("example", srv.URL+"/latest", testSelectors(), srv.Client(), logger.Nop())

	articles, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(articles))
	}
	if !strings.HasPrefix(articles[0].URL, srv.URL) {
		t.Fatalf("expected link under test server, got %s", articles[0].URL)
	}
}

func TestFetchBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	s := New("example", srv.URL, testSelectors(), srv.Client(), logger.Nop())
	if _, err := s.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestFetchRequiresItemSelector(t *testing.T) {
	t.Parallel()

	s := New("example", "http://127.0.0.1:1", models.Selectors{}, nil, logger.Nop())
	if _, err := s.Fetch(context.Background()); err == nil {
		t.Fatal("expected error without item selector")
	}
}
