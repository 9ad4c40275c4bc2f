package aggregation

import (
	"testing"

	"github.com/content-engine/internal/models"
)

func TestTitleSimilarity(t *testing.T) {
	same := TitleSimilarity(titleLaunch, titleLaunch)
	if same < 0.999 {
		t.Fatalf("identical titles scored %v", same)
	}

	related := TitleSimilarity(titleLaunch, titleEurope)
	unrelated := TitleSimilarity(titleLaunch, titleRates)
	if related < DefaultOptions().SimilarityThreshold {
		t.Fatalf("related titles below threshold: %v", related)
	}
	if unrelated >= DefaultOptions().SimilarityThreshold {
		t.Fatalf("unrelated titles above threshold: %v", unrelated)
	}
	if TitleSimilarity("", titleLaunch) != 0 {
		t.Fatal("empty title should score 0")
	}
}

func TestSimilarityContentBonus(t *testing.T) {
	body := "The scooter ships with a removable battery, a range of forty miles and a price of nine hundred dollars."
	withBody := Similarity(
		Document{Title: titleLaunch, Content: body},
		Document{Title: titleEurope, Content: body},
	)
	titleOnly := Similarity(
		Document{Title: titleLaunch},
		Document{Title: titleEurope},
	)
	if withBody <= 0 || withBody > 1 {
		t.Fatalf("similarity out of range: %v", withBody)
	}
	if titleOnly != TitleSimilarity(titleLaunch, titleEurope) {
		t.Fatal("missing content should fall back to title similarity")
	}
}

func TestHeuristicScorer(t *testing.T) {
	s := NewHeuristicScorer()

	if s.Score(nil) != 0 {
		t.Fatal("empty group should score 0")
	}

	trusted := &models.ContentSource{TrustLevel: 1}
	group := []*models.SourceArticle{
		{SourceID: 1, Source: trusted, Title: titleLaunch},
		{SourceID: 2, Source: trusted, Title: titleEurope},
		{SourceID: 3, Source: trusted, Title: titleLaunched},
	}
	full := s.Score(group)
	if full < models.DefaultConfidenceThreshold || full > 1 {
		t.Fatalf("three trusted cohesive sources scored %v", full)
	}

	single := s.Score(group[:1])
	if single >= full {
		t.Fatalf("uncorroborated article should score lower: %v >= %v", single, full)
	}

	sameSource := []*models.SourceArticle{
		{SourceID: 1, Source: trusted, Title: titleLaunch},
		{SourceID: 1, Source: trusted, Title: titleEurope},
	}
	if s.Score(sameSource) >= full {
		t.Fatal("repeats from one source should not count as corroboration")
	}
}
