package aggregation

import (
	"github.com/content-engine/internal/models"
)

// Scorer rates how confident we are that a group of articles is one real story
type Scorer interface {
	Score(articles []*models.SourceArticle) float64
}

// ScorerFunc adapts a function to Scorer
type ScorerFunc func(articles []*models.SourceArticle) float64

// Score calls f
func (f ScorerFunc) Score(articles []*models.SourceArticle) float64 {
	return f(articles)
}

// HeuristicScorer weighs corroboration, source trust and textual cohesion
type HeuristicScorer struct {
	// CorroborationTarget is the number of distinct sources that counts as fully corroborated
	CorroborationTarget int
	CorroborationWeight float64
	TrustWeight         float64
	CohesionWeight      float64
	// DefaultTrust applies to articles whose source is not loaded
	DefaultTrust float64
}

// NewHeuristicScorer returns the default weighting
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{
		CorroborationTarget: 3,
		CorroborationWeight: 0.4,
		TrustWeight:         0.35,
		CohesionWeight:      0.25,
		DefaultTrust:        0.5,
	}
}

// Score implements Scorer
func (h *HeuristicScorer) Score(articles []*models.SourceArticle) float64 {
	if len(articles) == 0 {
		return 0
	}

	trustBySource := make(map[uint]float64)
	for _, a := range articles {
		trust := h.DefaultTrust
		if a.Source != nil {
			trust = a.Source.Trust()
		}
		trustBySource[a.SourceID] = trust
	}

	target := h.CorroborationTarget
	if target <= 0 {
		target = 1
	}
	corroboration := Clamp01(float64(len(trustBySource)) / float64(target))

	var trustSum float64
	for _, t := range trustBySource {
		trustSum += t
	}
	trust := trustSum / float64(len(trustBySource))

	return Clamp01(h.CorroborationWeight*corroboration +
		h.TrustWeight*trust +
		h.CohesionWeight*cohesion(articles))
}

// cohesion is the mean pairwise similarity of the group
func cohesion(articles []*models.SourceArticle) float64 {
	if len(articles) < 2 {
		return 0
	}

	var sum float64
	pairs := 0
	for i := 0; i < len(articles); i++ {
		for j := i + 1; j < len(articles); j++ {
			sum += Similarity(documentOf(articles[i]), documentOf(articles[j]))
			pairs++
		}
	}
	return sum / float64(pairs)
}

// Clamp01 bounds v to [0,1]
func Clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func documentOf(a *models.SourceArticle) Document {
	return Document{Title: a.Title, Content: a.Content}
}
