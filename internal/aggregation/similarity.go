package aggregation

import (
	"hash/fnv"
	"math/bits"
	"strings"
	"unicode"
)

// Document is the text used to compare two articles
type Document struct {
	Title   string
	Content string
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "will": {}, "with": {},
}

// Similarity scores two documents in [0,1].
// Titles dominate; content only adds when its simhash is closer than chance.
func Similarity(left, right Document) float64 {
	title := TitleSimilarity(left.Title, right.Title)
	if strings.TrimSpace(left.Content) == "" || strings.TrimSpace(right.Content) == "" {
		return title
	}

	lh, lok := simhash64(left.Content)
	rh, rok := simhash64(right.Content)
	if !lok || !rok {
		return title
	}

	// random texts agree on about half the bits
	hamming := 1 - float64(bits.OnesCount64(lh^rh))/64
	content := (hamming - 0.5) * 2
	if content < 0 {
		content = 0
	}
	return 0.7*title + 0.3*content
}

// TitleSimilarity averages token and trigram Jaccard overlap
func TitleSimilarity(left, right string) float64 {
	return 0.5*jaccard(tokenSet(left), tokenSet(right)) +
		0.5*jaccard(trigramSet(left), trigramSet(right))
}

func normalizeText(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

func tokenize(text string) []string {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil
	}

	parts := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if _, skip := stopwords[p]; skip || p == "" {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

func tokenSet(text string) map[string]struct{} {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

func trigramSet(text string) map[string]struct{} {
	normalized := strings.Join(tokenize(text), " ")
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	if len(runes) < 3 {
		return map[string]struct{}{string(runes): {}}
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(left) + len(right) - intersection
	return float64(intersection) / float64(union)
}

func simhash64(text string) (uint64, bool) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return 0, false
	}

	var bitWeights [64]int
	for _, token := range tokens {
		h := hashToken64(token)
		for bit := 0; bit < 64; bit++ {
			if h&(uint64(1)<<bit) != 0 {
				bitWeights[bit]++
			} else {
				bitWeights[bit]--
			}
		}
	}

	var result uint64
	for bit := 0; bit < 64; bit++ {
		if bitWeights[bit] > 0 {
			result |= uint64(1) << bit
		}
	}
	return result, true
}

func hashToken64(token string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(token))
	return hasher.Sum64()
}
