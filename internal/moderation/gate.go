// Package moderation screens generated posts before they can be scheduled.
package moderation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/pkg/logger"
)

// Flag names reported by Check
const (
	FlagBlockedTerm = "blocked_term"
	FlagTooShort    = "too_short"
	FlagTooLong     = "too_long"
	FlagShouting    = "excessive_uppercase"
	FlagPlaceholder = "placeholder"
	FlagLinks       = "too_many_links"
	FlagRepetition  = "repeated_characters"
	FlagEmptyTitle  = "empty_title"
)

var (
	linkPattern = regexp.MustCompile(`https?://\S+`)

	placeholders = []string{"[insert", "lorem ipsum", "{{", "[your ", "todo:"}
)

// Result is the outcome of moderating one post
type Result struct {
	HasIssues bool     `json:"has_issues"`
	Flags     []string `json:"flags"`
}

// Gate is a binary pass/fail content check
type Gate struct {
	cfg    config.ModerationConfig
	terms  []string
	logger *logger.Logger
}

// NewGate creates a moderation gate from configuration
func NewGate(cfg config.ModerationConfig, log *logger.Logger) *Gate {
	terms := make([]string, 0, len(cfg.BlockedTerms))
	for _, t := range cfg.BlockedTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return &Gate{
		cfg:    cfg,
		terms:  terms,
		logger: log.WithComponent("moderation"),
	}
}

// Check runs every heuristic against the title and body
func (g *Gate) Check(title, content string) Result {
	var flags []string
	add := func(flag string) { flags = append(flags, flag) }

	if strings.TrimSpace(title) == "" {
		add(FlagEmptyTitle)
	}

	text := title + "\n" + content
	lower := strings.ToLower(text)

	for _, term := range g.terms {
		if strings.Contains(lower, term) {
			add(fmt.Sprintf("%s:%s", FlagBlockedTerm, term))
		}
	}

	length := len([]rune(strings.TrimSpace(content)))
	if g.cfg.MinLength > 0 && length < g.cfg.MinLength {
		add(FlagTooShort)
	}
	if g.cfg.MaxLength > 0 && length > g.cfg.MaxLength {
		add(FlagTooLong)
	}

	if g.cfg.MaxUppercaseRatio > 0 && uppercaseRatio(content) > g.cfg.MaxUppercaseRatio {
		add(FlagShouting)
	}

	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			add(FlagPlaceholder)
			break
		}
	}

	if g.cfg.MaxLinks > 0 && len(linkPattern.FindAllString(content, -1)) > g.cfg.MaxLinks {
		add(FlagLinks)
	}

	if longestRun(content) >= 10 {
		add(FlagRepetition)
	}

	return Result{HasIssues: len(flags) > 0, Flags: flags}
}

// Apply moderates the post in place. Flagged posts are held as pending drafts.
func (g *Gate) Apply(post *models.Post) Result {
	res := g.Check(post.Title, post.Content)

	post.ModerationFlags = res.Flags
	if res.HasIssues {
		post.Status = models.PostStatusDraft
		post.ModerationStatus = models.ModerationPending
		metrics.ModerationFlagged.Inc()
		g.logger.Warn().
			Str("title", post.Title).
			Strs("flags", res.Flags).
			Msg("Post held for review")
		return res
	}

	post.ModerationStatus = models.ModerationApproved
	return res
}

// uppercaseRatio is the share of letters that are uppercase
func uppercaseRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	// short snippets are mostly acronyms
	if letters < 20 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// longestRun is the longest run of one repeated non-space character
func longestRun(s string) int {
	longest, run := 0, 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev && !unicode.IsSpace(r) {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = r
	}
	return longest
}
