package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/content-engine/pkg/logger"
)

// GeneratedPost is a post as returned by the model
type GeneratedPost struct {
	Title      string   `json:"title"`
	Excerpt    string   `json:"excerpt"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	ImageQuery string   `json:"image_query"`
}

// ValidationError reports a generated post missing a required field
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("generated post is missing %s", e.Field)
}

// Validate checks required fields and fills the excerpt when absent
func (p *GeneratedPost) Validate() error {
	p.Title = strings.TrimSpace(p.Title)
	p.Content = strings.TrimSpace(p.Content)

	if p.Title == "" {
		return &ValidationError{Field: "title"}
	}
	if p.Content == "" {
		return &ValidationError{Field: "content"}
	}
	if strings.TrimSpace(p.Excerpt) == "" {
		p.Excerpt = excerptFrom(p.Content, 200)
	}
	return nil
}

func excerptFrom(content string, limit int) string {
	text := strings.Join(strings.Fields(strings.NewReplacer("#", "", "*", "", "_", "").Replace(content)), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:limit])
	if idx := strings.LastIndex(cut, " "); idx > limit/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// OriginalRequest describes an original post to write
type OriginalRequest struct {
	Topic      string
	SeriesName string
	SeriesPart int
}

// SourceExcerpt is one report handed to the paraphraser
type SourceExcerpt struct {
	Title   string
	Content string
}

// Writer produces posts through a TextGenerator
type Writer struct {
	gen        TextGenerator
	brandVoice string
	log        *logger.Logger
}

// NewWriter creates a writer with the publication's brand voice
func NewWriter(gen TextGenerator, brandVoice string, log *logger.Logger) *Writer {
	return &Writer{
		gen:        gen,
		brandVoice: brandVoice,
		log:        log.WithComponent("writer"),
	}
}

// GenerateOriginal writes a new post about a topic
func (w *Writer) GenerateOriginal(ctx context.Context, req OriginalRequest) (*GeneratedPost, error) {
	series := ""
	if req.SeriesName != "" && req.SeriesPart > 0 {
		series = fmt.Sprintf(SeriesContextPrompt, req.SeriesPart, req.SeriesName)
	}

	var post GeneratedPost
	err := CompleteJSON(ctx, w.gen,
		fmt.Sprintf(OriginalPostSystemPrompt, w.brandVoice),
		fmt.Sprintf(OriginalPostUserPrompt, req.Topic, series),
		&post,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate original post: %w", err)
	}
	if err := post.Validate(); err != nil {
		return nil, err
	}

	w.log.Info().
		Str("topic", req.Topic).
		Str("title", post.Title).
		Int("length", len(post.Content)).
		Msg("Generated original post")

	return &post, nil
}

// maxExcerptChars keeps the paraphrase prompt within context limits
const maxExcerptChars = 2500

// Paraphrase writes one article from several reports of the same story
func (w *Writer) Paraphrase(ctx context.Context, topic string, sources []SourceExcerpt) (*GeneratedPost, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("paraphrase needs at least one source")
	}

	var reports strings.Builder
	for i, src := range sources {
		body := src.Content
		if runes := []rune(body); len(runes) > maxExcerptChars {
			body = string(runes[:maxExcerptChars])
		}
		fmt.Fprintf(&reports, "\n[%d] %s\n%s\n", i+1, src.Title, body)
	}

	var post GeneratedPost
	err := CompleteJSON(ctx, w.gen,
		fmt.Sprintf(ParaphraseSystemPrompt, w.brandVoice),
		fmt.Sprintf(ParaphraseUserPrompt, topic, reports.String()),
		&post,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to paraphrase: %w", err)
	}
	if err := post.Validate(); err != nil {
		return nil, err
	}

	w.log.Debug().
		Str("topic", topic).
		Int("sources", len(sources)).
		Msg("Paraphrased aggregation")

	return &post, nil
}
