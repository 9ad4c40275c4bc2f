package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/pkg/logger"
	"github.com/content-engine/pkg/ratelimit"
)

// TextGenerator is any chat-style LLM backend
type TextGenerator interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// ErrNoJSON is returned when a reply contains no JSON object
var ErrNoJSON = errors.New("response contains no JSON object")

const jsonInstruction = "\n\nIMPORTANT: Respond ONLY with valid JSON. No markdown, no explanation, just the JSON object."

// NewGenerator builds the generator selected by ai.provider
func NewGenerator(cfg *config.Config, limiter *ratelimit.MultiLimiter, log *logger.Logger) (TextGenerator, error) {
	switch cfg.AI.Provider {
	case "", "anthropic":
		return NewClient(cfg.Anthropic, limiter, log), nil
	case "openai":
		return NewOpenAIClient(cfg.OpenAI, limiter, log), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
	}
}

// ExtractJSON returns the outermost {...} span of a model reply.
// Models often wrap JSON in markdown fences or add a sentence before it.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)

	startIdx := strings.Index(response, "{")
	if startIdx == -1 {
		return "", ErrNoJSON
	}

	endIdx := strings.LastIndex(response, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", ErrNoJSON
	}

	return response[startIdx : endIdx+1], nil
}

// CompleteJSON asks for a JSON reply and decodes it into out
func CompleteJSON(ctx context.Context, gen TextGenerator, systemPrompt, userMessage string, out interface{}) error {
	response, err := gen.Complete(ctx, systemPrompt+jsonInstruction, userMessage)
	if err != nil {
		return err
	}

	raw, err := ExtractJSON(response)
	if err != nil {
		return fmt.Errorf("%s: %w", gen.Name(), err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%s: failed to decode JSON response: %w", gen.Name(), err)
	}
	return nil
}
