package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/pkg/logger"
	"github.com/content-engine/pkg/ratelimit"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient calls any OpenAI-compatible /chat/completions endpoint
type OpenAIClient struct {
	http        *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// NewOpenAIClient creates a chat completions client
func NewOpenAIClient(cfg config.OpenAIConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *OpenAIClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIClient{
		http:        &http.Client{Timeout: timeout + 5*time.Second},
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		rateLimiter: limiter,
		log:         log.WithComponent("ai.openai"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Name returns the provider name
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Complete sends a system and user message and returns the first choice
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("openai: api key is empty")
	}
	if err := c.rateLimiter.Wait(ctx, ratelimit.LimiterOpenAI); err != nil {
		return "", fmt.Errorf("rate limit error: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRequest("openai", "chat_completions", start, err)
		return "", fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveRequest("openai", "chat_completions", start, err)
		return "", fmt.Errorf("openai: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiErrorResponse
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
			err = fmt.Errorf("openai: %s", apiErr.Error.Message)
		} else {
			err = fmt.Errorf("openai: unexpected status %d", resp.StatusCode)
		}
		metrics.ObserveRequest("openai", "chat_completions", start, err)
		c.log.Error().Err(err).Int("status", resp.StatusCode).Msg("Chat completion failed")
		return "", err
	}

	var completion chatResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		metrics.ObserveRequest("openai", "chat_completions", start, err)
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	metrics.ObserveRequest("openai", "chat_completions", start, nil)

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai: response has no choices")
	}
	if completion.Usage != nil {
		metrics.ObserveTokens(c.model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
	}

	return completion.Choices[0].Message.Content, nil
}

var _ TextGenerator = (*OpenAIClient)(nil)
