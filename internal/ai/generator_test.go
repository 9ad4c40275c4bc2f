package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/pkg/logger"
)

type stubGenerator struct {
	reply  string
	err    error
	system string
	user   string
}

func (s *stubGenerator) Name() string { return "stub" }

func (s *stubGenerator) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	s.system = systemPrompt
	s.user = userMessage
	return s.reply, s.err
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose around", "Here you go: {\"a\":{\"b\":2}} hope it helps", `{"a":{"b":2}}`, false},
		{"no object", "sorry, I cannot", "", true},
		{"reversed braces", "} oops {", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrNoJSON) {
					t.Fatalf("expected ErrNoJSON, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateOriginal(t *testing.T) {
	gen := &stubGenerator{reply: "```json\n" + `{"title":" Edge AI ","content":"Body of the post.","tags":["ai"],"image_query":"chips"}` + "\n```"}
	w := NewWriter(gen, "friendly", logger.Nop())

	post, err := w.GenerateOriginal(context.Background(), OriginalRequest{Topic: "edge ai", SeriesName: "Chips", SeriesPart: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if post.Title != "Edge AI" {
		t.Fatalf("title not trimmed: %q", post.Title)
	}
	if post.Excerpt == "" {
		t.Fatal("excerpt should be derived from content")
	}
	if !strings.Contains(gen.user, `part 2 of the series "Chips"`) {
		t.Fatalf("series context missing from prompt: %s", gen.user)
	}
	if !strings.Contains(gen.system, "friendly") || !strings.Contains(gen.system, "Respond ONLY with valid JSON") {
		t.Fatalf("system prompt incomplete: %s", gen.system)
	}
}

func TestGenerateOriginalMissingField(t *testing.T) {
	gen := &stubGenerator{reply: `{"title":"Only a title"}`}
	w := NewWriter(gen, "", logger.Nop())

	_, err := w.GenerateOriginal(context.Background(), OriginalRequest{Topic: "x"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "content" {
		t.Fatalf("expected missing content validation error, got %v", err)
	}
}

func TestParaphraseIncludesSources(t *testing.T) {
	gen := &stubGenerator{reply: `{"title":"T","content":"C","excerpt":"E"}`}
	w := NewWriter(gen, "", logger.Nop())

	_, err := w.Paraphrase(context.Background(), "chip export rules", []SourceExcerpt{
		{Title: "Report one", Content: "first"},
		{Title: "Report two", Content: "second"},
	})
	if err != nil {
		t.Fatalf("paraphrase: %v", err)
	}
	if !strings.Contains(gen.user, "[1] Report one") || !strings.Contains(gen.user, "[2] Report two") {
		t.Fatalf("sources missing from prompt: %s", gen.user)
	}

	if _, err := w.Paraphrase(context.Background(), "empty", nil); err == nil {
		t.Fatal("expected error without sources")
	}
}

func TestParaphraseTruncatesByRune(t *testing.T) {
	gen := &stubGenerator{reply: `{"title":"T","content":"C","excerpt":"E"}`}
	w := NewWriter(gen, "", logger.Nop())

	long := strings.Repeat("ü", maxExcerptChars+50)
	if _, err := w.Paraphrase(context.Background(), "umlauts", []SourceExcerpt{{Title: "Bericht", Content: long}}); err != nil {
		t.Fatalf("paraphrase: %v", err)
	}
	if !utf8.ValidString(gen.user) {
		t.Fatal("prompt contains a split rune")
	}
	if got := strings.Count(gen.user, "ü"); got != maxExcerptChars {
		t.Fatalf("expected %d runes of the report, got %d", maxExcerptChars, got)
	}
}

func TestCompleteJSONPropagatesError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("503")}
	var out map[string]interface{}
	if err := CompleteJSON(context.Background(), gen, "s", "u", &out); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing auth header")
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "m"}, nil, logger.Nop())
	got, err := c.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "hello" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestOpenAIClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(config.OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, nil, logger.Nop())
	_, err := c.Complete(context.Background(), "s", "u")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected api error message, got %v", err)
	}
}
