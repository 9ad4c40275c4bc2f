package video

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

// RenderRequest describes the video to produce for a post
type RenderRequest struct {
	VideoID   uint     `json:"video_id"`
	PostID    uint     `json:"post_id"`
	Title     string   `json:"title"`
	Script    string   `json:"script"`
	ImageURL  string   `json:"image_url,omitempty"`
	Platforms []string `json:"platforms,omitempty"`
}

// Renderer turns a post into a hosted video and returns its URL
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
}

// HTTPRenderer calls a rendering service over HTTP
type HTTPRenderer struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// NewHTTPRenderer creates a renderer client for the configured endpoint
func NewHTTPRenderer(cfg config.VideoConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *HTTPRenderer {
	return &HTTPRenderer{
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		baseURL:     strings.TrimRight(cfg.RendererURL, "/"),
		apiKey:      cfg.RendererAPIKey,
		rateLimiter: limiter,
		log:         log.WithComponent("video.renderer"),
	}
}

type renderResponse struct {
	VideoURL string `json:"video_url"`
	Error    string `json:"error"`
}

// Render implements Renderer
func (r *HTTPRenderer) Render(ctx context.Context, req RenderRequest) (string, error) {
	if r.baseURL == "" {
		return "", fmt.Errorf("video renderer url is not configured")
	}
	if err := r.rateLimiter.Wait(ctx, ratelimit.LimiterRenderer); err != nil {
		return "", fmt.Errorf("rate limit error: %w", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	start := time.Now()
	resp, err := r.httpClient.Do(httpReq)
	metrics.ObserveRequest("renderer", "render", start, err)
	if err != nil {
		return "", fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("renderer returned %s: %s", resp.Status, string(body))
	}

	var out renderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode render response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("renderer error: %s", out.Error)
	}
	if out.VideoURL == "" {
		return "", fmt.Errorf("renderer returned no video url")
	}

	r.log.Debug().Uint("video_id", req.VideoID).Str("url", out.VideoURL).Msg("Video rendered")
	return out.VideoURL, nil
}
