package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/social"
	"github.com/content-engine/pkg/logger"
	"github.com/content-engine/pkg/ratelimit"
)

const (
	defaultBaseURL  = "https://api.linkedin.com/v2"
	restliVersion   = "2.0.0"
	linkedinVersion = "202401" // LinkedIn API version
)

// Client handles LinkedIn API requests on behalf of connected accounts
type Client struct {
	httpClient  *http.Client
	baseURL     string
	tokens      *TokenManager
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

var _ social.Publisher = (*Client)(nil)

// NewClient creates a new LinkedIn API client
func NewClient(tokens *TokenManager, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:     defaultBaseURL,
		tokens:      tokens,
		rateLimiter: limiter,
		log:         log.WithComponent("linkedin"),
	}
}

// SetBaseURL points the client at another API host
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

// Platform implements social.Publisher
func (c *Client) Platform() models.Platform {
	return models.PlatformLinkedIn
}

// do performs an HTTP request with proper authentication and headers
func (c *Client) do(ctx context.Context, accessToken, method, path string, body interface{}) (*http.Response, error) {
	if err := c.rateLimiter.Wait(ctx, ratelimit.LimiterLinkedIn); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
		c.log.Debug().Int("body_length", len(data)).Msg("LinkedIn API request body")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Restli-Protocol-Version", restliVersion)
	req.Header.Set("LinkedIn-Version", linkedinVersion)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveRequest("linkedin", path, start, err)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("LinkedIn API response")

	return resp, nil
}

// GetProfile retrieves the profile behind an access token
func (c *Client) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	resp, err := c.do(ctx, accessToken, http.MethodGet, "/userinfo", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get profile: %s - %s", resp.Status, string(body))
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	return &profile, nil
}

// Profile represents a LinkedIn user profile
type Profile struct {
	Sub   string `json:"sub"` // LinkedIn member ID
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuthorURN is the person URN used as post author
func (p *Profile) AuthorURN() string {
	return "urn:li:person:" + p.Sub
}

// LinkedIn content limits
const maxCommentaryLength = 3000

var replacements = strings.NewReplacer(
	"━", "-", "─", "-", "═", "=", "│", "|", "║", "|",
	"•", "-", "◦", "-", "▪", "-", "►", ">", "◄", "<",
	"★", "*", "☆", "*", "✓", "[x]", "✔", "[x]", "✗", "[ ]",
	"→", "->", "←", "<-", "⇒", "=>",
	"\u00A0", " ", "\u2002", " ", "\u2003", " ", "\u2009", " ",
	"\u200B", "", "\u200C", "", "\u200D", "", "\uFEFF", "",
)

// sanitize cleans text the Posts API tends to reject
func sanitize(content string) string {
	content = replacements.Replace(content)

	var result strings.Builder
	result.Grow(len(content))
	for _, r := range content {
		if r == '\n' || r == '\t' || (unicode.IsPrint(r) && r < 0x10000) {
			result.WriteRune(r)
		}
	}

	content = result.String()
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(content)
}

// commentary builds the post text for a share
func commentary(share social.Share) string {
	parts := []string{share.Post.Title}
	if share.Post.Excerpt != "" {
		parts = append(parts, share.Post.Excerpt)
	}
	if share.Video != nil && share.Video.VideoURL != "" {
		parts = append(parts, "Watch: "+share.Video.VideoURL)
	}
	if share.Link != "" {
		parts = append(parts, "Read more: "+share.Link)
	}

	content := sanitize(strings.Join(parts, "\n\n"))
	if len(content) > maxCommentaryLength {
		content = content[:maxCommentaryLength-3] + "..."
	}
	return content
}

// Publish implements social.Publisher and returns the post URN
func (c *Client) Publish(ctx context.Context, account *models.SocialMediaAccount, share social.Share) (string, error) {
	if account.AuthorURN == "" {
		return "", fmt.Errorf("account %d has no author URN", account.ID)
	}

	accessToken, err := c.tokens.ValidToken(ctx, account)
	if err != nil {
		return "", fmt.Errorf("authentication error: %w", err)
	}

	postReq := PostRequest{
		Author:     account.AuthorURN,
		Commentary: commentary(share),
		Visibility: "PUBLIC",
		Distribution: Distribution{
			FeedDistribution:               "MAIN_FEED",
			TargetEntities:                 []interface{}{},
			ThirdPartyDistributionChannels: []interface{}{},
		},
		LifecycleState:            "PUBLISHED",
		IsReshareDisabledByAuthor: false,
	}

	resp, err := c.do(ctx, accessToken, http.MethodPost, "/posts", postReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("Failed to create post")
		return "", fmt.Errorf("failed to create post: %s - %s", resp.Status, string(body))
	}

	postURN := resp.Header.Get("x-restli-id")
	if postURN == "" {
		postURN = resp.Header.Get("Location")
	}

	c.log.Info().
		Uint("account_id", account.ID).
		Uint("post_id", share.Post.ID).
		Str("post_urn", postURN).
		Msg("Post shared to LinkedIn")

	return postURN, nil
}

// PostRequest represents the LinkedIn Posts API request body
type PostRequest struct {
	Author                    string       `json:"author"`
	Commentary                string       `json:"commentary"`
	Visibility                string       `json:"visibility"`
	Distribution              Distribution `json:"distribution"`
	LifecycleState            string       `json:"lifecycleState"`
	IsReshareDisabledByAuthor bool         `json:"isReshareDisabledByAuthor"`
}

// Distribution represents post distribution settings
type Distribution struct {
	FeedDistribution               string        `json:"feedDistribution"`
	TargetEntities                 []interface{} `json:"targetEntities"`
	ThirdPartyDistributionChannels []interface{} `json:"thirdPartyDistributionChannels"`
}
