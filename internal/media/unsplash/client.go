package unsplash

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/pkg/logger"
	"github.com/content-engine/pkg/ratelimit"
)

const defaultBaseURL = "https://api.unsplash.com"

// Photo represents an Unsplash photo
type Photo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	AltDesc     string `json:"alt_description"`
	URLs        URLs   `json:"urls"`
	User        User   `json:"user"`
	Links       Links  `json:"links"`
}

// URLs contains different size URLs for the photo
type URLs struct {
	Raw     string `json:"raw"`
	Full    string `json:"full"`
	Regular string `json:"regular"` // 1080px wide, used as featured image
	Small   string `json:"small"`
	Thumb   string `json:"thumb"`
}

// User represents the photographer
type User struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Links contains API links for the photo
type Links struct {
	Download         string `json:"download"`
	DownloadLocation string `json:"download_location"` // hit to count a use
}

// SearchResult represents the API response for photo search
type SearchResult struct {
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
	Results    []Photo `json:"results"`
}

// Rand picks among search results
type Rand interface {
	Intn(n int) int
}

// Client is the Unsplash API client
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *ratelimit.MultiLimiter
	rand        Rand
	log         *logger.Logger
}

// NewClient creates a new Unsplash client
func NewClient(apiKey string, limiter *ratelimit.MultiLimiter, rnd Rand, log *logger.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: limiter,
		rand:        rnd,
		log:         log.WithComponent("unsplash"),
	}
}

// SetBaseURL points the client at another API host
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	if err := c.rateLimiter.Wait(ctx, ratelimit.LimiterUnsplash); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+c.apiKey)
	req.Header.Set("Accept-Version", "v1")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveRequest("unsplash", "get", start, err)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// SearchPhotos searches for landscape photos matching the query
func (c *Client) SearchPhotos(ctx context.Context, query string, perPage int) ([]Photo, error) {
	if perPage <= 0 {
		perPage = 5
	}
	if perPage > 30 {
		perPage = 30
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("orientation", "landscape")

	c.log.Debug().Str("query", query).Msg("Searching Unsplash photos")

	resp, err := c.get(ctx, c.baseURL+"/search/photos?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.log.Debug().
		Int("total", result.Total).
		Int("returned", len(result.Results)).
		Msg("Search completed")

	return result.Results, nil
}

// Attribution returns the credit line Unsplash requires
func Attribution(photo *Photo) string {
	return fmt.Sprintf("Photo by %s on Unsplash", photo.User.Name)
}

// FindImageURL picks one of the top results for the query and returns its URL.
// The pick is random so repeated topics do not reuse one image.
func (c *Client) FindImageURL(ctx context.Context, query string) (string, error) {
	photos, err := c.SearchPhotos(ctx, query, 10)
	if err != nil {
		return "", err
	}
	if len(photos) == 0 {
		return "", fmt.Errorf("no photos found for query: %s", query)
	}

	idx := 0
	if c.rand != nil {
		idx = c.rand.Intn(len(photos))
	}
	photo := &photos[idx]

	// required by the API guidelines whenever a photo is used
	if photo.Links.DownloadLocation != "" {
		if resp, err := c.get(ctx, photo.Links.DownloadLocation); err == nil {
			resp.Body.Close()
		} else {
			c.log.Debug().Err(err).Str("photo_id", photo.ID).Msg("Download tracking failed")
		}
	}

	imageURL := photo.URLs.Regular
	if imageURL == "" {
		imageURL = photo.URLs.Full
	}

	c.log.Info().
		Str("photo_id", photo.ID).
		Str("attribution", Attribution(photo)).
		Msg("Featured image selected")

	return imageURL, nil
}
