package monetization

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/pkg/logger"
	"github.com/content-engine/pkg/ratelimit"
)

const defaultPaymentsURL = "https://api.lemonsqueezy.com/v1"

// APIError is an error response from the payment provider
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payments API error (status %d): %s", e.StatusCode, e.Detail)
}

// Store is a payment provider store
type Store struct {
	ID           string `json:"-"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Currency     string `json:"currency"`
	TotalSales   int    `json:"total_sales"`
	TotalRevenue int64  `json:"total_revenue"`
}

// Variant is a purchasable product variant, one per premium tier
type Variant struct {
	ID        string `json:"-"`
	ProductID int    `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	IsSub     bool   `json:"is_subscription"`
	Interval  string `json:"interval"`
	Status    string `json:"status"`
}

// Customer is a paying reader
type Customer struct {
	ID         string `json:"-"`
	StoreID    int    `json:"store_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Status     string `json:"status"`
	MRR        int64  `json:"mrr"`
	TotalSpent int64  `json:"total_revenue_currency"`
}

// Client is a JSON:API client for the payment provider
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// NewClient creates a payments API client
func NewClient(cfg config.PaymentsConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultPaymentsURL
	}
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      cfg.APIKey,
		rateLimiter: limiter,
		log:         log.WithComponent("payments"),
	}
}

type document[T any] struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes T      `json:"attributes"`
	} `json:"data"`
}

type errorDocument struct {
	Errors []struct {
		Status string `json:"status"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// getResource fetches one JSON:API resource and returns its id and attributes
func getResource[T any](ctx context.Context, c *Client, resource, id string) (string, T, error) {
	var zero T
	if err := c.rateLimiter.Wait(ctx, ratelimit.LimiterPayments); err != nil {
		return "", zero, fmt.Errorf("rate limit error: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, resource, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveRequest("payments", resource, start, err)
	if err != nil {
		return "", zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", zero, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Detail: resp.Status}
		var doc errorDocument
		if json.Unmarshal(body, &doc) == nil && len(doc.Errors) > 0 {
			apiErr.Detail = doc.Errors[0].Detail
			if apiErr.Detail == "" {
				apiErr.Detail = doc.Errors[0].Title
			}
		}
		return "", zero, apiErr
	}

	var doc document[T]
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", zero, fmt.Errorf("failed to decode %s: %w", resource, err)
	}

	c.log.Debug().Str("resource", resource).Str("id", doc.Data.ID).Msg("Fetched payments resource")
	return doc.Data.ID, doc.Data.Attributes, nil
}

// GetStore fetches a store by id
func (c *Client) GetStore(ctx context.Context, id string) (*Store, error) {
	resID, store, err := getResource[Store](ctx, c, "stores", id)
	if err != nil {
		return nil, err
	}
	store.ID = resID
	return &store, nil
}

// GetVariant fetches a product variant by id
func (c *Client) GetVariant(ctx context.Context, id string) (*Variant, error) {
	resID, variant, err := getResource[Variant](ctx, c, "variants", id)
	if err != nil {
		return nil, err
	}
	variant.ID = resID
	return &variant, nil
}

// GetCustomer fetches a customer by id
func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	resID, customer, err := getResource[Customer](ctx, c, "customers", id)
	if err != nil {
		return nil, err
	}
	customer.ID = resID
	return &customer, nil
}
