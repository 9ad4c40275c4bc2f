package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// MultiLimiter keeps one token bucket per external service
type MultiLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewMultiLimiter creates an empty multi-limiter
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// AddLimiter registers a limiter for a service.
// requestsPerSecond is the refill rate, burst the bucket size.
func (m *MultiLimiter) AddLimiter(name string, requestsPerSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Wait blocks until the named limiter allows an event.
// A nil MultiLimiter never blocks.
func (m *MultiLimiter) Wait(ctx context.Context, name string) error {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("limiter %s not found", name)
	}

	return limiter.Wait(ctx)
}

// Allow reports whether an event may happen now
func (m *MultiLimiter) Allow(name string) bool {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()

	if !ok {
		return false
	}

	return limiter.Allow()
}

// Limiter names
const (
	LimiterAnthropic = "anthropic"
	LimiterOpenAI    = "openai"
	LimiterUnsplash  = "unsplash"
	LimiterLinkedIn  = "linkedin"
	LimiterScraper   = "scraper"
	LimiterPayments  = "payments"
	LimiterRenderer  = "renderer"
)

// Rates describes per-service limits, usually taken from config
type Rates struct {
	AnthropicPerMinute int
	OpenAIPerMinute    int
	LinkedInPerDay     int
	ScraperPerSecond   float64
	PaymentsPerMinute  int
	UnsplashPerHour    int
	RendererPerMinute  int
}

// NewDefaultLimiter creates a limiter with conservative built-in rates
func NewDefaultLimiter() *MultiLimiter {
	return NewFromRates(Rates{
		AnthropicPerMinute: 10,
		OpenAIPerMinute:    20,
		LinkedInPerDay:     100,
		ScraperPerSecond:   1,
		PaymentsPerMinute:  60,
		UnsplashPerHour:    50,
		RendererPerMinute:  6,
	})
}

// NewFromRates builds a limiter for every known service
func NewFromRates(r Rates) *MultiLimiter {
	m := NewMultiLimiter()

	m.AddLimiter(LimiterAnthropic, perMinute(r.AnthropicPerMinute, 10), 2)
	m.AddLimiter(LimiterOpenAI, perMinute(r.OpenAIPerMinute, 20), 2)

	linkedIn := r.LinkedInPerDay
	if linkedIn <= 0 {
		linkedIn = 100
	}
	m.AddLimiter(LimiterLinkedIn, float64(linkedIn)/(24*60*60), 5)

	scraper := r.ScraperPerSecond
	if scraper <= 0 {
		scraper = 1
	}
	// feeds are polite at 1 rps, burst lets a run start quickly
	m.AddLimiter(LimiterScraper, scraper, 10)

	m.AddLimiter(LimiterPayments, perMinute(r.PaymentsPerMinute, 60), 5)

	unsplash := r.UnsplashPerHour
	if unsplash <= 0 {
		unsplash = 50
	}
	m.AddLimiter(LimiterUnsplash, float64(unsplash)/3600, 3)

	m.AddLimiter(LimiterRenderer, perMinute(r.RendererPerMinute, 6), 1)

	return m
}

func perMinute(n, fallback int) float64 {
	if n <= 0 {
		n = fallback
	}
	return float64(n) / 60
}
