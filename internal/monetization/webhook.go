package monetization

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/storage"
	"github.com/content-engine/pkg/logger"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body
const SignatureHeader = "X-Signature"

const maxWebhookBody = 1 << 20

// ErrInvalidSignature is returned when the webhook signature does not match
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Webhook outcomes, also used as metric labels
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeError     = "error"
)

// Sign returns the hex HMAC-SHA256 of body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex signature in constant time
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// WebhookEvent is a payment provider event
type WebhookEvent struct {
	Meta struct {
		EventName  string            `json:"event_name"`
		CustomData map[string]string `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string          `json:"id"`
		Type       string          `json:"type"`
		Attributes json.RawMessage `json:"attributes"`
	} `json:"data"`
}

type subscriptionAttributes struct {
	CustomerID int        `json:"customer_id"`
	VariantID  int        `json:"variant_id"`
	UserEmail  string     `json:"user_email"`
	Status     string     `json:"status"`
	RenewsAt   *time.Time `json:"renews_at"`
	EndsAt     *time.Time `json:"ends_at"`
}

type invoiceAttributes struct {
	SubscriptionID int    `json:"subscription_id"`
	Total          int64  `json:"total"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
}

type orderAttributes struct {
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// WebhookHandler turns payment events into subscriptions and earnings
type WebhookHandler struct {
	repository storage.Repository
	earnings   *Service
	config     config.PaymentsConfig
	creatorID  uint
	log        *logger.Logger
}

// NewWebhookHandler creates a webhook handler crediting creatorID unless the event names one
func NewWebhookHandler(repository storage.Repository, earnings *Service, paymentsConfig config.PaymentsConfig, creatorID uint, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		repository: repository,
		earnings:   earnings,
		config:     paymentsConfig,
		creatorID:  creatorID,
		log:        log.WithComponent("webhooks"),
	}
}

// ServeHTTP verifies and processes one webhook delivery
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.config.WebhookSecret, body, r.Header.Get(SignatureHeader)) {
		metrics.WebhooksReceived.WithLabelValues("unknown", "invalid_signature").Inc()
		h.log.Warn().Str("remote", r.RemoteAddr).Msg("Rejected webhook with bad signature")
		http.Error(w, ErrInvalidSignature.Error(), http.StatusUnauthorized)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	outcome, err := h.Process(r.Context(), &event)
	metrics.WebhooksReceived.WithLabelValues(event.Meta.EventName, outcome).Inc()
	if err != nil {
		h.log.Error().Err(err).Str("event", event.Meta.EventName).Msg("Webhook processing failed")
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": outcome})
}

// Process applies one event and returns its outcome
func (h *WebhookHandler) Process(ctx context.Context, event *WebhookEvent) (string, error) {
	log := h.log.With().Str("event", event.Meta.EventName).Str("data_id", event.Data.ID).Logger()

	var (
		outcome string
		err     error
	)
	switch event.Meta.EventName {
	case "subscription_created", "subscription_updated", "subscription_cancelled",
		"subscription_resumed", "subscription_expired":
		outcome, err = h.handleSubscription(ctx, event)
	case "subscription_payment_success":
		outcome, err = h.handleInvoice(ctx, event)
	case "order_created":
		outcome, err = h.handleOrder(ctx, event)
	case "order_refunded":
		outcome, err = h.handleRefund(ctx, event)
	default:
		log.Debug().Msg("Ignoring webhook event")
		return OutcomeIgnored, nil
	}

	if err != nil {
		return OutcomeError, err
	}
	log.Info().Str("outcome", outcome).Msg("Webhook processed")
	return outcome, nil
}

// creatorFor reads the creator from custom data, falling back to the default
func (h *WebhookHandler) creatorFor(event *WebhookEvent) uint {
	if raw, ok := event.Meta.CustomData["creator_id"]; ok {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id > 0 {
			return uint(id)
		}
	}
	return h.creatorID
}

func subscriptionStatus(providerStatus string) models.SubscriptionStatus {
	switch providerStatus {
	case "cancelled":
		return models.SubscriptionCancelled
	case "expired", "unpaid":
		return models.SubscriptionExpired
	default: // active, on_trial, past_due, paused
		return models.SubscriptionActive
	}
}

func (h *WebhookHandler) handleSubscription(ctx context.Context, event *WebhookEvent) (string, error) {
	var attrs subscriptionAttributes
	if err := json.Unmarshal(event.Data.Attributes, &attrs); err != nil {
		return OutcomeError, fmt.Errorf("invalid subscription attributes: %w", err)
	}

	variantID := strconv.Itoa(attrs.VariantID)
	sub := &models.Subscription{
		ExternalID:      event.Data.ID,
		CreatorID:       h.creatorFor(event),
		CustomerID:      strconv.Itoa(attrs.CustomerID),
		SubscriberEmail: attrs.UserEmail,
		VariantID:       variantID,
		Tier:            h.config.VariantTiers[variantID],
		Status:          subscriptionStatus(attrs.Status),
		RenewsAt:        attrs.RenewsAt,
		EndsAt:          attrs.EndsAt,
	}
	if err := h.repository.SaveSubscription(ctx, sub); err != nil {
		return OutcomeError, fmt.Errorf("failed to save subscription: %w", err)
	}
	return OutcomeProcessed, nil
}

func (h *WebhookHandler) handleInvoice(ctx context.Context, event *WebhookEvent) (string, error) {
	var attrs invoiceAttributes
	if err := json.Unmarshal(event.Data.Attributes, &attrs); err != nil {
		return OutcomeError, fmt.Errorf("invalid invoice attributes: %w", err)
	}
	if attrs.Status != "" && attrs.Status != "paid" {
		return OutcomeIgnored, nil
	}

	earning, created, err := h.earnings.RecordEarning(ctx, EarningInput{
		CreatorID:   h.creatorFor(event),
		Source:      models.EarningSubscription,
		AmountCents: attrs.Total,
		Currency:    attrs.Currency,
		ExternalRef: "invoice:" + event.Data.ID,
		Description: fmt.Sprintf("subscription %d payment", attrs.SubscriptionID),
	})
	if err != nil {
		return OutcomeError, err
	}
	if !created {
		return OutcomeDuplicate, nil
	}

	// the provider already captured the money
	if _, err := h.earnings.SettleEarning(ctx, earning.ID, models.LedgerCompleted); err != nil {
		return OutcomeError, err
	}
	return OutcomeProcessed, nil
}

func (h *WebhookHandler) handleOrder(ctx context.Context, event *WebhookEvent) (string, error) {
	var attrs orderAttributes
	if err := json.Unmarshal(event.Data.Attributes, &attrs); err != nil {
		return OutcomeError, fmt.Errorf("invalid order attributes: %w", err)
	}
	if attrs.Status != "" && attrs.Status != "paid" {
		return OutcomeIgnored, nil
	}

	var postID *uint
	if raw, ok := event.Meta.CustomData["post_id"]; ok {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id > 0 {
			v := uint(id)
			postID = &v
		}
	}

	source := models.EarningTip
	if postID != nil {
		source = models.EarningPremiumUnlock
	}

	_, created, err := h.earnings.RecordEarning(ctx, EarningInput{
		CreatorID:   h.creatorFor(event),
		PostID:      postID,
		Source:      source,
		AmountCents: attrs.Total,
		Currency:    attrs.Currency,
		ExternalRef: "order:" + event.Data.ID,
		Description: "order " + event.Data.ID,
	})
	if err != nil {
		return OutcomeError, err
	}
	if !created {
		return OutcomeDuplicate, nil
	}
	return OutcomeProcessed, nil
}

// handleRefund rejects the order's earning while it is still pending
func (h *WebhookHandler) handleRefund(ctx context.Context, event *WebhookEvent) (string, error) {
	earning, err := h.repository.GetEarningByExternalRef(ctx, "order:"+event.Data.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to find order earning: %w", err)
	}
	if earning.Status != models.LedgerPending {
		h.log.Warn().Uint("earning_id", earning.ID).Str("status", string(earning.Status)).
			Msg("Refund for settled earning needs manual review")
		return OutcomeIgnored, nil
	}

	if _, err := h.earnings.SettleEarning(ctx, earning.ID, models.LedgerRejected); err != nil {
		return OutcomeError, err
	}
	return OutcomeProcessed, nil
}
