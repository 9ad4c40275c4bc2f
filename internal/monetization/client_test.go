package monetization

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/pkg/logger"
)

func TestClientResources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" || r.Header.Get("Accept") != "application/vnd.api+json" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errors":[{"status":"401","title":"Unauthenticated"}]}`))
			return
		}
		w.Header().Set("Content-Type", "application/vnd.api+json")
		switch r.URL.Path {
		case "/stores/1":
			_, _ = w.Write([]byte(`{"data":{"id":"1","type":"stores","attributes":{"name":"Blog","slug":"blog","currency":"USD","total_revenue":120000}}}`))
		case "/variants/77":
			_, _ = w.Write([]byte(`{"data":{"id":"77","type":"variants","attributes":{"name":"Basic","price":900,"is_subscription":true,"interval":"month","status":"published"}}}`))
		case "/customers/5":
			_, _ = w.Write([]byte(`{"data":{"id":"5","type":"customers","attributes":{"name":"Reader","email":"reader@example.com","status":"subscribed"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[{"status":"404","detail":"The requested resource does not exist."}]}`))
		}
	}))
	defer server.Close()

	client := NewClient(config.PaymentsConfig{BaseURL: server.URL + "/", APIKey: "key"}, nil, logger.Nop())
	ctx := context.Background()

	store, err := client.GetStore(ctx, "1")
	if err != nil || store.ID != "1" || store.Name != "Blog" || store.TotalRevenue != 120000 {
		t.Fatalf("store: %+v %v", store, err)
	}
	variant, err := client.GetVariant(ctx, "77")
	if err != nil || variant.Price != 900 || !variant.IsSub || variant.Interval != "month" {
		t.Fatalf("variant: %+v %v", variant, err)
	}
	customer, err := client.GetCustomer(ctx, "5")
	if err != nil || customer.Email != "reader@example.com" {
		t.Fatalf("customer: %+v %v", customer, err)
	}

	_, err = client.GetCustomer(ctx, "404")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Detail != "The requested resource does not exist." {
		t.Fatalf("expected APIError 404, got %v", err)
	}

	bad := NewClient(config.PaymentsConfig{BaseURL: server.URL, APIKey: "nope"}, nil, logger.Nop())
	if _, err := bad.GetStore(ctx, "1"); !errors.As(err, &apiErr) || apiErr.Detail != "Unauthenticated" {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
}
