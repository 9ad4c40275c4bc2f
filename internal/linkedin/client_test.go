package linkedin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/social"
	"github.com/content-engine/internal/storage/storagetest"
	"github.com/content-engine/pkg/logger"
)

func TestSanitize(t *testing.T) {
	got := sanitize("  ★ Launch → today\u200B\n\n\n\n• done  ")
	want := "* Launch -> today\n\n- done"
	if got != want {
		t.Fatalf("sanitize() = %q, want %q", got, want)
	}
}

func TestCommentaryTruncates(t *testing.T) {
	share := social.Share{
		Post: &models.Post{Title: "Title", Excerpt: strings.Repeat("word ", 1000)},
		Link: "https://example.com/posts/1",
	}
	got := commentary(share)
	if len(got) != maxCommentaryLength || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected truncated commentary, got length %d", len(got))
	}
}

func TestPublishRefreshesExpiredToken(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.New(t)

	var gotAuth string
	var gotBody PostRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "refresh_token" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600,"refresh_token":"r2"}`))
	})
	mux.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("x-restli-id", "urn:li:share:42")
		w.WriteHeader(http.StatusCreated)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tokens := NewTokenManager(config.LinkedInConfig{ClientID: "id", ClientSecret: "secret"}, repo, logger.Nop())
	tokens.SetEndpoint(oauth2.Endpoint{TokenURL: server.URL + "/token", AuthStyle: oauth2.AuthStyleInParams})

	client := NewClient(tokens, nil, logger.Nop())
	client.SetBaseURL(server.URL)

	account := &models.SocialMediaAccount{
		CreatorID:    1,
		Platform:     models.PlatformLinkedIn,
		AuthorURN:    "urn:li:person:abc",
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Hour),
		Active:       true,
	}
	if err := repo.CreateSocialAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	share := social.Share{
		Post:  &models.Post{ID: 7, Title: "Small models", Excerpt: "They run everywhere now."},
		Video: &models.VideoGeneration{VideoURL: "https://videos.example.com/7.mp4"},
		Link:  "https://blog.example.com/posts/7",
	}
	urn, err := client.Publish(ctx, account, share)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if urn != "urn:li:share:42" {
		t.Fatalf("unexpected urn %q", urn)
	}
	if gotAuth != "Bearer fresh" {
		t.Fatalf("request used %q", gotAuth)
	}
	if gotBody.Author != "urn:li:person:abc" || !strings.Contains(gotBody.Commentary, "Watch: https://videos.example.com/7.mp4") {
		t.Fatalf("unexpected body: %+v", gotBody)
	}

	stored, _ := repo.GetSocialAccountByID(ctx, account.ID)
	if stored.AccessToken != "fresh" || stored.RefreshToken != "r2" || !stored.ExpiresAt.After(time.Now()) {
		t.Fatalf("refreshed token not saved: %+v", stored)
	}
}

func TestValidTokenWithoutRefreshToken(t *testing.T) {
	tokens := NewTokenManager(config.LinkedInConfig{}, storagetest.New(t), logger.Nop())
	account := &models.SocialMediaAccount{AccessToken: "old", ExpiresAt: time.Now().Add(-time.Minute)}

	if _, err := tokens.ValidToken(context.Background(), account); err != ErrReauthRequired {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}

	account.ExpiresAt = time.Now().Add(time.Hour)
	token, err := tokens.ValidToken(context.Background(), account)
	if err != nil || token != "old" {
		t.Fatalf("valid token should be returned as is: %q %v", token, err)
	}
}

func TestPublishSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"duplicate"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	tokens := NewTokenManager(config.LinkedInConfig{}, storagetest.New(t), logger.Nop())
	client := NewClient(tokens, nil, logger.Nop())
	client.SetBaseURL(server.URL)

	account := &models.SocialMediaAccount{AuthorURN: "urn:li:person:abc", AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)}
	_, err := client.Publish(context.Background(), account, social.Share{Post: &models.Post{Title: "x"}})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected 422 error, got %v", err)
	}
}
