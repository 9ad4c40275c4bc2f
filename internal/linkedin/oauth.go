package linkedin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/storage"
	"github.com/content-engine/pkg/logger"
)

// ErrReauthRequired is returned when a token expired and cannot be refreshed
var ErrReauthRequired = errors.New("token expired and no refresh token available, reconnect the account")

// Endpoint is LinkedIn's OAuth 2.0 endpoint
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://www.linkedin.com/oauth/v2/authorization",
	TokenURL: "https://www.linkedin.com/oauth/v2/accessToken",
}

// TokenManager handles the OAuth flow and keeps account tokens fresh
type TokenManager struct {
	config     *oauth2.Config
	repository storage.Repository
	now        func() time.Time
	log        *logger.Logger
}

// NewTokenManager creates a token manager that persists refreshed tokens
func NewTokenManager(cfg config.LinkedInConfig, repo storage.Repository, log *logger.Logger) *TokenManager {
	return &TokenManager{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint:     Endpoint,
		},
		repository: repo,
		now:        time.Now,
		log:        log.WithComponent("oauth"),
	}
}

// SetEndpoint overrides the OAuth endpoint
func (m *TokenManager) SetEndpoint(endpoint oauth2.Endpoint) {
	m.config.Endpoint = endpoint
}

// GenerateState creates a random state for OAuth CSRF protection
func GenerateState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// AuthURL returns the OAuth authorization URL
func (m *TokenManager) AuthURL(state string) string {
	return m.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange exchanges the authorization code for a token
func (m *TokenManager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := m.config.Exchange(ctx, code)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to exchange code")
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// ValidToken returns the account's access token, refreshing it when it is about to expire
func (m *TokenManager) ValidToken(ctx context.Context, account *models.SocialMediaAccount) (string, error) {
	if !account.NeedsRefresh(m.now()) {
		return account.AccessToken, nil
	}
	if account.RefreshToken == "" {
		return "", ErrReauthRequired
	}

	log := m.log.With().Uint("account_id", account.ID).Logger()
	log.Info().Msg("Token expiring soon, refreshing")

	// an expired copy forces the token source to refresh
	current := account.ToOAuth2Token()
	current.Expiry = m.now().Add(-time.Minute)

	newToken, err := m.config.TokenSource(ctx, current).Token()
	if err != nil {
		log.Error().Err(err).Msg("Failed to refresh token")
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	account.FromOAuth2Token(newToken)
	if err := m.repository.UpdateSocialAccount(ctx, account); err != nil {
		log.Warn().Err(err).Msg("Failed to save refreshed token")
	}

	log.Info().Time("expires_at", newToken.Expiry).Msg("Token refreshed successfully")
	return account.AccessToken, nil
}

// WaitForCode runs a temporary callback server until LinkedIn redirects back with a code
func WaitForCode(ctx context.Context, addr, state string) (string, error) {
	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			errChan <- fmt.Errorf("state mismatch")
			http.Error(w, "State mismatch", http.StatusBadRequest)
			return
		}
		if errMsg := q.Get("error"); errMsg != "" {
			errChan <- fmt.Errorf("oauth error: %s - %s", errMsg, q.Get("error_description"))
			http.Error(w, errMsg, http.StatusBadRequest)
			return
		}

		code := q.Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no code in callback")
			http.Error(w, "No code", http.StatusBadRequest)
			return
		}

		codeChan <- code
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body style="font-family: sans-serif; text-align: center; padding: 50px;">
<h1>Authorization successful</h1><p>You can close this window and return to the terminal.</p>
</body></html>`)
	})

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	defer server.Shutdown(context.Background())

	select {
	case code := <-codeChan:
		return code, nil
	case err := <-errChan:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
