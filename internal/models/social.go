package models

import (
	"time"

	"golang.org/x/oauth2"
)

// Platform names a social network
type Platform string

const (
	PlatformLinkedIn Platform = "linkedin"
)

// SocialMediaAccount is a creator's connected social account
type SocialMediaAccount struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatorID    uint      `gorm:"index;not null" json:"creator_id"`
	Platform     Platform  `gorm:"index;not null" json:"platform"`
	Handle       string    `json:"handle"`
	AuthorURN    string    `json:"author_urn"` // platform-side identity used when posting
	AccessToken  string    `gorm:"type:text" json:"-"`
	RefreshToken string    `gorm:"type:text" json:"-"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Active       bool      `gorm:"index" json:"active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NeedsRefresh returns true if the token expires within 5 minutes
func (a *SocialMediaAccount) NeedsRefresh(now time.Time) bool {
	return now.Add(5 * time.Minute).After(a.ExpiresAt)
}

// ToOAuth2Token converts to golang.org/x/oauth2.Token
func (a *SocialMediaAccount) ToOAuth2Token() *oauth2.Token {
	tokenType := a.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		TokenType:    tokenType,
		Expiry:       a.ExpiresAt,
	}
}

// FromOAuth2Token updates the stored credentials
func (a *SocialMediaAccount) FromOAuth2Token(token *oauth2.Token) {
	a.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		a.RefreshToken = token.RefreshToken
	}
	a.TokenType = token.TokenType
	a.ExpiresAt = token.Expiry
}

// SocialPostStatus is the outcome of publishing to a platform
type SocialPostStatus string

const (
	SocialPostPublished SocialPostStatus = "published"
	SocialPostFailed    SocialPostStatus = "failed"
)

// SocialMediaPost records one post shared to one account
type SocialMediaPost struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	PostID       uint             `gorm:"index;not null" json:"post_id"`
	AccountID    uint             `gorm:"index;not null" json:"account_id"`
	VideoID      *uint            `gorm:"index" json:"video_id"`
	Platform     Platform         `gorm:"not null" json:"platform"`
	ExternalID   string           `json:"external_id"`
	Status       SocialPostStatus `gorm:"index" json:"status"`
	ErrorMessage string           `gorm:"type:text" json:"error_message"`
	PublishedAt  *time.Time       `json:"published_at"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}
