package models

import (
	"time"
)

// EarningSource describes where revenue came from
type EarningSource string

const (
	EarningSubscription  EarningSource = "subscription"
	EarningPremiumUnlock EarningSource = "premium_unlock"
	EarningTip           EarningSource = "tip"
)

// LedgerStatus is shared by earnings and payouts: pending, then completed or rejected
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerCompleted LedgerStatus = "completed"
	LedgerRejected  LedgerStatus = "rejected"
)

// Earning is revenue attributed to a creator
type Earning struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	CreatorID   uint          `gorm:"index;not null" json:"creator_id"`
	PostID      *uint         `gorm:"index" json:"post_id"`
	Source      EarningSource `gorm:"not null" json:"source"`
	AmountCents int64         `gorm:"not null" json:"amount_cents"`
	Currency    string        `gorm:"size:3" json:"currency"`
	Status      LedgerStatus  `gorm:"index" json:"status"`
	ExternalRef *string       `gorm:"uniqueIndex" json:"external_ref"` // provider event id, dedups webhooks
	Description string        `json:"description"`
	CreatedAt   time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// Settle moves a pending earning to completed or rejected
func (e *Earning) Settle(to LedgerStatus) error {
	if e.Status != LedgerPending || to == LedgerPending {
		return &InvalidTransitionError{Entity: "earning", From: string(e.Status), To: string(to)}
	}
	e.Status = to
	return nil
}

// PayoutRequest is a creator asking to withdraw their balance
type PayoutRequest struct {
	ID              uint         `gorm:"primaryKey" json:"id"`
	CreatorID       uint         `gorm:"index;not null" json:"creator_id"`
	AmountCents     int64        `gorm:"not null" json:"amount_cents"`
	Currency        string       `gorm:"size:3" json:"currency"`
	Method          string       `json:"method"`
	Status          LedgerStatus `gorm:"index" json:"status"`
	RejectionReason string       `json:"rejection_reason"`
	ProcessedAt     *time.Time   `json:"processed_at"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// Complete marks a pending payout as paid
func (p *PayoutRequest) Complete(now time.Time) error {
	if p.Status != LedgerPending {
		return &InvalidTransitionError{Entity: "payout", From: string(p.Status), To: string(LedgerCompleted)}
	}
	p.Status = LedgerCompleted
	p.ProcessedAt = &now
	return nil
}

// Reject marks a pending payout as rejected
func (p *PayoutRequest) Reject(reason string, now time.Time) error {
	if p.Status != LedgerPending {
		return &InvalidTransitionError{Entity: "payout", From: string(p.Status), To: string(LedgerRejected)}
	}
	p.Status = LedgerRejected
	p.RejectionReason = reason
	p.ProcessedAt = &now
	return nil
}

// SubscriptionStatus tracks a reader's paid subscription
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Subscription is a reader paying for a creator's premium tier
type Subscription struct {
	ID              uint               `gorm:"primaryKey" json:"id"`
	ExternalID      string             `gorm:"uniqueIndex;not null" json:"external_id"`
	CreatorID       uint               `gorm:"index" json:"creator_id"`
	CustomerID      string             `json:"customer_id"`
	SubscriberEmail string             `json:"subscriber_email"`
	VariantID       string             `json:"variant_id"`
	Tier            string             `json:"tier"`
	Status          SubscriptionStatus `gorm:"index" json:"status"`
	RenewsAt        *time.Time         `json:"renews_at"`
	EndsAt          *time.Time         `json:"ends_at"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}
