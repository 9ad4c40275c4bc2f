package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// VideoStatus is the state of a video generation job
type VideoStatus string

const (
	VideoStatusQueued     VideoStatus = "queued"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// MaxVideoRetries caps how many times a failed video is re-queued
const MaxVideoRetries = 3

// VideoGeneration tracks rendering a post into a video
type VideoGeneration struct {
	ID           uint                        `gorm:"primaryKey" json:"id"`
	PostID       uint                        `gorm:"index;not null" json:"post_id"`
	Post         *Post                       `gorm:"foreignKey:PostID" json:"post,omitempty"`
	Status       VideoStatus                 `gorm:"index;default:'queued'" json:"status"`
	Priority     int                         `json:"priority"`
	RetryCount   int                         `json:"retry_count"`
	LastRetryAt  *time.Time                  `json:"last_retry_at"`
	AutoPublish  bool                        `json:"auto_publish"`
	Platforms    datatypes.JSONSlice[string] `json:"platforms"`
	VideoURL     string                      `json:"video_url"`
	ErrorMessage string                      `gorm:"type:text" json:"error_message"`
	StartedAt    *time.Time                  `json:"started_at"`
	CompletedAt  *time.Time                  `json:"completed_at"`
	CreatedAt    time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

// InvalidTransitionError reports a state change not allowed from the current state
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (v *VideoGeneration) transition(from, to VideoStatus) error {
	if v.Status != from {
		return &InvalidTransitionError{Entity: "video", From: string(v.Status), To: string(to)}
	}
	v.Status = to
	return nil
}

// Start moves a queued video into processing
func (v *VideoGeneration) Start(now time.Time) error {
	if err := v.transition(VideoStatusQueued, VideoStatusProcessing); err != nil {
		return err
	}
	v.StartedAt = &now
	v.ErrorMessage = ""
	return nil
}

// Complete records a rendered video
func (v *VideoGeneration) Complete(url string, now time.Time) error {
	if err := v.transition(VideoStatusProcessing, VideoStatusCompleted); err != nil {
		return err
	}
	v.VideoURL = url
	v.CompletedAt = &now
	return nil
}

// Fail records a render failure
func (v *VideoGeneration) Fail(cause error) error {
	if err := v.transition(VideoStatusProcessing, VideoStatusFailed); err != nil {
		return err
	}
	if cause != nil {
		v.ErrorMessage = cause.Error()
	}
	return nil
}

// CanRetry reports whether a failed video may be re-queued at now.
// A video that was never retried is eligible immediately.
func (v *VideoGeneration) CanRetry(now time.Time, cooldown time.Duration) bool {
	if v.Status != VideoStatusFailed || v.RetryCount >= MaxVideoRetries {
		return false
	}
	if v.LastRetryAt == nil {
		return true
	}
	return v.LastRetryAt.Before(now.Add(-cooldown))
}

// Requeue moves a failed video back to queued and counts the retry
func (v *VideoGeneration) Requeue(now time.Time) error {
	if v.RetryCount >= MaxVideoRetries {
		return &InvalidTransitionError{Entity: "video", From: string(v.Status), To: string(VideoStatusQueued)}
	}
	if err := v.transition(VideoStatusFailed, VideoStatusQueued); err != nil {
		return err
	}
	v.RetryCount++
	v.LastRetryAt = &now
	return nil
}

// IsTerminal reports whether the video will not change state again
func (v *VideoGeneration) IsTerminal() bool {
	return v.Status == VideoStatusCompleted ||
		(v.Status == VideoStatusFailed && v.RetryCount >= MaxVideoRetries)
}
