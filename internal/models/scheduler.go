package models

import (
	"time"
)

// Scheduler state keys
const (
	StateDailyPublication = "daily_publication"
	StateOriginalTopics   = "original_topics"
)

// SchedulerState persists run markers for periodic commands
type SchedulerState struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Key           string     `gorm:"column:state_key;uniqueIndex;not null" json:"key"`
	LastRunAt     *time.Time `json:"last_run_at"`
	RotationIndex int        `json:"rotation_index"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// RanWithin reports whether the last run happened less than window before now
func (s *SchedulerState) RanWithin(now time.Time, window time.Duration) bool {
	if s == nil || s.LastRunAt == nil {
		return false
	}
	return now.Sub(*s.LastRunAt) < window
}
