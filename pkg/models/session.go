package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionRecord is one completed work phase, logged for analytics.
// Records are append-only: created by the timer core on work-phase
// completion, read-only to everything else.
type SessionRecord struct {
	ID              string `gorm:"primaryKey" json:"id"`
	Date            string `gorm:"index" json:"date"`
	StartTime       string `json:"start_time"`
	StartEpoch      int64  `json:"start_epoch"`
	DurationMinutes int    `json:"duration_minutes"`
	Category        string `gorm:"index" json:"category"`
	CreatedAtEpoch  int64  `gorm:"index" json:"created_at_epoch"`
}

// NewSessionRecord builds a record for a work phase that started at start and
// ran for duration. The category is a free-text label chosen by the user.
func NewSessionRecord(start time.Time, duration time.Duration, category string) *SessionRecord {
	return &SessionRecord{
		ID:              uuid.NewString(),
		Date:            start.Format("2006-01-02"),
		StartTime:       start.Format(time.RFC3339),
		StartEpoch:      start.UnixMilli(),
		DurationMinutes: int(duration / time.Minute),
		Category:        category,
		CreatedAtEpoch:  time.Now().UnixMilli(),
	}
}
