package model

import (
	"time"

	"github.com/google/uuid"
)

// DriverHealth is the rolling reliability signal for one driver. Version
// guards against a stale daily recompute overwriting an event-triggered
// reset: every write bumps it, and the daily batch only commits when the
// version it read is still current.
type DriverHealth struct {
	DriverID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Score           float64   `gorm:"not null;default:0"`
	Stars           int       `gorm:"not null;default:0"`
	StreakWeeks     int       `gorm:"not null;default:0"`
	HardStop        bool      `gorm:"not null;default:false"`
	HardStopReasons string    `gorm:"size:512;not null;default:''"`
	LastResetAt     *time.Time
	LastDailyRunAt  *time.Time
	LastWeeklyWeek  string `gorm:"size:10;not null;default:''"`
	Version         int64  `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
