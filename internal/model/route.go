package model

import (
	"time"

	"github.com/google/uuid"
)

// Route represents a recurring delivery route.
type Route struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"size:256;not null"`
	// StartHour and ArrivalHour are local hours in the operating timezone.
	// Zero means "use the configured default".
	StartHour   int `gorm:"not null;default:0"`
	ArrivalHour int `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
