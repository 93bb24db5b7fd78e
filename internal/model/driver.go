package model

import (
	"time"

	"github.com/google/uuid"
)

// Driver represents a delivery driver.
type Driver struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"size:256;not null"`
	HiredAt   time.Time `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenureMonths reports how many whole months the driver has been employed
// as of the given instant.
func (d *Driver) TenureMonths(now time.Time) int {
	months := 0
	for t := d.HiredAt.AddDate(0, 1, 0); !t.After(now); t = t.AddDate(0, 1, 0) {
		months++
	}
	return months
}

// RoutePreference is one entry of a driver's ranked route preference list.
// Rank 1 is the most preferred route.
type RoutePreference struct {
	DriverID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	RouteID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Rank      int       `gorm:"not null"`
	UpdatedAt time.Time
}
