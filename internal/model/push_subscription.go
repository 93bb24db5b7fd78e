package model

import (
	"time"

	"github.com/google/uuid"
)

// PushSubscription holds the web push endpoint for a driver's device.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	DriverID  uuid.UUID `gorm:"type:uuid;not null;index"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
