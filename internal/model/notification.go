package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind identifies the event a notification reports.
type NotificationKind string

const (
	NotifyConfirmReminder NotificationKind = "confirm_reminder"
	NotifyAutoDropped     NotificationKind = "auto_dropped"
	NotifyNoShow          NotificationKind = "no_show"
	NotifyBidWon          NotificationKind = "bid_won"
	NotifyBidLost         NotificationKind = "bid_lost"
	NotifyManagerAssigned NotificationKind = "manager_assigned"
)

// Notification is a durable outbox row. It is written inside the mutation
// transaction (the unique assignment/kind index is what makes reminder and
// drop notices idempotent) and delivered best-effort after commit.
type Notification struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey"`
	DriverID     uuid.UUID        `gorm:"type:uuid;not null;index:idx_notifications_dedupe,unique"`
	AssignmentID uuid.UUID        `gorm:"type:uuid;not null;index:idx_notifications_dedupe,unique"`
	Kind         NotificationKind `gorm:"size:32;not null;index:idx_notifications_dedupe,unique"`
	Payload      string           `gorm:"size:1024;not null"`
	CreatedAt    time.Time
	SentAt       *time.Time
}
