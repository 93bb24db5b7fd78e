package model

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies one scorable lifecycle event.
type EventKind string

const (
	EventConfirmed    EventKind = "confirmed"
	EventArrived      EventKind = "arrived"
	EventStarted      EventKind = "started"
	EventCompleted    EventKind = "completed"
	EventHighVolume   EventKind = "high_volume"
	EventEarlyCancel  EventKind = "early_cancel"
	EventLateCancel   EventKind = "late_cancel"
	EventAutoDrop     EventKind = "auto_drop"
	EventNoShow       EventKind = "no_show"
	EventBidPickup    EventKind = "bid_pickup"
	EventUrgentPickup EventKind = "urgent_pickup"
)

// LifecycleEvent is one row of the per-driver contribution ledger. Events
// are written in the same transaction as the state change they record, so
// the ledger is exactly as durable as the lifecycle itself. The Health
// Scorer consumes this table; it is also the audit trail behind terminal
// assignment states.
type LifecycleEvent struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	AssignmentID uuid.UUID  `gorm:"type:uuid;not null;index"`
	RouteID      uuid.UUID  `gorm:"type:uuid;not null;index"`
	DriverID     *uuid.UUID `gorm:"type:uuid;index:idx_events_driver_kind_time"`
	Kind         EventKind  `gorm:"size:16;not null;index:idx_events_driver_kind_time"`
	OccurredAt   time.Time  `gorm:"not null;index:idx_events_driver_kind_time"`

	CreatedAt time.Time
}
