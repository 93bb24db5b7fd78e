package model

import (
	"time"

	"github.com/google/uuid"
)

// AssignmentStatus is the lifecycle state of a route-day assignment.
type AssignmentStatus string

const (
	AssignmentUnfilled    AssignmentStatus = "unfilled"
	AssignmentScheduled   AssignmentStatus = "scheduled"
	AssignmentConfirmed   AssignmentStatus = "confirmed"
	AssignmentArrived     AssignmentStatus = "arrived"
	AssignmentStarted     AssignmentStatus = "started"
	AssignmentCompleted   AssignmentStatus = "completed"
	AssignmentCancelled   AssignmentStatus = "cancelled"
	AssignmentAutoDropped AssignmentStatus = "auto_dropped"
	AssignmentNoShow      AssignmentStatus = "no_show"
)

// Terminal reports whether the status is an end state. Terminal assignments
// are never deleted; they feed scoring and audit.
func (s AssignmentStatus) Terminal() bool {
	switch s {
	case AssignmentCompleted, AssignmentCancelled, AssignmentAutoDropped, AssignmentNoShow:
		return true
	default:
		return false
	}
}

// CancelType classifies a cancellation relative to the late-cancel cutoff.
type CancelType string

const (
	CancelNone  CancelType = ""
	CancelEarly CancelType = "early"
	CancelLate  CancelType = "late"
)

// AssignmentOrigin records what created the assignment.
type AssignmentOrigin string

const (
	OriginScheduled AssignmentOrigin = "scheduled"
	OriginBid       AssignmentOrigin = "bid"
	OriginEmergency AssignmentOrigin = "emergency"
)

// Assignment is one driver-route-date unit of work. ShiftDate is a civil
// date (YYYY-MM-DD) with no time component; all instants derived from it go
// through the timeutil package so they land in the operating timezone.
type Assignment struct {
	ID        uuid.UUID        `gorm:"type:uuid;primaryKey"`
	RouteID   uuid.UUID        `gorm:"type:uuid;not null;index:idx_assignments_route_date"`
	ShiftDate string           `gorm:"size:10;not null;index:idx_assignments_route_date;index"`
	Status    AssignmentStatus `gorm:"size:16;not null;index"`
	DriverID  *uuid.UUID       `gorm:"type:uuid;index"`
	Origin    AssignmentOrigin `gorm:"size:16;not null"`

	ConfirmedAt *time.Time
	ArrivedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelType  CancelType `gorm:"size:8;not null;default:''"`

	ParcelsDelivered int `gorm:"not null;default:0"`
	ParcelsReturned  int `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Route Route `gorm:"constraint:OnDelete:CASCADE"`
}
