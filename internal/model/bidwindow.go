package model

import (
	"time"

	"github.com/google/uuid"
)

// WindowMode selects the vacancy-filling mechanics of a bid window.
type WindowMode string

const (
	ModeCompetitive WindowMode = "competitive"
	ModeInstant     WindowMode = "instant"
	ModeEmergency   WindowMode = "emergency"
)

// WindowStatus is the lifecycle state of a bid window.
type WindowStatus string

const (
	WindowOpen     WindowStatus = "open"
	WindowResolved WindowStatus = "resolved"
	WindowExpired  WindowStatus = "expired"
)

// BidWindow is a time-boxed opportunity to claim one vacant assignment.
// The partial unique index enforces at most one open window per assignment.
type BidWindow struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey"`
	AssignmentID uuid.UUID    `gorm:"type:uuid;not null;index;index:idx_windows_open_assignment,unique,where:status = 'open'"`
	Mode         WindowMode   `gorm:"size:16;not null"`
	Status       WindowStatus `gorm:"size:16;not null;index"`
	OpensAt      time.Time    `gorm:"not null"`
	ClosesAt     time.Time    `gorm:"not null;index"`
	// BonusPercent is only set on emergency windows.
	BonusPercent   int        `gorm:"not null;default:0"`
	WinnerDriverID *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Assignment Assignment `gorm:"constraint:OnDelete:CASCADE"`
}

// BidStatus is the state of one driver's bid.
type BidStatus string

const (
	BidPending BidStatus = "pending"
	BidWon     BidStatus = "won"
	BidLost    BidStatus = "lost"
)

// Bid is one driver's claim against a specific bid window. Uniqueness is
// per window, not per assignment lifetime: a reopened window is never
// blocked by bids on an earlier one.
type Bid struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	BidWindowID  uuid.UUID `gorm:"type:uuid;not null;index:idx_bids_window_driver,unique"`
	AssignmentID uuid.UUID `gorm:"type:uuid;not null;index"`
	DriverID     uuid.UUID `gorm:"type:uuid;not null;index:idx_bids_window_driver,unique"`
	Status       BidStatus `gorm:"size:8;not null"`
	SubmittedAt  time.Time `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
