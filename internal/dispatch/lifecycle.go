package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"driver-dispatch-backend/internal/model"
	"driver-dispatch-backend/internal/timeutil"
)

// Confirm marks a scheduled assignment as confirmed by its driver. Legal
// only inside [shift start - 7d, shift start - 48h], inclusive at both
// boundaries; outside it the call fails with a precondition error rather
// than a generic conflict.
func (e *Engine) Confirm(ctx context.Context, assignmentID, driverID uuid.UUID) (*model.Assignment, error) {
	now := e.clock.Now()
	var out *model.Assignment

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := loadAssignmentForUpdate(tx, assignmentID)
		if err != nil {
			return err
		}
		if err := ownedBy(a, driverID); err != nil {
			return err
		}
		switch a.Status {
		case model.AssignmentScheduled:
		case model.AssignmentConfirmed:
			return preconditionf("assignment %s is already confirmed", a.ID)
		default:
			return stalef("assignment %s is %s, not scheduled", a.ID, a.Status)
		}

		shiftStart, err := e.shiftStart(a)
		if err != nil {
			return validationf("%v", err)
		}
		opensAt := shiftStart.Add(-time.Duration(e.cfg.ConfirmOpenHours) * time.Hour)
		closesAt := shiftStart.Add(-time.Duration(e.cfg.ConfirmCloseHours) * time.Hour)
		if now.Before(opensAt) {
			return preconditionf("confirmation window opens at %s", opensAt.In(e.loc).Format(time.RFC3339))
		}
		if now.After(closesAt) {
			return preconditionf("confirmation window closed at %s", closesAt.In(e.loc).Format(time.RFC3339))
		}

		a.Status = model.AssignmentConfirmed
		a.ConfirmedAt = &now
		if err := tx.Save(a).Error; err != nil {
			return err
		}
		if err := appendEvent(tx, a, &driverID, model.EventConfirmed, now); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("assignment confirmed",
		zap.String("assignment_id", assignmentID.String()),
		zap.String("driver_id", driverID.String()))
	return out, nil
}

// Cancel withdraws the driver from a scheduled or confirmed assignment. A
// cancellation is late iff the exact duration from now to the true shift
// start instant is at or below the late-cancel cutoff; the classification
// never uses day arithmetic, which would shift the boundary by the route's
// start-hour offset. A second late cancellation inside the rolling window
// trips the hard stop in the same transaction.
func (e *Engine) Cancel(ctx context.Context, assignmentID, driverID uuid.UUID, reason string) (*model.Assignment, error) {
	now := e.clock.Now()
	var out *model.Assignment

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := loadAssignmentForUpdate(tx, assignmentID)
		if err != nil {
			return err
		}
		if err := ownedBy(a, driverID); err != nil {
			return err
		}
		if a.Status != model.AssignmentScheduled && a.Status != model.AssignmentConfirmed {
			return stalef("assignment %s is %s, cannot cancel", a.ID, a.Status)
		}

		shiftStart, err := e.shiftStart(a)
		if err != nil {
			return validationf("%v", err)
		}

		a.Status = model.AssignmentCancelled
		kind := model.EventEarlyCancel
		a.CancelType = model.CancelEarly
		if timeutil.TimeToShift(now, shiftStart) <= time.Duration(e.cfg.LateCancelHours)*time.Hour {
			a.CancelType = model.CancelLate
			kind = model.EventLateCancel
		}
		if err := tx.Save(a).Error; err != nil {
			return err
		}
		if err := appendEvent(tx, a, &driverID, kind, now); err != nil {
			return err
		}
		if kind == model.EventLateCancel {
			if err := e.checkLateCancelHardStop(tx, driverID, now); err != nil {
				return err
			}
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("assignment cancelled",
		zap.String("assignment_id", assignmentID.String()),
		zap.String("driver_id", driverID.String()),
		zap.String("type", string(out.CancelType)),
		zap.String("reason", reason))
	return out, nil
}

// Arrive records the driver at the warehouse. Legal only on the shift's
// calendar day, only from confirmed, and only strictly before the route's
// arrival deadline instant; a late arrival fails instead of silently
// succeeding.
func (e *Engine) Arrive(ctx context.Context, assignmentID, driverID uuid.UUID) (*model.Assignment, error) {
	now := e.clock.Now()
	var out *model.Assignment

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := loadAssignmentForUpdate(tx, assignmentID)
		if err != nil {
			return err
		}
		if err := ownedBy(a, driverID); err != nil {
			return err
		}
		if a.Status != model.AssignmentConfirmed {
			return preconditionf("assignment %s is %s, must be confirmed to arrive", a.ID, a.Status)
		}
		if !timeutil.SameCivilDay(now, a.ShiftDate, e.loc) {
			return preconditionf("assignment %s is for %s, not today", a.ID, a.ShiftDate)
		}
		deadline, err := e.arrivalDeadline(a)
		if err != nil {
			return validationf("%v", err)
		}
		// Emergency fills happen at or after the normal deadline; holding
		// the replacement driver to it would make every rescue a no-show.
		if a.Origin != model.OriginEmergency && !now.Before(deadline) {
			return preconditionf("arrival deadline %s has passed", deadline.In(e.loc).Format("15:04"))
		}

		a.Status = model.AssignmentArrived
		a.ArrivedAt = &now
		if err := tx.Save(a).Error; err != nil {
			return err
		}
		if err := appendEvent(tx, a, &driverID, model.EventArrived, now); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Start begins the route run. Requires arrived.
func (e *Engine) Start(ctx context.Context, assignmentID, driverID uuid.UUID) (*model.Assignment, error) {
	now := e.clock.Now()
	var out *model.Assignment

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := loadAssignmentForUpdate(tx, assignmentID)
		if err != nil {
			return err
		}
		if err := ownedBy(a, driverID); err != nil {
			return err
		}
		if a.Status != model.AssignmentArrived {
			return preconditionf("assignment %s is %s, must be arrived to start", a.ID, a.Status)
		}
		a.Status = model.AssignmentStarted
		a.StartedAt = &now
		if err := tx.Save(a).Error; err != nil {
			return err
		}
		if err := appendEvent(tx, a, &driverID, model.EventStarted, now); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete finishes the route run and records parcel counts. Requires
// started. Counts remain editable for the configured post-completion
// window via UpdateCounts.
func (e *Engine) Complete(ctx context.Context, assignmentID, driverID uuid.UUID, delivered, returned int) (*model.Assignment, error) {
	if delivered < 0 || returned < 0 {
		return nil, validationf("parcel counts must be non-negative")
	}
	now := e.clock.Now()
	var out *model.Assignment

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := loadAssignmentForUpdate(tx, assignmentID)
		if err != nil {
			return err
		}
		if err := ownedBy(a, driverID); err != nil {
			return err
		}
		if a.Status != model.AssignmentStarted {
			return preconditionf("assignment %s is %s, must be started to complete", a.ID, a.Status)
		}
		a.Status = model.AssignmentCompleted
		a.CompletedAt = &now
		a.ParcelsDelivered = delivered
		a.ParcelsReturned = returned
		if err := tx.Save(a).Error; err != nil {
			return err
		}
		if err := appendEvent(tx, a, &driverID, model.EventCompleted, now); err != nil {
			return err
		}
		if delivered >= e.cfg.HighVolumeParcels {
			if err := appendEvent(tx, a, &driverID, model.EventHighVolume, now); err != nil {
				return err
			}
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("assignment completed",
		zap.String("assignment_id", assignmentID.String()),
		zap.Int("delivered", delivered))
	return out, nil
}

// UpdateCounts edits parcel counts inside the post-completion edit window.
func (e *Engine) UpdateCounts(ctx context.Context, assignmentID, driverID uuid.UUID, delivered, returned int) (*model.Assignment, error) {
	if delivered < 0 || returned < 0 {
		return nil, validationf("parcel counts must be non-negative")
	}
	now := e.clock.Now()
	var out *model.Assignment

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := loadAssignmentForUpdate(tx, assignmentID)
		if err != nil {
			return err
		}
		if err := ownedBy(a, driverID); err != nil {
			return err
		}
		if a.Status != model.AssignmentCompleted || a.CompletedAt == nil {
			return preconditionf("assignment %s is %s, counts are only editable after completion", a.ID, a.Status)
		}
		editUntil := a.CompletedAt.Add(time.Duration(e.cfg.CompletionEditMinutes) * time.Minute)
		if now.After(editUntil) {
			return preconditionf("edit window closed at %s", editUntil.In(e.loc).Format(time.RFC3339))
		}
		a.ParcelsDelivered = delivered
		a.ParcelsReturned = returned
		if err := tx.Save(a).Error; err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ownedBy checks that the acting driver holds the assignment.
func ownedBy(a *model.Assignment, driverID uuid.UUID) error {
	if a.DriverID == nil || *a.DriverID != driverID {
		return forbiddenf("driver %s does not hold assignment %s", driverID, a.ID)
	}
	return nil
}
