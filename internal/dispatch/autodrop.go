package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"driver-dispatch-backend/internal/metrics"
	"driver-dispatch-backend/internal/model"
)

// RunConfirmationSweep is the scheduled confirmation pipeline: it sends
// confirmation reminders at the configured lead time, then auto-drops
// assignments whose confirm-by deadline passed unconfirmed. Safe to re-run
// at any time; both sub-steps exclude already-processed rows.
func (e *Engine) RunConfirmationSweep(ctx context.Context) error {
	metrics.EvaluatorRuns.WithLabelValues("confirmation_sweep").Inc()
	if err := e.sendConfirmReminders(ctx); err != nil {
		return err
	}
	return e.autoDropUnconfirmed(ctx)
}

// sendConfirmReminders notifies drivers of unconfirmed assignments once the
// reminder lead time is reached. Exactly once per assignment: the outbox
// dedupe index turns a repeat into a no-op insert, mirroring the discipline
// used for schedule-lock notices.
func (e *Engine) sendConfirmReminders(ctx context.Context) error {
	now := e.clock.Now()

	candidates, err := e.unconfirmedScheduled(ctx)
	if err != nil {
		return err
	}

	var queued []uuid.UUID
	for i := range candidates {
		a := &candidates[i]
		if a.DriverID == nil {
			continue
		}
		shiftStart, err := e.shiftStart(a)
		if err != nil {
			e.log.Warn("skip reminder, bad shift date",
				zap.String("assignment_id", a.ID.String()), zap.Error(err))
			continue
		}
		remindAt := shiftStart.Add(-time.Duration(e.cfg.ReminderLeadHours) * time.Hour)
		if now.Before(remindAt) {
			continue
		}

		err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			id, err := queueNotification(tx, *a.DriverID, a.ID, model.NotifyConfirmReminder,
				fmt.Sprintf("%q", "Confirm your route for "+a.ShiftDate))
			if err != nil {
				return err
			}
			if id != nil {
				queued = append(queued, *id)
			}
			return nil
		})
		if err != nil {
			metrics.EvaluatorItemErrors.WithLabelValues("confirmation_sweep").Inc()
			e.log.Warn("queue reminder failed",
				zap.String("assignment_id", a.ID.String()), zap.Error(err))
		}
	}
	e.dispatchAfterCommit(queued)
	return nil
}

// autoDropUnconfirmed cancels every assignment whose confirmation deadline
// passed and opens its replacement window, as one atomic unit per
// assignment. The window is created first; if that fails (shift already
// started, window already live) the whole step rolls back and the item is
// retried on the next run. A dropped assignment without a durable
// replacement window is never observable.
func (e *Engine) autoDropUnconfirmed(ctx context.Context) error {
	now := e.clock.Now()

	candidates, err := e.unconfirmedScheduled(ctx)
	if err != nil {
		return err
	}

	for i := range candidates {
		id := candidates[i].ID
		var queued []uuid.UUID
		dropped := false

		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			a, err := loadAssignmentForUpdate(tx, id)
			if err != nil {
				return err
			}
			// Re-check under the lock; the candidate query ran unlocked.
			if a.Status != model.AssignmentScheduled || a.ConfirmedAt != nil {
				return nil
			}
			shiftStart, err := e.shiftStart(a)
			if err != nil {
				return err
			}
			deadline := shiftStart.Add(-time.Duration(e.cfg.ConfirmCloseHours) * time.Hour)
			if !now.After(deadline) {
				return nil
			}

			// Replacement window first. Failure here aborts the drop.
			mode, closesAt, err := e.modeForOpen(now, shiftStart)
			if err != nil {
				return fmt.Errorf("replacement window: %w", err)
			}
			if _, err := e.openWindowTx(tx, a, now, mode, closesAt, 0); err != nil {
				return fmt.Errorf("replacement window: %w", err)
			}

			droppedDriver := a.DriverID
			a.Status = model.AssignmentAutoDropped
			a.CancelType = model.CancelLate
			if err := tx.Save(a).Error; err != nil {
				return err
			}
			if err := appendEvent(tx, a, droppedDriver, model.EventAutoDrop, now); err != nil {
				return err
			}
			if droppedDriver != nil {
				nid, err := queueNotification(tx, *droppedDriver, a.ID, model.NotifyAutoDropped,
					fmt.Sprintf("%q", "Your unconfirmed route for "+a.ShiftDate+" was released"))
				if err != nil {
					return err
				}
				if nid != nil {
					queued = append(queued, *nid)
				}
			}
			dropped = true
			return nil
		})
		if err != nil {
			metrics.EvaluatorItemErrors.WithLabelValues("confirmation_sweep").Inc()
			e.log.Warn("auto-drop skipped, will retry next run",
				zap.String("assignment_id", id.String()), zap.Error(err))
			continue
		}
		if dropped {
			metrics.AutoDrops.Inc()
			e.dispatchAfterCommit(queued)
			e.log.Info("assignment auto-dropped", zap.String("assignment_id", id.String()))
		}
	}
	return nil
}

// unconfirmedScheduled loads the shared candidate set of both sub-steps:
// scheduled assignments with no confirmation. Already-dropped rows are
// excluded by status, which is what makes the sweep idempotent.
func (e *Engine) unconfirmedScheduled(ctx context.Context) ([]model.Assignment, error) {
	var candidates []model.Assignment
	err := e.db.WithContext(ctx).
		Preload("Route").
		Where("status = ? AND confirmed_at IS NULL", model.AssignmentScheduled).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("load unconfirmed assignments: %w", err)
	}
	return candidates, nil
}
