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
	"driver-dispatch-backend/internal/timeutil"
)

// RunNoShowSweep flags confirmed assignments whose arrival deadline passed
// with no arrival: the assignment becomes no_show, the driver's hard stop
// applies immediately (not deferred to the daily batch), and an emergency
// window opens for the vacancy. Classification is against the recorded
// deadline instant, so a late-running sweep still judges correctly.
// Idempotent: flagged rows leave the candidate set, and the emergency
// window is only created when no live or resolved window already covers
// the assignment.
func (e *Engine) RunNoShowSweep(ctx context.Context) error {
	now := e.clock.Now()
	metrics.EvaluatorRuns.WithLabelValues("no_show_sweep").Inc()
	today := timeutil.CivilDate(now, e.loc)

	var candidates []model.Assignment
	err := e.db.WithContext(ctx).
		Preload("Route").
		Where("status = ? AND shift_date = ? AND arrived_at IS NULL", model.AssignmentConfirmed, today).
		Find(&candidates).Error
	if err != nil {
		return fmt.Errorf("load no-show candidates: %w", err)
	}

	for i := range candidates {
		id := candidates[i].ID
		var queued []uuid.UUID
		flagged := false

		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			a, err := loadAssignmentForUpdate(tx, id)
			if err != nil {
				return err
			}
			if a.Status != model.AssignmentConfirmed || a.ArrivedAt != nil {
				return nil // arrived or re-flagged since the candidate query
			}
			deadline, err := e.arrivalDeadline(a)
			if err != nil {
				return err
			}
			if !now.After(deadline) {
				return nil
			}
			// A vacancy filled after the deadline (emergency rescue, late
			// manager assign) cannot be judged against it.
			if a.ConfirmedAt != nil && a.ConfirmedAt.After(deadline) {
				return nil
			}

			driverID := a.DriverID
			a.Status = model.AssignmentNoShow
			if err := tx.Save(a).Error; err != nil {
				return err
			}
			if err := appendEvent(tx, a, driverID, model.EventNoShow, now); err != nil {
				return err
			}
			if driverID != nil {
				if err := e.applyHardStop(tx, *driverID, "no_show", now); err != nil {
					return err
				}
				nid, err := queueNotification(tx, *driverID, a.ID, model.NotifyNoShow,
					fmt.Sprintf("%q", "Missed arrival for "+a.ShiftDate))
				if err != nil {
					return err
				}
				if nid != nil {
					queued = append(queued, *nid)
				}
			}

			// Duplicate-run guard for the replacement: a window that is
			// already open or resolved for this assignment means a prior
			// sweep (or a manager) has the vacancy in hand.
			var covering int64
			if err := tx.Model(&model.BidWindow{}).
				Where("assignment_id = ? AND status IN ?", a.ID,
					[]model.WindowStatus{model.WindowOpen, model.WindowResolved}).
				Count(&covering).Error; err != nil {
				return err
			}
			if covering == 0 {
				closesAt := now.Add(time.Duration(e.cfg.EmergencyWindowHours) * time.Hour)
				if _, err := e.openWindowTx(tx, a, now, model.ModeEmergency, closesAt, e.cfg.EmergencyBonusPercent); err != nil {
					return err
				}
			}
			flagged = true
			return nil
		})
		if err != nil {
			metrics.EvaluatorItemErrors.WithLabelValues("no_show_sweep").Inc()
			e.log.Warn("no-show step failed, will retry next run",
				zap.String("assignment_id", id.String()), zap.Error(err))
			continue
		}
		if flagged {
			metrics.NoShows.Inc()
			e.dispatchAfterCommit(queued)
			e.log.Info("assignment flagged no-show", zap.String("assignment_id", id.String()))
		}
	}
	return nil
}
