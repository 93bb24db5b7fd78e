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

// modeForOpen selects the window mode and close instant from the time to
// shift at open time. Competitive windows close 24h before shift start;
// inside the instant cutoff the window opens in instant mode and closes at
// shift start.
func (e *Engine) modeForOpen(now, shiftStart time.Time) (model.WindowMode, time.Time, error) {
	if !now.Before(shiftStart) {
		return "", time.Time{}, preconditionf("shift already started at %s", shiftStart.In(e.loc).Format(time.RFC3339))
	}
	cutoff := time.Duration(e.cfg.InstantCutoffHours) * time.Hour
	if shiftStart.Sub(now) > cutoff {
		return model.ModeCompetitive, shiftStart.Add(-time.Duration(e.cfg.CompetitiveCloseHours) * time.Hour), nil
	}
	return model.ModeInstant, shiftStart, nil
}

// effectiveMode downgrades a stored competitive window whose close falls
// inside the instant cutoff. Belt-and-suspenders: modeForOpen should never
// produce such a window, but a manually created or clock-skewed one is
// still resolved first-claim rather than scored.
func (e *Engine) effectiveMode(w *model.BidWindow, shiftStart time.Time) model.WindowMode {
	if w.Mode == model.ModeCompetitive &&
		w.ClosesAt.After(shiftStart.Add(-time.Duration(e.cfg.InstantCutoffHours)*time.Hour)) {
		return model.ModeInstant
	}
	return w.Mode
}

// openWindowTx creates a bid window for the assignment inside the caller's
// transaction. Fails when the assignment already has an open window (the
// partial unique index backs this check) or when the shift has started.
func (e *Engine) openWindowTx(tx *gorm.DB, a *model.Assignment, now time.Time, mode model.WindowMode, closesAt time.Time, bonusPercent int) (*model.BidWindow, error) {
	var openCount int64
	if err := tx.Model(&model.BidWindow{}).
		Where("assignment_id = ? AND status = ?", a.ID, model.WindowOpen).
		Count(&openCount).Error; err != nil {
		return nil, err
	}
	if openCount > 0 {
		return nil, stalef("assignment %s already has an open bid window", a.ID)
	}

	w := model.BidWindow{
		ID:           uuid.New(),
		AssignmentID: a.ID,
		Mode:         mode,
		Status:       model.WindowOpen,
		OpensAt:      now,
		ClosesAt:     closesAt,
		BonusPercent: bonusPercent,
	}
	if err := tx.Create(&w).Error; err != nil {
		return nil, fmt.Errorf("create %s window for assignment %s: %w", mode, a.ID, err)
	}
	return &w, nil
}

// OpenVacancyWindows opens a mode-appropriate window for every unfilled
// assignment that has no live window yet. This is the scheduler-unfilled
// trigger: the weekly scheduler only writes assignment rows, the engine
// turns the vacancies into bidding opportunities. Idempotent: assignments
// with an open window are excluded by the candidate query.
func (e *Engine) OpenVacancyWindows(ctx context.Context) (int, error) {
	now := e.clock.Now()
	metrics.EvaluatorRuns.WithLabelValues("open_vacancies").Inc()

	var candidates []model.Assignment
	err := e.db.WithContext(ctx).
		Where("status = ?", model.AssignmentUnfilled).
		Where("id NOT IN (?)", e.db.Model(&model.BidWindow{}).
			Select("assignment_id").
			Where("status = ?", model.WindowOpen)).
		Find(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("load unfilled assignments: %w", err)
	}

	opened := 0
	for i := range candidates {
		id := candidates[i].ID
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			a, err := loadAssignmentForUpdate(tx, id)
			if err != nil {
				return err
			}
			if a.Status != model.AssignmentUnfilled {
				return nil // filled since the candidate query
			}
			shiftStart, err := e.shiftStart(a)
			if err != nil {
				return err
			}
			mode, closesAt, err := e.modeForOpen(now, shiftStart)
			if err != nil {
				return err
			}
			if _, err := e.openWindowTx(tx, a, now, mode, closesAt, 0); err != nil {
				return err
			}
			metrics.WindowsOpened.WithLabelValues(string(mode)).Inc()
			opened++
			return nil
		})
		if err != nil {
			metrics.EvaluatorItemErrors.WithLabelValues("open_vacancies").Inc()
			e.log.Warn("open vacancy window failed",
				zap.String("assignment_id", id.String()), zap.Error(err))
		}
	}
	return opened, nil
}

// OpenEmergencyWindow opens an emergency window against a vacant
// assignment, with a pay bonus. Triggered by a no-show or an explicit
// manager action, never by the normal cascade.
func (e *Engine) OpenEmergencyWindow(ctx context.Context, assignmentID uuid.UUID, bonusPercent int) (*model.BidWindow, error) {
	if bonusPercent <= 0 {
		bonusPercent = e.cfg.EmergencyBonusPercent
	}
	now := e.clock.Now()
	var out *model.BidWindow

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := loadAssignmentForUpdate(tx, assignmentID)
		if err != nil {
			return err
		}
		if !vacant(a) {
			return preconditionf("assignment %s is %s, not a vacancy", a.ID, a.Status)
		}
		closesAt := now.Add(time.Duration(e.cfg.EmergencyWindowHours) * time.Hour)
		w, err := e.openWindowTx(tx, a, now, model.ModeEmergency, closesAt, bonusPercent)
		if err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.WindowsOpened.WithLabelValues(string(model.ModeEmergency)).Inc()
	return out, nil
}

// SubmitBid records a driver's pending bid on an open competitive window.
// Uniqueness is per window: a bid on an earlier window for the same
// assignment does not block this one.
func (e *Engine) SubmitBid(ctx context.Context, windowID, driverID uuid.UUID) (*model.Bid, error) {
	now := e.clock.Now()
	var out *model.Bid

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := loadWindowForUpdate(tx, windowID)
		if err != nil {
			return err
		}
		if w.Status != model.WindowOpen {
			return stalef("bid window %s is %s", w.ID, w.Status)
		}
		a, err := loadAssignmentForUpdate(tx, w.AssignmentID)
		if err != nil {
			return err
		}
		shiftStart, err := e.shiftStart(a)
		if err != nil {
			return validationf("%v", err)
		}
		if e.effectiveMode(w, shiftStart) != model.ModeCompetitive {
			return preconditionf("bid window %s resolves first-claim, use claim", w.ID)
		}
		if now.Before(w.OpensAt) || now.After(w.ClosesAt) {
			return preconditionf("bid window %s is outside its open interval", w.ID)
		}
		if err := e.requireEligible(tx, driverID); err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&model.Bid{}).
			Where("bid_window_id = ? AND driver_id = ?", w.ID, driverID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return stalef("driver %s already bid on window %s", driverID, w.ID)
		}

		b := model.Bid{
			ID:           uuid.New(),
			BidWindowID:  w.ID,
			AssignmentID: w.AssignmentID,
			DriverID:     driverID,
			Status:       model.BidPending,
			SubmittedAt:  now,
		}
		if err := tx.Create(&b).Error; err != nil {
			return fmt.Errorf("create bid: %w", err)
		}
		out = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Claim takes an open instant or emergency window, first lock holder wins.
// The conditional transition (window still open, assignment still vacant)
// runs entirely under the window's row lock; a claim that finds either
// condition false fails with a stale-state error, never overwrites.
func (e *Engine) Claim(ctx context.Context, windowID, driverID uuid.UUID) (*model.Assignment, error) {
	now := e.clock.Now()
	var out *model.Assignment
	var queued []uuid.UUID
	var mode model.WindowMode

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := loadWindowForUpdate(tx, windowID)
		if err != nil {
			return err
		}
		if w.Status != model.WindowOpen {
			return stalef("bid window %s is %s", w.ID, w.Status)
		}
		a, err := loadAssignmentForUpdate(tx, w.AssignmentID)
		if err != nil {
			return err
		}
		shiftStart, err := e.shiftStart(a)
		if err != nil {
			return validationf("%v", err)
		}
		mode = e.effectiveMode(w, shiftStart)
		if mode == model.ModeCompetitive {
			return preconditionf("bid window %s is competitive, submit a bid", w.ID)
		}
		if now.Before(w.OpensAt) || now.After(w.ClosesAt) {
			return preconditionf("bid window %s is outside its open interval", w.ID)
		}
		if err := e.requireEligible(tx, driverID); err != nil {
			return err
		}

		won, ids, err := e.resolveWinnerTx(tx, w, a, driverID, now)
		if err != nil {
			return err
		}
		out = won
		queued = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.WindowsResolved.WithLabelValues(string(mode)).Inc()
	e.dispatchAfterCommit(queued)
	e.log.Info("window claimed",
		zap.String("window_id", windowID.String()),
		zap.String("driver_id", driverID.String()))
	return out, nil
}

// ManagerAssign places a driver on a vacancy directly. It uses the same
// locking and conditional-update discipline as Claim: any open window for
// the assignment is resolved to this driver under its lock, and the
// assignment transition is guarded by its current status.
func (e *Engine) ManagerAssign(ctx context.Context, assignmentID, driverID uuid.UUID) (*model.Assignment, error) {
	now := e.clock.Now()
	var out *model.Assignment
	var queued []uuid.UUID

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := loadAssignmentForUpdate(tx, assignmentID)
		if err != nil {
			return err
		}

		var w model.BidWindow
		err = lockForUpdate(tx).
			Where("assignment_id = ? AND status = ?", a.ID, model.WindowOpen).
			First(&w).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			// No live window; assign against the bare vacancy.
			if !vacant(a) {
				return stalef("assignment %s is %s, not a vacancy", a.ID, a.Status)
			}
			won, err := e.fillVacancyTx(tx, a, driverID, model.OriginBid, model.EventBidPickup, now)
			if err != nil {
				return err
			}
			nid, err := queueNotification(tx, driverID, won.ID, model.NotifyManagerAssigned,
				fmt.Sprintf("%q", "A manager placed you on the route for "+won.ShiftDate))
			if err != nil {
				return err
			}
			if nid != nil {
				queued = append(queued, *nid)
			}
			out = won
			return nil
		case err != nil:
			return err
		}

		won, ids, err := e.resolveWinnerTx(tx, &w, a, driverID, now)
		if err != nil {
			return err
		}
		out = won
		queued = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.dispatchAfterCommit(queued)
	e.log.Info("manager assigned driver",
		zap.String("assignment_id", assignmentID.String()),
		zap.String("driver_id", driverID.String()))
	return out, nil
}

// ManagerClose expires an open window without a winner.
func (e *Engine) ManagerClose(ctx context.Context, windowID uuid.UUID) (*model.BidWindow, error) {
	var out *model.BidWindow
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := loadWindowForUpdate(tx, windowID)
		if err != nil {
			return err
		}
		if w.Status != model.WindowOpen {
			return stalef("bid window %s is %s", w.ID, w.Status)
		}
		w.Status = model.WindowExpired
		if err := tx.Save(w).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Bid{}).
			Where("bid_window_id = ? AND status = ?", w.ID, model.BidPending).
			Update("status", model.BidLost).Error; err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveDueWindows processes every open window whose close instant has
// passed: competitive windows are scored (or cascaded to instant when no
// bids exist), instant and emergency windows simply expire unclaimed.
// Each window is its own transaction so one failure leaves the rest
// untouched for the next run.
func (e *Engine) ResolveDueWindows(ctx context.Context) (int, error) {
	now := e.clock.Now()
	metrics.EvaluatorRuns.WithLabelValues("resolve_windows").Inc()

	var due []model.BidWindow
	if err := e.db.WithContext(ctx).
		Where("status = ? AND closes_at <= ?", model.WindowOpen, now).
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("load due windows: %w", err)
	}

	resolved := 0
	for i := range due {
		id := due[i].ID
		var queued []uuid.UUID
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			w, err := loadWindowForUpdate(tx, id)
			if err != nil {
				return err
			}
			if w.Status != model.WindowOpen || w.ClosesAt.After(now) {
				return nil // changed since the candidate query
			}
			didResolve, ids, err := e.closeDueWindowTx(tx, w, now)
			if err != nil {
				return err
			}
			if didResolve {
				resolved++
			}
			queued = ids
			return nil
		})
		if err != nil {
			metrics.EvaluatorItemErrors.WithLabelValues("resolve_windows").Inc()
			e.log.Warn("resolve window failed", zap.String("window_id", id.String()), zap.Error(err))
			continue
		}
		e.dispatchAfterCommit(queued)
	}
	return resolved, nil
}

// closeDueWindowTx handles a single due window inside the caller's
// transaction. The returned IDs are queued outbox notifications for the
// caller to dispatch after commit.
func (e *Engine) closeDueWindowTx(tx *gorm.DB, w *model.BidWindow, now time.Time) (bool, []uuid.UUID, error) {
	a, err := loadAssignmentForUpdate(tx, w.AssignmentID)
	if err != nil {
		return false, nil, err
	}
	shiftStart, err := e.shiftStart(a)
	if err != nil {
		return false, nil, err
	}

	if e.effectiveMode(w, shiftStart) != model.ModeCompetitive {
		// Instant/emergency windows past close are simply over.
		w.Status = model.WindowExpired
		return false, nil, tx.Save(w).Error
	}

	var bids []model.Bid
	if err := tx.Where("bid_window_id = ? AND status = ?", w.ID, model.BidPending).
		Order("submitted_at").
		Find(&bids).Error; err != nil {
		return false, nil, err
	}

	if len(bids) == 0 {
		// Zero-bid cascade: expire and reopen in instant mode, closing at
		// shift start. Past shift start there is nothing left to cascade to.
		w.Status = model.WindowExpired
		if err := tx.Save(w).Error; err != nil {
			return false, nil, err
		}
		if now.Before(shiftStart) {
			if _, err := e.openWindowTx(tx, a, now, model.ModeInstant, shiftStart, 0); err != nil {
				return false, nil, err
			}
			metrics.WindowsOpened.WithLabelValues(string(model.ModeInstant)).Inc()
		}
		return false, nil, nil
	}

	winner, err := e.pickWinner(tx, bids, a, now)
	if err != nil {
		return false, nil, err
	}
	_, queued, err := e.resolveWinnerTx(tx, w, a, winner.DriverID, now)
	if err != nil {
		return false, nil, err
	}
	metrics.WindowsResolved.WithLabelValues(string(model.ModeCompetitive)).Inc()
	return true, queued, nil
}

// resolveWinnerTx is the single atomic unit shared by claim, competitive
// resolution and manager assignment: resolve the window, transition the
// assignment, settle every bid, queue notifications. All of it commits or
// none of it does. The returned IDs are the outbox rows the caller hands to
// the notifier once the transaction lands.
func (e *Engine) resolveWinnerTx(tx *gorm.DB, w *model.BidWindow, a *model.Assignment, winnerID uuid.UUID, now time.Time) (*model.Assignment, []uuid.UUID, error) {
	origin := model.OriginBid
	pickup := model.EventBidPickup
	if w.Mode == model.ModeEmergency {
		origin = model.OriginEmergency
		pickup = model.EventUrgentPickup
	}

	won, err := e.fillVacancyTx(tx, a, winnerID, origin, pickup, now)
	if err != nil {
		return nil, nil, err
	}

	w.Status = model.WindowResolved
	w.WinnerDriverID = &winnerID
	if err := tx.Save(w).Error; err != nil {
		return nil, nil, err
	}

	// Settle every bid on the window in bulk.
	if err := tx.Model(&model.Bid{}).
		Where("bid_window_id = ? AND driver_id = ? AND status = ?", w.ID, winnerID, model.BidPending).
		Update("status", model.BidWon).Error; err != nil {
		return nil, nil, err
	}
	var losers []model.Bid
	if err := tx.Where("bid_window_id = ? AND status = ?", w.ID, model.BidPending).
		Find(&losers).Error; err != nil {
		return nil, nil, err
	}
	if err := tx.Model(&model.Bid{}).
		Where("bid_window_id = ? AND status = ?", w.ID, model.BidPending).
		Update("status", model.BidLost).Error; err != nil {
		return nil, nil, err
	}

	var queued []uuid.UUID
	nid, err := queueNotification(tx, winnerID, won.ID, model.NotifyBidWon,
		fmt.Sprintf("%q", "You won the route for "+won.ShiftDate))
	if err != nil {
		return nil, nil, err
	}
	if nid != nil {
		queued = append(queued, *nid)
	}
	for _, lost := range losers {
		nid, err := queueNotification(tx, lost.DriverID, a.ID, model.NotifyBidLost,
			fmt.Sprintf("%q", "Another driver won the route for "+a.ShiftDate))
		if err != nil {
			return nil, nil, err
		}
		if nid != nil {
			queued = append(queued, *nid)
		}
	}
	return won, queued, nil
}

// fillVacancyTx turns a vacancy into a confirmed assignment for the
// winner. An unfilled target is claimed in place; a terminal target
// (auto-dropped, cancelled, no-show) gets a fresh assignment row for the
// same route and date.
func (e *Engine) fillVacancyTx(tx *gorm.DB, a *model.Assignment, driverID uuid.UUID, origin model.AssignmentOrigin, pickup model.EventKind, now time.Time) (*model.Assignment, error) {
	switch {
	case a.Status == model.AssignmentUnfilled:
		a.Status = model.AssignmentConfirmed
		a.DriverID = &driverID
		a.ConfirmedAt = &now
		a.Origin = origin
		if err := tx.Save(a).Error; err != nil {
			return nil, err
		}
		if err := appendEvent(tx, a, &driverID, pickup, now); err != nil {
			return nil, err
		}
		return a, nil

	case a.Status.Terminal() && a.Status != model.AssignmentCompleted:
		replacement := model.Assignment{
			ID:          uuid.New(),
			RouteID:     a.RouteID,
			ShiftDate:   a.ShiftDate,
			Status:      model.AssignmentConfirmed,
			DriverID:    &driverID,
			Origin:      origin,
			ConfirmedAt: &now,
			Route:       a.Route,
		}
		if err := tx.Create(&replacement).Error; err != nil {
			return nil, err
		}
		if err := appendEvent(tx, &replacement, &driverID, pickup, now); err != nil {
			return nil, err
		}
		return &replacement, nil

	default:
		return nil, stalef("assignment %s is %s, no longer a vacancy", a.ID, a.Status)
	}
}

// vacant reports whether the assignment can still be filled through a
// window: either never filled, or terminated in a way that left the
// route-day uncovered.
func vacant(a *model.Assignment) bool {
	if a.Status == model.AssignmentUnfilled {
		return true
	}
	return a.Status.Terminal() && a.Status != model.AssignmentCompleted
}

// requireEligible bars hard-stopped drivers from bidding and claiming.
func (e *Engine) requireEligible(tx *gorm.DB, driverID uuid.UUID) error {
	var h model.DriverHealth
	err := tx.First(&h, "driver_id = ?", driverID).Error
	if err == gorm.ErrRecordNotFound {
		return nil // no history yet, nothing against them
	}
	if err != nil {
		return err
	}
	if h.HardStop {
		return preconditionf("driver %s is hard-stopped (%s)", driverID, h.HardStopReasons)
	}
	return nil
}
