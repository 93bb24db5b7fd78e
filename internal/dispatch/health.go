package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"driver-dispatch-backend/internal/metrics"
	"driver-dispatch-backend/internal/model"
	"driver-dispatch-backend/internal/timeutil"
)

// Additive contributions per ledger event, summed over the rolling window
// on top of the baseline. Early cancellations are deliberately neutral:
// only cancellations classified late count against a driver.
const scoreBaseline = 50.0

var eventContribution = map[model.EventKind]float64{
	model.EventConfirmed:    2,
	model.EventArrived:      3,
	model.EventCompleted:    5,
	model.EventHighVolume:   3,
	model.EventBidPickup:    4,
	model.EventUrgentPickup: 6,
	model.EventLateCancel:   -12,
	model.EventAutoDrop:     -8,
}

// applyHardStop caps the driver's score below the healthy threshold and
// resets star progression, in the caller's transaction so it lands
// atomically with the triggering event. The version bump turns any
// in-flight daily recompute into a no-op.
func (e *Engine) applyHardStop(tx *gorm.DB, driverID uuid.UUID, reason string, now time.Time) error {
	h, err := loadOrCreateHealth(tx, driverID)
	if err != nil {
		return err
	}
	h.HardStop = true
	if !strings.Contains(h.HardStopReasons, reason) {
		if h.HardStopReasons != "" {
			h.HardStopReasons += ","
		}
		h.HardStopReasons += reason
	}
	capScore := e.cfg.HealthyThreshold - 1
	if h.Score > capScore {
		h.Score = capScore
	}
	h.Stars = 0
	h.StreakWeeks = 0
	h.LastResetAt = &now
	h.Version++
	if err := tx.Save(h).Error; err != nil {
		return fmt.Errorf("apply hard stop for driver %s: %w", driverID, err)
	}
	e.log.Warn("hard stop applied",
		zap.String("driver_id", driverID.String()),
		zap.String("reason", reason))
	return nil
}

// checkLateCancelHardStop trips the hard stop when the driver reaches the
// late-cancellation limit inside the rolling window. Called in the same
// transaction that records the late cancellation.
func (e *Engine) checkLateCancelHardStop(tx *gorm.DB, driverID uuid.UUID, now time.Time) error {
	since := now.AddDate(0, 0, -e.cfg.LateCancelDays)
	var lateCancels int64
	if err := tx.Model(&model.LifecycleEvent{}).
		Where("driver_id = ? AND kind = ? AND occurred_at > ?", driverID, model.EventLateCancel, since).
		Count(&lateCancels).Error; err != nil {
		return err
	}
	if int(lateCancels) >= e.cfg.LateCancelLimit {
		return e.applyHardStop(tx, driverID, "late_cancellations", now)
	}
	return nil
}

// RunDailyScore recomputes each driver's score from the contribution
// ledger. The write is conditioned on the version being unchanged since
// the read: an event-triggered hard stop that lands mid-recompute wins,
// and the stale daily result is discarded.
func (e *Engine) RunDailyScore(ctx context.Context) error {
	now := e.clock.Now()
	metrics.EvaluatorRuns.WithLabelValues("health_daily").Inc()
	since := now.AddDate(0, 0, -e.cfg.LateCancelDays)

	driverIDs, err := e.driversWithHistory(ctx)
	if err != nil {
		return err
	}

	for _, driverID := range driverIDs {
		if err := e.dailyScoreOne(ctx, driverID, since, now); err != nil {
			metrics.EvaluatorItemErrors.WithLabelValues("health_daily").Inc()
			e.log.Warn("daily score failed",
				zap.String("driver_id", driverID.String()), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) dailyScoreOne(ctx context.Context, driverID uuid.UUID, since, now time.Time) error {
	db := e.db.WithContext(ctx)

	var h model.DriverHealth
	err := db.First(&h, "driver_id = ?", driverID).Error
	if err == gorm.ErrRecordNotFound {
		h = model.DriverHealth{DriverID: driverID}
		if err := db.Create(&h).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	readVersion := h.Version

	var events []model.LifecycleEvent
	if err := db.Where("driver_id = ? AND occurred_at > ?", driverID, since).
		Find(&events).Error; err != nil {
		return err
	}

	score := scoreBaseline
	noShows := 0
	lateCancels := 0
	for _, ev := range events {
		score += eventContribution[ev.Kind]
		switch ev.Kind {
		case model.EventNoShow:
			noShows++
		case model.EventLateCancel:
			lateCancels++
		}
	}
	if score < 0 {
		score = 0
	}
	if score > e.cfg.MaxScore {
		score = e.cfg.MaxScore
	}

	// The hard stop itself activates at event time; the batch only keeps
	// the cap in force while qualifying events remain in the window, and
	// releases it once they age out.
	hardStop := noShows > 0 || lateCancels >= e.cfg.LateCancelLimit
	updates := map[string]any{
		"score":            score,
		"hard_stop":        hardStop,
		"last_daily_run_at": &now,
		"version":          readVersion + 1,
	}
	if hardStop && score > e.cfg.HealthyThreshold-1 {
		updates["score"] = e.cfg.HealthyThreshold - 1
	}
	if !hardStop {
		updates["hard_stop_reasons"] = ""
	}

	res := db.Model(&model.DriverHealth{}).
		Where("driver_id = ? AND version = ?", driverID, readVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		e.log.Debug("daily score discarded, version moved",
			zap.String("driver_id", driverID.String()))
	}
	return nil
}

// RunWeeklyScore evaluates the just-completed week for streak and star
// progression. A week with zero assignments is neutral. Idempotent per
// week: a driver already evaluated for the week is skipped.
func (e *Engine) RunWeeklyScore(ctx context.Context) error {
	now := e.clock.Now()
	metrics.EvaluatorRuns.WithLabelValues("health_weekly").Inc()

	weekStart, weekEnd := timeutil.WeekBounds(now.AddDate(0, 0, -7), e.loc)
	weekKey := timeutil.ISOWeek(weekStart, e.loc)

	driverIDs, err := e.driversWithHistory(ctx)
	if err != nil {
		return err
	}

	for _, driverID := range driverIDs {
		if err := e.weeklyScoreOne(ctx, driverID, weekStart, weekEnd, weekKey); err != nil {
			metrics.EvaluatorItemErrors.WithLabelValues("health_weekly").Inc()
			e.log.Warn("weekly score failed",
				zap.String("driver_id", driverID.String()), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) weeklyScoreOne(ctx context.Context, driverID uuid.UUID, weekStart, weekEnd time.Time, weekKey string) error {
	db := e.db.WithContext(ctx)

	var h model.DriverHealth
	err := db.First(&h, "driver_id = ?", driverID).Error
	if err == gorm.ErrRecordNotFound {
		h = model.DriverHealth{DriverID: driverID}
		if err := db.Create(&h).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	if h.LastWeeklyWeek == weekKey {
		return nil // already evaluated
	}
	readVersion := h.Version

	startDate := timeutil.CivilDate(weekStart, e.loc)
	endDate := timeutil.CivilDate(weekEnd, e.loc)

	var assignments []model.Assignment
	if err := db.Where("driver_id = ? AND shift_date >= ? AND shift_date < ?", driverID, startDate, endDate).
		Find(&assignments).Error; err != nil {
		return err
	}

	streak := h.StreakWeeks
	stars := h.Stars
	if len(assignments) > 0 {
		if qualifyingWeek(assignments) && !h.HardStop {
			streak++
			if streak%e.cfg.StreakWeeksPerStar == 0 && stars < e.cfg.MaxStars {
				stars++
			}
		} else {
			streak = 0
		}
	}
	// Zero-assignment weeks leave streak and stars untouched.

	res := db.Model(&model.DriverHealth{}).
		Where("driver_id = ? AND version = ?", driverID, readVersion).
		Updates(map[string]any{
			"streak_weeks":     streak,
			"stars":            stars,
			"last_weekly_week": weekKey,
			"version":          readVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		e.log.Debug("weekly score discarded, version moved",
			zap.String("driver_id", driverID.String()))
	}
	return nil
}

// qualifyingWeek: 100% attendance, at least 95% completion, zero no-shows
// and zero late cancellations.
func qualifyingWeek(assignments []model.Assignment) bool {
	total := 0
	completed := 0
	for _, a := range assignments {
		switch a.Status {
		case model.AssignmentNoShow, model.AssignmentAutoDropped:
			return false
		case model.AssignmentCancelled:
			if a.CancelType == model.CancelLate {
				return false
			}
			continue // early cancellations drop out of the denominator
		}
		total++
		if a.Status == model.AssignmentCompleted {
			completed++
		}
	}
	if total == 0 {
		return false
	}
	return float64(completed)/float64(total) >= 0.95
}

// driversWithHistory lists every driver with at least one ledger event or
// an existing health row.
func (e *Engine) driversWithHistory(ctx context.Context) ([]uuid.UUID, error) {
	db := e.db.WithContext(ctx)

	var fromEvents []uuid.UUID
	if err := db.Model(&model.LifecycleEvent{}).
		Where("driver_id IS NOT NULL").
		Distinct().
		Pluck("driver_id", &fromEvents).Error; err != nil {
		return nil, fmt.Errorf("list drivers with events: %w", err)
	}
	var fromHealth []uuid.UUID
	if err := db.Model(&model.DriverHealth{}).
		Pluck("driver_id", &fromHealth).Error; err != nil {
		return nil, fmt.Errorf("list drivers with health rows: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(fromEvents)+len(fromHealth))
	var out []uuid.UUID
	for _, id := range append(fromEvents, fromHealth...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// loadOrCreateHealth fetches the driver's health row under lock, creating
// it on first scorable event.
func loadOrCreateHealth(tx *gorm.DB, driverID uuid.UUID) (*model.DriverHealth, error) {
	var h model.DriverHealth
	err := lockForUpdate(tx).First(&h, "driver_id = ?", driverID).Error
	if err == gorm.ErrRecordNotFound {
		h = model.DriverHealth{DriverID: driverID}
		if err := tx.Create(&h).Error; err != nil {
			return nil, err
		}
		return &h, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}
