package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"driver-dispatch-backend/internal/model"
	"driver-dispatch-backend/internal/timeutil"
)

// PreferenceInput is one entry of a driver's replacement preference list.
type PreferenceInput struct {
	RouteID uuid.UUID
	Rank    int
}

// UpdatePreferences replaces the driver's ranked route preferences for the
// scheduling cycle beginning at weekStart (a Monday civil date). The cycle
// locks at the configured cutover (default Sunday 23:59 operating time)
// immediately before the week starts; the check runs against that active
// cycle's boundary, not the next upcoming cutover, which would leave edits
// open right after the lock.
func (e *Engine) UpdatePreferences(ctx context.Context, driverID uuid.UUID, weekStart string, prefs []PreferenceInput) error {
	day, err := timeutil.ParseDate(weekStart)
	if err != nil {
		return validationf("%v", err)
	}
	if day.Weekday() != time.Monday {
		return validationf("week start %s is not a Monday", weekStart)
	}
	ranks := make(map[int]struct{}, len(prefs))
	for _, p := range prefs {
		if p.Rank < 1 {
			return validationf("preference rank must be positive")
		}
		if _, dup := ranks[p.Rank]; dup {
			return validationf("duplicate preference rank %d", p.Rank)
		}
		ranks[p.Rank] = struct{}{}
	}

	now := e.clock.Now()
	weekStartInstant, err := timeutil.AtHour(weekStart, 0, e.loc)
	if err != nil {
		return validationf("%v", err)
	}
	lockAt := timeutil.ActiveCycleLock(weekStartInstant,
		time.Weekday(e.cfg.LockWeekday), e.cfg.LockHour, e.cfg.LockMinute, e.loc)
	if !now.Before(lockAt) {
		return preconditionf("preferences for the week of %s locked at %s",
			weekStart, lockAt.In(e.loc).Format(time.RFC3339))
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("driver_id = ?", driverID).
			Delete(&model.RoutePreference{}).Error; err != nil {
			return err
		}
		for _, p := range prefs {
			rp := model.RoutePreference{
				DriverID: driverID,
				RouteID:  p.RouteID,
				Rank:     p.Rank,
			}
			if err := tx.Create(&rp).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// PreferencesLocked reports whether edits targeting the cycle beginning at
// weekStart are frozen at the given instant.
func (e *Engine) PreferencesLocked(weekStart string, now time.Time) (bool, error) {
	weekStartInstant, err := timeutil.AtHour(weekStart, 0, e.loc)
	if err != nil {
		return false, validationf("%v", err)
	}
	lockAt := timeutil.ActiveCycleLock(weekStartInstant,
		time.Weekday(e.cfg.LockWeekday), e.cfg.LockHour, e.cfg.LockMinute, e.loc)
	return !now.Before(lockAt), nil
}
