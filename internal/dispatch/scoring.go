package dispatch

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"driver-dispatch-backend/internal/model"
)

// bidScore is one scored bid at window close.
type bidScore struct {
	Bid   model.Bid
	Score float64
}

// pickWinner scores every pending bid and returns the best one. Highest
// weighted score wins; ties break by earliest submission instant, which
// makes the outcome reproducible from stored data alone. The inputs here
// are score-quality reads, not correctness reads, so they need no lock.
func (e *Engine) pickWinner(tx *gorm.DB, bids []model.Bid, a *model.Assignment, now time.Time) (*model.Bid, error) {
	best := bidScore{Score: -1}
	for _, b := range bids {
		s, err := e.scoreBid(tx, b, a, now)
		if err != nil {
			return nil, err
		}
		e.log.Debug("bid scored",
			zap.String("window_id", b.BidWindowID.String()),
			zap.String("driver_id", b.DriverID.String()),
			zap.Float64("score", s))
		if s > best.Score || (s == best.Score && b.SubmittedAt.Before(best.Bid.SubmittedAt)) {
			best = bidScore{Bid: b, Score: s}
		}
	}
	winner := best.Bid
	return &winner, nil
}

// scoreBid computes
//
//	0.45*health + 0.25*familiarity + 0.15*seniority + 0.15*preference
//
// with each component normalized into [0, 1] by the configured caps.
func (e *Engine) scoreBid(tx *gorm.DB, b model.Bid, a *model.Assignment, now time.Time) (float64, error) {
	health, err := e.healthComponent(tx, b.DriverID)
	if err != nil {
		return 0, err
	}
	familiarity, err := e.familiarityComponent(tx, b.DriverID, a.RouteID)
	if err != nil {
		return 0, err
	}
	seniority, err := e.seniorityComponent(tx, b.DriverID, now)
	if err != nil {
		return 0, err
	}
	preference, err := e.preferenceComponent(tx, b.DriverID, a.RouteID)
	if err != nil {
		return 0, err
	}

	return e.cfg.WeightHealth*health +
		e.cfg.WeightFamiliarity*familiarity +
		e.cfg.WeightSeniority*seniority +
		e.cfg.WeightPreference*preference, nil
}

func (e *Engine) healthComponent(tx *gorm.DB, driverID uuid.UUID) (float64, error) {
	var h model.DriverHealth
	err := tx.First(&h, "driver_id = ?", driverID).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return capped(h.Score / e.cfg.EliteScoreThreshold), nil
}

func (e *Engine) familiarityComponent(tx *gorm.DB, driverID, routeID uuid.UUID) (float64, error) {
	var runs int64
	err := tx.Model(&model.LifecycleEvent{}).
		Where("driver_id = ? AND route_id = ? AND kind = ?", driverID, routeID, model.EventCompleted).
		Count(&runs).Error
	if err != nil {
		return 0, err
	}
	return capped(float64(runs) / float64(e.cfg.FamiliarityRuns)), nil
}

func (e *Engine) seniorityComponent(tx *gorm.DB, driverID uuid.UUID, now time.Time) (float64, error) {
	var d model.Driver
	err := tx.First(&d, "id = ?", driverID).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return capped(float64(d.TenureMonths(now)) / float64(e.cfg.SeniorityMonths)), nil
}

func (e *Engine) preferenceComponent(tx *gorm.DB, driverID, routeID uuid.UUID) (float64, error) {
	var n int64
	err := tx.Model(&model.RoutePreference{}).
		Where("driver_id = ? AND route_id = ? AND rank <= ?", driverID, routeID, e.cfg.PreferredTopN).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 1, nil
	}
	return 0, nil
}

func capped(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
