package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"driver-dispatch-backend/config"
	"driver-dispatch-backend/internal/metrics"
	"driver-dispatch-backend/internal/model"
	"driver-dispatch-backend/internal/notify"
	"driver-dispatch-backend/internal/timeutil"
)

// Engine owns every state-changing operation on assignments, bid windows
// and driver health. All mutations run inside one transaction with the
// touched assignment/window row locked for the read-decide-write sequence;
// notification delivery happens strictly after commit.
type Engine struct {
	db       *gorm.DB
	cfg      *config.DispatchConfig
	loc      *time.Location
	clock    timeutil.Clock
	notifier notify.Notifier
	log      *zap.Logger
}

// NewEngine creates the dispatch engine. The notifier may be nil, in which
// case queued notifications stay in the outbox until a later drain.
func NewEngine(db *gorm.DB, cfg *config.DispatchConfig, clock timeutil.Clock, notifier notify.Notifier, log *zap.Logger) *Engine {
	if clock == nil {
		clock = timeutil.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		db:       db,
		cfg:      cfg,
		loc:      cfg.Location(),
		clock:    clock,
		notifier: notifier,
		log:      log,
	}
}

// DB exposes the underlying handle for the read-only API surface.
func (e *Engine) DB() *gorm.DB { return e.db }

// lockForUpdate applies a row-level exclusive lock. SQLite has no FOR
// UPDATE; its single-writer model already serializes the transaction, so
// the clause is only emitted on other dialects.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// loadAssignmentForUpdate fetches the assignment row under an exclusive
// lock, with its route preloaded for deadline arithmetic.
func loadAssignmentForUpdate(tx *gorm.DB, id uuid.UUID) (*model.Assignment, error) {
	var a model.Assignment
	if err := lockForUpdate(tx).First(&a, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFoundf("assignment %s", id)
		}
		return nil, err
	}
	if err := tx.First(&a.Route, "id = ?", a.RouteID).Error; err != nil {
		return nil, fmt.Errorf("load route %s: %w", a.RouteID, err)
	}
	return &a, nil
}

// loadWindowForUpdate fetches the bid window row under an exclusive lock.
func loadWindowForUpdate(tx *gorm.DB, id uuid.UUID) (*model.BidWindow, error) {
	var w model.BidWindow
	if err := lockForUpdate(tx).First(&w, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFoundf("bid window %s", id)
		}
		return nil, err
	}
	return &w, nil
}

// startHour and arrivalHour fall back to the configured defaults when the
// route does not set its own.
func (e *Engine) startHour(r *model.Route) int {
	if r.StartHour > 0 {
		return r.StartHour
	}
	return e.cfg.DefaultStartHour
}

func (e *Engine) arrivalHour(r *model.Route) int {
	if r.ArrivalHour > 0 {
		return r.ArrivalHour
	}
	return e.cfg.DefaultArrivalHour
}

// shiftStart resolves the assignment's true shift start instant from its
// civil date and the route's start hour, in the operating timezone.
func (e *Engine) shiftStart(a *model.Assignment) (time.Time, error) {
	return timeutil.AtHour(a.ShiftDate, e.startHour(&a.Route), e.loc)
}

// arrivalDeadline resolves the assignment's arrival deadline instant.
func (e *Engine) arrivalDeadline(a *model.Assignment) (time.Time, error) {
	return timeutil.AtHour(a.ShiftDate, e.arrivalHour(&a.Route), e.loc)
}

// appendEvent writes one ledger row inside the caller's transaction.
func appendEvent(tx *gorm.DB, a *model.Assignment, driverID *uuid.UUID, kind model.EventKind, at time.Time) error {
	ev := model.LifecycleEvent{
		ID:           uuid.New(),
		AssignmentID: a.ID,
		RouteID:      a.RouteID,
		DriverID:     driverID,
		Kind:         kind,
		OccurredAt:   at,
	}
	if err := tx.Create(&ev).Error; err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	return nil
}

// queueNotification inserts an outbox row inside the caller's transaction.
// The dedupe index makes the insert a no-op when the same driver already
// has a notification of this kind for this assignment; the returned ID is
// nil in that case so nothing is re-dispatched.
func queueNotification(tx *gorm.DB, driverID, assignmentID uuid.UUID, kind model.NotificationKind, payload string) (*uuid.UUID, error) {
	n := model.Notification{
		ID:           uuid.New(),
		DriverID:     driverID,
		AssignmentID: assignmentID,
		Kind:         kind,
		Payload:      payload,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "driver_id"}, {Name: "assignment_id"}, {Name: "kind"}},
		DoNothing: true,
	}).Create(&n)
	if res.Error != nil {
		return nil, fmt.Errorf("queue %s notification: %w", kind, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &n.ID, nil
}

// dispatchAfterCommit hands committed outbox rows to the notifier. Failures
// here never reach the caller; the durable mutation already succeeded.
func (e *Engine) dispatchAfterCommit(ids []uuid.UUID) {
	if e.notifier == nil {
		return
	}
	for _, id := range ids {
		e.notifier.Dispatch(id)
	}
	if len(ids) > 0 {
		metrics.NotificationsQueued.Add(float64(len(ids)))
	}
}
