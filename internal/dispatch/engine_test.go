package dispatch

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"driver-dispatch-backend/config"
	"driver-dispatch-backend/internal/db"
	"driver-dispatch-backend/internal/model"
	"driver-dispatch-backend/internal/timeutil"
)

// shiftDate is a Friday; most tests pin the clock relative to its 09:00
// shift start in the operating timezone.
const shiftDate = "2026-03-20"

func testPolicy() *config.DispatchConfig {
	cfg := &config.DispatchConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// newTestEngine builds an engine on an in-memory SQLite database with the
// clock frozen at the given instant. Each test gets its own named database
// so parallel tests never share state.
func newTestEngine(t *testing.T, at time.Time) (*Engine, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		sqlDB, _ := gdb.DB()
		sqlDB.Close()
	})

	e := NewEngine(gdb, testPolicy(), timeutil.Fixed{T: at}, nil, nil)
	return e, gdb
}

// setClock moves the engine's frozen clock.
func setClock(e *Engine, at time.Time) {
	e.clock = timeutil.Fixed{T: at}
}

// shiftStartAt resolves the default 09:00 shift start for a civil date in
// the engine's operating timezone.
func shiftStartAt(t *testing.T, e *Engine, date string) time.Time {
	t.Helper()
	start, err := timeutil.AtHour(date, e.cfg.DefaultStartHour, e.loc)
	require.NoError(t, err)
	return start
}

func seedRoute(t *testing.T, gdb *gorm.DB) model.Route {
	t.Helper()
	r := model.Route{ID: uuid.New(), Name: "Route " + uuid.NewString()[:8]}
	require.NoError(t, gdb.Create(&r).Error)
	return r
}

func seedDriver(t *testing.T, gdb *gorm.DB, hiredAt time.Time) model.Driver {
	t.Helper()
	d := model.Driver{ID: uuid.New(), Name: "Driver " + uuid.NewString()[:8], HiredAt: hiredAt}
	require.NoError(t, gdb.Create(&d).Error)
	return d
}

func seedAssignment(t *testing.T, gdb *gorm.DB, route model.Route, driverID *uuid.UUID, date string, status model.AssignmentStatus) model.Assignment {
	t.Helper()
	a := model.Assignment{
		ID:        uuid.New(),
		RouteID:   route.ID,
		ShiftDate: date,
		Status:    status,
		DriverID:  driverID,
		Origin:    model.OriginScheduled,
	}
	require.NoError(t, gdb.Create(&a).Error)
	return a
}

func eventKinds(t *testing.T, gdb *gorm.DB, assignmentID uuid.UUID) []model.EventKind {
	t.Helper()
	var events []model.LifecycleEvent
	require.NoError(t, gdb.Where("assignment_id = ?", assignmentID).
		Order("occurred_at, created_at").Find(&events).Error)
	kinds := make([]model.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func reloadAssignment(t *testing.T, gdb *gorm.DB, id uuid.UUID) model.Assignment {
	t.Helper()
	var a model.Assignment
	require.NoError(t, gdb.First(&a, "id = ?", id).Error)
	return a
}

func reloadHealth(t *testing.T, gdb *gorm.DB, driverID uuid.UUID) model.DriverHealth {
	t.Helper()
	var h model.DriverHealth
	require.NoError(t, gdb.First(&h, "driver_id = ?", driverID).Error)
	return h
}
