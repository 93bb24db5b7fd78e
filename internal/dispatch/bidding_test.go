package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"driver-dispatch-backend/internal/model"
)

func openWindowFor(t *testing.T, gdb *gorm.DB, a model.Assignment, mode model.WindowMode, opensAt, closesAt time.Time) model.BidWindow {
	t.Helper()
	w := model.BidWindow{
		ID:           uuid.New(),
		AssignmentID: a.ID,
		Mode:         mode,
		Status:       model.WindowOpen,
		OpensAt:      opensAt,
		ClosesAt:     closesAt,
	}
	require.NoError(t, gdb.Create(&w).Error)
	return w
}

func TestOpenVacancyWindowModeSelection(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)

	t.Run("far-out vacancy opens competitive", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
		setClock(e, start.Add(-72*time.Hour))

		opened, err := e.OpenVacancyWindows(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, opened)

		var w model.BidWindow
		require.NoError(t, gdb.First(&w, "assignment_id = ?", a.ID).Error)
		assert.Equal(t, model.ModeCompetitive, w.Mode)
		assert.Equal(t, model.WindowOpen, w.Status)
		assert.True(t, w.ClosesAt.Equal(start.Add(-24*time.Hour)),
			"competitive windows close 24h before shift start")

		// A second sweep must not open a duplicate.
		opened, err = e.OpenVacancyWindows(context.Background())
		require.NoError(t, err)
		assert.Zero(t, opened)
		var count int64
		require.NoError(t, gdb.Model(&model.BidWindow{}).
			Where("assignment_id = ?", a.ID).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("inside the cutoff opens instant", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
		setClock(e, start.Add(-12*time.Hour))

		_, err := e.OpenVacancyWindows(context.Background())
		require.NoError(t, err)

		var w model.BidWindow
		require.NoError(t, gdb.First(&w, "assignment_id = ?", a.ID).Error)
		assert.Equal(t, model.ModeInstant, w.Mode)
		assert.True(t, w.ClosesAt.Equal(start), "instant windows close at shift start")
	})

	t.Run("exactly at the cutoff opens instant", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
		setClock(e, start.Add(-24*time.Hour))

		_, err := e.OpenVacancyWindows(context.Background())
		require.NoError(t, err)

		var w model.BidWindow
		require.NoError(t, gdb.First(&w, "assignment_id = ?", a.ID).Error)
		assert.Equal(t, model.ModeInstant, w.Mode)
	})

	t.Run("started shift gets no window", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
		setClock(e, start.Add(time.Minute))

		_, err := e.OpenVacancyWindows(context.Background())
		require.NoError(t, err)
		var count int64
		require.NoError(t, gdb.Model(&model.BidWindow{}).
			Where("assignment_id = ?", a.ID).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestSubmitBidRules(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	driver := seedDriver(t, gdb, start.AddDate(-1, 0, 0))
	setClock(e, start.Add(-72*time.Hour))
	now := e.clock.Now()

	t.Run("bid accepted on an open competitive window", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
		w := openWindowFor(t, gdb, a, model.ModeCompetitive, now, start.Add(-24*time.Hour))

		b, err := e.SubmitBid(context.Background(), w.ID, driver.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BidPending, b.Status)

		_, err = e.SubmitBid(context.Background(), w.ID, driver.ID)
		assert.ErrorIs(t, err, ErrStale, "one bid per driver per window")
	})

	t.Run("instant window rejects bids", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
		w := openWindowFor(t, gdb, a, model.ModeInstant, now, start)
		_, err := e.SubmitBid(context.Background(), w.ID, driver.ID)
		assert.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("resolved window conflicts", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
		w := openWindowFor(t, gdb, a, model.ModeCompetitive, now, start.Add(-24*time.Hour))
		require.NoError(t, gdb.Model(&model.BidWindow{}).
			Where("id = ?", w.ID).Update("status", model.WindowResolved).Error)
		_, err := e.SubmitBid(context.Background(), w.ID, driver.ID)
		assert.ErrorIs(t, err, ErrStale)
	})

	t.Run("hard-stopped driver barred", func(t *testing.T) {
		blocked := seedDriver(t, gdb, start.AddDate(-1, 0, 0))
		require.NoError(t, gdb.Create(&model.DriverHealth{
			DriverID: blocked.ID, HardStop: true, HardStopReasons: "no_show",
		}).Error)
		a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
		w := openWindowFor(t, gdb, a, model.ModeCompetitive, now, start.Add(-24*time.Hour))
		_, err := e.SubmitBid(context.Background(), w.ID, blocked.ID)
		assert.ErrorIs(t, err, ErrPrecondition)
	})
}

func TestCompetitiveResolution(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	strong := seedDriver(t, gdb, start.AddDate(-2, 0, 0))
	weak := seedDriver(t, gdb, start.AddDate(0, -1, 0))
	require.NoError(t, gdb.Create(&model.DriverHealth{DriverID: strong.ID, Score: 95}).Error)
	require.NoError(t, gdb.Create(&model.DriverHealth{DriverID: weak.ID, Score: 40}).Error)

	a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
	setClock(e, start.Add(-72*time.Hour))
	_, err := e.OpenVacancyWindows(context.Background())
	require.NoError(t, err)
	var w model.BidWindow
	require.NoError(t, gdb.First(&w, "assignment_id = ?", a.ID).Error)

	_, err = e.SubmitBid(context.Background(), w.ID, weak.ID)
	require.NoError(t, err)
	setClock(e, start.Add(-71*time.Hour))
	_, err = e.SubmitBid(context.Background(), w.ID, strong.ID)
	require.NoError(t, err)

	// Nothing resolves before the close instant.
	setClock(e, w.ClosesAt.Add(-time.Minute))
	resolved, err := e.ResolveDueWindows(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)

	setClock(e, w.ClosesAt.Add(time.Minute))
	resolved, err = e.ResolveDueWindows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got := reloadAssignment(t, gdb, a.ID)
	assert.Equal(t, model.AssignmentConfirmed, got.Status)
	require.NotNil(t, got.DriverID)
	assert.Equal(t, strong.ID, *got.DriverID, "higher weighted score wins")
	assert.Equal(t, model.OriginBid, got.Origin)

	require.NoError(t, gdb.First(&w, "id = ?", w.ID).Error)
	assert.Equal(t, model.WindowResolved, w.Status)
	require.NotNil(t, w.WinnerDriverID)
	assert.Equal(t, strong.ID, *w.WinnerDriverID)

	var bids []model.Bid
	require.NoError(t, gdb.Where("bid_window_id = ?", w.ID).Find(&bids).Error)
	for _, b := range bids {
		if b.DriverID == strong.ID {
			assert.Equal(t, model.BidWon, b.Status)
		} else {
			assert.Equal(t, model.BidLost, b.Status)
		}
	}

	var kinds []model.NotificationKind
	require.NoError(t, gdb.Model(&model.Notification{}).
		Order("kind").Pluck("kind", &kinds).Error)
	assert.ElementsMatch(t, []model.NotificationKind{model.NotifyBidWon, model.NotifyBidLost}, kinds)

	assert.Contains(t, eventKinds(t, gdb, a.ID), model.EventBidPickup)
}

func TestCompetitiveTieBreaksByEarliestBid(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	// Identical profiles: no health rows, same hire date, no preferences.
	hired := start.AddDate(-1, 0, 0)
	early := seedDriver(t, gdb, hired)
	late := seedDriver(t, gdb, hired)

	a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
	w := openWindowFor(t, gdb, a, model.ModeCompetitive,
		start.Add(-96*time.Hour), start.Add(-24*time.Hour))

	setClock(e, start.Add(-80*time.Hour))
	_, err := e.SubmitBid(context.Background(), w.ID, early.ID)
	require.NoError(t, err)
	setClock(e, start.Add(-79*time.Hour))
	_, err = e.SubmitBid(context.Background(), w.ID, late.ID)
	require.NoError(t, err)

	setClock(e, w.ClosesAt.Add(time.Minute))
	_, err = e.ResolveDueWindows(context.Background())
	require.NoError(t, err)

	got := reloadAssignment(t, gdb, a.ID)
	require.NotNil(t, got.DriverID)
	assert.Equal(t, early.ID, *got.DriverID, "ties go to the earliest submission")
}

func TestZeroBidCascadeToInstant(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)

	a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
	w := openWindowFor(t, gdb, a, model.ModeCompetitive,
		start.Add(-96*time.Hour), start.Add(-24*time.Hour))

	setClock(e, start.Add(-23*time.Hour))
	_, err := e.ResolveDueWindows(context.Background())
	require.NoError(t, err)

	require.NoError(t, gdb.First(&w, "id = ?", w.ID).Error)
	assert.Equal(t, model.WindowExpired, w.Status)

	var replacement model.BidWindow
	require.NoError(t, gdb.Where("assignment_id = ? AND status = ?", a.ID, model.WindowOpen).
		First(&replacement).Error)
	assert.Equal(t, model.ModeInstant, replacement.Mode)
	assert.True(t, replacement.ClosesAt.Equal(start))
	assert.Equal(t, model.AssignmentUnfilled, reloadAssignment(t, gdb, a.ID).Status,
		"the vacancy stays open for claims")
}

func TestInstantExpiryHasNoSuccessor(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)

	a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
	w := openWindowFor(t, gdb, a, model.ModeInstant, start.Add(-12*time.Hour), start)

	setClock(e, start.Add(time.Minute))
	_, err := e.ResolveDueWindows(context.Background())
	require.NoError(t, err)

	require.NoError(t, gdb.First(&w, "id = ?", w.ID).Error)
	assert.Equal(t, model.WindowExpired, w.Status)
	var count int64
	require.NoError(t, gdb.Model(&model.BidWindow{}).
		Where("assignment_id = ? AND status = ?", a.ID, model.WindowOpen).
		Count(&count).Error)
	assert.Zero(t, count)
}

func TestClaim(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	first := seedDriver(t, gdb, start.AddDate(-1, 0, 0))
	second := seedDriver(t, gdb, start.AddDate(-1, 0, 0))

	a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
	w := openWindowFor(t, gdb, a, model.ModeInstant, start.Add(-12*time.Hour), start)
	setClock(e, start.Add(-6*time.Hour))

	got, err := e.Claim(context.Background(), w.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentConfirmed, got.Status)
	require.NotNil(t, got.DriverID)
	assert.Equal(t, first.ID, *got.DriverID)

	// The losing side of the race sees a stale-state conflict, never an
	// overwrite.
	_, err = e.Claim(context.Background(), w.ID, second.ID)
	assert.ErrorIs(t, err, ErrStale)
	assert.Equal(t, first.ID, *reloadAssignment(t, gdb, a.ID).DriverID)

	t.Run("competitive window rejects claims", func(t *testing.T) {
		b := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
		cw := openWindowFor(t, gdb, b, model.ModeCompetitive,
			start.Add(-96*time.Hour), start.Add(-24*time.Hour))
		setClock(e, start.Add(-72*time.Hour))
		_, err := e.Claim(context.Background(), cw.ID, first.ID)
		assert.ErrorIs(t, err, ErrPrecondition)
	})
}

func TestEmergencyWindowAndClaim(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	rescuer := seedDriver(t, gdb, start.AddDate(-1, 0, 0))

	// The vacancy appears after shift start (a no-show); only an emergency
	// window can cover it now.
	a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentNoShow)
	setClock(e, start.Add(30*time.Minute))

	w, err := e.OpenEmergencyWindow(context.Background(), a.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, model.ModeEmergency, w.Mode)
	assert.Equal(t, e.cfg.EmergencyBonusPercent, w.BonusPercent)
	assert.True(t, w.ClosesAt.Equal(e.clock.Now().Add(time.Duration(e.cfg.EmergencyWindowHours)*time.Hour)))

	setClock(e, start.Add(time.Hour))
	got, err := e.Claim(context.Background(), w.ID, rescuer.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, got.ID, "a terminal target gets a fresh assignment row")
	assert.Equal(t, model.AssignmentConfirmed, got.Status)
	assert.Equal(t, model.OriginEmergency, got.Origin)
	assert.Equal(t, a.RouteID, got.RouteID)
	assert.Equal(t, a.ShiftDate, got.ShiftDate)
	assert.Contains(t, eventKinds(t, gdb, got.ID), model.EventUrgentPickup)

	t.Run("filled assignment is not a vacancy", func(t *testing.T) {
		_, err := e.OpenEmergencyWindow(context.Background(), got.ID, 0)
		assert.ErrorIs(t, err, ErrPrecondition)
	})
}

func TestManagerAssign(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	chosen := seedDriver(t, gdb, start.AddDate(-1, 0, 0))
	bidder := seedDriver(t, gdb, start.AddDate(-1, 0, 0))

	t.Run("resolves the live window to the chosen driver", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
		w := openWindowFor(t, gdb, a, model.ModeCompetitive,
			start.Add(-96*time.Hour), start.Add(-24*time.Hour))
		setClock(e, start.Add(-72*time.Hour))
		_, err := e.SubmitBid(context.Background(), w.ID, bidder.ID)
		require.NoError(t, err)

		got, err := e.ManagerAssign(context.Background(), a.ID, chosen.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AssignmentConfirmed, got.Status)
		assert.Equal(t, chosen.ID, *got.DriverID)

		require.NoError(t, gdb.First(&w, "id = ?", w.ID).Error)
		assert.Equal(t, model.WindowResolved, w.Status)

		var b model.Bid
		require.NoError(t, gdb.First(&b, "bid_window_id = ? AND driver_id = ?", w.ID, bidder.ID).Error)
		assert.Equal(t, model.BidLost, b.Status)
	})

	t.Run("fills a bare vacancy without a window", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
		setClock(e, start.Add(-72*time.Hour))

		got, err := e.ManagerAssign(context.Background(), a.ID, chosen.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AssignmentConfirmed, got.Status)
	})

	t.Run("occupied assignment conflicts", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &bidder.ID, shiftDate, model.AssignmentConfirmed)
		_, err := e.ManagerAssign(context.Background(), a.ID, chosen.ID)
		assert.ErrorIs(t, err, ErrStale)
	})
}

func TestManagerClose(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	bidder := seedDriver(t, gdb, start.AddDate(-1, 0, 0))

	a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
	w := openWindowFor(t, gdb, a, model.ModeCompetitive,
		start.Add(-96*time.Hour), start.Add(-24*time.Hour))
	setClock(e, start.Add(-72*time.Hour))
	_, err := e.SubmitBid(context.Background(), w.ID, bidder.ID)
	require.NoError(t, err)

	got, err := e.ManagerClose(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WindowExpired, got.Status)
	assert.Nil(t, got.WinnerDriverID)

	var b model.Bid
	require.NoError(t, gdb.First(&b, "bid_window_id = ?", w.ID).Error)
	assert.Equal(t, model.BidLost, b.Status)

	_, err = e.ManagerClose(context.Background(), w.ID)
	assert.ErrorIs(t, err, ErrStale)
}

func TestRebidAllowedOnReopenedWindow(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	driver := seedDriver(t, gdb, start.AddDate(-1, 0, 0))

	a := seedAssignment(t, gdb, route, nil, shiftDate, model.AssignmentUnfilled)
	w := openWindowFor(t, gdb, a, model.ModeCompetitive,
		start.Add(-120*time.Hour), start.Add(-24*time.Hour))
	setClock(e, start.Add(-100*time.Hour))
	_, err := e.SubmitBid(context.Background(), w.ID, driver.ID)
	require.NoError(t, err)

	_, err = e.ManagerClose(context.Background(), w.ID)
	require.NoError(t, err)

	// A fresh window for the same assignment; the stale bid on the first
	// one must not block this one.
	w2 := openWindowFor(t, gdb, a, model.ModeCompetitive,
		start.Add(-99*time.Hour), start.Add(-24*time.Hour))
	setClock(e, start.Add(-98*time.Hour))
	b, err := e.SubmitBid(context.Background(), w2.ID, driver.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BidPending, b.Status)
}
