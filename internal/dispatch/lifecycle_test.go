package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driver-dispatch-backend/internal/model"
)

func TestConfirmWindowBoundaries(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	driver := seedDriver(t, gdb, start.AddDate(-1, 0, 0))

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{"opens exactly 7d before", start.Add(-7 * 24 * time.Hour), nil},
		{"one second too early", start.Add(-7*24*time.Hour - time.Second), ErrPrecondition},
		{"closes exactly 48h before", start.Add(-48 * time.Hour), nil},
		{"one second too late", start.Add(-48*time.Hour + time.Second), ErrPrecondition},
		{"midway through the window", start.Add(-96 * time.Hour), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentScheduled)
			setClock(e, tt.at)

			got, err := e.Confirm(context.Background(), a.ID, driver.ID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, model.AssignmentScheduled, reloadAssignment(t, gdb, a.ID).Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.AssignmentConfirmed, got.Status)
			require.NotNil(t, got.ConfirmedAt)
			assert.True(t, got.ConfirmedAt.Equal(tt.at))
			assert.Equal(t, []model.EventKind{model.EventConfirmed}, eventKinds(t, gdb, a.ID))
		})
	}
}

func TestConfirmStateGuards(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	driver := seedDriver(t, gdb, start.AddDate(-1, 0, 0))
	other := seedDriver(t, gdb, start.AddDate(-1, 0, 0))
	setClock(e, start.Add(-72*time.Hour))

	t.Run("already confirmed is a distinct failure", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentScheduled)
		_, err := e.Confirm(context.Background(), a.ID, driver.ID)
		require.NoError(t, err)

		_, err = e.Confirm(context.Background(), a.ID, driver.ID)
		assert.ErrorIs(t, err, ErrPrecondition)
		assert.NotErrorIs(t, err, ErrStale)
	})

	t.Run("terminal state conflicts", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentCancelled)
		_, err := e.Confirm(context.Background(), a.ID, driver.ID)
		assert.ErrorIs(t, err, ErrStale)
	})

	t.Run("another driver's assignment is forbidden", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentScheduled)
		_, err := e.Confirm(context.Background(), a.ID, other.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown assignment", func(t *testing.T) {
		_, err := e.Confirm(context.Background(), uuid.New(), driver.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCancelClassification(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	driver := seedDriver(t, gdb, start.AddDate(-1, 0, 0))

	tests := []struct {
		name      string
		at        time.Time
		wantType  model.CancelType
		wantEvent model.EventKind
	}{
		// The boundary is the exact duration to the shift start instant,
		// inclusive on the late side.
		{"exactly 48h out is late", start.Add(-48 * time.Hour), model.CancelLate, model.EventLateCancel},
		{"one second earlier is early", start.Add(-48*time.Hour - time.Second), model.CancelEarly, model.EventEarlyCancel},
		{"day before is late", start.Add(-20 * time.Hour), model.CancelLate, model.EventLateCancel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentConfirmed)
			setClock(e, tt.at)

			got, err := e.Cancel(context.Background(), a.ID, driver.ID, "family emergency")
			require.NoError(t, err)
			assert.Equal(t, model.AssignmentCancelled, got.Status)
			assert.Equal(t, tt.wantType, got.CancelType)
			assert.Equal(t, []model.EventKind{tt.wantEvent}, eventKinds(t, gdb, a.ID))
		})
	}

	t.Run("terminal assignment cannot cancel", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentCompleted)
		_, err := e.Cancel(context.Background(), a.ID, driver.ID, "too late")
		assert.ErrorIs(t, err, ErrStale)
	})
}

func TestSecondLateCancelTripsHardStop(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	driver := seedDriver(t, gdb, start.AddDate(-1, 0, 0))
	setClock(e, start.Add(-24*time.Hour))

	first := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentConfirmed)
	second := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentConfirmed)

	_, err := e.Cancel(context.Background(), first.ID, driver.ID, "sick")
	require.NoError(t, err)
	var stopped int64
	require.NoError(t, gdb.Model(&model.DriverHealth{}).
		Where("driver_id = ? AND hard_stop = ?", driver.ID, true).
		Count(&stopped).Error)
	assert.Zero(t, stopped, "one late cancellation is under the limit")

	_, err = e.Cancel(context.Background(), second.ID, driver.ID, "sick again")
	require.NoError(t, err)
	h := reloadHealth(t, gdb, driver.ID)
	assert.True(t, h.HardStop)
	assert.Contains(t, h.HardStopReasons, "late_cancellations")
	assert.LessOrEqual(t, h.Score, e.cfg.HealthyThreshold-1)
	assert.Zero(t, h.Stars)
	assert.Zero(t, h.StreakWeeks)
}

func TestArriveDeadline(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	deadline := shiftStartAt(t, e, shiftDate) // default arrival hour == start hour
	route := seedRoute(t, gdb)
	driver := seedDriver(t, gdb, deadline.AddDate(-1, 0, 0))

	t.Run("before the deadline on the shift day", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentConfirmed)
		setClock(e, deadline.Add(-time.Minute))

		got, err := e.Arrive(context.Background(), a.ID, driver.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AssignmentArrived, got.Status)
		require.NotNil(t, got.ArrivedAt)
	})

	t.Run("at the deadline is too late", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentConfirmed)
		setClock(e, deadline)
		_, err := e.Arrive(context.Background(), a.ID, driver.ID)
		assert.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("after the deadline", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentConfirmed)
		setClock(e, deadline.Add(time.Minute))
		_, err := e.Arrive(context.Background(), a.ID, driver.ID)
		assert.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("wrong calendar day", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentConfirmed)
		setClock(e, deadline.AddDate(0, 0, -1))
		_, err := e.Arrive(context.Background(), a.ID, driver.ID)
		assert.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("unconfirmed cannot arrive", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentScheduled)
		setClock(e, deadline.Add(-time.Minute))
		_, err := e.Arrive(context.Background(), a.ID, driver.ID)
		assert.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("emergency fill is exempt from the deadline", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentConfirmed)
		require.NoError(t, gdb.Model(&model.Assignment{}).Where("id = ?", a.ID).
			Update("origin", model.OriginEmergency).Error)
		setClock(e, deadline.Add(2*time.Hour))

		got, err := e.Arrive(context.Background(), a.ID, driver.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AssignmentArrived, got.Status)
	})
}

func TestStartCompleteAndCountEdits(t *testing.T) {
	e, gdb := newTestEngine(t, time.Time{})
	start := shiftStartAt(t, e, shiftDate)
	route := seedRoute(t, gdb)
	driver := seedDriver(t, gdb, start.AddDate(-1, 0, 0))

	newArrived := func(t *testing.T) model.Assignment {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentConfirmed)
		setClock(e, start.Add(-30*time.Minute))
		_, err := e.Arrive(context.Background(), a.ID, driver.ID)
		require.NoError(t, err)
		return a
	}

	t.Run("full run through completion", func(t *testing.T) {
		a := newArrived(t)
		setClock(e, start)
		_, err := e.Start(context.Background(), a.ID, driver.ID)
		require.NoError(t, err)

		setClock(e, start.Add(8*time.Hour))
		got, err := e.Complete(context.Background(), a.ID, driver.ID, 87, 3)
		require.NoError(t, err)
		assert.Equal(t, model.AssignmentCompleted, got.Status)
		assert.Equal(t, 87, got.ParcelsDelivered)
		assert.Equal(t, 3, got.ParcelsReturned)
		assert.Equal(t,
			[]model.EventKind{model.EventArrived, model.EventStarted, model.EventCompleted},
			eventKinds(t, gdb, a.ID))
	})

	t.Run("high-volume day earns an extra ledger event", func(t *testing.T) {
		a := newArrived(t)
		setClock(e, start)
		_, err := e.Start(context.Background(), a.ID, driver.ID)
		require.NoError(t, err)

		setClock(e, start.Add(9*time.Hour))
		_, err = e.Complete(context.Background(), a.ID, driver.ID, e.cfg.HighVolumeParcels, 0)
		require.NoError(t, err)
		assert.Contains(t, eventKinds(t, gdb, a.ID), model.EventHighVolume)
	})

	t.Run("counts stay editable inside the edit window", func(t *testing.T) {
		a := newArrived(t)
		setClock(e, start)
		_, err := e.Start(context.Background(), a.ID, driver.ID)
		require.NoError(t, err)
		completedAt := start.Add(8 * time.Hour)
		setClock(e, completedAt)
		_, err = e.Complete(context.Background(), a.ID, driver.ID, 80, 5)
		require.NoError(t, err)

		setClock(e, completedAt.Add(time.Duration(e.cfg.CompletionEditMinutes)*time.Minute))
		got, err := e.UpdateCounts(context.Background(), a.ID, driver.ID, 81, 4)
		require.NoError(t, err)
		assert.Equal(t, 81, got.ParcelsDelivered)

		setClock(e, completedAt.Add(time.Duration(e.cfg.CompletionEditMinutes)*time.Minute+time.Second))
		_, err = e.UpdateCounts(context.Background(), a.ID, driver.ID, 82, 4)
		assert.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("cannot start without arriving", func(t *testing.T) {
		a := seedAssignment(t, gdb, route, &driver.ID, shiftDate, model.AssignmentConfirmed)
		setClock(e, start)
		_, err := e.Start(context.Background(), a.ID, driver.ID)
		assert.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("negative counts rejected", func(t *testing.T) {
		a := newArrived(t)
		setClock(e, start)
		_, err := e.Start(context.Background(), a.ID, driver.ID)
		require.NoError(t, err)
		_, err = e.Complete(context.Background(), a.ID, driver.ID, -1, 0)
		assert.ErrorIs(t, err, ErrValidation)
	})
}
