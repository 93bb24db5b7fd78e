package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"driver-dispatch-backend/internal/timeutil"
)

// Runner invokes the scheduled evaluators on a fixed cadence. Every step
// is idempotent by construction, so a double fire around a timezone
// transition or a rerun after a failed pass is harmless; the runner keeps
// no state the steps depend on.
type Runner struct {
	engine    *Engine
	interval  time.Duration
	log       *zap.Logger
	lastDaily string
	lastWeek  string
}

// NewRunner creates the evaluator loop.
func NewRunner(engine *Engine, interval time.Duration, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{engine: engine, interval: interval, log: log}
}

// Run executes sweeps until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info("dispatch runner starting", zap.Duration("interval", r.interval))
	r.Sweep(ctx)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("dispatch runner shutting down")
			return
		case <-timer.C:
			r.Sweep(ctx)
			timer.Reset(r.interval)
		}
	}
}

// Sweep runs every evaluator once. Failures are logged and left for the
// next pass; they never stop the remaining steps.
func (r *Runner) Sweep(ctx context.Context) {
	if _, err := r.engine.OpenVacancyWindows(ctx); err != nil {
		r.log.Error("open vacancy windows failed", zap.Error(err))
	}
	if err := r.engine.RunConfirmationSweep(ctx); err != nil {
		r.log.Error("confirmation sweep failed", zap.Error(err))
	}
	if _, err := r.engine.ResolveDueWindows(ctx); err != nil {
		r.log.Error("resolve due windows failed", zap.Error(err))
	}
	if err := r.engine.RunNoShowSweep(ctx); err != nil {
		r.log.Error("no-show sweep failed", zap.Error(err))
	}

	now := r.engine.clock.Now()
	today := timeutil.CivilDate(now, r.engine.loc)
	if today != r.lastDaily {
		if err := r.engine.RunDailyScore(ctx); err != nil {
			r.log.Error("daily health score failed", zap.Error(err))
		} else {
			r.lastDaily = today
		}
	}
	week := timeutil.ISOWeek(now, r.engine.loc)
	if week != r.lastWeek {
		if err := r.engine.RunWeeklyScore(ctx); err != nil {
			r.log.Error("weekly health score failed", zap.Error(err))
		} else {
			r.lastWeek = week
		}
	}
}
