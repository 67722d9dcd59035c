// Package retention runs the janitor sweeps that bound check_results and
// alerts history. It is orthogonal to the Scheduler: a separate
// github.com/robfig/cron/v3 clock drives it instead of the tick loop.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Store is the subset of the State Store the sweeper drives.
type Store interface {
	RetentionSweep(ctx context.Context, checkResultHorizon, alertHorizon time.Time) (checkResultsDeleted, alertsDeleted int64, err error)
}

// Horizons bounds one sweep: the absolute cap from configuration and a
// per-plan cap. The source's "every 6h per-plan" sweep was a stub with no
// deterministic interaction with the absolute cap; this sweeper normalizes
// the two into a single effective horizon by taking the stricter (more
// recent) of the two cut-off times, i.e. the smaller day count.
type Horizons struct {
	AbsoluteCheckResultDays int
	AbsoluteAlertDays       int
	PerPlanCheckResultDays  int
	PerPlanAlertDays        int
}

// Sweeper wraps a cron.Cron running two absolute-cap sweeps and the
// per-plan reconciliation sweep on independent schedules. Every sweep
// deletes from both check_results and alerts.
type Sweeper struct {
	store    Store
	horizons Horizons
	logger   *slog.Logger
	clock    *cron.Cron
}

// New constructs a Sweeper. checkResultsCron and alertsCron are standard
// 5-field cron expressions for the absolute-cap sweeps; each of those runs
// applies the absolute caps to both check results and alerts. perPlanCron drives
// the per-plan reconciliation sweep that applies the stricter-of-two-caps
// normalization to both entities in one pass.
func New(store Store, horizons Horizons, checkResultsCron, alertsCron, perPlanCron string, logger *slog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		store:    store,
		horizons: horizons,
		logger:   logger,
		clock:    cron.New(),
	}

	if _, err := s.clock.AddFunc(checkResultsCron, s.sweepCheckResultsAbsolute); err != nil {
		return nil, err
	}
	if _, err := s.clock.AddFunc(alertsCron, s.sweepAlertsAbsolute); err != nil {
		return nil, err
	}
	if _, err := s.clock.AddFunc(perPlanCron, s.sweepPerPlan); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins the cron clock. It does not block; call Stop during shutdown.
func (s *Sweeper) Start() {
	s.logger.Info("retention sweeper started")
	s.clock.Start()
}

// Stop halts the cron clock and waits for any sweep in progress to finish.
func (s *Sweeper) Stop(ctx context.Context) {
	stopCtx := s.clock.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.logger.Warn("retention sweeper: stop deadline exceeded, abandoning in-flight sweep")
	}
}

func (s *Sweeper) sweepCheckResultsAbsolute() {
	now := time.Now().UTC()
	horizon := now.AddDate(0, 0, -s.horizons.AbsoluteCheckResultDays)
	s.runSweep(horizon, now.AddDate(0, 0, -s.horizons.AbsoluteAlertDays), "absolute")
}

func (s *Sweeper) sweepAlertsAbsolute() {
	now := time.Now().UTC()
	s.runSweep(now.AddDate(0, 0, -s.horizons.AbsoluteCheckResultDays), now.AddDate(0, 0, -s.horizons.AbsoluteAlertDays), "absolute")
}

// sweepPerPlan applies EffectiveHorizon for both entities: the stricter of
// the absolute cap and the per-plan cap wins, per the Open Question
// resolution.
func (s *Sweeper) sweepPerPlan() {
	now := time.Now().UTC()
	checkResultHorizon := EffectiveHorizon(now, s.horizons.AbsoluteCheckResultDays, s.horizons.PerPlanCheckResultDays)
	alertHorizon := EffectiveHorizon(now, s.horizons.AbsoluteAlertDays, s.horizons.PerPlanAlertDays)
	s.runSweep(checkResultHorizon, alertHorizon, "per_plan")
}

func (s *Sweeper) runSweep(checkResultHorizon, alertHorizon time.Time, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	checkResultsDeleted, alertsDeleted, err := s.store.RetentionSweep(ctx, checkResultHorizon, alertHorizon)
	if err != nil {
		s.logger.Error("retention sweep failed", "reason", reason, "error", err)
		return
	}

	s.logger.Info("retention sweep completed",
		"reason", reason,
		"check_results_deleted", checkResultsDeleted,
		"alerts_deleted", alertsDeleted,
		"check_result_horizon", checkResultHorizon,
		"alert_horizon", alertHorizon,
	)
}

// EffectiveHorizon returns the stricter (more recent, i.e. larger) of the two
// horizons implied by an absolute day cap and a per-plan day cap: the
// smaller day count wins because it keeps less history.
func EffectiveHorizon(now time.Time, absoluteDays, perPlanDays int) time.Time {
	days := absoluteDays
	if perPlanDays < days {
		days = perPlanDays
	}
	return now.AddDate(0, 0, -days)
}
