// Package scheduler runs the tick loop that selects due endpoints, enforces
// max-concurrent checks, dispatches to the Prober, and pipes results into the
// Incident Engine.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/pulsecheck/internal/telemetry"
	"github.com/wisbric/pulsecheck/pkg/monitor"
)

// Store is the subset of the State Store the Scheduler drives.
type Store interface {
	DueEndpoints(ctx context.Context, now time.Time) ([]monitor.Endpoint, error)
}

// Prober executes one check against an endpoint.
type Prober interface {
	Probe(ctx context.Context, endpoint monitor.Endpoint) monitor.CheckResult
}

// IncidentEngine consumes the probe outcome.
type IncidentEngine interface {
	Process(ctx context.Context, endpoint monitor.Endpoint, result monitor.CheckResult) error
}

// Scheduler is the tick loop. Exactly one instance runs process-wide.
// Per-endpoint mutual exclusion is an in-process set of in-flight endpoint
// ids (sync.Map), not a lock-per-endpoint map — this avoids an unbounded
// lock map and hands cancellation a single chokepoint.
type Scheduler struct {
	store    Store
	prober   Prober
	incident IncidentEngine
	logger   *slog.Logger

	tickInterval time.Duration
	maxInFlight  int

	inFlight sync.Map // endpoint id -> struct{}
	sem      chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Scheduler. maxConcurrentChecks bounds the worker
// semaphore (MAX_CONCURRENT_CHECKS).
func New(store Store, prober Prober, incidentEngine IncidentEngine, tickInterval time.Duration, maxConcurrentChecks int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        store,
		prober:       prober,
		incident:     incidentEngine,
		logger:       logger,
		tickInterval: tickInterval,
		maxInFlight:  maxConcurrentChecks,
		sem:          make(chan struct{}, maxConcurrentChecks),
	}
}

// Run blocks, ticking every tickInterval, until ctx is cancelled. On
// cancellation it stops admitting new work and returns once in-flight
// workers have drained (the caller is expected to bound this with its own
// grace period via a derived context or by racing Run's return against a
// timer).
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "tick_interval", s.tickInterval, "max_concurrent_checks", s.maxInFlight)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, waiting for in-flight checks to drain")
			s.wg.Wait()
			return
		case <-ticker.C:
			telemetry.SchedulerTicksTotal.Inc()
			s.tick(ctx)
		}
	}
}

// tick asks the State Store for due endpoints and admits as many as the
// concurrency budget allows. Backpressure is by admission, not queue growth:
// endpoints that don't fit this tick are simply left for the next one.
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.DueEndpoints(ctx, time.Now())
	if err != nil {
		s.logger.Error("scheduler: listing due endpoints", "error", err)
		return
	}

	admitted := 0
	for _, endpoint := range due {
		if ctx.Err() != nil {
			return
		}

		if _, alreadyInFlight := s.inFlight.LoadOrStore(endpoint.ID, struct{}{}); alreadyInFlight {
			continue
		}

		select {
		case s.sem <- struct{}{}:
			admitted++
			s.dispatch(ctx, endpoint)
		default:
			s.inFlight.Delete(endpoint.ID)
			telemetry.SchedulerDueSkippedTotal.Inc()
			s.logger.Warn("scheduler: concurrency budget exhausted, deferring to next tick",
				"endpoint_id", endpoint.ID, "due_count", len(due), "admitted", admitted)
		}
	}

	telemetry.SchedulerInFlightGauge.Set(float64(admitted))
}

// dispatch runs one endpoint's probe-classify-incident pipeline on its own
// goroutine. The in-flight mark and semaphore slot are released in a
// defer/recover scope equivalent to a finally clause, so a panicked worker
// never stalls the scheduler or leaks either resource.
func (s *Scheduler) dispatch(ctx context.Context, endpoint monitor.Endpoint) {
	s.wg.Add(1)
	telemetry.SchedulerInFlightGauge.Inc()
	go func(ep monitor.Endpoint) {
		defer s.wg.Done()
		defer telemetry.SchedulerInFlightGauge.Dec()
		defer func() { <-s.sem }()
		defer s.inFlight.Delete(ep.ID)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduler: worker panicked", "endpoint_id", ep.ID, "panic", r)
			}
		}()

		probeStart := time.Now()
		result := s.prober.Probe(ctx, ep)
		telemetry.ProbesTotal.WithLabelValues(result.Kind).Inc()
		telemetry.ProbeDuration.WithLabelValues(result.Kind).Observe(time.Since(probeStart).Seconds())

		if err := s.incident.Process(ctx, ep, result); err != nil {
			s.logger.Error("scheduler: incident engine processing failed", "endpoint_id", ep.ID, "error", err)
		}
	}(endpoint)
}

// InFlightCount reports the number of endpoints currently being probed. Test
// and diagnostic use only.
func (s *Scheduler) InFlightCount() int {
	count := 0
	s.inFlight.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// isInFlight reports whether endpointID currently has an in-flight probe.
// Test use only.
func (s *Scheduler) isInFlight(endpointID uuid.UUID) bool {
	_, ok := s.inFlight.Load(endpointID)
	return ok
}
