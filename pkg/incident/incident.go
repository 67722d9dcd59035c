// Package incident implements the per-endpoint state machine that sits
// atop the State Store: it opens, grows, and resolves incidents and updates
// the endpoint's runtime status and consecutive-failure counter.
package incident

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/pulsecheck/internal/telemetry"
	"github.com/wisbric/pulsecheck/pkg/classify"
	"github.com/wisbric/pulsecheck/pkg/monitor"
)

// Store is the subset of the State Store the Incident Engine drives. It is
// satisfied by *monitor.Store.
type Store interface {
	OpenIncident(ctx context.Context, endpointID uuid.UUID) (monitor.Incident, bool, error)
	CreateOpenIncident(ctx context.Context, endpointID uuid.UUID, kind, errorMessage string) (monitor.Incident, error)
	IncrementIncidentFailures(ctx context.Context, incidentID uuid.UUID, errorMessage string) error
	ResolveOpenIncident(ctx context.Context, endpointID uuid.UUID, now time.Time) (bool, error)
	UpdateEndpointCheckStatus(ctx context.Context, endpointID uuid.UUID, status string, lastCheckAt, nextCheckAt time.Time, consecutiveFailures int) error
	AppendCheckResult(ctx context.Context, r monitor.CheckResult) error
}

// EventKind discriminates the two events the Incident Engine hands to the
// Alert Engine.
type EventKind string

const (
	// EventFailure carries result.Kind as its FailureKind and fires on every
	// failing check, gated downstream by the Alert Engine's thresholds.
	EventFailure EventKind = "failure"
	// EventRecovered fires only on an actual OPEN/ACKNOWLEDGED → RESOLVED
	// incident transition, never on every success.
	EventRecovered EventKind = "recovered"
)

// Event is handed off to the Alert Engine after a check result is processed.
type Event struct {
	Kind        EventKind
	Endpoint    monitor.Endpoint
	Result      monitor.CheckResult
	IncidentID  *uuid.UUID
	FailureKind string
	// ConsecutiveFailures is the post-update count (endpoint.ConsecutiveFailures
	// as just written to the State Store), not the engine's input snapshot.
	ConsecutiveFailures int
	// EndpointStatus is the status just written to the State Store (DOWN or
	// DEGRADED for a failure event).
	EndpointStatus string
}

// Sink receives Incident Engine events. The Alert Engine implements this.
type Sink interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// Engine is stateless business logic atop a Store: pure (endpoint,
// CheckResult) → (store writes, events) transitions.
type Engine struct {
	store  Store
	alerts Sink
	logger *slog.Logger
}

// New constructs an Incident Engine.
func New(store Store, alerts Sink, logger *slog.Logger) *Engine {
	return &Engine{store: store, alerts: alerts, logger: logger}
}

// Process applies one CheckResult to the endpoint's state machine: it
// updates the endpoint's runtime fields, opens/grows/resolves the incident,
// appends the immutable check result, and emits an event to the Alert Engine.
//
// Callers (the Scheduler) must serialize calls per endpoint id; Process does
// not take its own per-endpoint lock.
func (e *Engine) Process(ctx context.Context, endpoint monitor.Endpoint, result monitor.CheckResult) error {
	if err := e.store.AppendCheckResult(ctx, result); err != nil {
		return fmt.Errorf("incident: appending check result: %w", err)
	}

	now := result.CreatedAt
	nextCheckAt := now.Add(time.Duration(endpoint.IntervalSeconds) * time.Second)

	if result.Success {
		return e.processSuccess(ctx, endpoint, result, now, nextCheckAt)
	}
	return e.processFailure(ctx, endpoint, result, now, nextCheckAt)
}

func (e *Engine) processSuccess(ctx context.Context, endpoint monitor.Endpoint, result monitor.CheckResult, now, nextCheckAt time.Time) error {
	if err := e.store.UpdateEndpointCheckStatus(ctx, endpoint.ID, monitor.StatusUp, now, nextCheckAt, 0); err != nil {
		return fmt.Errorf("incident: updating endpoint status on success: %w", err)
	}

	resolved, err := e.store.ResolveOpenIncident(ctx, endpoint.ID, now)
	if err != nil {
		return fmt.Errorf("incident: resolving open incident: %w", err)
	}

	if !resolved {
		return nil
	}
	telemetry.IncidentsResolvedTotal.Inc()

	if e.alerts == nil {
		return nil
	}
	return e.alerts.HandleEvent(ctx, Event{
		Kind:     EventRecovered,
		Endpoint: endpoint,
		Result:   result,
	})
}

func (e *Engine) processFailure(ctx context.Context, endpoint monitor.Endpoint, result monitor.CheckResult, now, nextCheckAt time.Time) error {
	// DEGRADED is reserved in the source status enum but no transition ever
	// set it. LATENCY_BREACH is wired to DEGRADED here rather than DOWN —
	// see the Open Question resolution in DESIGN.md.
	status := monitor.StatusDown
	if result.Kind == string(classify.LatencyBreach) {
		status = monitor.StatusDegraded
	}

	consecutiveFailures := endpoint.ConsecutiveFailures + 1
	if err := e.store.UpdateEndpointCheckStatus(ctx, endpoint.ID, status, now, nextCheckAt, consecutiveFailures); err != nil {
		return fmt.Errorf("incident: updating endpoint status on failure: %w", err)
	}

	open, found, err := e.store.OpenIncident(ctx, endpoint.ID)
	if err != nil {
		return fmt.Errorf("incident: reading open incident: %w", err)
	}

	var incidentID uuid.UUID
	if found {
		if err := e.store.IncrementIncidentFailures(ctx, open.ID, result.ErrorMessage); err != nil {
			return fmt.Errorf("incident: incrementing incident failures: %w", err)
		}
		incidentID = open.ID
	} else {
		created, err := e.store.CreateOpenIncident(ctx, endpoint.ID, result.Kind, result.ErrorMessage)
		if err != nil {
			return fmt.Errorf("incident: opening incident: %w", err)
		}
		incidentID = created.ID
		telemetry.IncidentsOpenedTotal.Inc()
	}

	if e.logger != nil {
		e.logger.Debug("incident engine: failure processed",
			"endpoint_id", endpoint.ID,
			"incident_id", incidentID,
			"kind", result.Kind,
			"consecutive_failures", consecutiveFailures,
		)
	}

	if e.alerts == nil {
		return nil
	}
	return e.alerts.HandleEvent(ctx, Event{
		Kind:                EventFailure,
		Endpoint:            endpoint,
		Result:              result,
		IncidentID:          &incidentID,
		FailureKind:         result.Kind,
		ConsecutiveFailures: consecutiveFailures,
		EndpointStatus:      status,
	})
}
