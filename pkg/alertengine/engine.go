// Package alertengine decides whether a result warrants a notification,
// applies the dedup window and failure threshold gates, and hands delivery
// off to a bounded pool of notifier-sink workers.
package alertengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/pulsecheck/internal/telemetry"
	"github.com/wisbric/pulsecheck/pkg/classify"
	"github.com/wisbric/pulsecheck/pkg/incident"
	"github.com/wisbric/pulsecheck/pkg/monitor"
)

// Store is the subset of the State Store the Alert Engine drives.
type Store interface {
	RecentAlertExists(ctx context.Context, endpointID uuid.UUID, kind string, since time.Time) (bool, error)
	CreateAlert(ctx context.Context, a monitor.Alert) (monitor.Alert, error)
	MarkAlertDelivered(ctx context.Context, alertID uuid.UUID, delivered bool, deliveryError string) error
	AcknowledgeAlert(ctx context.Context, alertID uuid.UUID, now time.Time) error
	AcknowledgeAllAlerts(ctx context.Context, endpointID uuid.UUID, now time.Time) (int64, error)
}

// Deliverer routes one alert to its channel's notifier sink. *notify.Registry
// satisfies this.
type Deliverer interface {
	Deliver(ctx context.Context, alert monitor.Alert) error
}

// actionTitles maps an alert kind to its deterministic title action.
var actionTitles = map[string]string{
	monitor.AlertEndpointDown:      "API Down",
	monitor.AlertLatencyBreach:     "Slow Response",
	monitor.AlertEndpointRecovered: "Recovered",
}

// actionEmojis maps an alert kind to the leading glyph the title format
// prepends. Deterministic from alert_kind, not severity.
var actionEmojis = map[string]string{
	monitor.AlertEndpointDown:      "🔴",
	monitor.AlertLatencyBreach:     "🟡",
	monitor.AlertEndpointRecovered: "🟢",
}

const maxTitleLen = 120

// Engine is the Alert Engine. It implements incident.Sink.
type Engine struct {
	store            Store
	sinks            Deliverer
	channels         []string
	failureThreshold int
	dedupWindow      time.Duration
	logger           *slog.Logger

	deliveries chan monitor.Alert
	wg         sync.WaitGroup
}

// New constructs an Alert Engine and starts its bounded delivery worker
// pool. channels lists the alert channels enabled for this deployment (any
// subset of EMAIL, SLACK and WEBHOOK; one Alert row is created per channel).
// Call Drain during shutdown.
func New(store Store, sinks Deliverer, channels []string, failureThreshold int, dedupWindow time.Duration, maxConcurrentDeliveries int, logger *slog.Logger) *Engine {
	e := &Engine{
		store:            store,
		sinks:            sinks,
		channels:         channels,
		failureThreshold: failureThreshold,
		dedupWindow:      dedupWindow,
		logger:           logger,
		deliveries:       make(chan monitor.Alert, maxConcurrentDeliveries*4),
	}

	for i := 0; i < maxConcurrentDeliveries; i++ {
		e.wg.Add(1)
		go e.deliveryWorker()
	}

	return e
}

// deliveryWorker drains the deliveries channel until it is closed. Delivery
// runs on this pool while the channel has room; when it is full,
// HandleEvent delivers inline on the caller's goroutine, so a slow sink
// then does hold up the Incident Engine.
func (e *Engine) deliveryWorker() {
	defer e.wg.Done()
	for alert := range e.deliveries {
		e.deliver(alert)
	}
}

func (e *Engine) deliver(alert monitor.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := e.sinks.Deliver(ctx, alert)

	deliveryError := ""
	delivered := err == nil
	outcome := "success"
	if err != nil {
		deliveryError = err.Error()
		outcome = "failure"
	}
	telemetry.AlertsDeliveredTotal.WithLabelValues(alert.Channel, outcome).Inc()

	if updateErr := e.store.MarkAlertDelivered(ctx, alert.ID, delivered, deliveryError); updateErr != nil && e.logger != nil {
		e.logger.Error("alert engine: recording delivery outcome failed", "alert_id", alert.ID, "error", updateErr)
	}

	if err != nil && e.logger != nil {
		e.logger.Warn("alert engine: delivery failed, no automatic retry", "alert_id", alert.ID, "channel", alert.Channel, "error", err)
	}
}

// Drain stops accepting new deliveries and waits for in-flight ones to
// finish, up to grace.
func (e *Engine) Drain(grace time.Duration) {
	close(e.deliveries)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		if e.logger != nil {
			e.logger.Warn("alert engine: drain grace period exceeded, abandoning in-flight deliveries")
		}
	}
}

// HandleEvent implements incident.Sink. It gates the event, persists an
// Alert row per enabled channel, and hands each off to the delivery pool.
func (e *Engine) HandleEvent(ctx context.Context, ev incident.Event) error {
	var alertKind string
	var incidentID *uuid.UUID

	switch ev.Kind {
	case incident.EventRecovered:
		alertKind = monitor.AlertEndpointRecovered
	case incident.EventFailure:
		if ev.ConsecutiveFailures < e.failureThreshold {
			return nil
		}

		alertKind = monitor.AlertEndpointDown
		if ev.EndpointStatus == monitor.StatusDegraded {
			alertKind = monitor.AlertLatencyBreach
		}
		incidentID = ev.IncidentID

		duplicate, err := e.store.RecentAlertExists(ctx, ev.Endpoint.ID, alertKind, time.Now().Add(-e.dedupWindow))
		if err != nil {
			return fmt.Errorf("alertengine: dedup check: %w", err)
		}
		if duplicate {
			telemetry.AlertsDedupedTotal.Inc()
			return nil
		}
	default:
		return fmt.Errorf("alertengine: unknown event kind %q", ev.Kind)
	}

	severity := severityFor(ev)
	title := buildTitle(alertKind, ev.Endpoint.Name)
	message := buildMessage(alertKind, ev)

	for _, channel := range e.channels {
		alert := monitor.Alert{
			EndpointID: ev.Endpoint.ID,
			IncidentID: incidentID,
			Kind:       alertKind,
			Severity:   severity,
			Channel:    channel,
			Title:      title,
			Message:    message,
		}

		created, err := e.store.CreateAlert(ctx, alert)
		if err != nil {
			return fmt.Errorf("alertengine: persisting alert: %w", err)
		}
		telemetry.AlertsCreatedTotal.WithLabelValues(alertKind, severity).Inc()

		select {
		case e.deliveries <- created:
		default:
			if e.logger != nil {
				e.logger.Warn("alert engine: delivery pool saturated, delivering inline", "alert_id", created.ID)
			}
			e.deliver(created)
		}
	}

	return nil
}

// Acknowledge sets acknowledged=true on a single alert.
func (e *Engine) Acknowledge(ctx context.Context, alertID uuid.UUID) error {
	return e.store.AcknowledgeAlert(ctx, alertID, time.Now().UTC())
}

// AcknowledgeAll acknowledges every unacknowledged alert for an endpoint.
func (e *Engine) AcknowledgeAll(ctx context.Context, endpointID uuid.UUID) (int64, error) {
	return e.store.AcknowledgeAllAlerts(ctx, endpointID, time.Now().UTC())
}

func severityFor(ev incident.Event) string {
	if ev.Kind == incident.EventRecovered {
		return monitor.SeverityInfo
	}
	return classify.ResultKind(ev.FailureKind).Severity()
}

func buildTitle(alertKind, endpointName string) string {
	action, ok := actionTitles[alertKind]
	if !ok {
		action = alertKind
	}
	emoji, ok := actionEmojis[alertKind]
	if !ok {
		emoji = "⚪"
	}

	title := fmt.Sprintf("%s %s: %s", emoji, action, endpointName)
	if runes := []rune(title); len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen])
	}
	return title
}

func buildMessage(alertKind string, ev incident.Event) string {
	if alertKind == monitor.AlertEndpointRecovered {
		return fmt.Sprintf("%s has recovered.", ev.Endpoint.Name)
	}
	return fmt.Sprintf("%s failing with %s (%d consecutive failures): %s",
		ev.Endpoint.Name, ev.FailureKind, ev.ConsecutiveFailures, ev.Result.ErrorMessage)
}
