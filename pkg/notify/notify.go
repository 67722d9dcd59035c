// Package notify implements the pluggable notifier sink interface the Alert
// Engine delivers alerts through, and ships EMAIL/SLACK/WEBHOOK sinks.
package notify

import (
	"context"
	"fmt"

	"github.com/wisbric/pulsecheck/pkg/monitor"
)

// DeliveryError is raised by a Sink when delivery fails. The Alert Engine
// never treats it as fatal: the alert is persisted with delivered=false and
// delivery_error set, with no automatic retry in this version.
type DeliveryError struct {
	Channel string
	Reason  string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify: %s delivery failed: %s", e.Channel, e.Reason)
}

// Sink delivers one alert. Adding a sink is additive: sinks are addressed by
// monitor.Alert.Channel, and the registry is just a map.
type Sink interface {
	Channel() string
	Deliver(ctx context.Context, alert monitor.Alert) error
}

// Registry dispatches by channel to an enabled set of sinks.
type Registry struct {
	sinks map[string]Sink
}

// NewRegistry builds a Registry from the given sinks, keyed by their
// Channel().
func NewRegistry(sinks ...Sink) *Registry {
	r := &Registry{sinks: make(map[string]Sink, len(sinks))}
	for _, s := range sinks {
		r.sinks[s.Channel()] = s
	}
	return r
}

// Deliver routes alert to the sink registered for its channel.
func (r *Registry) Deliver(ctx context.Context, alert monitor.Alert) error {
	sink, ok := r.sinks[alert.Channel]
	if !ok {
		return &DeliveryError{Channel: alert.Channel, Reason: "no sink registered for channel"}
	}
	return sink.Deliver(ctx, alert)
}
