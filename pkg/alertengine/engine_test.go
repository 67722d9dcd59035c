package alertengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/pulsecheck/pkg/classify"
	"github.com/wisbric/pulsecheck/pkg/incident"
	"github.com/wisbric/pulsecheck/pkg/monitor"
)

type fakeStore struct {
	mu             sync.Mutex
	recentExists   bool
	createdAlerts  []monitor.Alert
	delivered      map[uuid.UUID]bool
	deliveryErrs   map[uuid.UUID]string
	acknowledged   []uuid.UUID
	ackAllEndpoint uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{delivered: make(map[uuid.UUID]bool), deliveryErrs: make(map[uuid.UUID]string)}
}

func (f *fakeStore) RecentAlertExists(_ context.Context, _ uuid.UUID, _ string, _ time.Time) (bool, error) {
	return f.recentExists, nil
}

func (f *fakeStore) CreateAlert(_ context.Context, a monitor.Alert) (monitor.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	f.createdAlerts = append(f.createdAlerts, a)
	return a, nil
}

func (f *fakeStore) MarkAlertDelivered(_ context.Context, alertID uuid.UUID, delivered bool, deliveryError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[alertID] = delivered
	f.deliveryErrs[alertID] = deliveryError
	return nil
}

func (f *fakeStore) AcknowledgeAlert(_ context.Context, alertID uuid.UUID, _ time.Time) error {
	f.acknowledged = append(f.acknowledged, alertID)
	return nil
}

func (f *fakeStore) AcknowledgeAllAlerts(_ context.Context, endpointID uuid.UUID, _ time.Time) (int64, error) {
	f.ackAllEndpoint = endpointID
	return 3, nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []monitor.Alert
	failAll   bool
}

func (f *fakeDeliverer) Deliver(_ context.Context, alert monitor.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return &deliveryFailure{}
	}
	f.delivered = append(f.delivered, alert)
	return nil
}

type deliveryFailure struct{}

func (*deliveryFailure) Error() string { return "simulated delivery failure" }

func testEvent(consecutiveFailures int, status string) incident.Event {
	return incident.Event{
		Kind:                incident.EventFailure,
		Endpoint:            monitor.Endpoint{ID: uuid.New(), Name: "checkout-api"},
		Result:              monitor.CheckResult{Kind: string(classify.ConnectionError), ErrorMessage: "dial tcp: connection refused"},
		IncidentID:          ptrUUID(uuid.New()),
		FailureKind:         string(classify.ConnectionError),
		ConsecutiveFailures: consecutiveFailures,
		EndpointStatus:      status,
	}
}

func ptrUUID(id uuid.UUID) *uuid.UUID { return &id }

func TestHandleEventBelowThresholdIsDropped(t *testing.T) {
	store := newFakeStore()
	deliverer := &fakeDeliverer{}
	engine := New(store, deliverer, []string{monitor.ChannelEmail}, 3, 15*time.Minute, 2, nil)
	defer engine.Drain(time.Second)

	ev := testEvent(2, monitor.StatusDown)
	if err := engine.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(store.createdAlerts) != 0 {
		t.Errorf("expected no alert below threshold, got %d", len(store.createdAlerts))
	}
}

func TestHandleEventAtThresholdCreatesAndDelivers(t *testing.T) {
	store := newFakeStore()
	deliverer := &fakeDeliverer{}
	engine := New(store, deliverer, []string{monitor.ChannelEmail}, 3, 15*time.Minute, 2, nil)

	ev := testEvent(3, monitor.StatusDown)
	if err := engine.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	engine.Drain(2 * time.Second)

	if len(store.createdAlerts) != 1 {
		t.Fatalf("expected one alert created, got %d", len(store.createdAlerts))
	}
	alert := store.createdAlerts[0]
	if alert.Kind != monitor.AlertEndpointDown {
		t.Errorf("kind = %q, want ENDPOINT_DOWN", alert.Kind)
	}

	deliverer.mu.Lock()
	n := len(deliverer.delivered)
	deliverer.mu.Unlock()
	if n != 1 {
		t.Errorf("expected delivery, got %d deliveries", n)
	}
}

func TestHandleEventDedupDropsSecondAlert(t *testing.T) {
	store := newFakeStore()
	store.recentExists = true
	deliverer := &fakeDeliverer{}
	engine := New(store, deliverer, []string{monitor.ChannelEmail}, 3, 15*time.Minute, 2, nil)
	defer engine.Drain(time.Second)

	ev := testEvent(5, monitor.StatusDown)
	if err := engine.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(store.createdAlerts) != 0 {
		t.Errorf("expected dedup to drop the alert, got %d created", len(store.createdAlerts))
	}
}

func TestHandleEventLatencyBreachUsesLatencyBreachKind(t *testing.T) {
	store := newFakeStore()
	deliverer := &fakeDeliverer{}
	engine := New(store, deliverer, []string{monitor.ChannelEmail}, 3, 15*time.Minute, 2, nil)
	defer engine.Drain(time.Second)

	ev := testEvent(3, monitor.StatusDegraded)
	ev.FailureKind = string(classify.LatencyBreach)
	if err := engine.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(store.createdAlerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(store.createdAlerts))
	}
	if store.createdAlerts[0].Kind != monitor.AlertLatencyBreach {
		t.Errorf("kind = %q, want LATENCY_BREACH", store.createdAlerts[0].Kind)
	}
}

func TestHandleEventRecoveryBypassesGates(t *testing.T) {
	store := newFakeStore()
	store.recentExists = true // even with a recent duplicate, recovery must bypass dedup
	deliverer := &fakeDeliverer{}
	engine := New(store, deliverer, []string{monitor.ChannelEmail}, 3, 15*time.Minute, 2, nil)
	defer engine.Drain(time.Second)

	ev := incident.Event{
		Kind:     incident.EventRecovered,
		Endpoint: monitor.Endpoint{ID: uuid.New(), Name: "checkout-api"},
	}
	if err := engine.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(store.createdAlerts) != 1 {
		t.Fatalf("expected recovery to bypass dedup and threshold gates, got %d alerts", len(store.createdAlerts))
	}
	if store.createdAlerts[0].Kind != monitor.AlertEndpointRecovered {
		t.Errorf("kind = %q, want ENDPOINT_RECOVERED", store.createdAlerts[0].Kind)
	}
	if store.createdAlerts[0].IncidentID != nil {
		t.Errorf("expected nil incident_id on recovery alert, got %v", store.createdAlerts[0].IncidentID)
	}
}

func TestHandleEventDeliveryFailureRecordsDeliveryError(t *testing.T) {
	store := newFakeStore()
	deliverer := &fakeDeliverer{failAll: true}
	engine := New(store, deliverer, []string{monitor.ChannelEmail}, 3, 15*time.Minute, 2, nil)

	ev := testEvent(3, monitor.StatusDown)
	if err := engine.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	engine.Drain(2 * time.Second)

	if len(store.createdAlerts) != 1 {
		t.Fatalf("expected one alert created, got %d", len(store.createdAlerts))
	}
	alertID := store.createdAlerts[0].ID
	if store.delivered[alertID] {
		t.Error("expected delivered=false after a sink failure")
	}
	if store.deliveryErrs[alertID] == "" {
		t.Error("expected delivery_error to be recorded after a sink failure")
	}
}

func TestAcknowledgeAndAcknowledgeAll(t *testing.T) {
	store := newFakeStore()
	engine := New(store, &fakeDeliverer{}, []string{monitor.ChannelEmail}, 3, 15*time.Minute, 1, nil)
	defer engine.Drain(time.Second)

	alertID := uuid.New()
	if err := engine.Acknowledge(context.Background(), alertID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if len(store.acknowledged) != 1 || store.acknowledged[0] != alertID {
		t.Errorf("acknowledge not recorded correctly: %v", store.acknowledged)
	}

	endpointID := uuid.New()
	count, err := engine.AcknowledgeAll(context.Background(), endpointID)
	if err != nil {
		t.Fatalf("AcknowledgeAll: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if store.ackAllEndpoint != endpointID {
		t.Error("AcknowledgeAll did not route to the correct endpoint")
	}
}

func TestBuildTitleTruncatesTo120Chars(t *testing.T) {
	longName := ""
	for i := 0; i < 200; i++ {
		longName += "x"
	}
	title := buildTitle(monitor.AlertEndpointDown, longName)
	if len([]rune(title)) > maxTitleLen {
		t.Errorf("title length = %d, want <= %d", len([]rune(title)), maxTitleLen)
	}
}
