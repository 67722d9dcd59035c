package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/pulsecheck/pkg/monitor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu  sync.Mutex
	due []monitor.Endpoint
}

func (f *fakeStore) DueEndpoints(_ context.Context, _ time.Time) ([]monitor.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due, nil
}

type countingProber struct {
	calls  int32
	delay  time.Duration
	inUse  int32
	maxUse int32
}

func (p *countingProber) Probe(_ context.Context, ep monitor.Endpoint) monitor.CheckResult {
	atomic.AddInt32(&p.calls, 1)
	current := atomic.AddInt32(&p.inUse, 1)
	for {
		old := atomic.LoadInt32(&p.maxUse)
		if current <= old || atomic.CompareAndSwapInt32(&p.maxUse, old, current) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	atomic.AddInt32(&p.inUse, -1)
	return monitor.CheckResult{EndpointID: ep.ID, Success: true, Kind: "SUCCESS", CreatedAt: time.Now()}
}

type recordingIncidentEngine struct {
	mu        sync.Mutex
	processed []uuid.UUID
}

func (e *recordingIncidentEngine) Process(_ context.Context, endpoint monitor.Endpoint, _ monitor.CheckResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed = append(e.processed, endpoint.ID)
	return nil
}

func endpoints(n int) []monitor.Endpoint {
	eps := make([]monitor.Endpoint, n)
	for i := range eps {
		eps[i] = monitor.Endpoint{ID: uuid.New(), IntervalSeconds: 30}
	}
	return eps
}

func TestTickDispatchesAllDueEndpointsWithinBudget(t *testing.T) {
	store := &fakeStore{due: endpoints(5)}
	prober := &countingProber{}
	incidentEngine := &recordingIncidentEngine{}

	s := New(store, prober, incidentEngine, time.Hour, 10, testLogger())
	s.tick(context.Background())
	s.wg.Wait()

	if atomic.LoadInt32(&prober.calls) != 5 {
		t.Errorf("expected 5 probe calls, got %d", prober.calls)
	}
	if len(incidentEngine.processed) != 5 {
		t.Errorf("expected 5 incident engine calls, got %d", len(incidentEngine.processed))
	}
}

func TestTickRespectsConcurrencyBudget(t *testing.T) {
	store := &fakeStore{due: endpoints(10)}
	prober := &countingProber{delay: 20 * time.Millisecond}
	incidentEngine := &recordingIncidentEngine{}

	s := New(store, prober, incidentEngine, time.Hour, 3, testLogger())
	s.tick(context.Background())
	s.wg.Wait()

	if atomic.LoadInt32(&prober.maxUse) > 3 {
		t.Errorf("max concurrent probes = %d, want <= 3", prober.maxUse)
	}
}

func TestSameEndpointNeverDispatchedTwiceConcurrently(t *testing.T) {
	ep := monitor.Endpoint{ID: uuid.New(), IntervalSeconds: 30}
	store := &fakeStore{due: []monitor.Endpoint{ep, ep, ep}}
	prober := &countingProber{delay: 20 * time.Millisecond}
	incidentEngine := &recordingIncidentEngine{}

	s := New(store, prober, incidentEngine, time.Hour, 10, testLogger())
	s.tick(context.Background())
	s.wg.Wait()

	if atomic.LoadInt32(&prober.calls) != 1 {
		t.Errorf("expected exactly one probe for a reentrant endpoint id, got %d", prober.calls)
	}
}

func TestInFlightMarkReleasedAfterCompletion(t *testing.T) {
	store := &fakeStore{due: endpoints(1)}
	prober := &countingProber{}
	incidentEngine := &recordingIncidentEngine{}

	s := New(store, prober, incidentEngine, time.Hour, 10, testLogger())
	s.tick(context.Background())
	s.wg.Wait()

	if s.InFlightCount() != 0 {
		t.Errorf("expected in-flight set to be empty after completion, got %d", s.InFlightCount())
	}
}

type panickingProber struct{}

func (panickingProber) Probe(_ context.Context, _ monitor.Endpoint) monitor.CheckResult {
	panic("boom")
}

func TestPanickingWorkerReleasesInFlightMark(t *testing.T) {
	store := &fakeStore{due: endpoints(1)}
	incidentEngine := &recordingIncidentEngine{}

	s := New(store, panickingProber{}, incidentEngine, time.Hour, 10, testLogger())
	s.tick(context.Background())
	s.wg.Wait()

	if s.InFlightCount() != 0 {
		t.Errorf("expected in-flight set to be empty after a panicking worker, got %d", s.InFlightCount())
	}
}
