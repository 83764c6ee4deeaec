package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/xsign/models"
)

// fakeFleet hands out one fakeSandbox per factory call and remembers them
// in creation order, which matches the pool's initial rotation order.
type fakeFleet struct {
	mu     sync.Mutex
	boxes  []*fakeSandbox
	failAt map[int]bool // 1-based factory call index → refuse to boot
	calls  int
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{failAt: make(map[int]bool)}
}

func (ff *fakeFleet) factory(ctx context.Context) (Sandbox, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.calls++
	if ff.failAt[ff.calls] {
		return nil, errors.New("sandbox boot refused")
	}
	f := newFakeSandbox()
	f.defaultPayload = map[string]string{
		"X-s": fmt.Sprintf("XYS_box%d", len(ff.boxes)),
		"X-t": "1700000000000",
	}
	ff.boxes = append(ff.boxes, f)
	return f, nil
}

func (ff *fakeFleet) box(i int) *fakeSandbox {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.boxes[i]
}

func (ff *fakeFleet) size() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.boxes)
}

func testPoolConfig(min, max int) Config {
	return Config{
		MinInstances: min,
		MaxInstances: max,
		Worker:       testWorkerOptions(),
	}
}

func startedPool(t *testing.T, fleet *fakeFleet, min, max int) *Manager {
	t.Helper()
	m := NewManager(testPoolConfig(min, max), fleet.factory)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("pool start: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func TestManagerStart_BootsMinInstances(t *testing.T) {
	fleet := newFakeFleet()
	m := startedPool(t, fleet, 2, 5)

	stats := m.Stats()
	if stats.TotalWorkers != 2 {
		t.Errorf("total workers = %d, want 2", stats.TotalWorkers)
	}
	if stats.Status != "running" {
		t.Errorf("pool status = %s, want running", stats.Status)
	}
	if fleet.size() != 2 {
		t.Errorf("factory produced %d sandboxes, want 2", fleet.size())
	}

	// Start is a no-op on a running pool.
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := m.Stats().TotalWorkers; got != 2 {
		t.Errorf("second start changed worker count to %d", got)
	}
}

func TestManagerStart_PartialFailureTolerated(t *testing.T) {
	fleet := newFakeFleet()
	fleet.failAt[2] = true
	m := NewManager(testPoolConfig(2, 5), fleet.factory)
	defer m.Stop()

	// One of the two initial workers refuses to boot; the pool still comes
	// up, degraded, rather than failing startup entirely.
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start should tolerate partial failure: %v", err)
	}
	stats := m.Stats()
	if stats.Status != "running" {
		t.Errorf("pool status = %s, want running", stats.Status)
	}
	if stats.TotalWorkers != 1 {
		t.Errorf("total workers = %d, want 1 (degraded)", stats.TotalWorkers)
	}
}

func TestManagerBounds_MinTwoMaxFive(t *testing.T) {
	fleet := newFakeFleet()
	m := startedPool(t, fleet, 2, 5)

	for i := 0; i < 3; i++ {
		if _, err := m.CreateWorker(context.Background()); err != nil {
			t.Fatalf("create %d: %v", i+1, err)
		}
	}
	if got := m.Stats().TotalWorkers; got != 5 {
		t.Fatalf("total workers = %d, want 5", got)
	}

	_, err := m.CreateWorker(context.Background())
	if code := models.CodeOf(err); code != models.ErrCodeInstanceLimit {
		t.Fatalf("create beyond max = %s (%v), want INSTANCE_LIMIT", code, err)
	}
	if got := m.Stats().TotalWorkers; got != 5 {
		t.Errorf("failed create changed worker count to %d", got)
	}

	// Shrink back down to the floor.
	workers := m.ListWorkers()
	for i := 0; i < 3; i++ {
		if err := m.RemoveWorker(workers[i].ID); err != nil {
			t.Fatalf("remove %s: %v", workers[i].ID, err)
		}
	}
	if got := m.Stats().TotalWorkers; got != 2 {
		t.Fatalf("total workers = %d, want 2", got)
	}

	// The floor holds.
	err = m.RemoveWorker(m.ListWorkers()[0].ID)
	if code := models.CodeOf(err); code != models.ErrCodeMinInstances {
		t.Fatalf("remove at floor = %s (%v), want MIN_INSTANCES", code, err)
	}
	if got := m.Stats().TotalWorkers; got != 2 {
		t.Errorf("refused removal changed worker count to %d", got)
	}
}

func TestManagerCreateWorker_FailureReleasesSlot(t *testing.T) {
	fleet := newFakeFleet()
	m := startedPool(t, fleet, 1, 2)

	fleet.mu.Lock()
	fleet.failAt[fleet.calls+1] = true
	fleet.mu.Unlock()

	if _, err := m.CreateWorker(context.Background()); err == nil {
		t.Fatal("create should fail when the sandbox cannot boot")
	}
	if got := m.Stats().TotalWorkers; got != 1 {
		t.Errorf("failed create left worker count at %d, want 1", got)
	}

	// The reserved slot was released: the next create succeeds.
	if _, err := m.CreateWorker(context.Background()); err != nil {
		t.Fatalf("create after failed create: %v", err)
	}
	if got := m.Stats().TotalWorkers; got != 2 {
		t.Errorf("total workers = %d, want 2", got)
	}
}

func TestManagerExecute_RoundRobinFairness(t *testing.T) {
	fleet := newFakeFleet()
	m := startedPool(t, fleet, 3, 3)

	var order []string
	for i := 0; i < 6; i++ {
		payload, err := m.Execute(context.Background(), Task{URL: "https://x.test"})
		if err != nil {
			t.Fatalf("execute %d: %v", i+1, err)
		}
		order = append(order, payload["X-s"])
	}

	// All three workers appear before any repeats, then the cycle repeats.
	firstCycle := map[string]bool{order[0]: true, order[1]: true, order[2]: true}
	if len(firstCycle) != 3 {
		t.Errorf("first cycle revisited a worker: %v", order[:3])
	}
	for i := 0; i < 3; i++ {
		if order[i] != order[i+3] {
			t.Errorf("rotation order changed between cycles: %v", order)
			break
		}
	}
}

func TestManagerExecute_SkipsBusyWorker(t *testing.T) {
	fleet := newFakeFleet()
	m := startedPool(t, fleet, 3, 3)

	// Freeze the rotation head mid-run so it stays Busy.
	gate := make(chan struct{})
	fleet.box(0).setRunGate(gate)

	done := make(chan map[string]string, 1)
	go func() {
		payload, err := m.Execute(context.Background(), Task{URL: "https://x.test"})
		if err != nil {
			t.Errorf("gated execute: %v", err)
		}
		done <- payload
	}()
	waitFor(t, time.Second, func() bool { return fleet.box(0).runCount() == 1 }, "gated execute never started")

	// The busy worker is skipped without sticking the rotation.
	var order []string
	for i := 0; i < 4; i++ {
		payload, err := m.Execute(context.Background(), Task{URL: "https://x.test"})
		if err != nil {
			t.Fatalf("execute %d with one busy worker: %v", i+1, err)
		}
		order = append(order, payload["X-s"])
	}
	want := []string{"XYS_box1", "XYS_box2", "XYS_box1", "XYS_box2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("selection order = %v, want %v", order, want)
		}
	}

	close(gate)
	if payload := <-done; payload["X-s"] != "XYS_box0" {
		t.Errorf("gated execute ran on %s, want XYS_box0", payload["X-s"])
	}
}

func TestManagerExecute_NoReadyWorker(t *testing.T) {
	fleet := newFakeFleet()

	// Not started yet.
	m := NewManager(testPoolConfig(1, 1), fleet.factory)
	_, err := m.Execute(context.Background(), Task{URL: "https://x.test"})
	if code := models.CodeOf(err); code != models.ErrCodeNoAvailableWorker {
		t.Fatalf("execute before start = %s, want NO_AVAILABLE_WORKER", code)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	// Single worker pinned Busy: a full rotation finds nobody.
	gate := make(chan struct{})
	fleet.box(0).setRunGate(gate)
	go func() { _, _ = m.Execute(context.Background(), Task{URL: "https://x.test"}) }()
	waitFor(t, time.Second, func() bool { return fleet.box(0).runCount() == 1 }, "gated execute never started")

	_, err = m.Execute(context.Background(), Task{URL: "https://x.test"})
	close(gate)
	if code := models.CodeOf(err); code != models.ErrCodeNoAvailableWorker {
		t.Errorf("execute with all workers busy = %s, want NO_AVAILABLE_WORKER", code)
	}
}

func TestManagerRemoveWorker_UnknownID(t *testing.T) {
	fleet := newFakeFleet()
	m := startedPool(t, fleet, 2, 5)

	err := m.RemoveWorker("unknown-id")
	if code := models.CodeOf(err); code != models.ErrCodeInstanceNotFound {
		t.Fatalf("remove unknown = %s (%v), want INSTANCE_NOT_FOUND", code, err)
	}
	if got := m.Stats().TotalWorkers; got != 2 {
		t.Errorf("failed removal changed worker count to %d", got)
	}
}

func TestManagerErrorStreak_SingleWorkerScenario(t *testing.T) {
	fleet := newFakeFleet()
	m := startedPool(t, fleet, 1, 1)

	fleet.box(0).queueFailures("x", 3)
	for i := 0; i < 3; i++ {
		if _, err := m.Execute(context.Background(), Task{URL: "https://x.test"}); err == nil {
			t.Fatalf("execute %d should have failed", i+1)
		}
	}

	// The streak armed a recovery cycle on the worker's own page.
	waitFor(t, time.Second, func() bool { return fleet.box(0).navigateCount() == 2 }, "no recovery navigation")
	waitFor(t, time.Second, func() bool {
		ws := m.ListWorkers()
		return len(ws) == 1 && ws[0].Status == string(StatusReady) && ws[0].ConsecutiveErrors == 0
	}, "worker never settled back to ready with a reset streak")

	if _, err := m.Execute(context.Background(), Task{URL: "https://x.test"}); err != nil {
		t.Fatalf("post-recovery execute: %v", err)
	}

	ws, ok := m.GetWorker(m.ListWorkers()[0].ID)
	if !ok {
		t.Fatal("worker disappeared")
	}
	if ws.ErrorCount != 3 || ws.ConsecutiveErrors != 0 || ws.RequestCount != 1 {
		t.Errorf("counters = errors %d, consecutive %d, requests %d; want 3, 0, 1",
			ws.ErrorCount, ws.ConsecutiveErrors, ws.RequestCount)
	}

	stats := m.Stats()
	if stats.TotalRequests != 1 || stats.TotalErrors != 3 {
		t.Errorf("pool totals = %d/%d, want 1/3", stats.TotalRequests, stats.TotalErrors)
	}
}

func TestManagerHealthCheck_Aggregates(t *testing.T) {
	fleet := newFakeFleet()
	m := startedPool(t, fleet, 2, 2)

	health := m.HealthCheck(context.Background())
	if health.Status != "healthy" || health.HealthyWorkers != 2 {
		t.Errorf("health = %s with %d healthy, want healthy with 2", health.Status, health.HealthyWorkers)
	}

	fleet.box(0).setProbeAnswer(ProbeSigner, false)
	health = m.HealthCheck(context.Background())
	if health.Status != "degraded" || health.HealthyWorkers != 1 {
		t.Errorf("health = %s with %d healthy, want degraded with 1", health.Status, health.HealthyWorkers)
	}

	fleet.box(1).setProbeAnswer(ProbePage, false)
	health = m.HealthCheck(context.Background())
	if health.Status != "unhealthy" || health.HealthyWorkers != 0 {
		t.Errorf("health = %s with %d healthy, want unhealthy with 0", health.Status, health.HealthyWorkers)
	}
	if len(health.Workers) != 2 {
		t.Errorf("per-worker entries = %d, want 2", len(health.Workers))
	}
	for _, wh := range health.Workers {
		if wh.Healthy || wh.Reason == "" {
			t.Errorf("unhealthy worker entry missing reason: %+v", wh)
		}
	}
}

func TestManagerCookies_FirstAnsweringWorker(t *testing.T) {
	fleet := newFakeFleet()
	m := startedPool(t, fleet, 1, 1)

	cookies, err := m.Cookies(context.Background())
	if err != nil {
		t.Fatalf("cookies: %v", err)
	}
	if cookies["a1"] != "cookie-a1" {
		t.Errorf("cookies = %v, want the sandbox jar", cookies)
	}
}

func TestManagerVisit_BorrowsAWorker(t *testing.T) {
	fleet := newFakeFleet()
	m := startedPool(t, fleet, 1, 1)

	html, err := m.Visit(context.Background(), "https://example.com/user/xyz")
	if err != nil {
		t.Fatalf("visit: %v", err)
	}
	if html == "" {
		t.Error("visit returned no HTML")
	}
	targets := fleet.box(0).navigateTargets()
	if len(targets) != 3 || targets[1] != "https://example.com/user/xyz" {
		t.Errorf("navigation sequence = %v, want an excursion in the middle", targets)
	}
}

func TestManagerStop_IdempotentAndTerminal(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(testPoolConfig(2, 5), fleet.factory)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.Stop()
	m.Stop() // no-op

	stats := m.Stats()
	if stats.Status != "stopped" || stats.TotalWorkers != 0 {
		t.Errorf("stats after stop = %+v, want stopped with 0 workers", stats)
	}
	for i := 0; i < fleet.size(); i++ {
		if got := fleet.box(i).disposeCount(); got != 1 {
			t.Errorf("sandbox %d disposed %d times, want 1", i, got)
		}
	}

	_, err := m.Execute(context.Background(), Task{URL: "https://x.test"})
	if code := models.CodeOf(err); code != models.ErrCodeNoAvailableWorker {
		t.Errorf("execute after stop = %s, want NO_AVAILABLE_WORKER", code)
	}

	// A stopped pool is terminal; a fresh manager is the way back up.
	if err := m.Start(context.Background()); err == nil {
		t.Error("start after stop should be refused")
	}
}
