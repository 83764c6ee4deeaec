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

// fakeSandbox is a scriptable Sandbox. Tests queue run verdicts, gate calls
// to freeze a worker mid-operation, and inspect which calls the worker made.
type fakeSandbox struct {
	mu             sync.Mutex
	navigates      []string
	runs           int
	disposed       int
	injected       map[string]string
	probeAnswers   map[string]bool
	probeErr       error
	navErr         error
	navGate        chan struct{} // blocks Navigate calls after the first
	runGate        chan struct{} // blocks every Run until closed
	runQueue       []runOutcome
	defaultPayload map[string]string
	sideChannel    string
	state          map[string]string
	html           string
}

type runOutcome struct {
	res Result
	err error
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{
		probeAnswers: map[string]bool{
			ProbeSigner:      true,
			ProbeInterceptor: true,
			ProbePage:        true,
		},
		state: map[string]string{"a1": "cookie-a1", "web_session": "sess-1"},
		html:  `<html><body><form><input/><input/><button></button></form></body></html>`,
	}
}

func (f *fakeSandbox) Navigate(ctx context.Context, target string) error {
	f.mu.Lock()
	f.navigates = append(f.navigates, target)
	n := len(f.navigates)
	gate := f.navGate
	err := f.navErr
	f.mu.Unlock()

	if gate != nil && n > 1 {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeSandbox) Probe(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return false, f.probeErr
	}
	return f.probeAnswers[name], nil
}

func (f *fakeSandbox) Run(ctx context.Context, script string, args []string) (Result, error) {
	f.mu.Lock()
	f.runs++
	gate := f.runGate
	var queued *runOutcome
	if len(f.runQueue) > 0 {
		out := f.runQueue[0]
		f.runQueue = f.runQueue[1:]
		queued = &out
	}
	payload := f.defaultPayload
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Result{}, models.NewSignError(models.ErrCodeSignTimeout, "run timed out", ctx.Err())
		}
	}
	if queued != nil {
		return queued.res, queued.err
	}
	if payload == nil {
		payload = map[string]string{"X-s": "XYS_test", "X-t": "1700000000000"}
	}
	return Result{Success: true, Payload: payload}, nil
}

func (f *fakeSandbox) InjectAmbientState(ctx context.Context, entries map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = entries
	return nil
}

func (f *fakeSandbox) SnapshotState(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeSandbox) SideChannel(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sideChannel, nil
}

func (f *fakeSandbox) PageHTML(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.html, nil
}

func (f *fakeSandbox) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed++
	return nil
}

func (f *fakeSandbox) queueFailures(msg string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.runQueue = append(f.runQueue, runOutcome{res: Result{Success: false, ErrorMessage: msg}})
	}
}

func (f *fakeSandbox) queueSuccess(payload map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runQueue = append(f.runQueue, runOutcome{res: Result{Success: true, Payload: payload}})
}

func (f *fakeSandbox) navigateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.navigates)
}

func (f *fakeSandbox) navigateTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigates...)
}

func (f *fakeSandbox) disposeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

func (f *fakeSandbox) setNavErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navErr = err
}

func (f *fakeSandbox) setProbeAnswer(name string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeAnswers[name] = ok
}

func (f *fakeSandbox) setHTML(html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.html = html
}

func (f *fakeSandbox) setRunGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runGate = gate
}

func (f *fakeSandbox) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func staticFactory(f *fakeSandbox) Factory {
	return func(ctx context.Context) (Sandbox, error) { return f, nil }
}

func testWorkerOptions() WorkerOptions {
	return WorkerOptions{
		TargetURL:        "https://example.com/login",
		SignScript:       "(url, data) => {}",
		PageTimeout:      5 * time.Second,
		ExecTimeout:      time.Second,
		ProbeTimeout:     100 * time.Millisecond,
		ProbeAttempts:    2,
		ProbeDelay:       5 * time.Millisecond,
		RecoverThreshold: 3,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWorkerStart_BecomesReady(t *testing.T) {
	fake := newFakeSandbox()
	fake.sideChannel = "captured-common"
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})

	ambient := map[string]string{"a1": "seed"}
	if err := w.Start(context.Background(), ambient); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if got := w.Status(); got != StatusReady {
		t.Errorf("status after start = %s, want ready", got)
	}
	if got := fake.navigateTargets(); len(got) != 1 || got[0] != "https://example.com/login" {
		t.Errorf("navigated to %v, want the target URL once", got)
	}
	if fake.injected["a1"] != "seed" {
		t.Errorf("ambient state not injected, got %v", fake.injected)
	}
	if got := w.SideChannelValue(); got != "captured-common" {
		t.Errorf("side channel = %q, want captured-common", got)
	}
}

func TestWorkerStart_FactoryFailure(t *testing.T) {
	boom := errors.New("no browser")
	factory := func(ctx context.Context) (Sandbox, error) { return nil, boom }
	w := NewWorker("w1", testWorkerOptions(), factory, Hooks{})

	err := w.Start(context.Background(), nil)
	if err == nil {
		t.Fatal("start should fail when the factory fails")
	}
	if code := models.CodeOf(err); code != models.ErrCodeStartupFailed {
		t.Errorf("error code = %s, want STARTUP_FAILED", code)
	}
	if !errors.Is(err, boom) {
		t.Errorf("cause not preserved in %v", err)
	}
	if got := w.Status(); got != StatusStopped {
		t.Errorf("status after failed start = %s, want stopped", got)
	}
}

func TestWorkerStart_NavigateFailure(t *testing.T) {
	fake := newFakeSandbox()
	fake.setNavErr(errors.New("net::ERR_CONNECTION_REFUSED"))
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})

	err := w.Start(context.Background(), nil)
	if code := models.CodeOf(err); code != models.ErrCodeStartupFailed {
		t.Fatalf("error code = %s (%v), want STARTUP_FAILED", code, err)
	}
	if got := w.Status(); got != StatusStopped {
		t.Errorf("status = %s, want stopped after teardown", got)
	}
	if fake.disposeCount() != 1 {
		t.Errorf("dispose called %d times, want 1", fake.disposeCount())
	}
}

func TestWorkerStart_SignerNeverAppears(t *testing.T) {
	fake := newFakeSandbox()
	fake.setProbeAnswer(ProbeSigner, false)
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})

	// Probe exhaustion is tolerated: the signer can load lazily.
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start should tolerate a missing signer: %v", err)
	}
	if got := w.Status(); got != StatusReady {
		t.Errorf("status = %s, want ready", got)
	}
}

func TestWorkerStart_AlreadyReadyIsNoop(t *testing.T) {
	fake := newFakeSandbox()
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}
	if fake.navigateCount() != 1 {
		t.Errorf("second start navigated again: %d navigations", fake.navigateCount())
	}
}

func TestWorkerExecute_Success(t *testing.T) {
	fake := newFakeSandbox()
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	payload, err := w.Execute(context.Background(), Task{URL: "https://api.example.com/v1/feed", Data: `{"id":1}`})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if payload["X-s"] != "XYS_test" {
		t.Errorf("payload X-s = %q, want XYS_test", payload["X-s"])
	}

	stats := w.Stats()
	if stats.RequestCount != 1 {
		t.Errorf("request count = %d, want 1", stats.RequestCount)
	}
	if stats.ErrorCount != 0 || stats.ConsecutiveErrors != 0 {
		t.Errorf("counters = %d/%d, want 0/0", stats.ErrorCount, stats.ConsecutiveErrors)
	}
	if stats.LastUsedAt == nil {
		t.Error("lastUsedAt not set after a successful request")
	}
	if got := w.Status(); got != StatusReady {
		t.Errorf("status = %s, want ready", got)
	}
}

func TestWorkerExecute_RejectedWhenNotReady(t *testing.T) {
	fake := newFakeSandbox()
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})

	// Stopped worker.
	_, err := w.Execute(context.Background(), Task{URL: "https://x.test"})
	if code := models.CodeOf(err); code != models.ErrCodeWorkerNotReady {
		t.Fatalf("error code = %s, want WORKER_NOT_READY", code)
	}

	// Busy worker: freeze one execute mid-run, then race a second one in.
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	gate := make(chan struct{})
	fake.setRunGate(gate)

	done := make(chan error, 1)
	go func() {
		_, err := w.Execute(context.Background(), Task{URL: "https://x.test"})
		done <- err
	}()
	waitFor(t, time.Second, func() bool { return fake.runCount() == 1 }, "first execute never reached the sandbox")

	_, err = w.Execute(context.Background(), Task{URL: "https://x.test"})
	if code := models.CodeOf(err); code != models.ErrCodeWorkerNotReady {
		t.Errorf("concurrent execute code = %s, want WORKER_NOT_READY", code)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Errorf("gated execute should succeed once released: %v", err)
	}
}

func TestWorkerExecute_ScriptFailure(t *testing.T) {
	fake := newFakeSandbox()
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	fake.queueFailures("mnsv2 function not available", 1)
	_, err := w.Execute(context.Background(), Task{URL: "https://x.test"})
	if code := models.CodeOf(err); code != models.ErrCodeSignFailed {
		t.Fatalf("error code = %s, want SIGN_FAILED", code)
	}

	stats := w.Stats()
	if stats.ErrorCount != 1 || stats.ConsecutiveErrors != 1 {
		t.Errorf("counters = %d/%d, want 1/1", stats.ErrorCount, stats.ConsecutiveErrors)
	}
	if stats.RequestCount != 0 {
		t.Errorf("request count = %d, failures must not bill a request", stats.RequestCount)
	}
	// One failure leaves the worker usable.
	if got := w.Status(); got != StatusReady {
		t.Errorf("status = %s, want ready", got)
	}
}

func TestWorkerExecute_SideChannelBackfill(t *testing.T) {
	fake := newFakeSandbox()
	fake.sideChannel = "cached-at-start"
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Script omitted the value: the cached capture is merged in.
	fake.queueSuccess(map[string]string{"X-s": "XYS_a", "X-t": "1"})
	payload, err := w.Execute(context.Background(), Task{URL: "https://x.test"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if payload[SideChannelKey] != "cached-at-start" {
		t.Errorf("backfilled side channel = %q, want cached-at-start", payload[SideChannelKey])
	}

	// Script produced a fresh value: the cache follows it.
	fake.queueSuccess(map[string]string{"X-s": "XYS_b", "X-t": "2", SideChannelKey: "fresh"})
	if _, err := w.Execute(context.Background(), Task{URL: "https://x.test"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := w.SideChannelValue(); got != "fresh" {
		t.Errorf("cached side channel = %q, want fresh", got)
	}
}

func TestWorkerRecovery_TriggersAtThreshold(t *testing.T) {
	fake := newFakeSandbox()
	navGate := make(chan struct{})
	fake.navGate = navGate
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	fake.queueFailures("sign blew up", 3)
	for i := 0; i < 3; i++ {
		if _, err := w.Execute(context.Background(), Task{URL: "https://x.test"}); err == nil {
			t.Fatalf("execute %d should have failed", i+1)
		}
	}

	// The third failure arms recovery; it grabs the Busy slot and sits in
	// the gated Navigate.
	waitFor(t, time.Second, func() bool { return fake.navigateCount() == 2 }, "recovery never navigated")
	waitFor(t, time.Second, func() bool { return w.Status() == StatusBusy }, "recovery never claimed the worker")

	// While recovering, requests bounce instead of queueing.
	_, err := w.Execute(context.Background(), Task{URL: "https://x.test"})
	if code := models.CodeOf(err); code != models.ErrCodeWorkerNotReady {
		t.Errorf("execute during recovery = %s, want WORKER_NOT_READY", code)
	}

	close(navGate)
	waitFor(t, time.Second, func() bool { return w.Status() == StatusReady }, "recovery never finished")

	stats := w.Stats()
	if stats.ConsecutiveErrors != 0 {
		t.Errorf("consecutive errors = %d after recovery, want 0", stats.ConsecutiveErrors)
	}
	if stats.ErrorCount != 3 {
		t.Errorf("error count = %d, want 3 (recovery must not erase history)", stats.ErrorCount)
	}
	// Exactly one recovery navigation happened for the streak.
	if got := fake.navigateCount(); got != 2 {
		t.Errorf("navigations = %d, want 2 (startup + one recovery)", got)
	}
}

func TestWorkerRecovery_SuccessResetsStreakNotHistory(t *testing.T) {
	fake := newFakeSandbox()
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	fake.queueFailures("x", 3)
	for i := 0; i < 3; i++ {
		_, _ = w.Execute(context.Background(), Task{URL: "https://x.test"})
	}
	waitFor(t, time.Second, func() bool {
		return fake.navigateCount() == 2 && w.Status() == StatusReady
	}, "recovery did not complete")

	// A later success keeps the streak at zero and bills a request.
	if _, err := w.Execute(context.Background(), Task{URL: "https://x.test"}); err != nil {
		t.Fatalf("post-recovery execute: %v", err)
	}
	stats := w.Stats()
	if stats.ConsecutiveErrors != 0 || stats.ErrorCount != 3 || stats.RequestCount != 1 {
		t.Errorf("counters = consecutive %d, errors %d, requests %d; want 0, 3, 1",
			stats.ConsecutiveErrors, stats.ErrorCount, stats.RequestCount)
	}
}

func TestWorkerRecovery_FailureParksInError(t *testing.T) {
	fake := newFakeSandbox()
	var recovered struct {
		sync.Mutex
		errs []error
	}
	hooks := Hooks{OnRecoverResult: func(id string, err error) {
		recovered.Lock()
		recovered.errs = append(recovered.errs, err)
		recovered.Unlock()
	}}
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), hooks)
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Recovery will try to navigate and hit a dead page.
	fake.setNavErr(errors.New("page gone"))
	fake.queueFailures("x", 3)
	for i := 0; i < 3; i++ {
		_, _ = w.Execute(context.Background(), Task{URL: "https://x.test"})
	}
	waitFor(t, time.Second, func() bool { return w.Status() == StatusError }, "worker never parked in error state")

	recovered.Lock()
	n := len(recovered.errs)
	var last error
	if n > 0 {
		last = recovered.errs[n-1]
	}
	recovered.Unlock()
	if n != 1 || last == nil {
		t.Errorf("recover hook fired %d times with last err %v, want once with an error", n, last)
	}

	// Error is a dead end until an explicit stop.
	_, err := w.Execute(context.Background(), Task{URL: "https://x.test"})
	if code := models.CodeOf(err); code != models.ErrCodeWorkerNotReady {
		t.Errorf("execute in error state = %s, want WORKER_NOT_READY", code)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("stop from error state: %v", err)
	}
	if got := w.Status(); got != StatusStopped {
		t.Errorf("status = %s, want stopped", got)
	}
}

func TestWorkerStop_Idempotent(t *testing.T) {
	fake := newFakeSandbox()
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}
	if fake.disposeCount() != 1 {
		t.Errorf("dispose called %d times, want 1", fake.disposeCount())
	}
	if got := w.Status(); got != StatusStopped {
		t.Errorf("status = %s, want stopped", got)
	}
}

func TestWorkerVisit_RoundTripsAndReturnsHome(t *testing.T) {
	fake := newFakeSandbox()
	fake.setHTML(`<html><body><a href="/p">profile</a></body></html>`)
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	html, err := w.Visit(context.Background(), "https://example.com/user/abc")
	if err != nil {
		t.Fatalf("visit: %v", err)
	}
	if html == "" {
		t.Error("visit returned no HTML")
	}

	targets := fake.navigateTargets()
	if len(targets) != 3 || targets[1] != "https://example.com/user/abc" || targets[2] != "https://example.com/login" {
		t.Errorf("navigation sequence = %v, want start, excursion, home", targets)
	}
	if got := w.Status(); got != StatusReady {
		t.Errorf("status after visit = %s, want ready", got)
	}
	stats := w.Stats()
	if stats.RequestCount != 0 || stats.ErrorCount != 0 {
		t.Errorf("visit must not touch counters, got %d/%d", stats.RequestCount, stats.ErrorCount)
	}
}

func TestWorkerHealthCheck_Verdicts(t *testing.T) {
	fake := newFakeSandbox()
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})

	h := w.HealthCheck(context.Background())
	if h.Healthy || h.Reason != "status stopped" {
		t.Errorf("stopped worker health = %+v, want unhealthy with status reason", h)
	}

	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	h = w.HealthCheck(context.Background())
	if !h.Healthy {
		t.Errorf("ready worker reported unhealthy: %+v", h)
	}

	fake.setProbeAnswer(ProbeSigner, false)
	h = w.HealthCheck(context.Background())
	if h.Healthy || h.Reason == "" {
		t.Errorf("missing signer should be unhealthy with a reason, got %+v", h)
	}
	fake.setProbeAnswer(ProbeSigner, true)

	// Health checks never mutate counters or status.
	if got := w.Status(); got != StatusReady {
		t.Errorf("status after health checks = %s, want ready", got)
	}
	stats := w.Stats()
	if stats.RequestCount != 0 || stats.ErrorCount != 0 {
		t.Errorf("health checks touched counters: %d/%d", stats.RequestCount, stats.ErrorCount)
	}
}

func TestWorkerHealthCheck_ReportsDrift(t *testing.T) {
	fake := newFakeSandbox()
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), Hooks{})
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Same page: no drift.
	h := w.HealthCheck(context.Background())
	if h.Drift != 0 {
		t.Errorf("unchanged page drift = %d, want 0", h.Drift)
	}

	// The page was swapped for something structurally different (bot wall,
	// redirect). Probes may still pass; drift is the tell.
	fake.setHTML(`<html><body><div><iframe></iframe><p>verify you are human</p><span></span><span></span></div></body></html>`)
	h = w.HealthCheck(context.Background())
	if h.Drift == 0 {
		t.Error("structurally different page reported zero drift")
	}
	if !h.Healthy {
		t.Errorf("drift alone must not flip the verdict, got %+v", h)
	}
}

func TestWorkerHooks_StateTransitions(t *testing.T) {
	fake := newFakeSandbox()
	var seen struct {
		sync.Mutex
		trans []string
	}
	hooks := Hooks{OnStateChange: func(id string, from, to Status) {
		seen.Lock()
		seen.trans = append(seen.trans, fmt.Sprintf("%s>%s", from, to))
		seen.Unlock()
	}}
	w := NewWorker("w1", testWorkerOptions(), staticFactory(fake), hooks)
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := w.Execute(context.Background(), Task{URL: "https://x.test"}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	seen.Lock()
	got := append([]string(nil), seen.trans...)
	seen.Unlock()
	want := []string{"stopped>starting", "starting>ready", "ready>busy", "busy>ready"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		requests, errs int64
		want           float64
	}{
		{0, 0, 100},   // idle worker reads 100%
		{10, 0, 100},  // clean record
		{2, 1, 50},    // (2-1)/2
		{4, 3, 25},    // (4-3)/4
		{3, 3, 0},     // errors cancel out the billed requests
		{1, 2, -100},  // more failures than billed requests goes negative
		{3, 1, 66.67}, // rounded to 2 decimals
	}
	for _, tt := range tests {
		if got := successRate(tt.requests, tt.errs); got != tt.want {
			t.Errorf("successRate(%d, %d) = %v, want %v", tt.requests, tt.errs, got, tt.want)
		}
	}
}
