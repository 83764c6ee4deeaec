package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/use-agent/xsign/models"
	"github.com/use-agent/xsign/simhash"
)

// WorkerOptions carries everything a worker needs to drive its sandbox.
type WorkerOptions struct {
	// TargetURL is the page that has the signing function loaded.
	TargetURL string

	// SignScript is the opaque in-page signing script.
	SignScript string

	PageTimeout  time.Duration // navigation, including settle
	ExecTimeout  time.Duration // one signing run
	ProbeTimeout time.Duration // one readiness probe or state read

	// The signing function appears lazily after page load, so startup
	// polls for it: ProbeAttempts tries, ProbeDelay apart, non-fatal.
	ProbeAttempts int
	ProbeDelay    time.Duration

	// RecoverThreshold is the consecutive-failure streak that arms an
	// in-place page recovery.
	RecoverThreshold int
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.PageTimeout <= 0 {
		o.PageTimeout = 30 * time.Second
	}
	if o.ExecTimeout <= 0 {
		o.ExecTimeout = 5 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.ProbeAttempts <= 0 {
		o.ProbeAttempts = 5
	}
	if o.ProbeDelay <= 0 {
		o.ProbeDelay = 2 * time.Second
	}
	if o.RecoverThreshold <= 0 {
		o.RecoverThreshold = 3
	}
	return o
}

// Worker owns one sandbox and serializes all signing work against it.
// The worker's own mutex is the exclusivity mechanism: Execute performs a
// compare-and-swap Ready→Busy under it, and a caller that loses the race
// is rejected with WORKER_NOT_READY rather than queued. The mutex guards
// only status and counters; it is never held across a sandbox call.
type Worker struct {
	ID string

	opts    WorkerOptions
	factory Factory
	hooks   Hooks

	mu                sync.Mutex
	status            Status
	sb                Sandbox
	sideChannel       string
	baselineFP        uint64
	createdAt         time.Time
	lastUsedAt        *time.Time
	requestCount      int64
	errorCount        int64
	consecutiveErrors int64
}

// NewWorker builds a worker in the Stopped state. Start brings it up.
func NewWorker(id string, opts WorkerOptions, factory Factory, hooks Hooks) *Worker {
	return &Worker{
		ID:        id,
		opts:      opts.withDefaults(),
		factory:   factory,
		hooks:     hooks,
		status:    StatusStopped,
		createdAt: time.Now(),
	}
}

// Start brings the worker from Stopped (or Error) to Ready. Calling Start
// on a Ready worker is a no-op. Any unrecoverable failure tears the worker
// down and reports STARTUP_FAILED with the cause attached.
func (w *Worker) Start(ctx context.Context, ambient map[string]string) error {
	// ── 1. Claim the Starting slot ──
	w.mu.Lock()
	from := w.status
	switch from {
	case StatusReady:
		w.mu.Unlock()
		return nil
	case StatusStarting, StatusBusy:
		w.mu.Unlock()
		return models.NewSignError(models.ErrCodeStartupFailed,
			fmt.Sprintf("worker %s cannot start while %s", w.ID, from), nil)
	}
	w.status = StatusStarting
	w.mu.Unlock()
	w.hooks.stateChange(w.ID, from, StatusStarting)
	slog.Info("worker starting", "worker", w.ID)

	// ── 2. Acquire the sandbox ──
	sb, err := w.factory(ctx)
	if err != nil {
		return w.failStart(fmt.Errorf("acquire sandbox: %w", err))
	}
	w.mu.Lock()
	w.sb = sb
	w.mu.Unlock()

	// ── 3. Seed identity state before the page ever loads ──
	if len(ambient) > 0 {
		if err := sb.InjectAmbientState(ctx, ambient); err != nil {
			return w.failStart(fmt.Errorf("inject ambient state: %w", err))
		}
	}

	// ── 4. Load the signing page and wait for its machinery ──
	if err := w.refresh(ctx, sb); err != nil {
		return w.failStart(err)
	}

	// ── 5. Open for business, unless someone stopped us mid-boot ──
	w.mu.Lock()
	if w.status != StatusStarting {
		st := w.status
		w.mu.Unlock()
		return models.NewSignError(models.ErrCodeStartupFailed,
			fmt.Sprintf("worker %s became %s during startup", w.ID, st), nil)
	}
	w.status = StatusReady
	w.mu.Unlock()
	w.hooks.stateChange(w.ID, StatusStarting, StatusReady)
	slog.Info("worker ready", "worker", w.ID)
	return nil
}

func (w *Worker) failStart(cause error) error {
	w.mu.Lock()
	from := w.status
	w.status = StatusError
	w.mu.Unlock()
	w.hooks.stateChange(w.ID, from, StatusError)

	if err := w.Stop(); err != nil {
		slog.Warn("teardown after failed start", "worker", w.ID, "error", err)
	}
	return models.NewSignError(models.ErrCodeStartupFailed,
		fmt.Sprintf("worker %s failed to start", w.ID), cause)
}

// refresh drives the page back to a known-good signing state: navigate to
// the target, poll for the signing function, re-capture the side channel,
// re-baseline the drift fingerprint. Shared by Start and recover. Must be
// called without the worker lock held; every sandbox interaction inside
// carries its own timeout.
func (w *Worker) refresh(ctx context.Context, sb Sandbox) error {
	navCtx, cancel := context.WithTimeout(ctx, w.opts.PageTimeout)
	err := sb.Navigate(navCtx, w.opts.TargetURL)
	cancel()
	if err != nil {
		return fmt.Errorf("navigate %s: %w", w.opts.TargetURL, err)
	}

	w.awaitSigner(ctx, sb)

	// Side channel and drift baseline are desirable, not required: the
	// interceptor only sees a value once the page issues its own traffic.
	scCtx, cancel := context.WithTimeout(ctx, w.opts.ProbeTimeout)
	sc, err := sb.SideChannel(scCtx)
	cancel()
	if err != nil {
		slog.Warn("side-channel capture failed", "worker", w.ID, "error", err)
	} else if sc != "" {
		w.mu.Lock()
		w.sideChannel = sc
		w.mu.Unlock()
		slog.Debug("side channel captured", "worker", w.ID, "bytes", len(sc))
	}

	fpCtx, cancel := context.WithTimeout(ctx, w.opts.ProbeTimeout)
	html, err := sb.PageHTML(fpCtx)
	cancel()
	if err != nil {
		slog.Warn("baseline fingerprint failed", "worker", w.ID, "error", err)
	} else {
		fp := simhash.FingerprintPage(html)
		w.mu.Lock()
		w.baselineFP = fp
		w.mu.Unlock()
	}
	return nil
}

// awaitSigner polls until the in-page signing function is callable. The
// site loads it lazily, so exhausting the attempts is tolerated: the worker
// still goes Ready and the first Execute fails cleanly if the function
// never appeared.
func (w *Worker) awaitSigner(ctx context.Context, sb Sandbox) {
	for attempt := 1; attempt <= w.opts.ProbeAttempts; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, w.opts.ProbeTimeout)
		ok, err := sb.Probe(probeCtx, ProbeSigner)
		cancel()
		if err != nil {
			slog.Debug("signer probe errored", "worker", w.ID, "attempt", attempt, "error", err)
		} else if ok {
			slog.Debug("signer reachable", "worker", w.ID, "attempt", attempt)
			return
		}
		if attempt < w.opts.ProbeAttempts {
			select {
			case <-time.After(w.opts.ProbeDelay):
			case <-ctx.Done():
				return
			}
		}
	}
	slog.Warn("signer not reachable after probing, proceeding anyway",
		"worker", w.ID, "attempts", w.opts.ProbeAttempts)
}

// Execute runs one signing task. The failing call always reports its own
// error; a triggered recovery happens behind it, asynchronously.
func (w *Worker) Execute(ctx context.Context, task Task) (map[string]string, error) {
	// ── 1. Claim the Busy slot ──
	w.mu.Lock()
	if w.status != StatusReady {
		st := w.status
		w.mu.Unlock()
		return nil, models.NewSignError(models.ErrCodeWorkerNotReady,
			fmt.Sprintf("worker %s is %s", w.ID, st), nil)
	}
	w.status = StatusBusy
	sb := w.sb
	w.mu.Unlock()
	w.hooks.stateChange(w.ID, StatusReady, StatusBusy)

	// ── 2. Run the signing script outside all locks ──
	runCtx, cancel := context.WithTimeout(ctx, w.opts.ExecTimeout)
	res, err := sb.Run(runCtx, w.opts.SignScript, []string{task.URL, task.Data})
	cancel()

	// ── 3. Book the outcome ──
	if err != nil {
		var se *models.SignError
		if !errors.As(err, &se) {
			err = models.NewSignError(models.ErrCodeSignFailed, "signing script failed", err)
		}
		return nil, w.recordFailure(err)
	}
	if !res.Success {
		return nil, w.recordFailure(models.NewSignError(models.ErrCodeSignFailed,
			fmt.Sprintf("signing script failed: %s", res.ErrorMessage), nil))
	}
	return w.recordSuccess(res.Payload), nil
}

func (w *Worker) recordSuccess(payload map[string]string) map[string]string {
	out := make(map[string]string, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}

	w.mu.Lock()
	w.requestCount++
	now := time.Now()
	w.lastUsedAt = &now
	w.consecutiveErrors = 0
	// A fresh capture refreshes the cache; an absent one is backfilled
	// from it so callers always get the best value the worker has seen.
	if sc := out[SideChannelKey]; sc != "" {
		w.sideChannel = sc
	} else if w.sideChannel != "" {
		out[SideChannelKey] = w.sideChannel
	}
	stillBusy := w.status == StatusBusy
	if stillBusy {
		w.status = StatusReady
	}
	w.mu.Unlock()
	if stillBusy {
		w.hooks.stateChange(w.ID, StatusBusy, StatusReady)
	}
	return out
}

func (w *Worker) recordFailure(cause error) error {
	w.mu.Lock()
	w.errorCount++
	w.consecutiveErrors++
	streak := w.consecutiveErrors
	stillBusy := w.status == StatusBusy
	if stillBusy {
		w.status = StatusReady
	}
	w.mu.Unlock()
	if stillBusy {
		w.hooks.stateChange(w.ID, StatusBusy, StatusReady)
	}
	slog.Warn("sign failed", "worker", w.ID, "consecutive", streak, "error", cause)

	// Arm recovery only on the attempt that reaches the threshold. Later
	// failures in the same streak do not stack goroutines; a successful
	// recovery or request resets the streak.
	if stillBusy && streak == int64(w.opts.RecoverThreshold) {
		slog.Info("error streak reached threshold, scheduling recovery",
			"worker", w.ID, "streak", streak)
		go w.recover()
	}
	return cause
}

// recover rebuilds the page in place, without discarding the sandbox. It
// competes for the Busy slot like any caller; if a request won the race the
// streak is still live and the next failure lands back here.
func (w *Worker) recover() {
	w.mu.Lock()
	if w.status != StatusReady {
		st := w.status
		w.mu.Unlock()
		slog.Info("recovery skipped", "worker", w.ID, "status", st)
		return
	}
	w.status = StatusBusy
	sb := w.sb
	w.mu.Unlock()
	w.hooks.stateChange(w.ID, StatusReady, StatusBusy)

	// Detached from the request that armed it; refresh bounds each step.
	err := w.refresh(context.Background(), sb)

	w.mu.Lock()
	stillBusy := w.status == StatusBusy
	to := w.status
	if stillBusy {
		if err != nil {
			to = StatusError
		} else {
			w.consecutiveErrors = 0
			to = StatusReady
		}
		w.status = to
	}
	w.mu.Unlock()
	if stillBusy {
		w.hooks.stateChange(w.ID, StatusBusy, to)
	}
	w.hooks.recoverResult(w.ID, err)

	if err != nil {
		slog.Error("recovery failed, worker parked in error state", "worker", w.ID, "error", err)
		return
	}
	slog.Info("recovery complete", "worker", w.ID)
}

// Visit borrows the worker's page for one excursion: load url, capture its
// rendered HTML, steer the page back to the signing target. Counters stay
// untouched; this is a side errand, not a signing attempt.
func (w *Worker) Visit(ctx context.Context, url string) (string, error) {
	w.mu.Lock()
	if w.status != StatusReady {
		st := w.status
		w.mu.Unlock()
		return "", models.NewSignError(models.ErrCodeWorkerNotReady,
			fmt.Sprintf("worker %s is %s", w.ID, st), nil)
	}
	w.status = StatusBusy
	sb := w.sb
	w.mu.Unlock()
	w.hooks.stateChange(w.ID, StatusReady, StatusBusy)

	html, err := w.excursion(ctx, sb, url)

	w.mu.Lock()
	stillBusy := w.status == StatusBusy
	if stillBusy {
		w.status = StatusReady
	}
	w.mu.Unlock()
	if stillBusy {
		w.hooks.stateChange(w.ID, StatusBusy, StatusReady)
	}
	return html, err
}

func (w *Worker) excursion(ctx context.Context, sb Sandbox, url string) (string, error) {
	navCtx, cancel := context.WithTimeout(ctx, w.opts.PageTimeout)
	err := sb.Navigate(navCtx, url)
	cancel()
	if err != nil {
		w.returnHome(sb)
		return "", err
	}

	htmlCtx, cancel := context.WithTimeout(ctx, w.opts.ProbeTimeout)
	html, err := sb.PageHTML(htmlCtx)
	cancel()
	w.returnHome(sb)
	return html, err
}

// returnHome is best-effort: a worker stranded on a foreign page fails its
// next probes and recovers through the normal path.
func (w *Worker) returnHome(sb Sandbox) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.PageTimeout)
	defer cancel()
	if err := sb.Navigate(ctx, w.opts.TargetURL); err != nil {
		slog.Warn("return to signing target failed", "worker", w.ID, "error", err)
	}
}

// HealthCheck is read-only: it never mutates counters or status. A worker
// that is not Ready is reported unhealthy with its status as the reason,
// including Busy ones, since their page cannot be examined mid-run.
func (w *Worker) HealthCheck(ctx context.Context) models.WorkerHealth {
	w.mu.Lock()
	st := w.status
	sb := w.sb
	baseline := w.baselineFP
	w.mu.Unlock()

	h := models.WorkerHealth{ID: w.ID}
	if st != StatusReady {
		h.Reason = "status " + string(st)
		return h
	}

	for _, name := range []string{ProbeSigner, ProbeInterceptor, ProbePage} {
		probeCtx, cancel := context.WithTimeout(ctx, w.opts.ProbeTimeout)
		ok, err := sb.Probe(probeCtx, name)
		cancel()
		if err != nil {
			h.Reason = fmt.Sprintf("%s probe: %v", name, err)
			return h
		}
		if !ok {
			h.Reason = fmt.Sprintf("%s probe negative", name)
			return h
		}
	}

	// Drift is advisory. A bot wall or site redesign often still answers
	// probes, so the distance is surfaced for operators instead of
	// flipping the verdict here.
	htmlCtx, cancel := context.WithTimeout(ctx, w.opts.ProbeTimeout)
	html, err := sb.PageHTML(htmlCtx)
	cancel()
	if err == nil && baseline != 0 {
		h.Drift = simhash.Distance(baseline, simhash.FingerprintPage(html))
	}

	h.Healthy = true
	return h
}

// Stats returns a snapshot copy of the worker's counters.
func (w *Worker) Stats() models.WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return models.WorkerStats{
		ID:                w.ID,
		Status:            string(w.status),
		CreatedAt:         w.createdAt,
		LastUsedAt:        w.lastUsedAt,
		RequestCount:      w.requestCount,
		ErrorCount:        w.errorCount,
		ConsecutiveErrors: w.consecutiveErrors,
		SuccessRate:       successRate(w.requestCount, w.errorCount),
	}
}

// Status reports the current lifecycle state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// SideChannelValue returns the cached interceptor capture, "" if none yet.
func (w *Worker) SideChannelValue() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sideChannel
}

// SnapshotState reads the sandbox's current identity state (cookies).
func (w *Worker) SnapshotState(ctx context.Context) (map[string]string, error) {
	w.mu.Lock()
	sb := w.sb
	w.mu.Unlock()
	if sb == nil {
		return nil, models.NewSignError(models.ErrCodeWorkerNotReady,
			fmt.Sprintf("worker %s has no sandbox", w.ID), nil)
	}
	snapCtx, cancel := context.WithTimeout(ctx, w.opts.ProbeTimeout)
	defer cancel()
	return sb.SnapshotState(snapCtx)
}

// Stop is idempotent and callable from any state. Status flips first so
// concurrent Execute and recover paths stop touching the sandbox before it
// is disposed underneath them.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.status == StatusStopped {
		w.mu.Unlock()
		return nil
	}
	from := w.status
	w.status = StatusStopped
	sb := w.sb
	w.sb = nil
	w.mu.Unlock()
	w.hooks.stateChange(w.ID, from, StatusStopped)

	if sb != nil {
		if err := sb.Dispose(); err != nil {
			return fmt.Errorf("dispose sandbox: %w", err)
		}
	}
	slog.Info("worker stopped", "worker", w.ID)
	return nil
}

// successRate follows the service's historical formula: errors subtract
// from billed requests, and an idle worker reads 100%.
func successRate(requests, errs int64) float64 {
	if requests == 0 {
		return 100
	}
	rate := float64(requests-errs) / float64(requests) * 100
	return math.Round(rate*100) / 100
}
