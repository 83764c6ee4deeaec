package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/use-agent/xsign/models"
)

// Config sizes and parameterizes the pool.
type Config struct {
	MinInstances int
	MaxInstances int
	Worker       WorkerOptions

	// Ambient is identity state (cookies) injected into every new worker
	// before its first navigation.
	Ambient map[string]string

	// Hooks must be set before Start and never changed afterwards.
	Hooks Hooks
}

func (c Config) withDefaults() Config {
	if c.MinInstances <= 0 {
		c.MinInstances = 2
	}
	if c.MaxInstances <= 0 {
		c.MaxInstances = 5
	}
	if c.MaxInstances < c.MinInstances {
		c.MaxInstances = c.MinInstances
	}
	return c
}

// Manager owns the worker fleet. Its mutex serializes only bookkeeping:
// the worker map, the rotation order, and the lifecycle flags. It is never
// held across a sandbox call, so a slow page cannot block pool
// administration or the selection of other workers.
type Manager struct {
	cfg     Config
	factory Factory

	mu       sync.Mutex
	workers  map[string]*Worker
	rotation []string
	pending  int // slots reserved by in-flight creates
	started  bool
	stopped  bool
}

// NewManager builds an idle pool. Start boots the initial workers.
func NewManager(cfg Config, factory Factory) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		factory: factory,
		workers: make(map[string]*Worker),
	}
}

// Start brings the pool up to MinInstances workers, sequentially. Partial
// startup is tolerated: a worker that fails to boot is logged and skipped,
// so the pool comes up degraded rather than not at all. A stopped pool
// cannot be restarted; construct a new Manager instead.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("pool is stopped and cannot be restarted")
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	slog.Info("starting worker pool",
		"min_instances", m.cfg.MinInstances, "max_instances", m.cfg.MaxInstances)
	for i := 0; i < m.cfg.MinInstances; i++ {
		if _, err := m.CreateWorker(ctx); err != nil {
			slog.Error("initial worker failed, pool continues degraded",
				"index", i, "error", err)
		}
	}

	m.mu.Lock()
	n := len(m.workers)
	m.mu.Unlock()
	slog.Info("worker pool started", "workers", n)
	return nil
}

// CreateWorker boots one worker and registers it. The ceiling check and the
// registration happen under the pool lock; the slow boot itself does not,
// with a reserved slot keeping concurrent creates from overshooting the max.
func (m *Manager) CreateWorker(ctx context.Context) (models.WorkerStats, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return models.WorkerStats{}, fmt.Errorf("pool is stopped")
	}
	if len(m.workers)+m.pending >= m.cfg.MaxInstances {
		limit := m.cfg.MaxInstances
		m.mu.Unlock()
		return models.WorkerStats{}, models.NewSignError(models.ErrCodeInstanceLimit,
			fmt.Sprintf("maximum instances reached (%d)", limit), nil)
	}
	m.pending++
	m.mu.Unlock()

	id := uuid.New().String()[:8]
	w := NewWorker(id, m.cfg.Worker, m.factory, m.cfg.Hooks)
	if err := w.Start(ctx, m.cfg.Ambient); err != nil {
		m.mu.Lock()
		m.pending--
		m.mu.Unlock()
		return models.WorkerStats{}, err
	}

	m.mu.Lock()
	m.pending--
	if m.stopped {
		// Lost the race against Stop; don't register a live worker into
		// a dead pool.
		m.mu.Unlock()
		_ = w.Stop()
		return models.WorkerStats{}, fmt.Errorf("pool stopped during worker creation")
	}
	m.workers[id] = w
	m.rotation = append(m.rotation, id)
	total := len(m.workers)
	m.mu.Unlock()

	slog.Info("worker added to pool", "worker", id, "total", total)
	return w.Stats(), nil
}

// RemoveWorker takes a worker out of the pool and stops it. Removal is
// refused when it would drop the pool below MinInstances.
func (m *Manager) RemoveWorker(id string) error {
	m.mu.Lock()
	w, ok := m.workers[id]
	if !ok {
		m.mu.Unlock()
		return models.NewSignError(models.ErrCodeInstanceNotFound,
			fmt.Sprintf("worker %s not found", id), nil)
	}
	if len(m.workers)-1 < m.cfg.MinInstances {
		floor := m.cfg.MinInstances
		m.mu.Unlock()
		return models.NewSignError(models.ErrCodeMinInstances,
			fmt.Sprintf("removal would drop the pool below %d workers", floor), nil)
	}
	delete(m.workers, id)
	m.rotation = removeID(m.rotation, id)
	total := len(m.workers)
	m.mu.Unlock()

	if err := w.Stop(); err != nil {
		slog.Warn("stopping removed worker", "worker", id, "error", err)
	}
	slog.Info("worker removed from pool", "worker", id, "total", total)
	return nil
}

// Execute signs one task on the next Ready worker. The chosen worker runs
// outside the pool lock, so a long sign never blocks administration or the
// selection of other workers. A selection race lost to a concurrent caller
// surfaces as the worker's own WORKER_NOT_READY.
func (m *Manager) Execute(ctx context.Context, task Task) (map[string]string, error) {
	w, err := m.nextReady()
	if err != nil {
		return nil, err
	}
	return w.Execute(ctx, task)
}

// Visit borrows a Ready worker's page to fetch an arbitrary URL's rendered
// HTML; the worker steers itself back to the signing target afterwards.
func (m *Manager) Visit(ctx context.Context, url string) (string, error) {
	w, err := m.nextReady()
	if err != nil {
		return "", err
	}
	return w.Visit(ctx, url)
}

// nextReady picks a worker round-robin with skip-if-not-ready: the head of
// the rotation moves to the tail on every step regardless of outcome, so a
// worker is revisited only after every other one has had a turn, and the
// scan gives up after one full cycle instead of spinning.
func (m *Manager) nextReady() (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.stopped {
		return nil, models.NewSignError(models.ErrCodeNoAvailableWorker,
			"pool not started", nil)
	}
	for i := 0; i < len(m.rotation); i++ {
		id := m.rotation[0]
		m.rotation = append(m.rotation[1:], id)
		if w := m.workers[id]; w != nil && w.Status() == StatusReady {
			return w, nil
		}
	}
	return nil, models.NewSignError(models.ErrCodeNoAvailableWorker,
		"no ready worker in the pool", nil)
}

// HealthCheck runs every worker's health probe. Per-worker verdicts are
// independent; one broken worker becomes one unhealthy entry instead of
// failing the whole report.
func (m *Manager) HealthCheck(ctx context.Context) models.HealthResponse {
	m.mu.Lock()
	running := m.started && !m.stopped
	workers := m.snapshotLocked()
	m.mu.Unlock()

	resp := models.HealthResponse{
		ManagerStatus: "running",
		TotalWorkers:  len(workers),
		Workers:       make([]models.WorkerHealth, 0, len(workers)),
	}
	if !running {
		resp.ManagerStatus = "stopped"
	}
	for _, w := range workers {
		h := w.HealthCheck(ctx)
		if h.Healthy {
			resp.HealthyWorkers++
		}
		resp.Workers = append(resp.Workers, h)
	}
	switch {
	case resp.TotalWorkers > 0 && resp.HealthyWorkers == resp.TotalWorkers:
		resp.Status = "healthy"
	case resp.HealthyWorkers > 0:
		resp.Status = "degraded"
	default:
		resp.Status = "unhealthy"
	}
	return resp
}

// Stats aggregates counters across the current fleet.
func (m *Manager) Stats() models.PoolStats {
	m.mu.Lock()
	running := m.started && !m.stopped
	workers := m.snapshotLocked()
	m.mu.Unlock()

	stats := models.PoolStats{
		Status:       "running",
		TotalWorkers: len(workers),
		MaxInstances: m.cfg.MaxInstances,
		MinInstances: m.cfg.MinInstances,
	}
	if !running {
		stats.Status = "stopped"
	}
	for _, w := range workers {
		ws := w.Stats()
		stats.TotalRequests += ws.RequestCount
		stats.TotalErrors += ws.ErrorCount
	}
	stats.OverallSuccessRate = successRate(stats.TotalRequests, stats.TotalErrors)
	return stats
}

// ListWorkers snapshots every worker's stats in rotation order.
func (m *Manager) ListWorkers() []models.WorkerStats {
	m.mu.Lock()
	workers := m.snapshotLocked()
	m.mu.Unlock()

	out := make([]models.WorkerStats, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Stats())
	}
	return out
}

// GetWorker snapshots one worker's stats.
func (m *Manager) GetWorker(id string) (models.WorkerStats, bool) {
	m.mu.Lock()
	w, ok := m.workers[id]
	m.mu.Unlock()
	if !ok {
		return models.WorkerStats{}, false
	}
	return w.Stats(), true
}

// Cookies snapshots identity state from the first worker able to answer.
func (m *Manager) Cookies(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	workers := m.snapshotLocked()
	m.mu.Unlock()

	var lastErr error
	for _, w := range workers {
		state, err := w.SnapshotState(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		return state, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, models.NewSignError(models.ErrCodeNoAvailableWorker,
		"no worker to read cookies from", nil)
}

// Stop tears the whole pool down. Idempotent, and terminal: the manager
// refuses to start again afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.started = false
	workers := m.snapshotLocked()
	m.workers = make(map[string]*Worker)
	m.rotation = nil
	m.mu.Unlock()

	for _, w := range workers {
		if err := w.Stop(); err != nil {
			slog.Warn("stopping worker during pool shutdown", "worker", w.ID, "error", err)
		}
	}
	slog.Info("worker pool stopped", "workers_stopped", len(workers))
}

// snapshotLocked copies worker references in rotation order. Callers hold m.mu.
func (m *Manager) snapshotLocked() []*Worker {
	out := make([]*Worker, 0, len(m.rotation))
	for _, id := range m.rotation {
		if w := m.workers[id]; w != nil {
			out = append(out, w)
		}
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
