// Package pool manages a fleet of signing workers. Each worker owns one
// sandboxed page that has the target site's signing function loaded; the
// pool hands incoming requests to ready workers round-robin and replaces
// page state when a worker starts failing repeatedly.
package pool

import "context"

// Worker status values. A worker starts life Stopped, moves to Starting
// while its page boots, then oscillates Ready <-> Busy. Error means the
// page is considered broken until a recovery rebuilds it. Stopped is
// terminal once reached via Stop.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusBusy     Status = "busy"
	StatusError    Status = "error"
	StatusStopped  Status = "stopped"
)

// Probe names understood by the sandbox. Workers use them to ask readiness
// questions without knowing how the sandbox answers.
const (
	ProbeSigner      = "signer"      // is the signing function callable?
	ProbeInterceptor = "interceptor" // is the header interceptor installed?
	ProbePage        = "page"        // does the page have a live document?
)

// SideChannelKey is the payload field backfilled from the worker's cached
// interceptor capture when the in-page script could not provide it.
const SideChannelKey = "X-s-common"

// Task is one signing job: the API URL being signed and the serialized
// request body ("" when the request has none).
type Task struct {
	URL  string
	Data string
}

// Result is the sandbox's verdict on one script run. Payload carries the
// script's output fields (all string-valued) when Success is true;
// ErrorMessage carries the script's own failure text when it is false.
type Result struct {
	Success      bool
	Payload      map[string]string
	ErrorMessage string
}

// Sandbox is the pool's view of one isolated page. Implementations wrap a
// real browser page; tests substitute fakes. All methods except Dispose
// honor ctx cancellation. None of them are called with pool or worker
// locks held.
type Sandbox interface {
	// Navigate loads the target page and waits for it to settle.
	Navigate(ctx context.Context, target string) error

	// Probe answers a named readiness question. A false answer means
	// "not yet", not failure; errors mean the sandbox itself broke.
	Probe(ctx context.Context, name string) (bool, error)

	// Run evaluates a script with positional string arguments and decodes
	// its structured verdict. An error return means the sandbox transport
	// failed or the run timed out, not that the script reported failure.
	Run(ctx context.Context, script string, args []string) (Result, error)

	// InjectAmbientState seeds identity state (cookies) before navigation.
	InjectAmbientState(ctx context.Context, entries map[string]string) error

	// SnapshotState reads the current identity state back out.
	SnapshotState(ctx context.Context) (map[string]string, error)

	// SideChannel reads the latest interceptor capture, "" if none yet.
	SideChannel(ctx context.Context) (string, error)

	// PageHTML returns the current serialized document, used for
	// structural drift checks.
	PageHTML(ctx context.Context) (string, error)

	// Dispose releases the page. Safe to call more than once.
	Dispose() error
}

// Factory produces a fresh Sandbox for a starting worker.
type Factory func(ctx context.Context) (Sandbox, error)

// Hooks let the host observe pool events without the pool knowing about
// webhooks or metrics. Hooks are invoked outside all pool and worker
// locks and must not call back into the pool synchronously.
type Hooks struct {
	// OnStateChange fires on every worker status transition.
	OnStateChange func(workerID string, from, to Status)

	// OnRecoverResult fires when an automatic recovery finishes;
	// err is nil on success.
	OnRecoverResult func(workerID string, err error)
}

func (h Hooks) stateChange(workerID string, from, to Status) {
	if h.OnStateChange != nil && from != to {
		h.OnStateChange(workerID, from, to)
	}
}

func (h Hooks) recoverResult(workerID string, err error) {
	if h.OnRecoverResult != nil {
		h.OnRecoverResult(workerID, err)
	}
}
