package models

import "time"

// SignResponse is the response for POST /api/v1/sign.
// The header-cased field names are intentional: callers forward them
// upstream verbatim as request headers.
type SignResponse struct {
	// Success indicates whether the signature was produced.
	Success bool `json:"success"`

	// XS is the signature header value ("XYS_..." prefixed).
	XS string `json:"X-s,omitempty"`

	// XT is the millisecond timestamp the signature was computed at.
	XT int64 `json:"X-t,omitempty"`

	// XSCommon is the companion header captured from the page's own
	// traffic. May be empty when no capture has happened yet.
	XSCommon string `json:"X-s-common,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// WorkerStats is the observable snapshot of one pool worker.
type WorkerStats struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is nil until the worker serves its first successful request.
	LastUsedAt *time.Time `json:"last_used_at"`

	RequestCount      int64 `json:"request_count"`
	ErrorCount        int64 `json:"error_count"`
	ConsecutiveErrors int64 `json:"consecutive_errors"`

	// SuccessRate is (requests-errors)/requests*100, or 100 with no requests.
	SuccessRate float64 `json:"success_rate"`
}

// PoolStats reports pool-wide aggregates.
type PoolStats struct {
	Status             string  `json:"status"` // "running" or "stopped"
	TotalWorkers       int     `json:"total_workers"`
	MaxInstances       int     `json:"max_instances"`
	MinInstances       int     `json:"min_instances"`
	TotalRequests      int64   `json:"total_requests"`
	TotalErrors        int64   `json:"total_errors"`
	OverallSuccessRate float64 `json:"overall_success_rate"`
}

// StatsResponse is the response for GET /api/v1/stats.
type StatsResponse struct {
	PoolStats
	Workers []WorkerStats `json:"workers"`
}

// WorkerHealth is one worker's entry in the aggregate health report.
type WorkerHealth struct {
	ID      string `json:"id"`
	Healthy bool   `json:"healthy"`

	// Reason explains an unhealthy verdict (status name or probe failure).
	Reason string `json:"reason,omitempty"`

	// Drift is the hamming distance between the page's current DOM
	// fingerprint and the baseline captured at startup. Reported for
	// observability; it does not flip the healthy verdict on its own.
	Drift int `json:"drift,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
// Status is "healthy" when every worker passes, "degraded" when at least
// one does, and "unhealthy" when none do.
type HealthResponse struct {
	Status         string         `json:"status"`
	ManagerStatus  string         `json:"manager_status"`
	TotalWorkers   int            `json:"total_workers"`
	HealthyWorkers int            `json:"healthy_workers"`
	Workers        []WorkerHealth `json:"workers"`

	// Uptime is filled by the HTTP handler, not the pool.
	Uptime string `json:"uptime,omitempty"`
}

// WorkersResponse is the response for GET /api/v1/workers.
type WorkersResponse struct {
	Count   int           `json:"count"`
	Workers []WorkerStats `json:"workers"`
}

// CookiesResponse is the response for GET /api/v1/cookies.
// The three named fields are the session cookies upstream callers need
// most often; All carries the complete jar.
type CookiesResponse struct {
	A1         string            `json:"a1,omitempty"`
	WebID      string            `json:"web_id,omitempty"`
	WebSession string            `json:"web_session,omitempty"`
	All        map[string]string `json:"all"`
}

// TokenResponse is the response for POST /api/v1/xsec-token.
type TokenResponse struct {
	Success   bool         `json:"success"`
	XsecToken string       `json:"xsec_token,omitempty"`
	SourceURL string       `json:"source_url,omitempty"`
	Cached    bool         `json:"cached"`
	Error     *ErrorDetail `json:"error,omitempty"`
}
