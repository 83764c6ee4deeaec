package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Pool      PoolConfig
	Target    TargetConfig
	Session   SessionConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// UserDataDir persists the browser profile between runs.
	UserDataDir string

	// ProxyServer routes page traffic through a proxy ("host:port").
	// ProxyUsername/ProxyPassword answer the proxy's auth challenge.
	ProxyServer   string
	ProxyUsername string
	ProxyPassword string

	// BlockedResourceTypes lists page resource types to block while the
	// signing page loads. Stylesheets and scripts stay enabled: the page
	// must execute its own JS for the signing function to exist.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string
}

// PoolConfig controls the signing worker pool.
type PoolConfig struct {
	// MinInstances is the number of workers created at startup and the
	// floor RemoveWorker enforces.
	MinInstances int // default: 2

	// MaxInstances is the ceiling CreateWorker enforces.
	MaxInstances int // default: 5

	// PageTimeout bounds navigation and recovery sequences.
	PageTimeout time.Duration // default: 30s

	// ExecTimeout bounds a single signing evaluation.
	ExecTimeout time.Duration // default: 5s

	// ProbeTimeout bounds one readiness/health probe.
	ProbeTimeout time.Duration // default: 5s

	// ProbeAttempts and ProbeDelay shape the startup wait for the signing
	// function. Exhaustion is non-fatal: the function can appear lazily.
	ProbeAttempts int           // default: 5
	ProbeDelay    time.Duration // default: 2s

	// SettleDelay is the post-navigation pause that lets the page finish
	// wiring its runtime before probing starts.
	SettleDelay time.Duration // default: 5s

	// RecoverThreshold is the consecutive-error streak that triggers an
	// in-place recovery attempt.
	RecoverThreshold int // default: 3
}

// TargetConfig identifies the site whose signing function is used.
type TargetConfig struct {
	// URL is the page each worker loads at startup; the signing function
	// and header capture both live there.
	URL string // default: creator login page

	// DriftThreshold is the DOM fingerprint hamming distance beyond which
	// health checks flag structural drift.
	DriftThreshold int // default: 12
}

// SessionConfig controls ambient cookie state injected into new workers.
type SessionConfig struct {
	// CookieFile is a JSON file of name->value pairs loaded at startup
	// and rewritten with a fresh snapshot at shutdown. Optional.
	CookieFile string

	// Cookies are extra "name=value" pairs from the environment, applied
	// on top of the file.
	Cookies []string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys. Auth is skipped when empty.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 10

	// Burst is the maximum burst size per API key.
	Burst int // default: 20
}

// CacheConfig controls the xsec-token response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached tokens.
	MaxEntries int // default: 256
}

// WebhookConfig controls pool-event notifications. Disabled when URL is empty.
type WebhookConfig struct {
	URL    string
	Secret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// DefaultTargetURL is where workers navigate when XSIGN_TARGET_URL is unset.
const DefaultTargetURL = "https://creator.xiaohongshu.com/login"

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("XSIGN_HOST", "0.0.0.0"),
			Port: envIntOr("XSIGN_PORT", 8080),
			Mode: envOr("XSIGN_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:      envBoolOr("XSIGN_HEADLESS", true),
			NoSandbox:     envBoolOr("XSIGN_NO_SANDBOX", false),
			BrowserBin:    os.Getenv("XSIGN_BROWSER_BIN"),
			UserDataDir:   os.Getenv("XSIGN_USER_DATA_DIR"),
			ProxyServer:   os.Getenv("XSIGN_PROXY"),
			ProxyUsername: os.Getenv("XSIGN_PROXY_USER"),
			ProxyPassword: os.Getenv("XSIGN_PROXY_PASS"),
			BlockedResourceTypes: envSliceOr("XSIGN_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
		},
		Pool: PoolConfig{
			MinInstances:     envIntOr("XSIGN_MIN_INSTANCES", 2),
			MaxInstances:     envIntOr("XSIGN_MAX_INSTANCES", 5),
			PageTimeout:      envDurationOr("XSIGN_PAGE_TIMEOUT", 30*time.Second),
			ExecTimeout:      envDurationOr("XSIGN_EXEC_TIMEOUT", 5*time.Second),
			ProbeTimeout:     envDurationOr("XSIGN_PROBE_TIMEOUT", 5*time.Second),
			ProbeAttempts:    envIntOr("XSIGN_PROBE_ATTEMPTS", 5),
			ProbeDelay:       envDurationOr("XSIGN_PROBE_DELAY", 2*time.Second),
			SettleDelay:      envDurationOr("XSIGN_SETTLE_DELAY", 5*time.Second),
			RecoverThreshold: envIntOr("XSIGN_RECOVER_THRESHOLD", 3),
		},
		Target: TargetConfig{
			URL:            envOr("XSIGN_TARGET_URL", DefaultTargetURL),
			DriftThreshold: envIntOr("XSIGN_DRIFT_THRESHOLD", 12),
		},
		Session: SessionConfig{
			CookieFile: os.Getenv("XSIGN_COOKIE_FILE"),
			Cookies:    envSliceOr("XSIGN_SESSION_COOKIES", nil),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("XSIGN_AUTH_ENABLED", true),
			APIKeys: envSliceOr("XSIGN_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("XSIGN_RATE_RPS", 10.0),
			Burst:             envIntOr("XSIGN_RATE_BURST", 20),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("XSIGN_CACHE_MAX_ENTRIES", 256),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("XSIGN_WEBHOOK_URL"),
			Secret: os.Getenv("XSIGN_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("XSIGN_LOG_LEVEL", "info"),
			Format: envOr("XSIGN_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
