// Package sandbox wraps a rod-controlled Chromium so the pool can treat
// each page as an opaque execution environment: navigate it, probe it, run
// scripts in it, read its state, throw it away. Nothing above this package
// touches rod types.
package sandbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/use-agent/xsign/config"
	"github.com/use-agent/xsign/models"
)

// Browser owns the single Chromium process all sessions share. One page per
// worker; the process itself is global and lives for the whole service.
type Browser struct {
	browser *rod.Browser
	cfg     config.BrowserConfig
	target  config.TargetConfig
	settle  time.Duration
}

// NewBrowser launches Chromium with the anti-automation surface trimmed and
// connects to it.
func NewBrowser(cfg config.BrowserConfig, target config.TargetConfig, settle time.Duration) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.ProxyServer != "" {
		l = l.Proxy(cfg.ProxyServer)
	}
	if cfg.UserDataDir != "" {
		l = l.UserDataDir(cfg.UserDataDir)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewSignError(
			models.ErrCodeStartupFailed,
			"failed to launch browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewSignError(
			models.ErrCodeStartupFailed,
			"failed to connect to browser",
			err,
		)
	}

	if cfg.ProxyUsername != "" {
		// Answers the proxy's first auth challenge; Chromium caches the
		// credentials for the rest of the session.
		go func() {
			_ = browser.HandleAuth(cfg.ProxyUsername, cfg.ProxyPassword)()
		}()
	}

	return &Browser{
		browser: browser,
		cfg:     cfg,
		target:  target,
		settle:  settle,
	}, nil
}

// NewSession opens a fresh page wired for signing work. The init scripts
// (stealth, locale, header interceptor) are installed before any navigation
// so they take effect on the first load.
func (b *Browser) NewSession(ctx context.Context) (*Session, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewSignError(
			models.ErrCodeSandboxTransport,
			"failed to create page",
			err,
		)
	}

	p := page.Context(ctx)
	if _, err := p.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}
	if _, err := p.EvalOnNewDocument(localeJS); err != nil {
		slog.Warn("locale shim injection failed", "error", err)
	}
	// The interceptor is not optional: without it the side channel never
	// fills and every signature ships without its companion header.
	if _, err := p.EvalOnNewDocument(interceptorJS); err != nil {
		_ = page.Close()
		return nil, models.NewSignError(
			models.ErrCodeSandboxTransport,
			"failed to install header interceptor",
			err,
		)
	}

	router := blockResources(page, b.cfg.BlockedResourceTypes)

	return &Session{
		page:      page,
		router:    router,
		targetURL: b.target.URL,
		settle:    b.settle,
	}, nil
}

// Close kills the browser process. Call on graceful shutdown to avoid
// zombie Chromium processes; sessions must be disposed first.
func (b *Browser) Close() {
	slog.Info("closing browser")
	b.browser.MustClose()
}
