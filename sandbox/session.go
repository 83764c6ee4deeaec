package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/use-agent/xsign/models"
	"github.com/use-agent/xsign/pool"
)

// probeScripts maps the pool's probe names onto in-page checks.
var probeScripts = map[string]string{
	pool.ProbeSigner:      probeSignerJS,
	pool.ProbeInterceptor: probeInterceptorJS,
	pool.ProbePage:        probePageJS,
}

// Session is one live page implementing pool.Sandbox. Every operation binds
// the caller's context to the page, so timeouts and cancellation propagate
// into the CDP calls instead of hanging the worker.
type Session struct {
	page      *rod.Page
	router    *rod.HijackRouter
	targetURL string
	settle    time.Duration

	disposeOnce sync.Once
	disposeErr  error
}

// Navigate loads target and waits for the page to settle. The fixed settle
// window after DOM stability gives the site time to finish wiring its
// signing machinery, which happens after the load event.
func (s *Session) Navigate(ctx context.Context, target string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(target); err != nil {
		return classify(err, models.ErrCodePageTimeout, "navigation failed")
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM",
			"error", err,
		)
	}
	if s.settle > 0 {
		select {
		case <-time.After(s.settle):
		case <-ctx.Done():
			return classify(ctx.Err(), models.ErrCodePageTimeout, "settle wait interrupted")
		}
	}
	return nil
}

// Probe answers a named readiness question. The probe scripts return plain
// booleans, so a "not yet" never surfaces as an error.
func (s *Session) Probe(ctx context.Context, name string) (bool, error) {
	js, ok := probeScripts[name]
	if !ok {
		return false, fmt.Errorf("unknown probe %q", name)
	}
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return false, classify(err, models.ErrCodeSignTimeout, "probe "+name+" failed")
	}
	return res.Value.Bool(), nil
}

// Run evaluates the script with positional string arguments and decodes its
// structured verdict. Transport failures and timeouts come back as errors;
// the script's own failures come back as Result{Success: false}.
func (s *Session) Run(ctx context.Context, script string, args []string) (pool.Result, error) {
	jsArgs := make([]interface{}, len(args))
	for i, a := range args {
		jsArgs[i] = a
	}
	res, err := s.page.Context(ctx).Eval(script, jsArgs...)
	if err != nil {
		return pool.Result{}, classify(err, models.ErrCodeSignTimeout, "script evaluation failed")
	}
	return decodeResult(res.Value), nil
}

// InjectAmbientState sets cookies before the first navigation. They are
// scoped to the target's parent domain so the page's own API subdomains
// see them too.
func (s *Session) InjectAmbientState(ctx context.Context, entries map[string]string) error {
	u, err := url.Parse(s.targetURL)
	if err != nil {
		return fmt.Errorf("parse target URL: %w", err)
	}
	domain := cookieDomain(u.Hostname())

	p := s.page.Context(ctx)
	for name, value := range entries {
		if _, err := (proto.NetworkSetCookie{
			Name:   name,
			Value:  value,
			Domain: domain,
			Path:   "/",
		}).Call(p); err != nil {
			return classify(err, models.ErrCodeSandboxTransport,
				fmt.Sprintf("set cookie %s failed", name))
		}
	}
	slog.Debug("ambient state injected", "cookies", len(entries), "domain", domain)
	return nil
}

// SnapshotState reads the page's current cookie jar as name→value pairs.
func (s *Session) SnapshotState(ctx context.Context) (map[string]string, error) {
	cookies, err := s.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, classify(err, models.ErrCodeSandboxTransport, "read cookies failed")
	}
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out, nil
}

// SideChannel reads the latest header value the interceptor captured.
func (s *Session) SideChannel(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(sideChannelJS)
	if err != nil {
		return "", classify(err, models.ErrCodeSandboxTransport, "side-channel read failed")
	}
	return res.Value.Str(), nil
}

// PageHTML returns the serialized current document.
func (s *Session) PageHTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", classify(err, models.ErrCodeSandboxTransport, "extract page HTML failed")
	}
	return html, nil
}

// Dispose stops the hijack router and closes the page. Idempotent.
func (s *Session) Dispose() error {
	s.disposeOnce.Do(func() {
		if s.router != nil {
			_ = s.router.Stop()
		}
		s.disposeErr = s.page.Close()
	})
	return s.disposeErr
}

// decodeResult maps a script's verdict object into a pool.Result. The
// contract is {success: bool, error?: string, ...payload}; payload values
// are strings, anything else is serialized back to JSON.
func decodeResult(v gson.JSON) pool.Result {
	raw, ok := v.Val().(map[string]interface{})
	if !ok {
		return pool.Result{ErrorMessage: "script returned a non-object result"}
	}
	res := pool.Result{Payload: make(map[string]string, len(raw))}
	for k, val := range raw {
		switch k {
		case "success":
			b, _ := val.(bool)
			res.Success = b
		case "error":
			msg, _ := val.(string)
			res.ErrorMessage = msg
		default:
			if str, isStr := val.(string); isStr {
				res.Payload[k] = str
			} else {
				res.Payload[k] = gson.New(val).JSON("", "")
			}
		}
	}
	return res
}

// cookieDomain widens a hostname to its registrable parent with a leading
// dot ("creator.example.com" → ".example.com"), so injected cookies reach
// the sibling API hosts the page talks to.
func cookieDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) > 2 {
		return "." + strings.Join(parts[len(parts)-2:], ".")
	}
	return "." + host
}

// classify wraps raw rod/CDP errors into typed SignErrors: deadline and
// cancellation get the timeout-flavored code the caller passed, everything
// else is a transport fault.
func classify(err error, timeoutCode, msg string) *models.SignError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewSignError(timeoutCode, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewSignError(timeoutCode, msg+" (canceled)", err)
	default:
		return models.NewSignError(models.ErrCodeSandboxTransport, msg, err)
	}
}
