package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// signRequest mirrors the Xsign API sign request model.
type signRequest struct {
	URL  string          `json:"url"`
	Data json.RawMessage `json:"data,omitempty"`
}

// signResponse mirrors the Xsign API sign response model.
type signResponse struct {
	Success  bool   `json:"success"`
	XS       string `json:"X-s"`
	XT       int64  `json:"X-t"`
	XSCommon string `json:"X-s-common"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// workerStats mirrors one worker entry in the stats and list responses.
type workerStats struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	LastUsedAt        *string `json:"last_used_at"`
	RequestCount      int64   `json:"request_count"`
	ErrorCount        int64   `json:"error_count"`
	ConsecutiveErrors int64   `json:"consecutive_errors"`
	SuccessRate       float64 `json:"success_rate"`
}

// statsResponse mirrors the Xsign API stats response model.
type statsResponse struct {
	Status             string        `json:"status"`
	TotalWorkers       int           `json:"total_workers"`
	MaxInstances       int           `json:"max_instances"`
	MinInstances       int           `json:"min_instances"`
	TotalRequests      int64         `json:"total_requests"`
	TotalErrors        int64         `json:"total_errors"`
	OverallSuccessRate float64       `json:"overall_success_rate"`
	Workers            []workerStats `json:"workers"`
}

// healthResponse mirrors the Xsign API health response model.
type healthResponse struct {
	Status         string `json:"status"`
	ManagerStatus  string `json:"manager_status"`
	TotalWorkers   int    `json:"total_workers"`
	HealthyWorkers int    `json:"healthy_workers"`
	Uptime         string `json:"uptime"`
	Workers        []struct {
		ID      string `json:"id"`
		Healthy bool   `json:"healthy"`
		Reason  string `json:"reason"`
		Drift   int    `json:"drift"`
	} `json:"workers"`
}

// workersResponse mirrors the Xsign API worker list response model.
type workersResponse struct {
	Count   int           `json:"count"`
	Workers []workerStats `json:"workers"`
}

// cookiesResponse mirrors the Xsign API cookies response model. Error is
// populated from the shared error envelope when the lookup fails.
type cookiesResponse struct {
	All   map[string]string `json:"all"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("XSIGN_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	// Optional: the server runs open when no keys are configured.
	apiKey := os.Getenv("XSIGN_API_KEY")

	s := server.NewMCPServer(
		"xsign",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	signTool := mcp.NewTool("sign_request",
		mcp.WithDescription("Sign a request against the target platform's web API. Returns the X-s signature, the X-t timestamp it was computed at, and the captured X-s-common companion value."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The API URL or path to sign (e.g. '/api/sns/web/v1/homefeed')"),
		),
		mcp.WithString("data",
			mcp.Description("Request body to fold into the signature, as a JSON string. Omit for GET-style requests."),
		),
	)
	s.AddTool(signTool, handleSignRequest(apiURL, apiKey))

	// pool_health tool
	healthTool := mcp.NewTool("pool_health",
		mcp.WithDescription("Probe every signing worker and report aggregate pool health (healthy, degraded, or unhealthy) with per-worker verdicts."),
	)
	s.AddTool(healthTool, handlePoolHealth(apiURL, apiKey))

	// pool_stats tool
	statsTool := mcp.NewTool("pool_stats",
		mcp.WithDescription("Report pool-wide request and error counters plus per-worker usage statistics."),
	)
	s.AddTool(statsTool, handlePoolStats(apiURL, apiKey))

	// list_workers tool
	listTool := mcp.NewTool("list_workers",
		mcp.WithDescription("List the signing workers in the pool with their lifecycle status and counters."),
	)
	s.AddTool(listTool, handleListWorkers(apiURL, apiKey))

	// get_cookies tool
	cookiesTool := mcp.NewTool("get_cookies",
		mcp.WithDescription("Fetch the current session cookies (a1, webId, web_session, ...) from a ready worker's page. Callers pair these with a signature when talking to the platform directly."),
	)
	s.AddTool(cookiesTool, handleGetCookies(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the Xsign API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// apiGet sends a GET request to the Xsign API and returns the response body.
// Non-2xx bodies are returned as-is; callers inspect the error envelope.
func apiGet(ctx context.Context, client *http.Client, apiURL, apiKey, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleSignRequest(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 60 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		reqBody := signRequest{URL: url}
		if data := request.GetString("data", ""); data != "" {
			var raw json.RawMessage
			if err := json.Unmarshal([]byte(data), &raw); err == nil {
				reqBody.Data = raw
			} else {
				// Not valid JSON: send it as a JSON string payload.
				encoded, _ := json.Marshal(data)
				reqBody.Data = encoded
			}
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/sign", reqBody)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("sign request failed: %v", err)), nil
		}

		var signResp signResponse
		if err := json.Unmarshal(respBody, &signResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !signResp.Success {
			errMsg := "signing failed"
			if signResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", signResp.Error.Code, signResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		var sb strings.Builder
		sb.WriteString("X-s: " + signResp.XS + "\n")
		sb.WriteString(fmt.Sprintf("X-t: %d\n", signResp.XT))
		if signResp.XSCommon != "" {
			sb.WriteString("X-s-common: " + signResp.XSCommon + "\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handlePoolHealth(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/health")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("health request failed: %v", err)), nil
		}

		var health healthResponse
		if err := json.Unmarshal(respBody, &health); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse health response: %v", err)), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Pool %s: manager %s, %d/%d workers healthy",
			health.Status, health.ManagerStatus, health.HealthyWorkers, health.TotalWorkers))
		if health.Uptime != "" {
			sb.WriteString(", up " + health.Uptime)
		}
		sb.WriteString("\n\n")

		for _, w := range health.Workers {
			if w.Healthy {
				sb.WriteString(fmt.Sprintf("%s: healthy", w.ID))
			} else {
				sb.WriteString(fmt.Sprintf("%s: unhealthy (%s)", w.ID, w.Reason))
			}
			if w.Drift > 0 {
				sb.WriteString(fmt.Sprintf(" [drift %d]", w.Drift))
			}
			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handlePoolStats(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/stats")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats request failed: %v", err)), nil
		}

		var stats statsResponse
		if err := json.Unmarshal(respBody, &stats); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse stats response: %v", err)), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Pool %s: %d workers (min %d, max %d)\n",
			stats.Status, stats.TotalWorkers, stats.MinInstances, stats.MaxInstances))
		sb.WriteString(fmt.Sprintf("Requests: %d total, %d errors (%.1f%% success)\n\n",
			stats.TotalRequests, stats.TotalErrors, stats.OverallSuccessRate))

		for _, w := range stats.Workers {
			sb.WriteString(formatWorker(w) + "\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleListWorkers(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/workers")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workers request failed: %v", err)), nil
		}

		var list workersResponse
		if err := json.Unmarshal(respBody, &list); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse workers response: %v", err)), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("%d workers:\n\n", list.Count))
		for _, w := range list.Workers {
			sb.WriteString(formatWorker(w) + "\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleGetCookies(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/cookies")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cookies request failed: %v", err)), nil
		}

		var cookies cookiesResponse
		if err := json.Unmarshal(respBody, &cookies); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse cookies response: %v", err)), nil
		}

		if cookies.Error != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", cookies.Error.Code, cookies.Error.Message)), nil
		}

		names := make([]string, 0, len(cookies.All))
		for name := range cookies.All {
			names = append(names, name)
		}
		sort.Strings(names)

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Session cookies (%d):\n\n", len(names)))
		for _, name := range names {
			sb.WriteString(name + "=" + cookies.All[name] + "\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

// formatWorker renders one worker line for stats and list output.
func formatWorker(w workerStats) string {
	lastUsed := "never"
	if w.LastUsedAt != nil {
		lastUsed = *w.LastUsedAt
	}
	return fmt.Sprintf("%s  %s  requests=%d errors=%d consecutive=%d success=%.1f%% last_used=%s",
		w.ID, w.Status, w.RequestCount, w.ErrorCount, w.ConsecutiveErrors, w.SuccessRate, lastUsed)
}
