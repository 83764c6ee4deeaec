package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL      = flag.String("api-url", "http://localhost:8080", "Xsign API base URL")
	apiKey      = flag.String("api-key", "", "API key for authenticated requests")
	signURL     = flag.String("url", "/api/sns/web/v1/homefeed", "URL to sign on every request")
	signData    = flag.String("data", "", "request body to fold into the signature (JSON string)")
	requests    = flag.Int("requests", 100, "Total number of sign requests")
	concurrency = flag.Int("concurrency", 8, "Number of concurrent clients")
	output      = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// --- Request / Response types (mirrors models package) ---

type signRequest struct {
	URL  string          `json:"url"`
	Data json.RawMessage `json:"data,omitempty"`
}

type signResponse struct {
	Success bool         `json:"success"`
	XS      string       `json:"X-s"`
	Error   *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type poolStats struct {
	Status             string  `json:"status"`
	TotalWorkers       int     `json:"total_workers"`
	TotalRequests      int64   `json:"total_requests"`
	TotalErrors        int64   `json:"total_errors"`
	OverallSuccessRate float64 `json:"overall_success_rate"`
}

// --- Benchmark result types ---

type callResult struct {
	LatencyMs float64
	Success   bool
	ErrorCode string
}

type latencySummary struct {
	MinMs  float64 `json:"min_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P90Ms  float64 `json:"p90_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
}

type benchmarkReport struct {
	Timestamp   string          `json:"timestamp"`
	APIURL      string          `json:"api_url"`
	SignURL     string          `json:"sign_url"`
	Requests    int             `json:"requests"`
	Concurrency int             `json:"concurrency"`
	DurationMs  int64           `json:"duration_ms"`
	Throughput  float64         `json:"throughput_rps"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Errors      map[string]int  `json:"errors,omitempty"`
	Latency     *latencySummary `json:"latency,omitempty"`
	Pool        *poolStats      `json:"pool,omitempty"`
}

func main() {
	flag.Parse()

	fmt.Println("=== Xsign Benchmark Suite ===")
	fmt.Printf("API URL:      %s\n", *apiURL)
	fmt.Printf("Sign URL:     %s\n", *signURL)
	fmt.Printf("Requests:     %d\n", *requests)
	fmt.Printf("Concurrency:  %d\n", *concurrency)
	fmt.Printf("Output:       %s\n", *output)
	fmt.Println()

	// Quick connectivity check.
	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure xsign is running (e.g. make run)\n")
		os.Exit(1)
	}

	body, err := buildBody(*signURL, *signData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building request body: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Hammering POST /api/v1/sign with %d requests ...\n\n", *requests)
	results, elapsed := hammer(body)

	report := buildReport(results, elapsed)
	printSummary(report)

	// Ask the pool how it fared; the run is still valid without it.
	if pool, err := fetchPoolStats(); err == nil {
		report.Pool = pool
		fmt.Printf("\nPool after run: %d workers, %d requests, %d errors (%.1f%% success)\n",
			pool.TotalWorkers, pool.TotalRequests, pool.TotalErrors, pool.OverallSuccessRate)
	} else {
		fmt.Fprintf(os.Stderr, "\nWarning: could not fetch pool stats: %v\n", err)
	}

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func buildBody(url, data string) ([]byte, error) {
	req := signRequest{URL: url}
	if data != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(data), &raw); err == nil {
			req.Data = raw
		} else {
			// Not valid JSON: send it as a JSON string payload.
			encoded, _ := json.Marshal(data)
			req.Data = encoded
		}
	}
	return json.Marshal(req)
}

// hammer fans the configured number of requests over concurrent clients
// and returns one result per request plus the wall-clock duration.
func hammer(body []byte) ([]callResult, time.Duration) {
	jobs := make(chan int)
	results := make([]callResult, *requests)

	var wg sync.WaitGroup
	start := time.Now()

	for c := 0; c < *concurrency; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 90 * time.Second}
			for i := range jobs {
				results[i] = signOnce(client, body)
			}
		}()
	}

	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results, time.Since(start)
}

func signOnce(client *http.Client, body []byte) callResult {
	start := time.Now()

	req, err := http.NewRequest("POST", *apiURL+"/api/v1/sign", bytes.NewReader(body))
	if err != nil {
		return callResult{ErrorCode: "REQUEST_ERROR"}
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("X-API-Key", *apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return callResult{LatencyMs: millis(time.Since(start)), ErrorCode: "TRANSPORT"}
	}
	defer resp.Body.Close()

	var sr signResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return callResult{LatencyMs: millis(time.Since(start)), ErrorCode: "DECODE_ERROR"}
	}

	cr := callResult{LatencyMs: millis(time.Since(start)), Success: sr.Success && sr.XS != ""}
	if !cr.Success {
		cr.ErrorCode = "UNKNOWN"
		if sr.Error != nil {
			cr.ErrorCode = sr.Error.Code
		}
	}
	return cr
}

func millis(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

func buildReport(results []callResult, elapsed time.Duration) benchmarkReport {
	report := benchmarkReport{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		APIURL:      *apiURL,
		SignURL:     *signURL,
		Requests:    *requests,
		Concurrency: *concurrency,
		DurationMs:  elapsed.Milliseconds(),
		Errors:      map[string]int{},
	}
	if elapsed > 0 {
		report.Throughput = float64(len(results)) / elapsed.Seconds()
	}

	var latencies []float64
	var sum float64
	for _, r := range results {
		if r.Success {
			report.Succeeded++
			latencies = append(latencies, r.LatencyMs)
			sum += r.LatencyMs
		} else {
			report.Failed++
			report.Errors[r.ErrorCode]++
		}
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		report.Latency = &latencySummary{
			MinMs:  latencies[0],
			MeanMs: sum / float64(len(latencies)),
			P50Ms:  percentile(latencies, 50),
			P90Ms:  percentile(latencies, 90),
			P95Ms:  percentile(latencies, 95),
			P99Ms:  percentile(latencies, 99),
			MaxMs:  latencies[len(latencies)-1],
		}
	}

	return report
}

func printSummary(report benchmarkReport) {
	fmt.Println(strings.Repeat("─", 72))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Requests\tSucceeded\tFailed\tDuration\tThroughput\n")
	fmt.Fprintf(w, "────────\t─────────\t──────\t────────\t──────────\n")
	fmt.Fprintf(w, "%d\t%d\t%d\t%dms\t%.1f req/s\n",
		report.Requests, report.Succeeded, report.Failed, report.DurationMs, report.Throughput)
	w.Flush()

	if report.Latency != nil {
		l := report.Latency
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Min\tMean\tp50\tp90\tp95\tp99\tMax\n")
		fmt.Fprintf(w, "───\t────\t───\t───\t───\t───\t───\n")
		fmt.Fprintf(w, "%.1fms\t%.1fms\t%.1fms\t%.1fms\t%.1fms\t%.1fms\t%.1fms\n",
			l.MinMs, l.MeanMs, l.P50Ms, l.P90Ms, l.P95Ms, l.P99Ms, l.MaxMs)
		w.Flush()
	}

	if len(report.Errors) > 0 {
		fmt.Println("\nErrors by code:")
		codes := make([]string, 0, len(report.Errors))
		for code := range report.Errors {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Printf("  %s: %d\n", code, report.Errors[code])
		}
	}
	fmt.Println(strings.Repeat("─", 72))
}

func fetchPoolStats() (*poolStats, error) {
	req, err := http.NewRequest("GET", *apiURL+"/api/v1/stats", nil)
	if err != nil {
		return nil, err
	}
	if *apiKey != "" {
		req.Header.Set("X-API-Key", *apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats returned %d", resp.StatusCode)
	}

	var stats poolStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// percentile reads the nearest-rank value from an ascending slice.
func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * pct / 100.0)
	return sorted[idx]
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
