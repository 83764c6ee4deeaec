package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pool statistics",
	Long:  `Display pool-wide request and error counters plus per-worker usage statistics.`,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

type statsResponse struct {
	Status             string       `json:"status"`
	TotalWorkers       int          `json:"total_workers"`
	MaxInstances       int          `json:"max_instances"`
	MinInstances       int          `json:"min_instances"`
	TotalRequests      int64        `json:"total_requests"`
	TotalErrors        int64        `json:"total_errors"`
	OverallSuccessRate float64      `json:"overall_success_rate"`
	Workers            []workerInfo `json:"workers"`
}

func runStats(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/stats", GetServerURL())

	httpReq, err := CreateAuthenticatedRequest("GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := GetHTTPClient()
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to xsign API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, body)
	}

	var stats statsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Pool %s: %d workers (min %d, max %d)\n",
		stats.Status, stats.TotalWorkers, stats.MinInstances, stats.MaxInstances)
	fmt.Printf("Requests: %d total, %d errors (%.1f%% success)\n",
		stats.TotalRequests, stats.TotalErrors, stats.OverallSuccessRate)

	if len(stats.Workers) > 0 {
		fmt.Println()
		renderWorkersTable(stats.Workers)
	}

	return nil
}
