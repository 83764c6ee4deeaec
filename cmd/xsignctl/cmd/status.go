package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool health",
	Long:  `Probe every worker in the pool and display the aggregate health verdict with per-worker detail.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type workerHealth struct {
	ID      string `json:"id"`
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
	Drift   int    `json:"drift,omitempty"`
}

type healthResponse struct {
	Status         string         `json:"status"`
	ManagerStatus  string         `json:"manager_status"`
	TotalWorkers   int            `json:"total_workers"`
	HealthyWorkers int            `json:"healthy_workers"`
	Workers        []workerHealth `json:"workers"`
	Uptime         string         `json:"uptime,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/health", GetServerURL())

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

	// An unhealthy pool answers 503 but still carries the full report.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return apiError(resp.StatusCode, body)
	}

	var health healthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(health, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Pool: %s (manager %s, %d/%d workers healthy",
		health.Status, health.ManagerStatus, health.HealthyWorkers, health.TotalWorkers)
	if health.Uptime != "" {
		fmt.Printf(", up %s", health.Uptime)
	}
	fmt.Println(")")

	if len(health.Workers) == 0 {
		fmt.Println("\nNo workers in the pool")
		return nil
	}

	fmt.Println()
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Healthy", "Reason", "Drift")

	for _, w := range health.Workers {
		healthy := "no"
		if w.Healthy {
			healthy = "yes"
		}
		drift := ""
		if w.Drift > 0 {
			drift = strconv.Itoa(w.Drift)
		}
		table.Append(w.ID, healthy, w.Reason, drift)
	}

	table.Render()
	return nil
}
