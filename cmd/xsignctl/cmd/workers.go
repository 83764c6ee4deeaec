package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// workersCmd represents the workers command
var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Manage pool workers",
	Long:  `Commands for listing, adding, and removing signing workers in the pool.`,
}

// workersListCmd represents the workers list command
var workersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all workers",
	Long:  `Retrieve and display every worker in the pool with its lifecycle status and counters.`,
	RunE:  runWorkersList,
}

// workersAddCmd represents the workers add command
var workersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a worker",
	Long:  `Scale the pool up by one worker. Fails when the pool is already at its maximum size.`,
	RunE:  runWorkersAdd,
}

// workersRemoveCmd represents the workers remove command
var workersRemoveCmd = &cobra.Command{
	Use:   "remove <worker-id>",
	Short: "Remove a worker",
	Long:  `Remove a worker from the pool by ID. Fails when removal would shrink the pool below its minimum size.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkersRemove,
}

func init() {
	rootCmd.AddCommand(workersCmd)
	workersCmd.AddCommand(workersListCmd)
	workersCmd.AddCommand(workersAddCmd)
	workersCmd.AddCommand(workersRemoveCmd)
}

type workerInfo struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	LastUsedAt        *time.Time `json:"last_used_at"`
	RequestCount      int64      `json:"request_count"`
	ErrorCount        int64      `json:"error_count"`
	ConsecutiveErrors int64      `json:"consecutive_errors"`
	SuccessRate       float64    `json:"success_rate"`
}

type workersListResponse struct {
	Count   int          `json:"count"`
	Workers []workerInfo `json:"workers"`
}

func runWorkersList(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/workers", GetServerURL())

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

	var result workersListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(result.Workers) == 0 {
		fmt.Println("No workers in the pool")
		return nil
	}

	renderWorkersTable(result.Workers)
	fmt.Printf("\nTotal workers: %d\n", result.Count)
	return nil
}

func runWorkersAdd(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/workers", GetServerURL())

	httpReq, err := CreateAuthenticatedRequest("POST", url, nil)
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

	if resp.StatusCode != http.StatusCreated {
		return apiError(resp.StatusCode, body)
	}

	var worker workerInfo
	if err := json.Unmarshal(body, &worker); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(worker, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Worker %s created (%s)\n", worker.ID, worker.Status)
	return nil
}

func runWorkersRemove(cmd *cobra.Command, args []string) error {
	workerID := args[0]
	url := fmt.Sprintf("%s/api/v1/workers/%s", GetServerURL(), workerID)

	httpReq, err := CreateAuthenticatedRequest("DELETE", url, nil)
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

	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp.StatusCode, body)
	}

	fmt.Printf("Worker %s removed\n", workerID)
	return nil
}

// renderWorkersTable prints one row per worker, shared by stats and list.
func renderWorkersTable(workers []workerInfo) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Status", "Requests", "Errors", "Consecutive", "Success", "Last Used")

	for _, w := range workers {
		lastUsed := "never"
		if w.LastUsedAt != nil {
			lastUsed = w.LastUsedAt.Local().Format("2006-01-02 15:04:05")
		}

		table.Append(
			w.ID,
			w.Status,
			strconv.FormatInt(w.RequestCount, 10),
			strconv.FormatInt(w.ErrorCount, 10),
			strconv.FormatInt(w.ConsecutiveErrors, 10),
			fmt.Sprintf("%.1f%%", w.SuccessRate),
			lastUsed,
		)
	}

	table.Render()
}
