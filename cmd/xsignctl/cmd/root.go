package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	serverURL    string
	apiKey       string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "xsignctl",
	Short: "CLI for the xsign signing pool",
	Long: `xsignctl is a command line interface for inspecting and managing a
running xsign server: pool health, per-worker statistics, worker
lifecycle, and ad-hoc signing.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.xsignctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "xsign server URL (default from config or http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key sent as X-API-Key (default from config or XSIGNCTL_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set.
// Precedence: flag, then environment, then config file, then default.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		// Search config in home directory with name ".xsignctl" (without extension)
		viper.AddConfigPath(home)
		viper.SetConfigName(".xsignctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("XSIGNCTL")
	viper.AutomaticEnv() // read in environment variables that match

	// Bind specific environment variables
	viper.BindEnv("server", "XSIGNCTL_SERVER")
	viper.BindEnv("api_key", "XSIGNCTL_API_KEY")

	// Missing config file is fine; flags and env still apply.
	_ = viper.ReadInConfig()

	if serverURL == "" {
		serverURL = viper.GetString("server")
	}
	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}

	// Set default if still empty
	if serverURL == "" {
		serverURL = "http://127.0.0.1:8080"
	}
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// GetHTTPClient returns the client used for all API calls. Signing can
// block on a busy pool, so the timeout is generous.
func GetHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

// CreateAuthenticatedRequest creates an HTTP request with the API key header if one is configured
func CreateAuthenticatedRequest(method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}

	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	return req, nil
}

// errorEnvelope mirrors the error shape every xsign API failure carries.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// apiError turns a non-2xx response into a readable error, preferring the
// structured envelope over the raw body.
func apiError(statusCode int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return fmt.Errorf("[%s] %s", env.Error.Code, env.Error.Message)
	}
	return fmt.Errorf("API error (status %d): %s", statusCode, strings.TrimSpace(string(body)))
}
