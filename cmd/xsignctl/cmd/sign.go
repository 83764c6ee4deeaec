package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var signData string

// signCmd represents the sign command
var signCmd = &cobra.Command{
	Use:   "sign <url>",
	Short: "Sign a request",
	Long:  `Sign an API URL through the pool and print the X-s signature, the X-t timestamp, and the captured X-s-common value.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().StringVar(&signData, "data", "", "request body to fold into the signature (JSON string)")
}

type signRequest struct {
	URL  string          `json:"url"`
	Data json.RawMessage `json:"data,omitempty"`
}

type signResponse struct {
	Success  bool   `json:"success"`
	XS       string `json:"X-s,omitempty"`
	XT       int64  `json:"X-t,omitempty"`
	XSCommon string `json:"X-s-common,omitempty"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func runSign(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/sign", GetServerURL())

	req := signRequest{URL: args[0]}
	if signData != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(signData), &raw); err == nil {
			req.Data = raw
		} else {
			// Not valid JSON: send it as a JSON string payload.
			encoded, _ := json.Marshal(signData)
			req.Data = encoded
		}
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := CreateAuthenticatedRequest("POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var result signResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if !result.Success {
		if result.Error != nil {
			return fmt.Errorf("[%s] %s", result.Error.Code, result.Error.Message)
		}
		return apiError(resp.StatusCode, body)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("X-s: %s\n", result.XS)
	fmt.Printf("X-t: %d\n", result.XT)
	if result.XSCommon != "" {
		fmt.Printf("X-s-common: %s\n", result.XSCommon)
	}
	return nil
}
