// Package main implements the traindctl CLI for manual operations against
// the traind HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the traind HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "traindctl",
	Short: "CLI for traind HTTP server operations",
	Long: `traindctl is a command-line interface for interacting with the traind
HTTP server. It submits pipeline runs, inspects run status, manages the
model registry, and scores records against the current model.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "traind server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(currentCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(predictCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check traind server health",
	Long: `Check the health status of the traind HTTP server.

Examples:
  # Check health
  traindctl health

  # Check health on a different server
  traindctl health --server http://localhost:8080`,
	RunE: runHealth,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a pipeline run",
	Long: `Submit a pipeline run to the traind server. The run executes in the
background; use "traindctl runs <id>" to poll its status.

Examples:
  # Submit a run
  traindctl run`,
	RunE: runSubmit,
}

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "List runs or show one run",
	Long: `List all submitted runs, or show the status of a single run.

Examples:
  # List runs
  traindctl runs

  # Show one run
  traindctl runs 4f7c1e2a-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List registered model versions",
	RunE:  runModels,
}

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the current production model",
	RunE:  runCurrent,
}

var promoteCmd = &cobra.Command{
	Use:   "promote <version>",
	Short: "Promote a registered version to current",
	Long: `Promote a registered model version to be the current production
model. Promoting an older version rolls back.

Examples:
  # Promote version 3
  traindctl promote 3`,
	Args: cobra.ExactArgs(1),
	RunE: runPromote,
}

var predictCmd = &cobra.Command{
	Use:   "predict [file]",
	Short: "Score a record with the current model",
	Long: `Score a record with the current production model. The record is a
JSON object mapping column names to string values, read from a file or
stdin.

Examples:
  # Score a record from a file
  traindctl predict record.json

  # Score from stdin
  echo '{"x1": "2.1", "x2": "1.9"}' | traindctl predict -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPredict,
}

// Response types match internal/server.
type healthResponse struct {
	Status string `json:"status"`
}

type submitRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type predictResponse struct {
	Score   float64 `json:"score"`
	Version int64   `json:"version"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	var resp healthResponse
	if err := getJSON("/health", 5*time.Second, &resp); err != nil {
		return err
	}
	fmt.Printf("Server Status: %s\n", resp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var resp submitRunResponse
	if err := postJSON("/api/v1/runs", nil, 30*time.Second, &resp); err != nil {
		return err
	}
	fmt.Printf("Run ID: %s\n", resp.ID)
	fmt.Printf("Status: %s\n", resp.Status)
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	path := "/api/v1/runs"
	if len(args) == 1 {
		path += "/" + args[0]
	}
	var out json.RawMessage
	if err := getJSON(path, 30*time.Second, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runModels(cmd *cobra.Command, args []string) error {
	var out json.RawMessage
	if err := getJSON("/api/v1/models", 30*time.Second, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runCurrent(cmd *cobra.Command, args []string) error {
	var out json.RawMessage
	if err := getJSON("/api/v1/models/current", 30*time.Second, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runPromote(cmd *cobra.Command, args []string) error {
	var out json.RawMessage
	if err := postJSON("/api/v1/models/"+args[0]+"/promote", nil, 30*time.Second, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runPredict(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	var record map[string]string
	if err := json.Unmarshal(content, &record); err != nil {
		return fmt.Errorf("record must be a JSON object of string values: %w", err)
	}

	body := struct {
		Record map[string]string `json:"record"`
	}{Record: record}

	var resp predictResponse
	if err := postJSON("/api/v1/predict", body, 30*time.Second, &resp); err != nil {
		return err
	}
	fmt.Printf("Score:   %g\n", resp.Score)
	fmt.Printf("Version: %d\n", resp.Version)
	return nil
}

// getJSON issues a GET and decodes the response into out.
func getJSON(path string, timeout time.Duration, out any) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// postJSON issues a POST with an optional JSON body and decodes the response
// into out.
func postJSON(path string, body any, timeout time.Duration, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	fmt.Println(buf.String())
	return nil
}
