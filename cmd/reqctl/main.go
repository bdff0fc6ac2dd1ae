// Package main implements reqctl, the command-line client for reqstreamd.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/reqstream/internal/http"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const defaultServerURL = "http://localhost:9191"

// options holds the persistent flags shared by every command.
type options struct {
	serverURL  string
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "reqctl",
		Short: "CLI for reqstreamd realtime gateway operations",
		Long: `reqctl is a command-line interface for the reqstream realtime gateway.
It checks gateway health, lists open subscription channels, watches live
change streams, publishes change events and runs a live requirement sync.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&opts.serverURL, "server", envOr("REQSTREAM_SERVER_URL", defaultServerURL), "reqstreamd server URL")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (default ~/.config/reqstream/config.yaml)")

	root.AddCommand(
		newHealthCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newPublishCmd(opts),
		newSyncCmd(opts),
		newTopCmd(opts),
		newVersionCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *options) url(path string) string {
	return strings.TrimRight(o.serverURL, "/") + path
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check reqstreamd health",
		Long: `Check the health status of the reqstreamd gateway.

Examples:
  # Check health
  reqctl health

  # Check health on a different server
  reqctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var health httpserver.HealthResponse
			if err := getJSON(opts.url("/health"), &health); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", health.Status)
			fmt.Fprintf(out, "Realtime: %s\n", health.Realtime)
			if health.Version != "" {
				fmt.Fprintf(out, "Version: %s\n", health.Version)
			}
			fmt.Fprintf(out, "Server URL: %s\n", opts.serverURL)
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List open subscription channels",
		Long: `List the gateway's open realtime channels and their listener counts.

Examples:
  reqctl status
  reqctl status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status httpserver.StatusResponse
			if err := getJSON(opts.url("/api/v1/realtime/status"), &status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			printStatus(out, status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status document")
	return cmd
}

func printStatus(out io.Writer, status httpserver.StatusResponse) {
	configured := "disabled"
	if status.Configured {
		configured = "configured"
	}
	fmt.Fprintf(out, "Realtime: %s\n", configured)
	fmt.Fprintf(out, "Publisher: %t\n", status.Publisher)
	fmt.Fprintf(out, "Events delivered: %d\n", status.EventsDelivered)
	fmt.Fprintf(out, "Channels: %d\n", len(status.Channels))
	for _, ch := range status.Channels {
		fmt.Fprintf(out, "  %-40s %d listener(s)\n", ch.Key, ch.Listeners)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reqctl by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// getJSON fetches url and decodes a 200 response into out.
func getJSON(url string, out any) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError turns a non-success response into an error carrying the
// gateway's message.
func statusError(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}

	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg.Message)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
