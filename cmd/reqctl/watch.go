package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reqstream/internal/realtime"
)

// sseEvent is one Server-Sent Event frame.
type sseEvent struct {
	Name string
	Data string
}

func newWatchCmd(opts *options) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "watch projects | watch requirements <project-id>",
		Short: "Stream live change events",
		Long: `Stream live change events from reqstreamd until interrupted.

Examples:
  # Every project change
  reqctl watch projects

  # Requirement changes of one project, one JSON document per line
  reqctl watch requirements P1 --raw`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := streamPath(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return watch(ctx, opts.url(path), func(ev sseEvent) error {
				return printEvent(out, ev, raw)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print only the event JSON")
	return cmd
}

// streamPath maps watch arguments to a gateway stream path.
func streamPath(args []string) (string, error) {
	switch args[0] {
	case "projects":
		if len(args) != 1 {
			return "", fmt.Errorf("watch projects takes no project id")
		}
		return "/api/v1/realtime/projects", nil
	case "requirements":
		if len(args) != 2 {
			return "", fmt.Errorf("watch requirements requires a project id")
		}
		if _, err := realtime.KeyFor(realtime.KindRequirementsByProject, args[1]); err != nil {
			return "", err
		}
		return "/api/v1/realtime/projects/" + args[1] + "/requirements", nil
	default:
		return "", fmt.Errorf("unknown stream %q (want projects or requirements)", args[0])
	}
}

// watch opens the stream at url and calls fn for every event until the
// stream ends or ctx is cancelled. Cancellation is not an error.
func watch(ctx context.Context, url string, fn func(sseEvent) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout: the stream is long-lived.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	err = readEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses a text/event-stream body. Comment lines (heartbeats)
// are skipped; multi-line data fields are joined with newlines.
func readEvents(r io.Reader, fn func(sseEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var ev sseEvent
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				ev.Data = strings.Join(data, "\n")
				if err := fn(ev); err != nil {
					return err
				}
			}
			ev, data = sseEvent{}, nil
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				ev.Name = value
			case "data":
				data = append(data, value)
			}
		}
	}
	return scanner.Err()
}

func printEvent(out io.Writer, ev sseEvent, raw bool) error {
	if raw {
		_, err := fmt.Fprintln(out, ev.Data)
		return err
	}

	var evt realtime.ChangeEvent
	if err := json.Unmarshal([]byte(ev.Data), &evt); err != nil {
		_, err = fmt.Fprintf(out, "%s %s\n", ev.Name, ev.Data)
		return err
	}
	_, err := fmt.Fprintf(out, "%-6s %s.%s id=%s\n", evt.EventType.Subject(), evt.Schema, evt.Table, evt.RecordID())
	return err
}
