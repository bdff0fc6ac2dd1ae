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

	httpserver "github.com/fyrsmithlabs/reqstream/internal/http"
	"github.com/fyrsmithlabs/reqstream/internal/realtime"
)

type publishFlags struct {
	eventType string
	schema    string
	table     string
	newRow    string
	oldRow    string
	file      string
}

func newPublishCmd(opts *options) *cobra.Command {
	f := &publishFlags{}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a change event through reqstreamd",
		Long: `Publish a row change event to every subscriber of the affected channel.

The event is either assembled from flags or read as a JSON document from a
file ("-" for stdin).

Examples:
  # Requirement inserted into project P1
  reqctl publish --type insert --table requirements \
    --new '{"id":"R1","project_id":"P1","name":"Login"}'

  # Project deleted
  reqctl publish --type delete --table projects --old '{"id":"P1"}'

  # Full event document
  reqctl publish --file event.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			evt, err := f.event(cmd.InOrStdin())
			if err != nil {
				return err
			}
			id, err := publish(opts.url("/api/v1/realtime/changes"), evt)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s %s.%s (event %s)\n",
				evt.EventType.Subject(), evt.Schema, evt.Table, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.eventType, "type", "", "event type: insert, update or delete")
	cmd.Flags().StringVar(&f.schema, "schema", realtime.DefaultSchema, "database schema")
	cmd.Flags().StringVar(&f.table, "table", "", "table name (projects or requirements)")
	cmd.Flags().StringVar(&f.newRow, "new", "", "new row image as JSON")
	cmd.Flags().StringVar(&f.oldRow, "old", "", "old row image as JSON")
	cmd.Flags().StringVar(&f.file, "file", "", `read the whole event from a JSON file ("-" for stdin)`)
	cmd.MarkFlagsMutuallyExclusive("file", "type")
	cmd.MarkFlagsMutuallyExclusive("file", "table")
	return cmd
}

// event builds the change event from the flags and validates it.
func (f *publishFlags) event(stdin io.Reader) (realtime.ChangeEvent, error) {
	var evt realtime.ChangeEvent

	if f.file != "" {
		var data []byte
		var err error
		if f.file == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(f.file)
		}
		if err != nil {
			return evt, fmt.Errorf("failed to read event: %w", err)
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			return evt, fmt.Errorf("failed to parse event: %w", err)
		}
	} else {
		et, err := realtime.ParseEventType(f.eventType)
		if err != nil {
			return evt, err
		}
		evt = realtime.ChangeEvent{
			EventType:       et,
			Schema:          f.schema,
			Table:           f.table,
			CommitTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if evt.New, err = parseRecord("new", f.newRow); err != nil {
			return evt, err
		}
		if evt.Old, err = parseRecord("old", f.oldRow); err != nil {
			return evt, err
		}
	}

	if evt.Schema == "" {
		evt.Schema = realtime.DefaultSchema
	}
	if err := evt.Validate(); err != nil {
		return evt, err
	}
	return evt, nil
}

func parseRecord(name, s string) (realtime.Record, error) {
	if s == "" {
		return nil, nil
	}
	var rec realtime.Record
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, fmt.Errorf("--%s is not a JSON object: %w", name, err)
	}
	return rec, nil
}

// publish posts evt to the gateway and returns the assigned event id.
func publish(url string, evt realtime.ChangeEvent) (string, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 30 * time.Second,
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", statusError(resp)
	}

	var out httpserver.PublishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return out.ID, nil
}
