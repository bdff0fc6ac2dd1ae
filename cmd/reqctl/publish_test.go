package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reqstream/internal/realtime"
)

func TestPublishFlags_Event(t *testing.T) {
	tests := []struct {
		name    string
		flags   publishFlags
		stdin   string
		check   func(t *testing.T, evt realtime.ChangeEvent)
		wantErr string
	}{
		{
			name:  "insert from flags",
			flags: publishFlags{eventType: "insert", schema: "public", table: "requirements", newRow: `{"id":"R1","project_id":"P1"}`},
			check: func(t *testing.T, evt realtime.ChangeEvent) {
				assert.Equal(t, realtime.EventInsert, evt.EventType)
				assert.Equal(t, "requirements", evt.Table)
				assert.Equal(t, "R1", evt.RecordID())
				assert.NotEmpty(t, evt.CommitTimestamp)
			},
		},
		{
			name:  "delete uses old row",
			flags: publishFlags{eventType: "DELETE", schema: "public", table: "projects", oldRow: `{"id":"P1"}`},
			check: func(t *testing.T, evt realtime.ChangeEvent) {
				assert.Equal(t, realtime.EventDelete, evt.EventType)
				assert.Equal(t, "P1", evt.RecordID())
			},
		},
		{
			name:  "event from stdin",
			flags: publishFlags{file: "-"},
			stdin: `{"eventType":"UPDATE","table":"projects","new":{"id":"P2"}}`,
			check: func(t *testing.T, evt realtime.ChangeEvent) {
				assert.Equal(t, realtime.EventUpdate, evt.EventType)
				assert.Equal(t, realtime.DefaultSchema, evt.Schema)
				assert.Equal(t, "P2", evt.RecordID())
			},
		},
		{
			name:    "unknown type",
			flags:   publishFlags{eventType: "upsert", table: "projects"},
			wantErr: "invalid event type",
		},
		{
			name:    "bad row json",
			flags:   publishFlags{eventType: "insert", table: "projects", newRow: `[1,2]`},
			wantErr: "--new is not a JSON object",
		},
		{
			name:    "missing table",
			flags:   publishFlags{eventType: "insert", newRow: `{"id":"P1"}`},
			wantErr: "table is required",
		},
		{
			name:    "delete without old row",
			flags:   publishFlags{eventType: "delete", table: "projects"},
			wantErr: "delete events require an old record",
		},
		{
			name:    "bad stdin",
			flags:   publishFlags{file: "-"},
			stdin:   "{",
			wantErr: "failed to parse event",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := tt.flags.event(strings.NewReader(tt.stdin))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, evt)
		})
	}
}

func TestPublishCmd_FromFile(t *testing.T) {
	g := startGateway(t, true)

	received := make(chan realtime.ChangeEvent, 1)
	dispose := g.manager.SubscribeToProjects(func(evt realtime.ChangeEvent) { received <- evt })
	defer dispose()

	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"eventType":"UPDATE","schema":"public","table":"projects","new":{"id":"P9","name":"Rover"}}`), 0o600))

	out, err := executeCommand(t, "publish", "--server", g.url, "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Published update public.projects (event ")

	select {
	case evt := <-received:
		assert.Equal(t, "P9", evt.RecordID())
		assert.Equal(t, "Rover", evt.New["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishCmd_NotConfigured(t *testing.T) {
	g := startGateway(t, false)

	_, err := executeCommand(t, "publish", "--server", g.url,
		"--type", "insert", "--table", "projects", "--new", `{"id":"P1"}`)
	require.Error(t, err)
	assert.Equal(t, "server returned status 503: publishing is not configured", err.Error())
}

func TestPublishCmd_FileAndTypeExclusive(t *testing.T) {
	_, err := executeCommand(t, "publish", "--file", "-", "--type", "insert")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}
