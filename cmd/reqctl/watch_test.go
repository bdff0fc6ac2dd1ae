package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reqstream/internal/realtime"
)

func TestStreamPath(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{"projects", []string{"projects"}, "/api/v1/realtime/projects", ""},
		{"requirements", []string{"requirements", "P1"}, "/api/v1/realtime/projects/P1/requirements", ""},
		{"projects with id", []string{"projects", "P1"}, "", "takes no project id"},
		{"requirements without id", []string{"requirements"}, "", "requires a project id"},
		{"invalid id", []string{"requirements", "P 1"}, "", "invalid scope"},
		{"unknown", []string{"tasks"}, "", "unknown stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := streamPath(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		": heartbeat",
		"",
		"event: insert",
		`data: {"id":1}`,
		"",
		"event: update",
		"data: line one",
		"data: line two",
		"",
		"data:no-space",
		"",
		"event: dangling",
		"",
	}, "\n")

	var got []sseEvent
	err := readEvents(strings.NewReader(stream), func(ev sseEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []sseEvent{
		{Name: "insert", Data: `{"id":1}`},
		{Name: "update", Data: "line one\nline two"},
		{Data: "no-space"},
	}, got)
}

func TestReadEvents_CallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := readEvents(strings.NewReader("data: a\n\ndata: b\n\n"), func(sseEvent) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestPrintEvent(t *testing.T) {
	data := `{"eventType":"UPDATE","schema":"public","table":"requirements","new":{"id":"R1"}}`

	var pretty strings.Builder
	require.NoError(t, printEvent(&pretty, sseEvent{Name: "update", Data: data}, false))
	assert.Equal(t, "update public.requirements id=R1\n", pretty.String())

	var raw strings.Builder
	require.NoError(t, printEvent(&raw, sseEvent{Name: "update", Data: data}, true))
	assert.Equal(t, data+"\n", raw.String())

	var garbled strings.Builder
	require.NoError(t, printEvent(&garbled, sseEvent{Name: "x", Data: "nope"}, false))
	assert.Equal(t, "x nope\n", garbled.String())
}

func TestWatch_ReceivesPublishedEvents(t *testing.T) {
	g := startGateway(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, g.url+"/api/v1/realtime/projects/P1/requirements", func(ev sseEvent) error {
			return printEvent(out, ev, false)
		})
	}()

	require.Eventually(t, func() bool {
		return g.manager.Listeners("requirements:P1") == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err := executeCommand(t, "publish", "--server", g.url,
		"--type", "insert", "--table", "requirements",
		"--new", `{"id":"R7","project_id":"P1"}`)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "insert public.requirements id=R7")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func TestWatch_Unconfigured(t *testing.T) {
	g := startGateway(t, false)

	err := watch(context.Background(), g.url+"/api/v1/realtime/projects", func(sseEvent) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestWatch_EndsWhenChannelTornDown(t *testing.T) {
	g := startGateway(t, true)

	done := make(chan error, 1)
	go func() {
		done <- watch(context.Background(), g.url+"/api/v1/realtime/projects", func(sseEvent) error { return nil })
	}()

	require.Eventually(t, func() bool {
		return g.manager.Listeners(realtime.Key("projects")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	g.manager.UnsubscribeAll()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not end after teardown")
	}
}

func TestWatchCmd_Args(t *testing.T) {
	_, err := executeCommand(t, "watch", "requirements", "--server", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a project id")
}
