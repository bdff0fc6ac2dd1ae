package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/reqstream/internal/broker"
	"github.com/fyrsmithlabs/reqstream/internal/logging"
	"github.com/fyrsmithlabs/reqstream/internal/realtime"
	"github.com/fyrsmithlabs/reqstream/internal/realtime/natssource"
	"github.com/fyrsmithlabs/reqstream/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type testEnv struct {
	server   *Server
	manager  *realtime.Manager
	registry *prometheus.Registry
	logger   *logging.TestLogger
	tel      *telemetry.TestTelemetry
	nc       *nats.Conn
}

func newTestEnv(t *testing.T, configured bool, cfg *Config) *testEnv {
	t.Helper()
	env := &testEnv{
		registry: prometheus.NewRegistry(),
		logger:   logging.NewTestLogger(),
		tel:      telemetry.NewTestTelemetry(),
	}

	var src realtime.Source
	opts := []Option{
		WithGatherer(env.registry),
		WithHTTPMetrics(NewHTTPMetricsWithMeter(env.tel.Meter(httpInstrumentationName), nil)),
	}
	if configured {
		srv, err := broker.Start(broker.Config{}, nil)
		require.NoError(t, err)
		t.Cleanup(srv.Shutdown)

		env.nc, err = nats.Connect(srv.ClientURL())
		require.NoError(t, err)
		t.Cleanup(env.nc.Close)

		src = natssource.New(env.nc, nil)
		opts = append(opts, WithPublisher(natssource.NewPublisher(env.nc)))
	}

	env.manager = realtime.NewManager(src, env.logger.Logger,
		realtime.WithMetrics(realtime.NewMetricsWithRegistry(env.registry)))

	var err error
	env.server, err = NewServer(env.manager, env.logger.Logger, cfg, opts...)
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(method, target string, body []byte) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.server.echo.ServeHTTP(rec, req)
	return rec
}

// sseClient reads a live event stream line by line.
type sseClient struct {
	resp  *http.Response
	lines chan string
}

func openStream(t *testing.T, url string) *sseClient {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set(echo.HeaderAccept, "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	c := &sseClient{resp: resp, lines: make(chan string, 64)}
	go func() {
		defer close(c.lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			c.lines <- scanner.Text()
		}
	}()
	return c
}

func (c *sseClient) line(t *testing.T) (string, bool) {
	t.Helper()
	select {
	case l, ok := <-c.lines:
		return l, ok
	case <-time.After(3 * time.Second):
		t.Fatal("timed out reading event stream")
		return "", false
	}
}

// next returns the next event, skipping comments.
func (c *sseClient) next(t *testing.T) (string, realtime.ChangeEvent) {
	t.Helper()
	var name string
	for {
		l, ok := c.line(t)
		require.True(t, ok, "stream closed")
		switch {
		case strings.HasPrefix(l, "event: "):
			name = strings.TrimPrefix(l, "event: ")
		case strings.HasPrefix(l, "data: "):
			var evt realtime.ChangeEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(l, "data: ")), &evt))
			return name, evt
		}
	}
}

func (c *sseClient) waitClosed(t *testing.T) {
	t.Helper()
	for {
		if _, ok := c.line(t); !ok {
			return
		}
	}
}

func publishBody(t *testing.T, evt realtime.ChangeEvent) []byte {
	t.Helper()
	b, err := json.Marshal(evt)
	require.NoError(t, err)
	return b
}

func requirementChange(typ realtime.EventType, id, projectID string) realtime.ChangeEvent {
	rec := realtime.Record{"id": id, "project_id": projectID}
	evt := realtime.ChangeEvent{EventType: typ, Table: "requirements"}
	if typ == realtime.EventDelete {
		evt.Old = rec
	} else {
		evt.New = rec
	}
	return evt
}

func TestNewServer(t *testing.T) {
	mgr := realtime.NewManager(nil, nil, realtime.WithMetrics(realtime.NewMetricsWithRegistry(prometheus.NewRegistry())))

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(mgr, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
		assert.Equal(t, 30*time.Second, server.config.HeartbeatInterval)
		assert.Equal(t, 16, server.config.StreamBuffer)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(mgr, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when manager is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.ErrorContains(t, err, "manager cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		configured bool
		want       string
	}{
		{"configured", true, "configured"},
		{"disabled", false, "disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.configured, &Config{Version: "1.2.3"})
			rec := env.do(http.MethodGet, "/health", nil)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "ok", resp.Status)
			assert.Equal(t, tt.want, resp.Realtime)
			assert.Equal(t, "1.2.3", resp.Version)
			assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
		})
	}
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t, true, nil)
	dispose := env.manager.SubscribeToRequirements("P1", func(realtime.ChangeEvent) {})
	defer dispose()
	env.manager.SubscribeToRequirements("P1", func(realtime.ChangeEvent) {})
	env.manager.SubscribeToProjects(func(realtime.ChangeEvent) {})

	rec := env.do(http.MethodGet, "/api/v1/realtime/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Configured)
	assert.True(t, resp.Publisher)
	assert.Zero(t, resp.EventsDelivered)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(0))
	assert.Equal(t, []ChannelStatus{
		{Key: "projects", Kind: "projects", Listeners: 1},
		{Key: "requirements:P1", Kind: "requirements-by-project", Scope: "P1", Listeners: 2},
	}, resp.Channels)
}

func TestHandleMetrics(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.manager.SubscribeToProjects(func(realtime.ChangeEvent) {})

	rec := env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reqstream_realtime_active_channels 1")
	assert.Contains(t, rec.Body.String(), `reqstream_realtime_channels_opened_total{kind="projects"} 1`)
}

func TestStream_Unconfigured(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.do(http.MethodGet, "/api/v1/realtime/projects", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/realtime/projects/P1/requirements", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStream_InvalidProjectID(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := env.do(http.MethodGet, "/api/v1/realtime/projects/a%20b/requirements", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, env.manager.Len())
}

func TestStream_RequirementsInOrder(t *testing.T) {
	env := newTestEnv(t, true, &Config{HeartbeatInterval: time.Hour})
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	stream := openStream(t, ts.URL+"/api/v1/realtime/projects/P1/requirements")
	assert.Equal(t, 1, env.manager.Listeners("requirements:P1"))

	for _, evt := range []realtime.ChangeEvent{
		requirementChange(realtime.EventInsert, "R1", "P1"),
		requirementChange(realtime.EventInsert, "R9", "P2"),
		requirementChange(realtime.EventUpdate, "R1", "P1"),
		requirementChange(realtime.EventDelete, "R1", "P1"),
	} {
		rec := env.do(http.MethodPost, "/api/v1/realtime/changes", publishBody(t, evt))
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	for _, want := range []string{"insert", "update", "delete"} {
		name, evt := stream.next(t)
		assert.Equal(t, want, name)
		assert.Equal(t, "R1", evt.RecordID())
		assert.Equal(t, "requirements", evt.Table)
	}

	// Client disconnect releases the channel.
	stream.resp.Body.Close()
	assert.Eventually(t, func() bool { return env.manager.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestStream_Heartbeat(t *testing.T) {
	env := newTestEnv(t, true, &Config{HeartbeatInterval: 20 * time.Millisecond})
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	stream := openStream(t, ts.URL+"/api/v1/realtime/projects")
	for {
		l, ok := stream.line(t)
		require.True(t, ok)
		if l == ": heartbeat" {
			break
		}
	}
}

func TestStream_EndsOnTeardown(t *testing.T) {
	env := newTestEnv(t, true, &Config{HeartbeatInterval: time.Hour})
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	stream := openStream(t, ts.URL+"/api/v1/realtime/projects")
	require.Equal(t, 1, env.manager.Len())

	env.manager.UnsubscribeAll()
	stream.waitClosed(t)
}

func TestStream_EndsOnShutdown(t *testing.T) {
	env := newTestEnv(t, true, &Config{HeartbeatInterval: time.Hour})
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	stream := openStream(t, ts.URL+"/api/v1/realtime/projects")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))

	stream.waitClosed(t)
	assert.Eventually(t, func() bool { return env.manager.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestHandlePublish(t *testing.T) {
	valid := publishBody(t, requirementChange(realtime.EventInsert, "R1", "P1"))

	tests := []struct {
		name       string
		configured bool
		body       []byte
		wantStatus int
	}{
		{"accepted", true, valid, http.StatusAccepted},
		{"invalid json", true, []byte("{not json"), http.StatusBadRequest},
		{"unknown event type", true, []byte(`{"eventType":"TRUNCATE","table":"requirements"}`), http.StatusBadRequest},
		{"missing new record", true, []byte(`{"eventType":"INSERT","table":"requirements"}`), http.StatusBadRequest},
		{"dotted table", true, []byte(`{"eventType":"INSERT","table":"a.b","new":{"id":1}}`), http.StatusBadRequest},
		{"no publisher", false, valid, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.configured, nil)
			rec := env.do(http.MethodPost, "/api/v1/realtime/changes", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus == http.StatusAccepted {
				var resp PublishResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.ID)
			}
		})
	}
}

func TestRequestLogging(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.do(http.MethodGet, "/health", nil)

	env.logger.AssertLogged(t, zapcore.InfoLevel, "http request")
	entries := env.logger.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.NotEmpty(t, fields["request.id"])
}
