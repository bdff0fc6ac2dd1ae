package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/reqstream/internal/logging"
	"github.com/fyrsmithlabs/reqstream/internal/realtime"
	"github.com/fyrsmithlabs/reqstream/internal/realtime/natssource"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// handleHealth reports liveness and whether realtime delivery is available.
func (s *Server) handleHealth(c echo.Context) error {
	state := "disabled"
	if s.manager.Configured() {
		state = "configured"
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Realtime: state,
		Version:  s.config.Version,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Configured:      s.manager.Configured(),
		Publisher:       s.publisher != nil,
		UptimeSeconds:   int64(time.Since(s.started).Seconds()),
		EventsDelivered: s.manager.Delivered(),
		Channels:        channelStatuses(s.manager),
	})
}

// channelStatuses lists open channels with their listener counts.
func channelStatuses(m *realtime.Manager) []ChannelStatus {
	keys := m.Keys()
	out := make([]ChannelStatus, 0, len(keys))
	for _, k := range keys {
		out = append(out, ChannelStatus{
			Key:       string(k),
			Kind:      string(k.Kind()),
			Scope:     k.Scope(),
			Listeners: m.Listeners(k),
		})
	}
	return out
}

func (s *Server) handleProjectStream(c echo.Context) error {
	return s.stream(c, realtime.KindProjects, "")
}

func (s *Server) handleRequirementStream(c echo.Context) error {
	return s.stream(c, realtime.KindRequirementsByProject, c.Param("project_id"))
}

// stream relays change events for (kind, scope) as Server-Sent Events.
//
//	event: update
//	data: {"eventType":"UPDATE","schema":"public","table":"requirements",...}
//
// A ": heartbeat" comment is written every heartbeat interval. The stream
// ends when the client disconnects, the channel is torn down or the server
// shuts down.
func (s *Server) stream(c echo.Context, kind realtime.Kind, scope string) error {
	if !s.manager.Configured() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "realtime is not configured")
	}
	key, err := realtime.KeyFor(kind, scope)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	req := c.Request()
	ctx := logging.WithSubscriptionKey(req.Context(), string(key))
	if kind.Scoped() {
		ctx = logging.WithProjectID(ctx, scope)
	}

	events, dispose := s.manager.Stream(ctx, kind, scope, s.config.StreamBuffer)
	defer dispose()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	defer s.metrics.trackStream(ctx)()

	s.logger.Debug(ctx, "event stream opened")
	start := time.Now()
	sent := 0
	defer func() {
		s.logger.Debug(ctx, "event stream closed",
			zap.Int("events", sent),
			zap.Duration("duration", time.Since(start)))
	}()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(res, evt); err != nil {
				s.logger.Warn(ctx, "dropping event stream", zap.Error(err))
				return nil
			}
			sent++

		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
				return nil
			}
			res.Flush()

		case <-s.closing:
			return nil

		case <-ctx.Done():
			// Client disconnected
			return nil
		}
	}
}

func writeEvent(res *echo.Response, evt realtime.ChangeEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", evt.EventType.Subject(), data); err != nil {
		return err
	}
	res.Flush()
	return nil
}

// handlePublish publishes a change event.
func (s *Server) handlePublish(c echo.Context) error {
	if s.publisher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "publishing is not configured")
	}

	var evt realtime.ChangeEvent
	if err := c.Bind(&evt); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid publish request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := evt.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id, err := s.publisher.Publish(c.Request().Context(), evt)
	switch {
	case errors.Is(err, natssource.ErrInvalidEvent):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error(c.Request().Context(), "publish failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "publish failed")
	}

	s.logger.Debug(c.Request().Context(), "change event published",
		zap.String("event_id", id),
		zap.String("table", evt.Table),
		zap.String("event", string(evt.EventType)))

	return c.JSON(http.StatusAccepted, PublishResponse{ID: id})
}
