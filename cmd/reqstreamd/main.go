// Reqstreamd is the reqstream realtime gateway daemon.
//
// It connects the subscription manager to the change-event broker (NATS),
// and serves Server-Sent Event streams, a publish endpoint, health and
// Prometheus metrics over HTTP.
//
// Configuration is loaded from ~/.config/reqstream/config.yaml and
// REQSTREAM_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults (realtime disabled unless url and key are set)
//	reqstreamd
//
//	# Local development with an in-process broker
//	REQSTREAM_REALTIME_EMBEDDED=true reqstreamd
//
//	# Production broker
//	REQSTREAM_REALTIME_URL=nats://broker:4222 REQSTREAM_REALTIME_KEY=... reqstreamd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqstream/internal/broker"
	"github.com/fyrsmithlabs/reqstream/internal/config"
	httpserver "github.com/fyrsmithlabs/reqstream/internal/http"
	"github.com/fyrsmithlabs/reqstream/internal/logging"
	"github.com/fyrsmithlabs/reqstream/internal/realtime"
	"github.com/fyrsmithlabs/reqstream/internal/realtime/natssource"
	"github.com/fyrsmithlabs/reqstream/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/reqstream/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  reqstreamd [-config path]   Start the reqstream daemon\n")
			fmt.Fprintf(os.Stderr, "  reqstreamd version          Show version information\n")
			os.Exit(1)
		}
	}

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, nil); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func printVersion() {
	fmt.Printf("reqstreamd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
//  1. Initializes telemetry and the logger
//  2. Starts the embedded broker when requested
//  3. Connects to the change-event broker when configured
//  4. Builds the subscription manager and HTTP gateway
//  5. On cancellation closes every channel, drains NATS and shuts down
//
// ready, when non-nil, receives the gateway's listen address once it accepts
// connections.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logCfg, err := logging.FromSettings(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting reqstreamd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("realtime_configured", cfg.Realtime.Configured()),
		zap.Bool("telemetry", tel.IsEnabled()))

	deps, err := initRealtime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize realtime: %w", err)
	}
	defer deps.Close()

	manager := realtime.NewManager(deps.source, logger, realtime.WithSchema(cfg.Realtime.Schema))

	opts := []httpserver.Option{}
	if deps.publisher != nil {
		opts = append(opts, httpserver.WithPublisher(deps.publisher))
	}
	srv, err := httpserver.NewServer(manager, logger, &httpserver.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		HeartbeatInterval: cfg.Server.HeartbeatInterval.Duration(),
		Version:           version,
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	l, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr(), err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s/health", l.Addr())),
		zap.String("realtime_prefix", "/api/v1/realtime"),
		zap.String("metrics_endpoint", "/metrics"))
	if ready != nil {
		ready <- l.Addr().String()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		manager.UnsubscribeAll()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info(context.Background(), "shutting down", zap.Int("open_channels", manager.Len()))

	// Closing channels first ends every event stream, so Shutdown does not
	// wait on them.
	manager.UnsubscribeAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown incomplete", zap.Error(err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn(shutdownCtx, "http server stopped with error", zap.Error(err))
	}

	logger.Info(context.Background(), "server shutdown complete")
	return nil
}

// realtimeDeps holds the change-event broker resources.
type realtimeDeps struct {
	broker    *broker.Server
	conn      *nats.Conn
	source    realtime.Source
	publisher *natssource.Publisher
	logger    *logging.Logger
}

// Close drains the connection and stops the embedded broker.
func (d *realtimeDeps) Close() {
	if d.conn != nil {
		if err := d.conn.Drain(); err != nil {
			d.conn.Close()
		}
		deadline := time.Now().Add(2 * time.Second)
		for !d.conn.IsClosed() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if d.broker != nil {
		d.broker.Shutdown()
	}
}

// initRealtime starts the embedded broker if requested and connects to the
// broker when realtime is configured. Without configuration it returns
// empty deps and the manager runs degraded.
func initRealtime(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*realtimeDeps, error) {
	deps := &realtimeDeps{logger: logger}
	rc := cfg.Realtime

	url := rc.URL
	if rc.Embedded {
		srv, err := broker.Start(broker.Config{
			Port:  rc.EmbeddedPort,
			Token: rc.Key.Value(),
		}, logger)
		if err != nil {
			return nil, err
		}
		deps.broker = srv
		url = srv.ClientURL()
	}

	if !rc.Configured() {
		logger.Warn(ctx, "realtime not configured; subscriptions will be no-ops",
			zap.Bool("url_set", rc.URL != ""),
			zap.Bool("key_set", rc.Key.IsSet()))
		return deps, nil
	}

	nc, err := natssource.Connect(natssource.ConnectConfig{
		URL:           url,
		Token:         rc.Key.Value(),
		Name:          rc.ClientName,
		MaxReconnects: rc.MaxReconnects,
		ReconnectWait: rc.ReconnectWait.Duration(),
	}, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.conn = nc

	prefix := natssource.WithSubjectPrefix(rc.SubjectPrefix)
	deps.source = natssource.New(nc, logger, prefix)
	deps.publisher = natssource.NewPublisher(nc, prefix)

	logger.Info(ctx, "connected to change-event broker",
		zap.String("url", url),
		zap.String("subject_prefix", rc.SubjectPrefix),
		zap.Bool("embedded", rc.Embedded))

	return deps, nil
}
