package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqstream/internal/backend"
	"github.com/fyrsmithlabs/reqstream/internal/config"
	"github.com/fyrsmithlabs/reqstream/internal/livesync"
	"github.com/fyrsmithlabs/reqstream/internal/logging"
	"github.com/fyrsmithlabs/reqstream/internal/realtime"
	"github.com/fyrsmithlabs/reqstream/internal/realtime/natssource"
	"github.com/fyrsmithlabs/reqstream/internal/telemetry"
)

func newSyncCmd(opts *options) *cobra.Command {
	var (
		asJSON   bool
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "sync <project-id>",
		Short: "Keep a project's requirement list in sync",
		Long: `Fetch a project's requirements from the backend, then re-fetch whenever
a requirement of that project changes, printing every snapshot.

sync talks to the change-event broker and the backend directly, using
realtime.url, realtime.key and backend.base_url from the reqstream config.

Examples:
  reqctl sync P1
  REQSTREAM_BACKEND_BASE_URL=http://api:8000/api reqctl sync P1 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithFile(opts.configPath)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			logCfg, err := logging.FromSettings(config.LoggingConfig{Level: logLevel, Format: "console"}, "")
			if err != nil {
				return err
			}
			logCfg.Caller.Enabled = false
			logCfg.Output = logging.OutputConfig{Stderr: true}
			logger, err := logging.NewLogger(logCfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runSync(ctx, cfg, args[0], printSnapshots(cmd.OutOrStdout(), asJSON), logger)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print each snapshot as a JSON document")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level for diagnostics")
	return cmd
}

// runSync connects to the broker and the backend and runs a live sync for
// projectID until ctx is cancelled.
func runSync(ctx context.Context, cfg *config.Config, projectID string, sink livesync.Sink, logger *logging.Logger) error {
	rc := cfg.Realtime
	if rc.URL == "" {
		return errors.New("realtime is not configured: set realtime.url (REQSTREAM_REALTIME_URL)")
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	nc, err := natssource.Connect(natssource.ConnectConfig{
		URL:           rc.URL,
		Token:         rc.Key.Value(),
		Name:          "reqctl",
		MaxReconnects: rc.MaxReconnects,
		ReconnectWait: rc.ReconnectWait.Duration(),
	}, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	manager := realtime.NewManager(
		natssource.New(nc, logger, natssource.WithSubjectPrefix(rc.SubjectPrefix)),
		logger,
		realtime.WithSchema(rc.Schema))
	defer manager.UnsubscribeAll()

	client, err := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout.Duration()),
		backend.WithRetry(backend.RetryConfig{MaxRetries: cfg.Backend.MaxRetries}),
		backend.WithTracer(tel.Tracer("reqstream.backend")),
		backend.WithLogger(logger),
		backend.WithUserAgent("reqctl/"+version))
	if err != nil {
		return err
	}

	syncer, err := livesync.New(projectID, manager, client, sink,
		livesync.WithRate(cfg.Sync.RefreshInterval.Duration(), cfg.Sync.Burst),
		livesync.WithLogger(logger))
	if err != nil {
		return err
	}

	logger.Info(ctx, "live sync started",
		zap.String("project_id", projectID),
		zap.String("backend", client.BaseURL()))
	return syncer.Run(ctx)
}

// snapshotDoc is the --json form of a snapshot.
type snapshotDoc struct {
	Seq          int                   `json:"seq"`
	ProjectID    string                `json:"project_id"`
	FetchedAt    string                `json:"fetched_at"`
	Coalesced    int                   `json:"coalesced"`
	Trigger      *realtime.ChangeEvent `json:"trigger,omitempty"`
	Requirements []backend.Requirement `json:"requirements"`
}

func printSnapshots(out io.Writer, asJSON bool) livesync.Sink {
	enc := json.NewEncoder(out)
	return livesync.SinkFunc(func(_ context.Context, snap livesync.Snapshot) {
		if asJSON {
			_ = enc.Encode(snapshotDoc{
				Seq:          snap.Seq,
				ProjectID:    snap.ProjectID,
				FetchedAt:    snap.FetchedAt.Format("2006-01-02T15:04:05.000Z07:00"),
				Coalesced:    snap.Coalesced,
				Trigger:      snap.Trigger,
				Requirements: snap.Requirements,
			})
			return
		}

		cause := "initial fetch"
		if snap.Trigger != nil {
			cause = fmt.Sprintf("%s %s", snap.Trigger.EventType.Subject(), snap.Trigger.RecordID())
			if snap.Coalesced > 1 {
				cause += fmt.Sprintf(" (+%d coalesced)", snap.Coalesced-1)
			}
		}
		fmt.Fprintf(out, "#%d %s: %d requirement(s) after %s\n",
			snap.Seq, snap.ProjectID, len(snap.Requirements), cause)
		for _, r := range snap.Requirements {
			fmt.Fprintf(out, "  %-12s %-10s %s\n", r.Identifier, r.Status, r.Name)
		}
	})
}
