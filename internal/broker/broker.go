// Package broker runs an in-process NATS server for local development.
//
// With realtime.embedded set, reqstreamd starts a Server and points the
// change-event source at it, so no external broker is needed.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reqstream/internal/logging"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// ErrNotReady is returned when the server does not accept connections in time.
var ErrNotReady = errors.New("embedded broker not ready")

// Config holds embedded server settings.
type Config struct {
	Host         string
	Port         int // -1 picks a free port
	Token        string
	ReadyTimeout time.Duration
}

// Server is a running embedded NATS server.
type Server struct {
	ns     *natsserver.Server
	logger *logging.Logger
}

// Start launches the server and waits until it accepts client connections.
func Start(cfg Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = -1
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}

	opts := &natsserver.Options{
		ServerName:     "reqstream-embedded",
		Host:           cfg.Host,
		Port:           cfg.Port,
		Authorization:  cfg.Token,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded broker: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(cfg.ReadyTimeout) {
		ns.Shutdown()
		return nil, ErrNotReady
	}

	s := &Server{ns: ns, logger: logger.Named("broker")}
	s.logger.Info(context.Background(), "embedded broker started",
		zap.String("url", ns.ClientURL()),
		zap.Bool("auth", cfg.Token != ""))
	return s, nil
}

// ClientURL returns the nats:// URL clients connect to.
func (s *Server) ClientURL() string {
	return s.ns.ClientURL()
}

// NumClients returns the number of connected clients.
func (s *Server) NumClients() int {
	return s.ns.NumClients()
}

// Shutdown stops the server and waits for it to exit.
func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	s.logger.Info(context.Background(), "embedded broker stopped")
}
