package natssource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reqstream/internal/logging"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned by Connect when no URL is set.
var ErrNotConfigured = errors.New("realtime source not configured")

// ConnectConfig holds connection settings for the change-event broker.
type ConnectConfig struct {
	URL           string
	Token         string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect dials the broker. Reconnects are handled by the NATS client and
// reported through logger.
func Connect(cfg ConnectConfig, logger *logging.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("nats")
	ctx := context.Background()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(ctx, "disconnected from change-event broker", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "reconnected to change-event broker", zap.String("server", nc.ConnectedUrlRedacted()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info(ctx, "change-event broker connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Error(ctx, "change-event broker error", fields...)
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to change-event broker: %w", err)
	}
	return nc, nil
}
