// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Local output (stdout or stderr) plus OpenTelemetry via the otelzap bridge
//   - Logger names emitted as a "component" field
//   - Automatic context field injection (trace_id, project.id, subscription.key, request.id)
//   - Secret redaction by field name and value pattern
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithProjectID(ctx, "P1")
//	logger.Info(ctx, "channel opened", zap.String("table", "requirements"))
//
// # Configuration Precedence
//
// The daemon builds this Config from the logging section of internal/config
// (defaults, then config.yaml, then REQSTREAM_LOGGING_* variables) through
// FromSettings.
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	mgr := realtime.NewManager(nil, tl.Logger)
//	tl.AssertLogged(t, zapcore.WarnLevel, "not configured")
package logging
