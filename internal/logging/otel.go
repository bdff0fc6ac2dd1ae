// internal/logging/otel.go
package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// otelScope names the instrumentation scope of records sent through the
// OTEL bridge.
const otelScope = "github.com/fyrsmithlabs/reqstream"

// localSink returns the process stream selected by out, or nil when logs
// only go to OTEL.
func localSink(out OutputConfig) zapcore.WriteSyncer {
	switch {
	case out.Stderr:
		return zapcore.Lock(os.Stderr)
	case out.Stdout:
		return zapcore.Lock(os.Stdout)
	default:
		return nil
	}
}

// newCore tees the local sink and the OTEL bridge, then applies sampling.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if sink := localSink(cfg.Output); sink != nil {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, sink, cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore(otelScope, otelzap.WithLoggerProvider(otelProvider)))
	}

	switch len(cores) {
	case 0:
		return nil, fmt.Errorf("no log output available: otel requested without a logger provider")
	case 1:
		return newSampledCore(cores[0], cfg.Sampling), nil
	default:
		return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
	}
}
