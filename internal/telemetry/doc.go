// Package telemetry provides OpenTelemetry tracing and metrics for reqstream.
//
// Traces and metrics are exported over OTLP (gRPC or HTTP/protobuf) to a
// collector. Export is off by default; when disabled or when an exporter
// cannot be created, Tracer and Meter fall back to the global no-op
// providers and Health reports the instance as degraded.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx, span := tel.Tracer("reqstream.backend").Start(ctx, "backend.ListRequirements")
//	defer span.End()
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: "grpc"          # or "http/protobuf"
//	  insecure: true            # loopback endpoints only
//	  sample_rate: 1.0
//
// # Testing
//
// TestTelemetry records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	client := backend.NewClient(url, backend.WithTracer(tt.Tracer("test")))
//	...
//	tt.AssertSpanExists(t, "backend.ListRequirements")
package telemetry
