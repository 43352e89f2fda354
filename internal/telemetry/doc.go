// Package telemetry sets up OpenTelemetry tracing and metrics for filingrag.
//
// Telemetry is off by default. When enabled it installs a TracerProvider and
// a MeterProvider exporting over OTLP (gRPC or HTTP) and registers W3C trace
// context propagation. Exporter setup failures never stop the service; the
// instance is marked degraded and the global no-op providers stay in place.
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Packages create spans through otel.Tracer("filingrag.<package>"), so they
// pick up whichever provider is installed.
package telemetry
