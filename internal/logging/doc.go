// Package logging wraps zap with context-aware methods for the filingrag
// service.
//
// Every call made through a Logger picks up correlation fields from the
// context: the OpenTelemetry trace and span ids, the HTTP request id, the
// filing namespace and the ingestion job id.
//
//	ctx = logging.WithNamespace(ctx, "AAPL_000032019324000081")
//	ctx = logging.WithJobID(ctx, job.ID)
//	logger.Info(ctx, "ingest job completed", zap.Int("chunks", n))
//
// Packages below cmd take a plain *zap.Logger; Underlying hands one out.
// Output goes to stdout (JSON or console) and optionally to an OpenTelemetry
// log provider through the otelzap bridge. Keys such as api_key and password
// are redacted by the encoder before they are written.
package logging
