package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/filingrag/internal/http"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background ingestion workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.http_port)")
	return cmd
}

// serve blocks until ctx is cancelled or the listener fails, then drains
// the HTTP server and the ingestion workers within the shutdown timeout.
func serve(ctx context.Context, a *app) error {
	srv, err := http.NewServer(http.Deps{
		Retriever: a.retrieval,
		Ingester:  a.queue,
		Registry:  a.registry,
		Version:   version,
	}, a.logger, &http.Config{
		Host: a.cfg.Server.Host,
		Port: a.cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// Workers outlive the signal so in-flight jobs can drain; Stop cancels
	// them itself if the shutdown timeout passes.
	a.queue.Start(context.WithoutCancel(ctx))
	a.logger.Info("starting filingrag",
		zap.String("version", version),
		zap.String("addr", a.cfg.Server.Addr()),
		zap.Bool("retrieval_ready", a.retrieval.Ready() == nil),
		zap.Int("workers", a.cfg.Ingest.Workers))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error("http server failed", zap.Error(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	// On timeout Stop cancels the workers and waits a bounded grace for their
	// final job updates, which must land before the deferred Close.
	if err := a.queue.Stop(shutdownCtx); err != nil {
		a.logger.Warn("ingest workers did not drain", zap.Error(err))
		if serveErr == nil && !errors.Is(err, context.DeadlineExceeded) {
			serveErr = err
		}
	}
	a.logger.Info("shutdown complete")
	return serveErr
}
