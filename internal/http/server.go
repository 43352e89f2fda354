// Package http serves the filingrag API over echo.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/filingrag/internal/filing"
	"github.com/fyrsmithlabs/filingrag/internal/ingest"
	"github.com/fyrsmithlabs/filingrag/internal/logging"
	"github.com/fyrsmithlabs/filingrag/internal/registry"
	"github.com/fyrsmithlabs/filingrag/internal/retrieval"
	"github.com/fyrsmithlabs/filingrag/internal/vectorstore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxBodySize bounds request bodies; filing text arrives inline.
const maxBodySize = "32M"

// Retriever answers questions against stored filings.
type Retriever interface {
	Ready() error
	Query(ctx context.Context, question, namespace string, topK int, filter map[string]string) ([]vectorstore.QueryResult, error)
	ReportContext(ctx context.Context, namespace string, topK int) (map[string][]vectorstore.QueryResult, error)
	NamespaceStats(ctx context.Context, namespace string) (vectorstore.NamespaceStats, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Ingester accepts filings for background embedding.
type Ingester interface {
	Submit(ctx context.Context, task ingest.Task) (ingest.Submission, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Retriever Retriever
	Ingester  Ingester
	Registry  registry.Store
	Version   string
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
}

// NewServer builds the echo instance and registers routes.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Retriever == nil || deps.Ingester == nil || deps.Registry == nil {
		return nil, fmt.Errorf("retriever, ingester and registry are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "0.0.0.0", Port: 8080}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(requestLogger(logger))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{echo: e, deps: deps, logger: logger, config: cfg}
	s.registerRoutes()
	return s, nil
}

// requestLogger logs each request and puts the request id on the context.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))

			if err := next(c); err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", id),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1/filings")
	v1.POST("/ingest", s.handleIngest)
	v1.GET("/:namespace/status", s.handleStatus)
	v1.POST("/:namespace/query", s.handleQuery)
	v1.GET("/:namespace/report-context", s.handleReport)
	v1.DELETE("/:namespace", s.handleDelete)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: StatusOK, Version: s.deps.Version, Retrieval: "ready"}
	if err := s.deps.Retriever.Ready(); err != nil {
		resp.Retrieval = "unavailable"
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sub, err := s.deps.Ingester.Submit(c.Request().Context(), ingest.Task{Metadata: req.Metadata, Text: req.Text})
	if err != nil {
		return s.fail(c, "ingest", err)
	}

	resp := IngestResponse{Namespace: sub.Namespace, Job: sub.Job}
	switch {
	case sub.Skipped || sub.Status == registry.StatusCompleted:
		resp.Status = StatusEmbedded
		return c.JSON(http.StatusOK, resp)
	default:
		resp.Status = StatusEmbeddingInProgress
		return c.JSON(http.StatusAccepted, resp)
	}
}

func (s *Server) handleStatus(c echo.Context) error {
	ns, err := namespaceParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	resp := StatusResponse{Namespace: ns}
	f, err := s.deps.Registry.GetFiling(ctx, ns)
	switch {
	case err == nil:
		resp.Filing = &f
	case !errors.Is(err, registry.ErrNotFound):
		return s.fail(c, "status", err)
	}
	job, err := s.deps.Registry.LatestJob(ctx, ns)
	switch {
	case err == nil:
		resp.Job = &job
	case !errors.Is(err, registry.ErrNotFound):
		return s.fail(c, "status", err)
	}
	if resp.Filing == nil && resp.Job == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Status: "not_found", Error: "unknown filing " + ns})
	}

	if stats, err := s.deps.Retriever.NamespaceStats(ctx, ns); err == nil {
		resp.Vectors = stats.Vectors
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQuery(c echo.Context) error {
	ns, err := namespaceParam(c)
	if err != nil {
		return err
	}
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := logging.WithNamespace(c.Request().Context(), ns)

	results, err := s.deps.Retriever.Query(ctx, req.Question, ns, req.TopK, req.Filter)
	if err != nil {
		return s.fail(c, "query", err)
	}
	if len(results) == 0 {
		return s.empty(c, ns)
	}
	return c.JSON(http.StatusOK, QueryResponse{
		Status:  StatusOK,
		Results: results,
		Context: retrieval.FormatContext(results),
	})
}

func (s *Server) handleReport(c echo.Context) error {
	ns, err := namespaceParam(c)
	if err != nil {
		return err
	}
	topK := 0
	if v := c.QueryParam("top_k"); v != "" {
		if topK, err = strconv.Atoi(v); err != nil || topK < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "top_k must be a non-negative integer")
		}
	}
	ctx := logging.WithNamespace(c.Request().Context(), ns)

	topics, err := s.deps.Retriever.ReportContext(ctx, ns, topK)
	if err != nil {
		return s.fail(c, "report", err)
	}
	for _, results := range topics {
		if len(results) > 0 {
			return c.JSON(http.StatusOK, ReportResponse{Status: StatusOK, Topics: topics})
		}
	}
	return s.empty(c, ns)
}

func (s *Server) handleDelete(c echo.Context) error {
	ns, err := namespaceParam(c)
	if err != nil {
		return err
	}
	ctx := logging.WithNamespace(c.Request().Context(), ns)

	if err := s.deps.Retriever.DeleteNamespace(ctx, ns); err != nil {
		return s.fail(c, "delete", err)
	}
	if err := s.deps.Registry.ClearEmbedded(ctx, ns); err != nil {
		return s.fail(c, "delete", err)
	}
	return c.JSON(http.StatusOK, ErrorResponse{Status: StatusDeleted})
}

// empty answers a query with no matches: 202 while the filing is still being
// embedded, otherwise 200 no_relevant_context.
func (s *Server) empty(c echo.Context, ns string) error {
	job, err := s.deps.Registry.LatestJob(c.Request().Context(), ns)
	if err == nil && job.Status.Active() {
		return c.JSON(http.StatusAccepted, IngestResponse{Status: StatusEmbeddingInProgress, Namespace: ns, Job: &job})
	}
	return c.JSON(http.StatusOK, QueryResponse{Status: StatusNoRelevantContext, Results: []vectorstore.QueryResult{}})
}

// fail maps the error taxonomy onto HTTP statuses.
func (s *Server) fail(c echo.Context, op string, err error) error {
	var (
		code   int
		status string
	)
	switch {
	case errors.Is(err, retrieval.ErrUnavailable),
		errors.Is(err, vectorstore.ErrUnavailable):
		code, status = http.StatusServiceUnavailable, StatusRetrievalUnavailable
	case errors.Is(err, ingest.ErrClosed):
		code, status = http.StatusServiceUnavailable, StatusShuttingDown
	case errors.Is(err, ingest.ErrQueueFull):
		code, status = http.StatusTooManyRequests, StatusQueueFull
	case errors.Is(err, ingest.ErrInvalidTask),
		errors.Is(err, ingest.ErrEmptyDocument),
		errors.Is(err, filing.ErrInvalidNamespace),
		errors.Is(err, vectorstore.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		return err
	default:
		code, status = http.StatusBadGateway, StatusFailed
	}

	s.logger.Warn("request failed",
		append(logging.ContextFields(c.Request().Context()),
			zap.String("operation", op),
			zap.Int("status", code),
			zap.Error(err))...)
	return c.JSON(code, ErrorResponse{Status: status, Error: err.Error()})
}

func namespaceParam(c echo.Context) (string, error) {
	ns := c.Param("namespace")
	if err := filing.ValidateNamespace(ns); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return ns, nil
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
