package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/filingrag/internal/chunking"
	"github.com/fyrsmithlabs/filingrag/internal/embeddings"
	"github.com/fyrsmithlabs/filingrag/internal/filing"
	"github.com/fyrsmithlabs/filingrag/internal/ingest"
	"github.com/fyrsmithlabs/filingrag/internal/registry"
	"github.com/fyrsmithlabs/filingrag/internal/retrieval"
	"github.com/fyrsmithlabs/filingrag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testNS     = "AAPL_000032019324000081"
	filingBody = "Net revenue rose 5 percent on services revenue and gross margin improved. " +
		"Risk factors include competition, regulation and litigation. " +
		"Operating cash flow funded capital expenditures."
)

// wordEmbedder counts a handful of finance words, one dimension each.
type wordEmbedder struct{}

var vocabulary = []string{"revenue", "margin", "risk", "cash", "assets", "guidance"}

func wordVector(text string) []float32 {
	v := make([]float32, len(vocabulary)+1)
	v[0] = 0.01
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,")
		for i, term := range vocabulary {
			if w == term {
				v[i+1]++
			}
		}
	}
	return v
}

func (wordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = wordVector(t)
	}
	return out, nil
}

func (wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return wordVector(text), nil
}

type testEnv struct {
	server   *Server
	registry registry.Store
}

func setupEnv(t *testing.T, embedder retrieval.Embedder, store vectorstore.Store) *testEnv {
	t.Helper()
	return setupEnvWithRegistry(t, embedder, store, registry.NewMemory())
}

func setupEnvWithRegistry(t *testing.T, embedder retrieval.Embedder, store vectorstore.Store, reg registry.Store) *testEnv {
	t.Helper()
	ctx := context.Background()

	svc := retrieval.NewService(embedder, store)
	builder, err := chunking.NewBuilder()
	require.NoError(t, err)

	queue := ingest.NewQueue(builder, svc, reg, ingest.Config{Workers: 1}, zap.NewNop())
	queue.Start(ctx)
	t.Cleanup(func() { _ = queue.Stop(ctx) })

	server, err := NewServer(Deps{Retriever: svc, Ingester: queue, Registry: reg, Version: "test"}, zap.NewNop(), nil)
	require.NoError(t, err)
	return &testEnv{server: server, registry: reg}
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	return setupEnv(t, wordEmbedder{}, store)
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func ingestRequest() IngestRequest {
	return IngestRequest{
		Metadata: filing.Metadata{
			Ticker:          "aapl",
			FormType:        "10-Q",
			AccessionNumber: "0000320193-24-000081",
			FilingDate:      "2024-08-02",
		},
		Text: filingBody,
	}
}

// ingestAndWait submits the test filing and waits for it to be embedded.
func (e *testEnv) ingestAndWait(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/filings/ingest", ingestRequest())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		f, err := e.registry.GetFiling(context.Background(), testNS)
		return err == nil && f.IsEmbedded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewServer(t *testing.T) {
	env := setupTestServer(t)
	assert.Equal(t, "0.0.0.0", env.server.config.Host)
	assert.Equal(t, 8080, env.server.config.Port)

	_, err := NewServer(Deps{}, zap.NewNop(), nil)
	assert.Error(t, err)

	_, err = NewServer(env.server.deps, nil, nil)
	assert.ErrorContains(t, err, "logger is required")
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "ready", resp.Retrieval)
	assert.Equal(t, "test", resp.Version)

	unavailable := setupEnv(t, embeddings.NewClient(nil), nil)
	resp = decode[HealthResponse](t, unavailable.do(t, http.MethodGet, "/health", nil))
	assert.Equal(t, "unavailable", resp.Retrieval)
}

func TestHandleIngest(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/filings/ingest", ingestRequest())
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[IngestResponse](t, rec)
	assert.Equal(t, StatusEmbeddingInProgress, resp.Status)
	assert.Equal(t, testNS, resp.Namespace)
	require.NotNil(t, resp.Job)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodPost, "/api/v1/filings/ingest", ingestRequest())
		return rec.Code == http.StatusOK && decode[IngestResponse](t, rec).Status == StatusEmbedded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleIngest_BadRequests(t *testing.T) {
	env := setupTestServer(t)

	noTicker := ingestRequest()
	noTicker.Metadata.Ticker = ""
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/filings/ingest", noTicker).Code)

	blank := ingestRequest()
	blank.Text = "   "
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/filings/ingest", blank).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/filings/ingest", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngest_Unavailable(t *testing.T) {
	env := setupEnv(t, embeddings.NewClient(nil), nil)

	rec := env.do(t, http.MethodPost, "/api/v1/filings/ingest", ingestRequest())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StatusRetrievalUnavailable, decode[ErrorResponse](t, rec).Status)
}

func TestHandleQuery(t *testing.T) {
	env := setupTestServer(t)
	env.ingestAndWait(t)

	rec := env.do(t, http.MethodPost, "/api/v1/filings/"+testNS+"/query", QueryRequest{Question: "How did revenue and margin change?", TopK: 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[QueryResponse](t, rec)
	assert.Equal(t, StatusOK, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "AAPL", resp.Results[0].Metadata[chunking.KeyTicker])
	assert.True(t, strings.HasPrefix(resp.Context, "[Source 1 - "))
}

func TestHandleQuery_NoRelevantContext(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/filings/MSFT_000095017024000001/query", QueryRequest{Question: "revenue"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"no_relevant_context","results":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/filings/"+testNS+"/query", QueryRequest{Question: "  "})
	assert.Equal(t, StatusNoRelevantContext, decode[QueryResponse](t, rec).Status)
}

func TestHandleQuery_JobInterruptedByRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	before, err := registry.NewSQLite(path)
	require.NoError(t, err)
	job, err := before.CreateJob(ctx, testNS)
	require.NoError(t, err)
	job.Status = registry.StatusProcessing
	require.NoError(t, before.UpdateJob(ctx, job))
	require.NoError(t, before.Close())

	reg, err := registry.NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	env := setupEnvWithRegistry(t, wordEmbedder{}, store, reg)

	rec := env.do(t, http.MethodPost, "/api/v1/filings/"+testNS+"/query", QueryRequest{Question: "revenue"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, StatusNoRelevantContext, decode[QueryResponse](t, rec).Status)

	got, err := reg.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusFailed, got.Status)
	assert.Equal(t, ingest.ErrInterrupted.Error(), got.Error)
}

func TestHandleQuery_EmbeddingInProgress(t *testing.T) {
	env := setupTestServer(t)
	_, err := env.registry.CreateJob(context.Background(), testNS)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/filings/"+testNS+"/query", QueryRequest{Question: "revenue"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, StatusEmbeddingInProgress, decode[IngestResponse](t, rec).Status)
}

func TestHandleQuery_Unavailable(t *testing.T) {
	env := setupEnv(t, embeddings.NewClient(nil), nil)

	rec := env.do(t, http.MethodPost, "/api/v1/filings/"+testNS+"/query", QueryRequest{Question: "revenue"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StatusRetrievalUnavailable, decode[ErrorResponse](t, rec).Status)
}

func TestHandleQuery_InvalidNamespace(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/filings/_AAPL/query", QueryRequest{Question: "revenue"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReport(t *testing.T) {
	env := setupTestServer(t)
	env.ingestAndWait(t)

	rec := env.do(t, http.MethodGet, "/api/v1/filings/"+testNS+"/report-context?top_k=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ReportResponse](t, rec)
	assert.Len(t, resp.Topics, len(retrieval.ReportTopics))
	for _, topic := range retrieval.ReportTopics {
		assert.Len(t, resp.Topics[topic.Name], 1, topic.Name)
	}

	bad := env.do(t, http.MethodGet, "/api/v1/filings/"+testNS+"/report-context?top_k=many", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestHandleStatusAndDelete(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/filings/"+testNS+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.ingestAndWait(t)

	rec = env.do(t, http.MethodGet, "/api/v1/filings/"+testNS+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	require.NotNil(t, status.Filing)
	require.NotNil(t, status.Job)
	assert.True(t, status.Filing.IsEmbedded)
	assert.Equal(t, registry.StatusCompleted, status.Job.Status)
	assert.Equal(t, 1, status.Vectors)

	rec = env.do(t, http.MethodDelete, "/api/v1/filings/"+testNS, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusDeleted, decode[ErrorResponse](t, rec).Status)

	status = decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/v1/filings/"+testNS+"/status", nil))
	assert.False(t, status.Filing.IsEmbedded)
	assert.Zero(t, status.Vectors)

	// deleting twice is fine
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/v1/filings/"+testNS, nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
