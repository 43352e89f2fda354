package http

import (
	"github.com/fyrsmithlabs/filingrag/internal/filing"
	"github.com/fyrsmithlabs/filingrag/internal/registry"
	"github.com/fyrsmithlabs/filingrag/internal/vectorstore"
)

// Response statuses.
const (
	StatusOK                   = "ok"
	StatusEmbedded             = "embedded"
	StatusEmbeddingInProgress  = "embedding_in_progress"
	StatusNoRelevantContext    = "no_relevant_context"
	StatusRetrievalUnavailable = "retrieval_unavailable"
	StatusQueueFull            = "queue_full"
	StatusShuttingDown         = "shutting_down"
	StatusDeleted              = "deleted"
	StatusFailed               = "failed"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Retrieval string `json:"retrieval"`
}

// ErrorResponse carries a taxonomy status and a message.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// IngestRequest is the body of POST /api/v1/filings/ingest.
type IngestRequest struct {
	Metadata filing.Metadata `json:"metadata"`
	Text     string          `json:"text"`
}

// IngestResponse is returned with 200 (already embedded) or 202 (queued).
type IngestResponse struct {
	Status    string        `json:"status"`
	Namespace string        `json:"namespace"`
	Job       *registry.Job `json:"job,omitempty"`
}

// StatusResponse is the body of GET /api/v1/filings/:namespace/status.
type StatusResponse struct {
	Namespace string           `json:"namespace"`
	Filing    *registry.Filing `json:"filing,omitempty"`
	Job       *registry.Job    `json:"job,omitempty"`
	Vectors   int              `json:"vectors"`
}

// QueryRequest is the body of POST /api/v1/filings/:namespace/query.
type QueryRequest struct {
	Question string            `json:"question"`
	TopK     int               `json:"top_k"`
	Filter   map[string]string `json:"filter,omitempty"`
}

// QueryResponse lists matches best first with their formatted context.
type QueryResponse struct {
	Status  string                    `json:"status"`
	Results []vectorstore.QueryResult `json:"results"`
	Context string                    `json:"context,omitempty"`
}

// ReportResponse holds report-context results keyed by topic.
type ReportResponse struct {
	Status string                               `json:"status"`
	Topics map[string][]vectorstore.QueryResult `json:"topics"`
}
