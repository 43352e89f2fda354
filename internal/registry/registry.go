// Package registry records which filings are embedded and the state of their
// ingestion jobs. It is the single source of truth for "is embedded".
//
// Two types implement Store:
//   - Memory: process-local maps, optionally persisted to a JSON file (NewFile)
//   - SQLite: modernc.org/sqlite with embedded migrations
//
// Layout of the JSON file backend:
//
//	{
//	  "version": 1,
//	  "filings": { "{namespace}": {...} },
//	  "jobs":    { "{job id}": {...} }
//	}
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/filingrag/internal/filing"
)

// Errors for registry operations.
var (
	ErrNotFound   = errors.New("not found")
	ErrCorrupted  = errors.New("registry file corrupted")
	ErrInvalidJob = errors.New("invalid job")
)

// Status is the lifecycle state of an ingestion job.
type Status string

// Job states. pending -> processing -> completed | failed.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Active reports whether the job has not reached a terminal state.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Filing is the registry view of one filing.
type Filing struct {
	Namespace   string          `json:"namespace"`
	Metadata    filing.Metadata `json:"metadata"`
	IsEmbedded  bool            `json:"is_embedded"`
	TotalChunks int             `json:"total_chunks"`
	EmbeddedAt  *time.Time      `json:"embedded_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Job is one ingestion attempt for a namespace.
type Job struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Status    Status    `json:"status"`
	Chunks    int       `json:"chunks"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists filings and jobs.
type Store interface {
	// UpsertFiling registers meta under its namespace, refreshing the
	// metadata of an existing filing without touching its embedded state.
	UpsertFiling(ctx context.Context, meta filing.Metadata) (Filing, error)
	GetFiling(ctx context.Context, namespace string) (Filing, error)

	// MarkEmbedded flags the filing as fully embedded with chunks vectors.
	MarkEmbedded(ctx context.Context, namespace string, chunks int) error

	// ClearEmbedded resets the embedded flag. A missing filing is not an error.
	ClearEmbedded(ctx context.Context, namespace string) error

	// CreateJob records a new pending job for namespace.
	CreateJob(ctx context.Context, namespace string) (Job, error)
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id string) (Job, error)

	// LatestJob returns the most recently created job for namespace.
	LatestJob(ctx context.Context, namespace string) (Job, error)

	// ActiveJobs returns every pending or processing job, oldest first.
	ActiveJobs(ctx context.Context) ([]Job, error)

	Close() error
}

func validateJob(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidJob)
	}
	if !job.Status.valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidJob, job.Status)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}
