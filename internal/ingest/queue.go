// Package ingest runs filing ingestion (chunk, embed, upsert) on a small
// worker pool, deduplicated by namespace and tracked in the registry.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/filingrag/internal/chunking"
	"github.com/fyrsmithlabs/filingrag/internal/embeddings"
	"github.com/fyrsmithlabs/filingrag/internal/filing"
	"github.com/fyrsmithlabs/filingrag/internal/logging"
	"github.com/fyrsmithlabs/filingrag/internal/registry"
	"github.com/fyrsmithlabs/filingrag/internal/retrieval"
	"github.com/fyrsmithlabs/filingrag/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull means the task buffer has no room.
	ErrQueueFull = errors.New("ingest queue full")

	// ErrClosed is returned after Stop.
	ErrClosed = errors.New("ingest queue closed")

	// ErrInvalidTask means the filing metadata cannot key a namespace.
	ErrInvalidTask = errors.New("invalid ingest task")

	// ErrEmptyDocument means the text produced no chunks.
	ErrEmptyDocument = errors.New("document produced no chunks")

	// ErrInterrupted marks jobs a previous process left unfinished.
	ErrInterrupted = errors.New("interrupted before completion")
)

var tracer = otel.Tracer("filingrag.ingest")

// Defaults for Config.
const (
	DefaultWorkers      = 2
	DefaultQueueSize    = 64
	DefaultJobTimeout   = 10 * time.Minute
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 2 * time.Second

	// AbortGrace bounds how long Stop waits for cancelled workers to record
	// their final job state once its own deadline has passed.
	AbortGrace = 5 * time.Second
)

// reserved holds a namespace in active while its submission is admitted.
const reserved = ""

// Config sizes the worker pool.
type Config struct {
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
}

// Task is one filing to ingest.
type Task struct {
	Metadata filing.Metadata `json:"metadata"`
	Text     string          `json:"text"`
}

// Submission is the outcome of Submit or IngestNow.
type Submission struct {
	Namespace string          `json:"namespace"`
	Status    registry.Status `json:"status"`
	Job       *registry.Job   `json:"job,omitempty"`

	// Skipped is set when the filing was already embedded.
	Skipped bool `json:"skipped,omitempty"`

	// Deduplicated is set when a job for the namespace was already active.
	Deduplicated bool `json:"deduplicated,omitempty"`
}

// Chunker splits filing text.
type Chunker interface {
	ChunkDocument(text string, meta filing.Metadata) []chunking.Chunk
}

// Indexer embeds and stores chunks. *retrieval.Service implements it.
type Indexer interface {
	Ready() error
	UpsertChunks(ctx context.Context, chunks []chunking.Chunk, namespace string) (int, error)
	NamespaceStats(ctx context.Context, namespace string) (vectorstore.NamespaceStats, error)
}

type queued struct {
	task Task
	job  registry.Job
}

// Queue is a fixed pool of ingestion workers over a buffered channel.
// At most one job per namespace is active at a time.
type Queue struct {
	chunker  Chunker
	indexer  Indexer
	registry registry.Store
	config   Config
	logger   *zap.Logger

	tasks   chan queued
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	created time.Time

	mu sync.Mutex
	// active maps a namespace to the id of its queued or running job, or to
	// reserved while a submission for it is being admitted.
	active  map[string]string
	running bool
	closed  bool
}

// NewQueue creates a stopped queue. Call Start to run workers.
func NewQueue(chunker Chunker, indexer Indexer, reg registry.Store, cfg Config, logger *zap.Logger) *Queue {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		chunker:  chunker,
		indexer:  indexer,
		registry: reg,
		config:   cfg,
		logger:   logger,
		tasks:    make(chan queued, cfg.QueueSize),
		active:   make(map[string]string),
		created:  time.Now(),
	}
}

// Start fails jobs a previous process left pending or processing, then
// launches the workers. Returns once the workers are running.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running || q.closed {
		q.mu.Unlock()
		return
	}
	q.running = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	if n, err := q.recoverInterrupted(ctx); err != nil {
		q.logger.Warn("failed to recover interrupted jobs", zap.Error(err))
	} else if n > 0 {
		q.logger.Info("failed interrupted jobs", zap.Int("jobs", n))
	}

	q.logger.Info("starting ingest workers",
		zap.Int("workers", q.config.Workers),
		zap.Int("queue_size", q.config.QueueSize))

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

// recoverInterrupted marks active jobs created before this queue existed as
// failed. Nothing else will ever finish them.
func (q *Queue) recoverInterrupted(ctx context.Context) (int, error) {
	jobs, err := q.registry.ActiveJobs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		q.mu.Lock()
		owned := q.active[job.Namespace] == job.ID
		q.mu.Unlock()
		if owned || !job.CreatedAt.Before(q.created) {
			continue
		}
		job.Status = registry.StatusFailed
		job.Error = ErrInterrupted.Error()
		if err := q.registry.UpdateJob(ctx, job); err != nil {
			return n, fmt.Errorf("failing job %s: %w", job.ID, err)
		}
		JobsFinished.WithLabelValues(string(registry.StatusFailed)).Inc()
		n++
	}
	return n, nil
}

// Stop rejects new submissions and waits for queued and in-flight jobs to
// finish. If ctx ends first the workers are cancelled, given up to
// AbortGrace to record their jobs as failed, and ctx.Err() is returned.
// Jobs still buffered in a queue that was never started are marked failed.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	running := q.running
	q.mu.Unlock()

	q.logger.Info("stopping ingest workers", zap.Int("pending", len(q.tasks)))

	if !running {
		for item := range q.tasks {
			item.job.Status = registry.StatusFailed
			item.job.Error = ErrClosed.Error()
			q.updateJob(ctx, item.job)
			q.release(item.job)
			JobsFinished.WithLabelValues(string(registry.StatusFailed)).Inc()
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.stopped()
		return nil
	case <-ctx.Done():
	}

	q.logger.Warn("ingest workers still busy, cancelling", zap.Error(ctx.Err()))
	q.cancel()
	grace := time.NewTimer(AbortGrace)
	defer grace.Stop()
	select {
	case <-done:
		q.stopped()
	case <-grace.C:
		q.logger.Error("ingest workers did not exit after cancel")
	}
	return ctx.Err()
}

func (q *Queue) stopped() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
	q.cancel()
}

// IsRunning reports whether workers are started.
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Pending returns the number of buffered jobs.
func (q *Queue) Pending() int {
	return len(q.tasks)
}

// Submit registers task and queues a job for it unless the filing is already
// embedded or a job for the same namespace is active.
func (q *Queue) Submit(ctx context.Context, task Task) (Submission, error) {
	task, err := prepare(task)
	if err != nil {
		Submissions.WithLabelValues("rejected").Inc()
		return Submission{}, err
	}

	ns := task.Metadata.Namespace()
	id, ok, err := q.reserve(ns)
	switch {
	case err != nil:
		Submissions.WithLabelValues("rejected").Inc()
		return Submission{}, err
	case !ok:
		return q.deduplicated(ctx, ns, id)
	}

	sub, done, err := q.admit(ctx, task)
	if err != nil || done {
		q.unreserve(ns)
		return sub, err
	}

	job, err := q.registry.CreateJob(ctx, ns)
	if err != nil {
		q.unreserve(ns)
		return Submission{}, fmt.Errorf("creating job for %s: %w", ns, err)
	}
	if err := q.enqueue(queued{task: task, job: job}); err != nil {
		q.unreserve(ns)
		job.Status = registry.StatusFailed
		job.Error = err.Error()
		q.updateJob(ctx, job)
		Submissions.WithLabelValues("rejected").Inc()
		return Submission{}, err
	}
	Submissions.WithLabelValues("queued").Inc()

	q.logger.Info("ingest job queued",
		zap.String("namespace", ns),
		zap.String("job_id", job.ID),
		zap.Int("pending", len(q.tasks)))

	return Submission{Namespace: ns, Status: job.Status, Job: &job}, nil
}

// IngestNow runs task on the calling goroutine with the same dedup and skip
// rules as Submit. The returned error is the job's failure, if any.
func (q *Queue) IngestNow(ctx context.Context, task Task) (Submission, error) {
	task, err := prepare(task)
	if err != nil {
		return Submission{}, err
	}

	ns := task.Metadata.Namespace()
	id, ok, err := q.reserve(ns)
	switch {
	case err != nil:
		return Submission{}, err
	case !ok:
		return q.deduplicated(ctx, ns, id)
	}

	sub, done, err := q.admit(ctx, task)
	if err != nil || done {
		q.unreserve(ns)
		return sub, err
	}
	job, err := q.registry.CreateJob(ctx, ns)
	if err != nil {
		q.unreserve(ns)
		return Submission{}, fmt.Errorf("creating job for %s: %w", ns, err)
	}
	q.mu.Lock()
	q.active[ns] = job.ID
	q.mu.Unlock()

	job, err = q.process(ctx, queued{task: task, job: job})
	return Submission{Namespace: ns, Status: job.Status, Job: &job}, err
}

// reserve claims ns for one admission. When ns is already held, ok is false
// and id names the holding job, or is reserved while that holder is still
// being admitted.
func (q *Queue) reserve(ns string) (id string, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", false, ErrClosed
	}
	if holder, held := q.active[ns]; held {
		return holder, false, nil
	}
	q.active[ns] = reserved
	return "", true, nil
}

func (q *Queue) unreserve(ns string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active[ns] == reserved {
		delete(q.active, ns)
	}
}

// enqueue hands item to the workers and records its job as the namespace
// owner. The send happens under q.mu so it cannot race Stop closing tasks.
func (q *Queue) enqueue(item queued) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.tasks <- item:
	default:
		return ErrQueueFull
	}
	q.active[item.job.Namespace] = item.job.ID
	return nil
}

// deduplicated describes the job already holding ns.
func (q *Queue) deduplicated(ctx context.Context, ns, id string) (Submission, error) {
	Submissions.WithLabelValues("deduplicated").Inc()
	sub := Submission{Namespace: ns, Status: registry.StatusPending, Deduplicated: true}
	if id == reserved {
		return sub, nil
	}
	job, err := q.registry.GetJob(ctx, id)
	if err != nil {
		return Submission{}, fmt.Errorf("loading active job %s: %w", id, err)
	}
	sub.Status = job.Status
	sub.Job = &job
	return sub, nil
}

func prepare(task Task) (Task, error) {
	task.Metadata = task.Metadata.Normalize()
	if err := task.Metadata.Validate(); err != nil {
		return task, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if strings.TrimSpace(task.Text) == "" {
		return task, fmt.Errorf("%w: text is blank", ErrEmptyDocument)
	}
	return task, nil
}

// admit applies the skip rules for a reserved namespace. done is true when
// sub is final and no job should be created.
func (q *Queue) admit(ctx context.Context, task Task) (sub Submission, done bool, err error) {
	ns := task.Metadata.Namespace()
	sub.Namespace = ns

	if err := q.indexer.Ready(); err != nil {
		Submissions.WithLabelValues("rejected").Inc()
		return sub, true, err
	}

	f, err := q.registry.UpsertFiling(ctx, task.Metadata)
	if err != nil {
		return sub, true, fmt.Errorf("registering %s: %w", ns, err)
	}
	if f.IsEmbedded {
		Submissions.WithLabelValues("skipped").Inc()
		sub.Status = registry.StatusCompleted
		sub.Skipped = true
		return sub, true, nil
	}

	stats, err := q.indexer.NamespaceStats(ctx, ns)
	if err != nil {
		Submissions.WithLabelValues("rejected").Inc()
		return sub, true, fmt.Errorf("checking %s: %w", ns, err)
	}
	if stats.Vectors > 0 {
		// vectors exist but the registry lost track of them
		if err := q.registry.MarkEmbedded(ctx, ns, stats.Vectors); err != nil {
			return sub, true, fmt.Errorf("repairing %s: %w", ns, err)
		}
		q.logger.Info("registry repaired from vector store",
			zap.String("namespace", ns),
			zap.Int("vectors", stats.Vectors))
		Submissions.WithLabelValues("skipped").Inc()
		sub.Status = registry.StatusCompleted
		sub.Skipped = true
		return sub, true, nil
	}
	return sub, false, nil
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for item := range q.tasks {
		_, _ = q.process(ctx, item)
	}
}

// process runs one job to a terminal state, retrying transient failures.
func (q *Queue) process(ctx context.Context, item queued) (registry.Job, error) {
	job := item.job
	ns := job.Namespace
	began := time.Now()

	JobsInFlight.Inc()
	defer JobsInFlight.Dec()
	defer q.release(job)

	ctx, cancel := context.WithTimeout(ctx, q.config.JobTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "Queue.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", ns),
		attribute.String("job_id", job.ID),
	)
	ctx = logging.WithNamespace(ctx, ns)
	ctx = logging.WithJobID(ctx, job.ID)
	log := q.logger.With(logging.ContextFields(ctx)...)

	var err error
	for attempt := 1; ; attempt++ {
		job.Status = registry.StatusProcessing
		job.Attempts = attempt
		job.Error = ""
		q.updateJob(ctx, job)

		var n int
		n, err = q.run(ctx, item.task)
		if err == nil {
			if err = q.registry.MarkEmbedded(ctx, ns, n); err == nil {
				job.Chunks = n
				break
			}
		}
		if attempt >= q.config.MaxAttempts || !Retryable(err) {
			break
		}

		backoff := q.config.RetryBackoff * time.Duration(attempt)
		log.Warn("ingest attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if werr := sleep(ctx, backoff); werr != nil {
			break
		}
	}

	if err != nil {
		job.Status = registry.StatusFailed
		job.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("ingest job failed", zap.Int("attempts", job.Attempts), zap.Error(err))
	} else {
		job.Status = registry.StatusCompleted
		span.SetStatus(codes.Ok, "success")
		log.Info("ingest job completed",
			zap.Int("chunks", job.Chunks),
			zap.Duration("elapsed", time.Since(began)))
	}

	// the job context may have expired; the terminal state must still land
	q.updateJob(context.WithoutCancel(ctx), job)
	JobsFinished.WithLabelValues(string(job.Status)).Inc()
	JobDuration.Observe(time.Since(began).Seconds())
	return job, err
}

func (q *Queue) run(ctx context.Context, task Task) (int, error) {
	chunks := q.chunker.ChunkDocument(task.Text, task.Metadata)
	if len(chunks) == 0 {
		return 0, ErrEmptyDocument
	}
	return q.indexer.UpsertChunks(ctx, chunks, task.Metadata.Namespace())
}

func (q *Queue) updateJob(ctx context.Context, job registry.Job) {
	if err := q.registry.UpdateJob(ctx, job); err != nil {
		q.logger.Warn("failed to update job",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Error(err))
	}
}

func (q *Queue) release(job registry.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active[job.Namespace] == job.ID {
		delete(q.active, job.Namespace)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retryable reports whether a failed ingestion attempt may succeed if rerun.
// Configuration, alignment and input errors are permanent, as are
// cancellations and client-side API errors.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, retrieval.ErrUnavailable),
		errors.Is(err, embeddings.ErrUnavailable),
		errors.Is(err, vectorstore.ErrUnavailable):
		return false
	case errors.Is(err, embeddings.ErrMisaligned),
		errors.Is(err, ErrEmptyDocument),
		errors.Is(err, vectorstore.ErrInvalidInput),
		errors.Is(err, registry.ErrNotFound):
		return false
	}
	var se *embeddings.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
