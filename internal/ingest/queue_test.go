package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/filingrag/internal/chunking"
	"github.com/fyrsmithlabs/filingrag/internal/embeddings"
	"github.com/fyrsmithlabs/filingrag/internal/filing"
	"github.com/fyrsmithlabs/filingrag/internal/registry"
	"github.com/fyrsmithlabs/filingrag/internal/retrieval"
	"github.com/fyrsmithlabs/filingrag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeIndexer records upserts. gate, when set, blocks UpsertChunks until
// closed; statsGate does the same for NamespaceStats on the keyed namespace.
// failures are returned by successive calls before succeeding.
type fakeIndexer struct {
	mu         sync.Mutex
	ready      error
	gate       chan struct{}
	statsGate  map[string]chan struct{}
	statsCalls int
	failures   []error
	upserts    int
	stored     map[string]int
}

func (f *fakeIndexer) Ready() error { return f.ready }

func (f *fakeIndexer) UpsertChunks(ctx context.Context, chunks []chunking.Chunk, ns string) (int, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return 0, err
	}
	if f.stored == nil {
		f.stored = map[string]int{}
	}
	f.stored[ns] = len(chunks)
	return len(chunks), nil
}

func (f *fakeIndexer) NamespaceStats(ctx context.Context, ns string) (vectorstore.NamespaceStats, error) {
	f.mu.Lock()
	f.statsCalls++
	gate := f.statsGate[ns]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return vectorstore.NamespaceStats{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return vectorstore.NamespaceStats{Namespace: ns, Vectors: f.stored[ns]}, nil
}

func (f *fakeIndexer) statsCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls
}

func (f *fakeIndexer) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

const filingText = "Revenue increased 8 percent year over year. " +
	"Gross margin expanded on a richer services mix. Operating expenses rose with research spending."

func task(ticker, accession string) Task {
	return Task{
		Metadata: filing.Metadata{Ticker: ticker, AccessionNumber: accession, FormType: "10-K", FilingDate: "2024-11-01"},
		Text:     filingText,
	}
}

func newTestQueue(t *testing.T, idx *fakeIndexer, cfg Config) (*Queue, registry.Store) {
	t.Helper()
	builder, err := chunking.NewBuilder()
	require.NoError(t, err)
	reg := registry.NewMemory()
	q := NewQueue(builder, idx, reg, cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	return q, reg
}

func waitForStatus(t *testing.T, reg registry.Store, id string, want registry.Status) registry.Job {
	t.Helper()
	var job registry.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = reg.GetJob(context.Background(), id)
		return err == nil && job.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestQueue_SubmitProcessesJob(t *testing.T) {
	idx := &fakeIndexer{}
	q, reg := newTestQueue(t, idx, Config{})
	ctx := context.Background()

	sub, err := q.Submit(ctx, task("aapl", "0000320193-24-000123"))
	require.NoError(t, err)
	assert.Equal(t, "AAPL_000032019324000123", sub.Namespace)
	assert.Equal(t, registry.StatusPending, sub.Status)
	require.NotNil(t, sub.Job)

	q.Start(ctx)
	assert.True(t, q.IsRunning())

	job := waitForStatus(t, reg, sub.Job.ID, registry.StatusCompleted)
	assert.Equal(t, 1, job.Chunks)
	assert.Equal(t, 1, job.Attempts)

	f, err := reg.GetFiling(ctx, sub.Namespace)
	require.NoError(t, err)
	assert.True(t, f.IsEmbedded)
	assert.Equal(t, 1, f.TotalChunks)
	assert.Equal(t, 2024, f.Metadata.FiscalYear)
}

func TestQueue_DeduplicatesActiveNamespace(t *testing.T) {
	idx := &fakeIndexer{gate: make(chan struct{})}
	q, reg := newTestQueue(t, idx, Config{})
	ctx := context.Background()
	q.Start(ctx)

	first, err := q.Submit(ctx, task("MSFT", "0000950170-24-000001"))
	require.NoError(t, err)
	waitForStatus(t, reg, first.Job.ID, registry.StatusProcessing)

	second, err := q.Submit(ctx, task("MSFT", "0000950170-24-000001"))
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Job.ID, second.Job.ID)
	assert.Equal(t, registry.StatusProcessing, second.Status)

	close(idx.gate)
	waitForStatus(t, reg, first.Job.ID, registry.StatusCompleted)
	assert.Equal(t, 1, idx.upsertCount())
}

func TestQueue_SkipsEmbeddedFiling(t *testing.T) {
	idx := &fakeIndexer{}
	q, reg := newTestQueue(t, idx, Config{})
	ctx := context.Background()
	q.Start(ctx)

	first, err := q.Submit(ctx, task("NVDA", "0001045810-24-000029"))
	require.NoError(t, err)
	waitForStatus(t, reg, first.Job.ID, registry.StatusCompleted)

	require.Eventually(t, func() bool {
		sub, err := q.Submit(ctx, task("NVDA", "0001045810-24-000029"))
		return err == nil && sub.Skipped
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, idx.upsertCount())
}

func TestQueue_RepairsRegistryFromStore(t *testing.T) {
	idx := &fakeIndexer{stored: map[string]int{"TSLA_000162828024000017": 7}}
	q, reg := newTestQueue(t, idx, Config{})
	ctx := context.Background()

	sub, err := q.Submit(ctx, task("TSLA", "0001628280-24-000017"))
	require.NoError(t, err)
	assert.True(t, sub.Skipped)
	assert.Equal(t, registry.StatusCompleted, sub.Status)
	assert.Nil(t, sub.Job)

	f, err := reg.GetFiling(ctx, sub.Namespace)
	require.NoError(t, err)
	assert.True(t, f.IsEmbedded)
	assert.Equal(t, 7, f.TotalChunks)
	assert.Zero(t, idx.upsertCount())
}

func TestQueue_Full(t *testing.T) {
	q, _ := newTestQueue(t, &fakeIndexer{}, Config{QueueSize: 1})
	ctx := context.Background()

	_, err := q.Submit(ctx, task("AAPL", "0000320193-24-000001"))
	require.NoError(t, err)

	_, err = q.Submit(ctx, task("AAPL", "0000320193-24-000002"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.Pending())
}

func TestQueue_StopRejectsAndFailsUnstartedJobs(t *testing.T) {
	q, reg := newTestQueue(t, &fakeIndexer{}, Config{})
	ctx := context.Background()

	sub, err := q.Submit(ctx, task("AMZN", "0001018724-24-000008"))
	require.NoError(t, err)

	require.NoError(t, q.Stop(ctx))
	require.NoError(t, q.Stop(ctx))

	job, err := reg.GetJob(ctx, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusFailed, job.Status)

	_, err = q.Submit(ctx, task("AMZN", "0001018724-24-000008"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = q.IngestNow(ctx, task("AMZN", "0001018724-24-000008"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_StopDrainsRunningWorkers(t *testing.T) {
	idx := &fakeIndexer{}
	q, reg := newTestQueue(t, idx, Config{Workers: 1})
	ctx := context.Background()

	var subs []Submission
	for i := 1; i <= 3; i++ {
		sub, err := q.Submit(ctx, task("META", fmt.Sprintf("0001326801-24-00000%d", i)))
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	q.Start(ctx)
	require.NoError(t, q.Stop(ctx))
	assert.False(t, q.IsRunning())

	for _, sub := range subs {
		job, err := reg.GetJob(ctx, sub.Job.ID)
		require.NoError(t, err)
		assert.Equal(t, registry.StatusCompleted, job.Status)
	}
}

func TestQueue_StopCancelsBusyWorkersAtDeadline(t *testing.T) {
	idx := &fakeIndexer{gate: make(chan struct{})}
	q, reg := newTestQueue(t, idx, Config{Workers: 1})
	ctx := context.Background()
	q.Start(ctx)

	sub, err := q.Submit(ctx, task("CSCO", "0000858877-24-000012"))
	require.NoError(t, err)
	waitForStatus(t, reg, sub.Job.ID, registry.StatusProcessing)

	stopCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Stop(stopCtx), context.DeadlineExceeded)
	assert.False(t, q.IsRunning())

	// the worker recorded its terminal state before Stop returned
	job, err := reg.GetJob(ctx, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusFailed, job.Status)
	assert.Contains(t, job.Error, context.Canceled.Error())
}

func TestQueue_StartFailsInterruptedJobs(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()

	stale, err := reg.CreateJob(ctx, "INTC_000005086324000036")
	require.NoError(t, err)
	stale.Status = registry.StatusProcessing
	require.NoError(t, reg.UpdateJob(ctx, stale))
	orphan, err := reg.CreateJob(ctx, "AMD_000000248824000012")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	builder, err := chunking.NewBuilder()
	require.NoError(t, err)
	q := NewQueue(builder, &fakeIndexer{}, reg, Config{}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = q.Stop(ctx) })

	// queued before Start, so it belongs to this queue
	sub, err := q.Submit(ctx, task("QCOM", "0000804328-24-000041"))
	require.NoError(t, err)

	q.Start(ctx)

	for _, id := range []string{stale.ID, orphan.ID} {
		job, err := reg.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, registry.StatusFailed, job.Status)
		assert.Equal(t, ErrInterrupted.Error(), job.Error)
	}
	waitForStatus(t, reg, sub.Job.ID, registry.StatusCompleted)

	// an interrupted filing can be ingested again
	again, err := q.IngestNow(ctx, task("INTC", "0000050863-24-000036"))
	require.NoError(t, err)
	assert.Equal(t, registry.StatusCompleted, again.Status)
}

func TestQueue_SlowAdmissionDoesNotBlockOtherNamespaces(t *testing.T) {
	gate := make(chan struct{})
	idx := &fakeIndexer{statsGate: map[string]chan struct{}{"AAPL_000032019324000081": gate}}
	q, _ := newTestQueue(t, idx, Config{})
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		_, err := q.Submit(ctx, task("AAPL", "0000320193-24-000081"))
		slow <- err
	}()
	require.Eventually(t, func() bool { return idx.statsCount() == 1 }, time.Second, time.Millisecond)

	other, err := q.Submit(ctx, task("MSFT", "0000950170-24-087843"))
	require.NoError(t, err)
	assert.Equal(t, registry.StatusPending, other.Status)

	same, err := q.Submit(ctx, task("AAPL", "0000320193-24-000081"))
	require.NoError(t, err)
	assert.True(t, same.Deduplicated)
	assert.Nil(t, same.Job, "the first submission has not created its job yet")

	close(gate)
	require.NoError(t, <-slow)
	assert.Equal(t, 2, q.Pending())
}

func TestQueue_RetriesTransientErrors(t *testing.T) {
	idx := &fakeIndexer{failures: []error{
		fmt.Errorf("%w: %w", embeddings.ErrEmbeddingFailed, &embeddings.StatusError{Code: http.StatusBadGateway}),
	}}
	q, _ := newTestQueue(t, idx, Config{RetryBackoff: time.Millisecond})

	sub, err := q.IngestNow(context.Background(), task("GOOG", "0001652044-24-000022"))
	require.NoError(t, err)
	assert.Equal(t, registry.StatusCompleted, sub.Status)
	assert.Equal(t, 2, sub.Job.Attempts)
	assert.Equal(t, 2, idx.upsertCount())
}

func TestQueue_PermanentFailure(t *testing.T) {
	idx := &fakeIndexer{failures: []error{embeddings.ErrMisaligned}}
	q, reg := newTestQueue(t, idx, Config{RetryBackoff: time.Millisecond})
	ctx := context.Background()

	sub, err := q.IngestNow(ctx, task("IBM", "0000051143-24-000010"))
	assert.ErrorIs(t, err, embeddings.ErrMisaligned)
	assert.Equal(t, registry.StatusFailed, sub.Status)
	assert.Equal(t, 1, sub.Job.Attempts)
	assert.NotEmpty(t, sub.Job.Error)

	f, err := reg.GetFiling(ctx, sub.Namespace)
	require.NoError(t, err)
	assert.False(t, f.IsEmbedded)

	// a failed job can be resubmitted
	retry, err := q.IngestNow(ctx, task("IBM", "0000051143-24-000010"))
	require.NoError(t, err)
	assert.Equal(t, registry.StatusCompleted, retry.Status)
	assert.NotEqual(t, sub.Job.ID, retry.Job.ID)
}

func TestQueue_GivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("connection reset")
	idx := &fakeIndexer{failures: []error{boom, boom, boom}}
	q, _ := newTestQueue(t, idx, Config{MaxAttempts: 2, RetryBackoff: time.Millisecond})

	sub, err := q.IngestNow(context.Background(), task("ORCL", "0001341439-24-000003"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, sub.Job.Attempts)
	assert.Equal(t, 2, idx.upsertCount())
}

func TestQueue_Unavailable(t *testing.T) {
	q, _ := newTestQueue(t, &fakeIndexer{ready: retrieval.ErrUnavailable}, Config{})

	_, err := q.Submit(context.Background(), task("AAPL", "0000320193-24-000081"))
	assert.ErrorIs(t, err, retrieval.ErrUnavailable)
}

func TestQueue_InvalidTasks(t *testing.T) {
	q, _ := newTestQueue(t, &fakeIndexer{}, Config{})
	ctx := context.Background()

	_, err := q.Submit(ctx, Task{Metadata: filing.Metadata{AccessionNumber: "1"}, Text: filingText})
	assert.ErrorIs(t, err, ErrInvalidTask)

	blank := task("AAPL", "0000320193-24-000081")
	blank.Text = " \n\t"
	_, err = q.Submit(ctx, blank)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("upsert: %w", context.DeadlineExceeded), false},
		{"retrieval unavailable", retrieval.ErrUnavailable, false},
		{"store unavailable", vectorstore.ErrUnavailable, false},
		{"misaligned", embeddings.ErrMisaligned, false},
		{"empty document", ErrEmptyDocument, false},
		{"bad request", &embeddings.StatusError{Code: http.StatusBadRequest}, false},
		{"rate limited", &embeddings.StatusError{Code: http.StatusTooManyRequests}, true},
		{"server error", &embeddings.StatusError{Code: http.StatusInternalServerError}, true},
		{"circuit open", embeddings.ErrCircuitOpen, true},
		{"store provider", vectorstore.ErrProvider, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
