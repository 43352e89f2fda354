package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/filingrag/internal/filing"
	"github.com/google/uuid"
)

// memoryData is the persisted registry structure.
type memoryData struct {
	Version int                `json:"version"`
	Filings map[string]*Filing `json:"filings"`
	Jobs    map[string]*Job    `json:"jobs"`

	// Latest maps namespace to its newest job id.
	Latest map[string]string `json:"latest"`
}

// Memory is a Store guarded by a mutex. With a file path it saves itself
// atomically after every change.
type Memory struct {
	mu       sync.RWMutex
	data     *memoryData
	filePath string
}

var _ Store = (*Memory)(nil)

// NewMemory returns a process-local registry.
func NewMemory() *Memory {
	return &Memory{data: emptyData()}
}

// NewFile returns a registry persisted as JSON at path, loading any existing
// contents.
func NewFile(path string) (*Memory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	m := &Memory{data: emptyData(), filePath: path}
	if err := m.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return m, nil
}

func emptyData() *memoryData {
	return &memoryData{
		Version: 1,
		Filings: make(map[string]*Filing),
		Jobs:    make(map[string]*Job),
		Latest:  make(map[string]string),
	}
}

func (m *Memory) UpsertFiling(_ context.Context, meta filing.Metadata) (Filing, error) {
	meta = meta.Normalize()
	if err := meta.Validate(); err != nil {
		return Filing{}, err
	}
	ns := meta.Namespace()

	m.mu.Lock()
	defer m.mu.Unlock()

	t := now()
	f, ok := m.data.Filings[ns]
	if !ok {
		f = &Filing{Namespace: ns, CreatedAt: t}
		m.data.Filings[ns] = f
	}
	f.Metadata = meta
	f.UpdatedAt = t

	if err := m.save(); err != nil {
		return Filing{}, err
	}
	return *f, nil
}

func (m *Memory) GetFiling(_ context.Context, namespace string) (Filing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.data.Filings[namespace]
	if !ok {
		return Filing{}, fmt.Errorf("filing %s: %w", namespace, ErrNotFound)
	}
	return *f, nil
}

func (m *Memory) MarkEmbedded(_ context.Context, namespace string, chunks int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.data.Filings[namespace]
	if !ok {
		return fmt.Errorf("filing %s: %w", namespace, ErrNotFound)
	}
	t := now()
	f.IsEmbedded = true
	f.TotalChunks = chunks
	f.EmbeddedAt = &t
	f.UpdatedAt = t
	return m.save()
}

func (m *Memory) ClearEmbedded(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.data.Filings[namespace]
	if !ok {
		return nil
	}
	f.IsEmbedded = false
	f.TotalChunks = 0
	f.EmbeddedAt = nil
	f.UpdatedAt = now()
	return m.save()
}

func (m *Memory) CreateJob(_ context.Context, namespace string) (Job, error) {
	if err := filing.ValidateNamespace(namespace); err != nil {
		return Job{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := now()
	job := &Job{
		ID:        uuid.NewString(),
		Namespace: namespace,
		Status:    StatusPending,
		CreatedAt: t,
		UpdatedAt: t,
	}
	m.data.Jobs[job.ID] = job
	m.data.Latest[namespace] = job.ID

	if err := m.save(); err != nil {
		return Job{}, err
	}
	return *job, nil
}

func (m *Memory) UpdateJob(_ context.Context, job Job) error {
	if err := validateJob(job); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.data.Jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	job.Namespace = existing.Namespace
	job.CreatedAt = existing.CreatedAt
	job.UpdatedAt = now()
	*existing = job
	return m.save()
}

func (m *Memory) GetJob(_ context.Context, id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.data.Jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return *job, nil
}

func (m *Memory) LatestJob(_ context.Context, namespace string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.data.Jobs[m.data.Latest[namespace]]
	if !ok {
		return Job{}, fmt.Errorf("job for %s: %w", namespace, ErrNotFound)
	}
	return *job, nil
}

func (m *Memory) ActiveJobs(_ context.Context) ([]Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Job
	for _, job := range m.data.Jobs {
		if job.Status.Active() {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op; every change is already saved.
func (m *Memory) Close() error {
	return nil
}

// load reads the registry from disk.
func (m *Memory) load() error {
	raw, err := os.ReadFile(m.filePath)
	if err != nil {
		return err
	}

	var d memoryData
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if d.Filings == nil {
		d.Filings = make(map[string]*Filing)
	}
	if d.Jobs == nil {
		d.Jobs = make(map[string]*Job)
	}
	if d.Latest == nil {
		d.Latest = make(map[string]string)
	}
	m.data = &d
	return nil
}

// save writes the registry to disk. Callers hold m.mu.
func (m *Memory) save() error {
	if m.filePath == "" {
		return nil
	}
	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tmpPath := m.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmpPath, m.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename registry: %w", err)
	}
	return nil
}
