package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/filingrag/internal/filing"
	"github.com/fyrsmithlabs/filingrag/internal/registry/migrations"
	"github.com/google/uuid"
)

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (or creates) the database at path and applies pending
// migrations.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL lets status reads proceed while a worker writes.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLite{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// migrate runs every embedded NNN_*.up.sql newer than the recorded version.
func (s *SQLite) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLite) UpsertFiling(ctx context.Context, meta filing.Metadata) (Filing, error) {
	meta = meta.Normalize()
	if err := meta.Validate(); err != nil {
		return Filing{}, err
	}
	ns := meta.Namespace()
	t := now().UnixNano()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO filings (namespace, ticker, form_type, fiscal_year, fiscal_quarter, filing_date, accession_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET
			ticker = excluded.ticker,
			form_type = excluded.form_type,
			fiscal_year = excluded.fiscal_year,
			fiscal_quarter = excluded.fiscal_quarter,
			filing_date = excluded.filing_date,
			accession_number = excluded.accession_number,
			updated_at = excluded.updated_at
	`, ns, meta.Ticker, meta.FormType, meta.FiscalYear, meta.FiscalQuarter, meta.FilingDate, meta.AccessionNumber, t, t)
	if err != nil {
		return Filing{}, fmt.Errorf("saving filing: %w", err)
	}
	return s.GetFiling(ctx, ns)
}

func (s *SQLite) GetFiling(ctx context.Context, namespace string) (Filing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, ticker, form_type, fiscal_year, fiscal_quarter, filing_date, accession_number,
		       is_embedded, total_chunks, embedded_at, created_at, updated_at
		FROM filings WHERE namespace = ?
	`, namespace)

	var (
		f                    Filing
		embedded             int
		embeddedAt           sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&f.Namespace, &f.Metadata.Ticker, &f.Metadata.FormType, &f.Metadata.FiscalYear,
		&f.Metadata.FiscalQuarter, &f.Metadata.FilingDate, &f.Metadata.AccessionNumber,
		&embedded, &f.TotalChunks, &embeddedAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Filing{}, fmt.Errorf("filing %s: %w", namespace, ErrNotFound)
		}
		return Filing{}, fmt.Errorf("getting filing: %w", err)
	}

	f.IsEmbedded = embedded != 0
	if embeddedAt.Valid {
		t := fromNanos(embeddedAt.Int64)
		f.EmbeddedAt = &t
	}
	f.CreatedAt = fromNanos(createdAt)
	f.UpdatedAt = fromNanos(updatedAt)
	return f, nil
}

func (s *SQLite) MarkEmbedded(ctx context.Context, namespace string, chunks int) error {
	t := now().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE filings SET is_embedded = 1, total_chunks = ?, embedded_at = ?, updated_at = ?
		WHERE namespace = ?
	`, chunks, t, t, namespace)
	if err != nil {
		return fmt.Errorf("marking filing embedded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("filing %s: %w", namespace, ErrNotFound)
	}
	return nil
}

func (s *SQLite) ClearEmbedded(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE filings SET is_embedded = 0, total_chunks = 0, embedded_at = NULL, updated_at = ?
		WHERE namespace = ?
	`, now().UnixNano(), namespace)
	if err != nil {
		return fmt.Errorf("clearing embedded flag: %w", err)
	}
	return nil
}

func (s *SQLite) CreateJob(ctx context.Context, namespace string) (Job, error) {
	if err := filing.ValidateNamespace(namespace); err != nil {
		return Job{}, err
	}
	t := now()
	job := Job{
		ID:        uuid.NewString(),
		Namespace: namespace,
		Status:    StatusPending,
		CreatedAt: t,
		UpdatedAt: t,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, namespace, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
	`, job.ID, job.Namespace, string(job.Status), t.UnixNano(), t.UnixNano())
	if err != nil {
		return Job{}, fmt.Errorf("creating job: %w", err)
	}
	return job, nil
}

func (s *SQLite) UpdateJob(ctx context.Context, job Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, chunks = ?, attempts = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(job.Status), job.Chunks, job.Attempts, job.Error, now().UnixNano(), job.ID)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

const jobColumns = `id, namespace, status, chunks, attempts, error, created_at, updated_at`

func (s *SQLite) GetJob(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

func (s *SQLite) LatestJob(ctx context.Context, namespace string) (Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE namespace = ? ORDER BY seq DESC LIMIT 1`, namespace)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job for %s: %w", namespace, ErrNotFound)
	}
	return job, err
}

func (s *SQLite) ActiveJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY seq`,
		string(StatusPending), string(StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("listing active jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing active jobs: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		job                  Job
		status               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&job.ID, &job.Namespace, &status, &job.Chunks, &job.Attempts, &job.Error, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, err
		}
		return Job{}, fmt.Errorf("scanning job: %w", err)
	}
	job.Status = Status(status)
	job.CreatedAt = fromNanos(createdAt)
	job.UpdatedAt = fromNanos(updatedAt)
	return job, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
