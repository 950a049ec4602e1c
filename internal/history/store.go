// Package history records build and compile runs in a local sqlite database.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// Run is one recorded invocation of the pipeline.
type Run struct {
	RunID         string
	Mode          string // "build", "compile" or "build+compile"
	StartedAt     time.Time
	FinishedAt    time.Time
	TagCount      int
	CompiledCount int
	DomainCount   int
	SuffixCount   int
	CIDRCount     int
	Outcome       string // "success" or "failure"
	FailedInput   string
	Error         string
}

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("history path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("history path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory %q: %w", dir, err)
		}
	}

	// busy_timeout + WAL reduce lock conflicts during watch-mode churn.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite history %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun persists one run. An empty RunID gets a fresh uuid; a zero
// FinishedAt is set to now.
func (s *Store) SaveRun(run Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	if run.Outcome == "" {
		run.Outcome = "success"
	}

	_, err := s.db.Exec(`
INSERT INTO runs (
  run_id, mode, started_at_utc, finished_at_utc, tag_count, compiled_count,
  domain_count, domain_suffix_count, ip_cidr_count, outcome, failed_input, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		run.RunID,
		run.Mode,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.TagCount,
		run.CompiledCount,
		run.DomainCount,
		run.SuffixCount,
		run.CIDRCount,
		run.Outcome,
		run.FailedInput,
		run.Error,
	)
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	return run.RunID, nil
}

// LoadRuns returns runs started at or after since, oldest first.
func (s *Store) LoadRuns(since time.Time) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
SELECT run_id, mode, started_at_utc, finished_at_utc, tag_count, compiled_count,
  domain_count, domain_suffix_count, ip_cidr_count, outcome, failed_input, error
FROM runs
`
	args := make([]any, 0, 1)
	if !since.IsZero() {
		query += " WHERE started_at_utc >= ?"
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY started_at_utc ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var (
			run         Run
			startedRaw  string
			finishedRaw string
		)
		if err := rows.Scan(
			&run.RunID, &run.Mode, &startedRaw, &finishedRaw,
			&run.TagCount, &run.CompiledCount,
			&run.DomainCount, &run.SuffixCount, &run.CIDRCount,
			&run.Outcome, &run.FailedInput, &run.Error,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
			run.StartedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, finishedRaw); err == nil {
			run.FinishedAt = ts
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
