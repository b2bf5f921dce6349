package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DatabaseFile is the single file the durable backend writes inside its base
// directory.
const DatabaseFile = "runs.db"

// SQLiteStore implements RunStorage on an embedded SQLite database. Every
// public operation executes within its own transaction; no cross-call
// atomicity is promised.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance. Init and Migrate must
// be called before the store is used.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		cfg: cfg,
	}, nil
}

// FromLocal creates, initializes, and migrates a SQLite store rooted at the
// given directory. The directory is created if absent; the store writes a
// single database file inside it. Any open or migration failure is reported
// as ErrUnavailable and the store refuses all subsequent operations.
func FromLocal(ctx context.Context, baseDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create base directory: %v", ErrUnavailable, err)
	}

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(baseDir, DatabaseFile),
	})
	if err != nil {
		return nil, err
	}

	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return store, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		s.cfg.Path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate ensures the schema exists. It is idempotent: re-running against an
// already-migrated database is a no-op.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// AddRun inserts a new record. The run row and its tag rows are written in
// one transaction; the run_id primary key arbitrates duplicates.
func (s *SQLiteStore) AddRun(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	// Clone normalizes empty optional collections to their absent form, so
	// the serialized body matches what the in-memory backend stores.
	run = run.Clone()
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, pipeline_name, status, body) VALUES (?, ?, ?, ?)`,
		run.RunID, run.PipelineName, run.Status, body,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, run.RunID)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for key, value := range run.Tags {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_tags (run_id, key, value) VALUES (?, ?, ?)`,
			run.RunID, key, value,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	return nil
}

// HasRun reports whether a record with the given run ID exists.
func (s *SQLiteStore) HasRun(ctx context.Context, runID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM runs WHERE run_id = ?)`, runID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check run existence: %w", err)
	}
	return exists, nil
}

// GetRunByID reconstructs the record from its serialized body column.
func (s *SQLiteStore) GetRunByID(ctx context.Context, runID string) (*Run, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM runs WHERE run_id = ?`, runID,
	).Scan(&body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return decodeRun(body)
}

// AllRuns returns every stored record in insertion order.
func (s *SQLiteStore) AllRuns(ctx context.Context) ([]*Run, error) {
	return s.queryRuns(ctx, `SELECT body FROM runs ORDER BY rowid`)
}

// AllRunsForPipeline answers the pipeline filter from the indexed
// pipeline_name column.
func (s *SQLiteStore) AllRunsForPipeline(ctx context.Context, pipelineName string) ([]*Run, error) {
	return s.queryRuns(ctx,
		`SELECT body FROM runs WHERE pipeline_name = ? ORDER BY rowid`,
		pipelineName,
	)
}

// AllRunsForTag answers the tag filter with an equality lookup on the
// run_tags side table rather than a deserialize-and-scan.
func (s *SQLiteStore) AllRunsForTag(ctx context.Context, key, value string) ([]*Run, error) {
	return s.queryRuns(ctx,
		`SELECT r.body FROM runs r
		 JOIN run_tags t ON t.run_id = r.run_id
		 WHERE t.key = ? AND t.value = ?
		 ORDER BY r.rowid`,
		key, value,
	)
}

// Wipe removes every record in one transaction. Tag rows follow their run
// row through the foreign-key cascade.
func (s *SQLiteStore) Wipe(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return fmt.Errorf("failed to wipe runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit wipe: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) queryRuns(ctx context.Context, query string, args ...any) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run, err := decodeRun(body)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func decodeRun(body []byte) (*Run, error) {
	run := &Run{}
	if err := json.Unmarshal(body, run); err != nil {
		return nil, fmt.Errorf("failed to deserialize run: %w", err)
	}
	return run, nil
}

// isUniqueViolation reports whether the driver error is a primary-key or
// unique-constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
