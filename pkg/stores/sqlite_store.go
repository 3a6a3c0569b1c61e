package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/converge/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db        *sql.DB
	cfg       Config
	backupDir string
}

// Config holds SQLite store configuration
type Config struct {
	// Path is the database file, or ":memory:".
	Path string

	// BackupDir holds snapshot content. Defaults to "backups" next to the
	// database file.
	BackupDir string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Path == memoryPath {
		// Every connection to :memory: is a separate database.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	backupDir := cfg.BackupDir
	if backupDir == "" && cfg.Path != memoryPath {
		backupDir = filepath.Join(filepath.Dir(cfg.Path), "backups")
	}

	return &SQLiteStore{cfg: cfg, backupDir: backupDir}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.Path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o700); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

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

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginRun records the start of an executor pass.
func (s *SQLiteStore) BeginRun(ctx context.Context, run *engine.Run) error {
	query := `
		INSERT INTO runs (id, plan_id, source, host, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.PlanID,
		run.Source,
		run.Host,
		string(run.Status),
		formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun records the final status of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status engine.RunStatus) error {
	query := `UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, string(status), formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	query := `
		SELECT id, plan_id, source, host, status, started_at, finished_at
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*engine.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, plan_id, source, host, status, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*engine.Run, error) {
	var (
		run        engine.Run
		status     string
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&run.ID, &run.PlanID, &run.Source, &run.Host, &status, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	run.Status = engine.RunStatus(status)
	t, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at: %w", err)
	}
	run.StartedAt = t

	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid finished_at: %w", err)
		}
		run.FinishedAt = &t
	}
	return &run, nil
}

// Append writes one audit entry. Entries are never updated or deleted; the
// schema rejects both.
func (s *SQLiteStore) Append(ctx context.Context, entry *engine.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	actionJSON, err := json.Marshal(entry.Action)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}

	var snapshotID sql.NullString
	if entry.SnapshotRef != "" {
		snapshotID = sql.NullString{String: entry.SnapshotRef, Valid: true}
	}

	d := entry.Action.Directive
	query := `
		INSERT INTO audit_entries (id, run_id, sequence, resource, kind, directive_key, action, outcome, detail, snapshot_id, action_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.RunID,
		entry.Sequence,
		d.Resource,
		string(d.Kind),
		d.Key,
		string(entry.Action.Kind),
		string(entry.Outcome),
		entry.Detail,
		snapshotID,
		string(actionJSON),
		formatTime(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// Entries returns audit entries matching filter in the order they were
// recorded. With a limit, the most recent entries are returned.
func (s *SQLiteStore) Entries(ctx context.Context, filter engine.RunFilter) ([]*engine.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if len(filter.Outcomes) > 0 {
		placeholders := make([]string, len(filter.Outcomes))
		for i, o := range filter.Outcomes {
			placeholders[i] = "?"
			args = append(args, string(o))
		}
		where = append(where, "outcome IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT id, run_id, sequence, outcome, detail, snapshot_id, action_json, recorded_at FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*engine.AuditEntry{}
	for rows.Next() {
		var (
			entry      engine.AuditEntry
			outcome    string
			snapshotID sql.NullString
			actionJSON string
			recordedAt string
		)
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.Sequence, &outcome, &entry.Detail, &snapshotID, &actionJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(actionJSON), &entry.Action); err != nil {
			return nil, fmt.Errorf("failed to decode action of entry %s: %w", entry.ID, err)
		}
		entry.Outcome = engine.Outcome(outcome)
		entry.SnapshotRef = snapshotID.String
		if entry.Timestamp, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("invalid recorded_at: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// SaveSnapshot persists snapshot content to the backup directory and its
// metadata to the database. It fills in ID, Checksum, Size and Path.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *engine.ResourceSnapshot) error {
	if s.backupDir == "" {
		return fmt.Errorf("backup directory not configured")
	}
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	sum := sha256.Sum256(snap.Content)
	snap.Checksum = hex.EncodeToString(sum[:])
	snap.Size = int64(len(snap.Content))
	snap.Path = filepath.Join(s.backupDir, snap.ID+".bak")

	if err := writeDurable(snap.Path, snap.Content); err != nil {
		return fmt.Errorf("failed to write snapshot content: %w", err)
	}

	var runID sql.NullString
	if snap.RunID != "" {
		runID = sql.NullString{String: snap.RunID, Valid: true}
	}

	query := `
		INSERT INTO snapshots (id, run_id, resource, kind, location, existed, checksum, size, path, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		snap.ID,
		runID,
		snap.Ref.Name,
		string(snap.Ref.Kind),
		snap.Ref.Location,
		snap.Existed,
		snap.Checksum,
		snap.Size,
		snap.Path,
		formatTime(snap.CapturedAt),
	)
	if err != nil {
		_ = os.Remove(snap.Path)
		return fmt.Errorf("failed to record snapshot: %w", err)
	}

	return nil
}

// GetSnapshot loads a snapshot with its content and verifies the checksum.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*engine.ResourceSnapshot, error) {
	query := `
		SELECT id, run_id, resource, kind, location, existed, checksum, size, path, captured_at
		FROM snapshots
		WHERE id = ?
	`

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	content, err := os.ReadFile(snap.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot content: %w", err)
	}
	sum := sha256.Sum256(content)
	if hex.EncodeToString(sum[:]) != snap.Checksum {
		return nil, fmt.Errorf("snapshot %s content does not match its checksum", id)
	}
	snap.Content = content

	return snap, nil
}

// ListSnapshots returns snapshot metadata, newest first. An empty resource
// lists all resources. Content is not loaded.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, resource string, limit int) ([]*engine.ResourceSnapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, run_id, resource, kind, location, existed, checksum, size, path, captured_at
		FROM snapshots
		WHERE (? = '' OR resource = ?)
		ORDER BY captured_at DESC, id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, resource, resource, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*engine.ResourceSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snaps, nil
}

func scanSnapshot(row scanner) (*engine.ResourceSnapshot, error) {
	var (
		snap       engine.ResourceSnapshot
		runID      sql.NullString
		kind       string
		capturedAt string
	)
	err := row.Scan(
		&snap.ID,
		&runID,
		&snap.Ref.Name,
		&kind,
		&snap.Ref.Location,
		&snap.Existed,
		&snap.Checksum,
		&snap.Size,
		&snap.Path,
		&capturedAt,
	)
	if err != nil {
		return nil, err
	}
	snap.RunID = runID.String
	snap.Ref.Kind = engine.ResourceKind(kind)
	if snap.CapturedAt, err = parseTime(capturedAt); err != nil {
		return nil, fmt.Errorf("invalid captured_at: %w", err)
	}
	return &snap, nil
}

// writeDurable writes data to path and syncs it before returning.
func writeDurable(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

var _ Store = (*SQLiteStore)(nil)
