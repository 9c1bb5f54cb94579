// Package catalog indexes recording sessions in SQLite.
//
// Every Start of a streamer inserts a session row and every Stop completes
// it with the row count and export path. A session still marked recording
// when the daemon starts again was interrupted by a crash; MarkInterrupted
// closes those out.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/xtxerr/biostream/internal/errors"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.ErrNotFound

// Status is the state of a session.
type Status string

const (
	StatusRecording   Status = "recording"
	StatusStopped     Status = "stopped"
	StatusInterrupted Status = "interrupted"
)

// Session is one start/stop cycle of one streamer.
type Session struct {
	ID        string
	Sensor    string
	Subject   string
	Path      string
	StartedAt time.Time
	StoppedAt time.Time // zero while recording
	Rows      int64
	CSVPath   string
	Status    Status
}

// Config holds catalog configuration options.
type Config struct {
	// Path is the SQLite database file. ":memory:" keeps it in memory.
	Path string

	// QueryTimeout is the default timeout for statements.
	QueryTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueryTimeout: 5 * time.Second,
	}
}

// Catalog is safe for concurrent use.
type Catalog struct {
	db     *sql.DB
	config Config
	mu     sync.Mutex
	closed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	sensor     TEXT NOT NULL,
	subject    TEXT NOT NULL,
	path       TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	stopped_at INTEGER,
	row_count  INTEGER NOT NULL DEFAULT 0,
	csv_path   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_subject ON sessions(subject, started_at);
`

// Open opens or creates the catalog.
func Open(cfg Config) (*Catalog, error) {
	if cfg.Path == "" {
		return nil, errors.NewMissingField("catalog.path")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultConfig().QueryTimeout
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps an in-memory database on a single connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	return &Catalog{db: db, config: cfg}, nil
}

// Close closes the catalog.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *Catalog) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.config.QueryTimeout)
}

// Begin records a new session and returns its id.
func (c *Catalog) Begin(ctx context.Context, sensor, subject, path string, at time.Time) (string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	id := uuid.NewString()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sessions (id, sensor, subject, path, started_at, status) VALUES (?, ?, ?, ?, ?, ?)`,
		id, sensor, subject, path, at.UnixNano(), string(StatusRecording))
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// Finish completes a session.
func (c *Catalog) Finish(ctx context.Context, id string, at time.Time, rows int64, csvPath string, status Status) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx,
		`UPDATE sessions SET stopped_at = ?, row_count = ?, csv_path = ?, status = ? WHERE id = ?`,
		at.UnixNano(), rows, csvPath, string(status), id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// MarkInterrupted flags every session still recording as interrupted and
// returns how many were changed.
func (c *Catalog) MarkInterrupted(ctx context.Context, at time.Time) (int64, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx,
		`UPDATE sessions SET stopped_at = ?, status = ? WHERE status = ?`,
		at.UnixNano(), string(StatusInterrupted), string(StatusRecording))
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return res.RowsAffected()
}

// Get returns one session.
func (c *Catalog) Get(ctx context.Context, id string) (*Session, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	row := c.db.QueryRowContext(ctx, selectSessions+` WHERE id = ?`, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Subject string
	Sensor  string
	Status  Status
	Limit   int
}

// List returns sessions, newest first.
func (c *Catalog) List(ctx context.Context, f Filter) ([]Session, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	var conds []string
	var args []interface{}
	if f.Subject != "" {
		conds = append(conds, "subject = ?")
		args = append(args, f.Subject)
	}
	if f.Sensor != "" {
		conds = append(conds, "sensor = ?")
		args = append(args, f.Sensor)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}

	query := selectSessions
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

const selectSessions = `SELECT id, sensor, subject, path, started_at, stopped_at, row_count, csv_path, status FROM sessions`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*Session, error) {
	var s Session
	var started int64
	var stopped sql.NullInt64
	var status string

	if err := row.Scan(&s.ID, &s.Sensor, &s.Subject, &s.Path, &started, &stopped, &s.Rows, &s.CSVPath, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	s.StartedAt = time.Unix(0, started)
	if stopped.Valid {
		s.StoppedAt = time.Unix(0, stopped.Int64)
	}
	s.Status = Status(status)
	return &s, nil
}

// Health checks database connectivity.
func (c *Catalog) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
