// Package query runs analytics over parquet snapshots with DuckDB.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/logging"
	"github.com/xtxerr/biostream/internal/storage/config"
	"github.com/xtxerr/biostream/internal/storage/parquet"
)

var log = logging.Component("query")

// Service provides query capabilities over exported snapshots.
type Service struct {
	mu sync.RWMutex

	config config.QueryConfig
	db     *sql.DB

	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// Filter narrows a summary or reading query. Empty fields match everything.
type Filter struct {
	Channel     string
	EventMarker string
	Condition   string

	// Since and Until bound timestamp_unix when non-zero.
	Since float64
	Until float64

	Limit int
}

// New creates a query service backed by an in-memory DuckDB database.
func New(cfg config.QueryConfig) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", escape(cfg.MemoryLimit)))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		config: cfg,
		db:     db,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var viewName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Register exposes the snapshot at path as a view, for use with ExecuteSQL.
func (s *Service) Register(ctx context.Context, name, path string) error {
	if !viewName.MatchString(name) {
		return errors.NewValidation("view", fmt.Sprintf("invalid name %q", name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet('%s')", name, escape(path))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		s.stats.Errors++
		return fmt.Errorf("register %s: %w", name, err)
	}
	log.Debug("view registered", "name", name, "path", path)
	return nil
}

// Summary returns one statistics row per (channel, event marker, condition),
// ordered by channel, event marker, then condition.
func (s *Service) Summary(ctx context.Context, path string, f Filter) ([]parquet.SummaryRow, error) {
	where, args := f.where()

	query := fmt.Sprintf(`
		SELECT
			channel, event_marker, condition,
			count(*),
			avg(value),
			CAST(min(value) AS DOUBLE),
			CAST(max(value) AS DOUBLE),
			CAST(quantile_cont(value, 0.5) AS DOUBLE),
			CAST(quantile_cont(value, 0.9) AS DOUBLE),
			CAST(quantile_cont(value, 0.99) AS DOUBLE),
			min(timestamp_unix),
			max(timestamp_unix)
		FROM read_parquet('%s')
		%s
		GROUP BY channel, event_marker, condition
		ORDER BY channel, event_marker, condition
	`, escape(path), where)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var results []parquet.SummaryRow
	for rows.Next() {
		var r parquet.SummaryRow
		if err := rows.Scan(
			&r.Channel, &r.EventMarker, &r.Condition,
			&r.Count, &r.Mean, &r.Min, &r.Max,
			&r.P50, &r.P90, &r.P99,
			&r.FirstTs, &r.LastTs,
		); err != nil {
			s.stats.Errors++
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, r)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))
	return results, rows.Err()
}

// Readings returns matching readings in timestamp order.
func (s *Service) Readings(ctx context.Context, path string, f Filter) ([]parquet.ReadingRow, error) {
	where, args := f.where()

	query := fmt.Sprintf(`
		SELECT timestamp_unix, timestamp, channel, value, event_marker, condition
		FROM read_parquet('%s')
		%s
		ORDER BY timestamp_unix
	`, escape(path), where)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("readings: %w", err)
	}
	defer rows.Close()

	var results []parquet.ReadingRow
	for rows.Next() {
		var r parquet.ReadingRow
		if err := rows.Scan(&r.TimestampUnix, &r.Timestamp, &r.Channel, &r.Value, &r.EventMarker, &r.Condition); err != nil {
			s.stats.Errors++
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, r)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))
	return results, rows.Err()
}

func (f Filter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.Channel != "" {
		add("channel = ?", f.Channel)
	}
	if f.EventMarker != "" {
		add("event_marker = ?", f.EventMarker)
	}
	if f.Condition != "" {
		add("condition = ?", f.Condition)
	}
	if f.Since != 0 {
		add("timestamp_unix >= ?", f.Since)
	}
	if f.Until != 0 {
		add("timestamp_unix <= ?", f.Until)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// escape quotes a value for a single-quoted SQL literal.
func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// ExecuteSQL executes a raw SQL query. At most config.MaxRows rows are
// returned.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		if s.config.MaxRows > 0 && len(results) >= s.config.MaxRows {
			log.Warn("result truncated", "max_rows", s.config.MaxRows)
			break
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, rows.Err()
}

// Columns returns the column names of a query result, in order. ExecuteSQL
// maps lose the order, so callers printing tables use this first.
func (s *Service) Columns(ctx context.Context, query string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM (%s) LIMIT 0", query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}
