// Package datasource runs generated SQL against the configured relational
// database and returns the result as a plain table.
package datasource

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	// Database drivers, registered by name.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/ziadkadry99/askdb/internal/config"
	"github.com/ziadkadry99/askdb/internal/logging"
	"github.com/ziadkadry99/askdb/internal/retry"
)

// ErrNotConfigured is returned when no database DSN has been set.
var ErrNotConfigured = errors.New("database is not configured")

// ResultSet is the tabular result of one query.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// UnmarshalJSON decodes a stored result set. Numbers are kept exact:
// integers come back as int64 and everything else as float64.
func (r *ResultSet) UnmarshalJSON(data []byte) error {
	var raw struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	for _, row := range raw.Rows {
		for i, cell := range row {
			if n, ok := cell.(json.Number); ok {
				row[i] = numberValue(n)
			}
		}
	}
	r.Columns, r.Rows = raw.Columns, raw.Rows
	return nil
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// Len returns the number of rows.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Preview returns at most n leading rows. n <= 0 returns every row.
func (r *ResultSet) Preview(n int) *ResultSet {
	if r == nil {
		return nil
	}
	if n <= 0 || n >= len(r.Rows) {
		return r
	}
	return &ResultSet{Columns: r.Columns, Rows: r.Rows[:n]}
}

// Records returns each row keyed by column name.
func (r *ResultSet) Records() []map[string]any {
	if r == nil {
		return nil
	}
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		rec := make(map[string]any, len(r.Columns))
		for j, col := range r.Columns {
			if j < len(row) {
				rec[col] = row[j]
			}
		}
		out[i] = rec
	}
	return out
}

// Executor runs SQL. Implementations must be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, query string) (*ResultSet, error)
}

// SQLExecutor is an Executor over database/sql.
type SQLExecutor struct {
	db      *sql.DB
	timeout time.Duration
	logger  *zap.Logger
}

// DriverName maps a configured driver to its database/sql registration.
func DriverName(d config.Driver) (string, error) {
	switch d {
	case config.DriverSQLite:
		return "sqlite", nil
	case config.DriverPostgres:
		return "pgx", nil
	case config.DriverMySQL:
		return "mysql", nil
	case config.DriverSQLServer:
		return "sqlserver", nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", d)
	}
}

// Open connects to the database in cfg, retrying while it is unreachable.
func Open(ctx context.Context, cfg config.DatabaseConfig, timeout time.Duration, logger *zap.Logger) (*SQLExecutor, error) {
	if cfg.DSN == "" {
		return nil, ErrNotConfigured
	}
	name, err := DriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}

	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", cfg.Driver, err)
	}

	logger = logging.OrNop(logger)
	logger.Info("database connected", zap.String("driver", string(cfg.Driver)))
	return New(db, timeout, logger), nil
}

// New wraps an open handle. A zero timeout leaves queries unbounded.
func New(db *sql.DB, timeout time.Duration, logger *zap.Logger) *SQLExecutor {
	return &SQLExecutor{db: db, timeout: timeout, logger: logging.OrNop(logger)}
}

// DB exposes the underlying handle.
func (e *SQLExecutor) DB() *sql.DB { return e.db }

// Close releases the connection pool.
func (e *SQLExecutor) Close() error { return e.db.Close() }

// Execute runs query and materializes every row. Byte slices are returned
// as strings so results encode cleanly as JSON.
func (e *SQLExecutor) Execute(ctx context.Context, query string) (*ResultSet, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := &ResultSet{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	e.logger.Debug("query executed",
		zap.Int("rows", len(result.Rows)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}
