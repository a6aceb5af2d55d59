package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
	"github.com/couchcryptid/weather-telemetry-api/internal/observability"
)

// Executor runs read statements on a dedicated session per call and returns
// fully materialized rows.
type Executor struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewExecutor creates an Executor. Statements use ? placeholders regardless
// of driver.
func NewExecutor(db *sql.DB, driverName string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Executor {
	return &Executor{
		db:      db,
		driver:  driverName,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Run executes query and returns its rows. A stale session is reset and the
// query retried once. Any other failure is returned as *domain.StorageError
// carrying the driver message.
func (e *Executor) Run(ctx context.Context, query string, args ...any) ([]domain.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	defer func() { e.metrics.QueryDuration.Observe(time.Since(start).Seconds()) }()

	query = rebind(e.driver, query)
	for attempt := 0; ; attempt++ {
		rows, err := e.runOnce(ctx, query, args)
		if err == nil {
			return rows, nil
		}
		if attempt == 0 && isStaleSession(err) && ctx.Err() == nil {
			e.logger.Warn("storage session stale, resetting", "error", err)
			e.metrics.StorageRetries.Inc()
			continue
		}
		e.metrics.StorageErrors.Inc()
		return nil, &domain.StorageError{Op: "query", Err: err}
	}
}

// CheckReadiness pings storage. It backs /readyz.
func (e *Executor) CheckReadiness(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.db.PingContext(ctx); err != nil {
		return &domain.StorageError{Op: "ping", Err: err}
	}
	return nil
}

func (e *Executor) runOnce(ctx context.Context, query string, args []any) (_ []domain.Row, err error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer func() {
		if isStaleSession(err) {
			// Returning ErrBadConn from Raw makes database/sql discard the session.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, sql.ErrConnDone) {
			e.logger.Error("close storage session", "error", closeErr)
		}
	}()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			e.logger.Error("close rows", "error", closeErr)
		}
	}()

	return scanRows(rows)
}

// scanRows copies every row into a domain.MapRow keyed by column name. With
// joined SELECT * results, later duplicate column names win.
func scanRows(rows *sql.Rows) ([]domain.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Row, 0, 64)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(domain.MapRow, len(cols))
		for i, col := range cols {
			row[col] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func isStaleSession(err error) bool {
	return err != nil && (errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone))
}
