package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
	"github.com/couchcryptid/weather-telemetry-api/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite3", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE readings (
		device_id TEXT NOT NULL,
		temperature REAL,
		altitude REAL
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO readings VALUES ('lht-1', 21.5, 12.0), ('py-2', 18.0, NULL)`)
	require.NoError(t, err)
	return db
}

func TestExecutor_RunMaterializesRows(t *testing.T) {
	db := openSQLite(t)
	m := observability.NewMetricsForTesting()
	e := NewExecutor(db, "sqlite3", time.Second, testLogger(), m)

	rows, err := e.Run(context.Background(), "SELECT device_id, temperature, altitude FROM readings ORDER BY device_id")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	v, ok := rows[0].Lookup("device_id")
	require.True(t, ok)
	assert.Equal(t, "lht-1", v)
	assert.False(t, domain.IsNull(rows[0], "altitude"))
	assert.True(t, domain.IsNull(rows[1], "altitude"))

	_, ok = rows[0].Lookup("humidity")
	assert.False(t, ok)
}

func TestExecutor_RunWithArgs(t *testing.T) {
	db := openSQLite(t)
	e := NewExecutor(db, "sqlite3", time.Second, testLogger(), observability.NewMetricsForTesting())

	rows, err := e.Run(context.Background(), "SELECT device_id FROM readings WHERE temperature > ?", 20.0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	v, _ := rows[0].Lookup("device_id")
	assert.Equal(t, "lht-1", v)
}

func TestExecutor_RunEmptyResult(t *testing.T) {
	db := openSQLite(t)
	e := NewExecutor(db, "sqlite3", time.Second, testLogger(), observability.NewMetricsForTesting())

	rows, err := e.Run(context.Background(), "SELECT device_id FROM readings WHERE device_id = ?", "none")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestExecutor_RunMalformedStatement(t *testing.T) {
	db := openSQLite(t)
	m := observability.NewMetricsForTesting()
	e := NewExecutor(db, "sqlite3", time.Second, testLogger(), m)

	_, err := e.Run(context.Background(), "SELECT nope FROM missing_table")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)

	var se *domain.StorageError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "missing_table")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StorageRetries))
}

func TestExecutor_CheckReadiness(t *testing.T) {
	db := openSQLite(t)
	e := NewExecutor(db, "sqlite3", time.Second, testLogger(), observability.NewMetricsForTesting())
	assert.NoError(t, e.CheckReadiness(context.Background()))

	require.NoError(t, db.Close())
	err := e.CheckReadiness(context.Background())
	assert.ErrorIs(t, err, domain.ErrStorage)
}

// --- flaky driver ---

// flakyDriver fails the first failures queries with failErr, then answers
// every query with a single row.
type flakyDriver struct {
	mu       sync.Mutex
	failures int
	failErr  error
	queries  int
	opened   int
}

func (d *flakyDriver) Open(string) (driver.Conn, error) {
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	return &flakyConn{d: d}, nil
}

type flakyConn struct{ d *flakyDriver }

func (c *flakyConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *flakyConn) Close() error                        { return nil }
func (c *flakyConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (c *flakyConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.queries++
	if c.d.failures > 0 {
		c.d.failures--
		return nil, c.d.failErr
	}
	return &flakyRows{}, nil
}

type flakyRows struct{ done bool }

func (r *flakyRows) Columns() []string { return []string{"device_id"} }
func (r *flakyRows) Close() error      { return nil }
func (r *flakyRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = "lht-1"
	return nil
}

var registerOnce sync.Map

func openFlaky(t *testing.T, d *flakyDriver) *sql.DB {
	t.Helper()
	name := "flaky-" + t.Name()
	if _, loaded := registerOnce.LoadOrStore(name, true); !loaded {
		sql.Register(name, d)
	}
	db, err := sql.Open(name, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestExecutor_ResetsStaleSessionOnce(t *testing.T) {
	tests := []struct {
		name    string
		failErr error
	}{
		{"bad conn", driver.ErrBadConn},
		{"mysql invalid conn", mysql.ErrInvalidConn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &flakyDriver{failures: 1, failErr: tt.failErr}
			m := observability.NewMetricsForTesting()
			e := NewExecutor(openFlaky(t, d), "mysql", time.Second, testLogger(), m)

			rows, err := e.Run(context.Background(), "SELECT device_id FROM metadata")
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, 2, d.queries)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageRetries))
			assert.Equal(t, 0.0, testutil.ToFloat64(m.StorageErrors))
		})
	}
}

func TestExecutor_GivesUpAfterOneRetry(t *testing.T) {
	d := &flakyDriver{failures: 5, failErr: driver.ErrBadConn}
	m := observability.NewMetricsForTesting()
	e := NewExecutor(openFlaky(t, d), "mysql", time.Second, testLogger(), m)

	_, err := e.Run(context.Background(), "SELECT device_id FROM metadata")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, 2, d.queries)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageErrors))
}

func TestExecutor_NonSessionErrorNotRetried(t *testing.T) {
	d := &flakyDriver{failures: 1, failErr: errors.New("syntax error near FROM")}
	e := NewExecutor(openFlaky(t, d), "mysql", time.Second, testLogger(), observability.NewMetricsForTesting())

	_, err := e.Run(context.Background(), "SELECT FROM")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error near FROM")
	assert.Equal(t, 1, d.queries)
}
