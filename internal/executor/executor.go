// Package executor runs vetted SQL against the read-only replica under hard limits.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-analytics/pkg/logger"
	"github.com/capitalize-ai/chat-analytics/pkg/metrics"
)

const (
	// DefaultMaxRows is the absolute number of rows ever materialized for one query,
	// whatever LIMIT the statement itself carries.
	DefaultMaxRows = 200

	// DefaultBatchSize bounds each incremental fetch.
	DefaultBatchSize = 50

	// DefaultBusyTimeout is how long a caller waits on a locked store before failing.
	DefaultBusyTimeout = 5 * time.Second
)

// Options configures an Executor.
type Options struct {
	Dialect     Dialect
	MaxRows     int
	BatchSize   int
	BusyTimeout time.Duration
	Logger      *logger.Logger
}

// Result is either a success (Err nil) or a failure (Err set). RowCount always equals
// len(Rows) and never exceeds the executor's MaxRows.
type Result struct {
	Columns  []string
	Rows     []map[string]any
	RowCount int
	Elapsed  time.Duration
	Err      error
}

// Failed reports whether the statement did not produce a row set.
func (r Result) Failed() bool {
	return r.Err != nil
}

// ElapsedMs returns the wall-clock duration in whole milliseconds.
func (r Result) ElapsedMs() int64 {
	return r.Elapsed.Milliseconds()
}

// Executor runs statements on a read-only *sql.DB.
type Executor struct {
	db          *sql.DB
	dialect     Dialect
	maxRows     int
	batchSize   int
	busyTimeout time.Duration
	logger      *logger.Logger
	now         func() time.Time
}

// New creates an Executor. db must be opened with a read-only credential (see OpenReplica).
func New(db *sql.DB, opts Options) *Executor {
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > maxRows {
		batchSize = maxRows
	}
	busyTimeout := opts.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}
	return &Executor{
		db:          db,
		dialect:     opts.Dialect,
		maxRows:     maxRows,
		batchSize:   batchSize,
		busyTimeout: busyTimeout,
		logger:      log,
		now:         time.Now,
	}
}

// MaxRows returns the hard row ceiling.
func (e *Executor) MaxRows() int {
	return e.maxRows
}

// Execute runs sqlText exactly as given. It never returns an error; failures are
// reported through Result.Err.
func (e *Executor) Execute(ctx context.Context, sqlText string) Result {
	start := e.now()
	result := e.execute(ctx, sqlText)
	result.Elapsed = e.now().Sub(start)

	if result.Failed() {
		metrics.RecordQuery("error", result.Elapsed.Seconds(), 0)
		e.logger.Error("replica query failed",
			zap.Int64("elapsed_ms", result.ElapsedMs()),
			zap.Error(result.Err),
		)
		return result
	}

	metrics.RecordQuery("success", result.Elapsed.Seconds(), result.RowCount)
	e.logger.Debug("replica query completed",
		zap.Int("rows", result.RowCount),
		zap.Int64("elapsed_ms", result.ElapsedMs()),
		zap.Strings("columns", result.Columns),
	)
	return result
}

func (e *Executor) execute(ctx context.Context, sqlText string) Result {
	if e.db == nil {
		return Result{Err: errors.New("replica connection is not configured")}
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("acquire replica connection: %w", err)}
	}
	defer func() { _ = conn.Close() }()

	if stmt := e.dialect.busyTimeoutStatement(e.busyTimeout); stmt != "" {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return Result{Err: fmt.Errorf("set busy timeout: %w", err)}
		}
	}

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{Err: fmt.Errorf("read columns: %w", err)}
	}

	collected := make([]map[string]any, 0, e.batchSize)
	for len(collected) < e.maxRows {
		want := e.batchSize
		if remaining := e.maxRows - len(collected); remaining < want {
			want = remaining
		}
		batch, err := fetchMany(rows, columns, want)
		if err != nil {
			return Result{Err: err}
		}
		collected = append(collected, batch...)
		if len(batch) < want {
			break
		}
	}

	return Result{
		Columns:  columns,
		Rows:     collected,
		RowCount: len(collected),
	}
}

// fetchMany scans at most n rows. A short batch means the cursor is exhausted.
func fetchMany(rows *sql.Rows, columns []string, n int) ([]map[string]any, error) {
	batch := make([]map[string]any, 0, n)
	for len(batch) < n && rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return batch, nil
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case interface{ Float64() float64 }:
		// Driver decimal types (DuckDB) are reported as plain numbers.
		return typed.Float64()
	default:
		return typed
	}
}
