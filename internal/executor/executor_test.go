package executor

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/capitalize-ai/chat-analytics/pkg/logger"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestExecuteReturnsRowsAsMaps(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, Options{Dialect: DialectSQLite, Logger: logger.NewNop()})

	mock.ExpectExec("PRAGMA busy_timeout = 5000").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT SUM(total_amount) AS sum FROM sales_order LIMIT 200").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(18234.50))

	result := exec.Execute(context.Background(), "SELECT SUM(total_amount) AS sum FROM sales_order LIMIT 200")
	if result.Failed() {
		t.Fatalf("Execute() failed: %v", result.Err)
	}
	if result.RowCount != 1 || len(result.Rows) != 1 {
		t.Fatalf("RowCount = %d, rows = %d", result.RowCount, len(result.Rows))
	}
	if got := result.Rows[0]["sum"]; got != 18234.50 {
		t.Fatalf("sum = %#v", got)
	}
	if len(result.Columns) != 1 || result.Columns[0] != "sum" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	assertSQLMock(t, mock)
}

func TestExecuteStopsAtRowCeiling(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, Options{Dialect: DialectSQLite, MaxRows: 200, BatchSize: 30, Logger: logger.NewNop()})

	rows := sqlmock.NewRows([]string{"id", "name"})
	for i := 0; i < 750; i++ {
		rows.AddRow(int64(i), []byte("product"))
	}
	mock.ExpectExec("PRAGMA busy_timeout = 5000").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, name FROM sales_product LIMIT 1000").WillReturnRows(rows)

	result := exec.Execute(context.Background(), "SELECT id, name FROM sales_product LIMIT 1000")
	if result.Failed() {
		t.Fatalf("Execute() failed: %v", result.Err)
	}
	if result.RowCount != 200 || len(result.Rows) != 200 {
		t.Fatalf("RowCount = %d, rows = %d, want 200", result.RowCount, len(result.Rows))
	}
	if got := result.Rows[199]["name"]; got != "product" {
		t.Fatalf("name = %#v, want normalized string", got)
	}
	assertSQLMock(t, mock)
}

func TestExecuteShortResultEndsEarly(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, Options{Dialect: DialectSQLite, BatchSize: 10, Logger: logger.NewNop()})

	rows := sqlmock.NewRows([]string{"id"})
	for i := 0; i < 25; i++ {
		rows.AddRow(int64(i))
	}
	mock.ExpectExec("PRAGMA busy_timeout = 5000").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id FROM sales_order LIMIT 200").WillReturnRows(rows)

	result := exec.Execute(context.Background(), "SELECT id FROM sales_order LIMIT 200")
	if result.RowCount != 25 {
		t.Fatalf("RowCount = %d, want 25", result.RowCount)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReportsQueryErrorAsValue(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, Options{Dialect: DialectSQLite, Logger: logger.NewNop()})

	mock.ExpectExec("PRAGMA busy_timeout = 5000").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT * FROM missing LIMIT 200").WillReturnError(errors.New("no such table: missing"))

	result := exec.Execute(context.Background(), "SELECT * FROM missing LIMIT 200")
	if !result.Failed() {
		t.Fatal("Execute() succeeded, want failure")
	}
	if result.Err.Error() != "no such table: missing" {
		t.Fatalf("Err = %v", result.Err)
	}
	if result.RowCount != 0 || result.Rows != nil {
		t.Fatalf("failure carries rows: %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReportsScanErrorAsValue(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, Options{Dialect: DialectSQLite, Logger: logger.NewNop()})

	rows := sqlmock.NewRows([]string{"id"}).AddRow(1).RowError(0, errors.New("disk I/O error"))
	mock.ExpectExec("PRAGMA busy_timeout = 5000").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id FROM sales_order LIMIT 200").WillReturnRows(rows)

	result := exec.Execute(context.Background(), "SELECT id FROM sales_order LIMIT 200")
	if !result.Failed() {
		t.Fatal("Execute() succeeded, want failure")
	}
	assertSQLMock(t, mock)
}

func TestExecuteAppliesPostgresLockTimeout(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, Options{Dialect: DialectPostgres, BusyTimeout: 1500 * time.Millisecond, Logger: logger.NewNop()})

	mock.ExpectExec("SET lock_timeout = '1500ms'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 LIMIT 200").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(int64(1)))

	result := exec.Execute(context.Background(), "SELECT 1 LIMIT 200")
	if result.Failed() {
		t.Fatalf("Execute() failed: %v", result.Err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteDuckDBSkipsTimeoutStatement(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, Options{Dialect: DialectDuckDB, Logger: logger.NewNop()})

	mock.ExpectQuery("SELECT 1 LIMIT 200").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(int64(1)))

	if result := exec.Execute(context.Background(), "SELECT 1 LIMIT 200"); result.Failed() {
		t.Fatalf("Execute() failed: %v", result.Err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteMeasuresElapsedTime(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, Options{Dialect: DialectDuckDB, Logger: logger.NewNop()})
	ticks := []time.Time{time.Unix(100, 0), time.Unix(100, int64(42*time.Millisecond))}
	exec.now = func() time.Time {
		next := ticks[0]
		ticks = ticks[1:]
		return next
	}

	mock.ExpectQuery("SELECT 1 LIMIT 200").WillReturnError(errors.New("boom"))

	result := exec.Execute(context.Background(), "SELECT 1 LIMIT 200")
	if result.ElapsedMs() != 42 {
		t.Fatalf("ElapsedMs() = %d, want 42", result.ElapsedMs())
	}
	assertSQLMock(t, mock)
}

func TestExecuteWithoutDatabase(t *testing.T) {
	result := New(nil, Options{Logger: logger.NewNop()}).Execute(context.Background(), "SELECT 1")
	if !result.Failed() {
		t.Fatal("Execute() without db succeeded")
	}
}

func TestParseDialect(t *testing.T) {
	tests := map[string]Dialect{
		"":           DialectSQLite,
		"sqlite3":    DialectSQLite,
		"PGX":        DialectPostgres,
		"postgresql": DialectPostgres,
		"duckdb":     DialectDuckDB,
	}
	for in, want := range tests {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatal("ParseDialect(mysql) succeeded")
	}
}

func TestReadOnlySQLiteDSN(t *testing.T) {
	got := readOnlySQLiteDSN("db.sqlite3")
	want := "file:db.sqlite3?mode=ro&_pragma=query_only%281%29"
	if got != want {
		t.Fatalf("readOnlySQLiteDSN() = %q, want %q", got, want)
	}
}
