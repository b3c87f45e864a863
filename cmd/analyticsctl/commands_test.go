package main

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/chat-analytics/internal/model"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidatePrintsBoundedSQL(t *testing.T) {
	out, err := run(t, "validate", "SELECT name FROM sales_product;")
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if strings.TrimSpace(out) != "SELECT name FROM sales_product LIMIT 200" {
		t.Fatalf("output = %q", out)
	}
}

func TestValidateRejects(t *testing.T) {
	_, err := run(t, "validate", "DELETE FROM sales_order")
	if err == nil || !strings.Contains(err.Error(), "only SELECT queries are allowed") {
		t.Fatalf("error = %v", err)
	}
}

func TestSchemaPrintsSalesTables(t *testing.T) {
	out, err := run(t, "schema")
	if err != nil {
		t.Fatalf("schema error = %v", err)
	}
	if !strings.Contains(out, "sales_order_item") || strings.Contains(out, "chat_message") {
		t.Fatalf("schema output = %s", out)
	}
}

func TestSchemaCheckCountsReplicaTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		"CREATE TABLE sales_product (id INTEGER PRIMARY KEY, name TEXT)",
		"CREATE TABLE sales_order (id INTEGER PRIMARY KEY, total_amount REAL)",
		"INSERT INTO sales_order (total_amount) VALUES (10), (20)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	db.Close()

	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", path)
	t.Setenv("REPLICA_URL", "")

	out, err := run(t, "schema", "--check")
	if err == nil || !strings.Contains(err.Error(), "sales_order_item") {
		t.Fatalf("error = %v", err)
	}
	if !strings.Contains(out, "sales_order          2 rows") {
		t.Fatalf("output = %s", out)
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	if _, err := run(t, "ask"); err == nil {
		t.Fatal("ask without a question should fail")
	}
}

func TestStreamPrinter(t *testing.T) {
	var out, status bytes.Buffer
	p := &streamPrinter{out: &out, status: &status, showSQL: true}
	for _, e := range []model.StreamEvent{
		model.StatusEvent("Fetching data..."),
		model.SQLEvent("SELECT 1 LIMIT 200"),
		model.ChunkEvent("Total "),
		model.ChunkEvent("₹30"),
		model.DoneEvent("", 1),
	} {
		if err := p.Emit(e); err != nil {
			t.Fatalf("Emit() error = %v", err)
		}
	}
	if out.String() != "Total ₹30\n" {
		t.Fatalf("out = %q", out.String())
	}
	if status.String() != "Fetching data...\nSQL: SELECT 1 LIMIT 200\n" {
		t.Fatalf("status = %q", status.String())
	}
}
