package sqlguard

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
)

func TestValidateRejects(t *testing.T) {
	v := New(200)

	tests := []struct {
		name   string
		sql    string
		reason string
	}{
		{name: "empty", sql: "", reason: ReasonEmpty},
		{name: "whitespace", sql: "  \n\t ", reason: ReasonEmpty},
		{name: "empty fence", sql: "```sql\n```", reason: ReasonEmpty},
		{name: "update", sql: "UPDATE sales_order SET status = 'x'", reason: ReasonNotSelect},
		{name: "with clause", sql: "WITH t AS (SELECT 1) SELECT * FROM t", reason: ReasonNotSelect},
		{name: "drop after select", sql: "SELECT 1; DROP TABLE sales_order", reason: "forbidden keyword: DROP"},
		{name: "lowercase delete", sql: "select * from sales_order where id in (delete from x)", reason: "forbidden keyword: DELETE"},
		{name: "keyword in literal", sql: "SELECT * FROM sales_order WHERE customer_name = 'insert coin'", reason: "forbidden keyword: INSERT"},
		{name: "keyword in comment", sql: "SELECT 1 -- truncate later", reason: "forbidden keyword: TRUNCATE"},
		{name: "exec", sql: "SELECT exec('x')", reason: "forbidden keyword: EXEC"},
		{name: "two limits", sql: "SELECT * FROM (SELECT * FROM sales_order LIMIT 5) t LIMIT 3", reason: ReasonMultipleLimit},
		{name: "negative limit", sql: "SELECT * FROM sales_order LIMIT -1", reason: ReasonLimitNotPlain},
		{name: "parenthesized limit", sql: "SELECT * FROM sales_order LIMIT (1000)", reason: ReasonLimitNotPlain},
		{name: "offset comma limit", sql: "SELECT * FROM sales_order LIMIT 5, 1000", reason: ReasonLimitNotPlain},
		{name: "arithmetic limit", sql: "SELECT * FROM sales_order LIMIT 100*100", reason: ReasonLimitNotPlain},
		{name: "limit all", sql: "SELECT * FROM sales_order LIMIT ALL", reason: ReasonLimitNotPlain},
		{name: "bare limit", sql: "SELECT * FROM sales_order LIMIT", reason: ReasonLimitNotPlain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.sql)
			if got.Valid() {
				t.Fatalf("Validate(%q) = valid %q, want rejection", tt.sql, got.SQL)
			}
			if got.Reason != tt.reason {
				t.Fatalf("Reason = %q, want %q", got.Reason, tt.reason)
			}
			if got.SQL != "" {
				t.Fatalf("SQL = %q, want empty on rejection", got.SQL)
			}
		})
	}
}

func TestValidateSanitizes(t *testing.T) {
	v := New(200)

	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			name: "appends limit",
			sql:  "SELECT COUNT(*) FROM sales_order",
			want: "SELECT COUNT(*) FROM sales_order LIMIT 200",
		},
		{
			name: "strips terminator and whitespace",
			sql:  "  SELECT id FROM sales_product;  ",
			want: "SELECT id FROM sales_product LIMIT 200",
		},
		{
			name: "strips code fence",
			sql:  "```sql\nSELECT id FROM sales_product\n```",
			want: "SELECT id FROM sales_product LIMIT 200",
		},
		{
			name: "strips fence with terminator inside",
			sql:  "```\nSELECT id FROM sales_product;\n```",
			want: "SELECT id FROM sales_product LIMIT 200",
		},
		{
			name: "keeps smaller limit",
			sql:  "SELECT name FROM sales_product ORDER BY price DESC LIMIT 10",
			want: "SELECT name FROM sales_product ORDER BY price DESC LIMIT 10",
		},
		{
			name: "keeps limit equal to ceiling",
			sql:  "select name from sales_product limit 200",
			want: "select name from sales_product limit 200",
		},
		{
			name: "rewrites larger limit",
			sql:  "SELECT * FROM sales_order LIMIT 5000 OFFSET 10",
			want: "SELECT * FROM sales_order LIMIT 200 OFFSET 10",
		},
		{
			name: "rewrites lowercase limit",
			sql:  "select * from sales_order limit 999",
			want: "select * from sales_order LIMIT 200",
		},
		{
			name: "rewrites overflowing limit",
			sql:  "SELECT * FROM sales_order LIMIT 99999999999999999999999",
			want: "SELECT * FROM sales_order LIMIT 200",
		},
		{
			name: "keeps limit with offset",
			sql:  "SELECT * FROM sales_order ORDER BY id LIMIT 10 OFFSET 5",
			want: "SELECT * FROM sales_order ORDER BY id LIMIT 10 OFFSET 5",
		},
		{
			name: "rewrites limit inside subquery",
			sql:  "SELECT COUNT(*) FROM (SELECT id FROM sales_order LIMIT 900) t",
			want: "SELECT COUNT(*) FROM (SELECT id FROM sales_order LIMIT 200) t",
		},
		{
			name: "credit_limit is not a limit clause",
			sql:  "SELECT credit_limit FROM sales_customer",
			want: "SELECT credit_limit FROM sales_customer LIMIT 200",
		},
		{
			name: "updated_at is not a keyword",
			sql:  "SELECT updated_at, created_at FROM sales_order",
			want: "SELECT updated_at, created_at FROM sales_order LIMIT 200",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.sql)
			if !got.Valid() {
				t.Fatalf("Validate(%q) rejected: %s", tt.sql, got.Reason)
			}
			if got.SQL != tt.want {
				t.Fatalf("SQL = %q, want %q", got.SQL, tt.want)
			}
		})
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	v := New(50)
	inputs := []string{
		"SELECT 1",
		"select * from sales_order limit 10;",
		"```sql\nSELECT * FROM sales_order LIMIT 1000\n```",
		"SELECT p.name, SUM(oi.quantity) AS units FROM sales_order_item oi JOIN sales_product p ON oi.product_id = p.id GROUP BY p.id, p.name ORDER BY units DESC",
	}

	for _, in := range inputs {
		first := v.Validate(in)
		if !first.Valid() {
			t.Fatalf("Validate(%q) rejected: %s", in, first.Reason)
		}
		second := v.Validate(first.SQL)
		if !second.Valid() || second.SQL != first.SQL {
			t.Fatalf("second pass = %+v, want %q", second, first.SQL)
		}
	}
}

func TestValidateAlwaysHasSingleBoundedLimit(t *testing.T) {
	v := New(25)
	limitToken := regexp.MustCompile(`(?i)\bLIMIT\b`)
	limitValue := regexp.MustCompile(`(?i)\bLIMIT\s+(\S+)`)

	for _, in := range []string{
		"SELECT 1",
		"SELECT * FROM t LIMIT 24",
		"SELECT * FROM t LIMIT 26",
		"SELECT * FROM t limit 100000",
		"SELECT * FROM t LIMIT 26 OFFSET 3",
		"SELECT * FROM (SELECT * FROM t LIMIT 30) x",
		"SELECT * FROM t LIMIT -1",
		"SELECT * FROM t LIMIT (1000)",
		"SELECT * FROM t LIMIT 5, 1000",
		"SELECT * FROM t LIMIT 100*100",
	} {
		got := v.Validate(in)
		if !got.Valid() {
			if got.Reason != ReasonLimitNotPlain {
				t.Fatalf("Validate(%q) rejected: %s", in, got.Reason)
			}
			continue
		}
		if n := len(limitToken.FindAllString(got.SQL, -1)); n != 1 {
			t.Fatalf("%q has %d LIMIT keywords", got.SQL, n)
		}
		value := limitValue.FindStringSubmatch(got.SQL)
		if value == nil {
			t.Fatalf("%q has no LIMIT value", got.SQL)
		}
		n, err := strconv.Atoi(strings.TrimSuffix(value[1], ")"))
		if err != nil || n < 0 || n > 25 {
			t.Fatalf("%q exceeds ceiling", got.SQL)
		}
	}
}

func TestNewFallsBackToDefault(t *testing.T) {
	got := New(0).Validate("SELECT 1")
	if !strings.HasSuffix(got.SQL, "LIMIT 200") {
		t.Fatalf("SQL = %q, want default ceiling", got.SQL)
	}
}
