package sqlguard

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_AcceptsSafeSelects(t *testing.T) {
	queries := []string{
		"SELECT * FROM floats",
		"select float_id, project_name from floats limit 10;",
		"SELECT p.temperature, c.latitude FROM profiles p JOIN cycles c ON p.cycle_id = c.cycle_id WHERE p.quality_flag IN (1, 2) LIMIT 100;",
		"SELECT AVG(temperature) FROM profiles WHERE depth < 1000",
		"  SELECT count(*) FROM cycles WHERE profile_date >= '2023-03-01'  ",
	}
	for _, q := range queries {
		if err := Validate(q); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", q, err)
		}
	}
}

func TestValidate_RejectsWithSpecificReasons(t *testing.T) {
	tests := []struct {
		name       string
		sql        string
		wantReason string
	}{
		{"empty", "", "empty SQL query"},
		{"blank", "   \n\t", "empty SQL query"},
		{"not a select", "UPDATE floats SET project_name = 'x'", "only SELECT statements"},
		{"drop keyword", "SELECT * FROM floats WHERE 1 IN (SELECT 1) AND DROP", "forbidden keyword detected: DROP"},
		{"delete keyword", "SELECT delete FROM floats", "forbidden keyword detected: DELETE"},
		{"multiple statements", "SELECT * FROM floats; DROP TABLE floats;", "multiple SQL statements"},
		{"forbidden function", "SELECT pg_read_file('/etc/passwd')", "forbidden function detected: pg_read_file"},
		{"union injection", "SELECT id FROM floats UNION SELECT usename FROM users", "UNION-based injection"},
		{"or tautology", "SELECT * FROM floats WHERE id = '' OR 1=1", "OR tautology"},
		{"char function", "SELECT char(65) FROM floats", "character conversion function"},
		{"system schema", "SELECT * FROM information_schema.tables", "system tables/schemas"},
		{"pg_catalog", "SELECT relname FROM pg_catalog.pg_class", "system tables/schemas"},
		{"unbalanced parens", "SELECT avg(temperature FROM profiles", "unbalanced parentheses"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.sql)
			if err == nil {
				t.Fatalf("Validate(%q) = nil, want error", tt.sql)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate returned %T, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantReason) {
				t.Errorf("reason = %q, want containing %q", err.Error(), tt.wantReason)
			}
		})
	}
}

func TestValidate_CommentedKeywordStillRejected(t *testing.T) {
	// Comments are stripped before keyword analysis, so a keyword hidden
	// around comments is still found.
	sql := "SELECT * FROM floats WHERE TRUNCATE /* hidden */ IS NULL"
	if err := Validate(sql); err == nil {
		t.Fatal("Validate = nil, want forbidden keyword error")
	}
}

func TestValidate_TrailingSemicolonAllowed(t *testing.T) {
	if err := Validate("SELECT 1;"); err != nil {
		t.Errorf("Validate(SELECT 1;) = %v, want nil", err)
	}
	if err := Validate("SELECT 1; "); err != nil {
		t.Errorf("trailing whitespace after semicolon should pass, got %v", err)
	}
}

func TestSanitize(t *testing.T) {
	got := Sanitize("SELECT   *\nFROM floats -- trailing comment\nWHERE id = 1")
	want := "SELECT * FROM floats WHERE id = 1;"
	if got != want {
		t.Errorf("Sanitize = %q, want %q", got, want)
	}
}

func TestSanitize_StripsBlockComments(t *testing.T) {
	got := Sanitize("SELECT * /* multi\nline\ncomment */ FROM floats;")
	want := "SELECT * FROM floats;"
	if got != want {
		t.Errorf("Sanitize = %q, want %q", got, want)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	queries := []string{
		"SELECT * FROM floats",
		"SELECT  a,   b FROM cycles -- comment",
		"select 1;",
		"SELECT avg(temperature) FROM profiles WHERE depth < 1000",
	}
	for _, q := range queries {
		once := Sanitize(q)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q != %q", q, once, twice)
		}
	}
}
