// Package sqlguard validates and sanitizes generated SQL before execution.
//
// Only single-statement, read-only SELECT queries pass. Every check
// failure is terminal and carries a specific reason; rejected SQL is
// never executed.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// forbiddenKeywords may never appear as a whole word anywhere in a query.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"REPLACE", "MERGE", "CALL", "EXEC", "EXECUTE", "DECLARE", "SET",
	"GRANT", "REVOKE", "COMMIT", "ROLLBACK", "SAVEPOINT", "LOCK",
}

// forbiddenFunctions are dangerous functions and procedures, matched as
// plain substrings of the normalized query.
var forbiddenFunctions = []string{
	"xp_cmdshell", "sp_configure", "openrowset", "opendatasource",
	"pg_read_file", "pg_ls_dir", "copy", "load_file", "into outfile",
}

var (
	lineCommentRe  = regexp.MustCompile(`--.*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	multiStmtRe    = regexp.MustCompile(`;\s*\S`)
)

var keywordRes = compileKeywordRes()

func compileKeywordRes() map[string]*regexp.Regexp {
	res := make(map[string]*regexp.Regexp, len(forbiddenKeywords))
	for _, kw := range forbiddenKeywords {
		res[kw] = regexp.MustCompile(`\b` + kw + `\b`)
	}
	return res
}

// injectionPatterns catch common injection shapes that survive keyword
// filtering.
var injectionPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)';.*--`), "comment-terminated statement"},
	{regexp.MustCompile(`(?i)\bunion\s+select\b`), "UNION-based injection"},
	{regexp.MustCompile(`(?i)\bor\s+1\s*=\s*1\b`), "OR tautology"},
	{regexp.MustCompile(`(?i)\band\s+1\s*=\s*1\b`), "AND tautology"},
	{regexp.MustCompile(`(?i)\bor\s+'.*'\s*=\s*'.*'`), "string tautology"},
	{regexp.MustCompile(`\\x[0-9a-fA-F]+`), "hex escape sequence"},
	{regexp.MustCompile(`(?i)char\(`), "character conversion function"},
	{regexp.MustCompile(`(?i)ascii\(`), "ascii conversion function"},
	{regexp.MustCompile(`(?i)concat\s*\(`), "string concatenation function"},
}

// systemSchemaPatterns block access to database catalogs and metadata.
var systemSchemaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\binformation_schema\b`),
	regexp.MustCompile(`(?i)\bpg_catalog\b`),
	regexp.MustCompile(`(?i)\bpg_class\b`),
	regexp.MustCompile(`(?i)\bpg_tables\b`),
	regexp.MustCompile(`(?i)\bpg_user\b`),
	regexp.MustCompile(`(?i)\bmysql\b`),
	regexp.MustCompile(`(?i)\bperformance_schema\b`),
	regexp.MustCompile(`(?i)\bsys\b`),
}

// ValidationError carries the specific reason a query was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func reject(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks that sql is a safe, single, read-only SELECT statement.
// A nil return means the query may be sanitized and executed; a non-nil
// return is a *ValidationError naming the first rule that failed.
func Validate(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return reject("empty SQL query")
	}

	// Normalize for analysis: upper-case and strip comments so commented
	// keywords cannot hide.
	normalized := strings.ToUpper(strings.TrimSpace(sql))
	normalized = lineCommentRe.ReplaceAllString(normalized, "")
	normalized = blockCommentRe.ReplaceAllString(normalized, "")

	if !strings.HasPrefix(strings.TrimSpace(normalized), "SELECT") {
		return reject("only SELECT statements are allowed")
	}

	// Raw input, not normalized: comment stripping must not mask a second
	// statement. Checked before keyword scanning so a piggybacked
	// statement is reported as such.
	if multiStmtRe.MatchString(sql) {
		return reject("multiple SQL statements are not allowed")
	}

	for _, kw := range forbiddenKeywords {
		if keywordRes[kw].MatchString(normalized) {
			return reject("forbidden keyword detected: %s", kw)
		}
	}

	for _, fn := range forbiddenFunctions {
		if strings.Contains(normalized, strings.ToUpper(fn)) {
			return reject("forbidden function detected: %s", fn)
		}
	}

	for _, p := range injectionPatterns {
		if p.re.MatchString(normalized) {
			return reject("potential SQL injection pattern detected: %s", p.reason)
		}
	}

	for _, p := range systemSchemaPatterns {
		if p.MatchString(normalized) {
			return reject("access to system tables/schemas is not allowed")
		}
	}

	if strings.Count(normalized, "(") != strings.Count(normalized, ")") {
		return reject("unbalanced parentheses in SQL query")
	}

	return nil
}

// Sanitize strips comments, collapses whitespace, and guarantees a single
// trailing semicolon. Idempotent. Callers must Validate first; Sanitize
// performs no safety checks of its own.
func Sanitize(sql string) string {
	sql = lineCommentRe.ReplaceAllString(sql, "")
	sql = blockCommentRe.ReplaceAllString(sql, "")
	sql = strings.Join(strings.Fields(sql), " ")
	if !strings.HasSuffix(sql, ";") {
		sql += ";"
	}
	return sql
}
