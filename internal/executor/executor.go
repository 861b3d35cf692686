// Package executor runs validated SQL against PostgreSQL and normalizes
// result rows for transport.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/floatchat/floatchat/internal/log"
)

// TxBeginner starts transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Result is the outcome of one execution. Errors are carried in
// ErrorMessage rather than returned, so every execution produces a
// well-formed Result.
type Result struct {
	Success       bool             `json:"success"`
	Data          []map[string]any `json:"data"`
	RowCount      int              `json:"row_count"`
	ExecutionTime float64          `json:"execution_time"` // seconds
	ErrorMessage  string           `json:"error_message,omitempty"`
	ColumnNames   []string         `json:"column_names,omitempty"`
}

// Executor runs read-only queries with a per-statement timeout.
type Executor struct {
	db      TxBeginner
	timeout time.Duration
	logger  log.Logger
}

// New creates an Executor. timeout bounds each statement server-side;
// zero or negative values fall back to 30 seconds.
func New(db TxBeginner, timeout time.Duration, logger log.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{db: db, timeout: timeout, logger: logger}
}

// Execute runs sanitized, validated SQL inside a read-only transaction and
// converts each row into a column name to value map. Store failures are
// converted into a failed Result, never propagated.
func (e *Executor) Execute(ctx context.Context, sql string) Result {
	start := time.Now()

	fail := func(err error) Result {
		e.logger.Error("query execution failed", "error", err)
		return Result{
			Data:          []map[string]any{},
			ExecutionTime: time.Since(start).Seconds(),
			ErrorMessage:  fmt.Sprintf("database error: %v", err),
		}
	}

	// Client-side deadline backing the server-side timeout, so a hung
	// connection cannot outlive the budget. The grace period lets the
	// statement_timeout fire first.
	ctx, cancel := context.WithTimeout(ctx, e.timeout+5*time.Second)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fail(fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Push the timeout down to the server so a runaway query is killed
	// there, not just abandoned here.
	timeoutMs := e.timeout.Milliseconds()
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeoutMs)); err != nil {
		return fail(fmt.Errorf("setting statement timeout: %w", err))
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return fail(fmt.Errorf("executing query: %w", err))
	}
	defer rows.Close()

	columns := make([]string, 0, len(rows.FieldDescriptions()))
	for _, fd := range rows.FieldDescriptions() {
		columns = append(columns, fd.Name)
	}

	data := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return fail(fmt.Errorf("reading row: %w", err))
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(values) {
				row[col] = normalizeValue(values[i])
			}
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return fail(fmt.Errorf("iterating rows: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("committing transaction: %w", err))
	}

	elapsed := time.Since(start)
	e.logger.Debug("query executed", "rows", len(data), "elapsed", elapsed)

	return Result{
		Success:       true,
		Data:          data,
		RowCount:      len(data),
		ExecutionTime: elapsed.Seconds(),
		ColumnNames:   columns,
	}
}

// normalizeValue converts database values to transport-friendly forms:
// timestamps become RFC 3339 strings, primitives pass through, anything
// else is stringified.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339)
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}
