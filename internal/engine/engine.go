// Package engine executes generated SQL against the warehouse through
// database/sql. Validation is a dry run via EXPLAIN; execution caps the
// rows returned.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

// Result holds the outcome of one query execution.
type Result struct {
	Rows           []map[string]any `json:"rows"`
	RowCount       int64            `json:"row_count"`
	BytesProcessed int64            `json:"bytes_processed"`
	Duration       time.Duration    `json:"-"`
}

// Executor validates and runs SQL. The orchestrator only depends on
// this interface so tests can swap in a fake warehouse.
type Executor interface {
	Validate(ctx context.Context, sqlText string) error
	Execute(ctx context.Context, sqlText string) (*Result, error)
}

// Engine is the database/sql-backed executor.
type Engine struct {
	db       *sql.DB
	maxRows  int
	timeout  time.Duration
	readOnly bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRows caps the rows fetched from a result set.
func WithMaxRows(n int) Option {
	return func(e *Engine) { e.maxRows = n }
}

// WithTimeout bounds the time one query may run.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithReadOnly rejects statements that are not SELECT or WITH.
func WithReadOnly(ro bool) Option {
	return func(e *Engine) { e.readOnly = ro }
}

// New builds an executor over an open connection.
func New(db *sql.DB, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		maxRows:  1000,
		timeout:  5 * time.Minute,
		readOnly: true,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Validate dry-runs the statement with EXPLAIN. It catches unknown
// tables and columns and syntax errors without touching data.
func (e *Engine) Validate(ctx context.Context, sqlText string) error {
	if err := e.checkReadOnly(sqlText); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return fmt.Errorf("query validation failed: %w", err)
	}
	return rows.Close()
}

// Execute runs the statement and materializes up to maxRows rows.
func (e *Engine) Execute(ctx context.Context, sqlText string) (*Result, error) {
	if err := e.checkReadOnly(sqlText); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	res := &Result{}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[c] = v
			res.BytesProcessed += int64(len(fmt.Sprint(v)))
		}
		res.RowCount++
		if len(res.Rows) < e.maxRows {
			res.Rows = append(res.Rows, row)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	res.Duration = time.Since(start)
	log.Printf("[Engine] Query returned %d row(s) in %s", res.RowCount, res.Duration.Round(time.Millisecond))
	return res, nil
}

func (e *Engine) checkReadOnly(sqlText string) error {
	if !e.readOnly {
		return nil
	}
	head := strings.ToUpper(strings.TrimSpace(sqlText))
	if strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH") || strings.HasPrefix(head, "EXPLAIN") {
		return nil
	}
	return fmt.Errorf("only read-only queries are allowed")
}
