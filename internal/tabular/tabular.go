// Package tabular holds the shapes produced by structured retrieval: the
// column/row payload a read-only query execution returns, shared by the
// Database Executor collaborator, the Structured Retriever, and the LLM
// Gateway's draft_sql_answer operation.
package tabular

import "fmt"

// Column describes one column of a query result.
type Column struct {
	Name string
	Type string // database-reported type, diagnostic only
}

// Row is one tuple of values, ordered to match Columns.
type Row []any

// Result is the executor's raw answer to a read-only query.
type Result struct {
	Columns   []Column
	Rows      []Row
	Tables    []string // tables actually referenced, per the executor — ground truth for citations
	Truncated bool
}

// Validate enforces the Structured Result invariant that |columns|
// equals the arity of every row, and that Tables is non-empty whenever
// rows were returned.
func (r *Result) Validate() error {
	for i, row := range r.Rows {
		if len(row) != len(r.Columns) {
			return fmt.Errorf("tabular: row %d has %d values, want %d columns", i, len(row), len(r.Columns))
		}
	}
	if len(r.Rows) > 0 && len(r.Tables) == 0 {
		return fmt.Errorf("tabular: result has %d rows but no tables recorded", len(r.Rows))
	}
	return nil
}
