// Package structured implements the Structured Retriever (spec §4.2):
// schema lookup, query drafting via the LLM Gateway, read-only
// execution, and grounded answer composition.
package structured

import (
	"strings"

	"github.com/cityhall/hybridqa/internal/tabular"
)

// Result is the Structured Result value (spec §3). Invariants:
// len(Columns) equals the arity of every Row; Tables is non-empty
// whenever len(Rows) > 0.
type Result struct {
	Columns        []tabular.Column
	Rows           []tabular.Row
	Tables         []string
	AnswerFragment string
	SQLText        string // diagnostic only, never shown to the end user
}

// FailureKind enumerates the Structured Retriever's failure taxonomy
// (spec §4.2).
type FailureKind string

const (
	SchemaMiss      FailureKind = "schema_miss"
	DraftInvalid    FailureKind = "draft_invalid"
	ExecutorError   FailureKind = "executor_error"
	NonReadOnlyQuery FailureKind = "non_read_only_query"
)

// Failure is StructuredFailure — a typed retrieval failure the
// Execution Pipeline recovers from per spec §4.7/§7 rather than
// treating as a caller-visible internal error (with the exception of
// NonReadOnlyQuery, which spec §7 treats as a bug to surface and log).
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return string(f.Kind) + ": " + f.Err.Error()
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// forbiddenKeywords catches drafted statements that are not read-only.
// This is a defense-in-depth check: the Database Executor is also
// required to refuse non-read-only statements (spec §6), but rejecting
// here avoids ever handing a mutating statement to the executor.
var forbiddenKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "truncate", "create",
	"grant", "revoke", "merge", "replace", "call", "exec", "execute",
}

// isReadOnly reports whether query looks like one or more read-only
// statements: the overall text must begin with SELECT or WITH, and no
// individual statement (split on ';') may lead with a data- or
// schema-mutating verb. The check only looks at each statement's
// leading verb rather than scanning the whole body, so a mutating
// keyword used as a function or column name inside a SELECT (e.g.
// REPLACE(name, 'a', 'b')) is never misclassified as a write.
func isReadOnly(query string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(query))
	if trimmed == "" {
		return false
	}
	if !strings.HasPrefix(trimmed, "select") && !strings.HasPrefix(trimmed, "with") {
		return false
	}
	for _, stmt := range strings.Split(trimmed, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		verb := leadingWord(stmt)
		for _, kw := range forbiddenKeywords {
			if verb == kw {
				return false
			}
		}
	}
	return true
}

func leadingWord(stmt string) string {
	i := 0
	for i < len(stmt) && isIdentChar(stmt[i]) {
		i++
	}
	return stmt[:i]
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
