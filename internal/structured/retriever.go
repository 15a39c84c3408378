package structured

import (
	"context"
	"fmt"
	"strings"

	"github.com/cityhall/hybridqa/internal/collaborators"
	"github.com/cityhall/hybridqa/internal/gateway"
	"github.com/cityhall/hybridqa/internal/turn"
)

// DefaultRowLimit is row_limit's default (spec §6).
const DefaultRowLimit = 500

// ZeroRowAnswer is the literal fragment returned when a query executes
// but returns no rows (spec §4.2 zero-row policy).
const ZeroRowAnswer = "No matching records found."

// Retriever is the Structured Retriever contract (spec §4.2):
// retrieve_structured(question, recent_turns) → Structured Result | StructuredFailure.
type Retriever interface {
	Retrieve(ctx context.Context, question string, recentTurns []turn.Turn) (*Result, error)
}

// DefaultRetriever is the Gateway-backed, schema- and executor-driven
// implementation.
type DefaultRetriever struct {
	Gateway  gateway.Gateway
	Schema   collaborators.SchemaMetadata
	Executor collaborators.DatabaseExecutor
	RowLimit int
}

var _ Retriever = (*DefaultRetriever)(nil)

func (r *DefaultRetriever) rowLimit() int {
	if r.RowLimit > 0 {
		return r.RowLimit
	}
	return DefaultRowLimit
}

func (r *DefaultRetriever) Retrieve(ctx context.Context, question string, recentTurns []turn.Turn) (*Result, error) {
	hints, err := r.Schema.KeywordHint(ctx, question)
	if err != nil {
		return nil, newFailure(SchemaMiss, fmt.Errorf("keyword hint lookup failed: %w", err))
	}
	if len(hints) == 0 {
		return nil, newFailure(SchemaMiss, nil)
	}

	tables, err := r.Schema.ListTables(ctx)
	if err != nil {
		return nil, newFailure(SchemaMiss, fmt.Errorf("schema listing failed: %w", err))
	}
	schema := toGatewaySchema(tables, hints)
	if len(schema) == 0 {
		return nil, newFailure(SchemaMiss, nil)
	}

	queryText, err := r.Gateway.DraftSQLQuery(ctx, question, schema)
	if err != nil {
		return nil, newFailure(DraftInvalid, err)
	}
	if !isReadOnly(queryText) {
		return nil, newFailure(NonReadOnlyQuery, fmt.Errorf("drafted statement is not read-only: %q", queryText))
	}

	execResult, err := r.Executor.ExecuteReadOnly(ctx, queryText, r.rowLimit())
	if err != nil {
		return nil, newFailure(ExecutorError, err)
	}
	if err := execResult.Validate(); err != nil {
		return nil, newFailure(ExecutorError, err)
	}

	result := &Result{
		Columns: execResult.Columns,
		Rows:    execResult.Rows,
		Tables:  execResult.Tables,
		SQLText: queryText,
	}

	if len(result.Rows) == 0 {
		result.AnswerFragment = ZeroRowAnswer
		return result, nil
	}

	// DraftSQLAnswer's error, if any, is a raw *gateway.ContractError: it
	// propagates unwrapped so the Execution Pipeline applies the
	// ModelContractError policy (spec §7) instead of this retriever's own
	// collaborator-failure taxonomy, which DraftInvalid is reserved for
	// query-drafting failures only (spec §4.2).
	fragment, err := r.Gateway.DraftSQLAnswer(ctx, question, execResult)
	if err != nil {
		return nil, err
	}
	if execResult.Truncated && !strings.Contains(strings.ToLower(fragment), "truncat") {
		fragment += " (Results were truncated.)"
	}
	result.AnswerFragment = fragment

	return result, nil
}

func toGatewaySchema(tables []collaborators.TableInfo, hints []string) []gateway.TableSchema {
	allowed := make(map[string]bool, len(hints))
	for _, h := range hints {
		allowed[strings.ToLower(h)] = true
	}

	schema := make([]gateway.TableSchema, 0, len(tables))
	for _, t := range tables {
		if len(allowed) > 0 && !allowed[strings.ToLower(t.Name)] {
			continue
		}
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, c.Name)
		}
		schema = append(schema, gateway.TableSchema{
			Name:        t.Name,
			Columns:     cols,
			Description: t.Description,
		})
	}

	// Keyword hints named tables the schema listing doesn't know about:
	// fall back to the full table list rather than drafting against
	// nothing.
	if len(schema) == 0 {
		for _, t := range tables {
			cols := make([]string, 0, len(t.Columns))
			for _, c := range t.Columns {
				cols = append(cols, c.Name)
			}
			schema = append(schema, gateway.TableSchema{Name: t.Name, Columns: cols, Description: t.Description})
		}
	}

	return schema
}
