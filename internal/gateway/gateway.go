// Package gateway implements the LLM Gateway (spec §4.1): the single
// choke-point for every model call the core makes. It enforces the
// JSON-shape/closed-set contract on model output and owns the
// retry-once-then-ModelContractError policy so no other component has
// to reimplement it.
package gateway

import (
	"context"

	"github.com/cityhall/hybridqa/internal/chunk"
	"github.com/cityhall/hybridqa/internal/routing"
	"github.com/cityhall/hybridqa/internal/reuseverdict"
	"github.com/cityhall/hybridqa/internal/tabular"
	"github.com/cityhall/hybridqa/internal/turn"
)

// Digest is the compact prior-turn summary the Reuse Judge hands to
// plan_reuse — the fields named in spec §4.5 plus SampleValue (the
// Gateway never sees the full cached payload, only this projection).
type Digest struct {
	LastMode      routing.Plan
	Tables        []string
	Sources       []string
	RowCount      int
	ChunkCount    int
	AnswerSummary string
	// SampleValue is a loosely-coerced string preview of the first
	// cell of the last structured result, if any. Driver-returned
	// tabular.Row values vary in concrete type (int64, float64,
	// []byte, string) depending on the column's underlying SQL type;
	// SampleValue exists so plan_reuse gets a human-readable preview
	// regardless of which one came back.
	SampleValue string
}

// TableSchema is the subset of collaborators.TableInfo the Gateway needs
// to draft a query: name, columns, and description. Defined here rather
// than imported to keep this package a leaf the schema collaborator can
// sit behind without a dependency in either direction.
type TableSchema struct {
	Name        string
	Columns     []string
	Description string
}

// Gateway is the contract every named operation in spec §4.1 implements,
// plus DraftSQLQuery: §4.2(b) requires the Structured Retriever to "ask
// the LLM Gateway to draft a single read-only query" against the
// schema, a model call spec §4.1's enumeration omits despite counting
// "four" operations while listing five (plan_reuse, classify_mode,
// draft_sql_answer, draft_rag_answer, merge_answers already account for
// five; none of them takes a schema and returns a query). DraftSQLQuery
// closes that gap — see DESIGN.md. Every method is a pure function of
// its prompt inputs: no operation reads or writes session state.
type Gateway interface {
	// PlanReuse judges whether question is a follow-up answerable from
	// digest. Temperature must be in [0.0, 0.3].
	PlanReuse(ctx context.Context, question string, history []turn.Turn, digest Digest) (reuseverdict.Verdict, error)

	// DraftSQLQuery drafts a single read-only query text against the
	// given schema. The Structured Retriever is responsible for
	// rejecting non-read-only output before execution (spec §4.2).
	DraftSQLQuery(ctx context.Context, question string, schema []TableSchema) (string, error)

	// ClassifyMode returns exactly one of the four closed-set Routing
	// Plan tokens.
	ClassifyMode(ctx context.Context, question string, history []turn.Turn) (routing.Plan, error)

	// DraftSQLAnswer composes an answer fragment grounded in the rows
	// and tables a structured-retrieval query returned.
	DraftSQLAnswer(ctx context.Context, question string, result *tabular.Result) (string, error)

	// DraftRAGAnswer composes an answer fragment grounded in the
	// document chunks an unstructured-retrieval search returned.
	DraftRAGAnswer(ctx context.Context, question string, chunks []chunk.Chunk) (string, error)

	// MergeAnswers combines a structured and an unstructured fragment
	// into one paragraph. The merge prompt receives both fragments and
	// is responsible for ordering — the operation itself is commutative
	// on its two text inputs (spec §5).
	MergeAnswers(ctx context.Context, question, sqlFragment, ragFragment string) (string, error)
}
