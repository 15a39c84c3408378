// Package collaborators defines the Go interfaces for the four outbound
// collaborators the core consumes (spec §6): Schema Metadata, Database
// Executor, Vector Index, and the optional Interaction Log sink. These
// are presented as interfaces precisely so the Execution Pipeline can be
// tested with stubs, per the spec's "LLM as oracle vs controller" and
// "global mutable state" design notes (§9) generalised to every
// collaborator, not just the LLM.
package collaborators

import (
	"context"

	"github.com/cityhall/hybridqa/internal/chunk"
	"github.com/cityhall/hybridqa/internal/tabular"
)

// TableInfo describes one table the Structured Retriever may query.
type TableInfo struct {
	Name        string
	Columns     []tabular.Column
	Description string
}

// SchemaMetadata is read-only, cacheable schema information about the
// relational store (spec §6).
type SchemaMetadata interface {
	// ListTables returns every table with column descriptions.
	ListTables(ctx context.Context) ([]TableInfo, error)

	// KeywordHint returns candidate table names for a question, used by
	// the Execution Pipeline's Unstructured→Hybrid promotion policy
	// (spec §4.7) to decide whether a question "mentions identifiers
	// consistent with structured data".
	KeywordHint(ctx context.Context, question string) ([]string, error)
}

// DatabaseExecutor runs a drafted query against the relational store.
// Implementations MUST refuse non-read-only statements and MUST be
// parameter-safe (spec §6).
type DatabaseExecutor interface {
	// ExecuteReadOnly executes query against the store, returning at
	// most rowLimit rows. Tables is the ground truth for citation
	// attribution (spec §9) — never inferred from the query text.
	ExecuteReadOnly(ctx context.Context, query string, rowLimit int) (*tabular.Result, error)
}

// VectorIndex is the semantic-similarity search collaborator (spec §6).
type VectorIndex interface {
	// Search returns the top-k chunks most similar to questionText,
	// ordered by descending relevance (ascending distance).
	Search(ctx context.Context, questionText string, k int) ([]chunk.Chunk, error)
}

// InteractionLog is a fire-and-forget sink; failures here must never
// affect the reply (spec §6).
type InteractionLog interface {
	Record(ctx context.Context, summary string)
}

// NopInteractionLog discards everything. Used when no sink is wired.
type NopInteractionLog struct{}

func (NopInteractionLog) Record(context.Context, string) {}
