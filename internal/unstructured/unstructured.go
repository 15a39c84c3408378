// Package unstructured implements the Unstructured Retriever (spec
// §4.3): semantic search against the vector index, score-threshold
// filtering, and grounded answer composition.
package unstructured

import (
	"context"
	"fmt"

	"github.com/cityhall/hybridqa/internal/chunk"
	"github.com/cityhall/hybridqa/internal/collaborators"
	"github.com/cityhall/hybridqa/internal/gateway"
)

// DefaultTopK and MaxTopK are k_default and k_max (spec §6).
const (
	DefaultTopK = 5
	MaxTopK     = 10
	// DefaultMaxDistance is max_distance (spec §6): chunks with a
	// similarity distance above this are dropped before composition.
	DefaultMaxDistance = 0.9
)

// EmptyChunksAnswer is the literal fragment returned when zero chunks
// survive the score threshold (spec §4.3 empty-result policy).
const EmptyChunksAnswer = "No relevant documents found."

// Result is the Unstructured Result value (spec §3). Chunks are ordered
// by descending relevance and len(Chunks) <= k_max.
type Result struct {
	Chunks         []chunk.Chunk
	AnswerFragment string
}

// FailureKind enumerates the Unstructured Retriever's failure taxonomy.
type FailureKind string

const (
	IndexUnavailable FailureKind = "index_unavailable"
	// EmbeddingFailure is reserved for a VectorIndex implementation that
	// distinguishes embedding-model errors from index-connectivity
	// errors; this retriever treats any Search error as IndexUnavailable
	// since the collaborators.VectorIndex contract does not expose the
	// distinction.
	EmbeddingFailure FailureKind = "embedding_failure"
)

// Failure is UnstructuredFailure.
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

// Retriever is the Unstructured Retriever contract: retrieve_unstructured(question, k?).
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) (*Result, error)
}

// DefaultRetriever is the VectorIndex- and Gateway-backed implementation.
type DefaultRetriever struct {
	Gateway     gateway.Gateway
	Index       collaborators.VectorIndex
	MaxDistance float64
}

var _ Retriever = (*DefaultRetriever)(nil)

func (r *DefaultRetriever) maxDistance() float64 {
	if r.MaxDistance > 0 {
		return r.MaxDistance
	}
	return DefaultMaxDistance
}

// clampTopK applies the k>k_max silent-clamp boundary behavior (spec §8)
// and the k<=0 default.
func clampTopK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

func (r *DefaultRetriever) Retrieve(ctx context.Context, question string, k int) (*Result, error) {
	topK := clampTopK(k)

	chunks, err := r.Index.Search(ctx, question, topK)
	if err != nil {
		return nil, &Failure{Kind: IndexUnavailable, Err: fmt.Errorf("vector search failed: %w", err)}
	}

	survivors := make([]chunk.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Distance <= r.maxDistance() {
			survivors = append(survivors, c)
		}
	}
	if len(survivors) > topK {
		survivors = survivors[:topK]
	}

	result := &Result{Chunks: survivors}
	if len(survivors) == 0 {
		result.AnswerFragment = EmptyChunksAnswer
		return result, nil
	}

	// DraftRAGAnswer's error, if any, is a raw *gateway.ContractError: it
	// propagates unwrapped so the Execution Pipeline applies the
	// ModelContractError policy (spec §7) rather than this retriever's
	// own collaborator-failure taxonomy.
	fragment, err := r.Gateway.DraftRAGAnswer(ctx, question, survivors)
	if err != nil {
		return nil, err
	}
	result.AnswerFragment = fragment

	return result, nil
}
