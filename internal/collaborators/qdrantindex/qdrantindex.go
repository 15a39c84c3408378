// Package qdrantindex adapts a Qdrant collection to the collaborators.VectorIndex
// contract, grounded on the retrieved pack's ai/providers/vectorstores/qdrant
// store adapter: query embedding and payload-to-metadata conversion follow
// the same shape, while the similarity score is reported as a distance
// (1 - score).
package qdrantindex

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/cityhall/hybridqa/internal/chunk"
)

// Embedder turns question text into a query vector. The core never
// computes embeddings itself; it delegates to whatever embedding model
// backs the index, matching spec §1's "the core does not index
// documents" non-goal.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is a collaborators.VectorIndex backed by a Qdrant collection.
type Index struct {
	client         *qdrant.Client
	collectionName string
	embedder       Embedder
}

// New constructs an Index over collectionName using client for queries
// and embedder to vectorize question text.
func New(client *qdrant.Client, collectionName string, embedder Embedder) (*Index, error) {
	if client == nil {
		return nil, fmt.Errorf("qdrantindex: client is required")
	}
	if collectionName == "" {
		return nil, fmt.Errorf("qdrantindex: collection name is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("qdrantindex: embedder is required")
	}
	return &Index{client: client, collectionName: collectionName, embedder: embedder}, nil
}

// Search implements collaborators.VectorIndex.
func (idx *Index) Search(ctx context.Context, questionText string, k int) ([]chunk.Chunk, error) {
	vector, err := idx.embedder.Embed(ctx, questionText)
	if err != nil {
		return nil, fmt.Errorf("qdrantindex: failed to embed question: %w", err)
	}

	limit := uint64(k)
	points, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrantindex: query against collection %s failed: %w", idx.collectionName, err)
	}

	chunks := make([]chunk.Chunk, 0, len(points))
	for _, p := range points {
		meta := make(map[string]any)
		var text string
		for key, value := range p.GetPayload() {
			if key == "text" {
				text = value.GetStringValue()
				continue
			}
			meta[key] = qdrantValueToAny(value)
		}

		// Qdrant scores are similarity (higher is better); the spec's
		// chunk distance is lower-is-more-similar, so invert.
		chunks = append(chunks, chunk.Chunk{
			Text:     text,
			Metadata: meta,
			Distance: 1 - float64(p.GetScore()),
		})
	}

	return chunks, nil
}

func qdrantValueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}
