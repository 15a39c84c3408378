// Package chunk holds the shape produced by unstructured retrieval: a
// document fragment plus its metadata, shared by the Vector Index
// collaborator, the Unstructured Retriever, and the LLM Gateway's
// draft_rag_answer operation.
package chunk

// Recognised metadata keys (spec §3).
const (
	MetaSource  = "source"
	MetaDocType = "doc_type"
)

// Chunk is one semantically-retrieved fragment with its similarity
// distance (lower is more similar) and free-form metadata.
type Chunk struct {
	Text     string
	Metadata map[string]any
	Distance float64
}

// Source returns the chunk's source metadata, normalised to "Unknown"
// when absent, per the Unstructured Retriever's metadata-normalisation
// policy (spec §4.3).
func (c Chunk) Source() string {
	if v, ok := c.Metadata[MetaSource].(string); ok && v != "" {
		return v
	}
	return "Unknown"
}

// DocType returns the chunk's doc_type metadata, or "" when absent —
// missing doc_type is omitted entirely rather than defaulted.
func (c Chunk) DocType() string {
	v, _ := c.Metadata[MetaDocType].(string)
	return v
}
