// Package citation implements the Source Citation tagged type (spec §3)
// and the ordering/dedup rule the Execution Pipeline applies when
// assembling a reply: structured citations first in table-consulted
// order, then unstructured in chunk order, duplicates suppressed by
// identity while preserving first occurrence.
package citation

import "github.com/samber/lo"

// Kind discriminates the two Source Citation variants.
type Kind string

const (
	KindSQL Kind = "sql"
	KindRAG Kind = "rag"
)

// Citation is a tagged value: SqlSource{table} or RagSource{source, doc_type?}.
// Only the fields relevant to Kind are populated; the core never fabricates
// a citation for the other kind's fields.
type Citation struct {
	Kind    Kind
	Table   string
	Source  string
	DocType string // empty means "not recognised" per the Unstructured Result contract
}

// SQL constructs a SqlSource citation for the given table identifier.
func SQL(table string) Citation {
	return Citation{Kind: KindSQL, Table: table}
}

// RAG constructs a RagSource citation. An empty source is normalised to
// "Unknown" so downstream citations are never blank, mirroring the
// Unstructured Retriever's metadata-normalisation policy (spec §4.3).
func RAG(source, docType string) Citation {
	if source == "" {
		source = "Unknown"
	}
	return Citation{Kind: KindRAG, Source: source, DocType: docType}
}

// identity is the key duplicates are suppressed on: same table for sql
// citations, same (source, doc_type) pair for rag citations.
func (c Citation) identity() Citation {
	return Citation{Kind: c.Kind, Table: c.Table, Source: c.Source, DocType: c.DocType}
}

// Dedup removes duplicate citations, preserving the order and first
// occurrence of the input slice. Callers are responsible for ordering
// structured citations before unstructured ones before calling Dedup
// (spec §3's citation order is a property of construction order, not of
// this function).
func Dedup(citations []Citation) []Citation {
	return lo.UniqBy(citations, Citation.identity)
}
