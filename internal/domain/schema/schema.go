// Package schema describes the chunk document schema as data: field kinds,
// per-field indexing modes, and vector index tuning. The store and both
// indexes consume a Schema at initialization; no field handling is hardcoded.
package schema

import "fmt"

// FieldKind is the value kind of a schema field.
type FieldKind string

// Field kind constants.
const (
	// String is an exact-match string field.
	String FieldKind = "string"
	// Text is a tokenized full-text field scored with BM25.
	Text FieldKind = "text"
	// Tensor is a fixed-dimension float vector field.
	Tensor FieldKind = "tensor"
	// Timestamp is a string-encoded RFC3339 timestamp field.
	Timestamp FieldKind = "timestamp"
)

// Mode is a bit set of indexing directives for a field.
type Mode uint8

// Indexing mode bits.
const (
	// ModeIndex makes the field searchable.
	ModeIndex Mode = 1 << iota
	// ModeAttribute stores the field for fast random access.
	ModeAttribute
	// ModeSummary returns the field in query results without touching indexes.
	ModeSummary
	// ModePaged allows the attribute to be evicted from memory and reloaded.
	ModePaged
)

// Has reports whether all bits of m are set.
func (m Mode) Has(mode Mode) bool { return m&mode == mode }

// Field describes one schema field and its indexing directives.
type Field struct {
	Name string
	Kind FieldKind
	Mode Mode
}

// VectorParams holds the tensor field's index tuning.
type VectorParams struct {
	// Dims is the required embedding dimensionality.
	Dims int
	// MaxLinksPerNode bounds bidirectional links per HNSW node per layer.
	MaxLinksPerNode int
	// NeighborsToExploreAtInsert is the candidate list size during insertion.
	// Higher values raise both recall and insert cost.
	NeighborsToExploreAtInsert int
}

// Schema is the document schema descriptor for one chunk type.
type Schema struct {
	Name        string
	Fields      []Field
	Vector      VectorParams
	RankProfile string
}

// DefaultChunkSchema returns the chunk schema: id/resource/metadata as
// attributes, chunk_text indexed for BM25, a 3072-dim paged tensor for
// angular nearest-neighbor search, every field summarized.
func DefaultChunkSchema() Schema {
	return Schema{
		Name: "chunks",
		Fields: []Field{
			{Name: "chunk_id", Kind: String, Mode: ModeIndex | ModeAttribute | ModeSummary},
			{Name: "resource_id", Kind: String, Mode: ModeIndex | ModeAttribute | ModeSummary},
			{Name: "chunk_text", Kind: Text, Mode: ModeIndex | ModeSummary},
			{Name: "embedding", Kind: Tensor, Mode: ModeIndex | ModeAttribute | ModePaged},
			{Name: "created_at", Kind: Timestamp, Mode: ModeIndex | ModeAttribute | ModeSummary},
			{Name: "updated_at", Kind: Timestamp, Mode: ModeIndex | ModeAttribute | ModeSummary},
			{Name: "metadata", Kind: String, Mode: ModeIndex | ModeAttribute | ModeSummary},
		},
		Vector: VectorParams{
			Dims:                       3072,
			MaxLinksPerNode:            16,
			NeighborsToExploreAtInsert: 200,
		},
		RankProfile: "closeness",
	}
}

// Validate checks the schema for internal consistency.
func (s Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q has no fields", s.Name)
	}
	seen := make(map[string]bool, len(s.Fields))
	tensors := 0
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %q has a field with no name", s.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case String, Text, Tensor, Timestamp:
		default:
			return fmt.Errorf("field %q has invalid kind %q", f.Name, f.Kind)
		}
		if f.Kind == Tensor {
			tensors++
		}
	}
	if tensors > 1 {
		return fmt.Errorf("schema %q declares %d tensor fields, at most one is supported", s.Name, tensors)
	}
	if tensors == 1 {
		if s.Vector.Dims <= 0 {
			return fmt.Errorf("vector dimension must be positive")
		}
		if s.Vector.MaxLinksPerNode <= 0 {
			return fmt.Errorf("max-links-per-node must be positive")
		}
		if s.Vector.NeighborsToExploreAtInsert <= 0 {
			return fmt.Errorf("neighbors-to-explore-at-insert must be positive")
		}
	}
	return nil
}

// FieldByName returns the field descriptor for name.
func (s Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SummaryFields returns the names of all fields carried in result summaries.
func (s Schema) SummaryFields() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Mode.Has(ModeSummary) {
			out = append(out, f.Name)
		}
	}
	return out
}

// TextField returns the name of the BM25-indexed text field, if any.
func (s Schema) TextField() (string, bool) {
	for _, f := range s.Fields {
		if f.Kind == Text && f.Mode.Has(ModeIndex) {
			return f.Name, true
		}
	}
	return "", false
}

// TensorField returns the name of the vector field, if any.
func (s Schema) TensorField() (string, bool) {
	for _, f := range s.Fields {
		if f.Kind == Tensor && f.Mode.Has(ModeIndex) {
			return f.Name, true
		}
	}
	return "", false
}
