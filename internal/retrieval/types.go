package retrieval

// Query is a single request against the partitioned retrieval service.
type Query struct {
	Query     string          `json:"query"`
	Partition string          `json:"partition"`
	TopK      int             `json:"top_k"`
	Filter    *MetadataFilter `json:"metadata_filter,omitempty"`
}

// MetadataFilter restricts results to documents whose internal name is
// in the given set. The wire shape matches the service's filter DSL.
type MetadataFilter struct {
	DocumentInternalName InFilter `json:"documentInternalName"`
}

// InFilter is a set-membership predicate.
type InFilter struct {
	In []string `json:"$in"`
}

// FilterByInternalNames builds a metadata filter over document internal
// names. Returns nil for an empty set so callers can pass hints through
// unconditionally.
func FilterByInternalNames(names []string) *MetadataFilter {
	if len(names) == 0 {
		return nil
	}
	return &MetadataFilter{DocumentInternalName: InFilter{In: names}}
}

// ScoredChunk is one retrieved evidence snippet. SourceLabel carries the
// human-readable document type the chunk came from.
type ScoredChunk struct {
	SourceLabel string
	Text        string
	Score       float64
}

// Document is a payload to index into a partition.
type Document struct {
	Partition string            `json:"partition"`
	Name      string            `json:"name"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
