package backend

import (
	"encoding/json"
)

// SearchResponse is a search result in the typeless (v7) shape regardless of
// the dialect the engine speaks. Raw holds the whole normalized body so fields
// not modelled here (suggest, profile, ...) reach callers unchanged.
type SearchResponse struct {
	Took     int             `json:"took"`
	TimedOut bool            `json:"timed_out"`
	Shards   json.RawMessage `json:"_shards,omitempty"`
	Hits     HitsResult      `json:"hits"`
	// Aggregations are kept as raw JSON for pass-through.
	Aggregations json.RawMessage `json:"aggregations,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// HitsResult contains the search hits.
type HitsResult struct {
	Total    HitsTotal         `json:"total"`
	MaxScore *float64          `json:"max_score"`
	Hits     []json.RawMessage `json:"hits"`
}

// HitsTotal represents the total hit count.
type HitsTotal struct {
	Value    int    `json:"value"`
	Relation string `json:"relation"`
}

// GetResult is a single document fetched by id.
type GetResult struct {
	Index       string          `json:"_index"`
	ID          string          `json:"_id"`
	Found       bool            `json:"found"`
	SeqNo       *int64          `json:"_seq_no,omitempty"`
	PrimaryTerm *int64          `json:"_primary_term,omitempty"`
	Source      json.RawMessage `json:"_source"`
}

// IndexAliases maps a concrete index name to the aliases bound to it.
// Indices without aliases are present with an empty set.
type IndexAliases map[string][]string

// AliasActionType is the verb of an alias action.
type AliasActionType string

const (
	AliasAdd    AliasActionType = "add"
	AliasRemove AliasActionType = "remove"
)

// AliasAction is one entry of an atomic _aliases request.
type AliasAction struct {
	Type  AliasActionType
	Index string
	Alias string
}

// MarshalJSON renders the action the way the _aliases endpoint expects:
// {"add": {"index": "...", "alias": "..."}}.
func (a AliasAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[AliasActionType]map[string]string{
		a.Type: {"index": a.Index, "alias": a.Alias},
	})
}

// Bulk operation types.
const (
	OpIndex  = "index"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// BulkAction is one document operation submitted through BulkLoad.
// Source is serialized lazily, when the action enters a chunk.
type BulkAction struct {
	OpType string
	Index  string
	ID     string
	Source any
}

// BulkOptions controls chunking and failure handling of BulkLoad.
type BulkOptions struct {
	// ChunkSize is the maximum number of actions per _bulk request.
	ChunkSize int
	// MaxChunkBytes caps the NDJSON payload of a single request.
	MaxChunkBytes int
	// StatsOnly counts failing actions instead of aborting on the first one.
	StatsOnly bool
	// Refresh is passed through to the _bulk request ("", "true", "wait_for").
	Refresh string
	// OnChunk, if set, is called after every flushed chunk.
	OnChunk func(ChunkStats)
}

const (
	DefaultChunkSize     = 500
	DefaultMaxChunkBytes = 100 * 1024 * 1024

	maxReportedItems = 20
)

// ChunkStats reports the outcome of a single _bulk request.
type ChunkStats struct {
	Actions   int
	Bytes     int
	Succeeded int
	Failed    int
}

// BulkStats summarises a BulkLoad call.
type BulkStats struct {
	Succeeded int
	Failed    int
	Chunks    int
	// Errors holds the first failures, capped to keep memory bounded.
	Errors []BulkItemError
}

// PutOptions controls single document writes.
type PutOptions struct {
	OpType  string
	Refresh string
}

// DeleteOptions controls single document deletes.
type DeleteOptions struct {
	IfSeqNo       *int64
	IfPrimaryTerm *int64
	Refresh       string
}
