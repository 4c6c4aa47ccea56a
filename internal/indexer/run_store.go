package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/leonunix/portalindex/internal/backend"
)

// DefaultRunIndex holds one document per rebuild.
const DefaultRunIndex = ".portalindex-runs"

const runIndexSettings = `{"settings":{"number_of_shards":1,"number_of_replicas":1}}`

// The mapping goes through PutMapping, which is dialect-aware; a typeless
// mappings block in the create call would be rejected by v6 engines.
const runIndexMapping = `{
  "properties": {
    "@timestamp":        { "type": "date" },
    "run_id":            { "type": "keyword" },
    "collection":        { "type": "keyword" },
    "alias":             { "type": "keyword" },
    "index":             { "type": "keyword" },
    "started_at":        { "type": "date" },
    "completed_at":      { "type": "date" },
    "duration_sec":      { "type": "float" },
    "documents_indexed": { "type": "long" },
    "documents_failed":  { "type": "long" },
    "docs_per_sec":      { "type": "float" },
    "removed_indices":   { "type": "keyword" },
    "deleted_indices":   { "type": "keyword" },
    "status":            { "type": "keyword" },
    "error":             { "type": "text" }
  }
}`

// DocumentWriter is the subset of backend.Client the run store needs.
type DocumentWriter interface {
	PutDocument(ctx context.Context, index, id string, body []byte, opts backend.PutOptions) error
	CreateIndex(ctx context.Context, index string, body []byte) error
	PutMapping(ctx context.Context, index string, mapping []byte) error
}

// ElasticRunStore records rebuild runs into a search engine index.
type ElasticRunStore struct {
	docs  DocumentWriter
	index string
}

// NewElasticRunStore creates a run store. An empty index selects
// DefaultRunIndex.
func NewElasticRunStore(docs DocumentWriter, index string) *ElasticRunStore {
	if index == "" {
		index = DefaultRunIndex
	}
	return &ElasticRunStore{docs: docs, index: index}
}

// Record writes rec. If the index does not exist (auto_create_index
// disabled), it is created with its mapping and the write retried.
func (s *ElasticRunStore) Record(ctx context.Context, rec *RunRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}
	id := runDocID(rec)
	err = s.docs.PutDocument(ctx, s.index, id, body, backend.PutOptions{})
	if errors.Is(err, backend.ErrNotFound) {
		if createErr := s.ensureIndex(ctx); createErr != nil {
			return fmt.Errorf("creating run index: %w", createErr)
		}
		err = s.docs.PutDocument(ctx, s.index, id, body, backend.PutOptions{})
	}
	if err != nil {
		return fmt.Errorf("put run record %s: %w", id, err)
	}
	return nil
}

// runDocID is deterministic per run, so retries do not create duplicates.
func runDocID(rec *RunRecord) string {
	return "run-" + rec.Collection + "-" + rec.RunID
}

func (s *ElasticRunStore) ensureIndex(ctx context.Context) error {
	err := s.docs.CreateIndex(ctx, s.index, []byte(runIndexSettings))
	var httpErr *backend.HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusBadRequest &&
		strings.Contains(httpErr.Body, "resource_already_exists_exception") {
		// Created concurrently by another instance.
		return nil
	}
	if err != nil {
		return err
	}
	return s.docs.PutMapping(ctx, s.index, []byte(runIndexMapping))
}

var _ RunRecorder = (*ElasticRunStore)(nil)
