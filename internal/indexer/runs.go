package indexer

import (
	"context"
	"time"
)

// RunRecord is the persisted outcome of one rebuild.
type RunRecord struct {
	Timestamp   time.Time `json:"@timestamp"`
	RunID       string    `json:"run_id"`
	Collection  string    `json:"collection"`
	Alias       string    `json:"alias"`
	Index       string    `json:"index,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationSec float64   `json:"duration_sec"`
	Indexed     int       `json:"documents_indexed"`
	Failed      int       `json:"documents_failed"`
	DocsPerSec  float64   `json:"docs_per_sec"`
	Removed     []string  `json:"removed_indices,omitempty"`
	Deleted     []string  `json:"deleted_indices,omitempty"`
	Status      string    `json:"status"` // "success", "failed" or "skipped"
	Error       string    `json:"error,omitempty"`
}

// RunRecorder persists rebuild records for later analysis.
type RunRecorder interface {
	Record(ctx context.Context, rec *RunRecord) error
}

// NewRunRecord converts a Result into its persisted form.
func NewRunRecord(res Result) *RunRecord {
	started := res.Started.UTC()
	completed := started.Add(res.Elapsed)
	var rate float64
	if res.Elapsed > 0 {
		rate = float64(res.Indexed) / res.Elapsed.Seconds()
	}
	rec := &RunRecord{
		Timestamp:   completed,
		RunID:       res.RunID,
		Collection:  res.Collection,
		Alias:       res.Alias,
		Index:       res.Index,
		StartedAt:   started,
		CompletedAt: completed,
		DurationSec: res.Elapsed.Seconds(),
		Indexed:     res.Indexed,
		Failed:      res.Failed,
		DocsPerSec:  rate,
		Removed:     res.Removed,
		Deleted:     res.Deleted,
		Status:      string(res.Status),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	return rec
}
