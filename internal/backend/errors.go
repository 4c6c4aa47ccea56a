package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound matches responses for a missing document, index or alias.
	// A missing document is a normal negative lookup, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrConflict matches version conflicts (op_type=create on an existing id,
	// stale if_seq_no).
	ErrConflict = errors.New("conflict")
)

// HTTPStatusError represents a non-2xx response from the search engine.
// It preserves the status code for callers that tolerate specific outcomes
// (e.g. 400/404 when deleting an index that is already gone).
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.URL == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	if e.Body == "" {
		return fmt.Sprintf("http %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("http %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) and errors.Is(err, ErrConflict) work on
// status errors.
func (e *HTTPStatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// BulkItemError describes one rejected or unserializable bulk action.
type BulkItemError struct {
	OpType string `json:"op_type"`
	Index  string `json:"index"`
	ID     string `json:"id"`
	Status int    `json:"status"`
	Reason string `json:"reason"`
}

// BulkError is returned by BulkLoad when StatsOnly is off and an action fails.
type BulkError struct {
	Stats BulkStats
	Items []BulkItemError
}

func (e *BulkError) Error() string {
	if len(e.Items) == 0 {
		return fmt.Sprintf("bulk load failed: %d actions failed", e.Stats.Failed)
	}
	first := e.Items[0]
	return fmt.Sprintf("bulk load failed: %d actions failed, first: %s %s/%s (status %d): %s",
		e.Stats.Failed, first.OpType, first.Index, first.ID, first.Status, first.Reason)
}
