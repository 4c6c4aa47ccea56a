package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// actionRef remembers which action produced a line of the pending chunk, so
// item failures can be reported without keeping the documents around.
type actionRef struct {
	opType string
	index  string
	id     string
}

// BulkLoad streams actions to the _bulk endpoint. The sequence is consumed
// lazily; at most one chunk (ChunkSize actions, MaxChunkBytes bytes) is held
// in memory. For v6 engines each action's metadata carries the sentinel
// document type.
//
// With StatsOnly, actions that cannot be serialized or that the engine
// rejects are counted in BulkStats.Failed and loading continues. Without it
// the first such action aborts the load with a *BulkError. A failing _bulk
// request or an error yielded by the sequence always aborts.
func (c *Client) BulkLoad(ctx context.Context, actions iter.Seq2[BulkAction, error], opts BulkOptions) (BulkStats, error) {
	var stats BulkStats

	p, err := c.protocol(ctx)
	if err != nil {
		return stats, err
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}

	var (
		buf     bytes.Buffer
		pending = make([]actionRef, 0, opts.ChunkSize)
	)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, items, err := c.sendChunk(ctx, buf.Bytes(), pending, opts.Refresh)
		if err != nil {
			return err
		}
		stats.Chunks++
		stats.Succeeded += chunk.Succeeded
		stats.Failed += chunk.Failed
		stats.addErrors(items...)
		if opts.OnChunk != nil {
			opts.OnChunk(chunk)
		}
		buf.Reset()
		pending = pending[:0]
		if chunk.Failed > 0 && !opts.StatsOnly {
			return &BulkError{Stats: stats, Items: items}
		}
		return nil
	}

	for action, err := range actions {
		if err != nil {
			return stats, fmt.Errorf("reading bulk actions: %w", err)
		}
		payload, err := encodeAction(p, action)
		if err != nil {
			item := BulkItemError{OpType: action.OpType, Index: action.Index, ID: action.ID, Reason: err.Error()}
			stats.Failed++
			stats.addErrors(item)
			if !opts.StatsOnly {
				return stats, &BulkError{Stats: stats, Items: []BulkItemError{item}}
			}
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(payload) > opts.MaxChunkBytes {
			if err := flush(); err != nil {
				return stats, err
			}
		}
		buf.Write(payload)
		pending = append(pending, actionRef{opType: action.OpType, index: action.Index, id: action.ID})
		if len(pending) >= opts.ChunkSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *BulkStats) addErrors(items ...BulkItemError) {
	for _, item := range items {
		if len(s.Errors) >= maxReportedItems {
			return
		}
		s.Errors = append(s.Errors, item)
	}
}

// encodeAction renders the NDJSON lines of one action.
func encodeAction(p protocol, a BulkAction) ([]byte, error) {
	if a.Index == "" {
		return nil, fmt.Errorf("bulk action has no target index")
	}
	switch a.OpType {
	case OpIndex, OpCreate, OpUpdate, OpDelete:
	case "":
		a.OpType = OpIndex
	default:
		return nil, fmt.Errorf("unsupported bulk op type %q", a.OpType)
	}
	if a.ID == "" && a.OpType != OpIndex {
		return nil, fmt.Errorf("%s action requires a document id", a.OpType)
	}

	meta := map[string]string{"_index": a.Index}
	if a.ID != "" {
		meta["_id"] = a.ID
	}
	p.decorateAction(meta)

	header, err := json.Marshal(map[string]map[string]string{a.OpType: meta})
	if err != nil {
		return nil, err
	}
	out := append(header, '\n')
	if a.OpType == OpDelete {
		return out, nil
	}

	source := a.Source
	if a.OpType == OpUpdate {
		source = map[string]any{"doc": a.Source}
	}
	body, err := encodeSource(source)
	if err != nil {
		return nil, fmt.Errorf("serializing document %s: %w", a.ID, err)
	}
	out = append(out, body...)
	return append(out, '\n'), nil
}

func encodeSource(source any) ([]byte, error) {
	var raw []byte
	switch v := source.(type) {
	case nil:
		return nil, fmt.Errorf("empty document")
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return json.Marshal(v)
	}
	// Pre-encoded documents must fit on a single NDJSON line.
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, err
	}
	return compact.Bytes(), nil
}

type bulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]bulkResponseItem `json:"items"`
}

type bulkResponseItem struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// sendChunk posts one NDJSON payload and tallies the per-item outcome.
func (c *Client) sendChunk(ctx context.Context, payload []byte, refs []actionRef, refresh string) (ChunkStats, []BulkItemError, error) {
	chunk := ChunkStats{Actions: len(refs), Bytes: len(payload)}

	res, err := esapi.BulkRequest{Body: bytes.NewReader(payload), Refresh: refresh}.Do(ctx, c.transport)
	body, err := readResponse(res, err, "/_bulk")
	if err != nil {
		return chunk, nil, fmt.Errorf("bulk request with %d actions: %w", len(refs), err)
	}

	var parsed bulkResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return chunk, nil, fmt.Errorf("decoding bulk response: %w", err)
	}

	var failures []BulkItemError
	for i, entry := range parsed.Items {
		for op, item := range entry {
			if item.Status >= 200 && item.Status < 300 && len(item.Error) == 0 {
				chunk.Succeeded++
				continue
			}
			chunk.Failed++
			fe := BulkItemError{OpType: op, Index: item.Index, ID: item.ID, Status: item.Status, Reason: itemReason(item.Error)}
			if fe.ID == "" && i < len(refs) {
				fe.ID = refs[i].id
			}
			failures = append(failures, fe)
		}
	}
	// Items missing from the response are failures too.
	if missing := len(refs) - len(parsed.Items); missing > 0 {
		chunk.Failed += missing
		for _, ref := range refs[len(parsed.Items):] {
			failures = append(failures, BulkItemError{OpType: ref.opType, Index: ref.index, ID: ref.id, Reason: "no item in bulk response"})
		}
	}
	return chunk, failures, nil
}

// itemReason extracts a readable reason from a bulk item error, which is an
// object {"type": ..., "reason": ...} on modern engines and a string on
// some older ones.
func itemReason(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Type != "" || obj.Reason != "") {
		if obj.Type == "" {
			return obj.Reason
		}
		return obj.Type + ": " + obj.Reason
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
