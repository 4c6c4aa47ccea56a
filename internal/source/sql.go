package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
)

// SQL reads documents with a query returning two columns: the document id
// and the document as a JSON object (json, jsonb or text). With Postgres the
// query usually builds the object itself, e.g.
//
//	SELECT id::text, jsonb_build_object('title', title, 'url', url) FROM courses
type SQL struct {
	DB    *sql.DB
	Query string
	Args  []any
}

// Documents runs the query and streams its rows. The rows are closed when
// iteration ends, including when the consumer stops early.
func (s *SQL) Documents(ctx context.Context) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		rows, err := s.DB.QueryContext(ctx, s.Query, s.Args...)
		if err != nil {
			yield(Document{}, fmt.Errorf("querying documents: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id  sql.NullString
				raw []byte
			)
			if err := rows.Scan(&id, &raw); err != nil {
				yield(Document{}, fmt.Errorf("scanning document row: %w", err))
				return
			}
			if !id.Valid || id.String == "" {
				yield(Document{}, fmt.Errorf("document row without id"))
				return
			}
			var body map[string]any
			if err := json.Unmarshal(raw, &body); err != nil {
				yield(Document{}, fmt.Errorf("decoding document %s: %w", id.String, err))
				return
			}
			if !yield(Document{ID: id.String, Body: body}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Document{}, fmt.Errorf("reading document rows: %w", err))
		}
	}
}
