package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
)

// NDJSON reads newline-delimited JSON objects from a file. The document id
// is taken from IDField, which is kept in the body.
type NDJSON struct {
	Path    string
	IDField string
}

// Documents opens the file and decodes it one object at a time.
func (s *NDJSON) Documents(ctx context.Context) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		f, err := os.Open(s.Path)
		if err != nil {
			yield(Document{}, fmt.Errorf("opening %s: %w", s.Path, err))
			return
		}
		defer f.Close()

		for d, err := range decodeStream(ctx, f, s.IDField) {
			if err != nil {
				yield(Document{}, fmt.Errorf("%s: %w", s.Path, err))
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

func decodeStream(ctx context.Context, r io.Reader, idField string) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		dec := json.NewDecoder(r)
		dec.UseNumber()
		for n := 1; ; n++ {
			if err := ctx.Err(); err != nil {
				yield(Document{}, err)
				return
			}
			var body map[string]any
			err := dec.Decode(&body)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Document{}, fmt.Errorf("record %d: %w", n, err))
				return
			}
			id, err := documentID(body, idField)
			if err != nil {
				yield(Document{}, fmt.Errorf("record %d: %w", n, err))
				return
			}
			if !yield(Document{ID: id, Body: body}, nil) {
				return
			}
		}
	}
}

func documentID(body map[string]any, field string) (string, error) {
	v, ok := body[field]
	if !ok || v == nil {
		return "", fmt.Errorf("missing id field %q", field)
	}
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("empty id field %q", field)
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	default:
		return "", fmt.Errorf("id field %q has unsupported type %T", field, v)
	}
}
