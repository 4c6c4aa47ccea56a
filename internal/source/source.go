// Package source produces the documents a collection is built from.
//
// A Source is asked for a fresh sequence on every rebuild. Sequences are
// lazy: documents are read as the bulk loader consumes them, so a
// collection never has to fit in memory.
package source

import (
	"context"
	"iter"
)

// Document is one entry of a collection. ID is the natural key of the
// underlying record and becomes the document _id, which keeps rebuilds
// idempotent.
type Document struct {
	ID   string
	Body map[string]any
}

// Source yields the documents of one collection. Each call to Documents
// starts a new, finite sequence. A non-nil error ends the sequence.
type Source interface {
	Documents(ctx context.Context) iter.Seq2[Document, error]
}

// Func adapts a function to the Source interface.
type Func func(ctx context.Context) iter.Seq2[Document, error]

// Documents calls f(ctx).
func (f Func) Documents(ctx context.Context) iter.Seq2[Document, error] {
	return f(ctx)
}

// Static is a Source over a fixed set of documents.
type Static []Document

// Documents yields the documents in order.
func (s Static) Documents(ctx context.Context) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for _, d := range s {
			if err := ctx.Err(); err != nil {
				yield(Document{}, err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

// Collect drains a sequence into a slice. Meant for tests and small sources.
func Collect(seq iter.Seq2[Document, error]) ([]Document, error) {
	var out []Document
	for d, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}
