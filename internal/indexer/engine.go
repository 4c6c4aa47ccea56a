package indexer

import (
	"context"
	"iter"

	"github.com/leonunix/portalindex/internal/backend"
)

// Engine is the subset of backend.Client operations the Manager needs.
type Engine interface {
	CreateIndex(ctx context.Context, index string, body []byte) error
	CloseIndex(ctx context.Context, index string) error
	OpenIndex(ctx context.Context, index string) error
	PutSettings(ctx context.Context, index string, settings []byte) error
	PutMapping(ctx context.Context, index string, mapping []byte) error
	Refresh(ctx context.Context, index string) error
	DeleteIndex(ctx context.Context, index string) error
	GetAliases(ctx context.Context, index, name string) (backend.IndexAliases, error)
	UpdateAliases(ctx context.Context, actions []backend.AliasAction) error
	BulkLoad(ctx context.Context, actions iter.Seq2[backend.BulkAction, error], opts backend.BulkOptions) (backend.BulkStats, error)
}

var _ Engine = (*backend.Client)(nil)
