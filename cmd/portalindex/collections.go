package main

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/leonunix/portalindex/internal/backend"
	"github.com/leonunix/portalindex/internal/config"
	"github.com/leonunix/portalindex/internal/indexer"
	"github.com/leonunix/portalindex/internal/source"
)

// buildCollections turns the configured collections into indexer
// collections. db may be nil when no collection reads from SQL.
func buildCollections(cfg *config.Config, db *sql.DB) ([]indexer.Collection, error) {
	cols := make([]indexer.Collection, 0, len(cfg.Collections))
	for _, cc := range cfg.Collections {
		mapping, err := cfg.LoadDocument(cc.MappingFile)
		if err != nil {
			return nil, fmt.Errorf("collection %s mapping: %w", cc.Name, err)
		}
		settings, err := cfg.LoadDocument(cc.SettingsFile)
		if err != nil {
			return nil, fmt.Errorf("collection %s settings: %w", cc.Name, err)
		}

		var src source.Source
		switch cc.Source.Type {
		case config.SourceSQL:
			if db == nil {
				return nil, fmt.Errorf("collection %s: no database configured", cc.Name)
			}
			src = &source.SQL{DB: db, Query: cc.Source.Query}
		case config.SourceNDJSON:
			src = &source.NDJSON{Path: cfg.ResolvePath(cc.Source.Path), IDField: cc.Source.IDField}
		default:
			return nil, fmt.Errorf("collection %s: unknown source type %q", cc.Name, cc.Source.Type)
		}
		if len(cc.Source.CompleteFields) > 0 {
			src = source.WithCompletion(src, cc.Source.CompleteFields...)
		}

		cols = append(cols, indexer.Collection{
			Name:     cc.Name,
			Alias:    cfg.AliasFor(cc),
			Mapping:  mapping,
			Settings: settings,
			Source:   src,
		})
	}
	return cols, nil
}

func needsDatabase(cfg *config.Config) bool {
	for _, cc := range cfg.Collections {
		if cc.Source.Type == config.SourceSQL {
			return true
		}
	}
	return false
}

// engineConfig maps the elasticsearch section onto the client config. An
// unset max_retries already defaults to 3, so a zero here was written out
// and means no retries at all.
func engineConfig(cfg *config.Config, transport http.RoundTripper) backend.Config {
	es := cfg.Elasticsearch
	return backend.Config{
		URLs:         es.URLs,
		Username:     es.Username,
		Password:     es.Password,
		DocType:      es.DocType,
		MaxRetries:   es.MaxRetries,
		DisableRetry: es.MaxRetries == 0,
		Transport:    transport,
	}
}
