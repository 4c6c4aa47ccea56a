// Package admin exposes a small HTTP surface for operators: health, metrics,
// collection state and on-demand rebuilds.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leonunix/portalindex/internal/indexer"
	"github.com/leonunix/portalindex/internal/metrics"
)

// Rebuilder is the subset of *indexer.Manager the admin API drives.
type Rebuilder interface {
	Collections() []indexer.Collection
	Building(name string) bool
	LastResult(name string) (indexer.Result, bool)
	Start(name string) (func(ctx context.Context) indexer.Result, error)
	RegenerateAll(ctx context.Context) []indexer.Result
	Cleanup(ctx context.Context, name string) ([]string, error)
	Generations(ctx context.Context, name string) ([]indexer.Generation, error)
}

var _ Rebuilder = (*indexer.Manager)(nil)

// Server serves the admin API. Rebuilds it starts run in the background on
// the base context given to New; Wait blocks until they are done.
type Server struct {
	rebuilder Rebuilder
	health    func(ctx context.Context) error
	base      context.Context
	wg        sync.WaitGroup
}

// New creates a Server. health, if non-nil, backs GET /health.
func New(base context.Context, rebuilder Rebuilder, health func(ctx context.Context) error) *Server {
	return &Server{rebuilder: rebuilder, health: health, base: base}
}

// Handler returns the chi router for the admin API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/collections", s.handleListCollections)
	r.Get("/collections/{name}", s.handleGetCollection)
	r.Post("/collections/{name}/regenerate", s.handleRegenerate)
	r.Post("/collections/{name}/cleanup", s.handleCleanup)
	r.Post("/regenerate", s.handleRegenerateAll)
	return r
}

// Wait blocks until every background rebuild started by the API returns.
func (s *Server) Wait() {
	s.wg.Wait()
}

type resultView struct {
	RunID   string   `json:"run_id,omitempty"`
	Index   string   `json:"index,omitempty"`
	Status  string   `json:"status"`
	Indexed int      `json:"indexed"`
	Failed  int      `json:"failed"`
	Removed []string `json:"removed,omitempty"`
	Deleted []string `json:"deleted,omitempty"`
	Started string   `json:"started"`
	Elapsed string   `json:"elapsed"`
	Error   string   `json:"error,omitempty"`
}

type collectionView struct {
	Name        string               `json:"name"`
	Alias       string               `json:"alias"`
	Building    bool                 `json:"building"`
	LastResult  *resultView          `json:"last_result,omitempty"`
	Generations []indexer.Generation `json:"generations"`
	Error       string               `json:"error,omitempty"`
}

func newResultView(r indexer.Result) *resultView {
	v := &resultView{
		RunID:   r.RunID,
		Index:   r.Index,
		Status:  string(r.Status),
		Indexed: r.Indexed,
		Failed:  r.Failed,
		Removed: r.Removed,
		Deleted: r.Deleted,
		Started: r.Started.UTC().Format(time.RFC3339),
		Elapsed: r.Elapsed.Round(time.Millisecond).String(),
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

func (s *Server) collectionView(ctx context.Context, col indexer.Collection) collectionView {
	v := collectionView{Name: col.Name, Alias: col.Alias, Building: s.rebuilder.Building(col.Name)}
	if last, ok := s.rebuilder.LastResult(col.Name); ok {
		v.LastResult = newResultView(last)
	}
	gens, err := s.rebuilder.Generations(ctx, col.Name)
	if err != nil {
		v.Error = err.Error()
	}
	v.Generations = gens
	if v.Generations == nil {
		v.Generations = []indexer.Generation{}
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	cols := s.rebuilder.Collections()
	out := make([]collectionView, 0, len(cols))
	for _, col := range cols {
		out = append(out, s.collectionView(r.Context(), col))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	col, ok := s.lookup(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}
	writeJSON(w, http.StatusOK, s.collectionView(r.Context(), col))
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	// The collection is claimed before replying so a concurrent request sees
	// the conflict instead of a second 202.
	run, err := s.rebuilder.Start(name)
	switch {
	case errors.Is(err, indexer.ErrUnknownCollection):
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	case errors.Is(err, indexer.ErrInProgress):
		writeError(w, http.StatusConflict, "rebuild already running")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := run(s.base)
		slog.Info("admin rebuild finished", "collection", name, "status", res.Status)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"collection": name, "status": "accepted"})
}

func (s *Server) handleRegenerateAll(w http.ResponseWriter, r *http.Request) {
	cols := s.rebuilder.Collections()
	names := make([]string, 0, len(cols))
	for _, col := range cols {
		names = append(names, col.Name)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.rebuilder.RegenerateAll(s.base)
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"collections": names, "status": "accepted"})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	deleted, err := s.rebuilder.Cleanup(r.Context(), name)
	switch {
	case errors.Is(err, indexer.ErrUnknownCollection):
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	case errors.Is(err, indexer.ErrInProgress):
		writeError(w, http.StatusConflict, "rebuild lock held by another instance")
		return
	case err != nil:
		slog.Error("admin cleanup failed", "collection", name, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"deleted": nonNil(deleted), "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": nonNil(deleted)})
}

func (s *Server) lookup(name string) (indexer.Collection, bool) {
	for _, col := range s.rebuilder.Collections() {
		if col.Name == name {
			return col, true
		}
	}
	return indexer.Collection{}, false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
