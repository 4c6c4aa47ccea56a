package indexer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leonunix/portalindex/internal/backend"
	"github.com/leonunix/portalindex/internal/metrics"
)

var (
	// ErrUnknownCollection is returned for names missing from the registry.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrInProgress marks a rebuild skipped because the collection is already
	// being rebuilt, by this process or (with a DistLock) another one.
	ErrInProgress = errors.New("rebuild already in progress")
	// ErrLoadFailures marks a rebuild whose alias swap was withheld because
	// too many documents failed to load.
	ErrLoadFailures = errors.New("document load failures")
)

// Status is the outcome of one rebuild.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result reports the outcome of rebuilding one collection.
type Result struct {
	RunID      string
	Collection string
	Alias      string
	// Index is the generation created by this run, if any.
	Index   string
	Status  Status
	Indexed int
	Failed  int
	// Removed lists the indices the alias was moved away from.
	Removed []string
	// Deleted lists the unbound generations removed by cleanup.
	Deleted []string
	Started time.Time
	Elapsed time.Duration
	Err     error
}

// Manager rebuilds collections into fresh index generations and cuts their
// alias over atomically.
type Manager struct {
	engine   Engine
	registry *Registry

	opType        string
	chunkSize     int
	maxChunkBytes int
	maxFailures   int
	parallelism   int
	lock          DistLock // optional; guards rebuilds across instances
	lockTTL       time.Duration
	runs          RunRecorder
	now           func() time.Time

	mu       sync.Mutex
	building map[string]string // collection -> generation under construction
	last     map[string]Result
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithOpType sets the bulk operation used for documents: backend.OpIndex
// (default, a repeated id overwrites) or backend.OpCreate (a repeated id is
// a failure).
func WithOpType(op string) Option {
	return func(m *Manager) { m.opType = op }
}

// WithChunkSize bounds bulk requests by action count and payload bytes.
// Zero keeps the backend defaults.
func WithChunkSize(actions, bytes int) Option {
	return func(m *Manager) {
		m.chunkSize = actions
		m.maxChunkBytes = bytes
	}
}

// WithMaxFailures sets how many documents may fail to load before the alias
// swap is withheld. Defaults to 0: any failure keeps the old generation.
func WithMaxFailures(n int) Option {
	return func(m *Manager) { m.maxFailures = n }
}

// WithParallelism sets how many collections RegenerateAll rebuilds at once.
func WithParallelism(n int) Option {
	return func(m *Manager) { m.parallelism = n }
}

// WithDistLock enables distributed locking so that only one instance
// rebuilds a given collection at a time.
func WithDistLock(lock DistLock) Option {
	return func(m *Manager) { m.lock = lock }
}

// WithLockTTL sets the TTL for distributed locks. Defaults to 2 hours.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.lockTTL = ttl }
}

// WithRunRecorder persists a RunRecord after every rebuild.
func WithRunRecorder(r RunRecorder) Option {
	return func(m *Manager) { m.runs = r }
}

// WithClock replaces time.Now, which names generations.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager for the collections in registry.
func NewManager(engine Engine, registry *Registry, opts ...Option) *Manager {
	m := &Manager{
		engine:      engine,
		registry:    registry,
		opType:      backend.OpIndex,
		parallelism: 1,
		lockTTL:     2 * time.Hour,
		now:         time.Now,
		building:    make(map[string]string),
		last:        make(map[string]Result),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.parallelism < 1 {
		m.parallelism = 1
	}
	return m
}

// Collections returns the registered collections in order.
func (m *Manager) Collections() []Collection {
	return m.registry.All()
}

// Building reports whether this process is currently rebuilding name.
func (m *Manager) Building(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.building[name]
	return ok
}

// LastResult returns the outcome of the most recent rebuild of name run by
// this process.
func (m *Manager) LastResult(name string) (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.last[name]
	return r, ok
}

// RegenerateAll rebuilds every registered collection. A failing collection
// does not stop the others; results are in registration order.
func (m *Manager) RegenerateAll(ctx context.Context) []Result {
	return m.RegenerateEach(ctx, m.registry.Names())
}

// RegenerateEach rebuilds the named collections, up to the configured
// parallelism at a time, isolating failures per collection.
func (m *Manager) RegenerateEach(ctx context.Context, names []string) []Result {
	start := time.Now()
	results := make([]Result, len(names))

	var g errgroup.Group
	g.SetLimit(m.parallelism)
	for i, name := range names {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					results[i] = Result{Collection: name, Status: StatusFailed, Err: fmt.Errorf("rebuild panicked: %v", p)}
					slog.Error("rebuild panicked", "collection", name, "panic", p)
				}
			}()
			results[i] = m.Regenerate(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	var failed, skipped int
	for _, r := range results {
		switch r.Status {
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	slog.Info("rebuild run finished",
		"collections", len(names),
		"failed", failed,
		"skipped", skipped,
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	return results
}

// Regenerate rebuilds one collection into a new generation and, if loading
// succeeded, points its alias at it. The previous generation keeps serving
// reads until the swap and whenever the rebuild fails.
func (m *Manager) Regenerate(ctx context.Context, name string) Result {
	col, ok := m.registry.Get(name)
	if !ok {
		return Result{Collection: name, Status: StatusFailed, Err: fmt.Errorf("%w: %s", ErrUnknownCollection, name)}
	}

	res := Result{RunID: uuid.NewString(), Collection: col.Name, Alias: col.Alias, Started: m.now()}

	if !m.begin(col.Name) {
		res.Status = StatusSkipped
		res.Err = fmt.Errorf("collection %s: %w", col.Name, ErrInProgress)
		slog.Info("skipping collection, rebuild already running in this process", "collection", col.Name)
		metrics.ObserveRebuild(col.Name, string(res.Status), 0, 0, 0)
		return res
	}
	return m.run(ctx, col, res)
}

// Start claims name for a rebuild and returns the function that performs it.
// Claiming happens before Start returns, so a second Start or Regenerate for
// the same collection fails with ErrInProgress until run has returned. The
// caller must invoke run exactly once.
func (m *Manager) Start(name string) (run func(ctx context.Context) Result, err error) {
	col, ok := m.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	if !m.begin(col.Name) {
		return nil, fmt.Errorf("collection %s: %w", col.Name, ErrInProgress)
	}
	return func(ctx context.Context) Result {
		res := Result{RunID: uuid.NewString(), Collection: col.Name, Alias: col.Alias, Started: m.now()}
		return m.run(ctx, col, res)
	}, nil
}

// run rebuilds col, which the caller has claimed with begin.
func (m *Manager) run(ctx context.Context, col Collection, res Result) Result {
	defer m.end(col.Name)

	if m.lock != nil {
		acquired, err := m.lock.Acquire(ctx, col.Alias, m.lockTTL)
		if err != nil {
			res.Err = fmt.Errorf("acquiring rebuild lock for %s: %w", col.Alias, err)
			return m.finish(ctx, res)
		}
		if !acquired {
			slog.Info("skipping collection, rebuild lock held by another instance", "collection", col.Name)
			res.Status = StatusSkipped
			res.Err = fmt.Errorf("collection %s: lock held by another instance: %w", col.Name, ErrInProgress)
			return m.finish(ctx, res)
		}
		defer func() {
			if err := m.lock.Release(context.WithoutCancel(ctx), col.Alias); err != nil {
				slog.Warn("failed to release rebuild lock", "collection", col.Name, "error", err)
			}
		}()
	}

	res.Err = m.build(ctx, col, &res)
	return m.finish(ctx, res)
}

func (m *Manager) finish(ctx context.Context, res Result) Result {
	res.Elapsed = m.now().Sub(res.Started)
	switch {
	case res.Status == StatusSkipped:
	case res.Err != nil:
		res.Status = StatusFailed
		slog.Error("rebuild failed",
			"collection", res.Collection,
			"index", res.Index,
			"indexed", res.Indexed,
			"failed", res.Failed,
			"elapsed", res.Elapsed.Round(time.Millisecond).String(),
			"error", res.Err,
		)
	default:
		res.Status = StatusSuccess
		slog.Info("rebuild completed",
			"collection", res.Collection,
			"alias", res.Alias,
			"index", res.Index,
			"indexed", res.Indexed,
			"removed", res.Removed,
			"deleted", res.Deleted,
			"elapsed", res.Elapsed.Round(time.Millisecond).String(),
		)
	}

	metrics.ObserveRebuild(res.Collection, string(res.Status), res.Elapsed, res.Indexed, res.Failed)

	m.mu.Lock()
	m.last[res.Collection] = res
	m.mu.Unlock()

	if m.runs != nil {
		if err := m.runs.Record(context.WithoutCancel(ctx), NewRunRecord(res)); err != nil {
			slog.Warn("failed to record rebuild run", "collection", res.Collection, "error", err)
		}
	}
	return res
}

// build runs the rebuild steps in order; each step depends on the previous
// one having completed.
func (m *Manager) build(ctx context.Context, col Collection, res *Result) error {
	index := GenerationName(col.Alias, m.now())
	res.Index = index

	bound, err := m.engine.GetAliases(ctx, "", col.Alias)
	if err != nil {
		return fmt.Errorf("listing indices bound to %s: %w", col.Alias, err)
	}
	previous := sortedIndices(bound)

	slog.Info("starting rebuild",
		"collection", col.Name,
		"alias", col.Alias,
		"index", index,
		"previous", previous,
		"op_type", m.opType,
	)

	m.setBuilding(col.Name, index)
	if err := m.engine.CreateIndex(ctx, index, nil); err != nil {
		return fmt.Errorf("creating index %s: %w", index, err)
	}
	if err := m.applySchema(ctx, col, index); err != nil {
		return err
	}

	stats, err := m.engine.BulkLoad(ctx, m.actions(ctx, col, index), backend.BulkOptions{
		ChunkSize:     m.chunkSize,
		MaxChunkBytes: m.maxChunkBytes,
		StatsOnly:     true,
		OnChunk: func(cs backend.ChunkStats) {
			metrics.ObserveChunk(col.Name, cs.Bytes)
			slog.Debug("bulk chunk loaded",
				"collection", col.Name,
				"index", index,
				"actions", cs.Actions,
				"bytes", cs.Bytes,
				"failed", cs.Failed,
			)
		},
	})
	res.Indexed, res.Failed = stats.Succeeded, stats.Failed
	if err != nil {
		return fmt.Errorf("loading documents into %s: %w", index, err)
	}
	if stats.Failed > m.maxFailures {
		for _, item := range stats.Errors {
			slog.Warn("document failed to load",
				"collection", col.Name,
				"id", item.ID,
				"status", item.Status,
				"reason", item.Reason,
			)
		}
		return fmt.Errorf("%w: %d of %d documents failed (max %d), alias %s not swapped",
			ErrLoadFailures, stats.Failed, stats.Failed+stats.Succeeded, m.maxFailures, col.Alias)
	}

	// Readers must see the full document set the moment the alias moves.
	if err := m.engine.Refresh(ctx, index); err != nil {
		return fmt.Errorf("refreshing %s: %w", index, err)
	}

	actions := make([]backend.AliasAction, 0, len(previous)+1)
	actions = append(actions, backend.AliasAction{Type: backend.AliasAdd, Index: index, Alias: col.Alias})
	for _, old := range previous {
		actions = append(actions, backend.AliasAction{Type: backend.AliasRemove, Index: old, Alias: col.Alias})
	}
	if err := m.engine.UpdateAliases(ctx, actions); err != nil {
		return fmt.Errorf("swapping alias %s to %s: %w", col.Alias, index, err)
	}
	res.Removed = previous

	deleted, err := m.cleanup(ctx, col, index)
	res.Deleted = deleted
	if err != nil {
		// Best effort: leftovers are removed by the next run.
		slog.Warn("orphan cleanup incomplete", "collection", col.Name, "error", err)
	}
	return nil
}

// applySchema applies settings (on the closed index) and then the mapping.
func (m *Manager) applySchema(ctx context.Context, col Collection, index string) error {
	if len(col.Settings) > 0 {
		if err := m.engine.CloseIndex(ctx, index); err != nil {
			return fmt.Errorf("closing %s: %w", index, err)
		}
		if err := m.engine.PutSettings(ctx, index, col.Settings); err != nil {
			return fmt.Errorf("applying settings to %s: %w", index, err)
		}
		if err := m.engine.OpenIndex(ctx, index); err != nil {
			return fmt.Errorf("opening %s: %w", index, err)
		}
	}
	if len(col.Mapping) > 0 {
		if err := m.engine.PutMapping(ctx, index, col.Mapping); err != nil {
			return fmt.Errorf("applying mapping to %s: %w", index, err)
		}
	}
	return nil
}

// actions turns the collection's documents into bulk actions targeting index.
func (m *Manager) actions(ctx context.Context, col Collection, index string) iter.Seq2[backend.BulkAction, error] {
	return func(yield func(backend.BulkAction, error) bool) {
		for doc, err := range col.Source.Documents(ctx) {
			if err != nil {
				yield(backend.BulkAction{}, fmt.Errorf("reading documents of %s: %w", col.Name, err))
				return
			}
			action := backend.BulkAction{OpType: m.opType, Index: index, ID: doc.ID}
			if doc.Body != nil {
				action.Source = doc.Body
			}
			if !yield(action, nil) {
				return
			}
		}
	}
}

// Cleanup deletes every generation of the collection that no alias points
// to, except one this process is still building.
func (m *Manager) Cleanup(ctx context.Context, name string) ([]string, error) {
	col, ok := m.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	if m.lock != nil {
		acquired, err := m.lock.Acquire(ctx, col.Alias, m.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquiring rebuild lock for %s: %w", col.Alias, err)
		}
		if !acquired {
			return nil, fmt.Errorf("collection %s: lock held by another instance: %w", col.Name, ErrInProgress)
		}
		defer func() {
			if err := m.lock.Release(context.WithoutCancel(ctx), col.Alias); err != nil {
				slog.Warn("failed to release rebuild lock", "collection", col.Name, "error", err)
			}
		}()
	}
	return m.cleanup(ctx, col, "")
}

func (m *Manager) cleanup(ctx context.Context, col Collection, keep string) ([]string, error) {
	generations, err := m.engine.GetAliases(ctx, col.Alias+"_*", "")
	if err != nil {
		return nil, fmt.Errorf("listing generations of %s: %w", col.Alias, err)
	}
	building := m.buildingIndex(col.Name)

	var (
		deleted []string
		errs    []error
	)
	for _, index := range sortedIndices(generations) {
		if _, ok := ParseGeneration(col.Alias, index); !ok {
			continue
		}
		if index == keep || index == building || len(generations[index]) > 0 {
			continue
		}
		if err := m.engine.DeleteIndex(ctx, index); err != nil {
			// Already gone, or removed concurrently by another run.
			if code := backend.StatusCode(err); code == http.StatusNotFound || code == http.StatusBadRequest {
				slog.Debug("orphan already removed", "index", index, "status", code)
				continue
			}
			errs = append(errs, fmt.Errorf("deleting %s: %w", index, err))
			continue
		}
		slog.Info("deleted unbound generation", "collection", col.Name, "index", index)
		deleted = append(deleted, index)
	}
	metrics.GenerationsDeletedTotal.WithLabelValues(col.Name).Add(float64(len(deleted)))
	return deleted, errors.Join(errs...)
}

// Generation describes one physical index of a collection.
type Generation struct {
	Index   string    `json:"index"`
	Created time.Time `json:"created"`
	Aliases []string  `json:"aliases"`
	// Live is true for the generation the collection alias points to.
	Live bool `json:"live"`
	// Building is true while this process is still loading it.
	Building bool `json:"building"`
}

// Generations lists the collection's generations, oldest first.
func (m *Manager) Generations(ctx context.Context, name string) ([]Generation, error) {
	col, ok := m.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	indices, err := m.engine.GetAliases(ctx, col.Alias+"_*", "")
	if err != nil {
		return nil, fmt.Errorf("listing generations of %s: %w", col.Alias, err)
	}
	building := m.buildingIndex(col.Name)

	var out []Generation
	for _, index := range sortedIndices(indices) {
		created, ok := ParseGeneration(col.Alias, index)
		if !ok {
			continue
		}
		g := Generation{Index: index, Created: created, Aliases: indices[index], Building: index == building}
		for _, a := range g.Aliases {
			if a == col.Alias {
				g.Live = true
			}
		}
		out = append(out, g)
	}
	return out, nil
}

func (m *Manager) begin(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.building[name]; busy {
		return false
	}
	m.building[name] = ""
	return true
}

func (m *Manager) setBuilding(name, index string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.building[name] = index
}

func (m *Manager) buildingIndex(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.building[name]
}

func (m *Manager) end(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.building, name)
}

func sortedIndices(a backend.IndexAliases) []string {
	out := make([]string, 0, len(a))
	for index := range a {
		out = append(out, index)
	}
	sort.Strings(out)
	return out
}
