package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonunix/portalindex/internal/backend/backendtest"
	"github.com/leonunix/portalindex/internal/indexer"
	"github.com/leonunix/portalindex/internal/metrics"
	"github.com/leonunix/portalindex/internal/source"
)

func staticDocs(n int) source.Static {
	out := make(source.Static, n)
	for i := range out {
		out[i] = source.Document{ID: fmt.Sprintf("d%d", i), Body: map[string]any{"title": fmt.Sprintf("doc %d", i)}}
	}
	return out
}

func newTestServer(t *testing.T, cols ...indexer.Collection) (*Server, *backendtest.Server, http.Handler) {
	t.Helper()
	engine := backendtest.New(t, "7.17.9")
	reg, err := indexer.NewRegistry(cols...)
	require.NoError(t, err)
	m := indexer.NewManager(engine.Client(t), reg)
	s := New(context.Background(), m, nil)
	return s, engine, s.Handler()
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s := New(context.Background(), &fakeRebuilder{}, func(context.Context) error { return nil })
	rr := do(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	s = New(context.Background(), &fakeRebuilder{}, func(context.Context) error { return errors.New("connection refused") })
	rr = do(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Register(nil)
	s := New(context.Background(), &fakeRebuilder{}, nil)
	h := s.Handler()

	do(t, h, http.MethodGet, "/health")
	rr := do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `portalindex_http_requests_total{method="GET",path="/health",status="200"}`)
}

func TestRegenerate_BuildsInBackground(t *testing.T) {
	s, engine, h := newTestServer(t, indexer.Collection{Name: "courses", Source: staticDocs(3)})

	rr := do(t, h, http.MethodPost, "/collections/courses/regenerate")
	require.Equal(t, http.StatusAccepted, rr.Code)
	s.Wait()

	targets := engine.AliasTargets("courses")
	require.Len(t, targets, 1)
	assert.Equal(t, 3, engine.DocCount(targets[0]))

	rr = do(t, h, http.MethodGet, "/collections/courses")
	require.Equal(t, http.StatusOK, rr.Code)
	var view collectionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "courses", view.Alias)
	assert.False(t, view.Building)
	require.NotNil(t, view.LastResult)
	assert.Equal(t, "success", view.LastResult.Status)
	assert.Equal(t, 3, view.LastResult.Indexed)
	require.Len(t, view.Generations, 1)
	assert.True(t, view.Generations[0].Live)
	assert.Equal(t, targets[0], view.Generations[0].Index)
}

func TestRegenerate_UnknownCollection(t *testing.T) {
	_, _, h := newTestServer(t, indexer.Collection{Name: "courses", Source: staticDocs(1)})

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/collections/persons/regenerate").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/collections/persons").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/collections/persons/cleanup").Code)
}

func TestRegenerate_ConflictWhileBuilding(t *testing.T) {
	fake := &fakeRebuilder{
		cols:     []indexer.Collection{{Name: "courses", Alias: "courses"}},
		building: map[string]bool{"courses": true},
	}
	s := New(context.Background(), fake, nil)

	rr := do(t, s.Handler(), http.MethodPost, "/collections/courses/regenerate")
	assert.Equal(t, http.StatusConflict, rr.Code)
	s.Wait()
	assert.Zero(t, fake.regenerated)
}

func TestRegenerate_ConcurrentRequestsStartOneRebuild(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var builds atomic.Int32
	blocking := source.Func(func(ctx context.Context) iter.Seq2[source.Document, error] {
		return func(yield func(source.Document, error) bool) {
			if builds.Add(1) == 1 {
				close(started)
			}
			<-release
			yield(source.Document{ID: "1", Body: map[string]any{"title": "one"}}, nil)
		}
	})
	s, engine, h := newTestServer(t, indexer.Collection{Name: "courses", Source: blocking})

	const requests = 8
	codes := make(chan int, requests)
	var wg sync.WaitGroup
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- do(t, h, http.MethodPost, "/collections/courses/regenerate").Code
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for code := range codes {
		counts[code]++
	}
	assert.Equal(t, map[int]int{http.StatusAccepted: 1, http.StatusConflict: requests - 1}, counts)

	<-started
	close(release)
	s.Wait()
	assert.Equal(t, int32(1), builds.Load())
	targets := engine.AliasTargets("courses")
	require.Len(t, targets, 1)
	assert.Equal(t, 1, engine.DocCount(targets[0]))
}

func TestRegenerateAll(t *testing.T) {
	s, engine, h := newTestServer(t,
		indexer.Collection{Name: "courses", Source: staticDocs(2)},
		indexer.Collection{Name: "persons", Source: staticDocs(4)},
	)

	rr := do(t, h, http.MethodPost, "/regenerate")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"collections":["courses","persons"],"status":"accepted"}`, rr.Body.String())
	s.Wait()

	for alias, want := range map[string]int{"courses": 2, "persons": 4} {
		targets := engine.AliasTargets(alias)
		require.Len(t, targets, 1, alias)
		assert.Equal(t, want, engine.DocCount(targets[0]), alias)
	}

	rr = do(t, h, http.MethodGet, "/collections")
	require.Equal(t, http.StatusOK, rr.Code)
	var views []collectionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "courses", views[0].Name)
	assert.Equal(t, "persons", views[1].Name)
}

func TestCleanup(t *testing.T) {
	_, engine, h := newTestServer(t, indexer.Collection{Name: "courses", Source: staticDocs(1)})
	engine.Seed("courses_2020-01-01-00h00m00.000000s", nil, "courses")
	engine.Seed("courses_2019-01-01-00h00m00.000000s", nil)
	engine.Seed("courses_notes", nil)

	rr := do(t, h, http.MethodPost, "/collections/courses/cleanup")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"deleted":["courses_2019-01-01-00h00m00.000000s"]}`, rr.Body.String())
	assert.ElementsMatch(t, []string{"courses_2020-01-01-00h00m00.000000s", "courses_notes"}, engine.Indices())

	rr = do(t, h, http.MethodPost, "/collections/courses/cleanup")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"deleted":[]}`, rr.Body.String())
}

func TestCleanup_LockHeld(t *testing.T) {
	fake := &fakeRebuilder{cleanupErr: fmt.Errorf("collection courses: %w", indexer.ErrInProgress)}
	s := New(context.Background(), fake, nil)

	rr := do(t, s.Handler(), http.MethodPost, "/collections/courses/cleanup")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCleanup_EngineError(t *testing.T) {
	fake := &fakeRebuilder{
		cleanupDeleted: []string{"courses_a"},
		cleanupErr:     errors.New("deleting courses_b: 500"),
	}
	s := New(context.Background(), fake, nil)

	rr := do(t, s.Handler(), http.MethodPost, "/collections/courses/cleanup")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "courses_a"))
}

type fakeRebuilder struct {
	cols           []indexer.Collection
	building       map[string]bool
	regenerated    int
	cleanupDeleted []string
	cleanupErr     error
}

func (f *fakeRebuilder) Collections() []indexer.Collection { return f.cols }

func (f *fakeRebuilder) Building(name string) bool { return f.building[name] }

func (f *fakeRebuilder) LastResult(string) (indexer.Result, bool) { return indexer.Result{}, false }

func (f *fakeRebuilder) Start(name string) (func(context.Context) indexer.Result, error) {
	if f.building[name] {
		return nil, fmt.Errorf("collection %s: %w", name, indexer.ErrInProgress)
	}
	return func(ctx context.Context) indexer.Result { return f.Regenerate(ctx, name) }, nil
}

func (f *fakeRebuilder) Regenerate(_ context.Context, name string) indexer.Result {
	f.regenerated++
	return indexer.Result{Collection: name, Status: indexer.StatusSuccess}
}

func (f *fakeRebuilder) RegenerateAll(ctx context.Context) []indexer.Result {
	var out []indexer.Result
	for _, c := range f.cols {
		out = append(out, f.Regenerate(ctx, c.Name))
	}
	return out
}

func (f *fakeRebuilder) Cleanup(context.Context, string) ([]string, error) {
	return f.cleanupDeleted, f.cleanupErr
}

func (f *fakeRebuilder) Generations(context.Context, string) ([]indexer.Generation, error) {
	return nil, nil
}
