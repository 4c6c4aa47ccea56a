package lock

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonunix/portalindex/internal/backend/backendtest"
)

func TestElastic_AcquireRelease(t *testing.T) {
	for _, version := range []string{"6.8.23", "7.17.9"} {
		t.Run(version, func(t *testing.T) {
			srv := backendtest.New(t, version)
			c := srv.Client(t)
			ctx := context.Background()

			a := NewElastic(c, "")
			b := NewElastic(c, "")
			require.NotEqual(t, a.OwnerID(), b.OwnerID())

			ok, err := a.Acquire(ctx, "books", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = b.Acquire(ctx, "books", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			// b does not own the lock, so its release must not free it.
			require.NoError(t, b.Release(ctx, "books"))
			assert.NotNil(t, srv.Source(DefaultElasticIndex, "books"))

			require.NoError(t, a.Release(ctx, "books"))
			assert.Nil(t, srv.Source(DefaultElasticIndex, "books"))

			ok, err = b.Acquire(ctx, "books", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestElastic_ReleaseMissingIsNoop(t *testing.T) {
	srv := backendtest.New(t, "7.17.9")
	l := NewElastic(srv.Client(t), "")
	assert.NoError(t, l.Release(context.Background(), "never-held"))
}

func TestElastic_ExpiredLockIsTakenOver(t *testing.T) {
	srv := backendtest.New(t, "7.17.9")
	srv.Seed(DefaultElasticIndex, map[string]string{
		"books": `{"owner":"dead:1:x","acquired_at":"2020-01-01T00:00:00Z","expires_at":"2020-01-01T01:00:00Z"}`,
	})
	l := NewElastic(srv.Client(t), "")

	ok, err := l.Acquire(context.Background(), "books", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, string(srv.Source(DefaultElasticIndex, "books")), l.OwnerID())
}

func TestElastic_UnexpiredLockIsKept(t *testing.T) {
	srv := backendtest.New(t, "7.17.9")
	c := srv.Client(t)
	ctx := context.Background()

	holder := NewElastic(c, "")
	ok, err := holder.Acquire(ctx, "books", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	other := NewElastic(c, "")
	other.now = func() time.Time { return time.Now().Add(30 * time.Minute) }
	ok, err = other.Acquire(ctx, "books", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	other.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	ok, err = other.Acquire(ctx, "books", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestElastic_CreatesIndexWhenAutoCreateDisabled(t *testing.T) {
	srv := backendtest.New(t, "6.8.23")
	const index = ".locks"
	srv.Intercept(func(r backendtest.Request) (int, string, bool) {
		// Refuse implicit index creation like auto_create_index=false.
		if r.Method == http.MethodPut && strings.HasPrefix(r.Path, "/"+index+"/") {
			for _, name := range srv.Indices() {
				if name == index {
					return 0, "", false
				}
			}
			return http.StatusNotFound, `{"error":{"type":"index_not_found_exception"},"status":404}`, true
		}
		return 0, "", false
	})
	l := NewElastic(srv.Client(t), index)

	ok, err := l.Acquire(context.Background(), "books", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, srv.RequestsTo(http.MethodPut, "/"+index), 1)
}
