package source

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_YieldsInOrderAndRestarts(t *testing.T) {
	src := Static{
		{ID: "1", Body: map[string]any{"n": 1}},
		{ID: "2", Body: map[string]any{"n": 2}},
	}
	for range 2 {
		docs, err := Collect(src.Documents(context.Background()))
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "1", docs[0].ID)
		assert.Equal(t, "2", docs[1].ID)
	}
}

func TestStatic_StopsEarly(t *testing.T) {
	src := Static{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	var seen []string
	for d, err := range src.Documents(context.Background()) {
		require.NoError(t, err)
		seen = append(seen, d.ID)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"1", "2"}, seen)
}

func TestStatic_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(Static{{ID: "1"}}.Documents(ctx))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFunc(t *testing.T) {
	boom := errors.New("boom")
	src := Func(func(ctx context.Context) iter.Seq2[Document, error] {
		return func(yield func(Document, error) bool) {
			if !yield(Document{ID: "a"}, nil) {
				return
			}
			yield(Document{}, boom)
		}
	})
	docs, err := Collect(src.Documents(context.Background()))
	assert.True(t, errors.Is(err, boom))
	assert.Len(t, docs, 1)
}
