package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNDJSON_Documents(t *testing.T) {
	path := writeFile(t, `{"slug":"go-101","title":{"en":"Go 101"}}
{"slug":"rust","title":{"en":"Rust"}}

{"slug":12,"title":{"en":"Numbered"}}
`)
	src := &NDJSON{Path: path, IDField: "slug"}

	docs, err := Collect(src.Documents(context.Background()))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "go-101", docs[0].ID)
	assert.Equal(t, "rust", docs[1].ID)
	assert.Equal(t, "12", docs[2].ID)
	assert.Equal(t, "go-101", docs[0].Body["slug"])
}

func TestNDJSON_Errors(t *testing.T) {
	cases := map[string]string{
		"missing id": `{"title":"x"}`,
		"empty id":   `{"slug":""}`,
		"object id":  `{"slug":{"a":1}}`,
		"bad json":   `{"slug":"a"`,
		"not object": `["slug"]`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			src := &NDJSON{Path: writeFile(t, content), IDField: "slug"}
			_, err := Collect(src.Documents(context.Background()))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), "record 1"), err.Error())
		})
	}
}

func TestNDJSON_MissingFile(t *testing.T) {
	src := &NDJSON{Path: filepath.Join(t.TempDir(), "nope.ndjson"), IDField: "id"}
	_, err := Collect(src.Documents(context.Background()))
	assert.Error(t, err)
}
