package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
elasticsearch:
  urls: ["http://es1:9200", "http://es2:9200"]
  username: "elastic"
  password: "secret"
  doc_type: "doc"
  max_retries: 0
  tls:
    skip_verify: true
indexing:
  prefix: "richie"
  schedule: "*/30 * * * *"
  chunk_size: 200
  max_failures: 5
  op_type: "create"
  parallelism: 3
database:
  url: "postgres://richie@db/richie"
  conn_max_lifetime: 5m
collections:
  - name: courses
    mapping_file: mappings/courses.yaml
    source:
      type: sql
      query: "SELECT id, document FROM search_courses"
      complete_fields: [title]
  - name: persons
    alias: people
    source:
      type: ndjson
      path: data/persons.ndjson
      id_field: slug
lock:
  backend: redis
  ttl: 30m
  redis:
    addr: "redis:6379"
runs:
  enabled: false
admin:
  listen: ":8080"
logging:
  level: "debug"
  format: "json"
`
	path := writeTempFile(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Elasticsearch.URLs) != 2 || cfg.Elasticsearch.URLs[1] != "http://es2:9200" {
		t.Errorf("Elasticsearch.URLs = %v", cfg.Elasticsearch.URLs)
	}
	if cfg.Elasticsearch.DocType != "doc" {
		t.Errorf("Elasticsearch.DocType = %q", cfg.Elasticsearch.DocType)
	}
	if cfg.Elasticsearch.MaxRetries != 0 {
		t.Errorf("Elasticsearch.MaxRetries = %d, want explicit 0", cfg.Elasticsearch.MaxRetries)
	}
	if !cfg.Elasticsearch.TLS.SkipVerify {
		t.Error("Elasticsearch.TLS.SkipVerify = false, want true")
	}
	if cfg.Indexing.ChunkSize != 200 || cfg.Indexing.MaxFailures != 5 || cfg.Indexing.Parallelism != 3 {
		t.Errorf("Indexing = %+v", cfg.Indexing)
	}
	if cfg.Indexing.OpType != "create" {
		t.Errorf("Indexing.OpType = %q", cfg.Indexing.OpType)
	}
	if cfg.Database.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("Database.ConnMaxLifetime = %v, want 5m", cfg.Database.ConnMaxLifetime)
	}
	if len(cfg.Collections) != 2 {
		t.Fatalf("Collections = %d, want 2", len(cfg.Collections))
	}
	if got := cfg.Collections[0].Source.CompleteFields; len(got) != 1 || got[0] != "title" {
		t.Errorf("Collections[0].Source.CompleteFields = %v", got)
	}
	if cfg.Collections[0].Source.IDField != "id" {
		t.Errorf("default IDField = %q, want id", cfg.Collections[0].Source.IDField)
	}
	if cfg.Collections[1].Source.IDField != "slug" {
		t.Errorf("Collections[1].Source.IDField = %q", cfg.Collections[1].Source.IDField)
	}
	if cfg.Lock.TTL != 30*time.Minute {
		t.Errorf("Lock.TTL = %v, want 30m", cfg.Lock.TTL)
	}
	if cfg.Runs.Enabled {
		t.Error("Runs.Enabled = true, want explicit false")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q", cfg.Logging.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
elasticsearch:
  urls: ["http://es:9200"]
collections:
  - name: courses
    source: { type: ndjson, path: courses.ndjson }
`
	path := writeTempFile(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Elasticsearch.DocType != "_doc" {
		t.Errorf("default DocType = %q", cfg.Elasticsearch.DocType)
	}
	if cfg.Elasticsearch.MaxRetries != 3 {
		t.Errorf("default MaxRetries = %d, want 3", cfg.Elasticsearch.MaxRetries)
	}
	if cfg.Indexing.Schedule != "0 3 * * *" {
		t.Errorf("default Schedule = %q", cfg.Indexing.Schedule)
	}
	if cfg.Indexing.ChunkSize != 500 || cfg.Indexing.MaxChunkBytes != 100*1024*1024 {
		t.Errorf("default chunking = %d/%d", cfg.Indexing.ChunkSize, cfg.Indexing.MaxChunkBytes)
	}
	if cfg.Indexing.MaxFailures != 0 {
		t.Errorf("default MaxFailures = %d, want 0", cfg.Indexing.MaxFailures)
	}
	if cfg.Indexing.OpType != "index" {
		t.Errorf("default OpType = %q", cfg.Indexing.OpType)
	}
	if cfg.Indexing.Parallelism != 1 {
		t.Errorf("default Parallelism = %d", cfg.Indexing.Parallelism)
	}
	if cfg.Lock.Backend != LockNone || cfg.Lock.TTL != 2*time.Hour {
		t.Errorf("default Lock = %+v", cfg.Lock)
	}
	if !cfg.Runs.Enabled || cfg.Runs.Index != ".portalindex-runs" {
		t.Errorf("default Runs = %+v", cfg.Runs)
	}
	if cfg.Admin.Listen != ":9400" {
		t.Errorf("default Admin.Listen = %q", cfg.Admin.Listen)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("default Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing urls", `
collections:
  - name: courses
    source: { type: ndjson, path: c.ndjson }
`},
		{"no collections", `
elasticsearch: { urls: ["http://es:9200"] }
`},
		{"duplicate collection", `
elasticsearch: { urls: ["http://es:9200"] }
collections:
  - name: courses
    source: { type: ndjson, path: a.ndjson }
  - name: courses
    source: { type: ndjson, path: b.ndjson }
`},
		{"sql without database", `
elasticsearch: { urls: ["http://es:9200"] }
collections:
  - name: courses
    source: { type: sql, query: "SELECT 1" }
`},
		{"unknown source", `
elasticsearch: { urls: ["http://es:9200"] }
collections:
  - name: courses
    source: { type: mongo }
`},
		{"bad schedule", `
elasticsearch: { urls: ["http://es:9200"] }
indexing: { schedule: "every day" }
collections:
  - name: courses
    source: { type: ndjson, path: a.ndjson }
`},
		{"bad op type", `
elasticsearch: { urls: ["http://es:9200"] }
indexing: { op_type: "upsert" }
collections:
  - name: courses
    source: { type: ndjson, path: a.ndjson }
`},
		{"redis without addr", `
elasticsearch: { urls: ["http://es:9200"] }
lock: { backend: redis }
collections:
  - name: courses
    source: { type: ndjson, path: a.ndjson }
`},
		{"bad log format", `
elasticsearch: { urls: ["http://es:9200"] }
logging: { format: xml }
collections:
  - name: courses
    source: { type: ndjson, path: a.ndjson }
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeTempFile(t, tt.content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestAliasFor(t *testing.T) {
	cfg := &Config{Indexing: IndexingConfig{Prefix: "richie"}}

	if got := cfg.AliasFor(CollectionConfig{Name: "courses"}); got != "richie_courses" {
		t.Errorf("AliasFor(courses) = %q, want %q", got, "richie_courses")
	}
	if got := cfg.AliasFor(CollectionConfig{Name: "persons", Alias: "people"}); got != "people" {
		t.Errorf("AliasFor(persons) = %q, want %q", got, "people")
	}

	cfg.Indexing.Prefix = ""
	if got := cfg.AliasFor(CollectionConfig{Name: "courses"}); got != "courses" {
		t.Errorf("AliasFor without prefix = %q, want %q", got, "courses")
	}
}

func TestLoadDocument(t *testing.T) {
	path := writeTempFile(t, `
elasticsearch: { urls: ["http://es:9200"] }
collections:
  - name: courses
    mapping_file: courses.yaml
    source: { type: ndjson, path: a.ndjson }
`)
	mapping := `
properties:
  title:
    type: text
  duration:
    type: integer
`
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "courses.yaml"), []byte(mapping), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	doc, err := cfg.LoadDocument(cfg.Collections[0].MappingFile)
	if err != nil {
		t.Fatalf("LoadDocument() error = %v", err)
	}
	want := `{"properties":{"duration":{"type":"integer"},"title":{"type":"text"}}}`
	if string(doc) != want {
		t.Errorf("LoadDocument() = %s, want %s", doc, want)
	}

	if doc, err := cfg.LoadDocument(""); err != nil || doc != nil {
		t.Errorf("LoadDocument(\"\") = %s, %v, want nil, nil", doc, err)
	}
	if _, err := cfg.LoadDocument("missing.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
