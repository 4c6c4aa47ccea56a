package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

// Config holds the complete application configuration.
type Config struct {
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
	Indexing      IndexingConfig      `koanf:"indexing"`
	Database      DatabaseConfig      `koanf:"database"`
	Collections   []CollectionConfig  `koanf:"collections"`
	Lock          LockConfig          `koanf:"lock"`
	Runs          RunsConfig          `koanf:"runs"`
	Admin         AdminConfig         `koanf:"admin"`
	Logging       LoggingConfig       `koanf:"logging"`

	// dir is the directory of the loaded file; relative paths resolve against it.
	dir string
}

type ElasticsearchConfig struct {
	URLs       []string  `koanf:"urls"`
	Username   string    `koanf:"username"`
	Password   string    `koanf:"password"`
	DocType    string    `koanf:"doc_type"` // Sentinel document type sent to 6.x engines.
	MaxRetries int       `koanf:"max_retries"`
	TLS        TLSConfig `koanf:"tls"`
}

type TLSConfig struct {
	CACert     string `koanf:"ca_cert"`
	SkipVerify bool   `koanf:"skip_verify"`
}

type IndexingConfig struct {
	Prefix        string `koanf:"prefix"` // Aliases become <prefix>_<collection>.
	Schedule      string `koanf:"schedule"`
	ChunkSize     int    `koanf:"chunk_size"`
	MaxChunkBytes int    `koanf:"max_chunk_bytes"`
	MaxFailures   int    `koanf:"max_failures"` // Failed documents tolerated before the swap is withheld.
	OpType        string `koanf:"op_type"`
	Parallelism   int    `koanf:"parallelism"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type CollectionConfig struct {
	Name         string       `koanf:"name"`
	Alias        string       `koanf:"alias"`
	MappingFile  string       `koanf:"mapping_file"`
	SettingsFile string       `koanf:"settings_file"`
	Source       SourceConfig `koanf:"source"`
}

const (
	SourceSQL    = "sql"
	SourceNDJSON = "ndjson"
)

type SourceConfig struct {
	Type           string   `koanf:"type"`
	Query          string   `koanf:"query"`
	Path           string   `koanf:"path"`
	IDField        string   `koanf:"id_field"`
	CompleteFields []string `koanf:"complete_fields"`
}

const (
	LockNone    = "none"
	LockElastic = "elastic"
	LockRedis   = "redis"
)

type LockConfig struct {
	Backend string        `koanf:"backend"`
	TTL     time.Duration `koanf:"ttl"`
	Index   string        `koanf:"index"`
	Redis   RedisConfig   `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type RunsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Index   string `koanf:"index"`
}

type AdminConfig struct {
	Listen string `koanf:"listen"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "text" or "json"
}

// Load reads configuration from the given YAML file path.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.dir = filepath.Dir(path)

	setDefaults(k, &cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// AliasFor returns the alias readers query for a collection.
func (c *Config) AliasFor(col CollectionConfig) string {
	if col.Alias != "" {
		return col.Alias
	}
	if c.Indexing.Prefix == "" {
		return col.Name
	}
	return c.Indexing.Prefix + "_" + col.Name
}

// ResolvePath makes a path from the config file absolute relative to the
// file's directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

func setDefaults(k *koanf.Koanf, cfg *Config) {
	if cfg.Elasticsearch.DocType == "" {
		cfg.Elasticsearch.DocType = "_doc"
	}
	if !k.Exists("elasticsearch.max_retries") {
		cfg.Elasticsearch.MaxRetries = 3
	}
	if cfg.Indexing.Schedule == "" {
		cfg.Indexing.Schedule = "0 3 * * *"
	}
	if cfg.Indexing.ChunkSize <= 0 {
		cfg.Indexing.ChunkSize = 500
	}
	if cfg.Indexing.MaxChunkBytes <= 0 {
		cfg.Indexing.MaxChunkBytes = 100 * 1024 * 1024
	}
	if cfg.Indexing.OpType == "" {
		cfg.Indexing.OpType = "index"
	}
	if cfg.Indexing.Parallelism <= 0 {
		cfg.Indexing.Parallelism = 1
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 4
	}
	for i := range cfg.Collections {
		if cfg.Collections[i].Source.IDField == "" {
			cfg.Collections[i].Source.IDField = "id"
		}
	}
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = LockNone
	}
	if cfg.Lock.TTL <= 0 {
		cfg.Lock.TTL = 2 * time.Hour
	}
	if cfg.Lock.Index == "" {
		cfg.Lock.Index = ".portalindex-locks"
	}
	if !k.Exists("runs.enabled") {
		cfg.Runs.Enabled = true
	}
	if cfg.Runs.Index == "" {
		cfg.Runs.Index = ".portalindex-runs"
	}
	if cfg.Admin.Listen == "" {
		cfg.Admin.Listen = ":9400"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	if len(cfg.Elasticsearch.URLs) == 0 {
		return fmt.Errorf("elasticsearch.urls is required")
	}
	for _, raw := range cfg.Elasticsearch.URLs {
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("invalid elasticsearch.urls entry %q: %w", raw, err)
		}
	}

	if _, err := cron.ParseStandard(cfg.Indexing.Schedule); err != nil {
		return fmt.Errorf("invalid indexing.schedule %q: %w", cfg.Indexing.Schedule, err)
	}
	if cfg.Indexing.OpType != "index" && cfg.Indexing.OpType != "create" {
		return fmt.Errorf("indexing.op_type must be index or create, got %q", cfg.Indexing.OpType)
	}
	if cfg.Indexing.MaxFailures < 0 {
		return fmt.Errorf("indexing.max_failures must not be negative")
	}

	if len(cfg.Collections) == 0 {
		return fmt.Errorf("at least one collection is required")
	}
	seen := make(map[string]bool, len(cfg.Collections))
	for i, col := range cfg.Collections {
		if col.Name == "" {
			return fmt.Errorf("collections[%d].name is required", i)
		}
		if seen[col.Name] {
			return fmt.Errorf("duplicate collection %q", col.Name)
		}
		seen[col.Name] = true

		switch col.Source.Type {
		case SourceSQL:
			if col.Source.Query == "" {
				return fmt.Errorf("collection %s: source.query is required for sql sources", col.Name)
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("collection %s: database.url is required for sql sources", col.Name)
			}
		case SourceNDJSON:
			if col.Source.Path == "" {
				return fmt.Errorf("collection %s: source.path is required for ndjson sources", col.Name)
			}
		default:
			return fmt.Errorf("collection %s: unknown source type %q", col.Name, col.Source.Type)
		}
	}

	switch cfg.Lock.Backend {
	case LockNone, LockElastic:
	case LockRedis:
		if cfg.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unknown lock.backend %q", cfg.Lock.Backend)
	}

	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}

	return nil
}
