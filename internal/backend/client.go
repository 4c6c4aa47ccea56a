package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Config configures the connection to the search engine.
type Config struct {
	URLs       []string
	Username   string
	Password   string
	DocType    string // sentinel document type for the v6 dialect
	MaxRetries int
	// DisableRetry sends every request once. A zero MaxRetries alone keeps
	// the transport default.
	DisableRetry bool
	Transport    http.RoundTripper
}

// Client is a dialect-neutral search engine client. Callers issue the same
// calls against v6 and v7 engines; the dialect is looked up on first use and
// kept for the lifetime of the Client.
type Client struct {
	transport esapi.Transport
	docType   string

	mu    sync.Mutex
	proto protocol
}

// NewClient creates a Client backed by an elastic-transport connection pool.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("at least one search engine URL is required")
	}
	urls := make([]*url.URL, 0, len(cfg.URLs))
	for _, raw := range cfg.URLs {
		u, err := url.Parse(strings.TrimRight(raw, "/"))
		if err != nil {
			return nil, fmt.Errorf("parsing search engine URL %q: %w", raw, err)
		}
		urls = append(urls, u)
	}
	tp, err := elastictransport.New(elastictransport.Config{
		URLs:         urls,
		Username:     cfg.Username,
		Password:     cfg.Password,
		MaxRetries:   cfg.MaxRetries,
		DisableRetry: cfg.DisableRetry,
		Transport:    cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("creating search engine transport: %w", err)
	}
	return NewWithTransport(tp, cfg.DocType), nil
}

// NewWithTransport creates a Client on top of an existing transport.
func NewWithTransport(t esapi.Transport, docType string) *Client {
	if docType == "" {
		docType = DefaultDocType
	}
	return &Client{transport: t, docType: docType}
}

// Dialect returns the wire-protocol dialect of the engine, querying the root
// endpoint the first time. Failures are not cached; there is no fallback
// dialect.
func (c *Client) Dialect(ctx context.Context) (Dialect, error) {
	p, err := c.protocol(ctx)
	if err != nil {
		return DialectUnknown, err
	}
	return p.dialect(), nil
}

func (c *Client) protocol(ctx context.Context) (protocol, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proto != nil {
		return c.proto, nil
	}

	res, err := esapi.InfoRequest{}.Do(ctx, c.transport)
	body, err := readResponse(res, err, "/")
	if err != nil {
		return nil, fmt.Errorf("resolving engine version: %w", err)
	}
	var info struct {
		Version struct {
			Number       string `json:"number"`
			Distribution string `json:"distribution"`
		} `json:"version"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding engine info: %w", err)
	}
	d, err := ParseDialect(info.Version.Number, info.Version.Distribution)
	if err != nil {
		return nil, fmt.Errorf("resolving engine version: %w", err)
	}
	slog.Info("search engine dialect resolved",
		"version", info.Version.Number,
		"distribution", info.Version.Distribution,
		"dialect", d.String(),
	)
	c.proto = newProtocol(d, c.docType)
	return c.proto, nil
}

// Get fetches a single document. A missing document or index yields an error
// matching ErrNotFound.
func (c *Client) Get(ctx context.Context, index, id string) (*GetResult, error) {
	p, err := c.protocol(ctx)
	if err != nil {
		return nil, err
	}
	res, err := p.get(ctx, c.transport, index, id)
	body, err := readResponse(res, err, "/"+index+"/"+id)
	if err != nil {
		return nil, err
	}
	var result GetResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding get response: %w", err)
	}
	return &result, nil
}

// Search runs a query and returns the response with hits.total in the
// structured {value, relation} form.
func (c *Client) Search(ctx context.Context, index string, query []byte) (*SearchResponse, error) {
	p, err := c.protocol(ctx)
	if err != nil {
		return nil, err
	}
	req := esapi.SearchRequest{Body: bytes.NewReader(query)}
	if index != "" {
		req.Index = []string{index}
	}
	res, err := req.Do(ctx, c.transport)
	body, err := readResponse(res, err, "/"+index+"/_search")
	if err != nil {
		slog.Error("search failed", "index", index, "error", err)
		return nil, err
	}
	normalized, err := p.normalizeSearch(body)
	if err != nil {
		return nil, err
	}
	var result SearchResponse
	if err := json.Unmarshal(normalized, &result); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	result.Raw = normalized
	return &result, nil
}

// PutMapping applies a mapping body ({"properties": {...}}) to an index.
func (c *Client) PutMapping(ctx context.Context, index string, mapping []byte) error {
	p, err := c.protocol(ctx)
	if err != nil {
		return err
	}
	res, err := p.putMapping(ctx, c.transport, index, mapping)
	_, err = readResponse(res, err, "/"+index+"/_mapping")
	return err
}

// GetMapping returns the mapping body of every index matched by index, in
// the same shape for both dialects.
func (c *Client) GetMapping(ctx context.Context, index string) (map[string]json.RawMessage, error) {
	p, err := c.protocol(ctx)
	if err != nil {
		return nil, err
	}
	res, err := esapi.IndicesGetMappingRequest{Index: []string{index}}.Do(ctx, c.transport)
	body, err := readResponse(res, err, "/"+index+"/_mapping")
	if err != nil {
		return nil, err
	}
	var raw map[string]struct {
		Mappings json.RawMessage `json:"mappings"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding mapping response: %w", err)
	}
	out := make(map[string]json.RawMessage, len(raw))
	for name, entry := range raw {
		if len(entry.Mappings) == 0 {
			out[name] = json.RawMessage(`{}`)
			continue
		}
		m, err := p.unwrapMapping(entry.Mappings)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", name, err)
		}
		out[name] = m
	}
	return out, nil
}

// CreateIndex creates an index. body may be nil.
func (c *Client) CreateIndex(ctx context.Context, index string, body []byte) error {
	req := esapi.IndicesCreateRequest{Index: index}
	if body != nil {
		req.Body = bytes.NewReader(body)
	}
	res, err := req.Do(ctx, c.transport)
	_, err = readResponse(res, err, "/"+index)
	return err
}

// CloseIndex closes an index so static settings (analysis) can be changed.
func (c *Client) CloseIndex(ctx context.Context, index string) error {
	res, err := esapi.IndicesCloseRequest{Index: []string{index}}.Do(ctx, c.transport)
	_, err = readResponse(res, err, "/"+index+"/_close")
	return err
}

// OpenIndex reopens a closed index.
func (c *Client) OpenIndex(ctx context.Context, index string) error {
	res, err := esapi.IndicesOpenRequest{Index: []string{index}}.Do(ctx, c.transport)
	_, err = readResponse(res, err, "/"+index+"/_open")
	return err
}

// PutSettings updates index settings.
func (c *Client) PutSettings(ctx context.Context, index string, settings []byte) error {
	req := esapi.IndicesPutSettingsRequest{Index: []string{index}, Body: bytes.NewReader(settings)}
	res, err := req.Do(ctx, c.transport)
	_, err = readResponse(res, err, "/"+index+"/_settings")
	return err
}

// Refresh makes recent writes to index visible to search.
func (c *Client) Refresh(ctx context.Context, index string) error {
	res, err := esapi.IndicesRefreshRequest{Index: []string{index}}.Do(ctx, c.transport)
	_, err = readResponse(res, err, "/"+index+"/_refresh")
	return err
}

// DeleteIndex deletes an index.
func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	res, err := esapi.IndicesDeleteRequest{Index: []string{index}}.Do(ctx, c.transport)
	_, err = readResponse(res, err, "/"+index)
	return err
}

// GetAliases lists alias bindings. index and name are optional and may hold
// wildcards. A 404 (alias or index missing) yields an empty result.
func (c *Client) GetAliases(ctx context.Context, index, name string) (IndexAliases, error) {
	req := esapi.IndicesGetAliasRequest{}
	path := ""
	if index != "" {
		req.Index = []string{index}
		path = "/" + index
	}
	path += "/_alias"
	if name != "" {
		req.Name = []string{name}
		path += "/" + name
	}
	res, err := req.Do(ctx, c.transport)
	body, err := readResponse(res, err, path)
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return IndexAliases{}, nil
		}
		return nil, err
	}
	var raw map[string]struct {
		Aliases map[string]json.RawMessage `json:"aliases"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding alias response: %w", err)
	}
	out := make(IndexAliases, len(raw))
	for idx, entry := range raw {
		names := make([]string, 0, len(entry.Aliases))
		for alias := range entry.Aliases {
			names = append(names, alias)
		}
		sort.Strings(names)
		out[idx] = names
	}
	return out, nil
}

// UpdateAliases submits all actions in a single _aliases call, which the
// engine applies atomically.
func (c *Client) UpdateAliases(ctx context.Context, actions []AliasAction) error {
	if len(actions) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string][]AliasAction{"actions": actions})
	if err != nil {
		return fmt.Errorf("marshaling alias actions: %w", err)
	}
	res, err := esapi.IndicesUpdateAliasesRequest{Body: bytes.NewReader(body)}.Do(ctx, c.transport)
	_, err = readResponse(res, err, "/_aliases")
	return err
}

// PutDocument writes a single document by id.
func (c *Client) PutDocument(ctx context.Context, index, id string, body []byte, opts PutOptions) error {
	p, err := c.protocol(ctx)
	if err != nil {
		return err
	}
	res, err := p.putDocument(ctx, c.transport, index, id, body, opts)
	_, err = readResponse(res, err, "/"+index+"/"+id)
	return err
}

// DeleteDocument deletes a single document by id.
func (c *Client) DeleteDocument(ctx context.Context, index, id string, opts DeleteOptions) error {
	p, err := c.protocol(ctx)
	if err != nil {
		return err
	}
	res, err := p.deleteDocument(ctx, c.transport, index, id, opts)
	_, err = readResponse(res, err, "/"+index+"/"+id)
	return err
}

// readResponse drains an esapi response and turns non-2xx statuses into
// *HTTPStatusError.
func readResponse(res *esapi.Response, err error, path string) ([]byte, error) {
	if err != nil {
		return nil, fmt.Errorf("executing request %s: %w", path, err)
	}
	if res.Body == nil {
		if res.StatusCode >= 300 {
			return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: path}
		}
		return nil, nil
	}
	defer res.Body.Close()
	body, readErr := io.ReadAll(res.Body)
	if readErr != nil {
		return nil, fmt.Errorf("reading response %s: %w", path, readErr)
	}
	if res.StatusCode >= 300 {
		return body, &HTTPStatusError{StatusCode: res.StatusCode, URL: path, Body: string(body)}
	}
	return body, nil
}
