package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Dialect is the wire-protocol family spoken by the search engine.
type Dialect int

const (
	DialectUnknown Dialect = 0
	// DialectV6 requires a document type on document and mapping calls and
	// returns hits.total as a bare integer.
	DialectV6 Dialect = 6
	// DialectV7 is typeless. Elasticsearch 7+ and OpenSearch speak it.
	DialectV7 Dialect = 7
)

// DefaultDocType is the sentinel document type sent to v6 engines.
const DefaultDocType = "_doc"

func (d Dialect) String() string {
	switch d {
	case DialectV6:
		return "6"
	case DialectV7:
		return "7"
	default:
		return "unknown"
	}
}

// ParseDialect maps a version.number / version.distribution pair from the
// root endpoint to a Dialect.
func ParseDialect(number, distribution string) (Dialect, error) {
	if strings.EqualFold(distribution, "opensearch") {
		return DialectV7, nil
	}
	major, _, _ := strings.Cut(strings.TrimSpace(number), ".")
	n, err := strconv.Atoi(major)
	if err != nil || major == "" {
		return DialectUnknown, fmt.Errorf("unrecognized engine version %q", number)
	}
	switch {
	case n == 6:
		return DialectV6, nil
	case n >= 7:
		return DialectV7, nil
	default:
		return DialectUnknown, fmt.Errorf("unsupported engine major version %d", n)
	}
}

// protocol holds everything that differs between dialects. An implementation
// is picked once per Client from the resolved Dialect.
type protocol interface {
	dialect() Dialect
	get(ctx context.Context, t esapi.Transport, index, id string) (*esapi.Response, error)
	putDocument(ctx context.Context, t esapi.Transport, index, id string, body []byte, opts PutOptions) (*esapi.Response, error)
	deleteDocument(ctx context.Context, t esapi.Transport, index, id string, opts DeleteOptions) (*esapi.Response, error)
	putMapping(ctx context.Context, t esapi.Transport, index string, body []byte) (*esapi.Response, error)
	unwrapMapping(mappings json.RawMessage) (json.RawMessage, error)
	normalizeSearch(body []byte) ([]byte, error)
	decorateAction(meta map[string]string)
}

func newProtocol(d Dialect, docType string) protocol {
	if d == DialectV6 {
		if docType == "" {
			docType = DefaultDocType
		}
		return typedProtocol{docType: docType}
	}
	return typelessProtocol{}
}

// typelessProtocol speaks the v7 dialect through plain esapi requests. esapi
// writes DocumentID into the path verbatim, so ids are escaped here.
type typelessProtocol struct{}

func (typelessProtocol) dialect() Dialect { return DialectV7 }

func (typelessProtocol) get(ctx context.Context, t esapi.Transport, index, id string) (*esapi.Response, error) {
	return esapi.GetRequest{Index: index, DocumentID: url.PathEscape(id)}.Do(ctx, t)
}

func (typelessProtocol) putDocument(ctx context.Context, t esapi.Transport, index, id string, body []byte, opts PutOptions) (*esapi.Response, error) {
	return esapi.IndexRequest{
		Index:      index,
		DocumentID: url.PathEscape(id),
		Body:       bytes.NewReader(body),
		OpType:     opts.OpType,
		Refresh:    opts.Refresh,
	}.Do(ctx, t)
}

func (typelessProtocol) deleteDocument(ctx context.Context, t esapi.Transport, index, id string, opts DeleteOptions) (*esapi.Response, error) {
	req := esapi.DeleteRequest{Index: index, DocumentID: url.PathEscape(id), Refresh: opts.Refresh}
	if opts.IfSeqNo != nil && opts.IfPrimaryTerm != nil {
		seqNo, term := int(*opts.IfSeqNo), int(*opts.IfPrimaryTerm)
		req.IfSeqNo = &seqNo
		req.IfPrimaryTerm = &term
	}
	return req.Do(ctx, t)
}

func (typelessProtocol) putMapping(ctx context.Context, t esapi.Transport, index string, body []byte) (*esapi.Response, error) {
	return esapi.IndicesPutMappingRequest{Index: []string{index}, Body: bytes.NewReader(body)}.Do(ctx, t)
}

func (typelessProtocol) unwrapMapping(mappings json.RawMessage) (json.RawMessage, error) {
	return mappings, nil
}

func (typelessProtocol) normalizeSearch(body []byte) ([]byte, error) { return body, nil }

func (typelessProtocol) decorateAction(map[string]string) {}

// typedProtocol speaks the v6 dialect. The v8 esapi request structs have no
// document type parameter, so typed paths are built here.
type typedProtocol struct {
	docType string
}

func (typedProtocol) dialect() Dialect { return DialectV6 }

func (p typedProtocol) get(ctx context.Context, t esapi.Transport, index, id string) (*esapi.Response, error) {
	return perform(ctx, t, http.MethodGet, p.docPath(index, id), nil, nil)
}

func (p typedProtocol) putDocument(ctx context.Context, t esapi.Transport, index, id string, body []byte, opts PutOptions) (*esapi.Response, error) {
	params := url.Values{}
	if opts.OpType != "" {
		params.Set("op_type", opts.OpType)
	}
	if opts.Refresh != "" {
		params.Set("refresh", opts.Refresh)
	}
	return perform(ctx, t, http.MethodPut, p.docPath(index, id), params, body)
}

func (p typedProtocol) deleteDocument(ctx context.Context, t esapi.Transport, index, id string, opts DeleteOptions) (*esapi.Response, error) {
	params := url.Values{}
	if opts.IfSeqNo != nil && opts.IfPrimaryTerm != nil {
		params.Set("if_seq_no", strconv.FormatInt(*opts.IfSeqNo, 10))
		params.Set("if_primary_term", strconv.FormatInt(*opts.IfPrimaryTerm, 10))
	}
	if opts.Refresh != "" {
		params.Set("refresh", opts.Refresh)
	}
	return perform(ctx, t, http.MethodDelete, p.docPath(index, id), params, nil)
}

// docPath builds /{index}/{type}/{id}. Document ids are arbitrary strings and
// are escaped so '?', '#', '%' and '/' stay part of the id.
func (p typedProtocol) docPath(index, id string) string {
	return "/" + index + "/" + p.docType + "/" + url.PathEscape(id)
}

func (p typedProtocol) putMapping(ctx context.Context, t esapi.Transport, index string, body []byte) (*esapi.Response, error) {
	return perform(ctx, t, http.MethodPut, "/"+index+"/_mapping/"+p.docType, nil, body)
}

// unwrapMapping strips the {"<type>": {...}} level v6 engines put under
// "mappings". An index created without mapping has an empty object there.
func (p typedProtocol) unwrapMapping(mappings json.RawMessage) (json.RawMessage, error) {
	var byType map[string]json.RawMessage
	if err := json.Unmarshal(mappings, &byType); err != nil {
		return nil, fmt.Errorf("decoding typed mapping: %w", err)
	}
	if inner, ok := byType[p.docType]; ok {
		return inner, nil
	}
	if len(byType) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return mappings, nil
}

// normalizeSearch rewrites a bare integer hits.total into
// {"value": n, "relation": "eq"}. Every other field keeps its value.
func (typedProtocol) normalizeSearch(body []byte) ([]byte, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	hitsRaw, ok := top["hits"]
	if !ok {
		return body, nil
	}
	var hits map[string]json.RawMessage
	if err := json.Unmarshal(hitsRaw, &hits); err != nil {
		return nil, fmt.Errorf("decoding search hits: %w", err)
	}
	totalRaw, ok := hits["total"]
	if !ok {
		return body, nil
	}
	var total int
	if err := json.Unmarshal(totalRaw, &total); err != nil {
		// Already structured.
		return body, nil
	}
	wrapped, err := json.Marshal(HitsTotal{Value: total, Relation: "eq"})
	if err != nil {
		return nil, err
	}
	hits["total"] = wrapped
	if top["hits"], err = json.Marshal(hits); err != nil {
		return nil, err
	}
	return json.Marshal(top)
}

func (p typedProtocol) decorateAction(meta map[string]string) {
	meta["_type"] = p.docType
}

// perform sends a hand-built request through the transport and wraps the
// answer the same way esapi does.
func perform(ctx context.Context, t esapi.Transport, method, path string, params url.Values, body []byte) (*esapi.Response, error) {
	target := path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := t.Perform(req)
	if err != nil {
		return nil, err
	}
	return &esapi.Response{StatusCode: res.StatusCode, Header: res.Header, Body: res.Body}, nil
}
