// Package backendtest provides an in-memory search engine that speaks the v6
// (typed) or v7 (typeless) REST dialect over HTTP, for tests of code built on
// backend.Client.
package backendtest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/leonunix/portalindex/internal/backend"
)

// Request is a recorded call to the fake engine.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// Interceptor may answer a request instead of the emulation. Returning
// ok=false lets the request through.
type Interceptor func(r Request) (status int, body string, ok bool)

type index struct {
	closed   bool
	settings map[string]any
	mapping  json.RawMessage
	aliases  map[string]struct{}
	docs     map[string]*doc
}

type doc struct {
	source json.RawMessage
	seqNo  int64
}

// Server is the fake engine.
type Server struct {
	*httptest.Server

	version string
	dialect backend.Dialect
	docType string

	mu        sync.Mutex
	indices   map[string]*index
	seqNo     int64
	requests  []Request
	intercept Interceptor
}

// New starts a fake engine reporting the given version number ("6.8.23",
// "7.17.9", ...). It is closed when the test ends.
func New(t testing.TB, version string) *Server {
	t.Helper()
	s, err := NewServer(version)
	if err != nil {
		t.Fatalf("backendtest: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// NewServer starts a fake engine the caller must Close.
func NewServer(version string) (*Server, error) {
	d, err := backend.ParseDialect(version, "")
	if err != nil {
		return nil, err
	}
	s := &Server{
		version: version,
		dialect: d,
		docType: backend.DefaultDocType,
		indices: make(map[string]*index),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s, nil
}

// Client returns a backend.Client connected to the fake engine.
func (s *Server) Client(t testing.TB) *backend.Client {
	t.Helper()
	c, err := backend.NewClient(backend.Config{URLs: []string{s.URL}, DocType: s.docType})
	if err != nil {
		t.Fatalf("backendtest: creating client: %v", err)
	}
	return c
}

// Intercept installs (or, with nil, removes) a request interceptor.
func (s *Server) Intercept(fn Interceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercept = fn
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo returns the recorded requests with the given method whose path
// ends with suffix.
func (s *Server) RequestsTo(method, suffix string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasSuffix(r.Path, suffix) {
			out = append(out, r)
		}
	}
	return out
}

// Indices returns the names of all indices, sorted.
func (s *Server) Indices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.indices))
	for name := range s.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AliasTargets returns the indices the alias points to, sorted.
func (s *Server) AliasTargets(alias string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliasTargets(alias)
}

// Aliases returns the aliases bound to a concrete index, sorted.
func (s *Server) Aliases(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(idx.aliases))
	for a := range idx.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// DocCount returns the number of documents stored in a concrete index.
func (s *Server) DocCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[name]; ok {
		return len(idx.docs)
	}
	return 0
}

// Source returns a stored document, or nil.
func (s *Server) Source(name, id string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[name]; ok {
		if d, ok := idx.docs[id]; ok {
			return d.source
		}
	}
	return nil
}

// Settings returns the settings applied to an index after creation.
func (s *Server) Settings(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[name]; ok {
		return idx.settings
	}
	return nil
}

// Seed creates an index holding docs and bound to the given aliases.
func (s *Server) Seed(name string, docs map[string]string, aliases ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := newIndex()
	for id, src := range docs {
		s.seqNo++
		idx.docs[id] = &doc{source: json.RawMessage(src), seqNo: s.seqNo}
	}
	for _, a := range aliases {
		idx.aliases[a] = struct{}{}
	}
	s.indices[name] = idx
}

func newIndex() *index {
	return &index{
		settings: make(map[string]any),
		aliases:  make(map[string]struct{}),
		docs:     make(map[string]*doc),
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	intercept := s.intercept
	s.mu.Unlock()

	if intercept != nil {
		if status, resp, ok := intercept(req); ok {
			writeRaw(w, status, resp)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Split the escaped path so an escaped '/' stays inside its segment.
	parts := strings.Split(strings.Trim(r.URL.EscapedPath(), "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		parts = nil
	}
	for i, part := range parts {
		if unescaped, err := url.PathUnescape(part); err == nil {
			parts[i] = unescaped
		}
	}
	q := r.URL.Query()

	switch {
	case len(parts) == 0:
		s.info(w)
	case parts[0] == "_aliases" && r.Method == http.MethodPost:
		s.updateAliases(w, body)
	case parts[0] == "_alias" && r.Method == http.MethodGet:
		name := ""
		if len(parts) > 1 {
			name = parts[1]
		}
		s.getAliases(w, "", name)
	case parts[0] == "_bulk":
		s.bulk(w, body)
	case len(parts) == 1:
		switch r.Method {
		case http.MethodPut:
			s.createIndex(w, parts[0], body)
		case http.MethodDelete:
			s.deleteIndex(w, parts[0])
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
		}
	case parts[1] == "_close":
		s.setClosed(w, parts[0], true)
	case parts[1] == "_open":
		s.setClosed(w, parts[0], false)
	case parts[1] == "_settings" && r.Method == http.MethodPut:
		s.putSettings(w, parts[0], body)
	case parts[1] == "_mapping" && r.Method == http.MethodPut:
		typ := ""
		if len(parts) > 2 {
			typ = parts[2]
		}
		s.putMapping(w, parts[0], typ, body)
	case parts[1] == "_mapping" && r.Method == http.MethodGet:
		s.getMapping(w, parts[0])
	case parts[1] == "_alias" && r.Method == http.MethodGet:
		name := ""
		if len(parts) > 2 {
			name = parts[2]
		}
		s.getAliases(w, parts[0], name)
	case parts[1] == "_search":
		s.search(w, parts[0], body)
	case parts[1] == "_refresh":
		writeJSON(w, http.StatusOK, map[string]any{"_shards": map[string]int{"total": 1, "successful": 1, "failed": 0}})
	case len(parts) == 3:
		s.document(w, r.Method, parts[0], parts[1], parts[2], q.Get("op_type"), q.Get("if_seq_no"), body)
	default:
		writeError(w, http.StatusBadRequest, "unsupported_operation", r.Method+" "+r.URL.Path)
	}
}

func (s *Server) info(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         "backendtest",
		"cluster_name": "backendtest",
		"version":      map[string]any{"number": s.version},
		"tagline":      "You Know, for Search",
	})
}

// resolve expands a comma separated list of names, wildcards and aliases to
// concrete index names.
func (s *Server) resolve(expr string) ([]string, bool) {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, part := range strings.Split(expr, ",") {
		if strings.ContainsAny(part, "*?") {
			for name := range s.indices {
				if ok, _ := path.Match(part, name); ok {
					add(name)
				}
			}
			continue
		}
		if _, ok := s.indices[part]; ok {
			add(part)
			continue
		}
		targets := s.aliasTargets(part)
		if len(targets) == 0 {
			return nil, false
		}
		for _, t := range targets {
			add(t)
		}
	}
	sort.Strings(out)
	return out, true
}

func (s *Server) aliasTargets(alias string) []string {
	var out []string
	for name, idx := range s.indices {
		if _, ok := idx.aliases[alias]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Server) createIndex(w http.ResponseWriter, name string, body []byte) {
	if _, ok := s.indices[name]; ok {
		writeError(w, http.StatusBadRequest, "resource_already_exists_exception", "index ["+name+"] already exists")
		return
	}
	if strings.ToLower(name) != name {
		writeError(w, http.StatusBadRequest, "invalid_index_name_exception", "must be lowercase")
		return
	}
	idx := newIndex()
	if len(body) > 0 {
		var create struct {
			Settings map[string]any  `json:"settings"`
			Mappings json.RawMessage `json:"mappings"`
		}
		if err := json.Unmarshal(body, &create); err != nil {
			writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
			return
		}
		for k, v := range create.Settings {
			idx.settings[k] = v
		}
		idx.mapping = create.Mappings
	}
	s.indices[name] = idx
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": name})
}

func (s *Server) deleteIndex(w http.ResponseWriter, name string) {
	if _, ok := s.indices[name]; !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}
	delete(s.indices, name)
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *Server) setClosed(w http.ResponseWriter, name string, closed bool) {
	idx, ok := s.indices[name]
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}
	idx.closed = closed
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *Server) putSettings(w http.ResponseWriter, name string, body []byte) {
	idx, ok := s.indices[name]
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}
	var settings map[string]any
	if err := json.Unmarshal(body, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
		return
	}
	if hasAnalysis(settings) && !idx.closed {
		writeError(w, http.StatusBadRequest, "illegal_argument_exception", "Can't update non dynamic settings [[index.analysis]] for open indices")
		return
	}
	for k, v := range settings {
		idx.settings[k] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func hasAnalysis(settings map[string]any) bool {
	if _, ok := settings["analysis"]; ok {
		return true
	}
	if inner, ok := settings["index"].(map[string]any); ok {
		_, ok := inner["analysis"]
		return ok
	}
	return false
}

func (s *Server) putMapping(w http.ResponseWriter, name, typ string, body []byte) {
	idx, ok := s.indices[name]
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}
	switch {
	case s.dialect == backend.DialectV6 && typ == "":
		writeError(w, http.StatusBadRequest, "action_request_validation_exception", "Validation Failed: 1: mapping type is missing;")
		return
	case s.dialect == backend.DialectV6 && typ != s.docType:
		writeError(w, http.StatusBadRequest, "illegal_argument_exception", "Rejecting mapping update to ["+name+"] as the final mapping would have more than 1 type")
		return
	case s.dialect == backend.DialectV7 && typ != "":
		writeError(w, http.StatusBadRequest, "illegal_argument_exception", "Types cannot be provided in put mapping requests, unless the include_type_name parameter is set to true.")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "mapper_parsing_exception", "failed to parse mapping")
		return
	}
	idx.mapping = append(json.RawMessage(nil), body...)
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *Server) getMapping(w http.ResponseWriter, expr string) {
	names, ok := s.resolve(expr)
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+expr+"]")
		return
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		m := s.indices[name].mapping
		switch {
		case len(m) == 0:
			out[name] = map[string]any{"mappings": map[string]any{}}
		case s.dialect == backend.DialectV6:
			out[name] = map[string]any{"mappings": map[string]json.RawMessage{s.docType: m}}
		default:
			out[name] = map[string]any{"mappings": m}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getAliases(w http.ResponseWriter, expr, alias string) {
	var names []string
	if expr == "" {
		for name := range s.indices {
			names = append(names, name)
		}
	} else {
		var ok bool
		names, ok = s.resolve(expr)
		if !ok {
			writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+expr+"]")
			return
		}
	}
	out := make(map[string]any)
	for _, name := range names {
		bound := make(map[string]any)
		for a := range s.indices[name].aliases {
			if alias == "" || matches(alias, a) {
				bound[a] = map[string]any{}
			}
		}
		if alias != "" && len(bound) == 0 {
			continue
		}
		out[name] = map[string]any{"aliases": bound}
	}
	if alias != "" && len(out) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "alias [" + alias + "] missing", "status": 404})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func matches(pattern, name string) bool {
	ok, _ := path.Match(pattern, name)
	return ok
}

// updateAliases validates every action before applying any, so the request
// is all-or-nothing like the real endpoint.
func (s *Server) updateAliases(w http.ResponseWriter, body []byte) {
	var req struct {
		Actions []map[string]struct {
			Index string `json:"index"`
			Alias string `json:"alias"`
		} `json:"actions"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
		return
	}
	for _, action := range req.Actions {
		for verb, a := range action {
			idx, ok := s.indices[a.Index]
			if !ok {
				writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+a.Index+"]")
				return
			}
			switch verb {
			case "add":
			case "remove":
				if _, bound := idx.aliases[a.Alias]; !bound {
					writeError(w, http.StatusNotFound, "aliases_not_found_exception", "aliases ["+a.Alias+"] missing")
					return
				}
			default:
				writeError(w, http.StatusBadRequest, "illegal_argument_exception", "unknown alias action ["+verb+"]")
				return
			}
		}
	}
	for _, action := range req.Actions {
		for verb, a := range action {
			if verb == "add" {
				s.indices[a.Index].aliases[a.Alias] = struct{}{}
			} else {
				delete(s.indices[a.Index].aliases, a.Alias)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *Server) search(w http.ResponseWriter, expr string, body []byte) {
	names, ok := s.resolve(expr)
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+expr+"]")
		return
	}
	size := 10
	if len(body) > 0 {
		var q struct {
			Size *int `json:"size"`
		}
		if err := json.Unmarshal(body, &q); err != nil {
			writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
			return
		}
		if q.Size != nil {
			size = *q.Size
		}
	}
	type hit struct {
		index, id string
		source    json.RawMessage
	}
	var all []hit
	for _, name := range names {
		idx := s.indices[name]
		if idx.closed {
			writeError(w, http.StatusBadRequest, "index_closed_exception", "closed")
			return
		}
		for id, d := range idx.docs {
			all = append(all, hit{index: name, id: id, source: d.source})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].index != all[j].index {
			return all[i].index < all[j].index
		}
		return all[i].id < all[j].id
	})
	hits := make([]map[string]any, 0, size)
	for i, h := range all {
		if i >= size {
			break
		}
		m := map[string]any{"_index": h.index, "_id": h.id, "_score": 1.0, "_source": h.source}
		if s.dialect == backend.DialectV6 {
			m["_type"] = s.docType
		}
		hits = append(hits, m)
	}
	var total any = map[string]any{"value": len(all), "relation": "eq"}
	if s.dialect == backend.DialectV6 {
		total = len(all)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"took":      1,
		"timed_out": false,
		"_shards":   map[string]int{"total": 1, "successful": 1, "skipped": 0, "failed": 0},
		"hits":      map[string]any{"total": total, "max_score": 1.0, "hits": hits},
	})
}

func (s *Server) typeOK(typ string) bool {
	if s.dialect == backend.DialectV6 {
		return typ == s.docType
	}
	return typ == "_doc"
}

func (s *Server) document(w http.ResponseWriter, method, expr, typ, id, opType, ifSeqNo string, body []byte) {
	if !s.typeOK(typ) {
		writeError(w, http.StatusBadRequest, "illegal_argument_exception", "unexpected document type ["+typ+"]")
		return
	}
	switch method {
	case http.MethodGet:
		names, ok := s.resolve(expr)
		if !ok || len(names) != 1 {
			writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+expr+"]")
			return
		}
		d, ok := s.indices[names[0]].docs[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"_index": names[0], "_id": id, "found": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"_index": names[0], "_id": id, "found": true,
			"_seq_no": d.seqNo, "_primary_term": 1, "_source": d.source,
		})
	case http.MethodPut, http.MethodPost:
		idx, ok := s.indices[expr]
		if !ok {
			idx = newIndex()
			s.indices[expr] = idx
		}
		if _, exists := idx.docs[id]; exists && opType == "create" {
			writeError(w, http.StatusConflict, "version_conflict_engine_exception", "["+id+"]: version conflict, document already exists")
			return
		}
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "mapper_parsing_exception", "failed to parse")
			return
		}
		s.seqNo++
		idx.docs[id] = &doc{source: append(json.RawMessage(nil), body...), seqNo: s.seqNo}
		writeJSON(w, http.StatusCreated, map[string]any{"_index": expr, "_id": id, "result": "created", "_seq_no": s.seqNo, "_primary_term": 1})
	case http.MethodDelete:
		idx, ok := s.indices[expr]
		if !ok {
			writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+expr+"]")
			return
		}
		d, ok := idx.docs[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"_index": expr, "_id": id, "result": "not_found"})
			return
		}
		if ifSeqNo != "" && ifSeqNo != fmt.Sprint(d.seqNo) {
			writeError(w, http.StatusConflict, "version_conflict_engine_exception", "["+id+"]: version conflict")
			return
		}
		delete(idx.docs, id)
		writeJSON(w, http.StatusOK, map[string]any{"_index": expr, "_id": id, "result": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", method)
	}
}

func (s *Server) bulk(w http.ResponseWriter, body []byte) {
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var items []map[string]any
	errors := false
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var action map[string]map[string]string
		if err := json.Unmarshal(line, &action); err != nil || len(action) != 1 {
			writeError(w, http.StatusBadRequest, "illegal_argument_exception", "Malformed action/metadata line")
			return
		}
		var op string
		var meta map[string]string
		for op, meta = range action {
		}
		var source json.RawMessage
		if op != backend.OpDelete {
			if !sc.Scan() {
				writeError(w, http.StatusBadRequest, "illegal_argument_exception", "missing source line")
				return
			}
			source = append(json.RawMessage(nil), sc.Bytes()...)
		}
		status, result, reason := s.bulkItem(op, meta, source)
		item := map[string]any{"_index": meta["_index"], "_id": meta["_id"], "status": status}
		if reason != "" {
			errors = true
			item["error"] = map[string]any{"type": result, "reason": reason}
		} else {
			item["result"] = result
		}
		items = append(items, map[string]any{op: item})
	}
	writeJSON(w, http.StatusOK, map[string]any{"took": 1, "errors": errors, "items": items})
}

// bulkItem applies one bulk action. A non-empty reason means failure, with
// result holding the error type.
func (s *Server) bulkItem(op string, meta map[string]string, source json.RawMessage) (status int, result, reason string) {
	typ, typed := meta["_type"]
	switch {
	case s.dialect == backend.DialectV6 && !typed:
		return http.StatusBadRequest, "action_request_validation_exception", "Validation Failed: 1: type is missing;"
	case typed && !s.typeOK(typ):
		return http.StatusBadRequest, "illegal_argument_exception", "unexpected document type [" + typ + "]"
	}
	name, id := meta["_index"], meta["_id"]
	idx, ok := s.indices[name]
	if !ok {
		if op == backend.OpUpdate || op == backend.OpDelete {
			return http.StatusNotFound, "index_not_found_exception", "no such index [" + name + "]"
		}
		idx = newIndex()
		s.indices[name] = idx
	}
	if idx.closed {
		return http.StatusBadRequest, "index_closed_exception", "closed"
	}
	if source != nil && !json.Valid(source) {
		return http.StatusBadRequest, "mapper_parsing_exception", "failed to parse"
	}
	existing, exists := idx.docs[id]
	switch op {
	case backend.OpCreate:
		if exists {
			return http.StatusConflict, "version_conflict_engine_exception", "[" + id + "]: version conflict, document already exists"
		}
	case backend.OpIndex:
	case backend.OpUpdate:
		if !exists {
			return http.StatusNotFound, "document_missing_exception", "[" + id + "]: document missing"
		}
		var partial struct {
			Doc map[string]json.RawMessage `json:"doc"`
		}
		var current map[string]json.RawMessage
		if json.Unmarshal(source, &partial) != nil || json.Unmarshal(existing.source, &current) != nil {
			return http.StatusBadRequest, "mapper_parsing_exception", "failed to parse"
		}
		for k, v := range partial.Doc {
			current[k] = v
		}
		source, _ = json.Marshal(current)
	case backend.OpDelete:
		if !exists {
			return http.StatusNotFound, "not_found", ""
		}
		delete(idx.docs, id)
		return http.StatusOK, "deleted", ""
	default:
		return http.StatusBadRequest, "illegal_argument_exception", "unknown op [" + op + "]"
	}
	s.seqNo++
	idx.docs[id] = &doc{source: source, seqNo: s.seqNo}
	if exists {
		return http.StatusOK, "updated", ""
	}
	return http.StatusCreated, "created", ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, _ := json.Marshal(v)
	writeRaw(w, status, string(b))
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func writeError(w http.ResponseWriter, status int, typ, reason string) {
	writeJSON(w, status, map[string]any{
		"error":  map[string]any{"type": typ, "reason": reason},
		"status": status,
	})
}
