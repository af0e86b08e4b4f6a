package vectorstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
)

// fakeES implements the subset of the Elasticsearch REST API the store
// uses: index exists/create, _bulk, _search with script_score cosine
// ranking, _count and _refresh. Documents become searchable only after a
// refresh, like the real engine.
type fakeES struct {
	mu sync.Mutex

	indices map[string]*fakeIndex

	creates  int
	bulks    int
	searches int

	lastSearch map[string]any

	// reject, when set, makes the bulk item for a source fail
	reject func(src map[string]any) bool
	// searchStatus, when non-zero, fails every search with that status
	searchStatus int
}

type fakeIndex struct {
	mapping map[string]any
	dims    int
	docs    []fakeDoc
	pending []fakeDoc
}

type fakeDoc struct {
	id     string
	source map[string]any
}

func newFakeES(t *testing.T) (*fakeES, *httptest.Server) {
	t.Helper()
	f := &fakeES{indices: map[string]*fakeIndex{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeES) index(name string) *fakeIndex {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indices[name]
}

func (f *fakeES) counts() (creates, bulks, searches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.bulks, f.searches
}

func (f *fakeES) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/":
		writeJSON(w, http.StatusOK, map[string]any{
			"version": map[string]any{"number": "8.15.0", "build_flavor": "default"},
			"tagline": "You Know, for Search",
		})
	case len(parts) == 1 && r.Method == http.MethodHead:
		if _, ok := f.indices[parts[0]]; ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case len(parts) == 1 && r.Method == http.MethodPut:
		f.createIndex(w, r, parts[0])
	case parts[len(parts)-1] == "_bulk":
		f.bulk(w, r, parts)
	case len(parts) == 2 && parts[1] == "_search":
		f.search(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "_count":
		idx, ok := f.indices[parts[0]]
		if !ok {
			writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(idx.docs)})
	case len(parts) == 2 && parts[1] == "_refresh":
		idx, ok := f.indices[parts[0]]
		if !ok {
			writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index")
			return
		}
		idx.docs = append(idx.docs, idx.pending...)
		idx.pending = nil
		writeJSON(w, http.StatusOK, map[string]any{"_shards": map[string]any{"total": 1, "successful": 1}})
	default:
		writeError(w, http.StatusBadRequest, "unsupported", r.Method+" "+r.URL.Path)
	}
}

func (f *fakeES) createIndex(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := f.indices[name]; ok {
		writeError(w, http.StatusBadRequest, "resource_already_exists_exception", "index ["+name+"] already exists")
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
		return
	}
	idx := &fakeIndex{mapping: body}
	props, _ := body["mappings"].(map[string]any)["properties"].(map[string]any)
	if vec, ok := props["vector"].(map[string]any); ok {
		if dims, ok := vec["dims"].(float64); ok {
			idx.dims = int(dims)
		}
	}
	f.indices[name] = idx
	f.creates++
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": name})
}

func (f *fakeES) bulk(w http.ResponseWriter, r *http.Request, parts []string) {
	f.bulks++

	var items []any
	hasErrors := false
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var action map[string]map[string]any
		if err := json.Unmarshal(line, &action); err != nil {
			writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
			return
		}
		if !scanner.Scan() {
			writeError(w, http.StatusBadRequest, "parse_exception", "missing source line")
			return
		}
		var src map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &src); err != nil {
			writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
			return
		}

		meta := action["index"]
		name, _ := meta["_index"].(string)
		if name == "" && len(parts) == 2 {
			name = parts[0]
		}
		id, _ := meta["_id"].(string)

		idx, ok := f.indices[name]
		item := map[string]any{"_index": name, "_id": id}
		switch {
		case !ok:
			item["status"] = http.StatusNotFound
			item["error"] = map[string]any{"type": "index_not_found_exception", "reason": "no such index"}
		case idx.dims > 0 && len(vectorOf(src)) != idx.dims:
			item["status"] = http.StatusBadRequest
			item["error"] = map[string]any{
				"type":   "document_parsing_exception",
				"reason": fmt.Sprintf("different number of dimensions [%d] than the document vectors [%d]", idx.dims, len(vectorOf(src))),
			}
		case f.reject != nil && f.reject(src):
			item["status"] = http.StatusBadRequest
			item["error"] = map[string]any{"type": "mapper_parsing_exception", "reason": "rejected by test"}
		default:
			item["status"] = http.StatusCreated
			item["result"] = "created"
			idx.pending = append(idx.pending, fakeDoc{id: id, source: src})
		}
		if _, failed := item["error"]; failed {
			hasErrors = true
		}
		items = append(items, map[string]any{"index": item})
	}

	if refresh := r.URL.Query().Get("refresh"); refresh == "true" || refresh == "wait_for" || refresh == "" && r.URL.Query().Has("refresh") {
		for _, idx := range f.indices {
			idx.docs = append(idx.docs, idx.pending...)
			idx.pending = nil
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"took": 1, "errors": hasErrors, "items": items})
}

func (f *fakeES) search(w http.ResponseWriter, r *http.Request, name string) {
	f.searches++
	if f.searchStatus != 0 {
		writeError(w, f.searchStatus, "search_phase_execution_exception", "all shards failed")
		return
	}
	idx, ok := f.indices[name]
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index")
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
		return
	}
	f.lastSearch = body

	size := 10
	if s, ok := body["size"].(float64); ok {
		size = int(s)
	}
	scriptScore := body["query"].(map[string]any)["script_score"].(map[string]any)
	params := scriptScore["script"].(map[string]any)["params"].(map[string]any)
	query := toFloats(params["query_vector"])
	if idx.dims > 0 && len(query) != idx.dims {
		writeError(w, http.StatusBadRequest, "search_phase_execution_exception",
			fmt.Sprintf("The query vector has a different number of dimensions [%d] than the document vectors [%d].", len(query), idx.dims))
		return
	}
	clauses := filterClauses(scriptScore["query"].(map[string]any))

	type scored struct {
		doc   fakeDoc
		score float64
	}
	var hits []scored
	for _, doc := range idx.docs {
		if !matchesAll(doc.source, clauses) {
			continue
		}
		hits = append(hits, scored{doc: doc, score: cosine(query, vectorOf(doc.source)) + 1.0})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].doc.source["doc_id"].(string) < hits[j].doc.source["doc_id"].(string)
	})
	if len(hits) > size {
		hits = hits[:size]
	}

	out := make([]any, len(hits))
	for i, h := range hits {
		out[i] = map[string]any{"_index": name, "_id": h.doc.id, "_score": h.score, "_source": h.doc.source}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"took": 1,
		"hits": map[string]any{"total": map[string]any{"value": len(out)}, "hits": out},
	})
}

func filterClauses(q map[string]any) []map[string]any {
	b, ok := q["bool"].(map[string]any)
	if !ok {
		return nil
	}
	raw, _ := b["filter"].([]any)
	clauses := make([]map[string]any, 0, len(raw))
	for _, c := range raw {
		clauses = append(clauses, c.(map[string]any))
	}
	return clauses
}

func matchesAll(src map[string]any, clauses []map[string]any) bool {
	for _, clause := range clauses {
		if term, ok := clause["term"].(map[string]any); ok {
			for field, want := range term {
				if !fieldEquals(src[field], want) {
					return false
				}
			}
		}
		if terms, ok := clause["terms"].(map[string]any); ok {
			for field, wants := range terms {
				matched := false
				for _, want := range wants.([]any) {
					if fieldEquals(src[field], want) {
						matched = true
						break
					}
				}
				if !matched {
					return false
				}
			}
		}
	}
	return true
}

func fieldEquals(have, want any) bool {
	if list, ok := have.([]any); ok {
		for _, v := range list {
			if reflect.DeepEqual(v, want) {
				return true
			}
		}
		return false
	}
	return reflect.DeepEqual(have, want)
}

func vectorOf(src map[string]any) []float64 {
	return toFloats(src["vector"])
}

func toFloats(v any) []float64 {
	raw, _ := v.([]any)
	out := make([]float64, len(raw))
	for i, x := range raw {
		out[i], _ = x.(float64)
	}
	return out
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, typ, reason string) {
	writeJSON(w, status, map[string]any{
		"error":  map[string]any{"type": typ, "reason": reason, "root_cause": []any{map[string]any{"type": typ, "reason": reason}}},
		"status": status,
	})
}
