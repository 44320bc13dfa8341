package elasticsearch_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

// fakeES emulates the subset of the Elasticsearch REST API the client uses,
// with brute-force cosine kNN in place of an HNSW graph.
type fakeES struct {
	mu sync.Mutex

	index        string
	exists       bool
	mapping      map[string]any
	vectorMapped bool
	docs         map[string]map[string]any
	order        []string

	bulkFailID string
	requests   []string
}

func newFakeES(t *testing.T, index string) (*fakeES, *httptest.Server) {
	t.Helper()
	f := &fakeES{index: index, docs: map[string]map[string]any{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeES) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	path := r.URL.Path
	f.requests = append(f.requests, r.Method+" "+path)
	prefix := "/" + f.index

	switch {
	case path == "/" && r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case path == "/_cluster/health":
		writeJSON(w, http.StatusOK, map[string]any{"status": "green"})
	case path == prefix && r.Method == http.MethodHead:
		if f.exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case path == prefix && r.Method == http.MethodDelete:
		if !f.exists {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "index_not_found_exception"})
			return
		}
		f.exists = false
		f.mapping = nil
		f.vectorMapped = false
		f.docs = map[string]map[string]any{}
		f.order = nil
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	case path == prefix && r.Method == http.MethodPut:
		if f.exists {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "resource_already_exists_exception"})
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.exists = true
		f.mapping, _ = body["mappings"].(map[string]any)
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	case path == prefix+"/_bulk":
		f.handleBulk(w, r)
	case path == prefix+"/_mapping" && r.Method == http.MethodGet:
		if !f.exists {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "index_not_found_exception"})
			return
		}
		props := map[string]any{}
		if p, ok := f.mapping["properties"].(map[string]any); ok {
			for k, v := range p {
				props[k] = v
			}
		}
		if f.vectorMapped {
			props["vector"] = f.mapping["vector"]
		}
		writeJSON(w, http.StatusOK, map[string]any{
			f.index: map[string]any{"mappings": map[string]any{"properties": props}},
		})
	case path == prefix+"/_mapping":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		props, _ := body["properties"].(map[string]any)
		if vec, ok := props["vector"].(map[string]any); ok {
			f.vectorMapped = vec["type"] == "dense_vector"
			if f.mapping == nil {
				f.mapping = map[string]any{}
			}
			f.mapping["vector"] = vec
			f.mapping["_meta"] = body["_meta"]
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	case path == prefix+"/_refresh":
		writeJSON(w, http.StatusOK, map[string]any{"_shards": map[string]int{"failed": 0}})
	case path == prefix+"/_update_by_query":
		writeJSON(w, http.StatusOK, map[string]any{"updated": len(f.docs), "failures": []any{}})
	case path == prefix+"/_search":
		f.handleSearch(w, r)
	case path == prefix+"/_delete_by_query":
		f.handleDeleteByQuery(w, r)
	case strings.HasPrefix(path, prefix+"/_doc/"):
		id := strings.TrimPrefix(path, prefix+"/_doc/")
		var doc map[string]any
		_ = json.NewDecoder(r.Body).Decode(&doc)
		f.put(id, doc)
		writeJSON(w, http.StatusCreated, map[string]any{"_id": id, "result": "created"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unexpected " + r.Method + " " + path})
	}
}

func (f *fakeES) mappingSnapshot() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.mapping))
	for k, v := range f.mapping {
		out[k] = v
	}
	return out
}

func (f *fakeES) hasDoc(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[id]
	return ok
}

func (f *fakeES) failBulkID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkFailID = id
}

func (f *fakeES) put(id string, doc map[string]any) {
	if _, ok := f.docs[id]; !ok {
		f.order = append(f.order, id)
	}
	f.docs[id] = doc
}

func (f *fakeES) handleBulk(w http.ResponseWriter, r *http.Request) {
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var items []map[string]any
	hasErrors := false
	for scanner.Scan() {
		var meta map[string]map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad meta"})
			return
		}
		if !scanner.Scan() {
			break
		}
		var doc map[string]any
		_ = json.Unmarshal(scanner.Bytes(), &doc)
		id, _ := meta["index"]["_id"].(string)

		if id == f.bulkFailID {
			hasErrors = true
			items = append(items, map[string]any{"index": map[string]any{
				"_id": id, "status": 400,
				"error": map[string]any{"type": "document_parsing_exception", "reason": "boom"},
			}})
			continue
		}
		f.put(id, doc)
		items = append(items, map[string]any{"index": map[string]any{"_id": id, "status": 201}})
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": hasErrors, "items": items})
}

func (f *fakeES) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !f.vectorMapped {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to create query: field [vector] does not exist in the mapping"})
		return
	}

	var body struct {
		Size int      `json:"size"`
		Src  []string `json:"_source"`
		Knn  struct {
			Field       string    `json:"field"`
			QueryVector []float64 `json:"query_vector"`
			K           int       `json:"k"`
		} `json:"knn"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	type scored struct {
		id    string
		score float64
	}
	var results []scored
	for _, id := range f.order {
		raw, _ := f.docs[id]["vector"].([]any)
		vec := make([]float64, len(raw))
		for i, x := range raw {
			vec[i], _ = x.(float64)
		}
		results = append(results, scored{id: id, score: (1 + cosine(body.Knn.QueryVector, vec)) / 2})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > body.Knn.K {
		results = results[:body.Knn.K]
	}

	hits := make([]map[string]any, 0, len(results))
	for _, res := range results {
		src := map[string]any{}
		for _, field := range body.Src {
			if v, ok := f.docs[res.id][field]; ok {
				src[field] = v
			}
		}
		hits = append(hits, map[string]any{"_id": res.id, "_score": res.score, "_source": src})
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": map[string]any{"hits": hits}})
}

func (f *fakeES) handleDeleteByQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query struct {
			Range map[string]struct {
				Gt  float64 `json:"gt"`
				Lte float64 `json:"lte"`
			} `json:"range"`
		} `json:"query"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	rng := body.Query.Range["published_date"]

	deleted := 0
	kept := f.order[:0]
	for _, id := range f.order {
		date, _ := f.docs[id]["published_date"].(float64)
		if date > rng.Gt && date <= rng.Lte {
			delete(f.docs, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	f.order = kept
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(payload)
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
