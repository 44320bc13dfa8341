package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/semantic-news/backend/internal/logger"
	"github.com/DeafMist/semantic-news/backend/internal/models"
	"github.com/DeafMist/semantic-news/backend/internal/schema"
)

// Client wraps go-elasticsearch and exposes one index as a vector collection.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// New instantiates the Elasticsearch client for the named collection.
func New(addr, collection string, log *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if log == nil {
		log = logger.Discard()
	}

	return &Client{es: es, index: collection, log: log}, nil
}

// Collection returns the collection (index) name.
func (c *Client) Collection() string {
	return c.index
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// Health checks cluster health.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		return responseError("cluster health bad", res)
	}
	return nil
}

// HasCollection reports whether the collection exists.
func (c *Client) HasCollection(ctx context.Context) (bool, error) {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("check collection: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("check collection failed", res)
	}
}

// DropCollection deletes the collection and all of its documents.
func (c *Client) DropCollection(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("drop collection failed", res)
	}
	return nil
}

// CreateCollection creates the index with the scalar fields of s. The vector
// values are stored in _source but not searchable until CreateIndex runs.
func (c *Client) CreateCollection(ctx context.Context, s *schema.Schema) error {
	props := map[string]any{}
	for _, f := range s.Fields {
		switch f.Type {
		case schema.VarChar:
			if f.Primary {
				props[f.Name] = map[string]any{"type": "keyword"}
			} else {
				props[f.Name] = map[string]any{"type": "text"}
			}
		case schema.Float:
			props[f.Name] = map[string]any{"type": "double"}
		}
	}

	body := map[string]any{
		"mappings": map[string]any{
			"dynamic":    false,
			"_meta":      map[string]any{"description": s.Description},
			"properties": props,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal collection body: %w", err)
	}

	res, err := c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("create collection failed", res)
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Insert bulk-writes docs, batchSize documents per request, and returns the
// number written. Documents are keyed by ID, so a repeated ID overwrites.
func (c *Client) Insert(ctx context.Context, docs []models.Document, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	written := 0
	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))
		n, err := c.bulk(ctx, docs[start:end])
		written += n
		if err != nil {
			return written, err
		}
		c.log.Debug("bulk insert", slog.Int("docs", n), slog.Int("total", written))
	}
	return written, nil
}

func (c *Client) bulk(ctx context.Context, docs []models.Document) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_id": doc.ID}}
		if err := enc.Encode(meta); err != nil {
			return 0, fmt.Errorf("marshal bulk meta: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return 0, fmt.Errorf("marshal doc: %w", err)
		}
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk insert: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, responseError("bulk insert failed", res)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode bulk response: %w", err)
	}

	failed := 0
	var first string
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Error == nil && result.Status < http.StatusBadRequest {
				continue
			}
			failed++
			if first == "" && result.Error != nil {
				first = fmt.Sprintf("%s: %s: %s", result.ID, result.Error.Type, result.Error.Reason)
			}
		}
	}
	if failed > 0 || parsed.Errors {
		return len(docs) - failed, fmt.Errorf("bulk insert: %d of %d documents failed, first: %s", failed, len(docs), first)
	}
	return len(docs), nil
}

// IndexDocument writes a single document into the collection.
func (c *Client) IndexDocument(ctx context.Context, doc models.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("index doc failed", res)
	}

	return nil
}

var (
	metrics = map[string]string{
		"COSINE":            "cosine",
		"L2":                "l2_norm",
		"IP":                "dot_product",
		"MAX_INNER_PRODUCT": "max_inner_product",
	}
	indexTypes = map[string]string{
		"HNSW":      "hnsw",
		"FLAT":      "flat",
		"INT8_HNSW": "int8_hnsw",
		"INT8_FLAT": "int8_flat",
	}
)

// CreateIndex maps the vector field as an indexed dense_vector using the
// schema's metric and algorithm, then re-indexes the stored documents so
// every vector enters the index. It is meant to run once, after all inserts.
func (c *Client) CreateIndex(ctx context.Context, s *schema.Schema, name string) error {
	similarity, ok := metrics[strings.ToUpper(s.Index.Metric)]
	if !ok {
		return fmt.Errorf("unsupported metric %q", s.Index.Metric)
	}
	algo, ok := indexTypes[strings.ToUpper(s.Index.Type)]
	if !ok {
		return fmt.Errorf("unsupported index type %q", s.Index.Type)
	}

	options := map[string]any{"type": algo}
	if strings.HasSuffix(algo, "hnsw") {
		if s.Index.M > 0 {
			options["m"] = s.Index.M
		}
		if s.Index.EfConstruction > 0 {
			options["ef_construction"] = s.Index.EfConstruction
		}
	}

	body := map[string]any{
		"_meta": map[string]any{
			"description": s.Description,
			"index": map[string]any{
				"name":   name,
				"field":  s.Index.Field,
				"metric": s.Index.Metric,
				"type":   s.Index.Type,
			},
		},
		"properties": map[string]any{
			s.Index.Field: map[string]any{
				"type":          "dense_vector",
				"dims":          s.Dimension(),
				"index":         true,
				"similarity":    similarity,
				"index_options": options,
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal index body: %w", err)
	}

	res, err := c.es.Indices.PutMapping(
		[]string{c.index},
		bytes.NewReader(payload),
		c.es.Indices.PutMapping.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("create index failed", res)
	}

	if err := c.Refresh(ctx); err != nil {
		return err
	}

	updated, err := c.reindexInPlace(ctx)
	if err != nil {
		return err
	}
	c.log.Info("vector index built",
		slog.String("index", name),
		slog.String("similarity", similarity),
		slog.String("type", algo),
		slog.Int64("documents", updated),
	)
	return nil
}

func (c *Client) reindexInPlace(ctx context.Context) (int64, error) {
	refresh := true
	wait := true
	req := esapi.UpdateByQueryRequest{
		Index:             []string{c.index},
		Conflicts:         "proceed",
		Refresh:           &refresh,
		WaitForCompletion: &wait,
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return 0, fmt.Errorf("update by query: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, responseError("update by query failed", res)
	}

	var parsed struct {
		Updated  int64             `json:"updated"`
		Failures []json.RawMessage `json:"failures"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode update by query response: %w", err)
	}
	if len(parsed.Failures) > 0 {
		return parsed.Updated, fmt.Errorf("update by query: %d failures, first: %s", len(parsed.Failures), parsed.Failures[0])
	}
	return parsed.Updated, nil
}

// HasIndex reports whether field is mapped as an indexed dense_vector, that
// is whether CreateIndex has completed on the collection.
func (c *Client) HasIndex(ctx context.Context, field string) (bool, error) {
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithContext(ctx),
		c.es.Indices.GetMapping.WithIndex(c.index),
	)
	if err != nil {
		return false, fmt.Errorf("get mapping: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.IsError() {
		return false, responseError("get mapping failed", res)
	}

	var body map[string]struct {
		Mappings struct {
			Properties map[string]struct {
				Type string `json:"type"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode mapping: %w", err)
	}
	for _, idx := range body {
		if idx.Mappings.Properties[field].Type == "dense_vector" {
			return true, nil
		}
	}
	return false, nil
}

// Refresh makes recent writes visible to search.
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("refresh failed", res)
	}
	return nil
}

// ErrInvalidLimit is returned for a non-positive search limit.
var ErrInvalidLimit = errors.New("search limit must be positive")

// Search runs a kNN query for vector and returns up to limit hits with the
// requested source fields. Score is the raw _score.
func (c *Client) Search(ctx context.Context, vector []float32, limit int, fields []string) ([]models.Hit, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	candidates := min(max(limit*10, 100), 10000)
	body := map[string]any{
		"size": limit,
		"knn": map[string]any{
			"field":          schema.FieldVector,
			"query_vector":   vector,
			"k":              limit,
			"num_candidates": candidates,
		},
		"_source": fields,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("search failed", res)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					ID      string `json:"id"`
					Title   string `json:"title"`
					Snippet string `json:"snippet"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]models.Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		id := h.Source.ID
		if id == "" {
			id = h.ID
		}
		hits = append(hits, models.Hit{
			ID:      id,
			Title:   h.Source.Title,
			Snippet: h.Source.Snippet,
			Score:   h.Score,
		})
	}
	return hits, nil
}

// DeleteOlderThan removes documents published more than maxAge ago using
// batched delete-by-query. Documents without a publication date are kept.
// It loops until a batch returns fewer deleted documents than batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := float64(time.Now().Add(-maxAge).Unix())
	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"query": map[string]any{
				"range": map[string]any{
					schema.FieldPublishedDate: map[string]any{
						"gt":  0,
						"lte": cutoff,
					},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.index},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		if res.IsError() {
			err := responseError("delete by query failed", res)
			res.Body.Close()
			return totalDeleted, err
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			res.Body.Close()
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}
		res.Body.Close()

		totalDeleted += parsed.Deleted

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

func responseError(prefix string, res *esapi.Response) error {
	data, _ := io.ReadAll(res.Body)
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = res.Status()
	}
	return fmt.Errorf("%s: %s", prefix, msg)
}
