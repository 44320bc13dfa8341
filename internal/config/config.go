package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common contains the vector store parameters shared by every service.
type Common struct {
	ElasticsearchAddr string
	DBName            string
	SchemaFile        string
}

// Embedding selects and configures the embedding model.
type Embedding struct {
	Provider  string
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	BatchSize int

	// Instruction prefixes for models trained with asymmetric prompts.
	QueryPrefix    string
	DocumentPrefix string
}

// Fetcher holds configuration for the RSS fetcher.
type Fetcher struct {
	FeedResourcesDir string
	ArticlesDir      string
	FeedFilename     string
	Timeout          time.Duration
	UserAgent        string
	LedgerPath       string
	Dedupe           bool
	KafkaBrokers     []string
	KafkaTopic       string
}

// Indexer holds configuration for the batch indexing run.
type Indexer struct {
	Common
	Embedding
	IndexParams
	ArticlesDir string
	Recreate    bool
	BulkSize    int
}

// IndexParams selects the similarity metric and index algorithm.
type IndexParams struct {
	MetricType string
	IndexType  string
}

// API describes HTTP-layer configuration of the query server.
type API struct {
	Common
	Embedding
	BindAddr    string
	DefaultTopK int
	MaxTopK     int
	CacheURL    string
	CacheTTL    time.Duration
}

// Worker holds configuration for the Kafka -> collection stream indexer.
type Worker struct {
	Common
	Embedding
	IndexParams
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaConsumer  string
	DedupeCapacity int
	DedupeTTL      time.Duration
	BatchSize      int
}

// Retention configures the cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

const (
	defaultFeedResourcesDir = "data/rss_feed_resources"
	defaultArticlesDir      = "data/articles"
)

var (
	metricTypes = []string{"COSINE", "L2", "IP", "MAX_INNER_PRODUCT"}
	indexTypes  = []string{"HNSW", "FLAT", "INT8_HNSW", "INT8_FLAT"}
	providers   = []string{"openai", "hash"}
)

func loadCommon() Common {
	return Common{
		ElasticsearchAddr: getEnv("ELASTICSEARCH_ADDR", "http://localhost:9200"),
		DBName:            getEnv("DB_NAME", "people_news"),
		SchemaFile:        getEnv("SCHEMA_FILE", ""),
	}
}

func loadEmbedding() (Embedding, error) {
	e := Embedding{
		Provider:  strings.ToLower(getEnv("EMBED_PROVIDER", "openai")),
		BaseURL:   getEnv("EMBED_BASE_URL", "http://localhost:8081/v1"),
		APIKey:    getEnv("EMBED_API_KEY", ""),
		Model:     getEnv("EMBED_MODEL", "all-MiniLM-L6-v2"),
		Dimension: getInt("VECTOR_DIM", 384),
		BatchSize: getInt("EMBED_BATCH_SIZE", 32),

		QueryPrefix:    os.Getenv("EMBED_QUERY_PREFIX"),
		DocumentPrefix: os.Getenv("EMBED_DOCUMENT_PREFIX"),
	}

	if !contains(providers, e.Provider) {
		return e, fmt.Errorf("EMBED_PROVIDER must be one of %s", strings.Join(providers, ", "))
	}
	if e.Dimension <= 0 {
		return e, fmt.Errorf("VECTOR_DIM must be positive")
	}
	if e.BatchSize <= 0 {
		return e, fmt.Errorf("EMBED_BATCH_SIZE must be positive")
	}
	return e, nil
}

// LoadFetcher builds a Fetcher config from environment variables.
func LoadFetcher() (*Fetcher, error) {
	c := &Fetcher{
		FeedResourcesDir: getEnv("FEED_RESOURCES_DIR", defaultFeedResourcesDir),
		ArticlesDir:      getEnv("ARTICLES_DIR", defaultArticlesDir),
		FeedFilename:     getEnv("FEED_FILENAME", "public_fr.jsonl"),
		Timeout:          getDuration("FETCH_TIMEOUT", "30s"),
		UserAgent:        getEnv("FETCH_USER_AGENT", "semantic-news-fetcher/1.0"),
		LedgerPath:       getEnv("FETCH_LEDGER_PATH", ""),
		Dedupe:           getBool("FETCH_DEDUPE", false),
		KafkaBrokers:     splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "articles_raw"),
	}

	if c.Timeout < 0 {
		return nil, fmt.Errorf("FETCH_TIMEOUT cannot be negative")
	}
	if c.Dedupe && c.LedgerPath == "" {
		return nil, fmt.Errorf("FETCH_DEDUPE requires FETCH_LEDGER_PATH")
	}

	return c, nil
}

func loadIndexParams() (IndexParams, error) {
	p := IndexParams{
		MetricType: strings.ToUpper(getEnv("METRIC_TYPE", "COSINE")),
		IndexType:  strings.ToUpper(getEnv("INDEX_TYPE", "HNSW")),
	}
	if !contains(metricTypes, p.MetricType) {
		return p, fmt.Errorf("METRIC_TYPE must be one of %s", strings.Join(metricTypes, ", "))
	}
	if !contains(indexTypes, p.IndexType) {
		return p, fmt.Errorf("INDEX_TYPE must be one of %s", strings.Join(indexTypes, ", "))
	}
	return p, nil
}

// LoadIndexer builds an Indexer config from environment variables.
func LoadIndexer() (*Indexer, error) {
	emb, err := loadEmbedding()
	if err != nil {
		return nil, err
	}
	params, err := loadIndexParams()
	if err != nil {
		return nil, err
	}

	c := &Indexer{
		Common:      loadCommon(),
		Embedding:   emb,
		IndexParams: params,
		ArticlesDir: getEnv("ARTICLES_DIR", defaultArticlesDir),
		Recreate:    getBool("RECREATE", true),
		BulkSize:    getInt("BULK_SIZE", 500),
	}

	if c.BulkSize <= 0 {
		return nil, fmt.Errorf("BULK_SIZE must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	emb, err := loadEmbedding()
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:      loadCommon(),
		Embedding:   emb,
		BindAddr:    getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultTopK: getInt("API_DEFAULT_TOP_K", 5),
		MaxTopK:     getInt("API_MAX_TOP_K", 20),
		CacheURL:    getEnv("EMBED_CACHE_REDIS_URL", ""),
		CacheTTL:    getDuration("EMBED_CACHE_TTL", "24h"),
	}

	if c.DefaultTopK <= 0 {
		return nil, fmt.Errorf("API_DEFAULT_TOP_K must be positive")
	}
	if c.MaxTopK <= 0 {
		return nil, fmt.Errorf("API_MAX_TOP_K must be positive")
	}
	if c.DefaultTopK > c.MaxTopK {
		return nil, fmt.Errorf("API_DEFAULT_TOP_K cannot exceed API_MAX_TOP_K")
	}

	return c, nil
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	emb, err := loadEmbedding()
	if err != nil {
		return nil, err
	}
	params, err := loadIndexParams()
	if err != nil {
		return nil, err
	}

	c := &Worker{
		Common:         loadCommon(),
		Embedding:      emb,
		IndexParams:    params,
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "articles_raw"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "article-indexer"),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "24h"),
		BatchSize:      getInt("WORKER_BATCH_SIZE", 10),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common:    loadCommon(),
		Interval:  getDuration("RETENTION_CRON", "24h"),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "720h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
