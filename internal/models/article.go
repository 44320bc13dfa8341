package models

// Article is a raw feed entry as written by the fetcher: an arbitrary mapping
// of feed-entry keys to JSON values.
type Article map[string]any

// String returns the value of key when it is a string.
func (a Article) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Link returns the article link or "" when absent.
func (a Article) Link() string {
	s, _ := a.String("link")
	return s
}

// Document is the record stored in the vector collection.
type Document struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Snippet       string    `json:"snippet"`
	Vector        []float32 `json:"vector"`
	PublishedDate float64   `json:"published_date"`
}

// Hit is a single similarity search result. Score is the raw value reported
// by the index for the configured metric.
type Hit struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}
