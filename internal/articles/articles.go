// Package articles reads and writes the line-delimited JSON article files
// shared by the fetcher and the indexer.
package articles

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/DeafMist/semantic-news/backend/internal/models"
)

// Ext is the extension of article files.
const Ext = ".jsonl"

const maxLine = 16 << 20

// Load reads every article file in dir, in file name order, and returns the
// concatenation of their entries. A malformed line fails the whole load.
func Load(dir string) ([]models.Article, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read articles dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]models.Article, 0)
	for _, name := range names {
		loaded, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, loaded...)
	}
	return out, nil
}

// LoadFile reads a single article file.
func LoadFile(path string) ([]models.Article, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []models.Article
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var article models.Article
		if err := json.Unmarshal(raw, &article); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err)
		}
		out = append(out, article)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}

// FileWriter appends articles to one JSONL file. Each Write opens the file in
// append mode and closes it before returning.
type FileWriter struct {
	path string
}

// NewFileWriter creates dir if needed and returns a writer for dir/name.
func NewFileWriter(dir, name string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create articles dir: %w", err)
	}
	return &FileWriter{path: filepath.Join(dir, name)}, nil
}

// Path returns the target file.
func (w *FileWriter) Path() string {
	return w.path
}

// Name identifies the sink in logs.
func (w *FileWriter) Name() string {
	return "file"
}

// Write appends one JSON line per article.
func (w *FileWriter) Write(_ context.Context, _ string, entries []models.Article) (err error) {
	if len(entries) == 0 {
		return nil
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open article file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close article file: %w", cerr)
		}
	}()

	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("encode article: %w", err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("write article file: %w", err)
	}
	return nil
}
