// Package feeds fetches RSS/Atom feeds and hands their entries to sinks.
package feeds

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrMissingURL is returned when a feed resource line has no string url.
var ErrMissingURL = errors.New("feed resource has no url")

type resource struct {
	URL *string `json:"url"`
}

// ReadURLs reads a line-delimited JSON feed resource file and returns the url
// of every line in file order. Blank lines are skipped.
func ReadURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed resources: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var urls []string
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		var res resource
		if err := json.Unmarshal(raw, &res); err != nil || res.URL == nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, ErrMissingURL)
		}
		urls = append(urls, *res.URL)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read feed resources: %w", err)
	}
	return urls, nil
}
