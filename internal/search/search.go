package search

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"
)

// Result is a single search hit returned to the caller.
type Result struct {
	DatasetPath string `json:"dataset_path"`
	Category    string `json:"category"`
	Index       int    `json:"index"`
	Snippet     string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterCategory string // empty = all categories
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over dataset samples.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// SampleRecord is the data we index for one dataset sample.
type SampleRecord struct {
	ID          string `json:"id"`
	DatasetPath string `json:"datasetPath"`
	Category    string `json:"category"`
	Index       int    `json:"index"`
	Text        string `json:"text"`
}

// FlattenSample extracts the searchable text of a JSON sample: every
// string value, walked in key order, joined with spaces.
func FlattenSample(raw json.RawMessage) string {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ""
	}
	var parts []string
	collectStrings(parsed, &parts)
	return strings.Join(parts, " ")
}

func collectStrings(value any, out *[]string) {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			*out = append(*out, v)
		}
	case []any:
		for _, item := range v {
			collectStrings(item, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(v[k], out)
		}
	}
}

// snippet trims flattened text to a short excerpt around the match.
// Offsets are counted in runes so the cut never splits a multi-byte
// character.
func snippet(text, term string, max int) string {
	if max <= 0 {
		max = 160
	}
	lower := strings.ToLower(text)
	pos := 0
	if idx := strings.Index(lower, strings.ToLower(term)); idx > 0 {
		pos = utf8.RuneCountInString(lower[:idx])
	}
	runes := []rune(text)
	start := pos - max/4
	if start < 0 {
		start = 0
	}
	end := start + max
	if end > len(runes) {
		end = len(runes)
	}
	excerpt := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		excerpt = "…" + excerpt
	}
	if end < len(runes) {
		excerpt = excerpt + "…"
	}
	return excerpt
}
