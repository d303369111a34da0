package search

import (
	"fmt"
	"strings"

	"datasetstudio/api/internal/dataset"
)

// Disk implements Searcher by scanning the canonical dataset files.
// It is the fallback when Meilisearch is not configured or down.
type Disk struct {
	data *dataset.Store
}

func NewDisk(data *dataset.Store) *Disk {
	return &Disk{data: data}
}

// Healthy always reports true: the dataset directory is local.
func (d *Disk) Healthy() bool {
	return true
}

// Search walks every dataset file and substring-matches the flattened
// sample text. Good enough for small installations without a search
// server.
func (d *Disk) Search(q Query) ([]Result, int, error) {
	term := strings.ToLower(strings.TrimSpace(q.Text))
	if term == "" {
		return []Result{}, 0, nil
	}
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	infos, err := d.data.List()
	if err != nil {
		return nil, 0, fmt.Errorf("list datasets: %w", err)
	}

	var matches []Result
	for _, info := range infos {
		if q.FilterCategory != "" && info.Category != q.FilterCategory {
			continue
		}
		records, err := d.data.Read(info.Path)
		if err != nil {
			continue
		}
		for i, record := range records {
			text := FlattenSample(record)
			if !strings.Contains(strings.ToLower(text), term) {
				continue
			}
			matches = append(matches, Result{
				DatasetPath: info.Path,
				Category:    info.Category,
				Index:       i,
				Snippet:     snippet(text, q.Text, 160),
			})
		}
	}

	total := len(matches)
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	end := q.Offset + limit
	if end > total {
		end = total
	}
	return matches[q.Offset:end], total, nil
}
