package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxSamples = "studio_samples"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the sample
// index. The client keeps monitoring health in the background, so an
// unavailable server at startup is tolerated.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxSamples,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxSamples, err)
	}

	index := m.client.Index(idxSamples)
	filterable := []interface{}{"datasetPath", "category"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxSamples, err)
	}
	searchable := []string{"text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxSamples, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the sample index.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"text"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.FilterCategory != "" {
		sr.Filter = []string{fmt.Sprintf("category = %q", q.FilterCategory)}
	}

	resp, err := m.client.Index(idxSamples).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	index, _ := strconv.Atoi(decodeNumber(hit, "index"))
	return Result{
		DatasetPath: decodeString(hit, "datasetPath"),
		Category:    decodeString(hit, "category"),
		Index:       index,
		Snippet:     firstNonBlank(decodeFormattedString(hit, "text"), decodeString(hit, "text")),
	}
}

// IndexDataset replaces the indexed samples of one dataset with the
// given records.
func (m *Meili) IndexDataset(datasetPath, category string, records []json.RawMessage) error {
	if _, err := m.client.Index(idxSamples).DeleteDocumentsByFilter(
		fmt.Sprintf("datasetPath = %q", datasetPath), nil,
	); err != nil {
		return fmt.Errorf("clear dataset %s: %w", datasetPath, err)
	}

	if len(records) == 0 {
		return nil
	}
	docs := make([]SampleRecord, 0, len(records))
	slug := pathSlug(datasetPath)
	for i, record := range records {
		docs = append(docs, SampleRecord{
			ID:          slug + "-" + strconv.Itoa(i),
			DatasetPath: datasetPath,
			Category:    category,
			Index:       i,
			Text:        FlattenSample(record),
		})
	}
	if _, err := m.client.Index(idxSamples).AddDocuments(docs, nil); err != nil {
		return fmt.Errorf("index dataset %s: %w", datasetPath, err)
	}
	return nil
}

// DeleteDataset removes every indexed sample of a dataset.
func (m *Meili) DeleteDataset(datasetPath string) error {
	_, err := m.client.Index(idxSamples).DeleteDocumentsByFilter(
		fmt.Sprintf("datasetPath = %q", datasetPath), nil,
	)
	return err
}

// pathSlug turns a dataset path into a Meilisearch-safe document ID
// prefix.
func pathSlug(datasetPath string) string {
	var b strings.Builder
	for _, r := range datasetPath {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('-')
	}
	return b.String()
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeNumber(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
