package search

import (
	"encoding/json"
	"log"
	"strings"
)

// Service is the facade that tries Meilisearch first and falls back to
// scanning the dataset files on disk.
type Service struct {
	meili *Meili
	disk  *Disk
}

// NewService creates a search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, disk *Disk) *Service {
	return &Service{meili: meili, disk: disk}
}

// Search tries Meilisearch if healthy, otherwise scans disk.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to disk scan: %v", err)
	}

	results, total, err := s.disk.Search(q)
	if err != nil {
		log.Printf("search: disk scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDataset pushes a dataset's samples into Meilisearch
// (fire-and-forget). Called after a merge updates the canonical file.
func (s *Service) IndexDataset(datasetPath string, records []json.RawMessage) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	category := datasetCategory(datasetPath)
	go func() {
		if err := s.meili.IndexDataset(datasetPath, category, records); err != nil {
			log.Printf("search: index dataset %s: %v", datasetPath, err)
		}
	}()
}

// DeleteDataset removes a dataset from the index (fire-and-forget).
func (s *Service) DeleteDataset(datasetPath string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDataset(datasetPath); err != nil {
			log.Printf("search: delete dataset %s: %v", datasetPath, err)
		}
	}()
}

// ReindexAll pushes every canonical dataset to Meilisearch. Called at
// startup when a search server is configured.
func (s *Service) ReindexAll() {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	infos, err := s.disk.data.List()
	if err != nil {
		log.Printf("search: reindex list failed: %v", err)
		return
	}
	for _, info := range infos {
		records, err := s.disk.data.Read(info.Path)
		if err != nil {
			log.Printf("search: reindex read %s: %v", info.Path, err)
			continue
		}
		if err := s.meili.IndexDataset(info.Path, info.Category, records); err != nil {
			log.Printf("search: reindex %s: %v", info.Path, err)
		}
	}
}

func datasetCategory(datasetPath string) string {
	category, _, found := strings.Cut(datasetPath, "/")
	if !found {
		return ""
	}
	return category
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
