package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to a
// database scan.
type Service struct {
	meili    *Meili
	fallback *DBFallback
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback *DBFallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise falls back to the database.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to db: %v", err)
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(t TaskRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTask(t); err != nil {
			log.Printf("search: index task %s: %v", t.ID, err)
		}
	}()
}

// DeleteTasks removes tasks from the search index (fire-and-forget).
func (s *Service) DeleteTasks(ids []string) {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeleteTasks(ids); err != nil {
			log.Printf("search: delete %d tasks: %v", len(ids), err)
		}
	}()
}

// ReindexAll reads every task from the database and pushes them to
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return
	}
	tasks, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(tasks) == 0 {
		return
	}
	if err := s.meili.IndexTasks(tasks); err != nil {
		log.Printf("search: reindex tasks: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
