package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to SQL.
type Service struct {
	meili    Engine
	fallback *SQL
}

// Engine is the external search index; *Meili implements it.
type Engine interface {
	Searcher
	Index(rec Record) error
	Delete(id string) error
	IndexAll(records []Record) error
}

// NewService creates a search service. engine may be nil if Meilisearch is
// not configured.
func NewService(engine Engine, fallback *SQL) *Service {
	return &Service{meili: engine, fallback: fallback}
}

func (s *Service) engineHealthy() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to SQL.
func (s *Service) Search(q Query) Response {
	if s.engineHealthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to sql: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: sql error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Index indexes a configuration (fire-and-forget to Meilisearch).
func (s *Service) Index(rec Record) {
	if !s.engineHealthy() {
		return
	}
	go func() {
		if err := s.meili.Index(rec); err != nil {
			log.Printf("search: index config %s: %v", rec.ID, err)
		}
	}()
}

// Delete removes a configuration from the search index (fire-and-forget).
func (s *Service) Delete(id string) {
	if !s.engineHealthy() {
		return
	}
	go func() {
		if err := s.meili.Delete(id); err != nil {
			log.Printf("search: delete config %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes every stored configuration to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.engineHealthy() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexAll(records); err != nil {
		log.Printf("search: reindex configs: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
