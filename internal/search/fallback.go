package search

import (
	"context"
	"strings"
	"time"

	"github.com/visualize-admin/visualization-tool-sub010/internal/store"
)

// Source is the part of the configuration store the fallback searcher reads.
type Source interface {
	SearchConfigs(ctx context.Context, text, family string, limit int) ([]store.ChartConfig, error)
	ListConfigs(ctx context.Context, opts store.ListOpts) ([]store.ChartConfig, error)
}

// SQL implements Searcher with a case-insensitive title match in the database.
type SQL struct {
	src     Source
	timeout time.Duration
}

// NewSQL creates the database-backed searcher.
func NewSQL(src Source) *SQL {
	return &SQL{src: src, timeout: 5 * time.Second}
}

// Healthy always returns true; without the database nothing works anyway.
func (s *SQL) Healthy() bool {
	return true
}

func (s *SQL) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	items, err := s.src.SearchConfigs(ctx, q.Text, q.Family, limit+offset)
	if err != nil {
		return nil, 0, err
	}
	total := len(items)
	if offset >= len(items) {
		return nil, total, nil
	}
	items = items[offset:]

	results := make([]Result, 0, len(items))
	for _, item := range items {
		results = append(results, resultFromConfig(item))
	}
	return results, total, nil
}

// LoadAllRecords reads every stored configuration as index records.
func (s *SQL) LoadAllRecords(ctx context.Context) ([]Record, error) {
	items, err := s.src.ListConfigs(ctx, store.ListOpts{})
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		records = append(records, RecordFromConfig(item))
	}
	return records, nil
}
