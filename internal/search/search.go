package search

import (
	"time"

	"github.com/visualize-admin/visualization-tool-sub010/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Key       string `json:"key"`
	Family    string `json:"family"`
	Title     string `json:"title"`
	ChartType string `json:"chartType,omitempty"`
	Version   string `json:"version"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Family string // empty = all families
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the data we index for a stored configuration.
type Record struct {
	ID        string `json:"id"`
	Family    string `json:"family"`
	Title     string `json:"title"`
	ChartType string `json:"chartType"`
	Version   string `json:"version"`
	UpdatedAt int64  `json:"updatedAt"`
}

// RecordFromConfig builds the index record for a stored configuration.
func RecordFromConfig(c store.ChartConfig) Record {
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return Record{
		ID:        c.Key,
		Family:    c.Family,
		Title:     c.Title,
		ChartType: c.ChartType,
		Version:   c.Version,
		UpdatedAt: updated.Unix(),
	}
}

func resultFromConfig(c store.ChartConfig) Result {
	return Result{
		Key:       c.Key,
		Family:    c.Family,
		Title:     c.Title,
		ChartType: c.ChartType,
		Version:   c.Version,
	}
}
