package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a configuration key does not exist.
var ErrNotFound = errors.New("not found")

// ChartConfig is a stored configuration document, chart or whole app state.
type ChartConfig struct {
	Key         string
	Family      string
	Version     string
	Title       string
	ChartType   string
	Data        []byte
	ContentHash string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Upgrade records a stored document rewritten to a newer schema version.
type Upgrade struct {
	ID            string
	ConfigKey     string
	FromVersion   string
	ToVersion     string
	Warnings      int
	ArchiveObject string
	CreatedAt     time.Time
}

// ListOpts filters List calls. A zero Limit means no limit.
type ListOpts struct {
	Family string
	Limit  int
	Offset int
}
