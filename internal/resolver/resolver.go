// Package resolver implements migrate.DimensionResolver against the metadata
// catalogue, plus a static in-memory variant.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
)

// HTTP asks a catalogue service for dimension metadata. Concurrent lookups of
// the same dimension share one request, and answers (including "not found")
// are cached for the configured TTL.
type HTTP struct {
	baseURL string
	client  *http.Client
	group   singleflight.Group
	cache   *gocache.Cache
}

// NewHTTP creates a resolver for baseURL. A non-positive ttl disables caching.
func NewHTTP(baseURL string, ttl, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = migrate.DefaultLookupTimeout
	}
	r := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
	if ttl > 0 {
		r.cache = gocache.New(ttl, 2*ttl)
	}
	return r
}

func cacheKey(cubeIri, dimensionID string) string {
	return cubeIri + "\x00" + dimensionID
}

func (r *HTTP) ResolveDimension(ctx context.Context, cubeIri, dimensionID string) (*migrate.DimensionMetadata, error) {
	key := cacheKey(cubeIri, dimensionID)
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			return cached.(*migrate.DimensionMetadata), nil
		}
	}

	ch := r.group.DoChan(key, func() (any, error) {
		// Shared by every waiter, so it must not die with the first caller.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.client.Timeout)
		defer cancel()
		meta, err := r.fetch(fetchCtx, cubeIri, dimensionID)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			r.cache.SetDefault(key, meta)
		}
		return meta, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*migrate.DimensionMetadata), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *HTTP) fetch(ctx context.Context, cubeIri, dimensionID string) (*migrate.DimensionMetadata, error) {
	query := url.Values{}
	query.Set("cube", cubeIri)
	query.Set("dimension", dimensionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/dimensions?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build dimension request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request dimension metadata: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("dimension metadata: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var meta migrate.DimensionMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode dimension metadata: %w", err)
	}
	if meta.CubeIri == "" {
		meta.CubeIri = cubeIri
	}
	if meta.DimensionID == "" {
		meta.DimensionID = dimensionID
	}
	log.Printf("resolver: fetched %s %s", cubeIri, dimensionID)
	return &meta, nil
}

// Static answers from a fixed set of dimensions.
type Static struct {
	byKey map[string]migrate.DimensionMetadata
}

// NewStatic indexes items by cube and dimension.
func NewStatic(items ...migrate.DimensionMetadata) *Static {
	s := &Static{byKey: make(map[string]migrate.DimensionMetadata, len(items))}
	for _, item := range items {
		s.byKey[cacheKey(item.CubeIri, item.DimensionID)] = item
	}
	return s
}

// LoadStatic reads a JSON array of dimension metadata.
func LoadStatic(r io.Reader) (*Static, error) {
	var items []migrate.DimensionMetadata
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode dimensions: %w", err)
	}
	return NewStatic(items...), nil
}

func (s *Static) ResolveDimension(_ context.Context, cubeIri, dimensionID string) (*migrate.DimensionMetadata, error) {
	item, ok := s.byKey[cacheKey(cubeIri, dimensionID)]
	if !ok {
		return nil, nil
	}
	return &item, nil
}
