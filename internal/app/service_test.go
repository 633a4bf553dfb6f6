package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/visualize-admin/visualization-tool-sub010/internal/appstate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/chartconfig"
	"github.com/visualize-admin/visualization-tool-sub010/internal/config"
	"github.com/visualize-admin/visualization-tool-sub010/internal/history"
	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/search"
	"github.com/visualize-admin/visualization-tool-sub010/internal/store"
	"github.com/visualize-admin/visualization-tool-sub010/internal/util"
)

const lineV1 = `{
	"version": "1.0.0",
	"key": "abc",
	"chartType": "line",
	"meta": {"title": "Population", "description": ""},
	"dataSet": "https://cube/pop",
	"filters": {
		"year": {"type": "range", "from": "2010", "to": "2020"},
		"canton": {"type": "single", "value": "ZH"}
	},
	"fields": {
		"x": {"componentId": "year"},
		"y": {"componentId": "population"},
		"segment": {"componentId": "canton"}
	}
}`

const stateV1 = `{
	"version": "1.0.0",
	"key": "state-1",
	"state": "PUBLISHED",
	"dataSet": "https://cube/pop",
	"meta": {"title": "Population"},
	"chartConfig": {
		"version": "1.0.0",
		"key": "abc",
		"chartType": "column",
		"meta": {"title": "Population", "description": ""},
		"filters": {"year": {"type": "range", "from": "2010", "to": "2020"}},
		"fields": {"x": {"componentId": "year"}, "y": {"componentId": "population"}}
	}
}`

type fakeStore struct {
	mu       sync.Mutex
	configs  map[string]store.ChartConfig
	upgrades []store.Upgrade

	replaceFn func(store.ChartConfig, string) (bool, error)
	listErr   error
	pingFn    func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{configs: map[string]store.ChartConfig{}}
}

func (f *fakeStore) put(item store.ChartConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.ContentHash == "" {
		item.ContentHash = util.ContentHash(item.Data)
	}
	f.configs[item.Key] = item
}

func (f *fakeStore) get(key string) store.ChartConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[key]
}

func (f *fakeStore) InsertConfig(_ context.Context, item store.ChartConfig) (store.ChartConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.configs[item.Key]; exists {
		return store.ChartConfig{}, fmt.Errorf("duplicate key %s", item.Key)
	}
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	f.configs[item.Key] = item
	return item, nil
}

func (f *fakeStore) GetConfig(_ context.Context, key string) (store.ChartConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.configs[key]
	if !ok {
		return store.ChartConfig{}, fmt.Errorf("config %s: %w", key, store.ErrNotFound)
	}
	return item, nil
}

func (f *fakeStore) ReplaceConfig(_ context.Context, item store.ChartConfig, prevHash string) (bool, error) {
	if f.replaceFn != nil {
		return f.replaceFn(item, prevHash)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.configs[item.Key]
	if !ok || current.ContentHash != prevHash {
		return false, nil
	}
	f.configs[item.Key] = item
	return true, nil
}

func (f *fakeStore) DeleteConfig(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.configs[key]; !ok {
		return fmt.Errorf("config %s: %w", key, store.ErrNotFound)
	}
	delete(f.configs, key)
	return nil
}

func (f *fakeStore) sorted(keep func(store.ChartConfig) bool) []store.ChartConfig {
	out := []store.ChartConfig{}
	for _, item := range f.configs {
		if keep(item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (f *fakeStore) ListConfigs(_ context.Context, opts store.ListOpts) ([]store.ChartConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.sorted(func(item store.ChartConfig) bool { return opts.Family == "" || item.Family == opts.Family })
	if opts.Offset >= len(items) {
		return []store.ChartConfig{}, nil
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items, nil
}

func (f *fakeStore) ListNotAtVersion(_ context.Context, family, version string) ([]store.ChartConfig, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(item store.ChartConfig) bool { return item.Family == family && item.Version != version }), nil
}

func (f *fakeStore) InsertUpgrade(_ context.Context, u store.Upgrade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upgrades = append(f.upgrades, u)
	return nil
}

func (f *fakeStore) ListUpgrades(_ context.Context, key string) ([]store.Upgrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Upgrade{}
	for _, u := range f.upgrades {
		if u.ConfigKey == key {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) VersionCounts(context.Context) (map[string]map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]map[string]int{}
	for _, item := range f.configs {
		if out[item.Family] == nil {
			out[item.Family] = map[string]int{}
		}
		out[item.Family][item.Version]++
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (c *fakeCache) Get(_ context.Context, key, version string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key+"@"+version]
	return data, ok, nil
}

func (c *fakeCache) Put(_ context.Context, key, version string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key+"@"+version] = data
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, key+"@") {
			delete(c.entries, k)
		}
	}
	c.invalidated = append(c.invalidated, key)
	return nil
}

type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (a *fakeArchive) Put(_ context.Context, key, version string, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	name := key + "/" + version + ".json"
	a.objects[name] = data
	return name, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	commits map[string][]history.Revision
	tags    map[string]string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{commits: map[string][]history.Revision{}, tags: map[string]string{}}
}

func (h *fakeHistory) Commit(key, version string, _ []byte, author, message string) (history.Revision, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rev := history.Revision{
		Hash:      fmt.Sprintf("%07d", len(h.commits[key])+1),
		Message:   message,
		Author:    author,
		Version:   version,
		CreatedAt: time.Now().UTC(),
	}
	h.commits[key] = append([]history.Revision{rev}, h.commits[key]...)
	return rev, nil
}

func (h *fakeHistory) Log(key string, limit int) ([]history.Revision, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	revs, ok := h.commits[key]
	if !ok {
		return nil, history.ErrNoHistory
	}
	if limit > 0 && limit < len(revs) {
		revs = revs[:limit]
	}
	return append([]history.Revision(nil), revs...), nil
}

func (h *fakeHistory) TagVersion(key, hash, version string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tags[key+" schema-"+version] = hash
	return nil
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed map[string]search.Record
	deleted []string
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{indexed: map[string]search.Record{}}
}

func (s *fakeSearch) Search(q search.Query) search.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []search.Result{}
	for _, rec := range s.indexed {
		if strings.Contains(strings.ToLower(rec.Title), strings.ToLower(q.Text)) {
			out = append(out, search.Result{Key: rec.ID, Family: rec.Family, Title: rec.Title, Version: rec.Version})
		}
	}
	return search.Response{Results: out, Total: len(out), Query: q.Text}
}

func (s *fakeSearch) Index(rec search.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed[rec.ID] = rec
}

func (s *fakeSearch) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexed, id)
	s.deleted = append(s.deleted, id)
}

type testEnv struct {
	svc     *Service
	store   *fakeStore
	cache   *fakeCache
	archive *fakeArchive
	history *fakeHistory
	search  *fakeSearch
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:   newFakeStore(),
		cache:   newFakeCache(),
		archive: &fakeArchive{},
		history: newFakeHistory(),
		search:  newFakeSearch(),
	}
	env.svc = New(config.Config{UpgradeConcurrency: 2}, env.store, Dependencies{
		Cache:   env.cache,
		Archive: env.archive,
		History: env.history,
		Search:  env.search,
	})
	return env
}

// seedStale stores raw as-is, the way a document written by an older client
// would sit in the database.
func (env *testEnv) seedStale(key, family, raw string) store.ChartConfig {
	var head struct {
		Version string `json:"version"`
	}
	_ = json.Unmarshal([]byte(raw), &head)
	item := store.ChartConfig{
		Key:       key,
		Family:    family,
		Version:   head.Version,
		Title:     "Population",
		Data:      []byte(raw),
		CreatedBy: "alice",
	}
	env.store.put(item)
	return env.store.get(key)
}

func TestSaveConfigUpgradesToCurrent(t *testing.T) {
	env := newTestEnv()

	saved, err := env.svc.SaveConfig(context.Background(), "", []byte(lineV1), "alice")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Family != chartconfig.Family || saved.Version != chartconfig.CurrentVersion() {
		t.Fatalf("unexpected summary: %+v", saved.ConfigSummary)
	}
	if saved.MigratedFrom != "1.0.0" || len(saved.Applied) == 0 {
		t.Fatalf("unexpected migration info: %+v", saved)
	}
	if saved.Title != "Population" || saved.ChartType != "line" || saved.CreatedBy != "alice" {
		t.Fatalf("unexpected peeked summary: %+v", saved.ConfigSummary)
	}
	if !strings.HasPrefix(saved.Key, "cfg_") {
		t.Fatalf("unexpected key %q", saved.Key)
	}

	stored := env.store.get(saved.Key)
	if stored.ContentHash != util.ContentHash(stored.Data) {
		t.Fatalf("content hash does not match stored data")
	}
	revs, err := env.history.Log(saved.Key, 0)
	if err != nil || len(revs) != 1 || !strings.Contains(revs[0].Message, "upgraded from 1.0.0") {
		t.Fatalf("unexpected history: %+v %v", revs, err)
	}
	if _, ok := env.search.indexed[saved.Key]; !ok {
		t.Fatalf("saved config not indexed")
	}
	if _, ok, _ := env.cache.Get(context.Background(), saved.Key, saved.Version); !ok {
		t.Fatalf("saved config not cached")
	}
}

func TestSaveConfigDefaultsAuthorAndRejectsBadInput(t *testing.T) {
	env := newTestEnv()

	saved, err := env.svc.SaveConfig(context.Background(), chartconfig.Family, []byte(lineV1), "  ")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.CreatedBy != defaultAuthor {
		t.Fatalf("expected default author, got %q", saved.CreatedBy)
	}

	_, err = env.svc.SaveConfig(context.Background(), "", []byte(`{"version": "0.1.0"}`), "alice")
	var unknown *migrate.UnknownSourceVersionError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected unknown source version, got %v", err)
	}

	_, err = env.svc.SaveConfig(context.Background(), "dashboards", []byte(lineV1), "alice")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "UNKNOWN_FAMILY" {
		t.Fatalf("expected UNKNOWN_FAMILY, got %v", err)
	}

	_, err = env.svc.SaveConfig(context.Background(), "", []byte(`[1, 2]`), "alice")
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_JSON" {
		t.Fatalf("expected INVALID_JSON, got %v", err)
	}
}

func TestLoadConfigUpgradesStaleDocument(t *testing.T) {
	env := newTestEnv()
	original := env.seedStale("cfg_old", chartconfig.Family, lineV1)
	_, _ = env.history.Commit("cfg_old", "1.0.0", original.Data, "alice", "Create configuration")

	loaded, err := env.svc.LoadConfig(context.Background(), "cfg_old", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	current := chartconfig.CurrentVersion()
	if !loaded.Upgraded || loaded.Cached || loaded.StoredVersion != "1.0.0" || loaded.Version != current {
		t.Fatalf("unexpected load header: %+v", loaded.ConfigSummary)
	}

	stored := env.store.get("cfg_old")
	if stored.Version != current || string(stored.Data) != string(loaded.Document) {
		t.Fatalf("stored document was not replaced: %s %s", stored.Version, stored.Data)
	}
	if string(env.archive.objects["cfg_old/1.0.0.json"]) != lineV1 {
		t.Fatalf("original was not archived: %v", env.archive.objects)
	}
	upgrades, _ := env.store.ListUpgrades(context.Background(), "cfg_old")
	if len(upgrades) != 1 || upgrades[0].FromVersion != "1.0.0" || upgrades[0].ToVersion != current || upgrades[0].ArchiveObject != "cfg_old/1.0.0.json" {
		t.Fatalf("unexpected upgrade records: %+v", upgrades)
	}
	if env.history.tags["cfg_old schema-1.0.0"] != "0000001" {
		t.Fatalf("pre-upgrade revision not tagged: %v", env.history.tags)
	}
	revs, _ := env.history.Log("cfg_old", 0)
	if len(revs) != 2 || revs[0].Author != "migrator" || revs[0].Message != "Upgrade 1.0.0 -> "+current {
		t.Fatalf("unexpected history: %+v", revs)
	}
	if len(env.cache.invalidated) != 1 || env.cache.invalidated[0] != "cfg_old" {
		t.Fatalf("cache not invalidated: %v", env.cache.invalidated)
	}

	again, err := env.svc.LoadConfig(context.Background(), "cfg_old", "")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if again.Upgraded || !again.Cached || string(again.Document) != string(loaded.Document) {
		t.Fatalf("second load should come from the cache: %+v", again)
	}
}

func TestLoadConfigAtOlderVersionDoesNotUpgrade(t *testing.T) {
	env := newTestEnv()
	env.seedStale("cfg_old", chartconfig.Family, lineV1)

	loaded, err := env.svc.LoadConfig(context.Background(), "cfg_old", "2.0.0")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Upgraded || loaded.Version != "2.0.0" {
		t.Fatalf("unexpected load: %+v", loaded.ConfigSummary)
	}
	var doc map[string]any
	if err := json.Unmarshal(loaded.Document, &doc); err != nil || doc["version"] != "2.0.0" {
		t.Fatalf("document not at 2.0.0: %v %v", doc["version"], err)
	}
	if stored := env.store.get("cfg_old"); stored.Version != "1.0.0" {
		t.Fatalf("stored document should be untouched, got %s", stored.Version)
	}
	if len(env.archive.objects) != 0 {
		t.Fatalf("nothing should be archived")
	}
}

func TestLoadConfigLosesCompareAndSwap(t *testing.T) {
	env := newTestEnv()
	env.seedStale("cfg_old", chartconfig.Family, lineV1)
	env.store.replaceFn = func(store.ChartConfig, string) (bool, error) { return false, nil }

	loaded, err := env.svc.LoadConfig(context.Background(), "cfg_old", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Upgraded {
		t.Fatalf("a lost swap must not report an upgrade")
	}
	if loaded.Version != chartconfig.CurrentVersion() {
		t.Fatalf("caller still gets the migrated document, got %s", loaded.Version)
	}
	if upgrades, _ := env.store.ListUpgrades(context.Background(), "cfg_old"); len(upgrades) != 0 {
		t.Fatalf("no upgrade should be recorded: %+v", upgrades)
	}
	if len(env.cache.entries) != 0 {
		t.Fatalf("a lost swap must not be cached: %v", env.cache.entries)
	}
}

func TestLoadConfigArchiveFailureKeepsStoredDocument(t *testing.T) {
	env := newTestEnv()
	env.seedStale("cfg_old", chartconfig.Family, lineV1)
	env.archive.err = errors.New("bucket offline")

	loaded, err := env.svc.LoadConfig(context.Background(), "cfg_old", "")
	if err != nil {
		t.Fatalf("load should still succeed: %v", err)
	}
	if loaded.Upgraded {
		t.Fatalf("upgrade must not happen without an archived original")
	}
	if stored := env.store.get("cfg_old"); stored.Version != "1.0.0" {
		t.Fatalf("stored document should be untouched, got %s", stored.Version)
	}
	if len(env.cache.entries) != 0 {
		t.Fatalf("a failed upgrade must not be cached: %v", env.cache.entries)
	}

	env.archive.err = nil
	retried, err := env.svc.LoadConfig(context.Background(), "cfg_old", "")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Cached || !retried.Upgraded {
		t.Fatalf("retry should upgrade instead of serving the cache: %+v", retried.ConfigSummary)
	}
	if stored := env.store.get("cfg_old"); stored.Version != chartconfig.CurrentVersion() {
		t.Fatalf("retry should replace the stored document, got %s", stored.Version)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	env := newTestEnv()
	if _, err := env.svc.LoadConfig(context.Background(), "missing", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	env.seedStale("cfg_old", chartconfig.Family, lineV1)
	_, err := env.svc.LoadConfig(context.Background(), "cfg_old", "9.9.9")
	var target *migrate.UnknownTargetVersionError
	if !errors.As(err, &target) {
		t.Fatalf("expected unknown target, got %v", err)
	}
}

func TestUpgradeStale(t *testing.T) {
	env := newTestEnv()
	env.seedStale("cfg_a", chartconfig.Family, lineV1)
	env.seedStale("cfg_b", chartconfig.Family, lineV1)
	env.seedStale("cfg_bad", chartconfig.Family, `{"version": "1.0.0", "chartType": 7}`)
	env.seedStale("state_a", appstate.Family, stateV1)
	if _, err := env.svc.SaveConfig(context.Background(), "", []byte(lineV1), "alice"); err != nil {
		t.Fatalf("save: %v", err)
	}

	report, err := env.svc.UpgradeStale(context.Background())
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if report.Scanned != 4 || report.Upgraded != 3 || report.Skipped != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Failed) != 1 || report.Failed[0].Key != "cfg_bad" || report.Failed[0].Version != "1.0.0" {
		t.Fatalf("unexpected failures: %+v", report.Failed)
	}
	if got := env.store.get("state_a").Version; got != appstate.CurrentVersion() {
		t.Fatalf("app state not upgraded: %s", got)
	}

	again, err := env.svc.UpgradeStale(context.Background())
	if err != nil {
		t.Fatalf("second upgrade: %v", err)
	}
	if again.Scanned != 1 || again.Upgraded != 0 || len(again.Failed) != 1 {
		t.Fatalf("only the broken document should remain: %+v", again)
	}
}

func TestUpgradeStaleListError(t *testing.T) {
	env := newTestEnv()
	env.store.listErr = errors.New("db down")
	if _, err := env.svc.UpgradeStale(context.Background()); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected list error, got %v", err)
	}
}

func TestListAndDeleteConfig(t *testing.T) {
	env := newTestEnv()
	env.seedStale("cfg_a", chartconfig.Family, lineV1)
	env.seedStale("state_a", appstate.Family, stateV1)

	items, err := env.svc.ListConfigs(context.Background(), appstate.Family, 10, 0)
	if err != nil || len(items) != 1 || items[0].Key != "state_a" {
		t.Fatalf("unexpected list: %+v %v", items, err)
	}
	if _, err := env.svc.ListConfigs(context.Background(), "nope", 10, 0); err == nil {
		t.Fatalf("expected unknown family error")
	}

	if err := env.svc.DeleteConfig(context.Background(), "cfg_a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(env.search.deleted) != 1 || len(env.cache.invalidated) != 1 {
		t.Fatalf("delete should reach search and cache: %v %v", env.search.deleted, env.cache.invalidated)
	}
	if err := env.svc.DeleteConfig(context.Background(), "cfg_a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv()
	if _, err := env.svc.History(context.Background(), "missing", 10); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	env.seedStale("cfg_old", chartconfig.Family, lineV1)
	view, err := env.svc.History(context.Background(), "cfg_old", 10)
	if err != nil {
		t.Fatalf("history without commits: %v", err)
	}
	if view.Revisions == nil || len(view.Revisions) != 0 || len(view.Upgrades) != 0 {
		t.Fatalf("expected empty history: %+v", view)
	}

	if _, err := env.svc.LoadConfig(context.Background(), "cfg_old", ""); err != nil {
		t.Fatalf("load: %v", err)
	}
	view, err = env.svc.History(context.Background(), "cfg_old", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(view.Revisions) != 1 || len(view.Upgrades) != 1 || view.Upgrades[0].FromVersion != "1.0.0" {
		t.Fatalf("unexpected history: %+v", view)
	}
}

func TestVersions(t *testing.T) {
	env := newTestEnv()
	env.seedStale("cfg_a", chartconfig.Family, lineV1)

	families, err := env.svc.Versions(context.Background())
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(families) != 2 || families[0].Family != appstate.Family || families[1].Family != chartconfig.Family {
		t.Fatalf("unexpected families: %+v", families)
	}
	charts := families[1]
	if charts.Current != chartconfig.CurrentVersion() || charts.Versions[0] != "1.0.0" || charts.Stored["1.0.0"] != 1 {
		t.Fatalf("unexpected chart family: %+v", charts)
	}
	if families[0].Stored == nil {
		t.Fatalf("stored counts must not be nil")
	}
}

func TestSearchWithoutIndex(t *testing.T) {
	svc := New(config.Config{}, newFakeStore(), Dependencies{})
	resp := svc.Search(search.Query{Text: "pop"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Query != "pop" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPeekSummary(t *testing.T) {
	title, chartType := peekSummary(appstate.Family, []byte(`{
		"activeChartKey": "b",
		"chartConfigs": [
			{"key": "a", "chartType": "bar", "meta": {"title": {"de": "Erste"}}},
			{"key": "b", "chartType": "pie", "meta": {"title": {"de": "", "fr": "Deuxième"}}}
		]
	}`))
	if title != "Deuxième" || chartType != "pie" {
		t.Fatalf("unexpected active chart summary: %q %q", title, chartType)
	}

	title, chartType = peekSummary(appstate.Family, []byte(`{"activeChartKey": "x", "chartConfigs": [{"chartType": "map", "meta": {"title": "Karte"}}]}`))
	if title != "Karte" || chartType != "map" {
		t.Fatalf("expected fallback to the first chart: %q %q", title, chartType)
	}

	title, chartType = peekSummary(chartconfig.Family, []byte(`{"chartType": "line"}`))
	if title != "" || chartType != "line" {
		t.Fatalf("unexpected chart summary: %q %q", title, chartType)
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{history.ErrNoHistory, http.StatusNotFound, "NOT_FOUND"},
		{&migrate.UnknownSourceVersionError{Family: "chart-config", Version: "0.1"}, http.StatusUnprocessableEntity, "UNKNOWN_SOURCE_VERSION"},
		{&migrate.UnknownTargetVersionError{Family: "chart-config", Version: "9.0.0"}, http.StatusUnprocessableEntity, "UNKNOWN_TARGET_VERSION"},
		{&migrate.IrreversibleMigrationError{Family: "app-state", From: "2.0.0", To: "1.0.0"}, http.StatusUnprocessableEntity, "IRREVERSIBLE_MIGRATION"},
		{&migrate.ValidationError{Family: "chart-config", Version: "4.0.0", Problems: []string{"x"}}, http.StatusUnprocessableEntity, "INVALID_DOCUMENT"},
		{&migrate.StepError{Family: "chart-config", From: "1.0.0", To: "2.0.0", Err: errors.New("boom")}, http.StatusUnprocessableEntity, "MIGRATION_FAILED"},
		{&migrate.MigrationInvariantViolationError{Family: "chart-config", Step: "1.0.0 -> 2.0.0"}, http.StatusInternalServerError, "MIGRATION_INVARIANT_VIOLATION"},
		{domainError(http.StatusBadRequest, "UNKNOWN_FAMILY", "nope", nil), http.StatusBadRequest, "UNKNOWN_FAMILY"},
		{errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		status, code, _, _ := mapError(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("%v: got %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}
