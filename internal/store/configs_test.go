package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(ctx, db, dialect, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewSQLStore(db, dialect)
}

func sample(key, version, title string) ChartConfig {
	return ChartConfig{
		Key:         key,
		Family:      "chart-config",
		Version:     version,
		Title:       title,
		ChartType:   "line",
		Data:        []byte(`{"version":"` + version + `"}`),
		ContentHash: "h-" + key + "-" + version,
		CreatedBy:   "tester",
	}
}

func TestInsertAndGetConfig(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.InsertConfig(ctx, sample("a", "4.0.0", "Population"))
	if err != nil {
		t.Fatalf("InsertConfig() error = %v", err)
	}
	got, err := s.GetConfig(ctx, "a")
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if got.Title != "Population" || string(got.Data) != `{"version":"4.0.0"}` || got.CreatedBy != "tester" {
		t.Fatalf("unexpected config: %+v", got)
	}
	if !got.CreatedAt.Equal(saved.CreatedAt) {
		t.Fatalf("timestamps should survive the round trip: %s vs %s", got.CreatedAt, saved.CreatedAt)
	}

	if _, err := s.InsertConfig(ctx, sample("a", "4.0.0", "again")); err == nil {
		t.Fatal("duplicate key should fail")
	}
	if _, err := s.GetConfig(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceConfigComparesHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := sample("a", "1.0.0", "Old")
	if _, err := s.InsertConfig(ctx, old); err != nil {
		t.Fatalf("InsertConfig() error = %v", err)
	}

	next := sample("a", "4.0.0", "New")
	ok, err := s.ReplaceConfig(ctx, next, "stale-hash")
	if err != nil || ok {
		t.Fatalf("replace with a stale hash should be refused: ok=%v err=%v", ok, err)
	}
	ok, err = s.ReplaceConfig(ctx, next, old.ContentHash)
	if err != nil || !ok {
		t.Fatalf("replace should succeed: ok=%v err=%v", ok, err)
	}
	got, _ := s.GetConfig(ctx, "a")
	if got.Version != "4.0.0" || got.Title != "New" {
		t.Fatalf("config not replaced: %+v", got)
	}
}

func TestListAndStaleConfigs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, c := range []ChartConfig{sample("a", "1.0.0", "A"), sample("b", "4.0.0", "B"), sample("c", "3.1.0", "C")} {
		if _, err := s.InsertConfig(ctx, c); err != nil {
			t.Fatalf("InsertConfig() error = %v", err)
		}
	}
	state := sample("s", "3.1.0", "State")
	state.Family = "app-state"
	if _, err := s.InsertConfig(ctx, state); err != nil {
		t.Fatalf("InsertConfig() error = %v", err)
	}

	all, err := s.ListConfigs(ctx, ListOpts{Family: "chart-config"})
	if err != nil || len(all) != 3 {
		t.Fatalf("ListConfigs() = %d items, err %v", len(all), err)
	}
	page, err := s.ListConfigs(ctx, ListOpts{Limit: 2, Offset: 1})
	if err != nil || len(page) != 2 {
		t.Fatalf("paged ListConfigs() = %d items, err %v", len(page), err)
	}

	stale, err := s.ListNotAtVersion(ctx, "chart-config", "4.0.0")
	if err != nil {
		t.Fatalf("ListNotAtVersion() error = %v", err)
	}
	if len(stale) != 2 || stale[0].Key != "a" || stale[1].Key != "c" {
		t.Fatalf("unexpected stale configs: %+v", stale)
	}

	counts, err := s.VersionCounts(ctx)
	if err != nil {
		t.Fatalf("VersionCounts() error = %v", err)
	}
	if counts["chart-config"]["4.0.0"] != 1 || counts["app-state"]["3.1.0"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestSearchConfigs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, c := range []ChartConfig{sample("a", "4.0.0", "Population by canton"), sample("b", "4.0.0", "Energy 100%"), sample("c", "4.0.0", "Traffic")} {
		if _, err := s.InsertConfig(ctx, c); err != nil {
			t.Fatalf("InsertConfig() error = %v", err)
		}
	}
	hits, err := s.SearchConfigs(ctx, "POPULATION", "", 10)
	if err != nil || len(hits) != 1 || hits[0].Key != "a" {
		t.Fatalf("SearchConfigs() = %+v, %v", hits, err)
	}
	hits, err = s.SearchConfigs(ctx, "%", "chart-config", 10)
	if err != nil || len(hits) != 1 || hits[0].Key != "b" {
		t.Fatalf("wildcards must be escaped, got %+v, %v", hits, err)
	}
	hits, err = s.SearchConfigs(ctx, "  ", "", 10)
	if err != nil || len(hits) != 0 {
		t.Fatalf("blank query should match nothing, got %+v, %v", hits, err)
	}
}

func TestUpgradesAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertConfig(ctx, sample("a", "1.0.0", "A")); err != nil {
		t.Fatalf("InsertConfig() error = %v", err)
	}
	up := Upgrade{ID: "up_1", ConfigKey: "a", FromVersion: "1.0.0", ToVersion: "4.0.0", Warnings: 2, ArchiveObject: "a/1.0.0.json", CreatedAt: time.Now().UTC()}
	if err := s.InsertUpgrade(ctx, up); err != nil {
		t.Fatalf("InsertUpgrade() error = %v", err)
	}
	list, err := s.ListUpgrades(ctx, "a")
	if err != nil || len(list) != 1 || list[0].Warnings != 2 || list[0].ArchiveObject != "a/1.0.0.json" {
		t.Fatalf("ListUpgrades() = %+v, %v", list, err)
	}

	if err := s.DeleteConfig(ctx, "a"); err != nil {
		t.Fatalf("DeleteConfig() error = %v", err)
	}
	if err := s.DeleteConfig(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	list, err = s.ListUpgrades(ctx, "a")
	if err != nil || len(list) != 0 {
		t.Fatalf("upgrades should cascade, got %+v, %v", list, err)
	}
}

func TestRebind(t *testing.T) {
	if got := rebind(SQLite, "a=$1 AND b=$12"); got != "a=?1 AND b=?12" {
		t.Fatalf("rebind = %q", got)
	}
	if got := rebind(Postgres, "a=$1"); got != "a=$1" {
		t.Fatalf("postgres queries are left alone, got %q", got)
	}
	if DialectOf("postgres://x") != Postgres || DialectOf("sqlite://x.db") != SQLite || DialectOf(":memory:") != SQLite {
		t.Fatal("dialect detection wrong")
	}
}
