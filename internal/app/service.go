package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/visualize-admin/visualization-tool-sub010/internal/appstate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/chartconfig"
	"github.com/visualize-admin/visualization-tool-sub010/internal/config"
	"github.com/visualize-admin/visualization-tool-sub010/internal/history"
	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/search"
	"github.com/visualize-admin/visualization-tool-sub010/internal/store"
	"github.com/visualize-admin/visualization-tool-sub010/internal/util"
	"github.com/visualize-admin/visualization-tool-sub010/internal/version"
)

const defaultAuthor = "anonymous"

type configStore interface {
	InsertConfig(context.Context, store.ChartConfig) (store.ChartConfig, error)
	GetConfig(context.Context, string) (store.ChartConfig, error)
	ReplaceConfig(context.Context, store.ChartConfig, string) (bool, error)
	DeleteConfig(context.Context, string) error
	ListConfigs(context.Context, store.ListOpts) ([]store.ChartConfig, error)
	ListNotAtVersion(context.Context, string, string) ([]store.ChartConfig, error)
	InsertUpgrade(context.Context, store.Upgrade) error
	ListUpgrades(context.Context, string) ([]store.Upgrade, error)
	VersionCounts(context.Context) (map[string]map[string]int, error)
	Ping(ctx context.Context) error
}

type documentCache interface {
	Get(ctx context.Context, key, version string) ([]byte, bool, error)
	Put(ctx context.Context, key, version string, data []byte) error
	Invalidate(ctx context.Context, key string) error
}

type documentArchive interface {
	Put(ctx context.Context, key, version string, data []byte) (string, error)
}

type historyService interface {
	Commit(key, version string, data []byte, author, message string) (history.Revision, error)
	Log(key string, limit int) ([]history.Revision, error)
	TagVersion(key, hash, version string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	Index(rec search.Record)
	Delete(id string)
}

// Dependencies are the optional collaborators of the service. Nil fields
// disable the matching feature.
type Dependencies struct {
	Cache    documentCache
	Archive  documentArchive
	History  historyService
	Search   searchIndex
	Resolver migrate.DimensionResolver
}

// family binds a document family name to its migration catalogue.
type family struct {
	registry  *migrate.Registry
	newRunner func(opts ...migrate.Option) *migrate.Runner
}

func defaultFamilies() map[string]family {
	return map[string]family{
		chartconfig.Family: {registry: chartconfig.Registry, newRunner: chartconfig.NewRunner},
		appstate.Family:    {registry: appstate.Registry, newRunner: appstate.NewRunner},
	}
}

type Service struct {
	cfg      config.Config
	store    configStore
	deps     Dependencies
	families map[string]family
	runners  map[string]*migrate.Runner
}

func New(cfg config.Config, configs configStore, deps Dependencies) *Service {
	s := &Service{
		cfg:      cfg,
		store:    configs,
		deps:     deps,
		families: defaultFamilies(),
	}
	s.runners = make(map[string]*migrate.Runner, len(s.families))
	for name, fam := range s.families {
		s.runners[name] = fam.newRunner(s.runnerOptions()...)
	}
	return s
}

func (s *Service) runnerOptions() []migrate.Option {
	opts := []migrate.Option{migrate.WithLookupTimeout(s.cfg.LookupTimeout), migrate.WithLogger(log.Default())}
	if s.deps.Resolver != nil {
		opts = append(opts, migrate.WithResolver(s.deps.Resolver))
	}
	return opts
}

func (s *Service) runner(name string) (*migrate.Runner, error) {
	if name == "" {
		name = chartconfig.Family
	}
	r, ok := s.runners[name]
	if !ok {
		return nil, domainError(http.StatusBadRequest, "UNKNOWN_FAMILY", fmt.Sprintf("Unknown document family %q", name), map[string]any{"families": s.familyNames()})
	}
	return r, nil
}

func (s *Service) familyNames() []string {
	names := make([]string, 0, len(s.families))
	for name := range s.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigSummary describes a stored configuration without its document.
type ConfigSummary struct {
	Key       string    `json:"key"`
	Family    string    `json:"family"`
	Version   string    `json:"version"`
	Title     string    `json:"title"`
	ChartType string    `json:"chartType,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SavedConfig is returned after storing a new configuration.
type SavedConfig struct {
	ConfigSummary
	MigratedFrom string            `json:"migratedFrom"`
	Applied      []string          `json:"applied"`
	Warnings     []migrate.Warning `json:"warnings"`
}

// LoadedConfig is a stored configuration migrated to the requested version.
type LoadedConfig struct {
	ConfigSummary
	StoredVersion string            `json:"storedVersion"`
	Document      json.RawMessage   `json:"document"`
	Applied       []string          `json:"applied"`
	Warnings      []migrate.Warning `json:"warnings"`
	Upgraded      bool              `json:"upgraded"`
	Cached        bool              `json:"cached"`
}

// MigrateDocument migrates raw without storing anything.
func (s *Service) MigrateDocument(ctx context.Context, familyName string, raw []byte, toVersion string) (migrate.Result, error) {
	r, err := s.runner(familyName)
	if err != nil {
		return migrate.Result{}, err
	}
	doc, err := migrate.Parse(raw)
	if err != nil {
		return migrate.Result{}, domainError(http.StatusBadRequest, "INVALID_JSON", err.Error(), nil)
	}
	return r.Migrate(ctx, doc, migrate.Options{ToVersion: strings.TrimSpace(toVersion)})
}

// SaveConfig upgrades raw to the current version, validates it and stores it
// under a new key.
func (s *Service) SaveConfig(ctx context.Context, familyName string, raw []byte, author string) (SavedConfig, error) {
	if familyName == "" {
		familyName = chartconfig.Family
	}
	result, err := s.MigrateDocument(ctx, familyName, raw, "")
	if err != nil {
		return SavedConfig{}, err
	}
	data, err := json.Marshal(result.Document)
	if err != nil {
		return SavedConfig{}, fmt.Errorf("encode document: %w", err)
	}
	author = firstNonBlank(author, defaultAuthor)
	title, chartType := peekSummary(familyName, data)

	saved, err := s.store.InsertConfig(ctx, store.ChartConfig{
		Key:         util.NewID("cfg"),
		Family:      familyName,
		Version:     result.To,
		Title:       title,
		ChartType:   chartType,
		Data:        data,
		ContentHash: util.ContentHash(data),
		CreatedBy:   author,
	})
	if err != nil {
		return SavedConfig{}, err
	}

	message := "Create configuration"
	if result.From != result.To {
		message = fmt.Sprintf("Create configuration (upgraded from %s)", result.From)
	}
	s.commitHistory(saved.Key, saved.Version, data, author, message)
	s.index(saved)
	s.cachePut(ctx, saved.Key, saved.Version, data)

	return SavedConfig{
		ConfigSummary: summaryOf(saved),
		MigratedFrom:  result.From,
		Applied:       result.Applied,
		Warnings:      nonNilWarnings(result.Warnings),
	}, nil
}

// LoadConfig returns the stored configuration at toVersion (default current).
// A document stored below the current version is upgraded in place when it is
// loaded at the current version.
func (s *Service) LoadConfig(ctx context.Context, key, toVersion string) (LoadedConfig, error) {
	item, err := s.store.GetConfig(ctx, key)
	if err != nil {
		return LoadedConfig{}, err
	}
	r, err := s.runner(item.Family)
	if err != nil {
		return LoadedConfig{}, err
	}
	current := r.Registry().CurrentVersion()
	target := firstNonBlank(strings.TrimSpace(toVersion), current)

	loaded := LoadedConfig{
		ConfigSummary: summaryOf(item),
		StoredVersion: item.Version,
		Applied:       []string{},
		Warnings:      []migrate.Warning{},
	}
	loaded.Version = target

	if data, ok := s.cacheGet(ctx, key, target); ok {
		loaded.Document = data
		loaded.Cached = true
		return loaded, nil
	}

	doc, err := migrate.Parse(item.Data)
	if err != nil {
		return LoadedConfig{}, fmt.Errorf("parse stored config %s: %w", key, err)
	}
	result, err := r.Migrate(ctx, doc, migrate.Options{ToVersion: target})
	if err != nil {
		return LoadedConfig{}, err
	}
	data, err := json.Marshal(result.Document)
	if err != nil {
		return LoadedConfig{}, fmt.Errorf("encode document: %w", err)
	}
	loaded.Document = data
	loaded.Applied = result.Applied
	loaded.Warnings = nonNilWarnings(result.Warnings)

	if target == current && result.From != current {
		upgraded, err := s.persistUpgrade(ctx, item, result, data)
		if err != nil {
			log.Printf("app: lazy upgrade of %s failed: %v", key, err)
		}
		loaded.Upgraded = upgraded
		// The stored row is still stale, or someone else replaced it.
		if !upgraded {
			return loaded, nil
		}
	}
	s.cachePut(ctx, key, target, data)
	return loaded, nil
}

// persistUpgrade archives the original bytes, then swaps in the upgraded
// document if nobody changed it in the meantime. It reports whether this call
// performed the swap.
func (s *Service) persistUpgrade(ctx context.Context, item store.ChartConfig, result migrate.Result, data []byte) (bool, error) {
	if version.MustCompare(result.From, result.To) != version.Before {
		return false, nil
	}
	archived := ""
	if s.deps.Archive != nil {
		name, err := s.deps.Archive.Put(ctx, item.Key, item.Version, item.Data)
		if err != nil {
			return false, fmt.Errorf("archive original: %w", err)
		}
		archived = name
	}

	next := item
	next.Version = result.To
	next.Data = data
	next.ContentHash = util.ContentHash(data)
	next.Title, next.ChartType = peekSummary(item.Family, data)
	swapped, err := s.store.ReplaceConfig(ctx, next, item.ContentHash)
	if err != nil {
		return false, fmt.Errorf("replace config: %w", err)
	}
	if !swapped {
		return false, nil
	}

	if err := s.store.InsertUpgrade(ctx, store.Upgrade{
		ID:            util.NewID("upg"),
		ConfigKey:     item.Key,
		FromVersion:   item.Version,
		ToVersion:     result.To,
		Warnings:      len(result.Warnings),
		ArchiveObject: archived,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("app: record upgrade of %s: %v", item.Key, err)
	}

	if s.deps.History != nil {
		if revs, err := s.deps.History.Log(item.Key, 1); err == nil && len(revs) > 0 {
			if err := s.deps.History.TagVersion(item.Key, revs[0].Hash, item.Version); err != nil {
				log.Printf("app: tag %s at %s: %v", item.Key, item.Version, err)
			}
		}
	}
	s.commitHistory(item.Key, result.To, data, "migrator", fmt.Sprintf("Upgrade %s -> %s", item.Version, result.To))
	s.cacheInvalidate(ctx, item.Key)
	s.index(next)
	return true, nil
}

// UpgradeFailure names a stored document that could not be upgraded.
type UpgradeFailure struct {
	Key     string `json:"key"`
	Family  string `json:"family"`
	Version string `json:"version"`
	Error   string `json:"error"`
}

// UpgradeReport summarises a bulk upgrade.
type UpgradeReport struct {
	Scanned  int              `json:"scanned"`
	Upgraded int              `json:"upgraded"`
	Skipped  int              `json:"skipped"`
	Failed   []UpgradeFailure `json:"failed"`
}

// UpgradeStale upgrades every stored document below its family's current
// version. Per-document failures are reported, not returned.
func (s *Service) UpgradeStale(ctx context.Context) (UpgradeReport, error) {
	report := UpgradeReport{Failed: []UpgradeFailure{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.UpgradeConcurrency, 1))

	for _, name := range s.familyNames() {
		r := s.runners[name]
		stale, err := s.store.ListNotAtVersion(ctx, name, r.Registry().CurrentVersion())
		if err != nil {
			_ = g.Wait()
			return report, fmt.Errorf("list stale %s configs: %w", name, err)
		}
		for _, item := range stale {
			mu.Lock()
			report.Scanned++
			mu.Unlock()
			g.Go(func() error {
				upgraded, err := s.upgradeOne(gctx, r, item)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					if gctx.Err() != nil {
						return gctx.Err()
					}
					report.Failed = append(report.Failed, UpgradeFailure{Key: item.Key, Family: item.Family, Version: item.Version, Error: err.Error()})
				case upgraded:
					report.Upgraded++
				default:
					report.Skipped++
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Key < report.Failed[j].Key })
	log.Printf("app: upgrade scanned=%d upgraded=%d skipped=%d failed=%d", report.Scanned, report.Upgraded, report.Skipped, len(report.Failed))
	return report, nil
}

func (s *Service) upgradeOne(ctx context.Context, r *migrate.Runner, item store.ChartConfig) (bool, error) {
	doc, err := migrate.Parse(item.Data)
	if err != nil {
		return false, err
	}
	result, err := r.Migrate(ctx, doc, migrate.Options{})
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(result.Document)
	if err != nil {
		return false, fmt.Errorf("encode document: %w", err)
	}
	return s.persistUpgrade(ctx, item, result, data)
}

// ListConfigs lists stored configurations, newest first.
func (s *Service) ListConfigs(ctx context.Context, familyName string, limit, offset int) ([]ConfigSummary, error) {
	if familyName != "" {
		if _, err := s.runner(familyName); err != nil {
			return nil, err
		}
	}
	items, err := s.store.ListConfigs(ctx, store.ListOpts{Family: familyName, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	out := make([]ConfigSummary, 0, len(items))
	for _, item := range items {
		out = append(out, summaryOf(item))
	}
	return out, nil
}

// DeleteConfig removes a stored configuration. Its git history is kept.
func (s *Service) DeleteConfig(ctx context.Context, key string) error {
	if err := s.store.DeleteConfig(ctx, key); err != nil {
		return err
	}
	s.cacheInvalidate(ctx, key)
	if s.deps.Search != nil {
		s.deps.Search.Delete(key)
	}
	return nil
}

// HistoryView lists the revisions and recorded upgrades of one configuration.
type HistoryView struct {
	Key       string             `json:"key"`
	Revisions []history.Revision `json:"revisions"`
	Upgrades  []UpgradeView      `json:"upgrades"`
}

type UpgradeView struct {
	FromVersion   string    `json:"fromVersion"`
	ToVersion     string    `json:"toVersion"`
	Warnings      int       `json:"warnings"`
	ArchiveObject string    `json:"archiveObject,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (s *Service) History(ctx context.Context, key string, limit int) (HistoryView, error) {
	if _, err := s.store.GetConfig(ctx, key); err != nil {
		return HistoryView{}, err
	}
	view := HistoryView{Key: key, Revisions: []history.Revision{}, Upgrades: []UpgradeView{}}

	if s.deps.History != nil {
		revs, err := s.deps.History.Log(key, limit)
		if err != nil && !errors.Is(err, history.ErrNoHistory) {
			return HistoryView{}, err
		}
		if revs != nil {
			view.Revisions = revs
		}
	}

	upgrades, err := s.store.ListUpgrades(ctx, key)
	if err != nil {
		return HistoryView{}, err
	}
	for _, u := range upgrades {
		view.Upgrades = append(view.Upgrades, UpgradeView{
			FromVersion:   u.FromVersion,
			ToVersion:     u.ToVersion,
			Warnings:      u.Warnings,
			ArchiveObject: u.ArchiveObject,
			CreatedAt:     u.CreatedAt,
		})
	}
	return view, nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.deps.Search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.deps.Search.Search(q)
}

// FamilyVersions describes one document family's migration chain.
type FamilyVersions struct {
	Family   string         `json:"family"`
	Current  string         `json:"current"`
	Versions []string       `json:"versions"`
	Stored   map[string]int `json:"stored"`
}

func (s *Service) Versions(ctx context.Context) ([]FamilyVersions, error) {
	counts, err := s.store.VersionCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]FamilyVersions, 0, len(s.families))
	for _, name := range s.familyNames() {
		reg := s.families[name].registry
		stored := counts[name]
		if stored == nil {
			stored = map[string]int{}
		}
		out = append(out, FamilyVersions{
			Family:   name,
			Current:  reg.CurrentVersion(),
			Versions: reg.Versions(),
			Stored:   stored,
		})
	}
	return out, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Readiness pings the store and the optional collaborators that support it.
// Only the "database" entry decides readiness.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.Ping(ctx)}
	if p, ok := s.deps.Cache.(pinger); ok {
		checks["cache"] = p.Ping(ctx)
	}
	if p, ok := s.deps.Archive.(pinger); ok {
		checks["archive"] = p.Ping(ctx)
	}
	return checks
}

func (s *Service) commitHistory(key, version string, data []byte, author, message string) {
	if s.deps.History == nil {
		return
	}
	if _, err := s.deps.History.Commit(key, version, data, author, message); err != nil {
		log.Printf("app: commit history for %s: %v", key, err)
	}
}

func (s *Service) index(item store.ChartConfig) {
	if s.deps.Search == nil {
		return
	}
	s.deps.Search.Index(search.RecordFromConfig(item))
}

func (s *Service) cacheGet(ctx context.Context, key, version string) ([]byte, bool) {
	if s.deps.Cache == nil {
		return nil, false
	}
	data, ok, err := s.deps.Cache.Get(ctx, key, version)
	if err != nil {
		log.Printf("app: cache read %s@%s: %v", key, version, err)
		return nil, false
	}
	return data, ok
}

func (s *Service) cachePut(ctx context.Context, key, version string, data []byte) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Put(ctx, key, version, data); err != nil {
		log.Printf("app: cache write %s@%s: %v", key, version, err)
	}
}

func (s *Service) cacheInvalidate(ctx context.Context, key string) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Invalidate(ctx, key); err != nil {
		log.Printf("app: cache invalidate %s: %v", key, err)
	}
}

func summaryOf(item store.ChartConfig) ConfigSummary {
	return ConfigSummary{
		Key:       item.Key,
		Family:    item.Family,
		Version:   item.Version,
		Title:     item.Title,
		ChartType: item.ChartType,
		CreatedBy: item.CreatedBy,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

// peekSummary reads the display title and chart type straight from the
// encoded document. App states are summarised by their active chart.
func peekSummary(familyName string, data []byte) (title, chartType string) {
	chart := gjson.ParseBytes(data)
	if familyName == appstate.Family {
		active := chart.Get("activeChartKey").String()
		state := chart
		chart = state.Get("chartConfigs.#(key==" + strconv.Quote(active) + ")")
		if !chart.Exists() {
			chart = state.Get("chartConfigs.0")
		}
	}
	return localized(chart.Get("meta.title")), chart.Get("chartType").String()
}

func localized(value gjson.Result) string {
	if value.Type == gjson.String {
		return value.String()
	}
	for _, locale := range chartconfig.Locales {
		if text := strings.TrimSpace(value.Get(locale).String()); text != "" {
			return text
		}
	}
	return ""
}

func nonNilWarnings(w []migrate.Warning) []migrate.Warning {
	if w == nil {
		return []migrate.Warning{}
	}
	return w
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
