package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLStore persists configuration documents in Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) q(query string) string {
	return rebind(s.dialect, query)
}

const configColumns = `config_key, family, version, title, chart_type, data, content_hash, created_by, created_at, updated_at`

func scanConfig(row interface{ Scan(...any) error }) (ChartConfig, error) {
	var (
		item ChartConfig
		data string
	)
	err := row.Scan(&item.Key, &item.Family, &item.Version, &item.Title, &item.ChartType, &data,
		&item.ContentHash, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return ChartConfig{}, err
	}
	item.Data = []byte(data)
	return item, nil
}

func (s *SQLStore) InsertConfig(ctx context.Context, item ChartConfig) (ChartConfig, error) {
	now := s.now()
	item.CreatedAt, item.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO chart_configs (`+configColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`), item.Key, item.Family, item.Version, item.Title, item.ChartType, string(item.Data),
		item.ContentHash, item.CreatedBy, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return ChartConfig{}, fmt.Errorf("insert config: %w", err)
	}
	return item, nil
}

func (s *SQLStore) GetConfig(ctx context.Context, key string) (ChartConfig, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+configColumns+` FROM chart_configs WHERE config_key=$1`), key)
	item, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ChartConfig{}, fmt.Errorf("config %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return ChartConfig{}, fmt.Errorf("get config: %w", err)
	}
	return item, nil
}

// ReplaceConfig overwrites the document of item.Key when its stored content
// hash still equals prevHash. It reports false when another writer got there
// first.
func (s *SQLStore) ReplaceConfig(ctx context.Context, item ChartConfig, prevHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE chart_configs
		SET version=$2, title=$3, chart_type=$4, data=$5, content_hash=$6, updated_at=$7
		WHERE config_key=$1 AND content_hash=$8
	`), item.Key, item.Version, item.Title, item.ChartType, string(item.Data), item.ContentHash, s.now(), prevHash)
	if err != nil {
		return false, fmt.Errorf("replace config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replace config: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) DeleteConfig(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM chart_configs WHERE config_key=$1`), key)
	if err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("config %s: %w", key, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) ListConfigs(ctx context.Context, opts ListOpts) ([]ChartConfig, error) {
	query := `SELECT ` + configColumns + ` FROM chart_configs`
	args := make([]any, 0, 3)
	if opts.Family != "" {
		args = append(args, opts.Family)
		query += fmt.Sprintf(` WHERE family=$%d`, len(args))
	}
	query += ` ORDER BY updated_at DESC, config_key`
	if opts.Limit > 0 {
		args = append(args, opts.Limit, max(opts.Offset, 0))
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}
	return s.queryConfigs(ctx, "list configs", query, args...)
}

// ListNotAtVersion returns the documents of family stored at any version
// other than version.
func (s *SQLStore) ListNotAtVersion(ctx context.Context, family, version string) ([]ChartConfig, error) {
	return s.queryConfigs(ctx, "list stale configs", `
		SELECT `+configColumns+`
		FROM chart_configs
		WHERE family=$1 AND version<>$2
		ORDER BY config_key
	`, family, version)
}

// SearchConfigs matches titles case-insensitively. It backs search when no
// search engine is reachable.
func (s *SQLStore) SearchConfigs(ctx context.Context, text, family string, limit int) ([]ChartConfig, error) {
	if strings.TrimSpace(text) == "" {
		return []ChartConfig{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(text))) + "%"
	args := []any{pattern}
	query := `SELECT ` + configColumns + ` FROM chart_configs WHERE LOWER(title) LIKE $1 ESCAPE '\'`
	if family != "" {
		args = append(args, family)
		query += fmt.Sprintf(` AND family=$%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d`, len(args))
	return s.queryConfigs(ctx, "search configs", query, args...)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *SQLStore) queryConfigs(ctx context.Context, what, query string, args ...any) ([]ChartConfig, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	items := make([]ChartConfig, 0)
	for rows.Next() {
		item, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate configs: %w", err)
	}
	return items, nil
}

func (s *SQLStore) InsertUpgrade(ctx context.Context, u Upgrade) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO chart_config_upgrades (id, config_key, from_version, to_version, warnings, archive_object, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`), u.ID, u.ConfigKey, u.FromVersion, u.ToVersion, u.Warnings, u.ArchiveObject, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert upgrade: %w", err)
	}
	return nil
}

func (s *SQLStore) ListUpgrades(ctx context.Context, key string) ([]Upgrade, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, config_key, from_version, to_version, warnings, archive_object, created_at
		FROM chart_config_upgrades
		WHERE config_key=$1
		ORDER BY created_at DESC, id
	`), key)
	if err != nil {
		return nil, fmt.Errorf("list upgrades: %w", err)
	}
	defer rows.Close()

	items := make([]Upgrade, 0)
	for rows.Next() {
		var u Upgrade
		if err := rows.Scan(&u.ID, &u.ConfigKey, &u.FromVersion, &u.ToVersion, &u.Warnings, &u.ArchiveObject, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upgrade: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upgrades: %w", err)
	}
	return items, nil
}

// VersionCounts returns how many documents of each family sit at each version.
func (s *SQLStore) VersionCounts(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT family, version, COUNT(1) FROM chart_configs GROUP BY family, version`)
	if err != nil {
		return nil, fmt.Errorf("count versions: %w", err)
	}
	defer rows.Close()

	out := map[string]map[string]int{}
	for rows.Next() {
		var (
			family, version string
			count           int
		)
		if err := rows.Scan(&family, &version, &count); err != nil {
			return nil, fmt.Errorf("scan version count: %w", err)
		}
		if out[family] == nil {
			out[family] = map[string]int{}
		}
		out[family][version] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version counts: %w", err)
	}
	return out, nil
}

// Ping verifies the database connection is alive
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
