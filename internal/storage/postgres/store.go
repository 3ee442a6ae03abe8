// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
)

// Schema is applied by Migrate. Results cascade with their site.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS websites (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL,
	url          TEXT NOT NULL,
	username     TEXT NOT NULL,
	app_password TEXT NOT NULL,
	maintainers  TEXT,
	comments     TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS crawl_results (
	id                BIGSERIAL PRIMARY KEY,
	website_id        BIGINT NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
	status_code       INTEGER,
	response_time_ms  BIGINT,
	timestamp         TIMESTAMPTZ NOT NULL,
	wp_version        TEXT,
	health_rating     INTEGER,
	updates_available INTEGER,
	directory_sizes   JSONB,
	multisite         BOOLEAN,
	subsites          JSONB
)`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_results_website_ts
	ON crawl_results (website_id, timestamp DESC, id DESC)`,
}

const siteColumns = `id, name, url, username, app_password, maintainers, comments, created_at`

const resultColumns = `id, website_id, status_code, response_time_ms, timestamp,
	wp_version, health_rating, updates_available, directory_sizes, multisite, subsites`

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Pool is the subset of *pgxpool.Pool the store needs outside of sessions.
type Pool interface {
	querier
	Ping(context.Context) error
	Close()
}

// Store implements crawler.Store on a pgx connection pool.
type Store struct {
	pool    Pool
	acquire func(context.Context) (querier, func(), error)
}

// NewStore connects to Postgres and applies the schema.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &Store{
		pool: pool,
		acquire: func(ctx context.Context) (querier, func(), error) {
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, nil, err
			}
			return conn, conn.Release, nil
		},
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
// Sessions share the pool directly instead of pinning a connection.
func NewStoreWithPool(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{
		pool: pool,
		acquire: func(context.Context) (querier, func(), error) {
			return pool, func() {}, nil
		},
	}, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres schema: %w", err)
		}
	}
	return nil
}

// Acquire checks out a connection for one unit of work.
func (s *Store) Acquire(ctx context.Context) (crawler.Session, error) {
	q, release, err := s.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire postgres connection: %w", err)
	}
	return &session{q: q, release: release}, nil
}

// Ping checks the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

type session struct {
	q       querier
	release func()
}

func (s *session) Release() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

func (s *session) ListSites(ctx context.Context) ([]crawler.Site, error) {
	rows, err := s.q.Query(ctx, `SELECT `+siteColumns+` FROM websites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()

	var sites []crawler.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return sites, nil
}

func (s *session) GetSite(ctx context.Context, id int64) (crawler.Site, error) {
	site, err := scanSite(s.q.QueryRow(ctx, `SELECT `+siteColumns+` FROM websites WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Site{}, crawler.ErrSiteNotFound
	}
	return site, err
}

func (s *session) CreateSite(ctx context.Context, site crawler.Site) (crawler.Site, error) {
	err := s.q.QueryRow(ctx, `
INSERT INTO websites (name, url, username, app_password, maintainers, comments)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`,
		site.Name, site.URL, site.Username, site.AppPassword, site.Maintainers, site.Comments,
	).Scan(&site.ID, &site.CreatedAt)
	if err != nil {
		return crawler.Site{}, fmt.Errorf("insert site: %w", err)
	}
	return site, nil
}

func (s *session) UpdateSite(ctx context.Context, site crawler.Site) (crawler.Site, error) {
	updated, err := scanSite(s.q.QueryRow(ctx, `
UPDATE websites SET name = $1, url = $2, username = $3, app_password = $4, maintainers = $5, comments = $6
WHERE id = $7
RETURNING `+siteColumns,
		site.Name, site.URL, site.Username, site.AppPassword, site.Maintainers, site.Comments, site.ID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Site{}, crawler.ErrSiteNotFound
	}
	if err != nil {
		return crawler.Site{}, fmt.Errorf("update site: %w", err)
	}
	return updated, nil
}

func (s *session) DeleteSite(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM websites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrSiteNotFound
	}
	return nil
}

func (s *session) InsertResult(ctx context.Context, result crawler.CrawlResult) (crawler.CrawlResult, error) {
	var subsites []byte
	if result.Subsites != nil {
		b, err := json.Marshal(result.Subsites)
		if err != nil {
			return crawler.CrawlResult{}, fmt.Errorf("marshal subsites: %w", err)
		}
		subsites = b
	}
	var dirSizes []byte
	if len(result.DirectorySizes) > 0 {
		dirSizes = []byte(result.DirectorySizes)
	}
	err := s.q.QueryRow(ctx, `
INSERT INTO crawl_results (
	website_id,
	status_code,
	response_time_ms,
	timestamp,
	wp_version,
	health_rating,
	updates_available,
	directory_sizes,
	multisite,
	subsites
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
RETURNING id`,
		result.SiteID,
		result.StatusCode,
		result.ResponseTimeMS,
		result.Timestamp,
		result.WPVersion,
		result.HealthRating,
		result.UpdatesAvailable,
		dirSizes,
		result.Multisite,
		subsites,
	).Scan(&result.ID)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("insert crawl result: %w", err)
	}
	return result, nil
}

func (s *session) ListResults(ctx context.Context, siteID int64) ([]crawler.CrawlResult, error) {
	rows, err := s.q.Query(ctx, `SELECT `+resultColumns+` FROM crawl_results
WHERE website_id = $1 ORDER BY timestamp DESC, id DESC`, siteID)
	if err != nil {
		return nil, fmt.Errorf("query crawl results: %w", err)
	}
	defer rows.Close()

	var results []crawler.CrawlResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl results: %w", err)
	}
	return results, nil
}

func (s *session) LatestResult(ctx context.Context, siteID int64) (crawler.CrawlResult, error) {
	r, err := scanResult(s.q.QueryRow(ctx, `SELECT `+resultColumns+` FROM crawl_results
WHERE website_id = $1 ORDER BY timestamp DESC, id DESC LIMIT 1`, siteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlResult{}, crawler.ErrNoResults
	}
	return r, err
}

func (s *session) DeleteResults(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM crawl_results WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete crawl results: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSite(row pgx.Row) (crawler.Site, error) {
	var site crawler.Site
	err := row.Scan(&site.ID, &site.Name, &site.URL, &site.Username, &site.AppPassword,
		&site.Maintainers, &site.Comments, &site.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Site{}, err
		}
		return crawler.Site{}, fmt.Errorf("scan site: %w", err)
	}
	return site, nil
}

func scanResult(row pgx.Row) (crawler.CrawlResult, error) {
	var (
		r        crawler.CrawlResult
		dirSizes []byte
		subsites []byte
	)
	err := row.Scan(&r.ID, &r.SiteID, &r.StatusCode, &r.ResponseTimeMS, &r.Timestamp,
		&r.WPVersion, &r.HealthRating, &r.UpdatesAvailable, &dirSizes, &r.Multisite, &subsites)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CrawlResult{}, err
		}
		return crawler.CrawlResult{}, fmt.Errorf("scan crawl result: %w", err)
	}
	if len(dirSizes) > 0 {
		r.DirectorySizes = json.RawMessage(dirSizes)
	}
	if len(subsites) > 0 {
		if err := json.Unmarshal(subsites, &r.Subsites); err != nil {
			return crawler.CrawlResult{}, fmt.Errorf("decode subsites: %w", err)
		}
	}
	return r, nil
}
