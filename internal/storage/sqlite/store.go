// Package sqlite provides a SQLite-backed store using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
)

// timeFormat is fixed width so lexical order matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS websites (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	url          TEXT NOT NULL,
	username     TEXT NOT NULL,
	app_password TEXT NOT NULL,
	maintainers  TEXT,
	comments     TEXT,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_results (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	website_id        INTEGER NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
	status_code       INTEGER,
	response_time_ms  INTEGER,
	timestamp         TEXT NOT NULL,
	wp_version        TEXT,
	health_rating     INTEGER,
	updates_available INTEGER,
	directory_sizes   TEXT,
	multisite         INTEGER,
	subsites          TEXT
);
CREATE INDEX IF NOT EXISTS idx_crawl_results_website_ts ON crawl_results (website_id, timestamp DESC, id DESC);
`

const resultColumns = `id, website_id, status_code, response_time_ms, timestamp,
	wp_version, health_rating, updates_available, directory_sizes, multisite, subsites`

const siteColumns = `id, name, url, username, app_password, maintainers, comments, created_at`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Store implements crawler.Store on a SQLite database file.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dsn and migrates the schema.
// Accepted forms: "sqlite:///path/to.db", "file:/path/to.db", "/path/to.db".
func New(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Acquire pins one pooled connection for the caller's unit of work.
func (s *Store) Acquire(ctx context.Context) (crawler.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sqlite connection: %w", err)
	}
	return &session{q: conn, release: func() { _ = conn.Close() }}, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
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
	rows, err := s.q.QueryContext(ctx, `SELECT `+siteColumns+` FROM websites ORDER BY id`)
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
	row := s.q.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM websites WHERE id = ?`, id)
	site, err := scanSite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Site{}, crawler.ErrSiteNotFound
	}
	return site, err
}

func (s *session) CreateSite(ctx context.Context, site crawler.Site) (crawler.Site, error) {
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx, `
INSERT INTO websites (name, url, username, app_password, maintainers, comments, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		site.Name, site.URL, site.Username, site.AppPassword,
		site.Maintainers, site.Comments, site.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return crawler.Site{}, fmt.Errorf("insert site: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return crawler.Site{}, fmt.Errorf("site id: %w", err)
	}
	site.ID = id
	return site, nil
}

func (s *session) UpdateSite(ctx context.Context, site crawler.Site) (crawler.Site, error) {
	res, err := s.q.ExecContext(ctx, `
UPDATE websites SET name = ?, url = ?, username = ?, app_password = ?, maintainers = ?, comments = ?
WHERE id = ?`,
		site.Name, site.URL, site.Username, site.AppPassword, site.Maintainers, site.Comments, site.ID,
	)
	if err != nil {
		return crawler.Site{}, fmt.Errorf("update site: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return crawler.Site{}, crawler.ErrSiteNotFound
	}
	return s.GetSite(ctx, site.ID)
}

func (s *session) DeleteSite(ctx context.Context, id int64) error {
	tx, err := s.q.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete site: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM crawl_results WHERE website_id = ?`, id); err != nil {
		return fmt.Errorf("delete site results: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM websites WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return crawler.ErrSiteNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete site: %w", err)
	}
	return nil
}

func (s *session) InsertResult(ctx context.Context, result crawler.CrawlResult) (crawler.CrawlResult, error) {
	subsites, err := marshalSubsites(result.Subsites)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	var dirSizes *string
	if len(result.DirectorySizes) > 0 {
		v := string(result.DirectorySizes)
		dirSizes = &v
	}
	res, err := s.q.ExecContext(ctx, `
INSERT INTO crawl_results (
	website_id, status_code, response_time_ms, timestamp,
	wp_version, health_rating, updates_available, directory_sizes, multisite, subsites
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.SiteID, result.StatusCode, result.ResponseTimeMS, result.Timestamp.UTC().Format(timeFormat),
		result.WPVersion, result.HealthRating, result.UpdatesAvailable, dirSizes, result.Multisite, subsites,
	)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("insert crawl result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("crawl result id: %w", err)
	}
	result.ID = id
	return result, nil
}

func (s *session) ListResults(ctx context.Context, siteID int64) ([]crawler.CrawlResult, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+resultColumns+` FROM crawl_results
WHERE website_id = ? ORDER BY timestamp DESC, id DESC`, siteID)
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
	row := s.q.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM crawl_results
WHERE website_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, siteID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.CrawlResult{}, crawler.ErrNoResults
	}
	return r, err
}

func (s *session) DeleteResults(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM crawl_results WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete crawl results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete crawl results: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSite(row scanner) (crawler.Site, error) {
	var (
		site        crawler.Site
		maintainers sql.NullString
		comments    sql.NullString
		createdAt   string
	)
	err := row.Scan(&site.ID, &site.Name, &site.URL, &site.Username, &site.AppPassword,
		&maintainers, &comments, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Site{}, err
		}
		return crawler.Site{}, fmt.Errorf("scan site: %w", err)
	}
	site.Maintainers = nullString(maintainers)
	site.Comments = nullString(comments)
	if site.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return crawler.Site{}, fmt.Errorf("parse site created_at: %w", err)
	}
	return site, nil
}

func scanResult(row scanner) (crawler.CrawlResult, error) {
	var (
		r          crawler.CrawlResult
		status     sql.NullInt64
		respTime   sql.NullInt64
		ts         string
		version    sql.NullString
		rating     sql.NullInt64
		updates    sql.NullInt64
		dirSizes   sql.NullString
		multisite  sql.NullBool
		subsitesJS sql.NullString
	)
	err := row.Scan(&r.ID, &r.SiteID, &status, &respTime, &ts,
		&version, &rating, &updates, &dirSizes, &multisite, &subsitesJS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.CrawlResult{}, err
		}
		return crawler.CrawlResult{}, fmt.Errorf("scan crawl result: %w", err)
	}
	if r.Timestamp, err = time.Parse(timeFormat, ts); err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("parse crawl result timestamp: %w", err)
	}
	r.StatusCode = nullInt(status)
	if respTime.Valid {
		v := respTime.Int64
		r.ResponseTimeMS = &v
	}
	r.WPVersion = nullString(version)
	r.HealthRating = nullInt(rating)
	r.UpdatesAvailable = nullInt(updates)
	if dirSizes.Valid {
		r.DirectorySizes = json.RawMessage(dirSizes.String)
	}
	if multisite.Valid {
		v := multisite.Bool
		r.Multisite = &v
	}
	if subsitesJS.Valid {
		if err := json.Unmarshal([]byte(subsitesJS.String), &r.Subsites); err != nil {
			return crawler.CrawlResult{}, fmt.Errorf("decode subsites: %w", err)
		}
	}
	return r, nil
}

func marshalSubsites(subsites []crawler.Subsite) (*string, error) {
	if subsites == nil {
		return nil, nil
	}
	b, err := json.Marshal(subsites)
	if err != nil {
		return nil, fmt.Errorf("encode subsites: %w", err)
	}
	v := string(b)
	return &v, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
