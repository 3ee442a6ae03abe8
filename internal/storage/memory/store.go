// Package memory provides in-memory implementations for development and tests.
package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
)

var errClosed = errors.New("memory store is closed")

// Store keeps sites and results in maps guarded by a RWMutex.
type Store struct {
	mu           sync.RWMutex
	sites        map[int64]crawler.Site
	results      map[int64]crawler.CrawlResult
	nextSiteID   int64
	nextResultID int64
	closed       bool
	active       atomic.Int64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sites:   make(map[int64]crawler.Site),
		results: make(map[int64]crawler.CrawlResult),
	}
}

// Acquire returns a session handle. Sessions share the store's data.
func (s *Store) Acquire(_ context.Context) (crawler.Session, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, errClosed
	}
	s.active.Add(1)
	return &session{Store: s}, nil
}

// ActiveSessions reports how many acquired sessions have not been released.
func (s *Store) ActiveSessions() int64 {
	return s.active.Load()
}

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close marks the store closed; later Acquire calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type session struct {
	*Store
	released atomic.Bool
}

func (s *session) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.active.Add(-1)
	}
}

// ListSites returns all sites ordered by ID.
func (s *Store) ListSites(_ context.Context) ([]crawler.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Site, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site)
	}
	slices.SortFunc(out, func(a, b crawler.Site) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// GetSite fetches a site by ID.
func (s *Store) GetSite(_ context.Context, id int64) (crawler.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[id]
	if !ok {
		return crawler.Site{}, crawler.ErrSiteNotFound
	}
	return site, nil
}

// CreateSite stores a new site and assigns its ID.
func (s *Store) CreateSite(_ context.Context, site crawler.Site) (crawler.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSiteID++
	site.ID = s.nextSiteID
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}
	s.sites[site.ID] = site
	return site, nil
}

// UpdateSite replaces a site's mutable fields.
func (s *Store) UpdateSite(_ context.Context, site crawler.Site) (crawler.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sites[site.ID]
	if !ok {
		return crawler.Site{}, crawler.ErrSiteNotFound
	}
	site.CreatedAt = existing.CreatedAt
	s.sites[site.ID] = site
	return site, nil
}

// DeleteSite removes a site and its results.
func (s *Store) DeleteSite(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[id]; !ok {
		return crawler.ErrSiteNotFound
	}
	delete(s.sites, id)
	for rid, r := range s.results {
		if r.SiteID == id {
			delete(s.results, rid)
		}
	}
	return nil
}

// InsertResult appends a result row for an existing site.
func (s *Store) InsertResult(_ context.Context, result crawler.CrawlResult) (crawler.CrawlResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[result.SiteID]; !ok {
		return crawler.CrawlResult{}, crawler.ErrSiteNotFound
	}
	s.nextResultID++
	result.ID = s.nextResultID
	result.Subsites = slices.Clone(result.Subsites)
	s.results[result.ID] = result
	return result, nil
}

// ListResults returns a site's rows, newest first.
func (s *Store) ListResults(_ context.Context, siteID int64) ([]crawler.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.CrawlResult
	for _, r := range s.results {
		if r.SiteID == siteID {
			r.Subsites = slices.Clone(r.Subsites)
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b crawler.CrawlResult) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// LatestResult returns the newest row for a site.
func (s *Store) LatestResult(ctx context.Context, siteID int64) (crawler.CrawlResult, error) {
	results, err := s.ListResults(ctx, siteID)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	if len(results) == 0 {
		return crawler.CrawlResult{}, crawler.ErrNoResults
	}
	return results[0], nil
}

// DeleteResults removes rows by ID and reports how many existed.
func (s *Store) DeleteResults(_ context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.results[id]; ok {
			delete(s.results, id)
			n++
		}
	}
	return n, nil
}
