package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
)

// siteRequest is the body of POST and PUT. AppPassword may be omitted on
// PUT to keep the stored credential.
type siteRequest struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	Username    string  `json:"username"`
	AppPassword string  `json:"app_password"`
	Maintainers *string `json:"maintainers"`
	Comments    *string `json:"comments"`
}

func (req siteRequest) validate(requirePassword bool) error {
	var missing []string
	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(req.URL) == "" {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(req.Username) == "" {
		missing = append(missing, "username")
	}
	if requirePassword && req.AppPassword == "" {
		missing = append(missing, "app_password")
	}
	if len(missing) > 0 {
		return errors.New("missing required fields: " + strings.Join(missing, ", "))
	}
	return crawler.ValidateSiteURL(req.URL)
}

// siteResponse never carries the sealed app password.
type siteResponse struct {
	crawler.Site
	LatestCrawl *crawler.CrawlResult `json:"latest_crawl"`
}

func (s *Server) listWebsites(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer sess.Release()

	sites, err := sess.ListSites(r.Context())
	if err != nil {
		s.logger.Error("list sites failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list websites")
		return
	}
	out := make([]siteResponse, 0, len(sites))
	for _, site := range sites {
		resp, err := s.withLatest(r, sess, site)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load latest crawl")
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createWebsite(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sealed, err := s.encrypter.Encrypt(req.AppPassword)
	if err != nil {
		s.logger.Error("encrypt app password failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}

	sess, ok := s.acquire(w, r)
	if !ok {
		return
	}
	site, err := sess.CreateSite(r.Context(), crawler.Site{
		Name:        strings.TrimSpace(req.Name),
		URL:         strings.TrimSpace(req.URL),
		Username:    req.Username,
		AppPassword: sealed,
		Maintainers: req.Maintainers,
		Comments:    req.Comments,
	})
	sess.Release()
	if err != nil {
		s.logger.Error("create site failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create website")
		return
	}
	s.logger.Info("site registered", zap.Int64("site_id", site.ID), zap.String("url", site.URL))

	resp := siteResponse{Site: site}
	result, err := s.crawler.CrawlAndPrune(r.Context(), site)
	if err != nil {
		s.logger.Warn("initial crawl failed", zap.Int64("site_id", site.ID), zap.Error(err))
	} else {
		resp.LatestCrawl = &result
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) getWebsite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sess, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer sess.Release()

	site, err := sess.GetSite(r.Context(), id)
	if err != nil {
		s.writeSiteError(w, err)
		return
	}
	resp, err := s.withLatest(r, sess, site)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load latest crawl")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) updateWebsite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req siteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer sess.Release()

	site, err := sess.GetSite(r.Context(), id)
	if err != nil {
		s.writeSiteError(w, err)
		return
	}
	site.Name = strings.TrimSpace(req.Name)
	site.URL = strings.TrimSpace(req.URL)
	site.Username = req.Username
	site.Maintainers = req.Maintainers
	site.Comments = req.Comments
	if req.AppPassword != "" {
		sealed, err := s.encrypter.Encrypt(req.AppPassword)
		if err != nil {
			s.logger.Error("encrypt app password failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to store credentials")
			return
		}
		site.AppPassword = sealed
	}

	updated, err := sess.UpdateSite(r.Context(), site)
	if err != nil {
		s.writeSiteError(w, err)
		return
	}
	resp, err := s.withLatest(r, sess, updated)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load latest crawl")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deleteWebsite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sess, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer sess.Release()

	if err := sess.DeleteSite(r.Context(), id); err != nil {
		s.writeSiteError(w, err)
		return
	}
	s.logger.Info("site removed", zap.Int64("site_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCrawlResults(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sess, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer sess.Release()

	results, err := sess.ListResults(r.Context(), id)
	if err != nil {
		s.logger.Error("list crawl results failed", zap.Int64("site_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawl results")
		return
	}
	if len(results) == 0 {
		writeError(w, http.StatusNotFound, "no crawl results found for this website")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) acquire(w http.ResponseWriter, r *http.Request) (crawler.Session, bool) {
	sess, err := s.store.Acquire(r.Context())
	if err != nil {
		s.logger.Error("acquire store session failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return nil, false
	}
	return sess, true
}

func (s *Server) withLatest(r *http.Request, store crawler.ResultStore, site crawler.Site) (siteResponse, error) {
	resp := siteResponse{Site: site}
	latest, err := store.LatestResult(r.Context(), site.ID)
	switch {
	case errors.Is(err, crawler.ErrNoResults):
		return resp, nil
	case err != nil:
		s.logger.Error("load latest crawl failed", zap.Int64("site_id", site.ID), zap.Error(err))
		return siteResponse{}, err
	}
	resp.LatestCrawl = &latest
	return resp, nil
}

func (s *Server) writeSiteError(w http.ResponseWriter, err error) {
	if errors.Is(err, crawler.ErrSiteNotFound) {
		writeError(w, http.StatusNotFound, "website not found")
		return
	}
	s.logger.Error("site operation failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
