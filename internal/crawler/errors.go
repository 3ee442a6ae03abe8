package crawler

import "errors"

var (
	// ErrSiteNotFound is returned when a site ID does not exist.
	ErrSiteNotFound = errors.New("site not found")
	// ErrNoResults is returned when a site has no recorded results.
	ErrNoResults = errors.New("no crawl results")
)
