package crawler

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Store hands out scoped sessions against the persistence layer.
type Store interface {
	Acquire(ctx context.Context) (Session, error)
	Ping(ctx context.Context) error
	Close() error
}

// Session is a store handle scoped to one unit of work. Callers must
// Release it on every exit path.
type Session interface {
	SiteStore
	ResultStore
	Release()
}

// SiteStore reads and writes registered sites.
type SiteStore interface {
	ListSites(ctx context.Context) ([]Site, error)
	GetSite(ctx context.Context, id int64) (Site, error)
	CreateSite(ctx context.Context, site Site) (Site, error)
	UpdateSite(ctx context.Context, site Site) (Site, error)
	DeleteSite(ctx context.Context, id int64) error
}

// ResultStore persists crawl results.
type ResultStore interface {
	// InsertResult stores a new row and returns it with its assigned ID.
	InsertResult(ctx context.Context, result CrawlResult) (CrawlResult, error)
	// ListResults returns a site's rows ordered by timestamp desc, then ID desc.
	ListResults(ctx context.Context, siteID int64) ([]CrawlResult, error)
	LatestResult(ctx context.Context, siteID int64) (CrawlResult, error)
	// DeleteResults removes the given rows in a single operation.
	DeleteResults(ctx context.Context, ids []int64) (int64, error)
}

// Decrypter turns stored ciphertext back into plaintext.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Encrypter seals plaintext for storage.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Prober performs a single health check request.
type Prober interface {
	Probe(ctx context.Context, url string, headers http.Header) ProbeOutcome
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes result events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
