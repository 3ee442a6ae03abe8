package crawler

import (
	"encoding/json"
	"time"
)

// Site is a registered endpoint whose health is polled.
type Site struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Username    string    `json:"username"`
	AppPassword string    `json:"-"`
	Maintainers *string   `json:"maintainers,omitempty"`
	Comments    *string   `json:"comments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Subsite is one member of a multisite network as reported by the health endpoint.
type Subsite struct {
	SiteID   string `json:"site_id"`
	SiteURL  string `json:"site_url"`
	SiteName string `json:"site_name"`
}

// CrawlResult is the persisted record of a single probe attempt.
// Detail fields are either all set or all nil.
type CrawlResult struct {
	ID               int64           `json:"id"`
	SiteID           int64           `json:"site_id"`
	StatusCode       *int            `json:"status_code"`
	ResponseTimeMS   *int64          `json:"response_time_ms"`
	Timestamp        time.Time       `json:"timestamp"`
	WPVersion        *string         `json:"wp_version"`
	HealthRating     *int            `json:"health_rating"`
	UpdatesAvailable *int            `json:"updates_available"`
	Multisite        *bool           `json:"multisite,omitempty"`
	Subsites         []Subsite       `json:"subsites,omitempty"`
	DirectorySizes   json.RawMessage `json:"directory_sizes,omitempty"`
}

// HasDetails reports whether the health report fields were populated.
func (r CrawlResult) HasDetails() bool {
	return r.WPVersion != nil && r.HealthRating != nil && r.UpdatesAvailable != nil
}

// Classification summarizes how a probe outcome was recorded.
type Classification string

// Classification values emitted in metrics, logs, and result events.
const (
	ClassificationHealthy     Classification = "healthy"
	ClassificationIncomplete  Classification = "incomplete"
	ClassificationHTTPError   Classification = "http_error"
	ClassificationUnreachable Classification = "unreachable"
)

// Classify derives the classification of an already-built result.
func (r CrawlResult) Classify() Classification {
	switch {
	case r.StatusCode == nil:
		return ClassificationUnreachable
	case r.HasDetails():
		return ClassificationHealthy
	case *r.StatusCode == 200:
		return ClassificationIncomplete
	default:
		return ClassificationHTTPError
	}
}

// OutcomeKind discriminates ProbeOutcome variants.
type OutcomeKind int

// Probe outcome variants.
const (
	OutcomeResponded OutcomeKind = iota + 1
	OutcomeTransportFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResponded:
		return "responded"
	case OutcomeTransportFailed:
		return "transport_failed"
	default:
		return "unknown"
	}
}

// ProbeOutcome is the result of one health probe. Responded carries the
// status and body of any HTTP response; TransportFailed carries a
// description of the connection, TLS, DNS, or timeout failure.
type ProbeOutcome struct {
	Kind        OutcomeKind
	StatusCode  int
	Body        []byte
	Description string
	Elapsed     time.Duration
}

// Responded builds an outcome for an attempt that received an HTTP response.
func Responded(status int, elapsed time.Duration, body []byte) ProbeOutcome {
	return ProbeOutcome{Kind: OutcomeResponded, StatusCode: status, Elapsed: elapsed, Body: body}
}

// TransportFailed builds an outcome for an attempt that never got a response.
func TransportFailed(description string, elapsed time.Duration) ProbeOutcome {
	return ProbeOutcome{Kind: OutcomeTransportFailed, Description: description, Elapsed: elapsed}
}

// ElapsedMS returns the attempt duration in whole milliseconds.
func (o ProbeOutcome) ElapsedMS() int64 {
	return o.Elapsed.Milliseconds()
}

// ResultEvent is published after a result has been recorded.
type ResultEvent struct {
	ResultID       int64          `json:"result_id"`
	SiteID         int64          `json:"site_id"`
	SiteURL        string         `json:"site_url"`
	Classification Classification `json:"classification"`
	StatusCode     *int           `json:"status_code,omitempty"`
	ResponseTimeMS *int64         `json:"response_time_ms,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	ArchiveURI     string         `json:"archive_uri,omitempty"`
}
