package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// HealthReport is the decoded body of a site's health endpoint.
// Optional pointers distinguish absent fields from zero values.
type HealthReport struct {
	WPVersion        *string         `json:"wp_version"`
	HealthRating     *int            `json:"health_rating"`
	UpdatesAvailable *int            `json:"updates_available"`
	Multisite        *bool           `json:"multisite"`
	Subsites         []Subsite       `json:"subsites"`
	DirectorySizes   json.RawMessage `json:"directory_sizes"`
}

// MissingFieldsError lists the required report fields absent from a body.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("health report missing required fields: %s", strings.Join(e.Fields, ", "))
}

// ParseHealthReport decodes and validates a health endpoint body. A body
// that is not a JSON object returns a decode error; one lacking any
// required field returns *MissingFieldsError.
func ParseHealthReport(body []byte) (HealthReport, error) {
	var report HealthReport
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return HealthReport{}, fmt.Errorf("decode health report: empty body")
	}
	if err := json.Unmarshal(trimmed, &report); err != nil {
		return HealthReport{}, fmt.Errorf("decode health report: %w", err)
	}
	if err := report.Validate(); err != nil {
		return HealthReport{}, err
	}
	return report, nil
}

// Validate checks that every required field is present.
func (r HealthReport) Validate() error {
	var missing []string
	if r.WPVersion == nil {
		missing = append(missing, "wp_version")
	}
	if r.HealthRating == nil {
		missing = append(missing, "health_rating")
	}
	if r.UpdatesAvailable == nil {
		missing = append(missing, "updates_available")
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// Apply copies the report's fields onto result. Subsites are only kept when
// the report declares a multisite install.
func (r HealthReport) Apply(result *CrawlResult) {
	result.WPVersion = r.WPVersion
	result.HealthRating = r.HealthRating
	result.UpdatesAvailable = r.UpdatesAvailable
	result.Multisite = r.Multisite
	if r.Multisite != nil && *r.Multisite {
		result.Subsites = append([]Subsite(nil), r.Subsites...)
	}
	if len(r.DirectorySizes) > 0 && !bytes.Equal(bytes.TrimSpace(r.DirectorySizes), []byte("null")) {
		result.DirectorySizes = append(json.RawMessage(nil), r.DirectorySizes...)
	}
}
