/*
dto.go - Data Transfer Objects for API requests/responses

PURPOSE:
  Response shapes that do not come straight from a core package. Spending
  rows, concession summaries and tariff listings are serialised as the
  core types themselves.

SEE ALSO:
  - handlers.go: Uses these DTOs
  - render.go: CSV field names
*/
package api

import (
	"github.com/warp/prescribing-engine/concessions"
	"github.com/warp/prescribing-engine/core"
)

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// EntityComparison is one organisation of a concessions comparison.
type EntityComparison struct {
	OrgType string                     `json:"org_type"`
	OrgID   string                     `json:"org_id"`
	OrgName string                     `json:"org_name"`
	Months  []concessions.MonthSummary `json:"months"`
}

// SnapshotStatus describes the snapshot currently serving queries.
type SnapshotStatus struct {
	BuiltAt       string     `json:"built_at"`
	LatestDate    core.Month `json:"latest_date"`
	Dates         int        `json:"dates"`
	Practices     int        `json:"practices"`
	Presentations int        `json:"presentations"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status   string          `json:"status"`
	Snapshot *SnapshotStatus `json:"snapshot,omitempty"`
}
