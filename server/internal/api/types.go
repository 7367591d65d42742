package api

import (
	"github.com/syndicate/syndicate/pkg/atom"
	"github.com/syndicate/syndicate/server/internal/notify"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Lamport     uint64 `json:"lamport"`
	Sources     int    `json:"sources"`
	FeedSources int    `json:"feed_sources"`
	Entries     int    `json:"entries"`
	GeneratedAt string `json:"generated_at"` // RFC3339
}

// SourceResponse is one source in GET /api/v1/sources.
type SourceResponse struct {
	ID               string           `json:"id"`
	State            string           `json:"state"` // active | heartbeat_only | expiring
	HasFeed          bool             `json:"has_feed"`
	Title            string           `json:"title,omitempty"`
	Entries          int              `json:"entries"`
	LastWriteLamport uint64           `json:"last_write_lamport"`
	LastContact      string           `json:"last_contact"` // RFC3339
	SilentSeconds    float64          `json:"silent_seconds"`
	Diagnostics      []DiagnosticHint `json:"diagnostics"`
}

// SourceDetailResponse is the payload for GET /api/v1/sources/{id}.
type SourceDetailResponse struct {
	SourceResponse
	Feed *atom.Feed `json:"feed,omitempty"`
}

// FeedResponse is the payload for GET /api/v1/feed and the websocket stream.
type FeedResponse struct {
	Lamport     uint64     `json:"lamport"`
	Feed        *atom.Feed `json:"feed"`
	GeneratedAt string     `json:"generated_at"` // RFC3339
}

// EventsResponse is the payload for GET /api/v1/events.
type EventsResponse struct {
	Events []notify.Event `json:"events"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
