// Package api implements the read-only HTTP status API of syndicate-server.
//
// New(store, opts) returns an http.Handler that serves:
//
//	GET /api/v1/health        server clock, source and entry counts
//	GET /api/v1/sources       every source record with diagnostics
//	GET /api/v1/sources/{id}  one source record and its feed; 404 if unknown
//	GET /api/v1/feed          the merged feed as JSON
//	GET /api/v1/events        recent registrations and evictions
//
// Every endpoint responds with Content-Type: application/json and returns
// 405 for methods other than GET. Reads never advance the server clock.
package api
