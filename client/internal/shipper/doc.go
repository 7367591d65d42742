// Package shipper sends feeds and heartbeats from a content source to the
// aggregation server, and fetches the merged feed for readers.
//
// Every exchange follows the same clock discipline: Tick the source clock and
// send the value in the Lamport header, Observe the Lamport header of the
// response, then persist the identity so a restart never reuses a clock value.
//
// Shipper.RunHeartbeat sends PUT /heartbeat on a fixed interval (default 1s).
// Failed heartbeats are retried with truncated exponential backoff
// (1s→60s, ±25% jitter); the first success resets the backoff.
//
// Reader uses an in-memory clock that starts at zero on every run.
//
// The do field is injectable for testing.
package shipper
