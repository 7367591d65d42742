// Package identity keeps the durable state of one content source: its
// source ID and Lamport clock. The state lives in a small JSON file that is
// created on first use and rewritten atomically after every exchange, so a
// restarted content server keeps its ID and never reuses a clock value.
package identity
