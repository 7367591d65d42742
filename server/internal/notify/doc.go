// Package notify tells external webhooks when a content source registers or
// is evicted, and keeps a short in-memory history of those events for the
// status API.
//
// Events are queued and delivered by Run on its own goroutine; a slow or
// failing webhook never blocks the protocol path. When the queue is full new
// events are dropped from delivery but still recorded in the history.
package notify
