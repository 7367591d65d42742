// Package lamport implements the Lamport logical clock shared by every
// syndicate process role.
//
// Every outbound message carries the sender's value after Tick or Observe,
// and every inbound timestamp is folded in with Observe before the receiver
// acts on the message:
//
//	Tick()          value + 1
//	Observe(remote) max(value, remote) + 1
//	Peek()          current value, no side effect
//
// A Clock is safe for concurrent use. New(initial) restores a persisted value.
package lamport
