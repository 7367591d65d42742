// Package listener accepts protocol connections and hands each one to its
// own dispatcher goroutine. It owns the sweeper's lifetime: the sweeper
// starts with Serve and stops, after in-flight connections drain, when the
// listening socket is closed.
package listener
