// Package dispatch serves one protocol connection: it reads a single
// request under a deadline, applies it to the store, stamps the reply with
// the server clock and closes the connection.
package dispatch
