// Package store holds the source records of the aggregation server and the
// merged feed derived from them.
//
// Every operation runs under one mutex and persists the resulting state
// through a Saver before it returns. When the save fails the operation's
// in-memory changes are undone and the error is returned, so the process
// never acknowledges state it could not make durable.
//
// The merged feed is rebuilt lazily: writes and evictions only mark it
// dirty, and the next read concatenates every record's entries ordered by
// (LastWriteLamport, source ID).
package store
