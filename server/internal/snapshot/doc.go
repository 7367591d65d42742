// Package snapshot owns the durable on-disk form of the aggregation store:
// the Lamport clock and the per-source records. The merged feed and the
// dirty flag are derived state and are never written.
//
// Format: a JSON document with an explicit version number,
//
//	{"version": 1, "clock": 42, "records": [{"source_id": "...", ...}]}
//
// with records sorted by source ID so identical state produces identical
// bytes.
//
// File.Save writes a fresh temporary file next to the canonical path and
// renames it into place, so the canonical file is always a complete
// snapshot. File.Load reports ok=false when no snapshot exists yet; every
// other I/O or decode failure is returned to the caller.
package snapshot
