package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/syndicate/syndicate/pkg/atom"
	"github.com/syndicate/syndicate/pkg/atomicfile"
)

// Version is the snapshot format version written by Save.
const Version = 1

// State is the persisted form of the store.
type State struct {
	Version int      `json:"version"`
	Clock   uint64   `json:"clock"`
	Records []Record `json:"records"`
}

// Record is the persisted form of one source record.
type Record struct {
	SourceID         string     `json:"source_id"`
	Feed             *atom.Feed `json:"feed,omitempty"`
	LastWriteLamport uint64     `json:"last_write_lamport"`
	LastContact      time.Time  `json:"last_contact"`
}

// File persists State at a fixed path.
type File struct {
	path string
	perm os.FileMode
}

// NewFile returns a File writing to path with mode 0600.
func NewFile(path string) *File {
	return &File{path: path, perm: 0o600}
}

// Path returns the canonical snapshot path.
func (f *File) Path() string { return f.path }

// Save atomically replaces the snapshot with st.
func (f *File) Save(st *State) error {
	out := *st
	out.Version = Version
	out.Records = append([]Record(nil), st.Records...)
	sort.Slice(out.Records, func(i, j int) bool {
		return out.Records[i].SourceID < out.Records[j].SourceID
	})

	data, err := json.Marshal(&out)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := atomicfile.WriteFile(f.path, data, f.perm); err != nil {
		return fmt.Errorf("snapshot: save: %w", err)
	}
	return nil
}

// Load reads the snapshot. ok is false, with a nil error, when no snapshot
// has been written yet. Temp files left by an interrupted Save are removed
// first and never read.
func (f *File) Load() (st *State, ok bool, err error) {
	n, err := atomicfile.CleanTemp(f.path)
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: load: %w", err)
	}
	if n > 0 {
		slog.Warn("snapshot: removed temp files from an interrupted save", "path", f.path, "count", n)
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: load: %w", err)
	}

	st = &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, false, fmt.Errorf("snapshot: decode %q: %w", f.path, err)
	}
	if st.Version != Version {
		return nil, false, fmt.Errorf("snapshot: %q has version %d, want %d", f.path, st.Version, Version)
	}
	for i, r := range st.Records {
		if r.SourceID == "" {
			return nil, false, fmt.Errorf("snapshot: %q: records[%d] has no source_id", f.path, i)
		}
	}
	return st, true, nil
}
