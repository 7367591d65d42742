package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syndicate/syndicate/pkg/atom"
	"github.com/syndicate/syndicate/pkg/lamport"
	"github.com/syndicate/syndicate/server/internal/metrics"
	"github.com/syndicate/syndicate/server/internal/snapshot"
)

// Saver makes store state durable. *snapshot.File satisfies it.
type Saver interface {
	Save(*snapshot.State) error
}

// Record is the state kept for one content source. Feed is nil for a source
// that has only sent heartbeats.
type Record struct {
	Feed             *atom.Feed
	LastWriteLamport uint64
	LastContact      time.Time
}

// SourceInfo is a read-only summary of one record.
type SourceInfo struct {
	ID               string    `json:"id"`
	HasFeed          bool      `json:"has_feed"`
	Title            string    `json:"title,omitempty"`
	Entries          int       `json:"entries"`
	LastWriteLamport uint64    `json:"last_write_lamport"`
	LastContact      time.Time `json:"last_contact"`
}

// Options configures a Store. The zero value is usable.
type Options struct {
	// Title and FeedID are stamped on the merged feed.
	Title  string
	FeedID string

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Store is the single owner of source records, the server clock and the
// merged feed.
type Store struct {
	mu         sync.Mutex
	clock      *lamport.Clock
	records    map[string]*Record
	merged     *atom.Feed
	dirty      bool
	recomputes int

	saver   Saver
	title   string
	feedID  string
	metrics *metrics.Metrics
	now     func() time.Time // injectable for deterministic tests
}

// New creates an empty Store persisting through saver. A nil saver keeps
// state in memory only.
func New(saver Saver, opts Options) *Store {
	s := &Store{
		clock:   lamport.New(0),
		records: make(map[string]*Record),
		saver:   saver,
		title:   opts.Title,
		feedID:  opts.FeedID,
		metrics: opts.Metrics,
		now:     time.Now,
	}
	s.merged = s.newMerged(nil)
	return s
}

// Restore replaces the store contents with a loaded snapshot. It must be
// called before the store is shared.
func (s *Store) Restore(st *snapshot.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock = lamport.New(st.Clock)
	s.records = make(map[string]*Record, len(st.Records))
	for _, r := range st.Records {
		s.records[r.SourceID] = &Record{
			Feed:             r.Feed,
			LastWriteLamport: r.LastWriteLamport,
			LastContact:      r.LastContact,
		}
	}
	s.merged = s.newMerged(nil)
	s.dirty = len(s.records) > 0
	s.metrics.SetStoreState(len(s.records), st.Clock)
}

// --- write operations ---

// UpsertFeed stores feed as the content of source id. isNew reports whether
// the source had no feed before, either because it was unknown or because
// it had only sent heartbeats.
func (s *Store) UpsertFeed(id string, remote uint64, feed *atom.Feed) (isNew bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevClock, prevDirty := s.clock.Peek(), s.dirty
	old, existed := s.records[id]

	ts := s.clock.Observe(remote)
	s.records[id] = &Record{Feed: feed, LastWriteLamport: ts, LastContact: s.now()}
	s.dirty = true

	if err := s.persist("upsert"); err != nil {
		s.restoreRecord(id, old, existed)
		s.clock.Set(prevClock)
		s.dirty = prevDirty
		return false, err
	}
	return !existed || old.Feed == nil, nil
}

// TouchHeartbeat refreshes the contact time of source id, creating an empty
// record for an unknown source. The merged feed is unaffected.
func (s *Store) TouchHeartbeat(id string, remote uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevClock := s.clock.Peek()
	old, existed := s.records[id]

	s.clock.Observe(remote)
	rec := &Record{}
	if existed {
		*rec = *old
	}
	rec.LastContact = s.now()
	s.records[id] = rec

	if err := s.persist("heartbeat"); err != nil {
		s.restoreRecord(id, old, existed)
		s.clock.Set(prevClock)
		return err
	}
	return nil
}

// EvictStale removes every record whose last contact is at least threshold
// before now and returns the removed IDs in ascending order.
func (s *Store) EvictStale(threshold time.Duration, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := make(map[string]*Record)
	for id, r := range s.records {
		if now.Sub(r.LastContact) >= threshold {
			evicted[id] = r
			delete(s.records, id)
		}
	}
	if len(evicted) == 0 {
		return nil, nil
	}

	prevDirty := s.dirty
	s.dirty = true
	if err := s.persist("evict"); err != nil {
		for id, r := range evicted {
			s.records[id] = r
		}
		s.dirty = prevDirty
		return nil, err
	}

	removed := make([]string, 0, len(evicted))
	for id := range evicted {
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed, nil
}

// Stamp advances the clock for an outgoing reply and returns the value to
// send.
func (s *Store) Stamp() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.clock.Peek()
	ts := s.clock.Tick()
	if err := s.persist("stamp"); err != nil {
		s.clock.Set(prev)
		return 0, err
	}
	return ts, nil
}

// --- read operations ---

// ReadMerged observes a reader's clock and returns a copy of the merged
// feed, rebuilding it first if any record changed since the last read.
func (s *Store) ReadMerged(remote uint64) (*atom.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevClock, prevDirty, prevMerged := s.clock.Peek(), s.dirty, s.merged

	s.clock.Observe(remote)
	if s.dirty {
		s.recompute()
	}
	if err := s.persist("read"); err != nil {
		s.clock.Set(prevClock)
		s.dirty, s.merged = prevDirty, prevMerged
		return nil, err
	}
	return s.merged.Clone(), nil
}

// Merged returns a copy of the merged feed without touching the clock.
// It is meant for observers outside the protocol such as the status API.
func (s *Store) Merged() *atom.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty {
		s.recompute()
	}
	return s.merged.Clone()
}

// Sources returns a summary of every record, ordered by ID.
func (s *Store) Sources() []SourceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SourceInfo, 0, len(s.records))
	for id, r := range s.records {
		out = append(out, info(id, r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Source returns the summary and a copy of the feed of one record.
func (s *Store) Source(id string) (SourceInfo, *atom.Feed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return SourceInfo{}, nil, false
	}
	return info(id, r), r.Feed.Clone(), true
}

// Lamport returns the current clock value without advancing it.
func (s *Store) Lamport() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Peek()
}

// Count returns the number of records.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Recomputes returns how many times the merged feed has been rebuilt.
func (s *Store) Recomputes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recomputes
}

// --- internals (caller holds mu) ---

func (s *Store) recompute() {
	ids := make([]string, 0, len(s.records))
	n := 0
	for id, r := range s.records {
		if r.Feed == nil {
			continue
		}
		ids = append(ids, id)
		n += len(r.Feed.Entries)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.records[ids[i]], s.records[ids[j]]
		if a.LastWriteLamport != b.LastWriteLamport {
			return a.LastWriteLamport < b.LastWriteLamport
		}
		return ids[i] < ids[j]
	})

	entries := make([]atom.Entry, 0, n)
	for _, id := range ids {
		entries = append(entries, s.records[id].Feed.Entries...)
	}
	s.merged = s.newMerged(entries)
	s.dirty = false
	s.recomputes++
	s.metrics.RecordRecompute()
}

func (s *Store) newMerged(entries []atom.Entry) *atom.Feed {
	return &atom.Feed{
		Title:   s.title,
		ID:      s.feedID,
		Updated: s.now().UTC().Format(time.RFC3339),
		Entries: entries,
	}
}

func (s *Store) persist(op string) error {
	if s.saver == nil {
		s.metrics.SetStoreState(len(s.records), s.clock.Peek())
		return nil
	}

	st := &snapshot.State{
		Version: snapshot.Version,
		Clock:   s.clock.Peek(),
		Records: make([]snapshot.Record, 0, len(s.records)),
	}
	for id, r := range s.records {
		st.Records = append(st.Records, snapshot.Record{
			SourceID:         id,
			Feed:             r.Feed,
			LastWriteLamport: r.LastWriteLamport,
			LastContact:      r.LastContact,
		})
	}

	start := time.Now()
	err := s.saver.Save(st)
	s.metrics.RecordSnapshotWrite(op, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	s.metrics.SetStoreState(len(s.records), st.Clock)
	return nil
}

func (s *Store) restoreRecord(id string, old *Record, existed bool) {
	if existed {
		s.records[id] = old
	} else {
		delete(s.records, id)
	}
}

func info(id string, r *Record) SourceInfo {
	si := SourceInfo{
		ID:               id,
		HasFeed:          r.Feed != nil,
		Entries:          r.Feed.Len(),
		LastWriteLamport: r.LastWriteLamport,
		LastContact:      r.LastContact,
	}
	if r.Feed != nil {
		si.Title = r.Feed.Title
	}
	return si
}
