package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/syndicate/syndicate/pkg/atom"
	"github.com/syndicate/syndicate/server/internal/notify"
	"github.com/syndicate/syndicate/server/internal/store"
)

// Store is the read side of *store.Store.
type Store interface {
	Sources() []store.SourceInfo
	Source(id string) (store.SourceInfo, *atom.Feed, bool)
	Merged() *atom.Feed
	Lamport() uint64
}

// EventLog supplies recent lifecycle events. *notify.Notifier satisfies it.
type EventLog interface {
	Recent() []notify.Event
}

// Options configures a Handler.
type Options struct {
	// Expiration reports the sweeper's current silence threshold, used for
	// source state and diagnostics. Nil disables eviction hints.
	Expiration func() time.Duration

	// Events is optional; without it /api/v1/events returns an empty list.
	Events EventLog
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store Store
	opts  Options
	mux   *http.ServeMux
	now   func() time.Time
}

// New creates a Handler wired to st and registers all routes.
func New(st Store, opts Options) *Handler {
	h := &Handler{store: st, opts: opts, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/sources", h.listSources)
	h.mux.HandleFunc("/api/v1/sources/", h.getSource) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/feed", h.feed)
	h.mux.HandleFunc("/api/v1/events", h.events)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	sources := h.store.Sources()
	resp := HealthResponse{
		Status:      "ok",
		Lamport:     h.store.Lamport(),
		Sources:     len(sources),
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
	}
	for _, s := range sources {
		if s.HasFeed {
			resp.FeedSources++
		}
		resp.Entries += s.Entries
	}
	jsonResp(w, http.StatusOK, resp)
}

// listSources returns GET /api/v1/sources.
func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	sources := h.store.Sources()
	now := h.now()
	out := make([]SourceResponse, 0, len(sources))
	for _, s := range sources {
		out = append(out, h.toSourceResponse(s, now))
	}
	jsonResp(w, http.StatusOK, out)
}

// getSource returns GET /api/v1/sources/{id}.
func (h *Handler) getSource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/sources/")
	if id == "" {
		h.listSources(w, r)
		return
	}

	info, feed, ok := h.store.Source(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "source not found")
		return
	}
	jsonResp(w, http.StatusOK, SourceDetailResponse{
		SourceResponse: h.toSourceResponse(info, h.now()),
		Feed:           feed,
	})
}

// feed returns GET /api/v1/feed.
func (h *Handler) feed(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, BuildFeed(h.store, h.now()))
}

// events returns GET /api/v1/events.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	resp := EventsResponse{Events: []notify.Event{}}
	if h.opts.Events != nil {
		resp.Events = h.opts.Events.Recent()
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ---

// BuildFeed assembles the merged feed payload shared with the websocket
// stream.
func BuildFeed(st Store, now time.Time) FeedResponse {
	return FeedResponse{
		Lamport:     st.Lamport(),
		Feed:        st.Merged(),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) toSourceResponse(s store.SourceInfo, now time.Time) SourceResponse {
	var expiration time.Duration
	if h.opts.Expiration != nil {
		expiration = h.opts.Expiration()
	}
	silent := now.Sub(s.LastContact)
	if silent < 0 {
		silent = 0
	}

	return SourceResponse{
		ID:               s.ID,
		State:            sourceState(s, silent, expiration),
		HasFeed:          s.HasFeed,
		Title:            s.Title,
		Entries:          s.Entries,
		LastWriteLamport: s.LastWriteLamport,
		LastContact:      s.LastContact.UTC().Format(time.RFC3339),
		SilentSeconds:    silent.Seconds(),
		Diagnostics:      computeDiagnostics(s, silent, expiration),
	}
}

// sourceState classifies a source. A source silent for half the expiration
// or longer is expiring regardless of whether it has a feed.
func sourceState(s store.SourceInfo, silent, expiration time.Duration) string {
	switch {
	case expiration > 0 && silent*2 >= expiration:
		return "expiring"
	case !s.HasFeed:
		return "heartbeat_only"
	default:
		return "active"
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
