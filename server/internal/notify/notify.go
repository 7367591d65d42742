package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/syndicate/syndicate/server/internal/config"
)

// Event kinds.
const (
	KindRegistered = "registered"
	KindEvicted    = "evicted"
)

const (
	queueSize     = 256
	maxHistoryLen = 200
)

// Event is one source lifecycle change.
type Event struct {
	Kind     string    `json:"kind"`
	SourceID string    `json:"source_id"`
	At       time.Time `json:"at"`
}

// Notifier records lifecycle events and delivers them to webhooks.
//
// Notifier is safe for concurrent use.
type Notifier struct {
	webhooks []config.WebhookConfig
	client   *http.Client
	queue    chan Event
	now      func() time.Time

	mu      sync.Mutex
	history []Event
}

// New creates a Notifier for the configured webhooks. A Notifier without
// webhooks only keeps history.
func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		queue:    make(chan Event, queueSize),
		now:      time.Now,
	}
}

// Registered records that sourceID stored its first feed.
func (n *Notifier) Registered(sourceID string) {
	n.publish(Event{Kind: KindRegistered, SourceID: sourceID, At: n.now()})
}

// Evicted records that the given sources were removed for inactivity.
func (n *Notifier) Evicted(sourceIDs []string) {
	at := n.now()
	for _, id := range sourceIDs {
		n.publish(Event{Kind: KindEvicted, SourceID: id, At: at})
	}
}

// Recent returns the recorded events, newest first.
func (n *Notifier) Recent() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Event, len(n.history))
	for i, ev := range n.history {
		out[len(n.history)-1-i] = ev
	}
	return out
}

// Run delivers queued events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			n.deliver(ctx, ev)
		}
	}
}

func (n *Notifier) publish(ev Event) {
	n.mu.Lock()
	n.history = append(n.history, ev)
	if len(n.history) > maxHistoryLen {
		n.history = n.history[len(n.history)-maxHistoryLen:]
	}
	n.mu.Unlock()

	if len(n.webhooks) == 0 {
		return
	}
	select {
	case n.queue <- ev:
	default:
		slog.Warn("notify: queue full, dropping event", "kind", ev.Kind, "source_id", ev.SourceID)
	}
}
