package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/syndicate/syndicate/server/internal/store"
)

// DiagnosticHint is one human-readable observation about a source.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number tied to the hint, such as seconds silent.
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints for one source, most severe first.
// expiration may be zero when the threshold is unknown.
func computeDiagnostics(s store.SourceInfo, silent, expiration time.Duration) []DiagnosticHint {
	var hints []DiagnosticHint

	if expiration > 0 {
		ratio := float64(silent) / float64(expiration)
		v := silent.Seconds()
		switch {
		case ratio >= 0.8:
			hints = append(hints, DiagnosticHint{
				Key:   "eviction_imminent",
				Level: "critical",
				Title: "About to be evicted",
				Detail: fmt.Sprintf(
					"No feed or heartbeat has arrived for %.0fs and sources are evicted after %.0fs of silence. "+
						"Unless the content server reconnects, its entries will disappear from the merged feed.",
					silent.Seconds(), expiration.Seconds(),
				),
				Value: &v,
			})
		case ratio >= 0.5:
			hints = append(hints, DiagnosticHint{
				Key:   "eviction_risk",
				Level: "warning",
				Title: "Heartbeats are late",
				Detail: fmt.Sprintf(
					"The last contact was %.0fs ago, more than half of the %.0fs expiration. "+
						"Check that the heartbeat sender is running and can reach the server.",
					silent.Seconds(), expiration.Seconds(),
				),
				Value: &v,
			})
		}
	}

	switch {
	case !s.HasFeed:
		hints = append(hints, DiagnosticHint{
			Key:   "heartbeat_only",
			Level: "info",
			Title: "No feed yet",
			Detail: "This source has sent heartbeats but never a feed, so it contributes nothing to the merged feed. " +
				"Its first feed PUT will register it.",
		})
	case s.Entries == 0:
		hints = append(hints, DiagnosticHint{
			Key:    "empty_feed",
			Level:  "warning",
			Title:  "Empty feed",
			Detail: "The last feed from this source had no entries. Check the content file it publishes.",
		})
	}

	if len(hints) == 0 {
		return []DiagnosticHint{{
			Key:    "healthy",
			Level:  "ok",
			Title:  "Healthy",
			Detail: fmt.Sprintf("Publishing %d entries and in regular contact.", s.Entries),
		}}
	}

	sort.SliceStable(hints, func(i, j int) bool { return levelRank(hints[i].Level) < levelRank(hints[j].Level) })
	return hints
}

func levelRank(level string) int {
	switch level {
	case "critical":
		return 0
	case "warning":
		return 1
	case "info":
		return 2
	default:
		return 3
	}
}
