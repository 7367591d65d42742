package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// deliver sends ev to every configured target. Errors are logged only.
func (n *Notifier) deliver(ctx context.Context, ev Event) {
	for _, wh := range n.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = n.sendSlack(ctx, url, ev)
		case "teams":
			err = n.sendTeams(ctx, url, ev)
		case "http":
			err = n.sendHTTP(ctx, url, ev)
		default:
			slog.Warn("notify: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("notify: webhook delivery failed",
				"type", wh.Type,
				"kind", ev.Kind,
				"source_id", ev.SourceID,
				"err", err,
			)
		} else {
			slog.Debug("notify: webhook delivered",
				"type", wh.Type,
				"kind", ev.Kind,
				"source_id", ev.SourceID,
			)
		}
	}
}

func (n *Notifier) sendSlack(ctx context.Context, url string, ev Event) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", kindLabel(ev.Kind), message(ev)),
	})
	return n.post(ctx, url, body)
}

func (n *Notifier) sendTeams(ctx context.Context, url string, ev Event) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": kindColor(ev.Kind),
		"summary":    ev.SourceID,
		"title":      fmt.Sprintf("Syndicate: source %s", ev.Kind),
		"text":       message(ev),
	}
	body, _ := json.Marshal(payload)
	return n.post(ctx, url, body)
}

func (n *Notifier) sendHTTP(ctx context.Context, url string, ev Event) error {
	body, _ := json.Marshal(map[string]interface{}{"event": ev})
	return n.post(ctx, url, body)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func message(ev Event) string {
	switch ev.Kind {
	case KindRegistered:
		return fmt.Sprintf("source %s registered its first feed", ev.SourceID)
	case KindEvicted:
		return fmt.Sprintf("source %s went silent and was evicted", ev.SourceID)
	default:
		return fmt.Sprintf("source %s: %s", ev.SourceID, ev.Kind)
	}
}

func kindLabel(kind string) string {
	switch kind {
	case KindEvicted:
		return "[EVICTED]"
	default:
		return "[REGISTERED]"
	}
}

func kindColor(kind string) string {
	switch kind {
	case KindEvicted:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
