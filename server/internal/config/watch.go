package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// field names one configuration setting and how to read it for comparison.
type field struct {
	name string
	get  func(*Config) any
}

// reloadable settings take effect through onChange without a restart.
var reloadable = []field{
	{"log.level", func(c *Config) any { return c.Log.Level }},
	{"server.sweeper.expiration", func(c *Config) any { return c.Server.Sweeper.Expiration }},
}

// restartOnly settings are read once at startup.
var restartOnly = []field{
	{"server.port", func(c *Config) any { return c.Server.Port }},
	{"server.http_port", func(c *Config) any { return c.Server.HTTPPort }},
	{"server.read_timeout", func(c *Config) any { return c.Server.ReadTimeout }},
	{"server.max_body_bytes", func(c *Config) any { return c.Server.MaxBodyBytes }},
	{"server.max_connections", func(c *Config) any { return c.Server.MaxConnections }},
	{"server.accept_rate", func(c *Config) any { return c.Server.AcceptRate }},
	{"server.accept_burst", func(c *Config) any { return c.Server.AcceptBurst }},
	{"server.snapshot", func(c *Config) any { return c.Server.Snapshot }},
	{"server.sweeper.interval", func(c *Config) any { return c.Server.Sweeper.Interval }},
	{"server.merged", func(c *Config) any { return c.Server.Merged }},
	{"server.stream", func(c *Config) any { return c.Server.Stream }},
	{"server.auth", func(c *Config) any { return c.Server.Auth }},
	{"server.notify", func(c *Config) any { return c.Server.Notify }},
}

// Diff reports which settings differ between prev and next, split into
// those applied on reload and those that need a restart.
func Diff(prev, next *Config) (reloaded, restart []string) {
	changed := func(fields []field) []string {
		var out []string
		for _, f := range fields {
			if !reflect.DeepEqual(f.get(prev), f.get(next)) {
				out = append(out, f.name)
			}
		}
		return out
	}
	return changed(reloadable), changed(restartOnly)
}

// Watch monitors path and calls onChange with the newly loaded Config when
// a reloadable setting changed. It runs until ctx is cancelled.
//
// The parent directory is watched so that editors and deploy tools that
// replace the file by rename keep being followed. A reload that fails to
// load or validate is logged and skipped; the previous config stays active.
// Changes to restart-only settings are logged and otherwise ignored.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	prev, err := Load(path)
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %q: %w", path, err)
	}

	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			next, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
				continue
			}

			reloaded, restart := Diff(prev, next)
			if len(restart) > 0 {
				slog.Warn("config: changes need a restart to apply", "path", path, "fields", restart)
			}
			if len(reloaded) == 0 {
				slog.Debug("config: no reloadable change", "path", path)
				prev = next
				continue
			}

			slog.Info("config: reloaded", "path", path, "fields", reloaded)
			onChange(next)
			prev = next

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
