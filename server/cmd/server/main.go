package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syndicate/syndicate/server/internal/api"
	"github.com/syndicate/syndicate/server/internal/auth"
	"github.com/syndicate/syndicate/server/internal/config"
	"github.com/syndicate/syndicate/server/internal/dispatch"
	"github.com/syndicate/syndicate/server/internal/listener"
	"github.com/syndicate/syndicate/server/internal/metrics"
	"github.com/syndicate/syndicate/server/internal/notify"
	"github.com/syndicate/syndicate/server/internal/snapshot"
	"github.com/syndicate/syndicate/server/internal/store"
	"github.com/syndicate/syndicate/server/internal/sweeper"
	"github.com/syndicate/syndicate/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file; built-in defaults when empty")
	port := flag.Int("port", 0, "override server.port")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	level.Set(cfg.Log.SlogLevel())

	slog.Info("syndicate-server starting",
		"config", *configPath,
		"port", cfg.Server.Port,
		"http_port", cfg.Server.HTTPPort,
		"snapshot", cfg.Server.Snapshot.Path,
		"expiration", cfg.Server.Sweeper.Expiration,
	)

	if err := run(cfg, *configPath, level); err != nil {
		slog.Error("syndicate-server stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("syndicate-server stopped")
}

func run(cfg *config.Config, configPath string, level *slog.LevelVar) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()

	// Durable state: restore the last snapshot before accepting anything.
	file := snapshot.NewFile(cfg.Server.Snapshot.Path)
	st := store.New(file, store.Options{
		Title:   cfg.Server.Merged.Title,
		FeedID:  cfg.Server.Merged.ID,
		Metrics: m,
	})
	state, ok, err := file.Load()
	if err != nil {
		return err
	}
	if ok {
		st.Restore(state)
		slog.Info("snapshot restored", "sources", len(state.Records), "lamport", state.Clock)
	}

	notifier := notify.New(cfg.Server.Notify)

	fatal := make(chan error, 1)
	fault := func(err error) {
		if !cfg.Server.Snapshot.FailFast {
			return
		}
		select {
		case fatal <- err:
		default:
		}
	}

	sw := sweeper.New(st, sweeper.Options{
		Interval:   cfg.Server.Sweeper.Interval,
		Expiration: cfg.Server.Sweeper.Expiration,
		Metrics:    m,
		Evicted:    notifier.Evicted,
		Fault:      fault,
	})
	d := dispatch.New(st, dispatch.Options{
		ReadTimeout: cfg.Server.ReadTimeout,
		MaxBody:     cfg.Server.MaxBodyBytes,
		Metrics:     m,
		Fault:       fault,
		Registered:  notifier.Registered,
	})
	l := listener.New(d, sw, listener.Options{
		MaxConnections: cfg.Server.MaxConnections,
		AcceptRate:     cfg.Server.AcceptRate,
		AcceptBurst:    cfg.Server.AcceptBurst,
		Metrics:        m,
	})
	if err := l.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return l.Serve(gctx) })

	g.Go(func() error {
		notifier.Run(gctx)
		return nil
	})

	g.Go(func() error {
		select {
		case err := <-fatal:
			return fmt.Errorf("persistence failure with fail_fast set: %w", err)
		case <-gctx.Done():
			return nil
		}
	})

	if cfg.Server.HTTPPort > 0 {
		hub := ws.New(st, cfg.Server.Stream.Interval)
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})

		protect := auth.APIKey(cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key())
		mux := http.NewServeMux()
		mux.Handle("/api/", protect(api.New(st, api.Options{Expiration: sw.Expiration, Events: notifier})))
		mux.Handle("/ws/feed", protect(hub))
		mux.Handle("/metrics", m.Handler())

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	if configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, configPath, func(next *config.Config) {
				level.Set(next.Log.SlogLevel())
				sw.SetExpiration(next.Server.Sweeper.Expiration)
				slog.Info("config applied", "log_level", next.Log.Level, "expiration", next.Server.Sweeper.Expiration)
			})
			if err != nil {
				slog.Warn("config watch disabled", "path", configPath, "err", err)
			}
			return nil
		})
	}

	slog.Info("syndicate-server ready", "addr", l.Addr().String())
	<-gctx.Done()
	slog.Info("syndicate-server shutting down")
	return g.Wait()
}
