// Command syncd runs the offline sync agent as a standalone daemon: a
// durable mutation queue in front of the fitness coaching API, with an
// admin HTTP surface for queue inspection, dead-letter recovery and a
// WebSocket event feed.
//
//	syncd -config /etc/fitsync/syncd.yaml
//
// Configuration comes from a YAML file plus FITSYNC_* environment
// overrides; a .env file in the working directory is honored.
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
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
	"github.com/saicgr/AIFitnessCoach-sub010/api"
	"github.com/saicgr/AIFitnessCoach-sub010/engine"
	"github.com/saicgr/AIFitnessCoach-sub010/feed"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/remote"
	"github.com/saicgr/AIFitnessCoach-sub010/store/badger"
	"github.com/saicgr/AIFitnessCoach-sub010/store/memory"
	"github.com/saicgr/AIFitnessCoach-sub010/store/postgres"
)

func main() {
	configPath := flag.String("config", "syncd.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "syncd:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("syncd exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("syncd shutdown complete")
}

func newLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	agent, err := fitsync.New(
		fitsync.WithStore(st),
		fitsync.WithLogger(logger),
		fitsync.WithConcurrency(cfg.Sync.Concurrency),
		fitsync.WithEntityTypes(cfg.Sync.EntityTypes),
		fitsync.WithMaxRetries(cfg.Sync.MaxRetries),
		fitsync.WithPollInterval(cfg.Sync.PollInterval.Std()),
		fitsync.WithHeartbeatInterval(cfg.Sync.HeartbeatInterval.Std()),
		fitsync.WithStaleInflightThreshold(cfg.Sync.StaleInflightThreshold.Std()),
		fitsync.WithSyncedRetention(cfg.Sync.SyncedRetention.Std()),
		fitsync.WithDeadLetterRetention(cfg.Sync.DeadLetterRetention.Std()),
		fitsync.WithShutdownTimeout(cfg.Sync.ShutdownTimeout.Std()),
	)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	var engOpts []engine.Option
	if cfg.Export.Dir != "" {
		engOpts = append(engOpts, engine.WithExportDir(cfg.Export.Dir))
	}
	eng, err := engine.Build(agent, engOpts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	applier, err := newRemoteClient(cfg, logger)
	if err != nil {
		return err
	}
	applier.RegisterAll(eng.Registry())

	mux := http.NewServeMux()
	api.New(eng, api.WithLogger(logger)).Routes(mux)

	var feedSrv *feed.Server
	if cfg.Feed.Enabled {
		broker := feed.NewBroker(logger)
		eng.Hooks().Register(broker)
		feedSrv = feed.NewServer(broker, eng.Tracker(), feedOptions(cfg, logger)...)
		mux.Handle("GET /v1/feed", feedSrv)
	}

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
		// The feed holds long-lived WebSocket connections, so only the
		// header read gets a deadline.
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("admin server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Sync.ShutdownTimeout.Std())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sync.ShutdownTimeout.Std())
		defer cancel()

		if feedSrv != nil {
			feedSrv.Close()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown", "error", err)
		}
		// Stop drains inflight applies and closes the store.
		return eng.Stop(shutdownCtx)
	})
	return g.Wait()
}

// openStore picks the persistence backend from the DSN: "memory", a
// postgres:// URL, or a filesystem path opened as a badger database.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (fitsync.Storer, error) {
	dsn := cfg.Store.DSN
	switch {
	case dsn == "memory":
		logger.Warn("using the in-memory store, queued mutations will not survive a restart")
		return memory.New(), nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return postgres.New(ctx, dsn, postgres.WithLogger(logger))
	default:
		return badger.New(dsn, badger.WithLogger(logger))
	}
}

func newRemoteClient(cfg Config, logger *slog.Logger) (*remote.Client, error) {
	opts := []remote.Option{remote.WithLogger(logger)}
	if cfg.Remote.Token != "" {
		opts = append(opts, remote.WithToken(cfg.Remote.Token))
	}
	if cfg.Remote.DeviceID != "" {
		deviceID, err := id.ParseDeviceID(cfg.Remote.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("remote.device_id: %w", err)
		}
		opts = append(opts, remote.WithDeviceID(deviceID))
	}
	client, err := remote.New(cfg.Remote.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create remote client: %w", err)
	}
	return client, nil
}

func feedOptions(cfg Config, logger *slog.Logger) []feed.Option {
	opts := []feed.Option{feed.WithLogger(logger)}
	if len(cfg.Feed.Tokens) == 0 {
		return opts
	}
	entries := make([]feed.APIKeyEntry, 0, len(cfg.Feed.Tokens))
	for _, tok := range cfg.Feed.Tokens {
		scopes := tok.Scopes
		if len(scopes) == 0 {
			scopes = []string{feed.ScopeAll}
		}
		entries = append(entries, feed.APIKeyEntry{
			Token:    tok.Token,
			Identity: feed.Identity{Subject: tok.Subject, Scopes: scopes},
		})
	}
	return append(opts, feed.WithAuthenticator(feed.NewAPIKeyAuthenticator(entries...)))
}
