package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/study-tracker/internal/api"
	"github.com/p-n-ai/study-tracker/internal/curriculum"
	"github.com/p-n-ai/study-tracker/internal/docstore"
	"github.com/p-n-ai/study-tracker/internal/identity"
	"github.com/p-n-ai/study-tracker/internal/platform/cache"
	"github.com/p-n-ai/study-tracker/internal/platform/config"
	"github.com/p-n-ai/study-tracker/internal/platform/database"
	"github.com/p-n-ai/study-tracker/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		slog.Error("failed to open document store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer backend.close()

	templates, err := curriculum.NewLoader(cfg.TemplatesPath)
	if err != nil {
		slog.Error("failed to load templates", "path", cfg.TemplatesPath, "error", err)
		os.Exit(1)
	}

	app := api.NewServer(api.Config{
		Store:          backend.store,
		Namespace:      cfg.Store.Namespace,
		AppID:          cfg.Store.AppID,
		WriteTimeout:   cfg.Store.WriteTimeout,
		Events:         backend.events,
		Verifier:       identity.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		Templates:      templates,
	})

	srv := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:     newMux(app, backend.ready),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// backend bundles the document store with the resources behind it.
type backend struct {
	store  docstore.Store
	events session.EventLogger
	ready  func(context.Context) error
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		client, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return nil, err
		}
		store, err := docstore.NewRedisStore(client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &backend{
			store:  store,
			events: session.NopEventLogger{},
			ready:  store.HealthCheck,
			close:  func() { client.Close() },
		}, nil

	case config.BackendPostgres:
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db.Pool); err != nil {
			db.Close()
			return nil, err
		}
		store, err := docstore.NewPostgresStore(db.Pool)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &backend{
			store:  store,
			events: session.NewPostgresEventLogger(db.Pool),
			ready:  db.HealthCheck,
			close:  db.Close,
		}, nil

	default:
		return &backend{
			store:  docstore.NewMemoryStore(),
			events: session.NopEventLogger{},
			close:  func() {},
		}, nil
	}
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// newMux creates the HTTP router with health check and API endpoints.
// ready may be nil when the store has no remote dependency.
func newMux(app *api.Server, ready func(context.Context) error) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(ready))
	if app != nil {
		app.Register(mux)
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				slog.Warn("readiness check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprint(w, `{"status":"unavailable"}`)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
