// Package server exposes the HTTP surface: the liveness route, the archive
// viewer, raw archive downloads, metrics and the admin API that drives the
// scheduler. Every request carries a correlation id and a tracing span.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chat-archiver/archive"
	"github.com/onnwee/chat-archiver/scheduler"
	"github.com/onnwee/chat-archiver/viewer"
)

// Files is the raw side of the archive store.
type Files interface {
	Open(ref archive.Ref) (*os.File, os.FileInfo, error)
	DeleteAll(ctx context.Context) (int, error)
}

// Backups is the scheduler surface driven by the admin API.
type Backups interface {
	BackupChannel(ctx context.Context, channelID string) (archive.Ref, error)
	SetIntervalMinutes(minutes int) error
	SweepAsync(ctx context.Context) bool
	Status() scheduler.Status
}

// Options configures the router. DB is optional; without it the sweep log is
// left out of admin status and /healthz skips the database ping.
type Options struct {
	Viewer    *viewer.Service
	Files     Files
	Backups   Backups
	DB        *sql.DB
	Auth      AuthConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Logger    *slog.Logger
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	// ctx outlives requests; background sweeps started over HTTP run under it.
	ctx     context.Context
	viewer  *viewer.Service
	files   Files
	backups Backups
	db      *sql.DB
	logger  *slog.Logger
}

// NewRouter returns the HTTP handler with all routes. ctx bounds the rate
// limiter cleanup goroutine and admin-triggered sweeps.
func NewRouter(ctx context.Context, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		ctx:     ctx,
		viewer:  opts.Viewer,
		files:   opts.Files,
		backups: opts.Backups,
		db:      opts.DB,
		logger:  logger.With(slog.String("component", "http")),
	}
	limiter := newIPRateLimiter(ctx, opts.RateLimit)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(traced)
	r.Use(cors(opts.CORS))

	r.Get("/", h.HandleAlive)
	r.Get("/healthz", h.HandleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/view", h.HandleView)
	r.Get("/logs/{ref}", h.HandleLog)
	r.Get("/backups/{filename}", h.HandleRaw)
	r.Get("/api/archives", h.HandleArchives)

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth(opts.Auth))
		r.Use(rateLimit(limiter))
		r.Post("/backup", h.HandleAdminBackup)
		r.Put("/interval", h.HandleAdminInterval)
		r.Delete("/backups", h.HandleAdminDeleteAll)
		r.Post("/sweep", h.HandleAdminSweep)
		r.Get("/status", h.HandleAdminStatus)
		r.Get("/sweeps/{id}", h.HandleAdminSweepDetail)
	})
	return r
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// manual backups capture a whole channel before responding
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
