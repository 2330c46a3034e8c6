// Package server exposes extraction, type canonicalization and view lineage
// over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/pgextract/internal/database"
	"github.com/koustreak/pgextract/internal/errs"
	"github.com/koustreak/pgextract/internal/extract"
	"github.com/koustreak/pgextract/internal/filestore"
	"github.com/koustreak/pgextract/internal/logger"
)

// Config holds the HTTP listener settings.
type Config struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// DefaultConfig listens on :8080. The write timeout is generous because a
// full extraction of a large catalog runs inside one request.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

// Validate checks the listener settings.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errs.New(errs.ErrKindInvalidInput, "server addr is required")
	}
	if c.MaxBodyBytes <= 0 {
		return errs.New(errs.ErrKindInvalidInput, "server max_body_bytes must be positive")
	}
	return nil
}

// Deps are the collaborators the handlers use. Snapshots is optional; when
// nil, saving and listing snapshots is unavailable.
type Deps struct {
	DB        database.DB
	Snapshots *filestore.Snapshots
	// Database names the snapshot folder for this server's catalog.
	Database string
	// Defaults seed every extraction request.
	Defaults extract.Options
	Logger   *logger.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg       Config
	db        database.DB
	extractor *extract.Extractor
	snapshots *filestore.Snapshots
	database  string
	defaults  extract.Options
	log       *logger.Logger
}

// New wires a Server. A nil cfg yields DefaultConfig.
func New(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		cfg:       *cfg,
		db:        deps.DB,
		extractor: extract.New(deps.DB, log),
		snapshots: deps.Snapshots,
		database:  deps.Database,
		defaults:  deps.Defaults,
		log:       log,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(limitBody(s.cfg.MaxBodyBytes))

	r.Get("/healthz", s.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/extract", s.extract)
		r.Post("/types/canonicalize", s.canonicalize)
		r.Post("/views/lineage", s.viewLineage)

		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", s.listSnapshots)
			r.Get("/latest", s.latestSnapshot)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoWith("http server listening", map[string]any{"addr": s.cfg.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.Wrap(errs.ErrKindConnectionFailed, "http server failed", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "http server shutdown", err)
	}
	return nil
}
