// Package worker provides the background service for pomod: HTTP command
// surface, timer engine loop, and SSE state streaming.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pomodui/pomod/internal/config"
	"github.com/pomodui/pomod/internal/db/history"
	"github.com/pomodui/pomod/internal/settings"
	"github.com/pomodui/pomod/internal/timer"
	"github.com/pomodui/pomod/internal/worker/sse"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Service is the pomod background worker. It owns the HTTP command surface
// and runs the timer engine loop until shut down.
type Service struct {
	version        string
	config         *config.Config
	engine         *timer.Engine
	historyStore   *history.Store
	settings       *settings.Manager
	sseBroadcaster *sse.Broadcaster
	router         *chi.Mux

	startTime time.Time
	ready     atomic.Bool
}

// Options bundles the dependencies a Service needs.
type Options struct {
	Version      string
	Config       *config.Config
	Engine       *timer.Engine
	HistoryStore *history.Store
	Settings     *settings.Manager
	Broadcaster  *sse.Broadcaster
}

// New creates a Service and wires its routes.
func New(opts Options) *Service {
	svc := &Service{
		version:        opts.Version,
		config:         opts.Config,
		engine:         opts.Engine,
		historyStore:   opts.HistoryStore,
		settings:       opts.Settings,
		sseBroadcaster: opts.Broadcaster,
		router:         chi.NewRouter(),
		startTime:      time.Now(),
	}

	svc.setupRoutes()
	return svc
}

// setupRoutes registers all HTTP endpoints.
func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("not found: %s", r.URL.Path))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	})

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/events", s.handleEvents)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleGetState)
		r.Post("/start", s.handleStart)
		r.Post("/pause", s.handlePause)
		r.Post("/skip", s.handleSkip)
		r.Post("/reset", s.handleReset)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		r.Get("/history", s.handleGetHistory)
		r.Get("/history/export", s.handleExportHistory)
		r.Delete("/history", s.handleClearHistory)

		r.Post("/category", s.handleSetCategory)
		r.Get("/stats", s.handleStats)
	})
}

// Run starts the HTTP server and the engine tick loop, blocking until ctx is
// cancelled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("version", s.version).Msg("Worker listening")
		s.ready.Store(true)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.engine.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		s.ready.Store(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
		}
		return nil
	})

	err := g.Wait()
	log.Info().Dur("uptime", time.Since(s.startTime)).Msg("Worker stopped")
	return err
}
