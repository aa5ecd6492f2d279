/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/api"
	"github.com/friendsincode/grimnir_playout/internal/cache"
	"github.com/friendsincode/grimnir_playout/internal/catalog"
	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/db"
	"github.com/friendsincode/grimnir_playout/internal/eventbus"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/media"
	"github.com/friendsincode/grimnir_playout/internal/playout"
	"github.com/friendsincode/grimnir_playout/internal/runner"
	"github.com/friendsincode/grimnir_playout/internal/slotconfig"
	"github.com/friendsincode/grimnir_playout/internal/slotlock"
	"github.com/friendsincode/grimnir_playout/internal/slots"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
	"github.com/friendsincode/grimnir_playout/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db        *gorm.DB
	redis     *redis.Client
	bus       *events.Bus
	publisher events.Publisher
	slots     *slots.Service
	committer *playout.Committer
	api       *api.API
	tracer    *telemetry.TracerProvider

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("grimnir-playout-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(timeoutUnlessWebSocket(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Event websockets stay open; the middleware timeout covers everything else.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func timeoutUnlessWebSocket(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(d)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	}
}

// securityHeadersMiddleware sets baseline headers on every response.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	tracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "grimnir-playout",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.tracer = tracer
	s.DeferClose(func() error { return s.tracer.Shutdown(context.Background()) })

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return err
	}

	var entityCache *cache.Cache
	var locker slotlock.Locker = slotlock.NewLocal()
	if s.cfg.RedisEnabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
		if err := redisotel.InstrumentTracing(s.redis); err != nil {
			s.logger.Warn().Err(err).Msg("redis tracing instrumentation failed")
		}
		s.DeferClose(func() error { return s.redis.Close() })

		entityCache = cache.New(s.redis, cache.Config{TTL: s.cfg.CacheTTL}, s.logger)
		locker = slotlock.NewRedis(s.redis, s.cfg.SlotLockTTL, s.logger)
		s.logger.Info().Str("redis_addr", s.cfg.RedisAddr).Msg("redis cache and slot locks enabled")
	} else {
		entityCache = cache.New(nil, cache.Config{}, s.logger)
	}

	s.publisher = s.bus
	if s.cfg.NATSEnabled {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.SubjectPrefix = s.cfg.NATSSubject
		natsBus := eventbus.NewNATSBus(natsCfg, s.bus, s.logger)
		s.DeferClose(natsBus.Close)
		s.publisher = natsBus
	}

	mediaService, err := media.NewService(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize media service: %w", err)
	}

	reader := catalog.NewReader(database, s.logger)
	resolver := slotconfig.NewResolver(database, entityCache, s.publisher, s.logger)
	s.slots = slots.New(database, reader, resolver, locker, s.publisher, slots.Options{
		NextSlotLookahead:  s.cfg.NextSlotLookahead,
		PromoRecencyWindow: s.cfg.PromoRecencyWindow,
		RandomSeed:         s.cfg.RandomSeed,
	}, s.logger)

	runnerClient := runner.NewClient(runner.Config{
		BaseURL: s.cfg.RunnerBaseURL,
		Token:   s.cfg.RunnerToken,
		Timeout: s.cfg.RunnerTimeout,
	}, s.logger)
	if s.cfg.RunnerBaseURL == "" {
		s.logger.Warn().Msg("runner base url not configured, pushes will fail")
	}

	s.committer = playout.NewCommitter(database, s.slots, mediaService, runnerClient, s.publisher, nil, s.logger)
	s.api = api.New(s.slots, s.committer, s.bus, []byte(s.cfg.JWTSigningKey), s.logger)

	return nil
}

// HTTPServer returns the API listener.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer returns the Prometheus listener, or nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Slots exposes the slot service for CLI commands that bypass HTTP.
func (s *Server) Slots() *slots.Service {
	return s.slots
}

// Committer exposes the push pipeline for CLI commands that bypass HTTP.
func (s *Server) Committer() *playout.Committer {
	return s.committer
}

// Close stops background workers and releases resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers fn to run on Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runPushFailureLogger(ctx)
	}()
}

// runPushFailureLogger surfaces runner rejections in the service log, including
// those replayed from other nodes over NATS.
func (s *Server) runPushFailureLogger(ctx context.Context) {
	failed := s.bus.Subscribe(events.EventSlotPushFailed)
	defer s.bus.Unsubscribe(events.EventSlotPushFailed, failed)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-failed:
			if !ok {
				return
			}
			evt := s.logger.Warn()
			for key, value := range payload {
				evt = evt.Interface(key, value)
			}
			evt.Msg("slot push failed")
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded","database":false}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","database":true}`))
	})

	s.api.Routes(s.router)
}
