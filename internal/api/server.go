// Package api is the request/response layer over the resolver, cache and
// inference engine: prediction, health, stats, reload and the model
// management surface.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/greenstack/leafserve/internal/cache"
	"github.com/greenstack/leafserve/internal/config"
	"github.com/greenstack/leafserve/internal/inference"
	"github.com/greenstack/leafserve/internal/registry"
	"github.com/greenstack/leafserve/internal/resolver"
	"github.com/greenstack/leafserve/internal/stats"
	"github.com/greenstack/leafserve/internal/store"
	"go.uber.org/zap"
)

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server

	store    *store.Store
	registry registry.Registry
	resolver *resolver.Resolver
	cache    *cache.Cache
	engine   *inference.Engine
	stats    *stats.Stats
	metrics  *Metrics
	versions *store.VersionGenerator

	limiters  *clientLimiters
	startTime time.Time
}

func NewServer(cfg *config.Config, logger *zap.Logger, st *store.Store, reg registry.Registry,
	res *resolver.Resolver, c *cache.Cache, eng *inference.Engine, s *stats.Stats) *Server {

	srv := &Server{
		config:    cfg,
		logger:    logger,
		router:    mux.NewRouter(),
		store:     st,
		registry:  reg,
		resolver:  res,
		cache:     c,
		engine:    eng,
		stats:     s,
		metrics:   NewMetrics(),
		versions:  store.NewVersionGenerator(),
		limiters:  newClientLimiters(cfg.Server.RateLimit, cfg.Server.RateBurst),
		startTime: time.Now(),
	}

	srv.setupRoutes()

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return srv
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	s.router.Handle("/predict", s.rateLimitMiddleware(http.HandlerFunc(s.handlePredict))).Methods("POST")
	s.router.Handle("/predict/batch", s.rateLimitMiddleware(http.HandlerFunc(s.handlePredictBatch))).Methods("POST")

	s.router.HandleFunc("/model/info", s.handleModelInfo).Methods("GET")
	s.router.Handle("/model/reload", s.adminAuth(http.HandlerFunc(s.handleReload))).Methods("POST")

	// model management (operator side channel)
	s.router.Handle("/models/{name}/versions", s.adminAuth(http.HandlerFunc(s.handleUploadVersion))).Methods("POST")
	s.router.HandleFunc("/models/{name}/versions", s.handleListVersions).Methods("GET")
	s.router.Handle("/models/{name}/versions/{version}", s.adminAuth(http.HandlerFunc(s.handleDeleteVersion))).Methods("DELETE")
	s.router.Handle("/models/{name}/promote", s.adminAuth(http.HandlerFunc(s.handlePromote))).Methods("POST")
	s.router.Handle("/models/{name}/promote", s.adminAuth(http.HandlerFunc(s.handleDemote))).Methods("DELETE")
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Reload resolves and installs a model. A failure leaves whatever handle
// was previously installed serving; in-flight predictions are unaffected.
func (s *Server) Reload(ctx context.Context) (*cache.Handle, error) {
	res, err := s.resolver.Resolve(ctx)
	if err != nil {
		s.metrics.RecordReload("resolve_failed")
		return nil, err
	}

	handle, err := s.cache.Load(res)
	if err != nil {
		s.metrics.RecordReload("load_failed")
		return nil, fmt.Errorf("load resolved model: %w", err)
	}

	s.metrics.RecordReload("success")
	s.metrics.SetModelLoaded(true)
	return handle, nil
}

func (s *Server) Start() error {
	s.logger.Info("starting server", zap.Int("port", s.config.Server.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.cache.Drop()
	s.metrics.SetModelLoaded(false)
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}
