package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
	"github.com/vertextoedge/offline-stream/internal/port"
	"github.com/vertextoedge/offline-stream/internal/service/engine"
)

// Downloads is the read side of the download engine
type Downloads interface {
	Get(downloadID string) (*engine.Status, error)
	List() ([]*engine.Status, error)
}

// Library is the read side of the offline registry
type Library interface {
	Get(downloadID string) (*domain.RegistryEntry, error)
	List() ([]*domain.RegistryEntry, error)
	Lookup(uri string) (*domain.RegistryEntry, error)
	IsCached(ctx context.Context, uri string) bool
}

// Config contains HTTP server configuration
type Config struct {
	BindAddr     string
	APIUsername  string
	APIPassword  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8787",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the local status and playback HTTP surface
type Server struct {
	config         *Config
	store          port.Store
	logger         *zap.Logger
	router         *gin.Engine
	server         *http.Server
	statusHandler  *StatusHandler
	libraryHandler *LibraryHandler
}

// New creates a new HTTP server. metrics may be nil.
func New(
	cfg *Config,
	store port.Store,
	downloads Downloads,
	library Library,
	metrics *event.MetricsHandler,
	logger *zap.Logger,
) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		store:  store,
		logger: logger,
	}

	s.statusHandler = NewStatusHandler(downloads, store, metrics, logger)
	s.libraryHandler = NewLibraryHandler(library, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggingMiddleware(logger))

	// Health check
	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	if cfg.APIUsername != "" {
		api.Use(BasicAuthMiddleware(cfg.APIUsername, cfg.APIPassword, logger))
	}
	{
		api.GET("/downloads", s.statusHandler.ListDownloads)
		api.GET("/downloads/:id", s.statusHandler.GetDownload)
		api.GET("/stats", s.statusHandler.Stats)
		api.GET("/registry", s.libraryHandler.ListEntries)
		api.GET("/cached", s.libraryHandler.IsCached)
	}

	// Local playback of completed artifacts
	router.GET("/library/:id/*file", s.libraryHandler.ServeArtifact)

	s.router = router
	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, errorBody("database_unavailable", "Database connection failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
