package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/cfshim/internal/api/http"
	"github.com/GriffinCanCode/cfshim/internal/api/middleware"
	"github.com/GriffinCanCode/cfshim/internal/config"
	"github.com/GriffinCanCode/cfshim/internal/engine"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/cfshim/internal/sandbox"
	"github.com/GriffinCanCode/cfshim/internal/scraper"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	scraper *scraper.Scraper
	engine  engine.Engine
	pool    *sandbox.Pool
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger = logging.OrNop(logger)
	logger.Info("Initializing cfshim server",
		zap.String("port", cfg.Server.Port),
		zap.String("engine", cfg.Engine.Name),
	)

	metrics := monitoring.NewMetrics()

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.Timeout = cfg.Engine.Timeout

	eng, err := engine.New(cfg.Engine.Name, engine.Options{
		Sandbox:  sandboxCfg,
		PoolSize: cfg.Engine.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("server: engine: %w", err)
	}

	pool, err := sandbox.NewPool(sandboxCfg, cfg.Engine.PoolSize, logger)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("server: sandbox pool: %w", err)
	}

	opts, err := scraper.FromConfig(cfg, logger)
	if err != nil {
		pool.Close()
		eng.Close()
		return nil, fmt.Errorf("server: scraper options: %w", err)
	}
	opts = append(opts, scraper.WithEngineInstance(eng), scraper.WithMetrics(metrics))

	s, err := scraper.New(opts...)
	if err != nil {
		pool.Close()
		eng.Close()
		return nil, fmt.Errorf("server: scraper: %w", err)
	}

	srv := &Server{
		scraper: s,
		engine:  eng,
		pool:    pool,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	srv.router = srv.routes(api.NewHandlers(s, eng, pool, metrics, logger))

	logger.Info("Server initialized successfully")
	return srv, nil
}

func (s *Server) routes(handlers *api.Handlers) *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(s.logger))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		limit := middleware.DefaultRateLimitConfig()
		limit.RequestsPerSecond = s.config.RateLimit.RequestsPerSecond
		limit.Burst = s.config.RateLimit.Burst
		router.Use(middleware.RateLimit(limit))
	}

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.GET("/metrics/json", handlers.MetricsJSON)

	v1 := router.Group("/v1")
	v1.POST("/atob", handlers.Atob)
	v1.POST("/eval", handlers.Eval)
	v1.POST("/fetch", handlers.Fetch)

	return router
}

// Router exposes the configured gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Scraper returns the shared scraper.
func (s *Server) Scraper() *scraper.Scraper {
	return s.scraper
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.scraper.Close(); err != nil {
		s.logger.Error("Failed to close scraper", zap.Error(err))
		errs = append(errs, err)
	}
	if err := s.pool.Close(); err != nil && !errors.Is(err, sandbox.ErrPoolClosed) {
		s.logger.Error("Failed to close sandbox pool", zap.Error(err))
		errs = append(errs, err)
	}
	if err := s.engine.Close(); err != nil {
		s.logger.Error("Failed to close engine", zap.Error(err))
		errs = append(errs, err)
	}

	// Sync logger before exit
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
