package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/axiom/internal/api/client"
	apihttp "github.com/GriffinCanCode/axiom/internal/api/http"
	"github.com/GriffinCanCode/axiom/internal/api/middleware"
	"github.com/GriffinCanCode/axiom/internal/api/ws"
	"github.com/GriffinCanCode/axiom/internal/domain/seed"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/config"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/logging"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/axiom/internal/transport"
	"github.com/GriffinCanCode/axiom/internal/vfs"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	mounts  *vfs.Manager
	ws      *ws.Handler
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logCfg := logging.ServerConfig()
	if cfg.Logging.Development {
		logCfg.Format = logging.FormatConsole
	}
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}
	return New(cfg, logger)
}

// New creates a server with an existing logger
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing axiom server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("codec", cfg.Channel.Codec),
		zap.Duration("channel_timeout", cfg.Channel.Timeout),
	)

	codec, err := transport.CodecByName(cfg.Channel.Codec)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()

	mounts := vfs.NewManager(logger.Component("mounts"))
	seeder := seed.NewSeeder(mounts, logger.Component("seed"))
	for _, name := range cfg.Mounts.Names {
		if _, err := seeder.Ensure(name); err != nil {
			return nil, fmt.Errorf("failed to mount %s: %w", name, err)
		}
	}
	if cfg.Mounts.Manifest != "" {
		manifest, err := loadManifest(context.Background(), cfg.Mounts.Manifest, logger)
		if err != nil {
			return nil, err
		}
		if err := seeder.Apply(context.Background(), manifest); err != nil {
			return nil, fmt.Errorf("failed to seed mounts: %w", err)
		}
	}
	metrics.SetMountsActive(len(mounts.Names()))
	logger.Info("Mounts ready", zap.Strings("mounts", mounts.Names()))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	wsHandler := ws.NewHandler(mounts, ws.Config{
		Codec:   codec,
		Timeout: cfg.Channel.Timeout,
		Logger:  logger.Component("ws"),
		Metrics: metrics,
	})
	handlers := apihttp.NewHandlers(mounts, wsHandler, metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/mounts", handlers.ListMounts)
	router.GET("/mounts/:name/glob", handlers.Glob)
	router.GET("/mounts/:name/archive", handlers.Archive)
	router.GET("/mount/:name", wsHandler.HandleConnection)

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		http:    &http.Server{Addr: cfg.Server.Addr(), Handler: router},
		mounts:  mounts,
		ws:      wsHandler,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// loadManifest reads a manifest file or downloads it when given an
// http(s) URL.
func loadManifest(ctx context.Context, location string, logger *logging.Logger) (*seed.Manifest, error) {
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return seed.Load(location)
	}

	format, err := seed.FormatOf(u.Path)
	if err != nil {
		return nil, err
	}
	cfg := client.DefaultConfig("")
	cfg.Logger = logger.Component("fetch")
	data, err := client.New(cfg).Fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	logger.Info("Fetched manifest", zap.String("url", location))
	return seed.Parse(data, format)
}

// Router exposes the HTTP handler, for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Mounts returns the mount manager
func (s *Server) Mounts() *vfs.Manager {
	return s.mounts
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// hijacked WebSocket connections are not tracked by Shutdown
		s.ws.Close()
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	s.ws.Close()
	if err := s.mounts.Close(); err != nil {
		s.logger.Error("Failed to close mounts", zap.Error(err))
		return fmt.Errorf("failed to close mounts: %w", err)
	}

	// Sync logger before exit
	_ = s.logger.Sync()

	return nil
}
