package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AgentOS/shell/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/shell/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/shell/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/tabs"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/adblock"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser/chromium"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser/remote"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/downloads"
	httpclient "github.com/GriffinCanCode/AgentOS/shell/internal/providers/http/client"
	"github.com/GriffinCanCode/AgentOS/shell/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and the browser core behind it.
type Server struct {
	router    *gin.Engine
	http      *http.Server
	store     *session.Store
	persister *session.Persister
	kv        storage.KV
	factory   browser.Factory
	downloads *downloads.Manager
	tabs      *tabs.Controller
	tracer    *tracing.Tracer
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics
}

// NewServer builds every component from cfg, restores persisted state
// and opens the active tab.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing browser shell",
		zap.String("port", cfg.Server.Port),
		zap.String("surface", cfg.Surface.Kind),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(registry)

	kv, err := newKV(cfg.Storage)
	if err != nil {
		return nil, err
	}

	store := session.New()
	persister := session.NewPersister(store, kv,
		session.WithKey(cfg.Storage.Key),
		session.WithPersistLogger(logger),
		session.WithPersistMetrics(metrics),
		session.WithBreaker(resilience.New("persist", resilience.Settings{
			Timeout:       30 * time.Second,
			OnStateChange: metrics.ObserveBreaker,
		})),
	)
	restored, err := persister.Load(ctx)
	if err != nil {
		// Load has already moved an unreadable blob aside; start empty.
		logger.Warn("Failed to restore browser state", zap.Error(err))
	}
	logger.Info("Session store ready", zap.Bool("restored", restored))
	persister.Start()

	clientCfg := httpclient.DefaultConfig()
	clientCfg.UserAgent = cfg.Surface.UserAgent
	clientCfg.Timeout = cfg.Surface.Timeout
	clientCfg.OnBreakerChange = metrics.ObserveBreaker
	client := httpclient.NewClient(clientCfg)

	filter := adblock.Default()
	factory, attacher, err := newFactory(cfg.Surface, client, filter, logger, metrics)
	if err != nil {
		_ = persister.Close(ctx)
		return nil, err
	}

	dl := downloads.NewManager(client, store, cfg.Downloads.Dir,
		downloads.WithLogger(logger),
		downloads.WithMetrics(metrics),
		downloads.WithTimeout(cfg.Downloads.Timeout),
	)

	ctrl := tabs.New(store, factory,
		tabs.WithLogger(logger),
		tabs.WithMetrics(metrics),
		tabs.WithDownloader(dl),
		tabs.WithUserAgent(cfg.Surface.UserAgent),
		tabs.WithSessionOptions(bridge.WithHandshakeConfig(bridge.HandshakeConfig{
			VerifyDelay: cfg.Bridge.VerifyDelay,
			MaxRetries:  cfg.Bridge.MaxRetries,
		})),
	)

	s := &Server{
		store:     store,
		persister: persister,
		kv:        kv,
		factory:   factory,
		downloads: dl,
		tabs:      ctrl,
		tracer:    tracing.New("browser-shell", logger),
		logger:    logger,
		config:    cfg,
		metrics:   metrics,
	}

	if err := ctrl.Bootstrap(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open first tab: %w", err)
	}

	s.router = s.newRouter(registry, attacher)
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	if cfg.Development {
		lc = logging.DevelopmentConfig()
	}
	if cfg.Level != "" && !cfg.Development {
		lc.Level = cfg.Level
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

func newKV(cfg config.StorageConfig) (storage.KV, error) {
	if cfg.Memory {
		return storage.NewMemory(), nil
	}
	kv, err := storage.NewFile(cfg.Dir, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return kv, nil
}

// newFactory picks the surface backend. The returned attacher is non-nil
// only for remote surfaces.
func newFactory(cfg config.SurfaceConfig, client *httpclient.Client, filter *adblock.Filter, logger *logging.Logger, metrics *monitoring.Metrics) (browser.Factory, ws.Attacher, error) {
	switch cfg.Kind {
	case config.SurfaceChromium:
		cc := chromium.DefaultConfig()
		cc.ControlURL = cfg.ChromiumURL
		cc.NavigationTimeout = cfg.Timeout
		return chromium.NewFactory(cc, filter, logger), nil, nil

	case config.SurfaceRemote:
		f := remote.NewFactory(logger)
		return f, f, nil

	default:
		sc := sandbox.DefaultConfig()
		sc.PoolSize = cfg.PoolSize
		f, err := sandbox.NewFactory(client,
			sandbox.WithConfig(sc),
			sandbox.WithFilter(filter),
			sandbox.WithLogger(logger),
			sandbox.WithMetrics(metrics),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create sandbox: %w", err)
		}
		return f, nil, nil
	}
}

func (s *Server) newRouter(registry *prometheus.Registry, attacher ws.Attacher) *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = s.config.RateLimit.RequestsPerSecond
		rl.Burst = s.config.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := apihttp.NewHandlers(s.store, s.tabs, s.downloads, s.metrics, s.logger)
	handlers.Register(router)

	wsHandler := ws.NewHandler(s.store, s.tabs, s.metrics, s.logger)
	router.GET("/api/stream", wsHandler.HandleStream)
	if attacher != nil {
		router.GET("/api/tabs/:id/surface", wsHandler.HandleSurface(attacher))
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	return router
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops serving, closes every tab, flushes state and releases
// the surface backend.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
	}
	s.tracer.Close()
	if err := s.tabs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tabs: %w", err))
	}
	if err := s.downloads.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close downloads: %w", err))
	}
	if err := s.persister.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush state: %w", err))
	}
	if c, ok := s.factory.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close surfaces: %w", err))
		}
	}
	if c, ok := s.kv.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}

	_ = s.logger.Sync()
	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Shutdown finished with errors", zap.Error(err))
	}
	return err
}
