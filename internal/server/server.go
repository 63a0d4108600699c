package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/stacks/internal/api"
	"github.com/jackzampolin/stacks/internal/config"
	"github.com/jackzampolin/stacks/internal/console"
	"github.com/jackzampolin/stacks/internal/defra"
	"github.com/jackzampolin/stacks/internal/home"
	"github.com/jackzampolin/stacks/internal/ingest"
	"github.com/jackzampolin/stacks/internal/library"
	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/schema"
	"github.com/jackzampolin/stacks/internal/server/endpoints"
	"github.com/jackzampolin/stacks/internal/svcctx"
)

// Server is the main stacks HTTP server.
// Unless it runs in memory mode it manages the DefraDB container lifecycle,
// starting it on server start and stopping it on server shutdown.
type Server struct {
	httpServer   *http.Server
	defraManager *defra.DockerManager
	defraClient  *defra.Client
	sink         *defra.Sink
	backends     *backends
	configMgr    *config.Manager
	home         *home.Dir
	memory       bool
	defraURL     string
	logger       *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu           sync.RWMutex
	running      bool
	stopped      bool
	console      *console.Service
	coordinators []*ingest.Coordinator
	addr         string
	ready        chan struct{}
}

// Config holds server configuration.
type Config struct {
	// Host and Port override server.host and server.port from the config.
	Host string
	Port string
	// Memory keeps documents in memory and skips DefraDB entirely.
	Memory bool
	// DefraConfig holds DefraDB container settings. Ignored when the config
	// names an external node in defra.url.
	DefraConfig defra.DockerConfig
	// ConfigManager provides configuration with hot-reload support.
	// Defaults are used when nil.
	ConfigManager *config.Manager
	Home          *home.Dir
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	settings := config.DefaultConfig()
	if cfg.ConfigManager != nil {
		settings = cfg.ConfigManager.Get()
	}
	if cfg.Host == "" {
		cfg.Host = settings.Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = settings.Server.Port
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		memory:    cfg.Memory,
		logger:    cfg.Logger,
		ready:     make(chan struct{}),
	}

	if !cfg.Memory {
		s.defraURL = config.ResolveEnvVars(settings.Defra.URL)
		if s.defraURL == "" {
			if cfg.DefraConfig.Logger == nil {
				cfg.DefraConfig.Logger = cfg.Logger
			}
			defraManager, err := defra.NewDockerManager(cfg.DefraConfig)
			if err != nil {
				return nil, fmt.Errorf("failed to create defra manager: %w", err)
			}
			s.defraManager = defraManager
		}
	}

	if cfg.ConfigManager != nil {
		cfg.ConfigManager.OnChange(s.reload)
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{DefraManager: s.defraManager}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           s.withServices(mux),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// settings returns the current configuration with env references expanded.
func (s *Server) settings() config.Config {
	if s.configMgr == nil {
		return config.DefaultConfig().Resolved()
	}
	return s.configMgr.Get().Resolved()
}

// Start starts DefraDB (unless in memory mode), builds the console service
// and serves HTTP. It blocks until the context is cancelled or an error
// occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	if s.stopped {
		s.mu.Unlock()
		return errors.New("server already stopped")
	}
	s.running = true
	s.mu.Unlock()

	settings := s.settings()

	store, recorder, query, err := s.startStorage(ctx)
	if err != nil {
		_ = s.shutdown()
		return err
	}

	s.backends, err = buildBackends(ctx, settings, s.home, s.logger)
	if err != nil {
		_ = s.shutdown()
		return err
	}

	comps, coord := buildComponents(settings, s.logger)
	svc, err := console.New(console.Config{
		Store:           store,
		Blobs:           s.backends.blobs,
		Registry:        s.backends.registry,
		Processor:       comps.Processor,
		Submitter:       comps.Submitter,
		Remote:          comps.Remote,
		Extractor:       s.backends.extractor,
		Classifier:      s.backends.classifier,
		Metrics:         recorder,
		BulkConcurrency: settings.Ingestion.BulkConcurrency,
		Logger:          s.logger,
	})
	if err != nil {
		_ = s.shutdown()
		return err
	}

	// Create services struct for context enrichment
	s.mu.Lock()
	s.console = svc
	if coord != nil {
		s.coordinators = append(s.coordinators, coord)
	}
	s.services = &svcctx.Services{
		Console:      svc,
		DefraClient:  s.defraClient,
		DefraSink:    s.sink,
		MetricsQuery: query,
		Config:       s.configMgr,
		Logger:       s.logger,
		Home:         s.home,
	}
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String(), "memory", s.memory)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// startStorage brings up the document store and metrics. In memory mode
// metrics are discarded.
func (s *Server) startStorage(ctx context.Context) (library.Store, *metrics.Recorder, *metrics.Query, error) {
	if s.memory {
		s.logger.Info("using in-memory document store")
		return library.NewMemoryStore(), nil, nil, nil
	}

	url := s.defraURL
	if s.defraManager != nil {
		// Validate any existing container matches our config
		if err := s.defraManager.ValidateExisting(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("existing DefraDB container incompatible: %w", err)
		}
		s.logger.Info("starting DefraDB")
		if err := s.defraManager.Start(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to start DefraDB: %w", err)
		}
		url = s.defraManager.URL()
	}

	s.defraClient = defra.NewClient(url)
	if err := s.defraClient.HealthCheck(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("DefraDB health check failed: %w", err)
	}
	s.logger.Info("DefraDB is ready", "url", url)

	s.logger.Info("initializing schemas")
	if err := schema.Initialize(ctx, s.defraClient, s.logger); err != nil {
		return nil, nil, nil, fmt.Errorf("schema initialization failed: %w", err)
	}

	s.sink = defra.NewSink(defra.SinkConfig{Client: s.defraClient, Logger: s.logger})
	s.sink.Start(ctx)

	return library.NewDefraStore(s.defraClient, s.logger),
		metrics.NewRecorder(s.sink, s.logger),
		metrics.NewQuery(s.defraClient),
		nil
}

// reload rebuilds the remote and ingestion collaborators after a config
// change. Backends chosen at start (store, registry, blobs) stay as they are.
func (s *Server) reload(*config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.console == nil {
		return
	}
	comps, coord := buildComponents(s.settings(), s.logger)
	if coord != nil {
		s.coordinators = append(s.coordinators, coord)
	}
	s.console.Reconfigure(comps)
	s.logger.Info("console components reloaded from config")
}

// shutdown performs graceful shutdown of the HTTP server, in-flight
// ingestions, the metrics sink and DefraDB.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.mu.RLock()
	coords := append([]*ingest.Coordinator(nil), s.coordinators...)
	s.mu.RUnlock()
	drainCtx, drainCancel := context.WithTimeout(shutdownCtx, drainTimeout)
	if err := waitAll(drainCtx, coords); err != nil {
		s.logger.Warn("shutdown did not wait for all submissions", "error", err)
	}
	drainCancel()

	if s.sink != nil {
		s.sink.Stop()
	}
	if s.backends != nil {
		s.backends.close(s.logger)
	}

	if s.defraManager != nil {
		s.logger.Info("stopping DefraDB")
		if err := s.defraManager.Stop(shutdownCtx); err != nil {
			s.logger.Error("DefraDB stop error", "error", err)
		}
		if err := s.defraManager.Close(); err != nil {
			s.logger.Error("DefraDB manager close error", "error", err)
		}
	}

	s.mu.Lock()
	s.running = false
	s.stopped = true
	s.console = nil
	s.mu.Unlock()
	s.logger.Info("server stopped")
	return nil
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listen address; after Ready it is the bound address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr != "" {
		return s.addr
	}
	return s.httpServer.Addr
}

// Console returns the console service, or nil before Start.
func (s *Server) Console() *console.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.console
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		services := s.services
		s.mu.RUnlock()

		ctx := r.Context()
		if services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the console service isn't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Console() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
