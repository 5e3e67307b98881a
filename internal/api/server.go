package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/entrance/internal/feature"
	"github.com/nerrad567/entrance/internal/infrastructure/config"
	"github.com/nerrad567/entrance/internal/infrastructure/logging"
)

// defaultShutdownTimeout is used when the configuration leaves the
// shutdown timeout unset.
const defaultShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.ServerConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger

	// Env is shared by every session the server opens.
	Env *feature.Env

	// Features holds the configured feature options handed to each session.
	Features map[string]map[string]any

	Version string
}

// Server is the HTTP server for the gateway.
//
// It manages the HTTP listener, routes, middleware and the websocket hub.
// Each websocket connection runs one session until the client leaves or
// the server closes.
type Server struct {
	cfg        config.ServerConfig
	wsCfg      config.WebSocketConfig
	metricsCfg config.MetricsConfig
	logger     *logging.Logger
	env        *feature.Env
	features   map[string]map[string]any
	version    string
	startTime  time.Time

	server *http.Server
	hub    *Hub
	addr   net.Addr

	// ctx is the lifetime of every session; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, feature environment)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Env == nil || deps.Env.Registry == nil {
		return nil, fmt.Errorf("feature registry is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		metricsCfg: deps.Metrics,
		logger:     deps.Logger,
		env:        deps.Env,
		features:   deps.Features,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.Logger),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Handler returns the HTTP handler with every route and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns, so a port already in use is
// reported here; serving continues on a background goroutine until Close.
//
// Parameters:
//   - ctx: Context for the bind (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to bind
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.addr = ln.Addr()

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("server starting",
		"address", s.addr.String(),
		"websocket_path", s.wsCfg.Path,
		"static_dir", s.cfg.StaticDir,
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close gracefully shuts down the server.
//
// New websocket upgrades are refused, open sessions are ended and their
// features closed, then in-flight HTTP requests get the configured
// shutdown timeout to complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	timeout := time.Duration(s.cfg.Timeouts.Shutdown) * time.Second
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("server shutting down", "sessions", s.hub.ClientCount())

	s.cancel()
	s.hub.closeAll()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("sessions still running at shutdown timeout")
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	if s.isClosing() {
		return fmt.Errorf("api server closing")
	}
	return nil
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}
