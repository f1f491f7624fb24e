package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/auth"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/autopilot"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/capital"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/circuit"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/events"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/monitor"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/position"
)

// Trader is the slice of the orchestrator the API drives
type Trader interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	Status() autopilot.StatusReport
	Positions() []position.Position
	Allocations() []capital.Allocation
	Monitors() map[string]monitor.PairMonitor
	Stats(ctx context.Context) (circuit.OperationStats, error)
	Reconcile(ctx context.Context) (int, error)
	ClearCircuitBreaker(ctx context.Context, requestedBy string)
	UpdateWatchlist(symbols []string) error
	ClosePosition(ctx context.Context, symbol string) (position.ClosedTrade, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int      `json:"port" yaml:"port"`
	Host           string   `json:"host" yaml:"host"`
	ProductionMode bool     `json:"production_mode" yaml:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// Deps are the collaborators of the API server. Auth may be nil, which
// leaves every route open.
type Deps struct {
	Trader       Trader
	Auth         *auth.Authenticator
	Bus          *events.EventBus
	Logger       *logging.Logger
	HealthChecks map[string]HealthCheck
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	trader     Trader
	auth       *auth.Authenticator
	hub        *WSHub
	checks     map[string]HealthCheck
	logger     *logging.Logger
	stopHub    context.CancelFunc
	startedAt  time.Time
}

// NewServer creates the API server and starts its websocket hub
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("api")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowedOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	hubCtx, stopHub := context.WithCancel(context.Background())
	s := &Server{
		router:    router,
		config:    config,
		trader:    deps.Trader,
		auth:      deps.Auth,
		hub:       NewWSHub(logger),
		checks:    deps.HealthChecks,
		logger:    logger,
		stopHub:   stopHub,
		startedAt: time.Now(),
	}
	go s.hub.Run(hubCtx)
	if deps.Bus != nil {
		deps.Bus.SubscribeAll(s.hub.BroadcastEvent)
	}

	s.setupRoutes()
	return s
}

func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, l := logging.WithTraceContext(c.Request.Context(), logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", logging.TraceIDFromContext(ctx))
		c.Next()
		l.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/auth/login", s.handleLogin)

	protected := api.Group("")
	ws := s.router.Group("")
	if s.auth != nil {
		protected.Use(auth.Middleware(s.auth.JWT()))
		ws.Use(auth.Middleware(s.auth.JWT()))
	}

	protected.GET("/status", s.handleStatus)
	protected.GET("/positions", s.handlePositions)
	protected.POST("/positions/:symbol/close", s.handleClosePosition)
	protected.GET("/allocations", s.handleAllocations)
	protected.GET("/monitors", s.handleMonitors)
	protected.GET("/stats", s.handleStats)

	protected.POST("/start", s.handleStart)
	protected.POST("/stop", s.handleStop)
	protected.POST("/reconcile", s.handleReconcile)
	protected.POST("/circuit-breaker/reset", s.handleBreakerReset)
	protected.PUT("/watchlist", s.handleWatchlist)

	ws.GET("/ws", s.handleWebSocket)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and disconnects websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.stopHub()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// requestLog returns the request-scoped logger carrying the trace id
func requestLog(c *gin.Context) *logging.Logger {
	return logging.FromContext(c.Request.Context())
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, autopilot.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, position.ErrNoPosition):
		return http.StatusNotFound
	case errors.Is(err, autopilot.ErrAlreadyRunning),
		errors.Is(err, autopilot.ErrNotRunning),
		errors.Is(err, position.ErrPositionClosing):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrNotFilled), errors.Is(err, position.ErrPartialFill):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// operator names the caller for audit logs
func operator(c *gin.Context) string {
	if name := auth.GetOperator(c); name != "" {
		return name
	}
	return "api"
}
