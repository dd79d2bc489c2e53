package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"liquidity-trap-engine/internal/engine"
	"liquidity-trap-engine/internal/events"
	"liquidity-trap-engine/internal/logging"
	"liquidity-trap-engine/internal/pipeline"
	"liquidity-trap-engine/internal/risk"
)

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	engine     *engine.Engine
	manager    *risk.Manager
	eventBus   *events.EventBus
	hub        *WSHub
	strategy   pipeline.Config
	config     ServerConfig
	logger     zerolog.Logger
	startedAt  time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ProductionMode bool
}

// ParseOrigins splits a comma separated origin list
func ParseOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// NewServer creates a new API server. strategy is the default pipeline
// configuration for stateless analysis requests.
func NewServer(config ServerConfig, eng *engine.Engine, manager *risk.Manager, eventBus *events.EventBus, strategy pipeline.Config, logger zerolog.Logger) *Server {
	// Set Gin mode
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(logging.GinMiddleware(logger))
	router.Use(gin.Recovery())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 0 || (len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", logging.TraceHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", logging.TraceHeader}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:    router,
		engine:    eng,
		manager:   manager,
		eventBus:  eventBus,
		strategy:  strategy,
		config:    config,
		logger:    logging.Component(logger, "APIServer"),
		startedAt: time.Now(),
	}

	if eventBus != nil {
		server.hub = InitWebSocket(eventBus, server.logger)
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		// Stateless analysis
		api.POST("/analyze", s.handleAnalyze)

		// Per-symbol sessions
		api.GET("/sessions", s.handleListSessions)
		api.GET("/sessions/:symbol", s.handleGetSession)
		api.POST("/sessions/:symbol/candles", s.handleAddCandles)
		api.POST("/sessions/:symbol/price", s.handleSessionPrice)

		// Positions
		api.GET("/positions", s.handleListPositions)
		api.POST("/positions", s.handleCreatePosition)
		api.GET("/positions/:id", s.handleGetPosition)
		api.POST("/positions/:id/price", s.handleUpdatePosition)

		// Portfolio
		api.GET("/portfolio/risk", s.handlePortfolioRisk)
	}

	// WebSocket event stream
	if s.hub != nil {
		s.router.GET("/ws", s.handleWebSocket)
	}
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	readTimeout, writeTimeout := s.config.ReadTimeout, s.config.WriteTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	if s.hub != nil {
		s.hub.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	clients := 0
	if s.hub != nil {
		clients = s.hub.GetClientCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"sessions":   len(s.engine.Sessions()),
		"ws_clients": clients,
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
