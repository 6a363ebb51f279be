package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"smc-trading-engine/internal/auth"
	"smc-trading-engine/internal/database"
	"smc-trading-engine/internal/engine"
	"smc-trading-engine/internal/events"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// DefaultServerConfig listens on :8080 and allows local dashboard origins.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
	}
}

// Server exposes the control API over the engine: status, positions,
// strategy management, pause/resume and a websocket event feed.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	engine      *engine.Engine
	repo        *database.Repository
	authManager *auth.Manager
	hub         *Hub
	config      ServerConfig
	log         zerolog.Logger
}

// NewServer builds the router and wires the websocket hub to the event bus.
// repo and authManager may be nil; a nil authManager leaves the API open.
func NewServer(
	config ServerConfig,
	eng *engine.Engine,
	bus *events.Bus,
	repo *database.Repository,
	authManager *auth.Manager,
	logger zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	if len(corsConfig.AllowOrigins) > 0 {
		router.Use(cors.New(corsConfig))
	}

	s := &Server{
		router:      router,
		engine:      eng,
		repo:        repo,
		authManager: authManager,
		hub:         NewHub(logger),
		config:      config,
		log:         logger.With().Str("component", "api").Logger(),
	}

	go s.hub.Run()
	bus.SubscribeAll(s.hub.BroadcastEvent)

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/api/health", s.handleHealth)
	s.router.POST("/api/auth/login", s.handleLogin)
	s.router.GET("/ws", s.handleWebSocket)

	protected := s.router.Group("/api")
	if s.authManager != nil {
		protected.Use(auth.Middleware(s.authManager))
	}

	protected.GET("/status", s.handleStatus)
	protected.GET("/positions", s.handlePositions)
	protected.GET("/strategies", s.handleStrategies)
	protected.POST("/strategies", s.handleAddStrategy)
	protected.DELETE("/strategies/:name", s.handleRemoveStrategy)
	protected.GET("/risk/report", s.handleRiskReport)
	protected.GET("/signals/:symbol", s.handleRecentSignals)
	protected.POST("/engine/pause", s.handlePause)
	protected.POST("/engine/resume", s.handleResume)
	protected.POST("/engine/stop", s.handleStop)
}

// Router returns the underlying gin router, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
