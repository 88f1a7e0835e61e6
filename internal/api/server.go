// Package api exposes the control surface of the bot over HTTP.
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

	"bitvavo-trading-bot/config"
	"bitvavo-trading-bot/internal/auth"
	"bitvavo-trading-bot/internal/backtest"
	"bitvavo-trading-bot/internal/database"
	"bitvavo-trading-bot/internal/performance"
	"bitvavo-trading-bot/internal/risk"
	"bitvavo-trading-bot/internal/trading"
)

// BacktestFunc runs a backtest for the given request. The server does not
// fetch candles or build strategies itself; main wires that in.
type BacktestFunc func(ctx context.Context, req BacktestRequest) (*backtest.Result, error)

// Deps carries everything the server needs. Repo may be nil when the
// database is disabled, Backtest may be nil when backtesting is not wired.
type Deps struct {
	Trader   *trading.Manager
	RiskMgr  *risk.Manager
	Monitor  *performance.Monitor
	Repo     *database.Repository
	Backtest BacktestFunc
}

// Server is the HTTP control API
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        config.ServerConfig
	authCfg    config.AuthConfig
	jwtManager *auth.JWTManager
	deps       Deps
	logger     zerolog.Logger
}

// NewServer creates the API server and registers all routes
func NewServer(cfg config.ServerConfig, authCfg config.AuthConfig, deps Deps, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router:  router,
		cfg:     cfg,
		authCfg: authCfg,
		deps:    deps,
		logger:  logger.With().Str("component", "api").Logger(),
	}
	if authCfg.Enabled {
		s.jwtManager = auth.NewJWTManager(authCfg.JWTSecret, authCfg.AccessTokenDuration)
	}

	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(cors.New(s.corsConfig()))

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	return s
}

func (s *Server) corsConfig() cors.Config {
	corsCfg := cors.DefaultConfig()
	if s.cfg.AllowedOrigins == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = strings.Split(s.cfg.AllowedOrigins, ",")
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	return corsCfg
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/auth/login", s.handleLogin)

	authorized := s.router.Group("/api")
	authorized.Use(s.authMiddleware())
	{
		authorized.GET("/status", s.handleStatus)
		authorized.GET("/metrics", s.handleMetrics)
		authorized.GET("/trades", s.handleTrades)
		authorized.GET("/risk", s.handleRisk)
		authorized.POST("/risk/reset-emergency", s.handleResetEmergency)
		authorized.POST("/bot/start", s.handleBotStart)
		authorized.POST("/bot/stop", s.handleBotStop)
		authorized.POST("/backtest", s.handleBacktest)
		authorized.GET("/backtest/history", s.handleBacktestHistory)
	}
}

// Start serves HTTP until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

// authMiddleware validates the bearer token and stores the operator name
// in the context. When auth is disabled every request passes as "local".
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authCfg.Enabled {
			c.Set("username", "local")
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := s.jwtManager.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			status := http.StatusUnauthorized
			msg := "invalid token"
			if err == auth.ErrTokenExpired {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Set("username", claims.Username)
		c.Next()
	}
}

func operatorName(c *gin.Context) string {
	if v, ok := c.Get("username"); ok {
		if name, ok := v.(string); ok {
			return name
		}
	}
	return "unknown"
}
