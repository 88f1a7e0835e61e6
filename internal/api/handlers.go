package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bitvavo-trading-bot/internal/auth"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// BacktestRequest describes a backtest run submitted over the API
type BacktestRequest struct {
	Market   string `json:"market" binding:"required"`
	Interval string `json:"interval"`
	Candles  int    `json:"candles"`
	Strategy string `json:"strategy"`
	Persist  bool   `json:"persist"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleLogin(c *gin.Context) {
	if !s.authCfg.Enabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication disabled"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if req.Username != s.authCfg.AdminUsername ||
		!auth.VerifyPassword(s.authCfg.AdminPasswordHash, req.Password) {
		s.logger.Warn().Str("username", req.Username).Msg("Failed login attempt")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.jwtManager.GenerateToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresIn": int(s.authCfg.AccessTokenDuration.Seconds()),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Trader.Status())
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Monitor.Metrics())
}

func (s *Server) handleTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": s.deps.Monitor.Trades()})
}

func (s *Server) handleRisk(c *gin.Context) {
	metrics, err := s.deps.RiskMgr.CurrentMetrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk metrics unavailable"})
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleResetEmergency(c *gin.Context) {
	operator := operatorName(c)
	if !s.deps.RiskMgr.IsEmergencyShutdownActive() {
		c.JSON(http.StatusConflict, gin.H{"error": "emergency shutdown is not active"})
		return
	}

	s.deps.RiskMgr.ResetEmergencyShutdown(operator)
	s.logger.Info().Str("operator", operator).Msg("Emergency shutdown reset via API")
	c.JSON(http.StatusOK, gin.H{"status": "reset", "operator": operator})
}

func (s *Server) handleBotStart(c *gin.Context) {
	operator := operatorName(c)
	if err := s.deps.Trader.Start(context.WithoutCancel(c.Request.Context())); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Str("operator", operator).Msg("Bot started via API")
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleBotStop(c *gin.Context) {
	s.deps.Trader.Stop()
	s.logger.Info().Str("operator", operatorName(c)).Msg("Bot stopped via API")
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleBacktest(c *gin.Context) {
	if s.deps.Backtest == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "backtesting not available"})
		return
	}

	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "market is required"})
		return
	}
	if req.Interval == "" {
		req.Interval = "1h"
	}
	if req.Candles <= 0 {
		req.Candles = 500
	}

	result, err := s.deps.Backtest(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	if req.Persist && s.deps.Repo != nil {
		if _, err := s.deps.Repo.SaveBacktestResult(c.Request.Context(), req.Strategy, result); err != nil {
			s.logger.Error().Err(err).Msg("Failed to persist backtest result")
		}
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleBacktestHistory(c *gin.Context) {
	if s.deps.Repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not configured"})
		return
	}

	results, err := s.deps.Repo.ListBacktestResults(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load backtest history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
