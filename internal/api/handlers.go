package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smc-trading-engine/internal/engine"
)

type loginRequest struct {
	Operator string `json:"operator" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"running": s.engine.IsRunning(),
		"paused":  s.engine.IsPaused(),
	}

	if s.repo != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.repo.HealthCheck(ctx); err != nil {
			resp["database"] = "down"
		} else {
			resp["database"] = "up"
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.authManager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication disabled"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator and password required"})
		return
	}

	token, err := s.authManager.Login(req.Operator, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int64(s.authManager.TokenTTL().Seconds()),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Stats())
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.engine.ActivePositions()})
}

func (s *Server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.engine.Strategies()})
}

func (s *Server) handleAddStrategy(c *gin.Context) {
	var strategy engine.Strategy
	if err := c.ShouldBindJSON(&strategy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.AddStrategy(strategy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.log.Info().Str("strategy", strategy.Name).Str("symbol", strategy.Symbol).Msg("strategy added")
	c.JSON(http.StatusCreated, strategy)
}

func (s *Server) handleRemoveStrategy(c *gin.Context) {
	name := c.Param("name")
	s.engine.RemoveStrategy(name)
	s.log.Info().Str("strategy", name).Msg("strategy removed")
	c.JSON(http.StatusOK, gin.H{"removed": name})
}

func (s *Server) handleRiskReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.RiskReport())
}

func (s *Server) handleRecentSignals(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	signals, err := s.repo.RecentSignals(c.Request.Context(), c.Param("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load signals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (s *Server) handlePause(c *gin.Context) {
	var req pauseRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual pause"
	}

	s.engine.Pause(req.Reason)
	c.JSON(http.StatusOK, gin.H{"paused": true, "reason": req.Reason})
}

func (s *Server) handleResume(c *gin.Context) {
	s.engine.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) handleStop(c *gin.Context) {
	s.log.Warn().Msg("emergency stop requested")
	s.engine.Stop()
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}
