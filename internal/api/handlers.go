package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/auth"
)

// handleHealth runs the registered dependency checks
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	healthy := true
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			healthy = false
			deps[name] = err.Error()
			continue
		}
		deps[name] = "healthy"
	}

	body := gin.H{
		"status":       "healthy",
		"dependencies": deps,
		"running":      s.trader.IsRunning(),
		"uptime":       time.Since(s.startedAt).Round(time.Second).String(),
	}
	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.auth == nil {
		errorResponse(c, http.StatusNotFound, "authentication is disabled")
		return
	}
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := s.auth.Login(req)
	if err != nil {
		requestLog(c).Warn("Rejected login", "username", req.Username)
		errorResponse(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	successResponse(c, token)
}

func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.trader.Status())
}

func (s *Server) handlePositions(c *gin.Context) {
	successResponse(c, s.trader.Positions())
}

func (s *Server) handleAllocations(c *gin.Context) {
	successResponse(c, s.trader.Allocations())
}

func (s *Server) handleMonitors(c *gin.Context) {
	successResponse(c, s.trader.Monitors())
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.trader.Stats(c.Request.Context())
	if err != nil {
		requestLog(c).WithError(err).Error("Failed to load stats")
		errorResponse(c, http.StatusInternalServerError, "failed to load stats")
		return
	}
	successResponse(c, stats)
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.trader.Start(c.Request.Context()); err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	requestLog(c).Info("Session started via API", "operator", operator(c))
	successResponse(c, s.trader.Status())
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.trader.Stop(); err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	requestLog(c).Info("Session stopped via API", "operator", operator(c))
	successResponse(c, gin.H{"running": false})
}

func (s *Server) handleReconcile(c *gin.Context) {
	n, err := s.trader.Reconcile(c.Request.Context())
	if err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	successResponse(c, gin.H{"restored": n})
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	s.trader.ClearCircuitBreaker(c.Request.Context(), operator(c))
	successResponse(c, s.trader.Status().Breaker)
}

type watchlistRequest struct {
	Symbols []string `json:"symbols" binding:"required"`
}

func (s *Server) handleWatchlist(c *gin.Context) {
	var req watchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "symbols are required")
		return
	}
	if err := s.trader.UpdateWatchlist(req.Symbols); err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	successResponse(c, gin.H{"symbols": req.Symbols, "applied_next_rebalance": s.trader.IsRunning()})
}

func (s *Server) handleClosePosition(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	closed, err := s.trader.ClosePosition(c.Request.Context(), symbol)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			requestLog(c).WithError(err).Error("Manual close failed", "symbol", symbol)
		}
		errorResponse(c, status, err.Error())
		return
	}
	requestLog(c).Info("Position closed via API", "symbol", symbol, "operator", operator(c))
	successResponse(c, closed)
}
