package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"session-core/internal/engine"
	exchange "session-core/pkg/exchanges/common"

	"github.com/gin-gonic/gin"
)

// defaultInstruments is served when the process was not configured with a list.
var defaultInstruments = []string{
	"EUR_USD", "GBP_USD", "USD_JPY", "USD_CHF", "AUD_USD", "USD_CAD", "NZD_USD",
	"EUR_GBP", "EUR_JPY", "GBP_JPY", "XAU_USD",
}

type recoverOrphansRequest struct {
	AccountID string `json:"account_id"`
	AutoClose bool   `json:"auto_close"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine error kinds onto HTTP statuses.
func respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, engine.ErrDuplicateSession):
		respondError(c, http.StatusConflict, "DUPLICATE_SESSION", err.Error())
	case errors.Is(err, engine.ErrCapacityExceeded):
		respondError(c, http.StatusTooManyRequests, "CAPACITY_EXCEEDED", err.Error())
	case errors.Is(err, engine.ErrInvalidParams):
		respondError(c, http.StatusBadRequest, "INVALID_PARAMS", err.Error())
	case errors.Is(err, engine.ErrUpstreamUnavailable):
		respondError(c, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "ENGINE_ERROR", err.Error())
	}
}

// systemStatus exposes broker and build details for the dashboard.
func (s *Server) systemStatus(c *gin.Context) {
	snaps := s.Engine.Snapshots()
	counts := make(map[string]int)
	for _, snap := range snaps {
		counts[string(snap.Status)]++
	}
	c.JSON(http.StatusOK, gin.H{
		"broker":       s.Meta.Broker,
		"environment":  s.Meta.Environment,
		"version":      s.Meta.Version,
		"instance_tag": s.Meta.InstanceTag,
		"sessions":     len(snaps),
		"by_status":    counts,
		"auth":         s.RequireAuth,
		"server_time":  time.Now().UTC(),
	})
}

func (s *Server) listStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.Engine.Strategies()})
}

func (s *Server) listInstruments(c *gin.Context) {
	instruments := s.Meta.Instruments
	if len(instruments) == 0 {
		instruments = defaultInstruments
	}
	c.JSON(http.StatusOK, gin.H{"instruments": instruments})
}

func (s *Server) listGranularities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"granularities": exchange.Granularities()})
}

// Sessions

func (s *Server) createSession(c *gin.Context) {
	var req engine.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	snap, err := s.Engine.Create(c.Request.Context(), req)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) listSessions(c *gin.Context) {
	snaps := s.Engine.List(c.Request.Context())
	if status := strings.ToUpper(c.Query("status")); status != "" {
		filtered := snaps[:0]
		for _, snap := range snaps {
			if string(snap.Status) == status {
				filtered = append(filtered, snap)
			}
		}
		snaps = filtered
	}
	c.JSON(http.StatusOK, gin.H{"sessions": snaps, "count": len(snaps)})
}

func (s *Server) getSession(c *gin.Context) {
	snap, err := s.Engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) updateSession(c *gin.Context) {
	var req engine.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	snap, err := s.Engine.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.Engine.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Session lifecycle

func (s *Server) lifecycle(c *gin.Context, op func(*gin.Context, string) error) {
	id := c.Param("id")
	if err := op(c, id); err != nil {
		respondEngineError(c, err)
		return
	}
	snap, err := s.Engine.Get(c.Request.Context(), id)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) startSession(c *gin.Context) {
	s.lifecycle(c, func(c *gin.Context, id string) error { return s.Engine.Start(c.Request.Context(), id) })
}

func (s *Server) stopSession(c *gin.Context) {
	s.lifecycle(c, func(c *gin.Context, id string) error { return s.Engine.Stop(c.Request.Context(), id) })
}

func (s *Server) pauseSession(c *gin.Context) {
	s.lifecycle(c, func(c *gin.Context, id string) error { return s.Engine.Pause(c.Request.Context(), id) })
}

func (s *Server) resumeSession(c *gin.Context) {
	s.lifecycle(c, func(c *gin.Context, id string) error { return s.Engine.Resume(c.Request.Context(), id) })
}

// Session queries

func (s *Server) sessionTrades(c *gin.Context) {
	view, err := s.Engine.Trades(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) sessionPositions(c *gin.Context) {
	positions, err := s.Engine.Positions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "positions": positions})
}

func (s *Server) closeSessionPosition(c *gin.Context) {
	res, err := s.Engine.ClosePosition(c.Request.Context(), c.Param("id"), strings.ToUpper(c.Param("instrument")))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Accounts

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.Engine.Accounts(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) accountSummary(c *gin.Context) {
	summary, err := s.Engine.AccountSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) accountPositions(c *gin.Context) {
	positions, err := s.Engine.AccountPositions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": c.Param("id"), "positions": positions})
}

func (s *Server) closeAccountPosition(c *gin.Context) {
	res, err := s.Engine.CloseAccountPosition(c.Request.Context(), c.Param("id"), strings.ToUpper(c.Param("instrument")))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Recovery and research

func (s *Server) recoverOrphans(c *gin.Context) {
	var req recoverOrphansRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
			return
		}
	}
	reports, err := s.Engine.RecoverOrphans(c.Request.Context(), req.AccountID, req.AutoClose)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *Server) runBacktest(c *gin.Context) {
	var req engine.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	res, err := s.Engine.Backtest(c.Request.Context(), req)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
