package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"liquidity-trap-engine/internal/engine"
	"liquidity-trap-engine/internal/logging"
	"liquidity-trap-engine/internal/market"
	"liquidity-trap-engine/internal/pipeline"
	"liquidity-trap-engine/internal/risk"
)

// AnalyzeRequest is the body of POST /api/analyze
type AnalyzeRequest struct {
	Candles []market.Candle  `json:"candles" binding:"required"`
	Config  *pipeline.Config `json:"config,omitempty"`
}

// CandlesRequest is the body of POST /api/sessions/:symbol/candles
type CandlesRequest struct {
	Timeframe market.Timeframe `json:"timeframe" binding:"required"`
	Candles   []market.Candle  `json:"candles" binding:"required"`
}

// PriceRequest carries a price tick
type PriceRequest struct {
	Price     float64   `json:"price" binding:"required"`
	Timestamp time.Time `json:"timestamp"`
}

// handleAnalyze runs the pipeline over the posted candles without touching
// any session
func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	cfg := s.strategy
	if req.Config != nil {
		cfg = *req.Config
		if err := cfg.Analysis.Validate(); err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		if err := cfg.Entry.Validate(); err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	log := logging.FromContext(c.Request.Context())
	result := pipeline.NewAnalyzer(cfg, log).Analyze(req.Candles, nil)
	successResponse(c, gin.H{
		"result":   result,
		"rejected": result.RejectedCount(),
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	successResponse(c, s.engine.Sessions())
}

func (s *Server) handleGetSession(c *gin.Context) {
	res, err := s.engine.Last(c.Param("symbol"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	successResponse(c, res)
}

// handleAddCandles merges candles into a session and returns the analysis
// cycle they triggered, if any
func (s *Server) handleAddCandles(c *gin.Context) {
	var req CandlesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	ev, err := s.engine.AddCandles(c.Request.Context(), c.Param("symbol"), req.Timeframe, req.Candles)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if ev == nil {
		successResponse(c, gin.H{"evaluated": false})
		return
	}
	successResponse(c, gin.H{"evaluated": true, "evaluation": ev})
}

func (s *Server) handleSessionPrice(c *gin.Context) {
	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	exits, err := s.engine.OnPrice(c.Request.Context(), c.Param("symbol"), req.Price, req.Timestamp)
	if err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	successResponse(c, gin.H{"exits": nonNilExits(exits)})
}

func (s *Server) handleListPositions(c *gin.Context) {
	openOnly, _ := strconv.ParseBool(c.DefaultQuery("open", "false"))
	successResponse(c, s.manager.Positions(c.Query("symbol"), openOnly))
}

// handleCreatePosition opens a position; refusals return 422 with the reason
// code
func (s *Server) handleCreatePosition(c *gin.Context) {
	var order risk.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	id, err := s.manager.Create(c.Request.Context(), order)
	if err != nil {
		if rej, ok := risk.AsRejection(err); ok {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   true,
				"reason":  rej.Reason,
				"message": rej.Error(),
			})
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	snap, err := s.manager.Status(id)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    snap,
	})
}

func (s *Server) handleGetPosition(c *gin.Context) {
	snap, err := s.manager.Status(c.Param("id"))
	if err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	successResponse(c, snap)
}

func (s *Server) handleUpdatePosition(c *gin.Context) {
	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	exits, err := s.manager.Update(c.Request.Context(), c.Param("id"), req.Price, req.Timestamp)
	if err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	snap, _ := s.manager.Status(c.Param("id"))
	successResponse(c, gin.H{"exits": nonNilExits(exits), "position": snap})
}

func (s *Server) handlePortfolioRisk(c *gin.Context) {
	successResponse(c, s.manager.PortfolioRisk())
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, risk.ErrPositionNotFound), errors.Is(err, engine.ErrUnknownSymbol):
		return http.StatusNotFound
	case errors.Is(err, risk.ErrInvalidPrice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func nonNilExits(exits []risk.ExitEvent) []risk.ExitEvent {
	if exits == nil {
		return []risk.ExitEvent{}
	}
	return exits
}
