package rest

import (
	"net/http"

	"github.com/Excalium-OG/DeckForge/game/trade"
	mw "github.com/Excalium-OG/DeckForge/middleware"
	"github.com/gin-gonic/gin"
)

// TradeHandler exposes the trade session commands.
type TradeHandler struct {
	svc *trade.Service
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(svc *trade.Service) *TradeHandler {
	return &TradeHandler{svc: svc}
}

type tradeRequest struct {
	ResponderID int64 `json:"responder_id" binding:"required"`
}

type offerRequest struct {
	CardID     int64 `json:"card_id" binding:"required"`
	MergeLevel int   `json:"merge_level" binding:"min=0"`
	Quantity   int   `json:"quantity" binding:"required,min=1"`
}

// Request handles POST /api/trades.
func (h *TradeHandler) Request(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	snap, err := h.svc.RequestTrade(c.Request.Context(), mw.GetPlayerID(c), req.ResponderID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// Active handles GET /api/trades/active.
func (h *TradeHandler) Active(c *gin.Context) {
	snap, err := h.svc.ActiveFor(c.Request.Context(), mw.GetPlayerID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Get handles GET /api/trades/:id.
func (h *TradeHandler) Get(c *gin.Context) {
	snap, err := h.svc.Get(c.Request.Context(), mw.GetPlayerID(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Accept handles POST /api/trades/:id/accept.
func (h *TradeHandler) Accept(c *gin.Context) {
	snap, err := h.svc.AcceptTrade(c.Request.Context(), mw.GetPlayerID(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// AddOffer handles POST /api/trades/:id/offer.
func (h *TradeHandler) AddOffer(c *gin.Context) {
	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	snap, err := h.svc.AddToOffer(c.Request.Context(), mw.GetPlayerID(c), c.Param("id"), req.CardID, req.MergeLevel, req.Quantity)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// RemoveOffer handles DELETE /api/trades/:id/offer.
func (h *TradeHandler) RemoveOffer(c *gin.Context) {
	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	snap, err := h.svc.RemoveFromOffer(c.Request.Context(), mw.GetPlayerID(c), c.Param("id"), req.CardID, req.MergeLevel, req.Quantity)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Finalize handles POST /api/trades/:id/finalize. A swap that could not be
// covered answers with the error body; the session is back to active.
func (h *TradeHandler) Finalize(c *gin.Context) {
	res, err := h.svc.Finalize(c.Request.Context(), mw.GetPlayerID(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Cancel handles POST /api/trades/:id/cancel.
func (h *TradeHandler) Cancel(c *gin.Context) {
	snap, err := h.svc.CancelTrade(c.Request.Context(), mw.GetPlayerID(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
