package rest

import (
	"net/http"

	"github.com/Excalium-OG/DeckForge/game/recycle"
	mw "github.com/Excalium-OG/DeckForge/middleware"
	"github.com/gin-gonic/gin"
)

// RecycleHandler exposes card recycling.
type RecycleHandler struct {
	svc *recycle.Service
}

// NewRecycleHandler creates a RecycleHandler.
func NewRecycleHandler(svc *recycle.Service) *RecycleHandler {
	return &RecycleHandler{svc: svc}
}

type recycleRequest struct {
	CardID     int64 `json:"card_id" binding:"required"`
	MergeLevel int   `json:"merge_level" binding:"min=0"`
	Amount     int   `json:"amount" binding:"required"`
}

// Recycle handles POST /api/recycle.
func (h *RecycleHandler) Recycle(c *gin.Context) {
	var req recycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.svc.Recycle(c.Request.Context(), mw.GetPlayerID(c), req.CardID, req.MergeLevel, req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
