package rest

import (
	"net/http"

	"github.com/Excalium-OG/DeckForge/game/merge"
	mw "github.com/Excalium-OG/DeckForge/middleware"
	"github.com/gin-gonic/gin"
)

// MergeHandler exposes the merge engine.
type MergeHandler struct {
	engine *merge.Engine
}

// NewMergeHandler creates a MergeHandler.
func NewMergeHandler(e *merge.Engine) *MergeHandler {
	return &MergeHandler{engine: e}
}

// Merge handles POST /api/merge.
func (h *MergeHandler) Merge(c *gin.Context) {
	var req merge.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.PlayerID = mw.GetPlayerID(c)
	req.TraceID = mw.GetTraceID(c)
	res, err := h.engine.Merge(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
