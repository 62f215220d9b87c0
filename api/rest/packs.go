package rest

import (
	"net/http"
	"strconv"

	"github.com/Excalium-OG/DeckForge/game/drop"
	mw "github.com/Excalium-OG/DeckForge/middleware"
	"github.com/gin-gonic/gin"
)

// PackHandler exposes free pack claims, pack inventory and pack opening.
type PackHandler struct {
	svc *drop.Service
}

// NewPackHandler creates a PackHandler.
func NewPackHandler(svc *drop.Service) *PackHandler {
	return &PackHandler{svc: svc}
}

// List handles GET /api/packs.
func (h *PackHandler) List(c *gin.Context) {
	inv, err := h.svc.Packs(c.Request.Context(), mw.GetPlayerID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// Claim handles POST /api/packs/claim.
func (h *PackHandler) Claim(c *gin.Context) {
	inv, err := h.svc.ClaimFreePack(c.Request.Context(), mw.GetPlayerID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

type dropRequest struct {
	DeckID   int64  `json:"deck_id" binding:"required"`
	PackType string `json:"pack_type"`
	Amount   int    `json:"amount"`
}

// Drop handles POST /api/drop. Amount defaults to one normal pack.
func (h *PackHandler) Drop(c *gin.Context) {
	var req dropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	pack, err := drop.ParsePackType(req.PackType)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}
	res, err := h.svc.Open(c.Request.Context(), mw.GetPlayerID(c), req.DeckID, pack, req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DropRates handles GET /api/decks/:id/drop-rates?pack_type=.
func (h *PackHandler) DropRates(c *gin.Context) {
	deckID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	pack, err := drop.ParsePackType(c.Query("pack_type"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	rates, err := h.svc.DeckRates(c.Request.Context(), deckID, pack)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make(map[string]string, len(rates))
	for rarity, r := range rates {
		out[rarity] = r.StringFixed(2)
	}
	c.JSON(http.StatusOK, gin.H{"deck_id": deckID, "pack_type": pack, "rates": out})
}

type packGrantRequest struct {
	PlayerID int64  `json:"player_id" binding:"required"`
	PackType string `json:"pack_type"`
	Amount   int    `json:"amount" binding:"required,min=1"`
}

// Grant adds packs to a player's inventory, subject to the pack limit.
// POST /api/admin/packs
func (h *PackHandler) Grant(c *gin.Context) {
	var req packGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	pack, err := drop.ParsePackType(req.PackType)
	if err != nil {
		abortWithError(c, err)
		return
	}
	inv, err := h.svc.GrantPacks(c.Request.Context(), req.PlayerID, pack, req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}
