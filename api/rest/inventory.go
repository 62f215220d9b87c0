package rest

import (
	"net/http"
	"strconv"

	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/game/ledger"
	mw "github.com/Excalium-OG/DeckForge/middleware"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/gin-gonic/gin"
)

// InventoryHandler serves a player's card instances and balance.
type InventoryHandler struct {
	ledger *ledger.Ledger
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(l *ledger.Ledger) *InventoryHandler {
	return &InventoryHandler{ledger: l}
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// List handles GET /api/players/me/cards?card_id=&level=&limit=&offset=,
// oldest acquired first.
func (h *InventoryHandler) List(c *gin.Context) {
	playerID := mw.GetPlayerID(c)
	var f ledger.Filter
	if s := c.Query("card_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			badRequest(c, "invalid card_id")
			return
		}
		f.CardID = &id
	}
	if s := c.Query("level"); s != "" {
		lvl, err := strconv.Atoi(s)
		if err != nil || lvl < 0 {
			badRequest(c, "invalid level")
			return
		}
		f.Level = &lvl
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit < 1 || limit > maxListLimit {
		badRequest(c, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		badRequest(c, "invalid offset")
		return
	}

	ctx := c.Request.Context()
	total, err := h.ledger.Count(ctx, playerID, f)
	if err != nil {
		abortWithError(c, err)
		return
	}
	cards := make([]model.UserCard, 0)
	skipped := 0
	for uc, err := range h.ledger.InstancesOf(ctx, playerID, f) {
		if err != nil {
			abortWithError(c, err)
			return
		}
		if skipped < offset {
			skipped++
			continue
		}
		cards = append(cards, uc)
		if len(cards) == limit {
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards, "count": len(cards), "total": total})
}

// Get handles GET /api/players/me/cards/:instance and includes the
// instance's perk boosts.
func (h *InventoryHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	uc, err := h.ledger.Get(ctx, c.Param("instance"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if uc.UserID != mw.GetPlayerID(c) || uc.Retired() {
		abortWithError(c, gameerr.ErrInstanceNotFound)
		return
	}
	boosts, err := h.ledger.Boosts(ctx, uc.InstanceID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"card": uc, "boosts": boosts})
}

// Balance handles GET /api/players/me/balance.
func (h *InventoryHandler) Balance(c *gin.Context) {
	bal, err := h.ledger.Balance(c.Request.Context(), mw.GetPlayerID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": bal})
}
