package rest

import (
	"net/http"
	"strconv"

	"github.com/Excalium-OG/DeckForge/game/valuation"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ValuationHandler serves the recycle and merge-cost curves.
type ValuationHandler struct {
	values *valuation.Table
}

// NewValuationHandler creates a ValuationHandler.
func NewValuationHandler(t *valuation.Table) *ValuationHandler {
	return &ValuationHandler{values: t}
}

type quote struct {
	Rarity            string          `json:"rarity"`
	Level             int             `json:"level"`
	RecycleValue      decimal.Decimal `json:"recycle_value"`
	MergeCost         decimal.Decimal `json:"merge_cost"`
	RequiredBaseCards int64           `json:"required_base_cards"`
}

// Quote handles GET /api/valuation?rarity=&level=. Without a rarity every
// known rarity is quoted at the level.
func (h *ValuationHandler) Quote(c *gin.Context) {
	level := 0
	if s := c.Query("level"); s != "" {
		lvl, err := strconv.Atoi(s)
		if err != nil || lvl < 0 {
			badRequest(c, "invalid level")
			return
		}
		level = lvl
	}

	rarities := h.values.Rarities()
	if r := c.Query("rarity"); r != "" {
		rarities = []string{r}
	}
	quotes := make([]quote, 0, len(rarities))
	for _, r := range rarities {
		rv, err := h.values.RecycleValue(r, level)
		if err != nil {
			abortWithError(c, err)
			return
		}
		mc, err := h.values.MergeCost(r, level)
		if err != nil {
			abortWithError(c, err)
			return
		}
		quotes = append(quotes, quote{
			Rarity:            r,
			Level:             level,
			RecycleValue:      rv,
			MergeCost:         mc,
			RequiredBaseCards: valuation.RequiredBaseCards(level),
		})
	}
	c.JSON(http.StatusOK, gin.H{"quotes": quotes})
}
