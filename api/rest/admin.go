package rest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Excalium-OG/DeckForge/audit"
	"github.com/Excalium-OG/DeckForge/game/catalog"
	"github.com/Excalium-OG/DeckForge/game/ledger"
	"github.com/Excalium-OG/DeckForge/game/trade"
	mw "github.com/Excalium-OG/DeckForge/middleware"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/Excalium-OG/DeckForge/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	catalog catalog.Catalog
	trades  *trade.Service
	audit   *audit.Service
	sched   *scheduler.Scheduler
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	l *ledger.Ledger,
	cat catalog.Catalog,
	trades *trade.Service,
	auditSvc *audit.Service,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{db: db, ledger: l, catalog: cat, trades: trades, audit: auditSvc, sched: sched, logger: logger}
}

type grantRequest struct {
	PlayerID int64 `json:"player_id" binding:"required"`
	CardID   int64 `json:"card_id" binding:"required"`
	Amount   int   `json:"amount" binding:"required,min=1,max=1000"`
}

// Grant mints fresh level-0 instances for a player.
// POST /api/admin/grant
func (h *AdminHandler) Grant(c *gin.Context) {
	start := time.Now()
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	if _, err := h.catalog.Card(ctx, req.CardID); err != nil {
		abortWithError(c, err)
		return
	}
	cards, err := h.ledger.Mint(ctx, req.PlayerID, req.CardID, req.Amount, ledger.SourceGrant)
	if err != nil {
		abortWithError(c, err)
		return
	}
	ids := make([]string, len(cards))
	for i := range cards {
		ids[i] = cards[i].InstanceID
	}
	playerID := req.PlayerID
	h.audit.Log(audit.AuditEntry{
		TraceID:    mw.GetTraceID(c),
		PlayerID:   &playerID,
		Action:     audit.ActionGrant,
		Subject:    fmt.Sprintf("card:%d", req.CardID),
		Request:    req,
		Response:   ids,
		DurationMs: int(time.Since(start).Milliseconds()),
	})
	c.JSON(http.StatusOK, gin.H{"instances": ids})
}

// SweepTrades expires every overdue trade session now.
// POST /api/admin/trades/sweep
func (h *AdminHandler) SweepTrades(c *gin.Context) {
	var n int
	err := h.sched.RunNow(trade.ExpirySweepTask, func(ctx context.Context) error {
		var err error
		n, err = h.trades.SweepExpired(ctx)
		return err
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.logger.Info("admin trade sweep", zap.Int("expired", n))
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

// BanPlayer bans or unbans a player according to the required "ban" field.
// Banned players cannot log in or open trades.
// POST /api/admin/players/:id/ban
func (h *AdminHandler) BanPlayer(c *gin.Context) {
	playerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	var req struct {
		Ban *bool `json:"ban" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body must set ban to true or false")
		return
	}

	status := model.PlayerStatusNormal
	if *req.Ban {
		status = model.PlayerStatusBanned
	}
	result := h.db.Model(&model.Player{}).Where("id = ?", playerID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
		return
	}
	h.logger.Info("admin ban", zap.Int64("player_id", playerID), zap.Bool("ban", *req.Ban))
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// AuditTrail returns recent audit entries for a trade or card subject.
// GET /api/admin/audit?subject=&limit=
func (h *AdminHandler) AuditTrail(c *gin.Context) {
	subject := c.Query("subject")
	if subject == "" {
		badRequest(c, "subject is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := h.audit.BySubject(c.Request.Context(), subject, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}

// ListSchedulerTasks reports every registered ticker task with its run
// history.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints answer 503; set server.admin_key
// to enable them.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
