package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Excalium-OG/DeckForge/cache"
	"github.com/Excalium-OG/DeckForge/config"
	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/game/trade"
	mw "github.com/Excalium-OG/DeckForge/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler streams trade session events.
type Handler struct {
	pubsub    cache.PubSub
	c         cache.Cache
	sec       config.SecurityConfig
	trades    *trade.Service
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, sec config.SecurityConfig, trades *trade.Service, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, c: c, sec: sec, trades: trades, keepalive: 30 * time.Second, logger: logger}
}

// SetKeepalive changes the interval of keepalive comments.
func (h *Handler) SetKeepalive(d time.Duration) { h.keepalive = d }

// ServeTrade handles GET /sse/trades/:id?token=<jwt>.
// The stream opens with a snapshot event and then relays every session
// event. It closes after the session reaches a terminal state.
func (h *Handler) ServeTrade(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := mw.Authenticate(c.Request.Context(), h.sec, h.c, tokenStr)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	tradeID := c.Param("id")
	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	// Subscribe before reading the snapshot so no event falls in between.
	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, trade.Channel(tradeID))
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	snap, err := h.trades.Get(c.Request.Context(), claims.PlayerID, tradeID)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": gameerr.Kind(err), "message": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	initial, _ := json.Marshal(snap)
	fmt.Fprintf(c.Writer, "event: snapshot\ndata: %s\n\n", initial)
	c.Writer.Flush()
	if snap.Trade.Terminal() {
		return
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			ev, err := trade.ParseEvent(msg.Payload)
			if err != nil {
				h.logger.Warn("sse dropped malformed trade event", zap.String("trade_id", tradeID), zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, msg.Payload)
			c.Writer.Flush()
			if ev.Final() {
				return
			}

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

func statusOf(err error) int {
	switch gameerr.Kind(err) {
	case "TradeNotFound":
		return http.StatusNotFound
	case "NotParticipant":
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
