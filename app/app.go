// Package app wires storage, services and HTTP routes into one server.
package app

import (
	"context"
	"net/http"

	apirest "github.com/Excalium-OG/DeckForge/api/rest"
	"github.com/Excalium-OG/DeckForge/api/sse"
	"github.com/Excalium-OG/DeckForge/audit"
	"github.com/Excalium-OG/DeckForge/cache"
	"github.com/Excalium-OG/DeckForge/config"
	"github.com/Excalium-OG/DeckForge/game/catalog"
	"github.com/Excalium-OG/DeckForge/game/drop"
	"github.com/Excalium-OG/DeckForge/game/ledger"
	"github.com/Excalium-OG/DeckForge/game/merge"
	"github.com/Excalium-OG/DeckForge/game/recycle"
	"github.com/Excalium-OG/DeckForge/game/trade"
	"github.com/Excalium-OG/DeckForge/game/valuation"
	"github.com/Excalium-OG/DeckForge/metrics"
	mw "github.com/Excalium-OG/DeckForge/middleware"
	"github.com/Excalium-OG/DeckForge/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// App holds every long-lived component of a running server.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Cache     cache.Cache
	PubSub    cache.PubSub
	Audit     *audit.Service
	Ledger    *ledger.Ledger
	Catalog   *catalog.Store
	Values    *valuation.Table
	Trades    *trade.Service
	Merges    *merge.Engine
	Recycler  *recycle.Service
	Drops     *drop.Service
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
}

// New builds the services on top of an opened database and cache. The
// schema must already be migrated.
func New(cfg *config.Config, db *gorm.DB, c cache.Cache, ps cache.PubSub, logger *zap.Logger) *App {
	auditSvc := audit.New(db, logger)
	l := ledger.New(db, logger)
	cat := catalog.NewStore(db, logger)
	values := valuation.New(cfg.Economy)
	return &App{
		Config:    cfg,
		DB:        db,
		Cache:     c,
		PubSub:    ps,
		Audit:     auditSvc,
		Ledger:    l,
		Catalog:   cat,
		Values:    values,
		Trades:    trade.NewService(db, c, ps, l, auditSvc, cfg.Trade, logger),
		Merges:    merge.NewEngine(l, cat, values, cfg.Economy, auditSvc, logger),
		Recycler:  recycle.NewService(l, cat, values, cfg.Economy, auditSvc, logger),
		Drops:     drop.NewService(db, l, cfg.Drops, auditSvc, logger),
		Scheduler: scheduler.New(logger),
		Logger:    logger,
	}
}

// Start registers the periodic tasks.
func (a *App) Start() {
	interval := a.Config.Trade.SweepInterval
	if interval <= 0 {
		interval = a.Config.Trade.Timeout
	}
	a.Scheduler.AddTicker(trade.ExpirySweepTask, interval, func(ctx context.Context) error {
		n, err := a.Trades.SweepExpired(ctx)
		if n > 0 {
			a.Logger.Info("trade sweep", zap.Int("expired", n))
		}
		return err
	})
}

// Close stops background work and flushes the audit log.
func (a *App) Close() {
	a.Scheduler.Stop()
	a.Audit.Stop(context.Background())
}

// Router builds the HTTP handler with every route mounted.
func (a *App) Router() *gin.Engine {
	cfg := a.Config
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(a.Logger), mw.Recovery(a.Logger))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	authH := apirest.NewAuthHandler(a.DB, a.Cache, cfg.Security)
	invH := apirest.NewInventoryHandler(a.Ledger)
	tradeH := apirest.NewTradeHandler(a.Trades)
	mergeH := apirest.NewMergeHandler(a.Merges)
	recycleH := apirest.NewRecycleHandler(a.Recycler)
	valH := apirest.NewValuationHandler(a.Values)
	packH := apirest.NewPackHandler(a.Drops)
	adminH := apirest.NewAdminHandler(a.DB, a.Ledger, a.Catalog, a.Trades, a.Audit, a.Scheduler, a.Logger)

	auth := mw.Auth(cfg.Security, a.Cache)
	limit := mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)

	api := r.Group("/api")
	{
		public := api.Group("", limit)
		public.POST("/auth/login", authH.Login)
		public.GET("/valuation", valH.Quote)
		public.GET("/decks/:id/drop-rates", packH.DropRates)

		// Authenticated routes are rate limited per player.
		private := api.Group("", auth, limit)
		private.POST("/auth/logout", authH.Logout)
		private.POST("/auth/refresh", authH.Refresh)

		private.GET("/players/me/cards", invH.List)
		private.GET("/players/me/cards/:instance", invH.Get)
		private.GET("/players/me/balance", invH.Balance)

		private.POST("/trades", tradeH.Request)
		private.GET("/trades/active", tradeH.Active)
		private.GET("/trades/:id", tradeH.Get)
		private.POST("/trades/:id/accept", tradeH.Accept)
		private.POST("/trades/:id/offer", tradeH.AddOffer)
		private.DELETE("/trades/:id/offer", tradeH.RemoveOffer)
		private.POST("/trades/:id/finalize", tradeH.Finalize)
		private.POST("/trades/:id/cancel", tradeH.Cancel)

		private.POST("/merge", mergeH.Merge)
		private.POST("/recycle", recycleH.Recycle)

		private.GET("/packs", packH.List)
		private.POST("/packs/claim", packH.Claim)
		private.POST("/drop", packH.Drop)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminIPs), apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.POST("/grant", adminH.Grant)
		adminG.POST("/packs", packH.Grant)
		adminG.POST("/trades/sweep", adminH.SweepTrades)
		adminG.POST("/players/:id/ban", adminH.BanPlayer)
		adminG.GET("/audit", adminH.AuditTrail)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	sseH := sse.NewHandler(a.PubSub, a.Cache, cfg.Security, a.Trades, a.Logger)
	r.GET("/sse/trades/:id", sseH.ServeTrade)
	return r
}
