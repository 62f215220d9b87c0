package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Excalium-OG/DeckForge/api/rest"
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
	mw "github.com/Excalium-OG/DeckForge/middleware"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/Excalium-OG/DeckForge/scheduler"
	"github.com/Excalium-OG/DeckForge/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testAdminKey = "admin-secret"

func nopLogger() *zap.Logger { return zap.NewNop() }

// testEnv wires every handler against one in-memory database.
type testEnv struct {
	db     *gorm.DB
	cache  cache.Cache
	sec    config.SecurityConfig
	ledger *ledger.Ledger
	trades *trade.Service
	audit  *audit.Service
	drops  *drop.Service
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}
	cfg := config.Default()
	log := nopLogger()

	auditSvc := audit.New(db, log)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	sched := scheduler.New(log)
	t.Cleanup(sched.Stop)

	l := ledger.New(db, log)
	cat := catalog.NewStore(db, log)
	values := valuation.New(cfg.Economy)
	trades := trade.NewService(db, c, ps, l, auditSvc, cfg.Trade, log)
	engine := merge.NewEngine(l, cat, values, cfg.Economy, auditSvc, log)
	recycler := recycle.NewService(l, cat, values, cfg.Economy, auditSvc, log)
	drops := drop.NewService(db, l, cfg.Drops, auditSvc, log)

	authH := rest.NewAuthHandler(db, c, sec)
	invH := rest.NewInventoryHandler(l)
	tradeH := rest.NewTradeHandler(trades)
	mergeH := rest.NewMergeHandler(engine)
	recycleH := rest.NewRecycleHandler(recycler)
	valH := rest.NewValuationHandler(values)
	packH := rest.NewPackHandler(drops)
	adminH := rest.NewAdminHandler(db, l, cat, trades, auditSvc, sched, log)

	r := gin.New()
	r.Use(mw.TraceID())
	api := r.Group("/api")
	api.POST("/auth/login", authH.Login)
	api.GET("/valuation", valH.Quote)
	api.GET("/decks/:id/drop-rates", packH.DropRates)

	authed := api.Group("", mw.Auth(sec, c))
	authed.GET("/players/me/cards", invH.List)
	authed.GET("/players/me/cards/:instance", invH.Get)
	authed.GET("/players/me/balance", invH.Balance)
	authed.POST("/trades", tradeH.Request)
	authed.GET("/trades/active", tradeH.Active)
	authed.GET("/trades/:id", tradeH.Get)
	authed.POST("/trades/:id/accept", tradeH.Accept)
	authed.POST("/trades/:id/offer", tradeH.AddOffer)
	authed.DELETE("/trades/:id/offer", tradeH.RemoveOffer)
	authed.POST("/trades/:id/finalize", tradeH.Finalize)
	authed.POST("/trades/:id/cancel", tradeH.Cancel)
	authed.POST("/merge", mergeH.Merge)
	authed.POST("/recycle", recycleH.Recycle)
	authed.GET("/packs", packH.List)
	authed.POST("/packs/claim", packH.Claim)
	authed.POST("/drop", packH.Drop)

	admin := api.Group("/admin", rest.AdminAuth(testAdminKey))
	admin.POST("/grant", adminH.Grant)
	admin.POST("/packs", packH.Grant)
	admin.POST("/trades/sweep", adminH.SweepTrades)
	admin.POST("/players/:id/ban", adminH.BanPlayer)
	admin.GET("/audit", adminH.AuditTrail)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)

	return &testEnv{db: db, cache: c, sec: sec, ledger: l, trades: trades, audit: auditSvc, drops: drops, router: r}
}

// token issues a live session for an existing player.
func (e *testEnv) token(t *testing.T, p *model.Player) string {
	t.Helper()
	tok, err := mw.GenerateToken(p.ID, e.sec.JWTSecret, e.sec.JWTTTLH)
	require.NoError(t, err)
	require.NoError(t, e.cache.Set(context.Background(), mw.SessionKey(tok), strconv.FormatInt(p.ID, 10), time.Hour))
	return tok
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) admin(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", testAdminKey)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	decode(t, w, &body)
	return body
}
