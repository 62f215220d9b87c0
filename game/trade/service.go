// Package trade runs two-party card trade sessions: request, negotiate offer
// pools, accept, finalize with an atomic swap, cancel or expire.
package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Excalium-OG/DeckForge/audit"
	"github.com/Excalium-OG/DeckForge/cache"
	"github.com/Excalium-OG/DeckForge/config"
	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/game/ledger"
	"github.com/Excalium-OG/DeckForge/metrics"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OfferLine is one (card, level) commitment of an offer pool.
type OfferLine struct {
	CardID     int64 `json:"card_id"`
	MergeLevel int   `json:"merge_level"`
	Quantity   int   `json:"quantity"`
}

// Snapshot is a trade session with both offer pools.
type Snapshot struct {
	Trade          model.Trade `json:"trade"`
	InitiatorOffer []OfferLine `json:"initiator_offer"`
	ResponderOffer []OfferLine `json:"responder_offer"`
}

// Service manages trade sessions. All session state lives in the database;
// the service itself holds none.
type Service struct {
	db      *gorm.DB
	cache   cache.Cache
	pubsub  cache.PubSub
	ledger  *ledger.Ledger
	audit   audit.Recorder
	timeout time.Duration
	lockTTL time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewService creates a trade Service. pubsub and rec may be nil.
func NewService(db *gorm.DB, c cache.Cache, ps cache.PubSub, l *ledger.Ledger, rec audit.Recorder, cfg config.TradeConfig, logger *zap.Logger) *Service {
	if rec == nil {
		rec = audit.Nop{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Service{
		db:      db,
		cache:   c,
		pubsub:  ps,
		ledger:  l,
		audit:   rec,
		timeout: timeout,
		lockTTL: lockTTL,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// SetClock overrides the time source used for creation and expiry.
func (svc *Service) SetClock(now func() time.Time) { svc.now = now }

// committed carries an error out of a transaction that must still commit.
type committed struct{ err error }

func (c committed) Error() string { return c.err.Error() }
func (c committed) Unwrap() error { return c.err }

// RequestTrade opens a pending session from initiator to responder.
func (svc *Service) RequestTrade(ctx context.Context, initiator, responder int64) (snap *Snapshot, err error) {
	defer metrics.Observe("trade.request", time.Now(), &err)
	if initiator == responder {
		return nil, gameerr.ErrSelfTradeNotAllowed
	}

	lock, ok, err := cache.TryLock(ctx, svc.cache, svc.lockTTL, lockKey(initiator), lockKey(responder))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, gameerr.ErrTradeBusy
	}
	defer lock.Release(ctx)

	if _, err := svc.expireStale(ctx, initiator, responder); err != nil {
		return nil, err
	}

	now := svc.now()
	tr := model.Trade{
		TradeID:     uuid.NewString(),
		InitiatorID: initiator,
		ResponderID: responder,
		Status:      model.TradeStatusPending,
		StartedAt:   now,
		ExpiresAt:   now.Add(svc.timeout),
	}
	err = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var players []model.Player
		if err := tx.Where("id IN ?", []int64{initiator, responder}).Find(&players).Error; err != nil {
			return err
		}
		var from, to *model.Player
		for i := range players {
			switch players[i].ID {
			case initiator:
				from = &players[i]
			case responder:
				to = &players[i]
			}
		}
		if from == nil {
			return fmt.Errorf("%w: %d", gameerr.ErrUnknownPlayer, initiator)
		}
		if to == nil {
			return fmt.Errorf("%w: %d", gameerr.ErrUnknownPlayer, responder)
		}
		if from.Status == model.PlayerStatusBanned {
			return fmt.Errorf("%w: %s", gameerr.ErrTradingDisabled, from.Username)
		}
		if !to.CanTrade() {
			return fmt.Errorf("%w: %s", gameerr.ErrTradingDisabled, to.Username)
		}

		var open int64
		err := tx.Model(&model.Trade{}).
			Where("status IN ?", model.OpenTradeStatuses).
			Where("(initiator_id IN ? OR responder_id IN ?)", []int64{initiator, responder}, []int64{initiator, responder}).
			Count(&open).Error
		if err != nil {
			return err
		}
		if open > 0 {
			return gameerr.ErrAlreadyInActiveTrade
		}
		return tx.Create(&tr).Error
	})
	if err != nil {
		return nil, err
	}

	snap = &Snapshot{Trade: tr, InitiatorOffer: []OfferLine{}, ResponderOffer: []OfferLine{}}
	metrics.TradeTransition(tr.Status)
	svc.logger.Info("trade requested",
		zap.String("trade_id", tr.TradeID),
		zap.Int64("initiator_id", initiator),
		zap.Int64("responder_id", responder),
		zap.Time("expires_at", tr.ExpiresAt))
	svc.record(ctx, audit.ActionTradeRequested, initiator, tr.TradeID, nil, "")
	svc.publish(ctx, EventRequested, initiator, snap)
	return snap, nil
}

// AcceptTrade records actor's agreement. The responder accepting a pending
// request opens negotiation; in active state each side sets its flag and the
// second flag moves the session to accepted. Accepting an accepted session
// is a no-op.
func (svc *Service) AcceptTrade(ctx context.Context, actor int64, tradeID string) (snap *Snapshot, err error) {
	defer metrics.Observe("trade.accept", time.Now(), &err)
	changed := false
	snap, err = svc.mutate(ctx, actor, tradeID, func(tx *gorm.DB, tr *model.Trade) error {
		switch tr.Status {
		case model.TradeStatusPending:
			if actor != tr.ResponderID {
				return fmt.Errorf("%w: waiting for the responder", gameerr.ErrInvalidStateForOperation)
			}
			tr.Status = model.TradeStatusActive
		case model.TradeStatusActive:
			if actor == tr.InitiatorID {
				tr.InitiatorAccepted = true
			} else {
				tr.ResponderAccepted = true
			}
			if tr.InitiatorAccepted && tr.ResponderAccepted {
				tr.Status = model.TradeStatusAccepted
			}
		case model.TradeStatusAccepted:
			return nil
		}
		changed = true
		return tx.Save(tr).Error
	})
	if err != nil {
		return snap, err
	}
	if changed {
		metrics.TradeTransition(snap.Trade.Status)
		svc.logger.Info("trade accepted",
			zap.String("trade_id", tradeID), zap.Int64("player_id", actor), zap.String("status", snap.Trade.Status))
		svc.publish(ctx, EventAccepted, actor, snap)
	}
	return snap, nil
}

// CancelTrade ends a non-terminal session immediately. No cards move.
func (svc *Service) CancelTrade(ctx context.Context, actor int64, tradeID string) (snap *Snapshot, err error) {
	defer metrics.Observe("trade.cancel", time.Now(), &err)
	snap, err = svc.mutate(ctx, actor, tradeID, func(tx *gorm.DB, tr *model.Trade) error {
		tr.Status = model.TradeStatusCancelled
		return tx.Save(tr).Error
	})
	if err != nil {
		return snap, err
	}
	metrics.TradeTransition(model.TradeStatusCancelled)
	svc.logger.Info("trade cancelled", zap.String("trade_id", tradeID), zap.Int64("player_id", actor))
	svc.record(ctx, audit.ActionTradeCancelled, actor, tradeID, nil, "")
	svc.publish(ctx, EventCancelled, actor, snap)
	return snap, nil
}

// Get returns a participant's view of a session, terminal ones included.
// An overdue session is expired first.
func (svc *Service) Get(ctx context.Context, actor int64, tradeID string) (*Snapshot, error) {
	var snap *Snapshot
	var expired bool
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tr, err := svc.load(tx, actor, tradeID)
		if err != nil {
			return err
		}
		if expired, err = svc.expireIfDue(tx, tr); err != nil {
			return err
		}
		snap, err = snapshot(tx, tr)
		return err
	})
	if err != nil {
		return nil, err
	}
	if expired {
		svc.expiredHook(ctx, snap)
	}
	return snap, nil
}

// ActiveFor returns the actor's non-terminal session or ErrTradeNotFound.
func (svc *Service) ActiveFor(ctx context.Context, actor int64) (*Snapshot, error) {
	if _, err := svc.expireStale(ctx, actor); err != nil {
		return nil, err
	}
	var tr model.Trade
	err := svc.db.WithContext(ctx).
		Where("status IN ?", model.OpenTradeStatuses).
		Where("(initiator_id = ? OR responder_id = ?)", actor, actor).
		Order("started_at DESC").
		First(&tr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no active trade", gameerr.ErrTradeNotFound)
	}
	if err != nil {
		return nil, err
	}
	return svc.Get(ctx, actor, tr.TradeID)
}

// mutate runs fn on a locked, live session the actor takes part in. An
// overdue or already expired session yields ErrSessionExpired instead.
func (svc *Service) mutate(ctx context.Context, actor int64, tradeID string, fn func(tx *gorm.DB, tr *model.Trade) error) (*Snapshot, error) {
	var snap *Snapshot
	var opErr error
	var expired bool
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tr, err := svc.load(tx, actor, tradeID)
		if err != nil {
			return err
		}
		if expired, err = svc.expireIfDue(tx, tr); err != nil {
			return err
		}
		if expired {
			opErr = gameerr.ErrSessionExpired
		} else if tr.Status == model.TradeStatusExpired {
			return fmt.Errorf("%w: trade %s", gameerr.ErrSessionExpired, tr.TradeID)
		} else if tr.Terminal() {
			return fmt.Errorf("%w: trade is %s", gameerr.ErrInvalidStateForOperation, tr.Status)
		} else if err := fn(tx, tr); err != nil {
			var c committed
			if !errors.As(err, &c) {
				return err
			}
			opErr = c.err
		}
		snap, err = snapshot(tx, tr)
		return err
	})
	if err != nil {
		return nil, err
	}
	if expired {
		svc.expiredHook(ctx, snap)
	}
	return snap, opErr
}

// load reads the session row for update and checks participation.
func (svc *Service) load(tx *gorm.DB, actor int64, tradeID string) (*model.Trade, error) {
	var tr model.Trade
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&tr, "trade_id = ?", tradeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", gameerr.ErrTradeNotFound, tradeID)
	}
	if err != nil {
		return nil, err
	}
	if !tr.IsParticipant(actor) {
		return nil, gameerr.ErrNotParticipant
	}
	return &tr, nil
}

func snapshot(tx *gorm.DB, tr *model.Trade) (*Snapshot, error) {
	var items []model.TradeItem
	err := tx.Where("trade_id = ?", tr.TradeID).
		Order("card_id, merge_level").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Trade: *tr, InitiatorOffer: []OfferLine{}, ResponderOffer: []OfferLine{}}
	for _, it := range items {
		line := OfferLine{CardID: it.CardID, MergeLevel: it.MergeLevel, Quantity: it.Quantity}
		if it.UserID == tr.InitiatorID {
			snap.InitiatorOffer = append(snap.InitiatorOffer, line)
		} else {
			snap.ResponderOffer = append(snap.ResponderOffer, line)
		}
	}
	return snap, nil
}

func (svc *Service) record(ctx context.Context, action string, actor int64, tradeID string, resp interface{}, errMsg string) {
	var pid *int64
	if actor != 0 {
		pid = &actor
	}
	svc.audit.Log(audit.AuditEntry{
		TraceID:  audit.TraceIDFrom(ctx),
		PlayerID: pid,
		Action:   action,
		Subject:  tradeID,
		Response: resp,
		Error:    errMsg,
	})
}

func lockKey(playerID int64) string {
	return fmt.Sprintf("lock:trade:player:%d", playerID)
}
