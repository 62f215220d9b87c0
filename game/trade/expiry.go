package trade

import (
	"context"

	"github.com/Excalium-OG/DeckForge/audit"
	"github.com/Excalium-OG/DeckForge/metrics"
	"github.com/Excalium-OG/DeckForge/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExpirySweepTask is the scheduler name of the periodic SweepExpired run.
const ExpirySweepTask = "trade_expiry_sweep"

// expireIfDue moves an overdue non-terminal session to expired.
func (svc *Service) expireIfDue(tx *gorm.DB, tr *model.Trade) (bool, error) {
	if tr.Terminal() || svc.now().Before(tr.ExpiresAt) {
		return false, nil
	}
	tr.Status = model.TradeStatusExpired
	return true, tx.Save(tr).Error
}

// expiredHook reports a session that was just expired.
func (svc *Service) expiredHook(ctx context.Context, snap *Snapshot) {
	metrics.TradeTransition(model.TradeStatusExpired)
	svc.logger.Info("trade expired",
		zap.String("trade_id", snap.Trade.TradeID),
		zap.Time("expires_at", snap.Trade.ExpiresAt))
	svc.record(ctx, audit.ActionTradeExpired, 0, snap.Trade.TradeID, nil, "")
	svc.publish(ctx, EventExpired, 0, snap)
}

// SweepExpired expires every overdue session. Correctness never depends on
// it since each access expires lazily; it keeps the table tidy.
func (svc *Service) SweepExpired(ctx context.Context) (int, error) {
	return svc.expireStale(ctx)
}

// expireStale expires overdue open sessions. With players given, only their
// sessions are considered.
func (svc *Service) expireStale(ctx context.Context, players ...int64) (int, error) {
	q := svc.db.WithContext(ctx).
		Where("status IN ? AND expires_at <= ?", model.OpenTradeStatuses, svc.now())
	if len(players) > 0 {
		q = q.Where("(initiator_id IN ? OR responder_id IN ?)", players, players)
	}
	var due []model.Trade
	if err := q.Find(&due).Error; err != nil {
		return 0, err
	}

	n := 0
	for i := range due {
		tr := due[i]
		res := svc.db.WithContext(ctx).Model(&model.Trade{}).
			Where("trade_id = ? AND status IN ?", tr.TradeID, model.OpenTradeStatuses).
			Update("status", model.TradeStatusExpired)
		if res.Error != nil {
			return n, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		tr.Status = model.TradeStatusExpired
		n++
		svc.expiredHook(ctx, &Snapshot{Trade: tr, InitiatorOffer: []OfferLine{}, ResponderOffer: []OfferLine{}})
	}
	if n > 0 {
		svc.logger.Info("trade sweep", zap.Int("expired", n), zap.Time("at", svc.now()))
	}
	return n, nil
}
