package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/game/ledger"
	"github.com/Excalium-OG/DeckForge/metrics"
	"github.com/Excalium-OG/DeckForge/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AddToOffer commits qty more instances of (card, level) to actor's pool.
// The total is checked against what the actor holds now; nothing is
// reserved. Both acceptance flags are cleared.
func (svc *Service) AddToOffer(ctx context.Context, actor int64, tradeID string, cardID int64, level, qty int) (snap *Snapshot, err error) {
	defer metrics.Observe("trade.offer", time.Now(), &err)
	if qty < 1 {
		return nil, fmt.Errorf("%w: %d", gameerr.ErrInvalidQuantity, qty)
	}
	snap, err = svc.editOffer(ctx, actor, tradeID, func(tx *gorm.DB, item *model.TradeItem, exists bool) error {
		want := item.Quantity + qty
		have, err := svc.ledger.WithTx(tx).Count(ctx, actor, ledger.Filter{CardID: &cardID, Level: &level})
		if err != nil {
			return err
		}
		if have < int64(want) {
			return fmt.Errorf("%w: card %d level %d: have %d, offering %d",
				gameerr.ErrInsufficientInventory, cardID, level, have, want)
		}
		item.Quantity = want
		if exists {
			return poolLine(tx, item).Update("quantity", want).Error
		}
		return tx.Create(item).Error
	}, cardID, level)
	if err != nil {
		return snap, err
	}
	svc.logger.Info("trade offer added",
		zap.String("trade_id", tradeID), zap.Int64("player_id", actor),
		zap.Int64("card_id", cardID), zap.Int("level", level), zap.Int("qty", qty))
	svc.publish(ctx, EventOfferUpdated, actor, snap)
	return snap, nil
}

// RemoveFromOffer takes qty instances of (card, level) back out of actor's
// pool. Both acceptance flags are cleared.
func (svc *Service) RemoveFromOffer(ctx context.Context, actor int64, tradeID string, cardID int64, level, qty int) (snap *Snapshot, err error) {
	defer metrics.Observe("trade.offer", time.Now(), &err)
	if qty < 1 {
		return nil, fmt.Errorf("%w: %d", gameerr.ErrInvalidQuantity, qty)
	}
	snap, err = svc.editOffer(ctx, actor, tradeID, func(tx *gorm.DB, item *model.TradeItem, exists bool) error {
		if item.Quantity < qty {
			return fmt.Errorf("%w: offered %d, removing %d", gameerr.ErrInvalidQuantity, item.Quantity, qty)
		}
		left := item.Quantity - qty
		if left == 0 {
			return poolLine(tx, item).Delete(&model.TradeItem{}).Error
		}
		return poolLine(tx, item).Update("quantity", left).Error
	}, cardID, level)
	if err != nil {
		return snap, err
	}
	svc.logger.Info("trade offer removed",
		zap.String("trade_id", tradeID), zap.Int64("player_id", actor),
		zap.Int64("card_id", cardID), zap.Int("level", level), zap.Int("qty", qty))
	svc.publish(ctx, EventOfferUpdated, actor, snap)
	return snap, nil
}

// editOffer loads actor's pool line for (card, level), applies fn and resets
// the session to active with every flag cleared.
func (svc *Service) editOffer(ctx context.Context, actor int64, tradeID string, fn func(tx *gorm.DB, item *model.TradeItem, exists bool) error, cardID int64, level int) (*Snapshot, error) {
	return svc.mutate(ctx, actor, tradeID, func(tx *gorm.DB, tr *model.Trade) error {
		if tr.Status != model.TradeStatusActive && tr.Status != model.TradeStatusAccepted {
			return fmt.Errorf("%w: offers can't change while %s", gameerr.ErrInvalidStateForOperation, tr.Status)
		}
		item := model.TradeItem{TradeID: tr.TradeID, UserID: actor, CardID: cardID, MergeLevel: level}
		err := poolLine(tx, &item).First(&item).Error
		exists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := fn(tx, &item, exists); err != nil {
			return err
		}
		if tr.Status == model.TradeStatusAccepted {
			metrics.TradeTransition(model.TradeStatusActive)
		}
		tr.Status = model.TradeStatusActive
		tr.ClearFlags()
		return tx.Save(tr).Error
	})
}

// poolLine scopes a query to one pool row. Zero-valued key columns such as
// merge level 0 must be matched explicitly.
func poolLine(tx *gorm.DB, item *model.TradeItem) *gorm.DB {
	return tx.Model(&model.TradeItem{}).
		Where("trade_id = ? AND user_id = ? AND card_id = ? AND merge_level = ?",
			item.TradeID, item.UserID, item.CardID, item.MergeLevel)
}
