package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Excalium-OG/DeckForge/audit"
	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/game/ledger"
	"github.com/Excalium-OG/DeckForge/metrics"
	"github.com/Excalium-OG/DeckForge/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FinalizeResult is returned by Finalize. Moves is set once the swap ran.
type FinalizeResult struct {
	*Snapshot
	Completed bool          `json:"completed"`
	Moves     []ledger.Move `json:"moves,omitempty"`
}

// Finalize records actor's final confirmation on an accepted session. When
// both sides have confirmed, each pool is resolved to the owner's oldest
// matching instances and everything moves in a single ledger transfer. If
// either side can no longer cover its pool the session falls back to active
// with all flags cleared and ErrInsufficientInventory is returned.
func (svc *Service) Finalize(ctx context.Context, actor int64, tradeID string) (res *FinalizeResult, err error) {
	start := time.Now()
	defer metrics.Observe("trade.finalize", start, &err)

	var moves []ledger.Move
	var reverted bool
	snap, err := svc.mutate(ctx, actor, tradeID, func(tx *gorm.DB, tr *model.Trade) error {
		if tr.Status != model.TradeStatusAccepted {
			return fmt.Errorf("%w: trade is %s, both sides must accept first", gameerr.ErrInvalidStateForOperation, tr.Status)
		}
		if actor == tr.InitiatorID {
			tr.InitiatorFinalized = true
		} else {
			tr.ResponderFinalized = true
		}
		if !tr.InitiatorFinalized || !tr.ResponderFinalized {
			return tx.Save(tr).Error
		}

		l := svc.ledger.WithTx(tx)
		var err error
		moves, err = svc.resolve(ctx, tx, l, tr)
		if errors.Is(err, gameerr.ErrInsufficientInventory) {
			reverted = true
			tr.Status = model.TradeStatusActive
			tr.ClearFlags()
			if err := tx.Save(tr).Error; err != nil {
				return err
			}
			return committed{err}
		}
		if err != nil {
			return err
		}
		if err := l.Transfer(ctx, moves); err != nil {
			return err
		}
		now := svc.now()
		tr.Status = model.TradeStatusCompleted
		tr.FinalizedAt = &now
		return tx.Save(tr).Error
	})
	if snap == nil {
		return nil, err
	}
	res = &FinalizeResult{Snapshot: snap}

	switch {
	case reverted:
		metrics.TradeTransition(model.TradeStatusActive)
		svc.logger.Info("trade finalize reverted",
			zap.String("trade_id", tradeID), zap.Int64("player_id", actor), zap.Error(err))
		svc.record(ctx, audit.ActionTradeReverted, actor, tradeID, nil, err.Error())
		svc.publish(ctx, EventReverted, actor, snap)
		return res, err
	case err != nil:
		return res, err
	case snap.Trade.Status == model.TradeStatusCompleted:
		res.Completed = true
		res.Moves = moves
		metrics.TradeTransition(model.TradeStatusCompleted)
		metrics.CardsMoved(len(moves))
		svc.logger.Info("trade completed",
			zap.String("trade_id", tradeID),
			zap.Int64("initiator_id", snap.Trade.InitiatorID),
			zap.Int64("responder_id", snap.Trade.ResponderID),
			zap.Int("moves", len(moves)))
		svc.audit.Log(audit.AuditEntry{
			TraceID:    audit.TraceIDFrom(ctx),
			PlayerID:   &actor,
			Action:     audit.ActionTradeCompleted,
			Subject:    tradeID,
			Request:    snap,
			Response:   moves,
			DurationMs: int(time.Since(start).Milliseconds()),
		})
		svc.publish(ctx, EventCompleted, actor, snap)
	default:
		svc.logger.Info("trade finalize recorded", zap.String("trade_id", tradeID), zap.Int64("player_id", actor))
		svc.publish(ctx, EventFinalized, actor, snap)
	}
	return res, nil
}

// resolve turns both pools into concrete moves, oldest acquired first.
func (svc *Service) resolve(ctx context.Context, tx *gorm.DB, l *ledger.Ledger, tr *model.Trade) ([]ledger.Move, error) {
	var items []model.TradeItem
	err := tx.Where("trade_id = ?", tr.TradeID).
		Order("user_id, card_id, merge_level").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	var moves []ledger.Move
	for _, it := range items {
		picked, err := l.Pick(ctx, it.UserID, it.CardID, it.MergeLevel, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("player %d: %w", it.UserID, err)
		}
		to := tr.Counterpart(it.UserID)
		for _, uc := range picked {
			moves = append(moves, ledger.Move{InstanceID: uc.InstanceID, From: it.UserID, To: to})
		}
	}
	return moves, nil
}
