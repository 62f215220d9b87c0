// Package recycle converts owned cards back into credits.
package recycle

import (
	"context"
	"fmt"
	"time"

	"github.com/Excalium-OG/DeckForge/audit"
	"github.com/Excalium-OG/DeckForge/config"
	"github.com/Excalium-OG/DeckForge/game/catalog"
	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/game/ledger"
	"github.com/Excalium-OG/DeckForge/game/valuation"
	"github.com/Excalium-OG/DeckForge/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Result reports a completed recycle.
type Result struct {
	CardID    int64           `json:"card_id"`
	Level     int             `json:"merge_level"`
	Amount    int             `json:"amount"`
	UnitValue decimal.Decimal `json:"unit_value"`
	Credited  decimal.Decimal `json:"credited"`
	Balance   decimal.Decimal `json:"balance"`
	Retired   []string        `json:"retired"`
}

// Service retires instances for their recycle value.
type Service struct {
	ledger  *ledger.Ledger
	catalog catalog.Catalog
	values  *valuation.Table
	max     int
	audit   audit.Recorder
	logger  *zap.Logger
}

// NewService creates a recycle Service.
func NewService(l *ledger.Ledger, cat catalog.Catalog, values *valuation.Table, cfg config.EconomyConfig, rec audit.Recorder, logger *zap.Logger) *Service {
	if rec == nil {
		rec = audit.Nop{}
	}
	max := cfg.MaxRecycle
	if max <= 0 {
		max = 100
	}
	return &Service{ledger: l, catalog: cat, values: values, max: max, audit: rec, logger: logger}
}

// Recycle retires the player's amount oldest instances of (card, level) and
// credits RecycleValue × amount.
func (svc *Service) Recycle(ctx context.Context, playerID, cardID int64, level, amount int) (res *Result, err error) {
	start := time.Now()
	defer metrics.Observe("recycle", start, &err)
	if amount < 1 || amount > svc.max {
		return nil, fmt.Errorf("%w: amount must be between 1 and %d", gameerr.ErrInvalidQuantity, svc.max)
	}
	card, err := svc.catalog.Card(ctx, cardID)
	if err != nil {
		return nil, err
	}
	unit, err := svc.values.RecycleValue(card.Rarity, level)
	if err != nil {
		return nil, err
	}
	picked, err := svc.ledger.Pick(ctx, playerID, cardID, level, amount)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(picked))
	for i, uc := range picked {
		ids[i] = uc.InstanceID
	}
	total := unit.Mul(decimal.NewFromInt(int64(amount)))
	if err := svc.ledger.Retire(ctx, playerID, ids, total); err != nil {
		return nil, err
	}
	bal, err := svc.ledger.Balance(ctx, playerID)
	if err != nil {
		return nil, err
	}

	res = &Result{
		CardID:    cardID,
		Level:     level,
		Amount:    amount,
		UnitValue: unit,
		Credited:  total,
		Balance:   bal,
		Retired:   ids,
	}
	metrics.Recycled(card.Rarity, amount)
	svc.logger.Info("recycle: completed",
		zap.Int64("player_id", playerID),
		zap.Int64("card_id", cardID),
		zap.Int("level", level),
		zap.Int("amount", amount),
		zap.String("credited", total.StringFixed(2)))
	svc.audit.Log(audit.AuditEntry{
		TraceID:    audit.TraceIDFrom(ctx),
		PlayerID:   &playerID,
		Action:     audit.ActionRecycle,
		Subject:    fmt.Sprintf("card:%d", cardID),
		Response:   res,
		DurationMs: int(time.Since(start).Milliseconds()),
	})
	return res, nil
}
