// Package merge levels up a card by consuming two identical instances.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Excalium-OG/DeckForge/audit"
	"github.com/Excalium-OG/DeckForge/config"
	"github.com/Excalium-OG/DeckForge/game/catalog"
	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/game/ledger"
	"github.com/Excalium-OG/DeckForge/game/valuation"
	"github.com/Excalium-OG/DeckForge/metrics"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Request asks to merge two instances. Perk is required on a first merge
// when the card's deck defines perks and is otherwise optional.
type Request struct {
	PlayerID  int64  `json:"-"`
	InstanceA string `json:"instance_a" binding:"required"`
	InstanceB string `json:"instance_b" binding:"required"`
	Perk      string `json:"perk"`
	TraceID   string `json:"-"`
}

// Result describes a completed merge.
type Result struct {
	Instance        *model.UserCard   `json:"instance"`
	CardName        string            `json:"card_name"`
	Rarity          string            `json:"rarity"`
	Level           int               `json:"level"`
	Consumed        []string          `json:"consumed"`
	Cost            decimal.Decimal   `json:"cost"`
	PerkBoost       decimal.Decimal   `json:"perk_boost"`
	CumulativeBoost decimal.Decimal   `json:"cumulative_boost"`
	Boosts          []model.CardBoost `json:"boosts"`
	NextCost        *decimal.Decimal  `json:"next_cost,omitempty"`
	MaxLevel        bool              `json:"max_level"`
}

// Engine validates and executes merges.
type Engine struct {
	ledger     *ledger.Ledger
	catalog    catalog.Catalog
	values     *valuation.Table
	chargeCost bool
	audit      audit.Recorder
	logger     *zap.Logger
}

// NewEngine creates a merge Engine. A nil recorder disables auditing.
func NewEngine(l *ledger.Ledger, cat catalog.Catalog, values *valuation.Table, cfg config.EconomyConfig, rec audit.Recorder, logger *zap.Logger) *Engine {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Engine{
		ledger:     l,
		catalog:    cat,
		values:     values,
		chargeCost: cfg.ChargeMergeCost,
		audit:      rec,
		logger:     logger,
	}
}

// plan is everything validation resolves before the ledger is touched.
type plan struct {
	card  *model.Card
	level int
	perk  *model.DeckMergePerk
	cost  decimal.Decimal
}

// Merge consumes req's two instances and creates one at the next level.
// All validation happens before any mutation.
func (e *Engine) Merge(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	defer metrics.Observe("merge", start, &err)

	p, err := e.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	spec := ledger.NewInstance{
		CardID:     p.card.ID,
		MergeLevel: p.level + 1,
		Source:     ledger.SourceMerge,
		Cost:       p.cost,
	}
	res = &Result{
		CardName:        p.card.Name,
		Rarity:          p.card.Rarity,
		Level:           p.level + 1,
		Consumed:        []string{req.InstanceA, req.InstanceB},
		Cost:            p.cost,
		PerkBoost:       decimal.Zero,
		CumulativeBoost: decimal.Zero,
	}
	if p.perk != nil {
		name := p.perk.PerkName
		spec.LockedPerk = &name
		res.PerkBoost = valuation.PerkBoost(p.perk.BaseBoost, p.perk.DiminishingFactor, spec.MergeLevel)
		res.CumulativeBoost = valuation.CumulativePerkBoost(p.perk.BaseBoost, p.perk.DiminishingFactor, spec.MergeLevel)
		spec.Boosts, err = e.boosts(ctx, p.card.ID, name, res.CumulativeBoost)
		if err != nil {
			return nil, err
		}
	}

	created, err := e.ledger.ConsumeAndCreate(ctx, req.PlayerID, res.Consumed, spec)
	if err != nil {
		return nil, err
	}
	res.Instance = created
	res.Boosts = spec.Boosts
	if res.Boosts == nil {
		res.Boosts = []model.CardBoost{}
	}
	if res.Level >= p.card.MaxMergeLevel {
		res.MaxLevel = true
	} else if next, err := e.values.MergeCost(p.card.Rarity, res.Level); err == nil {
		res.NextCost = &next
	}

	metrics.MergeCompleted(p.card.Rarity, res.Level)
	e.logger.Info("merge: completed",
		zap.Int64("player_id", req.PlayerID),
		zap.String("instance_id", created.InstanceID),
		zap.Int64("card_id", p.card.ID),
		zap.Int("level", res.Level),
		zap.String("perk", created.Perk()),
		zap.String("cost", p.cost.StringFixed(2)))
	playerID := req.PlayerID
	e.audit.Log(audit.AuditEntry{
		TraceID:    req.TraceID,
		PlayerID:   &playerID,
		Action:     audit.ActionMerge,
		Subject:    created.InstanceID,
		Request:    req,
		Response:   res,
		DurationMs: int(time.Since(start).Milliseconds()),
	})
	return res, nil
}

func (e *Engine) validate(ctx context.Context, req Request) (*plan, error) {
	if req.InstanceA == req.InstanceB {
		return nil, fmt.Errorf("%w: an instance cannot be merged with itself", gameerr.ErrInvalidQuantity)
	}
	a, err := e.ledger.Get(ctx, req.InstanceA)
	if err != nil {
		return nil, err
	}
	b, err := e.ledger.Get(ctx, req.InstanceB)
	if err != nil {
		return nil, err
	}
	for _, uc := range []*model.UserCard{a, b} {
		if uc.Retired() {
			return nil, fmt.Errorf("%w: %s", gameerr.ErrInstanceRetired, uc.InstanceID)
		}
	}
	for _, uc := range []*model.UserCard{a, b} {
		if uc.UserID != req.PlayerID {
			return nil, fmt.Errorf("%w: %s", gameerr.ErrNotOwner, uc.InstanceID)
		}
	}
	if a.CardID != b.CardID {
		return nil, gameerr.ErrCardMismatch
	}
	card, err := e.catalog.Card(ctx, a.CardID)
	if err != nil {
		return nil, err
	}
	if !card.Mergeable {
		return nil, fmt.Errorf("%w: %s", gameerr.ErrNotMergeable, card.Name)
	}
	if a.MergeLevel != b.MergeLevel {
		return nil, fmt.Errorf("%w: %d vs %d", gameerr.ErrMergeLevelMismatch, a.MergeLevel, b.MergeLevel)
	}
	if a.MergeLevel >= card.MaxMergeLevel {
		return nil, fmt.Errorf("%w: %s is level %d", gameerr.ErrMaxLevelReached, card.Name, a.MergeLevel)
	}
	if a.Perk() != b.Perk() {
		return nil, fmt.Errorf("%w: %q vs %q", gameerr.ErrPerkMismatch, a.Perk(), b.Perk())
	}

	p := &plan{card: card, level: a.MergeLevel, cost: decimal.Zero}
	if p.perk, err = e.resolvePerk(ctx, card, a, req.Perk); err != nil {
		return nil, err
	}

	if e.chargeCost {
		if p.cost, err = e.values.MergeCost(card.Rarity, p.level); err != nil {
			return nil, err
		}
		bal, err := e.ledger.Balance(ctx, req.PlayerID)
		if err != nil {
			return nil, err
		}
		if bal.LessThan(p.cost) {
			return nil, fmt.Errorf("%w: cost %s, balance %s",
				gameerr.ErrInsufficientCredits, p.cost.StringFixed(2), bal.StringFixed(2))
		}
	}
	return p, nil
}

// resolvePerk picks the perk the new instance carries: the chosen one on a
// first merge, otherwise the one already locked on the source.
func (e *Engine) resolvePerk(ctx context.Context, card *model.Card, src *model.UserCard, chosen string) (*model.DeckMergePerk, error) {
	chosen = strings.TrimSpace(chosen)
	perks, err := e.catalog.Perks(ctx, card.DeckID)
	if err != nil {
		return nil, err
	}

	if src.MergeLevel == 0 {
		if len(perks) == 0 {
			if chosen != "" {
				return nil, fmt.Errorf("%w: deck defines no perks", gameerr.ErrUnknownPerk)
			}
			return nil, nil
		}
		if chosen == "" {
			return nil, gameerr.ErrPerkRequired
		}
		return e.catalog.Perk(ctx, card.DeckID, chosen)
	}

	if src.LockedPerk == nil {
		if len(perks) > 0 {
			e.logger.Error("merge: merged instance has no locked perk",
				zap.String("instance_id", src.InstanceID), zap.Int("level", src.MergeLevel))
			return nil, fmt.Errorf("%w: instance %s", gameerr.ErrInvariantViolation, src.InstanceID)
		}
		if chosen != "" {
			return nil, fmt.Errorf("%w: deck defines no perks", gameerr.ErrUnknownPerk)
		}
		return nil, nil
	}
	if chosen != "" && !strings.EqualFold(chosen, *src.LockedPerk) {
		return nil, fmt.Errorf("%w: locked %q, requested %q", gameerr.ErrPerkMismatch, *src.LockedPerk, chosen)
	}
	return e.catalog.Perk(ctx, card.DeckID, *src.LockedPerk)
}

// boosts builds a record for every numeric field whose name matches perk.
func (e *Engine) boosts(ctx context.Context, cardID int64, perk string, cumulative decimal.Decimal) ([]model.CardBoost, error) {
	fields, err := e.catalog.NumericFields(ctx, cardID)
	if err != nil {
		return nil, err
	}
	var out []model.CardBoost
	for _, f := range fields {
		if !strings.EqualFold(f.Name, perk) {
			continue
		}
		out = append(out, model.CardBoost{
			FieldName:      f.Name,
			BaseValue:      f.Value,
			BoostPercent:   cumulative,
			EffectiveValue: valuation.EffectiveValue(f.Value, cumulative),
		})
	}
	return out, nil
}

// IsUserError reports whether err is a recoverable merge rejection.
func IsUserError(err error) bool {
	return gameerr.Kind(err) != "" && !errors.Is(err, gameerr.ErrInvariantViolation)
}
