package drop

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Excalium-OG/DeckForge/audit"
	"github.com/Excalium-OG/DeckForge/config"
	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/game/ledger"
	"github.com/Excalium-OG/DeckForge/metrics"
	"github.com/Excalium-OG/DeckForge/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Inventory is a player's unopened packs.
type Inventory struct {
	Packs       map[PackType]int `json:"packs"`
	Total       int              `json:"total"`
	Max         int              `json:"max"`
	NextClaimAt *time.Time       `json:"next_claim_at,omitempty"`
}

// Drawn is one card produced by opening packs.
type Drawn struct {
	InstanceID string `json:"instance_id"`
	CardID     int64  `json:"card_id"`
	Name       string `json:"name"`
	Rarity     string `json:"rarity"`
}

// OpenResult reports opened packs and the cards they produced, in draw
// order.
type OpenResult struct {
	DeckID    int64    `json:"deck_id"`
	PackType  PackType `json:"pack_type"`
	Opened    int      `json:"opened"`
	Cards     []Drawn  `json:"cards"`
	PacksLeft int      `json:"packs_left"`
}

// Service hands out free packs and opens packs into card instances.
type Service struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	defaults Rates
	boosted  []string
	cooldown time.Duration
	maxPacks int
	maxOpen  int
	perPack  int
	audit    audit.Recorder
	logger   *zap.Logger
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewService creates a drop Service. Decks without drop rates of their own
// draw with cfg.Rates.
func NewService(db *gorm.DB, l *ledger.Ledger, cfg config.DropConfig, rec audit.Recorder, logger *zap.Logger) *Service {
	if rec == nil {
		rec = audit.Nop{}
	}
	rates := cfg.Rates
	if len(rates) == 0 {
		rates = config.DefaultDropRates
	}
	svc := &Service{
		db:       db,
		ledger:   l,
		defaults: RatesFromFloats(rates),
		boosted:  cfg.BoostedRarities,
		cooldown: cfg.ClaimCooldown,
		maxPacks: cfg.MaxPacks,
		maxOpen:  cfg.MaxOpen,
		perPack:  cfg.CardsPerPack,
		audit:    rec,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	if svc.cooldown <= 0 {
		svc.cooldown = 8 * time.Hour
	}
	if svc.maxPacks <= 0 {
		svc.maxPacks = 30
	}
	if svc.maxOpen <= 0 {
		svc.maxOpen = 10
	}
	if svc.perPack <= 0 {
		svc.perPack = 2
	}
	return svc
}

// SetClock overrides the time source.
func (svc *Service) SetClock(now func() time.Time) { svc.now = now }

// SetRand replaces the random source used for draws.
func (svc *Service) SetRand(r *rand.Rand) {
	svc.mu.Lock()
	svc.rng = r
	svc.mu.Unlock()
}

// Packs returns the player's unopened packs.
func (svc *Service) Packs(ctx context.Context, playerID int64) (*Inventory, error) {
	var inv *Inventory
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := findPlayer(tx, playerID, false)
		if err != nil {
			return err
		}
		inv, err = svc.inventory(tx, p)
		return err
	})
	return inv, err
}

// ClaimFreePack adds one normal pack once per cooldown period, as long as
// the player stays within the pack limit.
func (svc *Service) ClaimFreePack(ctx context.Context, playerID int64) (inv *Inventory, err error) {
	start := time.Now()
	defer metrics.Observe("pack.claim", start, &err)

	now := svc.now()
	err = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := findPlayer(tx, playerID, true)
		if err != nil {
			return err
		}
		if p.LastPackClaimAt != nil {
			if next := p.LastPackClaimAt.Add(svc.cooldown); now.Before(next) {
				return fmt.Errorf("%w: next claim in %s", gameerr.ErrPackCooldown, next.Sub(now).Round(time.Minute))
			}
		}
		if err := svc.addPacks(tx, playerID, PackNormal, 1); err != nil {
			return err
		}
		p.LastPackClaimAt = &now
		if err := tx.Model(p).Update("last_pack_claim_at", now).Error; err != nil {
			return err
		}
		inv, err = svc.inventory(tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	svc.logger.Info("drop: free pack claimed", zap.Int64("player_id", playerID), zap.Int("total", inv.Total))
	svc.record(ctx, audit.ActionPackClaim, playerID, inv, start)
	return inv, nil
}

// GrantPacks gives a player n packs of one type within the pack limit.
func (svc *Service) GrantPacks(ctx context.Context, playerID int64, pack PackType, n int) (inv *Inventory, err error) {
	start := time.Now()
	defer metrics.Observe("pack.grant", start, &err)
	if n < 1 {
		return nil, fmt.Errorf("%w: %d", gameerr.ErrInvalidQuantity, n)
	}
	err = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := findPlayer(tx, playerID, true)
		if err != nil {
			return err
		}
		if err := svc.addPacks(tx, playerID, pack, n); err != nil {
			return err
		}
		inv, err = svc.inventory(tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	svc.logger.Info("drop: packs granted",
		zap.Int64("player_id", playerID), zap.String("pack_type", string(pack)), zap.Int("amount", n))
	svc.record(ctx, audit.ActionPackGrant, playerID, inv, start)
	return inv, nil
}

// Open consumes amount packs and mints CardsPerPack cards from the deck per
// pack in one transaction. A drawn rarity the deck has no cards of falls
// back to a random rarity the deck does have.
func (svc *Service) Open(ctx context.Context, playerID, deckID int64, pack PackType, amount int) (res *OpenResult, err error) {
	start := time.Now()
	defer metrics.Observe("pack.open", start, &err)
	if amount < 1 || amount > svc.maxOpen {
		return nil, fmt.Errorf("%w: open between 1 and %d packs", gameerr.ErrInvalidQuantity, svc.maxOpen)
	}

	err = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findPlayer(tx, playerID, true); err != nil {
			return err
		}
		var held model.PlayerPack
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("player_id = ? AND pack_type = ?", playerID, string(pack)).
			First(&held).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if held.Quantity < amount {
			return fmt.Errorf("%w: have %d %s, need %d", gameerr.ErrInsufficientPacks, held.Quantity, pack, amount)
		}

		cards, rates, err := svc.deck(tx, deckID)
		if err != nil {
			return err
		}
		picks := svc.draw(cards, rates.ForPack(pack, svc.boosted), amount*svc.perPack)

		left := held.Quantity - amount
		if left == 0 {
			err = tx.Delete(&held).Error
		} else {
			err = tx.Model(&held).
				Where("player_id = ? AND pack_type = ?", playerID, string(pack)).
				Update("quantity", left).Error
		}
		if err != nil {
			return err
		}

		l := svc.ledger.WithTx(tx)
		res = &OpenResult{DeckID: deckID, PackType: pack, Opened: amount, PacksLeft: left}
		for _, c := range picks {
			minted, err := l.Mint(ctx, playerID, c.ID, 1, ledger.SourcePack)
			if err != nil {
				return err
			}
			res.Cards = append(res.Cards, Drawn{
				InstanceID: minted[0].InstanceID,
				CardID:     c.ID,
				Name:       c.Name,
				Rarity:     c.Rarity,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PacksOpened(string(pack), amount)
	for _, d := range res.Cards {
		metrics.CardDropped(d.Rarity)
	}
	svc.logger.Info("drop: packs opened",
		zap.Int64("player_id", playerID),
		zap.Int64("deck_id", deckID),
		zap.String("pack_type", string(pack)),
		zap.Int("amount", amount),
		zap.Int("cards", len(res.Cards)))
	svc.record(ctx, audit.ActionPackOpen, playerID, res, start)
	return res, nil
}

// DeckRates returns the effective rates of a deck for a pack type.
func (svc *Service) DeckRates(ctx context.Context, deckID int64, pack PackType) (Rates, error) {
	var rates Rates
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		_, rates, err = svc.deck(tx, deckID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rates.ForPack(pack, svc.boosted), nil
}

// deck loads the deck's cards and drop rates. A deck without rates uses the
// configured defaults.
func (svc *Service) deck(tx *gorm.DB, deckID int64) ([]model.Card, Rates, error) {
	var d model.Deck
	if err := tx.Select("id").First(&d, deckID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: %d", gameerr.ErrUnknownDeck, deckID)
		}
		return nil, nil, err
	}
	var cards []model.Card
	if err := tx.Where("deck_id = ?", deckID).Order("id").Find(&cards).Error; err != nil {
		return nil, nil, err
	}
	if len(cards) == 0 {
		return nil, nil, fmt.Errorf("%w: deck %d", gameerr.ErrEmptyDeck, deckID)
	}

	var rows []model.DeckDropRate
	if err := tx.Where("deck_id = ?", deckID).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rates := svc.defaults
	if len(rows) > 0 {
		rates = make(Rates, len(rows))
		for _, r := range rows {
			rates[strings.ToLower(r.Rarity)] = r.Rate
		}
	}
	if err := Validate(rates, nil); err != nil {
		return nil, nil, fmt.Errorf("deck %d: %w", deckID, err)
	}
	return cards, rates, nil
}

// draw picks n cards. cards must not be empty.
func (svc *Service) draw(cards []model.Card, rates Rates, n int) []model.Card {
	byRarity := make(map[string][]model.Card)
	for _, c := range cards {
		key := strings.ToLower(c.Rarity)
		byRarity[key] = append(byRarity[key], c)
	}
	present := make([]string, 0, len(byRarity))
	for k := range byRarity {
		present = append(present, k)
	}
	sort.Strings(present)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]model.Card, 0, n)
	for range n {
		rarity, ok := rates.pick(svc.rng)
		pool := byRarity[rarity]
		if !ok || len(pool) == 0 {
			pool = byRarity[present[svc.rng.IntN(len(present))]]
		}
		out = append(out, pool[svc.rng.IntN(len(pool))])
	}
	return out
}

// addPacks adds n packs of one type, failing with ErrPackLimit when the
// player's total would exceed the maximum.
func (svc *Service) addPacks(tx *gorm.DB, playerID int64, pack PackType, n int) error {
	var total int64
	err := tx.Model(&model.PlayerPack{}).
		Where("player_id = ?", playerID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return err
	}
	if int(total)+n > svc.maxPacks {
		return fmt.Errorf("%w: holding %d of %d", gameerr.ErrPackLimit, total, svc.maxPacks)
	}

	var row model.PlayerPack
	err = tx.Where("player_id = ? AND pack_type = ?", playerID, string(pack)).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&model.PlayerPack{PlayerID: playerID, PackType: string(pack), Quantity: n}).Error
	case err != nil:
		return err
	}
	return tx.Model(&row).
		Where("player_id = ? AND pack_type = ?", playerID, string(pack)).
		Update("quantity", row.Quantity+n).Error
}

func (svc *Service) inventory(tx *gorm.DB, p *model.Player) (*Inventory, error) {
	var rows []model.PlayerPack
	if err := tx.Where("player_id = ?", p.ID).Find(&rows).Error; err != nil {
		return nil, err
	}
	inv := &Inventory{Packs: make(map[PackType]int, len(rows)), Max: svc.maxPacks}
	for _, r := range rows {
		inv.Packs[PackType(r.PackType)] = r.Quantity
		inv.Total += r.Quantity
	}
	if p.LastPackClaimAt != nil {
		next := p.LastPackClaimAt.Add(svc.cooldown).UTC()
		if svc.now().Before(next) {
			inv.NextClaimAt = &next
		}
	}
	return inv, nil
}

func (svc *Service) record(ctx context.Context, action string, playerID int64, resp interface{}, start time.Time) {
	svc.audit.Log(audit.AuditEntry{
		TraceID:    audit.TraceIDFrom(ctx),
		PlayerID:   &playerID,
		Action:     action,
		Subject:    fmt.Sprintf("player:%d", playerID),
		Response:   resp,
		DurationMs: int(time.Since(start).Milliseconds()),
	})
}

func findPlayer(tx *gorm.DB, playerID int64, lock bool) (*model.Player, error) {
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p model.Player
	if err := q.First(&p, playerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", gameerr.ErrUnknownPlayer, playerID)
		}
		return nil, err
	}
	return &p, nil
}
