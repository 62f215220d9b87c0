// Package ledger is the sole authority over card instance existence,
// ownership and progression state. Every mutation runs in one transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Instance sources.
const (
	SourceGrant = "grant"
	SourceTrade = "trade"
	SourceMerge = "merge"
	SourcePack  = "pack"
)

const defaultPageSize = 200

// Filter narrows InstancesOf. Nil fields match anything.
type Filter struct {
	CardID *int64
	Level  *int
}

// Move reassigns one instance. From is the owner the caller expects.
type Move struct {
	InstanceID string
	From       int64
	To         int64
}

// NewInstance describes the instance ConsumeAndCreate produces.
type NewInstance struct {
	CardID     int64
	MergeLevel int
	LockedPerk *string
	Source     string
	// Cost is debited from the owner in the same transaction when positive.
	Cost   decimal.Decimal
	Boosts []model.CardBoost
}

// Ledger reads and mutates owned instances.
type Ledger struct {
	db       *gorm.DB
	logger   *zap.Logger
	now      func() time.Time
	pageSize int
}

// New creates a Ledger.
func New(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger, now: utcNow, pageSize: defaultPageSize}
}

// WithTx returns a ledger bound to an enclosing transaction. Its mutations
// become savepoints of tx and commit or roll back with it.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	cp := *l
	cp.db = tx
	return &cp
}

// SetClock overrides the time source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

func (l *Ledger) owned(ctx context.Context, owner int64, f Filter) *gorm.DB {
	q := l.db.WithContext(ctx).Model(&model.UserCard{}).
		Where("user_id = ? AND recycled_at IS NULL", owner)
	if f.CardID != nil {
		q = q.Where("card_id = ?", *f.CardID)
	}
	if f.Level != nil {
		q = q.Where("merge_level = ?", *f.Level)
	}
	return q
}

// InstancesOf yields the owner's live instances matching f, oldest acquired
// first. Rows are fetched in pages as the sequence is consumed; ranging over
// the sequence again restarts the query.
func (l *Ledger) InstancesOf(ctx context.Context, owner int64, f Filter) iter.Seq2[model.UserCard, error] {
	return func(yield func(model.UserCard, error) bool) {
		for offset := 0; ; offset += l.pageSize {
			var page []model.UserCard
			err := l.owned(ctx, owner, f).
				Order("acquired_at, instance_id").
				Limit(l.pageSize).Offset(offset).
				Find(&page).Error
			if err != nil {
				yield(model.UserCard{}, err)
				return
			}
			for _, uc := range page {
				if err := l.check(&uc); err != nil {
					yield(uc, err)
					return
				}
				if !yield(uc, nil) {
					return
				}
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}
}

// Count returns how many live instances the owner holds matching f.
func (l *Ledger) Count(ctx context.Context, owner int64, f Filter) (int64, error) {
	var n int64
	err := l.owned(ctx, owner, f).Count(&n).Error
	return n, err
}

// Pick returns the owner's n oldest live instances of (card, level), or
// ErrInsufficientInventory when fewer exist.
func (l *Ledger) Pick(ctx context.Context, owner, cardID int64, level, n int) ([]model.UserCard, error) {
	var rows []model.UserCard
	err := l.owned(ctx, owner, Filter{CardID: &cardID, Level: &level}).
		Order("acquired_at, instance_id").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) < n {
		return nil, fmt.Errorf("%w: card %d level %d: have %d, need %d",
			gameerr.ErrInsufficientInventory, cardID, level, len(rows), n)
	}
	for i := range rows {
		if err := l.check(&rows[i]); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// Get returns one instance, retired or not.
func (l *Ledger) Get(ctx context.Context, instanceID string) (*model.UserCard, error) {
	var uc model.UserCard
	err := l.db.WithContext(ctx).First(&uc, "instance_id = ?", instanceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", gameerr.ErrInstanceNotFound, instanceID)
	}
	if err != nil {
		return nil, err
	}
	if err := l.check(&uc); err != nil {
		return nil, err
	}
	return &uc, nil
}

// Boosts returns the boost records of an instance.
func (l *Ledger) Boosts(ctx context.Context, instanceID string) ([]model.CardBoost, error) {
	var boosts []model.CardBoost
	err := l.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("field_name").
		Find(&boosts).Error
	return boosts, err
}

// Balance returns a player's credits.
func (l *Ledger) Balance(ctx context.Context, owner int64) (decimal.Decimal, error) {
	var p model.Player
	err := l.db.WithContext(ctx).Select("id", "credits").First(&p, owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, fmt.Errorf("%w: %d", gameerr.ErrUnknownPlayer, owner)
	}
	return p.Credits, err
}

// Transfer reassigns every listed instance in one transaction. It fails as
// a whole with ErrLedgerConflict if any instance is missing, retired, listed
// twice or no longer owned by its expected source.
func (l *Ledger) Transfer(ctx context.Context, moves []Move) error {
	if len(moves) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(moves))
	for _, m := range moves {
		if _, dup := seen[m.InstanceID]; dup {
			return fmt.Errorf("%w: instance %s listed twice", gameerr.ErrLedgerConflict, m.InstanceID)
		}
		seen[m.InstanceID] = struct{}{}
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range moves {
			res := tx.Model(&model.UserCard{}).
				Where("instance_id = ? AND user_id = ? AND recycled_at IS NULL", m.InstanceID, m.From).
				Updates(map[string]interface{}{
					"user_id": m.To,
					"source":  SourceTrade,
					"version": gorm.Expr("version + 1"),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("%w: instance %s not held by %d", gameerr.ErrLedgerConflict, m.InstanceID, m.From)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Info("ledger: transfer", zap.Int("moves", len(moves)))
	return nil
}

// ConsumeAndCreate retires the consumed instances and creates one new
// instance owned by owner, debiting spec.Cost and replacing the lineage's
// boost records, all in one transaction.
func (l *Ledger) ConsumeAndCreate(ctx context.Context, owner int64, consumed []string, spec NewInstance) (*model.UserCard, error) {
	if spec.MergeLevel == 0 && spec.LockedPerk != nil {
		l.logger.Error("ledger: refusing to create level 0 instance with perk",
			zap.Int64("card_id", spec.CardID), zap.String("perk", *spec.LockedPerk))
		return nil, fmt.Errorf("%w: level 0 instance with perk", gameerr.ErrInvariantViolation)
	}

	var created model.UserCard
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := lockOwned(tx, owner, consumed)
		if err != nil {
			return err
		}
		now := l.now()
		if err := retire(tx, rows, now); err != nil {
			return err
		}
		if spec.Cost.IsPositive() {
			if err := debit(tx, owner, spec.Cost); err != nil {
				return err
			}
		}
		if err := tx.Where("instance_id IN ?", consumed).Delete(&model.CardBoost{}).Error; err != nil {
			return err
		}

		created = model.UserCard{
			InstanceID: uuid.NewString(),
			UserID:     owner,
			CardID:     spec.CardID,
			MergeLevel: spec.MergeLevel,
			LockedPerk: spec.LockedPerk,
			Source:     spec.Source,
			Version:    1,
			AcquiredAt: now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		for i := range spec.Boosts {
			spec.Boosts[i].InstanceID = created.InstanceID
			spec.Boosts[i].Level = spec.MergeLevel
		}
		if len(spec.Boosts) > 0 {
			if err := tx.Create(&spec.Boosts).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("ledger: consume and create",
		zap.Int64("player_id", owner),
		zap.Strings("consumed", consumed),
		zap.String("instance_id", created.InstanceID),
		zap.Int("level", created.MergeLevel))
	return &created, nil
}

// Mint creates n fresh level-0 instances of a card for owner.
func (l *Ledger) Mint(ctx context.Context, owner, cardID int64, n int, source string) ([]model.UserCard, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d", gameerr.ErrInvalidQuantity, n)
	}
	now := l.now()
	out := make([]model.UserCard, n)
	for i := range out {
		out[i] = model.UserCard{
			InstanceID: uuid.NewString(),
			UserID:     owner,
			CardID:     cardID,
			Source:     source,
			Version:    1,
			AcquiredAt: now,
		}
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Player
		if err := tx.Select("id").First(&p, owner).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", gameerr.ErrUnknownPlayer, owner)
			}
			return err
		}
		return tx.Create(&out).Error
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("ledger: mint", zap.Int64("player_id", owner), zap.Int64("card_id", cardID), zap.Int("count", n))
	return out, nil
}

// Retire soft-retires owned instances and credits the owner in one
// transaction.
func (l *Ledger) Retire(ctx context.Context, owner int64, ids []string, credit decimal.Decimal) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := lockOwned(tx, owner, ids)
		if err != nil {
			return err
		}
		if err := retire(tx, rows, l.now()); err != nil {
			return err
		}
		if credit.IsPositive() {
			return creditPlayer(tx, owner, credit)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Info("ledger: retire", zap.Int64("player_id", owner), zap.Int("count", len(ids)), zap.String("credit", credit.StringFixed(2)))
	return nil
}

// check reports data that breaks the perk invariant. Such rows are never
// repaired here.
func (l *Ledger) check(uc *model.UserCard) error {
	if uc.MergeLevel == 0 && uc.LockedPerk != nil {
		l.logger.Error("ledger: level 0 instance carries a perk",
			zap.String("instance_id", uc.InstanceID), zap.String("perk", *uc.LockedPerk))
		return fmt.Errorf("%w: instance %s", gameerr.ErrInvariantViolation, uc.InstanceID)
	}
	if uc.MergeLevel < 0 {
		l.logger.Error("ledger: negative merge level",
			zap.String("instance_id", uc.InstanceID), zap.Int("level", uc.MergeLevel))
		return fmt.Errorf("%w: instance %s", gameerr.ErrInvariantViolation, uc.InstanceID)
	}
	return nil
}

// lockOwned loads ids for update and checks each exists, is live and is
// held by owner.
func lockOwned(tx *gorm.DB, owner int64, ids []string) ([]model.UserCard, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no instances", gameerr.ErrInvalidQuantity)
	}
	var rows []model.UserCard
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("instance_id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.UserCard, len(rows))
	for i := range rows {
		byID[rows[i].InstanceID] = &rows[i]
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: instance %s listed twice", gameerr.ErrLedgerConflict, id)
		}
		seen[id] = struct{}{}
		uc, ok := byID[id]
		switch {
		case !ok:
			return nil, fmt.Errorf("%w: %s", gameerr.ErrInstanceNotFound, id)
		case uc.Retired():
			return nil, fmt.Errorf("%w: %s", gameerr.ErrInstanceRetired, id)
		case uc.UserID != owner:
			return nil, fmt.Errorf("%w: %s", gameerr.ErrNotOwner, id)
		}
	}
	return rows, nil
}

// retire marks rows retired, guarding each on its loaded version.
func retire(tx *gorm.DB, rows []model.UserCard, at time.Time) error {
	for _, uc := range rows {
		res := tx.Model(&model.UserCard{}).
			Where("instance_id = ? AND version = ? AND recycled_at IS NULL", uc.InstanceID, uc.Version).
			Updates(map[string]interface{}{
				"recycled_at": at,
				"version":     gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: instance %s changed", gameerr.ErrLedgerConflict, uc.InstanceID)
		}
	}
	return nil
}

func debit(tx *gorm.DB, owner int64, amount decimal.Decimal) error {
	res := tx.Model(&model.Player{}).
		Where("id = ? AND credits >= ?", owner, amount).
		Update("credits", gorm.Expr("credits - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: need %s", gameerr.ErrInsufficientCredits, amount.StringFixed(2))
	}
	return nil
}

func creditPlayer(tx *gorm.DB, owner int64, amount decimal.Decimal) error {
	res := tx.Model(&model.Player{}).
		Where("id = ?", owner).
		Update("credits", gorm.Expr("credits + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", gameerr.ErrUnknownPlayer, owner)
	}
	return nil
}

func utcNow() time.Time { return time.Now().UTC() }
