// Package catalog reads card definitions, deck field schemas and merge perks.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Catalog is the read-only view of card definitions the engines depend on.
type Catalog interface {
	Card(ctx context.Context, cardID int64) (*model.Card, error)
	Perks(ctx context.Context, deckID int64) ([]model.DeckMergePerk, error)
	Perk(ctx context.Context, deckID int64, name string) (*model.DeckMergePerk, error)
	NumericFields(ctx context.Context, cardID int64) ([]Field, error)
}

// Field is a numeric template field value of a card definition.
type Field struct {
	Name  string
	Value decimal.Decimal
}

// Store implements Catalog on top of gorm.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a gorm-backed catalog.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Card returns a card definition or ErrUnknownCard.
func (s *Store) Card(ctx context.Context, cardID int64) (*model.Card, error) {
	var c model.Card
	err := s.db.WithContext(ctx).First(&c, cardID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", gameerr.ErrUnknownCard, cardID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Perks returns the deck's merge perks ordered by name.
func (s *Store) Perks(ctx context.Context, deckID int64) ([]model.DeckMergePerk, error) {
	var perks []model.DeckMergePerk
	err := s.db.WithContext(ctx).
		Where("deck_id = ?", deckID).
		Order("perk_name").
		Find(&perks).Error
	return perks, err
}

// Perk looks a perk up by name, ignoring case. The returned perk carries the
// canonical spelling.
func (s *Store) Perk(ctx context.Context, deckID int64, name string) (*model.DeckMergePerk, error) {
	perks, err := s.Perks(ctx, deckID)
	if err != nil {
		return nil, err
	}
	for i := range perks {
		if strings.EqualFold(perks[i].PerkName, name) {
			return &perks[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", gameerr.ErrUnknownPerk, name)
}

// NumericFields returns the card's values for the deck's number-typed
// template fields, in template order. Values that do not parse are skipped.
func (s *Store) NumericFields(ctx context.Context, cardID int64) ([]Field, error) {
	type row struct {
		FieldName  string
		FieldValue string
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Table("card_field_values AS v").
		Select("t.field_name, v.field_value").
		Joins("JOIN card_templates t ON t.id = v.template_id").
		Where("v.card_id = ? AND t.field_type = ?", cardID, model.FieldTypeNumber).
		Order("t.field_order, t.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	fields := make([]Field, 0, len(rows))
	for _, r := range rows {
		v, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(r.FieldValue), ",", ""))
		if err != nil {
			s.logger.Warn("catalog: non-numeric value in number field",
				zap.Int64("card_id", cardID), zap.String("field", r.FieldName), zap.String("value", r.FieldValue))
			continue
		}
		fields = append(fields, Field{Name: r.FieldName, Value: v})
	}
	return fields, nil
}
