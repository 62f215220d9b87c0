package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Template field types.
const (
	FieldTypeText     = "text"
	FieldTypeNumber   = "number"
	FieldTypeDropdown = "dropdown"
)

// Deck is an item family: a set of card definitions sharing a field schema
// and merge perks.
type Deck struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CardTemplate is one named field of a deck's card schema.
type CardTemplate struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	DeckID     int64  `gorm:"uniqueIndex:idx_template_field;not null" json:"deck_id"`
	FieldName  string `gorm:"uniqueIndex:idx_template_field;size:64;not null" json:"field_name"`
	FieldType  string `gorm:"size:16;not null;default:'text'" json:"field_type"`
	FieldOrder int    `gorm:"default:0" json:"field_order"`
	IsRequired bool   `gorm:"default:false" json:"is_required"`
}

// DeckMergePerk is a boost track players lock in on a card's first merge.
// BaseBoost is a percentage (18.5 means +18.5%).
type DeckMergePerk struct {
	DeckID            int64           `gorm:"primaryKey" json:"deck_id"`
	PerkName          string          `gorm:"primaryKey;size:64" json:"perk_name"`
	BaseBoost         decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"base_boost"`
	DiminishingFactor decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"diminishing_factor"`
}
