package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card is a card definition. Owned copies are UserCard rows.
type Card struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DeckID        int64     `gorm:"index:idx_card_deck;not null" json:"deck_id"`
	Name          string    `gorm:"size:64;not null" json:"name"`
	Rarity        string    `gorm:"size:16;not null" json:"rarity"`
	Mergeable     bool      `gorm:"not null" json:"mergeable"`
	MaxMergeLevel int       `gorm:"not null;default:10" json:"max_merge_level"`
	ImageURL      string    `gorm:"size:255" json:"image_url"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CardFieldValue is the value a card definition holds for one template field.
type CardFieldValue struct {
	CardID     int64  `gorm:"primaryKey" json:"card_id"`
	TemplateID int64  `gorm:"primaryKey" json:"template_id"`
	FieldValue string `gorm:"size:255" json:"field_value"`
}

// UserCard is one owned instance of a card.
type UserCard struct {
	InstanceID string     `gorm:"primaryKey;size:36" json:"instance_id"`
	UserID     int64      `gorm:"index:idx_user_card;not null" json:"user_id"`
	CardID     int64      `gorm:"index:idx_user_card;not null" json:"card_id"`
	MergeLevel int        `gorm:"index:idx_user_card;not null;default:0" json:"merge_level"`
	LockedPerk *string    `gorm:"size:64" json:"locked_perk"`
	Source     string     `gorm:"size:16" json:"source"`
	Version    int        `gorm:"not null;default:1" json:"version"`
	AcquiredAt time.Time  `gorm:"index;not null" json:"acquired_at"`
	RecycledAt *time.Time `gorm:"index" json:"recycled_at,omitempty"`
}

// Retired reports whether the instance has been soft-retired.
func (u *UserCard) Retired() bool { return u.RecycledAt != nil }

// Perk returns the locked perk name or "".
func (u *UserCard) Perk() string {
	if u.LockedPerk == nil {
		return ""
	}
	return *u.LockedPerk
}

// CardBoost is the boosted value of one numeric field on an instance.
type CardBoost struct {
	InstanceID     string          `gorm:"primaryKey;size:36" json:"instance_id"`
	FieldName      string          `gorm:"primaryKey;size:64" json:"field_name"`
	BaseValue      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"base_value"`
	BoostPercent   decimal.Decimal `gorm:"type:decimal(12,6);not null" json:"boost_percent"`
	EffectiveValue decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"effective_value"`
	Level          int             `gorm:"not null" json:"level"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
