package model

import "github.com/shopspring/decimal"

// DeckDropRate is the percentage chance a drop from the deck lands on a
// rarity. A deck's rates sum to 100.
type DeckDropRate struct {
	DeckID int64           `gorm:"primaryKey" json:"deck_id"`
	Rarity string          `gorm:"primaryKey;size:16" json:"rarity"`
	Rate   decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"rate"`
}

// PlayerPack is how many unopened packs of one type a player holds. Rows
// reaching zero are deleted.
type PlayerPack struct {
	PlayerID int64  `gorm:"primaryKey" json:"player_id"`
	PackType string `gorm:"primaryKey;size:32" json:"pack_type"`
	Quantity int    `gorm:"not null" json:"quantity"`
}
