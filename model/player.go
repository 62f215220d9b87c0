package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlayerStatusBanned = 0
	PlayerStatusNormal = 1
)

// Player is an actor that owns cards and holds credits.
type Player struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string          `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash string          `gorm:"size:64;not null" json:"-"`
	Credits      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"credits"`
	AllowTrades  bool            `gorm:"not null" json:"allow_trades"`
	Status       int             `gorm:"default:1" json:"status"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt  *time.Time      `json:"last_login_at"`

	// LastPackClaimAt starts the free pack cooldown.
	LastPackClaimAt *time.Time `json:"last_pack_claim_at"`
}

// CanTrade reports whether the player may take part in trades.
func (p *Player) CanTrade() bool {
	return p.Status != PlayerStatusBanned && p.AllowTrades
}
