package model

import "time"

// TradeStatus is the state of a trade session.
type TradeStatus = string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusActive    TradeStatus = "active"
	TradeStatusAccepted  TradeStatus = "accepted"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusCancelled TradeStatus = "cancelled"
	TradeStatusExpired   TradeStatus = "expired"
)

// OpenTradeStatuses are the non-terminal states.
var OpenTradeStatuses = []TradeStatus{TradeStatusPending, TradeStatusActive, TradeStatusAccepted}

// Trade is a negotiation between an initiator and a responder.
type Trade struct {
	TradeID            string     `gorm:"primaryKey;size:36" json:"trade_id"`
	InitiatorID        int64      `gorm:"index:idx_trade_initiator;not null" json:"initiator_id"`
	ResponderID        int64      `gorm:"index:idx_trade_responder;not null" json:"responder_id"`
	Status             string     `gorm:"index;size:16;not null" json:"status"`
	InitiatorAccepted  bool       `gorm:"not null;default:false" json:"initiator_accepted"`
	ResponderAccepted  bool       `gorm:"not null;default:false" json:"responder_accepted"`
	InitiatorFinalized bool       `gorm:"not null;default:false" json:"initiator_finalized"`
	ResponderFinalized bool       `gorm:"not null;default:false" json:"responder_finalized"`
	StartedAt          time.Time  `gorm:"not null" json:"started_at"`
	ExpiresAt          time.Time  `gorm:"index;not null" json:"expires_at"`
	FinalizedAt        *time.Time `json:"finalized_at,omitempty"`
}

// Terminal reports whether the trade can no longer change.
func (t *Trade) Terminal() bool {
	switch t.Status {
	case TradeStatusCompleted, TradeStatusCancelled, TradeStatusExpired:
		return true
	}
	return false
}

// IsParticipant reports whether playerID is one of the two sides.
func (t *Trade) IsParticipant(playerID int64) bool {
	return t.InitiatorID == playerID || t.ResponderID == playerID
}

// Counterpart returns the other side's id.
func (t *Trade) Counterpart(playerID int64) int64 {
	if t.InitiatorID == playerID {
		return t.ResponderID
	}
	return t.InitiatorID
}

// ClearFlags resets both acceptance and both finalization flags.
func (t *Trade) ClearFlags() {
	t.InitiatorAccepted = false
	t.ResponderAccepted = false
	t.InitiatorFinalized = false
	t.ResponderFinalized = false
}

// TradeItem is one (card, level) line of a participant's offer pool.
// Concrete instances are picked only when the trade is finalized.
type TradeItem struct {
	TradeID    string `gorm:"primaryKey;size:36" json:"trade_id"`
	UserID     int64  `gorm:"primaryKey" json:"user_id"`
	CardID     int64  `gorm:"primaryKey" json:"card_id"`
	MergeLevel int    `gorm:"primaryKey" json:"merge_level"`
	Quantity   int    `gorm:"not null" json:"quantity"`
}
