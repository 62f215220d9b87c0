package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records trade, merge and recycle outcomes.
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_audit_trace;size:64" json:"trace_id"`
	PlayerID   *int64         `gorm:"index:idx_audit_player" json:"player_id"`
	Action     string         `gorm:"size:64;not null" json:"action"`
	Subject    string         `gorm:"index:idx_audit_subject,priority:1;size:64" json:"subject"` // trade id, "card:<id>" or "player:<id>"
	Request    datatypes.JSON `json:"request"`
	Response   datatypes.JSON `json:"response"`
	Error      string         `gorm:"type:text" json:"error"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index:idx_audit_subject,priority:2;index:idx_audit_created" json:"created_at"`
}
