package trade

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Event types published on a session's channel.
const (
	EventRequested    = "requested"
	EventAccepted     = "accepted"
	EventOfferUpdated = "offer_updated"
	EventFinalized    = "finalized"
	EventCompleted    = "completed"
	EventReverted     = "reverted"
	EventCancelled    = "cancelled"
	EventExpired      = "expired"
)

// Event is a session state change as seen by subscribers.
type Event struct {
	Type     string    `json:"type"`
	TradeID  string    `json:"trade_id"`
	Status   string    `json:"status"`
	ActorID  int64     `json:"actor_id,omitempty"`
	Snapshot *Snapshot `json:"snapshot"`
	At       time.Time `json:"at"`
}

// Channel is the pub/sub channel carrying a session's events.
func Channel(tradeID string) string {
	return "trade:" + tradeID
}

func (svc *Service) publish(ctx context.Context, typ string, actor int64, snap *Snapshot) {
	if svc.pubsub == nil || snap == nil {
		return
	}
	payload, err := json.Marshal(Event{
		Type:     typ,
		TradeID:  snap.Trade.TradeID,
		Status:   snap.Trade.Status,
		ActorID:  actor,
		Snapshot: snap,
		At:       svc.now(),
	})
	if err != nil {
		return
	}
	if err := svc.pubsub.Publish(ctx, Channel(snap.Trade.TradeID), string(payload)); err != nil {
		svc.logger.Warn("trade event publish failed",
			zap.String("trade_id", snap.Trade.TradeID), zap.String("type", typ), zap.Error(err))
	}
}

// ParseEvent decodes a payload published on a session channel.
func ParseEvent(payload string) (*Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Final reports whether no further events follow on the channel.
func (e *Event) Final() bool {
	switch e.Type {
	case EventCompleted, EventCancelled, EventExpired:
		return true
	}
	return false
}
