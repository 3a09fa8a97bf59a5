// Package events publishes ledger domain events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Event types emitted by the ledger.
const (
	TypeCardIssued         = "gift_card.issued"
	TypeCardRedeemed       = "gift_card.redeemed"
	TypeCardRefunded       = "gift_card.refunded"
	TypeCardRestored       = "gift_card.restored"
	TypeChargebackOpened   = "chargeback.opened"
	TypeChargebackResolved = "chargeback.resolved"
)

// Envelope is the wire shape of every event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data"`
}

// Publisher delivers raw event payloads keyed for partitioning.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
	Close() error
}

// Emitter wraps a Publisher with envelope encoding and fire-and-log semantics.
type Emitter struct {
	pub Publisher
	now func() time.Time
}

// NewEmitter returns an emitter over pub. A nil pub logs events instead.
func NewEmitter(pub Publisher) *Emitter {
	if pub == nil {
		pub = LogPublisher{}
	}
	return &Emitter{pub: pub, now: func() time.Time { return time.Now().UTC() }}
}

// Emit encodes data and publishes it. Failures are logged, never returned.
func (e *Emitter) Emit(ctx context.Context, eventType, key string, data any) {
	if e == nil || e.pub == nil {
		return
	}
	raw, errMarshal := json.Marshal(data)
	if errMarshal != nil {
		log.WithError(errMarshal).WithField("event", eventType).Warn("events: encode payload failed")
		return
	}
	env := Envelope{ID: uuid.NewString(), Type: eventType, OccurredAt: e.now(), Key: key, Data: raw}
	payload, errEnvelope := json.Marshal(env)
	if errEnvelope != nil {
		log.WithError(errEnvelope).WithField("event", eventType).Warn("events: encode envelope failed")
		return
	}
	if errPublish := e.pub.Publish(ctx, eventType, payload, key); errPublish != nil {
		log.WithError(errPublish).WithFields(log.Fields{"event": eventType, "key": key}).Warn("events: publish failed")
	}
}

// Close releases the underlying publisher.
func (e *Emitter) Close() error {
	if e == nil || e.pub == nil {
		return nil
	}
	return e.pub.Close()
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, eventType string, payload []byte, partitionKey string) error {
	log.WithFields(log.Fields{"event": eventType, "key": partitionKey, "bytes": len(payload)}).Debug("event published")
	return nil
}

func (LogPublisher) Close() error { return nil }

// CardKey is the partition key for card-scoped events.
func CardKey(cardID uint64) string {
	return fmt.Sprintf("card-%d", cardID)
}
