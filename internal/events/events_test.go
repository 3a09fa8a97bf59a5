package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type capturePublisher struct {
	eventType string
	key       string
	payload   []byte
	err       error
}

func (c *capturePublisher) Publish(_ context.Context, eventType string, payload []byte, key string) error {
	c.eventType = eventType
	c.key = key
	c.payload = payload
	return c.err
}

func (c *capturePublisher) Close() error { return nil }

func TestEmitWrapsPayloadInEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	NewEmitter(pub).Emit(context.Background(), TypeCardRedeemed, CardKey(9), map[string]int64{"amount": 40})

	if pub.eventType != TypeCardRedeemed || pub.key != "card-9" {
		t.Fatalf("unexpected publish %s/%s", pub.eventType, pub.key)
	}
	var env Envelope
	if err := json.Unmarshal(pub.payload, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.ID == "" || env.Type != TypeCardRedeemed {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if string(env.Data) != `{"amount":40}` {
		t.Fatalf("unexpected data %s", env.Data)
	}
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	NewEmitter(pub).Emit(context.Background(), TypeCardIssued, "k", struct{}{})
	if pub.eventType != TypeCardIssued {
		t.Fatalf("expected publish attempt")
	}
}

func TestKafkaPublisherTopicMapping(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, nil); err == nil {
		t.Fatalf("expected error without brokers")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, map[string]string{TypeCardRedeemed: "ledger.redemptions"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer func() { _ = p.Close() }()
	if got := p.TopicFor(TypeCardRedeemed); got != "ledger.redemptions" {
		t.Fatalf("unexpected topic %s", got)
	}
	if got := p.TopicFor(TypeCardIssued); got != TypeCardIssued {
		t.Fatalf("unexpected default topic %s", got)
	}
}
