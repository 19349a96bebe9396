package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewEnvelopeDefaults(t *testing.T) {
	env, err := NewEnvelope(EventOrderPlaced, EventAggregate{ID: "order-1", Type: "order"}, OrderPlacedPayload{
		OrderID:     "order-1",
		Currency:    "USD",
		AmountCents: 1000,
		Items:       []OrderLineRef{{SKU: "SKU-A", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if env.ID == "" {
		t.Fatal("expected generated event id")
	}
	if env.Aggregate.Version != 1 {
		t.Fatalf("aggregate version = %d, want 1", env.Aggregate.Version)
	}
	if env.OccurredAt.IsZero() {
		t.Fatal("expected occurredAt to be set")
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	expiresAt := time.Now().UTC().Add(15 * time.Minute)
	env, err := NewEnvelope(EventStockReserved, EventAggregate{ID: "order-1", Type: "reservation"}, StockReservedPayload{
		OrderID:   "order-1",
		Items:     []OrderLineRef{{SKU: "SKU-A", Qty: 2}},
		ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}

	decoded, err := DecodePayload(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	payload, ok := decoded.(*StockReservedPayload)
	if !ok {
		t.Fatalf("decoded type %T, want *StockReservedPayload", decoded)
	}
	if payload.OrderID != "order-1" || len(payload.Items) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDecodePayloadRejectsUnknownType(t *testing.T) {
	env := EventEnvelope{Type: "billing.invoice.created.v1", Payload: json.RawMessage(`{}`)}
	if _, err := DecodePayload(env); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestDecodePayloadValidatesFields(t *testing.T) {
	// Отказ без orderId не проходит валидацию payload.
	env := EventEnvelope{
		Type:    EventStockReservationFailed,
		Payload: json.RawMessage(`{"reason":"INVALID_ITEMS"}`),
	}
	if _, err := DecodePayload(env); err == nil {
		t.Fatal("expected validation error for missing orderId")
	}
}
