package payments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkorolev/commerce/internal/domain"
	"github.com/dkorolev/commerce/internal/storage/memory"
)

func newTestService() (*Service, *memory.PaymentStore) {
	store := memory.NewPaymentStore(nil, nil)
	return NewService(store), store
}

func pendingEvents(t *testing.T, store *memory.PaymentStore) []domain.OutboxMessage {
	t.Helper()
	msgs, err := store.Outbox().PendingOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("PendingOutbox: %v", err)
	}
	return msgs
}

func TestAuthorizeAndCaptureEmitsBothEvents(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	payment, err := svc.AuthorizeAndCapture(ctx, AuthorizeInput{
		OrderID:        "order-1",
		AmountCents:    4200,
		Currency:       "USD",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("AuthorizeAndCapture: %v", err)
	}
	if payment.Status != domain.PaymentStatusCaptured {
		t.Fatalf("expected captured status, got %s", payment.Status)
	}
	if payment.AuthorizedAt == nil || payment.CapturedAt == nil {
		t.Fatalf("expected both authorizedAt and capturedAt to be set")
	}

	msgs := pendingEvents(t, store)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 outbox events, got %d", len(msgs))
	}
	if msgs[0].Type != domain.EventPaymentAuthorized || msgs[1].Type != domain.EventPaymentCaptured {
		t.Fatalf("unexpected event order: %s, %s", msgs[0].Type, msgs[1].Type)
	}
}

func TestAuthorizeAndCaptureReplaysWithSameKey(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	input := AuthorizeInput{
		OrderID:        "order-1",
		AmountCents:    4200,
		Currency:       "USD",
		IdempotencyKey: "key-1",
	}

	first, err := svc.AuthorizeAndCapture(ctx, input)
	if err != nil {
		t.Fatalf("first AuthorizeAndCapture: %v", err)
	}
	second, err := svc.AuthorizeAndCapture(ctx, input)
	if err != nil {
		t.Fatalf("second AuthorizeAndCapture: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same payment on replay, got %s and %s", first.ID, second.ID)
	}

	if msgs := pendingEvents(t, store); len(msgs) != 2 {
		t.Fatalf("replay must not emit new events, got %d", len(msgs))
	}
}

func TestAuthorizeRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Authorize(context.Background(), AuthorizeInput{
		OrderID:     "order-1",
		AmountCents: -5,
		Currency:    "USD",
	})
	if !errors.Is(err, domain.ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative, got %v", err)
	}
}

func TestCaptureAuthorizedPayment(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	payment, err := svc.Authorize(ctx, AuthorizeInput{
		OrderID:     "order-1",
		AmountCents: 1500,
		Currency:    "USD",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	captured, err := svc.Capture(ctx, payment.ID, "corr-1")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if captured.Status != domain.PaymentStatusCaptured {
		t.Fatalf("expected captured status, got %s", captured.Status)
	}

	// Repeated capture is a noop that returns the captured payment.
	again, err := svc.Capture(ctx, payment.ID, "corr-1")
	if err != nil {
		t.Fatalf("second Capture: %v", err)
	}
	if again.ID != captured.ID {
		t.Fatalf("expected the same payment, got %s", again.ID)
	}

	msgs := pendingEvents(t, store)
	if len(msgs) != 2 {
		t.Fatalf("expected authorize + capture events, got %d", len(msgs))
	}
	if msgs[1].Type != domain.EventPaymentCaptured {
		t.Fatalf("expected PaymentCaptured, got %s", msgs[1].Type)
	}
}

func TestFailEmitsCompensationEvent(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	payment, err := svc.Authorize(ctx, AuthorizeInput{
		OrderID:     "order-1",
		AmountCents: 1500,
		Currency:    "USD",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	failed, err := svc.Fail(ctx, payment.ID, "card_declined", "corr-1")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed status, got %s", failed.Status)
	}
	if failed.FailedAt == nil {
		t.Fatalf("expected failedAt to be set")
	}

	msgs := pendingEvents(t, store)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(msgs))
	}
	if msgs[1].Type != domain.EventPaymentFailed {
		t.Fatalf("expected PaymentFailed, got %s", msgs[1].Type)
	}

	var payload domain.PaymentFailedPayload
	if err := json.Unmarshal(msgs[1].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != "order-1" || payload.Reason != "card_declined" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	// Repeated fail is idempotent and does not add events.
	if _, err := svc.Fail(ctx, payment.ID, "card_declined", "corr-1"); err != nil {
		t.Fatalf("second Fail: %v", err)
	}
	if msgs := pendingEvents(t, store); len(msgs) != 2 {
		t.Fatalf("repeated Fail must not emit new events, got %d", len(msgs))
	}
}

func TestCaptureUnknownPayment(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Capture(context.Background(), "missing", "")
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}
