package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestMemoryReplayStoreRoundTrip(t *testing.T) {
	store := NewMemoryReplayStore()
	ctx := context.Background()

	resp := StoredResponse{
		StatusCode: 201,
		Body:       []byte(`{"id":"cart-1"}`),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
	if err := store.Set(ctx, "user:user-1", "key-1", resp, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := store.Get(ctx, "user:user-1", "key-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected stored response")
	}
	if got.StatusCode != 201 || string(got.Body) != `{"id":"cart-1"}` {
		t.Fatalf("unexpected response: %+v", got)
	}
	if got.Headers["Content-Type"] != "application/json" {
		t.Fatalf("expected stored headers, got %v", got.Headers)
	}
}

func TestMemoryReplayStoreScopesAreIsolated(t *testing.T) {
	store := NewMemoryReplayStore()
	ctx := context.Background()

	if err := store.Set(ctx, "user:user-1", "key-1", StoredResponse{StatusCode: 200}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, ok, _ := store.Get(ctx, "user:user-2", "key-1"); ok {
		t.Fatalf("key must not leak across scopes")
	}
	if _, ok, _ := store.Get(ctx, "user:user-1", "key-2"); ok {
		t.Fatalf("unknown key must miss")
	}
}

func TestMemoryReplayStoreExpiry(t *testing.T) {
	store := NewMemoryReplayStore()
	ctx := context.Background()

	if err := store.Set(ctx, "anon:127.0.0.1", "key-1", StoredResponse{StatusCode: 200}, time.Nanosecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(time.Millisecond)

	if _, ok, _ := store.Get(ctx, "anon:127.0.0.1", "key-1"); ok {
		t.Fatalf("expired entry must not be returned")
	}
}

func TestMemoryReplayStoreCopiesBody(t *testing.T) {
	store := NewMemoryReplayStore()
	ctx := context.Background()

	body := []byte("original")
	if err := store.Set(ctx, "user:user-1", "key-1", StoredResponse{StatusCode: 200, Body: body}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	body[0] = 'X'

	got, ok, err := store.Get(ctx, "user:user-1", "key-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got.Body) != "original" {
		t.Fatalf("stored body must be detached from the caller's slice, got %q", got.Body)
	}
}
