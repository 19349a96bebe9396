package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
	"github.com/dkorolev/commerce/internal/storage/memory"
)

func newTestService() (*Service, *memory.CatalogStore) {
	store := memory.NewCatalogStore(nil, nil)
	return NewService(store), store
}

func TestCreateProduct(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, CreateProductInput{
		SKU:            " SKU-A ",
		Name:           "Widget",
		PriceCents:     1200,
		Currency:       "usd",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if product.SKU != "SKU-A" {
		t.Fatalf("expected trimmed SKU, got %q", product.SKU)
	}
	if product.Currency != "USD" {
		t.Fatalf("expected normalized currency, got %q", product.Currency)
	}
	if !product.Active {
		t.Fatalf("new product must be active")
	}

	msgs, err := store.Outbox().PendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("PendingOutbox: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != domain.EventProductCreated {
		t.Fatalf("expected a single ProductCreated event, got %d", len(msgs))
	}
}

func TestCreateProductReplaysWithSameKey(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	input := CreateProductInput{
		SKU:            "SKU-A",
		Name:           "Widget",
		PriceCents:     1200,
		Currency:       "USD",
		IdempotencyKey: "key-1",
	}

	first, err := svc.CreateProduct(ctx, input)
	if err != nil {
		t.Fatalf("first CreateProduct: %v", err)
	}
	second, err := svc.CreateProduct(ctx, input)
	if err != nil {
		t.Fatalf("second CreateProduct: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same product on replay, got %s and %s", first.ID, second.ID)
	}

	msgs, err := store.Outbox().PendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("PendingOutbox: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("replay must not emit new events, got %d", len(msgs))
	}
}

func TestCreateProductConcurrentKeyConflict(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	// A claim left in processing state means another request holds the key.
	err := store.WithinTx(ctx, func(tx domain.CatalogTx) error {
		_, _, err := tx.ClaimIdempotency("key-1", "catalog.create_product", time.Time{})
		return err
	})
	if err != nil {
		t.Fatalf("claim key: %v", err)
	}

	_, err = svc.CreateProduct(ctx, CreateProductInput{
		SKU:            "SKU-A",
		Name:           "Widget",
		PriceCents:     1200,
		Currency:       "USD",
		IdempotencyKey: "key-1",
	})
	if !errors.Is(err, domain.ErrIdempotencyInProgress) {
		t.Fatalf("expected ErrIdempotencyInProgress, got %v", err)
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateProduct(context.Background(), CreateProductInput{
		Name:       "Widget",
		PriceCents: -1,
		Currency:   "USD",
	})
	if !errors.Is(err, domain.ErrSKURequired) {
		t.Fatalf("expected ErrSKURequired, got %v", err)
	}
	if !errors.Is(err, domain.ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative, got %v", err)
	}
}

func TestUpdateProduct(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, CreateProductInput{
		SKU:        "SKU-A",
		Name:       "Widget",
		PriceCents: 1200,
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	newPrice := int64(1500)
	inactive := false
	updated, err := svc.UpdateProduct(ctx, product.ID, UpdateProductInput{
		PriceCents: &newPrice,
		Active:     &inactive,
	})
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if updated.PriceCents != 1500 || updated.Active {
		t.Fatalf("unexpected product after update: %+v", updated)
	}
	if updated.Name != "Widget" {
		t.Fatalf("untouched fields must be preserved, got name %q", updated.Name)
	}

	msgs, err := store.Outbox().PendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("PendingOutbox: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Type != domain.EventProductUpdated {
		t.Fatalf("expected ProductUpdated event, got %d messages", len(msgs))
	}
}

func TestUpdateUnknownProduct(t *testing.T) {
	svc, _ := newTestService()

	name := "Widget"
	_, err := svc.UpdateProduct(context.Background(), "missing", UpdateProductInput{Name: &name})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestProductsBySKUReturnsOnlyActive(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	active, err := svc.CreateProduct(ctx, CreateProductInput{SKU: "SKU-A", Name: "A", PriceCents: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	retired, err := svc.CreateProduct(ctx, CreateProductInput{SKU: "SKU-B", Name: "B", PriceCents: 200, Currency: "USD"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	off := false
	if _, err := svc.UpdateProduct(ctx, retired.ID, UpdateProductInput{Active: &off}); err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}

	found, err := svc.ProductsBySKU(ctx, []string{"SKU-A", "SKU-B"})
	if err != nil {
		t.Fatalf("ProductsBySKU: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected only active products, got %d", len(found))
	}
	if found["SKU-A"].ID != active.ID {
		t.Fatalf("expected SKU-A in the result")
	}
}
