package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// CatalogStore — in-memory хранилище catalog-сервиса.
type CatalogStore struct {
	mu       sync.Mutex
	products map[string]domain.Product
	outbox   *OutboxMemory
	idem     *IdempotencyMemory
}

var _ domain.CatalogStore = (*CatalogStore)(nil)

// NewCatalogStore создаёт in-memory хранилище каталога.
func NewCatalogStore(outbox *OutboxMemory, idem *IdempotencyMemory) *CatalogStore {
	if outbox == nil {
		outbox = NewOutboxMemory()
	}
	if idem == nil {
		idem = NewIdempotencyMemory()
	}
	return &CatalogStore{
		products: make(map[string]domain.Product),
		outbox:   outbox,
		idem:     idem,
	}
}

// Outbox возвращает outbox-таблицу хранилища.
func (s *CatalogStore) Outbox() *OutboxMemory {
	return s.outbox
}

// Idempotency возвращает таблицу ключей идемпотентности хранилища.
func (s *CatalogStore) Idempotency() *IdempotencyMemory {
	return s.idem
}

func (s *CatalogStore) WithinTx(_ context.Context, fn func(tx domain.CatalogTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &catalogTx{
		products: cloneProductMap(s.products),
		idem:     newIdemBuffer(s.idem),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.products = tx.products
	s.outbox.apply(tx.appended)
	tx.idem.commit()
	return nil
}

func (s *CatalogStore) GetProduct(_ context.Context, id string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (s *CatalogStore) ProductsBySKU(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bySKU := make(map[string]domain.Product, len(s.products))
	for _, p := range s.products {
		if p.Active {
			bySKU[p.SKU] = p
		}
	}

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if p, ok := bySKU[sku]; ok {
			result[sku] = p
		}
	}
	return result, nil
}

type catalogTx struct {
	products map[string]domain.Product
	idem     *idemBuffer
	appended []domain.OutboxMessage
}

var _ domain.CatalogTx = (*catalogTx)(nil)

func (t *catalogTx) AppendOutbox(msg domain.OutboxMessage) error {
	t.appended = append(t.appended, cloneOutboxMessage(msg))
	return nil
}

func (t *catalogTx) ClaimIdempotency(key, operation string, ttlAt time.Time) (domain.IdempotencyRecord, bool, error) {
	return t.idem.claim(key, operation, ttlAt)
}

func (t *catalogTx) CompleteIdempotency(key, operation string, responseBody []byte, httpStatus int) error {
	return t.idem.complete(key, operation, responseBody, httpStatus)
}

func (t *catalogTx) InsertProduct(p domain.Product) error {
	for _, existing := range t.products {
		if existing.SKU == p.SKU {
			return fmt.Errorf("product sku %s already exists", p.SKU)
		}
	}
	t.products[p.ID] = p
	return nil
}

func (t *catalogTx) GetProductForUpdate(id string) (domain.Product, error) {
	p, ok := t.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (t *catalogTx) UpdateProduct(p domain.Product) error {
	if _, ok := t.products[p.ID]; !ok {
		return domain.ErrProductNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	t.products[p.ID] = p
	return nil
}

func cloneProductMap(src map[string]domain.Product) map[string]domain.Product {
	dst := make(map[string]domain.Product, len(src))
	for id, p := range src {
		dst[id] = p
	}
	return dst
}
