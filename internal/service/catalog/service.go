package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/domain"
)

// Service реализует операции каталога: создание и обновление товаров с
// DB-идемпотентностью и outbox-событиями в одной транзакции.
type Service struct {
	store  domain.CatalogStore
	logger *log.Entry
}

// NewService создаёт catalog-сервис.
func NewService(store domain.CatalogStore) *Service {
	return &Service{
		store:  store,
		logger: log.WithField("component", "catalog-service"),
	}
}

// CreateProductInput — параметры создания товара.
type CreateProductInput struct {
	SKU            string
	Name           string
	Description    string
	PriceCents     int64
	Currency       string
	IdempotencyKey string
}

// UpdateProductInput — параметры обновления товара. Nil-поля не меняются.
type UpdateProductInput struct {
	Name           *string
	Description    *string
	PriceCents     *int64
	Currency       *string
	Active         *bool
	IdempotencyKey string
}

// CreateProduct создаёт товар. Повтор с тем же ключом идемпотентности
// возвращает уже созданный товар без второй вставки.
func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (domain.Product, error) {
	now := time.Now().UTC()
	product := domain.Product{
		ID:          uuid.NewString(),
		SKU:         strings.TrimSpace(input.SKU),
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		PriceCents:  input.PriceCents,
		Currency:    strings.ToUpper(strings.TrimSpace(input.Currency)),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}

	var existingID string
	err := s.store.WithinTx(ctx, func(tx domain.CatalogTx) error {
		if input.IdempotencyKey != "" {
			record, created, err := tx.ClaimIdempotency(input.IdempotencyKey, "catalog.create_product", time.Time{})
			if err != nil {
				return err
			}
			if !created {
				if record.Status != domain.IdempotencyStatusCompleted {
					return domain.ErrIdempotencyInProgress
				}
				existingID = string(record.ResponseBody)
				return nil
			}
		}

		if err := tx.InsertProduct(product); err != nil {
			return err
		}

		env, err := domain.NewEnvelope(domain.EventProductCreated, domain.EventAggregate{ID: product.ID, Type: "product"}, domain.ProductCreatedPayload{
			ProductID:  product.ID,
			SKU:        product.SKU,
			Name:       product.Name,
			PriceCents: product.PriceCents,
			Currency:   product.Currency,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendOutbox(domain.NewOutboxMessage(env)); err != nil {
			return err
		}

		if input.IdempotencyKey != "" {
			return tx.CompleteIdempotency(input.IdempotencyKey, "catalog.create_product", []byte(product.ID), 201)
		}
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	if existingID != "" {
		return s.store.GetProduct(ctx, existingID)
	}
	return product, nil
}

// UpdateProduct обновляет товар и публикует событие с новым состоянием.
func (s *Service) UpdateProduct(ctx context.Context, id string, input UpdateProductInput) (domain.Product, error) {
	var updated domain.Product

	err := s.store.WithinTx(ctx, func(tx domain.CatalogTx) error {
		if input.IdempotencyKey != "" {
			record, created, err := tx.ClaimIdempotency(input.IdempotencyKey, "catalog.update_product", time.Time{})
			if err != nil {
				return err
			}
			if !created {
				if record.Status != domain.IdempotencyStatusCompleted {
					return domain.ErrIdempotencyInProgress
				}
				// Повтор: текущее состояние товара и есть результат.
				updated, err = tx.GetProductForUpdate(id)
				return err
			}
		}

		product, err := tx.GetProductForUpdate(id)
		if err != nil {
			return err
		}

		if input.Name != nil {
			product.Name = strings.TrimSpace(*input.Name)
		}
		if input.Description != nil {
			product.Description = *input.Description
		}
		if input.PriceCents != nil {
			product.PriceCents = *input.PriceCents
		}
		if input.Currency != nil {
			product.Currency = strings.ToUpper(strings.TrimSpace(*input.Currency))
		}
		if input.Active != nil {
			product.Active = *input.Active
		}
		if errs := product.Validate(); len(errs) > 0 {
			return errors.Join(errs...)
		}

		if err := tx.UpdateProduct(product); err != nil {
			return err
		}

		env, err := domain.NewEnvelope(domain.EventProductUpdated, domain.EventAggregate{ID: product.ID, Type: "product"}, domain.ProductUpdatedPayload{
			ProductID:  product.ID,
			SKU:        product.SKU,
			Name:       product.Name,
			PriceCents: product.PriceCents,
			Currency:   product.Currency,
			Active:     product.Active,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendOutbox(domain.NewOutboxMessage(env)); err != nil {
			return err
		}

		updated = product
		if input.IdempotencyKey != "" {
			return tx.CompleteIdempotency(input.IdempotencyKey, "catalog.update_product", []byte(product.ID), 200)
		}
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}

// GetProduct возвращает товар по id.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.store.GetProduct(ctx, id)
}

// ProductsBySKU возвращает активные товары по списку SKU.
func (s *Service) ProductsBySKU(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	return s.store.ProductsBySKU(ctx, skus)
}
