package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/domain"
)

// PriceSource отдаёт активные товары по SKU. В проде это каталог,
// в тестах — in-memory хранилище каталога.
type PriceSource interface {
	ProductsBySKU(ctx context.Context, skus []string) (map[string]domain.Product, error)
}

// Service реализует операции cart-сервиса: мутации позиций с монотонной
// версией корзины и чекаут с подписанным снапшотом цен.
type Service struct {
	store  domain.CartStore
	prices PriceSource
	secret []byte
	logger *log.Entry
}

// NewService создаёт cart-сервис. Секрет используется для HMAC-подписи
// снапшотов; orders-сервис проверяет подпись тем же секретом.
func NewService(store domain.CartStore, prices PriceSource, secret []byte) *Service {
	return &Service{
		store:  store,
		prices: prices,
		secret: secret,
		logger: log.WithField("component", "cart-service"),
	}
}

// CreateCart создаёт пустую активную корзину.
func (s *Service) CreateCart(ctx context.Context, userID, currency string) (domain.Cart, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return domain.Cart{}, domain.ErrCurrencyRequired
	}

	now := time.Now().UTC()
	cart := domain.Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		Currency:  currency,
		Status:    domain.CartStatusActive,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.WithinTx(ctx, func(tx domain.CartTx) error {
		return tx.InsertCart(cart)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

// GetCart возвращает корзину по id.
func (s *Service) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	return s.store.GetCart(ctx, id)
}

// GetSnapshot возвращает подписанный снапшот корзины после чекаута.
func (s *Service) GetSnapshot(ctx context.Context, cartID string) (domain.CartSnapshot, error) {
	return s.store.GetSnapshot(ctx, cartID)
}

// AddItem добавляет позицию или увеличивает количество существующей.
func (s *Service) AddItem(ctx context.Context, cartID string, item domain.CartItem) (domain.Cart, error) {
	item.SKU = strings.TrimSpace(item.SKU)
	if item.SKU == "" {
		return domain.Cart{}, domain.ErrSKURequired
	}
	if item.Qty <= 0 {
		return domain.Cart{}, domain.ErrQtyInvalid
	}

	return s.mutate(ctx, cartID, func(cart *domain.Cart) error {
		for i := range cart.Items {
			if cart.Items[i].SKU == item.SKU {
				cart.Items[i].Qty += item.Qty
				return nil
			}
		}
		cart.Items = append(cart.Items, item)
		return nil
	})
}

// UpdateItem выставляет количество позиции.
func (s *Service) UpdateItem(ctx context.Context, cartID, sku string, qty int32) (domain.Cart, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Cart{}, domain.ErrSKURequired
	}
	if qty <= 0 {
		return domain.Cart{}, domain.ErrQtyInvalid
	}

	return s.mutate(ctx, cartID, func(cart *domain.Cart) error {
		for i := range cart.Items {
			if cart.Items[i].SKU == sku {
				cart.Items[i].Qty = qty
				return nil
			}
		}
		return domain.ErrSKUNotFound
	})
}

// RemoveItem удаляет позицию из корзины.
func (s *Service) RemoveItem(ctx context.Context, cartID, sku string) (domain.Cart, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Cart{}, domain.ErrSKURequired
	}

	return s.mutate(ctx, cartID, func(cart *domain.Cart) error {
		for i := range cart.Items {
			if cart.Items[i].SKU == sku {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
				return nil
			}
		}
		return domain.ErrSKUNotFound
	})
}

// Checkout фиксирует корзину: прайсит позиции по каталогу, собирает
// неизменяемый подписанный снапшот, переводит корзину в checked_out и
// пишет событие чекаута в outbox той же транзакцией.
func (s *Service) Checkout(ctx context.Context, cartID string) (domain.CartSnapshot, error) {
	var snapshot domain.CartSnapshot

	err := s.store.WithinTx(ctx, func(tx domain.CartTx) error {
		cart, err := tx.GetCartForUpdate(cartID)
		if err != nil {
			return err
		}
		if cart.Status == domain.CartStatusCheckedOut {
			return domain.ErrCartCheckedOut
		}
		if len(cart.Items) == 0 {
			return domain.ErrItemsRequired
		}

		skus := make([]string, 0, len(cart.Items))
		for _, item := range cart.Items {
			skus = append(skus, item.SKU)
		}
		products, err := s.prices.ProductsBySKU(ctx, skus)
		if err != nil {
			return fmt.Errorf("price cart items: %w", err)
		}

		now := time.Now().UTC()
		items := make([]domain.SnapshotItem, 0, len(cart.Items))
		var subtotal int64
		for _, item := range cart.Items {
			product, ok := products[item.SKU]
			if !ok || product.Currency != cart.Currency {
				return fmt.Errorf("%w: %s", domain.ErrSKUNotFound, item.SKU)
			}
			items = append(items, domain.SnapshotItem{
				SKU:             item.SKU,
				Qty:             item.Qty,
				UnitPriceCents:  product.PriceCents,
				VariantID:       item.VariantID,
				SelectedOptions: item.SelectedOptions,
			})
			subtotal += int64(item.Qty) * product.PriceCents
		}

		unsigned := domain.CartSnapshot{
			SnapshotID:  uuid.NewString(),
			CartID:      cart.ID,
			CartVersion: cart.Version + 1,
			Currency:    cart.Currency,
			Items:       items,
			Totals: domain.SnapshotTotals{
				SubtotalCents: subtotal,
				TotalCents:    subtotal,
			},
			SignedAt: now,
		}
		snapshot, err = unsigned.Sign(s.secret)
		if err != nil {
			return err
		}

		cart.Status = domain.CartStatusCheckedOut
		cart.Version++
		if err := tx.UpdateCart(cart); err != nil {
			return err
		}
		if err := tx.InsertSnapshot(snapshot); err != nil {
			return err
		}

		env, err := domain.NewEnvelope(domain.EventCartCheckedOut, domain.EventAggregate{ID: cart.ID, Type: "cart"}, domain.CartCheckedOutPayload{
			CartID:      cart.ID,
			SnapshotID:  snapshot.SnapshotID,
			CartVersion: snapshot.CartVersion,
			TotalCents:  snapshot.Totals.TotalCents,
			Currency:    snapshot.Currency,
		})
		if err != nil {
			return err
		}
		return tx.AppendOutbox(domain.NewOutboxMessage(env))
	})
	if err != nil {
		return domain.CartSnapshot{}, err
	}
	return snapshot, nil
}

// mutate применяет изменение к активной корзине с инкрементом версии.
func (s *Service) mutate(ctx context.Context, cartID string, apply func(cart *domain.Cart) error) (domain.Cart, error) {
	var updated domain.Cart

	err := s.store.WithinTx(ctx, func(tx domain.CartTx) error {
		cart, err := tx.GetCartForUpdate(cartID)
		if err != nil {
			return err
		}
		if cart.Status == domain.CartStatusCheckedOut {
			return domain.ErrCartCheckedOut
		}

		if err := apply(&cart); err != nil {
			return err
		}
		cart.Version++
		cart.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateCart(cart); err != nil {
			return err
		}
		updated = cart
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return updated, nil
}
