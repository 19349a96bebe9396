package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/domain"
)

// Service реализует операции orders-сервиса. Заказ создаётся только из
// снапшота с валидной HMAC-подписью cart-сервиса: снапшот — единственный
// источник цен, и подмена его содержимого в пути отвергается до записи.
type Service struct {
	store      domain.OrderStore
	cartSecret []byte
	logger     *log.Entry
}

// NewService создаёт orders-сервис. Секрет — общий с cart-сервисом ключ
// подписи снапшотов.
func NewService(store domain.OrderStore, cartSecret []byte) *Service {
	return &Service{
		store:      store,
		cartSecret: cartSecret,
		logger:     log.WithField("component", "orders-service"),
	}
}

// CreateOrderInput — параметры создания заказа.
type CreateOrderInput struct {
	UserID         string
	Snapshot       domain.CartSnapshot
	IdempotencyKey string
	CorrelationID  string
}

// CreateOrder проверяет подпись снапшота, сохраняет заказ и пишет
// OrderPlaced в outbox одной транзакцией. Повтор с тем же ключом
// идемпотентности возвращает ранее созданный заказ.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (domain.Order, error) {
	if err := input.Snapshot.VerifySignature(s.cartSecret); err != nil {
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:          uuid.NewString(),
		UserID:      input.UserID,
		Status:      domain.OrderStatusPlaced,
		Currency:    input.Snapshot.Currency,
		Snapshot:    input.Snapshot,
		AmountCents: input.Snapshot.Totals.TotalCents,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	var existingID string
	err := s.store.WithinTx(ctx, func(tx domain.OrderTx) error {
		if input.IdempotencyKey != "" {
			record, created, err := tx.ClaimIdempotency(input.IdempotencyKey, "orders.create_order", time.Time{})
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

		if err := tx.InsertOrder(order); err != nil {
			return err
		}

		env, err := domain.NewEnvelope(domain.EventOrderPlaced, domain.EventAggregate{ID: order.ID, Type: "order"}, domain.OrderPlacedPayload{
			OrderID:     order.ID,
			UserID:      order.UserID,
			Currency:    order.Currency,
			AmountCents: order.AmountCents,
			Items:       order.Lines(),
		})
		if err != nil {
			return err
		}
		env.CorrelationID = input.CorrelationID
		if err := tx.AppendOutbox(domain.NewOutboxMessage(env)); err != nil {
			return err
		}

		if input.IdempotencyKey != "" {
			return tx.CompleteIdempotency(input.IdempotencyKey, "orders.create_order", []byte(order.ID), 201)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if existingID != "" {
		return s.store.GetOrder(ctx, existingID)
	}
	return order, nil
}

// CancelOrder отменяет заказ и публикует OrderCanceled — компенсацию,
// по которой инвентарь снимет резерв. Отмена уже отменённого или
// отклонённого заказа — no-op.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason, correlationID string) (domain.Order, error) {
	var canceled domain.Order

	err := s.store.WithinTx(ctx, func(tx domain.OrderTx) error {
		order, err := tx.GetOrderForUpdate(orderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case domain.OrderStatusCanceled, domain.OrderStatusRejected:
			canceled = order
			return nil
		}

		order.Status = domain.OrderStatusCanceled
		order.CancellationReason = reason
		order.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateOrder(order); err != nil {
			return err
		}

		env, err := domain.NewEnvelope(domain.EventOrderCanceled, domain.EventAggregate{ID: order.ID, Type: "order"}, domain.OrderCanceledPayload{
			OrderID: order.ID,
			Reason:  reason,
		})
		if err != nil {
			return err
		}
		env.CorrelationID = correlationID
		if err := tx.AppendOutbox(domain.NewOutboxMessage(env)); err != nil {
			return err
		}

		canceled = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return canceled, nil
}

// GetOrder возвращает заказ по id.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListOrders возвращает заказы пользователя от новых к старым.
func (s *Service) ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return s.store.ListOrdersByUser(ctx, userID, limit)
}
