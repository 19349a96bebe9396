package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/domain"
)

// Service реализует операции fulfillment-сервиса: регистрацию отгрузок
// по оплаченным заказам. На заказ допускается не более одной отгрузки,
// повторный вызов возвращает уже созданную.
type Service struct {
	store  domain.ShipmentStore
	logger *log.Entry
}

// NewService создаёт fulfillment-сервис.
func NewService(store domain.ShipmentStore) *Service {
	return &Service{
		store:  store,
		logger: log.WithField("component", "fulfillment-service"),
	}
}

// CreateShipmentInput — параметры создания отгрузки.
type CreateShipmentInput struct {
	OrderID        string
	IdempotencyKey string
	CorrelationID  string
}

// CreateShipment создаёт отгрузку по заказу. Идемпотентна двумя слоями:
// по Idempotency-Key и по уникальности order_id в самой таблице отгрузок.
func (s *Service) CreateShipment(ctx context.Context, input CreateShipmentInput) (domain.Shipment, error) {
	if input.OrderID == "" {
		return domain.Shipment{}, errors.New("order id is required")
	}

	now := time.Now().UTC()
	shipment := domain.Shipment{
		ID:        uuid.NewString(),
		OrderID:   input.OrderID,
		Status:    domain.ShipmentStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var existing domain.Shipment
	err := s.store.WithinTx(ctx, func(tx domain.ShipmentTx) error {
		if input.IdempotencyKey != "" {
			record, created, err := tx.ClaimIdempotency(input.IdempotencyKey, "fulfillment.create_shipment", time.Time{})
			if err != nil {
				return err
			}
			if !created {
				if record.Status != domain.IdempotencyStatusCompleted {
					return domain.ErrIdempotencyInProgress
				}
				found, err := tx.ShipmentByOrder(input.OrderID)
				if err != nil {
					return err
				}
				existing = found
				return nil
			}
		}

		if found, err := tx.ShipmentByOrder(input.OrderID); err == nil {
			existing = found
			if input.IdempotencyKey != "" {
				return tx.CompleteIdempotency(input.IdempotencyKey, "fulfillment.create_shipment", []byte(found.ID), 200)
			}
			return nil
		} else if !errors.Is(err, domain.ErrShipmentNotFound) {
			return err
		}

		if err := tx.InsertShipment(shipment); err != nil {
			return err
		}

		env, err := domain.NewEnvelope(domain.EventShipmentCreated, domain.EventAggregate{ID: shipment.ID, Type: "shipment"}, domain.ShipmentCreatedPayload{
			ShipmentID: shipment.ID,
			OrderID:    shipment.OrderID,
		})
		if err != nil {
			return err
		}
		env.CorrelationID = input.CorrelationID
		if err := tx.AppendOutbox(domain.NewOutboxMessage(env)); err != nil {
			return err
		}

		if input.IdempotencyKey != "" {
			return tx.CompleteIdempotency(input.IdempotencyKey, "fulfillment.create_shipment", []byte(shipment.ID), 201)
		}
		return nil
	})
	if err != nil {
		return domain.Shipment{}, err
	}

	if existing.ID != "" {
		return existing, nil
	}
	return shipment, nil
}

// GetShipment возвращает отгрузку по id.
func (s *Service) GetShipment(ctx context.Context, id string) (domain.Shipment, error) {
	return s.store.GetShipment(ctx, id)
}

// ShipmentByOrder возвращает отгрузку заказа.
func (s *Service) ShipmentByOrder(ctx context.Context, orderID string) (domain.Shipment, error) {
	return s.store.ShipmentByOrder(ctx, orderID)
}
