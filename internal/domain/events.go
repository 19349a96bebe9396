package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Типы доменных событий. Routing key в брокере совпадает с типом события,
// поэтому все типы уже содержат dot-namespace сервиса-владельца.
const (
	EventCartCheckedOut = "cart.cart.checked_out.v1"

	EventProductCreated = "catalog.product.created.v1"
	EventProductUpdated = "catalog.product.updated.v1"

	EventOrderPlaced   = "orders.order.placed.v1"
	EventOrderCanceled = "orders.order.canceled.v1"

	EventStockReserved          = "inventory.stock.reserved.v1"
	EventStockReservationFailed = "inventory.stock.reservation_failed.v1"
	EventStockCommitted         = "inventory.stock.committed.v1"
	EventStockReleased          = "inventory.stock.released.v1"
	EventStockExpired           = "inventory.stock.expired.v1"
	EventStockAdjusted          = "inventory.stock.adjusted.v1"

	EventPaymentAuthorized = "payments.payment.authorized.v1"
	EventPaymentCaptured   = "payments.payment.captured.v1"
	EventPaymentFailed     = "payments.payment.failed.v1"

	EventShipmentCreated = "fulfillment.shipment.created.v1"
)

// Коды причин отказа резервирования. Передаются в payload события,
// а не через ошибки: отказ — ожидаемый бизнес-исход.
const (
	ReservationFailureInvalidItems      = "INVALID_ITEMS"
	ReservationFailureInsufficientStock = "INSUFFICIENT_STOCK"
)

// EventAggregate идентифицирует агрегат, породивший событие.
type EventAggregate struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Version int    `json:"version,omitempty"`
}

// EventEnvelope — wire-формат события на шине. Payload остаётся сырым JSON
// до границы консьюмера, где разбирается в типизированную структуру.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Aggregate     EventAggregate  `json:"aggregate"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// OrderLineRef — позиция заказа в payload событий (sku + количество).
type OrderLineRef struct {
	SKU string `json:"sku" validate:"required"`
	Qty int32  `json:"qty" validate:"gt=0"`
}

// InsufficientItem описывает нехватку стока по конкретному SKU.
type InsufficientItem struct {
	SKU       string `json:"sku" validate:"required"`
	Qty       int32  `json:"qty" validate:"gt=0"`
	Available int64  `json:"available" validate:"gte=0"`
}

// CartCheckedOutPayload публикуется cart-сервисом после чекаута.
type CartCheckedOutPayload struct {
	CartID      string `json:"cartId" validate:"required"`
	SnapshotID  string `json:"snapshotId" validate:"required"`
	CartVersion int64  `json:"cartVersion" validate:"gte=0"`
	TotalCents  int64  `json:"totalCents" validate:"gte=0"`
	Currency    string `json:"currency" validate:"required"`
}

// ProductCreatedPayload публикуется catalog-сервисом при создании товара.
type ProductCreatedPayload struct {
	ProductID  string `json:"productId" validate:"required"`
	SKU        string `json:"sku" validate:"required"`
	Name       string `json:"name" validate:"required"`
	PriceCents int64  `json:"priceCents" validate:"gte=0"`
	Currency   string `json:"currency" validate:"required"`
}

// ProductUpdatedPayload публикуется catalog-сервисом при обновлении товара.
type ProductUpdatedPayload struct {
	ProductID  string `json:"productId" validate:"required"`
	SKU        string `json:"sku" validate:"required"`
	Name       string `json:"name" validate:"required"`
	PriceCents int64  `json:"priceCents" validate:"gte=0"`
	Currency   string `json:"currency" validate:"required"`
	Active     bool   `json:"active"`
}

// OrderPlacedPayload запускает сагу: инвентарь резервирует сток по этому событию.
type OrderPlacedPayload struct {
	OrderID     string         `json:"orderId" validate:"required"`
	UserID      string         `json:"userId,omitempty"`
	Currency    string         `json:"currency" validate:"required"`
	AmountCents int64          `json:"amountCents" validate:"gte=0"`
	Items       []OrderLineRef `json:"items" validate:"required,min=1,dive"`
}

// OrderCanceledPayload — компенсация: инвентарь снимает резерв.
type OrderCanceledPayload struct {
	OrderID string `json:"orderId" validate:"required"`
	Reason  string `json:"reason,omitempty"`
}

// StockReservedPayload — резерв создан для всех позиций заказа.
type StockReservedPayload struct {
	OrderID   string         `json:"orderId" validate:"required"`
	Items     []OrderLineRef `json:"items" validate:"required,min=1,dive"`
	ExpiresAt time.Time      `json:"expiresAt" validate:"required"`
}

// StockReservationFailedPayload — отказ резервирования с машиночитаемой причиной.
type StockReservationFailedPayload struct {
	OrderID           string             `json:"orderId" validate:"required"`
	Reason            string             `json:"reason" validate:"required,oneof=INVALID_ITEMS INSUFFICIENT_STOCK"`
	InsufficientItems []InsufficientItem `json:"insufficientItems,omitempty" validate:"dive"`
}

// StockCommittedPayload — сток физически списан после оплаты.
type StockCommittedPayload struct {
	OrderID string         `json:"orderId" validate:"required"`
	Items   []OrderLineRef `json:"items" validate:"required,min=1,dive"`
}

// StockReleasedPayload — резерв снят (отмена заказа или провал оплаты).
type StockReleasedPayload struct {
	OrderID string         `json:"orderId" validate:"required"`
	Items   []OrderLineRef `json:"items" validate:"required,min=1,dive"`
	Reason  string         `json:"reason,omitempty"`
}

// StockExpiredPayload — резерв снят sweeper-ом по истечении TTL.
type StockExpiredPayload struct {
	OrderID string         `json:"orderId" validate:"required"`
	Items   []OrderLineRef `json:"items" validate:"required,min=1,dive"`
}

// StockAdjustedPayload — административная корректировка остатка.
type StockAdjustedPayload struct {
	SKU    string `json:"sku" validate:"required"`
	OnHand int64  `json:"onHand" validate:"gte=0"`
}

// PaymentAuthorizedPayload — сумма захолдирована; инвентарь коммитит резерв.
type PaymentAuthorizedPayload struct {
	PaymentID   string `json:"paymentId" validate:"required"`
	OrderID     string `json:"orderId" validate:"required"`
	AmountCents int64  `json:"amountCents" validate:"gte=0"`
	Currency    string `json:"currency" validate:"required"`
}

// PaymentCapturedPayload — деньги списаны в пользу мерчанта.
type PaymentCapturedPayload struct {
	PaymentID   string `json:"paymentId" validate:"required"`
	OrderID     string `json:"orderId" validate:"required"`
	AmountCents int64  `json:"amountCents" validate:"gte=0"`
	Currency    string `json:"currency" validate:"required"`
}

// PaymentFailedPayload — компенсация: инвентарь снимает резерв.
type PaymentFailedPayload struct {
	OrderID string `json:"orderId" validate:"required"`
	Reason  string `json:"reason,omitempty"`
}

// ShipmentCreatedPayload — отгрузка создана fulfillment-сервисом.
type ShipmentCreatedPayload struct {
	ShipmentID string `json:"shipmentId" validate:"required"`
	OrderID    string `json:"orderId" validate:"required"`
}

var payloadValidator = validator.New()

// NewEnvelope собирает envelope события с новым id и текущим временем.
// Payload сериализуется сразу, чтобы ошибка маршалинга всплыла до записи в outbox.
func NewEnvelope(eventType string, aggregate EventAggregate, payload any) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal event payload %s: %w", eventType, err)
	}
	if aggregate.Version == 0 {
		aggregate.Version = 1
	}
	return EventEnvelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Aggregate:  aggregate,
		Payload:    raw,
	}, nil
}

// DecodePayload разбирает payload envelope-а в типизированную структуру
// и валидирует её. Неизвестный тип события — явная ошибка, а не тихий skip.
func DecodePayload(env EventEnvelope) (any, error) {
	var payload any
	switch env.Type {
	case EventCartCheckedOut:
		payload = &CartCheckedOutPayload{}
	case EventProductCreated:
		payload = &ProductCreatedPayload{}
	case EventProductUpdated:
		payload = &ProductUpdatedPayload{}
	case EventOrderPlaced:
		payload = &OrderPlacedPayload{}
	case EventOrderCanceled:
		payload = &OrderCanceledPayload{}
	case EventStockReserved:
		payload = &StockReservedPayload{}
	case EventStockReservationFailed:
		payload = &StockReservationFailedPayload{}
	case EventStockCommitted:
		payload = &StockCommittedPayload{}
	case EventStockReleased:
		payload = &StockReleasedPayload{}
	case EventStockExpired:
		payload = &StockExpiredPayload{}
	case EventStockAdjusted:
		payload = &StockAdjustedPayload{}
	case EventPaymentAuthorized:
		payload = &PaymentAuthorizedPayload{}
	case EventPaymentCaptured:
		payload = &PaymentCapturedPayload{}
	case EventPaymentFailed:
		payload = &PaymentFailedPayload{}
	case EventShipmentCreated:
		payload = &ShipmentCreatedPayload{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}

	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload of %s: %w", env.Type, err)
	}
	if err := payloadValidator.Struct(payload); err != nil {
		return nil, fmt.Errorf("validate payload of %s: %w", env.Type, err)
	}
	return payload, nil
}
