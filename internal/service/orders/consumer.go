package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/client"
	"github.com/dkorolev/commerce/internal/domain"
)

var (
	consumedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commerce_orders_consumed_events_total",
		Help: "Inventory events consumed by the orders service grouped by type and outcome.",
	}, []string{"event_type", "outcome"})
	downstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commerce_orders_downstream_calls_total",
		Help: "Saga downstream calls grouped by target and result.",
	}, []string{"target", "result"})
)

// Consumer продолжает сагу по событиям инвентаря: успешный резерв
// переводит заказ в reserved и запускает оплату с отгрузкой, отказ
// резерва отклоняет заказ с причиной.
type Consumer struct {
	store       domain.OrderStore
	payments    *client.PaymentsClient
	fulfillment *client.FulfillmentClient
	logger      *log.Entry
}

// NewConsumer создаёт консьюмер orders-сервиса.
func NewConsumer(store domain.OrderStore, payments *client.PaymentsClient, fulfillment *client.FulfillmentClient) *Consumer {
	return &Consumer{
		store:       store,
		payments:    payments,
		fulfillment: fulfillment,
		logger:      log.WithField("component", "orders-consumer"),
	}
}

// Handle обрабатывает одно событие инвентаря.
func (c *Consumer) Handle(ctx context.Context, env domain.EventEnvelope) error {
	payload, err := domain.DecodePayload(env)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownEventType) {
			// Незарегистрированный тип — ошибка контракта, а не мусор:
			// nack без requeue отправит сообщение в DLX, где оно видно.
			c.logger.WithFields(log.Fields{
				"event_type": env.Type,
				"event_id":   env.ID,
			}).Warn("unknown event type, rejecting to dead letter")
			consumedEvents.WithLabelValues(env.Type, "unknown").Inc()
			return fmt.Errorf("event %s: %w", env.ID, domain.ErrUnknownEventType)
		}
		return fmt.Errorf("decode event %s: %w", env.ID, err)
	}

	switch p := payload.(type) {
	case *domain.StockReservedPayload:
		return c.handleStockReserved(ctx, env, p)
	case *domain.StockReservationFailedPayload:
		return c.handleReservationFailed(ctx, env, p)
	default:
		// Остальные события inventory.stock.# (committed, released,
		// expired, adjusted) заказ не двигают.
		consumedEvents.WithLabelValues(env.Type, "ignored").Inc()
		return nil
	}
}

// handleStockReserved переводит заказ в reserved внутри транзакции с
// dedup-меткой. Только первая отметка запускает downstream-вызовы:
// повторная доставка события не создаёт второй платёж или отгрузку.
func (c *Consumer) handleStockReserved(ctx context.Context, env domain.EventEnvelope, p *domain.StockReservedPayload) error {
	var (
		first bool
		order domain.Order
	)
	err := c.store.WithinTx(ctx, func(tx domain.OrderTx) error {
		fresh, err := tx.ClaimMessage(env.ID, env.Type)
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}
		first = true

		order, err = tx.GetOrderForUpdate(p.OrderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPlaced {
			// Заказ уже отменён или отклонён; резерв снимет компенсация.
			first = false
			return nil
		}

		order.Status = domain.OrderStatusReserved
		order.UpdatedAt = time.Now().UTC()
		return tx.UpdateOrder(order)
	})
	if err != nil {
		consumedEvents.WithLabelValues(env.Type, "error").Inc()
		return fmt.Errorf("mark order %s reserved: %w", p.OrderID, err)
	}
	if !first {
		consumedEvents.WithLabelValues(env.Type, "duplicate").Inc()
		return nil
	}
	consumedEvents.WithLabelValues(env.Type, "applied").Inc()

	// Ошибки downstream-вызовов не откатывают резерв и не проваливают
	// обработку события: оплата и отгрузка достижимы оператором повторно,
	// а nack привёл бы к повторной доставке уже применённого события.
	c.runDownstream(ctx, order)
	return nil
}

func (c *Consumer) runDownstream(ctx context.Context, order domain.Order) {
	logger := c.logger.WithField("order_id", order.ID)

	if c.payments == nil {
		logger.Warn("payments client is not configured, skipping saga payment")
		return
	}
	payment, err := c.payments.AuthorizeAndCapture(ctx, client.AuthorizeAndCaptureRequest{
		OrderID:     order.ID,
		AmountCents: order.Snapshot.Totals.TotalCents,
		Currency:    order.Currency,
	})
	if err != nil {
		downstreamCalls.WithLabelValues("payments", "error").Inc()
		logger.WithError(err).Error("saga payment call failed")
		return
	}
	downstreamCalls.WithLabelValues("payments", "ok").Inc()
	logger.WithField("payment_id", payment.PaymentID).Info("saga payment completed")

	if c.fulfillment == nil {
		logger.Warn("fulfillment client is not configured, skipping shipment")
		return
	}
	shipment, err := c.fulfillment.CreateShipment(ctx, client.CreateShipmentRequest{OrderID: order.ID})
	if err != nil {
		downstreamCalls.WithLabelValues("fulfillment", "error").Inc()
		logger.WithError(err).Error("saga shipment call failed")
		return
	}
	downstreamCalls.WithLabelValues("fulfillment", "ok").Inc()
	logger.WithField("shipment_id", shipment.ShipmentID).Info("saga shipment created")
}

// handleReservationFailed отклоняет заказ с машиночитаемой причиной.
func (c *Consumer) handleReservationFailed(ctx context.Context, env domain.EventEnvelope, p *domain.StockReservationFailedPayload) error {
	err := c.store.WithinTx(ctx, func(tx domain.OrderTx) error {
		fresh, err := tx.ClaimMessage(env.ID, env.Type)
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}

		order, err := tx.GetOrderForUpdate(p.OrderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPlaced {
			return nil
		}

		order.Status = domain.OrderStatusRejected
		order.CancellationReason = p.Reason
		order.UpdatedAt = time.Now().UTC()
		return tx.UpdateOrder(order)
	})
	if err != nil {
		consumedEvents.WithLabelValues(env.Type, "error").Inc()
		return fmt.Errorf("reject order %s: %w", p.OrderID, err)
	}
	consumedEvents.WithLabelValues(env.Type, "applied").Inc()
	return nil
}
