package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/domain"
)

var consumedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "commerce_inventory_consumed_events_total",
	Help: "Saga events consumed by the inventory service grouped by type and outcome.",
}, []string{"event_type", "outcome"})

// Consumer применяет события саги к движку резервирования: OrderPlaced
// резервирует сток, PaymentAuthorized коммитит, OrderCanceled и
// PaymentFailed снимают резерв. Id входящего события служит dedup-ключом,
// поэтому повторная доставка не даёт повторных эффектов.
type Consumer struct {
	engine *Engine
	logger *log.Entry
}

// NewConsumer создаёт консьюмер поверх движка резервирования.
func NewConsumer(engine *Engine) *Consumer {
	return &Consumer{
		engine: engine,
		logger: log.WithField("component", "inventory-consumer"),
	}
}

// Handle обрабатывает одно событие. Зарегистрированные, но не участвующие
// в саге типы подтверждаются без эффектов (очередь слушает orders.# и
// payments.# целиком); незарегистрированные типы уходят в DLX.
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

	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = env.ID
	}

	var outcome Outcome
	switch p := payload.(type) {
	case *domain.OrderPlacedPayload:
		items := make([]domain.ReservationItem, 0, len(p.Items))
		for _, line := range p.Items {
			items = append(items, domain.ReservationItem{SKU: line.SKU, Qty: line.Qty})
		}
		result, err := c.engine.Reserve(ctx, ReserveCommand{
			OrderID:       p.OrderID,
			Items:         items,
			MessageID:     env.ID,
			Source:        env.Type,
			CorrelationID: correlationID,
			CausationID:   env.ID,
		})
		if err != nil {
			return fmt.Errorf("reserve stock for order %s: %w", p.OrderID, err)
		}
		outcome = result.Outcome

	case *domain.PaymentAuthorizedPayload:
		result, err := c.engine.Commit(ctx, TransitionCommand{
			OrderID:       p.OrderID,
			MessageID:     env.ID,
			Source:        env.Type,
			CorrelationID: correlationID,
			CausationID:   env.ID,
		})
		if err != nil {
			return fmt.Errorf("commit stock for order %s: %w", p.OrderID, err)
		}
		outcome = result.Outcome

	case *domain.OrderCanceledPayload:
		result, err := c.engine.Release(ctx, TransitionCommand{
			OrderID:       p.OrderID,
			Reason:        p.Reason,
			Mode:          ReleaseModeRelease,
			MessageID:     env.ID,
			Source:        env.Type,
			CorrelationID: correlationID,
			CausationID:   env.ID,
		})
		if err != nil {
			return fmt.Errorf("release stock for order %s: %w", p.OrderID, err)
		}
		outcome = result.Outcome

	case *domain.PaymentFailedPayload:
		result, err := c.engine.Release(ctx, TransitionCommand{
			OrderID:       p.OrderID,
			Reason:        p.Reason,
			Mode:          ReleaseModeRelease,
			MessageID:     env.ID,
			Source:        env.Type,
			CorrelationID: correlationID,
			CausationID:   env.ID,
		})
		if err != nil {
			return fmt.Errorf("release stock for order %s: %w", p.OrderID, err)
		}
		outcome = result.Outcome

	default:
		// Событие из подписанного pattern-а, не участвующее в саге
		// (например, payments.payment.captured.v1).
		consumedEvents.WithLabelValues(env.Type, "ignored").Inc()
		return nil
	}

	consumedEvents.WithLabelValues(env.Type, string(outcome)).Inc()
	return nil
}
