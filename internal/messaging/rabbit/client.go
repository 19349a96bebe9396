package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/dkorolev/commerce/internal/domain"
)

const (
	// DefaultExchange — общий durable topic exchange платформы.
	DefaultExchange = "commerce.events"
	// DefaultDeadLetterExchange принимает сообщения, отклонённые консьюмерами.
	DefaultDeadLetterExchange = "commerce.events.dlx"

	defaultPrefetch = 32
)

// Config задаёт параметры подключения к RabbitMQ.
type Config struct {
	URL                string
	Exchange           string
	DeadLetterExchange string
	Prefetch           int
}

// Handler обрабатывает разобранное событие. Ошибка приводит к
// nack(requeue=false): сообщение уходит в dead-letter exchange, если он
// настроен для очереди. Хендлеры обязаны быть идемпотентными — доставка
// at-least-once, и редоставка после сбоя между обработкой и ack возможна.
type Handler func(ctx context.Context, env domain.EventEnvelope) error

// SubscribeOptions описывает durable-очередь консьюмера. Очередь может
// быть привязана к exchange несколькими routing pattern-ами.
type SubscribeOptions struct {
	Queue       string
	RoutingKeys []string
	// DeadLetter добавляет x-dead-letter-exchange к аргументам очереди.
	DeadLetter bool
	// NoAck включает авто-подтверждение (только для неважных потоков).
	NoAck bool
}

// Client оборачивает подключение к RabbitMQ: публикация в topic exchange
// и подписка durable-очередей с ручным ack/nack.
type Client struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	cfg    Config
	logger *log.Entry

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Connect открывает соединение и канал, объявляет topic exchange и
// dead-letter exchange, выставляет prefetch на канал.
func Connect(cfg Config) (*Client, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.DeadLetterExchange == "" {
		cfg.DeadLetterExchange = DefaultDeadLetterExchange
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// ExchangeDeclare идемпотентен: повторное объявление существующего
	// exchange с теми же параметрами — no-op.
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare dead-letter exchange %s: %w", cfg.DeadLetterExchange, err)
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set channel prefetch: %w", err)
	}

	return &Client{
		conn:   conn,
		ch:     ch,
		cfg:    cfg,
		logger: log.WithField("component", "rabbit-client"),
	}, nil
}

// RoutingKey возвращает ключ маршрутизации для типа события: сам тип,
// либо тип с префиксом "domain.", если namespace отсутствует.
func RoutingKey(eventType string) string {
	if strings.Contains(eventType, ".") {
		return eventType
	}
	return "domain." + eventType
}

// PublishEvent сериализует envelope в JSON и публикует его persistent-сообщением.
func (c *Client) PublishEvent(ctx context.Context, env domain.EventEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}
	return c.Publish(ctx, RoutingKey(env.Type), body, true)
}

// Publish отправляет готовое тело в exchange с заданным routing key.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte, persistent bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("publish on closed rabbit client")
	}

	deliveryMode := amqp.Transient
	if persistent {
		deliveryMode = amqp.Persistent
	}

	err := c.ch.Publish(c.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s with key %s: %w", c.cfg.Exchange, routingKey, err)
	}
	return nil
}

// Subscribe объявляет durable-очередь, привязывает её к exchange по routing
// pattern и запускает цикл доставки в отдельной горутине. Цикл завершается
// по отмене ctx или закрытию канала.
func (c *Client) Subscribe(ctx context.Context, opts SubscribeOptions, handler Handler) error {
	var args amqp.Table
	if opts.DeadLetter {
		args = amqp.Table{"x-dead-letter-exchange": c.cfg.DeadLetterExchange}
	}

	if _, err := c.ch.QueueDeclare(opts.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", opts.Queue, err)
	}
	for _, key := range opts.RoutingKeys {
		if err := c.ch.QueueBind(opts.Queue, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", opts.Queue, key, err)
		}
	}

	deliveries, err := c.ch.Consume(opts.Queue, "", opts.NoAck, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", opts.Queue, err)
	}

	logger := c.logger.WithFields(log.Fields{
		"queue":        opts.Queue,
		"routing_keys": strings.Join(opts.RoutingKeys, ","),
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-deliveries:
				if !ok {
					return
				}
				c.dispatch(ctx, msg, opts, handler, logger)
			}
		}
	}()

	logger.Info("subscribed to queue")
	return nil
}

func (c *Client) dispatch(ctx context.Context, msg amqp.Delivery, opts SubscribeOptions, handler Handler, logger *log.Entry) {
	var env domain.EventEnvelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		logger.WithError(err).Warn("failed to parse event envelope, rejecting message")
		if !opts.NoAck {
			_ = msg.Nack(false, false)
		}
		return
	}

	if err := handler(ctx, env); err != nil {
		logger.WithError(err).WithFields(log.Fields{
			"event_id":   env.ID,
			"event_type": env.Type,
		}).Error("handler failed, message goes to dead-letter")
		if !opts.NoAck {
			_ = msg.Nack(false, false)
		}
		return
	}

	if !opts.NoAck {
		if err := msg.Ack(false); err != nil {
			logger.WithError(err).WithField("event_id", env.ID).Warn("failed to ack message")
		}
	}
}

// Close останавливает канал, затем соединение — строго в этом порядке.
// Запущенные горутины доставки дожидаются закрытия каналов доставки.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var chErr error
	if err := c.ch.Close(); err != nil {
		chErr = fmt.Errorf("close channel: %w", err)
	}
	if err := c.conn.Close(); err != nil && chErr == nil {
		chErr = fmt.Errorf("close connection: %w", err)
	}
	c.wg.Wait()
	return chErr
}

var _ domain.EventPublisher = (*Client)(nil)
