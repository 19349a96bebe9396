package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultErrorBackoff   = 5 * time.Second
	maxErrorBackoff       = 15 * time.Second
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commerce_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result.",
	}, []string{"service", "result"})
	outboxPendingRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "commerce_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	}, []string{"service"})
	outboxFailedRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "commerce_outbox_failed_records",
		Help: "Current number of failed records awaiting operator requeue.",
	}, []string{"service"})
	outboxOldestPendingAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "commerce_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	}, []string{"service"})
)

// WorkerOptions задаёт параметры outbox publisher воркера.
type WorkerOptions struct {
	Logger         *log.Entry
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	ErrorBackoff   time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации перед переводом в failed.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// WithErrorBackoff задаёт паузу после неудачного polling-цикла.
func WithErrorBackoff(backoff time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.ErrorBackoff = backoff
	}
}

// Worker публикует pending-записи outbox в брокер. Каждая запись сначала
// захватывается условным переводом pending → processing, поэтому несколько
// экземпляров воркера не публикуют одно событие дважды.
type Worker struct {
	service        string
	store          domain.OutboxStore
	publisher      domain.EventPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	errorBackoff   time.Duration
}

// NewWorker создаёт publisher воркер над outbox-таблицей сервиса.
func NewWorker(service string, store domain.OutboxStore, publisher domain.EventPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
		ErrorBackoff:   defaultErrorBackoff,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker").WithField("service", service)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = defaultErrorBackoff
	}
	if opts.ErrorBackoff > maxErrorBackoff {
		opts.ErrorBackoff = maxErrorBackoff
	}

	return &Worker{
		service:        service,
		store:          store,
		publisher:      publisher,
		logger:         logger,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		errorBackoff:   opts.ErrorBackoff,
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.store == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: store or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.processOnceWithBackoff(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOnceWithBackoff(ctx)
		}
	}
}

func (w *Worker) processOnceWithBackoff(ctx context.Context) {
	if w.ProcessOnce(ctx) {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(w.errorBackoff):
	}
}

// ProcessOnce выполняет один polling-цикл. false означает, что цикл
// завершился инфраструктурной ошибкой и стоит выдержать паузу.
func (w *Worker) ProcessOnce(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}

	w.refreshBacklogMetrics(ctx)

	messages, err := w.store.PendingOutbox(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return false
	}
	if len(messages) == 0 {
		return true
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			return true
		}

		claimed, err := w.store.ClaimOutbox(ctx, msg.ID)
		if err != nil {
			w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to claim outbox message")
			return false
		}
		if !claimed {
			// Запись ушла другому экземпляру воркера между pull и claim.
			continue
		}

		if err := w.publishWithRetry(ctx, msg); err != nil {
			w.logger.WithError(err).WithFields(log.Fields{
				"outbox_id":  msg.ID,
				"event_type": msg.Type,
			}).Error("outbox publish failed after retries")
			outboxPublishAttempts.WithLabelValues(w.service, "failed").Inc()

			if markErr := w.store.MarkOutboxFailed(ctx, msg.ID, err.Error()); markErr != nil {
				w.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("failed to mark outbox as failed")
			}
			continue
		}

		if err := w.store.MarkOutboxPublished(ctx, msg.ID); err != nil {
			w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to mark outbox as published")
		}
	}

	w.refreshBacklogMetrics(ctx)
	return true
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.publisher.PublishEvent(ctx, msg.Envelope())
		if err == nil {
			outboxPublishAttempts.WithLabelValues(w.service, "published").Inc()
			return nil
		}
		lastErr = err
		outboxPublishAttempts.WithLabelValues(w.service, "retry_error").Inc()

		if attempt >= w.maxAttempts {
			break
		}

		delay := w.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	stats, err := w.store.OutboxStats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.WithLabelValues(w.service).Set(float64(stats.PendingCount))
	outboxFailedRecords.WithLabelValues(w.service).Set(float64(stats.FailedCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.WithLabelValues(w.service).Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestPendingAge.WithLabelValues(w.service).Set(age)
}

func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return w.retryBaseDelay
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}
