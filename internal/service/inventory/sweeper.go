package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultSweepInterval  = 30 * time.Second
	defaultSweepBatchSize = 200
)

var (
	sweeperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commerce_inventory_sweeper_runs_total",
		Help: "Total number of reservation sweeper runs grouped by result.",
	}, []string{"result"})
	sweeperLastSwept = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commerce_inventory_sweeper_last_swept",
		Help: "Number of orders expired during the last sweeper run.",
	})
)

// SweeperOptions задаёт параметры воркера снятия просроченных резервов.
type SweeperOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*SweeperOptions)

// WithSweeperLogger задаёт logger для воркера.
func WithSweeperLogger(logger *log.Entry) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

// WithSweepInterval задаёт интервал между проходами.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Interval = interval
	}
}

// WithSweepBatchSize задаёт размер выборки просроченных резервов за проход.
func WithSweepBatchSize(batchSize int) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.BatchSize = batchSize
	}
}

// Sweeper периодически снимает резервы с истёкшим TTL. Проход идемпотентен:
// уже EXPIRED-строки повторно не трогаются.
type Sweeper struct {
	engine    *Engine
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewSweeper создаёт воркер снятия просроченных резервов.
func NewSweeper(engine *Engine, options ...SweeperOption) *Sweeper {
	opts := SweeperOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &Sweeper{
		engine:    engine,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодический sweep до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.engine == nil {
		s.logger.Warn("reservation sweeper is disabled: engine is nil")
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	swept, err := s.engine.ExpireSweep(ctx, s.batchSize)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sweeperRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("reservation sweep failed")
		return
	}

	sweeperRunsTotal.WithLabelValues("ok").Inc()
	sweeperLastSwept.Set(float64(swept))
	if swept > 0 {
		s.logger.WithField("expired_orders", swept).Info("expired reservations released")
	}
}
