package app

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Имена сервисов платформы.
const (
	ServiceCart        = "cart"
	ServiceCatalog     = "catalog"
	ServiceOrders      = "orders"
	ServiceInventory   = "inventory"
	ServicePayments    = "payments"
	ServiceFulfillment = "fulfillment"
)

// Config — настройки процесса сервиса. Один бинарь — один сервис; общие
// секции (БД, брокер, секреты) читаются всеми одинаково.
type Config struct {
	// Service задаётся бинарём сервиса, не окружением.
	Service string `ignored:"true"`

	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// Пустой DATABASE_URL включает in-memory хранилища (локальная разработка).
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	MigrateOnStart bool   `envconfig:"MIGRATE_ON_START" default:"false"`

	// Пустой RABBIT_URL отключает публикацию и консьюмеров.
	RabbitURL      string `envconfig:"RABBIT_URL"`
	RabbitExchange string `envconfig:"RABBIT_EXCHANGE" default:"commerce.events"`
	RabbitDLX      string `envconfig:"RABBIT_DLX" default:"commerce.events.dlx"`
	RabbitPrefetch int    `envconfig:"RABBIT_PREFETCH" default:"16"`

	// Пустой REDIS_ADDR переключает HTTP replay-хранилище на память процесса.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	JWTSecret      string `envconfig:"JWT_SECRET"`
	JWTIssuer      string `envconfig:"JWT_ISSUER"`
	CartSecret     string `envconfig:"CART_SIGNING_SECRET"`
	InternalSecret string `envconfig:"INTERNAL_SERVICE_SECRET"`

	PaymentsBaseURL    string        `envconfig:"PAYMENTS_BASE_URL"`
	FulfillmentBaseURL string        `envconfig:"FULFILLMENT_BASE_URL"`
	DownstreamTimeout  time.Duration `envconfig:"DOWNSTREAM_TIMEOUT" default:"5s"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`

	ReservationTTL time.Duration `envconfig:"RESERVATION_TTL" default:"15m"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`

	IdempotencyCleanupInterval time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL" default:"1h"`
}

// LoadConfig читает конфигурацию сервиса из окружения.
func LoadConfig(service string) (Config, error) {
	switch service {
	case ServiceCart, ServiceCatalog, ServiceOrders, ServiceInventory, ServicePayments, ServiceFulfillment:
	default:
		return Config{}, fmt.Errorf("unknown service %q", service)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.Service = service
	return cfg, nil
}
