package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/dkorolev/commerce/internal/health"
	"github.com/dkorolev/commerce/internal/idempotency"
	"github.com/dkorolev/commerce/internal/messaging/rabbit"
	"github.com/dkorolev/commerce/internal/storage/postgres"
)

// openPostgres открывает пул и опционально накатывает миграции.
func openPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*postgres.Store, error) {
	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := store.MigrateUp(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.Info("database migrations applied")
	}
	return store, nil
}

// connectBroker подключает клиент брокера, объявляя exchange и DLX.
func connectBroker(cfg Config) (*rabbit.Client, error) {
	return rabbit.Connect(rabbit.Config{
		URL:                cfg.RabbitURL,
		Exchange:           cfg.RabbitExchange,
		DeadLetterExchange: cfg.RabbitDLX,
		Prefetch:           cfg.RabbitPrefetch,
	})
}

// newReplayStore выбирает хранилище HTTP-replay ответов: Redis в проде,
// память процесса без него.
func newReplayStore(cfg Config, logger *log.Entry) idempotency.ReplayStore {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR is not set, using in-process replay store")
		return idempotency.NewMemoryReplayStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	return idempotency.NewRedisReplayStore(client)
}

// registerHealthCheckers вешает проверки зависимостей на health handler.
func registerHealthCheckers(handler *healthcheck.Handler, pg *postgres.Store) {
	if pg != nil {
		handler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pg.Ping(ctx)
		}))
	}
}

// startSideServer запускает служебный HTTP-сервер: /metrics и health-пробы.
func startSideServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("side server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
