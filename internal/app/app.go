package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/auth"
	"github.com/dkorolev/commerce/internal/client"
	"github.com/dkorolev/commerce/internal/domain"
	healthcheck "github.com/dkorolev/commerce/internal/health"
	"github.com/dkorolev/commerce/internal/httpapi"
	"github.com/dkorolev/commerce/internal/messaging/rabbit"
	cartsvc "github.com/dkorolev/commerce/internal/service/cart"
	catalogsvc "github.com/dkorolev/commerce/internal/service/catalog"
	fulfillmentsvc "github.com/dkorolev/commerce/internal/service/fulfillment"
	idemsvc "github.com/dkorolev/commerce/internal/service/idempotency"
	inventorysvc "github.com/dkorolev/commerce/internal/service/inventory"
	orderssvc "github.com/dkorolev/commerce/internal/service/orders"
	outboxsvc "github.com/dkorolev/commerce/internal/service/outbox"
	paymentssvc "github.com/dkorolev/commerce/internal/service/payments"
	"github.com/dkorolev/commerce/internal/storage/memory"
	"github.com/dkorolev/commerce/internal/storage/postgres"
	"github.com/dkorolev/commerce/internal/version"
)

// runnable — фоновая задача сервиса (воркеры, свипер, cleanup).
type runnable interface {
	Run(ctx context.Context)
}

// Run собирает зависимости сервиса cfg.Service и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithFields(log.Fields{"component": "app", "service": cfg.Service})

	var pg *postgres.Store
	if cfg.DatabaseURL != "" {
		store, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		pg = store
		defer func() { _ = pg.Close() }()
	} else {
		logger.Warn("DATABASE_URL is not set, using in-memory stores")
	}

	var broker *rabbit.Client
	if cfg.RabbitURL != "" {
		b, err := connectBroker(cfg)
		if err != nil {
			return err
		}
		broker = b
		defer func() { _ = broker.Close() }()
	} else {
		logger.Warn("RABBIT_URL is not set, outbox publishing and consumers are disabled")
	}

	verifier := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	engine := httpapi.NewEngine(cfg.Service + "-http")

	var workers []runnable
	switch cfg.Service {
	case ServiceCart:
		workers = setupCart(cfg, pg, broker, verifier, engine, logger)
	case ServiceCatalog:
		workers = setupCatalog(cfg, pg, broker, verifier, engine)
	case ServiceOrders:
		w, err := setupOrders(ctx, cfg, pg, broker, verifier, engine)
		if err != nil {
			return err
		}
		workers = w
	case ServiceInventory:
		w, err := setupInventory(ctx, cfg, pg, broker, engine)
		if err != nil {
			return err
		}
		workers = w
	case ServicePayments:
		workers = setupPayments(cfg, pg, broker, engine)
	case ServiceFulfillment:
		workers = setupFulfillment(cfg, pg, broker, engine)
	}

	for _, w := range workers {
		go w.Run(ctx)
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	registerHealthCheckers(healthHandler, pg)
	sideSrv := startSideServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(srv, logger)
		shutdownHTTP(sideSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(sideSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupCart(cfg Config, pg *postgres.Store, broker *rabbit.Client, verifier domain.TokenVerifier, engine *gin.Engine, logger *log.Entry) []runnable {
	var (
		store       domain.CartStore
		prices      cartsvc.PriceSource
		outboxStore domain.OutboxStore
	)
	if pg != nil {
		store = postgres.NewCartStore(pg)
		prices = postgres.NewCatalogStore(pg)
		outboxStore = postgres.NewOutboxRepo(pg, postgres.CartOutboxTable)
	} else {
		mem := memory.NewCartStore(nil)
		store = mem
		prices = memory.NewCatalogStore(mem.Outbox(), nil)
		outboxStore = mem.Outbox()
	}

	service := cartsvc.NewService(store, prices, []byte(cfg.CartSecret))
	replay := newReplayStore(cfg, logger)
	httpapi.NewCartHandler(service, verifier, replay).Register(engine)

	return outboxWorkers(cfg, ServiceCart, outboxStore, broker)
}

func setupCatalog(cfg Config, pg *postgres.Store, broker *rabbit.Client, verifier domain.TokenVerifier, engine *gin.Engine) []runnable {
	var (
		store       domain.CatalogStore
		outboxStore domain.OutboxStore
		idemStore   domain.IdempotencyStore
	)
	if pg != nil {
		store = postgres.NewCatalogStore(pg)
		outboxStore = postgres.NewOutboxRepo(pg, postgres.CatalogOutboxTable)
		idemStore = postgres.NewIdempotencyRepo(pg, postgres.CatalogIdempotencyTable)
	} else {
		mem := memory.NewCatalogStore(nil, nil)
		store = mem
		outboxStore = mem.Outbox()
		idemStore = mem.Idempotency()
	}

	service := catalogsvc.NewService(store)
	httpapi.NewCatalogHandler(service, verifier).Register(engine)

	workers := outboxWorkers(cfg, ServiceCatalog, outboxStore, broker)
	return append(workers, cleanupWorker(cfg, ServiceCatalog, idemStore))
}

func setupOrders(ctx context.Context, cfg Config, pg *postgres.Store, broker *rabbit.Client, verifier domain.TokenVerifier, engine *gin.Engine) ([]runnable, error) {
	var (
		store       domain.OrderStore
		outboxStore domain.OutboxStore
		idemStore   domain.IdempotencyStore
	)
	if pg != nil {
		store = postgres.NewOrderStore(pg)
		outboxStore = postgres.NewOutboxRepo(pg, postgres.OrdersOutboxTable)
		idemStore = postgres.NewIdempotencyRepo(pg, postgres.OrdersIdempotencyTable)
	} else {
		mem := memory.NewOrderStore(nil, nil)
		store = mem
		outboxStore = mem.Outbox()
		idemStore = mem.Idempotency()
	}

	service := orderssvc.NewService(store, []byte(cfg.CartSecret))
	httpapi.NewOrdersHandler(service, verifier).Register(engine)

	payments := client.NewPaymentsClient(client.ServiceConfig{
		BaseURL: cfg.PaymentsBaseURL,
		Timeout: cfg.DownstreamTimeout,
		Secret:  cfg.InternalSecret,
	})
	fulfillment := client.NewFulfillmentClient(client.ServiceConfig{
		BaseURL: cfg.FulfillmentBaseURL,
		Timeout: cfg.DownstreamTimeout,
		Secret:  cfg.InternalSecret,
	})
	consumer := orderssvc.NewConsumer(store, payments, fulfillment)

	if broker != nil {
		err := broker.Subscribe(ctx, rabbit.SubscribeOptions{
			Queue:       "orders.saga",
			RoutingKeys: []string{"inventory.stock.#"},
			DeadLetter:  true,
		}, consumer.Handle)
		if err != nil {
			return nil, err
		}
	}

	workers := outboxWorkers(cfg, ServiceOrders, outboxStore, broker)
	return append(workers, cleanupWorker(cfg, ServiceOrders, idemStore)), nil
}

func setupInventory(ctx context.Context, cfg Config, pg *postgres.Store, broker *rabbit.Client, engine *gin.Engine) ([]runnable, error) {
	var (
		store       domain.InventoryStore
		outboxStore domain.OutboxStore
	)
	if pg != nil {
		store = postgres.NewInventoryStore(pg)
		outboxStore = postgres.NewOutboxRepo(pg, postgres.InventoryOutboxTable)
	} else {
		mem := memory.NewInventoryStore(nil)
		store = mem
		outboxStore = mem.Outbox()
	}

	invEngine := inventorysvc.NewEngine(store, inventorysvc.WithDefaultTTL(cfg.ReservationTTL))
	httpapi.NewInventoryHandler(invEngine, store, cfg.InternalSecret).Register(engine)
	consumer := inventorysvc.NewConsumer(invEngine)

	if broker != nil {
		err := broker.Subscribe(ctx, rabbit.SubscribeOptions{
			Queue:       "inventory.saga",
			RoutingKeys: []string{"orders.#", "payments.#"},
			DeadLetter:  true,
		}, consumer.Handle)
		if err != nil {
			return nil, err
		}
	}

	workers := outboxWorkers(cfg, ServiceInventory, outboxStore, broker)
	sweeper := inventorysvc.NewSweeper(invEngine, inventorysvc.WithSweepInterval(cfg.SweepInterval))
	return append(workers, sweeper), nil
}

func setupPayments(cfg Config, pg *postgres.Store, broker *rabbit.Client, engine *gin.Engine) []runnable {
	var (
		store       domain.PaymentStore
		outboxStore domain.OutboxStore
		idemStore   domain.IdempotencyStore
	)
	if pg != nil {
		store = postgres.NewPaymentStore(pg)
		outboxStore = postgres.NewOutboxRepo(pg, postgres.PaymentsOutboxTable)
		idemStore = postgres.NewIdempotencyRepo(pg, postgres.PaymentsIdempotencyTable)
	} else {
		mem := memory.NewPaymentStore(nil, nil)
		store = mem
		outboxStore = mem.Outbox()
		idemStore = mem.Idempotency()
	}

	service := paymentssvc.NewService(store)
	httpapi.NewPaymentsHandler(service, cfg.InternalSecret).Register(engine)

	workers := outboxWorkers(cfg, ServicePayments, outboxStore, broker)
	return append(workers, cleanupWorker(cfg, ServicePayments, idemStore))
}

func setupFulfillment(cfg Config, pg *postgres.Store, broker *rabbit.Client, engine *gin.Engine) []runnable {
	var (
		store       domain.ShipmentStore
		outboxStore domain.OutboxStore
		idemStore   domain.IdempotencyStore
	)
	if pg != nil {
		store = postgres.NewShipmentStore(pg)
		outboxStore = postgres.NewOutboxRepo(pg, postgres.FulfillmentOutboxTable)
		idemStore = postgres.NewIdempotencyRepo(pg, postgres.FulfillmentIdempotencyTable)
	} else {
		mem := memory.NewShipmentStore(nil, nil)
		store = mem
		outboxStore = mem.Outbox()
		idemStore = mem.Idempotency()
	}

	service := fulfillmentsvc.NewService(store)
	httpapi.NewFulfillmentHandler(service, cfg.InternalSecret).Register(engine)

	workers := outboxWorkers(cfg, ServiceFulfillment, outboxStore, broker)
	return append(workers, cleanupWorker(cfg, ServiceFulfillment, idemStore))
}

// outboxWorkers возвращает publisher-воркер сервиса, если брокер подключен.
func outboxWorkers(cfg Config, service string, store domain.OutboxStore, broker *rabbit.Client) []runnable {
	if broker == nil {
		return nil
	}
	worker := outboxsvc.NewWorker(service, store, broker,
		outboxsvc.WithPollInterval(cfg.OutboxPollInterval),
		outboxsvc.WithBatchSize(cfg.OutboxBatchSize),
	)
	return []runnable{worker}
}

func cleanupWorker(cfg Config, service string, store domain.IdempotencyStore) runnable {
	return idemsvc.NewCleanupWorker(service, store,
		idemsvc.WithInterval(cfg.IdempotencyCleanupInterval))
}
