package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dkorolev/commerce/internal/storage/postgres"
)

// Таблицы outbox по имени сервиса.
var outboxTables = map[string]string{
	"cart":        postgres.CartOutboxTable,
	"catalog":     postgres.CatalogOutboxTable,
	"orders":      postgres.OrdersOutboxTable,
	"inventory":   postgres.InventoryOutboxTable,
	"payments":    postgres.PaymentsOutboxTable,
	"fulfillment": postgres.FulfillmentOutboxTable,
}

const defaultTimeout = 30 * time.Second

// outbox-requeue возвращает failed-записи outbox в pending, чтобы
// publisher-воркер попробовал их снова. Failed-записи не ретраятся
// автоматически: решение о реплее принимает человек этим инструментом.
func main() {
	var (
		service string
		dsn     string
		limit   int
		execute bool
	)

	flag.StringVar(&service, "service", "", "service whose outbox to requeue: cart|catalog|orders|inventory|payments|fulfillment")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: DATABASE_URL)")
	flag.IntVar(&limit, "limit", 100, "maximum number of failed records to requeue")
	flag.BoolVar(&execute, "execute", false, "perform the requeue; without this flag only stats are printed")
	flag.Parse()

	_ = godotenv.Load()
	table, ok := outboxTables[strings.ToLower(strings.TrimSpace(service))]
	if !ok {
		fail("unknown -service %q", service)
	}
	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		fail("DATABASE_URL (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	repo := postgres.NewOutboxRepo(store, table)
	stats, err := repo.OutboxStats(ctx)
	if err != nil {
		fail("outbox stats failed: %v", err)
	}
	fmt.Printf("%s outbox: pending=%d failed=%d\n", service, stats.PendingCount, stats.FailedCount)

	if !execute {
		fmt.Println("dry run, pass -execute to requeue failed records")
		return
	}

	requeued, err := repo.RequeueFailedOutbox(ctx, limit)
	if err != nil {
		fail("requeue failed: %v", err)
	}
	fmt.Printf("requeued %d records\n", requeued)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
