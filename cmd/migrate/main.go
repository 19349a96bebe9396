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

const defaultTimeout = 30 * time.Second

func main() {
	var (
		direction string
		dsn       string
	)

	flag.StringVar(&direction, "direction", "up", "migration direction: up|down|status")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: DATABASE_URL)")
	flag.Parse()

	_ = godotenv.Load()
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

	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "up":
		if err := store.MigrateUp(ctx); err != nil {
			fail("migrate up failed: %v", err)
		}
		printStatus(ctx, store, "migrate up ok")
	case "down":
		if err := store.MigrateDown(ctx); err != nil {
			fail("migrate down failed: %v", err)
		}
		printStatus(ctx, store, "migrate down ok")
	case "status":
		printStatus(ctx, store, "migration status")
	default:
		fail("unsupported direction: %s (use up|down|status)", direction)
	}
}

func printStatus(ctx context.Context, store *postgres.Store, prefix string) {
	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		fail("migration status failed: %v", err)
	}
	fmt.Printf("%s: version=%d applied=%d\n", prefix, version, count)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
