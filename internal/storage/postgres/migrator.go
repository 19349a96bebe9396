package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

const (
	migrationsGlob   = "sql/migrations/*.sql"
	migrationLockKey = int64(72011346)

	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrateUp применяет все недостающие up-миграции под advisory lock-ом,
// чтобы конкурентные старты сервиса не гонялись за схему.
func (s *Store) MigrateUp(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	return s.withMigrationLock(ctx, func() error {
		applied, err := s.appliedVersions(ctx)
		if err != nil {
			return err
		}

		for _, m := range migrations {
			if applied[m.Version] {
				continue
			}
			if err := s.applyMigration(ctx, m, true); err != nil {
				return fmt.Errorf("apply migration %d_%s: %w", m.Version, m.Name, err)
			}
		}
		return nil
	})
}

// MigrateDown откатывает последнюю применённую миграцию.
func (s *Store) MigrateDown(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	return s.withMigrationLock(ctx, func() error {
		applied, err := s.appliedVersions(ctx)
		if err != nil {
			return err
		}

		for i := len(migrations) - 1; i >= 0; i-- {
			if !applied[migrations[i].Version] {
				continue
			}
			if err := s.applyMigration(ctx, migrations[i], false); err != nil {
				return fmt.Errorf("revert migration %d_%s: %w", migrations[i].Version, migrations[i].Name, err)
			}
			return nil
		}
		return nil
	})
}

// MigrationStatus возвращает текущую версию схемы и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	if _, err := s.db.ExecContext(ctx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	var (
		version int64
		count   int
	)
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0), COUNT(*)
		FROM schema_migrations
	`).Scan(&version, &count); err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}

	return version, count, nil
}

func (s *Store) withMigrationLock(ctx context.Context, fn func() error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for migration: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	return fn()
}

func (s *Store) appliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *Store) applyMigration(ctx context.Context, m migration, up bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if up {
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, name) VALUES ($1, $2)
		`, m.Version, m.Name); err != nil {
			return err
		}
	} else {
		if m.DownSQL == "" {
			return fmt.Errorf("migration %d has no down script", m.Version)
		}
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM schema_migrations WHERE version = $1
		`, m.Version); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func loadMigrations() ([]migration, error) {
	files, err := fs.Glob(migrationsFS, migrationsGlob)
	if err != nil {
		return nil, fmt.Errorf("glob migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		name := filepath.Base(file)
		parts := migrationFilePattern.FindStringSubmatch(name)
		if parts == nil {
			return nil, fmt.Errorf("unexpected migration file name: %s", name)
		}

		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %s: %w", name, err)
		}

		content, err := migrationsFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if parts[3] == "up" {
			m.UpSQL = string(content)
		} else {
			m.DownSQL = string(content)
		}
	}

	result := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" {
			return nil, fmt.Errorf("migration %d_%s has no up script", m.Version, m.Name)
		}
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}
