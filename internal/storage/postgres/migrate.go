package postgres

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationFS содержит SQL-миграции схемы users/refresh_tokens.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

// Направления миграций.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Migrate применяет встроенные миграции в заданном направлении.
// Отсутствие изменений (migrate.ErrNoChange) ошибкой не считается.
func Migrate(dsn, direction string) error {
	const op = "storage.postgres.Migrate"

	if dsn == "" {
		return fmt.Errorf("%s: empty dsn", op)
	}

	if direction != DirectionUp && direction != DirectionDown {
		return fmt.Errorf("%s: direction must be up or down, got %q", op, direction)
	}

	src, err := iofs.New(MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("%s: source: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case DirectionUp:
		err = m.Up()
	case DirectionDown:
		err = m.Down()
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
