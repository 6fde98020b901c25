// Package migrate applies the embedded schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"marketplace-chat/internal/database"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Up, Down:
		return Direction(s), nil
	}
	return "", fmt.Errorf("direction must be up or down, got %q", s)
}

// Run migrates the database at dsn. Being already at the target version is not an error.
func Run(dsn string, direction Direction) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is not set")
	}
	if _, err := ParseDirection(string(direction)); err != nil {
		return err
	}

	source, err := iofs.New(database.MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
