package db

import (
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"shopauth/pkg/config"
)

// DefaultMigrationsPath points at the repository's migrations directory.
const DefaultMigrationsPath = "file://migrations"

// Migrate applies every pending up migration. ErrNoChange is not an error.
func Migrate(migrationsPath string, cfg config.Config) error {
	if migrationsPath == "" {
		migrationsPath = DefaultMigrationsPath
	}
	m, err := migrate.New(migrationsPath, migrationConnString(cfg))
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return err
	}
	return nil
}
