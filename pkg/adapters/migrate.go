package adapters

import (
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func sqliteOpenForMigration(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("adapters: open for migration: %w", err)
	}
	return db, nil
}

func applyMigrations(dsn, migrationsDir string) error {
	if migrationsDir == "" {
		return nil
	}
	db, err := sqliteOpenForMigration(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("adapters: migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("adapters: migration source: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("adapters: migration up: %w", err)
	}
	return nil
}
