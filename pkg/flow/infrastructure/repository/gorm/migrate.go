package gorm

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	gormdb "gorm.io/gorm"

	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql migrations/mysql/*.sql
var migrationFS embed.FS

// migrationsTable is the bookkeeping table used by golang-migrate.
const migrationsTable = "flowmill_schema_migrations"

// getDatabaseDriver retrieves a migrate/v4 Driver based on the database type.
func getDatabaseDriver(sqlDB *sql.DB, dbType string) (database.Driver, error) {
	switch dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{
			MigrationsTable: migrationsTable,
		})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{
			MigrationsTable: migrationsTable,
		})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{
			MigrationsTable: migrationsTable,
		})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", dbType)
	}
}

// RunMigrations applies all pending schema migrations for the given database type.
// Applying an already-migrated schema is a no-op.
func RunMigrations(db *gormdb.DB, dbType string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, "migrations/"+dbType)
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver for %s: %w", dbType, err)
	}

	dbDriver, err := getDatabaseDriver(sqlDB, dbType)
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, dbType, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := mInstance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed (DB: %s): %w", dbType, err)
	}

	logger.Infof("Schema migrations applied (DB: %s).", dbType)
	return nil
}
