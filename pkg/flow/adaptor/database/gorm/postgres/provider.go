// Package postgres provides a GORM dialector for PostgreSQL databases.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	dbconfig "github.com/flowmill/flowmill/pkg/flow/adaptor/database/config"
	gormadaptor "github.com/flowmill/flowmill/pkg/flow/adaptor/database/gorm"
)

// init registers the PostgreSQL dialector factory with the gorm adaptor.
func init() {
	gormadaptor.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		sslmode := cfg.Sslmode
		if sslmode == "" {
			sslmode = "disable"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslmode)
		if cfg.Schema != "" {
			dsn += fmt.Sprintf(" search_path=%s", cfg.Schema)
		}
		return postgres.Open(dsn), nil
	})
}
