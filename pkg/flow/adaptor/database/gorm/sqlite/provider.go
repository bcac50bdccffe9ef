// Package sqlite provides a GORM dialector for SQLite databases.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/flowmill/flowmill/pkg/flow/adaptor/database/config"
	gormadaptor "github.com/flowmill/flowmill/pkg/flow/adaptor/database/gorm"
)

// init registers the SQLite dialector factory with the gorm adaptor.
func init() {
	gormadaptor.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("sqlite database path cannot be empty")
		}
		return sqlite.Open(cfg.Database), nil
	})
}
