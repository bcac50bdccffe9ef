// Package mysql provides a GORM dialector for MySQL databases.
package mysql

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/flowmill/flowmill/pkg/flow/adaptor/database/config"
	gormadaptor "github.com/flowmill/flowmill/pkg/flow/adaptor/database/gorm"
)

// init registers the MySQL dialector factory with the gorm adaptor.
func init() {
	gormadaptor.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		return mysql.Open(dsn), nil
	})
}
