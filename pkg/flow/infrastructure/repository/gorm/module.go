// Package gorm provides a GORM-backed implementation of the Repository interface.
// This module integrates the repository into the application's dependency graph using Fx.
package gorm

import (
	"go.uber.org/fx"

	config "github.com/flowmill/flowmill/pkg/flow/core/config"
	repository "github.com/flowmill/flowmill/pkg/flow/core/domain/repository"

	gormadaptor "github.com/flowmill/flowmill/pkg/flow/adaptor/database/gorm"

	// Register the supported dialectors.
	_ "github.com/flowmill/flowmill/pkg/flow/adaptor/database/gorm/mysql"
	_ "github.com/flowmill/flowmill/pkg/flow/adaptor/database/gorm/postgres"
	_ "github.com/flowmill/flowmill/pkg/flow/adaptor/database/gorm/sqlite"
)

// NewRepositoryFromConfig opens the run repository database named by the
// infrastructure configuration, applies pending schema migrations, and returns
// the repository.
func NewRepositoryFromConfig(cfg *config.Config) (*GormRepository, error) {
	db, dbType, err := gormadaptor.OpenNamed(cfg, cfg.Flowmill.Infrastructure.RunRepositoryDBRef)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db, dbType); err != nil {
		return nil, err
	}
	return NewGormRepository(db), nil
}

// Module is an Fx module that provides GormRepository as a repository.Repository interface.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewRepositoryFromConfig,
			fx.As(new(repository.Repository)),
		),
	),
)
