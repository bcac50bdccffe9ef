// Package sqltable provides a keyset-paginated Source over a database table.
// The cursor is the string form of the last read key column value, so a
// resumed run continues strictly after the last checkpointed row.
package sqltable

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"

	dbconfig "github.com/flowmill/flowmill/pkg/flow/adaptor/database/config"
	gormadaptor "github.com/flowmill/flowmill/pkg/flow/adaptor/database/gorm"
	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	registry "github.com/flowmill/flowmill/pkg/flow/core/registry"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

const moduleName = "sqltable_source"

// Kind is the registry identifier of this source.
const Kind = "sql_table"

// Config holds the configuration for the sqltable source.
type Config struct {
	// Connection holds the database connection settings.
	Connection dbconfig.DatabaseConfig `mapstructure:"connection"`
	// Table is the table to read from.
	Table string `mapstructure:"table"`
	// KeyColumn is the strictly increasing column used for keyset pagination.
	KeyColumn string `mapstructure:"key_column"`
	// Columns optionally restricts the selected columns. Empty selects all.
	Columns []string `mapstructure:"columns"`
}

// Source reads rows in key order through keyset pagination.
type Source struct {
	config Config
	db     *gorm.DB
}

// New creates a sqltable Source from decoded params and opens its connection.
func New(params map[string]interface{}) (*Source, error) {
	var config Config
	if err := mapstructure.Decode(params, &config); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to decode sqltable source params", err)
	}
	if config.Table == "" {
		return nil, exception.NewPermanentError(moduleName, "sqltable source requires a 'table' param", nil)
	}
	if config.KeyColumn == "" {
		return nil, exception.NewPermanentError(moduleName, "sqltable source requires a 'key_column' param", nil)
	}

	db, err := gormadaptor.Open(config.Connection)
	if err != nil {
		return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to open connection for table '%s'", config.Table), err)
	}
	return &Source{config: config, db: db}, nil
}

// NewWithDB creates a sqltable Source on an existing connection. Used by tests.
func NewWithDB(db *gorm.DB, config Config) *Source {
	return &Source{config: config, db: db}
}

// NextBatch returns up to limit rows with key strictly greater than the cursor,
// ordered by the key column.
func (s *Source) NextBatch(ctx context.Context, after model.Cursor, limit int) ([]port.Record, model.Cursor, error) {
	query := s.db.WithContext(ctx).Table(s.config.Table).Order(s.config.KeyColumn + " ASC").Limit(limit)
	if len(s.config.Columns) > 0 {
		query = query.Select(s.config.Columns)
	}
	if !after.IsZero() {
		query = query.Where(s.config.KeyColumn+" > ?", after.String())
	}

	var rows []map[string]interface{}
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", exception.NewTransientError(moduleName, fmt.Sprintf("failed to read table '%s' after cursor '%s'", s.config.Table, after), err)
	}

	records := make([]port.Record, 0, len(rows))
	cursor := after
	for _, row := range rows {
		records = append(records, port.Record(row))
		cursor = model.Cursor(fmt.Sprintf("%v", row[s.config.KeyColumn]))
	}
	return records, cursor, nil
}

// Close closes the underlying database connection.
func (s *Source) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ port.Source = (*Source)(nil)

func init() {
	registry.RegisterSource(Kind, func(ctx context.Context, params map[string]interface{}) (port.Source, error) {
		return New(params)
	})
}
