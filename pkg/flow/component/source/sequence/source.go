// Package sequence provides an integer sequence Source, mainly used for
// demos and tests. Records carry one numeric field; the cursor is the decimal
// string of the last emitted value.
package sequence

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mitchellh/mapstructure"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	registry "github.com/flowmill/flowmill/pkg/flow/core/registry"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

const moduleName = "sequence_source"

// Kind is the registry identifier of this source.
const Kind = "sequence"

// Config holds the configuration for the sequence source.
type Config struct {
	// Start is the first value of the sequence.
	Start int `mapstructure:"start"`
	// Count is the total number of records the source produces.
	Count int `mapstructure:"count"`
	// Field is the record key carrying the value.
	Field string `mapstructure:"field"`
}

// Source emits the integers Start..Start+Count-1 in cursor order.
type Source struct {
	config Config
}

// New creates a sequence Source from decoded params.
func New(params map[string]interface{}) (*Source, error) {
	var config Config
	if err := mapstructure.Decode(params, &config); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to decode sequence source params", err)
	}
	if config.Count <= 0 {
		return nil, exception.NewPermanentError(moduleName, "sequence source requires a positive 'count' param", nil)
	}
	if config.Start == 0 {
		config.Start = 1
	}
	if config.Field == "" {
		config.Field = "value"
	}
	return &Source{config: config}, nil
}

// NextBatch returns up to limit integers strictly after the cursor position.
func (s *Source) NextBatch(ctx context.Context, after model.Cursor, limit int) ([]port.Record, model.Cursor, error) {
	next := s.config.Start
	if !after.IsZero() {
		last, err := strconv.Atoi(after.String())
		if err != nil {
			return nil, "", exception.NewPermanentError(moduleName, fmt.Sprintf("malformed sequence cursor '%s'", after), err)
		}
		next = last + 1
	}

	end := s.config.Start + s.config.Count // exclusive
	var records []port.Record
	cursor := after
	for v := next; v < end && len(records) < limit; v++ {
		records = append(records, port.Record{s.config.Field: v})
		cursor = model.Cursor(strconv.Itoa(v))
	}
	return records, cursor, nil
}

// Close releases nothing; the sequence source holds no resources.
func (s *Source) Close(ctx context.Context) error {
	return nil
}

var _ port.Source = (*Source)(nil)

func init() {
	registry.RegisterSource(Kind, func(ctx context.Context, params map[string]interface{}) (port.Source, error) {
		return New(params)
	})
}
