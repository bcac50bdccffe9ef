package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	registry "github.com/flowmill/flowmill/pkg/flow/core/registry"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

type stubSource struct{}

func (stubSource) NextBatch(ctx context.Context, after model.Cursor, limit int) ([]port.Record, model.Cursor, error) {
	return nil, after, nil
}
func (stubSource) Close(ctx context.Context) error { return nil }

func stubSourceFactory(ctx context.Context, params map[string]interface{}) (port.Source, error) {
	return stubSource{}, nil
}

func TestRegisterSource_AndLookup(t *testing.T) {
	registry.RegisterSource("registry-test-stub", stubSourceFactory)

	source, err := registry.NewSource(context.Background(), "registry-test-stub", nil)
	assert.NoError(t, err)
	assert.NotNil(t, source)

	assert.Contains(t, registry.RegisteredSourceKinds(), "registry-test-stub")
}

func TestRegisterSource_DuplicatePanics(t *testing.T) {
	registry.RegisterSource("registry-test-dup", stubSourceFactory)
	assert.Panics(t, func() {
		registry.RegisterSource("registry-test-dup", stubSourceFactory)
	})
}

func TestRegisterSource_InvalidRegistrationsPanic(t *testing.T) {
	assert.Panics(t, func() { registry.RegisterSource("", stubSourceFactory) })
	assert.Panics(t, func() { registry.RegisterSource("registry-test-nil", nil) })
}

func TestNewSource_UnknownKindIsPermanent(t *testing.T) {
	_, err := registry.NewSource(context.Background(), "registry-test-missing", nil)
	assert.Error(t, err)

	fe := exception.AsFlowError(err)
	assert.NotNil(t, fe)
	// Retrying cannot make an unregistered kind appear.
	assert.True(t, fe.IsPermanent())
	assert.Contains(t, err.Error(), registry.UnknownKindException)
}

func TestNewSinkAndRuntime_UnknownKind(t *testing.T) {
	_, err := registry.NewSink(context.Background(), "registry-test-missing", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sink kind")

	_, err = registry.NewRuntime(context.Background(), "registry-test-missing", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown runtime kind")
}
