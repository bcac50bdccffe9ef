package processor

import (
	"go.uber.org/fx"

	repository "github.com/flowmill/flowmill/pkg/flow/core/domain/repository"
)

// Module is an Fx module that provides the BatchProcessor.
var Module = fx.Options(
	// The processor only needs the run side of the aggregate repository.
	fx.Provide(func(r repository.Repository) repository.RunRepository { return r }),
	fx.Provide(NewBatchProcessor),
)
