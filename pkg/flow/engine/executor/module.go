package executor

import (
	"go.uber.org/fx"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
)

// Module is an Fx module that provides the RunExecutor.
// Applications that want terminal-state notifications provide their own
// port.RunCallbacks; the no-op implementation is the fallback.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		port.NewNoopRunCallbacks,
		fx.As(new(port.RunCallbacks)),
	)),
	fx.Provide(NewRunExecutor),
)
