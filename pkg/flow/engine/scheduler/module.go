package scheduler

import (
	"context"

	"go.uber.org/fx"
)

// Module is an Fx module that provides the Scheduler and ties it to the
// application lifecycle.
var Module = fx.Options(
	fx.Provide(NewScheduler),
	fx.Invoke(func(lc fx.Lifecycle, s *Scheduler) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return s.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return s.Stop(ctx)
			},
		})
	}),
)
