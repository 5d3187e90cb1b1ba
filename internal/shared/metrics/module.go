package metrics

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(
		fx.Annotate(
			NewOTelCollector,
			fx.As(new(Collector)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, c Collector) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return c.Close() },
		})
	}),
)
