package processor

import "go.uber.org/fx"

var Module = fx.Module("event.processor",
	fx.Provide(New),
)
