package worker

import (
	"context"

	"github.com/smallbiznis/payflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("outbox.worker",
	fx.Provide(New),
	fx.Invoke(RegisterWorker),
)

func RegisterWorker(lc fx.Lifecycle, cfg config.Config, w *Worker, log *zap.Logger) {
	if !cfg.HasRole(config.RoleWorker) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				w.RunForever(ctx)
			}()
			log.Named("outbox.worker").Info("outbox worker started")
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
