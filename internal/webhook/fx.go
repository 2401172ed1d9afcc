package webhook

import (
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/webhook/domain"
	"github.com/smallbiznis/payflow/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(func(cfg config.Config) *domain.Verifier {
		return domain.NewVerifier(cfg.WebhookSecret)
	}),
	fx.Provide(service.New),
)
