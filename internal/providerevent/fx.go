package providerevent

import (
	"github.com/smallbiznis/payflow/internal/providerevent/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("providerevent.repository",
	fx.Provide(repository.Provide),
)
