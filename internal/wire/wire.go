//go:build wireinject
// +build wireinject

package wire

import (
	"github.com/google/wire"

	"conify/internal/user"
)

func InitializeApplication() (*Application, func(), error) {
	wire.Build(
		ProvideConfig,
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,
		ProvideStores,
		ProvideUserRepository,
		user.NewResolver,
		ProvideEventBus,
		ProvidePresence,
		ProvideChatService,
		ProvideGateway,
		ProvideChatHandler,
		ProvideMediaServer,
		ProvideRouter,
		wire.Struct(new(Application), "*"),
	)
	return nil, nil, nil
}
