//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/sandeepkv93/secure-session-store/internal/app"
	"github.com/sandeepkv93/secure-session-store/internal/config"
)

var ProviderSet = wire.NewSet(
	ProvideLogging,
	ProvideLogger,
	ProvideRuntime,
	ProvideDB,
	ProvideRedis,
	ProvideSessionRepository,
	ProvideIdentityRepository,
	ProvideIdentityIndex,
	ProvideMissingSessionCache,
	ProvideSIDGenerator,
	ProvideSessionService,
	ProvideJWTManager,
	ProvideSessionHandler,
	ProvideReadiness,
	ProvideRouter,
	ProvideHTTPServer,
	ProvideBackgroundTasks,
	ProvideApp,
)

func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
