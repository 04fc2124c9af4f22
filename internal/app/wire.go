//go:build wireinject
// +build wireinject

package app

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/example/authgate/internal/config"
)

// InitializeApp assembles the full serving stack. The returned cleanup
// closes the redis and database connections.
func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, func(), error) {
	wire.Build(
		NewRedisClient,
		NewDatabase,
		NewSessionStore,
		NewTokenCodec,
		NewSessionManager,
		NewUserRepository,
		NewIdentityService,
		NewOAuthService,
		NewAuthRateLimiter,
		NewReadiness,
		NewRouter,
		NewHTTPServer,
		NewObservabilityRuntime,
		newApp,
	)
	return nil, nil, nil
}
