package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/authgate/internal/config"
	"github.com/example/authgate/internal/domain"
	"github.com/example/authgate/internal/health"
	"github.com/example/authgate/internal/http/handler"
	authmw "github.com/example/authgate/internal/http/middleware"
	"github.com/example/authgate/internal/http/router"
	"github.com/example/authgate/internal/observability"
	"github.com/example/authgate/internal/repository"
	"github.com/example/authgate/internal/security"
	"github.com/example/authgate/internal/service"
	"github.com/example/authgate/internal/store"
)

func NewRedisClient(cfg *config.Config) (redis.UniversalClient, func(), error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return client, func() { _ = client.Close() }, nil
}

func NewDatabase(cfg *config.Config) (*gorm.DB, func(), error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"), strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		dialector = postgres.Open(cfg.DatabaseURL)
	default:
		dialector = sqlite.Open(strings.TrimPrefix(cfg.DatabaseURL, "sqlite://"))
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db, cleanup, nil
}

func NewSessionStore(client redis.UniversalClient) store.SessionStore {
	return store.NewRedisSessionStore(client)
}

func NewTokenCodec(cfg *config.Config) *security.TokenCodec {
	return security.NewTokenCodec(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
}

func NewSessionManager(cfg *config.Config, codec *security.TokenCodec, sessions store.SessionStore) *service.SessionManager {
	return service.NewSessionManager(codec, sessions, service.SessionManagerOptions{
		AccessTokenTTL:    cfg.AccessTokenTTL,
		RefreshTokenTTL:   cfg.RefreshTokenTTL,
		StoreOpTimeout:    cfg.StoreOpTimeout,
		BlacklistOnRotate: cfg.BlacklistOnRotate,
	})
}

func NewUserRepository(db *gorm.DB) repository.UserRepository {
	return repository.NewUserRepository(db)
}

func NewIdentityService(users repository.UserRepository) *service.LocalIdentityService {
	return service.NewLocalIdentityService(users)
}

func NewOAuthService(cfg *config.Config, sessions store.SessionStore, users repository.UserRepository) *service.OAuthService {
	svc := service.NewOAuthService(sessions, users, cfg.OAuthStateTTL)
	if cfg.GoogleOAuthConfigured() {
		svc.RegisterProvider("google", service.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL))
	}
	if cfg.GitHubOAuthConfigured() {
		svc.RegisterProvider("github", service.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL))
	}
	return svc
}

func NewReadiness(client redis.UniversalClient, db *gorm.DB) *health.ProbeRunner {
	checkers := []health.Checker{
		health.CheckerFunc{
			Name: "redis",
			Fn: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		},
		health.CheckerFunc{
			Name: "database",
			Fn: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		},
	}
	return health.NewProbeRunner(15*time.Second, 3*time.Second, checkers...)
}

func NewAuthRateLimiter(client redis.UniversalClient) authmw.Limiter {
	return authmw.NewRedisFixedWindowLimiter(client, "ratelimit:auth")
}

func NewRouter(cfg *config.Config, sessions *service.SessionManager, identity *service.LocalIdentityService, oauth *service.OAuthService, authLimiter authmw.Limiter, readiness *health.ProbeRunner) http.Handler {
	authHandler := handler.NewAuthHandler(sessions, identity, oauth, cfg.CookieSecure)
	userHandler := handler.NewUserHandler(sessions, identity)
	return router.NewRouter(router.Dependencies{
		AuthHandler:      authHandler,
		UserHandler:      userHandler,
		AccessVerifier:   sessions,
		CORSOrigins:      cfg.CORSOrigins,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		AuthRateLimiter:  authmw.NewScopedRateLimiter(authLimiter, cfg.AuthRateLimitRPM, time.Minute, authmw.FailClosed, "auth").Middleware(),
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.OTELTracesEnabled,
		OAuthProviders:   oauth.ProviderNames(),
	})
}

func NewHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func NewObservabilityRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logger)
}
