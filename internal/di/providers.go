package di

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/sandeepkv93/secure-session-store/internal/app"
	"github.com/sandeepkv93/secure-session-store/internal/config"
	"github.com/sandeepkv93/secure-session-store/internal/database"
	"github.com/sandeepkv93/secure-session-store/internal/health"
	"github.com/sandeepkv93/secure-session-store/internal/http/handler"
	"github.com/sandeepkv93/secure-session-store/internal/http/middleware"
	"github.com/sandeepkv93/secure-session-store/internal/http/router"
	"github.com/sandeepkv93/secure-session-store/internal/observability"
	"github.com/sandeepkv93/secure-session-store/internal/repository"
	"github.com/sandeepkv93/secure-session-store/internal/security"
	"github.com/sandeepkv93/secure-session-store/internal/service"
)

type Logging struct {
	Logger   *slog.Logger
	Provider *sdklog.LoggerProvider
}

// BackgroundTasks stops work started alongside the server.
type BackgroundTasks func()

func ProvideLogging(ctx context.Context, cfg *config.Config) (*Logging, error) {
	logger, lp, err := observability.InitLogging(ctx, cfg, os.Stdout)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return &Logging{Logger: logger, Provider: lp}, nil
}

func ProvideLogger(l *Logging) *slog.Logger { return l.Logger }

func ProvideRuntime(ctx context.Context, cfg *config.Config, l *Logging) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, l.Logger, l.Provider)
}

func ProvideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	db, err := database.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// ProvideRedis returns nil unless the deployment keeps its identity index in redis.
func ProvideRedis(cfg *config.Config) redis.UniversalClient {
	if !UsesRedis(cfg) {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func UsesRedis(cfg *config.Config) bool {
	return cfg.Privileged() && cfg.IndexBackend == config.IndexBackendRedis
}

func ProvideSessionRepository(db *gorm.DB) repository.SessionRepository {
	return repository.NewSessionRepository(db)
}

func ProvideIdentityRepository(db *gorm.DB) repository.IdentityRepository {
	return repository.NewIdentityRepository(db)
}

func ProvideIdentityIndex(cfg *config.Config, client redis.UniversalClient) service.IdentityIndex {
	switch {
	case !cfg.Privileged():
		return service.NewNoopIdentityIndex()
	case client != nil:
		return service.NewRedisIdentityIndex(client, cfg.RedisPrefix)
	default:
		return service.NewInMemoryIdentityIndex()
	}
}

func ProvideMissingSessionCache(cfg *config.Config, client redis.UniversalClient) service.MissingSessionCache {
	switch {
	case cfg.MissingSessionCacheTTL <= 0:
		return service.NewNoopMissingSessionCache()
	case client != nil:
		return service.NewRedisMissingSessionCache(client, cfg.RedisPrefix+":missing")
	default:
		return service.NewInMemoryMissingSessionCache()
	}
}

func ProvideSIDGenerator(cfg *config.Config) *security.SIDGenerator {
	return security.NewSIDGenerator(cfg.SIDLength, cfg.SIDTimestamp)
}

func ProvideSessionService(
	cfg *config.Config,
	repo repository.SessionRepository,
	identities repository.IdentityRepository,
	index service.IdentityIndex,
	missing service.MissingSessionCache,
	sid *security.SIDGenerator,
	logger *slog.Logger,
) *service.SessionService {
	return service.NewSessionService(repo, identities, index, cfg.TTLPolicy(), sid, logger,
		service.WithMissingSessionCache(missing, cfg.MissingSessionCacheTTL))
}

func ProvideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret)
}

func ProvideSessionHandler(cfg *config.Config, svc *service.SessionService, jwt *security.JWTManager) *handler.SessionHandler {
	return handler.NewSessionHandler(svc, jwt, cfg.JWTTTL)
}

func ProvideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.NewRedisChecker(client))
	}
	return health.NewProbeRunner(2*time.Second, 5*time.Second, checkers...)
}

func ProvideRouter(
	cfg *config.Config,
	sessions *handler.SessionHandler,
	jwt *security.JWTManager,
	index service.IdentityIndex,
	readiness *health.ProbeRunner,
	client redis.UniversalClient,
) http.Handler {
	dep := router.Dependencies{
		SessionHandler:     sessions,
		JWTManager:         jwt,
		AccessRecorder:     index,
		CreateRateLimitRPM: cfg.CreateRateLimitRPM,
		Readiness:          readiness,
		EnableOTelHTTP:     cfg.OTELHTTPEnabled,
	}
	if client != nil {
		dep.CreateRateLimiter = middleware.NewDistributedRateLimiter(
			middleware.NewRedisFixedWindowLimiter(client, cfg.RedisPrefix+":rl"),
			cfg.CreateRateLimitRPM,
			time.Minute,
			middleware.FailOpen,
			"session_create",
		).Middleware()
	}
	return router.NewRouter(dep)
}

func ProvideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ProvideBackgroundTasks reconciles the identity index from the store without holding up startup.
func ProvideBackgroundTasks(ctx context.Context, cfg *config.Config, svc *service.SessionService) BackgroundTasks {
	if !cfg.Privileged() {
		return func() {}
	}
	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go svc.LoadIdentityIndex(loadCtx)
	return BackgroundTasks(cancel)
}

func ProvideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	client redis.UniversalClient,
	readiness *health.ProbeRunner,
	stop BackgroundTasks,
) *app.App {
	return app.New(cfg, logger, server, runtime, db, client, readiness, stop)
}
