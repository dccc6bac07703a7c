package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/darkvelocity/darkvelocity-auth/internal/adapter/cache"
	provideroauth "github.com/darkvelocity/darkvelocity-auth/internal/adapter/oauth"
	"github.com/darkvelocity/darkvelocity-auth/internal/bootstrap"
	"github.com/darkvelocity/darkvelocity-auth/internal/config"
	apphttp "github.com/darkvelocity/darkvelocity-auth/internal/http"
	"github.com/darkvelocity/darkvelocity-auth/internal/http/handler"
	"github.com/darkvelocity/darkvelocity-auth/internal/identity"
	"github.com/darkvelocity/darkvelocity-auth/internal/jwt"
	"github.com/darkvelocity/darkvelocity-auth/internal/metrics"
	"github.com/darkvelocity/darkvelocity-auth/internal/org"
	"github.com/darkvelocity/darkvelocity-auth/internal/policy"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
	"github.com/darkvelocity/darkvelocity-auth/internal/server"
	"github.com/darkvelocity/darkvelocity-auth/internal/service"
	oauthflow "github.com/darkvelocity/darkvelocity-auth/internal/service/auth"
	pinflow "github.com/darkvelocity/darkvelocity-auth/internal/service/pin"
	"github.com/darkvelocity/darkvelocity-auth/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			newPool,
			newRedis,
			newRegistry,
			newMetrics,

			fx.Annotate(repository.NewPostgresOrgRepository, fx.As(new(repository.OrgRepository))),
			fx.Annotate(repository.NewPostgresUserRepository, fx.As(new(repository.UserRepository))),
			fx.Annotate(repository.NewPostgresSessionRepository, fx.As(new(repository.SessionRepository))),
			fx.Annotate(repository.NewPostgresRefreshIndexRepository, fx.As(new(repository.RefreshIndexRepository))),
			fx.Annotate(repository.NewPostgresCodeRepository, fx.As(new(repository.CodeRepository))),
			fx.Annotate(repository.NewPostgresEmailIdentityRepository, fx.As(new(repository.EmailIdentityRepository))),
			fx.Annotate(repository.NewPostgresDeviceRepository, fx.As(new(repository.DeviceRepository))),
			fx.Annotate(repository.NewPostgresOAuthClientRepository, fx.As(new(repository.OAuthClientRepository))),
			fx.Annotate(repository.NewPostgresKeyRepository, fx.As(new(repository.KeyRepository))),

			fx.Annotate(newCsrfStore, fx.As(new(repository.CsrfStateStore))),
			fx.Annotate(cache.NewRedisPendingStore, fx.As(new(repository.PendingStore))),
			fx.Annotate(newProviderClient, fx.As(new(provideroauth.ProviderClient))),
			fx.Annotate(policy.NewAllowAll, fx.As(new(policy.Checker))),

			jwt.NewKeyManager,
			newGenerator,
			identity.NewResolver,
			newSessionService,
			newAuthService,
			newOAuthService,
			newPinService,
			newDiscoveryService,
			newOrgResolver,
			handler.NewAuthHandler,
			handler.NewPinHandler,
			bootstrap.NewAdmin,
			newRouter,
			newServer,
		),
		fx.Invoke(run),
	)
	app.Run()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return telemetry.NewLogger(cfg.Debug)
}

func newPool(lc fx.Lifecycle, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

func newRedis(lc fx.Lifecycle, cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

func newMetrics(registry *prometheus.Registry) *metrics.Metrics {
	return metrics.New(registry)
}

func newCsrfStore(client *redis.Client, cfg *config.Config) *cache.RedisCsrfStateStore {
	return cache.NewRedisCsrfStateStore(client, cfg.CsrfStateTTL)
}

func newProviderClient(cfg *config.Config) *provideroauth.HTTPProviderClient {
	return provideroauth.NewHTTPProviderClient(provideroauth.ProviderConfig{
		Name:         cfg.ProviderName,
		ClientID:     cfg.ProviderClientID,
		ClientSecret: cfg.ProviderClientSecret,
		AuthorizeURL: cfg.ProviderAuthorizeURL,
		TokenURL:     cfg.ProviderTokenURL,
		UserinfoURL:  cfg.ProviderUserinfoURL,
		Scopes:       cfg.ProviderScopes,
	})
}

func newGenerator(manager *jwt.KeyManager, cfg *config.Config) *jwt.Generator {
	return jwt.NewGenerator(manager, cfg.AccessTokenTTL)
}

func newSessionService(
	sessions repository.SessionRepository,
	index repository.RefreshIndexRepository,
	orgs repository.OrgRepository,
	users repository.UserRepository,
	generator *jwt.Generator,
	m *metrics.Metrics,
	cfg *config.Config,
) *service.SessionService {
	return service.NewSessionService(sessions, index, orgs, users, generator, m, cfg.Issuer, cfg.RefreshTokenTTL, cfg.RefreshTokenBytes)
}

func newAuthService(
	clients repository.OAuthClientRepository,
	codes repository.CodeRepository,
	users repository.UserRepository,
	sessions *service.SessionService,
	generator *jwt.Generator,
	keys *jwt.KeyManager,
	checker policy.Checker,
	m *metrics.Metrics,
	cfg *config.Config,
) *service.AuthService {
	return service.NewAuthService(clients, codes, users, sessions, generator, keys, checker, m, cfg.Issuer, cfg.AuthCodeTTL)
}

func newOAuthService(
	states repository.CsrfStateStore,
	pending repository.PendingStore,
	providerClient provideroauth.ProviderClient,
	resolver *identity.Resolver,
	authSvc *service.AuthService,
	sessions *service.SessionService,
	orgs repository.OrgRepository,
	users repository.UserRepository,
	checker policy.Checker,
	m *metrics.Metrics,
	cfg *config.Config,
) *oauthflow.OAuthService {
	return oauthflow.NewOAuthService(states, pending, providerClient, resolver, authSvc, sessions, orgs, users, checker, m, cfg.CallbackURL, cfg.CsrfStateTTL, cfg.PendingTTL)
}

func newPinService(
	devices repository.DeviceRepository,
	users repository.UserRepository,
	sessions *service.SessionService,
	authSvc *service.AuthService,
	pending repository.PendingStore,
	checker policy.Checker,
	m *metrics.Metrics,
	cfg *config.Config,
) *pinflow.Service {
	return pinflow.NewService(devices, users, sessions, authSvc, pending, checker, m, []byte(cfg.PinIndexSecret), cfg.PendingTTL)
}

func newDiscoveryService(cfg *config.Config) *service.DiscoveryService {
	return service.NewDiscoveryService(cfg.BaseURL)
}

func newOrgResolver(orgs repository.OrgRepository, cfg *config.Config) *org.Resolver {
	return org.NewResolver(orgs, cfg.BaseDomain)
}

func newRouter(
	cfg *config.Config,
	authHandler *handler.AuthHandler,
	pinHandler *handler.PinHandler,
	authSvc *service.AuthService,
	orgResolver *org.Resolver,
	registry *prometheus.Registry,
) *gin.Engine {
	return apphttp.NewRouter(cfg, authHandler, pinHandler, authSvc, orgResolver, registry)
}

func newServer(cfg *config.Config, router *gin.Engine) *server.HTTPServer {
	return server.New(cfg.HTTPAddr, router)
}

func run(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, srv *server.HTTPServer, admin *bootstrap.Admin) {
	logger.Info("starting", zap.String("service", cfg.ServiceName))
	var shutdownTracing func(context.Context) error

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdownTracing, err = telemetry.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
			if err != nil {
				return err
			}
			if err := admin.Ensure(ctx); err != nil {
				return err
			}
			go func() {
				if err := srv.Start(context.Background()); err != nil {
					zap.L().Fatal("http server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			if shutdownTracing != nil {
				return shutdownTracing(ctx)
			}
			return nil
		},
	})
}
