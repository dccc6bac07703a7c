// Package http wires the gin router.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/darkvelocity/darkvelocity-auth/internal/config"
	"github.com/darkvelocity/darkvelocity-auth/internal/http/handler"
	httpmw "github.com/darkvelocity/darkvelocity-auth/internal/http/middleware"
	"github.com/darkvelocity/darkvelocity-auth/internal/middleware"
	"github.com/darkvelocity/darkvelocity-auth/internal/org"
	"github.com/darkvelocity/darkvelocity-auth/internal/service"
)

// NewRouter assembles the HTTP surface.
func NewRouter(
	cfg *config.Config,
	authHandler *handler.AuthHandler,
	pinHandler *handler.PinHandler,
	authSvc *service.AuthService,
	orgResolver *org.Resolver,
	registry *prometheus.Registry,
) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(httpmw.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPM)
	orgScoped := router.Group("/", httpmw.OrgContext(orgResolver))

	wellKnown := orgScoped.Group("/.well-known")
	{
		wellKnown.GET("/openid-configuration", authHandler.Discovery)
		wellKnown.GET("/jwks.json", authHandler.JWKS)
	}

	oauth := orgScoped.Group("/oauth")
	{
		oauth.GET("/authorize", authHandler.Authorize)
		oauth.GET("/callback", authHandler.Callback)
		oauth.POST("/token", limiter.Handler(), authHandler.Token)
		oauth.POST("/introspect", authHandler.Introspect)
		oauth.POST("/revoke", authHandler.Revoke)
		oauth.GET("/userinfo", httpmw.RequireBearer(authSvc), authHandler.Userinfo)
	}

	auth := orgScoped.Group("/auth")
	{
		auth.POST("/pin", limiter.Handler(), pinHandler.Login)
		auth.POST("/pin/users", pinHandler.Users)
		auth.POST("/pin/verify", limiter.Handler(), pinHandler.Verify)
		auth.POST("/refresh", limiter.Handler(), pinHandler.Refresh)
		auth.POST("/logout", httpmw.RequireBearer(authSvc), pinHandler.Logout)
		auth.POST("/devices/authorize", httpmw.RequireBearer(authSvc), pinHandler.AuthorizeDevice)
		auth.POST("/devices/status", httpmw.RequireBearer(authSvc), pinHandler.SetDeviceStatus)
		auth.GET("/pending/:token", authHandler.PendingOptions)
		auth.POST("/pending/select", authHandler.CompleteSelection)
	}

	return router
}
