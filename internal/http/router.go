// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-call-relay/docs"
	"github.com/tbourn/go-call-relay/internal/config"
	"github.com/tbourn/go-call-relay/internal/domain"
	"github.com/tbourn/go-call-relay/internal/http/handlers"
	"github.com/tbourn/go-call-relay/internal/http/middleware"
	"github.com/tbourn/go-call-relay/internal/relay"
	"github.com/tbourn/go-call-relay/internal/repo"
	"github.com/tbourn/go-call-relay/internal/services"
)

// userRepoShim adapts the repository free functions to the
// services.UserRepo interface expected by the UserService.
type userRepoShim struct{}

// CreateUser proxies repo.CreateUser.
func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return repo.CreateUser(ctx, db, u)
}

// GetUser proxies repo.GetUser.
func (userRepoShim) GetUser(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	return repo.GetUser(ctx, db, username)
}

// ListUsers proxies repo.ListUsers.
func (userRepoShim) ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	return repo.ListUsers(ctx, db)
}

// ListUsersPage proxies repo.ListUsersPage (pagination support).
func (userRepoShim) ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	return repo.ListUsersPage(ctx, db, offset, limit)
}

// UsersStats proxies repo.UsersStats (ETag support).
func (userRepoShim) UsersStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error) {
	return repo.UsersStats(ctx, db)
}

// UpdateUserDevice proxies repo.UpdateUserDevice.
func (userRepoShim) UpdateUserDevice(ctx context.Context, db *gorm.DB, username string, platform domain.Platform, fcmToken, iosToken string) error {
	return repo.UpdateUserDevice(ctx, db, username, platform, fcmToken, iosToken)
}

// DeleteUser proxies repo.DeleteUser.
func (userRepoShim) DeleteUser(ctx context.Context, db *gorm.DB, username string) error {
	return repo.DeleteUser(ctx, db, username)
}

// Pushers bundles the vendor push adapters used by the dispatcher.
type Pushers struct {
	VoIP services.VoIPSender
	FCM  services.FCMSender
}

// Device tokens may be forwarded by gateways in these headers.
var tokenHeaders = []string{"X-FCM-Token", "X-APN-Token"}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with token scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per username/IP; health, scrapes and /ws exempt)
//  8. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, hub *relay.Hub, p Pushers, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: tokenHeaders,
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; signal bodies are tiny)
	r.Use(limitBody(64 << 10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET(middleware.MetricsPath, gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per username/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUsernameOrIP()).
		Skip("/health", middleware.MetricsPath, joinPath(apiBase, "/ws"))
	r.Use(rl.Handler())

	// 8) CORS posture (allow all if none configured)
	allowHeaders := append([]string{"Origin", "Content-Type", "Accept", "Authorization"}, tokenHeaders...)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Directory responses carry device tokens: never cache them.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		NoStore:       true,
		EnablePolicy:  true,
		ExposeHeaders: []string{"Retry-After"},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := repo.Ping(ctx, db); err != nil {
			middleware.LoggerFrom(c).Error().Err(err).Msg("health: directory unavailable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unavailable", "web_clients": hub.Len()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "ok", "web_clients": hub.Len()})
	})

	// Dependency injection: services ← repo/db/relay/pushers
	users := services.NewUserService(db, userRepoShim{})
	dispatch := services.NewDispatcher(users, p.VoIP, p.FCM, hub)
	h := handlers.New(dispatch, users)
	ws := handlers.NewSocketHandler(dispatch, users, hub, handlers.SocketOptions{
		PingInterval:   cfg.Relay.PingInterval,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Signals
		api.POST("/notifications/call", h.SendCallNotification)
		api.POST("/notifications/signal", h.SendCallSignal)

		// Directory
		dir := api.Group("/users", gzip.Gzip(gzip.DefaultCompression))
		dir.GET("", h.ListUsers)
		dir.POST("", h.CreateUser)
		dir.GET("/:username", h.GetUser)
		dir.PUT("/:username", h.UpdateUser)
		dir.DELETE("/:username", h.DeleteUser)

		// Web clients
		api.GET("/ws", ws.ServeWS)
	}

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath appends p to a base path that may be root.
func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
