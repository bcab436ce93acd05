// Package api wires together all HTTP routes for the Sentinel backend.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated probes.
//   - /api/auth/login and the SSO endpoints are unauthenticated and rate limited
//     per client IP before any database work.
//   - /api/admin/ requires an interactive session (API keys are refused) except
//     for audit log reads, which an API key holding audit:read may perform.
//     Denied and failed requests on these routes are written to the audit trail.
//   - /api/findings accepts submissions from API keys holding findings:write
//     and serves tenant-scoped reads to analysts.
//   - /api/notifications/stream is the read-only SSE feed.
//
// Every principal is reloaded from the database by AuthMiddleware, so the role
// checks below always see the caller's current role and account status.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/sentinelops/sentinel/internal/api/admin"
	"github.com/sentinelops/sentinel/internal/api/detection"
	"github.com/sentinelops/sentinel/internal/api/notifications"
	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/auth"
	"github.com/sentinelops/sentinel/internal/config"
	"github.com/sentinelops/sentinel/internal/crypto"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
	"github.com/sentinelops/sentinel/internal/findings"
	"github.com/sentinelops/sentinel/internal/jobs"
	"github.com/sentinelops/sentinel/internal/middleware"
	"github.com/sentinelops/sentinel/internal/notify"
	"github.com/sentinelops/sentinel/internal/services"
	"github.com/sentinelops/sentinel/internal/storage"
)

// Version is reported by /version. It is set at build time with -ldflags.
var Version = "dev"

// Dependencies are the process-wide resources the router builds its services on.
// Only DB and Recorder are required.
type Dependencies struct {
	DB       *sqlx.DB
	Recorder *audit.Recorder
	// Hub serves the notification stream; nil disables the stream route
	Hub *notify.Hub
	// Redis backs the rate limiters when set
	Redis redis.UniversalClient
	// Archive is the audit archive store; it is probed by /ready and used by
	// the retention job
	Archive   storage.Storage
	Signer    *audit.Signer
	Directory services.DirectoryAuthenticator
	SSO       services.SSOProvider
	SSOCipher *crypto.TokenCipher
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	retentionJob *jobs.AuditRetentionJob
	expiryJob    *jobs.AccountExpiryJob
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	if bg.expiryJob != nil {
		bg.expiryJob.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

func (bg *BackgroundServices) limiter(deps Dependencies, cfg middleware.RateLimitConfig) middleware.Limiter {
	l := middleware.NewLimiter(deps.Redis, cfg)
	if mem, ok := l.(*middleware.RateLimiter); ok {
		bg.rateLimiters = append(bg.rateLimiters, mem)
	}
	return l
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Services
	var sessionOpts []services.SessionOption
	if deps.Directory != nil {
		sessionOpts = append(sessionOpts, services.WithDirectory(deps.Directory))
	}
	if deps.SSO != nil && deps.SSOCipher != nil {
		sessionOpts = append(sessionOpts, services.WithSSO(deps.SSO, deps.SSOCipher))
	}
	sessions := services.NewSessions(deps.DB, deps.Recorder, cfg.Auth.TokenTTL, sessionOpts...)
	accounts := services.NewAccounts(deps.DB, deps.Recorder)
	orgs := services.NewOrganizations(deps.DB, deps.Recorder, cfg.Audit.DefaultRetentionDays)
	groups := services.NewGroups(deps.DB, deps.Recorder)
	apiKeys := services.NewAPIKeys(deps.DB, deps.Recorder, sessions, cfg.Auth.APIKeys.Prefix)

	var publisher findings.Publisher
	if deps.Hub != nil {
		publisher = deps.Hub
	}
	ingestor := findings.NewIngestor(deps.DB, deps.Recorder, publisher)

	// Background jobs
	if cfg.Audit.Retention.Enabled && deps.Archive != nil {
		bg.retentionJob = jobs.NewAuditRetentionJob(deps.DB, deps.Archive, deps.Signer, deps.Recorder, cfg.Audit)
		go bg.retentionJob.Start(context.Background())
	}
	if cfg.Auth.ExpirySweepInterval > 0 {
		bg.expiryJob = jobs.NewAccountExpiryJob(deps.DB, deps.Recorder, cfg.Auth.ExpirySweepInterval)
		go bg.expiryJob.Start(context.Background())
	}

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS.AllowedOrigins, cfg.Security.CORS.AllowedMethods))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Archive))
	router.GET("/version", versionHandler())

	var keys middleware.APIKeyAuthenticator
	if cfg.Auth.APIKeys.Enabled {
		keys = apiKeys
	}
	authMW := middleware.AuthMiddleware(sessions, keys)

	var apiLimit gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		rl := middleware.DefaultRateLimitConfig()
		if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
			rl.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		}
		if cfg.Security.RateLimiting.Burst > 0 {
			rl.BurstSize = cfg.Security.RateLimiting.Burst
		}
		apiLimit = middleware.RateLimitMiddleware(bg.limiter(deps, rl))
	}
	// authenticated chains authentication with the per-identity limiter, which
	// keys on the principal and so must run after it.
	authenticated := func(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
		chain := []gin.HandlerFunc{authMW}
		if apiLimit != nil {
			chain = append(chain, apiLimit)
		}
		return append(chain, handlers...)
	}

	authHandlers := admin.NewAuthHandlers(sessions, cfg.Security.TLS.Enabled)
	userHandlers := admin.NewUserHandlers(accounts)
	orgHandlers := admin.NewOrganizationHandlers(orgs)
	groupHandlers := admin.NewGroupHandlers(groups)
	keyHandlers := admin.NewAPIKeyHandlers(apiKeys)
	auditHandlers := admin.NewAuditLogHandlers(repositories.NewAuditRepository(deps.DB), deps.Recorder, deps.DB)
	findingHandlers := detection.NewHandlers(ingestor)
	statsHandler := admin.NewStatsHandler(
		repositories.NewUserRepository(deps.DB),
		repositories.NewFindingRepository(deps.DB),
		repositories.NewAuditRepository(deps.DB),
	)

	apiGroup := router.Group("/api")

	// Authentication
	authGroup := apiGroup.Group("/auth")
	{
		public := authGroup.Group("")
		if cfg.Security.RateLimiting.Enabled {
			public.Use(middleware.IPRateLimitMiddleware(bg.limiter(deps, middleware.LoginRateLimitConfig(cfg.Security.RateLimiting.LoginPerMinute))))
		}
		public.POST("/login", authHandlers.LoginHandler())
		public.GET("/sso/login", authHandlers.SSOLoginHandler())
		public.GET("/sso/callback", authHandlers.SSOCallbackHandler())

		authGroup.POST("/logout", authenticated(authHandlers.LogoutHandler())...)
		authGroup.POST("/refresh", authenticated(middleware.RequireSession(), authHandlers.RefreshHandler())...)
		authGroup.GET("/me", authenticated(authHandlers.MeHandler())...)
	}

	// Administration
	adminGroup := apiGroup.Group("/admin")
	adminGroup.Use(authenticated()...)
	adminGroup.Use(middleware.AuditDenialsMiddleware(deps.Recorder, deps.DB))
	{
		auditLogs := adminGroup.Group("/audit-logs")
		auditLogs.Use(middleware.RequireScope(auth.ScopeAuditRead), middleware.RequireRole(models.RolePlatformOwner))
		auditLogs.GET("", auditHandlers.ListAuditLogsHandler())
		auditLogs.GET("/export", auditHandlers.ExportAuditLogsHandler())

		session := adminGroup.Group("")
		session.Use(middleware.RequireSession())

		owner := middleware.RequireRole(models.RolePlatformOwner)
		users := session.Group("/users", owner)
		users.GET("", userHandlers.ListUsersHandler())
		users.POST("", userHandlers.CreateUserHandler())
		users.PUT("/role", userHandlers.ChangeRoleHandler())
		users.GET("/:id", userHandlers.GetUserHandler())
		users.DELETE("/:id", userHandlers.DeleteUserHandler())
		users.POST("/:id/activate", userHandlers.ActivateUserHandler())
		users.POST("/:id/suspend", userHandlers.SuspendUserHandler())
		users.POST("/:id/reactivate", userHandlers.ReactivateUserHandler())
		users.POST("/:id/extend", userHandlers.ExtendUserHandler())

		session.GET("/stats", owner, statsHandler.GetDashboardStats)

		orgRoutes := session.Group("/organizations", middleware.RequireGlobalRole())
		orgRoutes.GET("", orgHandlers.ListOrganizationsHandler())
		orgRoutes.POST("", orgHandlers.CreateOrganizationHandler())
		orgRoutes.GET("/:id", orgHandlers.GetOrganizationHandler())
		orgRoutes.PUT("/:id", orgHandlers.UpdateOrganizationHandler())

		groupRoutes := session.Group("/groups", middleware.RequireRole(models.RoleSecurityAdmin))
		groupRoutes.GET("", groupHandlers.ListGroupsHandler())
		groupRoutes.GET("/:id", groupHandlers.GetGroupHandler())
		groupRoutes.POST("", owner, groupHandlers.CreateGroupHandler())
		groupRoutes.DELETE("/:id", owner, groupHandlers.DeleteGroupHandler())
		groupRoutes.POST("/:id/members", owner, groupHandlers.AddMemberHandler())
		groupRoutes.DELETE("/:id/members/:user_id", owner, groupHandlers.RemoveMemberHandler())

		keyRoutes := session.Group("/apikeys", middleware.RequireRole(models.RoleSecurityAdmin))
		keyRoutes.GET("", keyHandlers.ListAPIKeysHandler())
		keyRoutes.POST("", keyHandlers.CreateAPIKeyHandler())
		keyRoutes.DELETE("/:id", keyHandlers.RevokeAPIKeyHandler())
	}

	// Findings
	findingRoutes := apiGroup.Group("/findings")
	findingRoutes.Use(authenticated()...)
	{
		findingRoutes.POST("", middleware.RequireAPIKeyScope(auth.ScopeFindingsWrite), findingHandlers.SubmitHandler())
		findingRoutes.GET("",
			middleware.RequireRole(models.RoleSOCAnalyst),
			middleware.RequireScope(auth.ScopeFindingsRead),
			findingHandlers.ListHandler(),
		)
	}

	// Notifications
	if deps.Hub != nil {
		stream := notifications.NewHandlers(deps.Hub, 0)
		apiGroup.GET("/notifications/stream", authenticated(
			middleware.RequireRole(models.RoleSOCAnalyst),
			stream.StreamHandler(),
		)...)
	}

	return router, bg
}

// @Summary      Health check
// @Description  Liveness probe. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when configured, the audit archive store.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks: map"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: string"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the archive store so a
// broken store fails the readiness gate before the retention job needs it.
func readinessHandler(db *sqlx.DB, archive storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if archive != nil {
			// Probe a known-absent path: exercises credentials and connectivity
			// without creating state.
			if _, err := archive.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["archive"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "archive storage not ready",
				})
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging. The handler chosen by
// telemetry.SetupLogger decides between JSON and text output.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", c.GetString(middleware.RequestIDKey)),
			slog.String("user_agent", c.Request.UserAgent()),
		}
		// Query strings may carry SSO codes; they are only logged in dev mode.
		if cfg.Server.DevMode && query != "" {
			attrs = append(attrs, slog.String("query", query))
		}
		if uid := c.GetInt64(middleware.UserIDKey); uid != 0 {
			attrs = append(attrs, slog.Int64("user_id", uid))
		}
		slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}
