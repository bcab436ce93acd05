// @title           Sentinel API
// @version         1.0.0
// @description     Multi-tenant security operations backend: accounts, audit trail, findings and live notifications.
// @contact.name    Support
// @contact.email   support@example.com
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session token or API key: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version probes.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated port (default 9090) at GET /metrics, separate from the API listener. Configure it with SENTINEL_TELEMETRY_METRICS_PROMETHEUS_PORT.

// Package main is the entry point for the Sentinel server binary. It
// dispatches three subcommands (serve, migrate and version) with a switch on
// os.Args. serve runs pending migrations before accepting traffic.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sentinelops/sentinel/internal/api"
	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/auth"
	"github.com/sentinelops/sentinel/internal/auth/azuread"
	"github.com/sentinelops/sentinel/internal/auth/ldap"
	"github.com/sentinelops/sentinel/internal/auth/oidc"
	"github.com/sentinelops/sentinel/internal/config"
	"github.com/sentinelops/sentinel/internal/crypto"
	"github.com/sentinelops/sentinel/internal/db"
	"github.com/sentinelops/sentinel/internal/notify"
	"github.com/sentinelops/sentinel/internal/services"
	"github.com/sentinelops/sentinel/internal/storage"
	_ "github.com/sentinelops/sentinel/internal/storage/azure"
	_ "github.com/sentinelops/sentinel/internal/storage/gcs"
	_ "github.com/sentinelops/sentinel/internal/storage/local"
	_ "github.com/sentinelops/sentinel/internal/storage/s3"
	"github.com/sentinelops/sentinel/internal/telemetry"
)

// stateKeyIterations is the PBKDF2 work factor for the SSO state cookie key.
const stateKeyIterations = 210000

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if command == "version" {
		fmt.Printf("Sentinel %s\n", api.Version)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg, configPath)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config, configPath string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if configPath != "" {
		err := config.Watch(configPath, func(next *config.Config) {
			telemetry.SetLevel(next.Logging.Level)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		}
	}

	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"user", cfg.Database.User,
		"dbname", cfg.Database.Name,
		"sslmode", cfg.Database.SSLMode)
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	telemetry.StartDBStatsCollector(database.DB)

	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Rate limiting falls back to memory and notifications stay local.
			slog.Warn("redis unreachable, continuing without it", "addr", cfg.Redis.Addr, "error", err)
			rdb = nil
		}
	}

	deps := api.Dependencies{DB: database}
	if rdb != nil {
		deps.Redis = rdb
	}

	var hub *notify.Hub
	if cfg.Notifications.Enabled {
		hubCfg := notify.HubConfig{
			BufferSize:      cfg.Notifications.BufferSize,
			RecheckInterval: cfg.Notifications.RecheckInterval,
			// The checker only reads accounts and never records.
			Checker: services.NewSessions(database, audit.NewRecorder(), cfg.Auth.TokenTTL),
		}
		if rdb != nil {
			hubCfg.Relay = notify.NewRedisRelay(rdb, cfg.Notifications.RedisChannel)
		}
		hub = notify.NewHub(hubCfg)
		deps.Hub = hub
		go hub.Run(ctx)
	}

	recorder, closeShippers, err := newRecorder(cfg, hub)
	if err != nil {
		return err
	}
	defer closeShippers()
	deps.Recorder = recorder

	if cfg.Auth.LDAP.Enabled {
		deps.Directory = ldap.New(cfg.Auth.LDAP)
	}
	if cfg.Auth.OIDC.Enabled || cfg.Auth.AzureAD.Enabled {
		var provider *oidc.Provider
		if cfg.Auth.AzureAD.Enabled {
			provider, err = azuread.NewProvider(ctx, &cfg.Auth.AzureAD)
		} else {
			provider, err = oidc.NewProvider(ctx, &cfg.Auth.OIDC)
		}
		if err != nil {
			return fmt.Errorf("failed to initialise SSO provider: %w", err)
		}
		cipher, err := crypto.DeriveTokenCipher(auth.GetJWTSecret(), []byte(cfg.Auth.OIDC.StateKeySalt), stateKeyIterations)
		if err != nil {
			return fmt.Errorf("failed to derive SSO state key: %w", err)
		}
		deps.SSO = provider
		deps.SSOCipher = cipher
	}

	if cfg.Audit.Retention.Enabled {
		archive, err := storage.NewStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialise archive storage: %w", err)
		}
		deps.Archive = archive
		if path := cfg.Audit.Retention.SigningKeyFile; path != "" {
			signer, err := audit.LoadSigner(path, cfg.Audit.Retention.SigningKeyPassphrase)
			if err != nil {
				return fmt.Errorf("failed to load archive signing key: %w", err)
			}
			slog.Info("audit archives will be signed", "key_id", signer.KeyID())
			deps.Signer = signer
		}
	}

	if cfg.Telemetry.Metrics.Enabled {
		go serveMetrics(cfg.Telemetry.Metrics.PrometheusPort)
	}

	router, bgServices := api.NewRouter(cfg, deps)
	server := &http.Server{
		Addr:              cfg.Server.GetAddress(),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout is left to the handlers: the notification stream is long-lived.
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"tls", cfg.Security.TLS.Enabled,
			"notifications", hub != nil,
			"archive_backend", cfg.Storage.DefaultBackend)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	if hub != nil {
		// Ends open streams so Shutdown does not wait on them.
		hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// newRecorder builds the audit recorder with the configured shippers and, when
// notifications are on, the hub as publisher.
func newRecorder(cfg *config.Config, hub *notify.Hub) (*audit.Recorder, func(), error) {
	var opts []audit.Option
	closeFn := func() {}

	if len(cfg.Audit.Shippers) > 0 {
		shippers, err := audit.NewMultiShipper(cfg.Audit.Shippers)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialise audit shippers: %w", err)
		}
		if shippers.Len() > 0 {
			opts = append(opts, audit.WithShipper(shippers))
			closeFn = func() {
				if err := shippers.Close(); err != nil {
					slog.Warn("failed to close audit shippers", "error", err)
				}
			}
		}
	}
	if hub != nil {
		opts = append(opts, audit.WithPublisher(hub))
	}
	return audit.NewRecorder(opts...), closeFn, nil
}

// serveMetrics exposes Prometheus metrics on a dedicated port so the scrape
// path is not reachable through the public API ingress.
func serveMetrics(port int) {
	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	slog.Info("starting Prometheus metrics server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server error", "error", err)
	}
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)
	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", version, dirty)
	return nil
}
