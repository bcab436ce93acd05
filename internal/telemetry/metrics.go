// Package telemetry provides application-level observability for Sentinel.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<SENTINEL_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router, so tenants
// never see it.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Login attempts and authorization decisions
//   - Audit sink writes and secondary shipping
//   - Notification stream subscribers and drops
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// No metric carries user ids, organization ids or usernames as labels. HTTP
// metrics use c.FullPath() (e.g. /api/admin/users/:id) rather than the raw URL.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Authentication and authorization metrics.
//
// LoginAttemptsTotal{method, outcome}: method is password, ldap, oidc or api_key;
// outcome is success or failure. A spike in failures is the brute-force signal.
//
//   - Failure ratio:  sum(rate(sentinel_login_attempts_total{outcome="failure"}[5m])) / sum(rate(sentinel_login_attempts_total[5m]))
//
// AuthzDecisionsTotal{decision}: allow, deny_role, deny_tenant, deny_status,
// deny_misconfigured. Tenant denials that are not explained by client bugs are
// worth alerting on.
//
// AuthzAnomaliesTotal counts principals with a tenant-scoped role but no
// organization. Any non-zero value means a user record needs repair.
//
//   - Alert expression: increase(sentinel_authz_anomalies_total[1h]) > 0
var (
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_login_attempts_total",
			Help: "Total number of login attempts, by credential method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_authz_decisions_total",
			Help: "Total number of authorization decisions, by outcome.",
		},
		[]string{"decision"},
	)

	AuthzAnomaliesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_authz_anomalies_total",
			Help: "Total number of requests from tenant-scoped principals with no organization.",
		},
	)

	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_rate_limit_rejections_total",
			Help: "Total number of requests rejected by a rate limiter, by limiter name.",
		},
		[]string{"limiter"},
	)
)

// Audit metrics.
//
// AuditWritesTotal{category, outcome}: outcome is ok or error. Errors on a
// fail-closed path mean the triggering action was rolled back.
//
//   - Audit write failures:  sum by (category) (rate(sentinel_audit_writes_total{outcome="error"}[5m]))
//
// AuditShippedTotal{shipper, outcome} tracks the secondary, post-commit delivery
// of audit entries to webhooks and files.
//
// AuditArchivedRowsTotal counts rows exported by the retention job before purge.
var (
	AuditWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_audit_writes_total",
			Help: "Total number of audit log writes, by category and outcome.",
		},
		[]string{"category", "outcome"},
	)

	AuditShippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_audit_shipped_total",
			Help: "Total number of audit entries handed to secondary shippers, by shipper and outcome.",
		},
		[]string{"shipper", "outcome"},
	)

	AuditArchivedRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_audit_archived_rows_total",
			Help: "Total number of audit rows archived and purged by the retention job.",
		},
	)
)

// Notification stream metrics.
//
// NotificationSubscribers is the current number of open streams.
// NotificationsDeliveredTotal and NotificationsDroppedTotal{reason} describe fan-out;
// reason is tenant (filtered by the scope re-check), inactive (subscriber account
// no longer active) or slow (buffer full, subscriber disconnected).
var (
	NotificationSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_notification_subscribers",
			Help: "Current number of connected notification stream subscribers.",
		},
	)

	NotificationsDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_notifications_delivered_total",
			Help: "Total number of notification events delivered to subscribers.",
		},
	)

	NotificationsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_notifications_dropped_total",
			Help: "Total number of notification deliveries skipped, by reason.",
		},
		[]string{"reason"},
	)
)

// FindingsIngestedTotal{severity} counts findings accepted from detection collaborators.
var FindingsIngestedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sentinel_findings_ingested_total",
		Help: "Total number of findings ingested from external collaborators, by severity.",
	},
	[]string{"severity"},
)

// DBOpenConnections tracks open connections in the sql.DB pool, sampled every
// 30 seconds by StartDBStatsCollector.
//
//   - Pool utilisation (%): db_open_connections / <SENTINEL_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds. It exits when the database becomes unreachable,
// which happens on shutdown after db.Close().
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}

// BackgroundPanicsTotal counts panics recovered by safego, by task name.
var BackgroundPanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sentinel_background_panics_total",
		Help: "Total number of panics recovered in background goroutines, by task.",
	},
	[]string{"task"},
)
