// Package safego runs fire-and-forget work off the request path. A panic in the
// work is recovered, logged with its stack and counted, so a failing shipper or
// last-used update never takes the process down.
package safego

import (
	"log/slog"
	"runtime/debug"

	"github.com/sentinelops/sentinel/internal/telemetry"
)

// Go runs fn in a new goroutine. task names the work in logs and in the
// sentinel_background_panics_total metric.
func Go(task string, fn func()) {
	go Run(task, fn)
}

// Run calls fn on the current goroutine and recovers a panic. It reports
// whether fn returned normally.
func Run(task string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.BackgroundPanicsTotal.WithLabelValues(task).Inc()
			slog.Error("recovered panic in background task",
				"task", task,
				"panic", r,
				"stack", string(debug.Stack()))
			ok = false
		}
	}()
	fn()
	return true
}
