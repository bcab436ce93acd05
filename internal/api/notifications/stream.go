// Package notifications serves the live event stream over Server-Sent Events.
//
// The stream is read-only. Every event is filtered by the hub against the
// subscriber's current principal before it is queued, so the handler only
// frames what it receives.
package notifications

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/middleware"
	"github.com/sentinelops/sentinel/internal/notify"
)

// DefaultHeartbeat keeps idle connections open through proxies.
const DefaultHeartbeat = 25 * time.Second

// Subscriber is the subscription side of notify.Hub.
type Subscriber interface {
	Subscribe(p *authz.Principal) (*notify.Subscription, error)
	Unsubscribe(s *notify.Subscription)
}

// Handlers handles the notification stream
type Handlers struct {
	hub       Subscriber
	heartbeat time.Duration
}

// NewHandlers creates a new Handlers instance. heartbeat <= 0 uses DefaultHeartbeat.
func NewHandlers(hub Subscriber, heartbeat time.Duration) *Handlers {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Handlers{hub: hub, heartbeat: heartbeat}
}

// @Summary      Notification stream
// @Description  Server-Sent Events carrying audit and finding events of the caller's organization.
// @Tags         Notifications
// @Security     Bearer
// @Produce      text/event-stream
// @Success      200
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      503  {object}  map[string]interface{}  "Notifications unavailable"
// @Router       /api/notifications/stream [get]
// StreamHandler holds the connection open and writes one SSE frame per event.
// The stream ends when the client disconnects or the hub ends the
// subscription; in the latter case a final "close" frame names the reason.
func (h *Handlers) StreamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.Principal(c)
		if p == nil {
			apperrors.Respond(c, apperrors.ErrAuthenticationRequired)
			return
		}
		sub, err := h.hub.Subscribe(p)
		switch {
		case errors.Is(err, notify.ErrHubClosed):
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "notifications unavailable"})
			return
		case err != nil:
			apperrors.Respond(c, apperrors.Forbidden(err.Error()))
			return
		}
		defer h.hub.Unsubscribe(sub)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		c.Writer.Flush()

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		ctx := c.Request.Context()

		slog.Debug("notification stream opened", "user_id", p.UserID, "request_id", c.GetString(middleware.RequestIDKey))
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-sub.Done():
				reason := "closed"
				if err := sub.Err(); err != nil {
					reason = err.Error()
				}
				c.Render(-1, sse.Event{Event: "close", Data: gin.H{"reason": reason}})
				return false
			case ev := <-sub.Events():
				c.Render(-1, sse.Event{Id: ev.ID, Event: ev.Type, Data: ev})
				return true
			case <-ticker.C:
				c.Render(-1, sse.Event{Event: "ping", Data: time.Now().UTC().Format(time.RFC3339)})
				return true
			}
		})
		slog.Debug("notification stream closed", "user_id", p.UserID)
	}
}
