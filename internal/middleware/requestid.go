package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header that carries the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request identifier. Audit
	// entries copy it into their request_id column.
	RequestIDKey = "request_id"
)

// Inbound ids are stored in audit rows, so only short opaque tokens are kept.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestIDMiddleware ensures every request carries an identifier. A well-formed
// X-Request-ID from an upstream proxy is reused; otherwise a UUID v4 is minted.
// The id is echoed in the response so clients can quote it in support requests.
//
// Register it first so every later log line and audit entry can include the id.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID.MatchString(id) {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
