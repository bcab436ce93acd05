package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func requestIDRouter(seen *string) *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		*seen = c.GetString(RequestIDKey)
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequestIDMiddleware_GeneratesUUID(t *testing.T) {
	var seen string
	w := httptest.NewRecorder()
	requestIDRouter(&seen).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	got := w.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("response id %q is not a UUID", got)
	}
	if seen != got {
		t.Errorf("context id %q != header id %q", seen, got)
	}
}

func TestRequestIDMiddleware_Inbound(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		reused  bool
	}{
		{"upstream id", "lb-7f3a.01", true},
		{"too long", strings.Repeat("a", 129), false},
		{"control characters", "abc\x00def", false},
		{"spaces", "drop table", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, tt.inbound)
			w := httptest.NewRecorder()
			requestIDRouter(&seen).ServeHTTP(w, req)

			if (seen == tt.inbound) != tt.reused {
				t.Errorf("id = %q, reused = %v, want %v", seen, seen == tt.inbound, tt.reused)
			}
		})
	}
}
