package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const internalMessage = "internal server error"

// DeniedReasonKey is the gin.Context key under which Respond stores the
// log-only reason of a 403, for the denial audit middleware.
const DeniedReasonKey = "authz_denied"

// Status maps err onto its HTTP status code.
func Status(err error) int {
	var authn *AuthenticationError
	var conflict *ConflictError
	var validation *ValidationError
	switch {
	case errors.As(err, &authn):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes the JSON error body for err and aborts the chain.
// Internal errors are logged with the request id and attached to the gin
// context so the audit middleware can record them on privileged routes.
func Respond(c *gin.Context, err error) {
	status := Status(err)
	body := gin.H{}

	switch status {
	case http.StatusUnauthorized:
		var authn *AuthenticationError
		errors.As(err, &authn)
		body["error"] = authn.Message
	case http.StatusForbidden:
		var authz *AuthorizationError
		body["error"] = "forbidden"
		if errors.As(err, &authz) {
			if authz.Message != "" {
				body["error"] = authz.Message
			}
			if authz.Reason != "" {
				c.Set(DeniedReasonKey, authz.Reason)
			}
		}
	case http.StatusNotFound:
		body["error"] = "not found"
	case http.StatusConflict:
		var conflict *ConflictError
		errors.As(err, &conflict)
		body["error"] = conflict.Error()
	case http.StatusUnprocessableEntity:
		var validation *ValidationError
		errors.As(err, &validation)
		body["error"] = "validation failed"
		body["fields"] = validation.Fields
	default:
		body["error"] = internalMessage
		slog.Error("request failed",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"route", c.FullPath(),
			"error", err,
		)
		_ = c.Error(err)
	}

	if status < http.StatusInternalServerError {
		slog.Debug("request rejected", "request_id", c.GetString("request_id"), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

// FromBinding converts a gin binding error into a ValidationError. Struct tag
// failures from go-playground/validator become one message per field; a
// malformed body becomes a single "body" entry.
func FromBinding(err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := &ValidationError{Fields: make(map[string]string, len(verrs))}
		for _, fe := range verrs {
			out.Fields[jsonFieldName(fe)] = describe(fe)
		}
		return out
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return Invalid(typeErr.Field, fmt.Sprintf("must be a %s", typeErr.Type.String()))
	}
	if errors.Is(err, io.EOF) {
		return Invalid("body", "request body is required")
	}
	return Invalid("body", "malformed request body")
}

func jsonFieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return fe.StructField()
	}
	return toSnake(name)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "alphanum":
		return "must contain only letters and digits"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// toSnake converts a Go field name (OrganizationID) to its JSON form (organization_id).
func toSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper {
			prevLower := i > 0 && runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			prevUpper := i > 0 && runes[i-1] >= 'A' && runes[i-1] <= 'Z'
			if i > 0 && (prevLower || (prevUpper && nextLower)) {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
