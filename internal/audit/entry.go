// Package audit is the synchronous audit sink. Entries are written to the
// audit_logs table in the same transaction as the action they describe, so an
// action and its record commit or roll back together. Committed entries are then
// handed to secondary shippers (webhook, file) and to the notification hub; those
// copies are best-effort and never authoritative.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sentinelops/sentinel/internal/db/models"
)

// ErrInvalidEntry is wrapped by every Entry.Validate failure.
var ErrInvalidEntry = errors.New("invalid audit entry")

// Metadata is the structured payload of an entry. Values must be JSON-encodable.
type Metadata map[string]any

// Entry is an audit record before it is persisted.
type Entry struct {
	Level          models.AuditLevel
	Category       string
	Source         string
	Message        string
	Metadata       Metadata
	UserID         *int64
	OrganizationID *int64
	IPAddress      string
	RequestID      string
}

// Validate rejects entries that cannot be stored faithfully.
func (e Entry) Validate() error {
	if !e.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidEntry, e.Level)
	}
	if strings.TrimSpace(e.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidEntry)
	}
	if e.Metadata != nil {
		if _, err := json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("%w: metadata is not JSON-encodable: %v", ErrInvalidEntry, err)
		}
	}
	return nil
}

func (e Entry) toModel() *models.AuditLog {
	log := &models.AuditLog{
		Level:          e.Level,
		Category:       e.Category,
		Source:         e.Source,
		Message:        e.Message,
		Metadata:       e.Metadata,
		UserID:         e.UserID,
		OrganizationID: e.OrganizationID,
	}
	if e.IPAddress != "" {
		ip := e.IPAddress
		log.IPAddress = &ip
	}
	if e.RequestID != "" {
		rid := e.RequestID
		log.RequestID = &rid
	}
	return log
}
