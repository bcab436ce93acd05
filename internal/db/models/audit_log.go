// Package models - audit_log.go defines the append-only AuditLog record and its
// level and category vocabularies.
package models

import "time"

// AuditLevel is the severity of an audit entry
type AuditLevel string

const (
	AuditInfo     AuditLevel = "info"
	AuditWarning  AuditLevel = "warning"
	AuditError    AuditLevel = "error"
	AuditCritical AuditLevel = "critical"
)

// Valid reports whether l is a known level.
func (l AuditLevel) Valid() bool {
	switch l {
	case AuditInfo, AuditWarning, AuditError, AuditCritical:
		return true
	}
	return false
}

// Audit categories used by the application. The column is free text so
// collaborators may introduce their own, but these are the ones we write.
const (
	CategoryAuth      = "auth"
	CategoryAdmin     = "admin"
	CategoryAuthz     = "authz"
	CategoryDetection = "detection"
	CategorySystem    = "system"
)

// AuditLog is an immutable record. Metadata is always a JSON object; it is
// decoded from JSONB into a map and never reconstructed from strings.
type AuditLog struct {
	ID             int64          `db:"id" json:"id"`
	Level          AuditLevel     `db:"level" json:"level"`
	Category       string         `db:"category" json:"category"`
	Source         string         `db:"source" json:"source"`
	Message        string         `db:"message" json:"message"`
	Metadata       map[string]any `db:"-" json:"metadata"`
	UserID         *int64         `db:"user_id" json:"user_id,omitempty"`
	OrganizationID *int64         `db:"organization_id" json:"organization_id,omitempty"`
	IPAddress      *string        `db:"ip_address" json:"ip_address,omitempty"`
	RequestID      *string        `db:"request_id" json:"request_id,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}
