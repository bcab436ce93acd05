// Package models - finding.go defines results pushed by external detection
// collaborators (scanners, anomaly detectors).
package models

import "time"

// Severity ranks a finding
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AuditLevel maps a finding severity onto the audit level used to record it.
func (s Severity) AuditLevel() AuditLevel {
	switch s {
	case SeverityCritical:
		return AuditCritical
	case SeverityHigh:
		return AuditWarning
	default:
		return AuditInfo
	}
}

// Finding is a tenant-scoped detection result.
type Finding struct {
	ID             int64          `db:"id" json:"id"`
	OrganizationID int64          `db:"organization_id" json:"organization_id"`
	Source         string         `db:"source" json:"source"`
	Severity       Severity       `db:"severity" json:"severity"`
	Title          string         `db:"title" json:"title"`
	Details        map[string]any `db:"-" json:"details"`
	DetectedAt     time.Time      `db:"detected_at" json:"detected_at"`
	ReceivedAt     time.Time      `db:"received_at" json:"received_at"`
}
