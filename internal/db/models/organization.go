// Package models - organization.go defines the Organization model, the tenant boundary
// that owns users, groups, findings and (optionally) audit logs.
package models

import "time"

// SubscriptionPlan is the commercial tier of an organization
type SubscriptionPlan string

const (
	PlanFree       SubscriptionPlan = "free"
	PlanPro        SubscriptionPlan = "pro"
	PlanEnterprise SubscriptionPlan = "enterprise"
	PlanMSP        SubscriptionPlan = "msp"
)

// Valid reports whether p is one of the known plans.
func (p SubscriptionPlan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise, PlanMSP:
		return true
	}
	return false
}

// Organization represents a tenant. Organizations are never hard-deleted;
// IsActive=false soft-disables them so billing and audit history survive.
type Organization struct {
	ID               int64            `db:"id" json:"id"`
	Name             string           `db:"name" json:"name"`
	Slug             string           `db:"slug" json:"slug"`
	Domain           *string          `db:"domain" json:"domain,omitempty"`
	SubscriptionPlan SubscriptionPlan `db:"subscription_plan" json:"subscription_plan"`
	MaxDevices       int              `db:"max_devices" json:"max_devices"`
	MaxScansPerDay   int              `db:"max_scans_per_day" json:"max_scans_per_day"`
	LogRetentionDays int              `db:"log_retention_days" json:"log_retention_days"`
	IsActive         bool             `db:"is_active" json:"is_active"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}
