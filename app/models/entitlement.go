package models

import "time"

const (
	EntitlementStatusTrialing = "trialing"
	EntitlementStatusActive   = "active"
	EntitlementStatusPastDue  = "past_due"
	EntitlementStatusCanceled = "canceled"
	EntitlementStatusExpired  = "expired"
)

// Entitlement is the local, authoritative belief about whether a user has
// paid access to a plan. Exactly one row exists per (user, plan). Only the
// reconciliation engine writes it; request handling reads it.
//
// LastEventAt is the monotonic guard: an event whose occurred_at is not
// strictly after it is a no-op, which makes event application
// order-independent under duplicate and out-of-order delivery.
type Entitlement struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"not null;index:ux_entitlements_user_plan,unique,priority:1" json:"user_id"`
	PlanID           uint       `gorm:"not null;index:ux_entitlements_user_plan,unique,priority:2" json:"plan_id"`
	Status           string     `gorm:"type:varchar(32);not null;default:'trialing';index" json:"status"`
	CurrentPeriodEnd *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	GraceDeadline    *time.Time `gorm:"type:timestamp;default:null;index" json:"grace_deadline,omitempty"`
	LastEventID      string     `gorm:"type:varchar(191);not null;default:''" json:"last_event_id"`
	LastEventAt      *time.Time `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
