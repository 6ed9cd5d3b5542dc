package models

import "time"

// Payment event types as the reconciliation engine understands them. The
// webhook layer normalizes processor-native names into this closed set.
const (
	EventSubscriptionCreated       = "subscription.created"
	EventSubscriptionRenewed       = "subscription.renewed"
	EventSubscriptionPaymentFailed = "subscription.payment_failed"
	EventSubscriptionCanceled      = "subscription.canceled"
	EventSubscriptionExpired       = "subscription.expired"
)

// PaymentEvent is the append-only ledger row for a processor event. The
// unique (external_id) index is the idempotency boundary against at-least-once
// webhook delivery. Rows are never mutated after insert; only the processing
// bookkeeping columns (processed_at, processing_error, parked) move.
type PaymentEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ExternalID      string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_events_external_id" json:"external_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	UserID          uint       `gorm:"not null;index:idx_payment_events_user_plan,priority:1" json:"user_id"`
	PlanID          uint       `gorm:"not null;index:idx_payment_events_user_plan,priority:2" json:"plan_id"`
	OccurredAt      time.Time  `gorm:"type:timestamp;not null" json:"occurred_at"`
	PeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	Parked          bool       `gorm:"default:false;index" json:"parked"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
