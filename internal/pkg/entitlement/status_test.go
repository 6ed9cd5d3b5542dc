package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mkessler/streamgate/app/models"
)

func TestIsEntitling(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name          string
		status        string
		graceDeadline *time.Time
		want          bool
	}{
		{"trialing", models.EntitlementStatusTrialing, nil, true},
		{"active", models.EntitlementStatusActive, nil, true},
		{"past_due within grace", models.EntitlementStatusPastDue, &future, true},
		{"past_due after grace", models.EntitlementStatusPastDue, &past, false},
		{"past_due at deadline", models.EntitlementStatusPastDue, &now, false},
		{"canceled", models.EntitlementStatusCanceled, nil, false},
		{"expired", models.EntitlementStatusExpired, nil, false},
		{"unknown", "garbage", nil, false},
		{"status with whitespace", "  active ", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEntitling(tt.status, tt.graceDeadline, now))
		})
	}
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		eventType string
		want      string
		ok        bool
	}{
		{"fresh created", statusNone, models.EventSubscriptionCreated, models.EntitlementStatusTrialing, true},
		{"trial renewed", models.EntitlementStatusTrialing, models.EventSubscriptionRenewed, models.EntitlementStatusActive, true},
		{"active failed", models.EntitlementStatusActive, models.EventSubscriptionPaymentFailed, models.EntitlementStatusPastDue, true},
		{"dunning recovery", models.EntitlementStatusPastDue, models.EventSubscriptionRenewed, models.EntitlementStatusActive, true},
		{"resubscribe after cancel", models.EntitlementStatusCanceled, models.EventSubscriptionCreated, models.EntitlementStatusTrialing, true},
		{"resubscribe after expiry", models.EntitlementStatusExpired, models.EventSubscriptionCreated, models.EntitlementStatusTrialing, true},
		{"fresh renewal is invalid", statusNone, models.EventSubscriptionRenewed, "", false},
		{"canceled renewal is invalid", models.EntitlementStatusCanceled, models.EventSubscriptionRenewed, "", false},
		{"expired failure is invalid", models.EntitlementStatusExpired, models.EventSubscriptionPaymentFailed, "", false},
		{"created twice is invalid", models.EntitlementStatusActive, models.EventSubscriptionCreated, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := nextStatus(tt.current, tt.eventType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
