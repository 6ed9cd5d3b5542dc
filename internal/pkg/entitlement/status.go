package entitlement

import (
	"strings"
	"time"

	"github.com/mkessler/streamgate/app/models"
)

// transitionKey addresses the closed transition table.
type transitionKey struct {
	current   string
	eventType string
}

// statusNone is the synthetic current status of a freshly created
// entitlement row that has never applied an event.
const statusNone = ""

// transitionTable is the fixed, closed set of legal status transitions keyed
// by (current status, event type). Combinations absent from the table are
// invalid transitions: they are parked for operator review, never applied.
//
// subscription.created targets trialing; the engine downgrades that to
// active when no trial period is configured.
var transitionTable = map[transitionKey]string{
	{statusNone, models.EventSubscriptionCreated}: models.EntitlementStatusTrialing,

	{models.EntitlementStatusTrialing, models.EventSubscriptionRenewed}:       models.EntitlementStatusActive,
	{models.EntitlementStatusTrialing, models.EventSubscriptionPaymentFailed}: models.EntitlementStatusPastDue,
	{models.EntitlementStatusTrialing, models.EventSubscriptionCanceled}:      models.EntitlementStatusCanceled,
	{models.EntitlementStatusTrialing, models.EventSubscriptionExpired}:       models.EntitlementStatusExpired,

	{models.EntitlementStatusActive, models.EventSubscriptionRenewed}:       models.EntitlementStatusActive,
	{models.EntitlementStatusActive, models.EventSubscriptionPaymentFailed}: models.EntitlementStatusPastDue,
	{models.EntitlementStatusActive, models.EventSubscriptionCanceled}:      models.EntitlementStatusCanceled,
	{models.EntitlementStatusActive, models.EventSubscriptionExpired}:       models.EntitlementStatusExpired,

	// Recovery: a successful renewal while dunning reinstates access.
	{models.EntitlementStatusPastDue, models.EventSubscriptionRenewed}:       models.EntitlementStatusActive,
	{models.EntitlementStatusPastDue, models.EventSubscriptionPaymentFailed}: models.EntitlementStatusPastDue,
	{models.EntitlementStatusPastDue, models.EventSubscriptionCanceled}:      models.EntitlementStatusCanceled,
	{models.EntitlementStatusPastDue, models.EventSubscriptionExpired}:       models.EntitlementStatusExpired,

	// Resubscribe after cancel or expiry starts a fresh cycle.
	{models.EntitlementStatusCanceled, models.EventSubscriptionCreated}: models.EntitlementStatusTrialing,
	{models.EntitlementStatusCanceled, models.EventSubscriptionExpired}: models.EntitlementStatusExpired,
	{models.EntitlementStatusExpired, models.EventSubscriptionCreated}:  models.EntitlementStatusTrialing,
}

// nextStatus resolves the transition table for (current, eventType).
func nextStatus(current, eventType string) (string, bool) {
	next, ok := transitionTable[transitionKey{current, eventType}]
	return next, ok
}

// IsEntitling reports whether a status grants media access right now.
// past_due keeps access only while its grace deadline has not passed.
func IsEntitling(status string, graceDeadline *time.Time, now time.Time) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.EntitlementStatusTrialing, models.EntitlementStatusActive:
		return true
	case models.EntitlementStatusPastDue:
		return graceDeadline == nil || now.Before(*graceDeadline)
	default:
		return false
	}
}
