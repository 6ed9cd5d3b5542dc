package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/webhook"

	"github.com/mkessler/streamgate/app/models"
)

var (
	// ErrSignatureInvalid marks payloads that fail signature verification.
	// They are rejected at the boundary and never reach the ledger.
	ErrSignatureInvalid = errors.New("invalid webhook signature")

	// ErrUnhandledEventType marks event types outside the subscription
	// lifecycle; the handler acknowledges and ignores them.
	ErrUnhandledEventType = errors.New("unhandled event type")
)

// eventTypeMap normalizes processor event names into the internal closed
// set. Stripe-native names and the canonical names both resolve.
var eventTypeMap = map[string]string{
	"customer.subscription.created": models.EventSubscriptionCreated,
	"invoice.paid":                  models.EventSubscriptionRenewed,
	"invoice.payment_failed":        models.EventSubscriptionPaymentFailed,
	"customer.subscription.deleted": models.EventSubscriptionCanceled,

	models.EventSubscriptionCreated:       models.EventSubscriptionCreated,
	models.EventSubscriptionRenewed:       models.EventSubscriptionRenewed,
	models.EventSubscriptionPaymentFailed: models.EventSubscriptionPaymentFailed,
	models.EventSubscriptionCanceled:      models.EventSubscriptionCanceled,
	models.EventSubscriptionExpired:       models.EventSubscriptionExpired,
}

// Event is the normalized payment event extracted from a verified webhook.
type Event struct {
	ExternalID  string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	UserID      uint       `json:"user_id"`
	PlanID      uint       `json:"plan_id"`
	OccurredAt  time.Time  `json:"occurred_at"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
	PayloadJSON string     `json:"payload"`
}

// eventObject is the slice of the Stripe data object we care about. Subject
// user and plan ride in the object metadata, set at checkout time.
type eventObject struct {
	ID               string            `json:"id"`
	Metadata         map[string]string `json:"metadata"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
}

// VerifyAndNormalize verifies the Stripe-Signature header against the
// endpoint secret and maps the payload to an internal Event. Stateful work
// happens elsewhere; this function only parses.
func VerifyAndNormalize(payload []byte, signatureHeader, endpointSecret string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, signatureHeader, endpointSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return normalize(stripeEvent, payload)
}

func normalize(stripeEvent stripe.Event, payload []byte) (*Event, error) {
	eventType, ok := eventTypeMap[strings.TrimSpace(stripeEvent.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEventType, stripeEvent.Type)
	}

	var obj eventObject
	if stripeEvent.Data != nil {
		if err := json.Unmarshal(stripeEvent.Data.Raw, &obj); err != nil {
			return nil, fmt.Errorf("invalid event object: %w", err)
		}
	}

	userID, err := metadataUint(obj.Metadata, "user_id")
	if err != nil {
		return nil, err
	}
	planID, err := metadataUint(obj.Metadata, "plan_id")
	if err != nil {
		return nil, err
	}

	occurredAt := time.Unix(stripeEvent.Created, 0).UTC()
	var periodEnd *time.Time
	if obj.CurrentPeriodEnd > 0 {
		t := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}

	return &Event{
		ExternalID:  stripeEvent.ID,
		EventType:   eventType,
		UserID:      userID,
		PlanID:      planID,
		OccurredAt:  occurredAt,
		PeriodEnd:   periodEnd,
		PayloadJSON: string(payload),
	}, nil
}

func metadataUint(metadata map[string]string, key string) (uint, error) {
	raw := strings.TrimSpace(metadata[key])
	if raw == "" {
		return 0, fmt.Errorf("event metadata is missing %s", key)
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("event metadata has invalid %s: %q", key, raw)
	}
	return uint(n), nil
}
