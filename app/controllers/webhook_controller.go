package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mkessler/streamgate/internal/pkg/jobqueue"
	"github.com/mkessler/streamgate/internal/pkg/webhook"
)

var webhookSecret string

// InitializeWebhookController binds the endpoint secret used for Stripe
// signature verification.
func InitializeWebhookController(endpointSecret string) {
	webhookSecret = endpointSecret
}

// HandleStripeWebhook is the single payment-processor entry point. It
// verifies the signature, normalizes the event and enqueues a reconcile job;
// the response never waits on reconciliation. 2xx tells the processor to stop
// retrying, so only persistence failures return an error status.
func HandleStripeWebhook(c *fiber.Ctx) error {
	event, err := webhook.VerifyAndNormalize(c.Body(), c.Get("Stripe-Signature"), webhookSecret)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrSignatureInvalid):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		case errors.Is(err, webhook.ErrUnhandledEventType):
			// Acknowledged but out of scope; the processor must not retry.
			return c.JSON(fiber.Map{"status": "ignored"})
		default:
			log.Errorf("[Webhook] Rejected malformed event: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
	}

	payload := jobqueue.ReconcileEventJobPayload{
		EventID:     event.ExternalID,
		EventType:   event.EventType,
		UserID:      event.UserID,
		PlanID:      event.PlanID,
		OccurredAt:  event.OccurredAt,
		PeriodEnd:   event.PeriodEnd,
		PayloadJSON: event.PayloadJSON,
	}
	if _, err := jobqueue.GetManager().GetQueue().EnqueueJob(jobqueue.JobTypeReconcileEvent, payload.ToMap()); err != nil {
		// Nothing durable holds this event yet; a non-2xx makes Stripe retry.
		log.Errorf("[Webhook] Failed to enqueue event %s: %v", event.ExternalID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "enqueue_failed"})
	}

	log.Infof("[Webhook] Accepted event %s (%s) for user %d", event.ExternalID, event.EventType, event.UserID)
	return c.JSON(fiber.Map{"status": "accepted"})
}
