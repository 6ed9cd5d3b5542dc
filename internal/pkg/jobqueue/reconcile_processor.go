package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mkessler/streamgate/internal/pkg/entitlement"
	"github.com/mkessler/streamgate/internal/pkg/ledger"
)

// processReconcileEventJob records a payment event in the ledger and applies
// it to the entitlement store. Benign outcomes (duplicate, stale) complete
// the job; invalid transitions park the event for operator review; anything
// else bubbles up to the queue's bounded retry policy.
func (q *Queue) processReconcileEventJob(ctx context.Context, job *Job) error {
	if q.ledger == nil || q.engine == nil {
		return fmt.Errorf("reconcile processor is not bound")
	}

	payload, err := ReconcileEventJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid reconcile payload: %w", err)
	}

	result, stored, err := q.ledger.Record(ctx, ledger.EventInput{
		ExternalID:  payload.EventID,
		EventType:   payload.EventType,
		UserID:      payload.UserID,
		PlanID:      payload.PlanID,
		OccurredAt:  payload.OccurredAt,
		PeriodEnd:   payload.PeriodEnd,
		PayloadJSON: payload.PayloadJSON,
	})
	if err != nil {
		return fmt.Errorf("ledger record failed: %w", err)
	}
	if result == ledger.RecordDuplicate && stored.ProcessedAt != nil {
		// Idempotency hit on an already reconciled event; nothing to do.
		log.Infof("[JobQueue] Duplicate event %s already processed, skipping", stored.ExternalID)
		return nil
	}

	_, applyErr := q.engine.Apply(ctx, *stored)
	switch {
	case applyErr == nil:
		return q.ledger.MarkProcessed(ctx, stored.ID, nil)
	case errors.Is(applyErr, entitlement.ErrStaleEvent):
		// Out-of-order delivery; the monotonic guard already kept state
		// correct. Processed, not an error.
		return q.ledger.MarkProcessed(ctx, stored.ID, applyErr)
	case entitlement.IsNonRetryable(applyErr):
		log.Errorf("[JobQueue] Parking event %s: %v", stored.ExternalID, applyErr)
		return q.ledger.Park(ctx, stored.ID, applyErr)
	default:
		return applyErr
	}
}

// handlePermanentFailure parks the underlying event when a reconcile job
// exhausts its retries, so payment state never silently regresses.
func (q *Queue) handlePermanentFailure(ctx context.Context, job *Job, jobErr error) {
	if job.Type != JobTypeReconcileEvent || q.ledger == nil {
		return
	}
	payload, err := ReconcileEventJobPayloadFromMap(job.Payload)
	if err != nil {
		log.Errorf("[JobQueue] Cannot park event for job %s: %v", job.ID, err)
		return
	}
	// Record is idempotent, so this resolves the ledger row even when the
	// original insert succeeded on an earlier attempt.
	_, stored, recErr := q.ledger.Record(ctx, ledger.EventInput{
		ExternalID:  payload.EventID,
		EventType:   payload.EventType,
		UserID:      payload.UserID,
		PlanID:      payload.PlanID,
		OccurredAt:  payload.OccurredAt,
		PeriodEnd:   payload.PeriodEnd,
		PayloadJSON: payload.PayloadJSON,
	})
	if recErr != nil {
		log.Errorf("[JobQueue] Cannot park event %s: %v", payload.EventID, recErr)
		return
	}
	if parkErr := q.ledger.Park(ctx, stored.ID, jobErr); parkErr != nil {
		log.Errorf("[JobQueue] Failed to park event %s: %v", stored.ExternalID, parkErr)
	}
}
