package jobqueue

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mkessler/streamgate/app/models"
	"github.com/mkessler/streamgate/internal/pkg/entitlement"
)

// TransitionNotifier turns applied entitlement transitions into independent
// email jobs. Enqueue failures are logged, never propagated: side effects
// must not fail or block the reconciliation write.
type TransitionNotifier struct {
	queue *Queue
}

func NewTransitionNotifier(queue *Queue) *TransitionNotifier {
	return &TransitionNotifier{queue: queue}
}

func (n *TransitionNotifier) NotifyTransition(t entitlement.Transition) {
	var payload *SendEmailJobPayload

	switch t.To {
	case models.EntitlementStatusPastDue:
		payload = &SendEmailJobPayload{
			UserID:  t.UserID,
			Subject: "Payment failed: action required",
			Body: fmt.Sprintf(
				"<p>Your last payment for plan %d failed. Please update your payment method to keep streaming. Access ends on %s.</p>",
				t.PlanID, deadlineText(t)),
		}
	case models.EntitlementStatusCanceled:
		payload = &SendEmailJobPayload{
			UserID:  t.UserID,
			Subject: "Your subscription was canceled",
			Body:    fmt.Sprintf("<p>Your subscription to plan %d has been canceled. Streaming access has been revoked.</p>", t.PlanID),
		}
	case models.EntitlementStatusExpired:
		payload = &SendEmailJobPayload{
			UserID:  t.UserID,
			Subject: "Your subscription expired",
			Body:    fmt.Sprintf("<p>Your subscription to plan %d expired. Renew to restore streaming access.</p>", t.PlanID),
		}
	default:
		return
	}

	if _, err := n.queue.EnqueueJob(JobTypeSendEmail, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue] Failed to enqueue %s notice for user %d: %v", t.To, t.UserID, err)
	}
}

func deadlineText(t entitlement.Transition) string {
	if t.GraceDeadline == nil {
		return "soon"
	}
	return t.GraceDeadline.Format("2006-01-02")
}
