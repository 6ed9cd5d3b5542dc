package jobqueue

import (
	"context"
	"fmt"

	"github.com/mkessler/streamgate/app/models"
	"github.com/mkessler/streamgate/internal/pkg/database"
	"github.com/mkessler/streamgate/internal/pkg/mail"
)

// processSendEmailJob resolves the recipient and sends one entitlement
// notice. SMTP failures are retryable through the normal job retry policy.
func (q *Queue) processSendEmailJob(ctx context.Context, job *Job) error {
	_ = ctx
	payload, err := SendEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid email payload: %w", err)
	}

	user, err := models.FindUserByID(database.GetDB(), payload.UserID)
	if err != nil {
		return fmt.Errorf("email recipient lookup failed: %w", err)
	}

	return mail.SendMail(user.Email, payload.Subject, payload.Body)
}
