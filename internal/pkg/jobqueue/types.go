package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeReconcileEvent JobType = "reconcile_event"
	JobTypeSendEmail      JobType = "send_email"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// ReconcileEventJobPayload carries one normalized payment event from the
// webhook boundary (or the re-drive sweeper) to the reconciliation worker.
type ReconcileEventJobPayload struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	UserID      uint       `json:"user_id"`
	PlanID      uint       `json:"plan_id"`
	OccurredAt  time.Time  `json:"occurred_at"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
	PayloadJSON string     `json:"payload_json"`
}

// ToMap converts the payload to a map for storage
func (p ReconcileEventJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"event_id":     p.EventID,
		"event_type":   p.EventType,
		"user_id":      p.UserID,
		"plan_id":      p.PlanID,
		"occurred_at":  p.OccurredAt.Format(time.RFC3339Nano),
		"payload_json": p.PayloadJSON,
	}
	if p.PeriodEnd != nil {
		m["period_end"] = p.PeriodEnd.Format(time.RFC3339Nano)
	}
	return m
}

// FromMap creates a payload from a map
func ReconcileEventJobPayloadFromMap(data map[string]interface{}) (*ReconcileEventJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ReconcileEventJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// SendEmailJobPayload carries one entitlement notice. The worker resolves
// the recipient address at send time.
type SendEmailJobPayload struct {
	UserID  uint   `json:"user_id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ToMap converts the payload to a map for storage
func (p SendEmailJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id": p.UserID,
		"subject": p.Subject,
		"body":    p.Body,
	}
}

// FromMap creates a payload from a map
func SendEmailJobPayloadFromMap(data map[string]interface{}) (*SendEmailJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload SendEmailJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
