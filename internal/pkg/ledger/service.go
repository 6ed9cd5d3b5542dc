package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mkessler/streamgate/app/models"
)

// RecordResult reports whether a Record call inserted a new event or hit the
// idempotency boundary.
type RecordResult string

const (
	RecordApplied   RecordResult = "applied"
	RecordDuplicate RecordResult = "duplicate"
)

// Service is the append-only payment event ledger. Record is the only way an
// event becomes visible to the reconciliation engine.
type Service struct {
	repo Repository
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// EventInput is the normalized input for ledger persistence.
type EventInput struct {
	ExternalID  string
	EventType   string
	UserID      uint
	PlanID      uint
	OccurredAt  time.Time
	PeriodEnd   *time.Time
	PayloadJSON string
}

// Record persists an event idempotently. A second call with the same
// external ID is a no-op that reports RecordDuplicate and returns the stored
// row. The insert is a single atomic write: either the row exists and is
// visible to the engine, or nothing was written.
func (s *Service) Record(ctx context.Context, in EventInput) (RecordResult, *models.PaymentEvent, error) {
	_ = ctx
	externalID := strings.TrimSpace(in.ExternalID)
	if externalID == "" {
		// Some processors omit delivery IDs on retries; hash the payload so
		// replays still dedupe.
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		externalID = "hash:" + hex.EncodeToString(sum[:])
	}
	eventType := strings.TrimSpace(in.EventType)
	if eventType == "" {
		return "", nil, errors.New("event_type is required")
	}
	if in.UserID == 0 || in.PlanID == 0 {
		return "", nil, errors.New("user_id and plan_id are required")
	}
	if in.OccurredAt.IsZero() {
		return "", nil, errors.New("occurred_at is required")
	}

	event := &models.PaymentEvent{
		ExternalID:  externalID,
		EventType:   eventType,
		UserID:      in.UserID,
		PlanID:      in.PlanID,
		OccurredAt:  in.OccurredAt.UTC(),
		PeriodEnd:   in.PeriodEnd,
		PayloadJSON: in.PayloadJSON,
	}
	created, stored, err := s.repo.CreateEventIfNotExists(event)
	if err != nil {
		return "", nil, err
	}
	if !created {
		return RecordDuplicate, stored, nil
	}
	return RecordApplied, stored, nil
}

// MarkProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkProcessed(ctx context.Context, eventID uint, processingErr error) error {
	_ = ctx
	if eventID == 0 {
		return errors.New("event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkProcessed(eventID, errMsg)
}

// Park flags an event as permanently failed so an operator can review it.
// Parked events are excluded from re-drive; payment-state correctness must
// never silently regress, so they are kept, not dropped.
func (s *Service) Park(ctx context.Context, eventID uint, processingErr error) error {
	_ = ctx
	if eventID == 0 {
		return errors.New("event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.Park(eventID, errMsg)
}

// Unprocessed returns events recorded before the cutoff that were never
// marked processed, oldest first. Used by the re-drive sweeper.
func (s *Service) Unprocessed(ctx context.Context, olderThan time.Time, limit int) ([]models.PaymentEvent, error) {
	_ = ctx
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListUnprocessed(olderThan, limit)
}

// Parked returns events that permanently failed reconciliation.
func (s *Service) Parked(ctx context.Context, limit int) ([]models.PaymentEvent, error) {
	_ = ctx
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListParked(limit)
}
