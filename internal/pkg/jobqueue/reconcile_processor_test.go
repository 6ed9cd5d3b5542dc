package jobqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mkessler/streamgate/app/models"
	"github.com/mkessler/streamgate/internal/pkg/entitlement"
	"github.com/mkessler/streamgate/internal/pkg/ledger"
)

type fakeLedgerRepo struct {
	byExternalID map[string]*models.PaymentEvent
	nextID       uint
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{byExternalID: map[string]*models.PaymentEvent{}}
}

func (r *fakeLedgerRepo) CreateEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	if stored, ok := r.byExternalID[event.ExternalID]; ok {
		copied := *stored
		return false, &copied, nil
	}
	r.nextID++
	event.ID = r.nextID
	event.CreatedAt = time.Now()
	r.byExternalID[event.ExternalID] = event
	copied := *event
	return true, &copied, nil
}

func (r *fakeLedgerRepo) find(id uint) *models.PaymentEvent {
	for _, event := range r.byExternalID {
		if event.ID == id {
			return event
		}
	}
	return nil
}

func (r *fakeLedgerRepo) MarkProcessed(id uint, processingError string) error {
	event := r.find(id)
	if event == nil {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	event.ProcessedAt = &now
	event.ProcessingError = processingError
	return nil
}

func (r *fakeLedgerRepo) Park(id uint, processingError string) error {
	if err := r.MarkProcessed(id, processingError); err != nil {
		return err
	}
	r.find(id).Parked = true
	return nil
}

func (r *fakeLedgerRepo) ListUnprocessed(olderThan time.Time, limit int) ([]models.PaymentEvent, error) {
	var out []models.PaymentEvent
	for _, event := range r.byExternalID {
		if event.ProcessedAt == nil && !event.Parked && event.CreatedAt.Before(olderThan) {
			out = append(out, *event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeLedgerRepo) ListParked(limit int) ([]models.PaymentEvent, error) {
	var out []models.PaymentEvent
	for _, event := range r.byExternalID {
		if event.Parked {
			out = append(out, *event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeEntitlementRepo struct {
	ents   map[string]*models.Entitlement
	nextID uint
}

func newFakeEntitlementRepo() *fakeEntitlementRepo {
	return &fakeEntitlementRepo{ents: map[string]*models.Entitlement{}}
}

func entKey(userID, planID uint) string {
	return fmt.Sprintf("%d:%d", userID, planID)
}

func (r *fakeEntitlementRepo) GetOrCreate(userID, planID uint) (*models.Entitlement, error) {
	if ent, ok := r.ents[entKey(userID, planID)]; ok {
		copied := *ent
		return &copied, nil
	}
	r.nextID++
	ent := &models.Entitlement{UserID: userID, PlanID: planID}
	ent.ID = r.nextID
	r.ents[entKey(userID, planID)] = ent
	copied := *ent
	return &copied, nil
}

func (r *fakeEntitlementRepo) Get(userID, planID uint) (*models.Entitlement, error) {
	ent, ok := r.ents[entKey(userID, planID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *ent
	return &copied, nil
}

func (r *fakeEntitlementRepo) ListByUser(userID uint) ([]models.Entitlement, error) {
	var out []models.Entitlement
	for _, ent := range r.ents {
		if ent.UserID == userID {
			out = append(out, *ent)
		}
	}
	return out, nil
}

func (r *fakeEntitlementRepo) ApplyTransition(id uint, up entitlement.StateUpdate) (bool, error) {
	for _, ent := range r.ents {
		if ent.ID != id {
			continue
		}
		eventAt := up.EventAt.UTC()
		if ent.LastEventAt != nil && !ent.LastEventAt.Before(eventAt) {
			return false, nil
		}
		ent.Status = up.Status
		ent.CurrentPeriodEnd = up.CurrentPeriodEnd
		ent.GraceDeadline = up.GraceDeadline
		ent.LastEventID = up.EventID
		ent.LastEventAt = &eventAt
		return true, nil
	}
	return false, nil
}

func (r *fakeEntitlementRepo) ListGraceLapsed(now time.Time) ([]models.Entitlement, error) {
	return nil, nil
}

func (r *fakeEntitlementRepo) ExpireIfPastDue(id uint, now time.Time) (bool, error) {
	return false, nil
}

func newTestReconcileQueue() (*Queue, *fakeLedgerRepo, *fakeEntitlementRepo) {
	ledgerRepo := newFakeLedgerRepo()
	entRepo := newFakeEntitlementRepo()
	ledgerSvc := ledger.NewService(ledgerRepo)
	engine := entitlement.NewEngine(entRepo, nil, entitlement.EngineOptions{
		GracePeriod:   72 * time.Hour,
		BillingPeriod: 30 * 24 * time.Hour,
	})

	q := &Queue{}
	q.Bind(ledgerSvc, engine, 3)
	return q, ledgerRepo, entRepo
}

func reconcileJob(payload ReconcileEventJobPayload) *Job {
	return &Job{
		ID:         "job_1",
		Type:       JobTypeReconcileEvent,
		Status:     JobStatusProcessing,
		Payload:    payload.ToMap(),
		MaxRetries: 3,
	}
}

func reconcilePayload(eventID, eventType string, occurredAt time.Time) ReconcileEventJobPayload {
	return ReconcileEventJobPayload{
		EventID:     eventID,
		EventType:   eventType,
		UserID:      1,
		PlanID:      2,
		OccurredAt:  occurredAt,
		PayloadJSON: `{"id":"` + eventID + `"}`,
	}
}

func TestProcessReconcileEventJobAppliesEvent(t *testing.T) {
	q, ledgerRepo, entRepo := newTestReconcileQueue()
	occurred := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	job := reconcileJob(reconcilePayload("evt_1", models.EventSubscriptionCreated, occurred))
	err := q.processReconcileEventJob(context.Background(), job)
	require.NoError(t, err)

	ent, err := entRepo.Get(1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.EntitlementStatusActive, ent.Status)
	assert.Equal(t, "evt_1", ent.LastEventID)

	stored := ledgerRepo.byExternalID["evt_1"]
	require.NotNil(t, stored)
	require.NotNil(t, stored.ProcessedAt)
	assert.Empty(t, stored.ProcessingError)
	assert.False(t, stored.Parked)
}

func TestProcessReconcileEventJobSkipsProcessedDuplicate(t *testing.T) {
	q, ledgerRepo, entRepo := newTestReconcileQueue()
	occurred := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := reconcilePayload("evt_1", models.EventSubscriptionCreated, occurred)

	// First delivery reconciles the event end to end.
	require.NoError(t, q.processReconcileEventJob(context.Background(), reconcileJob(payload)))
	ent, _ := entRepo.Get(1, 2)
	appliedAt := *ent.LastEventAt

	// Redelivery of the same event is a clean no-op: the ledger dedupes on
	// the external ID and sees it already processed.
	require.NoError(t, q.processReconcileEventJob(context.Background(), reconcileJob(payload)))
	assert.Len(t, ledgerRepo.byExternalID, 1)
	ent, _ = entRepo.Get(1, 2)
	assert.Equal(t, appliedAt, *ent.LastEventAt)
	assert.Equal(t, models.EntitlementStatusActive, ent.Status)
}

func TestProcessReconcileEventJobStaleEventCompletes(t *testing.T) {
	q, ledgerRepo, entRepo := newTestReconcileQueue()
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	created := reconcileJob(reconcilePayload("evt_1", models.EventSubscriptionCreated, t0))
	canceled := reconcileJob(reconcilePayload("evt_3", models.EventSubscriptionCanceled, t0.Add(48*time.Hour)))
	require.NoError(t, q.processReconcileEventJob(context.Background(), created))
	require.NoError(t, q.processReconcileEventJob(context.Background(), canceled))

	// A renewal from before the cancel arrives late. The delivery completes
	// without error; the monotonic guard kept state correct and the ledger
	// row records the stale outcome.
	late := reconcileJob(reconcilePayload("evt_2", models.EventSubscriptionRenewed, t0.Add(24*time.Hour)))
	require.NoError(t, q.processReconcileEventJob(context.Background(), late))

	stored := ledgerRepo.byExternalID["evt_2"]
	require.NotNil(t, stored)
	require.NotNil(t, stored.ProcessedAt)
	assert.Contains(t, stored.ProcessingError, "stale")
	assert.False(t, stored.Parked)

	ent, _ := entRepo.Get(1, 2)
	assert.Equal(t, models.EntitlementStatusCanceled, ent.Status)
	assert.Equal(t, "evt_3", ent.LastEventID)
}

func TestProcessReconcileEventJobParksInvalidTransition(t *testing.T) {
	q, ledgerRepo, entRepo := newTestReconcileQueue()
	occurred := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// A renewal with no preceding created event has no transition table
	// entry; the event is parked for operator review, not retried.
	job := reconcileJob(reconcilePayload("evt_1", models.EventSubscriptionRenewed, occurred))
	err := q.processReconcileEventJob(context.Background(), job)
	require.NoError(t, err)

	stored := ledgerRepo.byExternalID["evt_1"]
	require.NotNil(t, stored)
	assert.True(t, stored.Parked)
	assert.Contains(t, stored.ProcessingError, "invalid transition")

	ent, err := entRepo.Get(1, 2)
	require.NoError(t, err)
	assert.Nil(t, ent.LastEventAt)
}

func TestProcessReconcileEventJobRejectsBadPayload(t *testing.T) {
	q, _, _ := newTestReconcileQueue()

	job := &Job{
		ID:      "job_1",
		Type:    JobTypeReconcileEvent,
		Payload: map[string]interface{}{"event_id": "evt_1"},
	}
	err := q.processReconcileEventJob(context.Background(), job)
	assert.Error(t, err)
}

func TestProcessReconcileEventJobRequiresBinding(t *testing.T) {
	q := &Queue{}
	occurred := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	job := reconcileJob(reconcilePayload("evt_1", models.EventSubscriptionCreated, occurred))
	err := q.processReconcileEventJob(context.Background(), job)
	assert.Error(t, err)
}

func TestHandlePermanentFailureParksEvent(t *testing.T) {
	q, ledgerRepo, _ := newTestReconcileQueue()
	occurred := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	job := reconcileJob(reconcilePayload("evt_1", models.EventSubscriptionCreated, occurred))
	q.handlePermanentFailure(context.Background(), job, assert.AnError)

	// The event ends up in the ledger, parked with the terminal error, even
	// though no attempt ever recorded it before.
	stored := ledgerRepo.byExternalID["evt_1"]
	require.NotNil(t, stored)
	assert.True(t, stored.Parked)
	assert.Equal(t, assert.AnError.Error(), stored.ProcessingError)

	parked, err := q.ledger.Parked(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, "evt_1", parked[0].ExternalID)
}
