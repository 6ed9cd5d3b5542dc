package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkessler/streamgate/app/models"
)

type fakeRepo struct {
	byExternalID map[string]*models.PaymentEvent
	nextID       uint
	processed    map[uint]string
	parked       map[uint]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		byExternalID: map[string]*models.PaymentEvent{},
		processed:    map[uint]string{},
		parked:       map[uint]string{},
	}
}

func (r *fakeRepo) CreateEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
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

func (r *fakeRepo) MarkProcessed(id uint, processingError string) error {
	r.processed[id] = processingError
	return nil
}

func (r *fakeRepo) Park(id uint, processingError string) error {
	r.parked[id] = processingError
	return nil
}

func (r *fakeRepo) ListUnprocessed(olderThan time.Time, limit int) ([]models.PaymentEvent, error) {
	var out []models.PaymentEvent
	for _, event := range r.byExternalID {
		if _, done := r.processed[event.ID]; done {
			continue
		}
		if _, parked := r.parked[event.ID]; parked {
			continue
		}
		if event.CreatedAt.Before(olderThan) {
			out = append(out, *event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepo) ListParked(limit int) ([]models.PaymentEvent, error) {
	var out []models.PaymentEvent
	for _, event := range r.byExternalID {
		if _, parked := r.parked[event.ID]; parked {
			out = append(out, *event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func validInput() EventInput {
	return EventInput{
		ExternalID:  "evt_1",
		EventType:   models.EventSubscriptionCreated,
		UserID:      1,
		PlanID:      2,
		OccurredAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		PayloadJSON: `{"id":"evt_1"}`,
	}
}

func TestRecordInsertsOnce(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	result, stored, err := svc.Record(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, RecordApplied, result)
	assert.Equal(t, "evt_1", stored.ExternalID)

	// At-least-once delivery: second call is a no-op.
	result, dup, err := svc.Record(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, RecordDuplicate, result)
	assert.Equal(t, stored.ID, dup.ID)
	assert.Len(t, repo.byExternalID, 1)
}

func TestRecordNormalizesOccurredAtToUTC(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	in := validInput()
	in.OccurredAt = time.Date(2025, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600))

	_, stored, err := svc.Record(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, stored.OccurredAt.Location())
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), stored.OccurredAt)
}

func TestRecordHashesMissingExternalID(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	in := validInput()
	in.ExternalID = "  "

	_, stored, err := svc.Record(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.ExternalID, "hash:"), "got %q", stored.ExternalID)

	// Same payload, same synthetic ID: still deduped.
	result, _, err := svc.Record(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, RecordDuplicate, result)
}

func TestRecordValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EventInput)
	}{
		{"missing event type", func(in *EventInput) { in.EventType = " " }},
		{"missing user", func(in *EventInput) { in.UserID = 0 }},
		{"missing plan", func(in *EventInput) { in.PlanID = 0 }},
		{"missing occurred_at", func(in *EventInput) { in.OccurredAt = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			svc := NewService(repo)

			in := validInput()
			tt.mutate(&in)

			_, _, err := svc.Record(context.Background(), in)
			assert.Error(t, err)
			assert.Empty(t, repo.byExternalID)
		})
	}
}

func TestMarkProcessedAndPark(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	_, stored, err := svc.Record(context.Background(), validInput())
	require.NoError(t, err)

	require.NoError(t, svc.MarkProcessed(context.Background(), stored.ID, nil))
	assert.Equal(t, "", repo.processed[stored.ID])

	in := validInput()
	in.ExternalID = "evt_2"
	_, second, err := svc.Record(context.Background(), in)
	require.NoError(t, err)

	require.NoError(t, svc.Park(context.Background(), second.ID, assert.AnError))
	assert.Equal(t, assert.AnError.Error(), repo.parked[second.ID])

	parked, err := svc.Parked(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, "evt_2", parked[0].ExternalID)

	assert.Error(t, svc.MarkProcessed(context.Background(), 0, nil))
	assert.Error(t, svc.Park(context.Background(), 0, nil))
}

func TestUnprocessedExcludesHandledEvents(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		in := validInput()
		in.ExternalID = id
		_, _, err := svc.Record(context.Background(), in)
		require.NoError(t, err)
	}

	require.NoError(t, svc.MarkProcessed(context.Background(), 1, nil))
	require.NoError(t, svc.Park(context.Background(), 2, assert.AnError))

	events, err := svc.Unprocessed(context.Background(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt_3", events[0].ExternalID)
}
