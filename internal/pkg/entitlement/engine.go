package entitlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mkessler/streamgate/app/models"
)

// Transition describes one applied status change, handed to the notifier for
// side effects (dunning mail, revocation notices).
type Transition struct {
	UserID           uint
	PlanID           uint
	From             string
	To               string
	EventID          string
	EventType        string
	OccurredAt       time.Time
	CurrentPeriodEnd *time.Time
	GraceDeadline    *time.Time
}

// Notifier receives applied transitions. Implementations must be cheap and
// must not fail reconciliation; side effects run as independent background
// jobs.
type Notifier interface {
	NotifyTransition(t Transition)
}

// Engine is the sole writer of entitlement state. It applies ledger events
// under per-(user,plan) serialization and a timestamp compare-and-set, so
// duplicate and out-of-order delivery converge on the same final state.
type Engine struct {
	repo          Repository
	notifier      Notifier
	gracePeriod   time.Duration
	trialPeriod   time.Duration
	billingPeriod time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// EngineOptions carries the engine's fixed design parameters.
type EngineOptions struct {
	GracePeriod   time.Duration
	TrialPeriod   time.Duration
	BillingPeriod time.Duration
}

// NewEngine creates a reconciliation engine. notifier may be nil.
func NewEngine(repo Repository, notifier Notifier, opts EngineOptions) *Engine {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 72 * time.Hour
	}
	if opts.BillingPeriod <= 0 {
		opts.BillingPeriod = 30 * 24 * time.Hour
	}
	return &Engine{
		repo:          repo,
		notifier:      notifier,
		gracePeriod:   opts.GracePeriod,
		trialPeriod:   opts.TrialPeriod,
		billingPeriod: opts.BillingPeriod,
		locks:         map[string]*sync.Mutex{},
	}
}

// NewEngineFromDB creates an engine backed by GORM.
func NewEngineFromDB(db *gorm.DB, notifier Notifier, opts EngineOptions) *Engine {
	return NewEngine(NewRepository(db), notifier, opts)
}

// Apply reconciles one ledger event into the entitlement store.
//
// Returns ErrStaleEvent when the event is not strictly newer than the last
// applied one (benign no-op) and ErrInvalidTransition when the (status,
// event type) pair is outside the transition table (parked by the caller).
// Any other error is a storage failure and retryable.
func (e *Engine) Apply(ctx context.Context, event models.PaymentEvent) (*Transition, error) {
	_ = ctx
	unlock := e.lock(event.UserID, event.PlanID)
	defer unlock()

	ent, err := e.repo.GetOrCreate(event.UserID, event.PlanID)
	if err != nil {
		return nil, err
	}

	current := statusNone
	if ent.LastEventAt != nil {
		current = ent.Status
		if !event.OccurredAt.After(*ent.LastEventAt) {
			log.Infof("[Entitlement] Stale event %s for user=%d plan=%d (occurred %s, last applied %s)",
				event.ExternalID, event.UserID, event.PlanID, event.OccurredAt, *ent.LastEventAt)
			return nil, ErrStaleEvent
		}
	}

	next, ok := nextStatus(current, event.EventType)
	if !ok {
		return nil, fmt.Errorf("%w: %s + %s", ErrInvalidTransition, displayStatus(current), event.EventType)
	}
	if next == models.EntitlementStatusTrialing && e.trialPeriod <= 0 {
		next = models.EntitlementStatusActive
	}

	up := StateUpdate{
		Status:           next,
		CurrentPeriodEnd: e.periodEnd(ent, event, next),
		GraceDeadline:    nil,
		EventID:          event.ExternalID,
		EventAt:          event.OccurredAt,
	}
	if next == models.EntitlementStatusPastDue {
		// Grace period starts at the failure event, period end unchanged.
		deadline := event.OccurredAt.Add(e.gracePeriod)
		up.GraceDeadline = &deadline
		up.CurrentPeriodEnd = ent.CurrentPeriodEnd
	}

	applied, err := e.repo.ApplyTransition(ent.ID, up)
	if err != nil {
		return nil, err
	}
	if !applied {
		// A concurrent writer applied a newer event between our read and the
		// compare-and-set; this event is stale by definition.
		return nil, ErrStaleEvent
	}

	t := Transition{
		UserID:           event.UserID,
		PlanID:           event.PlanID,
		From:             displayStatus(current),
		To:               next,
		EventID:          event.ExternalID,
		EventType:        event.EventType,
		OccurredAt:       event.OccurredAt,
		CurrentPeriodEnd: up.CurrentPeriodEnd,
		GraceDeadline:    up.GraceDeadline,
	}
	log.Infof("[Entitlement] Applied %s: user=%d plan=%d %s -> %s", event.EventType, t.UserID, t.PlanID, t.From, t.To)

	if e.notifier != nil {
		e.notifier.NotifyTransition(t)
	}
	return &t, nil
}

// SweepExpired expires past_due entitlements whose grace deadline has
// passed. Driven by a periodic ticker, not an external event. Each row is
// expired through its own guarded UPDATE that re-checks status and deadline,
// so the sweep is safe to run concurrently with itself and with Apply, and
// every expiry is observed exactly once: the notifier gets a transition per
// expired row so the revocation notice goes out.
func (e *Engine) SweepExpired(ctx context.Context) (int64, error) {
	_ = ctx
	now := time.Now()
	lapsed, err := e.repo.ListGraceLapsed(now)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, ent := range lapsed {
		expired, err := e.repo.ExpireIfPastDue(ent.ID, now)
		if err != nil {
			return n, err
		}
		if !expired {
			// Apply moved the row between the read and the guarded update.
			continue
		}
		n++
		log.Infof("[Entitlement] Sweep expired: user=%d plan=%d", ent.UserID, ent.PlanID)
		if e.notifier != nil {
			e.notifier.NotifyTransition(Transition{
				UserID:           ent.UserID,
				PlanID:           ent.PlanID,
				From:             models.EntitlementStatusPastDue,
				To:               models.EntitlementStatusExpired,
				EventID:          ent.LastEventID,
				OccurredAt:       now,
				CurrentPeriodEnd: ent.CurrentPeriodEnd,
				GraceDeadline:    ent.GraceDeadline,
			})
		}
	}
	return n, nil
}

// Get returns the entitlement for (user, plan), for read-only consumers.
func (e *Engine) Get(ctx context.Context, userID, planID uint) (*models.Entitlement, error) {
	_ = ctx
	return e.repo.Get(userID, planID)
}

// ListByUser returns all entitlements of a user.
func (e *Engine) ListByUser(ctx context.Context, userID uint) ([]models.Entitlement, error) {
	_ = ctx
	return e.repo.ListByUser(userID)
}

// periodEnd computes the new period end for non-past_due transitions.
// Processors usually send the period end in the event; when absent we fall
// back to occurred_at plus the configured trial/billing period.
func (e *Engine) periodEnd(ent *models.Entitlement, event models.PaymentEvent, next string) *time.Time {
	if event.PeriodEnd != nil {
		return event.PeriodEnd
	}
	switch event.EventType {
	case models.EventSubscriptionCreated:
		d := e.billingPeriod
		if next == models.EntitlementStatusTrialing {
			d = e.trialPeriod
		}
		end := event.OccurredAt.Add(d)
		return &end
	case models.EventSubscriptionRenewed:
		base := event.OccurredAt
		if ent.CurrentPeriodEnd != nil && ent.CurrentPeriodEnd.After(base) {
			base = *ent.CurrentPeriodEnd
		}
		end := base.Add(e.billingPeriod)
		return &end
	default:
		// canceled/expired keep whatever period end was already set.
		return ent.CurrentPeriodEnd
	}
}

// lock serializes reconciliation per (user, plan) key. Cross-key events run
// fully parallel.
func (e *Engine) lock(userID, planID uint) func() {
	key := fmt.Sprintf("%d:%d", userID, planID)
	e.mu.Lock()
	m, ok := e.locks[key]
	if !ok {
		m = &sync.Mutex{}
		e.locks[key] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func displayStatus(s string) string {
	if s == statusNone {
		return "none"
	}
	return s
}
