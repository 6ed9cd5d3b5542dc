package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mkessler/streamgate/internal/pkg/config"
	"github.com/mkessler/streamgate/internal/pkg/database"
	"github.com/mkessler/streamgate/internal/pkg/entitlement"
	"github.com/mkessler/streamgate/internal/pkg/ledger"
)

const (
	// ExpireSweepInterval drives the past_due -> expired sweep.
	ExpireSweepInterval = 1 * time.Minute

	// RedriveInterval and RedriveMinAge drive the ledger re-drive: events
	// recorded but never processed (crash between insert and apply) get
	// re-enqueued once they are old enough that no live worker holds them.
	RedriveInterval = 2 * time.Minute
	RedriveMinAge   = 10 * time.Minute
	RedriveBatch    = 100
)

// Manager manages the global job queue and the periodic background tasks
// (grace-expiry sweep, unprocessed-event re-drive).
type Manager struct {
	queue         *Queue
	ledger        *ledger.Service
	engine        *entitlement.Engine
	sweepTicker   *time.Ticker
	redriveTicker *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// Setup builds the global manager and wires the reconciliation pipeline:
// ledger -> engine -> notifier -> queue. Must be called once at startup,
// after database and cache setup.
func Setup(cfg *config.Config) *Manager {
	managerOnce.Do(func() {
		queue := NewQueue(cfg.QueueWorkers)
		ledgerSvc := ledger.NewServiceFromDB(database.GetDB())
		engine := entitlement.NewEngineFromDB(database.GetDB(), NewTransitionNotifier(queue), entitlement.EngineOptions{
			GracePeriod:   cfg.GracePeriod,
			TrialPeriod:   cfg.TrialPeriod,
			BillingPeriod: cfg.BillingPeriod,
		})
		queue.Bind(ledgerSvc, engine, cfg.JobMaxRetries)

		globalManager = &Manager{
			queue:  queue,
			ledger: ledgerSvc,
			engine: engine,
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global job queue manager. Setup must run first.
func GetManager() *Manager {
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// GetEngine returns the reconciliation engine
func (m *Manager) GetEngine() *entitlement.Engine {
	return m.engine
}

// GetLedger returns the payment event ledger
func (m *Manager) GetLedger() *ledger.Service {
	return m.ledger
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Grace-expiry sweep: past_due entitlements whose deadline passed become expired.
	m.sweepTicker = time.NewTicker(ExpireSweepInterval)
	m.wg.Add(1)
	go m.sweepWorker()

	// Re-drive: unprocessed ledger events are re-enqueued for reconciliation.
	m.redriveTicker = time.NewTicker(RedriveInterval)
	m.wg.Add(1)
	go m.redriveWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.redriveTicker != nil {
		m.redriveTicker.Stop()
	}

	// Signal workers to stop. The channel stays set so a worker re-reading
	// the field mid-shutdown never blocks on a nil channel; Start remakes it.
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// sweepWorker runs periodically to expire past_due entitlements whose grace
// deadline has passed
func (m *Manager) sweepWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started expiry sweep worker (interval: %s)", ExpireSweepInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Expiry sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			if _, err := m.engine.SweepExpired(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Expiry sweep error: %v", err)
			}
		}
	}
}

// redriveWorker runs periodically to re-enqueue ledger events that were
// recorded but never reconciled
func (m *Manager) redriveWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started re-drive worker (interval: %s)", RedriveInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Re-drive worker stopping")
			return
		case <-m.redriveTicker.C:
			if err := m.redriveOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Re-drive error: %v", err)
			}
		}
	}
}

// redriveOnce re-enqueues reconcile jobs for stale unprocessed events.
// Duplicate enqueues are harmless: the ledger dedupes on external ID and the
// engine's monotonic guard rejects anything already applied.
func (m *Manager) redriveOnce() error {
	ctx := context.Background()
	cutoff := time.Now().Add(-RedriveMinAge)

	events, err := m.ledger.Unprocessed(ctx, cutoff, RedriveBatch)
	if err != nil {
		return err
	}
	for _, event := range events {
		payload := ReconcileEventJobPayload{
			EventID:     event.ExternalID,
			EventType:   event.EventType,
			UserID:      event.UserID,
			PlanID:      event.PlanID,
			OccurredAt:  event.OccurredAt,
			PeriodEnd:   event.PeriodEnd,
			PayloadJSON: event.PayloadJSON,
		}
		if _, err := m.queue.EnqueueJob(JobTypeReconcileEvent, payload.ToMap()); err != nil {
			log.Errorf("[JobQueue Manager] Re-drive enqueue failed for event %s: %v", event.ExternalID, err)
			continue
		}
		log.Infof("[JobQueue Manager] Re-drove unprocessed event %s", event.ExternalID)
	}
	return nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
