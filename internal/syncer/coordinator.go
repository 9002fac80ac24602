package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leafguard/leafguard-go/internal/conf"
	"github.com/leafguard/leafguard-go/internal/connectivity"
	"github.com/leafguard/leafguard-go/internal/errors"
	"github.com/leafguard/leafguard-go/internal/observability/metrics"
	"github.com/leafguard/leafguard-go/internal/scheduler"
	"github.com/leafguard/leafguard-go/internal/store"
)

// Triggers recorded per sync pass.
const (
	TriggerOnline = "online-transition"
	TriggerManual = "manual"
	TriggerTimer  = "timer"
)

// ConnectivitySource is the coordinator's view of the connectivity monitor.
type ConnectivitySource interface {
	IsOnline() bool
	Subscribe(connectivity.Handler) func()
}

// Summary reports the outcome of one sync pass. Remaining counts entities
// from the pass snapshot that stayed pending: transient failures that
// exhausted their retry budget, pushes skipped because connectivity was
// lost, and acknowledged pushes whose local mark could not be persisted.
type Summary struct {
	Pushed    int
	Failed    int
	Remaining int
}

// pushOutcome is the terminal state of one entity within a pass.
type pushOutcome int

const (
	outcomeDeferred pushOutcome = iota // still pending, next pass retries
	outcomeAcked                       // remote acknowledged, marked synced
	outcomeRejected                    // remote rejected, marked failed-permanent
)

// Coordinator drains the pending set to the remote. At most one sync pass
// runs at a time; triggers arriving during a pass are coalesced into an
// errors.ErrSyncInProgress result.
type Coordinator struct {
	store   store.Interface
	client  UpsertClient
	monitor ConnectivitySource
	queue   *scheduler.Queue
	backoff scheduler.Backoff
	metrics *metrics.SyncMetrics

	concurrency    int
	attemptTimeout time.Duration

	syncing     atomic.Bool
	unsubscribe func()
}

// NewCoordinator creates a sync coordinator. The queue must be started by the
// caller; it provides the delayed-retry primitive used between attempts.
func NewCoordinator(st store.Interface, client UpsertClient, mon ConnectivitySource, queue *scheduler.Queue, cfg *conf.SyncSettings) *Coordinator {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{
		store:          st,
		client:         client,
		monitor:        mon,
		queue:          queue,
		backoff:        scheduler.NewBackoff(cfg.Retry),
		concurrency:    concurrency,
		attemptTimeout: cfg.AttemptTimeout,
	}
}

// SetMetrics attaches Prometheus collectors. Safe to skip; a nil receiver on
// the metrics side makes every recording a no-op.
func (c *Coordinator) SetMetrics(m *metrics.SyncMetrics) {
	c.metrics = m
}

// Start subscribes to connectivity transitions so that every offline-to-online
// edge triggers a sync pass.
func (c *Coordinator) Start(ctx context.Context) {
	c.unsubscribe = c.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			if _, err := c.Sync(ctx, TriggerOnline); err != nil && !errors.Is(err, errors.ErrSyncInProgress) {
				serviceLogger.Error("Sync pass after online transition failed", "error", err)
			}
		}()
	})
}

// Stop detaches from the connectivity monitor. A pass already running is
// allowed to finish.
func (c *Coordinator) Stop() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// IsSyncing reports whether a pass is currently running.
func (c *Coordinator) IsSyncing() bool {
	return c.syncing.Load()
}

// ForceSync runs a sync pass immediately, regardless of connectivity state.
func (c *Coordinator) ForceSync(ctx context.Context) (Summary, error) {
	return c.Sync(ctx, TriggerManual)
}

// Sync runs one pass over a fresh snapshot of the pending set. Entities are
// pushed with bounded concurrency; each entity retries transient failures
// with exponential backoff within the pass. The call blocks until the pass
// completes and returns its summary.
func (c *Coordinator) Sync(ctx context.Context, trigger string) (Summary, error) {
	if !c.syncing.CompareAndSwap(false, true) {
		return Summary{}, errors.New(errors.ErrSyncInProgress).
			Component("syncer").
			Category(errors.CategorySync).
			Context("trigger", trigger).
			Build()
	}
	defer c.syncing.Store(false)

	started := time.Now()
	pending, err := c.store.GetPendingSync()
	if err != nil {
		return Summary{}, errors.New(err).
			Component("syncer").
			Category(errors.CategorySync).
			Context("operation", "pending-snapshot").
			Build()
	}
	c.metrics.SetPending(len(pending))
	serviceLogger.Info("Sync pass starting", "trigger", trigger, "pending", len(pending), "concurrency", c.concurrency)

	var (
		wg     sync.WaitGroup
		pushed atomic.Int64
		failed atomic.Int64
	)
	sem := make(chan struct{}, c.concurrency)

	for i := range pending {
		entity := pending[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch c.pushEntity(ctx, sem, &entity) {
			case outcomeAcked:
				pushed.Add(1)
			case outcomeRejected:
				failed.Add(1)
			case outcomeDeferred:
				// stays in the pending set for the next pass
			}
		}()
	}
	wg.Wait()

	summary := Summary{
		Pushed:    int(pushed.Load()),
		Failed:    int(failed.Load()),
		Remaining: len(pending) - int(pushed.Load()) - int(failed.Load()),
	}
	c.metrics.RecordPass(trigger, time.Since(started))
	serviceLogger.Info("Sync pass finished",
		"trigger", trigger,
		"pushed", summary.Pushed, "failed", summary.Failed, "remaining", summary.Remaining,
		"duration_ms", time.Since(started).Milliseconds())
	return summary, nil
}

// pushEntity drives one entity to a terminal outcome within the pass. Each
// attempt runs under its own deadline so a hung remote cannot stall the
// worker beyond the configured attempt timeout.
func (c *Coordinator) pushEntity(ctx context.Context, sem chan struct{}, entity *store.PendingEntity) pushOutcome {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return outcomeDeferred
		}
		// Connectivity loss stops new attempts; the entity stays pending and
		// the next online transition picks it up.
		if !c.monitor.IsOnline() {
			serviceLogger.Info("Connectivity lost, leaving entity pending",
				"entity_type", entity.EntityType, "id", entity.ID, "attempt", attempt)
			return outcomeDeferred
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return outcomeDeferred
		}

		c.metrics.PushStarted()
		attemptStart := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		err := c.client.Upsert(attemptCtx, entity)
		cancel()
		attemptDuration := time.Since(attemptStart)
		c.metrics.PushFinished()
		<-sem

		switch {
		case err == nil:
			if markErr := c.store.MarkSynced(entity.EntityType, entity.ID); markErr != nil {
				// The remote has the entity; the idempotent upsert makes the
				// re-push on the next pass harmless.
				serviceLogger.Error("Failed to mark entity synced after ack",
					"entity_type", entity.EntityType, "id", entity.ID, "error", markErr)
				return outcomeDeferred
			}
			c.metrics.RecordPush(entity.EntityType, "acked", attemptDuration)
			return outcomeAcked

		case errors.IsRemoteRejected(err):
			if markErr := c.store.MarkFailedPermanent(entity.EntityType, entity.ID); markErr != nil {
				serviceLogger.Error("Failed to mark entity failed-permanent",
					"entity_type", entity.EntityType, "id", entity.ID, "error", markErr)
				return outcomeDeferred
			}
			c.metrics.RecordPush(entity.EntityType, "rejected", attemptDuration)
			return outcomeRejected

		default:
			if attempt >= c.backoff.MaxRetries() {
				serviceLogger.Warn("Retry budget exhausted, leaving entity pending",
					"entity_type", entity.EntityType, "id", entity.ID, "attempts", attempt+1, "error", err)
				return outcomeDeferred
			}
			delay := c.backoff.Delay(attempt)
			serviceLogger.Debug("Transient push failure, backing off",
				"entity_type", entity.EntityType, "id", entity.ID,
				"attempt", attempt, "delay", delay, "error", err)
			c.metrics.RecordRetry(entity.EntityType)
			if waitErr := c.queue.Wait(ctx, "sync-retry-"+entity.ID, delay); waitErr != nil {
				return outcomeDeferred
			}
		}
	}
}
