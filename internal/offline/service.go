// Package offline assembles the offline-first persistence subsystem: local
// store, usage tracking, connectivity monitoring, and sync coordination
// behind one facade.
package offline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leafguard/leafguard-go/internal/conf"
	"github.com/leafguard/leafguard-go/internal/connectivity"
	"github.com/leafguard/leafguard-go/internal/errors"
	"github.com/leafguard/leafguard-go/internal/logging"
	"github.com/leafguard/leafguard-go/internal/observability"
	"github.com/leafguard/leafguard-go/internal/scheduler"
	"github.com/leafguard/leafguard-go/internal/store"
	"github.com/leafguard/leafguard-go/internal/syncer"
	"github.com/leafguard/leafguard-go/internal/usage"
)

// pruneInterval is how often synced records past retention are removed.
const pruneInterval = time.Hour

// Service is the facade the rest of the application talks to. Writes land in
// the local store immediately regardless of connectivity; synchronization to
// the remote happens in the background.
type Service struct {
	settings *conf.Settings
	store    store.Interface
	tracker  *usage.Tracker
	monitor  *connectivity.Monitor
	queue    *scheduler.Queue
	client   *syncer.HTTPClient
	coord    *syncer.Coordinator

	metrics  *observability.Metrics
	endpoint *observability.Endpoint

	logger *slog.Logger
	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup
}

// New wires the subsystem from settings and opens the local store. Records
// pending from a previous run are visible immediately and sync on the next
// online transition.
func New(settings *conf.Settings) (*Service, error) {
	st := store.New(settings)
	if st == nil {
		return nil, errors.Newf("no database backend enabled in settings").
			Component("offline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := st.Open(); err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	client, err := syncer.NewClient(settings)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	monitor := connectivity.NewMonitor(
		connectivity.NewPlatformFlag(true),
		connectivity.NewHTTPProber(settings.Connectivity.ProbeURL, settings.Connectivity.ProbeTimeout),
		settings.Connectivity,
	)
	queue := scheduler.NewQueue(scheduler.RealClock{})

	s := &Service{
		settings: settings,
		store:    st,
		tracker:  usage.NewTracker(st, settings.Usage.SnapshotTTL),
		monitor:  monitor,
		queue:    queue,
		client:   client,
		coord:    syncer.NewCoordinator(st, client, monitor, queue, &settings.Sync),
		logger:   logging.ForService("offline"),
		quit:     make(chan struct{}),
	}

	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("initializing metrics: %w", err)
		}
		endpoint, err := observability.NewEndpoint(settings, m)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		s.metrics = m
		s.endpoint = endpoint
		st.SetMetrics(m.Store)
		s.coord.SetMetrics(m.Sync)
	}

	return s, nil
}

// Start launches the background machinery: connectivity monitoring, the sync
// coordinator, periodic maintenance, and the telemetry endpoint when enabled.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.queue.Start(ctx)
	s.monitor.Start(ctx)
	s.coord.Start(ctx)

	if s.endpoint != nil {
		s.endpoint.Start(&s.wg, s.quit)
	}

	ttl := s.settings.Usage.SnapshotTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if _, err := s.queue.Every("usage-refresh", ttl, s.refreshUsage); err != nil {
		return err
	}
	if s.settings.Store.Retention > 0 {
		if _, err := s.queue.Every("prune-synced", pruneInterval, s.pruneSynced); err != nil {
			return err
		}
	}

	// Records left pending by a previous run sync without waiting for the
	// next connectivity transition.
	if s.monitor.IsOnline() {
		go func() {
			if _, err := s.ForceSync(ctx); err != nil && !errors.Is(err, errors.ErrSyncInProgress) {
				s.logger.Error("startup sync pass failed", "error", err)
			}
		}()
	}

	s.logger.Info("offline storage service started",
		"endpoint", s.settings.Sync.Endpoint,
		"quota_bytes", s.settings.Store.QuotaBytes)
	return nil
}

// Stop shuts the background machinery down. A sync pass in flight is allowed
// to finish its current attempts.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.coord.Stop()
	s.monitor.Stop()
	if err := s.queue.Stop(5 * time.Second); err != nil {
		s.logger.Warn("task queue did not drain in time", "error", err)
	}
	close(s.quit)
	s.wg.Wait()
	s.client.Close()

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing local store: %w", err)
	}
	s.logger.Info("offline storage service stopped")
	return nil
}

// SaveDetectionResult persists a detection result locally and returns its id.
// A missing id is generated; callers that retry a save should pass their own
// so the remote can deduplicate.
func (s *Service) SaveDetectionResult(result *store.DetectionResult) (string, error) {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if err := s.store.SaveDetectionResult(result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// SaveTrainingSession persists a training session locally and returns its id.
func (s *Service) SaveTrainingSession(session *store.TrainingSession) (string, error) {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if err := s.store.SaveTrainingSession(session); err != nil {
		return "", err
	}
	return session.ID, nil
}

// SaveModel caches a model version locally. Models are append-only.
func (s *Service) SaveModel(model *store.Model) (string, error) {
	if model.ID == "" {
		model.ID = uuid.New().String()
	}
	if err := s.store.SaveModel(model); err != nil {
		return "", err
	}
	return model.ID, nil
}

// GetModel retrieves one cached model by id.
func (s *Service) GetModel(id string) (store.Model, error) {
	return s.store.GetModel(id)
}

// GetAllModels lists every cached model, newest first.
func (s *Service) GetAllModels() ([]store.Model, error) {
	return s.store.GetAllModels()
}

// GetModelsByDisease lists cached model versions for one disease type.
func (s *Service) GetModelsByDisease(diseaseType string) ([]store.Model, error) {
	return s.store.GetModelsByDisease(diseaseType)
}

// GetDetectionResult retrieves one detection result by id.
func (s *Service) GetDetectionResult(id string) (store.DetectionResult, error) {
	return s.store.GetDetectionResult(id)
}

// GetUnsyncedDetectionResults lists detection results still awaiting remote
// acknowledgment, including permanently rejected ones.
func (s *Service) GetUnsyncedDetectionResults() ([]store.DetectionResult, error) {
	return s.store.GetUnsyncedDetectionResults()
}

// GetUnsyncedTrainingSessions lists training sessions still awaiting remote
// acknowledgment, including permanently rejected ones.
func (s *Service) GetUnsyncedTrainingSessions() ([]store.TrainingSession, error) {
	return s.store.GetUnsyncedTrainingSessions()
}

// DeleteDetectionResult removes a detection result. Idempotent.
func (s *Service) DeleteDetectionResult(id string) error {
	return s.store.DeleteDetectionResult(id)
}

// DeleteTrainingSession removes a training session. Idempotent.
func (s *Service) DeleteTrainingSession(id string) error {
	return s.store.DeleteTrainingSession(id)
}

// ForceSync runs a sync pass right away and blocks until it completes. If a
// pass is already running the call reports errors.ErrSyncInProgress.
func (s *Service) ForceSync(ctx context.Context) (syncer.Summary, error) {
	return s.coord.ForceSync(ctx)
}

// IsOnline reports the debounced connectivity state.
func (s *Service) IsOnline() bool {
	return s.monitor.IsOnline()
}

// IsSyncing reports whether a sync pass is currently running.
func (s *Service) IsSyncing() bool {
	return s.coord.IsSyncing()
}

// StorageUsage returns a usage snapshot, recomputing it when the cached one
// has expired.
func (s *Service) StorageUsage(ctx context.Context) (usage.Snapshot, error) {
	return s.tracker.Current(ctx)
}

// refreshUsage is the periodic maintenance task keeping the cached snapshot
// and the usage gauges warm.
func (s *Service) refreshUsage(ctx context.Context) {
	snap, err := s.tracker.Refresh(ctx)
	if err != nil {
		s.logger.Warn("usage refresh failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.Store.SetUsage(store.EntityTypeModel, snap.Models.Bytes, snap.Models.Count)
		s.metrics.Store.SetUsage(store.EntityTypeDetection, snap.Detections.Bytes, snap.Detections.Count)
		s.metrics.Store.SetUsage(store.EntityTypeTraining, snap.Training.Bytes, snap.Training.Count)
	}
}

// pruneSynced is the periodic maintenance task removing synced records past
// the configured retention.
func (s *Service) pruneSynced(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cutoff := time.Now().Add(-s.settings.Store.Retention)
	removed, err := s.store.PruneSynced(cutoff)
	if err != nil {
		s.logger.Warn("pruning synced records failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("retention prune complete", "removed", removed)
	}
}
