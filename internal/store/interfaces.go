// interfaces.go defines the interface for the local store operations.
package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/leafguard/leafguard-go/internal/conf"
	"github.com/leafguard/leafguard-go/internal/observability/metrics"
)

// Interface abstracts the underlying database implementation and defines the
// operations of the local store. All writes are single-key transactions; the
// store never exposes partially written records.
type Interface interface {
	Open() error
	Close() error

	// SetMetrics attaches Prometheus collectors for store operations.
	SetMetrics(m *metrics.StoreMetrics)

	SaveModel(model *Model) error
	SaveDetectionResult(result *DetectionResult) error
	SaveTrainingSession(session *TrainingSession) error

	GetModel(id string) (Model, error)
	GetDetectionResult(id string) (DetectionResult, error)
	GetTrainingSession(id string) (TrainingSession, error)

	GetAllModels() ([]Model, error)
	GetModelsByDisease(diseaseType string) ([]Model, error)

	// GetUnsynced* return every record still awaiting remote acknowledgment,
	// including failed-permanent ones, so consumers can surface them.
	GetUnsyncedDetectionResults() ([]DetectionResult, error)
	GetUnsyncedTrainingSessions() ([]TrainingSession, error)

	// GetPendingSync returns the snapshot a sync pass works from: unsynced
	// records across all types, excluding failed-permanent ones. Each call
	// re-queries the database for a fresh consistent snapshot.
	GetPendingSync() ([]PendingEntity, error)

	// MarkSynced flips synced false to true for the given record. The flip is
	// monotonic: marking an already-synced record is a no-op.
	MarkSynced(entityType, id string) error

	// MarkFailedPermanent flags a record as definitively rejected by the
	// remote. The record stays visible through GetUnsynced* but is excluded
	// from GetPendingSync.
	MarkFailedPermanent(entityType, id string) error

	DeleteModel(id string) error
	DeleteDetectionResult(id string) error
	DeleteTrainingSession(id string) error

	// PruneSynced deletes synced detection results and training sessions
	// older than the cutoff. Models are never pruned here.
	PruneSynced(olderThan time.Time) (int64, error)

	// UsageByCategory reports per-category record counts and payload bytes.
	UsageByCategory() (map[string]CategoryUsage, error)

	// CorruptRecordCount reports how many records were skipped during
	// enumeration because their payload failed to deserialize.
	CorruptRecordCount() int64
}

// CategoryUsage aggregates storage consumption for one entity category.
type CategoryUsage struct {
	Count int64
	Bytes int64
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB         *gorm.DB
	quotaBytes int64
	corrupt    corruptCounter
	metrics    *metrics.StoreMetrics
}

// SetMetrics attaches Prometheus collectors for store operations. Optional;
// without it all recordings are no-ops.
func (ds *DataStore) SetMetrics(m *metrics.StoreMetrics) {
	ds.metrics = m
}

// New creates a store instance based on the provided settings.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Store.SQLite.Enabled:
		return &SQLiteStore{
			DataStore: DataStore{quotaBytes: settings.Store.QuotaBytes},
			Settings:  settings,
		}
	case settings.Store.MySQL.Enabled:
		return &MySQLStore{
			DataStore: DataStore{quotaBytes: settings.Store.QuotaBytes},
			Settings:  settings,
		}
	default:
		return nil
	}
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, dbType string) error {
	if err := db.AutoMigrate(&Model{}, &DetectionResult{}, &TrainingSession{}); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}
	return nil
}
