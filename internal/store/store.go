package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/leafguard/leafguard-go/internal/errors"
	"github.com/leafguard/leafguard-go/internal/logging"
)

var storeLogger *slog.Logger

func init() {
	storeLogger = logging.ForService("store")
}

type corruptCounter struct {
	n atomic.Int64
}

// modelPayloadOverhead approximates the on-disk footprint of a model row,
// which carries no payload blob of its own.
const modelPayloadOverhead = 256

// SaveModel inserts a new model version. Models are append-only: a duplicate
// (diseaseType, version) pair is a conflict, never an update.
func (ds *DataStore) SaveModel(model *Model) error {
	if err := validateID(model.ID, EntityTypeModel); err != nil {
		return err
	}
	model.SchemaVersion = CurrentSchemaVersion
	if model.CachedAt.IsZero() {
		model.CachedAt = time.Now()
	}
	if model.PayloadBytes == 0 {
		model.PayloadBytes = modelPayloadOverhead
	}

	return ds.recordSave(EntityTypeModel, ds.putWithQuota(model.PayloadBytes, func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			if isUniqueViolation(err) {
				return errors.Newf("model %s/%s already cached: %w", model.DiseaseType, model.Version, err).
					Component("store").
					Category(errors.CategoryConflict).
					Build()
			}
			return fmt.Errorf("saving model: %w", err)
		}
		return nil
	}))
}

// SaveDetectionResult persists a detection result with synced=false.
func (ds *DataStore) SaveDetectionResult(result *DetectionResult) error {
	if err := validateID(result.ID, EntityTypeDetection); err != nil {
		return err
	}
	result.SchemaVersion = CurrentSchemaVersion
	result.Synced = false
	result.SyncedAt = nil
	result.FailedPermanent = false
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	result.PayloadBytes = int64(len(result.Payload))

	return ds.recordSave(EntityTypeDetection, ds.putWithQuota(result.PayloadBytes, func(tx *gorm.DB) error {
		if err := tx.Create(result).Error; err != nil {
			return fmt.Errorf("saving detection result: %w", err)
		}
		return nil
	}))
}

// SaveTrainingSession persists a training session with synced=false.
func (ds *DataStore) SaveTrainingSession(session *TrainingSession) error {
	if err := validateID(session.ID, EntityTypeTraining); err != nil {
		return err
	}
	session.SchemaVersion = CurrentSchemaVersion
	session.Synced = false
	session.SyncedAt = nil
	session.FailedPermanent = false
	session.PayloadBytes = int64(len(session.Metrics))

	return ds.recordSave(EntityTypeTraining, ds.putWithQuota(session.PayloadBytes, func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("saving training session: %w", err)
		}
		return nil
	}))
}

// putWithQuota runs a single-key write inside a transaction, rejecting it
// atomically when the payload would push usage past the configured budget.
// Rolling back on rejection guarantees no partial record becomes visible.
// SQLite's single-writer model serializes the usage check against other
// writes; under MySQL's REPEATABLE READ two concurrent saves can both read
// the same sum and land slightly past the budget. The quota is capacity
// control, not accounting, so the overshoot of at most one in-flight
// payload per writer is accepted.
func (ds *DataStore) putWithQuota(payloadBytes int64, write func(tx *gorm.DB) error) error {
	if ds.DB == nil {
		return errors.NewStd("database connection is not initialized")
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if ds.quotaBytes > 0 {
			used, err := totalPayloadBytes(tx)
			if err != nil {
				return fmt.Errorf("computing storage usage: %w", err)
			}
			if used+payloadBytes > ds.quotaBytes {
				storeLogger.Warn("write rejected, storage quota exceeded",
					"used_bytes", used,
					"payload_bytes", payloadBytes,
					"quota_bytes", ds.quotaBytes)
				return errors.New(errors.ErrQuotaExceeded).
					Component("store").
					Context("used_bytes", used).
					Context("payload_bytes", payloadBytes).
					Context("quota_bytes", ds.quotaBytes).
					Build()
			}
		}
		return write(tx)
	})
}

// totalPayloadBytes sums the quota-charged bytes across all entity tables.
func totalPayloadBytes(tx *gorm.DB) (int64, error) {
	var total int64
	for _, model := range []any{&Model{}, &DetectionResult{}, &TrainingSession{}} {
		var sum *int64
		if err := tx.Model(model).Select("SUM(payload_bytes)").Scan(&sum).Error; err != nil {
			return 0, err
		}
		if sum != nil {
			total += *sum
		}
	}
	return total, nil
}

// GetModel retrieves a model by id. Absence is errors.ErrNotFound.
func (ds *DataStore) GetModel(id string) (Model, error) {
	var model Model
	if err := ds.DB.First(&model, "id = ?", id).Error; err != nil {
		return Model{}, notFoundOr(err, EntityTypeModel, id)
	}
	return model, nil
}

// GetDetectionResult retrieves a detection result by id.
func (ds *DataStore) GetDetectionResult(id string) (DetectionResult, error) {
	var result DetectionResult
	if err := ds.DB.First(&result, "id = ?", id).Error; err != nil {
		return DetectionResult{}, notFoundOr(err, EntityTypeDetection, id)
	}
	return result, nil
}

// GetTrainingSession retrieves a training session by id.
func (ds *DataStore) GetTrainingSession(id string) (TrainingSession, error) {
	var session TrainingSession
	if err := ds.DB.First(&session, "id = ?", id).Error; err != nil {
		return TrainingSession{}, notFoundOr(err, EntityTypeTraining, id)
	}
	return session, nil
}

// GetAllModels retrieves every cached model, newest first.
func (ds *DataStore) GetAllModels() ([]Model, error) {
	var models []Model
	if err := ds.DB.Order("cached_at DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("getting all models: %w", err)
	}
	return models, nil
}

// GetModelsByDisease retrieves all cached versions for one disease type.
func (ds *DataStore) GetModelsByDisease(diseaseType string) ([]Model, error) {
	var models []Model
	if err := ds.DB.Where("disease_type = ?", diseaseType).
		Order("cached_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("getting models for %s: %w", diseaseType, err)
	}
	return models, nil
}

// GetUnsyncedDetectionResults returns every detection result awaiting remote
// acknowledgment, including failed-permanent ones. Records whose payload no
// longer deserializes are skipped and counted, never aborting the scan.
func (ds *DataStore) GetUnsyncedDetectionResults() ([]DetectionResult, error) {
	var rows []DetectionResult
	if err := ds.DB.Where("synced = ?", false).
		Order("timestamp ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("getting unsynced detection results: %w", err)
	}

	results := rows[:0]
	for i := range rows {
		if len(rows[i].Payload) > 0 && !json.Valid(rows[i].Payload) {
			ds.reportCorrupt(EntityTypeDetection, rows[i].ID)
			continue
		}
		results = append(results, rows[i])
	}
	return results, nil
}

// GetUnsyncedTrainingSessions returns every training session awaiting remote
// acknowledgment, including failed-permanent ones.
func (ds *DataStore) GetUnsyncedTrainingSessions() ([]TrainingSession, error) {
	var rows []TrainingSession
	if err := ds.DB.Where("synced = ?", false).
		Order("completed_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("getting unsynced training sessions: %w", err)
	}

	sessions := rows[:0]
	for i := range rows {
		if len(rows[i].Metrics) > 0 && !json.Valid(rows[i].Metrics) {
			ds.reportCorrupt(EntityTypeTraining, rows[i].ID)
			continue
		}
		sessions = append(sessions, rows[i])
	}
	return sessions, nil
}

// GetPendingSync snapshots the retry set of a sync pass: unsynced records of
// all types minus failed-permanent ones. The snapshot is re-queried from the
// database every time so a pass after a restart sees exactly the work that
// was pending before it.
func (ds *DataStore) GetPendingSync() ([]PendingEntity, error) {
	var pending []PendingEntity

	detections, err := ds.GetUnsyncedDetectionResults()
	if err != nil {
		return nil, err
	}
	for i := range detections {
		if detections[i].FailedPermanent {
			continue
		}
		payload, err := json.Marshal(&detections[i])
		if err != nil {
			ds.reportCorrupt(EntityTypeDetection, detections[i].ID)
			continue
		}
		pending = append(pending, PendingEntity{
			EntityType: EntityTypeDetection,
			ID:         detections[i].ID,
			Payload:    payload,
		})
	}

	sessions, err := ds.GetUnsyncedTrainingSessions()
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].FailedPermanent {
			continue
		}
		payload, err := json.Marshal(&sessions[i])
		if err != nil {
			ds.reportCorrupt(EntityTypeTraining, sessions[i].ID)
			continue
		}
		pending = append(pending, PendingEntity{
			EntityType: EntityTypeTraining,
			ID:         sessions[i].ID,
			Payload:    payload,
		})
	}

	return pending, nil
}

// MarkSynced flips synced false to true for the given record, recording the
// acknowledgment time. The update predicate makes the flip monotonic: an
// already-synced record is untouched.
func (ds *DataStore) MarkSynced(entityType, id string) error {
	model, err := tableFor(entityType)
	if err != nil {
		return err
	}

	now := time.Now()
	res := ds.DB.Model(model).
		Where("id = ? AND synced = ?", id, false).
		Updates(map[string]any{"synced": true, "synced_at": now, "failed_permanent": false})
	if res.Error != nil {
		return fmt.Errorf("marking %s %s synced: %w", entityType, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ds.verifyExists(model, entityType, id)
	}
	return nil
}

// MarkFailedPermanent flags a record as definitively rejected. Synced
// records are never demoted.
func (ds *DataStore) MarkFailedPermanent(entityType, id string) error {
	model, err := tableFor(entityType)
	if err != nil {
		return err
	}

	res := ds.DB.Model(model).
		Where("id = ? AND synced = ?", id, false).
		Update("failed_permanent", true)
	if res.Error != nil {
		return fmt.Errorf("marking %s %s failed-permanent: %w", entityType, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ds.verifyExists(model, entityType, id)
	}
	return nil
}

// verifyExists distinguishes a no-op update on an existing record from an
// update against an absent id.
func (ds *DataStore) verifyExists(model any, entityType, id string) error {
	var count int64
	if err := ds.DB.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("checking %s %s: %w", entityType, id, err)
	}
	if count == 0 {
		return errors.New(errors.ErrNotFound).
			Component("store").
			EntityContext(entityType, id).
			Build()
	}
	return nil
}

// DeleteModel removes a model record. Deleting an absent id is a no-op.
func (ds *DataStore) DeleteModel(id string) error {
	return ds.deleteByID(&Model{}, EntityTypeModel, id)
}

// DeleteDetectionResult removes a detection result. Idempotent.
func (ds *DataStore) DeleteDetectionResult(id string) error {
	return ds.deleteByID(&DetectionResult{}, EntityTypeDetection, id)
}

// DeleteTrainingSession removes a training session. Idempotent.
func (ds *DataStore) DeleteTrainingSession(id string) error {
	return ds.deleteByID(&TrainingSession{}, EntityTypeTraining, id)
}

func (ds *DataStore) deleteByID(model any, entityType, id string) error {
	if err := ds.DB.Where("id = ?", id).Delete(model).Error; err != nil {
		return fmt.Errorf("deleting %s %s: %w", entityType, id, err)
	}
	return nil
}

// PruneSynced deletes synced detection results and training sessions older
// than the cutoff. Models are append-only and never pruned here.
func (ds *DataStore) PruneSynced(olderThan time.Time) (int64, error) {
	var removed int64

	res := ds.DB.Where("synced = ? AND timestamp < ?", true, olderThan).Delete(&DetectionResult{})
	if res.Error != nil {
		return removed, fmt.Errorf("pruning detection results: %w", res.Error)
	}
	removed += res.RowsAffected

	res = ds.DB.Where("synced = ? AND completed_at < ?", true, olderThan).Delete(&TrainingSession{})
	if res.Error != nil {
		return removed, fmt.Errorf("pruning training sessions: %w", res.Error)
	}
	removed += res.RowsAffected

	if removed > 0 {
		storeLogger.Info("pruned synced records", "removed", removed, "older_than", olderThan)
	}
	return removed, nil
}

// UsageByCategory reports record counts and payload bytes per category.
func (ds *DataStore) UsageByCategory() (map[string]CategoryUsage, error) {
	usage := make(map[string]CategoryUsage, 3)
	for entityType, model := range map[string]any{
		EntityTypeModel:     &Model{},
		EntityTypeDetection: &DetectionResult{},
		EntityTypeTraining:  &TrainingSession{},
	} {
		var count int64
		if err := ds.DB.Model(model).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("counting %s records: %w", entityType, err)
		}
		var sum *int64
		if err := ds.DB.Model(model).Select("SUM(payload_bytes)").Scan(&sum).Error; err != nil {
			return nil, fmt.Errorf("summing %s payload bytes: %w", entityType, err)
		}
		var bytes int64
		if sum != nil {
			bytes = *sum
		}
		usage[entityType] = CategoryUsage{Count: count, Bytes: bytes}
	}
	return usage, nil
}

// CorruptRecordCount reports how many records have been skipped because
// their payload failed to deserialize.
func (ds *DataStore) CorruptRecordCount() int64 {
	return ds.corrupt.n.Load()
}

func (ds *DataStore) reportCorrupt(entityType, id string) {
	ds.corrupt.n.Add(1)
	ds.metrics.RecordCorruptSkipped()
	storeLogger.Warn("skipping corrupt record", "entity_type", entityType, "id", id)
}

// recordSave maps a save outcome onto the metrics result label.
func (ds *DataStore) recordSave(entityType string, err error) error {
	switch {
	case err == nil:
		ds.metrics.RecordSave(entityType, "ok")
	case errors.IsQuotaExceeded(err):
		ds.metrics.RecordSave(entityType, "quota")
	default:
		ds.metrics.RecordSave(entityType, "error")
	}
	return err
}

// validateID rejects writes without a caller-generated id. The id is the
// remote deduplication key, so the store never invents one.
func validateID(id, entityType string) error {
	if strings.TrimSpace(id) == "" {
		return errors.Newf("%s requires a non-empty id", entityType).
			Component("store").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func tableFor(entityType string) (any, error) {
	switch entityType {
	case EntityTypeModel:
		return &Model{}, nil
	case EntityTypeDetection:
		return &DetectionResult{}, nil
	case EntityTypeTraining:
		return &TrainingSession{}, nil
	default:
		return nil, errors.Newf("unknown entity type %q", entityType).
			Component("store").
			Category(errors.CategoryValidation).
			Build()
	}
}

func notFoundOr(err error, entityType, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(errors.ErrNotFound).
			Component("store").
			EntityContext(entityType, id).
			Build()
	}
	return fmt.Errorf("getting %s %s: %w", entityType, id, err)
}

// isUniqueViolation matches duplicate-key errors across sqlite and mysql
// without importing driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
