// model.go defines the persisted entities of the offline store.
package store

import "time"

// Entity type tags. Every stored record belongs to exactly one of these;
// the tag is also the entityType field of the remote upsert contract.
const (
	EntityTypeModel     = "model"
	EntityTypeDetection = "detection_result"
	EntityTypeTraining  = "training_session"
)

// CurrentSchemaVersion is stamped on every record at write time so older
// records remain readable after the schema evolves.
const CurrentSchemaVersion = 1

// Model represents a cached inference model version. Models are append-only:
// a new version is a new record, weights are never mutated in place.
type Model struct {
	ID             string `gorm:"primaryKey"`
	SchemaVersion  int    `gorm:"not null"`
	DiseaseType    string `gorm:"index:idx_models_disease;index:idx_models_disease_version,unique;not null"`
	Version        string `gorm:"index:idx_models_disease_version,unique;not null"`
	WeightsRef     string // reference to the weights blob, not the blob itself
	Accuracy       float64
	ParameterCount int64
	TrainedAt      time.Time
	CachedAt       time.Time `gorm:"index"`
	PayloadBytes   int64     // size charged against the storage quota
}

// DetectionResult represents one completed inference over a captured image.
// Synced flips false to true exactly once, on remote acknowledgment.
type DetectionResult struct {
	ID              string `gorm:"primaryKey"`
	SchemaVersion   int    `gorm:"not null"`
	ImageID         string `gorm:"index:idx_detections_image"`
	DiseaseType     string `gorm:"index:idx_detections_disease"`
	Payload         []byte `gorm:"type:blob"` // opaque result payload, JSON
	Confidence      float64
	Timestamp       time.Time `gorm:"index:idx_detections_timestamp"`
	Synced          bool      `gorm:"index:idx_detections_synced"`
	SyncedAt        *time.Time
	FailedPermanent bool // definite remote rejection, excluded from retry
	PayloadBytes    int64
}

// TrainingSession records one on-device training run. Same synced lifecycle
// as DetectionResult.
type TrainingSession struct {
	ID              string `gorm:"primaryKey"`
	SchemaVersion   int    `gorm:"not null"`
	DiseaseType     string `gorm:"index:idx_training_disease"`
	DatasetRef      string
	Metrics         []byte `gorm:"type:blob"` // JSON metrics blob
	StartedAt       time.Time
	CompletedAt     time.Time `gorm:"index:idx_training_completed"`
	Synced          bool      `gorm:"index:idx_training_synced"`
	SyncedAt        *time.Time
	FailedPermanent bool
	PayloadBytes    int64
}

// PendingEntity is the type-erased view of an unsynced record handed to the
// sync coordinator: enough to build one idempotent upsert request.
type PendingEntity struct {
	EntityType string
	ID         string
	Payload    []byte
}
