package offline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafguard/leafguard-go/internal/conf"
	"github.com/leafguard/leafguard-go/internal/store"
)

func newTestSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Store.SQLite.Enabled = true
	settings.Store.SQLite.Path = filepath.Join(t.TempDir(), "leafguard.db")
	settings.Sync.Endpoint = "https://sync.example.com/api/v1"
	settings.Sync.Concurrency = 2
	settings.Sync.AttemptTimeout = time.Second
	settings.Sync.Retry = conf.RetrySettings{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}
	settings.Usage.SnapshotTTL = time.Minute
	return settings
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(newTestSettings(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = svc.store.Close()
	})
	return svc
}

func TestNewRequiresDatabaseBackend(t *testing.T) {
	settings := newTestSettings(t)
	settings.Store.SQLite.Enabled = false

	_, err := New(settings)
	require.Error(t, err)
}

func TestSaveDetectionResultGeneratesID(t *testing.T) {
	svc := newTestService(t)

	id, err := svc.SaveDetectionResult(&store.DetectionResult{
		ImageID:     "img-001",
		DiseaseType: "leaf_rust",
		Payload:     []byte(`{"confidence":0.91}`),
		Confidence:  0.91,
	})
	require.NoError(t, err)
	_, parseErr := uuid.Parse(id)
	require.NoError(t, parseErr, "generated id must be a UUID")

	got, err := svc.GetDetectionResult(id)
	require.NoError(t, err)
	assert.Equal(t, "img-001", got.ImageID)
	assert.False(t, got.Synced, "fresh saves start unsynced")
}

func TestSaveHonorsCallerProvidedID(t *testing.T) {
	svc := newTestService(t)

	want := uuid.New().String()
	got, err := svc.SaveDetectionResult(&store.DetectionResult{
		ID:          want,
		DiseaseType: "powdery_mildew",
		Payload:     []byte(`{"confidence":0.55}`),
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSavesLandLocallyWhileOffline(t *testing.T) {
	svc := newTestService(t)
	require.False(t, svc.IsOnline())

	_, err := svc.SaveDetectionResult(&store.DetectionResult{
		DiseaseType: "leaf_rust",
		Payload:     []byte(`{"confidence":0.8}`),
	})
	require.NoError(t, err)
	_, err = svc.SaveTrainingSession(&store.TrainingSession{
		Metrics:     []byte(`{"accuracy":0.97}`),
		CompletedAt: time.Now(),
	})
	require.NoError(t, err)

	detections, err := svc.GetUnsyncedDetectionResults()
	require.NoError(t, err)
	sessions, err := svc.GetUnsyncedTrainingSessions()
	require.NoError(t, err)
	assert.Len(t, detections, 1)
	assert.Len(t, sessions, 1)
}

func TestForceSyncWhileOfflineLeavesEverythingPending(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.SaveDetectionResult(&store.DetectionResult{
		DiseaseType: "leaf_rust",
		Payload:     []byte(`{"confidence":0.8}`),
	})
	require.NoError(t, err)

	// queue is needed by the coordinator's retry primitive
	svc.queue.Start(context.Background())
	defer func() { _ = svc.queue.Stop(time.Second) }()

	summary, err := svc.ForceSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Pushed)
	assert.Equal(t, 1, summary.Remaining)
}

func TestStorageUsageReflectsSaves(t *testing.T) {
	svc := newTestService(t)

	payload := []byte(`{"confidence":0.42}`)
	_, err := svc.SaveDetectionResult(&store.DetectionResult{DiseaseType: "leaf_rust", Payload: payload})
	require.NoError(t, err)

	snap, err := svc.StorageUsage(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap.Detections.Count)
	assert.EqualValues(t, len(payload), snap.Detections.Bytes)
	assert.EqualValues(t, 1, snap.TotalCount)
}

func TestModelCacheRoundTrip(t *testing.T) {
	svc := newTestService(t)

	id, err := svc.SaveModel(&store.Model{
		DiseaseType: "leaf_rust",
		Version:     "1.2.0",
		WeightsRef:  "models/leaf_rust-1.2.0.tflite",
		Accuracy:    0.93,
	})
	require.NoError(t, err)

	models, err := svc.GetAllModels()
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, id, models[0].ID)

	byDisease, err := svc.GetModelsByDisease("leaf_rust")
	require.NoError(t, err)
	require.Len(t, byDisease, 1)
	assert.Equal(t, "1.2.0", byDisease[0].Version)
}
