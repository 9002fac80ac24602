package syncer

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafguard/leafguard-go/internal/conf"
	"github.com/leafguard/leafguard-go/internal/errors"
	"github.com/leafguard/leafguard-go/internal/logging"
	"github.com/leafguard/leafguard-go/internal/store"
)

func newTestClient(t *testing.T) *HTTPClient {
	t.Helper()
	settings := &conf.Settings{}
	settings.Sync.Endpoint = "https://sync.example.com/api/v1"
	settings.Sync.StationToken = "test-token"

	client, err := NewClient(settings)
	require.NoError(t, err)

	httpmock.ActivateNonDefault(client.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func testEntity() *store.PendingEntity {
	return &store.PendingEntity{
		EntityType: store.EntityTypeDetection,
		ID:         "3f6c1a9e-0d7b-4f21-8a55-6f1f2b9c0d11",
		Payload:    []byte(`{"diseaseType":"leaf_rust","confidence":0.93}`),
	}
}

func TestUpsertAcknowledged(t *testing.T) {
	client := newTestClient(t)

	var gotAuth, gotEncoding string
	var gotBody upsertRequest
	httpmock.RegisterResponder(http.MethodPost, "https://sync.example.com/api/v1/entities",
		func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			gotEncoding = req.Header.Get("Content-Encoding")
			gz, err := gzip.NewReader(req.Body)
			if err != nil {
				return nil, err
			}
			defer gz.Close()
			raw, err := io.ReadAll(gz)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(raw, &gotBody); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(http.StatusCreated, `{"success":true}`), nil
		})

	entity := testEntity()
	err := client.Upsert(context.Background(), entity)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "gzip", gotEncoding)
	assert.Equal(t, entity.EntityType, gotBody.EntityType)
	assert.Equal(t, entity.ID, gotBody.ID)
	assert.JSONEq(t, string(entity.Payload), string(gotBody.Payload))
}

func TestUpsertPermanentRejection(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://sync.example.com/api/v1/entities",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"error":"schema mismatch"}`))

	err := client.Upsert(context.Background(), testEntity())
	require.Error(t, err)
	assert.True(t, errors.IsRemoteRejected(err))
}

func TestUpsertRetryableStatuses(t *testing.T) {
	for _, status := range []int{
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable,
	} {
		client := newTestClient(t)
		httpmock.RegisterResponder(http.MethodPost, "https://sync.example.com/api/v1/entities",
			httpmock.NewStringResponder(status, "try again later"))

		err := client.Upsert(context.Background(), testEntity())
		require.Error(t, err, "status %d", status)
		assert.False(t, errors.IsRemoteRejected(err), "status %d must stay retryable", status)
		httpmock.DeactivateAndReset()
	}
}

func TestUpsertValidatesEntity(t *testing.T) {
	client := newTestClient(t)

	err := client.Upsert(context.Background(), &store.PendingEntity{EntityType: store.EntityTypeDetection})
	require.Error(t, err)
	assert.Zero(t, httpmock.GetTotalCallCount())

	err = client.Upsert(context.Background(), nil)
	require.Error(t, err)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestServiceLoggerFollowsLogSettings(t *testing.T) {
	// disabled file logging keeps the global service logger
	logger, closer := buildServiceLogger(&conf.LogConfig{Enabled: false})
	assert.Nil(t, logger)
	assert.Nil(t, closer)

	// enabled file logging writes to the configured path
	logPath := filepath.Join(t.TempDir(), "nested", "sync.log")
	logger, closer = buildServiceLogger(&conf.LogConfig{Enabled: true, Path: logPath})
	require.NotNil(t, logger)
	require.NotNil(t, closer)
	defer func() { require.NoError(t, closer()) }()

	logger.Info("sync log settings applied")
	assert.DirExists(t, filepath.Dir(logPath))
}

func TestRotationFromConfig(t *testing.T) {
	// unset fields fall back to the defaults
	rotation := rotationFromConfig(&conf.LogConfig{Enabled: true})
	assert.Equal(t, logging.DefaultFileRotation(), rotation)

	rotation = rotationFromConfig(&conf.LogConfig{
		Enabled:    true,
		MaxSizeMB:  10,
		MaxBackups: 7,
		MaxAgeDays: 14,
	})
	assert.Equal(t, logging.FileRotation{MaxSizeMB: 10, MaxBackups: 7, MaxAgeDays: 14}, rotation)
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	settings := &conf.Settings{}
	_, err := NewClient(settings)
	require.Error(t, err)
}
