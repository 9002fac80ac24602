package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	settings := defaultSettings()
	require.NotNil(t, settings)

	assert.True(t, settings.Store.SQLite.Enabled)
	assert.Equal(t, "leafguard.db", settings.Store.SQLite.Path)
	assert.False(t, settings.Store.MySQL.Enabled)
	assert.Positive(t, settings.Store.QuotaBytes)

	assert.Equal(t, 4, settings.Sync.Concurrency)
	assert.Equal(t, 30*time.Second, settings.Sync.AttemptTimeout)
	assert.Equal(t, 1*time.Second, settings.Sync.Retry.InitialDelay)
	assert.Equal(t, 60*time.Second, settings.Sync.Retry.MaxDelay)
	assert.Equal(t, 2.0, settings.Sync.Retry.Multiplier)

	assert.Equal(t, 2*time.Second, settings.Connectivity.Debounce)
	assert.Equal(t, 5*time.Minute, settings.Usage.SnapshotTTL)
}

func TestDefaultSettingsAreValid(t *testing.T) {
	settings := defaultSettings()
	assert.NoError(t, ValidateSettings(settings))
}

func TestValidateSettingsRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		errMsg string
	}{
		{
			name:   "no store enabled",
			mutate: func(s *Settings) { s.Store.SQLite.Enabled = false },
			errMsg: "either sqlite or mysql",
		},
		{
			name:   "empty sqlite path",
			mutate: func(s *Settings) { s.Store.SQLite.Path = "" },
			errMsg: "store.sqlite.path",
		},
		{
			name:   "negative quota",
			mutate: func(s *Settings) { s.Store.QuotaBytes = -1 },
			errMsg: "quotabytes",
		},
		{
			name:   "bad endpoint",
			mutate: func(s *Settings) { s.Sync.Endpoint = "not a url" },
			errMsg: "sync.endpoint",
		},
		{
			name:   "zero attempt timeout",
			mutate: func(s *Settings) { s.Sync.AttemptTimeout = 0 },
			errMsg: "attempttimeout",
		},
		{
			name:   "multiplier below one",
			mutate: func(s *Settings) { s.Sync.Retry.Multiplier = 0.5 },
			errMsg: "multiplier",
		},
		{
			// growth below 1.1x cannot outpace the backoff jitter, so the
			// delay sequence would no longer be non-decreasing
			name:   "multiplier below jitter floor",
			mutate: func(s *Settings) { s.Sync.Retry.Multiplier = 1.05 },
			errMsg: "multiplier",
		},
		{
			name:   "max delay below initial",
			mutate: func(s *Settings) { s.Sync.Retry.MaxDelay = 100 * time.Millisecond },
			errMsg: "maxdelay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := defaultSettings()
			tt.mutate(settings)
			err := ValidateSettings(settings)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateSettingsNormalizesConcurrency(t *testing.T) {
	settings := defaultSettings()
	settings.Sync.Concurrency = 0
	require.NoError(t, ValidateSettings(settings))
	assert.Equal(t, 1, settings.Sync.Concurrency)
}

func TestSaveAsRoundTrip(t *testing.T) {
	settings := defaultSettings()
	settings.Sync.StationToken = "station-123"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, settings.SaveAs(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "station-123")
	assert.Contains(t, string(data), "sqlite")
}
