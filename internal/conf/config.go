// Package conf defines the settings for the LeafGuard offline storage and
// sync subsystem and loads them from file, environment and defaults via viper.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig describes rotation of a service log file.
type LogConfig struct {
	Enabled    bool   // true to write a log file for this service
	Path       string // log file path
	MaxSizeMB  int    // rotate after this many megabytes
	MaxBackups int    // rotated files to keep
	MaxAgeDays int    // days to keep rotated files
}

// SQLiteSettings holds SQLite database settings.
type SQLiteSettings struct {
	Enabled bool
	Path    string // path to the database file
}

// MySQLSettings holds MySQL database settings.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// StoreSettings holds local storage settings.
type StoreSettings struct {
	SQLite     SQLiteSettings
	MySQL      MySQLSettings
	QuotaBytes int64         // payload byte budget, 0 disables quota enforcement
	Retention  time.Duration // age after which synced records are pruned, 0 disables
}

// RetrySettings configures the backoff applied to failed pushes.
type RetrySettings struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// SyncSettings configures the sync coordinator and its remote client.
type SyncSettings struct {
	Endpoint       string        // base URL of the sync service
	StationToken   string        // per-station auth token sent with each upsert
	Concurrency    int           // maximum pushes in flight during a pass
	AttemptTimeout time.Duration // hard per-attempt timeout
	Retry          RetrySettings
	Log            LogConfig
}

// ConnectivitySettings configures the connectivity monitor.
type ConnectivitySettings struct {
	ProbeURL      string        // health endpoint used by the active probe
	ProbeTimeout  time.Duration // timeout of a single probe round trip
	ProbeInterval time.Duration // how often to re-evaluate connectivity
	Debounce      time.Duration // hysteresis window before publishing a flip
}

// UsageSettings configures the storage usage tracker.
type UsageSettings struct {
	SnapshotTTL time.Duration // age after which a snapshot is considered stale
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool
	Listen  string // listen address, e.g. "0.0.0.0:8090"
}

// Settings is the root configuration of the subsystem.
type Settings struct {
	Debug bool // true to enable debug logging

	Store        StoreSettings
	Sync         SyncSettings
	Connectivity ConnectivitySettings
	Usage        UsageSettings
	Metrics      MetricsSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.Lock()
		defer settingsMutex.Unlock()
		var err error
		settingsInstance, err = Load()
		if err != nil {
			// Missing or invalid config falls back to defaults so the
			// client keeps working offline.
			settingsInstance = defaultSettings()
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Load reads the configuration from file and environment into Settings.
func Load() (*Settings, error) {
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("LEAFGUARD")
	viper.AutomaticEnv()

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults and environment apply.
	}

	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", "leafguard"),
	}, nil
}

// SaveAs writes the current settings as YAML to the given path.
func (s *Settings) SaveAs(path string) error {
	settingsMutex.RLock()
	data, err := yaml.Marshal(s)
	settingsMutex.RUnlock()
	if err != nil {
		return fmt.Errorf("error marshaling settings to yaml: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
