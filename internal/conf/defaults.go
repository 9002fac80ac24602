package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers the default value for every setting with viper.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Local store
	viper.SetDefault("store.sqlite.enabled", true)
	viper.SetDefault("store.sqlite.path", "leafguard.db")
	viper.SetDefault("store.mysql.enabled", false)
	viper.SetDefault("store.mysql.username", "leafguard")
	viper.SetDefault("store.mysql.password", "")
	viper.SetDefault("store.mysql.database", "leafguard")
	viper.SetDefault("store.mysql.host", "localhost")
	viper.SetDefault("store.mysql.port", "3306")
	viper.SetDefault("store.quotabytes", int64(512*1024*1024))
	viper.SetDefault("store.retention", 30*24*time.Hour)

	// Sync coordinator
	viper.SetDefault("sync.endpoint", "https://sync.leafguard.app/api/v1")
	viper.SetDefault("sync.stationtoken", "")
	viper.SetDefault("sync.concurrency", 4)
	viper.SetDefault("sync.attempttimeout", 30*time.Second)
	viper.SetDefault("sync.retry.maxretries", 5)
	viper.SetDefault("sync.retry.initialdelay", 1*time.Second)
	viper.SetDefault("sync.retry.maxdelay", 60*time.Second)
	viper.SetDefault("sync.retry.multiplier", 2.0)
	viper.SetDefault("sync.log.enabled", true)
	viper.SetDefault("sync.log.path", "logs/sync.log")
	viper.SetDefault("sync.log.maxsizemb", 100)
	viper.SetDefault("sync.log.maxbackups", 3)
	viper.SetDefault("sync.log.maxagedays", 28)

	// Connectivity monitor
	viper.SetDefault("connectivity.probeurl", "https://sync.leafguard.app/api/v1/health")
	viper.SetDefault("connectivity.probetimeout", 5*time.Second)
	viper.SetDefault("connectivity.probeinterval", 30*time.Second)
	viper.SetDefault("connectivity.debounce", 2*time.Second)

	// Usage tracker
	viper.SetDefault("usage.snapshotttl", 5*time.Minute)

	// Metrics endpoint
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "0.0.0.0:8090")
}

// defaultSettings builds a Settings populated with the same defaults,
// used when no config source is available at all.
func defaultSettings() *Settings {
	setDefaultConfig()
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		// Defaults always unmarshal; an empty Settings is the last resort.
		return &Settings{}
	}
	return settings
}
