package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateSettings checks the loaded settings for values that would
// misbehave at runtime and normalizes what it safely can.
func ValidateSettings(settings *Settings) error {
	var errs []string

	if !settings.Store.SQLite.Enabled && !settings.Store.MySQL.Enabled {
		errs = append(errs, "store: either sqlite or mysql must be enabled")
	}
	if settings.Store.SQLite.Enabled && settings.Store.SQLite.Path == "" {
		errs = append(errs, "store.sqlite.path must not be empty")
	}
	if settings.Store.QuotaBytes < 0 {
		errs = append(errs, "store.quotabytes must not be negative")
	}

	if settings.Sync.Endpoint != "" {
		if _, err := url.ParseRequestURI(settings.Sync.Endpoint); err != nil {
			errs = append(errs, fmt.Sprintf("sync.endpoint is not a valid URL: %v", err))
		}
	}
	if settings.Sync.Concurrency <= 0 {
		settings.Sync.Concurrency = 1
	}
	if settings.Sync.AttemptTimeout <= 0 {
		errs = append(errs, "sync.attempttimeout must be positive")
	}
	// The backoff's upward jitter stays below one 1.1x growth step, so the
	// delays are non-decreasing only from this floor up.
	if settings.Sync.Retry.Multiplier < 1.1 {
		errs = append(errs, "sync.retry.multiplier must be at least 1.1")
	}
	if settings.Sync.Retry.InitialDelay <= 0 || settings.Sync.Retry.MaxDelay < settings.Sync.Retry.InitialDelay {
		errs = append(errs, "sync.retry delays must be positive and maxdelay >= initialdelay")
	}

	if settings.Connectivity.ProbeURL != "" {
		if _, err := url.ParseRequestURI(settings.Connectivity.ProbeURL); err != nil {
			errs = append(errs, fmt.Sprintf("connectivity.probeurl is not a valid URL: %v", err))
		}
	}
	if settings.Connectivity.ProbeTimeout <= 0 {
		errs = append(errs, "connectivity.probetimeout must be positive")
	}
	if settings.Connectivity.Debounce < 0 {
		errs = append(errs, "connectivity.debounce must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
