// Package usage computes advisory storage usage snapshots over the local
// store. Numbers are eventually consistent with concurrent writes; nothing
// in the subsystem makes correctness decisions from them.
package usage

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/leafguard/leafguard-go/internal/logging"
	"github.com/leafguard/leafguard-go/internal/store"
)

const snapshotKey = "storage-usage"

// Snapshot is one point-in-time view of storage consumption.
type Snapshot struct {
	Models         store.CategoryUsage
	Detections     store.CategoryUsage
	Training       store.CategoryUsage
	TotalBytes     int64
	TotalCount     int64
	CorruptRecords int64
	ComputedAt     time.Time
}

// Tracker computes and caches usage snapshots on demand.
type Tracker struct {
	store  store.Interface
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewTracker creates a tracker whose snapshots expire after ttl.
func NewTracker(st store.Interface, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Tracker{
		store:  st,
		cache:  gocache.New(ttl, 2*ttl),
		logger: logging.ForService("usage"),
	}
}

// Refresh recomputes the snapshot by scanning the store. It is read-only,
// safe to run concurrently with writes and sync, and tolerates landing
// slightly stale relative to writes during the scan.
func (t *Tracker) Refresh(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	start := time.Now()
	byCategory, err := t.store.UsageByCategory()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Models:         byCategory[store.EntityTypeModel],
		Detections:     byCategory[store.EntityTypeDetection],
		Training:       byCategory[store.EntityTypeTraining],
		CorruptRecords: t.store.CorruptRecordCount(),
		ComputedAt:     time.Now(),
	}
	for _, cu := range byCategory {
		snap.TotalBytes += cu.Bytes
		snap.TotalCount += cu.Count
	}

	t.cache.SetDefault(snapshotKey, snap)
	t.logger.Debug("usage snapshot refreshed",
		"total_count", snap.TotalCount,
		"total_bytes", snap.TotalBytes,
		"scan_duration", time.Since(start))
	return snap, nil
}

// Snapshot returns the last computed values instantly, without touching the
// store. The second return is false when no fresh snapshot exists, in which
// case the caller should Refresh.
func (t *Tracker) Snapshot() (Snapshot, bool) {
	v, ok := t.cache.Get(snapshotKey)
	if !ok {
		return Snapshot{}, false
	}
	return v.(Snapshot), true
}

// Current returns a fresh-enough snapshot, refreshing if the cached one has
// expired.
func (t *Tracker) Current(ctx context.Context) (Snapshot, error) {
	if snap, ok := t.Snapshot(); ok {
		return snap, nil
	}
	return t.Refresh(ctx)
}
