package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafguard/leafguard-go/internal/store"
)

// testContext returns a context canceled when the test finishes, matching the
// behavior of testing.T.Context from newer Go releases.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// stubStore provides canned usage numbers without a database.
type stubStore struct {
	store.Interface
	usage   map[string]store.CategoryUsage
	corrupt int64
	scans   int
}

func (s *stubStore) UsageByCategory() (map[string]store.CategoryUsage, error) {
	s.scans++
	return s.usage, nil
}

func (s *stubStore) CorruptRecordCount() int64 { return s.corrupt }

func newStubStore() *stubStore {
	return &stubStore{
		usage: map[string]store.CategoryUsage{
			store.EntityTypeModel:     {Count: 2, Bytes: 512},
			store.EntityTypeDetection: {Count: 10, Bytes: 4096},
			store.EntityTypeTraining:  {Count: 1, Bytes: 128},
		},
		corrupt: 1,
	}
}

func TestRefreshAggregates(t *testing.T) {
	st := newStubStore()
	tracker := NewTracker(st, time.Minute)

	snap, err := tracker.Refresh(testContext(t))
	require.NoError(t, err)

	assert.Equal(t, int64(13), snap.TotalCount)
	assert.Equal(t, int64(4736), snap.TotalBytes)
	assert.Equal(t, int64(10), snap.Detections.Count)
	assert.Equal(t, int64(1), snap.CorruptRecords)
	assert.WithinDuration(t, time.Now(), snap.ComputedAt, time.Second)
}

func TestSnapshotIsInstant(t *testing.T) {
	st := newStubStore()
	tracker := NewTracker(st, time.Minute)

	_, ok := tracker.Snapshot()
	assert.False(t, ok, "no snapshot before the first refresh")

	_, err := tracker.Refresh(testContext(t))
	require.NoError(t, err)

	snap, ok := tracker.Snapshot()
	require.True(t, ok)
	assert.Equal(t, int64(13), snap.TotalCount)
	assert.Equal(t, 1, st.scans, "Snapshot must not rescan the store")
}

func TestCurrentRefreshesAfterExpiry(t *testing.T) {
	st := newStubStore()
	tracker := NewTracker(st, 20*time.Millisecond)

	_, err := tracker.Current(testContext(t))
	require.NoError(t, err)
	require.Equal(t, 1, st.scans)

	// Within the TTL, Current serves the cached snapshot.
	_, err = tracker.Current(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 1, st.scans)

	time.Sleep(40 * time.Millisecond)

	_, err = tracker.Current(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 2, st.scans, "expired snapshot triggers a rescan")
}
