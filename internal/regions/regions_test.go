package regions_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/cache"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/regions"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/storage"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func fence(scheduleID int, deviceID string) model.GeoFence {
	return model.GeoFence{ScheduleID: scheduleID, ScheduleDeviceID: deviceID, Latitude: 51.5, Longitude: -0.12, RadiusKm: 0.1}
}

func TestEnteredRegions(t *testing.T) {
	clock := &testClock{t: time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)}
	core := cache.NewCore(context.Background(), nil, newTestLogger())
	entered := regions.NewEnteredRegions(core, newTestLogger(), regions.WithClock(clock.now))

	a := fence(5139, "a")
	b := fence(5140, "b")

	t.Run("First entry is recorded", func(t *testing.T) {
		assert.True(t, entered.Add(a))
		assert.True(t, entered.Contains(a.Key()))
		item, ok := entered.Item(a.Key())
		require.True(t, ok)
		assert.Equal(t, clock.t.UnixMilli(), item.CreatedMs)
	})

	t.Run("Re-entry keeps the original time", func(t *testing.T) {
		clock.t = clock.t.Add(time.Minute)
		assert.False(t, entered.Add(a))
		item, _ := entered.Item(a.Key())
		assert.Equal(t, clock.t.Add(-time.Minute).UnixMilli(), item.CreatedMs)
	})

	t.Run("All is ordered by key", func(t *testing.T) {
		entered.Add(b)
		all := entered.All()
		require.Len(t, all, 2)
		assert.Equal(t, a.Key(), all[0].Region.Key())
		assert.Equal(t, b.Key(), all[1].Region.Key())
	})

	t.Run("Exit", func(t *testing.T) {
		assert.True(t, entered.Remove(a.Key()))
		assert.False(t, entered.Remove(a.Key()))
		assert.Equal(t, 1, entered.Len())
	})
}

func TestPendingNotifications(t *testing.T) {
	start := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &testClock{t: start}
	store := storage.New[cache.CacheData](storage.NewMemoryBackend(), newTestLogger())
	core := cache.NewCore(context.Background(), store, newTestLogger())
	pending := regions.NewPendingNotifications(core, newTestLogger(), regions.WithClock(clock.now))

	slow := fence(5140, "slow")
	fast := fence(5139, "fast")

	require.True(t, pending.Schedule(slow, 30*time.Second))
	require.True(t, pending.Schedule(fast, 0))
	assert.False(t, pending.Schedule(fast, time.Hour), "already queued")
	assert.True(t, store.Dirty())

	t.Run("Zero delay is due immediately", func(t *testing.T) {
		due := pending.PopDue()
		require.Len(t, due, 1)
		assert.Equal(t, fast.Key(), due[0].Region.Key())
		assert.True(t, pending.Has(slow.Key()))
	})

	t.Run("Nothing due before the delay", func(t *testing.T) {
		clock.t = start.Add(29 * time.Second)
		assert.Nil(t, pending.PopDue())
	})

	t.Run("Due at the delay", func(t *testing.T) {
		clock.t = start.Add(30 * time.Second)
		due := pending.PopDue()
		require.Len(t, due, 1)
		assert.Equal(t, start.Add(30*time.Second).UnixMilli(), due[0].DueMs)
		assert.Equal(t, 0, pending.Len())
	})

	t.Run("Remove cancels", func(t *testing.T) {
		pending.Schedule(slow, time.Second)
		assert.True(t, pending.Remove(slow.Key()))
		assert.False(t, pending.Has(slow.Key()))
	})
}

func TestRemoveSchedules(t *testing.T) {
	clock := &testClock{t: time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()
	store := storage.New[cache.CacheData](storage.NewMemoryBackend(), newTestLogger())
	core := cache.NewCore(ctx, store, newTestLogger())
	entered := regions.NewEnteredRegions(core, newTestLogger(), regions.WithClock(clock.now))
	pending := regions.NewPendingNotifications(core, newTestLogger(), regions.WithClock(clock.now))

	for _, f := range []model.GeoFence{fence(5139, "a"), fence(5139, "b"), fence(5140, "c")} {
		entered.Add(f)
		pending.Schedule(f, time.Minute)
	}
	require.NoError(t, store.Flush(ctx))

	t.Run("Unknown schedules change nothing", func(t *testing.T) {
		entered.RemoveSchedules([]int{9999})
		pending.RemoveSchedules(nil)
		assert.Equal(t, 3, entered.Len())
		assert.Equal(t, 3, pending.Len())
		assert.False(t, store.Dirty())
	})

	t.Run("Every fence of a removed schedule is dropped", func(t *testing.T) {
		entered.RemoveSchedules([]int{5139})
		pending.RemoveSchedules([]int{5139})

		assert.Equal(t, 1, entered.Len())
		assert.True(t, entered.Contains(fence(5140, "c").Key()))
		assert.Equal(t, 1, pending.Len())
		assert.True(t, pending.Has(fence(5140, "c").Key()))
		assert.True(t, store.Dirty())

		clock.t = clock.t.Add(time.Minute)
		due := pending.PopDue()
		require.Len(t, due, 1)
		assert.Equal(t, 5140, due[0].Region.ScheduleID)
	})
}
