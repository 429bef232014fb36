package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/cache"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/listing"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/offers"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/pipeline"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/regions"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/testfixtures"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/tracking"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, n model.LocalNotification) error {
	return m.Called(ctx, n).Error(0)
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	clock      *testClock
	listing    *listing.Cache
	offers     *offers.Cache
	entered    *regions.EnteredRegions
	pending    *regions.PendingNotifications
	tracking   *tracking.Cache
	dispatcher *mockDispatcher
	process    pipeline.LocationProcessor
	logs       bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:      &testClock{now: time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)},
		dispatcher: new(mockDispatcher),
	}
	logger := newTestLogger()
	core := cache.NewCore(context.Background(), nil, logger)
	h.offers = offers.New(core, logger, offers.WithClock(h.clock.Now))
	h.entered = regions.NewEnteredRegions(core, logger, regions.WithClock(h.clock.Now))
	h.pending = regions.NewPendingNotifications(core, logger, regions.WithClock(h.clock.Now))
	h.listing = listing.New(core, h.offers, logger,
		listing.WithClock(h.clock.Now),
		listing.WithScheduleRemovers(h.entered, h.pending),
	)
	h.offers.SetDeliveryRecorder(h.listing)
	h.listing.ReplaceCache(testfixtures.Listing(t))
	h.tracking = tracking.New(core, logger)

	h.process = pipeline.NewProcessor(pipeline.Stages{
		Listing:       h.listing,
		Offers:        h.offers,
		Regions:       h.entered,
		Notifications: h.pending,
		Tracking:      h.tracking,
		Dispatcher:    h.dispatcher,
		Now:           h.clock.Now,
	}, slog.New(slog.NewTextHandler(&h.logs, nil)))
	return h
}

func (h *harness) eventTypes() []model.TrackingEventType {
	var types []model.TrackingEventType
	for _, e := range h.tracking.PopCachedEvents(1000) {
		types = append(types, e.Type)
	}
	return types
}

var (
	firstFence = model.Location{Latitude: testfixtures.FirstLatitude, Longitude: testfixtures.FirstLongitude}
	nowhere    = model.Location{Latitude: 0, Longitude: 0}
)

func TestProcessor_DwellThenNotify(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key := model.OfferKey(testfixtures.FirstScheduleID, testfixtures.FirstDeviceID)

	// 1. Entry
	require.NoError(t, h.process(ctx, firstFence))
	assert.True(t, h.entered.Contains(key))
	_, pending := h.offers.PendingOffer(key)
	assert.True(t, pending)
	assert.Equal(t, []model.TrackingEventType{model.EventGeofenceEntry}, h.eventTypes())

	// 2. Still dwelling
	h.clock.Advance(59 * time.Second)
	require.NoError(t, h.process(ctx, firstFence))
	assert.Empty(t, h.eventTypes(), "re-entry is not recorded twice")
	h.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)

	// 3. Dwell elapsed; no delivery delay so the notification goes out now
	h.dispatcher.On("Dispatch", mock.Anything, model.LocalNotification{
		ID:               key,
		ScheduleID:       testfixtures.FirstScheduleID,
		ScheduleDeviceID: testfixtures.FirstDeviceID,
		Title:            testfixtures.FirstTitle,
		Body:             "Tap to see your reward",
	}).Return(nil).Once()

	h.clock.Advance(time.Second)
	require.NoError(t, h.process(ctx, firstFence))

	h.dispatcher.AssertExpectations(t)
	_, confirmed := h.offers.Offer(key)
	assert.True(t, confirmed)
	assert.Equal(t, []model.TrackingEventType{model.EventGeofenceDwell, model.EventOfferDelivered}, h.eventTypes())

	// 4. Nothing more to send while still inside
	h.clock.Advance(time.Hour)
	require.NoError(t, h.process(ctx, firstFence))
	h.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
}

func TestProcessor_ExitCancelsDwell(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key := model.OfferKey(testfixtures.FirstScheduleID, testfixtures.FirstDeviceID)

	require.NoError(t, h.process(ctx, firstFence))
	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.process(ctx, nowhere))

	assert.False(t, h.entered.Contains(key))
	_, pending := h.offers.PendingOffer(key)
	assert.False(t, pending)
	assert.Equal(t, []model.TrackingEventType{model.EventGeofenceEntry, model.EventGeofenceExit}, h.eventTypes())

	h.clock.Advance(time.Hour)
	require.NoError(t, h.process(ctx, nowhere))
	assert.False(t, h.offers.HasOffers())
	h.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestProcessor_FenceBehaviour(t *testing.T) {
	ctx := context.Background()

	t.Run("Delivery delay holds the notification back", func(t *testing.T) {
		h := newHarness(t)
		loc := model.Location{Latitude: 51.519413, Longitude: -0.126957}

		require.NoError(t, h.process(ctx, loc))
		assert.Equal(t, []model.TrackingEventType{model.EventGeofenceEntry, model.EventOfferDelivered}, h.eventTypes())
		assert.Equal(t, 1, h.pending.Len())
		h.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)

		h.dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(n model.LocalNotification) bool {
			return n.ScheduleID == 5140 && n.Title == "Coffee on us"
		})).Return(nil).Once()

		h.clock.Advance(30 * time.Second)
		require.NoError(t, h.process(ctx, loc))
		h.dispatcher.AssertExpectations(t)
		assert.Equal(t, 0, h.pending.Len())
	})

	t.Run("Fence that does not notify is still delivered", func(t *testing.T) {
		h := newHarness(t)
		loc := model.Location{Latitude: 51.531427, Longitude: -0.125033}

		require.NoError(t, h.process(ctx, loc))
		assert.Equal(t, []model.TrackingEventType{model.EventGeofenceEntry, model.EventOfferDelivered}, h.eventTypes())
		_, confirmed := h.offers.Offer(model.OfferKey(testfixtures.NoNotifyScheduleID, "5c0f9a4443f13"))
		assert.True(t, confirmed)
		assert.Equal(t, 0, h.pending.Len())
		h.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})

	t.Run("Silent fence dispatches a silent notification", func(t *testing.T) {
		h := newHarness(t)
		loc := model.Location{Latitude: 51.455313, Longitude: -0.96909}

		h.dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(n model.LocalNotification) bool {
			return n.ScheduleID == testfixtures.SilentScheduleID && n.Silent && n.Title == "Quiet offer"
		})).Return(nil).Once()

		require.NoError(t, h.process(ctx, loc))
		h.clock.Advance(2 * time.Minute)
		require.NoError(t, h.process(ctx, loc))
		h.dispatcher.AssertExpectations(t)
	})

	t.Run("Delivered pair is never entered", func(t *testing.T) {
		h := newHarness(t)
		loc := model.Location{Latitude: 51.507512, Longitude: -0.461001}

		require.NoError(t, h.process(ctx, loc))
		assert.False(t, h.entered.Contains(model.OfferKey(testfixtures.FirstScheduleID, testfixtures.DeliveredDeviceID)))
		assert.Empty(t, h.eventTypes())
	})
}

func withoutSchedule(t *testing.T, scheduleID int) model.Listing {
	t.Helper()
	l := testfixtures.Listing(t)
	var kept []model.Schedule
	for _, s := range l.Schedules {
		if s.ScheduleID != scheduleID {
			kept = append(kept, s)
		}
	}
	l.Schedules = kept
	delete(l.Regions, strconv.Itoa(scheduleID))
	return l
}

func TestProcessor_WithdrawnSchedule(t *testing.T) {
	ctx := context.Background()
	delayed := model.Location{Latitude: 51.519413, Longitude: -0.126957}
	key := model.OfferKey(5140, "5c0f9a4443f03")

	t.Run("Refresh cancels the queued notification", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.process(ctx, delayed))
		require.Equal(t, 1, h.pending.Len())
		require.True(t, h.entered.Contains(key))

		h.listing.ReplaceCache(withoutSchedule(t, 5140))
		assert.Equal(t, 0, h.pending.Len())
		assert.False(t, h.entered.Contains(key))
		_, confirmed := h.offers.Offer(key)
		assert.False(t, confirmed)

		h.clock.Advance(15 * time.Minute)
		require.NoError(t, h.process(ctx, nowhere))
		h.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})

	t.Run("Due notification without a confirmed offer is skipped", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.process(ctx, delayed))
		h.offers.RemoveOffersForSchedules([]int{5140})
		require.Equal(t, 1, h.pending.Len())

		h.clock.Advance(time.Minute)
		require.NoError(t, h.process(ctx, nowhere))
		h.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
		assert.Equal(t, 0, h.pending.Len())
	})
}

func TestProcessor_DispatchFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	boom := errors.New("notification centre unavailable")
	h.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(boom).Once()

	require.NoError(t, h.process(ctx, firstFence))
	h.clock.Advance(time.Minute)
	err := h.process(ctx, firstFence)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, h.logs.String(), "level=WARN")
	assert.Contains(t, h.logs.String(), "Notification dropped after dispatch failure")
	assert.Contains(t, h.logs.String(), "schedule_id=5139")
	_, confirmed := h.offers.Offer(model.OfferKey(testfixtures.FirstScheduleID, testfixtures.FirstDeviceID))
	assert.True(t, confirmed, "confirmation is not rolled back")
}
