// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

// Dispatcher defines the contract for a component that can raise a local
// notification on the device (a toast, a system notification, a log line).
type Dispatcher interface {
	// Dispatch shows the notification. Errors are logged by the caller and the
	// notification is not retried.
	Dispatch(ctx context.Context, n model.LocalNotification) error
}

// DispatcherFunc adapts a plain function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, n model.LocalNotification) error

func (f DispatcherFunc) Dispatch(ctx context.Context, n model.LocalNotification) error {
	return f(ctx, n)
}

// ListingReader is the read side of the listing cache.
type ListingReader interface {
	Listing() *model.Listing
	Regions() []model.GeoFence
	SchedulesFor(scheduleID int, scheduleDeviceID string) []model.Schedule
	DeliveredSchedules() []model.DeliveredSchedule
}

// ListingCache adds the mutation used when a listing JSON is handed to the
// web view for the first time.
type ListingCache interface {
	ListingReader
	StartCampaignCountdowns(timestampMs int64) []string
}

// OffersReader is the read side of the offers cache.
type OffersReader interface {
	Offers() []model.ConfirmedOffer
	Offer(key string) (model.ConfirmedOffer, bool)
}

// OffersCache is everything the location pipeline does with offers.
type OffersCache interface {
	OffersReader
	AddPendingOffer(scheduleID int, scheduleDeviceID string, latitude, longitude float64, dwellDelayMs int64)
	RemovePendingOffer(key string)
	RefreshPendingOffers() []model.ConfirmedOffer
}

// TrackingRecorder queues analytics events.
type TrackingRecorder interface {
	Add(events ...model.TrackingEvent)
}

// RegionTracker remembers which fences the device is inside.
type RegionTracker interface {
	Add(fence model.GeoFence) bool
	Remove(key string) bool
	Contains(key string) bool
	All() []model.RegionCacheItem
}

// NotificationQueue holds local notifications until their delivery delay.
type NotificationQueue interface {
	Schedule(fence model.GeoFence, delay time.Duration) bool
	PopDue() []model.RegionCacheItem
}
