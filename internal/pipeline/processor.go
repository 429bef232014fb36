// Package pipeline turns location fixes into region, offer and notification
// state changes.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-geooffers-sdk/internal/listing"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/dispatch"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

// LocationProcessor handles one location fix.
type LocationProcessor func(ctx context.Context, loc model.Location) error

// Stages are the caches and sinks a LocationProcessor drives.
type Stages struct {
	Listing       dispatch.ListingReader
	Offers        dispatch.OffersCache
	Regions       dispatch.RegionTracker
	Notifications dispatch.NotificationQueue
	Tracking      dispatch.TrackingRecorder
	Dispatcher    dispatch.Dispatcher
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewProcessor creates the logic that runs on every location update:
//  1. Entry and exit per fence, recorded as tracking events. Entry starts
//     the dwell timer of the fence's offer; exit cancels it.
//  2. Pending offers whose dwell delay elapsed are confirmed and a local
//     notification is scheduled after the fence's delivery delay, unless
//     the fence does not notify.
//  3. Notifications that are due are dispatched, unless their offer is no
//     longer confirmed (the schedule left the listing or the cache was cleared).
func NewProcessor(stages Stages, logger *slog.Logger) LocationProcessor {
	now := stages.Now
	if now == nil {
		now = time.Now
	}
	logger = logger.With("component", "LocationProcessor")

	return func(ctx context.Context, loc model.Location) error {
		at := now()
		listed := stages.Listing.Regions()
		fences := make(map[string]model.GeoFence, len(listed))
		for _, fence := range listed {
			fences[fence.Key()] = fence
		}

		// 1. Entry / exit
		var events []model.TrackingEvent
		for _, fence := range listed {
			key := fence.Key()
			inside := listing.Contains(fence, loc)
			switch {
			case inside && !stages.Regions.Contains(key):
				if len(stages.Listing.SchedulesFor(fence.ScheduleID, fence.ScheduleDeviceID)) == 0 {
					continue
				}
				stages.Regions.Add(fence)
				events = append(events, model.NewRegionEvent(model.EventGeofenceEntry, fence, &loc, at))
				stages.Offers.AddPendingOffer(fence.ScheduleID, fence.ScheduleDeviceID, loc.Latitude, loc.Longitude, fence.LoiteringDelayMs)
				logger.Debug("Entered region", "key", key)
			case !inside && stages.Regions.Contains(key):
				stages.Regions.Remove(key)
				events = append(events, model.NewRegionEvent(model.EventGeofenceExit, fence, &loc, at))
				stages.Offers.RemovePendingOffer(key)
				logger.Debug("Exited region", "key", key)
			}
		}
		// Fences dropped from the listing while the device was inside them.
		for _, item := range stages.Regions.All() {
			key := item.Region.Key()
			if _, ok := fences[key]; !ok {
				stages.Regions.Remove(key)
				stages.Offers.RemovePendingOffer(key)
			}
		}

		// 2. Dwell promotion
		for _, offer := range stages.Offers.RefreshPendingOffers() {
			fence, ok := fences[offer.Key()]
			if !ok {
				continue
			}
			if offer.DwellDelayMs > 0 {
				events = append(events, model.NewRegionEvent(model.EventGeofenceDwell, fence, &loc, at))
			}
			events = append(events, model.NewRegionEvent(model.EventOfferDelivered, fence, &loc, at))
			if fence.DoesNotNotify {
				logger.Debug("Offer confirmed without notification", "key", offer.Key())
				continue
			}
			stages.Notifications.Schedule(fence, fence.DeliveryDelay())
		}
		if len(events) > 0 {
			stages.Tracking.Add(events...)
		}

		// 3. Delivery
		var errs []error
		for _, item := range stages.Notifications.PopDue() {
			if _, ok := stages.Offers.Offer(item.Region.Key()); !ok {
				logger.Info("Skipping notification for withdrawn offer", "key", item.Region.Key(), "schedule_id", item.Region.ScheduleID)
				continue
			}
			n := notificationFor(item.Region, stages.Listing.Listing())
			if err := stages.Dispatcher.Dispatch(ctx, n); err != nil {
				// PopDue already removed it; it is not retried.
				logger.Warn("Notification dropped after dispatch failure", "key", n.ID, "schedule_id", n.ScheduleID, "err", err)
				errs = append(errs, fmt.Errorf("dispatch %s: %w", n.ID, err))
				continue
			}
			logger.Info("Notification dispatched", "key", n.ID, "silent", n.Silent)
		}
		return errors.Join(errs...)
	}
}

// notificationFor builds the notification for a fence, falling back to the
// campaign's offer title when the fence has no custom title.
func notificationFor(fence model.GeoFence, current *model.Listing) model.LocalNotification {
	n := model.LocalNotification{
		ID:               fence.Key(),
		ScheduleID:       fence.ScheduleID,
		ScheduleDeviceID: fence.ScheduleDeviceID,
		Title:            fence.NotificationTitle,
		Body:             fence.NotificationMessage,
		Silent:           fence.NotifiesSilently,
	}
	if n.Title == "" && current != nil {
		if campaign, ok := current.CampaignForSchedule(fence.ScheduleID); ok {
			if raw, ok := campaign.Offer.Attributes["title"]; ok {
				_ = json.Unmarshal(raw, &n.Title)
			}
		}
	}
	return n
}
