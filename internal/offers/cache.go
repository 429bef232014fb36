// Package offers tracks pending and confirmed offers per fence and promotes
// pending offers once the device has dwelt long enough.
package offers

import (
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-geooffers-sdk/internal/cache"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/observer"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

// DeliveryRecorder is told which schedules were delivered by a promotion.
type DeliveryRecorder interface {
	AppendDeliveredSchedules(delivered []model.DeliveredSchedule)
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache holds the state machine absent -> pending -> confirmed for each
// offer key. A key is never in both maps and confirmed offers are never
// demoted.
type Cache struct {
	core      *cache.Core
	recorder  DeliveryRecorder
	observers *observer.Registry
	now       func() time.Time
	logger    *slog.Logger
}

func New(core *cache.Core, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		core:      core,
		observers: observer.NewRegistry(),
		now:       time.Now,
		logger:    logger.With("component", "OffersCache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetDeliveryRecorder wires the listing after both caches exist.
func (c *Cache) SetDeliveryRecorder(recorder DeliveryRecorder) {
	c.recorder = recorder
}

// Subscribe registers fn to run when offers are confirmed or removed.
func (c *Cache) Subscribe(fn func()) string {
	return c.observers.Subscribe(fn)
}

func (c *Cache) Unsubscribe(id string) bool {
	return c.observers.Unsubscribe(id)
}

// AddPendingOffer starts the dwell timer for a fence. Confirmed offers are
// left alone and an existing pending offer keeps its original timestamp.
func (c *Cache) AddPendingOffer(scheduleID int, scheduleDeviceID string, latitude, longitude float64, dwellDelayMs int64) {
	data := c.core.Data()
	key := model.OfferKey(scheduleID, scheduleDeviceID)
	if _, ok := data.Offers[key]; ok {
		return
	}
	if _, ok := data.PendingOffers[key]; ok {
		return
	}
	data.PendingOffers[key] = model.PendingOffer{
		ScheduleID:       scheduleID,
		ScheduleDeviceID: scheduleDeviceID,
		Latitude:         latitude,
		Longitude:        longitude,
		CreatedMs:        c.now().UnixMilli(),
		DwellDelayMs:     dwellDelayMs,
	}
	c.core.CacheUpdated()
	c.logger.Debug("Pending offer added", "key", key, "dwell_ms", dwellDelayMs)
}

// RemovePendingOffer drops a pending offer, e.g. when the device leaves the
// fence before the dwell delay elapsed.
func (c *Cache) RemovePendingOffer(key string) {
	data := c.core.Data()
	if _, ok := data.PendingOffers[key]; !ok {
		return
	}
	delete(data.PendingOffers, key)
	c.core.CacheUpdated()
	c.logger.Debug("Pending offer removed", "key", key)
}

// RefreshPendingOffers promotes every pending offer whose dwell delay has
// elapsed and returns the newly confirmed offers in key order.
func (c *Cache) RefreshPendingOffers() []model.ConfirmedOffer {
	data := c.core.Data()
	now := c.now()

	var promoted []model.ConfirmedOffer
	for _, key := range model.SortedKeys(data.PendingOffers) {
		pending := data.PendingOffers[key]
		if !pending.DwellElapsed(now) {
			continue
		}
		delete(data.PendingOffers, key)
		if _, ok := data.Offers[key]; ok {
			continue
		}
		confirmed := model.ConfirmedOffer{PendingOffer: pending, ConfirmedMs: now.UnixMilli()}
		data.Offers[key] = confirmed
		promoted = append(promoted, confirmed)
	}
	if len(promoted) == 0 {
		return nil
	}

	if c.recorder != nil {
		delivered := make([]model.DeliveredSchedule, 0, len(promoted))
		for _, offer := range promoted {
			delivered = append(delivered, model.DeliveredSchedule{
				ScheduleID:       offer.ScheduleID,
				ScheduleDeviceID: offer.ScheduleDeviceID,
			})
		}
		c.recorder.AppendDeliveredSchedules(delivered)
	}
	c.core.CacheUpdated()
	c.logger.Info("Pending offers confirmed", "count", len(promoted))
	c.observers.Notify()
	return promoted
}

// RemoveOffersForSchedules drops pending and confirmed offers for schedules
// that are no longer listed.
func (c *Cache) RemoveOffersForSchedules(scheduleIDs []int) {
	if len(scheduleIDs) == 0 {
		return
	}
	ids := make(map[int]struct{}, len(scheduleIDs))
	for _, id := range scheduleIDs {
		ids[id] = struct{}{}
	}

	data := c.core.Data()
	removedPending, removedConfirmed := 0, 0
	for key, offer := range data.PendingOffers {
		if _, ok := ids[offer.ScheduleID]; ok {
			delete(data.PendingOffers, key)
			removedPending++
		}
	}
	for key, offer := range data.Offers {
		if _, ok := ids[offer.ScheduleID]; ok {
			delete(data.Offers, key)
			removedConfirmed++
		}
	}
	if removedPending+removedConfirmed == 0 {
		return
	}
	c.core.CacheUpdated()
	c.logger.Info("Offers removed for unlisted schedules", "pending", removedPending, "confirmed", removedConfirmed)
	if removedConfirmed > 0 {
		c.observers.Notify()
	}
}

func (c *Cache) HasPendingOffers() bool {
	return len(c.core.Data().PendingOffers) > 0
}

func (c *Cache) HasOffers() bool {
	return len(c.core.Data().Offers) > 0
}

// ClearPendingOffers drops all pending offers. Confirmed offers stay.
func (c *Cache) ClearPendingOffers() {
	data := c.core.Data()
	if len(data.PendingOffers) == 0 {
		return
	}
	data.PendingOffers = map[string]model.PendingOffer{}
	c.core.CacheUpdated()
}

// Offers returns the confirmed offers in key order.
func (c *Cache) Offers() []model.ConfirmedOffer {
	data := c.core.Data()
	out := make([]model.ConfirmedOffer, 0, len(data.Offers))
	for _, key := range model.SortedKeys(data.Offers) {
		out = append(out, data.Offers[key])
	}
	return out
}

// PendingOffers returns the pending offers in key order.
func (c *Cache) PendingOffers() []model.PendingOffer {
	data := c.core.Data()
	out := make([]model.PendingOffer, 0, len(data.PendingOffers))
	for _, key := range model.SortedKeys(data.PendingOffers) {
		out = append(out, data.PendingOffers[key])
	}
	return out
}

func (c *Cache) PendingOffer(key string) (model.PendingOffer, bool) {
	offer, ok := c.core.Data().PendingOffers[key]
	return offer, ok
}

func (c *Cache) Offer(key string) (model.ConfirmedOffer, bool) {
	offer, ok := c.core.Data().Offers[key]
	return offer, ok
}
