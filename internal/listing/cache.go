// Package listing owns the merchant listing: reconciling server refreshes,
// merging push updates and answering which schedules are live for a fence.
package listing

import (
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/tinywideclouds/go-geooffers-sdk/internal/cache"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/observer"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

// DefaultMinimumMovementDistance is in meters.
const DefaultMinimumMovementDistance = 100.0

// OfferRemover drops offers whose schedules left the listing.
type OfferRemover interface {
	RemoveOffersForSchedules(scheduleIDs []int)
}

// ScheduleRemover drops any other state held for schedules that left the
// listing, such as entered regions and queued notifications.
type ScheduleRemover interface {
	RemoveSchedules(scheduleIDs []int)
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithMinimumMovementDistance(meters float64) Option {
	return func(c *Cache) {
		if meters > 0 {
			c.minimumMovementDistance = meters
		}
	}
}

// WithScheduleRemovers adds caches to purge when a refresh drops schedules.
func WithScheduleRemovers(removers ...ScheduleRemover) Option {
	return func(c *Cache) { c.removers = append(c.removers, removers...) }
}

type Cache struct {
	core      *cache.Core
	offers    OfferRemover
	removers  []ScheduleRemover
	observers *observer.Registry
	now       func() time.Time
	logger    *slog.Logger

	minimumMovementDistance float64
	locations               map[string]*time.Location
}

// New builds the cache. offers may be nil when no offer state needs pruning.
func New(core *cache.Core, offers OfferRemover, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		core:                    core,
		offers:                  offers,
		observers:               observer.NewRegistry(),
		now:                     time.Now,
		logger:                  logger.With("component", "ListingCache"),
		minimumMovementDistance: DefaultMinimumMovementDistance,
		locations:               make(map[string]*time.Location),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Listing returns the cached listing, or nil before the first refresh.
func (c *Cache) Listing() *model.Listing {
	return c.core.Data().Listing
}

// MinimumMovementDistance is how far (meters) the device must move before
// another nearby-offers poll is worthwhile.
func (c *Cache) MinimumMovementDistance() float64 {
	return c.minimumMovementDistance
}

// Subscribe registers fn to run after the listing changes.
func (c *Cache) Subscribe(fn func()) string {
	return c.observers.Subscribe(fn)
}

func (c *Cache) Unsubscribe(id string) bool {
	return c.observers.Unsubscribe(id)
}

// ReplaceCache applies a full server refresh.
//
// An incoming listing with no regions keeps the cached regions of the
// schedules it still lists, unless it also has no schedules, in which case
// everything is replaced. Schedules and delivered records are replaced.
// Offers, entered regions and queued notifications for schedules that
// disappeared are removed. Campaigns merge by key so started countdowns survive.
func (c *Cache) ReplaceCache(incoming model.Listing) {
	next := incoming
	next.Normalize()
	next.Regions = sanitizeRegions(next.Regions, c.logger)

	existing := c.core.Data().Listing
	if existing != nil {
		listed := scheduleSet(next.Schedules)
		if len(next.Regions) == 0 && len(next.Schedules) > 0 {
			next.Regions = regionsForSchedules(existing.Regions, listed)
			c.logger.Debug("Refresh carried no regions, keeping cached regions", "regions", next.RegionCount())
		}
		next.Campaigns = mergeCampaigns(existing.Campaigns, next.Campaigns, listed)

		if removed := removedSchedules(existing.ScheduleIDs(), listed); len(removed) > 0 {
			c.logger.Info("Removing state for schedules no longer listed", "schedules", removed)
			if c.offers != nil {
				c.offers.RemoveOffersForSchedules(removed)
			}
			for _, r := range c.removers {
				r.RemoveSchedules(removed)
			}
		}
	}

	c.core.Data().Listing = &next
	c.core.CacheUpdated()
	c.logger.Info("Listing replaced",
		"client_id", next.ClientID,
		"schedules", len(next.Schedules),
		"regions", next.RegionCount(),
		"delivered", len(next.DeliveredSchedules),
	)
	c.observers.Notify()
}

// MergeUpdate applies one push update: the schedule is upserted, its regions
// replaced (an empty list removes them) and its campaign upserted. A listing
// is created when none is cached yet.
func (c *Cache) MergeUpdate(update model.PushUpdate) {
	data := c.core.Data()
	if data.Listing == nil {
		data.Listing = model.NewListing()
	}
	listing := data.Listing

	scheduleID := update.ScheduleID
	if scheduleID == 0 {
		scheduleID = update.Schedule.ScheduleID
	}
	schedule := update.Schedule
	schedule.ScheduleID = scheduleID

	replaced := false
	for i := range listing.Schedules {
		if listing.Schedules[i].ScheduleID == scheduleID {
			listing.Schedules[i] = schedule
			replaced = true
		}
	}
	if !replaced {
		listing.Schedules = append(listing.Schedules, schedule)
	}

	key := strconv.Itoa(scheduleID)
	regions := make([]model.GeoFence, 0, len(update.Regions))
	for _, fence := range update.Regions {
		if fence.ScheduleID != scheduleID {
			c.logger.Warn("Dropping fence for another schedule from push update",
				"schedule_id", scheduleID, "fence_schedule_id", fence.ScheduleID)
			continue
		}
		regions = append(regions, fence)
	}
	if len(regions) > 0 {
		listing.Regions[key] = regions
	} else {
		delete(listing.Regions, key)
	}

	if update.Campaign != nil {
		campaign := *update.Campaign
		if current, ok := listing.Campaigns[campaign.Key()]; ok && campaign.Offer.CountdownStartedTimestamp == nil {
			campaign.Offer.CountdownStartedTimestamp = current.Offer.CountdownStartedTimestamp
		}
		listing.Campaigns[campaign.Key()] = campaign
	}

	c.core.CacheUpdated()
	c.logger.Info("Push update merged", "schedule_id", scheduleID, "regions", len(regions))
	c.observers.Notify()
}

// Schedules returns every cached schedule.
func (c *Cache) Schedules() []model.Schedule {
	listing := c.Listing()
	if listing == nil {
		return nil
	}
	return listing.Schedules
}

// SchedulesFor returns the live schedules for scheduleID that have not been
// delivered to scheduleDeviceID.
func (c *Cache) SchedulesFor(scheduleID int, scheduleDeviceID string) []model.Schedule {
	listing := c.Listing()
	if listing == nil || listing.IsDelivered(scheduleID, scheduleDeviceID) {
		return nil
	}
	now := c.localNow(listing)
	var out []model.Schedule
	for _, s := range listing.Schedules {
		if s.ScheduleID == scheduleID && s.IsValid(now) {
			out = append(out, s)
		}
	}
	return out
}

// DeliveredSchedule reports whether the pair was already delivered.
func (c *Cache) DeliveredSchedule(scheduleID int, scheduleDeviceID string) bool {
	listing := c.Listing()
	return listing != nil && listing.IsDelivered(scheduleID, scheduleDeviceID)
}

func (c *Cache) DeliveredSchedules() []model.DeliveredSchedule {
	listing := c.Listing()
	if listing == nil {
		return nil
	}
	return listing.DeliveredSchedules
}

// AppendDeliveredSchedules records newly delivered pairs, skipping known ones.
func (c *Cache) AppendDeliveredSchedules(delivered []model.DeliveredSchedule) {
	data := c.core.Data()
	if data.Listing == nil {
		data.Listing = model.NewListing()
	}
	added := 0
	for _, d := range delivered {
		if data.Listing.IsDelivered(d.ScheduleID, d.ScheduleDeviceID) {
			continue
		}
		data.Listing.DeliveredSchedules = append(data.Listing.DeliveredSchedules, d)
		added++
	}
	if added == 0 {
		return
	}
	c.core.CacheUpdated()
	c.logger.Debug("Delivered schedules recorded", "added", added)
}

// Region looks a fence up by its offer key.
func (c *Cache) Region(key string) (model.GeoFence, bool) {
	listing := c.Listing()
	if listing == nil {
		return model.GeoFence{}, false
	}
	for _, fences := range listing.Regions {
		for _, fence := range fences {
			if fence.Key() == key {
				return fence, true
			}
		}
	}
	return model.GeoFence{}, false
}

// Regions returns every cached fence.
func (c *Cache) Regions() []model.GeoFence {
	listing := c.Listing()
	if listing == nil {
		return nil
	}
	return listing.AllRegions()
}

// RegionsNear returns up to limit fences with a live, undelivered schedule,
// nearest first. A limit of zero or less returns all of them.
func (c *Cache) RegionsNear(loc model.Location, limit int) []model.GeoFence {
	type candidate struct {
		fence    model.GeoFence
		distance float64
	}
	var candidates []candidate
	for _, fence := range c.Regions() {
		if len(c.SchedulesFor(fence.ScheduleID, fence.ScheduleDeviceID)) == 0 {
			continue
		}
		center := model.Location{Latitude: fence.Latitude, Longitude: fence.Longitude}
		candidates = append(candidates, candidate{fence: fence, distance: Distance(loc, center)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]model.GeoFence, 0, len(candidates))
	for _, cand := range candidates {
		out = append(out, cand.fence)
	}
	return out
}

// DebugRegion is a flattened fence for diagnostics screens.
type DebugRegion struct {
	ScheduleID       int     `json:"scheduleId"`
	ScheduleDeviceID string  `json:"deviceUid"`
	Latitude         float64 `json:"lat"`
	Longitude        float64 `json:"lng"`
	RadiusMeters     float64 `json:"radiusMeters"`
	Title            string  `json:"title"`
}

func (c *Cache) DebugRegionLocations() []DebugRegion {
	regions := c.Regions()
	out := make([]DebugRegion, 0, len(regions))
	for _, fence := range regions {
		out = append(out, DebugRegion{
			ScheduleID:       fence.ScheduleID,
			ScheduleDeviceID: fence.ScheduleDeviceID,
			Latitude:         fence.Latitude,
			Longitude:        fence.Longitude,
			RadiusMeters:     fence.RadiusMeters(),
			Title:            fence.NotificationTitle,
		})
	}
	return out
}

// StartCampaignCountdowns stamps every campaign that has no countdown yet
// with timestampMs and returns the coupon hashes of the stamped campaigns.
func (c *Cache) StartCampaignCountdowns(timestampMs int64) []string {
	listing := c.Listing()
	if listing == nil {
		return nil
	}
	var hashes []string
	patched := 0
	for _, key := range model.SortedKeys(listing.Campaigns) {
		campaign := listing.Campaigns[key]
		if campaign.Offer.CountdownStartedTimestamp != nil {
			continue
		}
		ts := timestampMs
		campaign.Offer.CountdownStartedTimestamp = &ts
		listing.Campaigns[key] = campaign
		patched++
		if campaign.Offer.ClientCouponHash != nil {
			hashes = append(hashes, *campaign.Offer.ClientCouponHash)
		}
	}
	if patched > 0 {
		c.core.CacheUpdated()
		c.logger.Debug("Campaign countdowns started", "campaigns", patched)
	}
	return hashes
}

// ClearCache drops every cache, not only the listing.
func (c *Cache) ClearCache() {
	c.core.ClearCache()
	c.observers.Notify()
}

func (c *Cache) localNow(listing *model.Listing) time.Time {
	now := c.now()
	if listing.Timezone == "" {
		return now
	}
	loc, ok := c.locations[listing.Timezone]
	if !ok {
		var err error
		loc, err = time.LoadLocation(listing.Timezone)
		if err != nil {
			c.logger.Warn("Unknown listing timezone, using UTC", "timezone", listing.Timezone, "err", err)
			loc = time.UTC
		}
		c.locations[listing.Timezone] = loc
	}
	return now.In(loc)
}

// sanitizeRegions drops fences filed under another schedule's key.
func sanitizeRegions(regions map[string][]model.GeoFence, logger *slog.Logger) map[string][]model.GeoFence {
	out := make(map[string][]model.GeoFence, len(regions))
	for key, fences := range regions {
		kept := make([]model.GeoFence, 0, len(fences))
		for _, fence := range fences {
			if fence.ScheduleKey() != key {
				logger.Warn("Dropping fence filed under the wrong schedule", "key", key, "fence_schedule_id", fence.ScheduleID)
				continue
			}
			kept = append(kept, fence)
		}
		if len(kept) > 0 {
			out[key] = kept
		}
	}
	return out
}

func scheduleSet(schedules []model.Schedule) map[int]struct{} {
	set := make(map[int]struct{}, len(schedules))
	for _, s := range schedules {
		set[s.ScheduleID] = struct{}{}
	}
	return set
}

// removedSchedules returns the previous IDs, distinct and ascending, that
// are no longer listed.
func removedSchedules(previous []int, listed map[int]struct{}) []int {
	var removed []int
	for _, id := range previous {
		if _, ok := listed[id]; !ok {
			removed = append(removed, id)
		}
	}
	return removed
}

func regionsForSchedules(regions map[string][]model.GeoFence, listed map[int]struct{}) map[string][]model.GeoFence {
	out := make(map[string][]model.GeoFence, len(regions))
	for key, fences := range regions {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		if _, ok := listed[id]; ok {
			out[key] = fences
		}
	}
	return out
}

// mergeCampaigns lets incoming campaigns win, carrying over started
// countdowns, and keeps cached-only campaigns whose schedule is still listed.
func mergeCampaigns(existing, incoming map[string]model.Campaign, schedules map[int]struct{}) map[string]model.Campaign {
	merged := make(map[string]model.Campaign, len(incoming))
	for key, campaign := range incoming {
		if current, ok := existing[key]; ok && campaign.Offer.CountdownStartedTimestamp == nil {
			campaign.Offer.CountdownStartedTimestamp = current.Offer.CountdownStartedTimestamp
		}
		merged[key] = campaign
	}
	for key, campaign := range existing {
		if _, ok := merged[key]; ok {
			continue
		}
		if campaign.Offer.ScheduleID == nil {
			continue
		}
		if _, ok := schedules[*campaign.Offer.ScheduleID]; ok {
			merged[key] = campaign
		}
	}
	return merged
}

