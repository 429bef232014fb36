// Package regions tracks which fences the device is inside and which local
// notifications are waiting for their delivery delay.
package regions

import (
	"log/slog"
	"sort"
	"time"

	"github.com/tinywideclouds/go-geooffers-sdk/internal/cache"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

type Option func(*clock)

func WithClock(now func() time.Time) Option {
	return func(c *clock) { c.now = now }
}

type clock struct {
	now func() time.Time
}

func newClock(opts []Option) clock {
	c := clock{now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// EnteredRegions is keyed by fence key and backs CacheData.EnteredRegions.
type EnteredRegions struct {
	core   *cache.Core
	clock  clock
	logger *slog.Logger
}

func NewEnteredRegions(core *cache.Core, logger *slog.Logger, opts ...Option) *EnteredRegions {
	return &EnteredRegions{
		core:   core,
		clock:  newClock(opts),
		logger: logger.With("component", "EnteredRegions"),
	}
}

// Add records entry into fence. It returns false when the device was
// already inside it, leaving the original entry time untouched.
func (r *EnteredRegions) Add(fence model.GeoFence) bool {
	entered := r.core.Data().EnteredRegions
	key := fence.Key()
	if _, ok := entered[key]; ok {
		return false
	}
	entered[key] = model.RegionCacheItem{Region: fence, CreatedMs: r.clock.now().UnixMilli()}
	r.core.CacheUpdated()
	r.logger.Debug("Region entered", "key", key)
	return true
}

// Remove records exit. It returns false when the fence was not entered.
func (r *EnteredRegions) Remove(key string) bool {
	entered := r.core.Data().EnteredRegions
	if _, ok := entered[key]; !ok {
		return false
	}
	delete(entered, key)
	r.core.CacheUpdated()
	r.logger.Debug("Region exited", "key", key)
	return true
}

func (r *EnteredRegions) Contains(key string) bool {
	_, ok := r.core.Data().EnteredRegions[key]
	return ok
}

func (r *EnteredRegions) Item(key string) (model.RegionCacheItem, bool) {
	item, ok := r.core.Data().EnteredRegions[key]
	return item, ok
}

// All returns the entered regions ordered by key.
func (r *EnteredRegions) All() []model.RegionCacheItem {
	entered := r.core.Data().EnteredRegions
	out := make([]model.RegionCacheItem, 0, len(entered))
	for _, key := range model.SortedKeys(entered) {
		out = append(out, entered[key])
	}
	return out
}

func (r *EnteredRegions) Len() int {
	return len(r.core.Data().EnteredRegions)
}

// RemoveSchedules forgets entry into fences of schedules that left the listing.
func (r *EnteredRegions) RemoveSchedules(scheduleIDs []int) {
	if removed := removeSchedules(r.core.Data().EnteredRegions, scheduleIDs); removed > 0 {
		r.core.CacheUpdated()
		r.logger.Info("Entered regions removed for unlisted schedules", "count", removed)
	}
}

// PendingNotifications holds confirmed offers whose notification is delayed.
type PendingNotifications struct {
	core   *cache.Core
	clock  clock
	logger *slog.Logger
}

func NewPendingNotifications(core *cache.Core, logger *slog.Logger, opts ...Option) *PendingNotifications {
	return &PendingNotifications{
		core:   core,
		clock:  newClock(opts),
		logger: logger.With("component", "PendingNotifications"),
	}
}

// Schedule queues a notification for fence due after delay. A fence that is
// already queued keeps its original due time.
func (p *PendingNotifications) Schedule(fence model.GeoFence, delay time.Duration) bool {
	pending := p.core.Data().PendingNotifications
	key := fence.Key()
	if _, ok := pending[key]; ok {
		return false
	}
	now := p.clock.now()
	pending[key] = model.RegionCacheItem{
		Region:    fence,
		CreatedMs: now.UnixMilli(),
		DueMs:     now.Add(delay).UnixMilli(),
	}
	p.core.CacheUpdated()
	p.logger.Debug("Notification scheduled", "key", key, "delay", delay)
	return true
}

func (p *PendingNotifications) Has(key string) bool {
	_, ok := p.core.Data().PendingNotifications[key]
	return ok
}

func (p *PendingNotifications) Remove(key string) bool {
	pending := p.core.Data().PendingNotifications
	if _, ok := pending[key]; !ok {
		return false
	}
	delete(pending, key)
	p.core.CacheUpdated()
	return true
}

func (p *PendingNotifications) Len() int {
	return len(p.core.Data().PendingNotifications)
}

// RemoveSchedules cancels notifications of schedules that left the listing.
func (p *PendingNotifications) RemoveSchedules(scheduleIDs []int) {
	if removed := removeSchedules(p.core.Data().PendingNotifications, scheduleIDs); removed > 0 {
		p.core.CacheUpdated()
		p.logger.Info("Pending notifications cancelled for unlisted schedules", "count", removed)
	}
}

// PopDue removes and returns every notification whose due time has passed,
// earliest first.
func (p *PendingNotifications) PopDue() []model.RegionCacheItem {
	pending := p.core.Data().PendingNotifications
	nowMs := p.clock.now().UnixMilli()

	var due []model.RegionCacheItem
	for key, item := range pending {
		if item.DueMs <= nowMs {
			due = append(due, item)
			delete(pending, key)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].DueMs != due[j].DueMs {
			return due[i].DueMs < due[j].DueMs
		}
		return due[i].Region.Key() < due[j].Region.Key()
	})
	p.core.CacheUpdated()
	return due
}

func removeSchedules(items map[string]model.RegionCacheItem, scheduleIDs []int) int {
	if len(scheduleIDs) == 0 || len(items) == 0 {
		return 0
	}
	ids := make(map[int]struct{}, len(scheduleIDs))
	for _, id := range scheduleIDs {
		ids[id] = struct{}{}
	}
	removed := 0
	for key, item := range items {
		if _, ok := ids[item.Region.ScheduleID]; ok {
			delete(items, key)
			removed++
		}
	}
	return removed
}
